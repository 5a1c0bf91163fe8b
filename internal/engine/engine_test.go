package engine_test

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurodenjiro/cryto-chat/internal/engine"
	"github.com/kurodenjiro/cryto-chat/pkg/config"
	"github.com/kurodenjiro/cryto-chat/pkg/keys"
	"github.com/kurodenjiro/cryto-chat/pkg/pipeline"
	"github.com/kurodenjiro/cryto-chat/pkg/protocol"
	"github.com/kurodenjiro/cryto-chat/pkg/state"
	"github.com/kurodenjiro/cryto-chat/pkg/state/statemanager"
	"github.com/kurodenjiro/cryto-chat/pkg/stream"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type delivery struct {
	to  string
	msg protocol.Message
}

type recordingOutbox struct {
	got []delivery
}

func (o *recordingOutbox) Deliver(s *state.Session, m protocol.Message) error {
	o.got = append(o.got, delivery{to: s.ID, msg: m})
	return nil
}

func (o *recordingOutbox) reset() { o.got = nil }

type fixture struct {
	t         *testing.T
	manager   *statemanager.InMemoryManager
	outbox    *recordingOutbox
	pipelines map[string]pipeline.Pipeline
}

func newFixture(t *testing.T, events map[string]config.EventConfig) *fixture {
	t.Helper()
	reg := engine.New(newTestLogger())
	reg.RegisterCore()
	pipes, err := reg.BuildPipelines(events)
	require.NoError(t, err)
	return &fixture{
		t:         t,
		manager:   statemanager.NewInMemoryManager(newTestLogger()),
		outbox:    &recordingOutbox{},
		pipelines: pipes,
	}
}

func (f *fixture) session(id string) *state.Session {
	kp, err := keys.Generate(keys.Transport)
	require.NoError(f.t, err)
	s := state.NewSession(id, "127.0.0.1", nil, kp)
	require.NoError(f.t, f.manager.RegisterSession(s))
	return s
}

func (f *fixture) keyedSession(id string) *state.Session {
	s := f.session(id)
	link, err := stream.NewPair(make([]byte, 32), stream.Low)
	require.NoError(f.t, err)
	require.NoError(f.t, s.CompleteKeyExchange(link))
	return s
}

func (f *fixture) joinedSession(id, group string) *state.Session {
	s := f.keyedSession(id)
	require.NoError(f.t, f.manager.Join(id, group))
	return s
}

func (f *fixture) run(s *state.Session, m protocol.Message) error {
	p, ok := f.pipelines[m.Action]
	require.True(f.t, ok, "no pipeline for %s", m.Action)
	return p.Run(&pipeline.Cargo{
		Logger:       newTestLogger(),
		Ctx:          context.Background(),
		Session:      s,
		StateManager: f.manager,
		Outbox:       f.outbox,
		Message:      m,
	})
}

func message(t *testing.T, action string, payload any) protocol.Message {
	t.Helper()
	m, err := protocol.NewMessage(action, payload)
	require.NoError(t, err)
	return m
}

func rawMessage(t *testing.T, raw string) protocol.Message {
	t.Helper()
	m, err := protocol.ParseMessage([]byte(raw))
	require.NoError(t, err)
	return m
}

func TestExchangeKeyKeysSessionAndSendsID(t *testing.T) {
	f := newFixture(t, nil)
	s := f.session("a1")
	relayPublic := s.Keypair().PublicHex()

	client, err := keys.Generate(keys.Transport)
	require.NoError(t, err)

	require.NoError(t, f.run(s, message(t, protocol.ActionECDHPublicKey, client.PublicHex())))
	assert.Equal(t, state.KeyedUnjoined, s.Phase())
	require.NotNil(t, s.Link())
	assert.Equal(t, stream.LowCounter, s.Link().Send.InitialCounter())
	assert.Nil(t, s.Keypair())

	require.Len(t, f.outbox.got, 1)
	assert.Equal(t, "a1", f.outbox.got[0].to)
	assert.Equal(t, protocol.ActionConnectionID, f.outbox.got[0].msg.Action)
	id, err := f.outbox.got[0].msg.String()
	require.NoError(t, err)
	assert.Equal(t, "a1", id)

	// Both ends derive the same key.
	clientKey, err := keys.TransportKey(client, relayPublic)
	require.NoError(t, err)
	clientLink, err := stream.NewPair(clientKey, stream.High)
	require.NoError(t, err)
	plain := []byte("ping over the link")
	assert.Equal(t, plain, clientLink.Recv.Apply(s.Link().Send.Apply(plain)))
}

func TestMalformedKeyLeavesSessionAwaiting(t *testing.T) {
	f := newFixture(t, nil)
	s := f.session("a1")

	require.Error(t, f.run(s, message(t, protocol.ActionECDHPublicKey, "04deadbeef")))
	require.Error(t, f.run(s, message(t, protocol.ActionECDHPublicKey, 42)))
	assert.Equal(t, state.AwaitingKey, s.Phase())
	assert.Empty(t, f.outbox.got)
}

func TestGuardsRejectOutOfPhase(t *testing.T) {
	f := newFixture(t, nil)
	unkeyed := f.session("a1")
	keyed := f.keyedSession("b1")
	joined := f.joinedSession("c1", "g")

	assert.ErrorIs(t, f.run(unkeyed, message(t, protocol.ActionParticipateGroup, "g")), engine.ErrNotKeyed)
	assert.ErrorIs(t, f.run(unkeyed, message(t, protocol.ActionMessageGroup, map[string]string{})), engine.ErrNotKeyed)
	assert.ErrorIs(t, f.run(keyed, message(t, protocol.ActionECDHPublicKey, "04")), engine.ErrNotAwaitingKey)
	assert.ErrorIs(t, f.run(keyed, message(t, protocol.ActionMessageGroupMember, protocol.MemberMessage{Member: "c1", Message: "x"})), engine.ErrNotJoined)
	assert.ErrorIs(t, f.run(joined, message(t, protocol.ActionParticipateGroup, "h")), engine.ErrAlreadyJoined)
	assert.Empty(t, f.outbox.got)
}

func TestParticipateGroupBroadcastsMembers(t *testing.T) {
	f := newFixture(t, nil)
	a := f.keyedSession("a1")
	b := f.keyedSession("b1")
	c := f.keyedSession("c1")

	require.Error(t, f.run(a, message(t, protocol.ActionParticipateGroup, "")))
	assert.Equal(t, state.KeyedUnjoined, a.Phase())

	require.NoError(t, f.run(a, message(t, protocol.ActionParticipateGroup, "g")))
	require.NoError(t, f.run(b, message(t, protocol.ActionParticipateGroup, "g")))
	f.outbox.reset()
	require.NoError(t, f.run(c, message(t, protocol.ActionParticipateGroup, "g")))

	lists := make(map[string][]string)
	var order []string
	for _, d := range f.outbox.got {
		require.Equal(t, protocol.ActionListGroup, d.msg.Action)
		ids, err := d.msg.StringList()
		require.NoError(t, err)
		lists[d.to] = ids
		order = append(order, d.to)
	}
	assert.Equal(t, []string{"a1", "b1", "c1"}, order)
	assert.Equal(t, []string{"b1", "c1"}, lists["a1"])
	assert.Equal(t, []string{"a1", "c1"}, lists["b1"])
	assert.Equal(t, []string{"a1", "b1"}, lists["c1"])
}

func TestMessageGroupFansOutToRoutableTargets(t *testing.T) {
	f := newFixture(t, nil)
	a := f.joinedSession("a1", "g")
	f.joinedSession("b1", "g")
	f.joinedSession("c1", "g")
	f.joinedSession("d1", "other")
	f.keyedSession("e1")

	msg := rawMessage(t, `{"action":"messageGroup","payload":{"c1":"to-c","d1":"to-d","zz":"to-nobody","e1":"to-e","b1":"to-b","x":7}}`)
	require.NoError(t, f.run(a, msg))

	require.Len(t, f.outbox.got, 2)
	for i, want := range []struct{ to, blob string }{{"c1", "to-c"}, {"b1", "to-b"}} {
		d := f.outbox.got[i]
		assert.Equal(t, want.to, d.to)
		assert.Equal(t, protocol.ActionMessageGroupMember, d.msg.Action)
		mm, err := d.msg.MemberMessage()
		require.NoError(t, err)
		assert.Equal(t, protocol.MemberMessage{Member: "a1", Message: want.blob}, mm)
	}
}

func TestMessageGroupMemberRewritesSender(t *testing.T) {
	f := newFixture(t, nil)
	a := f.joinedSession("a1", "g")
	f.joinedSession("b1", "g")

	require.NoError(t, f.run(a, message(t, protocol.ActionMessageGroupMember, protocol.MemberMessage{Member: "b1", Message: "blob"})))
	require.Len(t, f.outbox.got, 1)
	mm, err := f.outbox.got[0].msg.MemberMessage()
	require.NoError(t, err)
	assert.Equal(t, "b1", f.outbox.got[0].to)
	assert.Equal(t, protocol.MemberMessage{Member: "a1", Message: "blob"}, mm)

	// Missing fields fail closed.
	require.Error(t, f.run(a, rawMessage(t, `{"action":"messageGroupMember","payload":{"member":"b1"}}`)))
	// Unknown targets are dropped.
	require.Error(t, f.run(a, message(t, protocol.ActionMessageGroupMember, protocol.MemberMessage{Member: "zz", Message: "blob"})))
	assert.Len(t, f.outbox.got, 1)
}

func TestRateLimitModifier(t *testing.T) {
	f := newFixture(t, map[string]config.EventConfig{
		"messagegroupmember": {Modifiers: []config.ModifierConfig{{Name: "rate_limit", Params: []string{"2/h"}}}},
	})
	a := f.joinedSession("a1", "g")
	f.joinedSession("b1", "g")
	msg := message(t, protocol.ActionMessageGroupMember, protocol.MemberMessage{Member: "b1", Message: "blob"})

	require.NoError(t, f.run(a, msg))
	require.NoError(t, f.run(a, msg))
	require.ErrorIs(t, f.run(a, msg), engine.ErrRateLimited)
	assert.Len(t, f.outbox.got, 2)

	// Other actions are not affected.
	require.NoError(t, f.run(a, message(t, protocol.ActionMessageGroup, map[string]string{"b1": "x"})))
}

func TestBuildPipelinesRejectsBadConfig(t *testing.T) {
	reg := engine.New(newTestLogger())
	reg.RegisterCore()

	for name, events := range map[string]map[string]config.EventConfig{
		"unknown action":   {"shout": {}},
		"unknown modifier": {"messagegroup": {Modifiers: []config.ModifierConfig{{Name: "secure"}}}},
		"bad rate":         {"messagegroup": {Modifiers: []config.ModifierConfig{{Name: "rate_limit", Params: []string{"ten/s"}}}}},
		"bad unit":         {"messagegroup": {Modifiers: []config.ModifierConfig{{Name: "rate_limit", Params: []string{"10/d"}}}}},
		"guard params":     {"messagegroup": {Modifiers: []config.ModifierConfig{{Name: "joined", Params: []string{"x"}}}}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := reg.BuildPipelines(events)
			require.Error(t, err)
		})
	}
}
