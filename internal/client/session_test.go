package client_test

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurodenjiro/cryto-chat/internal/client"
	"github.com/kurodenjiro/cryto-chat/internal/engine"
	"github.com/kurodenjiro/cryto-chat/internal/instrument"
	"github.com/kurodenjiro/cryto-chat/internal/router"
	"github.com/kurodenjiro/cryto-chat/pkg/protocol"
	"github.com/kurodenjiro/cryto-chat/pkg/signing"
	"github.com/kurodenjiro/cryto-chat/pkg/state/statemanager"
	"github.com/kurodenjiro/cryto-chat/pkg/transport"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// recordingDisplay keeps everything the session renders.
type recordingDisplay struct {
	messages  []client.ChatMessage
	members   []client.Member
	connected bool
}

func (d *recordingDisplay) ShowMessage(m client.ChatMessage) { d.messages = append(d.messages, m) }
func (d *recordingDisplay) UpdateMembers(ms []client.Member) { d.members = ms }
func (d *recordingDisplay) SetConnected(connected bool)      { d.connected = connected }
func (d *recordingDisplay) remote() (out []client.ChatMessage) {
	for _, m := range d.messages {
		if !m.Local {
			out = append(out, m)
		}
	}
	return out
}

type delivery struct {
	toRelay bool
	connID  string
	frame   string
}

// network moves frames between the relay router and client sessions in
// strict FIFO order, standing in for the sockets.
type network struct {
	t        *testing.T
	router   *router.EventRouter
	verifier *signing.Verifier
	queue    []delivery
	members  map[string]*member
}

type member struct {
	id      string
	session *client.Session
	display *recordingDisplay
}

// relayPort carries relay frames to one client.
type relayPort struct {
	n  *network
	id string
}

func (p relayPort) Send(frame string) error {
	p.n.queue = append(p.n.queue, delivery{connID: p.id, frame: frame})
	return nil
}

func (p relayPort) Close(error) {}

// clientPort carries client frames to the relay.
type clientPort struct {
	n  *network
	id string
}

func (p clientPort) Send(frame string) error {
	p.n.queue = append(p.n.queue, delivery{toRelay: true, connID: p.id, frame: frame})
	return nil
}

func newNetwork(t *testing.T) *network {
	t.Helper()
	seed, pub, err := signing.GenerateKey()
	require.NoError(t, err)
	signer, err := signing.NewSigner(seed)
	require.NoError(t, err)
	verifier, err := signing.NewVerifier(pub)
	require.NoError(t, err)

	reg := engine.New(newTestLogger())
	reg.RegisterCore()
	pipes, err := reg.BuildPipelines(nil)
	require.NoError(t, err)

	manager := statemanager.NewInMemoryManager(newTestLogger())
	return &network{
		t:        t,
		router:   router.NewEventRouter(newTestLogger(), manager, signer, pipes, instrument.New()),
		verifier: verifier,
		members:  make(map[string]*member),
	}
}

func (n *network) connect(name, group, password string, observer client.Observer) *member {
	n.t.Helper()
	creds, err := client.NewCredentials(name, group, password)
	require.NoError(n.t, err)
	id := transport.NewConnectionID()
	display := &recordingDisplay{}
	session, err := client.NewSession(newTestLogger(), creds, n.verifier, display, clientPort{n: n, id: id})
	require.NoError(n.t, err)
	session.SetObserver(observer)

	m := &member{id: id, session: session, display: display}
	n.members[id] = m
	require.NoError(n.t, n.router.HandleAccept(context.Background(), id, "127.0.0.1", relayPort{n: n, id: id}))
	n.run()
	require.True(n.t, session.Joined())
	require.Equal(n.t, id, session.ID())
	return m
}

func (n *network) disconnect(m *member) {
	delete(n.members, m.id)
	m.session.Close()
	n.router.HandleClose(m.id, nil)
	n.run()
}

func (n *network) run() {
	for len(n.queue) > 0 {
		d := n.queue[0]
		n.queue = n.queue[1:]
		if d.toRelay {
			n.router.HandleMessage(context.Background(), d.connID, d.frame)
			continue
		}
		if m, ok := n.members[d.connID]; ok {
			_ = m.session.HandleFrame(d.frame)
		}
	}
}

type transition struct {
	peer     string
	from, to client.PeerPhase
}

func TestTwoMembersLinkAndChat(t *testing.T) {
	n := newNetwork(t)
	var seen []transition
	observer := func(peer string, from, to client.PeerPhase) {
		seen = append(seen, transition{peer, from, to})
	}

	a := n.connect("alice", "g", "hunter2", nil)
	b := n.connect("bob", "g", "hunter2", observer)

	assert.Equal(t, []transition{
		{a.id, client.PeerUnlinked, client.PeerKeyExchanged},
		{a.id, client.PeerKeyExchanged, client.PeerNamed},
		{a.id, client.PeerNamed, client.PeerReady},
	}, seen)
	assert.Equal(t, []client.Member{{ID: a.id, Name: "alice"}}, b.display.members)
	assert.Equal(t, []client.Member{{ID: b.id, Name: "bob"}}, a.display.members)
	assert.True(t, a.display.connected)

	sent, err := a.session.SendGroup("hi")
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	n.run()

	assert.Equal(t, []client.ChatMessage{{From: "alice", FromID: a.id, Text: "hi"}}, b.display.remote())
	require.Len(t, a.display.messages, 1)
	assert.Equal(t, client.ChatMessage{From: "alice", FromID: a.id, Text: "hi", Local: true, Recipients: 1}, a.display.messages[0])

	// Both directions keep their own counters.
	_, err = b.session.SendGroup("hello back")
	require.NoError(t, err)
	_, err = a.session.SendGroup("again")
	require.NoError(t, err)
	n.run()
	assert.Equal(t, "hello back", a.display.remote()[0].Text)
	assert.Equal(t, "again", b.display.remote()[1].Text)
}

func TestWrongPasswordNeverLinks(t *testing.T) {
	n := newNetwork(t)
	a := n.connect("alice", "g", "hunter2", nil)
	b := n.connect("bob", "g", "hunter2", nil)
	c := n.connect("carol", "g", "guess", nil)

	phase, ok := a.session.PeerPhase(c.id)
	require.True(t, ok)
	assert.Equal(t, client.PeerKeyExchanged, phase)
	phase, ok = c.session.PeerPhase(a.id)
	require.True(t, ok)
	assert.Equal(t, client.PeerKeyExchanged, phase)

	assert.Equal(t, []client.Member{{ID: b.id, Name: "bob"}}, a.display.members)
	assert.Empty(t, c.display.members)

	sent, err := a.session.SendGroup("not for carol")
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	require.ErrorIs(t, a.session.SendMember(c.id, "psst"), client.ErrPeerNotReady)
	n.run()

	assert.Len(t, b.display.remote(), 1)
	assert.Empty(t, c.display.remote())
}

func TestDepartedMemberIsDropped(t *testing.T) {
	n := newNetwork(t)
	a := n.connect("alice", "g", "pw", nil)
	b := n.connect("bob", "g", "pw", nil)
	c := n.connect("carol", "g", "pw", nil)
	assert.Equal(t, []client.Member{{ID: a.id, Name: "alice"}, {ID: c.id, Name: "carol"}}, b.display.members)

	n.disconnect(a)

	assert.Equal(t, []client.Member{{ID: c.id, Name: "carol"}}, b.display.members)
	_, ok := b.session.PeerPhase(a.id)
	assert.False(t, ok)

	sent, err := b.session.SendGroup("still here?")
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	n.run()
	assert.Equal(t, "still here?", c.display.remote()[0].Text)
}

func TestDirectMessage(t *testing.T) {
	n := newNetwork(t)
	a := n.connect("alice", "g", "pw", nil)
	b := n.connect("bob", "g", "pw", nil)
	c := n.connect("carol", "g", "pw", nil)

	require.NoError(t, a.session.SendMember(c.id, "just you"))
	n.run()

	assert.Empty(t, b.display.remote())
	require.Len(t, c.display.remote(), 1)
	assert.Equal(t, "just you", c.display.remote()[0].Text)
	assert.Equal(t, c.id, a.display.messages[0].To)

	require.ErrorIs(t, a.session.SendMember("nobody", "x"), client.ErrUnknownPeer)
}

func TestEmptyMessagesAreNotSent(t *testing.T) {
	n := newNetwork(t)
	a := n.connect("alice", "g", "pw", nil)
	n.connect("bob", "g", "pw", nil)

	for _, text := range []string{"", "\n", "\r\n", "   "} {
		_, err := a.session.SendGroup(text)
		require.ErrorIs(t, err, client.ErrEmptyMessage)
	}
	assert.Empty(t, n.queue)
	assert.Empty(t, a.display.messages)
}

func TestLoneMemberEchoesWithZeroRecipients(t *testing.T) {
	n := newNetwork(t)
	a := n.connect("alice", "g", "pw", nil)

	sent, err := a.session.SendGroup("anyone?")
	require.NoError(t, err)
	assert.Zero(t, sent)
	assert.Empty(t, n.queue)
	require.Len(t, a.display.messages, 1)
	assert.Zero(t, a.display.messages[0].Recipients)
}

// linkRecorder keeps frames a session sends without any relay behind it.
type linkRecorder struct{ frames []string }

func (l *linkRecorder) Send(frame string) error {
	l.frames = append(l.frames, frame)
	return nil
}

func TestPingWorksBeforeHandshake(t *testing.T) {
	_, pub, err := signing.GenerateKey()
	require.NoError(t, err)
	verifier, err := signing.NewVerifier(pub)
	require.NoError(t, err)
	creds, err := client.NewCredentials("alice", "g", "pw")
	require.NoError(t, err)

	link := &linkRecorder{}
	session, err := client.NewSession(newTestLogger(), creds, verifier, &recordingDisplay{}, link)
	require.NoError(t, err)

	require.NoError(t, session.Ping())
	assert.Equal(t, []string{protocol.PingSentinel}, link.frames)
	require.NoError(t, session.HandleFrame(protocol.PongSentinel))
	assert.False(t, session.Joined())
}

func TestForgedEnvelopeIsDropped(t *testing.T) {
	_, pub, err := signing.GenerateKey()
	require.NoError(t, err)
	verifier, err := signing.NewVerifier(pub)
	require.NoError(t, err)
	rogueSeed, _, err := signing.GenerateKey()
	require.NoError(t, err)
	rogue, err := signing.NewSigner(rogueSeed)
	require.NoError(t, err)

	creds, err := client.NewCredentials("alice", "g", "pw")
	require.NoError(t, err)
	link := &linkRecorder{}
	session, err := client.NewSession(newTestLogger(), creds, verifier, &recordingDisplay{}, link)
	require.NoError(t, err)

	offer, err := protocol.NewMessage(protocol.ActionECDHPublicKey, "04abcd")
	require.NoError(t, err)
	frame, err := protocol.SealEnvelope(offer, rogue, nil)
	require.NoError(t, err)

	require.ErrorIs(t, session.HandleFrame(frame), protocol.ErrBadSignature)
	require.ErrorIs(t, session.HandleFrame("garbage"), protocol.ErrMalformed)
	assert.Empty(t, link.frames)
}

func TestCredentialsRequireEveryField(t *testing.T) {
	for _, c := range [][3]string{{"", "g", "pw"}, {"alice", "", "pw"}, {"alice", "g", ""}} {
		_, err := client.NewCredentials(c[0], c[1], c[2])
		require.ErrorIs(t, err, client.ErrIncompleteCredentials)
	}
	creds, err := client.NewCredentials("alice", "g", "pw")
	require.NoError(t, err)
	assert.Len(t, creds.Digest(), 32)
}
