package protocol_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurodenjiro/cryto-chat/pkg/codec"
	"github.com/kurodenjiro/cryto-chat/pkg/protocol"
	"github.com/kurodenjiro/cryto-chat/pkg/signing"
	"github.com/kurodenjiro/cryto-chat/pkg/stream"
)

func newSigner(t *testing.T) (*signing.Signer, *signing.Verifier) {
	t.Helper()
	seed, pub, err := signing.GenerateKey()
	require.NoError(t, err)
	s, err := signing.NewSigner(seed)
	require.NoError(t, err)
	v, err := signing.NewVerifier(pub)
	require.NoError(t, err)
	return s, v
}

func linkPair(t *testing.T) (*stream.Pair, *stream.Pair) {
	t.Helper()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i * 7)
	}
	low, err := stream.NewPair(key, stream.Low)
	require.NoError(t, err)
	high, err := stream.NewPair(key, stream.High)
	require.NoError(t, err)
	return low, high
}

func TestParseMessageFailsClosed(t *testing.T) {
	cases := map[string]string{
		"not json":        `{"action":`,
		"array":           `["action"]`,
		"missing action":  `{"payload":"x"}`,
		"numeric action":  `{"action":5,"payload":"x"}`,
		"missing payload": `{"action":"userName"}`,
		"bare string":     `"hello"`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := protocol.ParseMessage([]byte(raw))
			require.ErrorIs(t, err, protocol.ErrMalformed)
		})
	}

	m, err := protocol.ParseMessage([]byte(`{"action":"userName","payload":null}`))
	require.NoError(t, err)
	_, err = m.String()
	require.ErrorIs(t, err, protocol.ErrMalformed)
}

func TestPayloadDecoders(t *testing.T) {
	m, err := protocol.NewMessage(protocol.ActionParticipateGroup, "room")
	require.NoError(t, err)
	s, err := m.NonEmptyString()
	require.NoError(t, err)
	assert.Equal(t, "room", s)

	m, err = protocol.NewMessage(protocol.ActionParticipateGroup, "")
	require.NoError(t, err)
	_, err = m.NonEmptyString()
	require.ErrorIs(t, err, protocol.ErrMalformed)

	m, err = protocol.NewMessage(protocol.ActionListGroup, []string{"b", "a"})
	require.NoError(t, err)
	list, err := m.StringList()
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, list)

	m, err = protocol.ParseMessage([]byte(`{"action":"listGroup","payload":["a",1]}`))
	require.NoError(t, err)
	_, err = m.StringList()
	require.ErrorIs(t, err, protocol.ErrMalformed)

	m, err = protocol.NewMessage(protocol.ActionMessageGroupMember, protocol.MemberMessage{Member: "ab", Message: "Zm9v"})
	require.NoError(t, err)
	mm, err := m.MemberMessage()
	require.NoError(t, err)
	assert.Equal(t, protocol.MemberMessage{Member: "ab", Message: "Zm9v"}, mm)

	m, err = protocol.ParseMessage([]byte(`{"action":"messageGroupMember","payload":{"member":"ab"}}`))
	require.NoError(t, err)
	_, err = m.MemberMessage()
	require.ErrorIs(t, err, protocol.ErrMalformed)
}

func TestTargetsKeepOrderAndSkipNonStrings(t *testing.T) {
	m, err := protocol.ParseMessage([]byte(`{"action":"messageGroup","payload":{"z":"1","a":2,"m":"3"}}`))
	require.NoError(t, err)
	targets, err := m.Targets()
	require.NoError(t, err)
	assert.Equal(t, []protocol.Target{{Member: "z", Message: "1"}, {Member: "m", Message: "3"}}, targets)

	m, err = protocol.ParseMessage([]byte(`{"action":"messageGroup","payload":"x"}`))
	require.NoError(t, err)
	_, err = m.Targets()
	require.ErrorIs(t, err, protocol.ErrMalformed)
}

func TestPlainFrameRoundTrip(t *testing.T) {
	m, err := protocol.NewMessage(protocol.ActionECDHPublicKey, "04abcd")
	require.NoError(t, err)
	frame, err := protocol.SealMessage(m, nil)
	require.NoError(t, err)
	assert.Equal(t, `{"action":"ecdhPublicKey","payload":"04abcd"}`, codec.BytesToString(codec.Base64ToBytes(frame)))

	got, err := protocol.OpenMessage(frame, nil)
	require.NoError(t, err)
	assert.Equal(t, m.Action, got.Action)
	assert.JSONEq(t, string(m.Payload), string(got.Payload))
}

func TestEncryptedEnvelopeRoundTrip(t *testing.T) {
	signer, verifier := newSigner(t)
	relay, client := linkPair(t)

	for _, group := range []string{"one", "two", "three"} {
		m, err := protocol.NewMessage(protocol.ActionListGroup, []string{group})
		require.NoError(t, err)
		frame, err := protocol.SealEnvelope(m, signer, relay.Send)
		require.NoError(t, err)

		got, err := protocol.OpenEnvelope(frame, verifier, client.Recv)
		require.NoError(t, err)
		list, err := got.StringList()
		require.NoError(t, err)
		assert.Equal(t, []string{group}, list)
	}
}

func TestEnvelopeRejectsTampering(t *testing.T) {
	signer, verifier := newSigner(t)
	m, err := protocol.NewMessage(protocol.ActionConnectionID, "abc")
	require.NoError(t, err)
	frame, err := protocol.SealEnvelope(m, signer, nil)
	require.NoError(t, err)

	raw := codec.Base64ToBytes(frame)
	for i := range raw {
		tampered := append([]byte(nil), raw...)
		tampered[i] ^= 0x01
		_, err := protocol.VerifyEnvelope(tampered, verifier)
		require.Error(t, err, "byte %d", i)
	}

	_, otherVerifier := newSigner(t)
	_, err = protocol.OpenEnvelope(frame, otherVerifier, nil)
	require.ErrorIs(t, err, protocol.ErrBadSignature)
}

func TestEnvelopeRejectsMissingFields(t *testing.T) {
	_, verifier := newSigner(t)
	for _, raw := range []string{
		`{"message":{"action":"a","payload":1}}`,
		`{"signature":"00"}`,
		`{"message":"x","signature":"00"}`,
		`[]`,
	} {
		_, err := protocol.VerifyEnvelope([]byte(raw), verifier)
		require.ErrorIs(t, err, protocol.ErrMalformed, raw)
	}
}
