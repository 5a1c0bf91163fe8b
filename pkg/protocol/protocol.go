// Package protocol defines the wire format shared by the relay and clients.
//
// Every frame is a websocket text frame carrying base64. Before a link is
// keyed the base64 wraps UTF-8 JSON directly; afterwards it wraps the CTR
// ciphertext of that JSON. Relay to client frames hold a signed envelope
// {"message": {...}, "signature": "<hex>"}; client to relay frames hold the
// bare message {"action": "...", "payload": ...}. Peer-layer messages use
// the bare message shape inside a messageGroupMember payload.
//
// Decoding is fail closed: any missing or mistyped field yields
// ErrMalformed before a handler sees the message.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/kurodenjiro/cryto-chat/pkg/codec"
	"github.com/kurodenjiro/cryto-chat/pkg/signing"
	"github.com/kurodenjiro/cryto-chat/pkg/stream"
)

// Liveness sentinels travel as raw text frames outside the envelope.
const (
	PingSentinel = "*PING*"
	PongSentinel = "*PONG*"
)

// Control actions. messageGroup doubles as the peer-layer chat action.
const (
	ActionECDHPublicKey      = "ecdhPublicKey"
	ActionConnectionID       = "connectionID"
	ActionParticipateGroup   = "participateGroup"
	ActionListGroup          = "listGroup"
	ActionMessageGroup       = "messageGroup"
	ActionMessageGroupMember = "messageGroupMember"
	ActionUserName           = "userName"
)

var (
	ErrMalformed    = errors.New("protocol: malformed message")
	ErrBadSignature = errors.New("protocol: signature verification failed")
)

// Message is the {action, payload} object used on every layer.
type Message struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload"`
}

// MemberMessage is the payload of messageGroupMember.
type MemberMessage struct {
	Member  string `json:"member"`
	Message string `json:"message"`
}

// Target is one entry of a messageGroup fan-out map.
type Target struct {
	Member  string
	Message string
}

// NewMessage marshals payload into a message.
func NewMessage(action string, payload any) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("protocol: marshal %s payload: %w", action, err)
	}
	return Message{Action: action, Payload: raw}, nil
}

// ParseMessage validates raw as an object with a string action and a
// present payload.
func ParseMessage(raw []byte) (Message, error) {
	if !gjson.ValidBytes(raw) {
		return Message{}, ErrMalformed
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return Message{}, ErrMalformed
	}
	action := root.Get("action")
	payload := root.Get("payload")
	if action.Type != gjson.String || !payload.Exists() {
		return Message{}, ErrMalformed
	}
	return Message{Action: action.Str, Payload: json.RawMessage(payload.Raw)}, nil
}

func (m Message) payload() gjson.Result {
	return gjson.ParseBytes(m.Payload)
}

// String decodes a string payload.
func (m Message) String() (string, error) {
	p := m.payload()
	if p.Type != gjson.String {
		return "", ErrMalformed
	}
	return p.Str, nil
}

// NonEmptyString decodes a string payload that must not be empty.
func (m Message) NonEmptyString() (string, error) {
	s, err := m.String()
	if err != nil {
		return "", err
	}
	if s == "" {
		return "", ErrMalformed
	}
	return s, nil
}

// StringList decodes an array payload whose elements are all strings.
func (m Message) StringList() ([]string, error) {
	p := m.payload()
	if !p.IsArray() {
		return nil, ErrMalformed
	}
	items := p.Array()
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item.Type != gjson.String {
			return nil, ErrMalformed
		}
		out = append(out, item.Str)
	}
	return out, nil
}

// Targets decodes a messageGroup map in document order. Entries whose value
// is not a string are skipped.
func (m Message) Targets() ([]Target, error) {
	p := m.payload()
	if !p.IsObject() {
		return nil, ErrMalformed
	}
	var out []Target
	p.ForEach(func(key, value gjson.Result) bool {
		if value.Type == gjson.String {
			out = append(out, Target{Member: key.String(), Message: value.Str})
		}
		return true
	})
	return out, nil
}

// MemberMessage decodes a messageGroupMember payload.
func (m Message) MemberMessage() (MemberMessage, error) {
	p := m.payload()
	if !p.IsObject() {
		return MemberMessage{}, ErrMalformed
	}
	member := p.Get("member")
	message := p.Get("message")
	if member.Type != gjson.String || message.Type != gjson.String {
		return MemberMessage{}, ErrMalformed
	}
	return MemberMessage{Member: member.Str, Message: message.Str}, nil
}

// --- Frames ---

// EncodeFrame wraps plain for the wire, encrypting with s when it is set.
func EncodeFrame(plain []byte, s *stream.Stream) string {
	if s != nil {
		plain = s.Apply(plain)
	}
	return codec.BytesToBase64(plain)
}

// DecodeFrame unwraps a wire frame, decrypting with s when it is set.
func DecodeFrame(frame string, s *stream.Stream) []byte {
	b := codec.Base64ToBytes(frame)
	if s != nil {
		b = s.Apply(b)
	}
	return b
}

// SealMessage serialises an unsigned message into a frame.
func SealMessage(m Message, s *stream.Stream) (string, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return EncodeFrame(raw, s), nil
}

// OpenMessage decodes an unsigned message frame.
func OpenMessage(frame string, s *stream.Stream) (Message, error) {
	return ParseMessage(DecodeFrame(frame, s))
}

// --- Signed envelopes ---

type envelope struct {
	Message   json.RawMessage `json:"message"`
	Signature string          `json:"signature"`
}

// SealEnvelope signs m and serialises the envelope into a frame. The
// signature covers the exact bytes embedded under "message".
func SealEnvelope(m Message, signer *signing.Signer, s *stream.Stream) (string, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	env, err := json.Marshal(envelope{Message: raw, Signature: signer.Sign(raw)})
	if err != nil {
		return "", err
	}
	return EncodeFrame(env, s), nil
}

// OpenEnvelope decodes a signed frame and verifies it against v.
func OpenEnvelope(frame string, v *signing.Verifier, s *stream.Stream) (Message, error) {
	return VerifyEnvelope(DecodeFrame(frame, s), v)
}

// VerifyEnvelope checks a decoded envelope and returns its message.
func VerifyEnvelope(raw []byte, v *signing.Verifier) (Message, error) {
	if !gjson.ValidBytes(raw) {
		return Message{}, ErrMalformed
	}
	root := gjson.ParseBytes(raw)
	msg := root.Get("message")
	sig := root.Get("signature")
	if !msg.IsObject() || sig.Type != gjson.String {
		return Message{}, ErrMalformed
	}
	if !v.Verify([]byte(msg.Raw), sig.Str) {
		return Message{}, ErrBadSignature
	}
	return ParseMessage([]byte(msg.Raw))
}
