package state

import (
	"errors"
	"time"

	"github.com/kurodenjiro/cryto-chat/pkg/keys"
	"github.com/kurodenjiro/cryto-chat/pkg/stream"
)

var (
	ErrWrongPhase     = errors.New("state: session is in the wrong phase")
	ErrEmptyGroup     = errors.New("state: group name is empty")
	ErrUnknownSession = errors.New("state: unknown session")
	ErrDuplicateID    = errors.New("state: connection id already registered")
)

// Sender is the outbound half of a socket.
type Sender interface {
	Send(frame string) error
	Close(err error)
}

// Session is the relay's view of one connection. Each phase carries only the
// data valid for it: the keypair until the key exchange completes, the
// cipher pair afterwards, and the group once joined.
type Session struct {
	ID        string
	IPAddress string
	Transport Sender
	CreatedAt time.Time

	phase   Phase
	keypair *keys.Keypair
	link    *stream.Pair
	group   string
}

// NewSession starts a session in AwaitingKey holding the relay's
// per-connection keypair.
func NewSession(id, ip string, tr Sender, kp *keys.Keypair) *Session {
	return &Session{
		ID:        id,
		IPAddress: ip,
		Transport: tr,
		CreatedAt: time.Now(),
		phase:     AwaitingKey,
		keypair:   kp,
	}
}

func (s *Session) Phase() Phase { return s.phase }

// Keypair is nil once the session is keyed.
func (s *Session) Keypair() *keys.Keypair { return s.keypair }

// Link is nil until the session is keyed.
func (s *Session) Link() *stream.Pair { return s.link }

// Group reports the joined group.
func (s *Session) Group() (string, bool) {
	return s.group, s.phase == KeyedJoined
}

// CompleteKeyExchange installs the transport ciphers and wipes the keypair.
func (s *Session) CompleteKeyExchange(link *stream.Pair) error {
	if s.phase != AwaitingKey {
		return ErrWrongPhase
	}
	s.keypair.Destroy()
	s.keypair = nil
	s.link = link
	s.phase = KeyedUnjoined
	return nil
}

// EnterGroup moves a keyed session into group.
func (s *Session) EnterGroup(group string) error {
	if s.phase != KeyedUnjoined {
		return ErrWrongPhase
	}
	if group == "" {
		return ErrEmptyGroup
	}
	s.group = group
	s.phase = KeyedJoined
	return nil
}

// ExitGroup returns the session to KeyedUnjoined and reports the group it left.
func (s *Session) ExitGroup() (string, bool) {
	if s.phase != KeyedJoined {
		return "", false
	}
	group := s.group
	s.group = ""
	s.phase = KeyedUnjoined
	return group, true
}

// Destroy wipes any key material still held.
func (s *Session) Destroy() {
	if s.keypair != nil {
		s.keypair.Destroy()
		s.keypair = nil
	}
	s.link = nil
}

// ModifierState is per-connection state kept by a pipeline modifier. Timer,
// when set, removes the entry on expiry.
type ModifierState struct {
	Value any
	Timer *time.Timer
}
