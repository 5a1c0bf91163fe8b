package client

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kurodenjiro/cryto-chat/pkg/keys"
	"github.com/kurodenjiro/cryto-chat/pkg/protocol"
	"github.com/kurodenjiro/cryto-chat/pkg/signing"
	"github.com/kurodenjiro/cryto-chat/pkg/stream"
)

var (
	ErrUnexpectedAction = errors.New("client: unexpected action")
	ErrNotJoined        = errors.New("client: not joined to a group")
	ErrUnknownPeer      = errors.New("client: unknown group member")
	ErrPeerNotReady     = errors.New("client: group member is not ready")
	ErrEmptyMessage     = errors.New("client: empty message")
)

// Link carries frames to the relay.
type Link interface {
	Send(frame string) error
}

type linkPhase int

const (
	awaitingRelayKey linkPhase = iota
	awaitingID
	joined
)

// Session is the client side of one relay connection: the transport
// handshake, the group join and one peer link per group member. It is not
// safe for concurrent use; the Client drives it from a single loop.
type Session struct {
	logger   *slog.Logger
	creds    Credentials
	verifier *signing.Verifier
	display  Display
	observer Observer
	link     Link

	phase     linkPhase
	transport *keys.Keypair
	ciphers   *stream.Pair
	id        string

	peers map[string]*peer
	order []string
}

func NewSession(logger *slog.Logger, creds Credentials, verifier *signing.Verifier, display Display, link Link) (*Session, error) {
	kp, err := keys.Generate(keys.Transport)
	if err != nil {
		return nil, err
	}
	return &Session{
		logger:    logger.With(slog.String("component", "client")),
		creds:     creds,
		verifier:  verifier,
		display:   display,
		link:      link,
		phase:     awaitingRelayKey,
		transport: kp,
		peers:     make(map[string]*peer),
	}, nil
}

func (s *Session) SetObserver(o Observer) {
	s.observer = o
}

// ID is the connection id assigned by the relay, empty until it arrives.
func (s *Session) ID() string {
	return s.id
}

func (s *Session) Joined() bool {
	return s.phase == joined
}

// PeerPhase reports the handshake progress with a group member.
func (s *Session) PeerPhase(id string) (PeerPhase, bool) {
	p, ok := s.peers[id]
	if !ok {
		return 0, false
	}
	return p.phase, true
}

// Ping sends the liveness sentinel. It works in any phase.
func (s *Session) Ping() error {
	return s.link.Send(protocol.PingSentinel)
}

// Close discards all key material held by the session.
func (s *Session) Close() {
	s.transport.Destroy()
	s.transport = nil
	s.ciphers = nil
	for id, p := range s.peers {
		p.destroy()
		delete(s.peers, id)
	}
	s.order = nil
}

// HandleFrame processes one frame from the relay. A returned error means
// the frame was dropped; nothing is sent back in that case.
func (s *Session) HandleFrame(frame string) error {
	if frame == protocol.PongSentinel {
		s.logger.Debug("Received pong")
		return nil
	}

	var recv *stream.Stream
	if s.ciphers != nil {
		recv = s.ciphers.Recv
	}
	msg, err := protocol.OpenEnvelope(frame, s.verifier, recv)
	if err != nil {
		return err
	}
	s.logger.Debug("Received control message", slog.String("action", msg.Action))

	switch msg.Action {
	case protocol.ActionECDHPublicKey:
		return s.handleRelayKey(msg)
	case protocol.ActionConnectionID:
		return s.handleConnectionID(msg)
	case protocol.ActionListGroup:
		return s.handleListGroup(msg)
	case protocol.ActionMessageGroupMember:
		return s.handleMemberMessage(msg)
	default:
		return fmt.Errorf("%w: %s", ErrUnexpectedAction, msg.Action)
	}
}

// --- Transport handshake ---

func (s *Session) handleRelayKey(msg protocol.Message) error {
	if s.phase != awaitingRelayKey {
		return fmt.Errorf("%w: %s after handshake", ErrUnexpectedAction, msg.Action)
	}
	relayPublic, err := msg.String()
	if err != nil {
		return err
	}
	key, err := keys.TransportKey(s.transport, relayPublic)
	if err != nil {
		return err
	}
	defer keys.Wipe(key)
	ciphers, err := stream.NewPair(key, stream.High)
	if err != nil {
		return err
	}

	reply, err := protocol.NewMessage(protocol.ActionECDHPublicKey, s.transport.PublicHex())
	if err != nil {
		return err
	}
	// The reply travels in the clear; the relay cannot derive the key without it.
	if err := s.send(reply); err != nil {
		return err
	}
	s.ciphers = ciphers
	s.transport.Destroy()
	s.transport = nil
	s.phase = awaitingID
	s.logger.Debug("Transport link keyed")
	return nil
}

func (s *Session) handleConnectionID(msg protocol.Message) error {
	if s.phase != awaitingID {
		return fmt.Errorf("%w: %s in wrong phase", ErrUnexpectedAction, msg.Action)
	}
	id, err := msg.NonEmptyString()
	if err != nil {
		return err
	}
	join, err := protocol.NewMessage(protocol.ActionParticipateGroup, s.creds.Group)
	if err != nil {
		return err
	}
	if err := s.send(join); err != nil {
		return err
	}
	s.id = id
	s.phase = joined
	s.logger.Info("Joined group", slog.String("connID", id), slog.String("group", s.creds.Group))
	s.display.SetConnected(true)
	return nil
}

// --- Membership ---

func (s *Session) handleListGroup(msg protocol.Message) error {
	if s.phase != joined {
		return fmt.Errorf("%w: %s before join", ErrUnexpectedAction, msg.Action)
	}
	ids, err := msg.StringList()
	if err != nil {
		return err
	}

	listed := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		listed[id] = struct{}{}
	}
	for id, p := range s.peers {
		if _, ok := listed[id]; !ok {
			p.destroy()
			delete(s.peers, id)
			s.logger.Debug("Group member left", slog.String("peer", id))
		}
	}

	order := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == s.id {
			continue
		}
		order = append(order, id)
		if _, ok := s.peers[id]; ok {
			continue
		}
		p, err := newPeer(id)
		if err != nil {
			return err
		}
		s.peers[id] = p
		offer, err := protocol.NewMessage(protocol.ActionECDHPublicKey, p.keypair.PublicHex())
		if err != nil {
			return err
		}
		if err := s.sendToPeer(p, offer); err != nil {
			s.logger.Warn("Failed to offer key to group member", slog.String("peer", id), slog.Any("error", err))
		}
	}
	s.order = order
	s.updateMembers()
	return nil
}

func (s *Session) updateMembers() {
	members := make([]Member, 0, len(s.order))
	for _, id := range s.order {
		if p, ok := s.peers[id]; ok && p.phase == PeerReady {
			members = append(members, Member{ID: id, Name: p.name})
		}
	}
	s.display.UpdateMembers(members)
}

// --- Peer layer ---

func (s *Session) handleMemberMessage(msg protocol.Message) error {
	if s.phase != joined {
		return fmt.Errorf("%w: %s before join", ErrUnexpectedAction, msg.Action)
	}
	mm, err := msg.MemberMessage()
	if err != nil {
		return err
	}
	p, ok := s.peers[mm.Member]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, mm.Member)
	}
	inner, err := protocol.OpenMessage(mm.Message, p.recvStream())
	if err != nil {
		return fmt.Errorf("peer %s: %w", p.id, err)
	}

	switch inner.Action {
	case protocol.ActionECDHPublicKey:
		remotePublic, err := inner.String()
		if err != nil {
			return err
		}
		if err := p.exchange(s.id, remotePublic, s.creds.digest); err != nil {
			return err
		}
		s.transition(p, PeerKeyExchanged)
		name, err := protocol.NewMessage(protocol.ActionUserName, s.creds.UserName)
		if err != nil {
			return err
		}
		return s.sendToPeer(p, name)

	case protocol.ActionUserName:
		if err := p.expect(PeerKeyExchanged); err != nil {
			return err
		}
		name, err := inner.String()
		if err != nil {
			return err
		}
		p.name = name
		s.transition(p, PeerNamed)
		s.transition(p, PeerReady)
		s.updateMembers()
		return nil

	case protocol.ActionMessageGroup:
		if err := p.expect(PeerReady); err != nil {
			return err
		}
		text, err := inner.String()
		if err != nil {
			return err
		}
		s.display.ShowMessage(ChatMessage{From: p.name, FromID: p.id, Text: text})
		return nil

	default:
		return fmt.Errorf("%w: peer action %s", ErrUnexpectedAction, inner.Action)
	}
}

func (s *Session) transition(p *peer, to PeerPhase) {
	from := p.phase
	p.phase = to
	s.logger.Debug("Peer phase changed", slog.String("peer", p.id), slog.String("from", from.String()), slog.String("to", to.String()))
	if s.observer != nil {
		s.observer(p.id, from, to)
	}
}

// --- Outbound ---

// SendGroup encrypts text once per ready member and submits the result as
// a single messageGroup. It returns the number of members it was encrypted
// for, which is also shown with the local echo.
func (s *Session) SendGroup(text string) (int, error) {
	if strings.TrimSpace(text) == "" {
		return 0, ErrEmptyMessage
	}
	if s.phase != joined {
		return 0, ErrNotJoined
	}
	chat, err := protocol.NewMessage(protocol.ActionMessageGroup, text)
	if err != nil {
		return 0, err
	}

	blobs := make(map[string]string)
	for _, id := range s.order {
		p, ok := s.peers[id]
		if !ok || p.phase != PeerReady {
			continue
		}
		blob, err := protocol.SealMessage(chat, p.sendStream())
		if err != nil {
			return 0, err
		}
		blobs[id] = blob
	}

	count := len(blobs)
	var sendErr error
	if count > 0 {
		fanout, err := protocol.NewMessage(protocol.ActionMessageGroup, blobs)
		if err != nil {
			return 0, err
		}
		if sendErr = s.send(fanout); sendErr != nil {
			count = 0
		}
	}
	s.display.ShowMessage(ChatMessage{From: s.creds.UserName, FromID: s.id, Text: text, Local: true, Recipients: count})
	return count, sendErr
}

// SendMember sends text to a single ready member.
func (s *Session) SendMember(id, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	if s.phase != joined {
		return ErrNotJoined
	}
	p, ok := s.peers[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, id)
	}
	if p.phase != PeerReady {
		return fmt.Errorf("%w: %s", ErrPeerNotReady, id)
	}
	chat, err := protocol.NewMessage(protocol.ActionMessageGroup, text)
	if err != nil {
		return err
	}
	if err := s.sendToPeer(p, chat); err != nil {
		return err
	}
	s.display.ShowMessage(ChatMessage{From: s.creds.UserName, FromID: s.id, To: id, Text: text, Local: true, Recipients: 1})
	return nil
}

// sendToPeer wraps a peer message in a messageGroupMember addressed to p.
// It is encrypted under the peer link once one exists.
func (s *Session) sendToPeer(p *peer, m protocol.Message) error {
	blob, err := protocol.SealMessage(m, p.sendStream())
	if err != nil {
		return err
	}
	wrapped, err := protocol.NewMessage(protocol.ActionMessageGroupMember, protocol.MemberMessage{Member: p.id, Message: blob})
	if err != nil {
		return err
	}
	return s.send(wrapped)
}

func (s *Session) send(m protocol.Message) error {
	var out *stream.Stream
	if s.ciphers != nil {
		out = s.ciphers.Send
	}
	frame, err := protocol.SealMessage(m, out)
	if err != nil {
		return err
	}
	return s.link.Send(frame)
}
