package client

import (
	"errors"
	"fmt"

	"github.com/kurodenjiro/cryto-chat/pkg/keys"
	"github.com/kurodenjiro/cryto-chat/pkg/stream"
)

var ErrPeerPhase = errors.New("client: message not valid in peer phase")

// peer is the link state with one remote group member.
type peer struct {
	id      string
	name    string
	phase   PeerPhase
	keypair *keys.Keypair
	link    *stream.Pair
}

func newPeer(id string) (*peer, error) {
	kp, err := keys.Generate(keys.Peer)
	if err != nil {
		return nil, err
	}
	return &peer{id: id, phase: PeerUnlinked, keypair: kp}, nil
}

func (p *peer) sendStream() *stream.Stream {
	if p.link == nil {
		return nil
	}
	return p.link.Send
}

func (p *peer) recvStream() *stream.Stream {
	if p.link == nil {
		return nil
	}
	return p.link.Recv
}

func (p *peer) expect(phase PeerPhase) error {
	if p.phase != phase {
		return fmt.Errorf("%w: peer %s is %s, want %s", ErrPeerPhase, p.id, p.phase, phase)
	}
	return nil
}

// exchange derives the peer link from the remote public key. The direction
// of the counters follows the numeric order of the two connection ids.
func (p *peer) exchange(ownID, remotePublicHex string, groupDigest []byte) error {
	if err := p.expect(PeerUnlinked); err != nil {
		return err
	}
	role, err := stream.RoleFor(ownID, p.id)
	if err != nil {
		return err
	}
	key, err := keys.PeerKey(p.keypair, remotePublicHex, groupDigest)
	if err != nil {
		return err
	}
	defer keys.Wipe(key)
	link, err := stream.NewPair(key, role)
	if err != nil {
		return err
	}
	p.link = link
	p.keypair.Destroy()
	p.keypair = nil
	return nil
}

func (p *peer) destroy() {
	p.keypair.Destroy()
	p.keypair = nil
	p.link = nil
}
