// Package stream builds the paired AES-256-CTR ciphers used on every link.
//
// Each side of a link owns one send and one receive keystream under the
// same key. The two directions start at counters 1 and 2^31, so they never
// share a keystream block unless a single direction carries more than
// 2^31 blocks.
package stream

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
)

// Role picks which counter a party sends on.
type Role int

const (
	// Low sends from LowCounter and receives from HighCounter.
	Low Role = iota
	// High sends from HighCounter and receives from LowCounter.
	High
)

const (
	LowCounter  uint64 = 1
	HighCounter uint64 = 1 << 31
)

var (
	ErrKeySize = errors.New("stream: key must be 32 bytes")
	ErrBadID   = errors.New("stream: connection id is not a hex integer")
	ErrSameID  = errors.New("stream: connection ids are equal")
)

func (r Role) String() string {
	if r == Low {
		return "low"
	}
	return "high"
}

// Mirror returns the role of the other end of the link.
func (r Role) Mirror() Role {
	if r == Low {
		return High
	}
	return Low
}

func (r Role) sendCounter() uint64 {
	if r == Low {
		return LowCounter
	}
	return HighCounter
}

// Stream is one direction of a link. It keeps its position across calls,
// so messages must be processed in the order they were produced.
type Stream struct {
	ctr     cipher.Stream
	initial uint64
}

func newStream(block cipher.Block, counter uint64) *Stream {
	iv := make([]byte, aes.BlockSize)
	binary.BigEndian.PutUint64(iv[aes.BlockSize-8:], counter)
	return &Stream{ctr: cipher.NewCTR(block, iv), initial: counter}
}

// InitialCounter reports the counter block the stream started from.
func (s *Stream) InitialCounter() uint64 { return s.initial }

// Apply XORs b with the next len(b) keystream bytes and returns the result
// in a new slice. Encryption and decryption are the same operation.
func (s *Stream) Apply(b []byte) []byte {
	out := make([]byte, len(b))
	s.ctr.XORKeyStream(out, b)
	return out
}

// Pair is the send/receive stream pair held by one side of a link.
type Pair struct {
	Role Role
	Send *Stream
	Recv *Stream
}

// NewPair keys both directions with key and assigns counters by role.
func NewPair(key []byte, role Role) (*Pair, error) {
	if len(key) != 32 {
		return nil, ErrKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return &Pair{
		Role: role,
		Send: newStream(block, role.sendCounter()),
		Recv: newStream(block, role.Mirror().sendCounter()),
	}, nil
}

// RoleFor compares two connection ids as unsigned integers. The side whose
// own id is numerically smaller sends low.
func RoleFor(ownID, remoteID string) (Role, error) {
	own, ok := new(big.Int).SetString(ownID, 16)
	if !ok || own.Sign() < 0 {
		return High, fmt.Errorf("%w: %q", ErrBadID, ownID)
	}
	remote, ok := new(big.Int).SetString(remoteID, 16)
	if !ok || remote.Sign() < 0 {
		return High, fmt.Errorf("%w: %q", ErrBadID, remoteID)
	}
	switch own.Cmp(remote) {
	case -1:
		return Low, nil
	case 1:
		return High, nil
	default:
		return High, ErrSameID
	}
}
