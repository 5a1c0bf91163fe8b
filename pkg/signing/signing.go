// Package signing signs relay control messages and verifies them on the
// client. The relay holds a long-term Ed25519 key; clients only ever hold
// the matching verification key.
package signing

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"

	"github.com/kurodenjiro/cryto-chat/pkg/codec"
)

var (
	ErrBadPrivateKey = errors.New("signing: private key must be a 32-byte hex seed")
	ErrBadPublicKey  = errors.New("signing: verification key must be 32 bytes of hex")
)

// Signer signs canonical message bytes with the relay's fixed key.
type Signer struct {
	key ed25519.PrivateKey
}

// NewSigner builds a signer from a hex encoded Ed25519 seed.
func NewSigner(seedHex string) (*Signer, error) {
	seed := codec.HexToBytes(strings.TrimSpace(seedHex))
	if len(seed) != ed25519.SeedSize {
		return nil, ErrBadPrivateKey
	}
	return &Signer{key: ed25519.NewKeyFromSeed(seed)}, nil
}

// Sign returns the hex signature over msg.
func (s *Signer) Sign(msg []byte) string {
	return codec.BytesToHex(ed25519.Sign(s.key, msg))
}

// PublicHex returns the verification key clients must be configured with.
func (s *Signer) PublicHex() string {
	return codec.BytesToHex(s.key.Public().(ed25519.PublicKey))
}

// Verifier checks relay signatures.
type Verifier struct {
	pub ed25519.PublicKey
}

// NewVerifier parses a hex verification key.
func NewVerifier(pubHex string) (*Verifier, error) {
	pub := codec.HexToBytes(strings.TrimSpace(pubHex))
	if len(pub) != ed25519.PublicKeySize {
		return nil, ErrBadPublicKey
	}
	return &Verifier{pub: ed25519.PublicKey(pub)}, nil
}

// Verify reports whether sigHex is a valid signature over msg. Malformed
// signatures fail the same way as wrong ones.
func (v *Verifier) Verify(msg []byte, sigHex string) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	sig := codec.HexToBytes(sigHex)
	if len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(v.pub, msg, sig)
}

// GenerateKey returns a fresh signing seed and its verification key, both
// hex encoded.
func GenerateKey() (seedHex, publicHex string, err error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("signing: generate key: %w", err)
	}
	return codec.BytesToHex(priv.Seed()), codec.BytesToHex(pub), nil
}
