package keys

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/curve25519"

	"github.com/kurodenjiro/cryto-chat/pkg/codec"
)

// Curve selects the key agreement parameters.
type Curve int

const (
	// Transport is the client to relay curve (P-521).
	Transport Curve = iota
	// Peer is the member to member curve (X25519).
	Peer
)

// KeySize is the length of every symmetric key produced by this package.
const KeySize = 32

var (
	ErrMalformedPublicKey = errors.New("keys: malformed public key")
	ErrUnknownCurve       = errors.New("keys: unknown curve")
	ErrShortSecret        = errors.New("keys: shared secret too short")
)

func (c Curve) String() string {
	switch c {
	case Transport:
		return "p521"
	case Peer:
		return "x25519"
	default:
		return fmt.Sprintf("curve(%d)", int(c))
	}
}

// Keypair is an ephemeral key agreement key pair on one curve.
type Keypair struct {
	curve Curve

	p521 *ecdh.PrivateKey

	x25519Priv [32]byte
	x25519Pub  [32]byte
}

// Generate returns a fresh key pair on c.
func Generate(c Curve) (*Keypair, error) {
	switch c {
	case Transport:
		priv, err := ecdh.P521().GenerateKey(rand.Reader)
		if err != nil {
			return nil, err
		}
		return &Keypair{curve: c, p521: priv}, nil
	case Peer:
		kp := &Keypair{curve: c}
		if _, err := rand.Read(kp.x25519Priv[:]); err != nil {
			return nil, err
		}
		kp.x25519Priv[0] &= 248
		kp.x25519Priv[31] &= 127
		kp.x25519Priv[31] |= 64
		pub, err := curve25519.X25519(kp.x25519Priv[:], curve25519.Basepoint)
		if err != nil {
			return nil, err
		}
		copy(kp.x25519Pub[:], pub)
		return kp, nil
	default:
		return nil, ErrUnknownCurve
	}
}

// Curve reports the curve the key pair lives on.
func (k *Keypair) Curve() Curve { return k.curve }

// PublicHex returns the public key as lowercase hex. P-521 keys use the
// uncompressed point encoding.
func (k *Keypair) PublicHex() string {
	if k.curve == Transport {
		return codec.BytesToHex(k.p521.PublicKey().Bytes())
	}
	return codec.BytesToHex(k.x25519Pub[:])
}

// DeriveSecret computes the shared secret with the peer's hex public key
// and returns it as a hex integer without leading zeros.
func (k *Keypair) DeriveSecret(peerPublicHex string) (string, error) {
	raw := codec.HexToBytes(strings.TrimSpace(peerPublicHex))
	if len(raw) == 0 {
		return "", ErrMalformedPublicKey
	}

	var secret []byte
	switch k.curve {
	case Transport:
		pub, err := ecdh.P521().NewPublicKey(raw)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrMalformedPublicKey, err)
		}
		secret, err = k.p521.ECDH(pub)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrMalformedPublicKey, err)
		}
	case Peer:
		if len(raw) != curve25519.PointSize {
			return "", ErrMalformedPublicKey
		}
		var err error
		secret, err = curve25519.X25519(k.x25519Priv[:], raw)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrMalformedPublicKey, err)
		}
	default:
		return "", ErrUnknownCurve
	}
	defer Wipe(secret)

	out := strings.TrimLeft(codec.BytesToHex(secret), "0")
	if out == "" {
		out = "0"
	}
	return out, nil
}

// Destroy wipes the private scalar. The key pair is unusable afterwards.
func (k *Keypair) Destroy() {
	if k == nil {
		return
	}
	Wipe(k.x25519Priv[:])
	k.p521 = nil
}

// ReduceToSymmetricKey compresses a hex secret into a 32-byte key made of
// its first 32 and last 32 hex digits. The two halves overlap when the
// secret has fewer than 64 significant digits.
func ReduceToSymmetricKey(secretHex string) ([]byte, error) {
	const half = KeySize
	if len(secretHex) < half {
		return nil, ErrShortSecret
	}
	key := codec.HexToBytes(secretHex[:half] + secretHex[len(secretHex)-half:])
	if len(key) != KeySize {
		return nil, ErrShortSecret
	}
	return key, nil
}

// MixGroupDigest XORs key with digest, aligned on their last bytes. The
// result is as long as the shorter operand.
func MixGroupDigest(key, digest []byte) []byte {
	n := len(key)
	if len(digest) < n {
		n = len(digest)
	}
	out := make([]byte, n)
	for i := 1; i <= n; i++ {
		out[n-i] = key[len(key)-i] ^ digest[len(digest)-i]
	}
	return out
}

// GroupDigest hashes a group password once. Only the digest is kept.
func GroupDigest(password string) []byte {
	sum := sha256.Sum256(codec.StringToBytes(password))
	return sum[:]
}

// TransportKey derives the client/relay symmetric key.
func TransportKey(own *Keypair, peerPublicHex string) ([]byte, error) {
	secret, err := own.DeriveSecret(peerPublicHex)
	if err != nil {
		return nil, err
	}
	return ReduceToSymmetricKey(secret)
}

// PeerKey derives a member to member symmetric key bound to the group
// password digest.
func PeerKey(own *Keypair, peerPublicHex string, groupDigest []byte) ([]byte, error) {
	key, err := TransportKey(own, peerPublicHex)
	if err != nil {
		return nil, err
	}
	defer Wipe(key)
	mixed := MixGroupDigest(key, groupDigest)
	if len(mixed) != KeySize {
		return nil, ErrShortSecret
	}
	return mixed, nil
}
