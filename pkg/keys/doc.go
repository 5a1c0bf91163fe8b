// Package keys wraps elliptic-curve key agreement for the two links of the
// chat protocol.
//
// The transport link between a client and the relay runs over P-521. Peer
// links between group members run over X25519 with a fresh key pair per
// remote member. Public keys travel as lowercase hex.
//
// # Key reduction
//
// A shared secret is rendered as a big-endian hex integer without leading
// zeros. The first 32 and the last 32 hex digits are concatenated and
// decoded into a 32-byte AES key. Peer keys are then XORed with the group
// password digest, so two members only agree on a key when they also share
// the group password.
//
// Both constructions are fixed for wire compatibility. They are not a
// general purpose KDF and should not be reused outside this protocol.
package keys
