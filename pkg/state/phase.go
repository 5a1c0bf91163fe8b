package state

// Phase is the relay-side handshake state of one connection.
type Phase int

const (
	// AwaitingKey: the relay has sent its public key and waits for the client's.
	AwaitingKey Phase = iota
	// KeyedUnjoined: the transport link is encrypted but no group was chosen.
	KeyedUnjoined
	// KeyedJoined: the connection belongs to exactly one group.
	KeyedJoined
)

func (p Phase) String() string {
	switch p {
	case AwaitingKey:
		return "awaiting_key"
	case KeyedUnjoined:
		return "keyed_unjoined"
	case KeyedJoined:
		return "keyed_joined"
	default:
		return "unknown"
	}
}

func (p Phase) Keyed() bool {
	return p == KeyedUnjoined || p == KeyedJoined
}
