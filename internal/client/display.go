package client

import "fmt"

// PeerPhase is the progress of the handshake with one group member.
type PeerPhase int

const (
	PeerUnlinked PeerPhase = iota
	PeerKeyExchanged
	PeerNamed
	PeerReady
)

func (p PeerPhase) String() string {
	switch p {
	case PeerUnlinked:
		return "unlinked"
	case PeerKeyExchanged:
		return "key-exchanged"
	case PeerNamed:
		return "named"
	case PeerReady:
		return "ready"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// ChatMessage is one line for the display. Local marks the echo of our own
// message, in which case Recipients is the number of members it was
// encrypted for.
type ChatMessage struct {
	From       string
	FromID     string
	To         string // set for direct messages
	Text       string
	Local      bool
	Recipients int
}

// Member is a group member whose link is ready.
type Member struct {
	ID   string
	Name string
}

// Display renders what the client learns. Methods are called from the
// client's event loop, never concurrently.
type Display interface {
	ShowMessage(m ChatMessage)
	// UpdateMembers receives the ready members in relay join order.
	UpdateMembers(members []Member)
	SetConnected(connected bool)
}

// Observer is notified of every peer phase transition.
type Observer func(peerID string, from, to PeerPhase)
