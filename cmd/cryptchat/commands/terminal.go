package commands

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/kurodenjiro/cryto-chat/internal/client"
)

// terminal renders the chat as plain lines on w.
type terminal struct {
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time
}

func newTerminal(w io.Writer) *terminal {
	return &terminal{w: w, now: time.Now}
}

func (t *terminal) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.w, "%s "+format+"\n", append([]any{t.now().Format("15:04")}, args...)...)
}

func (t *terminal) ShowMessage(m client.ChatMessage) {
	switch {
	case m.Local && m.To != "":
		t.printf("%s -> %s: %s", m.From, short(m.To), m.Text)
	case m.Local:
		t.printf("%s (%d): %s", m.From, m.Recipients, m.Text)
	default:
		t.printf("%s: %s", m.From, m.Text)
	}
}

func (t *terminal) UpdateMembers(members []client.Member) {
	if len(members) == 0 {
		t.printf("* nobody else is here")
		return
	}
	names := make([]string, 0, len(members))
	for _, m := range members {
		names = append(names, fmt.Sprintf("%s [%s]", m.Name, short(m.ID)))
	}
	t.printf("* members: %s", strings.Join(names, ", "))
}

func (t *terminal) SetConnected(connected bool) {
	if connected {
		t.printf("* connected")
		return
	}
	t.printf("* connecting...")
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
