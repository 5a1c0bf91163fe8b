package commands

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kurodenjiro/cryto-chat/internal/client"
)

func chatCmd() *cobra.Command {
	var (
		name     string
		group    string
		password string
		invite   string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Join a group and chat",
		Long: "Reads lines from stdin and sends them to the group.\n" +
			"\"/msg <id> <text>\" sends to a single member, using the id prefix shown in the member list.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if invite != "" {
				inv, err := client.ParseInvite(invite)
				if err != nil {
					return err
				}
				cfg.Relay.URL = inv.RelayURL
				cfg.Relay.VerificationKey = inv.VerificationKey
				group = inv.Group
			}
			if password == "" {
				password = os.Getenv("CRYPTCHAT_PASSWORD")
			}
			creds, err := client.NewCredentials(name, group, password)
			if err != nil {
				return err
			}
			password = ""

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			term := newTerminal(cmd.OutOrStdout())
			members := &memberIndex{}
			c, err := client.New(logger, cfg, creds, &indexingDisplay{terminal: term, index: members})
			if err != nil {
				return err
			}

			runErr := make(chan error, 1)
			go func() { runErr <- c.Run(ctx) }()
			go readInput(ctx, cmd.InOrStdin(), c, members, term)

			<-ctx.Done()
			return <-runErr
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&group, "group", "", "group name")
	cmd.Flags().StringVar(&password, "password", "", "group password (or CRYPTCHAT_PASSWORD)")
	cmd.Flags().StringVar(&invite, "invite", "", "invite link carrying relay, group and key")
	return cmd
}

func readInput(ctx context.Context, in io.Reader, c *client.Client, members *memberIndex, term *terminal) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		to, text := parseInput(scanner.Text())
		var err error
		if to != "" {
			id, ok := members.resolve(to)
			if !ok {
				term.printf("* no member matches %q", to)
				continue
			}
			err = c.SendMember(ctx, id, text)
		} else {
			_, err = c.SendGroup(ctx, text)
		}
		if err != nil && !errors.Is(err, client.ErrEmptyMessage) && ctx.Err() == nil {
			term.printf("* not sent: %v", err)
		}
	}
}

// parseInput splits "/msg <id> <text>" into a target and text. Any other
// line is a group message.
func parseInput(line string) (to, text string) {
	rest, ok := strings.CutPrefix(line, "/msg ")
	if !ok {
		return "", line
	}
	to, text, _ = strings.Cut(strings.TrimLeft(rest, " "), " ")
	return to, text
}

// memberIndex resolves id prefixes typed by the user.
type memberIndex struct {
	mu  sync.Mutex
	ids []string
}

func (m *memberIndex) set(members []client.Member) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids = m.ids[:0]
	for _, member := range members {
		m.ids = append(m.ids, member.ID)
	}
}

func (m *memberIndex) resolve(prefix string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	match := ""
	for _, id := range m.ids {
		if strings.HasPrefix(id, prefix) {
			if match != "" {
				return "", false
			}
			match = id
		}
	}
	return match, match != ""
}

// indexingDisplay keeps the member index current for /msg.
type indexingDisplay struct {
	*terminal
	index *memberIndex
}

func (d *indexingDisplay) UpdateMembers(members []client.Member) {
	d.index.set(members)
	d.terminal.UpdateMembers(members)
}
