package client

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/kurodenjiro/cryto-chat/pkg/config"
	"github.com/kurodenjiro/cryto-chat/pkg/signing"
	"github.com/kurodenjiro/cryto-chat/pkg/transport"
)

var ErrNotConnected = errors.New("client: not connected to the relay")

const clientReadLimit = 1 << 20

// request runs on the client loop against the live session.
type request struct {
	fn   func(s *Session) error
	done chan error
}

// Client keeps a session with the relay alive. It dials, runs one Session
// per connection and reconnects after a fixed delay when the link drops.
// All session work happens on the goroutine running Run.
type Client struct {
	logger   *slog.Logger
	cfg      *config.ClientConfig
	creds    Credentials
	verifier *signing.Verifier
	display  Display
	observer Observer

	requests chan request
}

func New(logger *slog.Logger, cfg *config.ClientConfig, creds Credentials, display Display) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	verifier, err := signing.NewVerifier(cfg.Relay.VerificationKey)
	if err != nil {
		return nil, err
	}
	return &Client{
		logger:   logger.With(slog.String("component", "client")),
		cfg:      cfg,
		creds:    creds,
		verifier: verifier,
		display:  display,
		requests: make(chan request),
	}, nil
}

// SetObserver installs a peer phase observer for future sessions.
func (c *Client) SetObserver(o Observer) {
	c.observer = o
}

// Run connects and reconnects until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	for {
		err := c.runOnce(ctx)
		c.display.SetConnected(false)
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn("Relay link lost, reconnecting", slog.Any("error", err), slog.Duration("delay", c.cfg.Link.ReconnectDelay))

		retry := time.NewTimer(c.cfg.Link.ReconnectDelay)
	wait:
		for {
			select {
			case <-ctx.Done():
				retry.Stop()
				return nil
			case req := <-c.requests:
				req.done <- ErrNotConnected
			case <-retry.C:
				break wait
			}
		}
	}
}

func (c *Client) runOnce(ctx context.Context) error {
	header := http.Header{}
	if c.cfg.Relay.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Relay.Token)
	}
	ws, err := transport.Dial(ctx, c.cfg.Relay.URL, header)
	if err != nil {
		return err
	}

	frames := make(chan string)
	closed := make(chan error, 1)
	var wg sync.WaitGroup
	conn := transport.NewConnection(ctx, &wg, transport.NewConnectionID(), ws,
		transport.ConnectionConfig{ReadLimit: clientReadLimit},
		func(connCtx context.Context, _ string, frame string) {
			select {
			case frames <- frame:
			case <-connCtx.Done():
			}
		},
		func(_ string, err error) { closed <- err },
		c.logger,
	)

	session, err := NewSession(c.logger, c.creds, c.verifier, c.display, conn)
	if err != nil {
		conn.Close(err)
		wg.Wait()
		return err
	}
	session.SetObserver(c.observer)
	defer func() {
		conn.Close(nil)
		wg.Wait()
		session.Close()
	}()

	conn.Run()
	c.logger.Info("Connected to relay", slog.String("url", c.cfg.Relay.URL))

	var ping <-chan time.Time
	if c.cfg.Link.PingInterval > 0 {
		ticker := time.NewTicker(c.cfg.Link.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case frame := <-frames:
			if err := session.HandleFrame(frame); err != nil {
				c.logger.Debug("Dropped frame from relay", slog.Any("error", err))
			}
		case req := <-c.requests:
			req.done <- req.fn(session)
		case <-ping:
			if err := session.Ping(); err != nil {
				c.logger.Warn("Failed to send ping", slog.Any("error", err))
			}
		case err := <-closed:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) do(ctx context.Context, fn func(s *Session) error) error {
	req := request{fn: fn, done: make(chan error, 1)}
	select {
	case c.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendGroup sends text to every ready member and returns how many it
// reached.
func (c *Client) SendGroup(ctx context.Context, text string) (int, error) {
	var n int
	err := c.do(ctx, func(s *Session) error {
		var err error
		n, err = s.SendGroup(text)
		return err
	})
	return n, err
}

// SendMember sends text to one ready member.
func (c *Client) SendMember(ctx context.Context, id, text string) error {
	return c.do(ctx, func(s *Session) error {
		return s.SendMember(id, text)
	})
}
