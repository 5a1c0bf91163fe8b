package transport

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

var (
	ErrClosed         = errors.New("transport: connection closed")
	ErrSendBufferFull = errors.New("transport: send buffer full")
)

// callback executed when a text frame is received.
type MessageHandler func(ctx context.Context, connID string, frame string)

type OnCloseHandler func(connID string, err error)

type ConnectionConfig struct {
	// ReadTimeout bounds the wait for each inbound frame. Zero disables it.
	ReadTimeout time.Duration
	SendBuffer  int
	ReadLimit   int64
}

// NewConnectionID returns a 32 digit lowercase hex id.
func NewConnectionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Connection represents a single, thread-safe WebSocket connection.
type Connection struct {
	id     string
	conn   *websocket.Conn
	config ConnectionConfig
	send   chan string

	onMessage MessageHandler
	onClose   OnCloseHandler

	done      chan struct{}
	wg        *sync.WaitGroup
	ctx       context.Context
	closeOnce sync.Once
	cancel    context.CancelFunc

	logger *slog.Logger
}

// NewConnection wraps conn. The caller must either Run or Close it, since
// it is counted in wg from construction.
func NewConnection(parentCtx context.Context, wg *sync.WaitGroup, id string, conn *websocket.Conn, config ConnectionConfig, onMessage MessageHandler, onClose OnCloseHandler, logger *slog.Logger) *Connection {
	connCtx, cancel := context.WithCancel(parentCtx)
	wg.Add(1)
	if config.SendBuffer <= 0 {
		config.SendBuffer = 256
	}
	if conn != nil && config.ReadLimit > 0 {
		conn.SetReadLimit(config.ReadLimit)
	}

	return &Connection{
		id:        id,
		conn:      conn,
		logger:    logger.With(slog.String("connID", id)),
		config:    config,
		onMessage: onMessage,
		send:      make(chan string, config.SendBuffer),
		done:      make(chan struct{}),
		ctx:       connCtx,
		cancel:    cancel,
		onClose:   onClose,
		wg:        wg,
	}
}

func (c *Connection) Run() {
	go c.readPump()
	go c.writePump()

	c.logger.Debug("Connection established")
}

func (c *Connection) readContext() (context.Context, context.CancelFunc) {
	if c.config.ReadTimeout <= 0 {
		return context.WithCancel(c.ctx)
	}
	return context.WithTimeout(c.ctx, c.config.ReadTimeout)
}

// readPump pumps text frames from the WebSocket connection to the message handler.
func (c *Connection) readPump() {
	var readErr error
	defer func() {
		c.Close(readErr)
	}()

	for {
		readCtx, cancelRead := c.readContext()
		typ, data, err := c.conn.Read(readCtx)
		cancelRead()
		if err != nil {
			readErr = err
			return
		}
		if typ != websocket.MessageText {
			c.logger.Debug("Ignoring non-text frame", slog.String("type", typ.String()))
			continue
		}
		if c.onMessage != nil {
			c.onMessage(c.ctx, c.id, string(data))
		}
	}
}

// writePump pumps frames from the send channel to the WebSocket connection.
func (c *Connection) writePump() {
	var writeErr error
	defer func() {
		c.Close(writeErr)
	}()

	for {
		select {
		case frame := <-c.send:
			if err := c.conn.Write(c.ctx, websocket.MessageText, []byte(frame)); err != nil {
				writeErr = err
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// Send queues a text frame without blocking. A connection whose buffer is
// full is closed, since a dropped frame leaves its cipher streams out of step.
func (c *Connection) Send(frame string) error {
	select {
	case <-c.ctx.Done():
		return ErrClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	default:
		c.logger.Warn("Send buffer full, closing slow connection")
		go c.Close(ErrSendBufferFull)
		return ErrSendBufferFull
	}
}

// Close shuts the connection down once. The close handler runs on the
// calling goroutine.
func (c *Connection) Close(err error) {
	c.closeOnce.Do(func() {
		status := websocket.CloseStatus(err)
		c.logger.Debug("Transport connection closing", slog.Any("reason", err), slog.String("status", status.String()))

		c.cancel()
		if c.conn != nil {
			c.conn.Close(websocket.StatusNormalClosure, "")
		}
		if c.onClose != nil {
			c.onClose(c.id, err)
		}
		c.wg.Done()
		close(c.done)
	})
}

// returns a channel that is closed when the connection is fully terminated.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) ID() string {
	return c.id
}

func (c *Connection) SetOnMessageHandler(handler MessageHandler) {
	c.onMessage = handler
}

func (c *Connection) SetOnCloseHandler(handler OnCloseHandler) {
	c.onClose = handler
}
