// Package ws provides a WebSocket client for the session observation stream.
package ws

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"

	"github.com/omochice/toy-p2p-chat/internal/logging"
	"github.com/omochice/toy-p2p-chat/pkg/protocol"
)

// Errors returned by Connect. A Client connects at most once.
var (
	ErrAlreadyConnected = errors.New("observer client already connected")
	ErrClosed           = errors.New("observer client closed")
)

// Client receives protocol events from an observation server.
type Client struct {
	address string
	log     *zap.Logger

	mu     sync.RWMutex
	conn   net.Conn
	used   bool
	events chan protocol.Event
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// New creates a client for a ws:// URL.
func New(address string, opts ...Option) *Client {
	c := &Client{
		address: address,
		log:     zap.NewNop(),
		events:  make(chan protocol.Event, 10),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = logging.For(c.log, logging.ComponentObserver)
	return c
}

// Connect performs the WebSocket handshake and starts reading events. It
// returns ErrAlreadyConnected while connected and ErrClosed once the stream
// has ended or Disconnect was called; a failed dial may be retried.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.conn != nil:
		c.mu.Unlock()
		return ErrAlreadyConnected
	case c.used || c.isDone():
		c.mu.Unlock()
		return ErrClosed
	}
	c.used = true
	c.mu.Unlock()

	conn, br, _, err := ws.Dial(ctx, c.address)
	if err != nil {
		c.mu.Lock()
		c.used = false
		c.mu.Unlock()
		return fmt.Errorf("failed to connect to observer: %w", err)
	}

	// The handshake reader may already hold the first frames.
	var rw io.ReadWriter = conn
	if br != nil {
		rw = struct {
			io.Reader
			io.Writer
		}{br, conn}
	}

	c.mu.Lock()
	if c.isDone() {
		c.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.wg.Add(1)
	c.mu.Unlock()

	go c.receiveEvents(rw, br)

	return nil
}

// Disconnect sends a close frame and waits for the read loop to finish.
func (c *Client) Disconnect() {
	c.once.Do(func() {
		close(c.done)

		c.mu.Lock()
		if c.conn != nil {
			_ = wsutil.WriteClientMessage(c.conn, ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
			c.conn.Close()
			c.conn = nil
		}
		c.mu.Unlock()
	})
	c.wg.Wait()
}

// IsConnected returns whether the client is connected.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil
}

func (c *Client) isDone() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Events returns the event stream. It is closed when the connection ends.
func (c *Client) Events() <-chan protocol.Event {
	return c.events
}

func (c *Client) receiveEvents(rw io.ReadWriter, br *bufio.Reader) {
	defer c.wg.Done()
	defer close(c.events)
	defer func() {
		if br != nil {
			ws.PutReader(br)
		}
	}()

	for {
		data, op, err := wsutil.ReadServerData(rw)
		if err != nil {
			select {
			case <-c.done:
			default:
				var closed wsutil.ClosedError
				if errors.As(err, &closed) || errors.Is(err, io.EOF) {
					c.log.Info("observer closed the stream")
				} else {
					c.log.Warn("error reading from observer", zap.Error(err))
				}
				c.mu.Lock()
				if c.conn != nil {
					c.conn.Close()
					c.conn = nil
				}
				c.mu.Unlock()
			}
			return
		}
		if op != ws.OpBinary {
			continue
		}

		var e protocol.Event
		if err := e.Decode(data); err != nil {
			c.log.Warn("failed to decode event", zap.Error(err))
			continue
		}

		select {
		case c.events <- e:
		case <-c.done:
			return
		}
	}
}
