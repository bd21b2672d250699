// Package tcp provides the outbound side of the message transport: one
// short-lived connection per message.
package tcp

import (
	"context"
	"errors"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/omochice/toy-p2p-chat/internal/chat"
	"github.com/omochice/toy-p2p-chat/internal/logging"
)

// Sender defaults.
const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultWriteTimeout   = 5 * time.Second
)

// Dialer opens outbound connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Client sends messages to peers. It holds no connection between sends and
// is safe for concurrent use.
type Client struct {
	connectTimeout time.Duration
	writeTimeout   time.Duration
	dialer         Dialer
	log            *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithConnectTimeout bounds connection establishment.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.connectTimeout = d
	}
}

// WithWriteTimeout bounds the payload write. Zero disables the deadline.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.writeTimeout = d
	}
}

// WithDialer replaces the network dialer.
func WithDialer(d Dialer) Option {
	return func(c *Client) {
		c.dialer = d
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// New creates a new Client.
func New(opts ...Option) *Client {
	c := &Client{
		connectTimeout: DefaultConnectTimeout,
		writeTimeout:   DefaultWriteTimeout,
		dialer:         &net.Dialer{},
		log:            zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = logging.For(c.log, logging.ComponentSender)
	return c
}

// Send opens a connection to endpoint, writes text and closes the
// connection. The peer learns that the message is complete from the close;
// nothing is read back. Blank text and a zero endpoint are rejected before
// any connection is attempted.
func (c *Client) Send(ctx context.Context, endpoint chat.PeerEndpoint, text string) error {
	msg, err := chat.NewOutboundMessage(text)
	if err != nil {
		return err
	}
	if endpoint.IsZero() {
		return chat.ErrNoPeerSelected
	}

	log := c.log.With(zap.String("peer", endpoint.String()))

	conn, err := c.dial(ctx, endpoint)
	if err != nil {
		sendErr := &chat.SendError{Op: "connect", Endpoint: endpoint, Err: err}
		log.Warn("failed to connect to peer", zap.Error(sendErr))
		return sendErr
	}
	defer conn.Close()

	if c.writeTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if _, err := conn.Write(msg.Bytes()); err != nil {
		sendErr := &chat.SendError{Op: "write", Endpoint: endpoint, Err: err}
		log.Warn("failed to send message", zap.Error(sendErr))
		return sendErr
	}
	if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		sendErr := &chat.SendError{Op: "write", Endpoint: endpoint, Err: err}
		log.Warn("failed to close connection", zap.Error(sendErr))
		return sendErr
	}

	log.Debug("message sent", zap.Int("bytes", len(msg.Bytes())))
	return nil
}

func (c *Client) dial(ctx context.Context, endpoint chat.PeerEndpoint) (net.Conn, error) {
	dialCtx := ctx
	if c.connectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, c.connectTimeout)
		defer cancel()
	}

	conn, err := c.dialer.DialContext(dialCtx, "tcp", endpoint.String())
	if err == nil {
		return conn, nil
	}

	// A cancelled caller context is reported as such, not as a timeout.
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return nil, errors.Join(chat.ErrConnectTimeout, err)
	}
	return nil, err
}
