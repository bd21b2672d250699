// Package ws streams session events to observers over WebSocket.
package ws

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/omochice/toy-p2p-chat/pkg/protocol"
)

// Conn is an upgraded observer connection. Writes are serialized so that
// event frames and control replies never interleave.
type Conn struct {
	conn         net.Conn
	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool
}

// NewConn wraps an upgraded connection.
func NewConn(conn net.Conn, writeTimeout time.Duration) *Conn {
	return &Conn{conn: conn, writeTimeout: writeTimeout}
}

// RemoteAddr returns the observer address.
func (c *Conn) RemoteAddr() string {
	if addr := c.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// WriteEvent sends one event as a binary frame.
func (c *Conn) WriteEvent(e protocol.Event) error {
	data, err := e.Encode()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return net.ErrClosed
	}
	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	return wsutil.WriteServerBinary(c.conn, data)
}

// ReadUntilClose consumes client frames, answering pings, until the
// observer closes the connection or the socket fails. A close handshake
// returns nil.
func (c *Conn) ReadUntilClose() error {
	control := wsutil.ControlFrameHandler(lockedWriter{c}, ws.StateServerSide)
	rd := &wsutil.Reader{
		Source:         c.conn,
		State:          ws.StateServerSide,
		CheckUTF8:      true,
		OnIntermediate: control,
	}

	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			return err
		}
		if hdr.OpCode.IsControl() {
			if err := control(hdr, rd); err != nil {
				var closed wsutil.ClosedError
				if errors.As(err, &closed) {
					return nil
				}
				return err
			}
			continue
		}
		// Observers have nothing to say; data frames are dropped.
		if err := rd.Discard(); err != nil {
			return err
		}
	}
}

// Close sends a close frame and closes the socket. It is safe to call more
// than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	_ = wsutil.WriteServerMessage(c.conn, ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
	return c.conn.Close()
}

type lockedWriter struct {
	c *Conn
}

func (w lockedWriter) Write(p []byte) (int, error) {
	w.c.mu.Lock()
	defer w.c.mu.Unlock()
	if w.c.closed {
		return 0, net.ErrClosed
	}
	return w.c.conn.Write(p)
}
