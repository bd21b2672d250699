// Package tcp provides the inbound side of the message transport: a listener
// that accepts one connection per message and a receiver that reads it.
package tcp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/encoding/unicode"

	"github.com/omochice/toy-p2p-chat/internal/chat"
)

// Receiver defaults.
const (
	DefaultChunkSize      = 1024
	DefaultMaxMessageSize = 1024 * 1024
	DefaultReadTimeout    = 30 * time.Second
)

// Receiver reads a whole message from one connection. The sender signals the
// end of the message by closing the connection, so everything up to EOF is
// the payload.
type Receiver struct {
	// ChunkSize is the size of each Read. Zero means DefaultChunkSize.
	ChunkSize int
	// MaxMessageSize caps the accumulated payload. Zero means DefaultMaxMessageSize.
	MaxMessageSize int
	// ReadTimeout is the idle deadline applied before each Read. Zero disables it.
	ReadTimeout time.Duration
}

// DefaultReceiver returns a Receiver with the default limits.
func DefaultReceiver() Receiver {
	return Receiver{
		ChunkSize:      DefaultChunkSize,
		MaxMessageSize: DefaultMaxMessageSize,
		ReadTimeout:    DefaultReadTimeout,
	}
}

// Receive reads conn until EOF and decodes the bytes as UTF-8.
// Any read failure discards what was read so far and returns a *chat.ReceiveError.
// Receive does not close conn.
func (r Receiver) Receive(conn net.Conn) (chat.InboundMessage, error) {
	remote := remoteAddr(conn)

	chunkSize := r.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	maxSize := r.MaxMessageSize
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}

	var acc bytes.Buffer
	chunk := make([]byte, chunkSize)
	for {
		if r.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(r.ReadTimeout))
		}

		n, err := conn.Read(chunk)
		if n > 0 {
			if acc.Len()+n > maxSize {
				return chat.InboundMessage{}, &chat.ReceiveError{Remote: remote, Err: chat.ErrMessageTooLarge}
			}
			acc.Write(chunk[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return chat.InboundMessage{}, &chat.ReceiveError{Remote: remote, Err: err}
		}
	}

	text, err := decodeText(acc.Bytes())
	if err != nil {
		return chat.InboundMessage{}, &chat.ReceiveError{Remote: remote, Err: err}
	}

	return chat.InboundMessage{
		ID:         uuid.New(),
		Text:       text,
		Remote:     remote,
		ReceivedAt: time.Now(),
	}, nil
}

// decodeText decodes the complete payload at once so multi-byte characters
// are never split at a chunk boundary. Ill-formed sequences become U+FFFD.
func decodeText(data []byte) (string, error) {
	decoded, err := unicode.UTF8.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("failed to decode message: %w", err)
	}
	return string(decoded), nil
}

func remoteAddr(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
