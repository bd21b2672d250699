package chat

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// OutboundMessage is a non-blank text payload for a single send.
type OutboundMessage struct {
	text string
}

// NewOutboundMessage validates text. Whitespace-only text is rejected.
func NewOutboundMessage(text string) (OutboundMessage, error) {
	if strings.TrimSpace(text) == "" {
		return OutboundMessage{}, ErrEmptyMessage
	}
	return OutboundMessage{text: text}, nil
}

// Text returns the payload as given by the user.
func (m OutboundMessage) Text() string {
	return m.text
}

// Bytes returns the raw wire payload.
func (m OutboundMessage) Bytes() []byte {
	return []byte(m.text)
}

// InboundMessage is the decoded content of one accepted connection.
type InboundMessage struct {
	ID         uuid.UUID
	Text       string
	Remote     string
	ReceivedAt time.Time
}

// SendOutcome records the result of one send attempt.
type SendOutcome struct {
	ID       uuid.UUID
	PeerID   string
	Endpoint PeerEndpoint
	Text     string
	Err      error
	At       time.Time
}

// OK reports whether the send succeeded.
func (o SendOutcome) OK() bool {
	return o.Err == nil
}
