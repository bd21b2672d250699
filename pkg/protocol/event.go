// Package protocol defines the events streamed to observers of a chat
// session. The peer-to-peer message wire format is raw text and has no
// representation here.
package protocol

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// EventType represents the type of event
type EventType int

const (
	EventTypeReceived EventType = iota
	EventTypeSendSucceeded
	EventTypeSendFailed
)

// String returns the string representation of EventType
func (et EventType) String() string {
	switch et {
	case EventTypeReceived:
		return "received"
	case EventTypeSendSucceeded:
		return "send_succeeded"
	case EventTypeSendFailed:
		return "send_failed"
	default:
		return "unknown"
	}
}

func parseEventType(s string) (EventType, error) {
	switch s {
	case "received":
		return EventTypeReceived, nil
	case "send_succeeded":
		return EventTypeSendSucceeded, nil
	case "send_failed":
		return EventTypeSendFailed, nil
	default:
		return 0, fmt.Errorf("unknown event type %q", s)
	}
}

// Event is a change of session state pushed to observers.
type Event struct {
	Type EventType
	ID   string
	// Peer is the remote address for received messages and the selected
	// peer identifier for sends.
	Peer  string
	Text  string
	Error string
	At    time.Time
}

// Encode encodes the event into bytes using protobuf
func (e *Event) Encode() ([]byte, error) {
	pbEvent, err := e.toProto()
	if err != nil {
		return nil, fmt.Errorf("failed to encode event: %w", err)
	}
	data, err := proto.Marshal(pbEvent)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event: %w", err)
	}
	return data, nil
}

// Decode decodes bytes into an event using protobuf
func (e *Event) Decode(data []byte) error {
	pbEvent := &structpb.Struct{}
	if err := proto.Unmarshal(data, pbEvent); err != nil {
		return fmt.Errorf("failed to decode event: %w", err)
	}
	if err := e.fromProto(pbEvent); err != nil {
		return fmt.Errorf("failed to decode event: %w", err)
	}
	return nil
}

// toProto converts the Event to a protobuf Struct. Empty optional fields
// are omitted.
func (e *Event) toProto() (*structpb.Struct, error) {
	fields := map[string]any{
		"type": e.Type.String(),
		"id":   e.ID,
		"at":   e.At.UTC().Format(time.RFC3339Nano),
	}
	if e.Peer != "" {
		fields["peer"] = e.Peer
	}
	if e.Text != "" {
		fields["text"] = e.Text
	}
	if e.Error != "" {
		fields["error"] = e.Error
	}
	return structpb.NewStruct(fields)
}

// fromProto populates the Event from a protobuf Struct.
func (e *Event) fromProto(pbEvent *structpb.Struct) error {
	fields := pbEvent.GetFields()

	eventType, err := parseEventType(fields["type"].GetStringValue())
	if err != nil {
		return err
	}

	var at time.Time
	if raw := fields["at"].GetStringValue(); raw != "" {
		at, err = time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return fmt.Errorf("invalid timestamp: %w", err)
		}
	}

	*e = Event{
		Type:  eventType,
		ID:    fields["id"].GetStringValue(),
		Peer:  fields["peer"].GetStringValue(),
		Text:  fields["text"].GetStringValue(),
		Error: fields["error"].GetStringValue(),
		At:    at,
	}
	return nil
}
