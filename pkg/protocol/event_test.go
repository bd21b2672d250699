package protocol_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/omochice/toy-p2p-chat/pkg/protocol"
)

func TestEventType_String(t *testing.T) {
	tests := []struct {
		et   protocol.EventType
		want string
	}{
		{protocol.EventTypeReceived, "received"},
		{protocol.EventTypeSendSucceeded, "send_succeeded"},
		{protocol.EventTypeSendFailed, "send_failed"},
		{protocol.EventType(42), "unknown"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, tt.et.String())
	}
}

func TestEvent_EncodeDecode(t *testing.T) {
	at := time.Date(2026, 10, 14, 9, 30, 0, 123456789, time.UTC)
	tests := []struct {
		name  string
		event protocol.Event
	}{
		{
			name: "received message",
			event: protocol.Event{
				Type: protocol.EventTypeReceived,
				ID:   "5b0d8f6e-1d0a-4b8e-9d1b-2f4f3c2a1e00",
				Peer: "192.168.49.1:40312",
				Text: "hola, ¿qué tal?",
				At:   at,
			},
		},
		{
			name: "failed send",
			event: protocol.Event{
				Type:  protocol.EventTypeSendFailed,
				ID:    "b6c1a9de-0000-4000-8000-000000000001",
				Peer:  "aa:bb:cc:dd:ee:ff",
				Text:  "hello",
				Error: "connect timeout",
				At:    at,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			data, err := tt.event.Encode()
			req.NoError(err)
			req.NotEmpty(data)

			var got protocol.Event
			req.NoError(got.Decode(data))
			req.Equal(tt.event, got)
		})
	}
}

func TestEvent_Decode_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data func(t *testing.T) []byte
	}{
		{
			name: "not protobuf",
			data: func(t *testing.T) []byte { return []byte{0xff, 0xff, 0xff} },
		},
		{
			name: "unknown type",
			data: func(t *testing.T) []byte {
				s, err := structpb.NewStruct(map[string]any{"type": "typing"})
				require.NoError(t, err)
				b, err := proto.Marshal(s)
				require.NoError(t, err)
				return b
			},
		},
		{
			name: "bad timestamp",
			data: func(t *testing.T) []byte {
				s, err := structpb.NewStruct(map[string]any{"type": "received", "at": "yesterday"})
				require.NoError(t, err)
				b, err := proto.Marshal(s)
				require.NoError(t, err)
				return b
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var e protocol.Event
			require.Error(t, e.Decode(tt.data(t)))
		})
	}
}
