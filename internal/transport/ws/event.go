package ws

import (
	"github.com/omochice/toy-p2p-chat/internal/chat"
	"github.com/omochice/toy-p2p-chat/pkg/protocol"
)

func receivedEvent(msg chat.InboundMessage) protocol.Event {
	return protocol.Event{
		Type: protocol.EventTypeReceived,
		ID:   msg.ID.String(),
		Peer: msg.Remote,
		Text: msg.Text,
		At:   msg.ReceivedAt,
	}
}

func outcomeEvent(o chat.SendOutcome) protocol.Event {
	e := protocol.Event{
		Type: protocol.EventTypeSendSucceeded,
		ID:   o.ID.String(),
		Peer: o.PeerID,
		Text: o.Text,
		At:   o.At,
	}
	if e.Peer == "" && !o.Endpoint.IsZero() {
		e.Peer = o.Endpoint.String()
	}
	if o.Err != nil {
		e.Type = protocol.EventTypeSendFailed
		e.Error = o.Err.Error()
	}
	return e
}
