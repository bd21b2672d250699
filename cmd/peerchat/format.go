package main

import (
	"fmt"
	"time"

	"github.com/omochice/toy-p2p-chat/internal/chat"
	"github.com/omochice/toy-p2p-chat/pkg/protocol"
)

func formatMessage(msg chat.InboundMessage) string {
	return fmt.Sprintf("[%s] %s: %s", msg.ReceivedAt.Format(time.TimeOnly), msg.Remote, msg.Text)
}

func formatEvent(e protocol.Event) string {
	at := e.At.Local().Format(time.TimeOnly)
	switch e.Type {
	case protocol.EventTypeReceived:
		return fmt.Sprintf("[%s] <- %s: %s", at, e.Peer, e.Text)
	case protocol.EventTypeSendSucceeded:
		return fmt.Sprintf("[%s] -> %s: %s", at, e.Peer, e.Text)
	case protocol.EventTypeSendFailed:
		return fmt.Sprintf("[%s] -> %s failed (%s): %s", at, e.Peer, e.Error, e.Text)
	default:
		return fmt.Sprintf("[%s] %s", at, e.Type)
	}
}
