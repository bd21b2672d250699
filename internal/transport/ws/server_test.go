package ws_test

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/omochice/toy-p2p-chat/internal/chat"
	wsclient "github.com/omochice/toy-p2p-chat/internal/client/ws"
	"github.com/omochice/toy-p2p-chat/internal/transport/ws"
	"github.com/omochice/toy-p2p-chat/pkg/protocol"
)

type fixture struct {
	server   *ws.Server
	received *chat.Slot[chat.InboundMessage]
	outcomes *chat.Slot[chat.SendOutcome]
}

func startServer(t *testing.T, opts ...ws.Option) fixture {
	t.Helper()
	f := fixture{
		received: chat.NewSlot[chat.InboundMessage](),
		outcomes: chat.NewSlot[chat.SendOutcome](),
	}
	f.server = ws.New("127.0.0.1:0", f.received, f.outcomes, opts...)
	require.NoError(t, f.server.Listen())

	served := make(chan error, 1)
	go func() { served <- f.server.Serve() }()
	t.Cleanup(func() {
		require.NoError(t, f.server.Stop())
		require.NoError(t, <-served)
	})
	return f
}

func connect(t *testing.T, addr string) *wsclient.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c := wsclient.New("ws://" + addr)
	require.NoError(t, c.Connect(ctx))
	t.Cleanup(c.Disconnect)
	return c
}

func nextEvent(t *testing.T, c *wsclient.Client) protocol.Event {
	t.Helper()
	select {
	case e, ok := <-c.Events():
		require.True(t, ok, "event stream closed")
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return protocol.Event{}
	}
}

func TestServer_PushesCurrentValueThenUpdates(t *testing.T) {
	req := require.New(t)
	f := startServer(t)

	first := chat.InboundMessage{ID: uuid.New(), Text: "first", Remote: "10.0.0.2:5000", ReceivedAt: time.Now()}
	f.received.Publish(first)

	c := connect(t, f.server.Addr())

	e := nextEvent(t, c)
	req.Equal(protocol.EventTypeReceived, e.Type)
	req.Equal("first", e.Text)
	req.Equal(first.ID.String(), e.ID)
	req.Equal("10.0.0.2:5000", e.Peer)

	f.received.Publish(chat.InboundMessage{ID: uuid.New(), Text: "second", ReceivedAt: time.Now()})
	e = nextEvent(t, c)
	req.Equal(protocol.EventTypeReceived, e.Type)
	req.Equal("second", e.Text)

	f.outcomes.Publish(chat.SendOutcome{ID: uuid.New(), PeerID: "peer-1", Text: "hi", At: time.Now()})
	e = nextEvent(t, c)
	req.Equal(protocol.EventTypeSendSucceeded, e.Type)
	req.Equal("peer-1", e.Peer)
	req.Empty(e.Error)

	f.outcomes.Publish(chat.SendOutcome{
		ID:       uuid.New(),
		Endpoint: chat.PeerEndpoint{Host: "192.168.49.1", Port: 8888},
		Text:     "hi",
		Err:      chat.ErrConnectTimeout,
		At:       time.Now(),
	})
	e = nextEvent(t, c)
	req.Equal(protocol.EventTypeSendFailed, e.Type)
	req.Equal("192.168.49.1:8888", e.Peer)
	req.Equal(chat.ErrConnectTimeout.Error(), e.Error)
}

func TestServer_MultipleObservers(t *testing.T) {
	f := startServer(t)
	a := connect(t, f.server.Addr())
	b := connect(t, f.server.Addr())

	require.Eventually(t, func() bool {
		return f.received.SubscriberCount() == 2
	}, 2*time.Second, 10*time.Millisecond)

	f.received.Publish(chat.InboundMessage{ID: uuid.New(), Text: "broadcast"})
	require.Equal(t, "broadcast", nextEvent(t, a).Text)
	require.Equal(t, "broadcast", nextEvent(t, b).Text)
}

func TestServer_ObserverDisconnect(t *testing.T) {
	f := startServer(t)
	c := connect(t, f.server.Addr())

	require.Eventually(t, func() bool { return f.server.Observers() == 1 }, 2*time.Second, 10*time.Millisecond)

	c.Disconnect()

	require.Eventually(t, func() bool {
		return f.server.Observers() == 0 && f.received.SubscriberCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServer_StopClosesObservers(t *testing.T) {
	received := chat.NewSlot[chat.InboundMessage]()
	s := ws.New("127.0.0.1:0", received, nil)
	require.NoError(t, s.Listen())
	served := make(chan error, 1)
	go func() { served <- s.Serve() }()

	c := connect(t, s.Addr())
	require.Eventually(t, func() bool { return s.Observers() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Stop())
	require.NoError(t, <-served)
	require.NoError(t, s.Stop())

	select {
	case _, ok := <-c.Events():
		require.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("event stream not closed after Stop")
	}
}

func TestServer_StopBeforeListen(t *testing.T) {
	s := ws.New("127.0.0.1:0", nil, nil)
	require.NoError(t, s.Stop())
	require.ErrorIs(t, s.Listen(), net.ErrClosed)
}

func TestServer_BindError(t *testing.T) {
	f := startServer(t)

	other := ws.New(f.server.Addr(), nil, nil)
	err := other.Listen()

	var bindErr *chat.BindError
	require.True(t, errors.As(err, &bindErr))
	require.Equal(t, f.server.Addr(), bindErr.Addr)
}

func TestServer_RejectsPlainTCP(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	f := startServer(t, ws.WithLogger(zap.New(core)), ws.WithHandshakeTimeout(time.Second))

	conn, err := net.Dial("tcp", f.server.Addr())
	require.NoError(t, err)
	_, err = conn.Write([]byte("hello\r\n\r\n"))
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return logs.FilterMessage("websocket upgrade failed").Len() == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.Zero(t, f.server.Observers())
}
