package ws

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/omochice/toy-p2p-chat/internal/chat"
	"github.com/omochice/toy-p2p-chat/internal/logging"
)

const (
	// DefaultHandshakeTimeout bounds the HTTP upgrade of a new observer.
	DefaultHandshakeTimeout = 5 * time.Second
	// DefaultWriteTimeout bounds a single event frame write.
	DefaultWriteTimeout = 5 * time.Second
)

// Server upgrades observer connections and pushes the received-message and
// send-outcome slots to each of them. On connect an observer gets the
// current value of each slot, then every later change.
type Server struct {
	address          string
	received         *chat.Slot[chat.InboundMessage]
	outcomes         *chat.Slot[chat.SendOutcome]
	log              *zap.Logger
	handshakeTimeout time.Duration
	writeTimeout     time.Duration

	mu       sync.Mutex
	listener net.Listener
	conns    map[*Conn]struct{}
	closing  bool
	serving  bool
	quit     chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Server) {
		s.log = log
	}
}

// WithHandshakeTimeout bounds the upgrade handshake.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.handshakeTimeout = d
	}
}

// WithWriteTimeout bounds each event write. Zero disables the deadline.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.writeTimeout = d
	}
}

// New creates an observation server for the given slots. Either slot may be
// nil.
func New(address string, received *chat.Slot[chat.InboundMessage], outcomes *chat.Slot[chat.SendOutcome], opts ...Option) *Server {
	s := &Server{
		address:          address,
		received:         received,
		outcomes:         outcomes,
		log:              zap.NewNop(),
		handshakeTimeout: DefaultHandshakeTimeout,
		writeTimeout:     DefaultWriteTimeout,
		conns:            make(map[*Conn]struct{}),
		quit:             make(chan struct{}),
		done:             make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logging.For(s.log, logging.ComponentObserver)
	return s
}

// Listen binds the server address.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closing {
		return net.ErrClosed
	}
	if s.listener != nil {
		return errors.New("observer already bound")
	}

	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return &chat.BindError{Addr: s.address, Err: err}
	}
	s.listener = listener

	s.log.Info("observer bound", zap.String("addr", listener.Addr().String()))
	return nil
}

// Start binds the address and serves observers until Stop is called.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Serve accepts observers on a bound listener. It returns nil after Stop.
func (s *Server) Serve() error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil
	}
	if s.listener == nil || s.serving {
		s.mu.Unlock()
		return errors.New("observer not bound or already serving")
	}
	s.serving = true
	listener := s.listener
	s.mu.Unlock()

	defer close(s.done)

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				s.log.Error("observer socket closed unexpectedly", zap.Error(err))
				return fmt.Errorf("observer accept loop terminated: %w", err)
			}
			s.log.Warn("observer accept failed", zap.Error(&chat.AcceptError{Err: err}))
			select {
			case <-time.After(10 * time.Millisecond):
			case <-s.quit:
				return nil
			}
			continue
		}

		s.wg.Add(1)
		go s.handle(conn)
	}
}

// Stop closes the listener and every observer connection, then waits for
// their goroutines. Stop is idempotent.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	close(s.quit)
	listener := s.listener
	serving := s.serving
	conns := lo.Keys(s.conns)
	s.mu.Unlock()

	var err error
	if listener != nil {
		if cerr := listener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = fmt.Errorf("failed to close observer listener: %w", cerr)
		}
	}
	if serving {
		<-s.done
	}

	lo.ForEach(conns, func(c *Conn, _ int) {
		_ = c.Close()
	})
	s.wg.Wait()
	return err
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// Observers returns the number of connected observers.
func (s *Server) Observers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) track(c *Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c *Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

func (s *Server) handle(raw net.Conn) {
	defer s.wg.Done()

	log := s.log.With(zap.String("remote_addr", raw.RemoteAddr().String()))

	if s.handshakeTimeout > 0 {
		_ = raw.SetDeadline(time.Now().Add(s.handshakeTimeout))
	}
	if _, err := ws.Upgrade(raw); err != nil {
		log.Warn("websocket upgrade failed", zap.Error(err))
		raw.Close()
		return
	}
	_ = raw.SetDeadline(time.Time{})

	c := NewConn(raw, s.writeTimeout)
	if !s.track(c) {
		c.Close()
		return
	}
	log.Info("observer connected")

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		if err := c.ReadUntilClose(); err != nil {
			log.Debug("observer read ended", zap.Error(err))
		}
	}()
	defer func() {
		s.untrack(c)
		c.Close()
		<-gone
	}()

	received, cancelReceived := subscribe(s.received)
	defer cancelReceived()
	outcomes, cancelOutcomes := subscribe(s.outcomes)
	defer cancelOutcomes()

	for {
		var err error
		select {
		case msg, ok := <-received:
			if !ok {
				received = nil
				continue
			}
			err = c.WriteEvent(receivedEvent(msg))
		case o, ok := <-outcomes:
			if !ok {
				outcomes = nil
				continue
			}
			err = c.WriteEvent(outcomeEvent(o))
		case <-gone:
			log.Info("observer disconnected")
			return
		case <-s.quit:
			return
		}
		if err != nil {
			log.Warn("failed to push event to observer", zap.Error(err))
			return
		}
	}
}

// subscribe tolerates a nil slot by returning a channel that never fires.
func subscribe[T any](slot *chat.Slot[T]) (<-chan T, func()) {
	if slot == nil {
		return nil, func() {}
	}
	return slot.Subscribe()
}
