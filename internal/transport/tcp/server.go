package tcp

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/omochice/toy-p2p-chat/internal/chat"
	"github.com/omochice/toy-p2p-chat/internal/logging"
)

// DefaultDrainTimeout is how long Stop waits for in-flight receivers before
// closing their connections.
const DefaultDrainTimeout = 2 * time.Second

const maxAcceptDelay = time.Second

// ErrAlreadyListening is returned when Listen is called on a bound Server.
var ErrAlreadyListening = errors.New("listener already bound")

// Sink receives every successfully decoded message.
type Sink interface {
	Publish(msg chat.InboundMessage)
}

// Server accepts inbound connections and runs one Receiver per connection.
type Server struct {
	address      string
	sink         Sink
	receiver     Receiver
	log          *zap.Logger
	drainTimeout time.Duration

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
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

// WithReceiver sets the per-connection read behaviour.
func WithReceiver(r Receiver) Option {
	return func(s *Server) {
		s.receiver = r
	}
}

// WithDrainTimeout sets how long Stop lets in-flight receivers finish.
// Zero closes them immediately.
func WithDrainTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.drainTimeout = d
	}
}

// New creates a TCP server that publishes received messages to sink.
func New(address string, sink Sink, opts ...Option) *Server {
	s := &Server{
		address:      address,
		sink:         sink,
		receiver:     DefaultReceiver(),
		log:          zap.NewNop(),
		drainTimeout: DefaultDrainTimeout,
		conns:        make(map[net.Conn]struct{}),
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logging.For(s.log, logging.ComponentListener)
	return s
}

// Listen binds the server address. A bind failure is returned as a
// *chat.BindError and is not retried.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closing {
		return net.ErrClosed
	}
	if s.listener != nil {
		return ErrAlreadyListening
	}

	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return &chat.BindError{Addr: s.address, Err: err}
	}
	s.listener = listener

	s.log.Info("listener bound", zap.String("addr", listener.Addr().String()))
	return nil
}

// Start binds the address and runs the accept loop until Stop is called.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Serve runs the accept loop on a bound listener. It returns nil after Stop,
// or an error if the listening socket is lost on its own.
func (s *Server) Serve() error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil
	}
	if s.listener == nil {
		s.mu.Unlock()
		return errors.New("listener not bound")
	}
	if s.serving {
		s.mu.Unlock()
		return errors.New("listener already serving")
	}
	s.serving = true
	listener := s.listener
	s.mu.Unlock()

	defer close(s.done)

	var delay time.Duration
	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.isClosing() {
				s.log.Info("listener stopped")
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				s.log.Error("listening socket closed unexpectedly", zap.Error(err))
				return fmt.Errorf("accept loop terminated: %w", err)
			}

			if delay == 0 {
				delay = 5 * time.Millisecond
			} else {
				delay *= 2
			}
			if delay > maxAcceptDelay {
				delay = maxAcceptDelay
			}
			s.log.Warn("accept failed", zap.Error(&chat.AcceptError{Err: err}), zap.Duration("retry_in", delay))

			select {
			case <-time.After(delay):
			case <-s.quit:
				s.log.Info("listener stopped")
				return nil
			}
			continue
		}
		delay = 0

		if !s.track(conn) {
			conn.Close()
			continue
		}
		go s.handle(conn)
	}
}

// Stop closes the listener, which unblocks a pending Accept, waits for the
// accept loop to exit and lets in-flight receivers drain. Connections still
// open after the drain timeout are closed. Stop is idempotent.
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
	s.mu.Unlock()

	var err error
	if listener != nil {
		if cerr := listener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = fmt.Errorf("failed to close listener: %w", cerr)
		}
	}
	if serving {
		<-s.done
	}

	s.drain()
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

// ActiveConnections returns the number of connections being received.
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// track registers conn unless the server is shutting down.
func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *Server) handle(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.untrack(conn)
		conn.Close()
	}()

	log := s.log.With(zap.String("remote_addr", remoteAddr(conn)))
	log.Debug("accepted connection")

	msg, err := s.receiver.Receive(conn)
	if err != nil {
		if s.isClosing() {
			log.Debug("receive aborted by shutdown", zap.Error(err))
		} else {
			log.Warn("receive failed, discarding message", zap.Error(err))
		}
		return
	}
	// A connection closed without payload is an empty message and is
	// published like any other.
	s.sink.Publish(msg)
	log.Info("message received", zap.String("id", msg.ID.String()), zap.Int("bytes", len(msg.Text)))
}

// drain waits for receivers, closing their connections once the drain
// timeout expires.
func (s *Server) drain() {
	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()

	if s.drainTimeout > 0 {
		select {
		case <-finished:
			return
		case <-time.After(s.drainTimeout):
		}
	}

	s.mu.Lock()
	n := len(s.conns)
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	if n > 0 {
		s.log.Warn("closed in-flight connections on shutdown", zap.Int("count", n))
	}

	<-finished
}
