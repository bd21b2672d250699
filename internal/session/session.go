// Package session owns the inbound listener, the optional observation
// bridge and the sender for one running chat endpoint.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/omochice/toy-p2p-chat/internal/chat"
	"github.com/omochice/toy-p2p-chat/internal/client/tcp"
	"github.com/omochice/toy-p2p-chat/internal/config"
	"github.com/omochice/toy-p2p-chat/internal/logging"
	"github.com/omochice/toy-p2p-chat/internal/peer"
	transport "github.com/omochice/toy-p2p-chat/internal/transport/tcp"
	"github.com/omochice/toy-p2p-chat/internal/transport/ws"
)

// Errors returned by lifecycle operations.
var (
	ErrAlreadyStarted = errors.New("session already started")
	ErrStopped        = errors.New("session stopped")
)

// Options configures a Session.
type Options struct {
	ListenAddr string
	// ObserveAddr enables the WebSocket observation bridge when non-empty.
	ObserveAddr    string
	Receiver       transport.Receiver
	DrainTimeout   time.Duration
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
}

// DefaultOptions listens on every interface at the well-known port.
func DefaultOptions() Options {
	return Options{
		ListenAddr:     ":8888",
		Receiver:       transport.DefaultReceiver(),
		DrainTimeout:   transport.DefaultDrainTimeout,
		ConnectTimeout: tcp.DefaultConnectTimeout,
		WriteTimeout:   tcp.DefaultWriteTimeout,
	}
}

// OptionsFromConfig maps loaded configuration onto session options.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		ListenAddr:  cfg.ListenAddr(),
		ObserveAddr: cfg.ObserveAddr,
		Receiver: transport.Receiver{
			ChunkSize:      cfg.ChunkSize,
			MaxMessageSize: cfg.MaxMessageSize,
			ReadTimeout:    cfg.ReadTimeout,
		},
		DrainTimeout:   cfg.DrainTimeout,
		ConnectTimeout: cfg.ConnectTimeout,
		WriteTimeout:   cfg.WriteTimeout,
	}
}

// Session wires the transport pieces to the received-message store and the
// send-outcome store.
type Session struct {
	resolver chat.Resolver
	log      *zap.Logger

	received *chat.Slot[chat.InboundMessage]
	outcomes *chat.Slot[chat.SendOutcome]

	listener *transport.Server
	observer *ws.Server
	sender   *tcp.Client

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	group   *errgroup.Group
}

// New creates a stopped Session. A nil resolver treats peer identifiers as
// host[:port] addresses.
func New(opts Options, resolver chat.Resolver, log *zap.Logger) *Session {
	if resolver == nil {
		resolver = peer.AddrResolver{}
	}
	if log == nil {
		log = zap.NewNop()
	}

	s := &Session{
		resolver: resolver,
		log:      logging.For(log, logging.ComponentSession),
		received: chat.NewSlot[chat.InboundMessage](),
		outcomes: chat.NewSlot[chat.SendOutcome](),
	}

	s.listener = transport.New(opts.ListenAddr, s.received,
		transport.WithLogger(log),
		transport.WithReceiver(opts.Receiver),
		transport.WithDrainTimeout(opts.DrainTimeout),
	)
	if opts.ObserveAddr != "" {
		s.observer = ws.New(opts.ObserveAddr, s.received, s.outcomes, ws.WithLogger(log))
	}
	s.sender = tcp.New(
		tcp.WithConnectTimeout(opts.ConnectTimeout),
		tcp.WithWriteTimeout(opts.WriteTimeout),
		tcp.WithLogger(log),
	)
	return s
}

// Start binds the listener and, if configured, the observation bridge, then
// serves both in the background. Bind failures are returned directly.
// Cancelling ctx stops the session.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	if s.started {
		return ErrAlreadyStarted
	}

	if err := s.listener.Listen(); err != nil {
		s.log.Error("failed to bind listener", zap.Error(err))
		return err
	}
	if s.observer != nil {
		if err := s.observer.Listen(); err != nil {
			s.log.Error("failed to bind observer", zap.Error(err))
			_ = s.listener.Stop()
			s.stopped = true
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(ctx)

	group.Go(s.listener.Serve)
	if s.observer != nil {
		group.Go(s.observer.Serve)
	}
	group.Go(func() error {
		<-gctx.Done()
		return s.shutdown()
	})

	s.started = true
	s.cancel = cancel
	s.group = group

	s.log.Info("session started", zap.String("listen_addr", s.listener.Addr()), zap.String("observe_addr", s.ObserveAddr()))
	return nil
}

// Stop shuts the session down and waits for the background tasks. It is
// safe to call more than once and before Start.
func (s *Session) Stop() error {
	s.mu.Lock()
	s.stopped = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	return s.Wait()
}

// Wait blocks until the background tasks exit and returns the first error.
func (s *Session) Wait() error {
	s.mu.Lock()
	group := s.group
	s.mu.Unlock()

	if group == nil {
		return nil
	}
	return group.Wait()
}

func (s *Session) shutdown() error {
	var errs []error
	if err := s.listener.Stop(); err != nil {
		errs = append(errs, err)
	}
	if s.observer != nil {
		if err := s.observer.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	s.log.Info("session stopped")
	return errors.Join(errs...)
}

// selector is implemented by resolvers that track a selected peer, such as
// *peer.Registry.
type selector interface {
	SelectedID() string
}

// Send delivers text to the peer identified by peerID and records the
// outcome. An empty peerID sends to the resolver's current selection. Blank
// text and resolve failures are recorded without any connection attempt.
func (s *Session) Send(ctx context.Context, peerID, text string) (err error) {
	if sel, ok := s.resolver.(selector); ok && peerID == "" {
		peerID = sel.SelectedID()
	}
	outcome := chat.SendOutcome{ID: uuid.New(), PeerID: peerID, Text: text}
	defer func() {
		outcome.Err = err
		outcome.At = time.Now()
		s.outcomes.Publish(outcome)
	}()

	if _, err := chat.NewOutboundMessage(text); err != nil {
		return err
	}

	endpoint, err := s.resolver.Resolve(ctx, peerID)
	if err != nil {
		s.log.Warn("failed to resolve peer", zap.String("peer_id", peerID), zap.Error(err))
		return err
	}
	outcome.Endpoint = endpoint

	return s.sender.Send(ctx, endpoint, text)
}

// Received is the store of the latest received message.
func (s *Session) Received() *chat.Slot[chat.InboundMessage] {
	return s.received
}

// Outcomes is the store of the latest send outcome.
func (s *Session) Outcomes() *chat.Slot[chat.SendOutcome] {
	return s.outcomes
}

// ListenAddr returns the bound listener address, or "" before Start.
func (s *Session) ListenAddr() string {
	return s.listener.Addr()
}

// ObserveAddr returns the bound bridge address, or "" if disabled.
func (s *Session) ObserveAddr() string {
	if s.observer == nil {
		return ""
	}
	return s.observer.Addr()
}
