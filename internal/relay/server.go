package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/codefionn/bfrelay/internal/config"
	"github.com/codefionn/bfrelay/internal/consts"
	"github.com/codefionn/bfrelay/internal/logger"
	"github.com/codefionn/bfrelay/internal/transform"
	"golang.org/x/net/netutil"
)

var (
	// ErrServerRunning is returned by Serve when the server is already serving.
	ErrServerRunning = errors.New("server is already running")
	// ErrServerNotRunning is returned by Attach outside of Serve.
	ErrServerNotRunning = errors.New("server is not running")
)

// Server accepts TCP connections and runs one handler per session
type Server struct {
	cfg        *config.Config
	codec      *transform.Codec
	registry   *Registry
	dispatcher *Dispatcher
	log        *logger.Logger

	mu       sync.Mutex
	listener net.Listener
	running  bool
	// set while Serve accepts sessions; nil once shutdown has begun
	serveCtx context.Context

	// handlers in flight; Serve waits for them before returning
	wg sync.WaitGroup
}

// ServerOption configures a Server
type ServerOption func(*serverOptions)

type serverOptions struct {
	registryOpts []RegistryOption
}

// WithSessionObserver forwards join and leave events to o.
func WithSessionObserver(o Observer) ServerOption {
	return func(so *serverOptions) {
		so.registryOpts = append(so.registryOpts, WithObserver(o))
	}
}

// NewServer creates a new relay server
func NewServer(cfg *config.Config, opts ...ServerOption) (*Server, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var so serverOptions
	for _, opt := range opts {
		opt(&so)
	}

	codec := transform.NewCodec(cfg.TransformStepBudget)
	registryOpts := append([]RegistryOption{WithSendTimeout(cfg.SendTimeout())}, so.registryOpts...)
	registry := NewRegistry(codec, registryOpts...)

	return &Server{
		cfg:        cfg,
		codec:      codec,
		registry:   registry,
		dispatcher: NewDispatcher(registry, cfg.BFStepBudget),
		log:        logger.Global().WithPrefix("relay"),
	}, nil
}

// Listen binds the configured address. Serve calls it when needed; calling
// it first lets callers learn the bound address (useful with port 0).
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.cfg.Address())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Address(), err)
	}
	if s.cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConnections)
	}
	s.listener = ln
	return nil
}

// Addr returns the bound listener address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until ctx is cancelled. On return the listener
// is closed, every session has been closed and every handler has exited.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrServerRunning
	}
	s.running = true
	ln := s.listener
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.serveCtx = ctx
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.log.Error("Error closing listener: %v", err)
		}
	}()

	s.log.Info("Relay listening on %s (max connections: %d)", ln.Addr(), s.cfg.MaxConnections)
	err := s.acceptLoop(ctx, ln)

	cancel()
	// after this no Attach can add to wg
	s.mu.Lock()
	s.serveCtx = nil
	s.mu.Unlock()

	s.registry.CloseAll("server shutting down")
	s.wg.Wait()

	s.mu.Lock()
	s.running = false
	s.listener = nil
	s.mu.Unlock()

	s.log.Info("Relay stopped")
	return err
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	backoff := consts.AcceptBackoffMin
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}

			s.log.Error("Error accepting connection: %v", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, consts.AcceptBackoffMax)
			continue
		}
		backoff = consts.AcceptBackoffMin

		s.admit(ctx, conn)
	}
}

// Attach admits a connection accepted by another transport, such as a
// websocket gateway. The connection must deliver one message per Read.
// Attach returns once the session is registered; the server owns conn from
// then on, and closes it itself when not running.
func (s *Server) Attach(conn net.Conn) error {
	s.mu.Lock()
	ctx := s.serveCtx
	if ctx == nil {
		s.mu.Unlock()
		conn.Close()
		return ErrServerNotRunning
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	s.admit(ctx, conn)
	return nil
}

// admit registers conn, greets it and starts its handler.
func (s *Server) admit(ctx context.Context, conn net.Conn) {
	session := s.registry.Register(conn, conn.RemoteAddr())

	if !s.registry.SendTo(session.ID, fmt.Sprintf("Welcome to the relay! You are %s", session.ID)) {
		return
	}
	s.registry.BroadcastSystem(fmt.Sprintf("%s joined the chat", session.ID), session.ID)

	h := &handler{
		session:     session,
		registry:    s.registry,
		dispatcher:  s.dispatcher,
		codec:       s.codec,
		readTimeout: s.cfg.ReadTimeout(),
		log:         s.log.WithPrefix(session.ID.String()),
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		h.run(ctx)
	}()
}

// Running reports whether Serve is accepting connections.
func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Registry returns the session registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// SessionCount returns the number of connected sessions.
func (s *Server) SessionCount() int {
	return s.registry.Len()
}
