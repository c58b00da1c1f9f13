// Package server is the facade applications embed: it owns the listening
// address and forwards lifecycle and send calls to a swappable serve engine.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/cyberinferno/go-netserve/logger"
	"github.com/cyberinferno/go-netserve/session"
	"github.com/cyberinferno/go-netserve/tcpserver"
)

// ErrNoModule is returned by Start and ChangeServeModule without an engine.
var ErrNoModule = errors.New("no serve module configured")

// Config holds the facade settings.
type Config struct {
	// Name is used in log entries.
	Name string
	// Network is passed to net.Listen, e.g. "tcp" or "tcp4".
	Network string
	// Addr is the listen address, e.g. ":9000".
	Addr string
}

// DefaultConfig returns a Config listening on addr over "tcp".
func DefaultConfig(addr string) Config {
	return Config{
		Name:    "netserve",
		Network: "tcp",
		Addr:    addr,
	}
}

// Server binds a listen address to a serve engine. The engine can be
// replaced at runtime with ChangeServeModule. It is safe for concurrent use.
type Server[P any] struct {
	cfg Config
	log logger.Logger

	mu      sync.RWMutex
	module  *tcpserver.Engine[P]
	ctx     context.Context
	bound   string
	running bool
}

// New creates a stopped Server.
//
// Parameters:
//   - cfg: Listen settings
//   - module: The serve engine; may be nil until ChangeServeModule
//   - log: Logger; nil means logger.Nop()
//
// Returns:
//   - The Server
func New[P any](cfg Config, module *tcpserver.Engine[P], log logger.Logger) *Server[P] {
	if log == nil {
		log = logger.Nop()
	}

	if cfg.Network == "" {
		cfg.Network = "tcp"
	}

	return &Server[P]{
		cfg:    cfg,
		log:    log.With(logger.Field{Key: "component", Value: "server"}, logger.Field{Key: "name", Value: cfg.Name}),
		module: module,
	}
}

// Start listens on the configured address and starts the engine. A running
// server is restarted.
//
// Parameters:
//   - ctx: Parent context of the engine's loops
//
// Returns:
//   - An error if there is no engine, listening fails or the engine refuses to start
func (s *Server[P]) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.module == nil {
		s.log.Error("server has no serve module")
		return ErrNoModule
	}

	if s.running {
		if err := s.module.Stop(); err != nil {
			s.log.Warn("previous run stopped with errors", logger.Err(err))
		}
		s.running = false
	}

	return s.start(ctx, s.cfg.Addr)
}

func (s *Server[P]) start(ctx context.Context, addr string) error {
	ln, err := net.Listen(s.cfg.Network, addr)
	if err != nil {
		s.log.Error("server failed to listen", logger.Field{Key: "addr", Value: addr}, logger.Err(err))
		return fmt.Errorf("server %s failed to listen on %s: %w", s.cfg.Name, addr, err)
	}

	if err := s.module.Start(ctx, ln); err != nil {
		_ = ln.Close()
		return fmt.Errorf("server %s failed to start: %w", s.cfg.Name, err)
	}

	s.ctx = ctx
	s.bound = ln.Addr().String()
	s.running = true
	s.log.Info("server started", logger.Field{Key: "addr", Value: s.bound})

	return nil
}

// Stop stops the engine. Safe to call when not running, and from a handler.
//
// Returns:
//   - The engine's stop error, or nil
func (s *Server[P]) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	s.running = false
	err := s.module.Stop()
	s.log.Info("server stopped")

	return err
}

// ChangeServeModule swaps the engine. If the server is running, the old
// engine is stopped and the new one is started on the address the old one
// was bound to.
//
// Parameters:
//   - module: The replacement engine
//
// Returns:
//   - ErrNoModule for a nil module, or the stop/start error
func (s *Server[P]) ChangeServeModule(module *tcpserver.Engine[P]) error {
	if module == nil {
		return ErrNoModule
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		s.module = module
		return nil
	}

	var stopErr error
	if err := s.module.Stop(); err != nil {
		s.log.Warn("old serve module stopped with errors", logger.Err(err))
		stopErr = err
	}

	s.module = module
	s.running = false

	if err := s.start(s.ctx, s.bound); err != nil {
		return errors.Join(stopErr, err)
	}

	s.log.Info("serve module changed")
	return nil
}

// Module returns the current engine.
func (s *Server[P]) Module() *tcpserver.Engine[P] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.module
}

// IsRunning reports whether the engine is serving.
func (s *Server[P]) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running && s.module.IsRunning()
}

// Addr returns the bound address, or nil when stopped.
func (s *Server[P]) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.running {
		return nil
	}

	return s.module.Addr()
}

// SessionCount returns the number of sessions on the current engine.
func (s *Server[P]) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.module == nil {
		return 0
	}

	return s.module.SessionCount()
}

// Send queues data for session id without blocking.
//
// Parameters:
//   - id: Destination session id
//   - data: Payload
//
// Returns:
//   - false if the server is stopped, id has no session or the queue is full
func (s *Server[P]) Send(id uint32, data P) bool {
	module := s.runningModule()
	if module == nil {
		return false
	}

	sess, ok := module.Session(id)
	if !ok {
		s.log.Debug("send to unknown session", logger.Field{Key: "session_id", Value: id})
		return false
	}

	return module.Send(sess, data)
}

// SendAsync queues data for session id, waiting for queue space until ctx is done.
//
// Returns:
//   - false if the server is stopped, id has no session or ctx ended first
func (s *Server[P]) SendAsync(ctx context.Context, id uint32, data P) bool {
	module := s.runningModule()
	if module == nil {
		return false
	}

	sess, ok := module.Session(id)
	if !ok {
		return false
	}

	return module.SendAsync(ctx, sess, data)
}

// Broadcast queues data for every session without blocking.
//
// Returns:
//   - The number of sessions the payload was queued for
func (s *Server[P]) Broadcast(data P) int {
	module := s.runningModule()
	if module == nil {
		return 0
	}

	queued := 0
	module.RangeSessions(func(sess *session.Session) bool {
		if module.Send(sess, data) {
			queued++
		}
		return true
	})

	return queued
}

func (s *Server[P]) runningModule() *tcpserver.Engine[P] {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.running {
		return nil
	}

	return s.module
}
