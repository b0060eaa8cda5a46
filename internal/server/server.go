package server

import (
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/jzx17/gopool/pkg/types"
	"golang.org/x/net/netutil"
)

// Server accepts connections and submits one task per connection to a pool
type Server struct {
	pool     types.WorkerPool
	handler  *Handler
	maxConns int
	logger   *slog.Logger
	clock    quartz.Clock

	mu       sync.Mutex
	listener net.Listener
	closed   bool
	done     chan struct{}
}

// Accept error backoff bounds
const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// New creates a server. maxConns > 0 caps connections that are accepted
// but not yet finished.
func New(pool types.WorkerPool, handler *Handler, maxConns int, logger *slog.Logger) *Server {
	return NewWithClock(pool, handler, maxConns, logger, quartz.NewReal())
}

// NewWithClock creates a server whose accept backoff runs on clock
func NewWithClock(pool types.WorkerPool, handler *Handler, maxConns int, logger *slog.Logger, clock quartz.Clock) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Server{
		pool:     pool,
		handler:  handler,
		maxConns: maxConns,
		logger:   logger,
		clock:    clock,
		done:     make(chan struct{}),
	}
}

// Serve accepts on ln until Close is called or the pool stops accepting tasks
func (s *Server) Serve(ln net.Listener) error {
	if s.maxConns > 0 {
		ln = netutil.LimitListener(ln, s.maxConns)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return nil
	}
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("listening", "addr", ln.Addr().String(), "max_connections", s.maxConns)

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || s.isClosed() {
				return nil
			}
			// accept errors are not fatal; back off and keep serving
			backoff = nextBackoff(backoff)
			s.logger.Warn("accept failed", "error", err, "retry_in", backoff)
			if !s.wait(backoff) {
				return nil
			}
			continue
		}
		backoff = 0

		if err := s.pool.Execute(s.handler.Task(conn)); err != nil {
			conn.Close()
			if errors.Is(err, types.ErrPoolClosed) {
				s.logger.Info("pool closed, stopping accept loop")
				return nil
			}
			s.logger.Error("failed to submit connection", "error", err)
		}
	}
}

// Close stops the accept loop. Connections already submitted keep running.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// wait blocks for d on the server clock; false means the server was closed
func (s *Server) wait(d time.Duration) bool {
	timer := s.clock.NewTimer(d, "server", "backoff")
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-s.done:
		return false
	}
}

// nextBackoff doubles prev, starting at minAcceptBackoff and capped at maxAcceptBackoff
func nextBackoff(prev time.Duration) time.Duration {
	if prev <= 0 {
		return minAcceptBackoff
	}
	if next := prev * 2; next < maxAcceptBackoff {
		return next
	}
	return maxAcceptBackoff
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
