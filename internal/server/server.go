// Package server accepts TCP connections, hands each to a new
// internal/session.Session, and reaps sessions whose connection was
// lost — the three server-wide registries (sessions by id, users by
// numeric id, rooms by RoomId) plus the lost-connection channel
// described in spec.md §4.6, grounded in shape on the teacher's
// internal/server/server.go (functional options, Serve/acceptOnce/
// Shutdown, readiness and error channels) and in reaper semantics on
// original_source/phira-mp-server/src/server.rs's ServerState/lost_con_tx.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/noteflow/mp-server/internal/hub"
	"github.com/noteflow/mp-server/internal/logging"
	"github.com/noteflow/mp-server/internal/metrics"
	"github.com/noteflow/mp-server/internal/room"
	"github.com/noteflow/mp-server/internal/session"
	"github.com/noteflow/mp-server/internal/wire"
)

// Server owns the TCP listener, the three registries, and the
// lost-connection reaper.
type Server struct {
	mu   sync.RWMutex
	addr string

	Sessions *hub.Registry[string, *session.Session]
	regs     session.Registries
	identity session.Identity

	maxSessions int

	readyOnce sync.Once
	readyCh   chan struct{}
	lastErrMu sync.Mutex
	lastErr   error
	errCh     chan error

	listener net.Listener

	lostConn     chan string
	reaperCancel context.CancelFunc
	reaperDone   chan struct{}
	logger       *slog.Logger

	totalAccepted    atomic.Uint64
	totalRejectedMax atomic.Uint64
}

const defaultLostConnBuffer = 16

type ServerOption func(*Server)

// NewServer builds a Server with its registries wired, grounded on
// original_source/server.rs's Server::from(TcpListener) constructor
// (sessions/users/rooms maps + lost_con_tx spawned eagerly).
func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		Sessions:   hub.New[string, *session.Session](),
		readyCh:    make(chan struct{}),
		errCh:      make(chan error, 1),
		lostConn:   make(chan string, defaultLostConnBuffer),
		reaperDone: make(chan struct{}),
		logger:     logging.L(),
	}
	s.regs = session.Registries{
		Users: hub.New[int32, *room.User](),
		Rooms: hub.New[wire.RoomID, *room.Room](),
	}
	for _, o := range opts {
		o(s)
	}
	if s.addr == "" {
		s.addr = ":0"
	}
	reaperCtx, cancel := context.WithCancel(context.Background())
	s.reaperCancel = cancel
	go s.reapLostConnections(reaperCtx)
	return s
}

func WithListenAddr(a string) ServerOption { return func(s *Server) { s.addr = a } }

func WithIdentity(i session.Identity) ServerOption {
	return func(s *Server) { s.identity = i }
}

func WithMonitorAllowed(fn func(userID int32) bool) ServerOption {
	return func(s *Server) { s.regs.MonitorAllowed = fn }
}

func WithMaxSessions(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.maxSessions = n
		}
	}
}

func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func (s *Server) Addr() string           { s.mu.RLock(); defer s.mu.RUnlock(); return s.addr }
func (s *Server) setAddr(a string)       { s.mu.Lock(); s.addr = a; s.mu.Unlock() }
func (s *Server) SetListenAddr(a string) { s.setAddr(a) }
func (s *Server) Ready() <-chan struct{} { return s.readyCh }
func (s *Server) Errors() <-chan error   { return s.errCh }

func (s *Server) setError(err error) {
	if err == nil {
		return
	}
	s.lastErrMu.Lock()
	s.lastErr = err
	s.lastErrMu.Unlock()
	select {
	case s.errCh <- err:
	default:
	}
}

func (s *Server) LastError() error {
	s.lastErrMu.Lock()
	defer s.lastErrMu.Unlock()
	return s.lastErr
}

// reapLostConnections consumes the channel every Session is handed at
// construction; each reported id is a session whose underlying
// connection is gone for some reason (watchdog timeout, panic, remote
// close). Mirrors the Rust reaper's guard: only dangle the user if its
// currently-attached session is still this one — a fresh reconnect may
// have already replaced it by the time the report is processed.
//
// Shutdown signals this loop via ctx rather than closing s.lostConn:
// a Session's own reportLost can still be mid-send on that channel when
// Shutdown runs, and closing a channel a sender may write to next
// panics.
func (s *Server) reapLostConnections(ctx context.Context) {
	defer close(s.reaperDone)
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-s.lostConn:
			s.logger.Warn("lost_connection", "session", id)
			sess, ok := s.Sessions.Get(id)
			if !ok {
				continue
			}
			s.Sessions.Remove(id)
			metrics.SessionsActive.Dec()
			_ = sess.Close()

			u := sess.User()
			if u == nil {
				continue
			}
			if u.Session() != room.Sender(sess) {
				s.logger.Info("lost_connection_superseded", "session", id, "user", u.ID)
				continue
			}
			session.Dangle(ctx, s.regs, u)
		}
	}
}

// Serve accepts connections until ctx is cancelled or a fatal listener
// error occurs.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	addr := s.addr
	if addr == "" {
		addr = ":0"
	}
	s.mu.Unlock()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		wrap := fmt.Errorf("%w: %v", ErrListen, err)
		metrics.IncError(mapErrToMetric(wrap))
		s.setError(wrap)
		return wrap
	}
	s.setAddr(ln.Addr().String())
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.readyCh) })
	s.logger.Info("tcp_listen", "addr", s.Addr())
	s.logger.Info("ready")
	go func() { <-ctx.Done(); _ = ln.Close() }()
	for {
		if err := s.acceptOnce(ctx, ln); err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// acceptOnce accepts a single connection and hands it to a new
// session.Session. Returns nil on success or a non-fatal condition; a
// wrapped error only for listener-fatal failures.
func (s *Server) acceptOnce(ctx context.Context, ln net.Listener) error {
	conn, err := ln.Accept()
	if err != nil {
		select {
		case <-ctx.Done():
			return context.Canceled
		default:
		}
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			time.Sleep(200 * time.Millisecond)
			return nil
		}
		wrap := fmt.Errorf("%w: %v", ErrAccept, err)
		metrics.IncError(mapErrToMetric(wrap))
		s.setError(wrap)
		return wrap
	}
	s.totalAccepted.Add(1)

	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
		_ = tcp.SetKeepAlive(true)
		_ = tcp.SetKeepAlivePeriod(30 * time.Second)
	}

	if s.maxSessions > 0 && s.Sessions.Count() >= s.maxSessions {
		s.totalRejectedMax.Add(1)
		s.logger.Warn("session_reject_max", "max_sessions", s.maxSessions)
		_ = conn.Close()
		return nil
	}

	id := uuid.NewString()
	sess, err := session.New(id, conn, s.regs, s.identity, s.lostConn)
	if err != nil {
		metrics.HandshakeFailures.Inc()
		s.logger.Warn("session_handshake_failed", "session", id, "remote", conn.RemoteAddr(), "error", err)
		_ = conn.Close()
		return nil
	}
	s.Sessions.Add(id, sess)
	metrics.IncSessionsAccepted()
	metrics.SessionsActive.Inc()
	s.logger.Info("session_connected", "session", id, "remote", conn.RemoteAddr())
	return nil
}

// Shutdown closes the listener and every live session, then waits for
// the reaper to drain.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}

	for _, sess := range s.Sessions.Snapshot() {
		_ = sess.Close()
	}
	s.reaperCancel()

	done := make(chan struct{})
	go func() {
		<-s.reaperDone
		close(done)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrShutdown, ctx.Err())
	case <-done:
		s.logger.Info("shutdown_summary",
			"accepted", s.totalAccepted.Load(),
			"rejected_max", s.totalRejectedMax.Load(),
		)
		return nil
	}
}
