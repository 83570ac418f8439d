// Package session turns one accepted TCP connection into an
// authenticated, room-aware participant: it owns the AwaitingAuthenticate
// handshake, the liveness watchdog, the dangle/reconnect grace period,
// per-frame rate limiting, and the full command-dispatch table described
// in spec.md §4.5/§4.5.1. Grounded on
// original_source/phira-mp-server/src/session.rs, generalized for the
// monitor flag and the LockRoom/CycleRoom/Abort commands that revision
// doesn't carry.
package session

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/noteflow/mp-server/internal/hub"
	"github.com/noteflow/mp-server/internal/identity"
	"github.com/noteflow/mp-server/internal/l10n"
	"github.com/noteflow/mp-server/internal/logging"
	"github.com/noteflow/mp-server/internal/metrics"
	"github.com/noteflow/mp-server/internal/protocol"
	"github.com/noteflow/mp-server/internal/room"
	"github.com/noteflow/mp-server/internal/stream"
	"github.com/noteflow/mp-server/internal/wire"
	"golang.org/x/time/rate"
)

// LivenessTimeout is how long a session may go without receiving any
// frame (including Ping) before the watchdog declares it lost
// (spec.md §4.5 "liveness watchdog").
const LivenessTimeout = 10 * time.Second

// DangleGrace is how long a User stays dangling (session cleared, room
// membership intact) waiting for a reconnect before it is torn down
// (spec.md §4.5 "dangle/reconnect").
const DangleGrace = 10 * time.Second

// rate limits applied per session to the three frames a misbehaving or
// buggy client could flood: Chat is a human-typed frame, so a generous
// burst but low sustained rate; Touches/Judges are game telemetry sent
// many times a second during a round, so a much higher budget that still
// catches a runaway client. No specific figures are mandated anywhere;
// these are deliberately generous defaults.
const (
	chatRateLimit     rate.Limit = 2
	chatBurst                    = 5
	telemetryRate     rate.Limit = 120
	telemetryBurst               = 240
)

// Registries bundles the server-wide lookups a session needs to
// authenticate and rendezvous with rooms. internal/server owns the
// concrete hub.Registry instances.
type Registries struct {
	Users *hub.Registry[int32, *room.User]
	Rooms *hub.Registry[wire.RoomID, *room.Room]

	// MonitorAllowed gates JoinRoom{Monitor:true}. nil means allow
	// every authenticated user to join as a monitor.
	MonitorAllowed func(userID int32) bool
}

// Identity is the subset of *identity.Client a session needs, narrowed
// to an interface so tests can fake it without an HTTP server.
type Identity interface {
	FetchAuthInfo(ctx context.Context, token string) (identity.AuthInfo, error)
	FetchChart(ctx context.Context, id int32) (identity.Chart, error)
	FetchRecord(ctx context.Context, id int32) (identity.Record, error)
}

// Session is one accepted connection's server-side state. It implements
// room.Sender so a User can hold it (as an interface value) without
// internal/room importing this package.
type Session struct {
	ID string

	stream *stream.Stream[protocol.ServerCommand, protocol.ClientCommand]
	ready  chan struct{}

	regs     Registries
	identity Identity

	user          *room.User
	authenticated atomic.Bool
	panicked      atomic.Bool

	lastRecv   atomic.Int64 // UnixNano of the last received frame
	reportOnce sync.Once
	lostConn   chan<- string

	chatLimiter      *rate.Limiter
	telemetryLimiter *rate.Limiter
}

// New accepts conn, performs the stream handshake, and starts the
// watchdog. The handler closure passed to stream.Open needs a Session
// reference that isn't fully built until Open returns, so it blocks on
// s.ready first — mirrors the reference implementation's
// OnceCell<Arc<Session>> + Notify pairing, which exists for the same
// reason.
func New(id string, conn net.Conn, regs Registries, ident Identity, lostConn chan<- string) (*Session, error) {
	s := &Session{
		ID:       id,
		ready:    make(chan struct{}),
		regs:     regs,
		identity: ident,
		lostConn: lostConn,

		chatLimiter:      rate.NewLimiter(chatRateLimit, chatBurst),
		telemetryLimiter: rate.NewLimiter(telemetryRate, telemetryBurst),
	}
	s.lastRecv.Store(time.Now().UnixNano())

	handler := func(_ *stream.Stream[protocol.ServerCommand, protocol.ClientCommand], cmd protocol.ClientCommand) {
		<-s.ready
		s.handle(cmd)
	}

	strm, err := stream.Open[protocol.ServerCommand, protocol.ClientCommand](
		conn, nil, encodeServerCommand, decodeClientCommand, handler, logging.L())
	if err != nil {
		return nil, err
	}
	s.stream = strm
	close(s.ready)

	go s.watchdog()
	go func() {
		<-s.stream.Done()
		s.reportLost()
	}()

	return s, nil
}

// TrySend implements room.Sender: push cmd to the client, logging (not
// panicking) on failure — a send error means the stream is already
// closing, and the reaper will clean the session up shortly regardless.
func (s *Session) TrySend(cmd protocol.ServerCommand) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.stream.Send(ctx, cmd); err != nil {
		logging.L().Debug("session_send_failed", "session", s.ID, "error", err)
	}
}

// Close tears down the underlying stream. Idempotent.
func (s *Session) Close() error { return s.stream.Close() }

// User returns the authenticated user this session is serving, or nil
// before authentication completes.
func (s *Session) User() *room.User { return s.user }

func (s *Session) reportLost() {
	s.reportOnce.Do(func() {
		if s.lostConn == nil {
			return
		}
		go func() {
			select {
			case s.lostConn <- s.ID:
			case <-time.After(5 * time.Second):
				logging.L().Error("lost_connection_report_timed_out", "session", s.ID)
			}
		}()
	})
}

// watchdog sleeps until LivenessTimeout after the last received frame,
// and reports the session lost if nothing arrived in the meantime;
// otherwise it reschedules from the new last-receive time (spec.md §4.5
// "liveness watchdog" — reschedule-on-wake, not a fixed ticker).
func (s *Session) watchdog() {
	for {
		last := s.lastRecv.Load()
		wake := time.Until(time.Unix(0, last).Add(LivenessTimeout))
		timer := time.NewTimer(wake)
		select {
		case <-timer.C:
		case <-s.stream.Done():
			timer.Stop()
			return
		}
		if s.lastRecv.Load() != last {
			continue
		}
		logging.L().Warn("session_liveness_timeout", "session", s.ID)
		s.reportLost()
		return
	}
}

func (s *Session) handle(cmd protocol.ClientCommand) {
	s.lastRecv.Store(time.Now().UnixNano())
	if s.panicked.Load() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logging.L().Error("session_handler_panic", "session", s.ID, "panic", r)
			s.panicked.Store(true)
			metrics.IncError("session_panic")
			s.reportLost()
		}
	}()

	if _, ok := cmd.(protocol.CCPing); ok {
		s.TrySend(protocol.SCPong{})
		return
	}

	if !s.authenticated.Load() {
		s.handleAuthenticate(cmd)
		return
	}

	lang := l10n.EnUS
	if s.user != nil {
		lang = s.user.Lang
	}
	ctx := l10n.WithLanguage(context.Background(), lang)
	if resp := s.dispatch(ctx, cmd); resp != nil {
		s.TrySend(resp)
	}
}

func encodeServerCommand(v protocol.ServerCommand) []byte {
	w := wire.NewWriter()
	protocol.WriteServerCommand(w, v)
	return w.Bytes()
}

func decodeClientCommand(data []byte) (protocol.ClientCommand, error) {
	return protocol.ReadClientCommand(wire.NewReader(data))
}
