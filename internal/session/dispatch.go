package session

import (
	"context"
	"errors"
	"time"

	"github.com/noteflow/mp-server/internal/l10n"
	"github.com/noteflow/mp-server/internal/logging"
	"github.com/noteflow/mp-server/internal/metrics"
	"github.com/noteflow/mp-server/internal/protocol"
	"github.com/noteflow/mp-server/internal/room"
	"github.com/noteflow/mp-server/internal/wire"
)

// dispatch implements every ClientCommand variant's pre/postconditions
// (spec.md §4.5.1). CCPing and the pre-authenticate CCAuthenticate are
// handled upstream in session.go/auth.go and never reach here.
func (s *Session) dispatch(ctx context.Context, cmd protocol.ClientCommand) protocol.ServerCommand {
	u := s.user
	switch c := cmd.(type) {
	case protocol.CCAuthenticate:
		return protocol.SCAuthenticate{Result: wire.ResultErr[protocol.AuthResult](l10n.Format(ctx, "repeated-authenticate"))}

	case protocol.CCChat:
		return s.handleChat(ctx, u, c)
	case protocol.CCTouches:
		s.handleTouches(u, c)
		return nil
	case protocol.CCJudges:
		s.handleJudges(u, c)
		return nil

	case protocol.CCCreateRoom:
		return s.handleCreateRoom(ctx, u, c)
	case protocol.CCJoinRoom:
		return s.handleJoinRoom(ctx, u, c)
	case protocol.CCLeaveRoom:
		return s.handleLeaveRoom(ctx, u)
	case protocol.CCLockRoom:
		return s.handleLockRoom(ctx, u, c)
	case protocol.CCCycleRoom:
		return s.handleCycleRoom(ctx, u, c)
	case protocol.CCSelectChart:
		return s.handleSelectChart(ctx, u, c)
	case protocol.CCRequestStart:
		return s.handleRequestStart(ctx, u)
	case protocol.CCReady:
		return s.handleReady(ctx, u)
	case protocol.CCCancelReady:
		return s.handleCancelReady(ctx, u)
	case protocol.CCPlayed:
		return s.handlePlayed(ctx, u, c)
	case protocol.CCAbort:
		return s.handleAbort(ctx, u)
	default:
		return nil
	}
}

// errKey maps a room sentinel error to its l10n catalog key. Unknown
// errors fall back to the generic invalid-state reason.
func errKey(err error) string {
	switch {
	case errors.Is(err, room.ErrHostOnly):
		return "host-only"
	case errors.Is(err, room.ErrAlreadyReady):
		return "already-ready"
	case errors.Is(err, room.ErrNotReady):
		return "not-ready"
	case errors.Is(err, room.ErrAlreadyUploaded):
		return "already-uploaded"
	case errors.Is(err, room.ErrAlreadyAborted):
		return "already-aborted"
	case errors.Is(err, room.ErrInvalidState):
		return "invalid-state"
	default:
		return "invalid-state"
	}
}

func (s *Session) handleChat(ctx context.Context, u *room.User, c protocol.CCChat) protocol.ServerCommand {
	if !s.chatLimiter.Allow() {
		return protocol.SCChat{Result: protocol.Reject("rate limited")}
	}
	r := u.Room()
	if r == nil {
		return protocol.SCChat{Result: protocol.Reject(l10n.Format(ctx, "no-room"))}
	}
	r.SendAs(u, c.Message.String())
	return protocol.SCChat{Result: protocol.Ack()}
}

// handleTouches fans a touch frame out to monitors only and records the
// frame's timestamp as the sender's game_time; silently ignored outside
// a live room, and rate-limited by simply dropping excess frames (no
// reply is ever sent for this command anyway).
func (s *Session) handleTouches(u *room.User, c protocol.CCTouches) {
	if !s.telemetryLimiter.Allow() {
		return
	}
	r := u.Room()
	if r == nil || !r.IsLive() {
		return
	}
	if len(c.Frames) > 0 {
		u.SetGameTime(c.Frames[len(c.Frames)-1].Time)
	}
	r.BroadcastMonitors(protocol.SCTouches{Player: u.ID, Frames: c.Frames})
	metrics.IncFrameReceived("touches")
}

func (s *Session) handleJudges(u *room.User, c protocol.CCJudges) {
	if !s.telemetryLimiter.Allow() {
		return
	}
	r := u.Room()
	if r == nil || !r.IsLive() {
		return
	}
	r.BroadcastMonitors(protocol.SCJudges{Player: u.ID, Judges: c.Judges})
	metrics.IncFrameReceived("judges")
}

func (s *Session) handleCreateRoom(ctx context.Context, u *room.User, c protocol.CCCreateRoom) protocol.ServerCommand {
	if u.Room() != nil {
		return protocol.SCCreateRoom{Result: protocol.Reject(l10n.Format(ctx, "already-in-room"))}
	}
	r := room.New(c.ID, u)
	if !s.regs.Rooms.AddIfAbsent(c.ID, r) {
		return protocol.SCCreateRoom{Result: protocol.Reject(l10n.Format(ctx, "create-id-occupied"))}
	}
	u.SetRoom(r)
	u.SetMonitor(false)
	r.Send(protocol.MessageCreateRoom{User: u.Name})
	metrics.RoomsActive.Inc()
	logging.L().Info("room_created", "room", string(c.ID), "user", u.ID)
	return protocol.SCCreateRoom{Result: protocol.Ack()}
}

func (s *Session) handleJoinRoom(ctx context.Context, u *room.User, c protocol.CCJoinRoom) protocol.ServerCommand {
	if u.Room() != nil {
		return protocol.SCJoinRoom{Result: wire.ResultErr[protocol.JoinRoomResponse](l10n.Format(ctx, "already-in-room"))}
	}
	r, ok := s.regs.Rooms.Get(c.ID)
	if !ok {
		return protocol.SCJoinRoom{Result: wire.ResultErr[protocol.JoinRoomResponse](l10n.Format(ctx, "room-not-found"))}
	}
	if r.IsLocked() {
		return protocol.SCJoinRoom{Result: wire.ResultErr[protocol.JoinRoomResponse](l10n.Format(ctx, "join-room-locked"))}
	}
	if r.ClientRoomState().Kind != protocol.RoomStateSelectChart {
		return protocol.SCJoinRoom{Result: wire.ResultErr[protocol.JoinRoomResponse](l10n.Format(ctx, "join-game-ongoing"))}
	}
	if c.Monitor && s.regs.MonitorAllowed != nil && !s.regs.MonitorAllowed(u.ID) {
		return protocol.SCJoinRoom{Result: wire.ResultErr[protocol.JoinRoomResponse](l10n.Format(ctx, "monitor-not-permitted"))}
	}
	if !r.AddUser(u, c.Monitor) {
		return protocol.SCJoinRoom{Result: wire.ResultErr[protocol.JoinRoomResponse](l10n.Format(ctx, "join-room-full"))}
	}
	u.SetMonitor(c.Monitor)
	u.SetRoom(r)
	if c.Monitor {
		r.MarkLive()
	}

	r.Broadcast(protocol.SCOnJoinRoom{User: u.ToInfo()})
	r.Send(protocol.MessageJoinRoom{User: u.Name})

	members := append(append([]*room.User{}, r.Users()...), r.Monitors()...)
	infos := make([]protocol.UserInfo, len(members))
	for i, m := range members {
		infos[i] = m.ToInfo()
	}

	resp := protocol.JoinRoomResponse{State: r.ClientRoomState(), Users: infos, Live: r.IsLive()}
	return protocol.SCJoinRoom{Result: wire.ResultOk(resp)}
}

func (s *Session) handleLeaveRoom(ctx context.Context, u *room.User) protocol.ServerCommand {
	r := u.Room()
	if r == nil {
		return protocol.SCLeaveRoom{Result: protocol.Reject(l10n.Format(ctx, "no-room"))}
	}
	if r.OnUserLeave(u) {
		s.regs.Rooms.Remove(r.ID)
		metrics.RoomsActive.Dec()
	}
	return protocol.SCLeaveRoom{Result: protocol.Ack()}
}

func (s *Session) handleLockRoom(ctx context.Context, u *room.User, c protocol.CCLockRoom) protocol.ServerCommand {
	r := u.Room()
	if r == nil {
		return protocol.SCLockRoom{Result: protocol.Reject(l10n.Format(ctx, "no-room"))}
	}
	if !r.CheckHost(u) {
		return protocol.SCLockRoom{Result: protocol.Reject(l10n.Format(ctx, "host-only"))}
	}
	r.SetLocked(c.Lock)
	r.Send(protocol.MessageLockRoom{Lock: c.Lock})
	return protocol.SCLockRoom{Result: protocol.Ack()}
}

func (s *Session) handleCycleRoom(ctx context.Context, u *room.User, c protocol.CCCycleRoom) protocol.ServerCommand {
	r := u.Room()
	if r == nil {
		return protocol.SCCycleRoom{Result: protocol.Reject(l10n.Format(ctx, "no-room"))}
	}
	if !r.CheckHost(u) {
		return protocol.SCCycleRoom{Result: protocol.Reject(l10n.Format(ctx, "host-only"))}
	}
	r.SetCycle(c.Cycle)
	r.Send(protocol.MessageCycleRoom{Cycle: c.Cycle})
	return protocol.SCCycleRoom{Result: protocol.Ack()}
}

func (s *Session) handleSelectChart(ctx context.Context, u *room.User, c protocol.CCSelectChart) protocol.ServerCommand {
	r := u.Room()
	if r == nil {
		return protocol.SCSelectChart{Result: protocol.Reject(l10n.Format(ctx, "no-room"))}
	}
	if !r.CheckHost(u) {
		return protocol.SCSelectChart{Result: protocol.Reject(l10n.Format(ctx, "host-only"))}
	}
	if r.ClientRoomState().Kind != protocol.RoomStateSelectChart {
		return protocol.SCSelectChart{Result: protocol.Reject(l10n.Format(ctx, "invalid-state"))}
	}
	fetchCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	chart, err := s.identity.FetchChart(fetchCtx, c.ID)
	if err != nil {
		logging.L().Warn("select_chart_fetch_failed", "chart", c.ID, "error", err)
		return protocol.SCSelectChart{Result: protocol.Reject("failed to fetch chart")}
	}
	r.SetChart(chart)
	r.Send(protocol.MessageSelectChart{User: u.Name, Name: chart.Name, ID: chart.ID})
	r.OnStateChange()
	return protocol.SCSelectChart{Result: protocol.Ack()}
}

func (s *Session) handleRequestStart(ctx context.Context, u *room.User) protocol.ServerCommand {
	r := u.Room()
	if r == nil {
		return protocol.SCRequestStart{Result: protocol.Reject(l10n.Format(ctx, "no-room"))}
	}
	if !r.CheckHost(u) {
		return protocol.SCRequestStart{Result: protocol.Reject(l10n.Format(ctx, "host-only"))}
	}
	if r.Chart() == nil {
		return protocol.SCRequestStart{Result: protocol.Reject(l10n.Format(ctx, "start-no-chart-selected"))}
	}
	if err := r.StartRound(u.ID); err != nil {
		return protocol.SCRequestStart{Result: protocol.Reject(l10n.Format(ctx, errKey(err)))}
	}
	r.Send(protocol.MessageGameStart{User: u.Name})
	r.OnStateChange()
	r.CheckAllReady() // host may be the sole member: this can flip straight to Playing
	return protocol.SCRequestStart{Result: protocol.Ack()}
}

func (s *Session) handleReady(ctx context.Context, u *room.User) protocol.ServerCommand {
	r := u.Room()
	if r == nil {
		return protocol.SCReady{Result: protocol.Reject(l10n.Format(ctx, "no-room"))}
	}
	if err := r.MarkReady(u.ID); err != nil {
		return protocol.SCReady{Result: protocol.Reject(l10n.Format(ctx, errKey(err)))}
	}
	r.Send(protocol.MessageReady{User: u.Name})
	r.CheckAllReady()
	return protocol.SCReady{Result: protocol.Ack()}
}

func (s *Session) handleCancelReady(ctx context.Context, u *room.User) protocol.ServerCommand {
	r := u.Room()
	if r == nil {
		return protocol.SCCancelReady{Result: protocol.Reject(l10n.Format(ctx, "no-room"))}
	}
	becameSelectChart, err := r.CancelReady(u.ID)
	if err != nil {
		return protocol.SCCancelReady{Result: protocol.Reject(l10n.Format(ctx, errKey(err)))}
	}
	if becameSelectChart {
		r.Send(protocol.MessageCancelGame{User: u.Name})
		r.OnStateChange()
	} else {
		r.Send(protocol.MessageCancelReady{User: u.Name})
	}
	return protocol.SCCancelReady{Result: protocol.Ack()}
}

func (s *Session) handlePlayed(ctx context.Context, u *room.User, c protocol.CCPlayed) protocol.ServerCommand {
	r := u.Room()
	if r == nil {
		return protocol.SCPlayed{Result: protocol.Reject(l10n.Format(ctx, "no-room"))}
	}
	fetchCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rec, err := s.identity.FetchRecord(fetchCtx, c.ID)
	if err != nil {
		logging.L().Warn("played_fetch_failed", "record", c.ID, "error", err)
		return protocol.SCPlayed{Result: protocol.Reject("failed to fetch record")}
	}
	if rec.Player != u.ID {
		return protocol.SCPlayed{Result: protocol.Reject(l10n.Format(ctx, "invalid-record"))}
	}
	if err := r.SubmitResult(u.ID, rec); err != nil {
		return protocol.SCPlayed{Result: protocol.Reject(l10n.Format(ctx, errKey(err)))}
	}
	r.Send(protocol.MessagePlayed{User: u.Name, Score: rec.Score, Accuracy: rec.Accuracy, FullCombo: rec.FullCombo})
	r.CheckAllReady()
	return protocol.SCPlayed{Result: protocol.Ack()}
}

func (s *Session) handleAbort(ctx context.Context, u *room.User) protocol.ServerCommand {
	r := u.Room()
	if r == nil {
		return protocol.SCAbort{Result: protocol.Reject(l10n.Format(ctx, "no-room"))}
	}
	if err := r.AbortRound(u.ID); err != nil {
		return protocol.SCAbort{Result: protocol.Reject(l10n.Format(ctx, errKey(err)))}
	}
	r.Send(protocol.MessageAbort{User: u.Name})
	r.CheckAllReady()
	return protocol.SCAbort{Result: protocol.Ack()}
}
