// Package room implements the room state machine: membership, host
// migration, the SelectChart/WaitForReady/Playing lifecycle, and the
// broadcast primitives sessions use to fan events out to a room's
// members. Grounded on original_source/phira-mp-server/src/room.rs,
// adjusted per spec.md §4.4 where the two disagree (monitors
// participate in readiness; touches/judges fan out to monitors only —
// that part lives in internal/session, not here).
package room

import (
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"weak"

	"github.com/noteflow/mp-server/internal/identity"
	"github.com/noteflow/mp-server/internal/logging"
	"github.com/noteflow/mp-server/internal/metrics"
	"github.com/noteflow/mp-server/internal/protocol"
	"github.com/noteflow/mp-server/internal/wire"
)

// MaxUsers caps the number of non-monitor participants in a room.
const MaxUsers = 8

type stateKind uint8

const (
	stateSelectChart stateKind = iota
	stateWaitForReady
	statePlaying
)

// internalState is the Go rendering of room.rs's InternalRoomState enum:
// a single struct carrying only the fields relevant to its current kind.
type internalState struct {
	kind    stateKind
	started map[int32]bool
	results map[int32]identity.Record
	aborted map[int32]bool
}

func selectChartState() internalState { return internalState{kind: stateSelectChart} }

func waitForReadyState(hostID int32) internalState {
	return internalState{kind: stateWaitForReady, started: map[int32]bool{hostID: true}}
}

func playingState() internalState {
	return internalState{kind: statePlaying, results: map[int32]identity.Record{}, aborted: map[int32]bool{}}
}

// Room holds weak references to its participants and monitors — a
// dangling user doesn't need the room to hold a back-reference to keep
// it alive (spec.md §5 "weak vs strong"). Each field is guarded by its
// own lock so unrelated operations (e.g. a chat broadcast and a host
// migration) never contend.
type Room struct {
	ID wire.RoomID

	hostMu sync.RWMutex
	host   weak.Pointer[User]

	stateMu sync.RWMutex
	state   internalState

	chartMu sync.RWMutex
	chart   *identity.Chart

	usersMu  sync.RWMutex
	users    []weak.Pointer[User]
	monitors []weak.Pointer[User]

	live   atomic.Bool
	locked atomic.Bool
	cycle  atomic.Bool
}

// New creates a room with host as its sole initial participant and
// host.
func New(id wire.RoomID, host *User) *Room {
	return &Room{
		ID:    id,
		host:  weak.Make(host),
		state: selectChartState(),
		users: []weak.Pointer[User]{weak.Make(host)},
	}
}

// IsPlaying reports whether the room is currently mid-round — used to
// decide whether a newly-dangling user's grace period should be
// bypassed entirely (spec.md §4.5).
func (r *Room) IsPlaying() bool {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	return r.state.kind == statePlaying
}

func (r *Room) IsLive() bool   { return r.live.Load() }
func (r *Room) IsLocked() bool { return r.locked.Load() }
func (r *Room) IsCycle() bool  { return r.cycle.Load() }

func (r *Room) SetLocked(b bool) { r.locked.Store(b) }
func (r *Room) SetCycle(b bool)  { r.cycle.Store(b) }

// MarkLive latches live true. It never reverts within the room's
// lifetime (spec.md §4.4.2).
func (r *Room) MarkLive() { r.live.Store(true) }

func (r *Room) Chart() *identity.Chart {
	r.chartMu.RLock()
	defer r.chartMu.RUnlock()
	return r.chart
}

func (r *Room) SetChart(c identity.Chart) {
	r.chartMu.Lock()
	r.chart = &c
	r.chartMu.Unlock()
}

// CheckHost reports whether u is the room's current host.
func (r *Room) CheckHost(u *User) bool {
	h := r.Host()
	return h != nil && h.ID == u.ID
}

// Host returns the current host, or nil if it has already been torn
// down (the dangling-user grace period hasn't yet migrated it away).
func (r *Room) Host() *User {
	r.hostMu.RLock()
	defer r.hostMu.RUnlock()
	return r.host.Value()
}

func (r *Room) setHost(u *User) {
	r.hostMu.Lock()
	r.host = weak.Make(u)
	r.hostMu.Unlock()
}

// AddUser appends user to the monitor list (always succeeds) or the
// participant list (fails once MaxUsers live participants are present),
// pruning dead weak references first either way.
func (r *Room) AddUser(user *User, monitor bool) bool {
	r.usersMu.Lock()
	defer r.usersMu.Unlock()
	if monitor {
		r.monitors = pruneDead(r.monitors)
		r.monitors = append(r.monitors, weak.Make(user))
		return true
	}
	r.users = pruneDead(r.users)
	if len(r.users) >= MaxUsers {
		return false
	}
	r.users = append(r.users, weak.Make(user))
	return true
}

// Users returns a snapshot of live participants in insertion order.
func (r *Room) Users() []*User {
	r.usersMu.RLock()
	defer r.usersMu.RUnlock()
	return liveUsers(r.users)
}

// Monitors returns a snapshot of live monitors in insertion order.
func (r *Room) Monitors() []*User {
	r.usersMu.RLock()
	defer r.usersMu.RUnlock()
	return liveUsers(r.monitors)
}

func pruneDead(ws []weak.Pointer[User]) []weak.Pointer[User] {
	out := ws[:0]
	for _, w := range ws {
		if w.Value() != nil {
			out = append(out, w)
		}
	}
	return out
}

func liveUsers(ws []weak.Pointer[User]) []*User {
	out := make([]*User, 0, len(ws))
	for _, w := range ws {
		if u := w.Value(); u != nil {
			out = append(out, u)
		}
	}
	return out
}

func removeByID(ws []weak.Pointer[User], id int32) []weak.Pointer[User] {
	out := ws[:0]
	for _, w := range ws {
		if u := w.Value(); u != nil && u.ID != id {
			out = append(out, w)
		}
	}
	return out
}

// Broadcast sends cmd to every current participant and monitor.
// Per-recipient failure (a dangling user) is logged by User.TrySend and
// never aborts the broadcast.
func (r *Room) Broadcast(cmd protocol.ServerCommand) {
	for _, u := range r.Users() {
		u.TrySend(cmd)
	}
	for _, u := range r.Monitors() {
		u.TrySend(cmd)
	}
}

// BroadcastMonitors sends cmd only to monitors.
func (r *Room) BroadcastMonitors(cmd protocol.ServerCommand) {
	for _, u := range r.Monitors() {
		u.TrySend(cmd)
	}
}

// Send broadcasts a Message wrapped in SCMessage.
func (r *Room) Send(msg protocol.Message) {
	r.Broadcast(protocol.SCMessage{Message: msg})
}

// SendAs broadcasts a chat line attributed to user.
func (r *Room) SendAs(user *User, content string) {
	r.Send(protocol.MessageChat{UserID: user.ID, Content: content})
}

// ClientRoomState renders the public RoomState wire value.
func (r *Room) ClientRoomState() protocol.RoomState {
	r.stateMu.RLock()
	kind := r.state.kind
	r.stateMu.RUnlock()
	switch kind {
	case stateSelectChart:
		r.chartMu.RLock()
		var id *int32
		if r.chart != nil {
			v := r.chart.ID
			id = &v
		}
		r.chartMu.RUnlock()
		return protocol.RoomState{Kind: protocol.RoomStateSelectChart, ChartID: id}
	case stateWaitForReady:
		return protocol.RoomState{Kind: protocol.RoomStateWaitingForReady}
	default:
		return protocol.RoomState{Kind: protocol.RoomStatePlaying}
	}
}

// ClientState renders the full per-viewer mirror used in JoinRoom/
// Authenticate replies and in the Authenticate reconnect path.
func (r *Room) ClientState(user *User) protocol.ClientRoomState {
	state := r.ClientRoomState()

	r.stateMu.RLock()
	isReady := r.state.kind == stateWaitForReady && r.state.started[user.ID]
	r.stateMu.RUnlock()

	users := make(map[int32]protocol.UserInfo)
	for _, u := range r.Users() {
		users[u.ID] = u.ToInfo()
	}
	for _, u := range r.Monitors() {
		users[u.ID] = u.ToInfo()
	}

	return protocol.ClientRoomState{
		ID:      r.ID,
		State:   state,
		Live:    r.IsLive(),
		Locked:  r.IsLocked(),
		Cycle:   r.IsCycle(),
		IsHost:  r.CheckHost(user),
		IsReady: isReady,
		Users:   users,
	}
}

// OnStateChange broadcasts the room's current public state.
func (r *Room) OnStateChange() {
	r.Broadcast(protocol.SCChangeState{State: r.ClientRoomState()})
}

// ResetGameTimes resets every participant's game_time to -inf, done at
// the start of a round so stall detection starts from a clean slate.
func (r *Room) ResetGameTimes() {
	for _, u := range r.Users() {
		u.ResetGameTime()
	}
}

// OnUserLeave removes user from the room, migrating the host if user
// was host, and reports whether the room should now be dropped (no
// participants remain).
func (r *Room) OnUserLeave(user *User) bool {
	r.Send(protocol.MessageLeaveRoom{User: user.ID, Name: user.Name})
	user.SetRoom(nil)

	r.usersMu.Lock()
	if user.Monitor() {
		r.monitors = removeByID(r.monitors, user.ID)
	} else {
		r.users = removeByID(r.users, user.ID)
	}
	r.usersMu.Unlock()

	if r.CheckHost(user) {
		logging.L().Info("room_host_disconnected", "room", string(r.ID))
		users := r.Users()
		if len(users) == 0 {
			logging.L().Info("room_dropped_empty", "room", string(r.ID))
			return true
		}
		newHost := users[rand.N(len(users))]
		r.setHost(newHost)
		logging.L().Debug("room_new_host", "room", string(r.ID), "user", newHost.ID)
		r.Send(protocol.MessageNewHost{User: newHost.ID})
		newHost.TrySend(protocol.SCChangeHost{IsHost: true})
		metrics.HostMigrations.Inc()
	}
	r.CheckAllReady()
	return false
}

// StartRound transitions SelectChart -> WaitForReady{started:{hostID}}.
func (r *Room) StartRound(hostID int32) error {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	if r.state.kind != stateSelectChart {
		return ErrInvalidState
	}
	r.state = waitForReadyState(hostID)
	return nil
}

// MarkReady inserts userID into the ready set. Call CheckAllReady after
// a nil return to progress the room if everyone is now ready.
func (r *Room) MarkReady(userID int32) error {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	if r.state.kind != stateWaitForReady {
		return ErrInvalidState
	}
	if r.state.started[userID] {
		return ErrAlreadyReady
	}
	r.state.started[userID] = true
	return nil
}

// CancelReady removes userID from the ready set. If userID is the host,
// the whole room is pulled back to SelectChart and becameSelectChart is
// true; the caller should broadcast CancelGame rather than CancelReady
// in that case.
func (r *Room) CancelReady(userID int32) (becameSelectChart bool, err error) {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	if r.state.kind != stateWaitForReady {
		return false, ErrInvalidState
	}
	if !r.state.started[userID] {
		return false, ErrNotReady
	}
	delete(r.state.started, userID)
	if host := r.Host(); host != nil && host.ID == userID {
		becameSelectChart = true
	}
	if becameSelectChart {
		r.state = selectChartState()
	}
	return becameSelectChart, nil
}

// SubmitResult records user's final result for the current round.
func (r *Room) SubmitResult(userID int32, rec identity.Record) error {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	if r.state.kind != statePlaying {
		return ErrInvalidState
	}
	if r.state.aborted[userID] {
		return ErrAlreadyAborted
	}
	if _, exists := r.state.results[userID]; exists {
		return ErrAlreadyUploaded
	}
	r.state.results[userID] = rec
	return nil
}

// AbortRound marks user as having aborted the current round.
func (r *Room) AbortRound(userID int32) error {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	if r.state.kind != statePlaying {
		return ErrInvalidState
	}
	if _, exists := r.state.results[userID]; exists {
		return ErrAlreadyUploaded
	}
	if r.state.aborted[userID] {
		return ErrAlreadyAborted
	}
	r.state.aborted[userID] = true
	return nil
}

// CheckAllReady re-evaluates the room's state machine (spec.md §4.4.1):
// WaitForReady -> Playing once every participant and monitor is ready,
// and Playing -> SelectChart once every participant has a result or
// aborted, with host rotation if cycle is set.
func (r *Room) CheckAllReady() {
	r.stateMu.RLock()
	switch r.state.kind {
	case stateWaitForReady:
		started := r.state.started
		ready := allIn(r.Users(), started) && allIn(r.Monitors(), started)
		r.stateMu.RUnlock()
		if !ready {
			return
		}
		logging.L().Info("room_game_start", "room", string(r.ID))
		r.Send(protocol.MessageStartPlaying{})
		r.ResetGameTimes()
		r.stateMu.Lock()
		r.state = playingState()
		r.stateMu.Unlock()
		metrics.RoundsStarted.Inc()
		r.OnStateChange()
	case statePlaying:
		results, aborted := r.state.results, r.state.aborted
		done := allDone(r.Users(), results, aborted)
		r.stateMu.RUnlock()
		if !done {
			return
		}
		r.Send(protocol.MessageGameEnd{})
		r.stateMu.Lock()
		r.state = selectChartState()
		r.stateMu.Unlock()
		metrics.RoundsCompleted.Inc()
		if r.IsCycle() {
			logging.L().Debug("room_cycling", "room", string(r.ID))
			r.rotateHost()
		}
		r.OnStateChange()
	default:
		r.stateMu.RUnlock()
	}
}

func allIn(users []*User, set map[int32]bool) bool {
	for _, u := range users {
		if !set[u.ID] {
			return false
		}
	}
	return true
}

func allDone(users []*User, results map[int32]identity.Record, aborted map[int32]bool) bool {
	for _, u := range users {
		if _, ok := results[u.ID]; ok {
			continue
		}
		if aborted[u.ID] {
			continue
		}
		return false
	}
	return true
}

// rotateHost advances the host to the next participant after the
// current one in insertion order, wrapping; falls back to index 0 if
// the current host can't be found among the participants (it already
// left).
func (r *Room) rotateHost() {
	oldHost := r.Host()
	users := r.Users()
	if len(users) == 0 {
		return
	}
	idx := 0
	if oldHost != nil {
		for i, u := range users {
			if u.ID == oldHost.ID {
				idx = (i + 1) % len(users)
				break
			}
		}
	}
	newHost := users[idx]
	r.setHost(newHost)
	r.Send(protocol.MessageNewHost{User: newHost.ID})
	if oldHost != nil {
		oldHost.TrySend(protocol.SCChangeHost{IsHost: false})
	}
	newHost.TrySend(protocol.SCChangeHost{IsHost: true})
	metrics.HostMigrations.Inc()
}
