package room

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/noteflow/mp-server/internal/l10n"
	"github.com/noteflow/mp-server/internal/logging"
	"github.com/noteflow/mp-server/internal/protocol"
)

// Sender is the minimal capability a User needs from its attached
// session in order to receive pushed commands. internal/session's
// Session implements this; it is expressed as an interface here purely
// to avoid an import cycle (Room needs User, Session needs Room).
type Sender interface {
	TrySend(cmd protocol.ServerCommand)
}

// User is a server-wide authenticated identity. It outlives any single
// TCP connection: a lost connection leaves the User "dangling" (session
// cleared) until a new session reattaches or a grace period expires —
// that lifecycle lives in internal/session, which is the only writer of
// SetSession/SetRoom outside of Room itself.
type User struct {
	ID   int32
	Name string
	Lang l10n.Language

	mu      sync.RWMutex
	session Sender // explicitly nil'd on detach; not a GC-weak reference
	room    *Room  // strong: a user "carries" its current room membership

	monitor  atomic.Bool
	gameTime atomic.Uint32 // bit pattern of a float32, per spec's per-user atomic cell

	dangleMu     sync.Mutex
	dangleMarker *dangleMarker
}

// dangleMarker is a unique identity stamped on a User each time it
// starts dangling. internal/session compares pointer identity after
// the grace period to tell "still dangling" from "reattached since".
type dangleMarker struct{}

// BeginDangle stamps a fresh marker on the user and returns it.
func (u *User) BeginDangle() *dangleMarker {
	u.dangleMu.Lock()
	defer u.dangleMu.Unlock()
	m := &dangleMarker{}
	u.dangleMarker = m
	return m
}

// ClearDangle erases the current dangle marker, if any.
func (u *User) ClearDangle() {
	u.dangleMu.Lock()
	u.dangleMarker = nil
	u.dangleMu.Unlock()
}

// StillDangling reports whether m is still the user's current dangle
// marker (nobody reattached or re-dangled since BeginDangle returned m).
func (u *User) StillDangling(m *dangleMarker) bool {
	u.dangleMu.Lock()
	defer u.dangleMu.Unlock()
	return u.dangleMarker == m
}

// NewUser constructs a User with game_time initialized to negative
// infinity, matching a participant who hasn't started a round yet.
func NewUser(id int32, name string, lang l10n.Language) *User {
	u := &User{ID: id, Name: name, Lang: lang}
	u.gameTime.Store(math.Float32bits(float32(math.Inf(-1))))
	return u
}

// ToInfo renders the wire-visible projection of this user.
func (u *User) ToInfo() protocol.UserInfo {
	return protocol.UserInfo{ID: u.ID, Name: u.Name, Monitor: u.Monitor()}
}

func (u *User) Monitor() bool     { return u.monitor.Load() }
func (u *User) SetMonitor(b bool) { u.monitor.Store(b) }

func (u *User) GameTime() float32     { return math.Float32frombits(u.gameTime.Load()) }
func (u *User) SetGameTime(v float32) { u.gameTime.Store(math.Float32bits(v)) }
func (u *User) ResetGameTime()        { u.SetGameTime(float32(math.Inf(-1))) }

// Room returns the room this user currently carries a strong reference
// to, or nil if it isn't in one.
func (u *User) Room() *Room {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.room
}

// SetRoom updates the user's room membership.
func (u *User) SetRoom(r *Room) {
	u.mu.Lock()
	u.room = r
	u.mu.Unlock()
}

// SetSession attaches (or clears, with nil) the session currently
// serving this user. Attaching a non-nil session always clears any
// in-flight dangle marker — a reattach cancels the pending teardown.
func (u *User) SetSession(s Sender) {
	u.mu.Lock()
	u.session = s
	u.mu.Unlock()
	if s != nil {
		u.ClearDangle()
	}
}

// Detach clears the attached session without touching the dangle
// marker, used when a connection is lost and a grace-period teardown
// is about to be scheduled separately.
func (u *User) Detach() {
	u.mu.Lock()
	u.session = nil
	u.mu.Unlock()
}

// Session returns the currently attached session, or nil if dangling.
func (u *User) Session() Sender {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.session
}

// TrySend forwards cmd to the attached session, logging (not failing)
// if the user is currently dangling.
func (u *User) TrySend(cmd protocol.ServerCommand) {
	u.mu.RLock()
	s := u.session
	u.mu.RUnlock()
	if s == nil {
		logging.L().Warn("send_to_dangling_user", "user", u.ID)
		return
	}
	s.TrySend(cmd)
}
