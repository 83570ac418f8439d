package client

import (
	"sync"
	"time"

	"github.com/noteflow/mp-server/internal/protocol"
)

// slot is a one-shot reply channel guarded by a mutex, the Go rendering
// of the reference client's Mutex<Option<oneshot::Sender<Result<T,String>>>>:
// at most one RPC of a given kind is ever outstanding at a time, so
// arming a slot always replaces (rather than queues behind) whatever was
// there before.
type slot[T any] struct {
	mu sync.Mutex
	ch chan rpcResult[T]
}

type rpcResult[T any] struct {
	val T
	err error
}

func (s *slot[T]) arm() chan rpcResult[T] {
	ch := make(chan rpcResult[T], 1)
	s.mu.Lock()
	s.ch = ch
	s.mu.Unlock()
	return ch
}

// fulfill delivers v/err to whoever is waiting, if anyone is. A reply
// with no armed slot (the server pushed something nobody rcall'd for)
// is simply dropped.
func (s *slot[T]) fulfill(v T, err error) {
	s.mu.Lock()
	ch := s.ch
	s.ch = nil
	s.mu.Unlock()
	if ch != nil {
		ch <- rpcResult[T]{val: v, err: err}
	}
}

// authResult is the payload delivered to an outstanding Authenticate
// rcall: the caller's own info, and the room it was already in before
// reconnecting, if any.
type authResult struct {
	me   protocol.UserInfo
	room *protocol.ClientRoomState
}

// LivePlayer accumulates one player's per-frame telemetry as it streams
// in, for a caller to drain on its own schedule (e.g. once per rendered
// frame).
type LivePlayer struct {
	mu          sync.Mutex
	touchFrames []protocol.TouchFrame
	judgeEvents []protocol.JudgeEvent
}

func newLivePlayer() *LivePlayer { return &LivePlayer{} }

func (lp *LivePlayer) appendTouches(frames []protocol.TouchFrame) {
	lp.mu.Lock()
	lp.touchFrames = append(lp.touchFrames, frames...)
	lp.mu.Unlock()
}

func (lp *LivePlayer) appendJudges(judges []protocol.JudgeEvent) {
	lp.mu.Lock()
	lp.judgeEvents = append(lp.judgeEvents, judges...)
	lp.mu.Unlock()
}

// TakeTouchFrames drains and returns all touch frames accumulated since
// the last call.
func (lp *LivePlayer) TakeTouchFrames() []protocol.TouchFrame {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	out := lp.touchFrames
	lp.touchFrames = nil
	return out
}

// TakeJudgeEvents drains and returns all judge events accumulated since
// the last call.
func (lp *LivePlayer) TakeJudgeEvents() []protocol.JudgeEvent {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	out := lp.judgeEvents
	lp.judgeEvents = nil
	return out
}

// state is the mutable mirror kept in sync with the server's pushes —
// the reference client's State struct, generalized for monitors/
// lock/cycle fields spec.md's Room carries that the cited revision of
// the Rust client predates.
type state struct {
	mu   sync.RWMutex
	me   *protocol.UserInfo
	room *protocol.ClientRoomState

	delayMu sync.Mutex
	delay   *time.Duration

	pingNotify chan struct{}

	cbAuthenticate *slot[authResult]
	cbChat         *slot[struct{}]
	cbCreateRoom   *slot[struct{}]
	cbJoinRoom     *slot[protocol.JoinRoomResponse]
	cbLeaveRoom    *slot[struct{}]
	cbLockRoom     *slot[struct{}]
	cbCycleRoom    *slot[struct{}]
	cbSelectChart  *slot[struct{}]
	cbRequestStart *slot[struct{}]
	cbReady        *slot[struct{}]
	cbCancelReady  *slot[struct{}]
	cbPlayed       *slot[struct{}]
	cbAbort        *slot[struct{}]

	livePlayersMu sync.Mutex
	livePlayers   map[int32]*LivePlayer

	messagesMu sync.Mutex
	messages   []protocol.Message
}

func newState() *state {
	return &state{
		pingNotify: make(chan struct{}, 1),

		cbAuthenticate: &slot[authResult]{},
		cbChat:         &slot[struct{}]{},
		cbCreateRoom:   &slot[struct{}]{},
		cbJoinRoom:     &slot[protocol.JoinRoomResponse]{},
		cbLeaveRoom:    &slot[struct{}]{},
		cbLockRoom:     &slot[struct{}]{},
		cbCycleRoom:    &slot[struct{}]{},
		cbSelectChart:  &slot[struct{}]{},
		cbRequestStart: &slot[struct{}]{},
		cbReady:        &slot[struct{}]{},
		cbCancelReady:  &slot[struct{}]{},
		cbPlayed:       &slot[struct{}]{},
		cbAbort:        &slot[struct{}]{},

		livePlayers: make(map[int32]*LivePlayer),
	}
}

func (st *state) livePlayer(id int32) *LivePlayer {
	st.livePlayersMu.Lock()
	defer st.livePlayersMu.Unlock()
	lp, ok := st.livePlayers[id]
	if !ok {
		lp = newLivePlayer()
		st.livePlayers[id] = lp
	}
	return lp
}

func (st *state) clearLivePlayers() {
	st.livePlayersMu.Lock()
	st.livePlayers = make(map[int32]*LivePlayer)
	st.livePlayersMu.Unlock()
}

func (st *state) pushMessage(m protocol.Message) {
	st.messagesMu.Lock()
	st.messages = append(st.messages, m)
	st.messagesMu.Unlock()
}

// TakeMessages drains and returns every Message received since the last
// call, in arrival order.
func (st *state) takeMessages() []protocol.Message {
	st.messagesMu.Lock()
	defer st.messagesMu.Unlock()
	out := st.messages
	st.messages = nil
	return out
}
