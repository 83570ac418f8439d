// Package client is the coordinator library an application links to
// speak to a server: it owns the wire connection, mirrors room/user
// state as pushes arrive, and turns each request into a blocking call
// that resolves when the matching reply comes back — grounded on
// original_source/phira-mp-client/src/lib.rs's Client.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/noteflow/mp-server/internal/protocol"
	"github.com/noteflow/mp-server/internal/stream"
	"github.com/noteflow/mp-server/internal/wire"
)

// Timing constants mirroring the reference client's HEARTBEAT_INTERVAL/
// HEARTBEAT_TIMEOUT/TIMEOUT.
const (
	HeartbeatInterval = 3 * time.Second
	HeartbeatTimeout  = 2 * time.Second
	RPCTimeout        = 7 * time.Second
)

// ErrRPCTimeout is returned by an RPC method when the server never
// replied within RPCTimeout.
var ErrRPCTimeout = fmt.Errorf("client: rpc timed out")

// Client is a single connection to a server, plus the mirrored state
// its pushes keep current.
type Client struct {
	strm *stream.Stream[protocol.ClientCommand, protocol.ServerCommand]
	st   *state
	log  *slog.Logger

	pingFails atomic.Int32

	closeOnce     sync.Once
	stopHeartbeat chan struct{}
}

// New dials nothing itself; it performs the protocol handshake over an
// already-open conn (typically from net.Dial) and starts the heartbeat
// loop. The caller owns conn's lifecycle up to this call; Client owns it
// after.
func New(conn net.Conn, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	c := &Client{
		st:            newState(),
		log:           log,
		stopHeartbeat: make(chan struct{}),
	}
	ver := protocol.ProtocolVersion
	strm, err := stream.Open[protocol.ClientCommand, protocol.ServerCommand](
		conn, &ver,
		func(v protocol.ClientCommand) []byte {
			w := wire.NewWriter()
			protocol.WriteClientCommand(w, v)
			return w.Bytes()
		},
		func(data []byte) (protocol.ServerCommand, error) {
			return protocol.ReadServerCommand(wire.NewReader(data))
		},
		c.handle,
		log,
	)
	if err != nil {
		return nil, fmt.Errorf("client: handshake: %w", err)
	}
	c.strm = strm
	go c.heartbeatLoop()
	return c, nil
}

// Close tears down the connection and stops the heartbeat loop. Safe to
// call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.stopHeartbeat) })
	return c.strm.Close()
}

// Done is closed once the underlying stream's goroutines have exited
// (peer closed, or Close was called).
func (c *Client) Done() <-chan struct{} { return c.strm.Done() }

func (c *Client) heartbeatLoop() {
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopHeartbeat:
			return
		case <-c.strm.Done():
			return
		case <-ticker.C:
			start := time.Now()
			if err := c.strm.Send(context.Background(), protocol.CCPing{}); err != nil {
				return
			}
			select {
			case <-c.st.pingNotify:
				c.pingFails.Store(0)
				d := time.Since(start)
				c.st.delayMu.Lock()
				c.st.delay = &d
				c.st.delayMu.Unlock()
			case <-time.After(HeartbeatTimeout):
				c.pingFails.Add(1)
				c.log.Warn("heartbeat_timeout", "fails", c.pingFails.Load())
			case <-c.stopHeartbeat:
				return
			case <-c.strm.Done():
				return
			}
		}
	}
}

// Ping sends an out-of-band ping and blocks until the Pong arrives or
// HeartbeatTimeout elapses, reporting the measured round trip.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := c.strm.Send(ctx, protocol.CCPing{}); err != nil {
		return 0, err
	}
	select {
	case <-c.st.pingNotify:
		return time.Since(start), nil
	case <-time.After(HeartbeatTimeout):
		return 0, ErrRPCTimeout
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// PingFailCount returns the number of consecutive heartbeat pings that
// have timed out since the last success.
func (c *Client) PingFailCount() int32 { return c.pingFails.Load() }

// Delay returns the most recently measured round-trip time, or zero if
// none has been recorded yet.
func (c *Client) Delay() time.Duration {
	c.st.delayMu.Lock()
	defer c.st.delayMu.Unlock()
	if c.st.delay == nil {
		return 0
	}
	return *c.st.delay
}

// rcall arms slot, sends cmd, and blocks until fulfill is called on it,
// ctx is cancelled, or RPCTimeout elapses — the single shared shape
// behind every RPC method below.
func rcall[T any](ctx context.Context, c *Client, sl *slot[T], cmd protocol.ClientCommand) (T, error) {
	var zero T
	ch := sl.arm()
	if err := c.strm.Send(ctx, cmd); err != nil {
		return zero, err
	}
	select {
	case res := <-ch:
		return res.val, res.err
	case <-time.After(RPCTimeout):
		return zero, ErrRPCTimeout
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Me returns the authenticated user's own info, or nil before a
// successful Authenticate.
func (c *Client) Me() *protocol.UserInfo {
	c.st.mu.RLock()
	defer c.st.mu.RUnlock()
	return c.st.me
}

// RoomState returns a copy of the current room mirror, or nil if not in
// a room.
func (c *Client) RoomState() *protocol.ClientRoomState {
	c.st.mu.RLock()
	defer c.st.mu.RUnlock()
	if c.st.room == nil {
		return nil
	}
	cp := *c.st.room
	return &cp
}

// TakeMessages drains every Message received since the last call.
func (c *Client) TakeMessages() []protocol.Message { return c.st.takeMessages() }

// LivePlayer returns (creating if necessary) the telemetry buffer for
// the given player id.
func (c *Client) LivePlayer(id int32) *LivePlayer { return c.st.livePlayer(id) }

// Authenticate logs in with token and updates the local user/room
// mirror on success.
func (c *Client) Authenticate(ctx context.Context, token string) (protocol.UserInfo, error) {
	tok, err := wire.NewVarchar(token, protocol.AuthTokenMaxLen)
	if err != nil {
		return protocol.UserInfo{}, err
	}
	res, err := rcall(ctx, c, c.st.cbAuthenticate, protocol.CCAuthenticate{Token: tok})
	if err != nil {
		return protocol.UserInfo{}, err
	}
	c.st.mu.Lock()
	me := res.me
	c.st.me = &me
	c.st.room = res.room
	c.st.mu.Unlock()
	return me, nil
}

// Chat sends a chat line to the caller's current room.
func (c *Client) Chat(ctx context.Context, message string) error {
	msg, err := wire.NewVarchar(message, protocol.ChatMaxLen)
	if err != nil {
		return err
	}
	_, err = rcall(ctx, c, c.st.cbChat, protocol.CCChat{Message: msg})
	return err
}

// CreateRoom creates and joins a new room as its host.
func (c *Client) CreateRoom(ctx context.Context, id wire.RoomID) error {
	_, err := rcall(ctx, c, c.st.cbCreateRoom, protocol.CCCreateRoom{ID: id})
	if err != nil {
		return err
	}
	c.st.mu.Lock()
	c.st.room = &protocol.ClientRoomState{
		ID:     id,
		IsHost: true,
		Users:  map[int32]protocol.UserInfo{},
	}
	if c.st.me != nil {
		c.st.room.Users[c.st.me.ID] = *c.st.me
	}
	c.st.mu.Unlock()
	return nil
}

// JoinRoom joins an existing room, optionally as a monitor (spectator).
func (c *Client) JoinRoom(ctx context.Context, id wire.RoomID, monitor bool) (protocol.JoinRoomResponse, error) {
	resp, err := rcall(ctx, c, c.st.cbJoinRoom, protocol.CCJoinRoom{ID: id, Monitor: monitor})
	if err != nil {
		return protocol.JoinRoomResponse{}, err
	}
	users := make(map[int32]protocol.UserInfo, len(resp.Users))
	for _, u := range resp.Users {
		users[u.ID] = u
	}
	c.st.mu.Lock()
	c.st.room = &protocol.ClientRoomState{
		ID:     id,
		State:  resp.State,
		Live:   resp.Live,
		IsHost: false,
		Users:  users,
	}
	c.st.mu.Unlock()
	return resp, nil
}

// LeaveRoom leaves the caller's current room and clears the local
// mirror.
func (c *Client) LeaveRoom(ctx context.Context) error {
	_, err := rcall(ctx, c, c.st.cbLeaveRoom, protocol.CCLeaveRoom{})
	if err != nil {
		return err
	}
	c.st.mu.Lock()
	c.st.room = nil
	c.st.mu.Unlock()
	c.st.clearLivePlayers()
	return nil
}

// LockRoom toggles whether new members may join (host only).
func (c *Client) LockRoom(ctx context.Context, lock bool) error {
	_, err := rcall(ctx, c, c.st.cbLockRoom, protocol.CCLockRoom{Lock: lock})
	return err
}

// CycleRoom toggles host rotation after each round (host only).
func (c *Client) CycleRoom(ctx context.Context, cycle bool) error {
	_, err := rcall(ctx, c, c.st.cbCycleRoom, protocol.CCCycleRoom{Cycle: cycle})
	return err
}

// SelectChart picks the chart for the next round (host only).
func (c *Client) SelectChart(ctx context.Context, id int32) error {
	_, err := rcall(ctx, c, c.st.cbSelectChart, protocol.CCSelectChart{ID: id})
	return err
}

// RequestStart asks to begin the ready phase (host only); forces the
// local ready mirror true, matching the server's host-is-always-ready
// rule.
func (c *Client) RequestStart(ctx context.Context) error {
	_, err := rcall(ctx, c, c.st.cbRequestStart, protocol.CCRequestStart{})
	if err != nil {
		return err
	}
	c.setReady(true)
	return nil
}

// Ready marks the caller ready to play.
func (c *Client) Ready(ctx context.Context) error {
	_, err := rcall(ctx, c, c.st.cbReady, protocol.CCReady{})
	if err != nil {
		return err
	}
	c.setReady(true)
	return nil
}

// CancelReady un-marks the caller as ready.
func (c *Client) CancelReady(ctx context.Context) error {
	_, err := rcall(ctx, c, c.st.cbCancelReady, protocol.CCCancelReady{})
	if err != nil {
		return err
	}
	c.setReady(false)
	return nil
}

// Played reports the caller's final result record id for the round.
func (c *Client) Played(ctx context.Context, id int32) error {
	_, err := rcall(ctx, c, c.st.cbPlayed, protocol.CCPlayed{ID: id})
	return err
}

// Abort gives up on the in-progress round.
func (c *Client) Abort(ctx context.Context) error {
	_, err := rcall(ctx, c, c.st.cbAbort, protocol.CCAbort{})
	return err
}

func (c *Client) setReady(v bool) {
	c.st.mu.Lock()
	if c.st.room != nil {
		c.st.room.IsReady = v
	}
	c.st.mu.Unlock()
}
