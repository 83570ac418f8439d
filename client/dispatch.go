package client

import (
	"errors"

	"github.com/noteflow/mp-server/internal/protocol"
	"github.com/noteflow/mp-server/internal/stream"
	"github.com/noteflow/mp-server/internal/wire"
)

type clientStream = stream.Stream[protocol.ClientCommand, protocol.ServerCommand]

// unitOf turns a unit wire.Result into (struct{}{}, nil) or (struct{}{},
// error-with-the-server's-reason), the shape every plain ack/reject RPC
// slot expects.
func unitOf(res wire.Result[struct{}]) (struct{}, error) {
	if res.Ok {
		return struct{}{}, nil
	}
	return struct{}{}, errors.New(res.Err)
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// handle is the Stream handler: every decoded ServerCommand arrives here
// on the stream's single receive goroutine, so no two pushes are ever
// processed concurrently. Mirrors original_source/phira-mp-client/src/
// lib.rs's process function.
func (c *Client) handle(_ *clientStream, cmd protocol.ServerCommand) {
	switch v := cmd.(type) {
	case protocol.SCPong:
		notify(c.st.pingNotify)

	case protocol.SCAuthenticate:
		if v.Result.Ok {
			c.st.cbAuthenticate.fulfill(authResult{me: v.Result.Value.User, room: v.Result.Value.Room}, nil)
		} else {
			c.st.cbAuthenticate.fulfill(authResult{}, errors.New(v.Result.Err))
		}

	case protocol.SCChat:
		_, err := unitOf(v.Result)
		c.st.cbChat.fulfill(struct{}{}, err)

	case protocol.SCTouches:
		c.st.livePlayer(v.Player).appendTouches(v.Frames)

	case protocol.SCJudges:
		c.st.livePlayer(v.Player).appendJudges(v.Judges)

	case protocol.SCMessage:
		c.handleMessage(v.Message)

	case protocol.SCChangeState:
		c.st.clearLivePlayers()
		c.st.mu.Lock()
		if c.st.room != nil {
			c.st.room.State = v.State
			c.st.room.IsReady = c.st.room.IsHost
		}
		c.st.mu.Unlock()

	case protocol.SCChangeHost:
		c.st.mu.Lock()
		if c.st.room != nil {
			c.st.room.IsHost = v.IsHost
		}
		c.st.mu.Unlock()

	case protocol.SCCreateRoom:
		_, err := unitOf(v.Result)
		c.st.cbCreateRoom.fulfill(struct{}{}, err)

	case protocol.SCJoinRoom:
		if v.Result.Ok {
			c.st.cbJoinRoom.fulfill(v.Result.Value, nil)
		} else {
			c.st.cbJoinRoom.fulfill(protocol.JoinRoomResponse{}, errors.New(v.Result.Err))
		}

	case protocol.SCOnJoinRoom:
		c.st.mu.Lock()
		if c.st.room != nil {
			c.st.room.Live = c.st.room.Live || v.User.Monitor
			if c.st.room.Users == nil {
				c.st.room.Users = map[int32]protocol.UserInfo{}
			}
			c.st.room.Users[v.User.ID] = v.User
		}
		c.st.mu.Unlock()

	case protocol.SCLeaveRoom:
		_, err := unitOf(v.Result)
		c.st.cbLeaveRoom.fulfill(struct{}{}, err)

	case protocol.SCLockRoom:
		_, err := unitOf(v.Result)
		c.st.cbLockRoom.fulfill(struct{}{}, err)

	case protocol.SCCycleRoom:
		_, err := unitOf(v.Result)
		c.st.cbCycleRoom.fulfill(struct{}{}, err)

	case protocol.SCSelectChart:
		_, err := unitOf(v.Result)
		c.st.cbSelectChart.fulfill(struct{}{}, err)

	case protocol.SCRequestStart:
		_, err := unitOf(v.Result)
		c.st.cbRequestStart.fulfill(struct{}{}, err)

	case protocol.SCReady:
		_, err := unitOf(v.Result)
		c.st.cbReady.fulfill(struct{}{}, err)

	case protocol.SCCancelReady:
		_, err := unitOf(v.Result)
		c.st.cbCancelReady.fulfill(struct{}{}, err)

	case protocol.SCPlayed:
		_, err := unitOf(v.Result)
		c.st.cbPlayed.fulfill(struct{}{}, err)

	case protocol.SCAbort:
		_, err := unitOf(v.Result)
		c.st.cbAbort.fulfill(struct{}{}, err)
	}
}

// handleMessage applies the room-mirror side effects of a broadcast
// Message, then unconditionally queues it for the caller to drain via
// TakeMessages.
func (c *Client) handleMessage(m protocol.Message) {
	switch msg := m.(type) {
	case protocol.MessageLockRoom:
		c.st.mu.Lock()
		if c.st.room != nil {
			c.st.room.Locked = msg.Lock
		}
		c.st.mu.Unlock()
	case protocol.MessageCycleRoom:
		c.st.mu.Lock()
		if c.st.room != nil {
			c.st.room.Cycle = msg.Cycle
		}
		c.st.mu.Unlock()
	case protocol.MessageLeaveRoom:
		c.st.mu.Lock()
		if c.st.room != nil && c.st.room.Users != nil {
			delete(c.st.room.Users, msg.User)
		}
		c.st.mu.Unlock()
	}
	c.st.pushMessage(m)
}
