package server

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/noteflow/mp-server/client"
	"github.com/noteflow/mp-server/internal/identity"
	"github.com/noteflow/mp-server/internal/protocol"
	"github.com/noteflow/mp-server/internal/wire"
)

// e2eIdentity is fakeIdentity plus a record store so Played round-trips
// can be driven end to end: FetchRecord returns whatever setRecord
// stored for that record id.
type e2eIdentity struct {
	fakeIdentity
	recordsMu sync.Mutex
	records   map[int32]identity.Record
}

func newE2EIdentity() *e2eIdentity {
	return &e2eIdentity{
		fakeIdentity: fakeIdentity{auth: map[string]identity.AuthInfo{}},
		records:      map[int32]identity.Record{},
	}
}

func (e *e2eIdentity) FetchRecord(_ context.Context, id int32) (identity.Record, error) {
	e.recordsMu.Lock()
	defer e.recordsMu.Unlock()
	rec, ok := e.records[id]
	if !ok {
		return identity.Record{}, errNoSuchToken
	}
	return rec, nil
}

func (e *e2eIdentity) setRecord(id int32, rec identity.Record) {
	e.recordsMu.Lock()
	e.records[id] = rec
	e.recordsMu.Unlock()
}

func dialRawClient(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func newE2EClient(t *testing.T, addr string) *client.Client {
	t.Helper()
	conn := dialRawClient(t, addr)
	c, err := client.New(conn, nil)
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func authenticate(t *testing.T, c *client.Client, tag byte) protocol.UserInfo {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	me, err := c.Authenticate(ctx, token32(tag))
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	return me
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition never became true")
}

// TestE2E_CreateJoinChat covers a host creating a room, a second player
// joining it, and a chat line reaching both members.
func TestE2E_CreateJoinChat(t *testing.T) {
	ident := newE2EIdentity()
	ident.auth[token32('a')] = identity.AuthInfo{ID: 1, Name: "alice", Language: "en-US"}
	ident.auth[token32('b')] = identity.AuthInfo{ID: 2, Name: "bob", Language: "en-US"}

	srv := NewServer(WithListenAddr("127.0.0.1:0"), WithIdentity(ident))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { _ = srv.Serve(ctx); close(done) }()
	select {
	case <-srv.Ready():
	case <-time.After(2 * time.Second):
		t.Fatalf("server never became ready")
	}
	t.Cleanup(func() {
		cancel()
		sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer scancel()
		_ = srv.Shutdown(sctx)
		<-done
	})

	alice := newE2EClient(t, srv.Addr())
	authenticate(t, alice, 'a')

	bob := newE2EClient(t, srv.Addr())
	authenticate(t, bob, 'b')

	ctxOp, cancelOp := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancelOp()
	roomID, err := wire.NewRoomID("lobby")
	if err != nil {
		t.Fatalf("NewRoomID: %v", err)
	}
	if err := alice.CreateRoom(ctxOp, roomID); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if rs := alice.RoomState(); rs == nil || !rs.IsHost {
		t.Fatalf("expected alice to mirror host room state, got %+v", rs)
	}

	if _, err := bob.JoinRoom(ctxOp, roomID, false); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	if rs := bob.RoomState(); rs == nil || rs.IsHost {
		t.Fatalf("expected bob to mirror non-host room state, got %+v", rs)
	}

	if err := bob.Chat(ctxOp, "hi alice"); err != nil {
		t.Fatalf("Chat: %v", err)
	}

	waitFor(t, func() bool {
		for _, m := range alice.TakeMessages() {
			if chat, ok := m.(protocol.MessageChat); ok && chat.Content == "hi alice" {
				return true
			}
		}
		return false
	})
}

// TestE2E_LockBlocksJoin covers a host locking a room and a second
// client being refused entry while it's locked.
func TestE2E_LockBlocksJoin(t *testing.T) {
	ident := newE2EIdentity()
	ident.auth[token32('a')] = identity.AuthInfo{ID: 1, Name: "alice", Language: "en-US"}
	ident.auth[token32('b')] = identity.AuthInfo{ID: 2, Name: "bob", Language: "en-US"}

	srv := NewServer(WithListenAddr("127.0.0.1:0"), WithIdentity(ident))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { _ = srv.Serve(ctx); close(done) }()
	select {
	case <-srv.Ready():
	case <-time.After(2 * time.Second):
		t.Fatalf("server never became ready")
	}
	t.Cleanup(func() {
		cancel()
		sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer scancel()
		_ = srv.Shutdown(sctx)
		<-done
	})

	alice := newE2EClient(t, srv.Addr())
	authenticate(t, alice, 'a')
	bob := newE2EClient(t, srv.Addr())
	authenticate(t, bob, 'b')

	ctxOp, cancelOp := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancelOp()
	roomID, _ := wire.NewRoomID("locked")
	if err := alice.CreateRoom(ctxOp, roomID); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if err := alice.LockRoom(ctxOp, true); err != nil {
		t.Fatalf("LockRoom: %v", err)
	}

	if _, err := bob.JoinRoom(ctxOp, roomID, false); err == nil {
		t.Fatalf("expected JoinRoom to fail against a locked room")
	}

	if err := alice.LockRoom(ctxOp, false); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if _, err := bob.JoinRoom(ctxOp, roomID, false); err != nil {
		t.Fatalf("JoinRoom after unlock: %v", err)
	}
}

// TestE2E_ReadyStartPlayAndHostMigration drives a full round — chart
// select, start, ready, play — then has the host leave so the
// surviving player sees a ChangeHost push.
func TestE2E_ReadyStartPlayAndHostMigration(t *testing.T) {
	ident := newE2EIdentity()
	ident.auth[token32('a')] = identity.AuthInfo{ID: 1, Name: "alice", Language: "en-US"}
	ident.auth[token32('b')] = identity.AuthInfo{ID: 2, Name: "bob", Language: "en-US"}

	srv := NewServer(WithListenAddr("127.0.0.1:0"), WithIdentity(ident))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { _ = srv.Serve(ctx); close(done) }()
	select {
	case <-srv.Ready():
	case <-time.After(2 * time.Second):
		t.Fatalf("server never became ready")
	}
	t.Cleanup(func() {
		cancel()
		sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer scancel()
		_ = srv.Shutdown(sctx)
		<-done
	})

	alice := newE2EClient(t, srv.Addr())
	authenticate(t, alice, 'a')
	bob := newE2EClient(t, srv.Addr())
	authenticate(t, bob, 'b')

	ctxOp, cancelOp := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancelOp()
	roomID, _ := wire.NewRoomID("round1")
	mustOK(t, alice.CreateRoom(ctxOp, roomID))
	if _, err := bob.JoinRoom(ctxOp, roomID, false); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}

	mustOK(t, alice.SelectChart(ctxOp, 42))
	mustOK(t, alice.RequestStart(ctxOp))
	// Host is auto-ready; bob must ready up explicitly.
	mustOK(t, bob.Ready(ctxOp))

	waitFor(t, func() bool {
		rs := alice.RoomState()
		return rs != nil && rs.State.Kind == protocol.RoomStatePlaying
	})
	waitFor(t, func() bool {
		rs := bob.RoomState()
		return rs != nil && rs.State.Kind == protocol.RoomStatePlaying
	})

	ident.setRecord(100, identity.Record{ID: 100, Player: 1, Score: 900000})
	ident.setRecord(200, identity.Record{ID: 200, Player: 2, Score: 800000})
	mustOK(t, alice.Played(ctxOp, 100))
	mustOK(t, bob.Played(ctxOp, 200))

	waitFor(t, func() bool {
		rs := bob.RoomState()
		return rs != nil && rs.State.Kind == protocol.RoomStateSelectChart
	})

	// Host migration: alice (host) leaves, bob should become host.
	mustOK(t, alice.LeaveRoom(ctxOp))
	waitFor(t, func() bool {
		rs := bob.RoomState()
		return rs != nil && rs.IsHost
	})
}

// TestE2E_CycleRotation enables cycle-on-completion and checks that the
// host rotates to the other participant once a round finishes.
func TestE2E_CycleRotation(t *testing.T) {
	ident := newE2EIdentity()
	ident.auth[token32('a')] = identity.AuthInfo{ID: 1, Name: "alice", Language: "en-US"}
	ident.auth[token32('b')] = identity.AuthInfo{ID: 2, Name: "bob", Language: "en-US"}

	srv := NewServer(WithListenAddr("127.0.0.1:0"), WithIdentity(ident))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { _ = srv.Serve(ctx); close(done) }()
	select {
	case <-srv.Ready():
	case <-time.After(2 * time.Second):
		t.Fatalf("server never became ready")
	}
	t.Cleanup(func() {
		cancel()
		sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer scancel()
		_ = srv.Shutdown(sctx)
		<-done
	})

	alice := newE2EClient(t, srv.Addr())
	authenticate(t, alice, 'a')
	bob := newE2EClient(t, srv.Addr())
	authenticate(t, bob, 'b')

	ctxOp, cancelOp := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancelOp()
	roomID, _ := wire.NewRoomID("cycled")
	mustOK(t, alice.CreateRoom(ctxOp, roomID))
	if _, err := bob.JoinRoom(ctxOp, roomID, false); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	mustOK(t, alice.CycleRoom(ctxOp, true))

	mustOK(t, alice.SelectChart(ctxOp, 1))
	mustOK(t, alice.RequestStart(ctxOp))
	mustOK(t, bob.Ready(ctxOp))

	waitFor(t, func() bool {
		rs := alice.RoomState()
		return rs != nil && rs.State.Kind == protocol.RoomStatePlaying
	})

	ident.setRecord(1, identity.Record{ID: 1, Player: 1, Score: 1})
	ident.setRecord(2, identity.Record{ID: 2, Player: 2, Score: 1})
	mustOK(t, alice.Played(ctxOp, 1))
	mustOK(t, bob.Played(ctxOp, 2))

	waitFor(t, func() bool {
		rs := bob.RoomState()
		return rs != nil && rs.IsHost
	})
	waitFor(t, func() bool {
		rs := alice.RoomState()
		return rs != nil && !rs.IsHost
	})
}

// TestE2E_Reconnect covers a client dropping its TCP connection and
// reconnecting with the same token before the dangle grace period
// expires, picking its room membership back up.
func TestE2E_Reconnect(t *testing.T) {
	ident := newE2EIdentity()
	ident.auth[token32('a')] = identity.AuthInfo{ID: 1, Name: "alice", Language: "en-US"}

	srv := NewServer(WithListenAddr("127.0.0.1:0"), WithIdentity(ident))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { _ = srv.Serve(ctx); close(done) }()
	select {
	case <-srv.Ready():
	case <-time.After(2 * time.Second):
		t.Fatalf("server never became ready")
	}
	t.Cleanup(func() {
		cancel()
		sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer scancel()
		_ = srv.Shutdown(sctx)
		<-done
	})

	ctxOp, cancelOp := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancelOp()
	conn1 := dialRawClient(t, srv.Addr())
	first, err := client.New(conn1, nil)
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}
	authenticate(t, first, 'a')
	roomID, _ := wire.NewRoomID("persist")
	mustOK(t, first.CreateRoom(ctxOp, roomID))
	_ = first.Close()

	conn2 := dialRawClient(t, srv.Addr())
	second, err := client.New(conn2, nil)
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}
	t.Cleanup(func() { _ = second.Close() })

	ctxAuth, cancelAuth := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancelAuth()
	me, err := second.Authenticate(ctxAuth, token32('a'))
	if err != nil {
		t.Fatalf("reconnect authenticate: %v", err)
	}
	if me.ID != 1 {
		t.Fatalf("unexpected reconnect user id: %d", me.ID)
	}
	if rs := second.RoomState(); rs == nil || rs.ID != roomID || !rs.IsHost {
		t.Fatalf("expected room membership to survive reconnect, got %+v", rs)
	}
}

func mustOK(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
}
