package client

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/noteflow/mp-server/internal/protocol"
	"github.com/noteflow/mp-server/internal/stream"
	"github.com/noteflow/mp-server/internal/wire"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeServer stands in for the real server side of the wire: it is the
// accepting party in the handshake (reads the version byte Client.New
// writes) and gives the test direct control over what ServerCommands it
// sends and which ClientCommands it observed.
type fakeServer struct {
	strm *stream.Stream[protocol.ServerCommand, protocol.ClientCommand]
	recv chan protocol.ClientCommand
}

func newTestClient(t *testing.T) (*Client, *fakeServer) {
	t.Helper()
	serverConn, clientConn := net.Pipe()

	type result struct {
		c   *Client
		err error
	}
	resCh := make(chan result, 1)
	go func() {
		c, err := New(clientConn, nil)
		resCh <- result{c, err}
	}()

	fs := &fakeServer{recv: make(chan protocol.ClientCommand, 16)}
	strm, err := stream.Open[protocol.ServerCommand, protocol.ClientCommand](
		serverConn, nil,
		func(v protocol.ServerCommand) []byte {
			w := wire.NewWriter()
			protocol.WriteServerCommand(w, v)
			return w.Bytes()
		},
		func(data []byte) (protocol.ClientCommand, error) {
			return protocol.ReadClientCommand(wire.NewReader(data))
		},
		func(_ *stream.Stream[protocol.ServerCommand, protocol.ClientCommand], payload protocol.ClientCommand) {
			fs.recv <- payload
		},
		nil,
	)
	if err != nil {
		t.Fatalf("server-side handshake: %v", err)
	}
	fs.strm = strm

	res := <-resCh
	if res.err != nil {
		t.Fatalf("client.New: %v", res.err)
	}
	t.Cleanup(func() {
		_ = res.c.Close()
		_ = fs.strm.Close()
	})
	return res.c, fs
}

func (fs *fakeServer) awaitCommand(t *testing.T) protocol.ClientCommand {
	t.Helper()
	select {
	case cmd := <-fs.recv:
		return cmd
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for client command")
		return nil
	}
}

func (fs *fakeServer) send(t *testing.T, cmd protocol.ServerCommand) {
	t.Helper()
	if err := fs.strm.Send(context.Background(), cmd); err != nil {
		t.Fatalf("server send: %v", err)
	}
}

func TestAuthenticateRoundTrip(t *testing.T) {
	c, fs := newTestClient(t)

	resultCh := make(chan struct {
		info protocol.UserInfo
		err  error
	}, 1)
	go func() {
		info, err := c.Authenticate(context.Background(), string(make([]byte, protocol.AuthTokenMaxLen)))
		resultCh <- struct {
			info protocol.UserInfo
			err  error
		}{info, err}
	}()

	cmd := fs.awaitCommand(t)
	if _, ok := cmd.(protocol.CCAuthenticate); !ok {
		t.Fatalf("expected CCAuthenticate, got %T", cmd)
	}
	fs.send(t, protocol.SCAuthenticate{Result: wire.ResultOk(protocol.AuthResult{
		User: protocol.UserInfo{ID: 7, Name: "alice"},
	})})

	select {
	case res := <-resultCh:
		if res.err != nil {
			t.Fatalf("Authenticate: %v", res.err)
		}
		if res.info.ID != 7 || res.info.Name != "alice" {
			t.Fatalf("unexpected user info: %+v", res.info)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("Authenticate never returned")
	}

	if got := c.Me(); got == nil || got.ID != 7 {
		t.Fatalf("Me() = %+v, want ID 7", got)
	}
}

func TestCreateRoomUpdatesMirror(t *testing.T) {
	c, fs := newTestClient(t)

	authDone := make(chan struct{})
	go func() {
		_, _ = c.Authenticate(context.Background(), string(make([]byte, protocol.AuthTokenMaxLen)))
		close(authDone)
	}()
	_ = fs.awaitCommand(t)
	fs.send(t, protocol.SCAuthenticate{Result: wire.ResultOk(protocol.AuthResult{
		User: protocol.UserInfo{ID: 1, Name: "host"},
	})})
	<-authDone

	id, err := wire.NewRoomID("ROOM01")
	if err != nil {
		t.Fatalf("NewRoomID: %v", err)
	}

	createDone := make(chan error, 1)
	go func() { createDone <- c.CreateRoom(context.Background(), id) }()
	cmd := fs.awaitCommand(t)
	if _, ok := cmd.(protocol.CCCreateRoom); !ok {
		t.Fatalf("expected CCCreateRoom, got %T", cmd)
	}
	fs.send(t, protocol.SCCreateRoom{Result: protocol.Ack()})

	select {
	case err := <-createDone:
		if err != nil {
			t.Fatalf("CreateRoom: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("CreateRoom never returned")
	}

	room := c.RoomState()
	if room == nil {
		t.Fatalf("expected a room mirror after CreateRoom")
	}
	if !room.IsHost {
		t.Fatalf("expected IsHost true after CreateRoom")
	}
	if room.ID != id {
		t.Fatalf("room id = %q, want %q", room.ID, id)
	}
}

func TestMessagePushAndLeaveRoomPrunesUser(t *testing.T) {
	c, fs := newTestClient(t)
	c.st.mu.Lock()
	c.st.room = &protocol.ClientRoomState{
		ID:    wire.RoomID("R"),
		Users: map[int32]protocol.UserInfo{2: {ID: 2, Name: "bob"}},
	}
	c.st.mu.Unlock()

	fs.send(t, protocol.SCMessage{Message: protocol.MessageLeaveRoom{User: 2, Name: "bob"}})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		msgs := c.TakeMessages()
		if len(msgs) > 0 {
			if _, ok := msgs[0].(protocol.MessageLeaveRoom); !ok {
				t.Fatalf("expected MessageLeaveRoom, got %T", msgs[0])
			}
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	room := c.RoomState()
	if room == nil {
		t.Fatalf("room mirror should still exist")
	}
	if _, present := room.Users[2]; present {
		t.Fatalf("user 2 should have been pruned from the room mirror")
	}
}

func TestPongSatisfiesPing(t *testing.T) {
	c, fs := newTestClient(t)

	pingDone := make(chan time.Duration, 1)
	go func() {
		d, err := c.Ping(context.Background())
		if err != nil {
			t.Errorf("Ping: %v", err)
		}
		pingDone <- d
	}()

	cmd := fs.awaitCommand(t)
	if _, ok := cmd.(protocol.CCPing); !ok {
		t.Fatalf("expected CCPing, got %T", cmd)
	}
	fs.send(t, protocol.SCPong{})

	select {
	case <-pingDone:
	case <-time.After(3 * time.Second):
		t.Fatalf("Ping never returned")
	}
}
