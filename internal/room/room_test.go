package room

import (
	"testing"

	"github.com/noteflow/mp-server/internal/identity"
	"github.com/noteflow/mp-server/internal/l10n"
	"github.com/noteflow/mp-server/internal/protocol"
	"github.com/noteflow/mp-server/internal/wire"
)

type fakeSender struct {
	sent []protocol.ServerCommand
}

func (f *fakeSender) TrySend(cmd protocol.ServerCommand) { f.sent = append(f.sent, cmd) }

func attach(u *User) *fakeSender {
	s := &fakeSender{}
	u.SetSession(s)
	return s
}

func newTestRoom(t *testing.T, hostID int32) (*Room, *User) {
	t.Helper()
	id, err := wire.NewRoomID("ROOM1")
	if err != nil {
		t.Fatalf("NewRoomID: %v", err)
	}
	host := NewUser(hostID, "host", l10n.EnUS)
	attach(host)
	r := New(id, host)
	host.SetRoom(r)
	return r, host
}

func TestAddUserCapsAtEight(t *testing.T) {
	r, _ := newTestRoom(t, 1)
	for i := int32(2); i <= 8; i++ {
		u := NewUser(i, "u", l10n.EnUS)
		if !r.AddUser(u, false) {
			t.Fatalf("AddUser(%d) should have succeeded", i)
		}
	}
	overflow := NewUser(9, "over", l10n.EnUS)
	if r.AddUser(overflow, false) {
		t.Fatalf("AddUser should reject the 9th participant")
	}
	if got := len(r.Users()); got != 8 {
		t.Fatalf("expected 8 users, got %d", got)
	}
}

func TestAddUserMonitorAlwaysSucceeds(t *testing.T) {
	r, _ := newTestRoom(t, 1)
	for i := int32(2); i <= 20; i++ {
		if !r.AddUser(NewUser(i, "m", l10n.EnUS), true) {
			t.Fatalf("monitor add should never be rejected")
		}
	}
	if got := len(r.Monitors()); got != 19 {
		t.Fatalf("expected 19 monitors, got %d", got)
	}
}

func TestCheckHost(t *testing.T) {
	r, host := newTestRoom(t, 1)
	other := NewUser(2, "other", l10n.EnUS)
	r.AddUser(other, false)
	if !r.CheckHost(host) {
		t.Fatalf("host should check true")
	}
	if r.CheckHost(other) {
		t.Fatalf("non-host should check false")
	}
}

func TestStateMachineReadyToPlayingRequiresMonitorsToo(t *testing.T) {
	r, host := newTestRoom(t, 1)
	p2 := NewUser(2, "p2", l10n.EnUS)
	attach(p2)
	r.AddUser(p2, false)
	mon := NewUser(3, "mon", l10n.EnUS)
	monSend := attach(mon)
	r.AddUser(mon, true)

	if err := r.StartRound(host.ID); err != nil {
		t.Fatalf("StartRound: %v", err)
	}
	if err := r.MarkReady(p2.ID); err != nil {
		t.Fatalf("MarkReady p2: %v", err)
	}
	r.CheckAllReady()
	if r.state.kind != stateWaitForReady {
		t.Fatalf("should still be waiting on the monitor")
	}
	if err := r.MarkReady(mon.ID); err != nil {
		t.Fatalf("MarkReady monitor: %v", err)
	}
	r.CheckAllReady()
	if r.state.kind != statePlaying {
		t.Fatalf("expected Playing once host+participant+monitor all ready")
	}
	foundStart := false
	for _, cmd := range monSend.sent {
		if m, ok := cmd.(protocol.SCMessage); ok {
			if _, ok := m.Message.(protocol.MessageStartPlaying); ok {
				foundStart = true
			}
		}
	}
	if !foundStart {
		t.Fatalf("monitor should have observed StartPlaying")
	}
}

func TestPlayingToSelectChartExcludesMonitors(t *testing.T) {
	r, host := newTestRoom(t, 1)
	p2 := NewUser(2, "p2", l10n.EnUS)
	attach(p2)
	r.AddUser(p2, false)
	mon := NewUser(3, "mon", l10n.EnUS)
	attach(mon)
	r.AddUser(mon, true)

	r.StartRound(host.ID)
	r.MarkReady(p2.ID)
	r.MarkReady(mon.ID)
	r.CheckAllReady()
	if r.state.kind != statePlaying {
		t.Fatalf("setup: expected Playing")
	}

	if err := r.SubmitResult(host.ID, identity.Record{Player: host.ID}); err != nil {
		t.Fatalf("SubmitResult host: %v", err)
	}
	r.CheckAllReady()
	if r.state.kind != statePlaying {
		t.Fatalf("should still be playing: monitor never needs a result")
	}
	if err := r.SubmitResult(p2.ID, identity.Record{Player: p2.ID}); err != nil {
		t.Fatalf("SubmitResult p2: %v", err)
	}
	r.CheckAllReady()
	if r.state.kind != stateSelectChart {
		t.Fatalf("expected SelectChart once both non-monitor participants have results")
	}
}

func TestOnUserLeaveMigratesHostAndDropsEmptyRoom(t *testing.T) {
	r, host := newTestRoom(t, 1)
	p2 := NewUser(2, "p2", l10n.EnUS)
	p2Send := attach(p2)
	r.AddUser(p2, false)
	p2.SetRoom(r)

	if drop := r.OnUserLeave(host); drop {
		t.Fatalf("room should not be dropped while p2 remains")
	}
	if !r.CheckHost(p2) {
		t.Fatalf("p2 should have become host")
	}
	foundChangeHost := false
	for _, cmd := range p2Send.sent {
		if ch, ok := cmd.(protocol.SCChangeHost); ok && ch.IsHost {
			foundChangeHost = true
		}
	}
	if !foundChangeHost {
		t.Fatalf("new host should receive ChangeHost(true)")
	}

	if drop := r.OnUserLeave(p2); !drop {
		t.Fatalf("room should be dropped once empty")
	}
}

func TestCycleRotatesHostInInsertionOrder(t *testing.T) {
	r, host := newTestRoom(t, 1)
	p2 := NewUser(2, "p2", l10n.EnUS)
	attach(p2)
	r.AddUser(p2, false)
	r.SetCycle(true)

	r.StartRound(host.ID)
	r.MarkReady(p2.ID)
	r.CheckAllReady()
	r.SubmitResult(host.ID, identity.Record{Player: host.ID})
	r.SubmitResult(p2.ID, identity.Record{Player: p2.ID})
	r.CheckAllReady()

	if !r.CheckHost(p2) {
		t.Fatalf("expected host to rotate to p2")
	}
}

