package session

import (
	"context"
	"time"

	"github.com/noteflow/mp-server/internal/logging"
	"github.com/noteflow/mp-server/internal/metrics"
	"github.com/noteflow/mp-server/internal/room"
)

// Dangle begins the reconnect grace period for u after its session was
// lost. It is the Go rendering of the reference implementation's
// User::dangle: the user's session is cleared immediately so sends stop
// landing anywhere, but the user and its room membership stay intact
// for DangleGrace in case the same client reconnects with the same
// token. If u's room is mid-round at the moment dangling begins, the
// grace period is bypassed entirely (spec.md §4.5) — a player
// disappearing mid-song can't be allowed to stall everyone else's
// round for ten seconds.
//
// Called by the server's lost-connection reaper after it removes the
// session from the session registry; ctx should be the reaper's
// lifetime context so a server shutdown cancels any pending grace
// timers instead of leaking goroutines.
func Dangle(ctx context.Context, regs Registries, u *room.User) {
	logging.L().Info("user_dangling", "user", u.ID)
	u.Detach()
	metrics.UsersDangling.Inc()

	immediate := false
	if r := u.Room(); r != nil {
		immediate = r.IsPlaying()
	}

	teardown := func() {
		metrics.UsersDangling.Dec()
		metrics.UsersActive.Dec()
		regs.Users.Remove(u.ID)
		if r := u.Room(); r != nil {
			if r.OnUserLeave(u) {
				regs.Rooms.Remove(r.ID)
				metrics.RoomsActive.Dec()
			}
		}
	}

	if immediate {
		logging.L().Info("user_dangle_bypassed_room_playing", "user", u.ID)
		teardown()
		return
	}

	marker := u.BeginDangle()
	go func() {
		timer := time.NewTimer(DangleGrace)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return
		}
		if u.StillDangling(marker) {
			logging.L().Info("user_dangle_expired", "user", u.ID)
			teardown()
		} else {
			logging.L().Info("user_reattached_during_grace", "user", u.ID)
			metrics.UsersDangling.Dec()
		}
	}()
}
