package session

import (
	"context"
	"time"

	"github.com/noteflow/mp-server/internal/l10n"
	"github.com/noteflow/mp-server/internal/logging"
	"github.com/noteflow/mp-server/internal/metrics"
	"github.com/noteflow/mp-server/internal/protocol"
	"github.com/noteflow/mp-server/internal/room"
	"github.com/noteflow/mp-server/internal/wire"
)

// handleAuthenticate runs once, before anything else, for every
// session: any other frame received first is logged and dropped
// (spec.md §4.5 "AwaitingAuthenticate"). The token must decode as a
// Varchar<32> AND its byte length must be exactly 32 — a short token is
// well-formed wire-wise but not a valid token.
func (s *Session) handleAuthenticate(cmd protocol.ClientCommand) {
	auth, ok := cmd.(protocol.CCAuthenticate)
	if !ok {
		logging.L().Warn("packet_before_authenticate", "session", s.ID)
		return
	}
	token := auth.Token.String()
	if len(token) != protocol.AuthTokenMaxLen {
		s.failAuth("invalid token")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	info, err := s.identity.FetchAuthInfo(ctx, token)
	if err != nil {
		logging.L().Warn("authenticate_fetch_failed", "session", s.ID, "error", err)
		metrics.AuthFailures.Inc()
		s.failAuth("invalid token")
		return
	}

	lang := l10n.ParseLanguage(info.Language)
	u, existing := s.regs.Users.Get(info.ID)
	if existing {
		logging.L().Info("session_reconnect", "user", info.ID, "session", s.ID)
	} else {
		u = room.NewUser(info.ID, info.Name, lang)
		s.regs.Users.Add(info.ID, u)
		metrics.UsersActive.Inc()
	}
	u.SetSession(s)
	s.user = u
	s.authenticated.Store(true)

	var roomState *protocol.ClientRoomState
	if r := u.Room(); r != nil {
		cs := r.ClientState(u)
		roomState = &cs
	}
	s.TrySend(protocol.SCAuthenticate{
		Result: wire.ResultOk(protocol.AuthResult{User: u.ToInfo(), Room: roomState}),
	})
}

func (s *Session) failAuth(reason string) {
	s.TrySend(protocol.SCAuthenticate{Result: wire.ResultErr[protocol.AuthResult](reason)})
	s.panicked.Store(true)
	s.reportLost()
}
