package protocol

import "github.com/noteflow/mp-server/internal/wire"

// UserInfo describes a participant as seen by other clients: a numeric id
// assigned at authentication, a display name, and whether the connection
// is a monitor (spectator) rather than a player.
type UserInfo struct {
	ID      int32
	Name    string
	Monitor bool
}

func ReadUserInfo(r *wire.Reader) (UserInfo, error) {
	id, err := r.I32()
	if err != nil {
		return UserInfo{}, err
	}
	name, err := r.String()
	if err != nil {
		return UserInfo{}, err
	}
	monitor, err := r.Bool()
	if err != nil {
		return UserInfo{}, err
	}
	return UserInfo{ID: id, Name: name, Monitor: monitor}, nil
}

func WriteUserInfo(w *wire.Writer, u UserInfo) {
	w.I32(u.ID)
	w.String(u.Name)
	w.Bool(u.Monitor)
}
