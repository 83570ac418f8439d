package protocol

import "github.com/noteflow/mp-server/internal/wire"

// RoomStateKind is the discriminant of RoomState's three variants.
type RoomStateKind uint8

const (
	RoomStateSelectChart RoomStateKind = iota
	RoomStateWaitingForReady
	RoomStatePlaying
)

// RoomState is the room's public state as broadcast to all members.
// ChartID is only meaningful when Kind is RoomStateSelectChart, and may
// still be nil there (no chart picked yet).
type RoomState struct {
	Kind    RoomStateKind
	ChartID *int32
}

func ReadRoomState(r *wire.Reader) (RoomState, error) {
	k, err := r.Byte()
	if err != nil {
		return RoomState{}, err
	}
	switch RoomStateKind(k) {
	case RoomStateSelectChart:
		chart, err := wire.ReadOptional(r, func(r *wire.Reader) (int32, error) { return r.I32() })
		if err != nil {
			return RoomState{}, err
		}
		return RoomState{Kind: RoomStateSelectChart, ChartID: chart}, nil
	case RoomStateWaitingForReady:
		return RoomState{Kind: RoomStateWaitingForReady}, nil
	case RoomStatePlaying:
		return RoomState{Kind: RoomStatePlaying}, nil
	default:
		return RoomState{}, wire.ErrDecode
	}
}

func WriteRoomState(w *wire.Writer, s RoomState) {
	w.Byte(byte(s.Kind))
	if s.Kind == RoomStateSelectChart {
		wire.WriteOptional(w, s.ChartID, func(w *wire.Writer, v int32) { w.I32(v) })
	}
}

// JoinRoomResponse is the payload of a successful ServerCommand JoinRoom
// reply: the room's current public state, its member list, and whether
// the room is live (a monitor has joined it).
type JoinRoomResponse struct {
	State RoomState
	Users []UserInfo
	Live  bool
}

func ReadJoinRoomResponse(r *wire.Reader) (JoinRoomResponse, error) {
	state, err := ReadRoomState(r)
	if err != nil {
		return JoinRoomResponse{}, err
	}
	users, err := wire.ReadSlice(r, ReadUserInfo)
	if err != nil {
		return JoinRoomResponse{}, err
	}
	live, err := r.Bool()
	if err != nil {
		return JoinRoomResponse{}, err
	}
	return JoinRoomResponse{State: state, Users: users, Live: live}, nil
}

func WriteJoinRoomResponse(w *wire.Writer, resp JoinRoomResponse) {
	WriteRoomState(w, resp.State)
	wire.WriteSlice(w, resp.Users, WriteUserInfo)
	w.Bool(resp.Live)
}

// ClientRoomState is the client-side mirror of a room's state, kept up to
// date by client.Client as ServerCommands arrive.
type ClientRoomState struct {
	ID      wire.RoomID
	State   RoomState
	Live    bool
	Locked  bool
	Cycle   bool
	IsHost  bool
	IsReady bool
	Users   map[int32]UserInfo
}

func ReadClientRoomState(r *wire.Reader) (ClientRoomState, error) {
	id, err := wire.ReadRoomID(r)
	if err != nil {
		return ClientRoomState{}, err
	}
	state, err := ReadRoomState(r)
	if err != nil {
		return ClientRoomState{}, err
	}
	live, err := r.Bool()
	if err != nil {
		return ClientRoomState{}, err
	}
	locked, err := r.Bool()
	if err != nil {
		return ClientRoomState{}, err
	}
	cycle, err := r.Bool()
	if err != nil {
		return ClientRoomState{}, err
	}
	isHost, err := r.Bool()
	if err != nil {
		return ClientRoomState{}, err
	}
	isReady, err := r.Bool()
	if err != nil {
		return ClientRoomState{}, err
	}
	users, err := wire.ReadMap(r, func(r *wire.Reader) (int32, error) { return r.I32() }, ReadUserInfo)
	if err != nil {
		return ClientRoomState{}, err
	}
	return ClientRoomState{
		ID: id, State: state, Live: live, Locked: locked, Cycle: cycle,
		IsHost: isHost, IsReady: isReady, Users: users,
	}, nil
}

func WriteClientRoomState(w *wire.Writer, s ClientRoomState) {
	wire.WriteRoomID(w, s.ID)
	WriteRoomState(w, s.State)
	w.Bool(s.Live)
	w.Bool(s.Locked)
	w.Bool(s.Cycle)
	w.Bool(s.IsHost)
	w.Bool(s.IsReady)
	wire.WriteMap(w, s.Users, func(w *wire.Writer, k int32) { w.I32(k) }, WriteUserInfo)
}
