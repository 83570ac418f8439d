package protocol

import "github.com/noteflow/mp-server/internal/wire"

// ServerCommand is every reply or push the server may send, in the
// declared order of spec.md §6.1 — that order is the wire discriminant.
type ServerCommand interface {
	serverCommandKind() uint8
}

const (
	scKindPong uint8 = iota
	scKindAuthenticate
	scKindChat
	scKindTouches
	scKindJudges
	scKindMessage
	scKindChangeState
	scKindChangeHost
	scKindCreateRoom
	scKindJoinRoom
	scKindOnJoinRoom
	scKindLeaveRoom
	scKindLockRoom
	scKindCycleRoom
	scKindSelectChart
	scKindRequestStart
	scKindReady
	scKindCancelReady
	scKindPlayed
	scKindAbort
)

func readUnit(r *wire.Reader) (struct{}, error) { return struct{}{}, nil }
func writeUnit(w *wire.Writer, _ struct{})       {}

type unitResult = wire.Result[struct{}]

func okUnit() unitResult           { return wire.ResultOk(struct{}{}) }
func errUnit(reason string) unitResult { return wire.ResultErr[struct{}](reason) }

func readUnitResult(r *wire.Reader) (unitResult, error) { return wire.ReadResult(r, readUnit) }
func writeUnitResult(w *wire.Writer, v unitResult)      { wire.WriteResult(w, v, writeUnit) }

// AuthResult is the successful payload of an Authenticate reply: the
// caller's own UserInfo, and the room it was already in before
// reconnecting (nil if it wasn't in a room).
type AuthResult struct {
	User UserInfo
	Room *ClientRoomState
}

func readAuthResult(r *wire.Reader) (AuthResult, error) {
	u, err := ReadUserInfo(r)
	if err != nil {
		return AuthResult{}, err
	}
	room, err := wire.ReadOptional(r, ReadClientRoomState)
	if err != nil {
		return AuthResult{}, err
	}
	return AuthResult{User: u, Room: room}, nil
}

func writeAuthResult(w *wire.Writer, v AuthResult) {
	WriteUserInfo(w, v.User)
	wire.WriteOptional(w, v.Room, WriteClientRoomState)
}

type SCPong struct{}

func (SCPong) serverCommandKind() uint8 { return scKindPong }

type SCAuthenticate struct{ Result wire.Result[AuthResult] }

func (SCAuthenticate) serverCommandKind() uint8 { return scKindAuthenticate }

type SCChat struct{ Result unitResult }

func (SCChat) serverCommandKind() uint8 { return scKindChat }

type SCTouches struct {
	Player int32
	Frames []TouchFrame
}

func (SCTouches) serverCommandKind() uint8 { return scKindTouches }

type SCJudges struct {
	Player int32
	Judges []JudgeEvent
}

func (SCJudges) serverCommandKind() uint8 { return scKindJudges }

type SCMessage struct{ Message Message }

func (SCMessage) serverCommandKind() uint8 { return scKindMessage }

type SCChangeState struct{ State RoomState }

func (SCChangeState) serverCommandKind() uint8 { return scKindChangeState }

type SCChangeHost struct{ IsHost bool }

func (SCChangeHost) serverCommandKind() uint8 { return scKindChangeHost }

type SCCreateRoom struct{ Result unitResult }

func (SCCreateRoom) serverCommandKind() uint8 { return scKindCreateRoom }

type SCJoinRoom struct{ Result wire.Result[JoinRoomResponse] }

func (SCJoinRoom) serverCommandKind() uint8 { return scKindJoinRoom }

type SCOnJoinRoom struct{ User UserInfo }

func (SCOnJoinRoom) serverCommandKind() uint8 { return scKindOnJoinRoom }

type SCLeaveRoom struct{ Result unitResult }

func (SCLeaveRoom) serverCommandKind() uint8 { return scKindLeaveRoom }

type SCLockRoom struct{ Result unitResult }

func (SCLockRoom) serverCommandKind() uint8 { return scKindLockRoom }

type SCCycleRoom struct{ Result unitResult }

func (SCCycleRoom) serverCommandKind() uint8 { return scKindCycleRoom }

type SCSelectChart struct{ Result unitResult }

func (SCSelectChart) serverCommandKind() uint8 { return scKindSelectChart }

type SCRequestStart struct{ Result unitResult }

func (SCRequestStart) serverCommandKind() uint8 { return scKindRequestStart }

type SCReady struct{ Result unitResult }

func (SCReady) serverCommandKind() uint8 { return scKindReady }

type SCCancelReady struct{ Result unitResult }

func (SCCancelReady) serverCommandKind() uint8 { return scKindCancelReady }

type SCPlayed struct{ Result unitResult }

func (SCPlayed) serverCommandKind() uint8 { return scKindPlayed }

type SCAbort struct{ Result unitResult }

func (SCAbort) serverCommandKind() uint8 { return scKindAbort }

// Convenience constructors for the common "ack or reject with a reason"
// shape, so callers in internal/session don't spell out wire.Result.
func Ack() unitResult               { return okUnit() }
func Reject(reason string) unitResult { return errUnit(reason) }

func ReadServerCommand(r *wire.Reader) (ServerCommand, error) {
	k, err := r.Byte()
	if err != nil {
		return nil, err
	}
	switch k {
	case scKindPong:
		return SCPong{}, nil
	case scKindAuthenticate:
		res, err := wire.ReadResult(r, readAuthResult)
		if err != nil {
			return nil, err
		}
		return SCAuthenticate{Result: res}, nil
	case scKindChat:
		res, err := readUnitResult(r)
		if err != nil {
			return nil, err
		}
		return SCChat{Result: res}, nil
	case scKindTouches:
		player, err := r.I32()
		if err != nil {
			return nil, err
		}
		frames, err := wire.ReadSlice(r, ReadTouchFrame)
		if err != nil {
			return nil, err
		}
		return SCTouches{Player: player, Frames: frames}, nil
	case scKindJudges:
		player, err := r.I32()
		if err != nil {
			return nil, err
		}
		judges, err := wire.ReadSlice(r, ReadJudgeEvent)
		if err != nil {
			return nil, err
		}
		return SCJudges{Player: player, Judges: judges}, nil
	case scKindMessage:
		m, err := ReadMessage(r)
		if err != nil {
			return nil, err
		}
		return SCMessage{Message: m}, nil
	case scKindChangeState:
		s, err := ReadRoomState(r)
		if err != nil {
			return nil, err
		}
		return SCChangeState{State: s}, nil
	case scKindChangeHost:
		b, err := r.Bool()
		if err != nil {
			return nil, err
		}
		return SCChangeHost{IsHost: b}, nil
	case scKindCreateRoom:
		res, err := readUnitResult(r)
		if err != nil {
			return nil, err
		}
		return SCCreateRoom{Result: res}, nil
	case scKindJoinRoom:
		res, err := wire.ReadResult(r, ReadJoinRoomResponse)
		if err != nil {
			return nil, err
		}
		return SCJoinRoom{Result: res}, nil
	case scKindOnJoinRoom:
		u, err := ReadUserInfo(r)
		if err != nil {
			return nil, err
		}
		return SCOnJoinRoom{User: u}, nil
	case scKindLeaveRoom:
		res, err := readUnitResult(r)
		if err != nil {
			return nil, err
		}
		return SCLeaveRoom{Result: res}, nil
	case scKindLockRoom:
		res, err := readUnitResult(r)
		if err != nil {
			return nil, err
		}
		return SCLockRoom{Result: res}, nil
	case scKindCycleRoom:
		res, err := readUnitResult(r)
		if err != nil {
			return nil, err
		}
		return SCCycleRoom{Result: res}, nil
	case scKindSelectChart:
		res, err := readUnitResult(r)
		if err != nil {
			return nil, err
		}
		return SCSelectChart{Result: res}, nil
	case scKindRequestStart:
		res, err := readUnitResult(r)
		if err != nil {
			return nil, err
		}
		return SCRequestStart{Result: res}, nil
	case scKindReady:
		res, err := readUnitResult(r)
		if err != nil {
			return nil, err
		}
		return SCReady{Result: res}, nil
	case scKindCancelReady:
		res, err := readUnitResult(r)
		if err != nil {
			return nil, err
		}
		return SCCancelReady{Result: res}, nil
	case scKindPlayed:
		res, err := readUnitResult(r)
		if err != nil {
			return nil, err
		}
		return SCPlayed{Result: res}, nil
	case scKindAbort:
		res, err := readUnitResult(r)
		if err != nil {
			return nil, err
		}
		return SCAbort{Result: res}, nil
	default:
		return nil, wire.ErrDecode
	}
}

func WriteServerCommand(w *wire.Writer, c ServerCommand) {
	w.Byte(c.serverCommandKind())
	switch v := c.(type) {
	case SCPong:
	case SCAuthenticate:
		wire.WriteResult(w, v.Result, writeAuthResult)
	case SCChat:
		writeUnitResult(w, v.Result)
	case SCTouches:
		w.I32(v.Player)
		wire.WriteSlice(w, v.Frames, WriteTouchFrame)
	case SCJudges:
		w.I32(v.Player)
		wire.WriteSlice(w, v.Judges, WriteJudgeEvent)
	case SCMessage:
		WriteMessage(w, v.Message)
	case SCChangeState:
		WriteRoomState(w, v.State)
	case SCChangeHost:
		w.Bool(v.IsHost)
	case SCCreateRoom:
		writeUnitResult(w, v.Result)
	case SCJoinRoom:
		wire.WriteResult(w, v.Result, WriteJoinRoomResponse)
	case SCOnJoinRoom:
		WriteUserInfo(w, v.User)
	case SCLeaveRoom:
		writeUnitResult(w, v.Result)
	case SCLockRoom:
		writeUnitResult(w, v.Result)
	case SCCycleRoom:
		writeUnitResult(w, v.Result)
	case SCSelectChart:
		writeUnitResult(w, v.Result)
	case SCRequestStart:
		writeUnitResult(w, v.Result)
	case SCReady:
		writeUnitResult(w, v.Result)
	case SCCancelReady:
		writeUnitResult(w, v.Result)
	case SCPlayed:
		writeUnitResult(w, v.Result)
	case SCAbort:
		writeUnitResult(w, v.Result)
	}
}
