package protocol

import "github.com/noteflow/mp-server/internal/wire"

// Bounds on client-supplied varchar fields (spec.md §3/§4.1).
const (
	AuthTokenMaxLen = 32
	ChatMaxLen      = 200
)

// ClientCommand is every request a client may send, in the declared order
// of spec.md §6.1 — that order is the wire discriminant.
type ClientCommand interface {
	clientCommandKind() uint8
}

const (
	ccKindPing uint8 = iota
	ccKindAuthenticate
	ccKindChat
	ccKindTouches
	ccKindJudges
	ccKindCreateRoom
	ccKindJoinRoom
	ccKindLeaveRoom
	ccKindLockRoom
	ccKindCycleRoom
	ccKindSelectChart
	ccKindRequestStart
	ccKindReady
	ccKindCancelReady
	ccKindPlayed
	ccKindAbort
)

type CCPing struct{}

func (CCPing) clientCommandKind() uint8 { return ccKindPing }

type CCAuthenticate struct{ Token wire.Varchar }

func (CCAuthenticate) clientCommandKind() uint8 { return ccKindAuthenticate }

type CCChat struct{ Message wire.Varchar }

func (CCChat) clientCommandKind() uint8 { return ccKindChat }

type CCTouches struct{ Frames []TouchFrame }

func (CCTouches) clientCommandKind() uint8 { return ccKindTouches }

type CCJudges struct{ Judges []JudgeEvent }

func (CCJudges) clientCommandKind() uint8 { return ccKindJudges }

type CCCreateRoom struct{ ID wire.RoomID }

func (CCCreateRoom) clientCommandKind() uint8 { return ccKindCreateRoom }

type CCJoinRoom struct {
	ID      wire.RoomID
	Monitor bool
}

func (CCJoinRoom) clientCommandKind() uint8 { return ccKindJoinRoom }

type CCLeaveRoom struct{}

func (CCLeaveRoom) clientCommandKind() uint8 { return ccKindLeaveRoom }

type CCLockRoom struct{ Lock bool }

func (CCLockRoom) clientCommandKind() uint8 { return ccKindLockRoom }

type CCCycleRoom struct{ Cycle bool }

func (CCCycleRoom) clientCommandKind() uint8 { return ccKindCycleRoom }

type CCSelectChart struct{ ID int32 }

func (CCSelectChart) clientCommandKind() uint8 { return ccKindSelectChart }

type CCRequestStart struct{}

func (CCRequestStart) clientCommandKind() uint8 { return ccKindRequestStart }

type CCReady struct{}

func (CCReady) clientCommandKind() uint8 { return ccKindReady }

type CCCancelReady struct{}

func (CCCancelReady) clientCommandKind() uint8 { return ccKindCancelReady }

type CCPlayed struct{ ID int32 }

func (CCPlayed) clientCommandKind() uint8 { return ccKindPlayed }

type CCAbort struct{}

func (CCAbort) clientCommandKind() uint8 { return ccKindAbort }

func ReadClientCommand(r *wire.Reader) (ClientCommand, error) {
	k, err := r.Byte()
	if err != nil {
		return nil, err
	}
	switch k {
	case ccKindPing:
		return CCPing{}, nil
	case ccKindAuthenticate:
		tok, err := wire.ReadVarchar(r, AuthTokenMaxLen)
		if err != nil {
			return nil, err
		}
		return CCAuthenticate{Token: tok}, nil
	case ccKindChat:
		msg, err := wire.ReadVarchar(r, ChatMaxLen)
		if err != nil {
			return nil, err
		}
		return CCChat{Message: msg}, nil
	case ccKindTouches:
		frames, err := wire.ReadSlice(r, ReadTouchFrame)
		if err != nil {
			return nil, err
		}
		return CCTouches{Frames: frames}, nil
	case ccKindJudges:
		judges, err := wire.ReadSlice(r, ReadJudgeEvent)
		if err != nil {
			return nil, err
		}
		return CCJudges{Judges: judges}, nil
	case ccKindCreateRoom:
		id, err := wire.ReadRoomID(r)
		if err != nil {
			return nil, err
		}
		return CCCreateRoom{ID: id}, nil
	case ccKindJoinRoom:
		id, err := wire.ReadRoomID(r)
		if err != nil {
			return nil, err
		}
		monitor, err := r.Bool()
		if err != nil {
			return nil, err
		}
		return CCJoinRoom{ID: id, Monitor: monitor}, nil
	case ccKindLeaveRoom:
		return CCLeaveRoom{}, nil
	case ccKindLockRoom:
		b, err := r.Bool()
		if err != nil {
			return nil, err
		}
		return CCLockRoom{Lock: b}, nil
	case ccKindCycleRoom:
		b, err := r.Bool()
		if err != nil {
			return nil, err
		}
		return CCCycleRoom{Cycle: b}, nil
	case ccKindSelectChart:
		id, err := r.I32()
		if err != nil {
			return nil, err
		}
		return CCSelectChart{ID: id}, nil
	case ccKindRequestStart:
		return CCRequestStart{}, nil
	case ccKindReady:
		return CCReady{}, nil
	case ccKindCancelReady:
		return CCCancelReady{}, nil
	case ccKindPlayed:
		id, err := r.I32()
		if err != nil {
			return nil, err
		}
		return CCPlayed{ID: id}, nil
	case ccKindAbort:
		return CCAbort{}, nil
	default:
		return nil, wire.ErrDecode
	}
}

func WriteClientCommand(w *wire.Writer, c ClientCommand) {
	w.Byte(c.clientCommandKind())
	switch v := c.(type) {
	case CCPing:
	case CCAuthenticate:
		wire.WriteVarchar(w, v.Token)
	case CCChat:
		wire.WriteVarchar(w, v.Message)
	case CCTouches:
		wire.WriteSlice(w, v.Frames, WriteTouchFrame)
	case CCJudges:
		wire.WriteSlice(w, v.Judges, WriteJudgeEvent)
	case CCCreateRoom:
		wire.WriteRoomID(w, v.ID)
	case CCJoinRoom:
		wire.WriteRoomID(w, v.ID)
		w.Bool(v.Monitor)
	case CCLeaveRoom:
	case CCLockRoom:
		w.Bool(v.Lock)
	case CCCycleRoom:
		w.Bool(v.Cycle)
	case CCSelectChart:
		w.I32(v.ID)
	case CCRequestStart:
	case CCReady:
	case CCCancelReady:
	case CCPlayed:
		w.I32(v.ID)
	case CCAbort:
	}
}
