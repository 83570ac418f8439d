package protocol

import "github.com/noteflow/mp-server/internal/wire"

// Message is a broadcast event delivered to every member of a room,
// wrapped in ServerCommandMessage. Each concrete type below is one of the
// sixteen variants declared in spec.md §3, in their declared order —
// that order is the wire discriminant.
type Message interface {
	messageKind() uint8
}

const (
	msgKindChat uint8 = iota
	msgKindCreateRoom
	msgKindJoinRoom
	msgKindLeaveRoom
	msgKindNewHost
	msgKindSelectChart
	msgKindGameStart
	msgKindReady
	msgKindCancelReady
	msgKindCancelGame
	msgKindStartPlaying
	msgKindPlayed
	msgKindGameEnd
	msgKindAbort
	msgKindLockRoom
	msgKindCycleRoom
)

// MessageChat announces a chat line from a room member, identified by id
// (not name — matches the way rooms already know the speaker).
type MessageChat struct {
	UserID  int32
	Content string
}

func (MessageChat) messageKind() uint8 { return msgKindChat }

// MessageCreateRoom announces that a user created (and so is now hosting)
// this room.
type MessageCreateRoom struct{ User string }

func (MessageCreateRoom) messageKind() uint8 { return msgKindCreateRoom }

// MessageJoinRoom announces a new member.
type MessageJoinRoom struct{ User string }

func (MessageJoinRoom) messageKind() uint8 { return msgKindJoinRoom }

// MessageLeaveRoom announces a departing member.
type MessageLeaveRoom struct {
	User int32
	Name string
}

func (MessageLeaveRoom) messageKind() uint8 { return msgKindLeaveRoom }

// MessageNewHost announces the new host after a migration.
type MessageNewHost struct{ User int32 }

func (MessageNewHost) messageKind() uint8 { return msgKindNewHost }

// MessageSelectChart announces the host's chart pick.
type MessageSelectChart struct {
	User string
	Name string
	ID   int32
}

func (MessageSelectChart) messageKind() uint8 { return msgKindSelectChart }

// MessageGameStart announces the host starting the ready phase.
type MessageGameStart struct{ User string }

func (MessageGameStart) messageKind() uint8 { return msgKindGameStart }

// MessageReady announces a member marking themselves ready.
type MessageReady struct{ User string }

func (MessageReady) messageKind() uint8 { return msgKindReady }

// MessageCancelReady announces a non-host member un-readying.
type MessageCancelReady struct{ User string }

func (MessageCancelReady) messageKind() uint8 { return msgKindCancelReady }

// MessageCancelGame announces the host cancelling the ready phase entirely.
type MessageCancelGame struct{ User string }

func (MessageCancelGame) messageKind() uint8 { return msgKindCancelGame }

// MessageStartPlaying announces that every member is ready and the round
// has begun. Carries no fields.
type MessageStartPlaying struct{}

func (MessageStartPlaying) messageKind() uint8 { return msgKindStartPlaying }

// MessagePlayed announces one member's final result for the round.
type MessagePlayed struct {
	User      string
	Score     int32
	Accuracy  float32
	FullCombo bool
}

func (MessagePlayed) messageKind() uint8 { return msgKindPlayed }

// MessageGameEnd announces that every player has reported a result (or
// the round was aborted) and the room has returned to SelectChart.
type MessageGameEnd struct{}

func (MessageGameEnd) messageKind() uint8 { return msgKindGameEnd }

// MessageAbort announces a player aborting mid-round.
type MessageAbort struct{ User string }

func (MessageAbort) messageKind() uint8 { return msgKindAbort }

// MessageLockRoom announces a change to the room's join lock.
type MessageLockRoom struct{ Lock bool }

func (MessageLockRoom) messageKind() uint8 { return msgKindLockRoom }

// MessageCycleRoom announces a change to the room's host-cycling setting.
type MessageCycleRoom struct{ Cycle bool }

func (MessageCycleRoom) messageKind() uint8 { return msgKindCycleRoom }

func ReadMessage(r *wire.Reader) (Message, error) {
	k, err := r.Byte()
	if err != nil {
		return nil, err
	}
	switch k {
	case msgKindChat:
		id, err := r.I32()
		if err != nil {
			return nil, err
		}
		content, err := r.String()
		if err != nil {
			return nil, err
		}
		return MessageChat{UserID: id, Content: content}, nil
	case msgKindCreateRoom:
		s, err := r.String()
		if err != nil {
			return nil, err
		}
		return MessageCreateRoom{User: s}, nil
	case msgKindJoinRoom:
		s, err := r.String()
		if err != nil {
			return nil, err
		}
		return MessageJoinRoom{User: s}, nil
	case msgKindLeaveRoom:
		id, err := r.I32()
		if err != nil {
			return nil, err
		}
		name, err := r.String()
		if err != nil {
			return nil, err
		}
		return MessageLeaveRoom{User: id, Name: name}, nil
	case msgKindNewHost:
		id, err := r.I32()
		if err != nil {
			return nil, err
		}
		return MessageNewHost{User: id}, nil
	case msgKindSelectChart:
		user, err := r.String()
		if err != nil {
			return nil, err
		}
		name, err := r.String()
		if err != nil {
			return nil, err
		}
		id, err := r.I32()
		if err != nil {
			return nil, err
		}
		return MessageSelectChart{User: user, Name: name, ID: id}, nil
	case msgKindGameStart:
		s, err := r.String()
		if err != nil {
			return nil, err
		}
		return MessageGameStart{User: s}, nil
	case msgKindReady:
		s, err := r.String()
		if err != nil {
			return nil, err
		}
		return MessageReady{User: s}, nil
	case msgKindCancelReady:
		s, err := r.String()
		if err != nil {
			return nil, err
		}
		return MessageCancelReady{User: s}, nil
	case msgKindCancelGame:
		s, err := r.String()
		if err != nil {
			return nil, err
		}
		return MessageCancelGame{User: s}, nil
	case msgKindStartPlaying:
		return MessageStartPlaying{}, nil
	case msgKindPlayed:
		user, err := r.String()
		if err != nil {
			return nil, err
		}
		score, err := r.I32()
		if err != nil {
			return nil, err
		}
		acc, err := r.F32()
		if err != nil {
			return nil, err
		}
		fc, err := r.Bool()
		if err != nil {
			return nil, err
		}
		return MessagePlayed{User: user, Score: score, Accuracy: acc, FullCombo: fc}, nil
	case msgKindGameEnd:
		return MessageGameEnd{}, nil
	case msgKindAbort:
		s, err := r.String()
		if err != nil {
			return nil, err
		}
		return MessageAbort{User: s}, nil
	case msgKindLockRoom:
		b, err := r.Bool()
		if err != nil {
			return nil, err
		}
		return MessageLockRoom{Lock: b}, nil
	case msgKindCycleRoom:
		b, err := r.Bool()
		if err != nil {
			return nil, err
		}
		return MessageCycleRoom{Cycle: b}, nil
	default:
		return nil, wire.ErrDecode
	}
}

func WriteMessage(w *wire.Writer, m Message) {
	w.Byte(m.messageKind())
	switch v := m.(type) {
	case MessageChat:
		w.I32(v.UserID)
		w.String(v.Content)
	case MessageCreateRoom:
		w.String(v.User)
	case MessageJoinRoom:
		w.String(v.User)
	case MessageLeaveRoom:
		w.I32(v.User)
		w.String(v.Name)
	case MessageNewHost:
		w.I32(v.User)
	case MessageSelectChart:
		w.String(v.User)
		w.String(v.Name)
		w.I32(v.ID)
	case MessageGameStart:
		w.String(v.User)
	case MessageReady:
		w.String(v.User)
	case MessageCancelReady:
		w.String(v.User)
	case MessageCancelGame:
		w.String(v.User)
	case MessageStartPlaying:
	case MessagePlayed:
		w.String(v.User)
		w.I32(v.Score)
		w.F32(v.Accuracy)
		w.Bool(v.FullCombo)
	case MessageGameEnd:
	case MessageAbort:
		w.String(v.User)
	case MessageLockRoom:
		w.Bool(v.Lock)
	case MessageCycleRoom:
		w.Bool(v.Cycle)
	}
}
