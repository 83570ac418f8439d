// Package protocol defines the wire command sets (ClientCommand,
// ServerCommand), the Message broadcast payload, and the supporting value
// types (UserInfo, RoomState, TouchFrame, JudgeEvent, ...) described in
// spec.md §3 and §6.1. Every type here knows how to encode/decode itself
// against internal/wire; nothing here touches a socket.
package protocol

import "github.com/noteflow/mp-server/internal/wire"

// CompactPos is a position stored as two half-precision floats (spec.md
// §4.1's CompactPos rule).
type CompactPos struct {
	X, Y float32
}

func readCompactPos(r *wire.Reader) (CompactPos, error) {
	xb, err := r.U16()
	if err != nil {
		return CompactPos{}, err
	}
	yb, err := r.U16()
	if err != nil {
		return CompactPos{}, err
	}
	return CompactPos{X: wire.F16ToF32(xb), Y: wire.F16ToF32(yb)}, nil
}

func writeCompactPos(w *wire.Writer, p CompactPos) {
	w.U16(wire.F16Bits(p.X))
	w.U16(wire.F16Bits(p.Y))
}

// TouchPoint is one finger's position within a TouchFrame (spec.md §3:
// "list of (finger_id as signed 8-bit, position) pairs").
type TouchPoint struct {
	FingerID int8
	Pos      CompactPos
}

func readTouchPoint(r *wire.Reader) (TouchPoint, error) {
	id, err := r.I8()
	if err != nil {
		return TouchPoint{}, err
	}
	pos, err := readCompactPos(r)
	if err != nil {
		return TouchPoint{}, err
	}
	return TouchPoint{FingerID: id, Pos: pos}, nil
}

func writeTouchPoint(w *wire.Writer, p TouchPoint) {
	w.I8(p.FingerID)
	writeCompactPos(w, p.Pos)
}

// TouchFrame is one sampled instant of touch input.
type TouchFrame struct {
	Time   float32
	Points []TouchPoint
}

func ReadTouchFrame(r *wire.Reader) (TouchFrame, error) {
	t, err := r.F32()
	if err != nil {
		return TouchFrame{}, err
	}
	points, err := wire.ReadSlice(r, readTouchPoint)
	if err != nil {
		return TouchFrame{}, err
	}
	return TouchFrame{Time: t, Points: points}, nil
}

func WriteTouchFrame(w *wire.Writer, f TouchFrame) {
	w.F32(f.Time)
	wire.WriteSlice(w, f.Points, writeTouchPoint)
}

// Judgement is a note-hit classification.
type Judgement uint8

const (
	JudgementPerfect Judgement = iota
	JudgementGood
	JudgementBad
	JudgementMiss
	JudgementHoldPerfect
	JudgementHoldGood
)

func (j Judgement) String() string {
	switch j {
	case JudgementPerfect:
		return "perfect"
	case JudgementGood:
		return "good"
	case JudgementBad:
		return "bad"
	case JudgementMiss:
		return "miss"
	case JudgementHoldPerfect:
		return "hold_perfect"
	case JudgementHoldGood:
		return "hold_good"
	default:
		return "unknown"
	}
}

func readJudgement(r *wire.Reader) (Judgement, error) {
	b, err := r.Byte()
	if err != nil {
		return 0, err
	}
	if b > byte(JudgementHoldGood) {
		return 0, wire.ErrDecode
	}
	return Judgement(b), nil
}

func writeJudgement(w *wire.Writer, j Judgement) { w.Byte(byte(j)) }

// JudgeEvent is a single scored note event.
type JudgeEvent struct {
	Time      float32
	LineID    uint32
	NoteID    uint32
	Judgement Judgement
}

func ReadJudgeEvent(r *wire.Reader) (JudgeEvent, error) {
	t, err := r.F32()
	if err != nil {
		return JudgeEvent{}, err
	}
	line, err := r.U32()
	if err != nil {
		return JudgeEvent{}, err
	}
	note, err := r.U32()
	if err != nil {
		return JudgeEvent{}, err
	}
	j, err := readJudgement(r)
	if err != nil {
		return JudgeEvent{}, err
	}
	return JudgeEvent{Time: t, LineID: line, NoteID: note, Judgement: j}, nil
}

func WriteJudgeEvent(w *wire.Writer, e JudgeEvent) {
	w.F32(e.Time)
	w.U32(e.LineID)
	w.U32(e.NoteID)
	writeJudgement(w, e.Judgement)
}
