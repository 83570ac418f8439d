package wire

import (
	"math"
	"testing"

	"github.com/google/uuid"
)

func TestPrimitivesRoundTrip(t *testing.T) {
	w := NewWriter()
	w.Bool(true)
	w.I8(-5)
	w.U16(0xBEEF)
	w.U32(0xDEADBEEF)
	w.U64(0x1122334455667788)
	w.I32(-123456)
	w.I64(-9876543210)
	w.F32(3.5)
	w.String("hello, 世界")
	id := uuid.New()
	w.UUID(id)
	w.TimestampMillis(1700000000000)

	r := NewReader(w.Bytes())
	if b, err := r.Bool(); err != nil || !b {
		t.Fatalf("Bool: %v %v", b, err)
	}
	if v, err := r.I8(); err != nil || v != -5 {
		t.Fatalf("I8: %v %v", v, err)
	}
	if v, err := r.U16(); err != nil || v != 0xBEEF {
		t.Fatalf("U16: %v %v", v, err)
	}
	if v, err := r.U32(); err != nil || v != 0xDEADBEEF {
		t.Fatalf("U32: %v %v", v, err)
	}
	if v, err := r.U64(); err != nil || v != 0x1122334455667788 {
		t.Fatalf("U64: %v %v", v, err)
	}
	if v, err := r.I32(); err != nil || v != -123456 {
		t.Fatalf("I32: %v %v", v, err)
	}
	if v, err := r.I64(); err != nil || v != -9876543210 {
		t.Fatalf("I64: %v %v", v, err)
	}
	if v, err := r.F32(); err != nil || v != 3.5 {
		t.Fatalf("F32: %v %v", v, err)
	}
	if s, err := r.String(); err != nil || s != "hello, 世界" {
		t.Fatalf("String: %q %v", s, err)
	}
	if got, err := r.UUID(); err != nil || got != id {
		t.Fatalf("UUID: %v %v", got, err)
	}
	if ts, err := r.TimestampMillis(); err != nil || ts != 1700000000000 {
		t.Fatalf("TimestampMillis: %v %v", ts, err)
	}
	if r.Remaining() != 0 {
		t.Fatalf("expected reader exhausted, %d bytes left", r.Remaining())
	}
}

func TestUlebRejectsOversizedShift(t *testing.T) {
	// 6 bytes, all with continuation bit set: shift reaches 35 before a
	// terminating byte appears.
	data := []byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x01}
	r := NewReader(data)
	if _, err := r.Uleb(); err == nil {
		t.Fatalf("expected overflow error")
	}
}

func TestStringLossyDecodeOfInvalidUTF8(t *testing.T) {
	w := NewWriter()
	w.Uleb(3)
	w.Byte(0xff)
	w.Byte(0xfe)
	w.Byte('a')
	r := NewReader(w.Bytes())
	s, err := r.String()
	if err != nil {
		t.Fatalf("String: %v", err)
	}
	if len(s) == 0 {
		t.Fatalf("expected non-empty lossy decode")
	}
}

func TestOptionalRoundTrip(t *testing.T) {
	w := NewWriter()
	var some *int32 = new(int32)
	*some = 42
	WriteOptional(w, some, func(w *Writer, v int32) { w.I32(v) })
	WriteOptional[int32](w, nil, func(w *Writer, v int32) { w.I32(v) })

	r := NewReader(w.Bytes())
	got, err := ReadOptional(r, func(r *Reader) (int32, error) { return r.I32() })
	if err != nil || got == nil || *got != 42 {
		t.Fatalf("ReadOptional some: %v %v", got, err)
	}
	got2, err := ReadOptional(r, func(r *Reader) (int32, error) { return r.I32() })
	if err != nil || got2 != nil {
		t.Fatalf("ReadOptional none: %v %v", got2, err)
	}
}

func TestResultRoundTrip(t *testing.T) {
	w := NewWriter()
	WriteResult(w, ResultOk[int32](7), func(w *Writer, v int32) { w.I32(v) })
	WriteResult(w, ResultErr[int32]("nope"), func(w *Writer, v int32) { w.I32(v) })

	r := NewReader(w.Bytes())
	ok, err := ReadResult(r, func(r *Reader) (int32, error) { return r.I32() })
	if err != nil || !ok.Ok || ok.Value != 7 {
		t.Fatalf("ReadResult ok: %+v %v", ok, err)
	}
	bad, err := ReadResult(r, func(r *Reader) (int32, error) { return r.I32() })
	if err != nil || bad.Ok || bad.Err != "nope" {
		t.Fatalf("ReadResult err: %+v %v", bad, err)
	}
}

func TestSliceAndMapRoundTrip(t *testing.T) {
	w := NewWriter()
	WriteSlice(w, []int32{1, 2, 3}, func(w *Writer, v int32) { w.I32(v) })
	WriteMap(w, map[int32]string{1: "a", 2: "b"}, func(w *Writer, k int32) { w.I32(k) }, func(w *Writer, v string) { w.String(v) })

	r := NewReader(w.Bytes())
	seq, err := ReadSlice(r, func(r *Reader) (int32, error) { return r.I32() })
	if err != nil || len(seq) != 3 || seq[0] != 1 || seq[2] != 3 {
		t.Fatalf("ReadSlice: %v %v", seq, err)
	}
	m, err := ReadMap(r, func(r *Reader) (int32, error) { return r.I32() }, func(r *Reader) (string, error) { return r.String() })
	if err != nil || len(m) != 2 || m[1] != "a" || m[2] != "b" {
		t.Fatalf("ReadMap: %v %v", m, err)
	}
}

func TestDecodeShortReadNeverPanics(t *testing.T) {
	// A truncated ULEB-prefixed string: length says 10 bytes, none follow.
	w := NewWriter()
	w.Uleb(10)
	r := NewReader(w.Bytes())
	if _, err := r.String(); err == nil {
		t.Fatalf("expected decode error on truncated string")
	}
}

func TestVarcharValidatesLength(t *testing.T) {
	if _, err := NewVarchar("0123456789abcdefghijklmnopqrstuvwxyz", 32); err == nil {
		t.Fatalf("expected over-length varchar to fail construction")
	}
	v, err := NewVarchar("a-token-of-exactly-32-bytes-long", 32)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w := NewWriter()
	WriteVarchar(w, v)
	r := NewReader(w.Bytes())
	got, err := ReadVarchar(r, 32)
	if err != nil || got.String() != v.String() {
		t.Fatalf("ReadVarchar round trip: %v %v", got, err)
	}
}

func TestRoomIDValidation(t *testing.T) {
	cases := []struct {
		in      string
		wantErr bool
	}{
		{"", true},
		{"this-id-is-definitely-too-long-for-the-limit", true},
		{"has a space", true},
		{"has/slash", true},
		{"room_1-A", false},
	}
	for _, c := range cases {
		_, err := NewRoomID(c.in)
		if (err != nil) != c.wantErr {
			t.Fatalf("NewRoomID(%q): err=%v, wantErr=%v", c.in, err, c.wantErr)
		}
	}
}

func TestF16RoundTrip(t *testing.T) {
	cases := []float32{0, 1, -1, 0.5, -0.5, 3.140625, 65504, -65504, 1e-5}
	for _, c := range cases {
		bits := F16Bits(c)
		got := F16ToF32(bits)
		if math.Abs(float64(got-c)) > 0.05 {
			t.Fatalf("F16 round trip for %v: got %v", c, got)
		}
	}
}
