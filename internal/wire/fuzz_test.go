package wire

import "testing"

// FuzzReaderPrimitives checks the decode-never-panics property (spec.md
// §8) directly against the low-level Reader methods every higher-level
// decoder is built from.
func FuzzReaderPrimitives(f *testing.F) {
	seeds := [][]byte{
		{},
		{0x00},
		{0xff},
		{0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0xff},
		{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08},
	}
	for _, s := range seeds {
		f.Add(s)
	}
	f.Fuzz(func(t *testing.T, data []byte) {
		r := NewReader(data)
		_, _ = r.Byte()
		_, _ = r.Uleb()
		_, _ = r.Bool()
		_, _ = r.I8()
		_, _ = r.U16()
		_, _ = r.U32()
		_, _ = r.U64()
		_, _ = r.I32()
		_, _ = r.I64()
		_, _ = r.F32()
		_, _ = r.String()
		_, _ = r.UUID()
		_, _ = r.TimestampMillis()
	})
}

// FuzzReadSlice exercises the generic container decoder's
// count-then-elements shape directly: a hostile element count must fail
// as a decode error once the reader runs dry, never panic or attempt an
// unbounded allocation.
func FuzzReadSlice(f *testing.F) {
	seeds := [][]byte{
		{},
		{0x00},
		{0x05, 0x01, 0x02},
		{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x01},
	}
	for _, s := range seeds {
		f.Add(s)
	}
	f.Fuzz(func(t *testing.T, data []byte) {
		r := NewReader(data)
		_, _ = ReadSlice(r, func(r *Reader) (byte, error) { return r.Byte() })
	})
}

// FuzzReadMap is FuzzReadSlice's mirror for the map decoder.
func FuzzReadMap(f *testing.F) {
	seeds := [][]byte{
		{},
		{0x00},
		{0x02, 0x01, 0x02, 0x03, 0x04},
		{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x01},
	}
	for _, s := range seeds {
		f.Add(s)
	}
	f.Fuzz(func(t *testing.T, data []byte) {
		r := NewReader(data)
		_, _ = ReadMap(r,
			func(r *Reader) (int32, error) { return r.I32() },
			func(r *Reader) (byte, error) { return r.Byte() },
		)
	})
}

// FuzzReadResult covers Result[T]'s Ok/Err discriminant plus an
// embedded varchar-shaped string on the Err path.
func FuzzReadResult(f *testing.F) {
	seeds := [][]byte{
		{},
		{0x00},
		{0x01, 0x05, 'h', 'e', 'l', 'l', 'o'},
	}
	for _, s := range seeds {
		f.Add(s)
	}
	f.Fuzz(func(t *testing.T, data []byte) {
		r := NewReader(data)
		_, _ = ReadResult(r, func(r *Reader) (int32, error) { return r.I32() })
	})
}
