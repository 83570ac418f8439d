// Package stream implements the length-prefixed binary framing used for
// every connection in this protocol: a one-byte, one-directional version
// handshake followed by a stream of ULEB128-length-prefixed payloads
// (spec.md §4.1, §4.2). It is generic over the payload types so the same
// machinery backs both the server's per-session stream (send
// ServerCommand, receive ClientCommand) and the client library's stream
// (the mirror image).
package stream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
)

// MaxFrameLen bounds a single decoded payload's length, matching the
// cap the reference implementation enforces against a malicious or
// corrupt peer.
const MaxFrameLen = 2 * 1024 * 1024

// SendQueueDepth is the bounded FIFO depth of the outbound queue; once
// full, Send blocks until the writer goroutine drains a slot.
const SendQueueDepth = 1024

// ErrClosed is returned by Send once the stream has been closed.
var ErrClosed = errors.New("stream: closed")

// Encoder returns v's wire representation.
type Encoder[S any] func(v S) []byte

// Decoder parses a complete frame payload into an R, or reports a decode
// error for a malformed frame.
type Decoder[R any] func(data []byte) (R, error)

// Handler processes one decoded inbound payload. The receive loop calls
// it synchronously and waits for it to return before reading the next
// frame off the wire — handlers never run concurrently with each other
// on the same stream.
type Handler[S, R any] func(s *Stream[S, R], payload R)

// Stream wraps a net.Conn with the framing and handshake described
// above. S is the type this side sends; R is the type this side
// receives.
type Stream[S, R any] struct {
	conn    net.Conn
	version byte
	log     *slog.Logger

	encode Encoder[S]
	decode Decoder[R]

	sendCh chan S
	stopCh chan struct{}
	stopOnce sync.Once

	done chan struct{}
	wg   sync.WaitGroup

	mu  sync.Mutex
	err error
}

// Open performs the version handshake and starts the send/receive
// goroutines. If ourVersion is non-nil this side writes it (the
// connecting party); otherwise it reads one byte and records whatever
// the peer sent (the accepting party) — the handshake is never
// negotiated, only recorded (spec.md §4.2).
func Open[S, R any](conn net.Conn, ourVersion *byte, encode Encoder[S], decode Decoder[R], handler Handler[S, R], log *slog.Logger) (*Stream[S, R], error) {
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	var version byte
	if ourVersion != nil {
		if _, err := conn.Write([]byte{*ourVersion}); err != nil {
			return nil, fmt.Errorf("stream: write version: %w", err)
		}
		version = *ourVersion
	} else {
		buf := make([]byte, 1)
		if _, err := io.ReadFull(conn, buf); err != nil {
			return nil, fmt.Errorf("stream: read version: %w", err)
		}
		version = buf[0]
	}

	s := &Stream[S, R]{
		conn:    conn,
		version: version,
		log:     log,
		encode:  encode,
		decode:  decode,
		sendCh:  make(chan S, SendQueueDepth),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}

	s.wg.Add(2)
	go s.sendLoop()
	go s.recvLoop(handler)
	go func() {
		s.wg.Wait()
		close(s.done)
	}()

	return s, nil
}

// Version returns the recorded handshake byte.
func (s *Stream[S, R]) Version() byte { return s.version }

// Done is closed once both the send and receive goroutines have exited.
func (s *Stream[S, R]) Done() <-chan struct{} { return s.done }

// Err returns the first error observed by either goroutine, if any.
func (s *Stream[S, R]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Stream[S, R]) setErr(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

// Send enqueues payload for delivery, blocking if the send queue is
// full (spec.md's bounded-FIFO-blocks-on-overflow rule). It returns
// ErrClosed if the stream has already been closed.
func (s *Stream[S, R]) Send(ctx context.Context, payload S) error {
	select {
	case <-s.stopCh:
		return ErrClosed
	default:
	}
	select {
	case s.sendCh <- payload:
		return nil
	case <-s.stopCh:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close shuts the stream down: the underlying connection is closed,
// which unblocks any in-flight read/write, and the send queue is
// retired. Safe to call more than once and from any goroutine.
func (s *Stream[S, R]) Close() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.stopCh)
		err = s.conn.Close()
	})
	return err
}

func (s *Stream[S, R]) sendLoop() {
	defer s.wg.Done()
	w := bufio.NewWriter(s.conn)
	for {
		select {
		case payload := <-s.sendCh:
			buf := s.encode(payload)
			if err := writeFrame(w, buf); err != nil {
				s.setErr(fmt.Errorf("stream: write frame: %w", err))
				_ = s.Close()
				return
			}
		case <-s.stopCh:
			return
		}
	}
}

func (s *Stream[S, R]) recvLoop(handler Handler[S, R]) {
	defer s.wg.Done()
	r := bufio.NewReader(s.conn)
	for {
		buf, err := readFrame(r)
		if err != nil {
			if !errors.Is(err, io.EOF) && !isClosedErr(err) {
				s.setErr(fmt.Errorf("stream: read frame: %w", err))
			}
			_ = s.Close()
			return
		}
		payload, err := s.decode(buf)
		if err != nil {
			if s.log != nil {
				s.log.Warn("stream_invalid_frame", "error", err, "len", len(buf))
			}
			s.setErr(fmt.Errorf("stream: decode: %w", err))
			_ = s.Close()
			return
		}
		handler(s, payload)
		select {
		case <-s.stopCh:
			return
		default:
		}
	}
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}

// writeFrame writes a ULEB128 length prefix followed by payload.
func writeFrame(w *bufio.Writer, payload []byte) error {
	var lenBuf [5]byte
	n := putUleb32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:n]); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	return w.Flush()
}

// readFrame reads a ULEB128 length prefix and the payload it describes.
func readFrame(r *bufio.Reader) ([]byte, error) {
	length, err := readUleb32(r)
	if err != nil {
		return nil, err
	}
	if length > MaxFrameLen {
		return nil, fmt.Errorf("stream: frame too large: %d bytes", length)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func putUleb32(dst []byte, v uint32) int {
	n := 0
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		dst[n] = b
		n++
		if v == 0 {
			return n
		}
	}
}

func readUleb32(r io.ByteReader) (uint32, error) {
	var result uint32
	var shift uint
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		result |= uint32(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			return result, nil
		}
		if shift > 32 {
			return 0, fmt.Errorf("stream: invalid length prefix")
		}
	}
}
