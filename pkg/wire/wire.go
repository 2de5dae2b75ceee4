// Package wire frames messages for transport over a byte stream.
//
// A connection carries a continuous stream, so every message is sent as a
// length-prefixed frame: a 4-byte big-endian payload length followed by
// the payload. The payload itself is fixed-size: a 4-byte machine ID and
// an 8-byte logical timestamp, both big-endian. The prefix keeps framing
// unambiguous, and a frame either fully reaches the stream or the send
// fails, with no partial-message corruption.
package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/daviddao/clocksim/pkg/model"
)

const (
	// payloadSize is sender ID (uint32) + logical time (int64).
	payloadSize = 12

	// MaxFrameSize bounds the declared payload length. A prefix above
	// this is not a recoverable bad message: it means the stream is no
	// longer aligned on frame boundaries.
	MaxFrameSize = 1024
)

// ErrMalformed reports a frame whose payload could not be decoded. The
// frame was fully consumed, so the stream is still aligned and the caller
// may keep reading.
var ErrMalformed = errors.New("wire: malformed message payload")

// ErrFramingLost reports a length prefix that cannot be a real frame.
// The stream cannot be resynchronized; the caller should drop the
// connection.
var ErrFramingLost = errors.New("wire: stream framing lost")

// Encode serializes a message payload (without the length prefix).
func Encode(m model.Message) []byte {
	buf := make([]byte, payloadSize)
	binary.BigEndian.PutUint32(buf[0:4], uint32(m.Sender))
	binary.BigEndian.PutUint64(buf[4:12], uint64(m.LogicalTime))
	return buf
}

// Decode parses a message payload produced by Encode.
func Decode(payload []byte) (model.Message, error) {
	if len(payload) != payloadSize {
		return model.Message{}, fmt.Errorf("%w: %d bytes, want %d", ErrMalformed, len(payload), payloadSize)
	}
	return model.Message{
		Sender:      int(binary.BigEndian.Uint32(payload[0:4])),
		LogicalTime: int64(binary.BigEndian.Uint64(payload[4:12])),
	}, nil
}

// Writer writes framed messages to a stream.
type Writer struct {
	w *bufio.Writer
}

// NewWriter wraps w for framed message writes.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// WriteMessage writes one framed message and flushes it to the underlying
// stream. On error nothing useful is on the wire from this frame's point
// of view and the caller should treat the whole send as failed.
func (w *Writer) WriteMessage(m model.Message) error {
	payload := Encode(m)
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := w.w.Write(prefix[:]); err != nil {
		return fmt.Errorf("write frame prefix: %w", err)
	}
	if _, err := w.w.Write(payload); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("flush frame: %w", err)
	}
	return nil
}

// Reader reads framed messages from a stream.
type Reader struct {
	r *bufio.Reader
}

// NewReader wraps r for framed message reads.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// ReadMessage reads the next frame and decodes it.
//
// Error classes:
//   - ErrMalformed: the frame was consumed but its payload is garbage;
//     the stream is still aligned and the caller may continue.
//   - ErrFramingLost: the length prefix is implausible; the caller
//     should close the connection.
//   - io errors (including io.EOF) pass through unchanged.
func (r *Reader) ReadMessage() (model.Message, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r.r, prefix[:]); err != nil {
		return model.Message{}, err
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n == 0 || n > MaxFrameSize {
		return model.Message{}, fmt.Errorf("%w: declared payload %d bytes", ErrFramingLost, n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		return model.Message{}, err
	}
	return Decode(payload)
}
