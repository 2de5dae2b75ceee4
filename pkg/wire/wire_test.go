package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/daviddao/clocksim/pkg/model"
)

func TestRoundTrip(t *testing.T) {
	want := model.Message{Sender: 3, LogicalTime: 42}
	got, err := Decode(Encode(want))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestStreamCarriesMultipleFrames(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	msgs := []model.Message{
		{Sender: 1, LogicalTime: 1},
		{Sender: 2, LogicalTime: 7},
		{Sender: 1, LogicalTime: 8},
	}
	for _, m := range msgs {
		if err := w.WriteMessage(m); err != nil {
			t.Fatalf("WriteMessage(%+v): %v", m, err)
		}
	}

	r := NewReader(&buf)
	for i, want := range msgs {
		got, err := r.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage %d: %v", i, err)
		}
		if got != want {
			t.Fatalf("frame %d: got %+v, want %+v", i, got, want)
		}
	}
	if _, err := r.ReadMessage(); err != io.EOF {
		t.Fatalf("after last frame: got %v, want io.EOF", err)
	}
}

func TestDecodeWrongSize(t *testing.T) {
	if _, err := Decode([]byte{1, 2, 3}); !errors.Is(err, ErrMalformed) {
		t.Fatalf("Decode(short): got %v, want ErrMalformed", err)
	}
}

// A well-framed but undersized payload must be consumed and reported as
// malformed, leaving the stream aligned for the next frame.
func TestMalformedFrameKeepsStreamAligned(t *testing.T) {
	var buf bytes.Buffer
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], 5)
	buf.Write(prefix[:])
	buf.Write([]byte("junk!"))

	good := model.Message{Sender: 2, LogicalTime: 9}
	w := NewWriter(&buf)
	if err := w.WriteMessage(good); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	r := NewReader(&buf)
	if _, err := r.ReadMessage(); !errors.Is(err, ErrMalformed) {
		t.Fatalf("bad frame: got %v, want ErrMalformed", err)
	}
	got, err := r.ReadMessage()
	if err != nil {
		t.Fatalf("frame after malformed: %v", err)
	}
	if got != good {
		t.Fatalf("after resync: got %+v, want %+v", got, good)
	}
}

func TestImplausiblePrefixLosesFraming(t *testing.T) {
	var buf bytes.Buffer
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], MaxFrameSize+1)
	buf.Write(prefix[:])

	r := NewReader(&buf)
	if _, err := r.ReadMessage(); !errors.Is(err, ErrFramingLost) {
		t.Fatalf("oversized prefix: got %v, want ErrFramingLost", err)
	}
}

func TestZeroLengthPrefixLosesFraming(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{0, 0, 0, 0}))
	if _, err := r.ReadMessage(); !errors.Is(err, ErrFramingLost) {
		t.Fatalf("zero prefix: got %v, want ErrFramingLost", err)
	}
}

func TestTruncatedFrame(t *testing.T) {
	var buf bytes.Buffer
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], 12)
	buf.Write(prefix[:])
	buf.Write([]byte{1, 2, 3}) // connection died mid-frame

	r := NewReader(&buf)
	if _, err := r.ReadMessage(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("truncated frame: got %v, want io.ErrUnexpectedEOF", err)
	}
}
