// Package eventlog writes and reads the per-machine event logs.
//
// The log is the experiment's only artifact: one CSV line per tick, in
// the exact order the tick loop produced it. The column set and order are
// stable across runs so the analysis tooling can parse mechanically:
//
//	wall_time,machine_id,event,logical_clock,queue_len,peer
//
// queue_len is populated only for RECEIVE records; peer only for RECEIVE
// and SEND_ONE. Writes are buffered with a periodic flush; Close performs
// the final flush. A write failure degrades logging (reported once to
// stderr) but never stops the machine: losing log fidelity must not
// corrupt the rest of the cluster's run.
package eventlog

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/daviddao/clocksim/pkg/model"
)

// Header is the first line of every event log.
const Header = "wall_time,machine_id,event,logical_clock,queue_len,peer"

// flushEvery bounds how many records may sit in the buffer before a
// flush. Small enough that a crashed run still leaves a usable log, large
// enough not to stall a fast tick loop on storage.
const flushEvery = 32

// Logger appends records for one machine. Append never fails from the
// caller's perspective; see package doc.
type Logger struct {
	mu        sync.Mutex
	f         io.WriteCloser
	w         *bufio.Writer
	machineID int
	pending   int
	degraded  bool
}

// Create opens (truncating) the log file at path and writes the header.
func Create(path string, machineID int) (*Logger, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create event log: %w", err)
	}
	l := &Logger{f: f, w: bufio.NewWriter(f), machineID: machineID}
	if _, err := l.w.WriteString(Header + "\n"); err != nil {
		f.Close()
		return nil, fmt.Errorf("write event log header: %w", err)
	}
	return l, nil
}

// Append writes one record. Record order is exactly call order. On a
// write error the logger enters degraded mode: the condition is reported
// once and subsequent appends become no-ops.
func (l *Logger) Append(rec model.LogRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.degraded {
		return
	}
	if _, err := l.w.WriteString(FormatRecord(rec) + "\n"); err != nil {
		l.degrade(err)
		return
	}
	l.pending++
	if l.pending >= flushEvery {
		if err := l.w.Flush(); err != nil {
			l.degrade(err)
			return
		}
		l.pending = 0
	}
}

// Close flushes buffered records and closes the file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var flushErr error
	if !l.degraded {
		flushErr = l.w.Flush()
	}
	closeErr := l.f.Close()
	if flushErr != nil {
		return fmt.Errorf("flush event log: %w", flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close event log: %w", closeErr)
	}
	return nil
}

// Degraded reports whether the logger has stopped persisting records.
func (l *Logger) Degraded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.degraded
}

func (l *Logger) degrade(err error) {
	l.degraded = true
	log.Printf("machine %d: event logging degraded, records will be dropped: %v", l.machineID, err)
}

// FormatRecord renders one record as a CSV line, without the trailing
// newline. Sentinel queue and peer values render as empty fields.
func FormatRecord(rec model.LogRecord) string {
	queue := ""
	if rec.QueueLen >= 0 {
		queue = strconv.Itoa(rec.QueueLen)
	}
	peer := ""
	if rec.Peer >= 0 {
		peer = strconv.Itoa(rec.Peer)
	}
	return rec.WallTime.UTC().Format(time.RFC3339Nano) +
		"," + strconv.Itoa(rec.MachineID) +
		"," + string(rec.Kind) +
		"," + strconv.FormatInt(rec.LogicalTime, 10) +
		"," + queue +
		"," + peer
}
