// reader.go parses event logs back into records for the analysis and
// archive tooling. Parsing is strict: the tooling should fail loudly on a
// log a machine could not have written, rather than silently skewing the
// statistics.
package eventlog

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/daviddao/clocksim/pkg/model"
)

// ReadFile parses one machine's event log.
func ReadFile(path string) ([]model.LogRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("read event log header: %w", err)
		}
		return nil, fmt.Errorf("event log %s: empty file", path)
	}
	if sc.Text() != Header {
		return nil, fmt.Errorf("event log %s: unexpected header %q", path, sc.Text())
	}

	var records []model.LogRecord
	line := 1
	for sc.Scan() {
		line++
		rec, err := parseRecord(sc.Text())
		if err != nil {
			return nil, fmt.Errorf("event log %s line %d: %w", path, line, err)
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read event log %s: %w", path, err)
	}
	return records, nil
}

func parseRecord(line string) (model.LogRecord, error) {
	fields := strings.Split(line, ",")
	if len(fields) != 6 {
		return model.LogRecord{}, fmt.Errorf("%d fields, want 6", len(fields))
	}

	wall, err := time.Parse(time.RFC3339Nano, fields[0])
	if err != nil {
		return model.LogRecord{}, fmt.Errorf("wall_time: %w", err)
	}
	machineID, err := strconv.Atoi(fields[1])
	if err != nil {
		return model.LogRecord{}, fmt.Errorf("machine_id: %w", err)
	}
	kind := model.EventKind(fields[2])
	if !kind.Valid() {
		return model.LogRecord{}, fmt.Errorf("unknown event kind %q", fields[2])
	}
	logical, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return model.LogRecord{}, fmt.Errorf("logical_clock: %w", err)
	}

	queueLen := model.NoQueue
	if fields[4] != "" {
		queueLen, err = strconv.Atoi(fields[4])
		if err != nil {
			return model.LogRecord{}, fmt.Errorf("queue_len: %w", err)
		}
	}
	peer := model.NoPeer
	if fields[5] != "" {
		peer, err = strconv.Atoi(fields[5])
		if err != nil {
			return model.LogRecord{}, fmt.Errorf("peer: %w", err)
		}
	}

	return model.LogRecord{
		WallTime:    wall,
		MachineID:   machineID,
		Kind:        kind,
		LogicalTime: logical,
		QueueLen:    queueLen,
		Peer:        peer,
	}, nil
}
