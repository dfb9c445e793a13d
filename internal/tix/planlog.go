package tix

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
)

// MaxLineBytes bounds a single plan log line (§6.1); lines exceeding it
// are rejected with a parse warning rather than read into memory
// unbounded.
const MaxLineBytes = 1 << 20 // 1 MiB

// DefaultLogPath is the plan log's default location relative to repo
// root (§4.1).
const DefaultLogPath = "ralph/plan.jsonl"

// PlanLog is the append-only JSONL event log. It owns no long-held file
// handle: every write opens, appends one line, and closes (§5 Shared
// resources).
type PlanLog struct {
	path string
}

// NewPlanLog opens (without holding) the log file at path, creating its
// parent directory if necessary.
func NewPlanLog(path string) (*PlanLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, NewError(ErrIO, "new_plan_log", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, NewError(ErrIO, "new_plan_log", err)
	}
	_ = f.Close()
	return &PlanLog{path: path}, nil
}

// Path returns the log file's path.
func (l *PlanLog) Path() string { return l.path }

// Append writes one complete event line. The write is a single append
// open/write/close so that a crash mid-write leaves at most a partial
// trailing line, which Replay discards.
func (l *PlanLog) Append(line []byte) error {
	if len(line) > MaxLineBytes {
		return NewError(ErrOverflow, "plan_log_append", nil)
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return NewError(ErrIO, "plan_log_append", err)
	}
	defer f.Close()

	line = bytes.TrimRight(line, "\n")
	if _, err := f.Write(append(line, '\n')); err != nil {
		return NewError(ErrIO, "plan_log_append", err)
	}
	return f.Sync()
}

// AppendAll appends multiple lines as a single contiguous write
// (used by batch operations, §6.3 batch and §4.8 executor new_events).
func (l *PlanLog) AppendAll(lines [][]byte) error {
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return NewError(ErrIO, "plan_log_append_all", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	for _, line := range lines {
		if len(line) > MaxLineBytes {
			return NewError(ErrOverflow, "plan_log_append_all", nil)
		}
		buf.Write(bytes.TrimRight(line, "\n"))
		buf.WriteByte('\n')
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		return NewError(ErrIO, "plan_log_append_all", err)
	}
	return f.Sync()
}

// Size returns the log's current byte size, used by cache staleness
// detection (§4.2 cache_meta.last_log_size).
func (l *PlanLog) Size() (int64, error) {
	fi, err := os.Stat(l.path)
	if err != nil {
		return 0, NewError(ErrIO, "plan_log_size", err)
	}
	return fi.Size(), nil
}

// ParseWarning records a line skipped during replay, with its 1-based
// line number and reason.
type ParseWarning struct {
	Line   int
	Reason string
}

// Replay reads every event in the log in order, invoking handle for
// each successfully parsed line. Blank lines and '#'-comment lines are
// skipped silently. An unterminated trailing line (partial write) and
// malformed JSON lines are recorded as warnings and skipped — the
// replayer never panics on malformed input (§4.4).
func (l *PlanLog) Replay(handle func(*RawEvent) error) ([]ParseWarning, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, NewError(ErrIO, "plan_log_replay", err)
	}
	defer f.Close()

	var warnings []ParseWarning
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxLineBytes)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		ev, err := ParseEventLine(line)
		if err != nil {
			warnings = append(warnings, ParseWarning{Line: lineNo, Reason: err.Error()})
			continue
		}
		if err := handle(ev); err != nil {
			return warnings, err
		}
	}
	if err := scanner.Err(); err != nil {
		// bufio.ErrTooLong on an oversized line is reported as a
		// warning, not a hard failure — the rest of the log is still
		// replayable once the offending line is skipped by the writer.
		warnings = append(warnings, ParseWarning{Line: lineNo + 1, Reason: err.Error()})
	}
	return warnings, nil
}
