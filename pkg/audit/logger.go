package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fleetlab/fleetlab/pkg/util"
)

// Logger is the sink for lease, session, tree-write and script-run events.
type Logger interface {
	Log(event *Event) error
	Query(filter Filter) ([]*Event, error)
	Close() error
}

// RotationConfig bounds the audit trail's on-disk footprint.
type RotationConfig struct {
	MaxSize    int64 // Max file size in bytes before rotation
	MaxBackups int   // Max number of rotated files to retain
}

// FileLogger appends events to a JSON-lines file. Each event is marshaled
// completely before any byte reaches the file and written in a single
// call, so a crash can truncate at most the final line and two concurrent
// writers can never interleave events. File size is tracked in memory
// across writes rather than re-statted per event.
type FileLogger struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	size     int64
	rotation RotationConfig
}

// NewFileLogger opens (or resumes) the audit trail at path.
func NewFileLogger(path string, rotation RotationConfig) (*FileLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("audit: creating log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("audit: opening log: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("audit: sizing log: %w", err)
	}

	return &FileLogger{path: path, file: file, size: info.Size(), rotation: rotation}, nil
}

// Log appends one event, rotating first when the line would push the file
// past MaxSize.
func (l *FileLogger) Log(event *Event) error {
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("audit: encoding event: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.rotation.MaxSize > 0 && l.size > 0 && l.size+int64(len(line)) > l.rotation.MaxSize {
		if err := l.rotate(); err != nil {
			return fmt.Errorf("audit: rotating log: %w", err)
		}
	}

	n, err := l.file.Write(line)
	l.size += int64(n)
	return err
}

// Query streams the live trail through filter. Offset and Limit are
// applied during the scan, so a bounded query stops reading as soon as it
// is satisfied instead of materializing every matching event first.
func (l *FileLogger) Query(filter Filter) ([]*Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []*Event{}, nil
		}
		return nil, err
	}
	defer f.Close()

	var events []*Event
	toSkip := filter.Offset
	scanner := bufio.NewScanner(f)
	for line := 1; scanner.Scan(); line++ {
		var event Event
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			util.Warnf("audit: skipping unreadable entry at line %d: %v", line, err)
			continue
		}
		if !filter.matches(&event) {
			continue
		}
		if toSkip > 0 {
			toSkip--
			continue
		}
		events = append(events, &event)
		if filter.Limit > 0 && len(events) == filter.Limit {
			break
		}
	}
	if events == nil {
		events = []*Event{}
	}
	return events, scanner.Err()
}

// Close closes the live file.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// matches reports whether e passes every criterion set on f; zero-valued
// fields are wildcards.
func (f Filter) matches(e *Event) bool {
	for _, c := range []struct{ want, got string }{
		{f.Device, e.Device},
		{f.User, e.User},
		{f.Operation, e.Operation},
		{f.Host, e.Host},
		{f.TreeID, e.TreeID},
	} {
		if c.want != "" && c.want != c.got {
			return false
		}
	}
	if !f.StartTime.IsZero() && e.Timestamp.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && e.Timestamp.After(f.EndTime) {
		return false
	}
	if f.SuccessOnly && !e.Success {
		return false
	}
	if f.FailureOnly && e.Success {
		return false
	}
	return true
}

// rotate moves the live file aside and starts a fresh one. Rotated names
// carry a nanosecond stamp, so two rotations within the same second
// cannot collide, and equal-width stamps make lexicographic order the
// creation order.
func (l *FileLogger) rotate() error {
	if err := l.file.Close(); err != nil {
		return err
	}
	rotated := fmt.Sprintf("%s.%019d", l.path, time.Now().UnixNano())
	if err := os.Rename(l.path, rotated); err != nil {
		return err
	}

	file, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	l.file = file
	l.size = 0

	l.prune()
	return nil
}

// prune drops the oldest rotated files beyond MaxBackups, sorting by name
// (stamps are fixed-width, so no per-file Stat is needed).
func (l *FileLogger) prune() {
	if l.rotation.MaxBackups <= 0 {
		return
	}
	rotated, err := filepath.Glob(l.path + ".*")
	if err != nil || len(rotated) <= l.rotation.MaxBackups {
		return
	}
	sort.Strings(rotated)
	for _, old := range rotated[:len(rotated)-l.rotation.MaxBackups] {
		os.Remove(old)
	}
}

// The package-level Log/Query helpers write through a process-wide sink,
// installed once at startup by the binary. A nil sink disables auditing
// without the call sites having to care.
var (
	sinkMu sync.RWMutex
	sink   Logger
)

// SetDefaultLogger installs the process-wide audit sink. Pass nil to
// disable auditing.
func SetDefaultLogger(logger Logger) {
	sinkMu.Lock()
	sink = logger
	sinkMu.Unlock()
}

func defaultSink() Logger {
	sinkMu.RLock()
	defer sinkMu.RUnlock()
	return sink
}

// Log writes an event through the default sink; a no-op when none is
// installed.
func Log(event *Event) error {
	if l := defaultSink(); l != nil {
		return l.Log(event)
	}
	return nil
}

// Query reads events from the default sink; empty when none is installed.
func Query(filter Filter) ([]*Event, error) {
	if l := defaultSink(); l != nil {
		return l.Query(filter)
	}
	return []*Event{}, nil
}
