package jsonfile

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/hay-kot/pgchat/internal/core/chat"
	"github.com/hay-kot/pgchat/pkg/randid"
)

const (
	defaultMaxEvents = 1000
	eventsFilename   = "events.jsonl"
)

// LoggedEvent is a domain event as recorded on disk.
type LoggedEvent struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	ReceivedAt time.Time       `json:"receivedAt"`
}

// EventLog records domain events in a JSONL file with bounded retention.
type EventLog struct {
	dir       string
	maxEvents int
	mu        sync.Mutex
}

// NewEventLog creates an event log in the given directory.
func NewEventLog(dir string) *EventLog {
	return &EventLog{
		dir:       dir,
		maxEvents: defaultMaxEvents,
	}
}

// WithMaxEvents sets the maximum number of events to retain.
func (l *EventLog) WithMaxEvents(max int) *EventLog {
	l.maxEvents = max
	return l
}

func (l *EventLog) filePath() string {
	return filepath.Join(l.dir, eventsFilename)
}

func (l *EventLog) lockPath() string {
	return l.filePath() + ".lock"
}

// Record appends a domain event.
func (l *EventLog) Record(ev chat.DomainEvent, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if at.IsZero() {
		at = time.Now()
	}

	entry := LoggedEvent{
		ID:         randid.Generate(12),
		Name:       ev.Name,
		Payload:    ev.Payload,
		ReceivedAt: at,
	}

	return withFileLock(l.lockPath(), syscall.LOCK_EX, func() error {
		events, err := l.readUnsafe()
		if err != nil {
			return err
		}

		events = append(events, entry)

		// Enforce retention limit
		if len(events) > l.maxEvents {
			events = events[len(events)-l.maxEvents:]
		}

		return l.writeUnsafe(events)
	})
}

// List returns recent events, newest first. A limit of 0 returns everything.
func (l *EventLog) List(limit int) ([]LoggedEvent, error) {
	return l.ListSince(time.Time{}, limit)
}

// ListSince returns events received after since, newest first.
func (l *EventLog) ListSince(since time.Time, limit int) ([]LoggedEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var result []LoggedEvent
	err := withFileLock(l.lockPath(), syscall.LOCK_SH, func() error {
		events, err := l.readUnsafe()
		if err != nil {
			return err
		}

		for i := len(events) - 1; i >= 0; i-- {
			if !since.IsZero() && !events[i].ReceivedAt.After(since) {
				continue
			}
			result = append(result, events[i])
			if limit > 0 && len(result) >= limit {
				break
			}
		}
		return nil
	})
	return result, err
}

// readUnsafe reads all events from the file. Caller must hold the lock.
func (l *EventLog) readUnsafe() ([]LoggedEvent, error) {
	f, err := os.Open(l.filePath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open event log: %w", err)
	}
	defer f.Close() //nolint:errcheck

	var events []LoggedEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		var ev LoggedEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			// Skip malformed lines
			continue
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read event log: %w", err)
	}

	return events, nil
}

// writeUnsafe rewrites the file with the given events. Caller must hold the lock.
func (l *EventLog) writeUnsafe(events []LoggedEvent) error {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("create event log directory: %w", err)
	}

	tmpPath := l.filePath() + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	enc := json.NewEncoder(f)
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			f.Close() //nolint:errcheck
			_ = os.Remove(tmpPath)
			return fmt.Errorf("write event: %w", err)
		}
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, l.filePath()); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}

	return nil
}

// Clear removes every recorded event.
func (l *EventLog) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return withFileLock(l.lockPath(), syscall.LOCK_EX, func() error {
		if err := os.Remove(l.filePath()); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove event log: %w", err)
		}
		return nil
	})
}
