package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/hay-kot/pgchat/internal/core/chat"
	"github.com/hay-kot/pgchat/internal/realtime/roomstate"
)

const defaultMaxMessages = 200

// ErrSnapshotNotFound is returned when no snapshot is cached for a room.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// snapshotFile is the JSON structure stored on disk per room.
type snapshotFile struct {
	SavedAt  time.Time          `json:"savedAt"`
	Snapshot roomstate.Snapshot `json:"snapshot"`
}

// SnapshotStore caches room snapshots using one JSON file per room.
type SnapshotStore struct {
	dir         string
	maxMessages int
	mu          sync.RWMutex
}

// NewSnapshotStore creates a snapshot store at the given directory
// (e.g., $XDG_DATA_HOME/pgchat/rooms).
func NewSnapshotStore(dir string) *SnapshotStore {
	return &SnapshotStore{
		dir:         dir,
		maxMessages: defaultMaxMessages,
	}
}

// WithMaxMessages sets the maximum number of acknowledged messages retained
// per room. Pending and failed messages are always kept.
func (s *SnapshotStore) WithMaxMessages(max int) *SnapshotStore {
	if max > 0 {
		s.maxMessages = max
	}
	return s
}

func (s *SnapshotStore) roomPath(id chat.RoomID) string {
	return filepath.Join(s.dir, fmt.Sprintf("room-%d.json", id))
}

func (s *SnapshotStore) lockPath(id chat.RoomID) string {
	return s.roomPath(id) + ".lock"
}

// Save writes the snapshot for its room, replacing any previous one. Typing
// indicators and focus are session-local and never persisted.
func (s *SnapshotStore) Save(ctx context.Context, snap roomstate.Snapshot) error {
	if snap.Room.ID == 0 {
		return fmt.Errorf("save snapshot: room id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap.Typing = nil
	snap.Focused = false
	snap.Messages = s.trim(snap.Messages)

	return withFileLock(s.lockPath(snap.Room.ID), syscall.LOCK_EX, func() error {
		data, err := json.MarshalIndent(snapshotFile{SavedAt: time.Now(), Snapshot: snap}, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal snapshot: %w", err)
		}
		return writeAtomic(s.roomPath(snap.Room.ID), data, 0o644)
	})
}

// trim drops the oldest acknowledged messages beyond the retention limit.
func (s *SnapshotStore) trim(msgs []chat.Message) []chat.Message {
	acked := 0
	for _, m := range msgs {
		if m.State == chat.StateAcknowledged {
			acked++
		}
	}

	drop := acked - s.maxMessages
	if drop <= 0 {
		return msgs
	}

	kept := make([]chat.Message, 0, len(msgs)-drop)
	for _, m := range msgs {
		if drop > 0 && m.State == chat.StateAcknowledged {
			drop--
			continue
		}
		kept = append(kept, m)
	}
	return kept
}

// Load returns the cached snapshot for a room and when it was saved.
// Returns ErrSnapshotNotFound if none exists.
func (s *SnapshotStore) Load(ctx context.Context, id chat.RoomID) (roomstate.Snapshot, time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var file snapshotFile
	err := withFileLock(s.lockPath(id), syscall.LOCK_SH, func() error {
		var err error
		file, err = s.load(id)
		return err
	})
	if err != nil {
		return roomstate.Snapshot{}, time.Time{}, err
	}

	return file.Snapshot, file.SavedAt, nil
}

// List returns every cached snapshot ordered by room id.
func (s *SnapshotStore) List(ctx context.Context) ([]roomstate.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids, err := s.roomIDs()
	if err != nil {
		return nil, err
	}

	snaps := make([]roomstate.Snapshot, 0, len(ids))
	for _, id := range ids {
		err := withFileLock(s.lockPath(id), syscall.LOCK_SH, func() error {
			file, err := s.load(id)
			if err != nil {
				return err
			}
			snaps = append(snaps, file.Snapshot)
			return nil
		})
		if errors.Is(err, ErrSnapshotNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
	}

	return snaps, nil
}

// Delete removes the cached snapshot for a room. Returns ErrSnapshotNotFound
// if none exists.
func (s *SnapshotStore) Delete(ctx context.Context, id chat.RoomID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := withFileLock(s.lockPath(id), syscall.LOCK_EX, func() error {
		if err := os.Remove(s.roomPath(id)); err != nil {
			if os.IsNotExist(err) {
				return ErrSnapshotNotFound
			}
			return fmt.Errorf("remove snapshot: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	_ = os.Remove(s.lockPath(id))
	return nil
}

// Prune removes snapshots saved before the cutoff. Returns the number removed.
func (s *SnapshotStore) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, err := s.roomIDs()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-olderThan)
	var removed int
	for _, id := range ids {
		err := withFileLock(s.lockPath(id), syscall.LOCK_EX, func() error {
			file, err := s.load(id)
			if err != nil {
				return err
			}
			if file.SavedAt.After(cutoff) {
				return nil
			}
			if err := os.Remove(s.roomPath(id)); err != nil {
				return fmt.Errorf("remove snapshot: %w", err)
			}
			removed++
			return nil
		})
		if err != nil && !errors.Is(err, ErrSnapshotNotFound) {
			return removed, err
		}
	}

	return removed, nil
}

// roomIDs lists the rooms with a snapshot file. Caller must hold s.mu.
func (s *SnapshotStore) roomIDs() ([]chat.RoomID, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read snapshot directory: %w", err)
	}

	var ids []chat.RoomID
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "room-") || !strings.HasSuffix(name, ".json") {
			continue
		}
		raw := strings.TrimSuffix(strings.TrimPrefix(name, "room-"), ".json")
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, chat.RoomID(id))
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// load reads a room file from disk. Caller must hold the room lock.
func (s *SnapshotStore) load(id chat.RoomID) (snapshotFile, error) {
	data, err := os.ReadFile(s.roomPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return snapshotFile{}, ErrSnapshotNotFound
		}
		return snapshotFile{}, fmt.Errorf("read snapshot file: %w", err)
	}

	if len(data) == 0 {
		return snapshotFile{}, ErrSnapshotNotFound
	}

	var file snapshotFile
	if err := json.Unmarshal(data, &file); err != nil {
		return snapshotFile{}, fmt.Errorf("parse snapshot file: %w", err)
	}

	return file, nil
}

// Scan reads every snapshot file and splits the rooms into readable and
// unreadable ones.
func (s *SnapshotStore) Scan(ctx context.Context) (ok, corrupt []chat.RoomID, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids, err := s.roomIDs()
	if err != nil {
		return nil, nil, err
	}

	for _, id := range ids {
		err := withFileLock(s.lockPath(id), syscall.LOCK_SH, func() error {
			_, err := s.load(id)
			return err
		})
		switch {
		case err == nil:
			ok = append(ok, id)
		case errors.Is(err, ErrSnapshotNotFound):
		default:
			corrupt = append(corrupt, id)
		}
	}

	return ok, corrupt, nil
}
