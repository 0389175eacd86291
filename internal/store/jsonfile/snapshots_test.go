package jsonfile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hay-kot/pgchat/internal/core/chat"
	"github.com/hay-kot/pgchat/internal/realtime/roomstate"
)

func ackedMessage(id int64, room chat.RoomID) chat.Message {
	return chat.Message{
		ID:        chat.MessageID(id),
		RoomID:    room,
		Content:   "msg",
		Type:      chat.TypeText,
		CreatedAt: time.Date(2026, 5, 1, 9, 0, int(id), 0, time.UTC),
		State:     chat.StateAcknowledged,
	}
}

func TestSnapshotStore_SaveAndLoad(t *testing.T) {
	store := NewSnapshotStore(filepath.Join(t.TempDir(), "rooms"))
	ctx := context.Background()

	snap := roomstate.Snapshot{
		Room:     chat.ChatRoom{ID: 3, Name: "Flat 3", Type: chat.RoomDirect, UnreadCount: 2},
		Messages: []chat.Message{ackedMessage(1, 3), ackedMessage(2, 3)},
		Typing:   []chat.Typist{{User: chat.Participant{ID: 9, Type: chat.SenderTenant}}},
		Focused:  true,
	}

	if err := store.Save(ctx, snap); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, savedAt, err := store.Load(ctx, 3)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got.Room.Name != "Flat 3" || got.Room.UnreadCount != 2 {
		t.Errorf("Room = %+v, want name and unread preserved", got.Room)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("Messages = %d, want 2", len(got.Messages))
	}
	if got.Typing != nil {
		t.Errorf("Typing = %v, want nil (typing is not persisted)", got.Typing)
	}
	if got.Focused {
		t.Error("Focused should not be persisted")
	}
	if savedAt.IsZero() {
		t.Error("savedAt should be set")
	}
}

func TestSnapshotStore_LoadNotFound(t *testing.T) {
	store := NewSnapshotStore(filepath.Join(t.TempDir(), "rooms"))

	_, _, err := store.Load(context.Background(), 99)
	if !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("Load error = %v, want ErrSnapshotNotFound", err)
	}
}

func TestSnapshotStore_SaveRequiresRoom(t *testing.T) {
	store := NewSnapshotStore(filepath.Join(t.TempDir(), "rooms"))

	if err := store.Save(context.Background(), roomstate.Snapshot{}); err == nil {
		t.Error("Save without room id should fail")
	}
}

func TestSnapshotStore_RetentionKeepsUnacknowledged(t *testing.T) {
	store := NewSnapshotStore(filepath.Join(t.TempDir(), "rooms")).WithMaxMessages(2)
	ctx := context.Background()

	pending := chat.Message{CorrelationID: "c1", RoomID: 3, Content: "hi", Type: chat.TypeText, State: chat.StatePending, Seq: 1}
	failed := chat.Message{CorrelationID: "c2", RoomID: 3, Content: "yo", Type: chat.TypeText, State: chat.StateFailed, Seq: 2}

	snap := roomstate.Snapshot{
		Room: chat.ChatRoom{ID: 3},
		Messages: []chat.Message{
			ackedMessage(1, 3), ackedMessage(2, 3), ackedMessage(3, 3), ackedMessage(4, 3),
			pending, failed,
		},
	}
	if err := store.Save(ctx, snap); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, _, err := store.Load(ctx, 3)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	var keys []string
	for _, m := range got.Messages {
		keys = append(keys, m.Key())
	}
	want := []string{"3", "4", "c1", "c2"}
	if len(keys) != len(want) {
		t.Fatalf("kept %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("kept[%d] = %s, want %s", i, keys[i], want[i])
		}
	}

	if len(snap.Messages) != 6 {
		t.Error("Save must not modify the caller's slice length")
	}
}

func TestSnapshotStore_ListAndDelete(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "rooms")
	store := NewSnapshotStore(dir)
	ctx := context.Background()

	for _, id := range []chat.RoomID{12, 3, 7} {
		if err := store.Save(ctx, roomstate.Snapshot{Room: chat.ChatRoom{ID: id}}); err != nil {
			t.Fatalf("Save(%d) failed: %v", id, err)
		}
	}
	// stray files are ignored
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	snaps, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(snaps) != 3 {
		t.Fatalf("List returned %d snapshots, want 3", len(snaps))
	}
	for i, want := range []chat.RoomID{3, 7, 12} {
		if snaps[i].Room.ID != want {
			t.Errorf("snaps[%d].Room.ID = %d, want %d", i, snaps[i].Room.ID, want)
		}
	}

	if err := store.Delete(ctx, 7); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Delete(ctx, 7); !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("second Delete error = %v, want ErrSnapshotNotFound", err)
	}

	snaps, _ = store.List(ctx)
	if len(snaps) != 2 {
		t.Errorf("List after delete returned %d, want 2", len(snaps))
	}
}

func TestSnapshotStore_ListEmpty(t *testing.T) {
	store := NewSnapshotStore(filepath.Join(t.TempDir(), "missing"))

	snaps, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(snaps) != 0 {
		t.Errorf("List returned %d, want 0", len(snaps))
	}
}

func TestSnapshotStore_Prune(t *testing.T) {
	store := NewSnapshotStore(filepath.Join(t.TempDir(), "rooms"))
	ctx := context.Background()

	if err := store.Save(ctx, roomstate.Snapshot{Room: chat.ChatRoom{ID: 1}}); err != nil {
		t.Fatal(err)
	}

	removed, err := store.Prune(ctx, time.Hour)
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if removed != 0 {
		t.Errorf("Prune(1h) removed %d, want 0", removed)
	}

	removed, err = store.Prune(ctx, -time.Second)
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("Prune(-1s) removed %d, want 1", removed)
	}
}

func TestSnapshotStore_Scan(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "rooms")
	store := NewSnapshotStore(dir)
	ctx := context.Background()

	if err := store.Save(ctx, roomstate.Snapshot{Room: chat.ChatRoom{ID: 2}}); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "room-5.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}

	ok, corrupt, err := store.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(ok) != 1 || ok[0] != 2 {
		t.Errorf("ok = %v, want [2]", ok)
	}
	if len(corrupt) != 1 || corrupt[0] != 5 {
		t.Errorf("corrupt = %v, want [5]", corrupt)
	}
}
