package jsonfile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hay-kot/pgchat/internal/core/chat"
)

func TestCredentialStore_RoundTrip(t *testing.T) {
	store := NewCredentialStore(filepath.Join(t.TempDir(), "credentials.json"))
	ctx := context.Background()

	if _, err := store.Credential(ctx); !errors.Is(err, chat.ErrNoCredential) {
		t.Fatalf("Credential on empty store = %v, want ErrNoCredential", err)
	}

	saved := SavedCredential{
		Token: "tok-1",
		User:  chat.Participant{ID: 42, Type: chat.SenderTenant},
		Name:  "Asha",
	}
	if err := store.Save(ctx, saved); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	info, err := os.Stat(store.Path())
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("file mode = %o, want 600", perm)
	}

	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.User != saved.User || got.Name != "Asha" || got.SavedAt.IsZero() {
		t.Errorf("Load = %+v", got)
	}

	cred, err := store.Credential(ctx)
	if err != nil {
		t.Fatalf("Credential failed: %v", err)
	}
	if cred.Token != "tok-1" {
		t.Errorf("Token = %q, want tok-1", cred.Token)
	}
}

func TestCredentialStore_SaveRequiresToken(t *testing.T) {
	store := NewCredentialStore(filepath.Join(t.TempDir(), "credentials.json"))

	err := store.Save(context.Background(), SavedCredential{})
	if !errors.Is(err, chat.ErrNoCredential) {
		t.Errorf("Save error = %v, want ErrNoCredential", err)
	}
}

func TestCredentialStore_Clear(t *testing.T) {
	store := NewCredentialStore(filepath.Join(t.TempDir(), "credentials.json"))
	ctx := context.Background()

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear on empty store failed: %v", err)
	}

	if err := store.Save(ctx, SavedCredential{Token: "tok"}); err != nil {
		t.Fatal(err)
	}
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if _, err := store.Load(ctx); !errors.Is(err, chat.ErrNoCredential) {
		t.Errorf("Load after Clear = %v, want ErrNoCredential", err)
	}
}

func TestCredentialStore_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := NewCredentialStore(path).Load(context.Background())
	if err == nil || errors.Is(err, chat.ErrNoCredential) {
		t.Errorf("Load error = %v, want parse error", err)
	}
}
