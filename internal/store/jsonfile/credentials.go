package jsonfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/hay-kot/pgchat/internal/core/chat"
)

// SavedCredential is the login state written by `pgchat login`.
type SavedCredential struct {
	Token   string           `json:"token"`
	User    chat.Participant `json:"user"`
	Name    string           `json:"name,omitempty"`
	Server  string           `json:"server,omitempty"`
	SavedAt time.Time        `json:"savedAt"`
}

// CredentialStore persists a single credential in a JSON file readable only
// by the owner. It implements transport.AuthProvider.
type CredentialStore struct {
	path string
	mu   sync.RWMutex
}

// NewCredentialStore creates a credential store at the given path.
func NewCredentialStore(path string) *CredentialStore {
	return &CredentialStore{path: path}
}

// Path returns the file backing the store.
func (s *CredentialStore) Path() string {
	return s.path
}

// Load returns the saved credential. Returns chat.ErrNoCredential if none
// has been saved.
func (s *CredentialStore) Load(ctx context.Context) (SavedCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return SavedCredential{}, chat.ErrNoCredential
		}
		return SavedCredential{}, fmt.Errorf("read credential file: %w", err)
	}

	var saved SavedCredential
	if err := json.Unmarshal(data, &saved); err != nil {
		return SavedCredential{}, fmt.Errorf("parse credential file: %w", err)
	}

	if saved.Token == "" {
		return SavedCredential{}, chat.ErrNoCredential
	}

	return saved, nil
}

// Save replaces the stored credential.
func (s *CredentialStore) Save(ctx context.Context, cred SavedCredential) error {
	if cred.Token == "" {
		return fmt.Errorf("save credential: %w", chat.ErrNoCredential)
	}
	if cred.SavedAt.IsZero() {
		cred.SavedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal credential: %w", err)
	}

	return writeAtomic(s.path, data, 0o600)
}

// Clear removes the stored credential. Clearing an empty store is not an error.
func (s *CredentialStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove credential file: %w", err)
	}
	return nil
}

// Credential returns the saved token for the transport. The file is read on
// every call so a fresh login is picked up by the next reconnect.
func (s *CredentialStore) Credential(ctx context.Context) (chat.Credential, error) {
	saved, err := s.Load(ctx)
	if err != nil {
		return chat.Credential{}, err
	}
	return chat.Credential{Token: saved.Token}, nil
}
