package doctor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hay-kot/pgchat/internal/core/chat"
	"github.com/hay-kot/pgchat/internal/core/config"
	"github.com/hay-kot/pgchat/internal/store/jsonfile"
)

type stubCredentials struct {
	saved jsonfile.SavedCredential
	err   error
}

func (s stubCredentials) Load(context.Context) (jsonfile.SavedCredential, error) {
	return s.saved, s.err
}

func TestAuthCheck_Sources(t *testing.T) {
	tokenFile := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(tokenFile, []byte("abc\n"), 0o600))
	emptyFile := filepath.Join(t.TempDir(), "empty")
	require.NoError(t, os.WriteFile(emptyFile, []byte("  \n"), 0o600))

	tests := []struct {
		name   string
		token  string
		auth   config.AuthConfig
		saved  stubCredentials
		label  string
		status Status
	}{
		{name: "flag", token: "t", label: "Token", status: StatusPass},
		{name: "config token", auth: config.AuthConfig{Token: "t"}, label: "Token", status: StatusPass},
		{name: "token file", auth: config.AuthConfig{TokenFile: tokenFile}, label: "Token file", status: StatusPass},
		{name: "empty token file", auth: config.AuthConfig{TokenFile: emptyFile}, label: "Token file", status: StatusFail},
		{name: "missing token file", auth: config.AuthConfig{TokenFile: tokenFile + ".gone"}, label: "Token file", status: StatusFail},
		{name: "no login", saved: stubCredentials{err: chat.ErrNoCredential}, label: "Saved login", status: StatusFail},
		{name: "broken login", saved: stubCredentials{err: errors.New("parse credential file")}, label: "Saved login", status: StatusFail},
		{name: "saved login", saved: stubCredentials{saved: jsonfile.SavedCredential{Token: "t"}}, label: "Saved login", status: StatusPass},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.Auth = tt.auth

			result := NewAuthCheck(&cfg, tt.token, tt.saved).Run(context.Background())

			assert.Equal(t, "Credentials", result.Name)
			require.Len(t, result.Items, 1)
			assert.Equal(t, tt.label, result.Items[0].Label)
			assert.Equal(t, tt.status, result.Items[0].Status)
		})
	}
}

func TestAuthCheck_SavedLoginDetails(t *testing.T) {
	cfg := config.DefaultConfig()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	saved := jsonfile.SavedCredential{
		Token:   "t",
		User:    chat.Participant{ID: 3, Type: chat.SenderManager},
		Server:  "wss://other.example.com/ws",
		SavedAt: now.Add(-2 * time.Hour),
	}

	check := NewAuthCheck(&cfg, "", stubCredentials{saved: saved})
	check.now = func() time.Time { return now }
	result := check.Run(context.Background())

	require.Len(t, result.Items, 2)
	assert.Equal(t, "saved 2h0m0s ago as MANAGER:3", result.Items[0].Detail)
	assert.Equal(t, "Server", result.Items[1].Label)
	assert.Equal(t, StatusWarn, result.Items[1].Status)
}
