package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	dataDir := t.TempDir()

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), dataDir)
	require.NoError(t, err)

	want := DefaultConfig()
	want.DataDir = dataDir
	assert.Equal(t, &want, cfg)
}

func TestLoad_ParsesFile(t *testing.T) {
	path := writeConfig(t, `
server:
  url: wss://pg.example.com/realtime
auth:
  token: secret
user:
  id: 42
  type: MANAGER
  name: Asha
reconnect:
  initial_delay: 1s
  max_delay: 1m
  max_attempts: 0
typing:
  debounce: 3s
send:
  pending_timeout: 45s
rooms:
  auto_join: [3, 4]
events:
  subscribe: ["task_created"]
hooks:
  on_message:
    - notify-send {{ .Content | shq }}
`)

	cfg, err := Load(path, "/data")
	require.NoError(t, err)

	assert.Equal(t, "wss://pg.example.com/realtime", cfg.Server.URL)
	assert.Equal(t, "secret", cfg.Auth.Token)
	assert.Equal(t, UserConfig{ID: 42, Type: "MANAGER", Name: "Asha"}, cfg.User)
	assert.Equal(t, time.Second, cfg.Reconnect.InitialDelay)
	assert.Equal(t, time.Minute, cfg.Reconnect.MaxDelay)
	assert.Equal(t, 0, cfg.Reconnect.MaxAttempts)
	assert.Equal(t, 3*time.Second, cfg.Typing.Debounce)
	assert.Equal(t, 45*time.Second, cfg.Send.PendingTimeout)
	assert.Equal(t, []int64{3, 4}, cfg.Rooms.AutoJoin)
	assert.Equal(t, []string{"task_created"}, cfg.Events.Subscribe)
	assert.Len(t, cfg.Hooks.OnMessage, 1)
	assert.Equal(t, "/data", cfg.DataDir)

	// untouched values keep their defaults
	assert.Equal(t, 5*time.Second, cfg.Typing.Expiry)
	assert.InDelta(t, 2.0, cfg.Reconnect.Multiplier, 0)
	assert.Equal(t, 200, cfg.History.MaxMessages)
}

func TestLoad_ZeroValuesGetDefaults(t *testing.T) {
	path := writeConfig(t, `
user:
  type: ""
typing:
  expiry: 0s
history:
  max_messages: 0
`)

	cfg, err := Load(path, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "TENANT", cfg.User.Type)
	assert.Equal(t, 5*time.Second, cfg.Typing.Expiry)
	assert.Equal(t, 200, cfg.History.MaxMessages)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "bad yaml", body: "server: [", want: "parse config file"},
		{name: "bad url", body: "server:\n  url: ftp://x\n", want: "server.url"},
		{name: "bad user type", body: "user:\n  type: OWNER\n", want: "user.type"},
		{name: "jitter out of range", body: "reconnect:\n  jitter: 1.5\n", want: "reconnect.jitter"},
		{name: "max below initial", body: "reconnect:\n  initial_delay: 10s\n  max_delay: 1s\n", want: "reconnect.max_delay"},
		{name: "negative attempts", body: "reconnect:\n  max_attempts: -1\n", want: "reconnect.max_attempts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body), t.TempDir())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_RequiresDataDir(t *testing.T) {
	_, err := Load("", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "data directory")
}

func TestPaths(t *testing.T) {
	cfg := Config{DataDir: "/var/pgchat"}
	assert.Equal(t, "/var/pgchat/rooms", cfg.SnapshotDir())
	assert.Equal(t, "/var/pgchat/credentials.json", cfg.CredentialFile())
	assert.Equal(t, "/var/pgchat/logs", cfg.LogsDir())
}
