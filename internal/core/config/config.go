// Package config handles configuration loading and validation for pgchat.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	Server            ServerConfig    `yaml:"server"`
	Auth              AuthConfig      `yaml:"auth"`
	User              UserConfig      `yaml:"user"`
	Reconnect         ReconnectConfig `yaml:"reconnect"`
	HeartbeatInterval time.Duration   `yaml:"heartbeat_interval"`
	Typing            TypingConfig    `yaml:"typing"`
	Send              SendConfig      `yaml:"send"`
	Rooms             RoomsConfig     `yaml:"rooms"`
	Events            EventsConfig    `yaml:"events"`
	Hooks             HooksConfig     `yaml:"hooks"`
	History           HistoryConfig   `yaml:"history"`
	DataDir           string          `yaml:"-"` // set by caller, not from config file
}

// ServerConfig points at the realtime endpoint.
type ServerConfig struct {
	URL         string        `yaml:"url"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// AuthConfig supplies the session token. Token wins over TokenFile; when both
// are empty the credential saved by `pgchat login` is used.
type AuthConfig struct {
	Token     string `yaml:"token"`
	TokenFile string `yaml:"token_file"`
}

// UserConfig is the identity of the local user. It is only needed to tell our
// own messages and typing signals apart from everyone else's.
type UserConfig struct {
	ID   int64  `yaml:"id"`
	Type string `yaml:"type"` // TENANT or MANAGER
	Name string `yaml:"name"`
}

// ReconnectConfig tunes the exponential reconnect policy.
type ReconnectConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
	Jitter       float64       `yaml:"jitter"`
	MaxAttempts  int           `yaml:"max_attempts"` // 0 retries forever
}

// TypingConfig tunes typing indicators.
type TypingConfig struct {
	Debounce time.Duration `yaml:"debounce"`
	Expiry   time.Duration `yaml:"expiry"`
}

// SendConfig tunes the send pipeline.
type SendConfig struct {
	// PendingTimeout fails messages that were emitted but not acknowledged
	// within the window. Zero disables the timeout.
	PendingTimeout time.Duration `yaml:"pending_timeout"`
}

// RoomsConfig lists rooms joined on startup by listen and chat.
type RoomsConfig struct {
	AutoJoin []int64 `yaml:"auto_join"`
}

// EventsConfig holds the default domain event subscriptions.
type EventsConfig struct {
	// Subscribe is a list of glob patterns matched against event names,
	// for example "task_*".
	Subscribe []string `yaml:"subscribe"`
}

// HooksConfig defines shell commands run for incoming traffic.
type HooksConfig struct {
	// OnMessage command templates run for every new message from another
	// user. See MessageHookData for the available fields.
	OnMessage []string `yaml:"on_message"`
	// OnEvent command templates run for every domain event that matches one
	// of the subscribed patterns. See EventHookData.
	OnEvent []string `yaml:"on_event"`
}

// HistoryConfig bounds the local snapshot cache.
type HistoryConfig struct {
	MaxMessages int `yaml:"max_messages"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			URL:         "ws://localhost:8080/ws",
			DialTimeout: 15 * time.Second,
		},
		User: UserConfig{
			Type: "TENANT",
		},
		Reconnect: ReconnectConfig{
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     30 * time.Second,
			Multiplier:   2,
			Jitter:       0.5,
			MaxAttempts:  10,
		},
		HeartbeatInterval: 25 * time.Second,
		Typing: TypingConfig{
			Debounce: 2 * time.Second,
			Expiry:   5 * time.Second,
		},
		Events: EventsConfig{
			Subscribe: []string{"task_*"},
		},
		History: HistoryConfig{
			MaxMessages: 200,
		},
	}
}

// Load reads configuration from the given path and sets the data directory.
// If configPath is empty or doesn't exist, returns defaults with the provided dataDir.
func Load(configPath, dataDir string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.DataDir = dataDir

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}

			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}

			// Re-set dataDir since Unmarshal may have cleared it
			cfg.DataDir = dataDir
		}
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for any unset configuration options.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()
	if c.Server.DialTimeout == 0 {
		c.Server.DialTimeout = defaults.Server.DialTimeout
	}
	if c.User.Type == "" {
		c.User.Type = defaults.User.Type
	}
	if c.Reconnect.InitialDelay == 0 {
		c.Reconnect.InitialDelay = defaults.Reconnect.InitialDelay
	}
	if c.Reconnect.MaxDelay == 0 {
		c.Reconnect.MaxDelay = defaults.Reconnect.MaxDelay
	}
	if c.Reconnect.Multiplier == 0 {
		c.Reconnect.Multiplier = defaults.Reconnect.Multiplier
	}
	if c.Typing.Debounce == 0 {
		c.Typing.Debounce = defaults.Typing.Debounce
	}
	if c.Typing.Expiry == 0 {
		c.Typing.Expiry = defaults.Typing.Expiry
	}
	if c.History.MaxMessages == 0 {
		c.History.MaxMessages = defaults.History.MaxMessages
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data directory cannot be empty")
	}

	if err := validateServerURL(c.Server.URL); err != nil {
		return fmt.Errorf("server.url: %w", err)
	}

	if !isValidUserType(c.User.Type) {
		return fmt.Errorf("user.type must be TENANT or MANAGER, got %q", c.User.Type)
	}

	if c.Reconnect.Multiplier < 1 {
		return fmt.Errorf("reconnect.multiplier must be at least 1")
	}

	if c.Reconnect.Jitter < 0 || c.Reconnect.Jitter >= 1 {
		return fmt.Errorf("reconnect.jitter must be at least 0 and below 1")
	}

	if c.Reconnect.MaxAttempts < 0 {
		return fmt.Errorf("reconnect.max_attempts cannot be negative")
	}

	if c.Reconnect.MaxDelay < c.Reconnect.InitialDelay {
		return fmt.Errorf("reconnect.max_delay must not be below reconnect.initial_delay")
	}

	if c.HeartbeatInterval < 0 || c.Send.PendingTimeout < 0 {
		return fmt.Errorf("durations cannot be negative")
	}

	if c.History.MaxMessages < 1 {
		return fmt.Errorf("history.max_messages must be at least 1")
	}

	return nil
}

// SnapshotDir returns the directory holding cached room snapshots.
func (c *Config) SnapshotDir() string {
	return filepath.Join(c.DataDir, "rooms")
}

// LogsDir returns the directory for per-run log files.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// CredentialFile returns the path to the credential saved by `pgchat login`.
func (c *Config) CredentialFile() string {
	return filepath.Join(c.DataDir, "credentials.json")
}

func validateServerURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("cannot be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}

func isValidUserType(t string) bool {
	switch t {
	case "TENANT", "MANAGER":
		return true
	default:
		return false
	}
}
