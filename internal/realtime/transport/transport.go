// Package transport owns the single duplex event channel of a chat session:
// dialing, authentication, heartbeat, and reconnect with backoff.
package transport

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hay-kot/pgchat/internal/core/chat"
)

// State is the connection lifecycle state.
type State string

const (
	StateDisconnected  State = "disconnected"
	StateConnecting    State = "connecting"
	StateAuthenticated State = "authenticated"
	StateConnected     State = "connected"
	StateReconnecting  State = "reconnecting"
)

// StateChange is delivered to the Handler on every transition.
type StateChange struct {
	State State
	// Cycle counts transitions into StateConnected; it identifies the socket
	// an intent was emitted on.
	Cycle   uint64
	Attempt int
	Delay   time.Duration
	Err     error
}

// Handler receives connection output. Calls are made from one goroutine at a
// time, in order; implementations should hand work off rather than block.
type Handler interface {
	HandleState(StateChange)
	HandleEvent(chat.Event)
}

// AuthProvider supplies the session credential. It is consulted on Connect and
// again before every reconnect attempt.
type AuthProvider interface {
	Credential(ctx context.Context) (chat.Credential, error)
}

// StaticToken is an AuthProvider for a fixed token.
type StaticToken string

func (t StaticToken) Credential(context.Context) (chat.Credential, error) {
	if t == "" {
		return chat.Credential{}, chat.ErrNoCredential
	}
	return chat.Credential{Token: string(t)}, nil
}

// TokenFile is an AuthProvider that reads the token from a file on every
// call, so a rotated token is picked up on the next reconnect.
type TokenFile string

func (f TokenFile) Credential(context.Context) (chat.Credential, error) {
	data, err := os.ReadFile(string(f))
	if err != nil {
		return chat.Credential{}, fmt.Errorf("read token file: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return chat.Credential{}, chat.ErrNoCredential
	}
	return chat.Credential{Token: token}, nil
}

// Conn is one open socket. Read and Write return *chat.AuthError for
// authentication rejections and *chat.NetworkError for everything else.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Ping(ctx context.Context) error
	Close() error
}

// Dialer opens sockets.
type Dialer interface {
	Dial(ctx context.Context, cred chat.Credential) (Conn, error)
}

// Options tunes reconnect and heartbeat behavior.
type Options struct {
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	Multiplier        float64
	Jitter            float64
	MaxAttempts       int // 0 retries forever
	HeartbeatInterval time.Duration
	DialTimeout       time.Duration
}

// DefaultOptions returns the stock reconnect policy.
func DefaultOptions() Options {
	return Options{
		InitialDelay:      500 * time.Millisecond,
		MaxDelay:          30 * time.Second,
		Multiplier:        2,
		Jitter:            0.5,
		MaxAttempts:       10,
		HeartbeatInterval: 25 * time.Second,
		DialTimeout:       15 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.InitialDelay <= 0 {
		o.InitialDelay = def.InitialDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = def.MaxDelay
	}
	if o.Multiplier < 1 {
		o.Multiplier = def.Multiplier
	}
	if o.Jitter < 0 || o.Jitter >= 1 {
		o.Jitter = def.Jitter
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = def.DialTimeout
	}
	return o
}
