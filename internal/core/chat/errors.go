package chat

import (
	"errors"
	"fmt"
)

// Sentinel errors for realtime operations.
var (
	ErrNoCredential   = errors.New("no credential available")
	ErrNotConnected   = errors.New("not connected")
	ErrClosed         = errors.New("client closed")
	ErrNotFailed      = errors.New("message is not in failed state")
	ErrUnknownMessage = errors.New("unknown message")
)

// AuthError is fatal for a connection: it is never retried and leaves the
// connection disconnected until a new credential is supplied.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth: %s: %v", e.Reason, e.Err)
	}
	return "auth: " + e.Reason
}

func (e *AuthError) Unwrap() error { return e.Err }

// NetworkError is a transient transport fault. The connection retries these
// with backoff.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// SendRejectedError is the per-message rejection reported by the server.
type SendRejectedError struct {
	CorrelationID string
	Reason        string
}

func (e *SendRejectedError) Error() string {
	return fmt.Sprintf("message %s rejected: %s", e.CorrelationID, e.Reason)
}

// MalformedEventError describes an inbound frame that could not be decoded.
type MalformedEventError struct {
	Event string
	Err   error
}

func (e *MalformedEventError) Error() string {
	if e.Event == "" {
		return fmt.Sprintf("malformed event: %v", e.Err)
	}
	return fmt.Sprintf("malformed %q event: %v", e.Event, e.Err)
}

func (e *MalformedEventError) Unwrap() error { return e.Err }

// IsAuth reports whether err is (or wraps) an AuthError.
func IsAuth(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}
