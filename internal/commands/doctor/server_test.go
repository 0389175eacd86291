package doctor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hay-kot/pgchat/internal/core/chat"
	"github.com/hay-kot/pgchat/internal/realtime/transport"
)

type stubConn struct{ closed bool }

func (c *stubConn) Read(context.Context) ([]byte, error) { return nil, errors.New("unused") }
func (c *stubConn) Write(context.Context, []byte) error  { return nil }
func (c *stubConn) Ping(context.Context) error           { return nil }
func (c *stubConn) Close() error                         { c.closed = true; return nil }

type stubDialer struct {
	conn *stubConn
	err  error
	got  chat.Credential
}

func (d *stubDialer) Dial(_ context.Context, cred chat.Credential) (transport.Conn, error) {
	d.got = cred
	if d.err != nil {
		return nil, d.err
	}
	return d.conn, nil
}

func TestServerCheck_Connects(t *testing.T) {
	dialer := &stubDialer{conn: &stubConn{}}
	check := NewServerCheck("ws://chat.local/ws", dialer, transport.StaticToken("abc"), time.Second)

	result := check.Run(context.Background())

	require.Len(t, result.Items, 1)
	assert.Equal(t, StatusPass, result.Items[0].Status)
	assert.Contains(t, result.Items[0].Detail, "ws://chat.local/ws")
	assert.Equal(t, "abc", dialer.got.Token)
	assert.True(t, dialer.conn.closed)
}

func TestServerCheck_Failures(t *testing.T) {
	tests := []struct {
		name  string
		auth  transport.AuthProvider
		err   error
		label string
	}{
		{name: "no credential", auth: transport.StaticToken(""), label: "Credential"},
		{name: "rejected", auth: transport.StaticToken("abc"), err: &chat.AuthError{Reason: "expired"}, label: "Authenticate"},
		{name: "unreachable", auth: transport.StaticToken("abc"), err: &chat.NetworkError{Err: errors.New("refused")}, label: "Connect"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check := NewServerCheck("ws://chat.local/ws", &stubDialer{err: tt.err}, tt.auth, 0)
			result := check.Run(context.Background())

			require.Len(t, result.Items, 1)
			assert.Equal(t, StatusFail, result.Items[0].Status)
			assert.Equal(t, tt.label, result.Items[0].Label)
		})
	}
}
