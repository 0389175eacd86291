package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"nhooyr.io/websocket"

	"github.com/hay-kot/pgchat/internal/core/chat"
)

// Close codes the chat server uses to reject a session after the upgrade.
const (
	StatusUnauthorized websocket.StatusCode = 4001
	StatusForbidden    websocket.StatusCode = 4003
)

const defaultReadLimit = 1 << 20

// WebSocketDialer dials the chat server over WebSocket. The token is sent both
// as a query parameter and as a bearer header.
type WebSocketDialer struct {
	URL        string
	HTTPClient *http.Client
	ReadLimit  int64
}

func (d WebSocketDialer) Dial(ctx context.Context, cred chat.Credential) (Conn, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	q := u.Query()
	q.Set("token", cred.Token)
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+cred.Token)

	ws, resp, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
		HTTPHeader: header,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, &chat.AuthError{Reason: "handshake rejected: " + resp.Status, Err: err}
		}
		return nil, &chat.NetworkError{Op: "dial", Err: err}
	}

	limit := d.ReadLimit
	if limit <= 0 {
		limit = defaultReadLimit
	}
	ws.SetReadLimit(limit)
	return &wsConn{ws: ws}, nil
}

type wsConn struct {
	ws *websocket.Conn
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.ws.Read(ctx)
	if err != nil {
		switch websocket.CloseStatus(err) {
		case StatusUnauthorized, StatusForbidden:
			return nil, &chat.AuthError{Reason: "session closed by server", Err: err}
		}
		return nil, &chat.NetworkError{Op: "read", Err: err}
	}
	return data, nil
}

func (c *wsConn) Write(ctx context.Context, data []byte) error {
	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
		return &chat.NetworkError{Op: "write", Err: err}
	}
	return nil
}

func (c *wsConn) Ping(ctx context.Context) error {
	return c.ws.Ping(ctx)
}

func (c *wsConn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "")
}
