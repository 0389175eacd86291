package doctor

import (
	"context"
	"time"

	"github.com/hay-kot/pgchat/internal/core/chat"
	"github.com/hay-kot/pgchat/internal/realtime/transport"
)

// ServerCheck opens and closes one authenticated connection.
type ServerCheck struct {
	url     string
	dialer  transport.Dialer
	auth    transport.AuthProvider
	timeout time.Duration
}

// NewServerCheck creates a new connectivity check.
func NewServerCheck(url string, dialer transport.Dialer, auth transport.AuthProvider, timeout time.Duration) *ServerCheck {
	return &ServerCheck{url: url, dialer: dialer, auth: auth, timeout: timeout}
}

func (c *ServerCheck) Name() string {
	return "Server"
}

func (c *ServerCheck) Run(ctx context.Context) Result {
	result := Result{Name: c.Name()}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	cred, err := c.auth.Credential(ctx)
	if err != nil {
		result.Items = append(result.Items, CheckItem{Label: "Credential", Status: StatusFail, Detail: err.Error()})
		return result
	}

	start := time.Now()
	conn, err := c.dialer.Dial(ctx, cred)
	if err != nil {
		label := "Connect"
		if chat.IsAuth(err) {
			label = "Authenticate"
		}
		result.Items = append(result.Items, CheckItem{Label: label, Status: StatusFail, Detail: err.Error()})
		return result
	}
	_ = conn.Close()

	result.Items = append(result.Items, CheckItem{
		Label:  "Connect",
		Status: StatusPass,
		Detail: c.url + " in " + time.Since(start).Round(time.Millisecond).String(),
	})
	return result
}
