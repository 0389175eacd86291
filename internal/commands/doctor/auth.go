package doctor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hay-kot/pgchat/internal/core/chat"
	"github.com/hay-kot/pgchat/internal/core/config"
	"github.com/hay-kot/pgchat/internal/store/jsonfile"
)

// CredentialLoader reads the credential saved by login.
type CredentialLoader interface {
	Load(ctx context.Context) (jsonfile.SavedCredential, error)
}

// AuthCheck reports which credential source a session will use and whether
// it is usable.
type AuthCheck struct {
	config *config.Config
	token  string
	saved  CredentialLoader
	now    func() time.Time
}

// NewAuthCheck creates a new credential check. token is the value of the
// --token flag, if any.
func NewAuthCheck(cfg *config.Config, token string, saved CredentialLoader) *AuthCheck {
	return &AuthCheck{config: cfg, token: token, saved: saved, now: time.Now}
}

func (c *AuthCheck) Name() string {
	return "Credentials"
}

func (c *AuthCheck) Run(ctx context.Context) Result {
	result := Result{Name: c.Name()}

	switch {
	case c.token != "":
		result.Items = append(result.Items, CheckItem{Label: "Token", Status: StatusPass, Detail: "provided on the command line"})
		return result
	case c.config.Auth.Token != "":
		result.Items = append(result.Items, CheckItem{Label: "Token", Status: StatusPass, Detail: "auth.token in config"})
		return result
	case c.config.Auth.TokenFile != "":
		result.Items = append(result.Items, c.tokenFileItem())
		return result
	}

	saved, err := c.saved.Load(ctx)
	if errors.Is(err, chat.ErrNoCredential) {
		result.Items = append(result.Items, CheckItem{
			Label:  "Saved login",
			Status: StatusFail,
			Detail: "no credential found; run 'pgchat login' or set auth.token",
		})
		return result
	}
	if err != nil {
		result.Items = append(result.Items, CheckItem{
			Label:  "Saved login",
			Status: StatusFail,
			Detail: err.Error(),
		})
		return result
	}

	detail := "saved"
	if !saved.SavedAt.IsZero() {
		detail = fmt.Sprintf("saved %s ago", c.now().Sub(saved.SavedAt).Round(time.Minute))
	}
	if !saved.User.IsZero() {
		detail += " as " + saved.User.String()
	}
	result.Items = append(result.Items, CheckItem{Label: "Saved login", Status: StatusPass, Detail: detail})

	if saved.Server != "" && c.config.Server.URL != "" && saved.Server != c.config.Server.URL {
		result.Items = append(result.Items, CheckItem{
			Label:  "Server",
			Status: StatusWarn,
			Detail: fmt.Sprintf("login was saved for %s, config points at %s", saved.Server, c.config.Server.URL),
		})
	}

	return result
}

func (c *AuthCheck) tokenFileItem() CheckItem {
	path := c.config.Auth.TokenFile
	data, err := os.ReadFile(path)
	if err != nil {
		return CheckItem{Label: "Token file", Status: StatusFail, Detail: err.Error()}
	}
	if strings.TrimSpace(string(data)) == "" {
		return CheckItem{Label: "Token file", Status: StatusFail, Detail: path + " is empty"}
	}
	return CheckItem{Label: "Token file", Status: StatusPass, Detail: path}
}
