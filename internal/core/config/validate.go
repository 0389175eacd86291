package config

import (
	"fmt"
	"io"
	"os"
	"text/template"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/hay-kot/criterio"
)

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Category string `json:"category"`
	Item     string `json:"item,omitempty"`
	Message  string `json:"message"`
}

// MessageHookData defines available fields for hooks.on_message templates.
type MessageHookData struct {
	RoomID     int64
	MessageID  int64
	SenderID   int64
	SenderType string
	SenderName string
	Type       string
	Content    string
	MediaURL   string
	CreatedAt  time.Time
}

// EventHookData defines available fields for hooks.on_event templates.
type EventHookData struct {
	Name    string
	Payload string
}

// hookFuncs mirrors the functions pkg/tmpl exposes at render time so
// templates using them parse here too.
var hookFuncs = template.FuncMap{
	"shq": func(s string) string { return s },
}

// ValidateDeep performs comprehensive validation of the configuration.
// Unlike Validate(), this checks template syntax, glob patterns, and file access.
func (c *Config) ValidateDeep(configPath string) error {
	var errs criterio.FieldErrorsBuilder

	errs = c.validateFileAccess(errs, configPath)

	if err := validateServerURL(c.Server.URL); err != nil {
		errs = errs.Append("server.url", err)
	}

	if !isValidUserType(c.User.Type) {
		errs = errs.Append("user.type", fmt.Errorf("must be TENANT or MANAGER, got %q", c.User.Type))
	}

	for i, pattern := range c.Events.Subscribe {
		if !doublestar.ValidatePattern(pattern) {
			errs = errs.Append(fmt.Sprintf("events.subscribe[%d]", i), fmt.Errorf("invalid pattern %q: %w", pattern, doublestar.ErrBadPattern))
		}
	}

	for i, cmd := range c.Hooks.OnMessage {
		if err := validateTemplate(cmd, MessageHookData{}); err != nil {
			errs = errs.Append(fmt.Sprintf("hooks.on_message[%d]", i), fmt.Errorf("template error: %w", err))
		}
	}

	for i, cmd := range c.Hooks.OnEvent {
		if err := validateTemplate(cmd, EventHookData{}); err != nil {
			errs = errs.Append(fmt.Sprintf("hooks.on_event[%d]", i), fmt.Errorf("template error: %w", err))
		}
	}

	return errs.ToError()
}

// validateFileAccess checks config file, data directory, and token file.
func (c *Config) validateFileAccess(errs criterio.FieldErrorsBuilder, configPath string) criterio.FieldErrorsBuilder {
	if configPath != "" {
		if info, err := os.Stat(configPath); err == nil {
			if info.IsDir() {
				errs = errs.Append("config", fmt.Errorf("%s is a directory, not a file", configPath))
			}
		} else if !os.IsNotExist(err) {
			errs = errs.Append("config", fmt.Errorf("cannot access %s: %w", configPath, err))
		}
	}

	if c.DataDir == "" {
		errs = errs.Append("data_dir", fmt.Errorf("cannot be empty"))
	} else if info, err := os.Stat(c.DataDir); err == nil {
		if !info.IsDir() {
			errs = errs.Append("data_dir", fmt.Errorf("%s exists but is not a directory", c.DataDir))
		}
	} else if !os.IsNotExist(err) {
		errs = errs.Append("data_dir", fmt.Errorf("cannot access %s: %w", c.DataDir, err))
	}

	if c.Auth.TokenFile != "" {
		if _, err := os.ReadFile(c.Auth.TokenFile); err != nil {
			errs = errs.Append("auth.token_file", fmt.Errorf("cannot read %s: %w", c.Auth.TokenFile, err))
		}
	}

	return errs
}

// Warnings returns non-fatal configuration issues.
func (c *Config) Warnings() []ValidationWarning {
	var warnings []ValidationWarning

	if c.Auth.Token != "" && c.Auth.TokenFile != "" {
		warnings = append(warnings, ValidationWarning{
			Category: "Auth",
			Item:     "token_file",
			Message:  "auth.token is set; auth.token_file is ignored",
		})
	}

	if c.User.ID == 0 {
		warnings = append(warnings, ValidationWarning{
			Category: "User",
			Item:     "id",
			Message:  "user.id is not set; own messages will not be recognized until `pgchat login` stores an identity",
		})
	}

	if c.Reconnect.MaxAttempts == 0 {
		warnings = append(warnings, ValidationWarning{
			Category: "Reconnect",
			Item:     "max_attempts",
			Message:  "reconnect.max_attempts is 0; the client retries forever",
		})
	}

	if c.Send.PendingTimeout > 0 && c.Send.PendingTimeout < c.Reconnect.InitialDelay {
		warnings = append(warnings, ValidationWarning{
			Category: "Send",
			Item:     "pending_timeout",
			Message:  "send.pending_timeout is shorter than reconnect.initial_delay; messages may fail during brief reconnects",
		})
	}

	if len(c.Hooks.OnEvent) > 0 && len(c.Events.Subscribe) == 0 {
		warnings = append(warnings, ValidationWarning{
			Category: "Hooks",
			Item:     "on_event",
			Message:  "hooks.on_event is set but events.subscribe is empty; event hooks never run",
		})
	}

	return warnings
}

// validateTemplate checks if a template string is valid.
func validateTemplate(tmplStr string, data any) error {
	t, err := template.New("").Funcs(hookFuncs).Option("missingkey=error").Parse(tmplStr)
	if err != nil {
		return err
	}

	// Dry-run execute to catch missing key errors
	return t.Execute(io.Discard, data)
}
