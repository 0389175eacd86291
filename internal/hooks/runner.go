// Package hooks runs user-configured shell commands for incoming chat traffic.
package hooks

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"github.com/hay-kot/pgchat/internal/core/chat"
	"github.com/hay-kot/pgchat/internal/core/config"
	"github.com/hay-kot/pgchat/internal/styles"
	"github.com/hay-kot/pgchat/pkg/executil"
	"github.com/hay-kot/pgchat/pkg/tmpl"
)

// Runner renders and executes hook templates.
type Runner struct {
	log       zerolog.Logger
	executor  executil.Executor
	onMessage []string
	onEvent   []string
	stdout    io.Writer
	stderr    io.Writer
}

// NewRunner creates a Runner for the configured hooks.
func NewRunner(log zerolog.Logger, executor executil.Executor, hooks config.HooksConfig, stdout, stderr io.Writer) *Runner {
	return &Runner{
		log:       log,
		executor:  executor,
		onMessage: hooks.OnMessage,
		onEvent:   hooks.OnEvent,
		stdout:    stdout,
		stderr:    stderr,
	}
}

// HasMessageHooks reports whether any on_message hooks are configured.
func (r *Runner) HasMessageHooks() bool { return len(r.onMessage) > 0 }

// HasEventHooks reports whether any on_event hooks are configured.
func (r *Runner) HasEventHooks() bool { return len(r.onEvent) > 0 }

// MessageData converts a message into template data.
func MessageData(m chat.Message) config.MessageHookData {
	return config.MessageHookData{
		RoomID:     int64(m.RoomID),
		MessageID:  int64(m.ID),
		SenderID:   int64(m.Sender.ID),
		SenderType: string(m.Sender.Type),
		SenderName: m.SenderName,
		Type:       string(m.Type),
		Content:    m.Content,
		MediaURL:   m.MediaURL,
		CreatedAt:  m.CreatedAt,
	}
}

// RunMessage runs every on_message hook for m. All hooks run even when one
// fails; the first error is returned.
func (r *Runner) RunMessage(ctx context.Context, m chat.Message) error {
	return r.run(ctx, "on_message", r.onMessage, MessageData(m))
}

// RunEvent runs every on_event hook for ev.
func (r *Runner) RunEvent(ctx context.Context, ev chat.DomainEvent) error {
	data := config.EventHookData{Name: ev.Name, Payload: string(ev.Payload)}
	return r.run(ctx, "on_event", r.onEvent, data)
}

func (r *Runner) run(ctx context.Context, kind string, templates []string, data any) error {
	var first error
	for i, t := range templates {
		cmd, err := tmpl.Render(t, data)
		if err != nil {
			err = fmt.Errorf("render %s hook %d: %w", kind, i, err)
			r.log.Error().Err(err).Msg("hook skipped")
			if first == nil {
				first = err
			}
			continue
		}

		r.log.Debug().
			Str("hook", kind).
			Int("index", i).
			Str("command", cmd).
			Msg("running hook")

		r.printCommandHeader(kind, i+1, len(templates), cmd)

		if err := r.executor.RunStream(ctx, r.stdout, r.stderr, "sh", "-c", cmd); err != nil {
			err = fmt.Errorf("run %s hook %d: %w", kind, i, err)
			r.log.Warn().Err(err).Msg("hook failed")
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// printCommandHeader prints a styled header for a hook command.
func (r *Runner) printCommandHeader(kind string, n, total int, cmd string) {
	if r.stderr == nil {
		return
	}
	divider := styles.DividerStyle.Render(strings.Repeat("─", 50))
	header := styles.CommandHeaderStyle.Render(kind)
	label := styles.DividerStyle.Render(fmt.Sprintf("[%d/%d]", n, total))
	command := styles.CommandStyle.Render(cmd)

	_, _ = fmt.Fprintln(r.stderr, divider)
	_, _ = fmt.Fprintf(r.stderr, "%s %s %s\n", header, label, command)
	_, _ = fmt.Fprintln(r.stderr, divider)
}
