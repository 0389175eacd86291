package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/hay-kot/pgchat/internal/core/chat"
	"github.com/hay-kot/pgchat/internal/printer"
	"github.com/hay-kot/pgchat/internal/realtime/transport"
	"github.com/hay-kot/pgchat/internal/store/jsonfile"
	"github.com/hay-kot/pgchat/pkg/mailbox"
)

type EventsCmd struct {
	flags      *Flags
	showLog    bool
	limit      int
	since      string
	jsonOutput bool
	noRecord   bool
}

// NewEventsCmd creates a new events command.
func NewEventsCmd(flags *Flags) *EventsCmd {
	return &EventsCmd{flags: flags}
}

// Register adds the events command to the application.
func (cmd *EventsCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "events",
		Usage:     "Watch or review domain events",
		UsageText: "pgchat events [--log] [PATTERN...]",
		Description: `Streams domain events (task_created, task_updated, ...) whose names match
one of the given glob patterns, or events.subscribe from the config when no
patterns are given.

With --log, prints events recorded by earlier listen and events sessions
instead of connecting.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "log",
				Aliases:     []string{"l"},
				Usage:       "show recorded events instead of streaming",
				Destination: &cmd.showLog,
			},
			&cli.IntFlag{
				Name:        "limit",
				Aliases:     []string{"n"},
				Usage:       "maximum number of recorded events to show",
				Value:       20,
				Destination: &cmd.limit,
			},
			&cli.StringFlag{
				Name:        "since",
				Usage:       "only show recorded events newer than this duration (e.g., 1h)",
				Destination: &cmd.since,
			},
			&cli.BoolFlag{
				Name:        "no-record",
				Usage:       "do not record streamed events in the event log",
				Destination: &cmd.noRecord,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print one JSON object per line",
				Destination: &cmd.jsonOutput,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *EventsCmd) run(ctx context.Context, c *cli.Command) error {
	patterns := c.Args().Slice()
	if len(patterns) == 0 {
		patterns = cmd.flags.Config.Events.Subscribe
	}
	for _, pattern := range patterns {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("invalid pattern %q: %w", pattern, doublestar.ErrBadPattern)
		}
	}

	if cmd.showLog {
		return cmd.runLog(ctx, c, patterns)
	}

	if len(patterns) == 0 {
		return fmt.Errorf("no event patterns: pass a pattern or set events.subscribe")
	}
	return cmd.runStream(ctx, c, patterns)
}

func (cmd *EventsCmd) runLog(ctx context.Context, c *cli.Command, patterns []string) error {
	var since time.Time
	if cmd.since != "" {
		d, err := time.ParseDuration(cmd.since)
		if err != nil {
			return fmt.Errorf("invalid since duration %q", cmd.since)
		}
		since = time.Now().Add(-d)
	}

	events, err := jsonfile.NewEventLog(cmd.flags.Config.DataDir).ListSince(since, 0)
	if err != nil {
		return fmt.Errorf("read event log: %w", err)
	}

	matched := make([]jsonfile.LoggedEvent, 0, len(events))
	for _, ev := range events {
		if len(patterns) > 0 && !matchAny(patterns, ev.Name) {
			continue
		}
		matched = append(matched, ev)
		if cmd.limit > 0 && len(matched) >= cmd.limit {
			break
		}
	}

	out := c.Root().Writer
	if cmd.jsonOutput {
		enc := json.NewEncoder(out)
		for _, ev := range matched {
			if err := enc.Encode(ev); err != nil {
				return err
			}
		}
		return nil
	}

	if len(matched) == 0 {
		printer.Ctx(ctx).Infof("No recorded events")
		return nil
	}

	// Oldest first reads naturally in a terminal.
	for i := len(matched) - 1; i >= 0; i-- {
		ev := matched[i]
		_, _ = fmt.Fprintf(out, "%s %s\n",
			printer.ColorGray+ev.ReceivedAt.Local().Format("2006-01-02 15:04:05")+printer.ColorReset,
			printer.FormatEvent(ev.Name, ev.Payload),
		)
	}
	return nil
}

func (cmd *EventsCmd) runStream(ctx context.Context, c *cli.Command, patterns []string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := cmd.flags.openSession(ctx)
	if err != nil {
		return err
	}
	defer s.client.Close()

	out := newLineWriter(c.Root().Writer, cmd.jsonOutput, s.self)

	records := mailbox.New[chat.DomainEvent]()
	defer records.Close()
	if !cmd.noRecord {
		go func() {
			for {
				ev, ok := records.Pop(ctx)
				if !ok {
					return
				}
				if err := s.events.Record(ev, time.Now()); err != nil {
					log.Warn().Err(err).Str("event", ev.Name).Msg("failed to record event")
				}
			}
		}()
	}

	for _, pattern := range patterns {
		_, err := s.client.SubscribePattern(pattern, func(ev chat.DomainEvent) {
			out.event(ev)
			if !cmd.noRecord {
				records.Push(ev)
			}
		})
		if err != nil {
			return fmt.Errorf("subscribe %q: %w", pattern, err)
		}
	}

	failed := make(chan error, 1)
	s.client.OnError(func(err error) {
		if chat.IsAuth(err) || s.client.State().State == transport.StateDisconnected {
			select {
			case failed <- err:
			default:
			}
		}
	})

	if err := s.client.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-failed:
		return fmt.Errorf("connection lost: %w", err)
	}
}

func matchAny(patterns []string, name string) bool {
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return true
		}
	}
	return false
}
