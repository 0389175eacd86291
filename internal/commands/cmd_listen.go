package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/hay-kot/pgchat/internal/core/chat"
	"github.com/hay-kot/pgchat/internal/hooks"
	"github.com/hay-kot/pgchat/internal/printer"
	"github.com/hay-kot/pgchat/internal/realtime/roomstate"
	"github.com/hay-kot/pgchat/internal/realtime/transport"
	"github.com/hay-kot/pgchat/pkg/mailbox"
)

type ListenCmd struct {
	flags        *Flags
	rooms        []string
	jsonOutput   bool
	noHooks      bool
	saveInterval string
}

// NewListenCmd creates a new listen command.
func NewListenCmd(flags *Flags) *ListenCmd {
	return &ListenCmd{flags: flags}
}

// Register adds the listen command to the application.
func (cmd *ListenCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "listen",
		Usage:     "Stream messages and domain events from the server",
		UsageText: "pgchat listen [--room ID]... [--json]",
		Description: `Connects, joins the given rooms (or rooms.auto_join from the config), and
prints every new message and subscribed domain event until interrupted.

Messages from other users trigger hooks.on_message; domain events matching
events.subscribe trigger hooks.on_event and are recorded in the local event
log. Room state is cached on disk for 'pgchat history'.`,
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:        "room",
				Aliases:     []string{"r"},
				Usage:       "room id to join (repeatable)",
				Destination: &cmd.rooms,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print one JSON object per line",
				Destination: &cmd.jsonOutput,
			},
			&cli.BoolFlag{
				Name:        "no-hooks",
				Usage:       "do not run configured hooks",
				Destination: &cmd.noHooks,
			},
			&cli.StringFlag{
				Name:        "save-interval",
				Usage:       "how often room state is cached on disk (e.g., 30s, 5m)",
				Value:       "30s",
				Destination: &cmd.saveInterval,
			},
		},
		Action: cmd.run,
	})

	return app
}

// listenLine is the JSON output record.
type listenLine struct {
	Kind    string          `json:"kind"`
	Message *chat.Message   `json:"message,omitempty"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	State   string          `json:"state,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func (cmd *ListenCmd) run(ctx context.Context, c *cli.Command) error {
	p := printer.Ctx(ctx)

	rooms, err := roomsOrDefault(cmd.rooms, cmd.flags.Config.Rooms.AutoJoin)
	if err != nil {
		return err
	}
	if len(rooms) == 0 {
		return fmt.Errorf("no rooms to listen to: pass --room or set rooms.auto_join")
	}

	saveInterval, err := time.ParseDuration(cmd.saveInterval)
	if err != nil || saveInterval <= 0 {
		return fmt.Errorf("invalid save interval %q", cmd.saveInterval)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := cmd.flags.openSession(ctx)
	if err != nil {
		return err
	}
	defer s.close(context.WithoutCancel(ctx))

	out := newLineWriter(c.Root().Writer, cmd.jsonOutput, s.self)

	// Observers run on the client's dispatcher; hooks and disk writes are
	// handed to this worker so they never stall it.
	work := mailbox.New[func()]()
	defer work.Close()
	go func() {
		for {
			fn, ok := work.Pop(ctx)
			if !ok {
				return
			}
			fn()
		}
	}()

	var runner *hooks.Runner
	if !cmd.noHooks {
		runner = hooks.NewRunner(log.With().Str("component", "hooks").Logger(),
			cmd.flags.Executor, cmd.flags.Config.Hooks, os.Stderr, os.Stderr)
	}

	s.client.OnMessage(func(m chat.Message) {
		out.message(m)
		if runner == nil || !runner.HasMessageHooks() || m.Sender == s.self {
			return
		}
		work.Push(func() { _ = runner.RunMessage(ctx, m) })
	})

	reported := make(map[string]bool)
	s.client.OnRoom(0, func(snap roomstate.Snapshot) {
		for _, m := range snap.Messages {
			if m.State == chat.StateFailed && !reported[m.CorrelationID] {
				reported[m.CorrelationID] = true
				out.failed(m)
			}
		}
	})

	s.client.OnState(func(sc transport.StateChange) {
		out.state(sc)
		if sc.State == transport.StateConnected {
			work.Push(func() { s.saveRooms(ctx) })
		}
	})

	failed := make(chan error, 1)
	s.client.OnError(func(err error) {
		out.err(err)
		if chat.IsAuth(err) || s.client.State().State == transport.StateDisconnected {
			select {
			case failed <- err:
			default:
			}
		}
	})

	for _, pattern := range cmd.flags.Config.Events.Subscribe {
		_, err := s.client.SubscribePattern(pattern, func(ev chat.DomainEvent) {
			out.event(ev)
			work.Push(func() {
				if err := s.events.Record(ev, time.Now()); err != nil {
					log.Warn().Err(err).Str("event", ev.Name).Msg("failed to record event")
				}
				if runner != nil && runner.HasEventHooks() {
					_ = runner.RunEvent(ctx, ev)
				}
			})
		})
		if err != nil {
			return fmt.Errorf("subscribe %q: %w", pattern, err)
		}
	}

	for _, id := range rooms {
		if err := s.client.Join(id); err != nil {
			return fmt.Errorf("join room %d: %w", id, err)
		}
	}

	if err := s.client.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	if !cmd.jsonOutput {
		p.Infof("listening on %d room(s), press ctrl+c to stop", len(rooms))
	}

	ticker := time.NewTicker(saveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-failed:
			return fmt.Errorf("connection lost: %w", err)
		case <-ticker.C:
			work.Push(func() { s.saveRooms(ctx) })
		}
	}
}

// lineWriter prints listen output as text or JSON lines.
type lineWriter struct {
	mu   sync.Mutex
	w    io.Writer
	json bool
	self chat.Participant
}

func newLineWriter(w io.Writer, jsonOutput bool, self chat.Participant) *lineWriter {
	return &lineWriter{w: w, json: jsonOutput, self: self}
}

func (l *lineWriter) write(line listenLine, text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.json {
		_ = json.NewEncoder(l.w).Encode(line)
		return
	}
	_, _ = fmt.Fprintln(l.w, text)
}

func (l *lineWriter) message(m chat.Message) {
	l.write(listenLine{Kind: "message", Message: &m}, printer.FormatMessage(m, l.self))
}

func (l *lineWriter) failed(m chat.Message) {
	l.write(listenLine{Kind: "failed", Message: &m, Error: m.Error}, printer.FormatMessage(m, l.self))
}

func (l *lineWriter) event(ev chat.DomainEvent) {
	l.write(listenLine{Kind: "event", Event: ev.Name, Payload: ev.Payload}, printer.FormatEvent(ev.Name, ev.Payload))
}

func (l *lineWriter) state(sc transport.StateChange) {
	line := listenLine{Kind: "state", State: string(sc.State)}
	if sc.Err != nil {
		line.Error = sc.Err.Error()
	}
	l.write(line, printer.FormatState(string(sc.State), sc.Attempt, sc.Delay, sc.Err))
}

func (l *lineWriter) err(err error) {
	l.write(listenLine{Kind: "error", Error: err.Error()}, printer.FormatError(err))
}
