package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/hay-kot/pgchat/internal/core/chat"
	"github.com/hay-kot/pgchat/internal/printer"
	"github.com/hay-kot/pgchat/internal/realtime/roomstate"
	"github.com/hay-kot/pgchat/internal/store/jsonfile"
)

type HistoryCmd struct {
	flags *Flags

	// Command-specific flags
	room       string
	limit      int
	prune      string
	clear      bool
	jsonOutput bool
}

// NewHistoryCmd creates a new history command
func NewHistoryCmd(flags *Flags) *HistoryCmd {
	return &HistoryCmd{flags: flags}
}

// Register adds the history command to the application
func (cmd *HistoryCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "history",
		Usage:     "View or manage cached room history",
		UsageText: "pgchat history [--room ID] [options]",
		Description: `Shows room state cached by previous sessions without connecting.

By default, lists cached rooms with their unread count and last message.
Use --room to print the messages of one room, --prune to drop rooms not
refreshed within a duration, and --clear to remove cached rooms.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "room",
				Aliases:     []string{"r"},
				Usage:       "show messages for one room",
				Destination: &cmd.room,
			},
			&cli.IntFlag{
				Name:        "limit",
				Aliases:     []string{"n"},
				Usage:       "number of most recent messages to show",
				Value:       50,
				Destination: &cmd.limit,
			},
			&cli.StringFlag{
				Name:        "prune",
				Usage:       "remove rooms not cached within this duration (e.g., 72h)",
				Destination: &cmd.prune,
			},
			&cli.BoolFlag{
				Name:        "clear",
				Aliases:     []string{"c"},
				Usage:       "remove cached rooms (all, or only --room)",
				Destination: &cmd.clear,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "output as JSON",
				Destination: &cmd.jsonOutput,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *HistoryCmd) run(ctx context.Context, c *cli.Command) error {
	p := printer.Ctx(ctx)
	store := cmd.flags.snapshots()

	switch {
	case cmd.prune != "":
		return cmd.runPrune(ctx, p, store)
	case cmd.clear:
		return cmd.runClear(ctx, p, store)
	case cmd.room != "":
		return cmd.runShow(ctx, c, store)
	default:
		return cmd.runList(ctx, c, store)
	}
}

func (cmd *HistoryCmd) runList(ctx context.Context, c *cli.Command, store *jsonfile.SnapshotStore) error {
	snaps, err := store.List(ctx)
	if err != nil {
		return fmt.Errorf("list cached rooms: %w", err)
	}

	if cmd.jsonOutput {
		rooms := make([]chat.ChatRoom, 0, len(snaps))
		for _, s := range snaps {
			rooms = append(rooms, s.Room)
		}
		enc := json.NewEncoder(c.Root().Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(rooms)
	}

	if len(snaps) == 0 {
		printer.Ctx(ctx).Infof("No cached rooms")
		return nil
	}

	out := c.Root().Writer
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tTYPE\tUNREAD\tMESSAGES\tLAST")

	for _, s := range snaps {
		last := s.Room.LastMessage
		if len(last) > 40 {
			last = last[:37] + "..."
		}

		unread := fmt.Sprintf("%d", s.Room.UnreadCount)
		if n := countState(s, chat.StateFailed); n > 0 {
			unread += " " + printer.StatusFailed(fmt.Sprintf("%d failed", n))
		}

		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\n",
			s.Room.ID,
			roomName(s.Room),
			s.Room.Type,
			unread,
			len(s.Messages),
			last,
		)
	}

	return w.Flush()
}

func (cmd *HistoryCmd) runShow(ctx context.Context, c *cli.Command, store *jsonfile.SnapshotStore) error {
	id, err := parseRoomID(cmd.room)
	if err != nil {
		return err
	}

	snap, savedAt, err := store.Load(ctx, id)
	if errors.Is(err, jsonfile.ErrSnapshotNotFound) {
		return fmt.Errorf("room %d is not cached; run 'pgchat listen --room %d' first", id, id)
	}
	if err != nil {
		return fmt.Errorf("load room %d: %w", id, err)
	}

	msgs := snap.Messages
	if cmd.limit > 0 && len(msgs) > cmd.limit {
		msgs = msgs[len(msgs)-cmd.limit:]
	}

	if cmd.jsonOutput {
		enc := json.NewEncoder(c.Root().Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(msgs)
	}

	saved, _ := cmd.flags.credentials().Load(ctx)
	self := clientOptions(cmd.flags.Config, saved).Self

	p := printer.Ctx(ctx)
	p.Section(fmt.Sprintf("%s (#%d)", roomName(snap.Room), snap.Room.ID))
	p.Infof("cached %s ago", time.Since(savedAt).Round(time.Second))

	out := c.Root().Writer
	for _, m := range msgs {
		_, _ = fmt.Fprintln(out, printer.FormatMessage(m, self))
	}
	return nil
}

func (cmd *HistoryCmd) runPrune(ctx context.Context, p *printer.Printer, store *jsonfile.SnapshotStore) error {
	olderThan, err := time.ParseDuration(cmd.prune)
	if err != nil || olderThan < 0 {
		return fmt.Errorf("invalid prune duration %q", cmd.prune)
	}

	count, err := store.Prune(ctx, olderThan)
	if err != nil {
		return fmt.Errorf("prune cached rooms: %w", err)
	}

	if count == 0 {
		p.Infof("No cached rooms older than %s", olderThan)
		return nil
	}

	p.Successf("Pruned %d cached room(s)", count)
	return nil
}

func (cmd *HistoryCmd) runClear(ctx context.Context, p *printer.Printer, store *jsonfile.SnapshotStore) error {
	if cmd.room != "" {
		id, err := parseRoomID(cmd.room)
		if err != nil {
			return err
		}
		if err := store.Delete(ctx, id); err != nil {
			return fmt.Errorf("clear room %d: %w", id, err)
		}
		p.Successf("Cleared cached room %d", id)
		return nil
	}

	count, err := store.Prune(ctx, 0)
	if err != nil {
		return fmt.Errorf("clear cached rooms: %w", err)
	}

	p.Successf("Cleared %d cached room(s)", count)
	return nil
}

func roomName(r chat.ChatRoom) string {
	if r.Name != "" {
		return r.Name
	}
	return fmt.Sprintf("room %d", r.ID)
}

func countState(s roomstate.Snapshot, state chat.SendState) int {
	n := 0
	for _, m := range s.Messages {
		if m.State == state {
			n++
		}
	}
	return n
}
