package commands

import (
	"context"
	"fmt"
	"slices"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/hay-kot/pgchat/internal/core/chat"
	"github.com/hay-kot/pgchat/internal/realtime/transport"
	"github.com/hay-kot/pgchat/internal/tui"
)

type ChatCmd struct {
	flags        *Flags
	rooms        []string
	open         string
	saveInterval string
}

// NewChatCmd creates a new chat command.
func NewChatCmd(flags *Flags) *ChatCmd {
	return &ChatCmd{flags: flags}
}

// Flags returns the chat flags. They are registered on both the chat
// command and the root command, where chat is the default action.
func (cmd *ChatCmd) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{
			Name:        "room",
			Aliases:     []string{"r"},
			Usage:       "room id to join (repeatable, defaults to rooms.auto_join)",
			Destination: &cmd.rooms,
		},
		&cli.StringFlag{
			Name:        "open",
			Usage:       "room id shown on startup",
			Destination: &cmd.open,
		},
		&cli.StringFlag{
			Name:        "save-interval",
			Usage:       "how often room state is cached on disk (e.g., 30s, 5m)",
			Value:       "30s",
			Destination: &cmd.saveInterval,
		},
	}
}

// Register adds the chat command to the application.
func (cmd *ChatCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "chat",
		Usage:     "Open the interactive chat",
		UsageText: "pgchat chat [--room ID]... [--open ID]",
		Description: `Opens a full-screen chat: a room list, the open room's timeline, and a
composer. Cached rooms are shown immediately and refreshed once connected.

Keys: tab switches pane, enter opens a room or sends, esc goes back.
In the timeline: r resends and d discards a failed message, e reacts,
m marks the room read, / filters, enter previews the selected message.

Running 'pgchat' with no command opens the chat.`,
		Flags:  cmd.Flags(),
		Action: cmd.Run,
	})

	return app
}

// Run executes the chat TUI. Exported for use as default command.
func (cmd *ChatCmd) Run(ctx context.Context, _ *cli.Command) error {
	joined, err := roomsOrDefault(cmd.rooms, cmd.flags.Config.Rooms.AutoJoin)
	if err != nil {
		return err
	}

	var open chat.RoomID
	if cmd.open != "" {
		if open, err = parseRoomID(cmd.open); err != nil {
			return err
		}
		if !slices.Contains(joined, open) {
			joined = append(joined, open)
		}
	}

	saveInterval, err := time.ParseDuration(cmd.saveInterval)
	if err != nil || saveInterval <= 0 {
		return fmt.Errorf("invalid save interval %q", cmd.saveInterval)
	}

	s, err := cmd.flags.openSession(ctx)
	if err != nil {
		return err
	}
	defer s.close(context.WithoutCancel(ctx))

	// Rooms without a cached snapshot still need a list entry.
	if seed := unseededRooms(joined, s.restored); len(seed) > 0 {
		if err := s.client.SetRooms(seed); err != nil {
			return fmt.Errorf("seed rooms: %w", err)
		}
	}
	for _, id := range joined {
		if err := s.client.Join(id); err != nil {
			return fmt.Errorf("join room %d: %w", id, err)
		}
	}

	m := tui.New(s.client, tui.Options{Self: s.self, Open: open})
	defer m.Close()

	if err := s.client.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	saveCtx, stopSaving := context.WithCancel(ctx)
	defer stopSaving()
	go cmd.saveLoop(saveCtx, s, saveInterval)

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("run tui: %w", err)
	}

	if sc := s.client.State(); sc.State == transport.StateDisconnected && sc.Err != nil && chat.IsAuth(sc.Err) {
		return sc.Err
	}
	return nil
}

// saveLoop caches room state periodically so a crash loses little.
func (cmd *ChatCmd) saveLoop(ctx context.Context, s *session, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.saveRooms(ctx)
			log.Debug().Msg("cached room state")
		}
	}
}

// unseededRooms returns placeholder list entries for joined rooms that were
// not restored from the cache.
func unseededRooms(joined, restored []chat.RoomID) []chat.ChatRoom {
	var out []chat.ChatRoom
	for _, id := range joined {
		if !slices.Contains(restored, id) {
			out = append(out, chat.ChatRoom{ID: id, Type: chat.RoomDirect})
		}
	}
	return out
}
