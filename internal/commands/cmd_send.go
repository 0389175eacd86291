package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/hay-kot/pgchat/internal/core/chat"
	"github.com/hay-kot/pgchat/internal/printer"
	"github.com/hay-kot/pgchat/internal/realtime/roomstate"
	"github.com/hay-kot/pgchat/internal/realtime/sendpipe"
)

type SendCmd struct {
	flags      *Flags
	room       string
	msgType    string
	mediaURL   string
	duration   int
	timeout    string
	jsonOutput bool
}

// NewSendCmd creates a new send command.
func NewSendCmd(flags *Flags) *SendCmd {
	return &SendCmd{flags: flags}
}

// Register adds the send command to the application.
func (cmd *SendCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "send",
		Usage:     "Send a message and wait for the server to accept it",
		UsageText: "pgchat send --room ID [message...]",
		Description: `Sends one message to a room. The message text is taken from the arguments,
or from stdin when no arguments are given and stdin is not a terminal.

The command exits once the server acknowledges the message, or with an error
when the server rejects it or the timeout elapses.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "room",
				Aliases:     []string{"r"},
				Usage:       "room id to send to",
				Required:    true,
				Destination: &cmd.room,
			},
			&cli.StringFlag{
				Name:        "type",
				Aliases:     []string{"t"},
				Usage:       "message type: text, image, voice, or file",
				Value:       "text",
				Destination: &cmd.msgType,
			},
			&cli.StringFlag{
				Name:        "media-url",
				Usage:       "media reference for image, voice, and file messages",
				Destination: &cmd.mediaURL,
			},
			&cli.IntFlag{
				Name:        "duration",
				Usage:       "voice message length in seconds",
				Destination: &cmd.duration,
			},
			&cli.StringFlag{
				Name:        "timeout",
				Usage:       "how long to wait for acknowledgment (e.g., 10s, 1m)",
				Value:       "15s",
				Destination: &cmd.timeout,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print the acknowledged message as JSON",
				Destination: &cmd.jsonOutput,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *SendCmd) run(ctx context.Context, c *cli.Command) error {
	p := printer.Ctx(ctx)

	req, err := cmd.request(c.Args().Slice(), os.Stdin)
	if err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return err
	}

	timeout, err := time.ParseDuration(cmd.timeout)
	if err != nil || timeout <= 0 {
		return fmt.Errorf("invalid timeout %q", cmd.timeout)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s, err := cmd.flags.openSession(ctx)
	if err != nil {
		return err
	}
	defer s.close(context.WithoutCancel(ctx))

	result := make(chan chat.Message, 1)
	s.client.OnRoom(req.RoomID, func(snap roomstate.Snapshot) {
		if m, ok := settled(snap, req.CorrelationID); ok {
			select {
			case result <- m:
			default:
			}
		}
	})

	connErr := make(chan error, 1)
	s.client.OnError(func(err error) {
		if chat.IsAuth(err) {
			select {
			case connErr <- err:
			default:
			}
		}
	})

	if err := s.client.Join(req.RoomID); err != nil {
		return fmt.Errorf("join room %d: %w", req.RoomID, err)
	}
	if _, err := s.client.Send(req); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	if err := s.client.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	select {
	case m := <-result:
		if m.State == chat.StateFailed {
			return fmt.Errorf("message rejected: %s", m.Error)
		}
		if cmd.jsonOutput {
			enc := json.NewEncoder(c.Root().Writer)
			enc.SetIndent("", "  ")
			return enc.Encode(m)
		}
		p.Successf("sent message %d to room %d", m.ID, m.RoomID)
		return nil
	case err := <-connErr:
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("no acknowledgment within %s; the message is cached and will be retried by the next session", timeout)
		}
		return ctx.Err()
	}
}

// request builds the send request from flags and the message text.
func (cmd *SendCmd) request(args []string, stdin io.Reader) (sendpipe.Request, error) {
	roomID, err := parseRoomID(cmd.room)
	if err != nil {
		return sendpipe.Request{}, err
	}

	msgType, err := chat.ParseMessageType(cmd.msgType)
	if err != nil {
		return sendpipe.Request{}, err
	}

	content := strings.Join(args, " ")
	if content == "" && !isTerminal(stdin) {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return sendpipe.Request{}, fmt.Errorf("read stdin: %w", err)
		}
		content = strings.TrimRight(string(data), "\n")
	}

	return sendpipe.Request{
		RoomID:        roomID,
		Content:       content,
		Type:          msgType,
		MediaURL:      cmd.mediaURL,
		Duration:      cmd.duration,
		CorrelationID: uuid.NewString(),
	}, nil
}

// settled finds the message for correlationID once it has left the pending
// state.
func settled(snap roomstate.Snapshot, correlationID string) (chat.Message, bool) {
	for _, m := range snap.Messages {
		if m.CorrelationID != correlationID {
			continue
		}
		if m.State == chat.StateAcknowledged || m.State == chat.StateFailed {
			return m, true
		}
		return chat.Message{}, false
	}
	return chat.Message{}, false
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}
