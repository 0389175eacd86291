package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/glamour"
	"github.com/urfave/cli/v3"
)

type DocCmd struct {
	flags *Flags
	raw   bool
}

func NewDocCmd(flags *Flags) *DocCmd {
	return &DocCmd{flags: flags}
}

func (cmd *DocCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "doc",
		Usage: "Reference guides for hooks and events",
		Description: `Prints reference documentation for pgchat.

Use 'pgchat doc hooks' to see the fields available to hook templates.
Use 'pgchat doc events' to see how domain event subscriptions work.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "raw",
				Usage:       "print markdown without terminal styling",
				Destination: &cmd.raw,
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "hooks",
				Usage:  "Show hook template fields and examples",
				Action: cmd.guideAction(hooksGuide),
			},
			{
				Name:   "events",
				Usage:  "Show domain event subscription conventions",
				Action: cmd.guideAction(eventsGuide),
			},
		},
	})
	return app
}

func (cmd *DocCmd) guideAction(guide string) cli.ActionFunc {
	return func(_ context.Context, c *cli.Command) error {
		return cmd.printGuide(c.Root().Writer, guide)
	}
}

// printGuide renders markdown for a terminal, or writes it unchanged when
// output is piped or --raw is set.
func (cmd *DocCmd) printGuide(w io.Writer, guide string) error {
	f, ok := w.(*os.File)
	if cmd.raw || !ok || !isTerminal(f) {
		_, err := fmt.Fprint(w, guide)
		return err
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("tokyo-night"),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return fmt.Errorf("create renderer: %w", err)
	}

	out, err := renderer.Render(guide)
	if err != nil {
		return fmt.Errorf("render guide: %w", err)
	}
	_, err = fmt.Fprint(w, out)
	return err
}

const hooksGuide = `# pgchat Hooks

Hooks are shell commands run by ` + "`pgchat listen`" + ` for incoming traffic. Each
entry is a Go template rendered per message or event and run with ` + "`sh -c`" + `.
Every hook runs even when an earlier one fails.

## Message hooks

` + "```yaml" + `
hooks:
  on_message:
    - notify-send {{ .SenderName | shq }} {{ .Content | shq }}
` + "```" + `

Message hooks run for messages from other users only.

| Field | Description |
|-------|-------------|
| ` + "`.RoomID`" + ` | Room the message was posted in |
| ` + "`.MessageID`" + ` | Server message id |
| ` + "`.SenderID`" + ` | Sender user id |
| ` + "`.SenderType`" + ` | TENANT or MANAGER |
| ` + "`.SenderName`" + ` | Sender display name, may be empty |
| ` + "`.Type`" + ` | TEXT, IMAGE, VOICE, or FILE |
| ` + "`.Content`" + ` | Message text |
| ` + "`.MediaURL`" + ` | Media reference for non-text messages |
| ` + "`.CreatedAt`" + ` | Server timestamp |

## Event hooks

` + "```yaml" + `
events:
  subscribe: ["task_*"]
hooks:
  on_event:
    - echo {{ .Name }} {{ .Payload | shq }} >> ~/tasks.log
` + "```" + `

| Field | Description |
|-------|-------------|
| ` + "`.Name`" + ` | Event name, e.g. task_created |
| ` + "`.Payload`" + ` | Raw JSON payload |

## Functions

| Function | Description |
|----------|-------------|
| ` + "`shq`" + ` | Quote a value for safe use as one shell word |

Run ` + "`pgchat config validate`" + ` to check templates before starting a listener.
`

const eventsGuide = `# pgchat Domain Events

The server pushes domain events such as ` + "`task_created`" + `, ` + "`task_updated`" + `, and
` + "`task_deleted`" + ` over the chat connection. They are not tied to a room.

## Subscribing

Subscriptions are glob patterns matched against the event name:

| Pattern | Matches |
|---------|---------|
| ` + "`task_*`" + ` | every task event |
| ` + "`task_{created,deleted}`" + ` | two specific events |
| ` + "`*`" + ` | everything |

Patterns come from ` + "`events.subscribe`" + ` in the config, or from the
arguments of ` + "`pgchat events`" + `.

## Recording

Events received by ` + "`pgchat listen`" + ` and ` + "`pgchat events`" + ` are appended to
the event log in the data directory. The log keeps the newest 1000 events.

| Command | Description |
|---------|-------------|
| ` + "`pgchat events`" + ` | Stream events matching the configured patterns |
| ` + "`pgchat events 'task_*'`" + ` | Stream events matching a pattern |
| ` + "`pgchat events --log -n 50`" + ` | Show the 50 newest recorded events |
| ` + "`pgchat events --log --since 1h`" + ` | Show events from the last hour |
`
