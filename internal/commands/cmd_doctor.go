package commands

import (
	"context"
	"encoding/json"

	"github.com/urfave/cli/v3"

	"github.com/hay-kot/pgchat/internal/commands/doctor"
	"github.com/hay-kot/pgchat/internal/printer"
	"github.com/hay-kot/pgchat/internal/realtime/transport"
)

type DoctorCmd struct {
	flags   *Flags
	format  string
	fix     bool
	connect bool
}

func NewDoctorCmd(flags *Flags) *DoctorCmd {
	return &DoctorCmd{flags: flags}
}

func (cmd *DoctorCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:        "doctor",
		Usage:       "Run health checks on your pgchat setup",
		UsageText:   "pgchat doctor [options]",
		Description: "Runs diagnostic checks on configuration, credentials, the local room cache, and optionally the server.",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "fix",
				Usage:       "delete unreadable cached snapshots",
				Destination: &cmd.fix,
			},
			&cli.BoolFlag{
				Name:        "connect",
				Usage:       "open a test connection to the server",
				Destination: &cmd.connect,
			},
			&cli.StringFlag{
				Name:        "format",
				Usage:       "output format (text, json)",
				Value:       "text",
				Destination: &cmd.format,
			},
		},
		Action: cmd.run,
	})
	return app
}

func (cmd *DoctorCmd) run(ctx context.Context, c *cli.Command) error {
	checks := []doctor.Check{
		doctor.NewConfigCheck(cmd.flags.Config, cmd.flags.ConfigPath),
	}

	if cfg := cmd.flags.Config; cfg != nil {
		creds := cmd.flags.credentials()
		checks = append(checks,
			doctor.NewAuthCheck(cfg, cmd.flags.Token, creds),
			doctor.NewCacheCheck(cmd.flags.snapshots(), cmd.fix),
		)
		if cmd.connect {
			url := cmd.flags.serverURL()
			checks = append(checks, doctor.NewServerCheck(
				url,
				transport.WebSocketDialer{URL: url},
				authProvider(cfg, cmd.flags.Token, creds),
				cfg.Server.DialTimeout,
			))
		}
	}

	results := doctor.RunAll(ctx, checks)

	if cmd.format == "json" {
		return cmd.outputJSON(c, results)
	}

	return cmd.outputText(ctx, results)
}

func (cmd *DoctorCmd) outputJSON(c *cli.Command, results []doctor.Result) error {
	tally := doctor.Summarize(results)

	out := struct {
		Healthy bool            `json:"healthy"`
		Summary doctor.Tally    `json:"summary"`
		Checks  []doctor.Result `json:"checks"`
	}{
		Healthy: tally.Healthy(),
		Summary: tally,
		Checks:  results,
	}

	enc := json.NewEncoder(c.Root().Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func (cmd *DoctorCmd) outputText(ctx context.Context, results []doctor.Result) error {
	p := printer.Ctx(ctx)

	for _, result := range results {
		p.Section(result.Name)

		for _, item := range result.Items {
			switch item.Status {
			case doctor.StatusPass:
				p.CheckItem(item.Label, item.Detail)
			case doctor.StatusWarn:
				p.WarnItem(item.Label, item.Detail)
			case doctor.StatusFail:
				p.FailItem(item.Label, item.Detail)
			}
		}

		p.Printf("")
	}

	tally := doctor.Summarize(results)
	p.Printf("Summary: %d passed, %d warnings, %d failed", tally.Passed, tally.Warned, tally.Failed)

	if tally.Fixable > 0 {
		p.Infof("%d issue(s) can be fixed with 'pgchat doctor --fix'", tally.Fixable)
	}

	if !tally.Healthy() {
		return cli.Exit("", 1)
	}

	return nil
}
