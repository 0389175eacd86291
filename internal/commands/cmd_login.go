package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/urfave/cli/v3"

	"github.com/hay-kot/pgchat/internal/core/chat"
	"github.com/hay-kot/pgchat/internal/printer"
	"github.com/hay-kot/pgchat/internal/realtime/transport"
	"github.com/hay-kot/pgchat/internal/store/jsonfile"
)

type LoginCmd struct {
	flags    *Flags
	userID   string
	userType string
	name     string
	noVerify bool
	purge    bool
}

// NewLoginCmd creates the login and logout commands.
func NewLoginCmd(flags *Flags) *LoginCmd {
	return &LoginCmd{flags: flags}
}

// Register adds the login and logout commands to the application.
func (cmd *LoginCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands,
		&cli.Command{
			Name:      "login",
			Usage:     "Save a session token for later commands",
			UsageText: "pgchat login [--token TOKEN] [--user-id ID --user-type TYPE]",
			Description: `Verifies a session token against the server and saves it with the user
identity. Later commands use the saved token when no token is configured.

Without --token on an interactive terminal, prompts for the token and
identity.`,
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:        "user-id",
					Usage:       "your user id, used to recognize your own messages",
					Destination: &cmd.userID,
				},
				&cli.StringFlag{
					Name:        "user-type",
					Usage:       "your user type: TENANT or MANAGER",
					Value:       "TENANT",
					Destination: &cmd.userType,
				},
				&cli.StringFlag{
					Name:        "name",
					Usage:       "display name for your messages",
					Destination: &cmd.name,
				},
				&cli.BoolFlag{
					Name:        "no-verify",
					Usage:       "save without opening a test connection",
					Destination: &cmd.noVerify,
				},
			},
			Action: cmd.runLogin,
		},
		&cli.Command{
			Name:        "logout",
			Usage:       "Remove the saved session token",
			UsageText:   "pgchat logout [--purge]",
			Description: "Deletes the credential saved by 'pgchat login'. With --purge, cached rooms and the event log are removed too.",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:        "purge",
					Usage:       "also remove cached rooms and recorded events",
					Destination: &cmd.purge,
				},
			},
			Action: cmd.runLogout,
		},
	)

	return app
}

// loginInput is what the login form collects.
type loginInput struct {
	Token    string
	UserID   string
	UserType string
	Name     string
}

func (in loginInput) credential(server string) (jsonfile.SavedCredential, error) {
	token := strings.TrimSpace(in.Token)
	if token == "" {
		return jsonfile.SavedCredential{}, chat.ErrNoCredential
	}

	var user chat.Participant
	if in.UserID != "" {
		id, err := strconv.ParseInt(strings.TrimSpace(in.UserID), 10, 64)
		if err != nil || id <= 0 {
			return jsonfile.SavedCredential{}, fmt.Errorf("invalid user id %q", in.UserID)
		}
		userType := chat.SenderType(strings.ToUpper(in.UserType))
		if userType != chat.SenderTenant && userType != chat.SenderManager {
			return jsonfile.SavedCredential{}, fmt.Errorf("user type must be TENANT or MANAGER, got %q", in.UserType)
		}
		user = chat.Participant{ID: chat.UserID(id), Type: userType}
	}

	return jsonfile.SavedCredential{
		Token:  token,
		User:   user,
		Name:   strings.TrimSpace(in.Name),
		Server: server,
	}, nil
}

func (cmd *LoginCmd) runLogin(ctx context.Context, c *cli.Command) error {
	p := printer.Ctx(ctx)

	in := loginInput{
		Token:    cmd.flags.Token,
		UserID:   cmd.userID,
		UserType: cmd.userType,
		Name:     cmd.name,
	}

	if in.Token == "" {
		if !isTerminal(os.Stdin) {
			return fmt.Errorf("no token given: pass --token or run interactively")
		}
		if err := runLoginForm(&in); err != nil {
			return err
		}
	}

	server := cmd.flags.serverURL()
	cred, err := in.credential(server)
	if err != nil {
		return err
	}

	if !cmd.noVerify {
		if err := verifyToken(ctx, server, cred.Token, cmd.flags.Config.Server.DialTimeout); err != nil {
			return err
		}
	}

	cred.SavedAt = time.Now()
	store := cmd.flags.credentials()
	if err := store.Save(ctx, cred); err != nil {
		return fmt.Errorf("save credential: %w", err)
	}

	detail := store.Path()
	if !cred.User.IsZero() {
		detail = cred.User.String() + " in " + detail
	}
	p.Success("Logged in to "+server, detail)
	return nil
}

func runLoginForm(in *loginInput) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Session token").
				EchoMode(huh.EchoModePassword).
				Value(&in.Token).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("token is required")
					}
					return nil
				}),
			huh.NewInput().
				Title("User id").
				Description("Optional. Used to recognize your own messages.").
				Value(&in.UserID),
			huh.NewSelect[string]().
				Title("User type").
				Options(
					huh.NewOption("Tenant", "TENANT"),
					huh.NewOption("Manager", "MANAGER"),
				).
				Value(&in.UserType),
			huh.NewInput().
				Title("Display name").
				Value(&in.Name),
		),
	)

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return fmt.Errorf("login cancelled")
		}
		return err
	}
	return nil
}

// verifyToken opens and closes one connection with the token.
func verifyToken(ctx context.Context, server, token string, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	conn, err := transport.WebSocketDialer{URL: server}.Dial(ctx, chat.Credential{Token: token})
	if err != nil {
		if chat.IsAuth(err) {
			return fmt.Errorf("token rejected by %s: %w", server, err)
		}
		return fmt.Errorf("verify token (use --no-verify to save anyway): %w", err)
	}
	_ = conn.Close()
	return nil
}

func (cmd *LoginCmd) runLogout(ctx context.Context, c *cli.Command) error {
	p := printer.Ctx(ctx)

	if err := cmd.flags.credentials().Clear(ctx); err != nil {
		return fmt.Errorf("clear credential: %w", err)
	}

	if cmd.purge {
		n, err := cmd.flags.snapshots().Prune(ctx, 0)
		if err != nil {
			return fmt.Errorf("clear cached rooms: %w", err)
		}
		if err := jsonfile.NewEventLog(cmd.flags.Config.DataDir).Clear(); err != nil {
			return err
		}
		p.Successf("Logged out and removed %d cached room(s)", n)
		return nil
	}

	p.Successf("Logged out")
	return nil
}
