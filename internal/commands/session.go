package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/hay-kot/pgchat/internal/core/chat"
	"github.com/hay-kot/pgchat/internal/core/config"
	"github.com/hay-kot/pgchat/internal/realtime"
	"github.com/hay-kot/pgchat/internal/realtime/transport"
	"github.com/hay-kot/pgchat/internal/store/jsonfile"
)

// session bundles a client with the local stores the commands share.
type session struct {
	client    *realtime.Client
	snapshots *jsonfile.SnapshotStore
	events    *jsonfile.EventLog
	self      chat.Participant
	restored  []chat.RoomID
}

func (f *Flags) credentials() *jsonfile.CredentialStore {
	return jsonfile.NewCredentialStore(f.Config.CredentialFile())
}

func (f *Flags) snapshots() *jsonfile.SnapshotStore {
	return jsonfile.NewSnapshotStore(f.Config.SnapshotDir()).WithMaxMessages(f.Config.History.MaxMessages)
}

func (f *Flags) serverURL() string {
	if f.Server != "" {
		return f.Server
	}
	return f.Config.Server.URL
}

// authProvider picks the credential source: an explicit token, then the
// config token, then the config token file, then the saved login.
func authProvider(cfg *config.Config, token string, creds *jsonfile.CredentialStore) transport.AuthProvider {
	switch {
	case token != "":
		return transport.StaticToken(token)
	case cfg.Auth.Token != "":
		return transport.StaticToken(cfg.Auth.Token)
	case cfg.Auth.TokenFile != "":
		return transport.TokenFile(cfg.Auth.TokenFile)
	default:
		return creds
	}
}

// clientOptions maps the config onto client options. The configured user
// wins; the identity saved by login fills in when none is configured.
func clientOptions(cfg *config.Config, saved jsonfile.SavedCredential) realtime.Options {
	self := chat.Participant{ID: chat.UserID(cfg.User.ID), Type: chat.SenderType(cfg.User.Type)}
	name := cfg.User.Name
	if cfg.User.ID == 0 && !saved.User.IsZero() {
		self = saved.User
		if name == "" {
			name = saved.Name
		}
	}

	return realtime.Options{
		Self:     self,
		SelfName: name,
		Transport: transport.Options{
			InitialDelay:      cfg.Reconnect.InitialDelay,
			MaxDelay:          cfg.Reconnect.MaxDelay,
			Multiplier:        cfg.Reconnect.Multiplier,
			Jitter:            cfg.Reconnect.Jitter,
			MaxAttempts:       cfg.Reconnect.MaxAttempts,
			HeartbeatInterval: cfg.HeartbeatInterval,
			DialTimeout:       cfg.Server.DialTimeout,
		},
		TypingDebounce: cfg.Typing.Debounce,
		TypingExpiry:   cfg.Typing.Expiry,
		PendingTimeout: cfg.Send.PendingTimeout,
	}
}

// openSession builds a client and restores cached rooms into it. The client
// is not connected yet.
func (f *Flags) openSession(ctx context.Context) (*session, error) {
	if f.Config == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}

	creds := f.credentials()
	saved, err := creds.Load(ctx)
	if err != nil && !errors.Is(err, chat.ErrNoCredential) {
		log.Warn().Err(err).Msg("ignoring unreadable saved credential")
	}

	opts := clientOptions(f.Config, saved)
	dialer := transport.WebSocketDialer{URL: f.serverURL()}
	auth := authProvider(f.Config, f.Token, creds)

	client := realtime.New(dialer, auth, opts, log.With().Str("component", "client").Logger())

	s := &session{
		client:    client,
		snapshots: f.snapshots(),
		events:    jsonfile.NewEventLog(f.Config.DataDir),
		self:      opts.Self,
	}

	cached, err := s.snapshots.List(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("snapshot cache unreadable, starting empty")
		return s, nil
	}
	if len(cached) > 0 {
		if err := client.Restore(cached...); err != nil {
			client.Close()
			return nil, fmt.Errorf("restore rooms: %w", err)
		}
		for _, snap := range cached {
			s.restored = append(s.restored, snap.Room.ID)
		}
		log.Debug().Int("rooms", len(cached)).Msg("restored cached rooms")
	}

	return s, nil
}

// saveRooms writes a snapshot for every room the client knows about.
func (s *session) saveRooms(ctx context.Context) {
	for _, room := range s.client.Rooms() {
		snap, ok := s.client.Snapshot(room.ID)
		if !ok {
			continue
		}
		if err := s.snapshots.Save(ctx, snap); err != nil {
			log.Warn().Err(err).Int64("room", int64(room.ID)).Msg("failed to cache room")
		}
	}
}

// close saves rooms and releases the client.
func (s *session) close(ctx context.Context) {
	s.saveRooms(ctx)
	s.client.Close()
}

// roomsOrDefault parses room ids given on the command line, falling back to
// the configured auto-join list when none are given.
func roomsOrDefault(args []string, fallback []int64) ([]chat.RoomID, error) {
	if len(args) == 0 {
		out := make([]chat.RoomID, len(fallback))
		for i, id := range fallback {
			out[i] = chat.RoomID(id)
		}
		return out, nil
	}

	out := make([]chat.RoomID, 0, len(args))
	for _, arg := range args {
		id, err := parseRoomID(arg)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func parseRoomID(s string) (chat.RoomID, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid room id %q", s)
	}
	return chat.RoomID(id), nil
}
