// Package workersvc runs one match in a spawned worker process: manifest on
// stdin, inherited client sockets, result line on stdout.
package workersvc

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/louisbranch/arbiter.games/internal/delta"
	"github.com/louisbranch/arbiter.games/internal/gamelog"
	"github.com/louisbranch/arbiter.games/internal/games"
	entrypoint "github.com/louisbranch/arbiter.games/internal/platform/cmd"
	"github.com/louisbranch/arbiter.games/internal/platform/id"
	"github.com/louisbranch/arbiter.games/internal/wire"
	"github.com/louisbranch/arbiter.games/internal/worker"
)

// Config holds worker command configuration. The manifest overrides it.
type Config struct {
	GamelogDir string `env:"ARBITER_GAMES_GAMELOG_DIR"`

	// Standalone mode: with Listen set the worker skips the manifest,
	// accepts its clients directly and plays a single match of Game.
	Listen      string `env:"ARBITER_GAMES_WORKER_LISTEN"`
	Game        string `env:"ARBITER_GAMES_WORKER_GAME"`
	Session     string `env:"ARBITER_GAMES_WORKER_SESSION" envDefault:"standalone"`
	Settings    string
	MaxInvalids int `env:"ARBITER_GAMES_MAX_INVALIDS" envDefault:"10"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.GamelogDir, "gamelog-dir", cfg.GamelogDir, "Directory gamelogs are written to")
	fs.StringVar(&cfg.Listen, "listen", cfg.Listen, "Standalone mode: accept clients on this address instead of reading a manifest")
	fs.StringVar(&cfg.Game, "game", cfg.Game, "Standalone mode: the game to play")
	fs.StringVar(&cfg.Session, "session", cfg.Session, "Standalone mode: session id for the gamelog")
	fs.StringVar(&cfg.Settings, "settings", cfg.Settings, "Standalone mode: game settings as a query string")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run plays the manifested match to completion and reports the result.
func Run(ctx context.Context, cfg Config, stdin io.Reader, stdout io.Writer) error {
	if cfg.Listen != "" {
		return runStandalone(ctx, cfg, stdout)
	}
	manifest, err := worker.ReadManifest(stdin)
	if err != nil {
		return err
	}
	entry, ok := games.Default().Resolve(manifest.GameName)
	if !ok {
		return fmt.Errorf("unknown game %q", manifest.GameName)
	}
	participants, err := manifest.AttachClients()
	if err != nil {
		return err
	}

	dir := manifest.GamelogDir
	if dir == "" {
		dir = cfg.GamelogDir
	}
	var store *gamelog.Store
	if dir != "" {
		store, err = gamelog.Open(dir)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceWorker, func(ctx context.Context) error {
		session := worker.NewSession(worker.Config{
			Rules:       entry.New(),
			GameSession: manifest.GameSession,
			Settings:    manifest.Settings,
			RandomSeed:  manifest.RandomSeed,
			MaxInvalids: manifest.MaxInvalids,
			Store:       store,
			GraceDelay:  time.Duration(manifest.GraceDelayNS),
		})
		log.Printf("running %s session %s with %d clients",
			manifest.GameName, manifest.GameSession, len(participants))

		res, runErr := session.Run(ctx, participants)
		if res == nil {
			res = &worker.Result{}
		}
		if runErr != nil {
			res.Error = runErr.Error()
		}
		if err := res.Write(stdout); err != nil {
			return err
		}
		return runErr
	})
}

// runStandalone accepts clients on a listener and plays one match without a
// lobby in front. Think-time timeouts are off; this mode exists for
// exercising a game against live clients during development.
func runStandalone(ctx context.Context, cfg Config, stdout io.Writer) error {
	entry, ok := games.Default().Resolve(cfg.Game)
	if !ok {
		return fmt.Errorf("unknown game %q", cfg.Game)
	}
	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Listen, err)
	}
	defer ln.Close()
	return serveStandalone(ctx, cfg, entry, ln, stdout)
}

// serveStandalone seats players off the listener in arrival order, then
// plays the match.
func serveStandalone(ctx context.Context, cfg Config, entry games.Entry, ln net.Listener, stdout io.Writer) error {
	settings, err := parseSettings(cfg.Settings)
	if err != nil {
		return err
	}
	log.Printf("standalone %s match on %s, waiting for %d players",
		entry.Info.Name, ln.Addr(), entry.Info.RequiredPlayers)

	type joiner struct {
		client *wire.Client
		data   wire.PlayData
	}
	joined := make(chan joiner, 16)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			clientID, err := id.NewID()
			if err != nil {
				conn.Close()
				continue
			}
			client, err := wire.NewClient(wire.NewTCPTransport(conn, nil),
				wire.WithID(clientID), wire.WithNoTimeout())
			if err != nil {
				conn.Close()
				continue
			}
			played := false
			client.SetHandler(func(c *wire.Client, env wire.Envelope) {
				if played {
					return
				}
				if env.Event != wire.EventPlay {
					c.Disconnect("expected a play event")
					return
				}
				data, err := wire.DecodePayload[wire.PlayData](env)
				if err != nil || data.PlayerName == "" {
					c.Disconnect("play needs a playerName")
					return
				}
				played = true
				joined <- joiner{client: c, data: data}
			})
			client.Start()
		}
	}()

	var participants []worker.Participant
	for len(participants) < entry.Info.RequiredPlayers {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case j := <-joined:
			j.client.Name = j.data.PlayerName
			j.client.Kind = j.data.ClientType
			if j.client.Kind == "" {
				j.client.Kind = "unknown"
			}
			j.client.SetTimeRemaining(time.Hour)
			for key, val := range mustParseSettings(j.data.GameSettings) {
				if _, taken := settings[key]; !taken {
					settings[key] = val
				}
			}
			j.client.Send(wire.EventLobbied, wire.LobbiedData{
				GameName:    entry.Info.Name,
				GameSession: cfg.Session,
				Constants: wire.Constants{
					DeltaRemoved:    delta.Removed,
					DeltaListLength: delta.LenKey,
				},
			})
			participants = append(participants, worker.Participant{
				Client:      j.client,
				PlayerIndex: len(participants),
			})
		}
	}
	ln.Close()
	for {
		select {
		case j := <-joined:
			j.client.Disconnect("session full")
			continue
		default:
		}
		break
	}

	var store *gamelog.Store
	if cfg.GamelogDir != "" {
		store, err = gamelog.Open(cfg.GamelogDir)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	seed, err := id.NewID()
	if err != nil {
		seed = strconv.FormatInt(time.Now().UnixNano(), 10)
	}

	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceWorker, func(ctx context.Context) error {
		session := worker.NewSession(worker.Config{
			Rules:       entry.New(),
			GameSession: cfg.Session,
			Settings:    settings,
			RandomSeed:  seed,
			MaxInvalids: cfg.MaxInvalids,
			Store:       store,
		})
		res, runErr := session.Run(ctx, participants)
		if res == nil {
			res = &worker.Result{}
		}
		if runErr != nil {
			res.Error = runErr.Error()
		}
		if err := res.Write(stdout); err != nil {
			return err
		}
		return runErr
	})
}

func parseSettings(raw string) (map[string]string, error) {
	settings := map[string]string{}
	if raw == "" {
		return settings, nil
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return nil, fmt.Errorf("parse game settings: %w", err)
	}
	for key, vals := range values {
		if len(vals) > 0 {
			settings[key] = vals[0]
		}
	}
	return settings, nil
}

// mustParseSettings drops malformed client settings instead of failing the
// match; the authoritative settings come from the -settings flag.
func mustParseSettings(raw string) map[string]string {
	settings, err := parseSettings(raw)
	if err != nil {
		return map[string]string{}
	}
	return settings
}
