// Package lobbysvc parses lobby command flags and starts the match server.
package lobbysvc

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/louisbranch/arbiter.games/internal/gamelog"
	"github.com/louisbranch/arbiter.games/internal/games"
	"github.com/louisbranch/arbiter.games/internal/lobby"
	entrypoint "github.com/louisbranch/arbiter.games/internal/platform/cmd"
	"github.com/louisbranch/arbiter.games/internal/wire"
)

// Config holds lobby command configuration.
type Config struct {
	TCPPort int    `env:"ARBITER_GAMES_LOBBY_TCP_PORT" envDefault:"3000"`
	TCPAddr string `env:"ARBITER_GAMES_LOBBY_TCP_ADDR"`
	WSPort  int    `env:"ARBITER_GAMES_LOBBY_WS_PORT" envDefault:"3080"`
	WSAddr  string `env:"ARBITER_GAMES_LOBBY_WS_ADDR"`

	GamelogDir    string `env:"ARBITER_GAMES_GAMELOG_DIR" envDefault:"gamelogs"`
	WorkerBinary  string `env:"ARBITER_GAMES_WORKER_BINARY"`
	SingleProcess bool   `env:"ARBITER_GAMES_SINGLE_PROCESS"`

	TimePerPlayer time.Duration `env:"ARBITER_GAMES_TIME_PER_PLAYER" envDefault:"15m"`
	MaxInvalids   int           `env:"ARBITER_GAMES_MAX_INVALIDS" envDefault:"10"`
	GraceDelay    time.Duration `env:"ARBITER_GAMES_OVER_GRACE" envDefault:"1s"`
	NoTimeout     bool          `env:"ARBITER_GAMES_NO_TIMEOUT"`

	AuthKey    string `env:"ARBITER_GAMES_AUTH_KEY"`
	MirrorWire bool   `env:"ARBITER_GAMES_MIRROR_WIRE"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.TCPPort, "tcp-port", cfg.TCPPort, "The stream listener port")
	fs.StringVar(&cfg.TCPAddr, "tcp-addr", cfg.TCPAddr, "The stream listener address (overrides -tcp-port)")
	fs.IntVar(&cfg.WSPort, "ws-port", cfg.WSPort, "The websocket listener port")
	fs.StringVar(&cfg.WSAddr, "ws-addr", cfg.WSAddr, "The websocket listener address (overrides -ws-port)")
	fs.StringVar(&cfg.GamelogDir, "gamelog-dir", cfg.GamelogDir, "Directory gamelogs are written to")
	fs.StringVar(&cfg.WorkerBinary, "worker", cfg.WorkerBinary, "Worker executable spawned per match")
	fs.BoolVar(&cfg.SingleProcess, "single-process", cfg.SingleProcess, "Run every match inside the lobby process")
	fs.BoolVar(&cfg.NoTimeout, "no-timeout", cfg.NoTimeout, "Disable think-time timeouts")
	fs.DurationVar(&cfg.TimePerPlayer, "time-per-player", cfg.TimePerPlayer, "Think-time budget per player")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the lobby: both listeners, the match registry and the gamelog
// store, then serves until the context ends.
func Run(ctx context.Context, cfg Config) error {
	store, err := gamelog.Open(cfg.GamelogDir)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("close gamelog store: %v", err)
		}
	}()

	var authKey []byte
	if cfg.AuthKey != "" {
		authKey = []byte(cfg.AuthKey)
	}
	lob := lobby.New(lobby.Config{
		Registry:      games.Default(),
		Store:         store,
		GamelogDir:    cfg.GamelogDir,
		WorkerBinary:  cfg.WorkerBinary,
		SingleProcess: cfg.SingleProcess,
		TimePerPlayer: cfg.TimePerPlayer,
		MaxInvalids:   cfg.MaxInvalids,
		GraceDelay:    cfg.GraceDelay,
		NoTimeout:     cfg.NoTimeout,
		AuthKey:       authKey,
	})

	var clientOpts []wire.Option
	if cfg.MirrorWire {
		clientOpts = append(clientOpts, wire.WithMirroring())
	}
	if cfg.NoTimeout {
		clientOpts = append(clientOpts, wire.WithNoTimeout())
	}
	srv := wire.NewServer(lob.HandleClient, clientOpts...)

	tcpAddr := cfg.TCPAddr
	if tcpAddr == "" {
		tcpAddr = fmt.Sprintf(":%d", cfg.TCPPort)
	}
	if err := srv.ListenTCP(tcpAddr); err != nil {
		return err
	}
	wsAddr := cfg.WSAddr
	if wsAddr == "" {
		wsAddr = fmt.Sprintf(":%d", cfg.WSPort)
	}
	if err := srv.ListenWS(wsAddr); err != nil {
		return err
	}
	log.Printf("lobby listening on tcp %s, ws %s", srv.TCPAddr(), srv.WSAddr())

	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceLobby, func(ctx context.Context) error {
		serveErr := srv.Serve(ctx)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := lob.Shutdown(shutdownCtx); err != nil {
			log.Printf("lobby shutdown: %v", err)
		}
		return serveErr
	})
}
