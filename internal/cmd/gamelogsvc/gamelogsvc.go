// Package gamelogsvc is the gamelog maintenance command: list, look up and
// reindex recorded matches.
package gamelogsvc

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strconv"

	"github.com/louisbranch/arbiter.games/internal/gamelog"
	"github.com/louisbranch/arbiter.games/internal/games"
	entrypoint "github.com/louisbranch/arbiter.games/internal/platform/cmd"
)

// Config holds gamelog command configuration.
type Config struct {
	Dir string `env:"ARBITER_GAMES_GAMELOG_DIR" envDefault:"gamelogs"`
}

// ParseConfig parses environment and flags into a Config, returning the
// remaining positional arguments.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, []string, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, nil, err
	}
	fs.StringVar(&cfg.Dir, "dir", cfg.Dir, "Directory gamelogs are stored in")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, nil, err
	}
	return cfg, fs.Args(), nil
}

// Run executes one maintenance subcommand: list, show or reindex.
func Run(ctx context.Context, cfg Config, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: gamelog [-dir DIR] list | show GAME SESSION [EPOCH] | reindex")
	}
	store, err := gamelog.Open(cfg.Dir)
	if err != nil {
		return err
	}
	defer store.Close()

	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceGamelog, func(ctx context.Context) error {
		switch args[0] {
		case "list":
			entries, err := store.List(ctx)
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Fprintf(stdout, "%s\t%s\t%s\t%d\n", e.Filename, e.GameName, e.GameSession, e.Epoch)
			}
			return nil
		case "show":
			if len(args) < 3 {
				return fmt.Errorf("usage: gamelog show GAME SESSION [EPOCH]")
			}
			var epoch int64
			if len(args) > 3 {
				epoch, err = strconv.ParseInt(args[3], 10, 64)
				if err != nil {
					return fmt.Errorf("parse epoch %q: %w", args[3], err)
				}
			}
			gameName := args[1]
			if entry, ok := games.Default().Resolve(gameName); ok {
				gameName = entry.Info.Name
			}
			glog, err := store.Lookup(ctx, gameName, args[2], epoch)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(glog)
		case "reindex":
			count, err := store.Reindex(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "reindexed %d gamelogs\n", count)
			return nil
		default:
			return fmt.Errorf("unknown subcommand %q", args[0])
		}
	})
}
