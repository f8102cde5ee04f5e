package gamelog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pierrec/lz4/v4"

	"github.com/louisbranch/arbiter.games/internal/gamelog/migrations"
	platformerrors "github.com/louisbranch/arbiter.games/internal/platform/errors"
	"github.com/louisbranch/arbiter.games/internal/platform/storage/sqlitemigrate"

	_ "modernc.org/sqlite"
)

// Entry is one indexed gamelog, without its deltas.
type Entry struct {
	Filename    string
	GameName    string
	GameSession string
	Epoch       int64
}

// Store persists gamelogs as lz4-compressed JSON files and keeps a SQLite
// index for session lookups.
type Store struct {
	dir   string
	sqlDB *sql.DB
}

// Open prepares the gamelog directory and opens the index, applying
// embedded migrations.
func Open(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("gamelog directory is required")
	}
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create gamelog dir: %w", err)
	}

	dsn := filepath.Join(dir, "index.db") +
		"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open gamelog index: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping gamelog index: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{dir: dir, sqlDB: sqlDB}, nil
}

// Close closes the index handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Dir returns the directory gamelog files are written to.
func (s *Store) Dir() string { return s.dir }

// Write persists one gamelog and indexes it. It returns the filename the
// log was stored under.
func (s *Store) Write(ctx context.Context, g *Gamelog) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if g == nil {
		return "", fmt.Errorf("gamelog is required")
	}
	if g.Epoch == 0 {
		g.Epoch = time.Now().UnixMilli()
	}

	filename := g.Filename()
	if err := s.writeFile(filename, g); err != nil {
		return "", err
	}
	if err := s.index(ctx, filename, g); err != nil {
		return "", err
	}
	return filename, nil
}

// writeFile compresses the gamelog into a temp file and renames it into
// place so readers never observe a partial log.
func (s *Store) writeFile(filename string, g *Gamelog) error {
	tmp, err := os.CreateTemp(s.dir, filename+".tmp-*")
	if err != nil {
		return fmt.Errorf("create gamelog temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	zw := lz4.NewWriter(tmp)
	if err := json.NewEncoder(zw).Encode(g); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("encode gamelog: %w", err)
	}
	if err := zw.Close(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("compress gamelog: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close gamelog temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, filename)); err != nil {
		return fmt.Errorf("rename gamelog into place: %w", err)
	}
	return nil
}

func (s *Store) index(ctx context.Context, filename string, g *Gamelog) error {
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT OR REPLACE INTO gamelogs (filename, game_name, game_session, epoch, written_at)
VALUES (?, ?, ?, ?, ?)`,
		filename, g.GameName, g.GameSession, g.Epoch, time.Now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("index gamelog: %w", err)
	}
	return nil
}

// Read loads and decompresses one gamelog by filename.
func (s *Store) Read(ctx context.Context, filename string) (*Gamelog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// Filenames may arrive from clients; never let them escape the dir.
	if filepath.Base(filename) != filename {
		return nil, platformerrors.New(platformerrors.CodeNotFound, "gamelog not found")
	}
	f, err := os.Open(filepath.Join(s.dir, filename))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, platformerrors.New(platformerrors.CodeNotFound, "gamelog not found")
		}
		return nil, fmt.Errorf("open gamelog: %w", err)
	}
	defer f.Close()
	return decode(f)
}

func decode(r io.Reader) (*Gamelog, error) {
	var g Gamelog
	if err := json.NewDecoder(lz4.NewReader(r)).Decode(&g); err != nil {
		return nil, fmt.Errorf("decode gamelog: %w", err)
	}
	return &g, nil
}

// Lookup finds the gamelog for a game session. Epoch 0 means the most
// recent log for that session.
func (s *Store) Lookup(ctx context.Context, gameName, gameSession string, epoch int64) (*Gamelog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	query := `
SELECT filename FROM gamelogs
WHERE game_name = ? AND game_session = ?`
	args := []any{gameName, gameSession}
	if epoch != 0 {
		query += " AND epoch = ?"
		args = append(args, epoch)
	}
	query += " ORDER BY epoch DESC LIMIT 1"

	var filename string
	err := s.sqlDB.QueryRowContext(ctx, query, args...).Scan(&filename)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, platformerrors.New(platformerrors.CodeNotFound, "gamelog not found")
		}
		return nil, fmt.Errorf("lookup gamelog: %w", err)
	}
	return s.Read(ctx, filename)
}

// List returns every indexed gamelog, most recent first.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT filename, game_name, game_session, epoch FROM gamelogs
ORDER BY epoch DESC, filename`)
	if err != nil {
		return nil, fmt.Errorf("list gamelogs: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Filename, &e.GameName, &e.GameSession, &e.Epoch); err != nil {
			return nil, fmt.Errorf("scan gamelog row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate gamelog rows: %w", err)
	}
	return entries, nil
}

// Reindex rebuilds the index from the files on disk. Logs written while
// the index database was lost or moved become findable again.
func (s *Store) Reindex(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	files, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read gamelog dir: %w", err)
	}

	count := 0
	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".json.lz4") {
			continue
		}
		g, err := s.Read(ctx, file.Name())
		if err != nil {
			// A corrupt file should not block the rest of the rebuild.
			continue
		}
		if err := s.index(ctx, file.Name(), g); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}
