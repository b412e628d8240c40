package capability

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore persists grants in an SQLite database so references stay
// redeemable across runs.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLiteStore opens (creating if needed) the grant database at dbPath
// and applies pending migrations. Use ":memory:" for tests.
func OpenSQLiteStore(ctx context.Context, dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil { //nolint:mnd // owner-only dir perms
			return nil, fmt.Errorf("capability: creating database directory: %w", err)
		}
	}

	logger.Debug("opening grant database", slog.String("path", dbPath))

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("capability: open sqlite: %w", err)
	}

	// One connection: grants have a single writer, and every ":memory:"
	// connection would otherwise see its own empty database.
	db.SetMaxOpenConns(1)

	if err := setPragmas(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

func setPragmas(ctx context.Context, db *sql.DB) error {
	for _, p := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("capability: %s: %w", p, err)
		}
	}

	return nil
}

// runMigrations applies embedded migrations with the goose Provider API.
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("capability: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("capability: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("capability: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

// Put implements Store.
func (s *SQLiteStore) Put(ctx context.Context, g Grant) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO grants (id, path, issued_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET path = excluded.path`,
		g.ID, g.Path, g.IssuedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("capability: saving grant %s: %w", g.ID, err)
	}

	return nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, id string) (Grant, error) {
	var (
		g      Grant
		issued int64
	)

	err := s.db.QueryRowContext(ctx,
		`SELECT id, path, issued_at FROM grants WHERE id = ?`, id,
	).Scan(&g.ID, &g.Path, &issued)
	if errors.Is(err, sql.ErrNoRows) {
		return Grant{}, ErrNotFound
	}

	if err != nil {
		return Grant{}, fmt.Errorf("capability: reading grant %s: %w", id, err)
	}

	g.IssuedAt = time.Unix(0, issued)

	return g, nil
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context) ([]Grant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, path, issued_at FROM grants ORDER BY issued_at, id`)
	if err != nil {
		return nil, fmt.Errorf("capability: listing grants: %w", err)
	}
	defer rows.Close()

	var out []Grant

	for rows.Next() {
		var (
			g      Grant
			issued int64
		)

		if err := rows.Scan(&g.ID, &g.Path, &issued); err != nil {
			return nil, fmt.Errorf("capability: scanning grant: %w", err)
		}

		g.IssuedAt = time.Unix(0, issued)
		out = append(out, g)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("capability: listing grants: %w", err)
	}

	return out, nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM grants WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("capability: deleting grant %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("capability: deleting grant %s: %w", id, err)
	}

	if n == 0 {
		return ErrNotFound
	}

	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
