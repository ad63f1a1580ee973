package announce

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"             // pure go sqlite driver

	"snapfeed/pkg/feed"
)

// Default DSN keeps parity with local development defaults while allowing overrides.
const defaultPostgresDSN = "postgres://localhost/snapfeed?sslmode=disable"

// sqlOpen is indirected for tests that stub the database handle.
var sqlOpen = sql.Open

// SQLLog announces versions from an append-only announcements table that the
// dataset producer inserts into after each publish. Latest is the maximum
// recorded version, so the log is monotonic by construction. Pinning is not
// supported; the log is the source of truth.
type SQLLog struct {
	db       *sql.DB
	interval time.Duration
}

// NewSQLite opens an announcement log stored in a SQLite database at path.
func NewSQLite(path string) (*SQLLog, error) {
	if path == "" {
		path = "snapfeed.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sqlOpen("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS announcements (
		version INTEGER PRIMARY KEY,
		announced_at TEXT NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("create announcements table: %w", err)
	}
	return &SQLLog{db: db, interval: defaultPollInterval}, nil
}

// NewPostgres opens an announcement log in Postgres using the provided DSN
// (falls back to a local development default).
func NewPostgres(dsn string) (*SQLLog, error) {
	if dsn == "" {
		dsn = defaultPostgresDSN
	}
	db, err := sqlOpen("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS announcements (
		version BIGINT PRIMARY KEY,
		announced_at TIMESTAMPTZ NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("create announcements table: %w", err)
	}
	return &SQLLog{db: db, interval: defaultPollInterval}, nil
}

// Close releases the database handle.
func (l *SQLLog) Close() error { return l.db.Close() }

// Latest returns the highest announced version, or VersionNone for an empty
// log.
func (l *SQLLog) Latest(ctx context.Context) (feed.Version, error) {
	var v sql.NullInt64
	row := l.db.QueryRowContext(ctx, `SELECT MAX(version) FROM announcements`)
	if err := row.Scan(&v); err != nil {
		return feed.VersionNone, fmt.Errorf("select latest announcement: %w", err)
	}
	if !v.Valid {
		return feed.VersionNone, nil
	}
	return feed.Version(v.Int64), nil
}

// Announce appends a version to the log. Used by embedded producers and
// tests; production datasets are announced by their publish pipeline.
func (l *SQLLog) Announce(ctx context.Context, v feed.Version) error {
	if v == feed.VersionNone {
		return fmt.Errorf("cannot announce the empty version")
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO announcements (version, announced_at) VALUES ($1, $2)`,
		int64(v), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert announcement: %w", err)
	}
	return nil
}

// Watch polls the log and invokes fn whenever the latest version advances,
// until ctx is done.
func (l *SQLLog) Watch(ctx context.Context, fn func(feed.Version)) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	var last feed.Version
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			v, err := l.Latest(ctx)
			if err != nil || v == feed.VersionNone || v == last {
				continue
			}
			last = v
			fn(v)
		}
	}
}
