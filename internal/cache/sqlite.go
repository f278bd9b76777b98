package cache

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLite stores entries in a single table. Timestamps are unix
// milliseconds so that expiry checks are plain integer comparisons.
type SQLite struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

const sqliteCacheSchema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	cost       REAL NOT NULL DEFAULT 0,
	stored_at  INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cache_entries_expires_at ON cache_entries(expires_at);
`

// NewSQLite opens (or creates) the cache database at path.
func NewSQLite(ctx context.Context, path string, ttl time.Duration) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "cache: sqlite open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "cache: sqlite exec %s", pragma)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteCacheSchema); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "cache: sqlite migrate")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &SQLite{db: db, ttl: ttl, now: time.Now}, nil
}

func (s *SQLite) Get(ctx context.Context, key string) (*Entry, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM cache_entries WHERE key = ? AND expires_at > ?`,
		key, s.now().UnixMilli(),
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "cache: sqlite get")
	}
	var e Entry
	if err := json.Unmarshal([]byte(value), &e); err != nil {
		return nil, eris.Wrapf(err, "cache: sqlite decode %s", key)
	}
	return &e, nil
}

func (s *SQLite) Put(ctx context.Context, key string, e Entry) error {
	e = stamp(e, s.now(), s.ttl)
	value, err := json.Marshal(e)
	if err != nil {
		return eris.Wrap(err, "cache: sqlite encode")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cache_entries (key, value, cost, stored_at, expires_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value, cost = excluded.cost,
		   stored_at = excluded.stored_at, expires_at = excluded.expires_at`,
		key, string(value), e.Cost, e.StoredAt.UnixMilli(), e.ExpiresAt.UnixMilli(),
	)
	return eris.Wrap(err, "cache: sqlite put")
}

func (s *SQLite) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key)
	return eris.Wrap(err, "cache: sqlite delete")
}

func (s *SQLite) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE substr(key, 1, ?) = ?`,
		len(prefix), prefix,
	)
	if err != nil {
		return 0, eris.Wrap(err, "cache: sqlite delete prefix")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "cache: sqlite rows affected")
}

func (s *SQLite) PurgeExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE expires_at <= ?`, s.now().UnixMilli(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "cache: sqlite purge expired")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "cache: sqlite rows affected")
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
