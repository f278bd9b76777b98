// Package cache is the query cache in front of every source lookup. Entries
// are keyed by subject and source, hold the full lookup result with the
// cost it incurred, and expire after a TTL.
package cache

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/chenders/deadonfilm-sub014/internal/model"
)

// Entry is one cached lookup. Entries are replaced wholesale, never patched.
type Entry struct {
	Result    *model.LookupResult `json:"result"`
	Cost      float64             `json:"cost"`
	StoredAt  time.Time           `json:"stored_at"`
	ExpiresAt time.Time           `json:"expires_at"`
}

// Expired reports whether the entry is past its TTL at now.
func (e *Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// Store is a key/value cache with TTL semantics.
//
// Get returns (nil, nil) on a miss or an expired entry. Put overwrites any
// existing entry and stamps StoredAt and ExpiresAt from the store's TTL.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Put(ctx context.Context, key string, e Entry) error
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	PurgeExpired(ctx context.Context) (int, error)
	Close() error
}

// Drivers understood by Open.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverBadger = "badger"
)

// DefaultTTL applies when the configuration leaves the TTL unset.
const DefaultTTL = 30 * 24 * time.Hour

// Open builds the configured store.
func Open(ctx context.Context, driver, path string, ttl time.Duration) (Store, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	switch driver {
	case "", DriverMemory:
		return NewMemory(ttl), nil
	case DriverSQLite:
		if path == "" {
			return nil, eris.New("cache: sqlite driver needs a path")
		}
		return NewSQLite(ctx, path, ttl)
	case DriverBadger:
		if path == "" {
			return nil, eris.New("cache: badger driver needs a path")
		}
		return NewBadger(path, ttl)
	default:
		return nil, eris.Errorf("cache: unknown driver %q", driver)
	}
}

func stamp(e Entry, now time.Time, ttl time.Duration) Entry {
	e.StoredAt = now.UTC()
	e.ExpiresAt = e.StoredAt.Add(ttl)
	return e
}
