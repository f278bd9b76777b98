package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/chenders/deadonfilm-sub014/internal/model"
)

func subject(id, name string) model.Subject {
	return model.Subject{
		ID:     id,
		IMDbID: "nm" + id,
		Name:   name,
		Birth:  &model.PartialDate{Year: 1931, Month: 2, Day: 8},
		Death:  &model.PartialDate{Year: 2004, Month: 6, Day: 5},
	}
}

func TestKey(t *testing.T) {
	s := subject("1", "Zoë Saldaña")

	k := Key(s, "wikidata", nil)
	assert.Regexp(t, `^v1:wikidata:1:[0-9a-f]{64}$`, k)

	folded := s
	folded.Name = "  zoe   SALDANA "
	assert.Equal(t, k, Key(folded, "wikidata", nil), "name folding")

	moved := s
	moved.Death = &model.PartialDate{Year: 2005}
	assert.NotEqual(t, k, Key(moved, "wikidata", nil), "death date is part of the key")

	assert.NotEqual(t, k, Key(s, "wikipedia", nil))
	assert.NotEqual(t, k, Key(s, "wikidata", map[string]string{"lang": "en"}))
}

func TestKeyDeterministic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := model.Subject{
			ID:   rapid.StringMatching(`[a-z0-9]{1,8}`).Draw(t, "id"),
			Name: rapid.String().Draw(t, "name"),
			Death: &model.PartialDate{
				Year: rapid.IntRange(1800, 2030).Draw(t, "year"),
			},
		}
		params := rapid.MapOf(rapid.StringMatching(`[a-z]{1,4}`), rapid.String()).Draw(t, "params")

		a := Key(s, "claude", params)
		b := Key(s, "claude", params)
		if a != b {
			t.Fatalf("key not stable: %s != %s", a, b)
		}
		if got := Prefix("claude", s.ID); a[:len(got)] != got {
			t.Fatalf("key %s lacks prefix %s", a, got)
		}
	})
}

func TestFoldName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Zoë Saldaña", "zoe saldana"},
		{"  Jean-Paul   Belmondo ", "jean-paul belmondo"},
		{"BJÖRK", "bjork"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, foldName(tt.in), tt.in)
	}
}

type storeCase struct {
	name  string
	open  func(t *testing.T) Store
	clock func(s Store, now func() time.Time)
}

func storeCases() []storeCase {
	return []storeCase{
		{
			name: "memory",
			open: func(t *testing.T) Store { return NewMemory(time.Hour) },
			clock: func(s Store, now func() time.Time) {
				s.(*Memory).now = now
			},
		},
		{
			name: "sqlite",
			open: func(t *testing.T) Store {
				s, err := NewSQLite(context.Background(), filepath.Join(t.TempDir(), "cache.db"), time.Hour)
				require.NoError(t, err)
				return s
			},
			clock: func(s Store, now func() time.Time) {
				s.(*SQLite).now = now
			},
		},
		{
			name: "badger",
			open: func(t *testing.T) Store {
				s, err := NewBadger(filepath.Join(t.TempDir(), "badger"), time.Hour)
				require.NoError(t, err)
				return s
			},
			clock: func(s Store, now func() time.Time) {
				s.(*Badger).now = now
			},
		},
	}
}

func TestStores(t *testing.T) {
	ctx := context.Background()
	for _, tc := range storeCases() {
		t.Run(tc.name, func(t *testing.T) {
			s := tc.open(t)
			t.Cleanup(func() { _ = s.Close() })

			got, err := s.Get(ctx, "v1:wikidata:1:aa")
			require.NoError(t, err)
			assert.Nil(t, got, "miss")

			res := &model.LookupResult{
				Success: true,
				Source:  model.SourceEntry{Type: "wikidata", Confidence: 0.7},
				Data:    &model.DeathData{Cause: "lung cancer"},
			}
			require.NoError(t, s.Put(ctx, "v1:wikidata:1:aa", Entry{Result: res, Cost: 0.01}))
			require.NoError(t, s.Put(ctx, "v1:wikidata:2:bb", Entry{Result: model.NotFound("wikidata", "none")}))
			require.NoError(t, s.Put(ctx, "v1:claude:1:cc", Entry{Result: res, Cost: 0.02}))

			got, err = s.Get(ctx, "v1:wikidata:1:aa")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, "lung cancer", got.Result.Data.Cause)
			assert.InDelta(t, 0.01, got.Cost, 1e-9)
			assert.False(t, got.StoredAt.IsZero())
			assert.True(t, got.ExpiresAt.After(got.StoredAt))

			// Overwrite replaces the whole entry.
			require.NoError(t, s.Put(ctx, "v1:wikidata:1:aa", Entry{Result: model.NotFound("wikidata", "gone")}))
			got, err = s.Get(ctx, "v1:wikidata:1:aa")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Nil(t, got.Result.Data)
			assert.Zero(t, got.Cost)

			n, err := s.DeletePrefix(ctx, Prefix("wikidata", ""))
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			got, err = s.Get(ctx, "v1:claude:1:cc")
			require.NoError(t, err)
			assert.NotNil(t, got, "other sources survive prefix invalidation")

			require.NoError(t, s.Delete(ctx, "v1:claude:1:cc"))
			got, err = s.Get(ctx, "v1:claude:1:cc")
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestStoresExpiry(t *testing.T) {
	ctx := context.Background()
	for _, tc := range storeCases() {
		t.Run(tc.name, func(t *testing.T) {
			s := tc.open(t)
			t.Cleanup(func() { _ = s.Close() })

			now := time.Now()
			tc.clock(s, func() time.Time { return now })
			require.NoError(t, s.Put(ctx, "k", Entry{Result: model.NotFound("wikidata", "none")}))

			got, err := s.Get(ctx, "k")
			require.NoError(t, err)
			require.NotNil(t, got)

			now = now.Add(2 * time.Hour)
			got, err = s.Get(ctx, "k")
			require.NoError(t, err)
			assert.Nil(t, got, "expired entries read as misses")

			_, err = s.PurgeExpired(ctx)
			require.NoError(t, err)
		})
	}
}

func TestPurgeExpiredCounts(t *testing.T) {
	ctx := context.Background()
	for _, tc := range storeCases()[:2] {
		t.Run(tc.name, func(t *testing.T) {
			s := tc.open(t)
			t.Cleanup(func() { _ = s.Close() })

			now := time.Now()
			tc.clock(s, func() time.Time { return now })
			require.NoError(t, s.Put(ctx, "old", Entry{}))
			now = now.Add(30 * time.Minute)
			require.NoError(t, s.Put(ctx, "new", Entry{}))
			now = now.Add(45 * time.Minute)

			n, err := s.PurgeExpired(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, n)
		})
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, "", "", 0)
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	_, err = Open(ctx, DriverSQLite, "", time.Hour)
	assert.Error(t, err)

	_, err = Open(ctx, "redis", "x", time.Hour)
	assert.ErrorContains(t, err, "unknown driver")

	s, err = Open(ctx, DriverSQLite, filepath.Join(t.TempDir(), "c.db"), time.Hour)
	require.NoError(t, err)
	assert.NoError(t, s.Close())
}
