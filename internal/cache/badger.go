package cache

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
)

// Badger stores entries in an embedded LSM store. Expiry is native: each
// key is written with the store TTL and disappears from reads once it
// lapses.
type Badger struct {
	db  *badger.DB
	ttl time.Duration
	now func() time.Time
}

// NewBadger opens the badger directory at path.
func NewBadger(path string, ttl time.Duration) (*Badger, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, eris.Wrapf(err, "cache: badger open %s", path)
	}
	return newBadger(db, ttl), nil
}

// NewBadgerInMemory opens a memory-only badger store.
func NewBadgerInMemory(ttl time.Duration) (*Badger, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, eris.Wrap(err, "cache: badger open in-memory")
	}
	return newBadger(db, ttl), nil
}

func newBadger(db *badger.DB, ttl time.Duration) *Badger {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Badger{db: db, ttl: ttl, now: time.Now}
}

func (b *Badger) Get(_ context.Context, key string) (*Entry, error) {
	var e Entry
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &e)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "cache: badger get %s", key)
	}
	if e.Expired(b.now()) {
		return nil, nil
	}
	return &e, nil
}

func (b *Badger) Put(_ context.Context, key string, e Entry) error {
	e = stamp(e, b.now(), b.ttl)
	data, err := json.Marshal(e)
	if err != nil {
		return eris.Wrap(err, "cache: badger encode")
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry([]byte(key), data).WithTTL(b.ttl))
	})
	return eris.Wrap(err, "cache: badger put")
}

func (b *Badger) Delete(_ context.Context, key string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	return eris.Wrap(err, "cache: badger delete")
}

func (b *Badger) DeletePrefix(_ context.Context, prefix string) (int, error) {
	var keys [][]byte
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return 0, eris.Wrap(err, "cache: badger scan prefix")
	}
	if len(keys) == 0 {
		return 0, nil
	}

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return 0, eris.Wrap(err, "cache: badger delete prefix")
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, eris.Wrap(err, "cache: badger flush")
	}
	return len(keys), nil
}

// PurgeExpired reclaims value log space. Expired keys are already
// invisible to reads, so there is nothing to count.
func (b *Badger) PurgeExpired(_ context.Context) (int, error) {
	if b.db.Opts().InMemory {
		return 0, nil
	}
	err := b.db.RunValueLogGC(0.5)
	if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
		return 0, eris.Wrap(err, "cache: badger value log gc")
	}
	return 0, nil
}

func (b *Badger) Close() error {
	return eris.Wrap(b.db.Close(), "cache: badger close")
}
