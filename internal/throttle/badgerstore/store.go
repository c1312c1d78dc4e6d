// Package badgerstore persists throttle records in an embedded BadgerDB.
package badgerstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"mediasync/internal/throttle"
)

const keyPrefix = "throttle:"

// Store implements throttle.Store on BadgerDB.
type Store struct {
	db    *badger.DB
	owned bool
}

// Open opens (or creates) a BadgerDB at dir. The returned store owns the
// database and closes it on Close.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badgerstore: open %s: %w", dir, err)
	}
	return &Store{db: db, owned: true}, nil
}

// New wraps an existing database. Close does not close db.
func New(db *badger.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Get(ctx context.Context, key string) (throttle.Record, bool, error) {
	var rec throttle.Record
	found := true

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			found = false
			return nil
		}
		if err != nil {
			return fmt.Errorf("get record: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return throttle.Record{}, false, err
	}
	return rec, found, nil
}

func (s *Store) Put(ctx context.Context, rec throttle.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefix+rec.Key), data)
	})
}

func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}
