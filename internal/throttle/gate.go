// Package throttle decides whether a sync key is due for a remote fetch.
//
// The gate keeps one Record per key in a Store that lives outside the main
// row store, so the last-synced times survive restarts independently of the
// cached rows. Records are created on the first successful sync of a key and
// overwritten on every later success; they are never deleted.
//
// The check in ShouldSync and the write in RecordSuccess are separate calls.
// Two concurrent syncs of the same key can both observe "due" before either
// records success. That is an accepted imprecision for a low-write cache.
package throttle

import (
	"context"
	"errors"
	"time"
)

// ErrEmptyKey is returned for an empty throttle key.
var ErrEmptyKey = errors.New("throttle: empty key")

// Record is the persisted last-success time of one key.
type Record struct {
	Key            string `json:"key"`
	LastSyncedAtMs int64  `json:"last_synced_at_ms"`
}

// Store persists throttle records.
//
// Get reports found=false (and a nil error) when no record exists for key.
type Store interface {
	Get(ctx context.Context, key string) (rec Record, found bool, err error)
	Put(ctx context.Context, rec Record) error
	Close() error
}

// Gate answers "is this key due?" against a Store.
type Gate struct {
	store Store
	now   func() time.Time
}

// Option configures a Gate.
type Option func(*Gate)

// WithClock overrides the gate's clock (tests).
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// NewGate returns a gate over store.
func NewGate(store Store, opts ...Option) *Gate {
	g := &Gate{store: store, now: time.Now}
	for _, o := range opts {
		o(g)
	}
	return g
}

// ShouldSync reports whether key is due: always when force is set, when no
// record exists, or when more than interval has elapsed since the record.
//
// If the store cannot be read the key is reported as due together with the
// error, so a broken throttle store degrades to "always fetch" rather than
// "never fetch".
func (g *Gate) ShouldSync(ctx context.Context, key string, interval time.Duration, force bool) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	if force {
		return true, nil
	}
	rec, found, err := g.store.Get(ctx, key)
	if err != nil {
		return true, err
	}
	if !found {
		return true, nil
	}
	return g.now().UnixMilli()-rec.LastSyncedAtMs > interval.Milliseconds(), nil
}

// RecordSuccess stores now as the last successful sync of key.
//
// Callers invoke it only after both the fetch and the store reconciliation
// succeeded.
func (g *Gate) RecordSuccess(ctx context.Context, key string, now time.Time) error {
	if key == "" {
		return ErrEmptyKey
	}
	return g.store.Put(ctx, Record{Key: key, LastSyncedAtMs: now.UnixMilli()})
}

// Last returns the record for key, if any.
func (g *Gate) Last(ctx context.Context, key string) (Record, bool, error) {
	return g.store.Get(ctx, key)
}

// Close closes the underlying store.
func (g *Gate) Close() error { return g.store.Close() }
