// Package storetest holds the contract test shared by every throttle.Store.
package storetest

import (
	"context"
	"testing"

	"mediasync/internal/throttle"
)

// Run exercises s. The store must be empty.
func Run(t *testing.T, s throttle.Store) {
	t.Helper()
	ctx := context.Background()

	if _, found, err := s.Get(ctx, "movie_popular_updated"); err != nil || found {
		t.Fatalf("Get on empty store=(found=%v, err=%v), want (false, nil)", found, err)
	}

	if err := s.Put(ctx, throttle.Record{Key: "movie_popular_updated", LastSyncedAtMs: 1000}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	rec, found, err := s.Get(ctx, "movie_popular_updated")
	if err != nil || !found {
		t.Fatalf("Get=(found=%v, err=%v), want found", found, err)
	}
	if rec.Key != "movie_popular_updated" || rec.LastSyncedAtMs != 1000 {
		t.Fatalf("rec=%+v, want {movie_popular_updated 1000}", rec)
	}

	if err := s.Put(ctx, throttle.Record{Key: "movie_popular_updated", LastSyncedAtMs: 2000}); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}
	rec, _, _ = s.Get(ctx, "movie_popular_updated")
	if rec.LastSyncedAtMs != 2000 {
		t.Fatalf("LastSyncedAtMs=%d, want 2000 after overwrite", rec.LastSyncedAtMs)
	}

	if _, found, _ := s.Get(ctx, "tv_popular_updated"); found {
		t.Fatalf("records leak across keys")
	}
}
