package badgerstore

import (
	"context"
	"testing"

	"github.com/dgraph-io/badger/v4"

	"mediasync/internal/throttle"
	"mediasync/internal/throttle/storetest"
)

func openInMemory(t *testing.T) *badger.DB {
	t.Helper()
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		t.Fatalf("badger.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestStore_Contract(t *testing.T) {
	storetest.Run(t, New(openInMemory(t)))
}

func TestStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Put(ctx, throttle.Record{Key: "review_550_updated", LastSyncedAtMs: 42}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	rec, found, err := s.Get(ctx, "review_550_updated")
	if err != nil || !found || rec.LastSyncedAtMs != 42 {
		t.Fatalf("Get after reopen=(%+v, %v, %v), want 42", rec, found, err)
	}
}

func TestStore_CloseLeavesBorrowedDBOpen(t *testing.T) {
	db := openInMemory(t)
	s := New(db)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if db.IsClosed() {
		t.Fatalf("Close closed a borrowed database")
	}
}
