package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeGateway struct {
	n       int64
	err     error
	closeCt int
}

func (f *fakeGateway) Close() { f.closeCt++ }

func (f *fakeGateway) EnsureTables(context.Context, []TableSpec) error { return f.err }

func (f *fakeGateway) Query(context.Context, string, []string, Predicate, []any) (Rows, error) {
	return Rows{}, f.err
}

func (f *fakeGateway) Delete(context.Context, string, Predicate, []any) (int64, error) {
	return f.n, f.err
}

func (f *fakeGateway) BulkInsert(context.Context, string, []string, [][]any) (int64, error) {
	return f.n, f.err
}

func (f *fakeGateway) Update(context.Context, string, []string, []any, Predicate, []any) (int64, error) {
	return f.n, f.err
}

func (f *fakeGateway) ReplacePartition(context.Context, string, Predicate, []any, []string, [][]any) (int64, int64, error) {
	return f.n, f.n, f.err
}

type recordingSink struct {
	changes []Change
	err     error
}

func (r *recordingSink) Publish(_ context.Context, c Change) error {
	r.changes = append(r.changes, c)
	return r.err
}

func TestObserve_PublishesOnlyWhenRowsChanged(t *testing.T) {
	ctx := context.Background()
	fg := &fakeGateway{}
	sink := &recordingSink{}
	gw := Observe(fg, sink, nil)

	if _, err := gw.Update(ctx, "movie", []string{"title"}, []any{"x"}, Where("media_id"), []any{1}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(sink.changes) != 0 {
		t.Fatalf("zero-row update published %v", sink.changes)
	}

	fg.n = 2
	if _, err := gw.Update(ctx, "movie", []string{"title"}, []any{"x"}, Where("media_id"), []any{1}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, _, err := gw.ReplacePartition(ctx, "movie", Where("source"), []any{"popular"}, []string{"source"}, [][]any{{"popular"}}); err != nil {
		t.Fatalf("ReplacePartition: %v", err)
	}
	if len(sink.changes) != 2 {
		t.Fatalf("changes=%d, want 2", len(sink.changes))
	}
	if sink.changes[0].Op != OpUpdate || sink.changes[0].Rows != 2 {
		t.Fatalf("changes[0]=%+v", sink.changes[0])
	}
	if sink.changes[1].Op != OpReplace || sink.changes[1].Rows != 4 || sink.changes[1].Table != "movie" {
		t.Fatalf("changes[1]=%+v", sink.changes[1])
	}
	if sink.changes[1].At.IsZero() || sink.changes[1].At.Location() != time.UTC {
		t.Fatalf("At=%v, want UTC timestamp", sink.changes[1].At)
	}
}

func TestObserve_WrapsErrors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	sink := &recordingSink{}
	gw := Observe(&fakeGateway{n: 1, err: boom}, sink, nil)

	_, err := gw.Delete(ctx, "review", Where("media_id"), []any{1})
	var se *StoreError
	if !errors.As(err, &se) {
		t.Fatalf("err=%T, want *StoreError", err)
	}
	if se.Op != OpDelete || se.Table != "review" || !errors.Is(err, boom) {
		t.Fatalf("StoreError=%+v", se)
	}
	if len(sink.changes) != 0 {
		t.Fatalf("failed call published %v", sink.changes)
	}

	if err := gw.EnsureTables(ctx, nil); !errors.As(err, &se) {
		t.Fatalf("EnsureTables err=%v, want *StoreError", err)
	}
}

func TestObserve_SinkErrorDoesNotFailMutation(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{err: errors.New("bus down")}
	var reported []Change
	gw := Observe(&fakeGateway{n: 1}, sink, func(c Change, err error) {
		reported = append(reported, c)
	})

	n, err := gw.BulkInsert(ctx, "trailer", []string{"key"}, [][]any{{"k"}})
	if err != nil || n != 1 {
		t.Fatalf("BulkInsert=(%d,%v), want (1,nil)", n, err)
	}
	if len(reported) != 1 || reported[0].Op != OpInsert {
		t.Fatalf("reported=%v", reported)
	}
}

func TestWrapError_DoesNotDoubleWrap(t *testing.T) {
	if WrapError("x", "t", nil) != nil {
		t.Fatalf("WrapError(nil) != nil")
	}
	inner := &StoreError{Op: OpInsert, Table: "movie", Err: errors.New("x")}
	if got := WrapError(OpReplace, "other", inner); got != error(inner) {
		t.Fatalf("WrapError rewrapped a StoreError: %v", got)
	}
}
