package storage

import (
	"context"
	"time"
)

// Mutation ops carried by Change.
const (
	OpInsert  = "insert"
	OpDelete  = "delete"
	OpUpdate  = "update"
	OpReplace = "replace"
)

// Change describes one successful mutating call.
type Change struct {
	Table string    `json:"table"`
	Op    string    `json:"op"`
	Rows  int64     `json:"rows"`
	At    time.Time `json:"at"`
}

// ChangeSink receives change notifications.
type ChangeSink interface {
	Publish(ctx context.Context, c Change) error
}

// ChangeSinkFunc adapts a function to ChangeSink.
type ChangeSinkFunc func(ctx context.Context, c Change) error

func (f ChangeSinkFunc) Publish(ctx context.Context, c Change) error { return f(ctx, c) }

// Observe wraps gw so that:
//   - every error is returned as a *StoreError
//   - every successful mutating call that touched at least one row publishes
//     exactly one Change to sink (ReplacePartition publishes one Change after commit)
//
// A nil sink only wraps errors. A failing sink never turns a committed
// mutation into an error; onSinkErr (optional) is told instead.
func Observe(gw Gateway, sink ChangeSink, onSinkErr func(Change, error)) Gateway {
	return &observed{gw: gw, sink: sink, onSinkErr: onSinkErr, now: time.Now}
}

type observed struct {
	gw        Gateway
	sink      ChangeSink
	onSinkErr func(Change, error)
	now       func() time.Time
}

func (o *observed) notify(ctx context.Context, table, op string, n int64) {
	if o.sink == nil || n <= 0 {
		return
	}
	c := Change{Table: table, Op: op, Rows: n, At: o.now().UTC()}
	if err := o.sink.Publish(ctx, c); err != nil && o.onSinkErr != nil {
		o.onSinkErr(c, err)
	}
}

func (o *observed) Close() { o.gw.Close() }

func (o *observed) EnsureTables(ctx context.Context, tables []TableSpec) error {
	return WrapError("ensure", "*", o.gw.EnsureTables(ctx, tables))
}

func (o *observed) Query(ctx context.Context, table string, columns []string, where Predicate, args []any) (Rows, error) {
	rows, err := o.gw.Query(ctx, table, columns, where, args)
	return rows, WrapError("query", table, err)
}

func (o *observed) Delete(ctx context.Context, table string, where Predicate, args []any) (int64, error) {
	n, err := o.gw.Delete(ctx, table, where, args)
	if err != nil {
		return 0, WrapError(OpDelete, table, err)
	}
	o.notify(ctx, table, OpDelete, n)
	return n, nil
}

func (o *observed) BulkInsert(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	n, err := o.gw.BulkInsert(ctx, table, columns, rows)
	if err != nil {
		return 0, WrapError(OpInsert, table, err)
	}
	o.notify(ctx, table, OpInsert, n)
	return n, nil
}

func (o *observed) Update(ctx context.Context, table string, columns []string, values []any, where Predicate, args []any) (int64, error) {
	n, err := o.gw.Update(ctx, table, columns, values, where, args)
	if err != nil {
		return 0, WrapError(OpUpdate, table, err)
	}
	o.notify(ctx, table, OpUpdate, n)
	return n, nil
}

func (o *observed) ReplacePartition(ctx context.Context, table string, where Predicate, args []any, columns []string, rows [][]any) (int64, int64, error) {
	del, ins, err := o.gw.ReplacePartition(ctx, table, where, args, columns, rows)
	if err != nil {
		return 0, 0, WrapError(OpReplace, table, err)
	}
	o.notify(ctx, table, OpReplace, del+ins)
	return del, ins, nil
}
