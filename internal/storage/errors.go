package storage

import (
	"errors"
	"fmt"
)

// StoreError reports a failed gateway call. The store is unchanged when it is returned
// from a mutating call; the surrounding transaction was rolled back.
type StoreError struct {
	Op    string
	Table string
	Err   error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Table, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// WrapError wraps err as a *StoreError unless it already is one.
func WrapError(op, table string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Table: table, Err: err}
}
