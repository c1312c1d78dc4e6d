// Package schema describes the row families mirrored from the remote catalog.
//
// A Family is an ordered list of Column descriptors split into two disjoint
// groups:
//
//   - Local columns are synthesized by the sync engine (partition tag, foreign keys).
//   - Remote columns are read from the API payload by their RemoteKey.
//
// Families are immutable values built once at package init. Callers receive
// copies of the column slices, so mutating a returned slice never changes the
// catalog.
package schema

import (
	"fmt"
	"strings"

	"mediasync/internal/storage"
)

// ValueType is the storage type of a column.
type ValueType int

const (
	Int ValueType = iota
	Text
	Real
)

func (t ValueType) String() string {
	switch t {
	case Int:
		return "int"
	case Text:
		return "text"
	case Real:
		return "real"
	default:
		return fmt.Sprintf("ValueType(%d)", int(t))
	}
}

// SQLType is the portable DDL type used when creating family tables.
func (t ValueType) SQLType() string {
	switch t {
	case Int:
		return "BIGINT"
	case Real:
		return "DOUBLE PRECISION"
	default:
		return "TEXT"
	}
}

// TextClean selects the cleanup applied to a text value before it is stored.
type TextClean int

const (
	// CleanNone stores the value as received.
	CleanNone TextClean = iota
	// CleanNormalize applies Unicode NFC normalization.
	CleanNormalize
	// CleanHTML strips inline markup and then normalizes.
	CleanHTML
)

// Column describes one stored column.
//
// An empty RemoteKey marks a local-only column.
type Column struct {
	RemoteKey string
	LocalName string
	Type      ValueType
	Required  bool
	Clean     TextClean
}

// IsLocal reports whether the column is populated by the engine rather than the API.
func (c Column) IsLocal() bool { return c.RemoteKey == "" }

// Family is a named table and its column descriptors.
type Family struct {
	name   string
	local  []Column
	remote []Column
}

// NewFamily builds and validates a family.
func NewFamily(name string, local, remote []Column) (Family, error) {
	f := Family{
		name:   name,
		local:  append([]Column(nil), local...),
		remote: append([]Column(nil), remote...),
	}
	if err := f.Validate(); err != nil {
		return Family{}, err
	}
	return f, nil
}

func mustFamily(name string, local, remote []Column) Family {
	f, err := NewFamily(name, local, remote)
	if err != nil {
		panic(err)
	}
	return f
}

// Name is the table name of the family.
func (f Family) Name() string { return f.name }

// IsZero reports whether f is the zero Family.
func (f Family) IsZero() bool { return f.name == "" }

// Local returns a copy of the local-only columns.
func (f Family) Local() []Column { return append([]Column(nil), f.local...) }

// Remote returns a copy of the API-populated columns.
func (f Family) Remote() []Column { return append([]Column(nil), f.remote...) }

// Columns returns local columns followed by remote columns.
func (f Family) Columns() []Column {
	out := make([]Column, 0, len(f.local)+len(f.remote))
	out = append(out, f.local...)
	return append(out, f.remote...)
}

// ColumnNames returns the local names in Columns order.
func (f Family) ColumnNames() []string {
	return names(f.Columns())
}

// RemoteNames returns the local names of remote columns.
func (f Family) RemoteNames() []string {
	return names(f.remote)
}

// LocalNames returns the names of local-only columns.
func (f Family) LocalNames() []string {
	return names(f.local)
}

// Column looks up a column by local name.
func (f Family) Column(name string) (Column, bool) {
	for _, c := range f.Columns() {
		if c.LocalName == name {
			return c, true
		}
	}
	return Column{}, false
}

func names(cols []Column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.LocalName
	}
	return out
}

// Validate checks the family invariants:
//   - a non-empty name and at least one remote column
//   - local columns have no RemoteKey, remote columns have one
//   - local names are unique across both groups
func (f Family) Validate() error {
	if strings.TrimSpace(f.name) == "" {
		return fmt.Errorf("schema: family name is empty")
	}
	if len(f.remote) == 0 {
		return fmt.Errorf("schema: family %s has no remote columns", f.name)
	}
	seen := make(map[string]bool, len(f.local)+len(f.remote))
	check := func(c Column, wantLocal bool) error {
		if strings.TrimSpace(c.LocalName) == "" {
			return fmt.Errorf("schema: family %s has a column with empty name", f.name)
		}
		if c.IsLocal() != wantLocal {
			if wantLocal {
				return fmt.Errorf("schema: %s.%s is local but has remote key %q", f.name, c.LocalName, c.RemoteKey)
			}
			return fmt.Errorf("schema: %s.%s is remote but has no remote key", f.name, c.LocalName)
		}
		if seen[c.LocalName] {
			return fmt.Errorf("schema: %s.%s declared twice", f.name, c.LocalName)
		}
		seen[c.LocalName] = true
		return nil
	}
	for _, c := range f.local {
		if err := check(c, true); err != nil {
			return err
		}
	}
	for _, c := range f.remote {
		if err := check(c, false); err != nil {
			return err
		}
	}
	return nil
}

// TableSpec describes the family table for storage.Gateway.EnsureTables.
//
// Every column is NOT NULL; the mapper substitutes sentinels instead of NULLs.
func (f Family) TableSpec() storage.TableSpec {
	notNull := false
	cols := make([]storage.ColumnSpec, 0, len(f.local)+len(f.remote))
	for _, c := range f.Columns() {
		cols = append(cols, storage.ColumnSpec{
			Name:     c.LocalName,
			Type:     c.Type.SQLType(),
			Nullable: &notNull,
		})
	}
	return storage.TableSpec{
		Name:       f.name,
		PrimaryKey: &storage.PrimaryKeySpec{Name: "_id", Type: "bigserial"},
		Columns:    cols,
	}
}
