package storage

import (
	"fmt"
	"strings"
)

// Predicate is an equality conjunction over column names:
//
//	Where("media_id", "type")  ->  media_id = ? AND type = ?
//
// Backends render it with their own identifier quoting and placeholder style.
// An empty Predicate matches every row.
type Predicate struct {
	Columns []string
}

// Where builds a Predicate over cols.
func Where(cols ...string) Predicate {
	return Predicate{Columns: append([]string(nil), cols...)}
}

// IsEmpty reports whether the predicate has no columns.
func (p Predicate) IsEmpty() bool { return len(p.Columns) == 0 }

// Check validates that args has one value per predicate column.
func (p Predicate) Check(args []any) error {
	if len(args) != len(p.Columns) {
		return fmt.Errorf("predicate %v: got %d args, want %d", p.Columns, len(args), len(p.Columns))
	}
	for _, c := range p.Columns {
		if strings.TrimSpace(c) == "" {
			return fmt.Errorf("predicate has an empty column name")
		}
	}
	return nil
}

// Render writes " WHERE a = <ph> AND b = <ph>" into b. Nothing is written for an
// empty predicate. ident quotes column names; placeholder receives the
// zero-based argument position offset by first.
func (p Predicate) Render(b *strings.Builder, ident func(string) string, placeholder func(int) string, first int) {
	if p.IsEmpty() {
		return
	}
	b.WriteString(" WHERE ")
	for i, c := range p.Columns {
		if i > 0 {
			b.WriteString(" AND ")
		}
		b.WriteString(ident(c))
		b.WriteString(" = ")
		b.WriteString(placeholder(first + i))
	}
}

// CheckRows validates that every row has one value per column.
func CheckRows(columns []string, rows [][]any) error {
	if len(columns) == 0 {
		return fmt.Errorf("columns is empty")
	}
	for i, r := range rows {
		if len(r) != len(columns) {
			return fmt.Errorf("row %d has %d values, want %d", i, len(r), len(columns))
		}
	}
	return nil
}

// Chunk splits rows so each chunk binds at most maxParams placeholders.
func Chunk(rows [][]any, width, maxParams int) [][][]any {
	if len(rows) == 0 {
		return nil
	}
	per := len(rows)
	if width > 0 && maxParams > 0 {
		per = maxParams / width
		if per < 1 {
			per = 1
		}
	}
	out := make([][][]any, 0, (len(rows)+per-1)/per)
	for start := 0; start < len(rows); start += per {
		end := start + per
		if end > len(rows) {
			end = len(rows)
		}
		out = append(out, rows[start:end])
	}
	return out
}

// NormalizeValue converts driver-specific scan results to plain Go values so
// every backend returns comparable rows ([]byte becomes string, small ints
// become int64).
func NormalizeValue(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case int16:
		return int64(t)
	case float32:
		return float64(t)
	default:
		return v
	}
}
