// Package mapper turns decoded remote JSON into rows of a schema.Family.
//
// Two extraction modes exist:
//
//   - Lenient (partition replacement): a missing, null or wrong-typed field
//     becomes a type-specific sentinel (-1, -1.0, "null") and the row is kept.
//   - Strict (update by id): a missing or null required field fails the whole
//     payload with a MissingField MapError. Optional fields still take sentinels.
//
// The payload root may be an object with a "results" array (every element is
// a row), a bare array, or a single object (one row). A "results" field that
// is not an array is a BadEnvelope error.
package mapper

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"mediasync/internal/schema"
	"mediasync/internal/textclean"
)

// Sentinels stored in place of absent remote values.
const (
	SentinelInt  int64   = -1
	SentinelReal float64 = -1.0
	SentinelText         = "null"
)

// ResultsKey is the envelope field holding a list payload.
const ResultsKey = "results"

// Mode selects the extraction policy.
type Mode int

const (
	Lenient Mode = iota
	Strict
)

func (m Mode) String() string {
	if m == Strict {
		return "strict"
	}
	return "lenient"
}

// Row is one mapped row. In Lenient mode it follows family.Columns() (local
// columns first); in Strict mode it holds only family.Remote() values.
type Row = []any

// Columns returns the column names a Map call in mode produces, in row order.
func Columns(f schema.Family, mode Mode) []string {
	if mode == Strict {
		return f.RemoteNames()
	}
	return f.ColumnNames()
}

// Map extracts rows for family from root.
//
// local supplies one value per local-only column and is prepended to every
// row in Lenient mode. Strict mode rows carry remote columns only, so local
// must be empty.
func Map(root any, f schema.Family, local []any, mode Mode) ([]Row, error) {
	switch mode {
	case Lenient:
		if want := len(f.LocalNames()); len(local) != want {
			return nil, &MapError{Kind: LocalArity, Family: f.Name(), Index: -1,
				Err: fmt.Errorf("got %d local values, want %d", len(local), want)}
		}
	case Strict:
		if len(local) != 0 {
			return nil, &MapError{Kind: LocalArity, Family: f.Name(), Index: -1,
				Err: fmt.Errorf("strict rows carry no local values, got %d", len(local))}
		}
	default:
		return nil, fmt.Errorf("mapper: unknown mode %d", int(mode))
	}

	elems, err := elements(root)
	if err != nil {
		return nil, &MapError{Kind: BadEnvelope, Family: f.Name(), Index: -1, Err: err}
	}
	remote := f.Remote()
	rows := make([]Row, 0, len(elems))
	for i, el := range elems {
		obj, ok := el.(map[string]any)
		if !ok {
			return nil, &MapError{Kind: BadElement, Family: f.Name(), Index: i,
				Err: fmt.Errorf("element is %s, want object", typeName(el))}
		}
		row := make(Row, 0, len(local)+len(remote))
		row = append(row, local...)
		for _, col := range remote {
			v, err := extract(obj, col, mode)
			if err != nil {
				err.Family, err.Index = f.Name(), i
				return nil, err
			}
			row = append(row, v)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// elements splits root into row candidates. An object carrying a "results"
// key must hold an array there; anything else would map the envelope itself.
func elements(root any) ([]any, error) {
	switch v := root.(type) {
	case nil:
		return nil, nil
	case []any:
		return v, nil
	case map[string]any:
		res, ok := v[ResultsKey]
		if !ok {
			return []any{v}, nil
		}
		list, ok := res.([]any)
		if !ok {
			return nil, fmt.Errorf("%q is %s, want array", ResultsKey, typeName(res))
		}
		return list, nil
	default:
		return []any{v}, nil
	}
}

func extract(obj map[string]any, col schema.Column, mode Mode) (any, *MapError) {
	raw, present := obj[col.RemoteKey]
	if !present || raw == nil {
		if mode == Strict && col.Required {
			return nil, &MapError{Kind: MissingField, Column: col.LocalName}
		}
		return sentinel(col.Type), nil
	}

	var (
		v  any
		ok bool
	)
	switch col.Type {
	case schema.Int:
		v, ok = toInt(raw)
	case schema.Real:
		v, ok = toReal(raw)
	default:
		var s string
		s, ok = raw.(string)
		if ok {
			v = clean(s, col.Clean)
		}
	}
	if ok {
		return v, nil
	}
	if mode == Strict && col.Required {
		return nil, &MapError{Kind: WrongType, Column: col.LocalName,
			Err: fmt.Errorf("%s is not %s", typeName(raw), col.Type)}
	}
	return sentinel(col.Type), nil
}

func sentinel(t schema.ValueType) any {
	switch t {
	case schema.Int:
		return SentinelInt
	case schema.Real:
		return SentinelReal
	default:
		return SentinelText
	}
}

func clean(s string, policy schema.TextClean) string {
	switch policy {
	case schema.CleanNormalize:
		return textclean.Normalize(s)
	case schema.CleanHTML:
		return textclean.StripHTML(s)
	default:
		return s
	}
}

// toInt accepts integral numbers, numeric strings and booleans.
func toInt(raw any) (int64, bool) {
	switch v := raw.(type) {
	case json.Number:
		return parseInt(string(v))
	case string:
		return parseInt(strings.TrimSpace(v))
	case float64:
		return floatToInt(v)
	case int64:
		return v, true
	case int:
		return int64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func parseInt(s string) (int64, bool) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return floatToInt(f)
}

func floatToInt(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return 0, false
	}
	return int64(f), true
}

// toReal accepts numbers, numeric strings and booleans.
func toReal(raw any) (float64, bool) {
	switch v := raw.(type) {
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "bool"
	case json.Number, float64, int64, int:
		return "number"
	default:
		return fmt.Sprintf("%T", v)
	}
}
