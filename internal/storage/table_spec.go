package storage

// TableSpec describes one table for EnsureTables. It is defined here so
// schema and the backend packages share it without an import cycle.
type TableSpec struct {
	Name       string          `json:"name"`
	PrimaryKey *PrimaryKeySpec `json:"primary_key,omitempty"`
	Columns    []ColumnSpec    `json:"columns"`
}

type PrimaryKeySpec struct {
	Name string `json:"name"`
	Type string `json:"type"` // serial / bigserial / identity, mapped per backend
}

type ColumnSpec struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable *bool  `json:"nullable,omitempty"`
}

// IsNullable reports the column's nullability; columns default to nullable.
func (c ColumnSpec) IsNullable() bool {
	if c.Nullable == nil {
		return true
	}
	return *c.Nullable
}
