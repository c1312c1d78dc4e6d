package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"mediasync/internal/storage"
)

// maxParams stays under SQL Server's 2100 parameter limit per request.
const maxParams = 2000

// Gateway implements storage.Gateway for Microsoft SQL Server.
//
// Notes:
//   - TEXT columns are created as NVARCHAR(MAX); the legacy TEXT type cannot be
//     compared with "=" and so cannot back a partition predicate.
//   - ReplacePartition runs DELETE and the chunked INSERTs inside one transaction.
//
// Note on driver registration:
//   - This package does NOT blank-import a SQL Server driver. The "sqlserver"
//     driver is registered by mediasync/internal/storage/all.
type Gateway struct {
	db dbConn
}

func init() {
	storage.Register("mssql", Open)
}

// Open constructs a Gateway using database/sql and the "sqlserver" driver.
//
// This method validates connectivity via PingContext.
func Open(ctx context.Context, cfg storage.Config) (storage.Gateway, error) {
	raw, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	raw.SetMaxOpenConns(16)
	raw.SetMaxIdleConns(16)

	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return &Gateway{db: &sqlDB{db: raw}}, nil
}

// Close releases database resources held by this gateway.
func (g *Gateway) Close() {
	if g == nil || g.db == nil {
		return
	}
	_ = g.db.Close()
}

// EnsureTables creates missing tables behind an OBJECT_ID guard.
//
// This method is idempotent and safe to run on every start.
func (g *Gateway) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		ddl, err := buildCreateSQL(t)
		if err != nil {
			return err
		}
		if _, err := g.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("mssql: create table %s: %w", t.Name, err)
		}
	}
	return nil
}

func (g *Gateway) Query(ctx context.Context, table string, columns []string, where storage.Predicate, args []any) (storage.Rows, error) {
	if err := where.Check(args); err != nil {
		return storage.Rows{}, err
	}
	rows, err := g.db.QueryContext(ctx, buildSelectSQL(table, columns, where), args...)
	if err != nil {
		return storage.Rows{}, fmt.Errorf("mssql: query %s: %w", table, err)
	}
	defer rows.Close()

	out := storage.Rows{Columns: append([]string(nil), columns...)}
	for rows.Next() {
		vals := make([]any, len(columns))
		dests := make([]any, len(columns))
		for i := range vals {
			dests[i] = &vals[i]
		}
		if err := rows.Scan(dests...); err != nil {
			return storage.Rows{}, fmt.Errorf("mssql: scan %s: %w", table, err)
		}
		for i := range vals {
			vals[i] = storage.NormalizeValue(vals[i])
		}
		out.Values = append(out.Values, vals)
	}
	return out, rows.Err()
}

func (g *Gateway) Delete(ctx context.Context, table string, where storage.Predicate, args []any) (int64, error) {
	if err := where.Check(args); err != nil {
		return 0, err
	}
	res, err := g.db.ExecContext(ctx, buildDeleteSQL(table, where), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// BulkInsert inserts rows in one transaction, chunked under the parameter limit.
func (g *Gateway) BulkInsert(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := storage.CheckRows(columns, rows); err != nil {
		return 0, err
	}

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	n, err := insertRowsTx(ctx, tx, table, columns, rows)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

func (g *Gateway) Update(ctx context.Context, table string, columns []string, values []any, where storage.Predicate, args []any) (int64, error) {
	if len(columns) == 0 || len(columns) != len(values) {
		return 0, fmt.Errorf("mssql: update %s: %d columns, %d values", table, len(columns), len(values))
	}
	if err := where.Check(args); err != nil {
		return 0, err
	}
	all := append(append(make([]any, 0, len(values)+len(args)), values...), args...)

	res, err := g.db.ExecContext(ctx, buildUpdateSQL(table, columns, where), all...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ReplacePartition deletes the partition and inserts rows in one transaction.
func (g *Gateway) ReplacePartition(
	ctx context.Context,
	table string,
	where storage.Predicate,
	args []any,
	columns []string,
	rows [][]any,
) (int64, int64, error) {
	if err := where.Check(args); err != nil {
		return 0, 0, err
	}
	if err := storage.CheckRows(columns, rows); err != nil {
		return 0, 0, err
	}

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, buildDeleteSQL(table, where), args...)
	if err != nil {
		return 0, 0, err
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, 0, err
	}

	inserted, err := insertRowsTx(ctx, tx, table, columns, rows)
	if err != nil {
		return 0, 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}
	return deleted, inserted, nil
}

func insertRowsTx(ctx context.Context, tx txConn, table string, columns []string, rows [][]any) (int64, error) {
	var total int64
	for _, chunk := range storage.Chunk(rows, len(columns), maxParams) {
		q, args := buildBulkInsertSQL(table, columns, chunk)
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return total, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func placeholder(i int) string { return fmt.Sprintf("@p%d", i+1) }

func buildSelectSQL(table string, columns []string, where storage.Predicate) string {
	var b strings.Builder
	b.WriteString("SELECT ")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(mssqlIdent(c))
	}
	b.WriteString(" FROM ")
	b.WriteString(mssqlTableIdent(table))
	where.Render(&b, mssqlIdent, placeholder, 0)
	return b.String()
}

func buildDeleteSQL(table string, where storage.Predicate) string {
	var b strings.Builder
	b.WriteString("DELETE FROM ")
	b.WriteString(mssqlTableIdent(table))
	where.Render(&b, mssqlIdent, placeholder, 0)
	return b.String()
}

func buildUpdateSQL(table string, columns []string, where storage.Predicate) string {
	var b strings.Builder
	b.WriteString("UPDATE ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" SET ")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(mssqlIdent(c))
		b.WriteString(" = ")
		b.WriteString(placeholder(i))
	}
	where.Render(&b, mssqlIdent, placeholder, len(columns))
	return b.String()
}

// buildBulkInsertSQL builds a single INSERT ... VALUES statement for all rows.
func buildBulkInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" (")

	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(mssqlIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 0
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString(placeholder(p))
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}

	return b.String(), args
}

func buildCreateSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("mssql: table name is empty")
	}

	var parts []string
	if t.PrimaryKey != nil {
		pkDef, err := mssqlPrimaryKeyDef(*t.PrimaryKey)
		if err != nil {
			return "", err
		}
		parts = append(parts, pkDef)
	}
	for _, c := range t.Columns {
		def, err := mssqlColumnDef(c)
		if err != nil {
			return "", err
		}
		parts = append(parts, def)
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("mssql: table %s has no columns", t.Name)
	}
	return wrapCreateIfMissing(t.Name, strings.Join(parts, ", ")), nil
}

// wrapCreateIfMissing wraps a CREATE TABLE statement in an OBJECT_ID guard.
//
// This keeps EnsureTables idempotent without requiring IF NOT EXISTS syntax.
func wrapCreateIfMissing(tableName string, innerDefs string) string {
	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL BEGIN CREATE TABLE %s (%s); END;",
		strings.ReplaceAll(tableName, "'", "''"),
		mssqlTableIdent(tableName),
		innerDefs,
	)
}

// mssqlPrimaryKeyDef returns a column definition for an identity primary key.
//
// Supported types (case-insensitive):
//   - "serial", "identity" variants -> INT IDENTITY(1,1) PRIMARY KEY
//   - "bigserial" -> BIGINT IDENTITY(1,1) PRIMARY KEY
//   - otherwise uses pk.Type verbatim with PRIMARY KEY.
func mssqlPrimaryKeyDef(pk storage.PrimaryKeySpec) (string, error) {
	if strings.TrimSpace(pk.Name) == "" {
		return "", fmt.Errorf("mssql: primary key name is empty")
	}
	switch strings.ToLower(strings.TrimSpace(pk.Type)) {
	case "serial", "int identity", "integer identity", "identity":
		return fmt.Sprintf("%s INT IDENTITY(1,1) PRIMARY KEY", mssqlIdent(pk.Name)), nil
	case "bigserial":
		return fmt.Sprintf("%s BIGINT IDENTITY(1,1) PRIMARY KEY", mssqlIdent(pk.Name)), nil
	default:
		return fmt.Sprintf("%s %s PRIMARY KEY", mssqlIdent(pk.Name), pk.Type), nil
	}
}

// mssqlColumnDef builds a SQL Server column definition from storage.ColumnSpec.
func mssqlColumnDef(c storage.ColumnSpec) (string, error) {
	if strings.TrimSpace(c.Name) == "" {
		return "", fmt.Errorf("mssql: column name is empty")
	}
	if strings.TrimSpace(c.Type) == "" {
		return "", fmt.Errorf("mssql: column %s type is empty", c.Name)
	}

	def := mssqlIdent(c.Name) + " " + mssqlType(c.Type)
	if !c.IsNullable() {
		def += " NOT NULL"
	}
	return def, nil
}

func mssqlType(t string) string {
	switch strings.ToUpper(strings.TrimSpace(t)) {
	case "TEXT":
		return "NVARCHAR(MAX)"
	case "DOUBLE PRECISION":
		return "FLOAT"
	default:
		return t
	}
}

// mssqlIdent returns a bracket-quoted identifier, escaping ']' as ']]'.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// mssqlTableIdent returns a bracket-quoted identifier for schema-qualified names.
//
// Example:
//
//	"dbo.movie" -> [dbo].[movie]
func mssqlTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = mssqlIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}

// ---- database/sql seam types ----

// dbConn is a small interface over *sql.DB used to make this package testable.
type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error)
	Close() error
}

// txConn is a small interface over *sql.Tx used for testability.
type txConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Commit() error
	Rollback() error
}

// sqlDB wraps *sql.DB to implement dbConn.
type sqlDB struct {
	db *sql.DB
}

func (s *sqlDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}

func (s *sqlDB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, query, args...)
}

// BeginTx begins a transaction and returns a txConn wrapper.
func (s *sqlDB) BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error) {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *sqlDB) Close() error { return s.db.Close() }

// compile-time sanity checks (no runtime cost).
var (
	_ dbConn = (*sqlDB)(nil)
	_ txConn = (*sql.Tx)(nil)
)
