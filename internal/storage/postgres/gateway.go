package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mediasync/internal/storage"
)

// maxParams is the Postgres wire-protocol limit on bind parameters per statement.
const maxParams = 65535

/*
Gateway implements storage.Gateway for Postgres.

It provides:
  - Equality-predicate reads, deletes and updates
  - Multi-row inserts chunked under the bind parameter limit
  - Transactional partition replacement (DELETE + INSERT in one pgx.Tx)

Behavior matches the SQLite and MSSQL implementations.
*/
type Gateway struct {
	pool *pgxpool.Pool
}

func init() {
	storage.Register("postgres", Open)
}

// Open creates a pooled Postgres Gateway and verifies connectivity.
func Open(ctx context.Context, cfg storage.Config) (storage.Gateway, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Gateway{pool: pool}, nil
}

// Close closes the connection pool.
func (g *Gateway) Close() {
	g.pool.Close()
}

// EnsureTables creates missing tables. This method is idempotent.
func (g *Gateway) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		ddl, err := buildCreateSQL(t)
		if err != nil {
			return err
		}
		if _, err := g.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
	}
	return nil
}

func (g *Gateway) Query(ctx context.Context, table string, columns []string, where storage.Predicate, args []any) (storage.Rows, error) {
	if err := where.Check(args); err != nil {
		return storage.Rows{}, err
	}
	rows, err := g.pool.Query(ctx, buildSelectSQL(table, columns, where), args...)
	if err != nil {
		return storage.Rows{}, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	out := storage.Rows{Columns: append([]string(nil), columns...)}
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return storage.Rows{}, fmt.Errorf("scan %s: %w", table, err)
		}
		for i := range vals {
			vals[i] = storage.NormalizeValue(vals[i])
		}
		out.Values = append(out.Values, vals)
	}
	if err := rows.Err(); err != nil {
		return storage.Rows{}, fmt.Errorf("rows %s: %w", table, err)
	}
	return out, nil
}

func (g *Gateway) Delete(ctx context.Context, table string, where storage.Predicate, args []any) (int64, error) {
	if err := where.Check(args); err != nil {
		return 0, err
	}
	cmd, err := g.pool.Exec(ctx, buildDeleteSQL(table, where), args...)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

// BulkInsert inserts all rows inside one transaction.
func (g *Gateway) BulkInsert(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := storage.CheckRows(columns, rows); err != nil {
		return 0, err
	}

	tx, err := g.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	n, err := insertRowsTx(ctx, tx, table, columns, rows)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return n, nil
}

func (g *Gateway) Update(ctx context.Context, table string, columns []string, values []any, where storage.Predicate, args []any) (int64, error) {
	if len(columns) == 0 || len(columns) != len(values) {
		return 0, fmt.Errorf("update %s: %d columns, %d values", table, len(columns), len(values))
	}
	if err := where.Check(args); err != nil {
		return 0, err
	}
	all := append(append(make([]any, 0, len(values)+len(args)), values...), args...)

	cmd, err := g.pool.Exec(ctx, buildUpdateSQL(table, columns, where), all...)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

// ReplacePartition deletes the partition and inserts rows in one transaction.
//
// Readers using the default READ COMMITTED isolation see either the old
// partition or the new one, never the gap between DELETE and INSERT.
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

	tx, err := g.pool.Begin(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback(ctx)

	cmd, err := tx.Exec(ctx, buildDeleteSQL(table, where), args...)
	if err != nil {
		return 0, 0, err
	}
	deleted := cmd.RowsAffected()

	inserted, err := insertRowsTx(ctx, tx, table, columns, rows)
	if err != nil {
		return 0, 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, 0, err
	}
	return deleted, inserted, nil
}

func insertRowsTx(ctx context.Context, tx pgx.Tx, table string, columns []string, rows [][]any) (int64, error) {
	var total int64
	for _, chunk := range storage.Chunk(rows, len(columns), maxParams) {
		q, args := buildInsertSQL(table, columns, chunk)
		cmd, err := tx.Exec(ctx, q, args...)
		if err != nil {
			return total, err
		}
		total += cmd.RowsAffected()
	}
	return total, nil
}

// pgIdent quotes an identifier. Schema-qualified names ("public.movie") are
// quoted per part.
func pgIdent(id string) string {
	parts := strings.Split(id, ".")
	for i, p := range parts {
		parts[i] = `"` + strings.ReplaceAll(p, `"`, `""`) + `"`
	}
	return strings.Join(parts, ".")
}

func placeholder(i int) string { return fmt.Sprintf("$%d", i+1) }

func buildSelectSQL(table string, columns []string, where storage.Predicate) string {
	var b strings.Builder
	b.WriteString("SELECT ")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
	}
	b.WriteString(" FROM ")
	b.WriteString(pgIdent(table))
	where.Render(&b, pgIdent, placeholder, 0)
	return b.String()
}

func buildDeleteSQL(table string, where storage.Predicate) string {
	var b strings.Builder
	b.WriteString("DELETE FROM ")
	b.WriteString(pgIdent(table))
	where.Render(&b, pgIdent, placeholder, 0)
	return b.String()
}

func buildUpdateSQL(table string, columns []string, where storage.Predicate) string {
	var b strings.Builder
	b.WriteString("UPDATE ")
	b.WriteString(pgIdent(table))
	b.WriteString(" SET ")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
		b.WriteString(" = ")
		b.WriteString(placeholder(i))
	}
	where.Render(&b, pgIdent, placeholder, len(columns))
	return b.String()
}

// buildInsertSQL constructs a single INSERT statement and its args.
//
// It is pure and deterministic, so placeholder numbering is unit tested
// without a database.
func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgIdent(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
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

// buildCreateSQL renders CREATE TABLE IF NOT EXISTS for t.
//
// Primary key handling:
//   - If PrimaryKeySpec is provided, it is created as the first column.
//   - The primary key column is not expected to be present in t.Columns.
func buildCreateSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("buildCreateSQL: table name is required")
	}
	cols := make([]string, 0, len(t.Columns)+1)

	if t.PrimaryKey != nil {
		pk := strings.TrimSpace(t.PrimaryKey.Name)
		pkType := strings.TrimSpace(t.PrimaryKey.Type)
		if pk == "" || pkType == "" {
			return "", fmt.Errorf("buildCreateSQL: table %s: primary_key.name and primary_key.type are required", t.Name)
		}
		cols = append(cols, fmt.Sprintf(`%s %s PRIMARY KEY`, pgIdent(pk), pkType))
	}

	for _, c := range t.Columns {
		def, err := buildColumnDef(c)
		if err != nil {
			return "", fmt.Errorf("buildCreateSQL: table %s: %w", t.Name, err)
		}
		cols = append(cols, def)
	}
	if len(cols) == 0 {
		return "", fmt.Errorf("buildCreateSQL: table %s: no columns", t.Name)
	}
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s);`, pgIdent(t.Name), strings.Join(cols, ", ")), nil
}

func buildColumnDef(c storage.ColumnSpec) (string, error) {
	name := strings.TrimSpace(c.Name)
	typ := strings.TrimSpace(c.Type)
	if name == "" || typ == "" {
		return "", fmt.Errorf("column name/type must be set")
	}
	def := pgIdent(name) + " " + typ
	if !c.IsNullable() {
		def += " NOT NULL"
	}
	return def, nil
}
