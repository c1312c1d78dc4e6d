package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"mediasync/internal/storage"
)

// maxParams is SQLITE_MAX_VARIABLE_NUMBER for the modernc build.
const maxParams = 32766

// Gateway implements storage.Gateway for SQLite.
//
// Key design points:
//   - The pool is limited to one connection. SQLite serializes writers anyway,
//     and a single connection keeps ":memory:" databases coherent.
//   - Column types from schema (BIGINT, DOUBLE PRECISION, TEXT) map onto
//     SQLite's INTEGER / REAL / TEXT affinities unchanged.
type Gateway struct {
	db *sql.DB
}

func init() {
	storage.Register("sqlite", Open)
}

// Open opens the database named by cfg.DSN and verifies connectivity.
func Open(ctx context.Context, cfg storage.Config) (storage.Gateway, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Gateway{db: db}, nil
}

func (g *Gateway) Close() { _ = g.db.Close() }

// EnsureTables creates every table that does not exist yet.
func (g *Gateway) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		ddl, err := buildCreateTableSQL(t)
		if err != nil {
			return err
		}
		if _, err := g.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
	}
	return nil
}

func (g *Gateway) Query(ctx context.Context, table string, columns []string, where storage.Predicate, args []any) (storage.Rows, error) {
	if err := where.Check(args); err != nil {
		return storage.Rows{}, err
	}
	q := buildSelectSQL(table, columns, where)
	rows, err := g.db.QueryContext(ctx, q, args...)
	if err != nil {
		return storage.Rows{}, err
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
			return storage.Rows{}, err
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
	n, _ := res.RowsAffected()
	return n, nil
}

// BulkInsert inserts all rows in one transaction.
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

	n, err := insertRows(ctx, tx, table, columns, rows)
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
		return 0, fmt.Errorf("update %s: %d columns, %d values", table, len(columns), len(values))
	}
	if err := where.Check(args); err != nil {
		return 0, err
	}
	all := make([]any, 0, len(values)+len(args))
	all = append(all, values...)
	all = append(all, args...)

	res, err := g.db.ExecContext(ctx, buildUpdateSQL(table, columns, where), all...)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ReplacePartition deletes the partition and inserts rows in a single transaction.
// If the insert fails the delete is rolled back and the old partition survives.
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
	deleted, _ := res.RowsAffected()

	inserted, err := insertRows(ctx, tx, table, columns, rows)
	if err != nil {
		return 0, 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}
	return deleted, inserted, nil
}

func insertRows(ctx context.Context, tx *sql.Tx, table string, columns []string, rows [][]any) (int64, error) {
	var total int64
	for _, chunk := range storage.Chunk(rows, len(columns), maxParams) {
		q, args := buildInsertSQL(table, columns, chunk)
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return total, err
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func sqlIdent(id string) string {
	// SQLite supports "quoted identifiers"
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func placeholder(int) string { return "?" }

func buildSelectSQL(table string, columns []string, where storage.Predicate) string {
	var b strings.Builder
	b.WriteString("SELECT ")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(sqlIdent(c))
	}
	b.WriteString(" FROM ")
	b.WriteString(sqlIdent(table))
	where.Render(&b, sqlIdent, placeholder, 0)
	return b.String()
}

func buildDeleteSQL(table string, where storage.Predicate) string {
	var b strings.Builder
	b.WriteString("DELETE FROM ")
	b.WriteString(sqlIdent(table))
	where.Render(&b, sqlIdent, placeholder, 0)
	return b.String()
}

func buildUpdateSQL(table string, columns []string, where storage.Predicate) string {
	var b strings.Builder
	b.WriteString("UPDATE ")
	b.WriteString(sqlIdent(table))
	b.WriteString(" SET ")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(sqlIdent(c))
		b.WriteString(" = ?")
	}
	where.Render(&b, sqlIdent, placeholder, len(columns))
	return b.String()
}

// buildInsertSQL builds one multi-row INSERT and its flattened args.
func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	colList := make([]string, 0, len(columns))
	for _, c := range columns {
		colList = append(colList, sqlIdent(c))
	}
	placeholders := "(" + strings.TrimRight(strings.Repeat("?,", len(columns)), ",") + ")"

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(sqlIdent(table))
	b.WriteString(" (")
	b.WriteString(strings.Join(colList, ", "))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholders)
		args = append(args, row...)
	}
	return b.String(), args
}

func buildCreateTableSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("table name is empty")
	}
	var parts []string

	if t.PrimaryKey != nil {
		pkType := strings.TrimSpace(strings.ToLower(t.PrimaryKey.Type))

		// "INTEGER PRIMARY KEY" is special in sqlite: it becomes the rowid and auto-generates values.
		switch pkType {
		case "serial", "bigserial", "int identity", "integer identity", "identity":
			parts = append(parts, fmt.Sprintf(`%s INTEGER PRIMARY KEY AUTOINCREMENT`, sqlIdent(t.PrimaryKey.Name)))
		default:
			parts = append(parts, fmt.Sprintf(`%s %s PRIMARY KEY`, sqlIdent(t.PrimaryKey.Name), t.PrimaryKey.Type))
		}
	}

	for _, c := range t.Columns {
		if strings.TrimSpace(c.Name) == "" || strings.TrimSpace(c.Type) == "" {
			return "", fmt.Errorf("%s: column name and type are required", t.Name)
		}
		col := fmt.Sprintf("%s %s", sqlIdent(c.Name), c.Type)
		if !c.IsNullable() {
			col += " NOT NULL"
		}
		parts = append(parts, col)
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n);", sqlIdent(t.Name), strings.Join(parts, ",\n  ")), nil
}
