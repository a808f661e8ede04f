// Package sqlsink implements storage.Sink on database/sql for the SQL
// backends that share its shape (SQLite, MySQL, SQL Server). A backend
// supplies a Dialect; bulk insert defaults to prepared INSERTs inside one
// transaction per batch and can be replaced (SQL Server uses bulk copy).
package sqlsink

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"apiload/internal/ddl"
	"apiload/internal/schema"
	"apiload/internal/storage"
	"apiload/internal/table"
)

// Dialect describes one SQL engine.
type Dialect struct {
	DDL ddl.Dialect

	// Placeholder renders the i-th (1-based) bind parameter.
	Placeholder func(i int) string

	// TableName maps a TableRef onto the dotted name used in statements.
	TableName func(t storage.TableRef) string

	// Truncate renders the statement that empties a table.
	Truncate func(quotedFQN string) string

	// Exists returns a query yielding one row when t exists.
	Exists func(t storage.TableRef) (string, []any)

	// MaxParams bounds the bind parameters per DELETE statement.
	MaxParams int

	// Copy, when set, replaces the prepared INSERT path.
	Copy func(ctx context.Context, db *sql.DB, fqn string, columns []string, rows [][]any) (int64, error)
}

// Sink is a storage.Sink over a *sql.DB.
type Sink struct {
	db        *sql.DB
	d         Dialect
	batchSize int
}

var _ storage.Sink = (*Sink)(nil)

// New wraps db. batchSize <= 0 uses storage.DefaultBatchSize.
func New(db *sql.DB, d Dialect, batchSize int) *Sink {
	if batchSize <= 0 {
		batchSize = storage.DefaultBatchSize
	}
	if d.MaxParams <= 0 {
		d.MaxParams = 1000
	}
	return &Sink{db: db, d: d, batchSize: batchSize}
}

// DB exposes the underlying handle for backend tests.
func (s *Sink) DB() *sql.DB { return s.db }

func (s *Sink) fqn(t storage.TableRef) string {
	return s.d.DDL.QuoteFQN(s.d.TableName(t))
}

// EnsureTable implements storage.Sink.
func (s *Sink) EnsureTable(ctx context.Context, t storage.TableRef, fields []schema.Field) error {
	stmt, err := ddl.BuildCreateTableSQL(s.d.DDL, ddl.FromFields(s.d.TableName(t), fields, s.d.DDL))
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("%s: create table: %w", s.d.DDL.Name, err)
	}
	return nil
}

// Truncate implements storage.Sink.
func (s *Sink) Truncate(ctx context.Context, t storage.TableRef) error {
	if _, err := s.db.ExecContext(ctx, s.d.Truncate(s.fqn(t))); err != nil {
		return fmt.Errorf("%s: truncate: %w", s.d.DDL.Name, err)
	}
	return nil
}

// DeleteWhere implements storage.Sink. Large value lists are split into
// several statements inside one transaction.
func (s *Sink) DeleteWhere(ctx context.Context, t storage.TableRef, p storage.Predicate) error {
	if len(p.Values) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin tx: %w", s.d.DDL.Name, err)
	}
	defer func() { _ = tx.Rollback() }()

	for start := 0; start < len(p.Values); start += s.d.MaxParams {
		chunk := p.Values[start:min(start+s.d.MaxParams, len(p.Values))]
		q, args := s.deleteSQL(t, p.Column, chunk)
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("%s: delete: %w", s.d.DDL.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", s.d.DDL.Name, err)
	}
	return nil
}

func (s *Sink) deleteSQL(t storage.TableRef, column string, vals []table.Value) (string, []any) {
	ph := make([]string, len(vals))
	args := make([]any, len(vals))
	for i, v := range vals {
		ph[i] = s.d.Placeholder(i + 1)
		args[i] = storage.SQLValue(v)
	}
	q := fmt.Sprintf("DELETE FROM %s WHERE %s IN (%s)", s.fqn(t), s.d.DDL.Quote(column), strings.Join(ph, ", "))
	return q, args
}

// Write implements storage.Sink.
func (s *Sink) Write(ctx context.Context, t storage.TableRef, ds *table.Dataset, _ []schema.Field, mode storage.WriteMode) (int64, error) {
	if mode == storage.WriteReplace {
		if err := s.Truncate(ctx, t); err != nil {
			return 0, err
		}
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	name := s.d.TableName(t)
	copyFn := func(ctx context.Context, columns []string, rows [][]any) (int64, error) {
		if s.d.Copy != nil {
			return s.d.Copy(ctx, s.db, name, columns, rows)
		}
		return s.insert(ctx, name, columns, rows)
	}
	return storage.LoadBatches(ctx, ds.Columns(), storage.Stream(ctx, ds, storage.SQLValue), s.batchSize, copyFn)
}

// insert runs one prepared INSERT per row inside a single transaction.
func (s *Sink) insert(ctx context.Context, name string, columns []string, rows [][]any) (int64, error) {
	ph := make([]string, len(columns))
	for i := range ph {
		ph[i] = s.d.Placeholder(i + 1)
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		s.d.DDL.QuoteFQN(name), strings.Join(s.d.DDL.QuoteAll(columns), ", "), strings.Join(ph, ", "))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%s: begin tx: %w", s.d.DDL.Name, err)
	}
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("%s: prepare insert: %w", s.d.DDL.Name, err)
	}
	defer stmt.Close()

	var inserted int64
	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("%s: insert row %d: %w", s.d.DDL.Name, inserted+1, err)
		}
		inserted++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%s: commit: %w", s.d.DDL.Name, err)
	}
	return inserted, nil
}

// MaxValue implements storage.Sink.
func (s *Sink) MaxValue(ctx context.Context, t storage.TableRef, column string) (table.Value, error) {
	q, args := s.d.Exists(t)
	var one any
	switch err := s.db.QueryRowContext(ctx, q, args...).Scan(&one); {
	case err == sql.ErrNoRows:
		return table.Null(), nil
	case err != nil:
		return table.Null(), fmt.Errorf("%s: table exists: %w", s.d.DDL.Name, err)
	}

	var v any
	q = fmt.Sprintf("SELECT MAX(%s) FROM %s", s.d.DDL.Quote(column), s.fqn(t))
	if err := s.db.QueryRowContext(ctx, q).Scan(&v); err != nil {
		return table.Null(), fmt.Errorf("%s: max(%s): %w", s.d.DDL.Name, column, err)
	}
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	return table.FromNative(v), nil
}

// Close implements storage.Sink.
func (s *Sink) Close() error { return s.db.Close() }

// QuestionMark is the placeholder style of SQLite and MySQL.
func QuestionMark(int) string { return "?" }

// AtP is the SQL Server placeholder style (@p1, @p2, ...).
func AtP(i int) string { return fmt.Sprintf("@p%d", i) }

// TruncateTable renders TRUNCATE TABLE.
func TruncateTable(fqn string) string { return "TRUNCATE TABLE " + fqn }
