// Package mysql registers the "mysql" storage backend on
// github.com/go-sql-driver/mysql. The dataset part of a table reference is
// the database; rows are inserted with multi-row INSERT statements.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"apiload/internal/ddl"
	"apiload/internal/schema"
	"apiload/internal/storage"
	"apiload/internal/storage/sqlsink"
)

// maxRowsPerInsert keeps multi-row INSERTs well below max_allowed_packet.
const maxRowsPerInsert = 500

// ddlDialect renders MySQL CREATE TABLE statements.
var ddlDialect = ddl.Dialect{
	Name:  "mysql",
	Quote: ddl.Backtick,
	Types: map[schema.Type]string{
		schema.Integer:   "BIGINT",
		schema.Numeric:   "DECIMAL(38, 9)",
		schema.Boolean:   "BOOLEAN",
		schema.Float:     "DOUBLE",
		schema.Timestamp: "DATETIME(6)",
	},
	Text:   "LONGTEXT",
	Nested: "JSON",
}

// Dialect is the MySQL dialect of sqlsink.
var Dialect = sqlsink.Dialect{
	DDL:         ddlDialect,
	Placeholder: sqlsink.QuestionMark,
	TableName:   func(t storage.TableRef) string { return t.Name() },
	Truncate:    sqlsink.TruncateTable,
	Exists: func(t storage.TableRef) (string, []any) {
		if t.Dataset == "" {
			return "SELECT 1 FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?", []any{t.Table}
		}
		return "SELECT 1 FROM information_schema.tables WHERE table_schema = ? AND table_name = ?", []any{t.Dataset, t.Table}
	},
	MaxParams: 1000,
	Copy:      copyRows,
}

// copyRows inserts rows with multi-row INSERT statements in one transaction.
func copyRows(ctx context.Context, db *sql.DB, fqn string, columns []string, rows [][]any) (int64, error) {
	d := ddlDialect
	tuple := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ") + ")"
	head := fmt.Sprintf("INSERT INTO %s (%s) VALUES ", d.QuoteFQN(fqn), strings.Join(d.QuoteAll(columns), ", "))

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("mysql: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var total int64
	for start := 0; start < len(rows); start += maxRowsPerInsert {
		chunk := rows[start:min(start+maxRowsPerInsert, len(rows))]
		tuples := make([]string, len(chunk))
		args := make([]any, 0, len(chunk)*len(columns))
		for i, r := range chunk {
			tuples[i] = tuple
			args = append(args, r...)
		}
		res, err := tx.ExecContext(ctx, head+strings.Join(tuples, ", "), args...)
		if err != nil {
			return 0, fmt.Errorf("mysql: insert: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("mysql: rows affected: %w", err)
		}
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("mysql: commit: %w", err)
	}
	return total, nil
}

// normalizeDSN validates dsn and turns on the options the sink relies on.
func normalizeDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	if cfg.Loc == nil {
		cfg.Loc = time.UTC
	}
	return cfg.FormatDSN(), nil
}

// NewSink opens dsn and returns a Sink.
func NewSink(ctx context.Context, dsn string, batchSize int) (*sqlsink.Sink, error) {
	norm, err := normalizeDSN(dsn)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("mysql", norm)
	if err != nil {
		return nil, fmt.Errorf("mysql: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mysql: ping: %w", err)
	}
	return sqlsink.New(db, Dialect, batchSize), nil
}

func init() {
	storage.Register("mysql", func(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
		return NewSink(ctx, cfg.DSN, cfg.BatchSize)
	})
}
