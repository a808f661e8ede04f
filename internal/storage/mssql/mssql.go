// Package mssql registers the "mssql" storage backend on
// github.com/microsoft/go-mssqldb. The dataset part of a table reference is
// the schema (dbo when empty); rows are loaded with the bulk copy API.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"

	"apiload/internal/ddl"
	"apiload/internal/schema"
	"apiload/internal/storage"
	"apiload/internal/storage/sqlsink"
)

// ddlDialect renders SQL Server CREATE TABLE statements.
var ddlDialect = ddl.Dialect{
	Name:  "mssql",
	Quote: ddl.Bracket,
	Types: map[schema.Type]string{
		schema.Integer:   "BIGINT",
		schema.Numeric:   "DECIMAL(38, 9)",
		schema.Boolean:   "BIT",
		schema.Float:     "FLOAT",
		schema.Timestamp: "DATETIME2",
	},
	Text: "NVARCHAR(MAX)",
	// T-SQL has no CREATE TABLE IF NOT EXISTS.
	Guard: func(fqn, create string) string {
		return fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NULL\nBEGIN\n%s\nEND;", strings.ReplaceAll(fqn, "'", "''"), create)
	},
}

// Dialect is the SQL Server dialect of sqlsink.
var Dialect = sqlsink.Dialect{
	DDL:         ddlDialect,
	Placeholder: sqlsink.AtP,
	TableName:   tableName,
	Truncate:    sqlsink.TruncateTable,
	Exists: func(t storage.TableRef) (string, []any) {
		return "SELECT 1 WHERE OBJECT_ID(@p1, N'U') IS NOT NULL", []any{ddlDialect.QuoteFQN(tableName(t))}
	},
	// SQL Server accepts at most 2100 parameters per statement.
	MaxParams: 2000,
	Copy:      bulkCopy,
}

func tableName(t storage.TableRef) string {
	if t.Dataset == "" {
		return "dbo." + t.Table
	}
	return t.Name()
}

// bulkCopy loads rows with mssql.CopyIn inside one transaction.
func bulkCopy(ctx context.Context, db *sql.DB, fqn string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("mssql: begin tx: %w", err)
	}
	rollback := func() { _ = tx.Rollback() }

	stmt, err := tx.PrepareContext(ctx, mssql.CopyIn(ddlDialect.QuoteFQN(fqn), mssql.BulkOptions{Tablock: true}, columns...))
	if err != nil {
		rollback()
		return 0, fmt.Errorf("mssql: prepare bulk: %w", err)
	}
	for i := range rows {
		if _, err := stmt.ExecContext(ctx, rows[i]...); err != nil {
			_ = stmt.Close()
			rollback()
			return 0, fmt.Errorf("mssql: bulk row %d: %w", i, err)
		}
	}
	res, err := stmt.ExecContext(ctx)
	if cerr := stmt.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		rollback()
		return 0, fmt.Errorf("mssql: bulk finalize: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		rollback()
		return 0, fmt.Errorf("mssql: rows affected: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("mssql: commit: %w", err)
	}
	return n, nil
}

// NewSink validates dsn, opens it and returns a Sink.
func NewSink(ctx context.Context, dsn string, batchSize int) (*sqlsink.Sink, error) {
	if _, err := msdsn.Parse(dsn); err != nil {
		return nil, fmt.Errorf("mssql dsn: %w", err)
	}
	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, fmt.Errorf("mssql: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mssql: ping: %w", err)
	}
	return sqlsink.New(db, Dialect, batchSize), nil
}

func init() {
	storage.Register("mssql", func(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
		return NewSink(ctx, cfg.DSN, cfg.BatchSize)
	})
}
