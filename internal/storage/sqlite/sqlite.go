// Package sqlite registers the "sqlite" storage backend (modernc.org/sqlite,
// no cgo). It is meant for local runs and tests: SQLite has no schemas, so
// the dataset part of a table reference is ignored.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"apiload/internal/ddl"
	"apiload/internal/schema"
	"apiload/internal/storage"
	"apiload/internal/storage/sqlsink"
)

// Dialect is the SQLite dialect of sqlsink.
var Dialect = sqlsink.Dialect{
	DDL: ddl.Dialect{
		Name:  "sqlite",
		Quote: ddl.DoubleQuote,
		Types: map[schema.Type]string{
			schema.Integer: "INTEGER",
			schema.Numeric: "NUMERIC",
			schema.Boolean: "INTEGER",
			schema.Float:   "REAL",
		},
		Text: "TEXT",
	},
	Placeholder: sqlsink.QuestionMark,
	TableName:   func(t storage.TableRef) string { return t.Table },
	Truncate:    func(fqn string) string { return "DELETE FROM " + fqn },
	Exists: func(t storage.TableRef) (string, []any) {
		return "SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?", []any{t.Table}
	},
	MaxParams: 900,
}

// Open opens a SQLite database. In-memory databases are pinned to a single
// connection so every statement sees the same database.
func Open(dsn string) (*sql.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("sqlite: DSN must not be empty")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
	}
	return db, nil
}

// openDB is a test hook.
var openDB = Open

// NewSink opens dsn and returns a Sink.
func NewSink(ctx context.Context, dsn string, batchSize int) (*sqlsink.Sink, error) {
	db, err := openDB(dsn)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	return sqlsink.New(db, Dialect, batchSize), nil
}

func init() {
	storage.Register("sqlite", func(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
		return NewSink(ctx, cfg.DSN, cfg.BatchSize)
	})
}
