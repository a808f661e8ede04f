// Package postgres registers the "postgres" storage backend on pgx v5. Rows
// are loaded with COPY in batches; the dataset part of a table reference is
// the schema, created on demand.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"apiload/internal/ddl"
	"apiload/internal/schema"
	"apiload/internal/storage"
	"apiload/internal/table"
)

// Dialect renders Postgres DDL.
var Dialect = ddl.Dialect{
	Name:  "postgres",
	Quote: ddl.DoubleQuote,
	Types: map[schema.Type]string{
		schema.Integer:   "BIGINT",
		schema.Numeric:   "NUMERIC",
		schema.Boolean:   "BOOLEAN",
		schema.Float:     "DOUBLE PRECISION",
		schema.Timestamp: "TIMESTAMPTZ",
	},
	Text:   "TEXT",
	Nested: "JSONB",
}

// conn is the subset of *pgxpool.Pool the sink uses.
type conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, name pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
}

// Sink is a storage.Sink over a pgx pool.
type Sink struct {
	db        conn
	close     func()
	batchSize int
}

var _ storage.Sink = (*Sink)(nil)

// NewSink opens a pool for dsn and checks connectivity.
func NewSink(ctx context.Context, dsn string, batchSize int) (*Sink, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return newSink(pool, pool.Close, batchSize), nil
}

func newSink(db conn, closeFn func(), batchSize int) *Sink {
	if batchSize <= 0 {
		batchSize = storage.DefaultBatchSize
	}
	return &Sink{db: db, close: closeFn, batchSize: batchSize}
}

func ident(t storage.TableRef) pgx.Identifier {
	if t.Dataset == "" {
		return pgx.Identifier{t.Table}
	}
	return pgx.Identifier{t.Dataset, t.Table}
}

func fqn(t storage.TableRef) string { return ident(t).Sanitize() }

// EnsureTable implements storage.Sink.
func (s *Sink) EnsureTable(ctx context.Context, t storage.TableRef, fields []schema.Field) error {
	if t.Dataset != "" {
		if _, err := s.db.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{t.Dataset}.Sanitize()); err != nil {
			return fmt.Errorf("postgres: create schema: %w", pgDetail(err))
		}
	}
	stmt, err := ddl.BuildCreateTableSQL(Dialect, ddl.FromFields(t.Name(), fields, Dialect))
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("postgres: create table: %w", pgDetail(err))
	}
	return nil
}

// Truncate implements storage.Sink.
func (s *Sink) Truncate(ctx context.Context, t storage.TableRef) error {
	if _, err := s.db.Exec(ctx, "TRUNCATE TABLE "+fqn(t)); err != nil {
		return fmt.Errorf("postgres: truncate: %w", pgDetail(err))
	}
	return nil
}

// maxDeleteParams bounds the bind parameters of one DELETE statement.
const maxDeleteParams = 10000

// DeleteWhere implements storage.Sink. Values are bound with their kinds,
// so the server compares them in the column's own type.
func (s *Sink) DeleteWhere(ctx context.Context, t storage.TableRef, p storage.Predicate) error {
	for start := 0; start < len(p.Values); start += maxDeleteParams {
		chunk := p.Values[start:min(start+maxDeleteParams, len(p.Values))]
		args := make([]any, len(chunk))
		for i, v := range chunk {
			args[i] = pgValue(v)
		}
		if _, err := s.db.Exec(ctx, deleteSQL(t, p.Column, len(chunk)), args...); err != nil {
			return fmt.Errorf("postgres: delete: %w", pgDetail(err))
		}
	}
	return nil
}

func deleteSQL(t storage.TableRef, column string, n int) string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = "$" + strconv.Itoa(i+1)
	}
	return fmt.Sprintf("DELETE FROM %s WHERE %s IN (%s)", fqn(t), ddl.DoubleQuote(column), strings.Join(ph, ", "))
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

	id := ident(t)
	copyFn := func(ctx context.Context, columns []string, rows [][]any) (int64, error) {
		n, err := s.db.CopyFrom(ctx, id, columns, pgx.CopyFromRows(rows))
		if err != nil {
			return n, fmt.Errorf("postgres: copy: %w", pgDetail(err))
		}
		return n, nil
	}
	return storage.LoadBatches(ctx, ds.Columns(), storage.Stream(ctx, ds, pgValue), s.batchSize, copyFn)
}

// pgValue is storage.SQLValue with unsigned values above MaxInt64 sent as
// NUMERIC.
func pgValue(v table.Value) any {
	if v.Kind() == table.KindUint && v.AsUint() > math.MaxInt64 {
		return pgtype.Numeric{Int: new(big.Int).SetUint64(v.AsUint()), Valid: true}
	}
	return storage.SQLValue(v)
}

// MaxValue implements storage.Sink.
func (s *Sink) MaxValue(ctx context.Context, t storage.TableRef, column string) (table.Value, error) {
	var exists bool
	if err := s.db.QueryRow(ctx, "SELECT to_regclass($1) IS NOT NULL", fqn(t)).Scan(&exists); err != nil {
		return table.Null(), fmt.Errorf("postgres: table exists: %w", pgDetail(err))
	}
	if !exists {
		return table.Null(), nil
	}
	var v any
	q := fmt.Sprintf("SELECT MAX(%s) FROM %s", ddl.DoubleQuote(column), fqn(t))
	if err := s.db.QueryRow(ctx, q).Scan(&v); err != nil {
		return table.Null(), fmt.Errorf("postgres: max(%s): %w", column, pgDetail(err))
	}
	if n, ok := v.(pgtype.Numeric); ok {
		dv, err := n.Value()
		if err != nil {
			return table.Null(), fmt.Errorf("postgres: max(%s): %w", column, err)
		}
		v = dv
	}
	return table.FromNative(v), nil
}

// Close implements storage.Sink.
func (s *Sink) Close() error {
	if s.close != nil {
		s.close()
	}
	return nil
}

// pgDetail folds the server detail of a *pgconn.PgError into the message.
func pgDetail(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Detail != "" {
		return fmt.Errorf("%w (%s; %s)", err, strings.TrimSpace(pgErr.Detail), pgErr.SQLState())
	}
	return err
}

func init() {
	storage.Register("postgres", func(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
		return NewSink(ctx, cfg.DSN, cfg.BatchSize)
	})
}
