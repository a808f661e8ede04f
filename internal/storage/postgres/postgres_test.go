package postgres

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"apiload/internal/schema"
	"apiload/internal/storage"
	"apiload/internal/table"
)

type fakeRow struct {
	vals []any
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *bool:
			*p = r.vals[i].(bool)
		case *any:
			*p = r.vals[i]
		}
	}
	return nil
}

type fakeConn struct {
	execs  []string
	args   [][]any
	rows   []fakeRow
	copied [][]any
	cols   []string
	target pgx.Identifier
	err    error
}

func (c *fakeConn) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	c.execs = append(c.execs, sql)
	c.args = append(c.args, args)
	return pgconn.CommandTag{}, c.err
}

func (c *fakeConn) QueryRow(context.Context, string, ...any) pgx.Row {
	r := c.rows[0]
	c.rows = c.rows[1:]
	return r
}

func (c *fakeConn) CopyFrom(ctx context.Context, name pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error) {
	c.target, c.cols = name, columns
	var n int64
	for src.Next() {
		vals, err := src.Values()
		if err != nil {
			return n, err
		}
		c.copied = append(c.copied, vals)
		n++
	}
	return n, src.Err()
}

func TestEnsureTable_CreatesSchemaAndTable(t *testing.T) {
	t.Parallel()

	c := &fakeConn{}
	s := newSink(c, nil, 0)
	fields := []schema.Field{
		{Name: "id", Type: schema.Integer, Mode: schema.Nullable},
		{Name: "tags", Type: schema.String, Mode: schema.Repeated},
	}
	if err := s.EnsureTable(context.Background(), storage.TableRef{Dataset: "raw", Table: "events"}, fields); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}
	if len(c.execs) != 2 || c.execs[0] != `CREATE SCHEMA IF NOT EXISTS "raw"` {
		t.Fatalf("execs = %q", c.execs)
	}
	want := "CREATE TABLE IF NOT EXISTS \"raw\".\"events\" (\n  \"id\" BIGINT,\n  \"tags\" JSONB\n)"
	if c.execs[1] != want {
		t.Fatalf("create =\n%s\nwant\n%s", c.execs[1], want)
	}
}

func TestDeleteWhere_BindsTypedValues(t *testing.T) {
	t.Parallel()

	c := &fakeConn{}
	s := newSink(c, nil, 0)
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("BRT", -3*3600))
	vals := []table.Value{table.Timestamp(at), table.Int(7), table.Uint(math.MaxUint64)}
	err := s.DeleteWhere(context.Background(), storage.TableRef{Dataset: "raw", Table: "t"}, storage.Predicate{Column: "start_date", Values: vals})
	if err != nil {
		t.Fatalf("DeleteWhere: %v", err)
	}
	if c.execs[0] != `DELETE FROM "raw"."t" WHERE "start_date" IN ($1, $2, $3)` {
		t.Fatalf("sql = %q", c.execs[0])
	}
	args := c.args[0]
	if ts, ok := args[0].(time.Time); !ok || !ts.Equal(at) || ts.Location() != time.UTC {
		t.Fatalf("arg 0 = %#v, want UTC time", args[0])
	}
	if args[1] != int64(7) {
		t.Fatalf("arg 1 = %#v", args[1])
	}
	if _, ok := args[2].(pgtype.Numeric); !ok {
		t.Fatalf("arg 2 = %#v, want pgtype.Numeric", args[2])
	}

	if err := s.DeleteWhere(context.Background(), storage.TableRef{Table: "t"}, storage.Predicate{Column: "id"}); err != nil || len(c.execs) != 1 {
		t.Fatalf("empty predicate should be a no-op: %v %q", err, c.execs)
	}
}

func TestWrite_ReplaceTruncatesThenCopies(t *testing.T) {
	t.Parallel()

	ds, err := table.FromRows([]string{"a", "b"}, [][]table.Value{
		{table.String("1"), table.Int(2)},
		{table.Null(), table.Uint(1 << 63)},
	})
	if err != nil {
		t.Fatal(err)
	}
	c := &fakeConn{}
	s := newSink(c, nil, 1)
	n, err := s.Write(context.Background(), storage.TableRef{Table: "t"}, ds, nil, storage.WriteReplace)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != 2 || len(c.copied) != 2 {
		t.Fatalf("n=%d copied=%v", n, c.copied)
	}
	if c.execs[0] != `TRUNCATE TABLE "t"` {
		t.Fatalf("execs = %q", c.execs)
	}
	if c.target.Sanitize() != `"t"` || strings.Join(c.cols, ",") != "a,b" {
		t.Fatalf("target=%v cols=%v", c.target, c.cols)
	}
	if c.copied[1][0] != nil {
		t.Fatalf("null cell = %v", c.copied[1][0])
	}
	if _, ok := c.copied[1][1].(pgtype.Numeric); !ok {
		t.Fatalf("large uint should be numeric, got %T", c.copied[1][1])
	}
}

func TestMaxValue(t *testing.T) {
	t.Parallel()

	c := &fakeConn{rows: []fakeRow{{vals: []any{false}}}}
	v, err := newSink(c, nil, 0).MaxValue(context.Background(), storage.TableRef{Table: "t"}, "id")
	if err != nil || !v.IsNull() {
		t.Fatalf("missing table: v=%v err=%v", v, err)
	}

	c = &fakeConn{rows: []fakeRow{{vals: []any{true}}, {vals: []any{int64(42)}}}}
	v, err = newSink(c, nil, 0).MaxValue(context.Background(), storage.TableRef{Table: "t"}, "id")
	if err != nil || v.AsInt() != 42 {
		t.Fatalf("max: v=%v err=%v", v, err)
	}
}

func TestPgDetail(t *testing.T) {
	t.Parallel()

	err := pgDetail(&pgconn.PgError{Message: "duplicate", Detail: "Key (id)=(1) exists.", Code: "23505"})
	if !strings.Contains(err.Error(), "Key (id)=(1) exists.") || !strings.Contains(err.Error(), "23505") {
		t.Fatalf("err = %v", err)
	}
	plain := errors.New("boom")
	if pgDetail(plain) != plain {
		t.Fatalf("plain errors pass through")
	}
}

func TestNewSink_InvalidDSN(t *testing.T) {
	t.Parallel()

	if _, err := NewSink(context.Background(), "postgres://host:notaport/db", 0); err == nil {
		t.Fatalf("expected dsn error")
	}
}
