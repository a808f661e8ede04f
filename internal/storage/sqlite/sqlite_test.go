package sqlite

import (
	"context"
	"testing"
	"time"

	"apiload/internal/schema"
	"apiload/internal/storage"
	"apiload/internal/storage/sqlsink"
	"apiload/internal/table"
)

func newSink(t *testing.T) *sqlsink.Sink {
	t.Helper()
	s, err := NewSink(context.Background(), ":memory:", 2)
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func count(t *testing.T, s *sqlsink.Sink, name string) int {
	t.Helper()
	var n int
	if err := s.DB().QueryRow(`SELECT COUNT(*) FROM "` + name + `"`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

var fields = []schema.Field{
	{Name: "id", Type: schema.String, Mode: schema.Nullable},
	{Name: "n", Type: schema.Integer, Mode: schema.Nullable},
}

func dataset(t *testing.T, rows ...[]table.Value) *table.Dataset {
	t.Helper()
	ds, err := table.FromRows([]string{"id", "n"}, rows)
	if err != nil {
		t.Fatal(err)
	}
	return ds
}

func TestSink_Lifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newSink(t)
	ref := storage.TableRef{Dataset: "raw", Table: "events"}

	if v, err := s.MaxValue(ctx, ref, "n"); err != nil || !v.IsNull() {
		t.Fatalf("MaxValue before create = %#v, %v", v, err)
	}
	if err := s.EnsureTable(ctx, ref, fields); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}
	if err := s.EnsureTable(ctx, ref, fields); err != nil {
		t.Fatalf("EnsureTable is not idempotent: %v", err)
	}

	ds := dataset(t,
		[]table.Value{table.String("a"), table.Int(1)},
		[]table.Value{table.String("b"), table.Int(5)},
		[]table.Value{table.String("c"), table.Null()},
	)
	n, err := s.Write(ctx, ref, ds, fields, storage.WriteAppend)
	if err != nil || n != 3 {
		t.Fatalf("Write = %d, %v", n, err)
	}
	if got := count(t, s, "events"); got != 3 {
		t.Fatalf("rows = %d, want 3", got)
	}

	max, err := s.MaxValue(ctx, ref, "n")
	if err != nil || max.AsInt() != 5 {
		t.Fatalf("MaxValue = %#v, %v", max, err)
	}

	if err := s.DeleteWhere(ctx, ref, storage.Predicate{Column: "id", Values: []table.Value{table.String("a"), table.String("c"), table.String("zz")}}); err != nil {
		t.Fatalf("DeleteWhere: %v", err)
	}
	if got := count(t, s, "events"); got != 1 {
		t.Fatalf("rows after delete = %d, want 1", got)
	}

	if _, err := s.Write(ctx, ref, ds, fields, storage.WriteReplace); err != nil {
		t.Fatalf("Write replace: %v", err)
	}
	if got := count(t, s, "events"); got != 3 {
		t.Fatalf("rows after replace = %d, want 3", got)
	}

	if err := s.Truncate(ctx, ref); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	if got := count(t, s, "events"); got != 0 {
		t.Fatalf("rows after truncate = %d", got)
	}
}

func TestSink_WriterDedup(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newSink(t)
	ref := storage.TableRef{Table: "orders"}
	w := storage.Writer{Sink: s}
	policy := storage.Policy{Mode: storage.Append, DedupField: "id"}

	first := dataset(t,
		[]table.Value{table.String("1"), table.Int(1)},
		[]table.Value{table.String("2"), table.Int(1)},
	)
	if _, err := w.Write(ctx, first, ref, policy, fields); err != nil {
		t.Fatalf("first write: %v", err)
	}
	second := dataset(t,
		[]table.Value{table.String("2"), table.Int(2)},
		[]table.Value{table.String("3"), table.Int(2)},
	)
	if _, err := w.Write(ctx, second, ref, policy, fields); err != nil {
		t.Fatalf("second write: %v", err)
	}
	if got := count(t, s, "orders"); got != 3 {
		t.Fatalf("rows = %d, want 3 (ids 1, 2, 3)", got)
	}
	var n int
	if err := s.DB().QueryRow(`SELECT n FROM "orders" WHERE id = '2'`).Scan(&n); err != nil || n != 2 {
		t.Fatalf("id 2 has n=%d (%v), want the newer row", n, err)
	}
}

func TestRegistered(t *testing.T) {
	t.Parallel()

	s, err := storage.New(context.Background(), storage.Config{Kind: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	_ = s.Close()

	if _, err := storage.New(context.Background(), storage.Config{Kind: "sqlite"}); err == nil {
		t.Fatalf("expected error for empty DSN")
	}
}

func TestWriter_DedupOnTypedColumns(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newSink(t)
	ref := storage.TableRef{Table: "activities"}
	typed := []schema.Field{
		{Name: "start_date", Type: schema.Timestamp, Mode: schema.Nullable},
		{Name: "private", Type: schema.Boolean, Mode: schema.Nullable},
		{Name: "n", Type: schema.Integer, Mode: schema.Nullable},
	}
	start := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	batch := func(at time.Time, n int64) *table.Dataset {
		ds, err := table.FromRows([]string{"start_date", "private", "n"}, [][]table.Value{
			{table.Timestamp(at), table.Bool(true), table.Int(n)},
		})
		if err != nil {
			t.Fatal(err)
		}
		return ds
	}
	w := storage.Writer{Sink: s}

	tests := []struct {
		name  string
		dedup string
		ds    *table.Dataset
	}{
		{"first load", "start_date", batch(start, 1)},
		{"same instant in another zone", "start_date", batch(start.In(time.FixedZone("BRT", -3*3600)), 2)},
		{"boolean key", "private", batch(start, 3)},
	}
	for _, tt := range tests {
		policy := storage.Policy{Mode: storage.Append, DedupField: tt.dedup}
		if _, err := w.Write(ctx, tt.ds, ref, policy, typed); err != nil {
			t.Fatalf("%s: Write: %v", tt.name, err)
		}
		if got := count(t, s, "activities"); got != 1 {
			t.Fatalf("%s: rows = %d, want 1", tt.name, got)
		}
	}
	var n int64
	if err := s.DB().QueryRow(`SELECT "n" FROM "activities"`).Scan(&n); err != nil || n != 3 {
		t.Fatalf("surviving row n = %d, %v; want the last load", n, err)
	}
}
