package schema

import (
	"reflect"
	"testing"
	"time"

	"apiload/internal/table"
)

func mapOf(kv ...any) table.Value {
	m := table.NewMap()
	for i := 0; i < len(kv); i += 2 {
		m.Set(kv[i].(string), kv[i+1].(table.Value))
	}
	return table.MapOf(m)
}

func mustRows(t *testing.T, names []string, rows ...[]table.Value) *table.Dataset {
	t.Helper()
	ds, err := table.FromRows(names, rows)
	if err != nil {
		t.Fatalf("FromRows: %v", err)
	}
	return ds
}

func TestInfer_PrimitivesInColumnOrder(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	ds := mustRows(t,
		[]string{"id", "big", "ok", "ratio", "name", "at", "mixed", "empty"},
		[]table.Value{table.Int(1), table.Uint(1 << 63), table.Bool(true), table.Float(0.5), table.String("a"), table.Timestamp(ts), table.Int(1), table.Null()},
		[]table.Value{table.Int(2), table.Uint(2), table.Bool(false), table.Int(3), table.String("b"), table.Timestamp(ts), table.String("x"), table.Null()},
	)

	got, err := Infer(ds)
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	want := []Field{
		{Name: "id", Type: Integer, Mode: Nullable},
		{Name: "big", Type: Numeric, Mode: Nullable},
		{Name: "ok", Type: Boolean, Mode: Nullable},
		{Name: "ratio", Type: Float, Mode: Nullable},
		{Name: "name", Type: String, Mode: Nullable},
		{Name: "at", Type: Timestamp, Mode: Nullable},
		{Name: "mixed", Type: String, Mode: Nullable},
		{Name: "empty", Type: String, Mode: Nullable},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Infer =\n%v\nwant\n%v", got, want)
	}
}

func TestInfer_OneFieldPerColumn(t *testing.T) {
	t.Parallel()

	ds := mustRows(t, []string{"c", "b", "a"}, []table.Value{table.String("1"), table.String("2"), table.String("3")})
	ds.Stringify()
	got, err := Infer(ds)
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if len(got) != ds.Width() {
		t.Fatalf("got %d fields for %d columns", len(got), ds.Width())
	}
	for i, name := range ds.Columns() {
		if got[i].Name != name {
			t.Errorf("field %d = %q, want %q", i, got[i].Name, name)
		}
	}
}

func TestInfer_NestedRecord(t *testing.T) {
	t.Parallel()

	ds := mustRows(t, []string{"map"},
		[]table.Value{mapOf("id", table.String("a1"), "summary", mapOf("len", table.Int(10)))},
		[]table.Value{mapOf("id", table.String("a2"), "summary", mapOf("len", table.Int(12)))},
	)

	got, err := Infer(ds)
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	want := []Field{{
		Name: "map", Type: Record, Mode: Nullable,
		Fields: []Field{
			{Name: "id", Type: String, Mode: Nullable},
			{Name: "summary", Type: Record, Mode: Nullable, Fields: []Field{
				{Name: "len", Type: Integer, Mode: Nullable},
			}},
		},
	}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Infer =\n%v\nwant\n%v", got, want)
	}

	// Children equal inference over the flattened first mapping.
	first, _ := ds.Column("map")
	flat := table.FromRecords([]*table.Map{first[0].AsMap()})
	children, err := Infer(flat)
	if err != nil {
		t.Fatalf("Infer(flat): %v", err)
	}
	if !reflect.DeepEqual(got[0].Fields, children) {
		t.Fatalf("children %v != Infer(flat) %v", got[0].Fields, children)
	}
	if err := Validate(got); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestInfer_RepeatedRecordResamplesFirstNonEmpty(t *testing.T) {
	t.Parallel()

	ds := mustRows(t, []string{"laps"},
		[]table.Value{table.Seq()},
		[]table.Value{table.Seq(mapOf("n", table.Int(1), "pace", table.Float(4.5)), mapOf("n", table.Int(2)))},
	)

	got, err := Infer(ds)
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	want := []Field{{
		Name: "laps", Type: Record, Mode: Repeated,
		Fields: []Field{
			{Name: "n", Type: Integer, Mode: Nullable},
			{Name: "pace", Type: Float, Mode: Nullable},
		},
	}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Infer =\n%v\nwant\n%v", got, want)
	}
}

func TestInfer_EmptyArraysEverywhere(t *testing.T) {
	t.Parallel()

	ds := mustRows(t, []string{"tags"}, []table.Value{table.Seq()}, []table.Value{table.Seq()})
	got, err := Infer(ds)
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	want := []Field{{Name: "tags", Type: String, Mode: Repeated}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Infer = %v, want %v", got, want)
	}
	if len(got[0].Fields) != 0 {
		t.Fatalf("expected no children, got %v", got[0].Fields)
	}
}

func TestInfer_RepeatedPrimitive(t *testing.T) {
	t.Parallel()

	ds := mustRows(t, []string{"ids"}, []table.Value{table.Seq(table.Int(1), table.Int(2))})
	got, err := Infer(ds)
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if got[0].Mode != Repeated || got[0].Type != Integer {
		t.Fatalf("got %v, want ids REPEATED INTEGER", got[0])
	}
}

func TestInfer_EmptyMappingFallsBackToString(t *testing.T) {
	t.Parallel()

	ds := mustRows(t, []string{"meta"}, []table.Value{table.MapOf(nil)})
	got, err := Infer(ds)
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if got[0].Type != String || len(got[0].Fields) != 0 {
		t.Fatalf("got %v, want meta NULLABLE STRING", got[0])
	}
}

func TestInfer_EmptyDataset(t *testing.T) {
	t.Parallel()

	got, err := Infer(table.New("a", "b"))
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if len(got) != 2 || got[0].Type != String {
		t.Fatalf("got %v", got)
	}
}

func TestValidate_RecordInvariant(t *testing.T) {
	t.Parallel()

	bad := []Field{{Name: "r", Type: Record, Mode: Nullable}}
	if err := Validate(bad); err == nil {
		t.Fatalf("expected error for RECORD without children")
	}
	bad = []Field{{Name: "s", Type: String, Mode: Nullable, Fields: []Field{{Name: "x", Type: String}}}}
	if err := Validate(bad); err == nil {
		t.Fatalf("expected error for STRING with children")
	}
}

func TestField_String(t *testing.T) {
	t.Parallel()

	f := Field{Name: "map", Type: Record, Mode: Nullable, Fields: []Field{{Name: "id", Type: Integer, Mode: Nullable}}}
	if got, want := f.String(), "map NULLABLE RECORD<id NULLABLE INTEGER>"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}
