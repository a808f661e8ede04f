package schema

import (
	"errors"
	"fmt"

	"apiload/internal/table"
)

// ErrUnknownKind is returned when a cell kind has no schema mapping. It
// replaces the silent "field without a type" outcome: callers see an error
// instead of a schema the sink would reject later.
var ErrUnknownKind = errors.New("schema: unknown value kind")

// maxDepth bounds recursion into nested mappings.
const maxDepth = 32

// Infer derives one Field per dataset column, in column order.
//
// For every column the first row is the representative sample. Sequence
// samples make the field REPEATED (an empty first sequence is replaced by the
// first non-empty one in the column). Mapping samples, or sequences of
// mappings, are flattened into a sub-table whose columns are the mapping keys
// and inferred recursively into a RECORD. Everything else maps the column's
// storage kind onto a primitive type.
func Infer(ds *table.Dataset) ([]Field, error) {
	return infer(ds, 0)
}

func infer(ds *table.Dataset, depth int) ([]Field, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("schema: nesting deeper than %d levels", maxDepth)
	}
	if err := ds.Validate(); err != nil {
		return nil, err
	}

	fields := make([]Field, 0, ds.Width())
	for i := 0; i < ds.Width(); i++ {
		f, err := inferColumn(ds.ColumnAt(i), depth)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return fields, nil
}

func inferColumn(col table.Column, depth int) (Field, error) {
	f := Field{Name: col.Name, Mode: Nullable}

	var sample table.Value
	if len(col.Values) > 0 {
		sample = col.Values[0]
	}

	if sample.Kind() == table.KindSeq {
		f.Mode = Repeated
		if len(sample.AsSeq()) == 0 {
			for _, v := range col.Values {
				if len(v.AsSeq()) > 0 {
					sample = v
					break
				}
			}
		}
	}

	if sub := subTable(sample); sub != nil {
		children, err := infer(sub, depth+1)
		if err != nil {
			return Field{}, fmt.Errorf("schema: column %q: %w", col.Name, err)
		}
		if len(children) > 0 {
			f.Type = Record
			f.Fields = children
			return f, nil
		}
	}

	var (
		t   Type
		err error
	)
	if f.Mode == Repeated {
		t, err = primitiveType(elements(col.Values))
	} else {
		t, err = primitiveType(col.Values)
	}
	if err != nil {
		return Field{}, fmt.Errorf("schema: column %q: %w", col.Name, err)
	}
	f.Type = t
	return f, nil
}

// subTable flattens a mapping sample (one row) or a sequence of mappings
// (one row per mapping element) into a dataset. It returns nil when the
// sample is not nested.
func subTable(sample table.Value) *table.Dataset {
	switch sample.Kind() {
	case table.KindMap:
		return table.FromRecords([]*table.Map{sample.AsMap()})
	case table.KindSeq:
		elems := sample.AsSeq()
		if len(elems) == 0 || elems[0].Kind() != table.KindMap {
			return nil
		}
		recs := make([]*table.Map, 0, len(elems))
		for _, e := range elems {
			if m := e.AsMap(); m != nil {
				recs = append(recs, m)
			}
		}
		return table.FromRecords(recs)
	default:
		return nil
	}
}

func elements(vals []table.Value) []table.Value {
	var out []table.Value
	for _, v := range vals {
		out = append(out, v.AsSeq()...)
	}
	return out
}

// primitiveType maps the coarse storage kind of a set of cells onto a Type.
// Nulls are ignored; an all-null column is STRING.
func primitiveType(vals []table.Value) (Type, error) {
	var seen [table.KindMap + 1]bool
	n := 0
	for _, v := range vals {
		switch k := v.Kind(); k {
		case table.KindNull:
			continue
		case table.KindInt, table.KindUint, table.KindFloat, table.KindBool,
			table.KindString, table.KindTimestamp, table.KindSeq, table.KindMap:
			if !seen[k] {
				seen[k] = true
				n++
			}
		default:
			return "", fmt.Errorf("%w: %v", ErrUnknownKind, k)
		}
	}

	numeric := seen[table.KindInt] || seen[table.KindUint] || seen[table.KindFloat]
	onlyNumeric := numeric && n == count(seen[table.KindInt], seen[table.KindUint], seen[table.KindFloat])

	switch {
	case n == 0:
		return String, nil
	case onlyNumeric && seen[table.KindFloat]:
		return Float, nil
	case onlyNumeric && seen[table.KindUint]:
		return Numeric, nil
	case onlyNumeric:
		return Integer, nil
	case n == 1 && seen[table.KindBool]:
		return Boolean, nil
	case n == 1 && seen[table.KindTimestamp]:
		return Timestamp, nil
	default:
		return String, nil
	}
}

func count(bs ...bool) int {
	n := 0
	for _, b := range bs {
		if b {
			n++
		}
	}
	return n
}
