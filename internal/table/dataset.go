package table

import (
	"fmt"
	"sort"
)

// Column is a named, ordered sequence of cells.
type Column struct {
	Name   string
	Values []Value
}

// Dataset is an ordered collection of columns of equal length.
type Dataset struct {
	cols  []Column
	index map[string]int
	rows  int
}

// New returns an empty dataset with the given column names.
func New(names ...string) *Dataset {
	d := &Dataset{index: make(map[string]int, len(names))}
	for _, n := range names {
		d.addColumn(n, nil)
	}
	return d
}

// FromRows builds a dataset from row-major cells. Every row must have exactly
// len(names) cells.
func FromRows(names []string, rows [][]Value) (*Dataset, error) {
	d := New(names...)
	if len(d.cols) != len(names) {
		return nil, fmt.Errorf("table: duplicate column names in %v", names)
	}
	for i, r := range rows {
		if err := d.AppendRow(r); err != nil {
			return nil, fmt.Errorf("table: row %d: %w", i, err)
		}
	}
	return d, nil
}

// FromRecords builds a dataset from mappings. Columns are the union of keys
// in first-seen order; keys absent from a record yield null cells.
func FromRecords(recs []*Map) *Dataset {
	d := New()
	for _, r := range recs {
		for _, k := range r.Keys() {
			if _, ok := d.index[k]; !ok {
				d.addColumn(k, make([]Value, d.rows))
			}
		}
		for i := range d.cols {
			v, _ := r.Get(d.cols[i].Name)
			d.cols[i].Values = append(d.cols[i].Values, v)
		}
		d.rows++
	}
	return d
}

func (d *Dataset) addColumn(name string, vals []Value) {
	if _, ok := d.index[name]; ok {
		return
	}
	d.index[name] = len(d.cols)
	d.cols = append(d.cols, Column{Name: name, Values: vals})
}

// Len returns the number of rows.
func (d *Dataset) Len() int { return d.rows }

// Width returns the number of columns.
func (d *Dataset) Width() int { return len(d.cols) }

// Columns returns the column names in order.
func (d *Dataset) Columns() []string {
	out := make([]string, len(d.cols))
	for i, c := range d.cols {
		out[i] = c.Name
	}
	return out
}

// ColumnAt returns the i-th column. The returned Values slice is shared with
// the dataset.
func (d *Dataset) ColumnAt(i int) Column { return d.cols[i] }

// Column returns the cells of the named column.
func (d *Dataset) Column(name string) ([]Value, bool) {
	i, ok := d.index[name]
	if !ok {
		return nil, false
	}
	return d.cols[i].Values, true
}

// Row returns a copy of the cells of row i in column order.
func (d *Dataset) Row(i int) []Value {
	out := make([]Value, len(d.cols))
	for j, c := range d.cols {
		out[j] = c.Values[i]
	}
	return out
}

// AppendRow appends one row; len(vals) must equal Width.
func (d *Dataset) AppendRow(vals []Value) error {
	if len(vals) != len(d.cols) {
		return fmt.Errorf("table: row has %d cells, want %d", len(vals), len(d.cols))
	}
	for i := range d.cols {
		d.cols[i].Values = append(d.cols[i].Values, vals[i])
	}
	d.rows++
	return nil
}

// SetColumn replaces the named column, or appends it when absent. The value
// count must match the row count unless the dataset has no columns yet.
func (d *Dataset) SetColumn(name string, vals []Value) error {
	if len(d.cols) > 0 && len(vals) != d.rows {
		return fmt.Errorf("table: column %q has %d values, want %d", name, len(vals), d.rows)
	}
	if i, ok := d.index[name]; ok {
		d.cols[i].Values = vals
		return nil
	}
	if len(d.cols) == 0 {
		d.rows = len(vals)
	}
	d.addColumn(name, vals)
	return nil
}

// Fill sets the named column to v on every row.
func (d *Dataset) Fill(name string, v Value) error {
	vals := make([]Value, d.rows)
	for i := range vals {
		vals[i] = v
	}
	return d.SetColumn(name, vals)
}

// Rename replaces all column names. Names must stay unique.
func (d *Dataset) Rename(names []string) error {
	if len(names) != len(d.cols) {
		return fmt.Errorf("table: rename got %d names for %d columns", len(names), len(d.cols))
	}
	idx := make(map[string]int, len(names))
	for i, n := range names {
		if _, dup := idx[n]; dup {
			return fmt.Errorf("table: rename produces duplicate column %q", n)
		}
		idx[n] = i
	}
	for i := range d.cols {
		d.cols[i].Name = names[i]
	}
	d.index = idx
	return nil
}

// Stringify casts every cell to its text form. Nulls become "".
func (d *Dataset) Stringify() {
	for i := range d.cols {
		for j, v := range d.cols[i].Values {
			if v.kind != KindString {
				d.cols[i].Values[j] = String(v.Text())
			}
		}
	}
}

// Validate checks that every column has Len() cells.
func (d *Dataset) Validate() error {
	for _, c := range d.cols {
		if len(c.Values) != d.rows {
			return fmt.Errorf("table: column %q has %d values, want %d", c.Name, len(c.Values), d.rows)
		}
	}
	return nil
}

// Distinct returns the distinct non-null values of the named column in
// first-seen order. Cells keep their kind, so 1 and "1" are distinct.
func (d *Dataset) Distinct(name string) ([]Value, error) {
	vals, ok := d.Column(name)
	if !ok {
		return nil, fmt.Errorf("table: unknown column %q", name)
	}
	type key struct {
		kind Kind
		text string
	}
	seen := make(map[key]struct{}, len(vals))
	out := make([]Value, 0, len(vals))
	for _, v := range vals {
		if v.IsNull() {
			continue
		}
		// Text is canonical per kind: timestamps render in UTC and maps
		// with sorted keys.
		k := key{v.kind, v.Text()}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, v)
	}
	return out, nil
}

// Concat stacks datasets vertically. The result has the union of columns in
// first-seen order; cells missing from a part are null.
func Concat(parts ...*Dataset) *Dataset {
	out := New()
	for _, p := range parts {
		if p == nil {
			continue
		}
		for _, c := range p.cols {
			if _, ok := out.index[c.Name]; !ok {
				out.addColumn(c.Name, make([]Value, out.rows))
			}
		}
		for i := range out.cols {
			if vals, ok := p.Column(out.cols[i].Name); ok {
				out.cols[i].Values = append(out.cols[i].Values, vals...)
			} else {
				out.cols[i].Values = append(out.cols[i].Values, make([]Value, p.rows)...)
			}
		}
		out.rows += p.rows
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
