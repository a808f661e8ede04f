package transformer

import (
	"context"
	"strings"

	"golang.org/x/text/unicode/norm"

	"apiload/internal/table"
)

// spaceFixer maps no-break spaces, raw or double-encoded, to plain spaces.
var spaceFixer = strings.NewReplacer("Â\u00a0", " ", "\u00a0", " ")

// TrimText trims surrounding whitespace from every text cell, turns no-break
// spaces into plain spaces and folds the text to NFC. Other kinds are left
// alone.
func TrimText() Func {
	return func(_ context.Context, ds *table.Dataset) (*table.Dataset, error) {
		for i := 0; i < ds.Width(); i++ {
			col := ds.ColumnAt(i)
			vals := make([]table.Value, len(col.Values))
			for j, v := range col.Values {
				if v.Kind() == table.KindString {
					v = table.String(norm.NFC.String(strings.TrimSpace(spaceFixer.Replace(v.AsString()))))
				}
				vals[j] = v
			}
			if err := ds.SetColumn(col.Name, vals); err != nil {
				return nil, err
			}
		}
		return ds, nil
	}
}

// DropColumns removes the named columns. Unknown names are ignored.
func DropColumns(names ...string) Func {
	drop := make(map[string]struct{}, len(names))
	for _, n := range names {
		drop[n] = struct{}{}
	}
	return func(_ context.Context, ds *table.Dataset) (*table.Dataset, error) {
		var keep []string
		for _, c := range ds.Columns() {
			if _, ok := drop[c]; !ok {
				keep = append(keep, c)
			}
		}
		if len(keep) == ds.Width() {
			return ds, nil
		}
		rows := make([][]table.Value, ds.Len())
		for r := range rows {
			row := make([]table.Value, 0, len(keep))
			for _, c := range keep {
				vals, _ := ds.Column(c)
				row = append(row, vals[r])
			}
			rows[r] = row
		}
		return table.FromRows(keep, rows)
	}
}
