package transformer

import (
	"context"
	"strings"

	"apiload/internal/table"
)

// StripHTML drops <...> tag runs from the text cells of the named columns and
// collapses the remaining whitespace. With no names every column is cleaned.
// Missing columns are ignored.
func StripHTML(columns ...string) Func {
	return func(_ context.Context, ds *table.Dataset) (*table.Dataset, error) {
		names := columns
		if len(names) == 0 {
			names = ds.Columns()
		}
		for _, name := range names {
			vals, ok := ds.Column(name)
			if !ok {
				continue
			}
			out := make([]table.Value, len(vals))
			for i, v := range vals {
				if v.Kind() == table.KindString {
					v = table.String(collapseSpace(stripTags(v.AsString())))
				}
				out[i] = v
			}
			if err := ds.SetColumn(name, out); err != nil {
				return nil, err
			}
		}
		return ds, nil
	}
}

// stripTags is a tag scanner, not an HTML parser: '>' inside attribute
// values ends the tag early.
func stripTags(s string) string {
	if !strings.ContainsRune(s, '<') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
