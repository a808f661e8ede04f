// Package transformer holds composable dataset hooks run between column
// renaming and schema inference. Every hook keeps the row count.
package transformer

import (
	"context"

	"apiload/internal/table"
)

// Func rewrites a dataset in place or returns a new one with the same rows.
type Func func(ctx context.Context, ds *table.Dataset) (*table.Dataset, error)

// Chain runs fns in order. Nil entries are skipped.
func Chain(fns ...Func) Func {
	return func(ctx context.Context, ds *table.Dataset) (*table.Dataset, error) {
		out := ds
		for _, fn := range fns {
			if fn == nil {
				continue
			}
			var err error
			if out, err = fn(ctx, out); err != nil {
				return nil, err
			}
		}
		return out, nil
	}
}
