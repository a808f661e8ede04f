// Package storage holds the warehouse contracts of a load run: the Sink
// interface implemented by every backend, the write policy and the Writer
// that applies it, plus the backend factory.
//
// Backends live in subpackages and register themselves at init time; import
// apiload/internal/storage/all to enable every built-in backend.
package storage

import (
	"context"
	"fmt"
	"strings"

	"apiload/internal/schema"
	"apiload/internal/table"
)

// TableRef addresses one warehouse table. SQL backends map Dataset onto a
// schema or database; BigQuery uses all three parts.
type TableRef struct {
	Project string
	Dataset string
	Table   string
}

// ParseTableRef parses "table", "dataset.table" or "project.dataset.table".
// A missing project is taken from defaultProject.
func ParseTableRef(s, defaultProject string) (TableRef, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	for _, p := range parts {
		if p == "" {
			return TableRef{}, fmt.Errorf("storage: invalid table reference %q", s)
		}
	}
	switch len(parts) {
	case 1:
		return TableRef{Project: defaultProject, Table: parts[0]}, nil
	case 2:
		return TableRef{Project: defaultProject, Dataset: parts[0], Table: parts[1]}, nil
	case 3:
		return TableRef{Project: parts[0], Dataset: parts[1], Table: parts[2]}, nil
	}
	return TableRef{}, fmt.Errorf("storage: invalid table reference %q", s)
}

// Name is "dataset.table", or just the table when Dataset is empty.
func (t TableRef) Name() string {
	if t.Dataset == "" {
		return t.Table
	}
	return t.Dataset + "." + t.Table
}

func (t TableRef) String() string {
	if t.Project == "" {
		return t.Name()
	}
	return t.Project + "." + t.Name()
}

// Predicate selects rows whose Column equals any of Values. Backends bind
// each value with its kind, so typed columns compare natively.
type Predicate struct {
	Column string
	Values []table.Value
}

// WriteMode is how Sink.Write treats existing rows.
type WriteMode int

const (
	// WriteAppend keeps existing rows.
	WriteAppend WriteMode = iota
	// WriteReplace replaces the table contents with the written rows.
	WriteReplace
)

func (m WriteMode) String() string {
	if m == WriteReplace {
		return "replace"
	}
	return "append"
}

// Sink is a warehouse table store.
type Sink interface {
	// EnsureTable creates the table from fields when it does not exist.
	EnsureTable(ctx context.Context, t TableRef, fields []schema.Field) error

	// Truncate removes every row of t.
	Truncate(ctx context.Context, t TableRef) error

	// DeleteWhere removes the rows of t matching p.
	DeleteWhere(ctx context.Context, t TableRef, p Predicate) error

	// Write stores all rows of ds and returns how many were written.
	Write(ctx context.Context, t TableRef, ds *table.Dataset, fields []schema.Field, mode WriteMode) (int64, error)

	// MaxValue returns the highest value of column in t, or a null Value when
	// the table does not exist or is empty.
	MaxValue(ctx context.Context, t TableRef, column string) (table.Value, error)

	Close() error
}
