// Package schema derives a warehouse schema (a tree of fields) from a
// tabular dataset by sampling representative values per column.
package schema

import (
	"fmt"
	"strings"
)

// Type is the primitive type of a field, spelled the way BigQuery does.
type Type string

const (
	Integer   Type = "INTEGER"
	Numeric   Type = "NUMERIC"
	Boolean   Type = "BOOLEAN"
	Float     Type = "FLOAT"
	String    Type = "STRING"
	Timestamp Type = "TIMESTAMP"
	Record    Type = "RECORD"
)

// Mode is the cardinality of a field.
type Mode string

const (
	Nullable Mode = "NULLABLE"
	Repeated Mode = "REPEATED"
)

// Field is one node of the inferred schema tree. A field is RECORD iff it
// has children.
type Field struct {
	Name   string
	Type   Type
	Mode   Mode
	Fields []Field
}

// String renders the field compactly, e.g. "tags REPEATED STRING" or
// "map NULLABLE RECORD<id INTEGER, polyline STRING>".
func (f Field) String() string {
	var sb strings.Builder
	sb.WriteString(f.Name)
	sb.WriteByte(' ')
	sb.WriteString(string(f.Mode))
	sb.WriteByte(' ')
	sb.WriteString(string(f.Type))
	if len(f.Fields) > 0 {
		sb.WriteByte('<')
		for i, c := range f.Fields {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(c.String())
		}
		sb.WriteByte('>')
	}
	return sb.String()
}

// Validate checks the RECORD iff children invariant over the whole tree.
func Validate(fields []Field) error {
	for _, f := range fields {
		if (f.Type == Record) != (len(f.Fields) > 0) {
			return fmt.Errorf("schema: field %q: type %s with %d children", f.Name, f.Type, len(f.Fields))
		}
		if err := Validate(f.Fields); err != nil {
			return fmt.Errorf("schema: in %q: %w", f.Name, err)
		}
	}
	return nil
}
