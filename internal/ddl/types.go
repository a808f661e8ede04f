package ddl

import (
	"strings"

	"apiload/internal/schema"
)

// ColumnDef describes a single column in a table definition.
//
// Name is unquoted; quoting happens at render time. Default is a raw SQL
// expression.
type ColumnDef struct {
	Name       string
	SQLType    string
	Nullable   bool
	PrimaryKey bool
	Default    string
}

// TableDef holds the dotted table name and an ordered list of columns.
type TableDef struct {
	FQN     string
	Columns []ColumnDef
}

// Dialect is what a SQL backend tells the renderer about itself.
type Dialect struct {
	Name string

	// Quote quotes a single identifier segment.
	Quote func(string) string

	// Types maps scalar schema types to column types. Missing entries use
	// Text.
	Types map[schema.Type]string

	// Text is the fallback column type; Nested holds RECORD and REPEATED
	// columns, which SQL backends store as JSON text.
	Text   string
	Nested string

	// Guard, when set, wraps the CREATE TABLE statement for engines without
	// CREATE TABLE IF NOT EXISTS. It receives the quoted FQN and the plain
	// CREATE TABLE statement.
	Guard func(quotedFQN, create string) string
}

// QuoteFQN quotes each non-empty dotted segment of fqn.
func (d Dialect) QuoteFQN(fqn string) string {
	parts := strings.Split(fqn, ".")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, d.Quote(p))
	}
	return strings.Join(out, ".")
}

// QuoteAll quotes every name.
func (d Dialect) QuoteAll(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = d.Quote(n)
	}
	return out
}

// ColumnType returns the column type for one inferred field.
func (d Dialect) ColumnType(f schema.Field) string {
	if f.Type == schema.Record || f.Mode == schema.Repeated {
		if d.Nested != "" {
			return d.Nested
		}
		return d.Text
	}
	if t, ok := d.Types[f.Type]; ok {
		return t
	}
	return d.Text
}

// FromFields builds a TableDef with one nullable column per top-level field.
func FromFields(fqn string, fields []schema.Field, d Dialect) TableDef {
	td := TableDef{FQN: fqn, Columns: make([]ColumnDef, 0, len(fields))}
	for _, f := range fields {
		td.Columns = append(td.Columns, ColumnDef{
			Name:     f.Name,
			SQLType:  d.ColumnType(f),
			Nullable: true,
		})
	}
	return td
}

// DoubleQuote quotes an identifier ANSI style, doubling embedded quotes.
func DoubleQuote(id string) string { return `"` + strings.ReplaceAll(id, `"`, `""`) + `"` }

// Backtick quotes a MySQL identifier, doubling embedded backticks.
func Backtick(id string) string { return "`" + strings.ReplaceAll(id, "`", "``") + "`" }

// Bracket quotes a SQL Server identifier using [brackets], escaping ].
func Bracket(id string) string { return `[` + strings.ReplaceAll(id, `]`, `]]`) + `]` }
