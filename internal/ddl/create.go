// Package ddl renders CREATE TABLE statements from inferred schema fields for
// the SQL backends. Each backend supplies a Dialect with its quoting, its type
// mapping and, when the engine lacks CREATE TABLE IF NOT EXISTS, a guard.
package ddl

import (
	"fmt"
	"strings"
)

// BuildCreateTableSQL renders an idempotent CREATE TABLE for t in dialect d.
//
// Rules:
//   - t.FQN must be non-empty; each dotted segment is quoted.
//   - Each column must have a non-empty Name and SQLType.
//   - A column renders as <name> <type> [NOT NULL] [DEFAULT <expr>]; primary
//     key columns are always NOT NULL.
//   - Primary key columns are collected into a trailing PRIMARY KEY clause in
//     declaration order.
func BuildCreateTableSQL(d Dialect, t TableDef) (string, error) {
	fqn := strings.TrimSpace(t.FQN)
	if fqn == "" {
		return "", fmt.Errorf("%s ddl: table FQN must not be empty", d.Name)
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("%s ddl: at least one column is required", d.Name)
	}

	cols := make([]string, 0, len(t.Columns)+1)
	var pks []string
	for _, c := range t.Columns {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return "", fmt.Errorf("%s ddl: column with empty name in table %s", d.Name, fqn)
		}
		typ := strings.TrimSpace(c.SQLType)
		if typ == "" {
			return "", fmt.Errorf("%s ddl: column %s missing SQLType", d.Name, name)
		}

		var sb strings.Builder
		sb.WriteString(d.Quote(name))
		sb.WriteByte(' ')
		sb.WriteString(typ)
		if !c.Nullable || c.PrimaryKey {
			sb.WriteString(" NOT NULL")
		}
		if def := strings.TrimSpace(c.Default); def != "" {
			sb.WriteString(" DEFAULT ")
			sb.WriteString(def)
		}
		cols = append(cols, sb.String())

		if c.PrimaryKey {
			pks = append(pks, d.Quote(name))
		}
	}
	if len(pks) > 0 {
		cols = append(cols, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(pks, ", ")))
	}

	quoted := d.QuoteFQN(fqn)
	if d.Guard != nil {
		create := fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", quoted, strings.Join(cols, ",\n  "))
		return d.Guard(quoted, create), nil
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", quoted, strings.Join(cols, ",\n  ")), nil
}
