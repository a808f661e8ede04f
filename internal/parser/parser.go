// Package parser selects the payload parser for a pipeline.
package parser

import (
	"fmt"
	"io"

	"apiload/internal/config"
	"apiload/internal/parser/csv"
	"apiload/internal/parser/json"
	"apiload/internal/table"
)

// Parser turns one payload into a dataset.
type Parser interface {
	Parse(r io.Reader) (*table.Dataset, error)
}

// New returns the parser named by cfg.Kind ("csv" when empty).
func New(cfg config.Parser) (Parser, error) {
	switch cfg.Kind {
	case "", "csv":
		return csv.NewParser(csv.FromConfigOptions(cfg.Options)), nil
	case "json":
		return json.NewParser(json.FromConfigOptions(cfg.Options)), nil
	}
	return nil, fmt.Errorf("parser: unsupported kind %q", cfg.Kind)
}
