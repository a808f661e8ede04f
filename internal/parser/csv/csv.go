// Package csv parses delimited text payloads into a table.Dataset. The first
// record is the header; every cell is kept as text and empty cells become
// nulls.
package csv

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"apiload/internal/config"
	"apiload/internal/table"
)

// Options configures the CSV parser. All fields are optional.
type Options struct {
	// Comma specifies the field delimiter. When zero, ',' is used.
	Comma rune

	// TrimSpace trims leading/trailing spaces from each field value.
	TrimSpace bool

	// LazyQuotes relaxes quote handling for sources that emit bare quotes
	// inside unquoted fields.
	LazyQuotes bool
}

// FromConfigOptions reads comma, trim_space and lazy_quotes.
func FromConfigOptions(o config.Options) Options {
	return Options{
		Comma:      o.Rune("comma", ','),
		TrimSpace:  o.Bool("trim_space", false),
		LazyQuotes: o.Bool("lazy_quotes", false),
	}
}

// Parser parses CSV input according to Options. It is safe to reuse across
// inputs.
type Parser struct{ opt Options }

// NewParser constructs a Parser with the provided Options.
func NewParser(opt Options) *Parser { return &Parser{opt: opt} }

// utf8BOM is stripped from the first header cell if present.
const utf8BOM = "\uFEFF"

// ErrNoHeader is returned for an empty payload.
var ErrNoHeader = errors.New("csv: payload has no header row")

// Parse reads all of r. Rows shorter than the header are padded with nulls;
// rows longer than the header are an error, as are malformed quotes.
func (p *Parser) Parse(r io.Reader) (*table.Dataset, error) {
	cr := csv.NewReader(r)
	if p.opt.Comma != 0 {
		cr.Comma = p.opt.Comma
	}
	cr.LazyQuotes = p.opt.LazyQuotes
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	h, err := cr.Read()
	if err == io.EOF {
		return nil, ErrNoHeader
	}
	if err != nil {
		return nil, fmt.Errorf("csv: read header: %w", err)
	}
	headers := normalizeHeaders(h)
	ds := table.New(headers...)
	if ds.Width() != len(headers) {
		return nil, fmt.Errorf("csv: duplicate column names in header %q", headers)
	}

	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv: %w", err)
		}
		if len(rec) > len(headers) {
			line, _ := cr.FieldPos(0)
			return nil, &csv.ParseError{StartLine: line, Line: line, Err: csv.ErrFieldCount}
		}
		row := make([]table.Value, len(headers))
		for i, val := range rec {
			if p.opt.TrimSpace {
				val = strings.TrimSpace(val)
			}
			row[i] = emptyToNull(val)
		}
		if err := ds.AppendRow(row); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

// ParseString is Parse over an in-memory payload.
func (p *Parser) ParseString(s string) (*table.Dataset, error) {
	return p.Parse(strings.NewReader(s))
}

func emptyToNull(s string) table.Value {
	if s == "" {
		return table.Null()
	}
	return table.String(s)
}

// normalizeHeaders trims header cells and strips a UTF-8 BOM from the first.
// Renaming to canonical column names happens later in the loader.
func normalizeHeaders(h []string) []string {
	res := make([]string, len(h))
	for i, col := range h {
		c := col
		if i == 0 {
			c = strings.TrimPrefix(c, utf8BOM)
		}
		res[i] = strings.TrimSpace(c)
	}
	return res
}
