// Package json turns JSON payloads into a table.Dataset.
//
// Accepted shapes:
//
//   - a top-level array of objects (one row per object)
//   - a single object (one row), or an object holding the record array at
//     Options.DataPath
//   - newline-delimited objects
//
// Object key order is preserved, so columns appear in the order the source
// emits them. Numbers become integers when they fit int64 (or uint64), floats
// otherwise.
package json

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"apiload/internal/config"
	"apiload/internal/table"
)

// Options configures the JSON parser.
type Options struct {
	// DataPath is a dotted path from the root object to the record array,
	// e.g. "data" or "result.items". Empty means the root itself.
	DataPath string
}

// FromConfigOptions reads data_path.
func FromConfigOptions(o config.Options) Options {
	return Options{DataPath: o.String("data_path", "")}
}

// Parser parses JSON input according to Options.
type Parser struct{ opt Options }

// NewParser constructs a Parser with the provided Options.
func NewParser(opt Options) *Parser { return &Parser{opt: opt} }

// Parse decodes every top-level value in r and assembles the records.
func (p *Parser) Parse(r io.Reader) (*table.Dataset, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var recs []*table.Map
	for {
		v, err := decodeValue(dec)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("json: %w", err)
		}
		if p.opt.DataPath != "" {
			if v, err = walk(v, p.opt.DataPath); err != nil {
				return nil, err
			}
		}
		got, err := records(v)
		if err != nil {
			return nil, err
		}
		recs = append(recs, got...)
	}
	return table.FromRecords(recs), nil
}

// ParseString is Parse over an in-memory payload.
func (p *Parser) ParseString(s string) (*table.Dataset, error) {
	return p.Parse(strings.NewReader(s))
}

// Records decodes a single JSON value holding one object or an array of
// objects. httpds.FetchPages uses it to find the terminating empty page.
func Records(body string) ([]*table.Map, error) {
	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		return nil, fmt.Errorf("json: %w", err)
	}
	return records(v)
}

func records(v table.Value) ([]*table.Map, error) {
	switch v.Kind() {
	case table.KindMap:
		return []*table.Map{v.AsMap()}, nil
	case table.KindSeq:
		elems := v.AsSeq()
		out := make([]*table.Map, 0, len(elems))
		for i, e := range elems {
			if e.Kind() != table.KindMap {
				return nil, fmt.Errorf("json: element %d is %s, want object", i, e.Kind())
			}
			out = append(out, e.AsMap())
		}
		return out, nil
	case table.KindNull:
		return nil, nil
	}
	return nil, fmt.Errorf("json: unsupported top-level %s", v.Kind())
}

func walk(v table.Value, path string) (table.Value, error) {
	for _, key := range strings.Split(path, ".") {
		if v.Kind() != table.KindMap {
			return table.Null(), fmt.Errorf("json: data_path %q: %q is not inside an object", path, key)
		}
		next, ok := v.AsMap().Get(key)
		if !ok {
			return table.Null(), fmt.Errorf("json: data_path %q: key %q not found", path, key)
		}
		v = next
	}
	return v, nil
}

// decodeValue reads one JSON value token by token so object keys keep their
// order. io.EOF is only returned before the first token; running out of
// input inside a value is io.ErrUnexpectedEOF.
func decodeValue(dec *json.Decoder) (table.Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return table.Null(), err
	}
	d, ok := tok.(json.Delim)
	if !ok {
		return table.FromNative(tok), nil
	}
	switch d {
	case '{':
		m := table.NewMap()
		for dec.More() {
			kt, err := dec.Token()
			if err != nil {
				return table.Null(), unexpected(err)
			}
			key, _ := kt.(string)
			v, err := decodeValue(dec)
			if err != nil {
				return table.Null(), unexpected(err)
			}
			m.Set(key, v)
		}
		if _, err := dec.Token(); err != nil {
			return table.Null(), unexpected(err)
		}
		return table.MapOf(m), nil
	case '[':
		var elems []table.Value
		for dec.More() {
			v, err := decodeValue(dec)
			if err != nil {
				return table.Null(), unexpected(err)
			}
			elems = append(elems, v)
		}
		if _, err := dec.Token(); err != nil {
			return table.Null(), unexpected(err)
		}
		return table.Seq(elems...), nil
	}
	return table.Null(), fmt.Errorf("unexpected delimiter %q", d)
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
