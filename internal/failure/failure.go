// Package failure classifies run errors into a small taxonomy and turns them
// into structured records for the error log table.
//
// Kinds:
//
//	decode  - a response body could not be decoded (bad JSON/CSV/UTF-8)
//	http    - transport failure or non-2xx status
//	sink    - truncate/delete/write failure at the warehouse
//	config  - missing or invalid configuration
//	schema  - schema inference could not type a column
//	unknown - anything else
package failure

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
)

// Kind is an error category.
type Kind string

const (
	KindDecode  Kind = "decode"
	KindHTTP    Kind = "http"
	KindSink    Kind = "sink"
	KindConfig  Kind = "config"
	KindSchema  Kind = "schema"
	KindUnknown Kind = "unknown"
)

// Description returns the human-readable label stored in the error log.
func (k Kind) Description() string {
	switch k {
	case KindDecode:
		return "response decoding error"
	case KindHTTP:
		return "HTTP request error"
	case KindSink:
		return "warehouse sink error"
	case KindConfig:
		return "configuration error"
	case KindSchema:
		return "schema inference error"
	default:
		return "unknown error"
	}
}

// Error attaches a Kind and the failing operation to a cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap returns err tagged with kind and op. A nil err stays nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Decode, HTTP, Sink, Config and Schema are shorthands for Wrap.
func Decode(op string, err error) error { return Wrap(KindDecode, op, err) }
func HTTP(op string, err error) error   { return Wrap(KindHTTP, op, err) }
func Sink(op string, err error) error   { return Wrap(KindSink, op, err) }
func Config(op string, err error) error { return Wrap(KindConfig, op, err) }
func Schema(op string, err error) error { return Wrap(KindSchema, op, err) }

// KindOf classifies err. Explicitly tagged errors win (outermost first);
// otherwise well-known standard library error types are recognized.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}

	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
		csvErr    *csv.ParseError
		urlErr    *url.Error
		netErr    net.Error
	)
	switch {
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr), errors.As(err, &csvErr):
		return KindDecode
	case errors.As(err, &urlErr), errors.As(err, &netErr), errors.Is(err, context.DeadlineExceeded):
		return KindHTTP
	default:
		return KindUnknown
	}
}

// Is reports whether err classifies as kind.
func Is(err error, kind Kind) bool { return KindOf(err) == kind }
