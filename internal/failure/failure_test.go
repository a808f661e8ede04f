package failure

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"testing"
	"time"
)

func TestKindOf(t *testing.T) {
	t.Parallel()

	var syntax error
	if err := json.Unmarshal([]byte("{"), new(any)); err != nil {
		syntax = err
	}

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"tagged sink", Sink("truncate", errors.New("boom")), KindSink},
		{"tagged wrapped", fmt.Errorf("run: %w", Config("validate", errors.New("x"))), KindConfig},
		{"outermost tag wins", HTTP("fetch", Decode("body", errors.New("x"))), KindHTTP},
		{"json syntax", fmt.Errorf("parse: %w", syntax), KindDecode},
		{"url error", &url.Error{Op: "Get", URL: "http://x", Err: errors.New("refused")}, KindHTTP},
		{"plain", errors.New("what"), KindUnknown},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := KindOf(tt.err); got != tt.want {
				t.Fatalf("KindOf(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestWrapNil(t *testing.T) {
	t.Parallel()

	if err := Wrap(KindSink, "x", nil); err != nil {
		t.Fatalf("Wrap(nil) = %v, want nil", err)
	}
}

func TestErrorMessageAndUnwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("disk full")
	err := Sink("write", cause)
	if got, want := err.Error(), "sink: write: disk full"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("errors.Is failed to reach cause")
	}
}

func TestNewRecordAndDataset(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rec := NewRecord(Sink("write", errors.New("quota")), "raw.tb_x", "run-1", now)
	if rec.Kind != KindSink || rec.Description != KindSink.Description() {
		t.Fatalf("record = %+v", rec)
	}

	ds := Dataset(rec)
	if ds.Len() != 1 || ds.Width() != len(RecordColumns) {
		t.Fatalf("dataset shape = %dx%d", ds.Len(), ds.Width())
	}
	kind, _ := ds.Column("ERROR_KIND")
	if kind[0].AsString() != "sink" {
		t.Fatalf("ERROR_KIND = %q", kind[0].AsString())
	}
	target, _ := ds.Column("TARGET_TABLE")
	if target[0].AsString() != "raw.tb_x" {
		t.Fatalf("TARGET_TABLE = %q", target[0].AsString())
	}
}
