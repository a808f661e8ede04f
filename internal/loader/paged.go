package loader

import (
	"context"
	"log"
	"strconv"
	"time"

	"apiload/internal/datasource/httpds"
	"apiload/internal/failure"
	"apiload/internal/table"
)

// fetchPages walks the paged endpoint starting after the highest cursor value
// already stored in the target.
func (l *Loader) fetchPages(ctx context.Context) ([]httpds.Payload, error) {
	after := "0"
	if col := l.p.Paged.CursorColumn; col != "" {
		v, err := l.sink.MaxValue(ctx, l.target, col)
		if err != nil {
			return nil, failure.Sink("cursor "+col, err)
		}
		after = cursorText(v)
		log.Printf("loader: %s resuming %s after %s=%s", l.p.Job, l.target, col, after)
	}

	return httpds.FetchPages(ctx, l.client, httpds.PageQuery{
		URL:      l.p.Paged.URL,
		Vars:     map[string]string{"after": after},
		MaxPages: l.p.Paged.MaxPages,
		Strategy: httpds.Inherit,
	}, l.cred, l.timeout)
}

// cursorText renders a stored cursor for an {after} placeholder. Timestamps,
// including RFC 3339 text, become Unix seconds; a missing value is "0".
func cursorText(v table.Value) string {
	switch v.Kind() {
	case table.KindNull:
		return "0"
	case table.KindTimestamp:
		return strconv.FormatInt(v.AsTimestamp().Unix(), 10)
	case table.KindString:
		s := v.AsString()
		if s == "" {
			return "0"
		}
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
			if t, err := time.Parse(layout, s); err == nil {
				return strconv.FormatInt(t.Unix(), 10)
			}
		}
		return s
	}
	return v.Text()
}

// flatten replaces every mapping cell of each configured column with the
// cell's value under the configured key (null when absent). Other cells are
// left alone; columns missing from ds are ignored.
func flatten(ds *table.Dataset, subkeys map[string]string) error {
	for col, key := range subkeys {
		vals, ok := ds.Column(col)
		if !ok {
			continue
		}
		out := make([]table.Value, len(vals))
		for i, v := range vals {
			if v.Kind() != table.KindMap {
				out[i] = v
				continue
			}
			sub, _ := v.AsMap().Get(key)
			out[i] = sub
		}
		if err := ds.SetColumn(col, out); err != nil {
			return err
		}
	}
	return nil
}
