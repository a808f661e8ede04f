package storage

import (
	"context"
	"fmt"
	"log"
	"time"

	"apiload/internal/failure"
	"apiload/internal/schema"
	"apiload/internal/table"
)

// Writer applies a write policy to a Sink.
type Writer struct {
	Sink Sink

	// DryRun skips every sink side effect and reports the rows that would
	// have been written.
	DryRun bool
}

// Write lands ds in target according to policy:
//
//   - Full: ensure the table, truncate it once, then append every row.
//   - Append with DedupField: ensure the table, delete the target rows whose
//     DedupField equals any distinct value present in ds (one DeleteWhere),
//     then append.
//   - Append: ensure the table and append.
//
// It returns the number of rows written. Sink errors are tagged
// failure.KindSink; rows already written are not rolled back.
func (w Writer) Write(ctx context.Context, ds *table.Dataset, target TableRef, policy Policy, fields []schema.Field) (int64, error) {
	if err := policy.Validate(); err != nil {
		return 0, failure.Config("write policy", err)
	}
	if err := ds.Validate(); err != nil {
		return 0, failure.Sink("write", err)
	}

	var pred *Predicate
	if policy.Mode == Append && policy.DedupField != "" {
		vals, err := ds.Distinct(policy.DedupField)
		if err != nil {
			return 0, failure.Config("dedup_field", err)
		}
		pred = &Predicate{Column: policy.DedupField, Values: vals}
	}

	if w.DryRun {
		log.Printf("sink: dry run, skipping %s write of %d rows to %s", policy, ds.Len(), target)
		return int64(ds.Len()), nil
	}

	if err := w.Sink.EnsureTable(ctx, target, fields); err != nil {
		return 0, failure.Sink("ensure table "+target.String(), err)
	}

	switch {
	case policy.Mode == Full:
		if err := w.Sink.Truncate(ctx, target); err != nil {
			return 0, failure.Sink("truncate "+target.String(), err)
		}
		log.Printf("sink: truncated %s", target)
	case pred != nil && len(pred.Values) > 0:
		if err := w.Sink.DeleteWhere(ctx, target, *pred); err != nil {
			return 0, failure.Sink("delete "+target.String(), err)
		}
		log.Printf("sink: deleted rows of %s where %s in %d values", target, pred.Column, len(pred.Values))
	}

	if ds.Len() == 0 {
		return 0, nil
	}
	start := time.Now()
	n, err := w.Sink.Write(ctx, target, ds, fields, WriteAppend)
	if err != nil {
		return n, failure.Sink(fmt.Sprintf("write %s", target), err)
	}
	log.Printf("sink: wrote %d rows to %s in %s", n, target, time.Since(start).Round(time.Millisecond))
	return n, nil
}
