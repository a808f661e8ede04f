package failure

import (
	"time"

	"apiload/internal/table"
)

// Record is one row of the error log table.
type Record struct {
	Timestamp   time.Time
	RunID       string
	Kind        Kind
	Message     string
	Description string
	TargetTable string
}

// NewRecord classifies err into a Record for target.
func NewRecord(err error, target, runID string, now time.Time) Record {
	k := KindOf(err)
	return Record{
		Timestamp:   now.UTC(),
		RunID:       runID,
		Kind:        k,
		Message:     err.Error(),
		Description: k.Description(),
		TargetTable: target,
	}
}

// RecordColumns are the error log column names. They are upper-cased to match
// the existing log tables.
var RecordColumns = []string{"TIMESTAMP", "RUN_ID", "ERROR_KIND", "MESSAGE", "DESCRIPTION", "TARGET_TABLE"}

// Dataset renders records as a dataset with RecordColumns.
func Dataset(recs ...Record) *table.Dataset {
	ds := table.New(RecordColumns...)
	for _, r := range recs {
		_ = ds.AppendRow([]table.Value{
			table.Timestamp(r.Timestamp),
			table.String(r.RunID),
			table.String(string(r.Kind)),
			table.String(r.Message),
			table.String(r.Description),
			table.String(r.TargetTable),
		})
	}
	return ds
}
