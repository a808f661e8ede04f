package loader

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"apiload/internal/failure"
	"apiload/internal/metrics"
	"apiload/internal/schema"
	"apiload/internal/storage"
)

// ErrorLog appends failure records to a warehouse table.
type ErrorLog struct {
	Sink  storage.Sink
	Table storage.TableRef
	Now   func() time.Time
}

// Record writes one record for err raised by a run against target.
func (e *ErrorLog) Record(ctx context.Context, err error, target, runID string) error {
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	ds := failure.Dataset(failure.NewRecord(err, target, runID, now()))
	fields, ierr := schema.Infer(ds)
	if ierr != nil {
		return ierr
	}
	w := storage.Writer{Sink: e.Sink}
	_, werr := w.Write(ctx, ds, e.Table, storage.Policy{Mode: storage.Append}, fields)
	return werr
}

// Status strings returned by RunJob.
const (
	StatusComplete = "Complete"
	StatusFailed   = "Failed"
)

// RunJob runs l once under a fresh run id and returns a completion status
// line. A failed run is classified, logged and, when errLog is non-nil,
// recorded in the error log table; the error itself is not returned.
func RunJob(ctx context.Context, l *Loader, errLog *ErrorLog) string {
	runID := uuid.NewString()
	log.Printf("loader: %s run %s started", l.Job(), runID)

	res, err := l.Run(ctx)
	if err == nil {
		return fmt.Sprintf("%s - %s: %d rows written to %s", l.Job(), StatusComplete, res.Written, res.Target)
	}

	kind := failure.KindOf(err)
	metrics.RecordFailure(l.Job(), string(kind))
	log.Printf("loader: %s run %s failed (%s): %v", l.Job(), runID, kind, err)
	if errLog != nil {
		if lerr := errLog.Record(ctx, err, l.Target().String(), runID); lerr != nil {
			log.Printf("loader: %s run %s: error log write failed: %v", l.Job(), runID, lerr)
		}
	}
	return fmt.Sprintf("%s - %s (%s): %v", l.Job(), StatusFailed, kind, err)
}
