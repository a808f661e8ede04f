package storage

import (
	"context"
	"fmt"
	"log"
	"math"
	"strconv"
	"time"

	"apiload/internal/table"
)

// CopyFn abstracts a backend's bulk insert. It inserts rows aligned to
// columns and returns how many rows were inserted. It is called repeatedly
// and must return promptly when ctx is done.
type CopyFn func(ctx context.Context, columns []string, rows [][]any) (int64, error)

// LoadBatches drains rows from in, groups them into batches of batchSize and
// calls copyFn for each non-empty batch. It returns the total reported by
// copyFn and the first error.
//
// Cancellation returns (total, ctx.Err()). Progress is logged per batch.
func LoadBatches(
	ctx context.Context,
	columns []string,
	in <-chan []any,
	batchSize int,
	copyFn CopyFn,
) (int64, error) {
	if batchSize <= 0 {
		return 0, fmt.Errorf("storage: batchSize must be > 0")
	}
	if copyFn == nil {
		return 0, fmt.Errorf("storage: copyFn must not be nil")
	}

	var (
		total   int64
		batches int
		batch   = make([][]any, 0, min(batchSize, 4096))
		start   = time.Now()
		last    = start
	)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := copyFn(ctx, columns, batch)
		total += n
		batch = batch[:0]
		if err != nil {
			log.Printf("sink: batch #%d failed after %d rows: %v", batches+1, total, err)
			return err
		}
		batches++
		now := time.Now()
		rps := float64(0)
		if d := now.Sub(last); d > 0 {
			rps = float64(n) / d.Seconds()
		}
		log.Printf("sink: batch #%d rows=%d total=%d rps=%.0f elapsed=%s",
			batches, n, total, rps, now.Sub(start).Truncate(time.Millisecond))
		last = now
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return total, ctx.Err()

		case row, ok := <-in:
			if !ok {
				if err := flush(); err != nil {
					return total, err
				}
				return total, nil
			}
			batch = append(batch, row)
			if len(batch) >= batchSize {
				if err := flush(); err != nil {
					return total, err
				}
			}
		}
	}
}

// Stream sends the rows of ds, converted by conv, on the returned channel and
// closes it when done or when ctx is cancelled. Callers that stop reading
// early must cancel ctx.
func Stream(ctx context.Context, ds *table.Dataset, conv func(table.Value) any) <-chan []any {
	out := make(chan []any, 256)
	go func() {
		defer close(out)
		for i := 0; i < ds.Len(); i++ {
			cells := ds.Row(i)
			row := make([]any, len(cells))
			for j, v := range cells {
				row[j] = conv(v)
			}
			select {
			case out <- row:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// SQLValue converts a cell into a database/sql argument. Sequences and
// mappings become their JSON text; unsigned values above MaxInt64 become
// decimal text.
func SQLValue(v table.Value) any {
	switch v.Kind() {
	case table.KindNull:
		return nil
	case table.KindInt:
		return v.AsInt()
	case table.KindUint:
		if v.AsUint() > math.MaxInt64 {
			return strconv.FormatUint(v.AsUint(), 10)
		}
		return int64(v.AsUint())
	case table.KindFloat:
		return v.AsFloat()
	case table.KindBool:
		return v.AsBool()
	case table.KindString:
		return v.AsString()
	case table.KindTimestamp:
		return v.AsTimestamp().UTC()
	default:
		return v.Text()
	}
}

// DefaultBatchSize is used by backends when Config.BatchSize is zero.
const DefaultBatchSize = 5000
