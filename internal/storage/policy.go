package storage

import (
	"errors"
	"fmt"
	"strings"
)

// Mode is the write policy of a run.
type Mode int

const (
	// Append adds rows, optionally deleting overlapping keys first.
	Append Mode = iota
	// Full truncates the target before writing.
	Full
)

func (m Mode) String() string {
	switch m {
	case Append:
		return "append"
	case Full:
		return "full"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode maps a pipeline value to a Mode. Empty means Append.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "append":
		return Append, nil
	case "full":
		return Full, nil
	}
	return 0, fmt.Errorf("storage: unknown mode %q (want full or append)", s)
}

// Policy is a Mode plus the optional dedup column of append runs.
type Policy struct {
	Mode       Mode
	DedupField string
}

// ErrDedupWithFull is returned by Validate when a full policy names a dedup
// column: truncate and dedup-delete never run together.
var ErrDedupWithFull = errors.New("storage: dedup_field cannot be combined with full mode")

// Validate reports an unknown mode or a dedup column in full mode.
func (p Policy) Validate() error {
	switch p.Mode {
	case Append:
		return nil
	case Full:
		if p.DedupField != "" {
			return ErrDedupWithFull
		}
		return nil
	}
	return fmt.Errorf("storage: unknown mode %v", p.Mode)
}

func (p Policy) String() string {
	if p.Mode == Append && p.DedupField != "" {
		return "append dedup=" + p.DedupField
	}
	return p.Mode.String()
}
