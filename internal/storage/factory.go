package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Config carries what any backend may need to open a Sink.
type Config struct {
	Kind string

	// DSN is the connection string of the SQL backends.
	DSN string

	// Project, Location and CredentialsFile configure BigQuery.
	Project         string
	Location        string
	CredentialsFile string

	// BatchSize is the number of rows per insert batch; zero lets the
	// backend choose.
	BatchSize int
}

// Factory opens a Sink for cfg.
type Factory func(ctx context.Context, cfg Config) (Sink, error)

var (
	regMu     sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers (or replaces) the factory for kind. Backends call it
// from init.
func Register(kind string, f Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	factories[kind] = f
}

// New opens a Sink of cfg.Kind.
func New(ctx context.Context, cfg Config) (Sink, error) {
	regMu.RLock()
	f, ok := factories[cfg.Kind]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("storage: unsupported kind %q (registered: %s)", cfg.Kind, strings.Join(ListKinds(), ", "))
	}
	return f(ctx, cfg)
}

// ListKinds returns the registered kinds, sorted.
func ListKinds() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
