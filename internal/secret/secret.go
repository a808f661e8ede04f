// Package secret resolves named credentials for pipeline Config blocks.
// Values written as "secret://name" are looked up in a Store before a run.
package secret

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode"

	"apiload/internal/config"
)

// Store returns the current value of a named secret.
type Store interface {
	Get(ctx context.Context, name string) (string, error)
}

var _ config.SecretGetter = Store(nil)

// ErrNotFound is returned when a store has no value for a name.
var ErrNotFound = errors.New("secret: not found")

// Env reads secrets from environment variables. The name is upper-cased,
// every character other than a letter or digit becomes '_', and Prefix is
// prepended: with Prefix "APILOAD_", "sales-api-key" reads
// APILOAD_SALES_API_KEY.
type Env struct {
	Prefix string

	// Lookup defaults to os.LookupEnv.
	Lookup func(string) (string, bool)
}

// Get implements Store.
func (e Env) Get(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	lookup := e.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	key := e.Prefix + EnvName(name)
	v, ok := lookup(key)
	if !ok {
		return "", fmt.Errorf("%w: %s (env %s)", ErrNotFound, name, key)
	}
	return v, nil
}

// EnvName maps a secret name to an environment variable name.
func EnvName(name string) string {
	return strings.Map(func(r rune) rune {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return unicode.ToUpper(r)
		}
		return '_'
	}, name)
}

// Open returns the store named by kind: "env" (the default) or "gcp".
func Open(ctx context.Context, kind, project string) (Store, func() error, error) {
	switch kind {
	case "", "env":
		return Env{Prefix: "APILOAD_"}, func() error { return nil }, nil
	case "gcp":
		m, err := NewManager(ctx, project)
		if err != nil {
			return nil, nil, err
		}
		return m, m.Close, nil
	}
	return nil, nil, fmt.Errorf("secret: unknown store %q (want env or gcp)", kind)
}
