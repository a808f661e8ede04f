package config

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Keys is the flat key/value block of a pipeline. It carries warehouse
// identifiers and credentials; values of the form "secret://name" are
// resolved through a SecretGetter by Resolve.
type Keys map[string]string

// Well-known keys.
const (
	KeyProjectID    = "project_id"
	KeyDataset      = "raw_dataset_name"
	KeyTable        = "raw_table_name"
	KeyUsername     = "username"
	KeyPassword     = "password"
	KeyAPIKey       = "api_key"
	KeyAPIKeyHeader = "api_key_header"
	KeyClientID     = "client_id"
	KeyClientSecret = "client_secret"
	KeyRefreshToken = "refresh_token"
	KeyTokenURL     = "token_url"
)

// LoginMode selects how requests authenticate and which keys are required.
type LoginMode string

const (
	LoginUserPass LoginMode = "user_pass"
	LoginAPIKey   LoginMode = "apikey"
	LoginOAuth    LoginMode = "oauth"
	LoginNone     LoginMode = "none"
)

// ParseLoginMode maps a pipeline string to a LoginMode. Empty means
// LoginUserPass.
func ParseLoginMode(s string) (LoginMode, error) {
	switch LoginMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", LoginUserPass:
		return LoginUserPass, nil
	case LoginAPIKey, "api_key":
		return LoginAPIKey, nil
	case LoginOAuth:
		return LoginOAuth, nil
	case LoginNone:
		return LoginNone, nil
	}
	return "", fmt.Errorf("config: unknown login_mode %q (want user_pass, apikey, oauth or none)", s)
}

var baseKeys = []string{KeyProjectID, KeyDataset, KeyTable}

// RequiredKeys returns the keys a Config block must carry for mode, in a
// stable order: the target identifiers first, then the credentials.
func RequiredKeys(mode LoginMode) []string {
	out := append([]string(nil), baseKeys...)
	switch mode {
	case LoginUserPass:
		out = append(out, KeyUsername, KeyPassword)
	case LoginAPIKey:
		out = append(out, KeyAPIKey)
	case LoginOAuth:
		out = append(out, KeyClientID, KeyClientSecret, KeyRefreshToken)
	case LoginNone:
	}
	return out
}

// MissingKeysError lists the required keys absent from a Config block.
type MissingKeysError struct {
	Mode    LoginMode
	Missing []string
}

func (e *MissingKeysError) Error() string {
	return fmt.Sprintf("config: login_mode %s is missing required keys: %s", e.Mode, strings.Join(e.Missing, ", "))
}

// Validate checks k against the keys required by mode. It returns a
// *MissingKeysError naming exactly the absent or blank keys.
func (k Keys) Validate(mode LoginMode) error {
	var missing []string
	for _, name := range RequiredKeys(mode) {
		if strings.TrimSpace(k[name]) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &MissingKeysError{Mode: mode, Missing: missing}
	}
	return nil
}

// Get returns the value for name or def when absent.
func (k Keys) Get(name, def string) string {
	if v, ok := k[name]; ok && v != "" {
		return v
	}
	return def
}

// SecretPrefix marks a Config value to be looked up in the secret store.
const SecretPrefix = "secret://"

// SecretGetter is the lookup Resolve needs. secret.Store satisfies it.
type SecretGetter interface {
	Get(ctx context.Context, name string) (string, error)
}

// Resolve returns a copy of k with every secret:// value replaced by the
// secret it names. Keys are resolved in sorted order so failures are
// reported deterministically.
func (k Keys) Resolve(ctx context.Context, store SecretGetter) (Keys, error) {
	names := make([]string, 0, len(k))
	for name := range k {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(Keys, len(k))
	for _, name := range names {
		v := k[name]
		ref, ok := strings.CutPrefix(v, SecretPrefix)
		if !ok {
			out[name] = v
			continue
		}
		if store == nil {
			return nil, fmt.Errorf("config: key %s references secret %q but no secret store is configured", name, ref)
		}
		sv, err := store.Get(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("config: resolve %s: %w", name, err)
		}
		out[name] = sv
	}
	return out, nil
}
