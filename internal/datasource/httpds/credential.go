package httpds

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

// Strategy is how a request authenticates.
type Strategy int

const (
	// Inherit uses the Credential's own strategy. It is only meaningful on a
	// Source.
	Inherit Strategy = iota
	None
	Basic
	APIKey
	Bearer
)

func (s Strategy) String() string {
	switch s {
	case Inherit:
		return "inherit"
	case None:
		return "none"
	case Basic:
		return "basic"
	case APIKey:
		return "apikey"
	case Bearer:
		return "bearer"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// ParseStrategy maps a config tag to a Strategy. The empty string is Inherit.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return Inherit, nil
	case "none":
		return None, nil
	case "basic", "basic-auth", "user_pass":
		return Basic, nil
	case "apikey", "api_key", "api-key":
		return APIKey, nil
	case "bearer", "oauth":
		return Bearer, nil
	}
	return 0, fmt.Errorf("httpds: unknown auth strategy %q", s)
}

// DefaultAPIKeyHeader carries the key when Credential.Header is empty.
const DefaultAPIKeyHeader = "X-Api-Key"

// Credential holds everything the strategies need. Only the fields of the
// selected strategy are read.
type Credential struct {
	Strategy Strategy

	Username string
	Password string

	APIKey string
	Header string

	// Tokens supplies bearer tokens; it is consulted on every request so an
	// oauth2.ReuseTokenSource refreshes only when the token expires.
	Tokens oauth2.TokenSource
}

// Headers returns the request headers for strategy s, falling back to the
// credential's strategy when s is Inherit.
func (c Credential) Headers(s Strategy) (http.Header, error) {
	if s == Inherit {
		s = c.Strategy
	}
	h := http.Header{}
	switch s {
	case Inherit, None:
	case Basic:
		raw := c.Username + ":" + c.Password
		h.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(raw)))
	case APIKey:
		name := c.Header
		if name == "" {
			name = DefaultAPIKeyHeader
		}
		h.Set(name, c.APIKey)
	case Bearer:
		if c.Tokens == nil {
			return nil, fmt.Errorf("httpds: bearer strategy without a token source")
		}
		tok, err := c.Tokens.Token()
		if err != nil {
			return nil, fmt.Errorf("httpds: token: %w", err)
		}
		tok.SetAuthHeader(&http.Request{Header: h})
	default:
		return nil, fmt.Errorf("httpds: unsupported strategy %v", s)
	}
	return h, nil
}

// headersFor is Headers with the context checked first, so a cancelled run
// does not trigger a token refresh.
func (c Credential) headersFor(ctx context.Context, s Strategy) (http.Header, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.Headers(s)
}
