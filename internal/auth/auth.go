// Package auth builds request credentials from a resolved pipeline Config
// block. OAuth pipelines exchange a stored refresh token for access tokens
// through golang.org/x/oauth2.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/oauth2"

	"apiload/internal/config"
	"apiload/internal/datasource/httpds"
	"apiload/internal/failure"
)

// ErrNoTokenURL is returned for oauth pipelines without a token_url key.
var ErrNoTokenURL = errors.New("auth: oauth login needs a token_url key")

// TokenSource returns a caching refresh-token source for keys. The first
// Token call performs the refresh; later calls reuse the access token until
// it expires.
func TokenSource(ctx context.Context, keys config.Keys) (oauth2.TokenSource, error) {
	tokenURL := keys.Get(config.KeyTokenURL, "")
	if tokenURL == "" {
		return nil, ErrNoTokenURL
	}
	cfg := &oauth2.Config{
		ClientID:     keys.Get(config.KeyClientID, ""),
		ClientSecret: keys.Get(config.KeyClientSecret, ""),
		Endpoint: oauth2.Endpoint{
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	tok := &oauth2.Token{RefreshToken: keys.Get(config.KeyRefreshToken, "")}
	return oauth2.ReuseTokenSource(nil, cfg.TokenSource(ctx, tok)), nil
}

// Credential maps a login mode and its keys onto an httpds.Credential.
// Errors are tagged failure.KindConfig.
func Credential(ctx context.Context, mode config.LoginMode, keys config.Keys) (httpds.Credential, error) {
	switch mode {
	case config.LoginNone:
		return httpds.Credential{Strategy: httpds.None}, nil
	case config.LoginUserPass:
		return httpds.Credential{
			Strategy: httpds.Basic,
			Username: keys.Get(config.KeyUsername, ""),
			Password: keys.Get(config.KeyPassword, ""),
		}, nil
	case config.LoginAPIKey:
		return httpds.Credential{
			Strategy: httpds.APIKey,
			APIKey:   keys.Get(config.KeyAPIKey, ""),
			Header:   strings.TrimSpace(keys.Get(config.KeyAPIKeyHeader, httpds.DefaultAPIKeyHeader)),
		}, nil
	case config.LoginOAuth:
		ts, err := TokenSource(ctx, keys)
		if err != nil {
			return httpds.Credential{}, failure.Config("auth", err)
		}
		return httpds.Credential{Strategy: httpds.Bearer, Tokens: ts}, nil
	}
	return httpds.Credential{}, failure.Config("auth", fmt.Errorf("unsupported login mode %q", mode))
}
