package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"apiload/internal/config"
	"apiload/internal/datasource/httpds"
	"apiload/internal/failure"
)

func TestCredential_StaticModes(t *testing.T) {
	t.Parallel()

	keys := config.Keys{
		config.KeyUsername: "ana",
		config.KeyPassword: "pw",
		config.KeyAPIKey:   "k1",
	}
	tests := []struct {
		mode   config.LoginMode
		header string
		want   string
	}{
		{config.LoginUserPass, "Authorization", "Basic YW5hOnB3"},
		{config.LoginAPIKey, httpds.DefaultAPIKeyHeader, "k1"},
		{config.LoginNone, "Authorization", ""},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			t.Parallel()

			c, err := Credential(context.Background(), tt.mode, keys)
			if err != nil {
				t.Fatal(err)
			}
			h, err := c.Headers(httpds.Inherit)
			if err != nil {
				t.Fatal(err)
			}
			if got := h.Get(tt.header); got != tt.want {
				t.Fatalf("%s = %q, want %q", tt.header, got, tt.want)
			}
		})
	}
}

func TestCredential_OAuthRefreshesOnce(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		if r.PostForm.Get("grant_type") != "refresh_token" || r.PostForm.Get("refresh_token") != "rt" || r.PostForm.Get("client_id") != "cid" {
			t.Errorf("unexpected form: %v", r.PostForm)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at","token_type":"Bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	keys := config.Keys{
		config.KeyClientID:     "cid",
		config.KeyClientSecret: "cs",
		config.KeyRefreshToken: "rt",
		config.KeyTokenURL:     srv.URL,
	}
	c, err := Credential(context.Background(), config.LoginOAuth, keys)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		h, err := c.Headers(httpds.Inherit)
		if err != nil {
			t.Fatal(err)
		}
		if got := h.Get("Authorization"); got != "Bearer at" {
			t.Fatalf("Authorization = %q", got)
		}
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("token endpoint called %d times, want 1", n)
	}
}

func TestCredential_OAuthWithoutTokenURL(t *testing.T) {
	t.Parallel()

	_, err := Credential(context.Background(), config.LoginOAuth, config.Keys{config.KeyRefreshToken: "rt"})
	if !errors.Is(err, ErrNoTokenURL) || !failure.Is(err, failure.KindConfig) {
		t.Fatalf("err = %v", err)
	}
}
