package httpds

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"apiload/internal/failure"
)

func TestWorkers(t *testing.T) {
	t.Parallel()

	for n, want := range map[int]int{0: 1, 1: 1, 2: 1, 3: 1, 4: 2, 9: 4, 100: 50} {
		if got := Workers(n); got != want {
			t.Errorf("Workers(%d) = %d, want %d", n, got, want)
		}
	}
}

// TestFetchAll_BoundedConcurrency checks that n sources yield n payloads and
// that no more than Workers(n) requests are ever in flight.
func TestFetchAll_BoundedConcurrency(t *testing.T) {
	t.Parallel()

	var inflight, peak int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := atomic.AddInt32(&inflight, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		atomic.AddInt32(&inflight, -1)
		fmt.Fprintf(w, "a\n%s\n", strings.TrimPrefix(r.URL.Path, "/"))
	}))
	defer srv.Close()

	const n = 8
	srcs := make([]Source, n)
	for i := range srcs {
		srcs[i] = Source{URL: fmt.Sprintf("%s/%d", srv.URL, i)}
	}

	got, err := FetchAll(context.Background(), NewClient(Config{}), srcs, Credential{Strategy: None}, time.Second)
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if len(got) != n {
		t.Fatalf("got %d payloads, want %d", len(got), n)
	}
	if p := atomic.LoadInt32(&peak); p > int32(Workers(n)) || p < 1 {
		t.Fatalf("peak concurrency = %d, want 1..%d", p, Workers(n))
	}

	var seen []string
	for _, p := range got {
		seen = append(seen, p.Source)
		if p.Checksum == 0 || p.Body == "" {
			t.Fatalf("payload %+v missing body or checksum", p)
		}
	}
	sort.Strings(seen)
	if seen[0] != srv.URL+"/0" {
		t.Fatalf("sources = %v", seen)
	}
}

// TestFetchAll_AbortsOnFailure checks that one failing source fails the
// batch and no partial results come back.
func TestFetchAll_AbortsOnFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/2" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Write([]byte("a\n1\n"))
	}))
	defer srv.Close()

	srcs := []Source{{URL: srv.URL + "/1"}, {URL: srv.URL + "/2"}, {URL: srv.URL + "/3"}}
	got, err := FetchAll(context.Background(), NewClient(Config{}), srcs, Credential{}, time.Second)
	if err == nil {
		t.Fatalf("expected error")
	}
	if got != nil {
		t.Fatalf("expected no partial results, got %d", len(got))
	}
	if !failure.Is(err, failure.KindHTTP) {
		t.Fatalf("kind = %q, want http", failure.KindOf(err))
	}
}

func TestFetchAll_InvalidUTF8(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte{0xff, 0xfe, 'a'})
	}))
	defer srv.Close()

	_, err := FetchAll(context.Background(), NewClient(Config{}), []Source{{URL: srv.URL}}, Credential{}, time.Second)
	if !failure.Is(err, failure.KindDecode) {
		t.Fatalf("err = %v, want decode failure", err)
	}
}

func TestFetchAll_Timeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	_, err := FetchAll(context.Background(), NewClient(Config{}), []Source{{URL: srv.URL}}, Credential{}, 20*time.Millisecond)
	if !failure.Is(err, failure.KindHTTP) {
		t.Fatalf("err = %v, want http failure", err)
	}
}

func TestFetchAll_AppliesPerSourceStrategy(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/keyed" && r.Header.Get(DefaultAPIKeyHeader) != "k" {
			http.Error(w, "no key", http.StatusUnauthorized)
			return
		}
		if r.URL.Path == "/open" && r.Header.Get(DefaultAPIKeyHeader) != "" {
			http.Error(w, "unexpected key", http.StatusBadRequest)
			return
		}
		w.Write([]byte("[]"))
	}))
	defer srv.Close()

	srcs := []Source{{URL: srv.URL + "/keyed"}, {URL: srv.URL + "/open", Strategy: None}}
	cred := Credential{Strategy: APIKey, APIKey: "k"}
	if _, err := FetchAll(context.Background(), NewClient(Config{}), srcs, cred, time.Second); err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
}

func TestFetchPages(t *testing.T) {
	t.Parallel()

	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.URL.Query().Get("after") != "1700000000" {
			http.Error(w, "bad cursor", http.StatusBadRequest)
			return
		}
		switch r.URL.Query().Get("page") {
		case "1":
			w.Write([]byte(`[{"id":1},{"id":2}]`))
		case "2":
			w.Write([]byte(`[{"id":3}]`))
		default:
			w.Write([]byte(`[]`))
		}
	}))
	defer srv.Close()

	q := PageQuery{URL: srv.URL + "/acts?page={page}&after={after}", Vars: map[string]string{"after": "1700000000"}}
	got, err := FetchPages(context.Background(), NewClient(Config{}), q, Credential{}, time.Second)
	if err != nil {
		t.Fatalf("FetchPages: %v", err)
	}
	if len(got) != 2 || atomic.LoadInt32(&hits) != 3 {
		t.Fatalf("pages = %d, hits = %d", len(got), hits)
	}

	q.MaxPages = 1
	got, err = FetchPages(context.Background(), NewClient(Config{}), q, Credential{}, time.Second)
	if err != nil || len(got) != 1 {
		t.Fatalf("MaxPages=1: %d pages, err %v", len(got), err)
	}
}

func TestFetchPages_Errors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("shape") == "scalars" {
			w.Write([]byte(`[1, 2]`))
			return
		}
		w.Write([]byte(`{"not":"an array"}`))
	}))
	defer srv.Close()

	c := NewClient(Config{})
	if _, err := FetchPages(context.Background(), c, PageQuery{URL: srv.URL}, Credential{}, time.Second); !failure.Is(err, failure.KindConfig) {
		t.Fatalf("missing placeholder err = %v", err)
	}
	_, err := FetchPages(context.Background(), c, PageQuery{URL: srv.URL + "?p={page}"}, Credential{}, time.Second)
	if !failure.Is(err, failure.KindDecode) {
		t.Fatalf("object page err = %v, want decode", err)
	}
	_, err = FetchPages(context.Background(), c, PageQuery{URL: srv.URL + "?shape=scalars&p={page}"}, Credential{}, time.Second)
	if !failure.Is(err, failure.KindDecode) || !strings.Contains(err.Error(), "want object") {
		t.Fatalf("scalar page err = %v, want decode", err)
	}
}

func TestFetchAll_BodyOverCapIsDecodeError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":1},{"id":2}]`))
	}))
	defer srv.Close()

	c := NewClient(Config{MaxBodyBytes: 8})
	_, err := FetchAll(context.Background(), c, []Source{{URL: srv.URL}}, Credential{}, time.Second)
	if !failure.Is(err, failure.KindDecode) || !errors.Is(err, ErrBodyTooLarge) {
		t.Fatalf("err = %v, want decode wrapping ErrBodyTooLarge", err)
	}
}
