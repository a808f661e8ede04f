package httpds

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/zeebo/xxh3"
	"golang.org/x/sync/errgroup"

	"apiload/internal/failure"
	jsonparser "apiload/internal/parser/json"
)

// Source is one fetchable location with an optional strategy override.
type Source struct {
	URL      string
	Strategy Strategy
}

// Payload is the raw text of one fetched source.
type Payload struct {
	Source   string
	Body     string
	Checksum uint64
	Elapsed  time.Duration
}

// Workers returns the pool size for n sources: half of them, at least one.
func Workers(n int) int {
	return max(1, n/2)
}

// FetchAll fetches every source concurrently with Workers(len(sources))
// workers and returns the payloads in completion order.
//
// The first failure cancels the remaining fetches and is returned alone; no
// partial results are returned. Transport errors and non-2xx statuses are
// tagged failure.KindHTTP; bodies that are not valid UTF-8 are
// failure.KindDecode.
func FetchAll(ctx context.Context, c *Client, sources []Source, cred Credential, timeout time.Duration) ([]Payload, error) {
	return FetchAllLimit(ctx, c, sources, cred, timeout, Workers(len(sources)))
}

// FetchAllLimit is FetchAll with an explicit worker count. Limits below one
// are raised to one.
func FetchAllLimit(ctx context.Context, c *Client, sources []Source, cred Credential, timeout time.Duration, limit int) ([]Payload, error) {
	if len(sources) == 0 {
		return nil, nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, limit))

	results := make(chan Payload, len(sources))
	for _, src := range sources {
		src := src
		g.Go(func() error {
			p, err := fetchOne(gctx, c, src, cred, timeout)
			if err != nil {
				return err
			}
			results <- p
			return nil
		})
	}
	err := g.Wait()
	close(results)
	if err != nil {
		return nil, err
	}

	out := make([]Payload, 0, len(sources))
	for p := range results {
		out = append(out, p)
	}
	return out, nil
}

func fetchOne(ctx context.Context, c *Client, src Source, cred Credential, timeout time.Duration) (Payload, error) {
	hdr, err := cred.headersFor(ctx, src.Strategy)
	if err != nil {
		return Payload{}, failure.HTTP("auth "+src.URL, err)
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	body, err := c.Fetch(ctx, src.URL, hdr)
	if errors.Is(err, ErrBodyTooLarge) {
		return Payload{}, failure.Decode("fetch "+src.URL, err)
	}
	if err != nil {
		return Payload{}, failure.HTTP("fetch "+src.URL, err)
	}
	if !utf8.Valid(body) {
		return Payload{}, failure.Decode("fetch "+src.URL, errors.New("response body is not valid UTF-8"))
	}
	p := Payload{
		Source:   src.URL,
		Body:     string(body),
		Checksum: xxh3.Hash(body),
		Elapsed:  time.Since(start),
	}
	log.Printf("fetch: %s %d bytes in %s (xxh3 %016x)", src.URL, len(body), p.Elapsed.Round(time.Millisecond), p.Checksum)
	return p, nil
}

// PageQuery describes a paginated JSON endpoint.
type PageQuery struct {
	// URL contains a {page} placeholder, numbered from 1. Every other
	// {name} placeholder is filled from Vars.
	URL      string
	Vars     map[string]string
	MaxPages int
	Strategy Strategy
}

// DefaultMaxPages bounds a page walk when PageQuery.MaxPages is zero.
const DefaultMaxPages = 100

// FetchPages walks the pages of q in order and stops at the first page whose
// body is an empty JSON array (or empty), or after MaxPages pages. Every
// non-empty page must be a JSON array of objects.
func FetchPages(ctx context.Context, c *Client, q PageQuery, cred Credential, timeout time.Duration) ([]Payload, error) {
	if !strings.Contains(q.URL, "{page}") {
		return nil, failure.Config("pages", fmt.Errorf("url %q has no {page} placeholder", q.URL))
	}
	limit := q.MaxPages
	if limit <= 0 {
		limit = DefaultMaxPages
	}

	var out []Payload
	for page := 1; page <= limit; page++ {
		src := Source{URL: expand(q.URL, page, q.Vars), Strategy: q.Strategy}
		p, err := fetchOne(ctx, c, src, cred, timeout)
		if err != nil {
			return nil, err
		}
		empty, err := emptyArray(p.Body)
		if err != nil {
			return nil, failure.Decode("page "+strconv.Itoa(page), err)
		}
		if empty {
			break
		}
		out = append(out, p)
	}
	return out, nil
}

func expand(tmpl string, page int, vars map[string]string) string {
	pairs := []string{"{page}", strconv.Itoa(page)}
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

func emptyArray(body string) (bool, error) {
	b := bytes.TrimSpace([]byte(body))
	if len(b) == 0 {
		return true, nil
	}
	if b[0] != '[' {
		return false, errors.New("expected a JSON array of objects")
	}
	recs, err := jsonparser.Records(string(b))
	if err != nil {
		return false, err
	}
	return len(recs) == 0, nil
}
