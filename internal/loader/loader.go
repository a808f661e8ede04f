// Package loader runs one API load: fetch every source, assemble a dataset,
// normalize its columns, apply the transform hook, infer the schema and write
// it to the warehouse under the pipeline's write policy.
//
// A run moves through a fixed sequence of states:
//
//	VALIDATE_CONFIG -> FETCH -> PARSE_AND_CONCATENATE -> RENAME_COLUMNS ->
//	USER_TRANSFORM_HOOK -> STRINGIFY -> INFER_SCHEMA -> WRITE -> DONE
//
// VALIDATE_CONFIG happens in New, so a pipeline with missing keys never
// reaches the network.
package loader

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"apiload/internal/auth"
	"apiload/internal/config"
	"apiload/internal/datasource/httpds"
	"apiload/internal/failure"
	"apiload/internal/metrics"
	"apiload/internal/naming"
	"apiload/internal/parser"
	"apiload/internal/schema"
	"apiload/internal/storage"
	"apiload/internal/table"
	"apiload/internal/transformer"
)

// State is one step of a run.
type State string

const (
	StateValidateConfig State = "VALIDATE_CONFIG"
	StateFetch          State = "FETCH"
	StateParse          State = "PARSE_AND_CONCATENATE"
	StateRename         State = "RENAME_COLUMNS"
	StateTransform      State = "USER_TRANSFORM_HOOK"
	StateStringify      State = "STRINGIFY"
	StateInferSchema    State = "INFER_SCHEMA"
	StateWrite          State = "WRITE"
	StateDone           State = "DONE"
)

// TransformFunc is the per-pipeline hook applied after column renaming. It
// must return a dataset with the same number of rows.
type TransformFunc func(ctx context.Context, ds *table.Dataset) (*table.Dataset, error)

// Identity is the default TransformFunc.
func Identity(_ context.Context, ds *table.Dataset) (*table.Dataset, error) { return ds, nil }

// Deps are the collaborators of a Loader.
type Deps struct {
	// Sink receives the rows. Required.
	Sink storage.Sink

	// Client fetches sources; nil builds one with the pipeline timeout.
	Client *httpds.Client

	// Secrets resolves secret:// config values.
	Secrets config.SecretGetter

	// Transform defaults to Identity.
	Transform TransformFunc

	// Now defaults to time.Now.
	Now func() time.Time
}

// Result summarizes a successful run.
type Result struct {
	Target  storage.TableRef
	Sources int
	Rows    int
	Written int64
	Fields  []schema.Field
	Elapsed time.Duration
}

// Loader is a validated, ready-to-run pipeline.
type Loader struct {
	p         config.Pipeline
	keys      config.Keys
	target    storage.TableRef
	policy    storage.Policy
	rename    naming.Mode
	parser    parser.Parser
	cred      httpds.Credential
	sources   []httpds.Source
	timeout   time.Duration
	workers   int
	keepTypes bool
	ascii     bool
	doSave    bool
	stampCol  string

	sink      storage.Sink
	client    *httpds.Client
	transform TransformFunc
	now       func() time.Time

	validated time.Duration
}

// New validates p and prepares a Loader. Missing config keys are reported as
// a *config.MissingKeysError (tagged failure.KindConfig) before any secret
// lookup or network call.
func New(ctx context.Context, p config.Pipeline, d Deps) (*Loader, error) {
	start := time.Now()

	mode, err := config.ParseLoginMode(p.LoginMode)
	if err != nil {
		return nil, failure.Config("validate config", err)
	}
	if err := p.Config.Validate(mode); err != nil {
		return nil, failure.Config("validate config", err)
	}
	if errs := config.Errors(config.ValidatePipeline(p)); len(errs) > 0 {
		joined := make([]error, len(errs))
		for i, iss := range errs {
			joined[i] = iss
		}
		return nil, failure.Config("validate config", errors.Join(joined...))
	}
	if d.Sink == nil {
		return nil, failure.Config("validate config", errors.New("loader: no sink"))
	}

	l := &Loader{
		p:         p,
		sink:      d.Sink,
		client:    d.Client,
		transform: d.Transform,
		now:       d.Now,
		keepTypes: p.Options.Bool("keep_types", false),
		ascii:     p.Options.Bool("ascii_columns", false),
		doSave:    p.Options.Bool("do_save", true),
		stampCol:  p.Options.String("inserted_at", ""),
		workers:   p.Runtime.FetchWorkers,
	}
	if l.transform == nil {
		l.transform = Identity
	}
	var pre []transformer.Func
	if p.Options.Bool("strip_html", false) {
		pre = append(pre, transformer.StripHTML())
	}
	if p.Options.Bool("trim_text", false) {
		pre = append(pre, transformer.TrimText())
	}
	if len(pre) > 0 {
		l.transform = TransformFunc(transformer.Chain(append(pre, transformer.Func(l.transform))...))
	}
	if l.now == nil {
		l.now = time.Now
	}

	// The linter has already accepted these values.
	l.rename, _ = naming.ParseMode(p.RenameMode)
	l.timeout, _ = p.Runtime.RequestTimeout()
	wm, _ := storage.ParseMode(p.Mode)
	l.policy = storage.Policy{Mode: wm, DedupField: p.DedupField}
	if wm == storage.Full {
		l.policy.DedupField = ""
	}

	if l.parser, err = parser.New(p.Parser); err != nil {
		return nil, failure.Config("validate config", err)
	}
	for _, s := range p.SourceList() {
		st, err := httpds.ParseStrategy(s.Auth)
		if err != nil {
			return nil, failure.Config("validate config", err)
		}
		l.sources = append(l.sources, httpds.Source{URL: s.URL, Strategy: st})
	}

	if l.keys, err = p.Config.Resolve(ctx, d.Secrets); err != nil {
		return nil, failure.Config("resolve secrets", err)
	}
	l.target = storage.TableRef{
		Project: l.keys[config.KeyProjectID],
		Dataset: l.keys[config.KeyDataset],
		Table:   l.keys[config.KeyTable],
	}
	if l.cred, err = auth.Credential(ctx, mode, l.keys); err != nil {
		return nil, err
	}
	if l.client == nil {
		l.client = httpds.NewClient(clientConfig(p.Runtime, l.timeout))
	}

	l.validated = time.Since(start)
	return l, nil
}

// Target is the table the loader writes to.
func (l *Loader) Target() storage.TableRef { return l.target }

// Job is the pipeline job name.
func (l *Loader) Job() string { return l.p.Job }

// step runs fn as state s, recording its duration and outcome.
func (l *Loader) step(s State, fn func() error) error {
	start := time.Now()
	err := fn()
	d := time.Since(start)
	metrics.RecordState(l.p.Job, string(s), err, d)
	if err != nil {
		log.Printf("loader: %s %s failed after %s: %v", l.p.Job, s, d.Round(time.Millisecond), err)
		return err
	}
	log.Printf("loader: %s %s done in %s", l.p.Job, s, d.Round(time.Millisecond))
	return nil
}

// Run executes every state once and returns the written row count.
func (l *Loader) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	res := Result{Target: l.target}
	metrics.RecordState(l.p.Job, string(StateValidateConfig), nil, l.validated)

	var payloads []httpds.Payload
	if err := l.step(StateFetch, func() (err error) {
		payloads, err = l.fetch(ctx)
		return err
	}); err != nil {
		return res, err
	}
	res.Sources = len(payloads)
	metrics.RecordSources(l.p.Job, int64(len(payloads)))

	var ds *table.Dataset
	if err := l.step(StateParse, func() (err error) {
		ds, err = l.parse(payloads)
		return err
	}); err != nil {
		return res, err
	}
	res.Rows = ds.Len()
	metrics.RecordRows(l.p.Job, "fetched", int64(ds.Len()))

	if ds.Width() == 0 {
		log.Printf("loader: %s fetched no columns; nothing to write", l.p.Job)
		metrics.RecordState(l.p.Job, string(StateDone), nil, 0)
		res.Elapsed = time.Since(start)
		return res, nil
	}

	if err := l.step(StateRename, func() error { return l.renameColumns(ds) }); err != nil {
		return res, err
	}

	if err := l.step(StateTransform, func() (err error) {
		ds, err = l.applyTransform(ctx, ds)
		return err
	}); err != nil {
		return res, err
	}

	if err := l.step(StateStringify, func() error {
		if !l.keepTypes {
			ds.Stringify()
		}
		if l.stampCol != "" {
			return ds.Fill(l.stampCol, table.Timestamp(l.now().UTC()))
		}
		return nil
	}); err != nil {
		return res, failure.Schema("inserted_at", err)
	}

	if err := l.step(StateInferSchema, func() (err error) {
		res.Fields, err = schema.Infer(ds)
		if err != nil {
			return failure.Schema("infer schema", err)
		}
		return nil
	}); err != nil {
		return res, err
	}

	w := storage.Writer{Sink: l.sink, DryRun: !l.doSave}
	if err := l.step(StateWrite, func() (err error) {
		res.Written, err = w.Write(ctx, ds, l.target, l.policy, res.Fields)
		return err
	}); err != nil {
		return res, err
	}
	metrics.RecordRows(l.p.Job, "written", res.Written)
	metrics.RecordState(l.p.Job, string(StateDone), nil, 0)

	res.Elapsed = time.Since(start)
	log.Printf("loader: %s inserted %d rows in table %s (%s)", l.p.Job, res.Written, l.target, res.Elapsed.Round(time.Millisecond))
	return res, nil
}

func clientConfig(r config.RuntimeConfig, timeout time.Duration) httpds.Config {
	cfg := httpds.Config{
		Timeout:            timeout,
		InsecureSkipVerify: r.InsecureSkipVerify,
		MaxBodyBytes:       r.MaxBodyBytes,
	}
	if len(r.Headers) > 0 {
		cfg.BaseHeaders = http.Header{}
		for k, v := range r.Headers {
			cfg.BaseHeaders.Set(k, v)
		}
	}
	return cfg
}

func (l *Loader) fetch(ctx context.Context) ([]httpds.Payload, error) {
	if l.p.Kind == "paged" {
		return l.fetchPages(ctx)
	}
	workers := l.workers
	if workers <= 0 {
		workers = httpds.Workers(len(l.sources))
	}
	return httpds.FetchAllLimit(ctx, l.client, l.sources, l.cred, l.timeout, workers)
}

func (l *Loader) parse(payloads []httpds.Payload) (*table.Dataset, error) {
	parts := make([]*table.Dataset, 0, len(payloads))
	for _, p := range payloads {
		ds, err := l.parser.Parse(strings.NewReader(p.Body))
		if err != nil {
			return nil, failure.Decode("parse "+p.Source, err)
		}
		parts = append(parts, ds)
	}
	ds := table.Concat(parts...)
	if err := flatten(ds, l.p.Paged.Flatten); err != nil {
		return nil, failure.Decode("flatten", err)
	}
	return ds, nil
}

func (l *Loader) renameColumns(ds *table.Dataset) error {
	names := ds.Columns()
	if l.ascii {
		names = naming.FoldASCII(names)
	}
	names, err := naming.Normalize(names, l.rename)
	if err != nil {
		return failure.Config("rename columns", err)
	}
	if err := ds.Rename(names); err != nil {
		return failure.Schema("rename columns", err)
	}
	return nil
}

// applyTransform stringifies, runs the hook and stringifies again unless the
// pipeline keeps typed cells.
func (l *Loader) applyTransform(ctx context.Context, ds *table.Dataset) (*table.Dataset, error) {
	if !l.keepTypes {
		ds.Stringify()
	}
	rows := ds.Len()
	out, err := l.transform(ctx, ds)
	if err != nil {
		return nil, failure.Wrap(failure.KindUnknown, "transform", err)
	}
	if out == nil {
		return nil, failure.Schema("transform", errors.New("hook returned a nil dataset"))
	}
	if out.Len() != rows {
		return nil, failure.Schema("transform", fmt.Errorf("hook changed the row count from %d to %d", rows, out.Len()))
	}
	if err := out.Validate(); err != nil {
		return nil, failure.Schema("transform", err)
	}
	return out, nil
}
