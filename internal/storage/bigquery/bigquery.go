// Package bigquery registers the "bigquery" storage backend on
// cloud.google.com/go/bigquery. Rows are written with NDJSON load jobs, so
// the DML issued by Truncate and DeleteWhere never meets a streaming buffer.
package bigquery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"apiload/internal/schema"
	"apiload/internal/storage"
	"apiload/internal/table"
)

// Sink is a storage.Sink over a BigQuery client.
type Sink struct {
	client    *bigquery.Client
	project   string
	batchSize int
}

var _ storage.Sink = (*Sink)(nil)

// NewSink opens a client for cfg.Project. CredentialsFile, when set, replaces
// application default credentials.
func NewSink(ctx context.Context, cfg storage.Config) (*Sink, error) {
	if strings.TrimSpace(cfg.Project) == "" {
		return nil, errors.New("bigquery: project must not be empty")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := bigquery.NewClient(ctx, cfg.Project, opts...)
	if err != nil {
		return nil, fmt.Errorf("bigquery: new client: %w", err)
	}
	if cfg.Location != "" {
		client.Location = cfg.Location
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	return &Sink{client: client, project: cfg.Project, batchSize: batch}, nil
}

// DefaultBatchSize is the number of rows per load job.
const DefaultBatchSize = 50000

func (s *Sink) ref(t storage.TableRef) storage.TableRef {
	if t.Project == "" {
		t.Project = s.project
	}
	return t
}

func (s *Sink) handle(t storage.TableRef) *bigquery.Table {
	t = s.ref(t)
	return s.client.DatasetInProject(t.Project, t.Dataset).Table(t.Table)
}

// EnsureTable implements storage.Sink. The dataset is created when missing.
func (s *Sink) EnsureTable(ctx context.Context, t storage.TableRef, fields []schema.Field) error {
	tbl := s.handle(t)
	_, err := tbl.Metadata(ctx)
	if err == nil {
		return nil
	}
	if !isStatus(err, http.StatusNotFound) {
		return fmt.Errorf("bigquery: table metadata %s: %w", s.ref(t), err)
	}

	ref := s.ref(t)
	ds := s.client.DatasetInProject(ref.Project, ref.Dataset)
	if err := ds.Create(ctx, &bigquery.DatasetMetadata{Location: s.client.Location}); err != nil && !isStatus(err, http.StatusConflict) {
		return fmt.Errorf("bigquery: create dataset %s: %w", ref.Dataset, err)
	}
	if err := tbl.Create(ctx, &bigquery.TableMetadata{Schema: ToSchema(fields)}); err != nil && !isStatus(err, http.StatusConflict) {
		return fmt.Errorf("bigquery: create table %s: %w", ref, err)
	}
	log.Printf("sink: created bigquery table %s (%d fields)", ref, len(fields))
	return nil
}

// Truncate implements storage.Sink.
func (s *Sink) Truncate(ctx context.Context, t storage.TableRef) error {
	return s.exec(ctx, truncateSQL(s.ref(t)), nil)
}

// DeleteWhere implements storage.Sink with one array query parameter.
func (s *Sink) DeleteWhere(ctx context.Context, t storage.TableRef, p storage.Predicate) error {
	if len(p.Values) == 0 {
		return nil
	}
	param, asText := deleteParam(p.Values)
	return s.exec(ctx, deleteSQL(s.ref(t), p.Column, asText), []bigquery.QueryParameter{{Name: "values", Value: param}})
}

// deleteParam builds the typed array parameter for vals. Values of one
// scalar kind bind as an array of that type; anything else binds as text
// and asText reports that the column must be cast to STRING.
func deleteParam(vals []table.Value) (param any, asText bool) {
	kind := vals[0].Kind()
	for _, v := range vals[1:] {
		if v.Kind() != kind {
			kind = table.KindNull
			break
		}
	}
	switch kind {
	case table.KindInt:
		return typedArray(vals, table.Value.AsInt), false
	case table.KindFloat:
		return typedArray(vals, table.Value.AsFloat), false
	case table.KindBool:
		return typedArray(vals, table.Value.AsBool), false
	case table.KindString:
		return typedArray(vals, table.Value.AsString), false
	case table.KindTimestamp:
		return typedArray(vals, func(v table.Value) time.Time { return v.AsTimestamp().UTC() }), false
	}
	return typedArray(vals, table.Value.Text), true
}

func typedArray[T any](vals []table.Value, conv func(table.Value) T) []T {
	out := make([]T, len(vals))
	for i, v := range vals {
		out[i] = conv(v)
	}
	return out
}

func (s *Sink) exec(ctx context.Context, sql string, params []bigquery.QueryParameter) error {
	q := s.client.Query(sql)
	q.Parameters = params
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("bigquery: run %q: %w", sql, err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("bigquery: wait %s: %w", job.ID(), err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("bigquery: job %s: %w", job.ID(), err)
	}
	return nil
}

// Write implements storage.Sink: one load job per batch of rows.
func (s *Sink) Write(ctx context.Context, t storage.TableRef, ds *table.Dataset, fields []schema.Field, mode storage.WriteMode) (int64, error) {
	if mode == storage.WriteReplace {
		if err := s.Truncate(ctx, t); err != nil {
			return 0, err
		}
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tbl := s.handle(t)
	bqSchema := ToSchema(fields)
	copyFn := func(ctx context.Context, columns []string, rows [][]any) (int64, error) {
		body, err := NDJSON(columns, rows)
		if err != nil {
			return 0, err
		}
		src := bigquery.NewReaderSource(bytes.NewReader(body))
		src.SourceFormat = bigquery.JSON
		src.Schema = bqSchema

		loader := tbl.LoaderFrom(src)
		loader.WriteDisposition = bigquery.WriteAppend
		loader.CreateDisposition = bigquery.CreateNever
		job, err := loader.Run(ctx)
		if err != nil {
			return 0, fmt.Errorf("bigquery: load: %w", err)
		}
		status, err := job.Wait(ctx)
		if err != nil {
			return 0, fmt.Errorf("bigquery: wait load %s: %w", job.ID(), err)
		}
		if err := status.Err(); err != nil {
			return 0, fmt.Errorf("bigquery: load %s: %w", job.ID(), err)
		}
		return int64(len(rows)), nil
	}
	return storage.LoadBatches(ctx, ds.Columns(), storage.Stream(ctx, ds, Value), s.batchSize, copyFn)
}

// MaxValue implements storage.Sink.
func (s *Sink) MaxValue(ctx context.Context, t storage.TableRef, column string) (table.Value, error) {
	if _, err := s.handle(t).Metadata(ctx); err != nil {
		if isStatus(err, http.StatusNotFound) {
			return table.Null(), nil
		}
		return table.Null(), fmt.Errorf("bigquery: table metadata: %w", err)
	}
	it, err := s.client.Query(maxSQL(s.ref(t), column)).Read(ctx)
	if err != nil {
		return table.Null(), fmt.Errorf("bigquery: max(%s): %w", column, err)
	}
	var row []bigquery.Value
	switch err := it.Next(&row); {
	case errors.Is(err, iterator.Done):
		return table.Null(), nil
	case err != nil:
		return table.Null(), fmt.Errorf("bigquery: max(%s): %w", column, err)
	}
	if len(row) == 0 {
		return table.Null(), nil
	}
	if r, ok := row[0].(*big.Rat); ok {
		return table.String(r.FloatString(9)), nil
	}
	return table.FromNative(row[0]), nil
}

// Close implements storage.Sink.
func (s *Sink) Close() error { return s.client.Close() }

func quote(t storage.TableRef) string {
	return "`" + t.String() + "`"
}

func truncateSQL(t storage.TableRef) string {
	return "TRUNCATE TABLE " + quote(t)
}

func deleteSQL(t storage.TableRef, column string, asText bool) string {
	if asText {
		return fmt.Sprintf("DELETE FROM %s WHERE CAST(`%s` AS STRING) IN UNNEST(@values)", quote(t), column)
	}
	return fmt.Sprintf("DELETE FROM %s WHERE `%s` IN UNNEST(@values)", quote(t), column)
}

func maxSQL(t storage.TableRef, column string) string {
	return fmt.Sprintf("SELECT MAX(`%s`) FROM %s", column, quote(t))
}

// ToSchema converts inferred fields into a BigQuery schema.
func ToSchema(fields []schema.Field) bigquery.Schema {
	out := make(bigquery.Schema, 0, len(fields))
	for _, f := range fields {
		fs := &bigquery.FieldSchema{
			Name:     f.Name,
			Type:     bigquery.FieldType(f.Type),
			Repeated: f.Mode == schema.Repeated,
		}
		if len(f.Fields) > 0 {
			fs.Schema = ToSchema(f.Fields)
		}
		out = append(out, fs)
	}
	return out
}

// Value converts a cell into a JSON-encodable value for a load job. Nulls
// inside sequences are dropped since REPEATED fields reject them.
func Value(v table.Value) any {
	switch v.Kind() {
	case table.KindSeq:
		out := make([]any, 0, len(v.AsSeq()))
		for _, e := range v.AsSeq() {
			if e.IsNull() {
				continue
			}
			out = append(out, Value(e))
		}
		return out
	case table.KindMap:
		m := v.AsMap()
		out := make(map[string]any, m.Len())
		for _, k := range m.Keys() {
			e, _ := m.Get(k)
			out[k] = Value(e)
		}
		return out
	case table.KindTimestamp:
		return v.AsTimestamp().UTC()
	default:
		return v.Native()
	}
}

// NDJSON encodes rows as newline-delimited JSON objects keyed by columns.
// Null cells are omitted.
func NDJSON(columns []string, rows [][]any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	obj := make(map[string]any, len(columns))
	for i, row := range rows {
		clear(obj)
		for j, c := range columns {
			if row[j] != nil {
				obj[c] = row[j]
			}
		}
		if err := enc.Encode(obj); err != nil {
			return nil, fmt.Errorf("bigquery: encode row %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

func isStatus(err error, code int) bool {
	var gErr *googleapi.Error
	return errors.As(err, &gErr) && gErr.Code == code
}

func init() {
	storage.Register("bigquery", func(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
		return NewSink(ctx, cfg)
	})
}
