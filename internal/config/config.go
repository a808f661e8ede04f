// Package config defines the pipeline file model for load jobs. A pipeline
// names its sources, the credential strategy, the write policy, the target
// warehouse and a flat key/value Config block holding identifiers and
// credentials.
//
// Pipeline files are JSON or YAML (selected by extension in Load). The same
// struct tags serve both encodings.
//
// Example (trimmed):
//
//	{
//	  "job": "sales_daily",
//	  "sources": [{"url": "https://api.example.com/export?region=1"}],
//	  "login_mode": "apikey",
//	  "mode": "append",
//	  "dedup_field": "order_id",
//	  "rename_mode": "camel",
//	  "parser": {"kind": "csv"},
//	  "config": {
//	    "project_id": "my-project",
//	    "raw_dataset_name": "raw",
//	    "raw_table_name": "tb_sales",
//	    "api_key": "secret://sales-api-key"
//	  },
//	  "storage": {"kind": "bigquery"}
//	}
package config

import (
	"encoding/json"
	"time"
)

// Pipeline is the top-level object decoded from a pipeline file.
type Pipeline struct {
	// Job names the run for logs, metrics and the error log.
	Job string `json:"job" yaml:"job"`

	// Kind selects the fetch strategy: "urls" (default) fetches every source
	// concurrently, "paged" walks a paginated endpoint.
	Kind string `json:"kind" yaml:"kind"`

	// Sources lists the locations fetched by a "urls" pipeline.
	Sources []Source `json:"sources" yaml:"sources"`

	// URLs is shorthand for Sources without a per-source auth override.
	URLs []string `json:"urls" yaml:"urls"`

	// Paged configures a "paged" pipeline.
	Paged Paged `json:"paged" yaml:"paged"`

	// LoginMode selects the credential strategy and the required Config keys:
	// user_pass (default), apikey, oauth or none.
	LoginMode string `json:"login_mode" yaml:"login_mode"`

	// Mode is the write policy: "append" (default) or "full".
	Mode string `json:"mode" yaml:"mode"`

	// DedupField, in append mode, names the column whose incoming values are
	// deleted from the target before appending.
	DedupField string `json:"dedup_field" yaml:"dedup_field"`

	// RenameMode is the column label convention: "space" (default) or "camel".
	RenameMode string `json:"rename_mode" yaml:"rename_mode"`

	// Parser turns payload text into a dataset.
	Parser Parser `json:"parser" yaml:"parser"`

	// Config is the flat key/value block validated against the login mode.
	Config Keys `json:"config" yaml:"config"`

	Storage  Storage       `json:"storage" yaml:"storage"`
	ErrorLog ErrorLog      `json:"error_log" yaml:"error_log"`
	Runtime  RuntimeConfig `json:"runtime" yaml:"runtime"`

	// Schedule is a cron expression used by the schedule command.
	Schedule string `json:"schedule" yaml:"schedule"`

	// Options holds loader switches:
	//   ascii_columns (bool)  strip diacritics from column names
	//   keep_types    (bool)  skip the stringify passes
	//   do_save       (bool)  false runs every stage without sink side effects
	//   inserted_at   (string) name of an insertion timestamp column to add
	Options Options `json:"options" yaml:"options"`
}

// Source is one fetchable location.
type Source struct {
	URL string `json:"url" yaml:"url"`

	// Auth overrides the strategy derived from LoginMode for this source:
	// none, basic, apikey or bearer.
	Auth string `json:"auth" yaml:"auth"`
}

// Paged configures sequential page fetching.
type Paged struct {
	// URL is a template with a {page} placeholder and an optional {after}
	// placeholder filled from the highest CursorColumn value in the target.
	URL string `json:"url" yaml:"url"`

	// MaxPages bounds the walk; zero means 100.
	MaxPages int `json:"max_pages" yaml:"max_pages"`

	// CursorColumn is the target column read through Sink.MaxValue.
	CursorColumn string `json:"cursor_column" yaml:"cursor_column"`

	// Flatten replaces mapping cells of a column with one of their keys,
	// e.g. {"athlete": "id"}.
	Flatten map[string]string `json:"flatten" yaml:"flatten"`
}

// Parser selects how payload text becomes a dataset.
type Parser struct {
	// Kind is "csv" (default) or "json".
	Kind string `json:"kind" yaml:"kind"`

	// Options is interpreted by the parser:
	//   csv:  comma (string), trim_space (bool)
	//   json: data_path (string, dotted path to the record array)
	Options Options `json:"options" yaml:"options"`
}

// Storage selects the warehouse sink.
type Storage struct {
	// Kind is bigquery, postgres, mssql, mysql or sqlite.
	Kind string `json:"kind" yaml:"kind"`

	// DSN is the connection string for SQL backends.
	DSN string `json:"dsn" yaml:"dsn"`

	// Location and CredentialsFile configure the BigQuery client.
	Location        string `json:"location" yaml:"location"`
	CredentialsFile string `json:"credentials_file" yaml:"credentials_file"`
}

// ErrorLog configures the table failed runs are recorded in.
type ErrorLog struct {
	// Table is "dataset.table"; empty means DefaultErrorLogTable.
	Table    string `json:"table" yaml:"table"`
	Disabled bool   `json:"disabled" yaml:"disabled"`
}

// DefaultErrorLogTable receives error records when ErrorLog.Table is empty.
const DefaultErrorLogTable = "auxiliar.tb_log_carga"

// RuntimeConfig controls fetch concurrency, timeouts and write batching.
type RuntimeConfig struct {
	// FetchWorkers overrides the default max(1, n/2) pool size when > 0.
	FetchWorkers int `json:"fetch_workers" yaml:"fetch_workers"`

	// Timeout is the per-request timeout as a Go duration string.
	Timeout string `json:"timeout" yaml:"timeout"`

	// ChunkSize is the number of rows per sink write batch.
	ChunkSize int `json:"chunk_size" yaml:"chunk_size"`

	// MaxBodyBytes fails a fetch whose body is larger. Zero means no cap.
	MaxBodyBytes int64 `json:"max_body_bytes" yaml:"max_body_bytes"`

	InsecureSkipVerify bool `json:"insecure_skip_verify" yaml:"insecure_skip_verify"`

	// Headers are sent with every request. Credential headers win on
	// conflict.
	Headers map[string]string `json:"headers" yaml:"headers"`
}

// DefaultTimeout and DefaultChunkSize apply to zero RuntimeConfig values.
const (
	DefaultTimeout   = 30 * time.Second
	DefaultChunkSize = 300000
)

// RequestTimeout parses Timeout, falling back to DefaultTimeout.
func (r RuntimeConfig) RequestTimeout() (time.Duration, error) {
	if r.Timeout == "" {
		return DefaultTimeout, nil
	}
	return time.ParseDuration(r.Timeout)
}

// Chunk returns ChunkSize or DefaultChunkSize.
func (r RuntimeConfig) Chunk() int {
	if r.ChunkSize <= 0 {
		return DefaultChunkSize
	}
	return r.ChunkSize
}

// SourceList merges Sources and URLs, Sources first.
func (p Pipeline) SourceList() []Source {
	out := make([]Source, 0, len(p.Sources)+len(p.URLs))
	out = append(out, p.Sources...)
	for _, u := range p.URLs {
		out = append(out, Source{URL: u})
	}
	return out
}

// Options is a small helper to fetch typed values from free-form maps. It
// performs only minimal coercion and returns the default when a key is
// absent or of an unexpected type.
type Options map[string]any

// String returns the string value for key or def.
func (o Options) String(key, def string) string {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// Bool returns the bool value for key or def.
func (o Options) Bool(key string, def bool) bool {
	if v, ok := o[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// Int returns the int value for key or def. JSON numbers decode as float64,
// YAML integers as int; both are accepted.
func (o Options) Int(key string, def int) int {
	if v, ok := o[key]; ok {
		switch n := v.(type) {
		case float64:
			return int(n)
		case int:
			return n
		}
	}
	return def
}

// Rune returns the first rune of a string value for key, or def.
func (o Options) Rune(key string, def rune) rune {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok && len(s) > 0 {
			return []rune(s)[0]
		}
	}
	return def
}

// UnmarshalJSON makes a missing or null options object decode to an empty,
// non-nil Options.
func (o *Options) UnmarshalJSON(b []byte) error {
	var tmp map[string]any
	if len(b) == 0 || string(b) == "null" {
		*o = Options{}
		return nil
	}
	if err := json.Unmarshal(b, &tmp); err != nil {
		return err
	}
	*o = Options(tmp)
	return nil
}
