package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"

	"apiload/internal/naming"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that should block execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is surfaced to users but does not block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation finding for a Pipeline.
//
// Path is a dotted path into the config (e.g. "storage.kind",
// "sources[1].url", "config.api_key").
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as a single
// error in contexts that expect error.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// Errors returns only the SeverityError issues.
func Errors(issues []Issue) []Issue {
	var out []Issue
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			out = append(out, iss)
		}
	}
	return out
}

// ValidatePipeline performs static validation of a Pipeline. It does not
// mutate the pipeline and never performs I/O; secret:// references count as
// present.
func ValidatePipeline(p Pipeline) []Issue {
	var issues []Issue

	if strings.TrimSpace(p.Job) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "job",
			Message:  "job must not be empty; it labels metrics and error log records",
		})
	}

	switch p.Kind {
	case "", "urls":
		issues = append(issues, validateSources(p.SourceList())...)
	case "paged":
		issues = append(issues, validatePaged(p.Paged)...)
	default:
		issues = append(issues, Issue{SeverityError, "kind", fmt.Sprintf("unsupported kind %q (want urls or paged)", p.Kind)})
	}

	issues = append(issues, validateKeys(p.LoginMode, p.Config)...)
	issues = append(issues, validatePolicy(p.Mode, p.DedupField)...)

	if _, err := naming.ParseMode(p.RenameMode); err != nil {
		issues = append(issues, Issue{SeverityError, "rename_mode", err.Error()})
	}

	issues = append(issues, validateParser(p.Parser)...)
	issues = append(issues, validateStorage(p.Storage)...)
	issues = append(issues, validateErrorLog(p.ErrorLog)...)
	issues = append(issues, validateRuntime(p.Runtime)...)

	if p.Schedule != "" {
		if _, err := cron.ParseStandard(p.Schedule); err != nil {
			issues = append(issues, Issue{SeverityError, "schedule", fmt.Sprintf("invalid cron expression: %v", err)})
		}
	}
	return issues
}

func validateSources(srcs []Source) []Issue {
	var issues []Issue
	if len(srcs) == 0 {
		return []Issue{{SeverityError, "sources", "at least one source url is required"}}
	}
	for i, s := range srcs {
		path := fmt.Sprintf("sources[%d]", i)
		issues = append(issues, validateURL(path+".url", s.URL)...)
		switch s.Auth {
		case "", "none", "basic", "apikey", "bearer":
		default:
			issues = append(issues, Issue{SeverityError, path + ".auth", fmt.Sprintf("unsupported auth %q (want none, basic, apikey or bearer)", s.Auth)})
		}
	}
	return issues
}

func validateURL(path, raw string) []Issue {
	if strings.TrimSpace(raw) == "" {
		return []Issue{{SeverityError, path, "url must not be empty"}}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return []Issue{{SeverityError, path, fmt.Sprintf("invalid url: %v", err)}}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return []Issue{{SeverityError, path, fmt.Sprintf("url scheme %q is not http or https", u.Scheme)}}
	}
	return nil
}

func validatePaged(pg Paged) []Issue {
	var issues []Issue
	if !strings.Contains(pg.URL, "{page}") {
		issues = append(issues, Issue{SeverityError, "paged.url", "url must contain a {page} placeholder"})
	} else {
		issues = append(issues, validateURL("paged.url", strings.NewReplacer("{page}", "1", "{after}", "0").Replace(pg.URL))...)
	}
	if pg.MaxPages < 0 {
		issues = append(issues, Issue{SeverityError, "paged.max_pages", "max_pages must be >= 0"})
	}
	if strings.Contains(pg.URL, "{after}") && pg.CursorColumn == "" {
		issues = append(issues, Issue{SeverityWarning, "paged.cursor_column", "url uses {after} but no cursor_column is set; every run starts from 0"})
	}
	return issues
}

func validateKeys(loginMode string, keys Keys) []Issue {
	mode, err := ParseLoginMode(loginMode)
	if err != nil {
		return []Issue{{SeverityError, "login_mode", err.Error()}}
	}
	var mk *MissingKeysError
	if err := keys.Validate(mode); errors.As(err, &mk) {
		issues := make([]Issue, 0, len(mk.Missing))
		for _, k := range mk.Missing {
			issues = append(issues, Issue{SeverityError, "config." + k, fmt.Sprintf("required for login_mode %s", mode)})
		}
		return issues
	}
	if mode == LoginOAuth && keys.Get(KeyTokenURL, "") == "" {
		return []Issue{{SeverityError, "config." + KeyTokenURL, "required to refresh oauth tokens"}}
	}
	return nil
}

func validatePolicy(mode, dedup string) []Issue {
	switch mode {
	case "", "append":
		return nil
	case "full":
		if dedup != "" {
			return []Issue{{SeverityWarning, "dedup_field", "dedup_field is ignored in full mode; the target is truncated instead"}}
		}
		return nil
	}
	return []Issue{{SeverityError, "mode", fmt.Sprintf("unsupported mode %q (want full or append)", mode)}}
}

func validateParser(p Parser) []Issue {
	switch p.Kind {
	case "", "csv":
		if c := p.Options.String("comma", ","); len([]rune(c)) != 1 {
			return []Issue{{SeverityError, "parser.options.comma", "comma must be a single character"}}
		}
		return nil
	case "json":
		return nil
	}
	return []Issue{{SeverityError, "parser.kind", fmt.Sprintf("unsupported parser kind %q (want csv or json)", p.Kind)}}
}

func validateStorage(s Storage) []Issue {
	switch s.Kind {
	case "bigquery":
		return nil
	case "postgres", "mssql", "mysql", "sqlite":
		if strings.TrimSpace(s.DSN) == "" {
			return []Issue{{SeverityError, "storage.dsn", fmt.Sprintf("dsn is required for %s", s.Kind)}}
		}
		return nil
	case "":
		return []Issue{{SeverityError, "storage.kind", "storage kind must not be empty"}}
	}
	return []Issue{{SeverityError, "storage.kind", fmt.Sprintf("unsupported storage kind %q", s.Kind)}}
}

func validateErrorLog(e ErrorLog) []Issue {
	if e.Disabled || e.Table == "" {
		return nil
	}
	if parts := strings.Split(e.Table, "."); len(parts) < 2 || len(parts) > 3 {
		return []Issue{{SeverityError, "error_log.table", "table must be dataset.table or project.dataset.table"}}
	}
	return nil
}

func validateRuntime(r RuntimeConfig) []Issue {
	var issues []Issue
	if d, err := r.RequestTimeout(); err != nil {
		issues = append(issues, Issue{SeverityError, "runtime.timeout", fmt.Sprintf("invalid duration: %v", err)})
	} else if d <= 0 {
		issues = append(issues, Issue{SeverityError, "runtime.timeout", "timeout must be positive"})
	}
	if r.FetchWorkers < 0 {
		issues = append(issues, Issue{SeverityError, "runtime.fetch_workers", "fetch_workers must be >= 0"})
	}
	if r.ChunkSize < 0 {
		issues = append(issues, Issue{SeverityError, "runtime.chunk_size", "chunk_size must be >= 0"})
	}
	if r.MaxBodyBytes < 0 {
		issues = append(issues, Issue{SeverityError, "runtime.max_body_bytes", "max_body_bytes must be >= 0"})
	}
	if r.InsecureSkipVerify {
		issues = append(issues, Issue{SeverityWarning, "runtime.insecure_skip_verify", "TLS certificates are not verified"})
	}
	for k := range r.Headers {
		if strings.TrimSpace(k) == "" {
			issues = append(issues, Issue{SeverityError, "runtime.headers", "header names must not be empty"})
			break
		}
	}
	return issues
}
