package main

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	_ "modernc.org/sqlite"

	"apiload/internal/metrics"
	"apiload/internal/secret"
	"apiload/internal/storage"
)

func TestMain(m *testing.M) {
	log.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func writePipeline(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func pipelineYAML(url, dsn string) string {
	return fmt.Sprintf(`job: sales
urls:
  - %[1]s/a.csv
  - %[1]s/b.csv
login_mode: none
mode: full
config:
  project_id: local
  raw_dataset_name: raw
  raw_table_name: sales
storage:
  kind: sqlite
  dsn: %[2]s
error_log:
  table: aux.load_errors
`, url, dsn)
}

func execute(args ...string) (string, string, error) {
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func countRows(t *testing.T, dsn, table string) int {
	t.Helper()
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM "` + table + `"`).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func TestValidateCommand(t *testing.T) {
	t.Parallel()

	good := writePipeline(t, "good.yaml", pipelineYAML("https://api.example", "file:x.db"))
	bad := writePipeline(t, "bad.json", `{"job": "", "urls": ["ftp://x"], "storage": {"kind": "sqlite"}}`)

	out, _, err := execute("validate", good)
	if err != nil {
		t.Fatalf("validate good: %v", err)
	}
	if !strings.Contains(out, "good.yaml: ok") {
		t.Fatalf("stdout = %q", out)
	}

	_, errOut, err := execute("validate", good, bad)
	if err == nil || !strings.Contains(err.Error(), "1 of 2") {
		t.Fatalf("validate bad: err = %v", err)
	}
	for _, want := range []string{"error: job:", "error: storage.dsn:", "error: sources[0].url:"} {
		if !strings.Contains(errOut, want) {
			t.Errorf("stderr missing %q:\n%s", want, errOut)
		}
	}
}

func TestRunCommand_LoadsIntoSQLite(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/a.csv":
			io.WriteString(w, "id,Valor Total\n1,10.5\n2,3\n")
		case "/b.csv":
			io.WriteString(w, "id,Valor Total\n3,7\n")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	dsn := "file:" + filepath.Join(t.TempDir(), "wh.db")
	path := writePipeline(t, "sales.yaml", pipelineYAML(srv.URL, dsn))

	out, _, err := execute("run", "--metrics-backend", "none", path)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, "sales - Complete: 3 rows written to") {
		t.Fatalf("status = %q", out)
	}
	if n := countRows(t, dsn, "sales"); n != 3 {
		t.Fatalf("rows = %d, want 3", n)
	}

	// Full mode replaces the table on every run.
	if _, _, err := execute("run", path); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if n := countRows(t, dsn, "sales"); n != 3 {
		t.Fatalf("rows after rerun = %d, want 3", n)
	}
}

func TestRunCommand_FailureIsLogged(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	dsn := "file:" + filepath.Join(t.TempDir(), "wh.db")
	path := writePipeline(t, "sales.yaml", pipelineYAML(srv.URL, dsn))

	out, _, err := execute("run", path)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(out, "sales - Failed (http)") {
		t.Fatalf("status = %q", out)
	}
	if n := countRows(t, dsn, "load_errors"); n != 1 {
		t.Fatalf("error log rows = %d, want 1", n)
	}
}

func TestRunCommand_MissingKeyFailsBeforeAnyIO(t *testing.T) {
	var hits, sinks, stores atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	prevSink, prevSecrets := newSinkFn, openSecretsFn
	t.Cleanup(func() { newSinkFn, openSecretsFn = prevSink, prevSecrets })
	newSinkFn = func(context.Context, storage.Config) (storage.Sink, error) {
		sinks.Add(1)
		return nil, errors.New("dial tcp 10.0.0.1:5432: connect: connection refused")
	}
	openSecretsFn = func(context.Context, string, string) (secret.Store, func() error, error) {
		stores.Add(1)
		return secret.Env{}, func() error { return nil }, nil
	}

	body := strings.Replace(pipelineYAML(srv.URL, "postgres://10.0.0.1:5432/wh"), "login_mode: none", "login_mode: apikey", 1)
	body = strings.Replace(body, "kind: sqlite", "kind: postgres", 1)
	path := writePipeline(t, "sales.yaml", body)

	out, _, err := execute("run", path)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(out, "sales - Failed (config)") || !strings.Contains(out, "api_key") {
		t.Fatalf("status = %q", out)
	}
	if n := sinks.Load(); n != 0 {
		t.Fatalf("sink opened %d times before the config check", n)
	}
	if n := stores.Load(); n != 0 {
		t.Fatalf("secret store opened %d times before the config check", n)
	}
	if n := hits.Load(); n != 0 {
		t.Fatalf("server was hit %d times", n)
	}
}

func TestRunCommand_LinterErrorFailsBeforeSink(t *testing.T) {
	prev := newSinkFn
	t.Cleanup(func() { newSinkFn = prev })
	var sinks atomic.Int32
	newSinkFn = func(context.Context, storage.Config) (storage.Sink, error) {
		sinks.Add(1)
		return nil, errors.New("unreachable")
	}

	body := strings.Replace(pipelineYAML("https://api.example", "file:x.db"), "mode: full", "mode: upsert", 1)
	out, _, err := execute("run", writePipeline(t, "sales.yaml", body))
	if err == nil || !strings.Contains(out, "sales - Failed (config)") {
		t.Fatalf("status = %q, err = %v", out, err)
	}
	if sinks.Load() != 0 {
		t.Fatalf("sink opened for an invalid pipeline")
	}
}

func TestBuildSchedule(t *testing.T) {
	t.Parallel()

	withSchedule := writePipeline(t, "a.yaml", pipelineYAML("https://api.example", "file:x.db")+"schedule: \"0 6 * * *\"\n")
	without := writePipeline(t, "b.yaml", pipelineYAML("https://api.example", "file:x.db"))
	g := &globalFlags{}

	c, err := buildSchedule(context.Background(), g, []string{withSchedule}, "")
	if err != nil {
		t.Fatalf("buildSchedule: %v", err)
	}
	if len(c.Entries()) != 1 {
		t.Fatalf("entries = %d", len(c.Entries()))
	}

	if _, err := buildSchedule(context.Background(), g, []string{without}, ""); err == nil {
		t.Fatalf("expected error for missing schedule")
	}
	c, err = buildSchedule(context.Background(), g, []string{withSchedule, without}, "*/5 * * * *")
	if err != nil || len(c.Entries()) != 2 {
		t.Fatalf("override: %v, %d entries", err, len(c.Entries()))
	}
	if _, err := buildSchedule(context.Background(), g, []string{without}, "not cron"); err == nil {
		t.Fatalf("expected error for invalid cron")
	}
}

func TestSetupMetrics_Disabled(t *testing.T) {
	for _, name := range []string{"none", "graphite"} {
		flush := setupMetrics(&globalFlags{metricsBackend: name}, "job")
		flush()
	}
}

func TestSetupMetrics_PushGateway(t *testing.T) {
	var pushes atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/metrics/job/sales") {
			pushes.Add(1)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	flush := setupMetrics(&globalFlags{metricsBackend: "pushgateway", pushGatewayURL: srv.URL}, "sales")
	metrics.RecordRows("sales", "written", 3)
	flush()
	if n := pushes.Load(); n != 1 {
		t.Fatalf("pushes = %d, want 1", n)
	}
}

func TestFirstNonEmpty(t *testing.T) {
	t.Parallel()

	if got := firstNonEmpty("", "b", "c"); got != "b" {
		t.Fatalf("got %q", got)
	}
	if got := firstNonEmpty(); got != "" {
		t.Fatalf("got %q", got)
	}
}
