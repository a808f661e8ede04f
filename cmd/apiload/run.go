package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"apiload/internal/config"
	"apiload/internal/failure"
	"apiload/internal/loader"
	"apiload/internal/metrics"
	"apiload/internal/metrics/datadog"
	"apiload/internal/metrics/prompush"
	"apiload/internal/secret"
	"apiload/internal/storage"
)

// Function variables used to introduce test seams.
var (
	newSinkFn = storage.New

	openSecretsFn = secret.Open
)

func newRunCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run PIPELINE...",
		Short: "Run each pipeline once",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			flush := setupMetrics(g, jobName(args))
			defer flush()

			var failed int
			for _, path := range args {
				status, err := runOnce(ctx, g, path)
				fmt.Fprintln(cmd.OutOrStdout(), status)
				if err != nil {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d pipelines failed", failed, len(args))
			}
			return nil
		},
	}
}

// errRunFailed marks a run whose failure was already reported in the status.
var errRunFailed = errors.New("run failed")

// runOnce loads, validates and runs one pipeline file and returns its status
// line. Config errors are reported before any secret, sink or network call;
// later failures are recorded in the pipeline's error log.
func runOnce(ctx context.Context, g *globalFlags, path string) (string, error) {
	start := time.Now()
	p, err := config.Load(path)
	if err != nil {
		return fmt.Sprintf("%s - %s (config): %v", path, loader.StatusFailed, err), err
	}
	if err := checkConfig(path, p); err != nil {
		metrics.RecordFailure(p.Job, string(failure.KindConfig))
		return fmt.Sprintf("%s - %s (%s): %v", firstNonEmpty(p.Job, path), loader.StatusFailed, failure.KindConfig, err), err
	}

	project := p.Config.Get(config.KeyProjectID, "")
	store, closeStore, err := openSecretsFn(ctx, firstNonEmpty(g.secretStore, os.Getenv("SECRET_STORE")), project)
	if err != nil {
		return fmt.Sprintf("%s - %s (config): %v", p.Job, loader.StatusFailed, err), err
	}
	defer func() { _ = closeStore() }()

	sink, err := newSinkFn(ctx, storage.Config{
		Kind:            p.Storage.Kind,
		DSN:             p.Storage.DSN,
		Project:         project,
		Location:        p.Storage.Location,
		CredentialsFile: p.Storage.CredentialsFile,
		BatchSize:       p.Runtime.Chunk(),
	})
	if err != nil {
		return fmt.Sprintf("%s - %s (sink): %v", p.Job, loader.StatusFailed, err), err
	}
	defer sink.Close()

	errLog, err := newErrorLog(p, sink, project)
	if err != nil {
		log.Printf("loader: %s: error log disabled: %v", p.Job, err)
	}

	l, err := loader.New(ctx, p, loader.Deps{Sink: sink, Secrets: store})
	if err != nil {
		if errLog != nil {
			target := strings.Join([]string{project, p.Config[config.KeyDataset], p.Config[config.KeyTable]}, ".")
			if lerr := errLog.Record(ctx, err, target, uuid.NewString()); lerr != nil {
				log.Printf("loader: %s: error log write failed: %v", p.Job, lerr)
			}
		}
		kind := failure.KindOf(err)
		metrics.RecordFailure(p.Job, string(kind))
		return fmt.Sprintf("%s - %s (%s): %v", p.Job, loader.StatusFailed, kind, err), err
	}

	status := loader.RunJob(ctx, l, errLog)
	if g.verbose {
		log.Printf("loader: %s completed in %s", path, time.Since(start).Truncate(time.Millisecond))
	}
	if strings.Contains(status, " - "+loader.StatusFailed) {
		return status, errRunFailed
	}
	return status, nil
}

// checkConfig runs the static checks: required keys for the login mode
// first, then the pipeline linter. Warnings are logged.
func checkConfig(path string, p config.Pipeline) error {
	mode, err := config.ParseLoginMode(p.LoginMode)
	if err != nil {
		return failure.Config("validate config", err)
	}
	if err := p.Config.Validate(mode); err != nil {
		return failure.Config("validate config", err)
	}
	var errs []error
	for _, iss := range config.ValidatePipeline(p) {
		if iss.Severity == config.SeverityWarning {
			log.Printf("loader: %s: %s", path, iss)
			continue
		}
		errs = append(errs, iss)
	}
	if len(errs) > 0 {
		return failure.Config("validate config", errors.Join(errs...))
	}
	return nil
}

func newErrorLog(p config.Pipeline, sink storage.Sink, project string) (*loader.ErrorLog, error) {
	if p.ErrorLog.Disabled {
		return nil, nil
	}
	name := firstNonEmpty(p.ErrorLog.Table, config.DefaultErrorLogTable)
	ref, err := storage.ParseTableRef(name, project)
	if err != nil {
		return nil, err
	}
	return &loader.ErrorLog{Sink: sink, Table: ref}, nil
}

func jobName(paths []string) string {
	if len(paths) == 1 {
		if p, err := config.Load(paths[0]); err == nil && p.Job != "" {
			return p.Job
		}
	}
	return "apiload"
}

// setupMetrics installs the backend picked by flag, then env, and returns
// the flush to run at exit.
func setupMetrics(g *globalFlags, job string) func() {
	nop := func() {}
	name := firstNonEmpty(g.metricsBackend, os.Getenv("METRICS_BACKEND"), "none")

	var (
		b   metrics.Backend
		err error
	)
	switch name {
	case "pushgateway":
		url := firstNonEmpty(g.pushGatewayURL, os.Getenv("PUSHGATEWAY_URL"), "http://localhost:9091")
		b, err = prompush.NewBackend(job, url)
		if err == nil {
			log.Printf("metrics: url=%v, backend=%v, job_name=%v", url, name, job)
		}
	case "datadog":
		addr := firstNonEmpty(g.dogstatsdAddr, os.Getenv("DD_DOGSTATSD_ADDR"), "127.0.0.1:8125")
		b, err = datadog.NewBackend(datadog.Config{Addr: addr, Namespace: "apiload.", GlobalTags: []string{"job:" + job}})
		if err == nil {
			log.Printf("metrics: addr=%v, backend=%v, job_name=%v", addr, name, job)
		}
	case "none":
		if g.verbose {
			log.Printf("metrics: disabled")
		}
		return nop
	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", name)
		return nop
	}
	if err != nil {
		log.Printf("metrics: failed to init %s backend: %v; using nop", name, err)
		return nop
	}

	metrics.SetBackend(b)
	return func() {
		if err := metrics.Flush(); err != nil {
			log.Printf("metrics: flush error: %v", err)
		}
	}
}
