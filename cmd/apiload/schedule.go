package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"apiload/internal/config"
)

func newScheduleCmd(g *globalFlags) *cobra.Command {
	var expr string
	cmd := &cobra.Command{
		Use:   "schedule PIPELINE...",
		Short: "Run pipelines on their cron schedules until interrupted",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			flush := setupMetrics(g, "apiload")
			defer flush()

			c, err := buildSchedule(ctx, g, args, expr)
			if err != nil {
				return err
			}
			c.Start()
			log.Printf("loader: scheduled %d pipeline(s)", len(c.Entries()))
			<-ctx.Done()
			<-c.Stop().Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&expr, "cron", "", "cron expression overriding every pipeline's schedule")
	return cmd
}

// buildSchedule registers one cron entry per pipeline file. Files are
// re-read on every tick so edits apply to the next run.
func buildSchedule(ctx context.Context, g *globalFlags, paths []string, override string) (*cron.Cron, error) {
	c := cron.New()
	for _, path := range paths {
		p, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		when := firstNonEmpty(override, p.Schedule)
		if when == "" {
			return nil, fmt.Errorf("%s: no schedule (set schedule in the file or pass --cron)", path)
		}
		path := path
		if _, err := c.AddFunc(when, func() {
			status, _ := runOnce(ctx, g, path)
			log.Printf("loader: %s", status)
		}); err != nil {
			return nil, fmt.Errorf("%s: invalid schedule %q: %w", path, when, err)
		}
	}
	return c, nil
}
