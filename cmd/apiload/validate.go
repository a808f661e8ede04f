package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"apiload/internal/config"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate PIPELINE...",
		Short: "Check pipeline files without running them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var invalid int
			for _, path := range args {
				p, err := config.Load(path)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
					invalid++
					continue
				}
				issues := config.ValidatePipeline(p)
				for _, iss := range issues {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s: %s: %s\n", path, iss.Severity, iss.Path, iss.Message)
				}
				if len(config.Errors(issues)) > 0 {
					invalid++
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", path)
			}
			if invalid > 0 {
				return fmt.Errorf("%d of %d pipelines are invalid", invalid, len(args))
			}
			return nil
		},
	}
}
