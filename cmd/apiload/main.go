// Command apiload runs API-to-warehouse load pipelines described by JSON or
// YAML pipeline files.
//
//	apiload validate pipelines/sales.yaml
//	apiload run pipelines/sales.yaml pipelines/stock.yaml
//	apiload schedule pipelines/*.yaml
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	// register all backends with the storage factory.
	_ "apiload/internal/storage/all"
)

var version = "dev"

// globalFlags are shared by every subcommand.
type globalFlags struct {
	metricsBackend string
	pushGatewayURL string
	dogstatsdAddr  string
	secretStore    string
	verbose        bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "apiload",
		Short:         "Load REST API exports into a warehouse table",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			log.SetOutput(cmd.ErrOrStderr())
			if g.verbose {
				log.SetFlags(log.LstdFlags | log.Lmicroseconds)
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&g.metricsBackend, "metrics-backend", "", "metrics backend: pushgateway, datadog or none (env METRICS_BACKEND)")
	pf.StringVar(&g.pushGatewayURL, "pushgateway-url", "", "Pushgateway base URL (env PUSHGATEWAY_URL)")
	pf.StringVar(&g.dogstatsdAddr, "dogstatsd-addr", "", "DogStatsD address (env DD_DOGSTATSD_ADDR)")
	pf.StringVar(&g.secretStore, "secret-store", "", "secret store for secret:// values: env or gcp (env SECRET_STORE)")
	pf.BoolVarP(&g.verbose, "verbose", "v", false, "enable verbose logs")

	root.AddCommand(newRunCmd(g), newValidateCmd(), newScheduleCmd(g))
	return root
}

// firstNonEmpty returns the first non-empty value.
func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
