package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/angeloszaimis/poolgate/internal/healthcheck"
)

var healthFlags struct {
	concurrency int
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Probe every account once",
	Long: `Send a minimal chat request with every account that is not disabled
and record the outcome in the pool, exactly like the scheduled health check.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig(os.Stderr)
		if err != nil {
			return err
		}
		if healthFlags.concurrency > 0 {
			cfg.HealthCheck.Concurrency = healthFlags.concurrency
		}

		a, err := newApp(cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		summary, err := a.prober.CheckAll(context.Background())
		if err != nil {
			return err
		}

		writeSummary(cmd.OutOrStdout(), summary)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
	healthCmd.Flags().IntVar(&healthFlags.concurrency, "concurrency", 0, "probes in flight at once (default health_check.concurrency)")
}

func writeSummary(w io.Writer, summary healthcheck.Summary) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tHEALTHY\tSTATUS\tCODE\tLATENCY\tERROR")
	for _, r := range summary.Results {
		fmt.Fprintf(tw, "%s\t%t\t%s\t%d\t%s\t%s\n",
			r.AccountID, r.Healthy, r.Status, r.StatusCode, r.Latency.Round(time.Millisecond), r.Error)
	}
	tw.Flush()

	fmt.Fprintf(w, "\nChecked %d accounts: %d healthy, %d failed\n", summary.Checked, summary.Healthy, summary.Failed)
}
