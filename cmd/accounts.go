package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/angeloszaimis/poolgate/config"
	"github.com/angeloszaimis/poolgate/internal/account"
	"github.com/angeloszaimis/poolgate/internal/health"
	"github.com/angeloszaimis/poolgate/internal/store"
)

const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

var accountsFlags struct {
	status string
	output string
	reason string
}

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manage the account pool",
	Long: `Inspect and manage the accounts in the pool store.

Subcommands:
  import  - Import registration output
  list    - List accounts
  stats   - Show pool statistics
  enable  - Return an account to service
  disable - Take an account out of service

Examples:
  # Import the output of the registration tool
  poolgate accounts import registered_accounts.json

  # List disabled accounts as YAML
  poolgate accounts list --status disabled -o yaml`,
}

var accountsImportCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Import registration output",
	Long: `Import accounts from registration output: a JSON array of
registrations, or an object with an "accounts" array. Entries that failed
registration or carry no API key are skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, _ *config.Config, st store.Store, _ *slog.Logger) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			imported, err := store.Import(ctx, st, f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d accounts\n", imported)
			return nil
		})
	},
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List accounts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, cfg *config.Config, st store.Store, _ *slog.Logger) error {
			accounts, err := st.List(ctx)
			if err != nil {
				return err
			}

			accounts, err = filterByStatus(accounts, accountsFlags.status)
			if err != nil {
				return err
			}

			return writeAccounts(cmd.OutOrStdout(), accountsFlags.output, accounts, time.Now())
		})
	},
}

var accountsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show pool statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, _ *config.Config, st store.Store, _ *slog.Logger) error {
			accounts, err := st.List(ctx)
			if err != nil {
				return err
			}
			writeStats(cmd.OutOrStdout(), account.Summarize(accounts, time.Now()))
			return nil
		})
	},
}

var accountsEnableCmd = &cobra.Command{
	Use:   "enable ID",
	Short: "Return an account to service",
	Long:  `Reinstate an account: it becomes active with its failure counter, cooldown and disabled reason cleared.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, cfg *config.Config, st store.Store, _ *slog.Logger) error {
			tracker := health.NewTracker(st, health.Policy{
				FailureThreshold: cfg.Pool.FailureThreshold,
				Cooldown:         cfg.Pool.Cooldown(),
			})
			_, transition, err := tracker.Reinstate(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s -> %s\n", args[0], transition.From, transition.To)
			return nil
		})
	},
}

var accountsDisableCmd = &cobra.Command{
	Use:   "disable ID",
	Short: "Take an account out of service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, _ *config.Config, st store.Store, _ *slog.Logger) error {
			acc, err := st.MarkDisabled(ctx, args[0], accountsFlags.reason)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (%s)\n", acc.ID, acc.Status, acc.DisabledReason)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(accountsCmd)
	accountsCmd.AddCommand(accountsImportCmd, accountsListCmd, accountsStatsCmd, accountsEnableCmd, accountsDisableCmd)

	accountsListCmd.Flags().StringVar(&accountsFlags.status, "status", "", "only list accounts with this status (active, cooling_down, disabled)")
	accountsListCmd.Flags().StringVarP(&accountsFlags.output, "output", "o", outputTable, "output format (table, json, yaml)")
	accountsDisableCmd.Flags().StringVar(&accountsFlags.reason, "reason", "disabled by operator", "reason recorded on the account")
}

// withStore opens the configured store for the duration of fn.
func withStore(fn func(ctx context.Context, cfg *config.Config, st store.Store, log *slog.Logger) error) (err error) {
	cfg, log, err := loadConfig(os.Stderr)
	if err != nil {
		return err
	}

	st, err := store.Open(store.Options{Driver: cfg.Store.Driver, Path: cfg.Store.Path}, log)
	if err != nil {
		return fmt.Errorf("failed to open account store: %w", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to close account store: %w", closeErr))
		}
	}()

	return fn(context.Background(), cfg, st, log)
}

func filterByStatus(accounts []account.Account, raw string) ([]account.Account, error) {
	if raw == "" {
		return accounts, nil
	}

	status, err := account.ParseStatus(raw)
	if err != nil {
		return nil, err
	}

	filtered := make([]account.Account, 0, len(accounts))
	for _, acc := range accounts {
		if acc.Status == status {
			filtered = append(filtered, acc)
		}
	}
	return filtered, nil
}

// accountRow is an account as printed by the CLI. The key is masked.
type accountRow struct {
	ID                  string    `json:"id" yaml:"id"`
	Email               string    `json:"email,omitempty" yaml:"email,omitempty"`
	APIKey              string    `json:"api_key" yaml:"api_key"`
	Status              string    `json:"status" yaml:"status"`
	Condition           string    `json:"condition" yaml:"condition"`
	ConsecutiveFailures int       `json:"consecutive_failures" yaml:"consecutive_failures"`
	TotalRequests       int64     `json:"total_requests" yaml:"total_requests"`
	SuccessRate         float64   `json:"success_rate" yaml:"success_rate"`
	AvgLatency          string    `json:"avg_latency" yaml:"avg_latency"`
	LastUsed            time.Time `json:"last_used,omitempty" yaml:"last_used,omitempty"`
	CooldownUntil       time.Time `json:"cooldown_until,omitempty" yaml:"cooldown_until,omitempty"`
	LastError           string    `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	DisabledReason      string    `json:"disabled_reason,omitempty" yaml:"disabled_reason,omitempty"`
}

func newAccountRow(acc account.Account, now time.Time) accountRow {
	return accountRow{
		ID:                  acc.ID,
		Email:               acc.Email,
		APIKey:              acc.MaskedKey(),
		Status:              acc.Status.String(),
		Condition:           health.ConditionOf(acc, now).String(),
		ConsecutiveFailures: acc.ConsecutiveFailures,
		TotalRequests:       acc.TotalRequests,
		SuccessRate:         acc.SuccessRate(),
		AvgLatency:          acc.AvgLatency.Round(time.Millisecond).String(),
		LastUsed:            acc.LastUsed,
		CooldownUntil:       acc.CooldownUntil,
		LastError:           acc.LastError,
		DisabledReason:      acc.DisabledReason,
	}
}

func writeAccounts(w io.Writer, format string, accounts []account.Account, now time.Time) error {
	rows := make([]accountRow, 0, len(accounts))
	for _, acc := range accounts {
		rows = append(rows, newAccountRow(acc, now))
	}

	switch format {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)

	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rows); err != nil {
			return err
		}
		return enc.Close()

	case outputTable, "":
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSTATUS\tCONDITION\tFAILURES\tREQUESTS\tSUCCESS\tLATENCY\tKEY")
		for _, r := range rows {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%.1f%%\t%s\t%s\n",
				r.ID, r.Status, r.Condition, r.ConsecutiveFailures, r.TotalRequests, r.SuccessRate, r.AvgLatency, r.APIKey)
		}
		return tw.Flush()

	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func writeStats(w io.Writer, stats account.Stats) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Total accounts:\t%d\n", stats.Total)
	fmt.Fprintf(tw, "Active:\t%d\n", stats.Active)
	fmt.Fprintf(tw, "Cooling down:\t%d\n", stats.CoolingDown)
	fmt.Fprintf(tw, "Disabled:\t%d\n", stats.Disabled)
	fmt.Fprintf(tw, "Total requests:\t%d\n", stats.TotalRequests)
	fmt.Fprintf(tw, "Success rate:\t%.1f%%\n", stats.SuccessRate)
	fmt.Fprintf(tw, "Avg latency:\t%s\n", stats.AvgLatency.Round(time.Millisecond))
	tw.Flush()
}
