package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/angeloszaimis/poolgate/config"
	"github.com/angeloszaimis/poolgate/pkg/logger"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "poolgate",
	Short: "OpenAI-compatible gateway over a pool of upstream accounts",
	Long: `poolgate routes chat-completion requests across a pool of upstream
accounts. Accounts that fail are cooled down or disabled and the request is
retried on another account, so clients see one reliable endpoint.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		loadEnvFile()
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default ./config/config.yaml or ./config.yaml)")
}

// loadEnvFile loads a .env file from the working directory or the nearest
// parent that has one. Variables already set are not overridden.
func loadEnvFile() {
	workDir, err := os.Getwd()
	if err != nil {
		slog.Warn("Could not determine working directory", slog.Any("err", err))
		return
	}

	for dir := workDir; ; dir = filepath.Dir(dir) {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			if err := godotenv.Load(envPath); err != nil {
				slog.Warn("Failed to load env file", slog.String("path", envPath), slog.Any("err", err))
				return
			}
			slog.Debug("Loaded env file", slog.String("path", envPath))
			return
		}
		if dir == filepath.Dir(dir) {
			return
		}
	}
}

// loadConfig loads the configuration and a logger writing to w.
func loadConfig(w io.Writer) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}

	log := logger.NewWithWriter(w, cfg.Logging.Level, false, cfg.Server.Environment)
	return cfg, log, nil
}
