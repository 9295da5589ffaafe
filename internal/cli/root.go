// Package cli implements the auditreport command line.
package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/aburke/highgarden/internal/config"
	"github.com/aburke/highgarden/internal/logging"
)

// Version is set at build time with -ldflags "-X".
var Version = "dev"

// NewRootCmd returns the auditreport command tree.
func NewRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "auditreport",
		Short:         "Daily admin panel audit trail report",
		Long:          "Exports a day of admin panel logs, turns every recognized admin action into\naudit rows, publishes the CSV and posts its link to Slack.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file (env vars take precedence)")

	root.AddCommand(
		newRunCmd(&configPath),
		newParseCmd(&configPath),
		newScheduleCmd(&configPath),
	)
	return root
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "auditreport: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration and installs the default logger. With
// strict unset, validation errors are logged and the config is still
// returned.
func loadConfig(path string, strict bool) (*config.Config, *slog.Logger, error) {
	cfg, errs := config.Load(path)
	if cfg == nil {
		return nil, nil, errors.Join(errs...)
	}

	logger := logging.NewLogger(cfg.Env, cfg.LogLevel)
	slog.SetDefault(logger)
	if _, err := logging.ParseLevel(cfg.LogLevel); err != nil {
		logger.Warn("invalid log level, using info", "error", err)
	}

	if len(errs) > 0 {
		if strict {
			return nil, nil, fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
		}
		for _, err := range errs {
			logger.Warn("configuration problem", "error", err)
		}
	}
	logger.Debug("configuration loaded", "config", cfg.LogSummary())
	return cfg, logger, nil
}
