// Package cmd provides the jackpotgate CLI: the HTTP server and the
// operator commands for users, IP policy and rate limits.
package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/spf13/cobra"

	"jackpotgate/config"
	"jackpotgate/logging"
)

type rootOptions struct {
	configPath string
	dataDir    string
	logLevel   string
	logFile    string
}

// Execute runs the CLI with os.Args.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "jackpotgate",
		Short: "Authentication and rate-limiting gate for the jackpot analytics dashboard",
		Long: `jackpotgate guards the jackpot analytics dashboard with username and
password login, IP allow/deny lists, per-user and per-IP lockouts and
CSV audit logs of every login attempt.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}
			return opts.load(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return logging.Close()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.json", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&opts.dataDir, "data-dir", "", "Directory holding credentials.json, ip_config.json and logs/ (overrides config)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	rootCmd.PersistentFlags().StringVarP(&opts.logFile, "logfile", "l", "", "Log file path (logs are also written to console)")

	rootCmd.AddCommand(
		newServeCmd(),
		newUserCmd(),
		newIPCmd(),
		newRateLimitCmd(),
	)
	return rootCmd
}

// load reads the configuration file, applies flag overrides and starts
// logging. A missing file leaves the defaults in place.
func (o *rootOptions) load(cmd *cobra.Command) error {
	cfgErr := config.LoadConfig(o.configPath)
	missing := errors.Is(cfgErr, fs.ErrNotExist)
	if cfgErr != nil && !missing {
		return fmt.Errorf("failed to load configuration from %s: %w", o.configPath, cfgErr)
	}
	if missing {
		config.AppConfig = config.Default()
		if err := config.Finalize(); err != nil {
			return err
		}
	}

	if o.dataDir != "" {
		config.AppConfig.DataDir = o.dataDir
	}
	if o.logLevel != "" {
		config.AppConfig.LogLevel = o.logLevel
	}
	if o.logFile != "" {
		config.AppConfig.LogFile = o.logFile
	}

	if err := logging.Initialize(logging.Config{
		Level: config.AppConfig.LogLevel,
		File:  config.AppConfig.LogFile,
		JSON:  config.AppConfig.LogJSON,
	}); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	if missing {
		slog.Debug("No configuration file, using defaults", "path", o.configPath)
	}
	return nil
}
