// Copyright (c) 2025 nlcube
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package cmd provides the nlcube command-line interface. It asks questions
// about registered subjects in natural language, runs raw SQL, manages
// subjects and serves the HTTP API, using the Cobra CLI framework.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"nlcube/cli/internal/app"
	"nlcube/cli/internal/config"
	"nlcube/cli/internal/keychain"
	"nlcube/cli/internal/logging"
)

var (
	configPath  string
	dataDir     string
	logLevel    string
	logFormat   string
	showVersion bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "nlcube",
	Short: "Ask questions about your data in plain language",
	Long: `nlcube translates natural-language questions into SQL, checks that the
statement is safe to run, and executes it against a named subject (a SQLite
file or a Postgres schema). Results are shown as tables or served over HTTP
as Arrow streams.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if showVersion {
			fmt.Printf("nlcube %s\n", Version)
			return nil
		}
		return cmd.Help()
	},
}

// Execute runs the CLI application.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		pterm.Println(logging.Describe(err))
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().BoolVar(&showVersion, "version", false, "Show version information")
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Path to the config file (default: XDG config dir)")
	pf.StringVar(&dataDir, "data-dir", "", "Directory holding SQLite subjects")
	pf.StringVar(&logLevel, "log-level", "", "Log level: trace, debug, info, warn, error")
	pf.StringVar(&logFormat, "log-format", "", "Log format: text or json")
}

// loadConfig reads the config file and applies command-line overrides.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logFormat != "" {
		cfg.LogFormat = logFormat
	}
	return cfg, nil
}

// resolveAPIKey fills the translator API key from the OS keychain when
// neither the environment nor the config file supplied one.
func resolveAPIKey(cfg *config.Config, logger *pterm.Logger) {
	if strings.TrimSpace(cfg.Translator.APIKey) != "" {
		return
	}
	km, err := keychain.GetManager()
	if err != nil {
		logger.Debug("keychain unavailable", logger.Args("error", err.Error()))
		return
	}
	key, err := km.LoadAPIKey()
	if err != nil {
		if !errors.Is(err, keychain.ErrNotFound) {
			logger.Warn("could not read API key from keychain", logger.Args("error", logging.Mask(err.Error())))
		}
		return
	}
	cfg.Translator.APIKey = key
}

// openApp loads configuration and builds every component. When reg is nil
// metrics are kept in process only. One-shot commands pass quiet so only
// warnings reach the terminal unless --log-level asks for more.
func openApp(ctx context.Context, reg prometheus.Registerer, quiet bool) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if quiet && logLevel == "" {
		cfg.LogLevel = "warn"
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	resolveAPIKey(&cfg, logger)

	a, err := app.Build(cfg, logger, reg)
	if err != nil {
		return nil, err
	}
	if err := a.Service.Discover(ctx); err != nil {
		_ = a.Close(context.WithoutCancel(ctx))
		return nil, err
	}
	return a, nil
}

// withApp runs fn against a freshly built app and closes it afterwards.
// NLCUBE_SUBJECT selects the subject used when a command names none.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, nil, true)
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))

	if name := strings.TrimSpace(os.Getenv("NLCUBE_SUBJECT")); name != "" {
		ctx, err = a.Service.SelectCurrentSubject(ctx, name)
		if err != nil {
			return err
		}
	}
	return fn(ctx, a)
}
