// Package cmd defines the CLI commands for the linkgate executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/linkgate/internal/config"
	"github.com/JakeFAU/linkgate/internal/logging"
)

var cfgFile string

type envKeyType string

const envKey envKeyType = "env"

// env is what every subcommand gets from the root: loaded config and a
// logger built from it.
type env struct {
	cfg    config.Config
	logger *zap.Logger
}

// loadConfig is a variable so tests can inject a config without a file.
var loadConfig = config.Load

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "linkgate",
		Short: "Bot gatekeeper and in-app browser escape for link-in-bio pages.",
		Long: `linkgate sits in front of link-in-bio pages. It hides protected pages
from crawlers, drops automated and prefetch traffic from the analytics API,
detects in-app browsers, and tells those pages how to break out to the
system browser.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)
			cmd.SetContext(context.WithValue(cmd.Context(), envKey, &env{cfg: cfg, logger: logger}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if e, ok := cmd.Context().Value(envKey).(*env); ok && e != nil {
				_ = e.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./linkgate.yaml or /etc/linkgate/linkgate.yaml)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newProbeCmd())

	return cmd
}

func resolveEnv(ctx context.Context) (*env, error) {
	e, ok := ctx.Value(envKey).(*env)
	if !ok || e == nil {
		return nil, errors.New("command environment not initialized")
	}
	return e, nil
}

// Execute runs the root command until it returns or the process is signaled.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "linkgate: %v\n", err)
		stop()
		os.Exit(1)
	}
}
