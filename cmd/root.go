// Package cmd defines the uptime CLI: one subcommand per pipeline role.
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

	"github.com/JakeFAU/realtime-uptime/internal/app"
	"github.com/JakeFAU/realtime-uptime/internal/config"
	"github.com/JakeFAU/realtime-uptime/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "uptime",
		Short: "Distributed website uptime pipeline.",
		Long: `uptime runs one role of the tick pipeline per process:
dispatch fans the site registry onto the work log, work probes sites for one
region, consume persists outcomes in batches, and provision creates the
per-region consumer groups.`,
		SilenceUsage: true,

		// Config and logging are ready before any subcommand runs; connections
		// are opened lazily by the subcommand itself.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, logging.FileConfig{
				Path:       cfg.Logging.File,
				MaxSizeMB:  cfg.Logging.MaxSizeMB,
				MaxBackups: cfg.Logging.MaxBackups,
				MaxAgeDays: cfg.Logging.MaxAgeDays,
				Compress:   cfg.Logging.Compress,
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, app.New(cfg, logger)))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return
			}
			a.Close()
			// Syncing stderr fails on some platforms; nothing useful to do about it.
			_ = a.Logger().Sync()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); env vars override it")

	cmd.AddCommand(newDispatchCmd())
	cmd.AddCommand(newWorkCmd())
	cmd.AddCommand(newConsumeCmd())
	cmd.AddCommand(newProvisionCmd())

	return cmd
}

func resolveApp(ctx context.Context) (*app.App, error) {
	if ctx == nil {
		return nil, errors.New("application services not initialized")
	}
	a, ok := ctx.Value(appKey).(*app.App)
	if !ok || a == nil {
		return nil, errors.New("application services not initialized")
	}
	return a, nil
}

// Execute runs the CLI until the command returns or SIGINT/SIGTERM arrives.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
