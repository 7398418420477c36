// Package cli implements the recon command line: session control commands
// backed by the configured checkpoint store, plus ledger commands that stand
// in for statement ingestion.
package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/deepnoodle-ai/recon"
	"github.com/deepnoodle-ai/recon/config"
	"github.com/deepnoodle-ai/recon/control"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	EnvFile    string
	Session    string
	JSON       bool
	Verbose    bool
}

// NewRootCommand creates the root command of the recon CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "recon",
		Short: "Durable ledger reconciliation with human review",
		Long: `Reconcile unresolved ledger lines one at a time.

Each session walks the ledger queue: the matchmaker picks the oldest
unresolved line, the investigator suggests two categories and notifies a
reviewer, and the session pauses until a category is chosen. Sessions are
checkpointed after every step and survive restarts.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config file")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file loaded before the config")
	cmd.PersistentFlags().StringVarP(&opts.Session, "session", "s", "", "session id (overrides config)")
	cmd.PersistentFlags().BoolVar(&opts.JSON, "json", false, "output results as JSON")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "print each node as it runs")

	cmd.AddCommand(NewStartCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewChooseCommand(opts))
	cmd.AddCommand(NewRenotifyCommand(opts))
	cmd.AddCommand(NewOverrideCommand(opts))
	cmd.AddCommand(NewContinueCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewLedgerCommand(opts))

	return cmd
}

// load reads the environment and configuration for a command.
func (o *RootOptions) load() (config.Config, error) {
	if err := config.LoadEnv(o.EnvFile); err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load environment", err)
	}
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	if o.Session != "" {
		cfg.Session = o.Session
	}
	return cfg, nil
}

// withService opens the configured components, runs fn against the control
// service and writes its response.
func (o *RootOptions) withService(cmd *cobra.Command, fn func(ctx context.Context, svc *control.Service, session string) *control.Response) error {
	cfg, err := o.load()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	var callbacks recon.ExecutionCallbacks
	if o.Verbose {
		callbacks = newProgress(cmd.ErrOrStderr())
	}
	a, err := open(ctx, cfg, logger, callbacks)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open stores", err)
	}
	defer a.Close()

	return emit(cmd.OutOrStdout(), o.JSON, fn(ctx, a.service, cfg.Session))
}

// withLedger opens only the ledger and runs fn against it.
func (o *RootOptions) withLedger(cmd *cobra.Command, fn func(ctx context.Context, w io.Writer, l ledgerStore) error) error {
	cfg, err := o.load()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openLedger(ctx, cfg, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open ledger", err)
	}
	defer a.Close()

	if err := fn(ctx, cmd.OutOrStdout(), a.ledger); err != nil {
		return WrapExitError(ExitFailure, fmt.Sprintf("%s failed", cmd.Name()), err)
	}
	return nil
}
