package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/deepnoodle-ai/recon/control"
	"github.com/deepnoodle-ai/recon/state"
)

// StartOptions holds flags for the start command.
type StartOptions struct {
	*RootOptions
	ItemsPath string
}

// statementFile is the structure of the --items file: bank and ERP
// statement lines to pair by amount before the queue is worked.
type statementFile struct {
	BankItems []state.Item `yaml:"bank_items"`
	ErpItems  []state.Item `yaml:"erp_items"`
}

func loadStatements(path string) (state.State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return state.State{}, fmt.Errorf("failed to read items file %q: %w", path, err)
	}
	var file statementFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return state.State{}, fmt.Errorf("failed to decode items file %q as YAML: %w", path, err)
	}
	return state.State{BankItems: file.BankItems, ErpItems: file.ErpItems}, nil
}

// NewStartCommand creates the start command.
func NewStartCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StartOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a session and run until the first review",
		Long: `Start a new session. The session runs until an item needs review or the
ledger has no unresolved lines left.

Examples:
  recon start
  recon start --items statements.yaml --session JAN_2026_RECON`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var initial state.State
			if opts.ItemsPath != "" {
				loaded, err := loadStatements(opts.ItemsPath)
				if err != nil {
					return WrapExitError(ExitCommandError, "invalid items file", err)
				}
				initial = loaded
			}
			return opts.withService(cmd, func(ctx context.Context, svc *control.Service, session string) *control.Response {
				return svc.Begin(ctx, session, initial)
			})
		},
	}

	cmd.Flags().StringVar(&opts.ItemsPath, "items", "", "YAML file with bank_items and erp_items to match by amount")

	return cmd
}

// NewStatusCommand creates the status command.
func NewStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show where a session is and what awaits review",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withService(cmd, func(ctx context.Context, svc *control.Service, session string) *control.Response {
				return svc.Status(ctx, session)
			})
		},
	}
}

// NewChooseCommand creates the choose command.
func NewChooseCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "choose <category>",
		Short: "Submit the reviewer's category and resume the session",
		Long: `Submit a category for the item awaiting review. The session audits the
item, records the outcome and runs until the next review or completion.

Examples:
  recon choose "Office Supplies"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withService(cmd, func(ctx context.Context, svc *control.Service, session string) *control.Response {
				return svc.Choose(ctx, session, args[0])
			})
		},
	}
}

// NewRenotifyCommand creates the renotify command.
func NewRenotifyCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "renotify",
		Short: "Send the review request for the paused item again",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withService(cmd, func(ctx context.Context, svc *control.Service, session string) *control.Response {
				return svc.Renotify(ctx, session)
			})
		},
	}
}

// OverrideOptions holds flags for the override command.
type OverrideOptions struct {
	*RootOptions
	Category string
}

// NewOverrideCommand creates the override command.
func NewOverrideCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &OverrideOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "override",
		Short: "Force-resolve the paused item, bypassing review and audit",
		Long: `Resolve the item awaiting review without the audit rules. The outcome is
flagged ADMIN_OVERRIDE. Without --category the first suggested label is used.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withService(cmd, func(ctx context.Context, svc *control.Service, session string) *control.Response {
				return svc.Override(ctx, session, opts.Category)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Category, "category", "", "category to record (default: first suggested label)")

	return cmd
}

// NewContinueCommand creates the continue command.
func NewContinueCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "continue",
		Short: "Retry a session whose last run stopped on an error",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withService(cmd, func(ctx context.Context, svc *control.Service, session string) *control.Response {
				return svc.Continue(ctx, session)
			})
		},
	}
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List every checkpoint of a session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withService(cmd, func(ctx context.Context, svc *control.Service, session string) *control.Response {
				return svc.History(ctx, session)
			})
		},
	}
}
