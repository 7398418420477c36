package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

// NewLedgerCommand creates the ledger command group.
func NewLedgerCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Add statement lines and categories to the ledger",
	}
	cmd.AddCommand(newLedgerAddCommand(opts))
	cmd.AddCommand(newLedgerCategoryCommand(opts))
	return cmd
}

func newLedgerAddCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add <description> <amount>",
		Short: "Add an unresolved statement line",
		Long: `Add an unresolved statement line. Negative amounts are outflows.

Examples:
  recon ledger add "Mystery Wire Transfer" 1200
  recon ledger add "AWS Invoice" -- -349.99`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			description := strings.TrimSpace(args[0])
			if description == "" {
				return NewExitError(ExitCommandError, "description is required")
			}
			amount, err := decimal.NewFromString(args[1])
			if err != nil {
				return WrapExitError(ExitCommandError, fmt.Sprintf("invalid amount %q", args[1]), err)
			}
			return opts.withLedger(cmd, func(ctx context.Context, w io.Writer, l ledgerStore) error {
				item, err := l.AddItem(ctx, description, amount)
				if err != nil {
					return err
				}
				if opts.JSON {
					return writeJSON(w, item)
				}
				RenderItem(w, item)
				return nil
			})
		},
	}
}

func newLedgerCategoryCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "category <name>",
		Short: "Add a category to the vocabulary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			if name == "" {
				return NewExitError(ExitCommandError, "category name is required")
			}
			return opts.withLedger(cmd, func(ctx context.Context, w io.Writer, l ledgerStore) error {
				if err := l.AddCategory(ctx, name); err != nil {
					return err
				}
				if opts.JSON {
					return writeJSON(w, map[string]string{"category": name})
				}
				RenderCategory(w, name)
				return nil
			})
		},
	}
}
