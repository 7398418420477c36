package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/deepnoodle-ai/recon"
	"github.com/deepnoodle-ai/recon/state"
)

// store is the concrete surface shared by every ledger implementation.
type store interface {
	Gateway
	AddItem(ctx context.Context, description string, amount decimal.Decimal) (state.Item, error)
	AddCategory(ctx context.Context, name string) error
	Records(ctx context.Context) ([]Record, error)
	Status(ctx context.Context, id int64) (string, error)
}

func runLedgerSuite(t *testing.T, newStore func(t *testing.T) store) {
	t.Run("unresolved items are listed oldest first", func(t *testing.T) {
		ctx := context.Background()
		l := newStore(t)
		rent, err := l.AddItem(ctx, "Office Rent", decimal.NewFromInt(-1200))
		require.NoError(t, err)
		_, err = l.AddItem(ctx, "Client Payment", decimal.RequireFromString("5000.50"))
		require.NoError(t, err)

		items, err := l.ListUnresolved(ctx)
		require.NoError(t, err)
		require.Len(t, items, 2)
		require.Equal(t, rent.ID, items[0].ID)
		require.Equal(t, "Office Rent", items[0].Description)
		require.True(t, items[0].Amount.Equal(decimal.NewFromInt(-1200)))
		require.True(t, items[1].Amount.Equal(decimal.RequireFromString("5000.5")))
	})

	t.Run("empty ledger returns an empty queue", func(t *testing.T) {
		items, err := newStore(t).ListUnresolved(context.Background())
		require.NoError(t, err)
		require.NotNil(t, items)
		require.Empty(t, items)
	})

	t.Run("update status by id removes the item from the queue", func(t *testing.T) {
		ctx := context.Background()
		l := newStore(t)
		rent, err := l.AddItem(ctx, "Office Rent", decimal.NewFromInt(-1200))
		require.NoError(t, err)
		require.NoError(t, l.UpdateStatus(ctx, rent, StatusReconciled))

		items, err := l.ListUnresolved(ctx)
		require.NoError(t, err)
		require.Empty(t, items)
		status, err := l.Status(ctx, rent.ID)
		require.NoError(t, err)
		require.Equal(t, StatusReconciled, status)
	})

	t.Run("update status falls back to description", func(t *testing.T) {
		ctx := context.Background()
		l := newStore(t)
		first, err := l.AddItem(ctx, "Refund", decimal.NewFromInt(-50))
		require.NoError(t, err)
		second, err := l.AddItem(ctx, "Refund", decimal.NewFromInt(-60))
		require.NoError(t, err)

		require.NoError(t, l.UpdateStatus(ctx, state.Item{Description: "Refund"}, StatusLogicError))
		status, err := l.Status(ctx, first.ID)
		require.NoError(t, err)
		require.Equal(t, StatusLogicError, status)
		status, err = l.Status(ctx, second.ID)
		require.NoError(t, err)
		require.Equal(t, StatusUnmatched, status)
	})

	t.Run("update status of a missing item fails", func(t *testing.T) {
		err := newStore(t).UpdateStatus(context.Background(), state.Item{ID: 99}, StatusReconciled)
		require.ErrorContains(t, err, "not found")
	})

	t.Run("record outcome is idempotent by key", func(t *testing.T) {
		ctx := context.Background()
		l := newStore(t)
		outcome := state.Outcome{
			ItemID:      1,
			Description: "Office Rent",
			Amount:      decimal.NewFromInt(-1200),
			Category:    "Rent",
			Status:      StatusReconciled,
			Flags:       []string{"ADMIN_OVERRIDE"},
		}
		key := IdempotencyKey("DEC_2025_RECON", 1, 5)
		require.Equal(t, "DEC_2025_RECON:1:5", key)
		require.NoError(t, l.RecordOutcome(ctx, NewRecord(key, outcome)))
		require.NoError(t, l.RecordOutcome(ctx, NewRecord(key, outcome)))
		require.NoError(t, l.RecordOutcome(ctx, NewRecord(IdempotencyKey("DEC_2025_RECON", 2, 9), outcome)))

		records, err := l.Records(ctx)
		require.NoError(t, err)
		require.Len(t, records, 2)
		for _, r := range records {
			require.NotEmpty(t, r.ID)
			require.Equal(t, "Rent", r.Category)
			require.Equal(t, []string{"ADMIN_OVERRIDE"}, r.Flags)
			require.True(t, r.Amount.Equal(decimal.NewFromInt(-1200)))
		}
	})

	t.Run("record outcome requires a key", func(t *testing.T) {
		err := newStore(t).RecordOutcome(context.Background(), Record{Description: "x"})
		require.ErrorContains(t, err, "record key is required")
	})

	t.Run("categories keep insertion order without duplicates", func(t *testing.T) {
		ctx := context.Background()
		l := newStore(t)
		for _, name := range []string{"Rent", "Consulting Income", "Rent", "Refunds"} {
			require.NoError(t, l.AddCategory(ctx, name))
		}
		categories, err := l.ListCategories(ctx)
		require.NoError(t, err)
		require.Equal(t, []string{"Rent", "Consulting Income", "Refunds"}, categories)
	})
}

func TestMemoryLedger(t *testing.T) {
	runLedgerSuite(t, func(t *testing.T) store {
		return NewMemory()
	})
}

func TestSQLiteLedger(t *testing.T) {
	runLedgerSuite(t, func(t *testing.T) store {
		l, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "ledger.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = l.Close() })
		return l
	})
}

func TestRebind(t *testing.T) {
	l := &SQL{dialect: DialectPostgres}
	require.Equal(t, "UPDATE t SET a = $1 WHERE b = $2", l.rebind("UPDATE t SET a = ? WHERE b = ?"))
	l.dialect = DialectSQLite
	require.Equal(t, "SELECT ?", l.rebind("SELECT ?"))
}

func TestUnavailableWrapsSentinel(t *testing.T) {
	err := unavailable("list unresolved", errors.New("connection refused"))
	require.ErrorIs(t, err, recon.ErrGatewayUnavailable)
	require.Contains(t, err.Error(), "connection refused")
}
