// Package ledger is the system of record for unresolved bank lines, the
// category vocabulary, and the reconciled-transaction journal.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.jetify.com/typeid"

	"github.com/deepnoodle-ai/recon"
	"github.com/deepnoodle-ai/recon/state"
)

// Statuses a bank line moves through.
const (
	StatusUnmatched               = "UNMATCHED"
	StatusReconciled              = "RECONCILED"
	StatusPendingSecondarySignoff = "PENDING_SECONDARY_SIGNOFF"
	StatusLogicError              = "LOGIC_ERROR"
)

// Gateway is the ledger as seen by the workflow nodes.
type Gateway interface {
	// ListUnresolved returns unresolved items, oldest first.
	ListUnresolved(ctx context.Context) ([]state.Item, error)

	// RecordOutcome appends a reconciled-transaction row. Records with a
	// Key that was already recorded are ignored.
	RecordOutcome(ctx context.Context, record Record) error

	// UpdateStatus changes the status of an item, matched by ID or, when
	// the ID is zero, by description.
	UpdateStatus(ctx context.Context, item state.Item, status string) error

	// ListCategories returns the category vocabulary in a stable order.
	ListCategories(ctx context.Context) ([]string, error)
}

// Record is one row of the reconciled-transaction journal.
type Record struct {
	ID          string          `json:"id"`
	Key         string          `json:"key"`
	ItemID      int64           `json:"item_id,omitempty"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Category    string          `json:"category"`
	Status      string          `json:"status"`
	Flags       []string        `json:"flags,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// NewRecord builds the journal row for an audit outcome. The key makes the
// write idempotent across retries of the same node execution.
func NewRecord(key string, outcome state.Outcome) Record {
	return Record{
		Key:         key,
		ItemID:      outcome.ItemID,
		Description: outcome.Description,
		Amount:      outcome.Amount,
		Category:    outcome.Category,
		Status:      outcome.Status,
		Flags:       append([]string(nil), outcome.Flags...),
	}
}

// IdempotencyKey returns the key used for the outcome of an item written by
// the node execution that produces checkpoint seq.
func IdempotencyKey(sessionID string, itemID int64, seq int64) string {
	return fmt.Sprintf("%s:%d:%d", sessionID, itemID, seq)
}

// NewRecordID returns a new record identifier.
func NewRecordID() string {
	id, err := typeid.WithPrefix("rec")
	if err != nil {
		panic(err)
	}
	return id.String()
}

func prepare(record *Record) error {
	if strings.TrimSpace(record.Key) == "" {
		return fmt.Errorf("record key is required")
	}
	if record.ID == "" {
		record.ID = NewRecordID()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: ledger %s: %w", recon.ErrGatewayUnavailable, op, err)
}
