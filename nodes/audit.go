package nodes

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/deepnoodle-ai/recon/ledger"
	"github.com/deepnoodle-ai/recon/state"
)

// Audit flags.
const (
	FlagMaterialityExceeded = "MATERIALITY_EXCEEDED"
	FlagIncomeSignMismatch  = "INCOME_SIGN_MISMATCH"
	FlagAdminOverride       = "ADMIN_OVERRIDE"
)

// DefaultMaterialityThreshold is the absolute amount above which an item
// needs a second sign-off.
var DefaultMaterialityThreshold = decimal.NewFromInt(5000)

// Rules holds the deterministic audit configuration.
type Rules struct {
	MaterialityThreshold decimal.Decimal
	// IncomeCategories lists the categories treated as income. When empty,
	// any category whose name contains "income" or "revenue" is income.
	IncomeCategories []string
}

// DefaultRules returns the default audit rules.
func DefaultRules() Rules {
	return Rules{MaterialityThreshold: DefaultMaterialityThreshold}
}

// IsIncome reports whether category counts as income.
func (r Rules) IsIncome(category string) bool {
	if len(r.IncomeCategories) > 0 {
		for _, c := range r.IncomeCategories {
			if strings.EqualFold(strings.TrimSpace(c), strings.TrimSpace(category)) {
				return true
			}
		}
		return false
	}
	lower := strings.ToLower(category)
	return strings.Contains(lower, "income") || strings.Contains(lower, "revenue")
}

// Audit applies the materiality rule and then the income sign rule. The
// second rule overrides the status set by the first but keeps its flag.
func (r Rules) Audit(item state.Item, category string) state.Outcome {
	outcome := state.Outcome{
		ItemID:      item.ID,
		Description: item.Description,
		Amount:      item.Amount,
		Category:    category,
		Status:      ledger.StatusReconciled,
	}
	if item.Amount.Abs().GreaterThan(r.MaterialityThreshold) {
		outcome.Status = ledger.StatusPendingSecondarySignoff
		outcome.Flags = append(outcome.Flags, FlagMaterialityExceeded)
	}
	if r.IsIncome(category) && item.Amount.IsNegative() {
		outcome.Status = ledger.StatusLogicError
		outcome.Flags = append(outcome.Flags, FlagIncomeSignMismatch)
	}
	return outcome
}

// Forced returns the outcome of an administrative override, which skips
// both audit rules.
func Forced(item state.Item, category string) state.Outcome {
	return state.Outcome{
		ItemID:      item.ID,
		Description: item.Description,
		Amount:      item.Amount,
		Category:    category,
		Status:      ledger.StatusReconciled,
		Flags:       []string{FlagAdminOverride},
	}
}
