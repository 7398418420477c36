// Package state defines the reconciliation workflow state carried between
// nodes and the field-by-field patch semantics used to update it.
package state

import (
	"slices"

	"github.com/shopspring/decimal"
)

// Notification delivery outcomes recorded on the state.
const (
	NotificationDelivered = "delivered"
	NotificationFailed    = "failed"
)

// Item is a single ledger line awaiting or undergoing reconciliation.
type Item struct {
	ID          int64           `json:"id,omitempty"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

// Match pairs a bank item with an erp item of identical amount.
type Match struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Status      string          `json:"status"`
}

// Outcome is the result of auditing one item.
type Outcome struct {
	ItemID      int64           `json:"item_id,omitempty"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Category    string          `json:"category"`
	Status      string          `json:"status"`
	Flags       []string        `json:"flags,omitempty"`
}

// HasFlag reports whether the outcome carries the given flag.
func (o *Outcome) HasFlag(flag string) bool {
	if o == nil {
		return false
	}
	return slices.Contains(o.Flags, flag)
}

// State is the memory of a reconciliation session. This struct is designed to
// be fully JSON serializable.
type State struct {
	BankItems    []Item   `json:"bank_items,omitempty"`
	ErpItems     []Item   `json:"erp_items,omitempty"`
	Matches      []Match  `json:"matches,omitempty"`
	Unmatched    []Item   `json:"unmatched,omitempty"`
	Unresolved   []Item   `json:"unresolved,omitempty"`
	Suggestion   string   `json:"suggestion,omitempty"`
	Labels       []string `json:"labels,omitempty"`
	Choice       string   `json:"choice,omitempty"`
	Audit        *Outcome `json:"audit,omitempty"`
	Notification string   `json:"notification,omitempty"`
}

// Focused returns the item currently at the head of the work queue.
func (s State) Focused() (Item, bool) {
	if len(s.Unresolved) == 0 {
		return Item{}, false
	}
	return s.Unresolved[0], true
}

// Copy returns a deep copy of the state.
func (s State) Copy() State {
	out := State{
		BankItems:    slices.Clone(s.BankItems),
		ErpItems:     slices.Clone(s.ErpItems),
		Matches:      slices.Clone(s.Matches),
		Unmatched:    slices.Clone(s.Unmatched),
		Unresolved:   slices.Clone(s.Unresolved),
		Suggestion:   s.Suggestion,
		Labels:       slices.Clone(s.Labels),
		Choice:       s.Choice,
		Notification: s.Notification,
	}
	if s.Audit != nil {
		audit := *s.Audit
		audit.Flags = slices.Clone(s.Audit.Flags)
		out.Audit = &audit
	}
	return out
}
