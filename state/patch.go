package state

import "slices"

// Patch is a partial update to State. A nil field is absent and leaves the
// state untouched; a non-nil pointer to an empty value clears the field.
type Patch struct {
	BankItems    *[]Item   `json:"bank_items,omitempty"`
	ErpItems     *[]Item   `json:"erp_items,omitempty"`
	Matches      *[]Match  `json:"matches,omitempty"`
	Unmatched    *[]Item   `json:"unmatched,omitempty"`
	Unresolved   *[]Item   `json:"unresolved,omitempty"`
	Suggestion   *string   `json:"suggestion,omitempty"`
	Labels       *[]string `json:"labels,omitempty"`
	Choice       *string   `json:"choice,omitempty"`
	Audit        *Outcome  `json:"audit,omitempty"`
	Notification *string   `json:"notification,omitempty"`
}

// Set returns a pointer to v, for building patches.
func Set[T any](v T) *T {
	return &v
}

// IsEmpty reports whether the patch carries no fields.
func (p Patch) IsEmpty() bool {
	return p == Patch{}
}

// Merge applies the patch to a copy of s and returns the result. Neither
// input is modified.
func Merge(s State, p Patch) State {
	out := s.Copy()
	if p.BankItems != nil {
		out.BankItems = slices.Clone(*p.BankItems)
	}
	if p.ErpItems != nil {
		out.ErpItems = slices.Clone(*p.ErpItems)
	}
	if p.Matches != nil {
		out.Matches = slices.Clone(*p.Matches)
	}
	if p.Unmatched != nil {
		out.Unmatched = slices.Clone(*p.Unmatched)
	}
	if p.Unresolved != nil {
		out.Unresolved = slices.Clone(*p.Unresolved)
	}
	if p.Suggestion != nil {
		out.Suggestion = *p.Suggestion
	}
	if p.Labels != nil {
		out.Labels = slices.Clone(*p.Labels)
	}
	if p.Choice != nil {
		out.Choice = *p.Choice
	}
	if p.Audit != nil {
		audit := *p.Audit
		audit.Flags = slices.Clone(p.Audit.Flags)
		out.Audit = &audit
	}
	if p.Notification != nil {
		out.Notification = *p.Notification
	}
	return out
}
