package nodes

import "github.com/deepnoodle-ai/recon/state"

// MatchStatus marks a bank line paired with an erp line.
const MatchStatus = "MATCHED"

// MatchByAmount pairs bank items with erp items of exactly equal amount and
// returns the pairs along with the bank items left without a partner. Each
// erp item is used at most once; bank items are visited in order.
func MatchByAmount(bank, erp []state.Item) ([]state.Match, []state.Item) {
	used := make([]bool, len(erp))
	matches := []state.Match{}
	unmatched := []state.Item{}
	for _, b := range bank {
		paired := false
		for i, e := range erp {
			if used[i] || !b.Amount.Equal(e.Amount) {
				continue
			}
			used[i] = true
			matches = append(matches, state.Match{
				Description: b.Description,
				Amount:      b.Amount,
				Status:      MatchStatus,
			})
			paired = true
			break
		}
		if !paired {
			unmatched = append(unmatched, b)
		}
	}
	return matches, unmatched
}
