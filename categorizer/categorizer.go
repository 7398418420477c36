// Package categorizer asks an external text generator for the two most
// likely categories of a ledger item and validates the answer.
package categorizer

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/deepnoodle-ai/recon"
	"github.com/deepnoodle-ai/recon/state"
)

// FallbackReasoning is used when no usable suggestion could be obtained.
const FallbackReasoning = "No usable suggestion was available; showing the first categories of the vocabulary."

// Request is what the categorizer is asked about.
type Request struct {
	Item       state.Item `json:"item"`
	Categories []string   `json:"categories"`
}

// Gateway returns the raw response text of the categorizer. Parsing and
// validation happen in Parse so every implementation is held to the same
// contract.
type Gateway interface {
	Suggest(ctx context.Context, req Request) (string, error)
}

// Suggestion is a validated categorizer answer.
type Suggestion struct {
	Reasoning string   `json:"reasoning"`
	TopTwo    []string `json:"top_two"`
}

// Prompt renders the instruction sent to text generators.
func Prompt(req Request) string {
	var b strings.Builder
	b.WriteString("You are reconciling a bank statement against the general ledger.\n")
	fmt.Fprintf(&b, "Transaction: %q, amount %s.\n", req.Item.Description, req.Item.Amount.String())
	b.WriteString("Choose the two most likely categories from this list:\n")
	for _, c := range req.Categories {
		fmt.Fprintf(&b, "- %s\n", c)
	}
	b.WriteString(`Reply with JSON only: {"reasoning": "<one sentence>", "top_two": ["<category>", "<category>"]}`)
	return b.String()
}

// Parse extracts and validates a suggestion from raw response text. The
// answer must name exactly two distinct labels from the vocabulary.
func Parse(raw string, vocabulary []string) (Suggestion, error) {
	body := strings.TrimSpace(raw)
	start := strings.Index(body, "{")
	end := strings.LastIndex(body, "}")
	if start < 0 || end < start {
		return Suggestion{}, fmt.Errorf("%w: no JSON object in response", recon.ErrMalformedSuggestion)
	}
	var s Suggestion
	if err := json.Unmarshal([]byte(body[start:end+1]), &s); err != nil {
		return Suggestion{}, fmt.Errorf("%w: %w", recon.ErrMalformedSuggestion, err)
	}
	if len(s.TopTwo) != 2 {
		return Suggestion{}, fmt.Errorf("%w: expected 2 labels, got %d", recon.ErrMalformedSuggestion, len(s.TopTwo))
	}
	for i, label := range s.TopTwo {
		s.TopTwo[i] = strings.TrimSpace(label)
		if !slices.Contains(vocabulary, s.TopTwo[i]) {
			return Suggestion{}, fmt.Errorf("%w: label %q is not a known category", recon.ErrMalformedSuggestion, label)
		}
	}
	if s.TopTwo[0] == s.TopTwo[1] {
		return Suggestion{}, fmt.Errorf("%w: duplicate label %q", recon.ErrMalformedSuggestion, s.TopTwo[0])
	}
	return s, nil
}

// Fallback returns the first two vocabulary entries, or fewer if the
// vocabulary is smaller.
func Fallback(vocabulary []string) Suggestion {
	n := min(2, len(vocabulary))
	return Suggestion{
		Reasoning: FallbackReasoning,
		TopTwo:    slices.Clone(vocabulary[:n]),
	}
}
