// Package nodes implements the reconciliation workflow: a matchmaker that
// picks the oldest unresolved ledger line, an investigator that asks for
// category suggestions and notifies a reviewer, the human review interrupt
// point, and an auditor that applies the audit rules and records the
// outcome. An administrative override node can replace review and audit.
package nodes

import (
	"context"
	"errors"
	"fmt"

	"github.com/deepnoodle-ai/recon"
	"github.com/deepnoodle-ai/recon/categorizer"
	"github.com/deepnoodle-ai/recon/ledger"
	"github.com/deepnoodle-ai/recon/notifier"
	"github.com/deepnoodle-ai/recon/retry"
	"github.com/deepnoodle-ai/recon/state"
)

// GraphName names the reconciliation graph.
const GraphName = "reconciliation"

// Node identifiers.
const (
	Matchmaker   recon.NodeID = "matchmaker"
	Investigator recon.NodeID = "investigator"
	HumanReview  recon.NodeID = "human_review"
	Auditor      recon.NodeID = "auditor"
	Override     recon.NodeID = "override"
)

// Deps are the collaborators of the workflow nodes.
type Deps struct {
	Ledger      ledger.Gateway
	Categorizer categorizer.Gateway
	Notifier    notifier.Gateway
	Rules       Rules

	// LedgerRetry configures the backoff applied while the ledger reports
	// itself unavailable.
	LedgerRetry []retry.Option
}

type workflow struct {
	ledger      ledger.Gateway
	categorizer categorizer.Gateway
	notifier    notifier.Gateway
	rules       Rules
	ledgerRetry []retry.Option
}

// NewGraph wires the nodes and edges of the reconciliation workflow.
func NewGraph(deps Deps) (*recon.Graph, error) {
	if deps.Ledger == nil {
		return nil, fmt.Errorf("ledger gateway is required")
	}
	if deps.Categorizer == nil {
		return nil, fmt.Errorf("categorizer gateway is required")
	}
	if deps.Notifier == nil {
		return nil, fmt.Errorf("notifier gateway is required")
	}
	if deps.Rules.MaterialityThreshold.IsZero() {
		deps.Rules.MaterialityThreshold = DefaultMaterialityThreshold
	}
	w := &workflow{
		ledger:      deps.Ledger,
		categorizer: deps.Categorizer,
		notifier:    deps.Notifier,
		rules:       deps.Rules,
		ledgerRetry: deps.LedgerRetry,
	}
	return recon.NewGraph(recon.GraphOptions{
		Name: GraphName,
		Nodes: []*recon.Node{
			{ID: Matchmaker, Description: "Select the oldest unresolved ledger line", Run: w.matchmaker},
			{ID: Investigator, Description: "Suggest categories and notify the reviewer", Run: w.investigator},
			{ID: HumanReview, Description: "Wait for the reviewer's category choice", Run: w.humanReview},
			{ID: Auditor, Description: "Apply audit rules and record the outcome", Run: w.auditor},
			{ID: Override, Description: "Force-reconcile the focused item", Run: w.override},
		},
		Edges: map[recon.NodeID]recon.Edge{
			Matchmaker:   recon.Branch(nextItem, Investigator, recon.Terminal),
			Investigator: recon.Always(HumanReview),
			HumanReview:  recon.Always(Auditor),
			Auditor:      recon.Branch(nextItem, Investigator, recon.Terminal),
			Override:     recon.Branch(nextItem, Investigator, recon.Terminal),
		},
		Entry:     Matchmaker,
		Interrupt: HumanReview,
		Override:  Override,
	})
}

func nextItem(s state.State) recon.NodeID {
	if len(s.Unresolved) > 0 {
		return Investigator
	}
	return recon.Terminal
}

// callLedger runs fn, retrying while the ledger is unavailable. Other
// failures are returned after the first attempt.
func (w *workflow) callLedger(ctx context.Context, op string, fn func() error) error {
	attempt := 0
	return retry.Do(ctx, func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		recon.LoggerFromContext(ctx).Warn("ledger call failed", "op", op, "attempt", attempt, "error", err)
		if errors.Is(err, recon.ErrGatewayUnavailable) {
			return retry.NewRecoverableError(err)
		}
		return retry.NewNonRecoverableError(err)
	}, w.ledgerRetry...)
}

func (w *workflow) unresolved(ctx context.Context) ([]state.Item, error) {
	var items []state.Item
	err := w.callLedger(ctx, "list unresolved", func() error {
		var err error
		items, err = w.ledger.ListUnresolved(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list unresolved items: %w", err)
	}
	return items, nil
}

// oldest reduces the ledger's unresolved list to the work queue.
func oldest(items []state.Item) []state.Item {
	if len(items) == 0 {
		return []state.Item{}
	}
	return []state.Item{items[0]}
}

func (w *workflow) matchmaker(ctx context.Context, s state.State) (state.Patch, error) {
	var patch state.Patch
	if len(s.BankItems) > 0 && len(s.ErpItems) > 0 {
		matches, unmatched := MatchByAmount(s.BankItems, s.ErpItems)
		patch.Matches = state.Set(matches)
		patch.Unmatched = state.Set(unmatched)
		if len(unmatched) > 0 {
			recon.LoggerFromContext(ctx).Warn("bank lines without an erp match", "count", len(unmatched))
		}
	}
	items, err := w.unresolved(ctx)
	if err != nil {
		return state.Patch{}, err
	}
	patch.Unresolved = state.Set(oldest(items))
	recon.LoggerFromContext(ctx).Info("queue loaded", "unresolved", len(items))
	return patch, nil
}

func (w *workflow) investigator(ctx context.Context, s state.State) (state.Patch, error) {
	logger := recon.LoggerFromContext(ctx)
	item, ok := s.Focused()
	if !ok {
		return state.Patch{}, fmt.Errorf("investigator requires an unresolved item")
	}
	var vocabulary []string
	err := w.callLedger(ctx, "list categories", func() error {
		var err error
		vocabulary, err = w.ledger.ListCategories(ctx)
		return err
	})
	if err != nil {
		return state.Patch{}, fmt.Errorf("failed to list categories: %w", err)
	}

	var suggestion categorizer.Suggestion
	raw, err := w.categorizer.Suggest(ctx, categorizer.Request{Item: item, Categories: vocabulary})
	if err == nil {
		suggestion, err = categorizer.Parse(raw, vocabulary)
	}
	if err != nil {
		if !errors.Is(err, recon.ErrMalformedSuggestion) && !errors.Is(err, recon.ErrGatewayUnavailable) {
			err = fmt.Errorf("%w: %w", recon.ErrGatewayUnavailable, err)
		}
		logger.Warn("using fallback suggestion",
			"item", item.Description,
			"error_type", recon.ClassifyError(err).Type,
			"error", err)
		suggestion = categorizer.Fallback(vocabulary)
	}

	sessionID, _, _ := recon.SessionFromContext(ctx)
	notification := state.NotificationDelivered
	msg := notifier.NewMessage(sessionID, item, suggestion.TopTwo, suggestion.Reasoning)
	if err := w.notifier.Deliver(ctx, msg); err != nil {
		logger.Warn("review notification failed", "item", item.Description, "delivery_id", msg.ID, "error", err)
		notification = state.NotificationFailed
	}

	return state.Patch{
		Suggestion:   state.Set(suggestion.Reasoning),
		Labels:       state.Set(suggestion.TopTwo),
		Notification: state.Set(notification),
	}, nil
}

func (w *workflow) humanReview(ctx context.Context, s state.State) (state.Patch, error) {
	return state.Patch{}, nil
}

func (w *workflow) auditor(ctx context.Context, s state.State) (state.Patch, error) {
	item, ok := s.Focused()
	if !ok {
		return state.Patch{}, fmt.Errorf("auditor requires an unresolved item")
	}
	if s.Choice == "" {
		return state.Patch{}, fmt.Errorf("auditor requires a category choice")
	}
	return w.settle(ctx, w.rules.Audit(item, s.Choice))
}

func (w *workflow) override(ctx context.Context, s state.State) (state.Patch, error) {
	item, ok := s.Focused()
	if !ok {
		return state.Patch{}, fmt.Errorf("override requires an unresolved item")
	}
	category := s.Choice
	if category == "" && len(s.Labels) > 0 {
		category = s.Labels[0]
	}
	if category == "" {
		return state.Patch{}, fmt.Errorf("override requires a category")
	}
	return w.settle(ctx, Forced(item, category))
}

// settle records an outcome, marks the ledger line, refreshes the queue and
// clears the fields of the finished review.
func (w *workflow) settle(ctx context.Context, outcome state.Outcome) (state.Patch, error) {
	sessionID, seq, _ := recon.SessionFromContext(ctx)
	key := ledger.IdempotencyKey(sessionID, outcome.ItemID, seq)
	record := ledger.NewRecord(key, outcome)
	err := w.callLedger(ctx, "record outcome", func() error {
		return w.ledger.RecordOutcome(ctx, record)
	})
	if err != nil {
		return state.Patch{}, fmt.Errorf("failed to record outcome: %w", err)
	}
	item := state.Item{ID: outcome.ItemID, Description: outcome.Description, Amount: outcome.Amount}
	err = w.callLedger(ctx, "update status", func() error {
		return w.ledger.UpdateStatus(ctx, item, outcome.Status)
	})
	if err != nil {
		return state.Patch{}, fmt.Errorf("failed to update ledger status: %w", err)
	}
	items, err := w.unresolved(ctx)
	if err != nil {
		return state.Patch{}, err
	}
	recon.LoggerFromContext(ctx).Info("item settled",
		"item", outcome.Description,
		"category", outcome.Category,
		"status", outcome.Status,
		"flags", outcome.Flags,
		"remaining", len(items))

	return state.Patch{
		Suggestion:   state.Set(""),
		Labels:       state.Set([]string{}),
		Choice:       state.Set(""),
		Notification: state.Set(""),
		Audit:        &outcome,
		Unresolved:   state.Set(oldest(items)),
	}, nil
}
