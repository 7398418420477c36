package nodes

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/deepnoodle-ai/recon"
	"github.com/deepnoodle-ai/recon/categorizer"
	"github.com/deepnoodle-ai/recon/ledger"
	"github.com/deepnoodle-ai/recon/notifier"
	"github.com/deepnoodle-ai/recon/retry"
	"github.com/deepnoodle-ai/recon/state"
)

const session = "DEC_2025_RECON"

var vocabulary = []string{"Office Rent", "Professional Services", "Interest Income", "Refunds"}

type fakeCategorizer struct {
	raw string
	err error
}

func (f *fakeCategorizer) Suggest(ctx context.Context, req categorizer.Request) (string, error) {
	return f.raw, f.err
}

type fakeNotifier struct {
	mutex    sync.Mutex
	err      error
	messages []*notifier.Message
}

func (f *fakeNotifier) Deliver(ctx context.Context, msg *notifier.Message) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.messages = append(f.messages, msg)
	return f.err
}

type harness struct {
	ledger      *ledger.Memory
	categorizer *fakeCategorizer
	notifier    *fakeNotifier
	store       *recon.MemoryCheckpointer
	exec        *recon.Executor
}

func newHarness(t *testing.T, items ...state.Item) *harness {
	t.Helper()
	ctx := context.Background()
	h := &harness{
		ledger:      ledger.NewMemory(vocabulary...),
		categorizer: &fakeCategorizer{raw: `{"reasoning": "looks like rent", "top_two": ["Office Rent", "Refunds"]}`},
		notifier:    &fakeNotifier{},
		store:       recon.NewMemoryCheckpointer(),
	}
	for _, item := range items {
		_, err := h.ledger.AddItem(ctx, item.Description, item.Amount)
		require.NoError(t, err)
	}
	g, err := NewGraph(Deps{
		Ledger:      h.ledger,
		Categorizer: h.categorizer,
		Notifier:    h.notifier,
		Rules:       DefaultRules(),
	})
	require.NoError(t, err)
	h.exec, err = recon.NewExecutor(recon.ExecutorOptions{Graph: g, Checkpointer: h.store})
	require.NoError(t, err)
	return h
}

func line(description string, amount int64) state.Item {
	return state.Item{Description: description, Amount: decimal.NewFromInt(amount)}
}

func TestStartPausesAtHumanReview(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, line("Office Rent", -1200), line("Refund", -50))

	result, err := h.exec.Start(ctx, session, state.State{})
	require.NoError(t, err)
	require.Equal(t, []recon.NodeID{Matchmaker, Investigator}, result.Nodes)

	snapshot, err := h.exec.Status(ctx, session)
	require.NoError(t, err)
	require.Equal(t, recon.StatusPaused, snapshot.Status)
	require.Equal(t, HumanReview, snapshot.AtNode)
	require.Len(t, snapshot.State.Unresolved, 1, "only the oldest item is focused")
	require.Equal(t, "Office Rent", snapshot.State.Unresolved[0].Description)
	require.Equal(t, []string{"Office Rent", "Refunds"}, snapshot.State.Labels)
	require.Equal(t, "looks like rent", snapshot.State.Suggestion)
	require.Equal(t, state.NotificationDelivered, snapshot.State.Notification)

	require.Len(t, h.notifier.messages, 1)
	require.Equal(t, session, h.notifier.messages[0].SessionID)
	require.Equal(t, "Office Rent", h.notifier.messages[0].Item.Description)
}

func TestStartWithEmptyLedgerCompletes(t *testing.T) {
	h := newHarness(t)
	result, err := h.exec.Start(context.Background(), session, state.State{})
	require.NoError(t, err)
	require.Equal(t, recon.StatusComplete, result.Status)
	require.Equal(t, []recon.NodeID{Matchmaker}, result.Nodes)
	require.Empty(t, h.notifier.messages)
}

func TestScenarios(t *testing.T) {
	tests := []struct {
		name   string
		item   state.Item
		choice string
		status string
		flags  []string
	}{
		{"A reconciled", line("Office Rent", -1200), "Office Rent", ledger.StatusReconciled, nil},
		{"B material", line("Big Wire", 9000), "Professional Services", ledger.StatusPendingSecondarySignoff, []string{FlagMaterialityExceeded}},
		{"C income sign", line("Refund", -50), "Interest Income", ledger.StatusLogicError, []string{FlagIncomeSignMismatch}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t, tt.item)
			_, err := h.exec.Start(ctx, session, state.State{})
			require.NoError(t, err)

			result, err := h.exec.Resume(ctx, session, state.Patch{Choice: state.Set(tt.choice)})
			require.NoError(t, err)
			require.Equal(t, []recon.NodeID{HumanReview, Auditor}, result.Nodes)
			require.Equal(t, recon.StatusComplete, result.Status)

			audit := result.State.Audit
			require.NotNil(t, audit)
			require.Equal(t, tt.status, audit.Status)
			require.Equal(t, tt.flags, audit.Flags)
			require.Equal(t, tt.choice, audit.Category)
			require.Empty(t, result.State.Choice)
			require.Empty(t, result.State.Labels)
			require.Empty(t, result.State.Suggestion)
			require.Empty(t, result.State.Unresolved)

			records, err := h.ledger.Records(ctx)
			require.NoError(t, err)
			require.Len(t, records, 1)
			require.Equal(t, tt.status, records[0].Status)
			require.Equal(t, tt.flags, records[0].Flags)

			status, err := h.ledger.Status(ctx, 1)
			require.NoError(t, err)
			require.Equal(t, tt.status, status)
		})
	}
}

func TestLoopDrainsKItems(t *testing.T) {
	ctx := context.Background()
	const k = 5
	var items []state.Item
	for i := 0; i < k; i++ {
		items = append(items, line("Vendor", int64(-100*(i+1))))
	}
	h := newHarness(t, items...)

	result, err := h.exec.Start(ctx, session, state.State{})
	require.NoError(t, err)
	audits := 0
	for result.Status == recon.StatusPaused {
		result, err = h.exec.Resume(ctx, session, state.Patch{Choice: state.Set("Office Rent")})
		require.NoError(t, err)
		audits++
	}
	require.Equal(t, k, audits)
	require.Equal(t, recon.Terminal, result.Next)

	records, err := h.ledger.Records(ctx)
	require.NoError(t, err)
	require.Len(t, records, k)
	remaining, err := h.ledger.ListUnresolved(ctx)
	require.NoError(t, err)
	require.Empty(t, remaining)
	require.Len(t, h.notifier.messages, k)
}

func TestLoopPicksUpNewlyArrivedItems(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, line("Office Rent", -1200))
	_, err := h.exec.Start(ctx, session, state.State{})
	require.NoError(t, err)

	_, err = h.ledger.AddItem(ctx, "Late Arrival", decimal.NewFromInt(-10))
	require.NoError(t, err)

	result, err := h.exec.Resume(ctx, session, state.Patch{Choice: state.Set("Office Rent")})
	require.NoError(t, err)
	require.Equal(t, recon.StatusPaused, result.Status)
	require.Equal(t, "Late Arrival", result.State.Unresolved[0].Description)
}

func TestMalformedSuggestionFallsBack(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		err  error
	}{
		{"unparsable", "the answer is rent", nil},
		{"unknown labels", `{"reasoning": "r", "top_two": ["Travel", "Meals"]}`, nil},
		{"gateway down", "", recon.ErrGatewayUnavailable},
		{"other error", "", errors.New("boom")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, line("Office Rent", -1200))
			h.categorizer.raw = tt.raw
			h.categorizer.err = tt.err

			result, err := h.exec.Start(context.Background(), session, state.State{})
			require.NoError(t, err)
			require.Equal(t, vocabulary[:2], result.State.Labels)
			require.Equal(t, categorizer.FallbackReasoning, result.State.Suggestion)
		})
	}
}

func TestNotificationFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, line("Office Rent", -1200))
	h.notifier.err = errors.New("webhook down")

	result, err := h.exec.Start(ctx, session, state.State{})
	require.NoError(t, err)
	require.Equal(t, recon.StatusPaused, result.Status)
	require.Equal(t, state.NotificationFailed, result.State.Notification)
}

func TestOverrideResolvesFocusedItem(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, line("Reversal", -7000), line("Office Rent", -1200))
	_, err := h.exec.Start(ctx, session, state.State{})
	require.NoError(t, err)

	result, err := h.exec.Override(ctx, session, state.Patch{})
	require.NoError(t, err)
	require.Equal(t, []recon.NodeID{Override, Investigator}, result.Nodes)
	require.Equal(t, recon.StatusPaused, result.Status)

	records, err := h.ledger.Records(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "Reversal", records[0].Description)
	require.Equal(t, "Office Rent", records[0].Category, "defaults to the first suggested label")
	require.Equal(t, ledger.StatusReconciled, records[0].Status)
	require.Equal(t, []string{FlagAdminOverride}, records[0].Flags)

	history, err := h.exec.History(ctx, session)
	require.NoError(t, err)
	var overrides int
	for _, cp := range history {
		if cp.Note == recon.NoteOverride {
			overrides++
		}
	}
	require.Equal(t, 1, overrides)
}

func TestAuditorRetryDoesNotDuplicateRecords(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, line("Office Rent", -1200))
	_, err := h.exec.Start(ctx, session, state.State{})
	require.NoError(t, err)

	crashing, err := recon.NewExecutor(recon.ExecutorOptions{
		Graph:        h.exec.Graph(),
		Checkpointer: &dropAuditorCheckpoint{MemoryCheckpointer: h.store},
	})
	require.NoError(t, err)
	_, err = crashing.Resume(ctx, session, state.Patch{Choice: state.Set("Office Rent")})
	require.Error(t, err)

	// The ledger already holds the row and the line is no longer unresolved,
	// yet the checkpoint still points at the auditor.
	result, err := h.exec.Continue(ctx, session)
	require.NoError(t, err)
	require.Equal(t, []recon.NodeID{Auditor}, result.Nodes)
	require.Equal(t, recon.StatusComplete, result.Status)

	records, err := h.ledger.Records(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
}

type dropAuditorCheckpoint struct {
	*recon.MemoryCheckpointer
}

func (d *dropAuditorCheckpoint) Append(ctx context.Context, cp *recon.Checkpoint) (*recon.Checkpoint, error) {
	if cp.Node == Auditor {
		return nil, errors.New("process died")
	}
	return d.MemoryCheckpointer.Append(ctx, cp)
}

func TestConcurrentChoicesAdmitOne(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, line("Office Rent", -1200), line("Refund", -50))
	_, err := h.exec.Start(ctx, session, state.State{})
	require.NoError(t, err)

	gate := newLoadGate(h.store, 2)
	exec, err := recon.NewExecutor(recon.ExecutorOptions{Graph: h.exec.Graph(), Checkpointer: gate})
	require.NoError(t, err)

	results := make([]error, 2)
	var g errgroup.Group
	for i, choice := range []string{"Office Rent", "Refunds"} {
		i, choice := i, choice
		g.Go(func() error {
			_, results[i] = exec.Resume(ctx, session, state.Patch{Choice: state.Set(choice)})
			return nil
		})
	}
	require.NoError(t, g.Wait())

	var stale int
	for _, err := range results {
		if errors.Is(err, recon.ErrStaleWrite) {
			stale++
		} else {
			require.NoError(t, err)
		}
	}
	require.Equal(t, 1, stale)
	records, err := h.ledger.Records(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
}

// loadGate releases Loads only once n callers are waiting, so they all see
// the same checkpoint.
type loadGate struct {
	*recon.MemoryCheckpointer
	wg sync.WaitGroup
}

func newLoadGate(store *recon.MemoryCheckpointer, n int) *loadGate {
	g := &loadGate{MemoryCheckpointer: store}
	g.wg.Add(n)
	return g
}

func (g *loadGate) Load(ctx context.Context, sessionID string) (*recon.Checkpoint, error) {
	cp, err := g.MemoryCheckpointer.Load(ctx, sessionID)
	g.wg.Done()
	g.wg.Wait()
	return cp, err
}

func TestNewGraphRequiresDeps(t *testing.T) {
	_, err := NewGraph(Deps{})
	require.ErrorContains(t, err, "ledger gateway is required")
}

// flakyLedger fails the next n calls of an operation before delegating.
type flakyLedger struct {
	*ledger.Memory
	mutex    sync.Mutex
	failures map[string]int
	calls    map[string]int
	err      error
}

func newFlakyLedger(failures map[string]int, err error) *flakyLedger {
	return &flakyLedger{
		Memory:   ledger.NewMemory(vocabulary...),
		failures: failures,
		calls:    map[string]int{},
		err:      err,
	}
}

func (f *flakyLedger) fail(op string) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.calls[op]++
	if f.failures[op] > 0 {
		f.failures[op]--
		return fmt.Errorf("ledger %s: %w", op, f.err)
	}
	return nil
}

func (f *flakyLedger) ListUnresolved(ctx context.Context) ([]state.Item, error) {
	if err := f.fail("list unresolved"); err != nil {
		return nil, err
	}
	return f.Memory.ListUnresolved(ctx)
}

func (f *flakyLedger) ListCategories(ctx context.Context) ([]string, error) {
	if err := f.fail("list categories"); err != nil {
		return nil, err
	}
	return f.Memory.ListCategories(ctx)
}

func (f *flakyLedger) RecordOutcome(ctx context.Context, record ledger.Record) error {
	if err := f.fail("record outcome"); err != nil {
		return err
	}
	return f.Memory.RecordOutcome(ctx, record)
}

func (f *flakyLedger) UpdateStatus(ctx context.Context, item state.Item, status string) error {
	if err := f.fail("update status"); err != nil {
		return err
	}
	return f.Memory.UpdateStatus(ctx, item, status)
}

func newFlakyExecutor(t *testing.T, l *flakyLedger, maxRetries int) *recon.Executor {
	t.Helper()
	g, err := NewGraph(Deps{
		Ledger:      l,
		Categorizer: &fakeCategorizer{raw: `{"reasoning": "looks like rent", "top_two": ["Office Rent", "Refunds"]}`},
		Notifier:    &fakeNotifier{},
		Rules:       DefaultRules(),
		LedgerRetry: []retry.Option{retry.WithMaxRetries(maxRetries), retry.WithBaseWait(time.Millisecond)},
	})
	require.NoError(t, err)
	exec, err := recon.NewExecutor(recon.ExecutorOptions{Graph: g, Checkpointer: recon.NewMemoryCheckpointer()})
	require.NoError(t, err)
	return exec
}

func TestTransientLedgerFailuresAreRetried(t *testing.T) {
	ctx := context.Background()
	l := newFlakyLedger(map[string]int{
		"list unresolved": 1,
		"list categories": 2,
		"record outcome":  1,
		"update status":   1,
	}, recon.ErrGatewayUnavailable)
	_, err := l.AddItem(ctx, "Office Rent", decimal.NewFromInt(-1200))
	require.NoError(t, err)
	exec := newFlakyExecutor(t, l, 3)

	result, err := exec.Start(ctx, session, state.State{})
	require.NoError(t, err)
	require.Equal(t, recon.StatusPaused, result.Status)
	require.Equal(t, []string{"Office Rent", "Refunds"}, result.State.Labels)
	require.Equal(t, 3, l.calls["list categories"])

	result, err = exec.Resume(ctx, session, state.Patch{Choice: state.Set("Office Rent")})
	require.NoError(t, err)
	require.Equal(t, recon.StatusComplete, result.Status)
	require.Equal(t, ledger.StatusReconciled, result.State.Audit.Status)

	records, err := l.Records(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, 2, l.calls["record outcome"])
	require.Equal(t, 2, l.calls["update status"])
}

func TestLedgerFailureAfterRetriesAbortsTraversal(t *testing.T) {
	ctx := context.Background()
	l := newFlakyLedger(map[string]int{"list categories": 5}, recon.ErrGatewayUnavailable)
	_, err := l.AddItem(ctx, "Office Rent", decimal.NewFromInt(-1200))
	require.NoError(t, err)
	exec := newFlakyExecutor(t, l, 2)

	_, err = exec.Start(ctx, session, state.State{})
	require.ErrorIs(t, err, recon.ErrGatewayUnavailable)
	require.Equal(t, recon.ErrorTypeGateway, recon.ClassifyError(err).Type)
	require.Equal(t, 3, l.calls["list categories"])

	snapshot, err := exec.Status(ctx, session)
	require.NoError(t, err)
	require.Equal(t, recon.StatusRunningOrComplete, snapshot.Status)

	result, err := exec.Continue(ctx, session)
	require.NoError(t, err)
	require.Equal(t, recon.StatusPaused, result.Status)
}

func TestPermanentLedgerFailureIsNotRetried(t *testing.T) {
	ctx := context.Background()
	l := newFlakyLedger(map[string]int{"list unresolved": 1}, errors.New("no such table: bank_statements"))
	exec := newFlakyExecutor(t, l, 3)

	_, err := exec.Start(ctx, session, state.State{})
	require.ErrorContains(t, err, "no such table")
	require.Equal(t, 1, l.calls["list unresolved"])
}

func TestMatchmakerReportsUnmatchedBankLines(t *testing.T) {
	h := newHarness(t)
	initial := state.State{
		BankItems: []state.Item{line("Stripe Payout", 980), line("Unknown Fee", -12)},
		ErpItems:  []state.Item{line("Invoice 1042", 980)},
	}
	result, err := h.exec.Start(context.Background(), session, initial)
	require.NoError(t, err)
	require.Equal(t, recon.StatusComplete, result.Status)
	require.Len(t, result.State.Matches, 1)
	require.Len(t, result.State.Unmatched, 1)
	require.Equal(t, "Unknown Fee", result.State.Unmatched[0].Description)
}
