package recon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/deepnoodle-ai/recon/state"
)

// SessionStatus describes where a session is in its lifecycle.
type SessionStatus string

const (
	StatusNotStarted        SessionStatus = "NOT_STARTED"
	StatusPaused            SessionStatus = "PAUSED"
	StatusRunningOrComplete SessionStatus = "RUNNING_OR_COMPLETE"
	StatusComplete          SessionStatus = "COMPLETE"
)

// Snapshot is a read-only view of a session's current checkpoint.
type Snapshot struct {
	SessionID string        `json:"session_id"`
	Status    SessionStatus `json:"status"`
	AtNode    NodeID        `json:"at_node,omitempty"`
	Seq       int64         `json:"seq"`
	State     state.State   `json:"state"`
	UpdatedAt time.Time     `json:"updated_at,omitzero"`
}

// Result describes one traversal.
type Result struct {
	SessionID string        `json:"session_id"`
	Nodes     []NodeID      `json:"nodes"`
	Status    SessionStatus `json:"status"`
	Next      NodeID        `json:"next"`
	Seq       int64         `json:"seq"`
	State     state.State   `json:"state"`
}

// ExecutorOptions configures an executor
type ExecutorOptions struct {
	Graph        *Graph
	Checkpointer Checkpointer
	Journal      Journal
	Logger       *slog.Logger
	Callbacks    ExecutionCallbacks
}

// Executor drives traversals of a graph. It holds no per-session state: every
// call loads the session's current checkpoint from the store, and the store's
// fenced append is the only serialization point between concurrent callers.
type Executor struct {
	graph        *Graph
	checkpointer Checkpointer
	journal      Journal
	logger       *slog.Logger
	callbacks    ExecutionCallbacks
}

// NewExecutor returns an executor for the given graph and store
func NewExecutor(opts ExecutorOptions) (*Executor, error) {
	if opts.Graph == nil {
		return nil, fmt.Errorf("graph is required")
	}
	if opts.Checkpointer == nil {
		return nil, fmt.Errorf("checkpointer is required")
	}
	if opts.Journal == nil {
		opts.Journal = NewNullJournal()
	}
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	if opts.Callbacks == nil {
		opts.Callbacks = &BaseExecutionCallbacks{}
	}
	return &Executor{
		graph:        opts.Graph,
		checkpointer: opts.Checkpointer,
		journal:      opts.Journal,
		logger:       opts.Logger.With("graph", opts.Graph.Name()),
		callbacks:    opts.Callbacks,
	}, nil
}

// Graph returns the graph driven by this executor
func (e *Executor) Graph() *Graph {
	return e.graph
}

// Start writes checkpoint #0 for a new session and traverses until the
// interrupt point or Terminal.
func (e *Executor) Start(ctx context.Context, sessionID string, initial state.State) (*Result, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}
	current, err := e.checkpointer.Load(ctx, sessionID)
	if err != nil {
		return nil, storeError("load checkpoint", err)
	}
	if current != nil {
		return nil, ErrAlreadyStarted
	}
	first, err := e.checkpointer.Append(ctx, &Checkpoint{
		SessionID: sessionID,
		Seq:       0,
		Node:      StartNode,
		Next:      e.graph.entry,
		State:     initial,
	})
	if err != nil {
		return nil, storeError("write initial checkpoint", err)
	}
	e.logger.Info("session started", "session", sessionID, "entry", e.graph.entry)
	return e.traverse(ctx, first)
}

// Resume merges the externally supplied patch into a paused session, commits
// the merge, and executes from the interrupt node forward. It returns
// ErrNotPaused without writing anything if the session is not paused.
func (e *Executor) Resume(ctx context.Context, sessionID string, patch state.Patch) (*Result, error) {
	return e.release(ctx, sessionID, patch, e.graph.interrupt, NoteResume)
}

// Override force-resolves a paused session by running the graph's override
// node in place of the interrupt node.
func (e *Executor) Override(ctx context.Context, sessionID string, patch state.Patch) (*Result, error) {
	if e.graph.override == "" {
		return nil, fmt.Errorf("graph %q has no override node", e.graph.name)
	}
	return e.release(ctx, sessionID, patch, e.graph.override, NoteOverride)
}

// release commits a resume checkpoint routed to the given node and continues
// the traversal from it.
func (e *Executor) release(ctx context.Context, sessionID string, patch state.Patch, to NodeID, note string) (*Result, error) {
	current, err := e.checkpointer.Load(ctx, sessionID)
	if err != nil {
		return nil, storeError("load checkpoint", err)
	}
	if current == nil || !e.isPaused(current) {
		return nil, ErrNotPaused
	}

	commit, err := e.checkpointer.Append(ctx, &Checkpoint{
		SessionID: sessionID,
		Seq:       current.Seq + 1,
		Node:      ResumeNode,
		Next:      to,
		State:     state.Merge(current.State, patch),
		Note:      note,
	})
	if err != nil {
		return nil, storeError("commit "+note, err)
	}
	e.record(ctx, &JournalEntry{
		SessionID: sessionID,
		Node:      ResumeNode,
		Next:      to,
		Seq:       commit.Seq,
		Note:      note,
		Patch:     &patch,
		StartTime: commit.CreatedAt,
	})
	e.logger.Info("session released", "session", sessionID, "note", note, "next", to, "seq", commit.Seq)
	return e.traverse(ctx, commit)
}

// Continue retries a traversal from the session's last good checkpoint, for
// example after a node failure or a crash in the middle of a traversal.
func (e *Executor) Continue(ctx context.Context, sessionID string) (*Result, error) {
	current, err := e.checkpointer.Load(ctx, sessionID)
	if err != nil {
		return nil, storeError("load checkpoint", err)
	}
	switch {
	case current == nil:
		return nil, ErrNotStarted
	case current.Next == Terminal:
		return nil, ErrCompleted
	case e.isPaused(current):
		return nil, ErrPaused
	}
	e.logger.Info("continuing session", "session", sessionID, "next", current.Next, "seq", current.Seq)
	return e.traverse(ctx, current)
}

// Status reports the session's current checkpoint. It never writes.
func (e *Executor) Status(ctx context.Context, sessionID string) (*Snapshot, error) {
	current, err := e.checkpointer.Load(ctx, sessionID)
	if err != nil {
		return nil, storeError("load checkpoint", err)
	}
	if current == nil {
		return &Snapshot{SessionID: sessionID, Status: StatusNotStarted, Seq: -1}, nil
	}
	return &Snapshot{
		SessionID: sessionID,
		Status:    e.statusOf(current),
		AtNode:    current.Next,
		Seq:       current.Seq,
		State:     current.State,
		UpdatedAt: current.CreatedAt,
	}, nil
}

// History returns every checkpoint of a session in Seq order
func (e *Executor) History(ctx context.Context, sessionID string) ([]*Checkpoint, error) {
	return e.checkpointer.List(ctx, sessionID)
}

func (e *Executor) isPaused(cp *Checkpoint) bool {
	return cp.Next == e.graph.interrupt && !cp.IsResumeCommit()
}

func (e *Executor) statusOf(cp *Checkpoint) SessionStatus {
	switch {
	case e.isPaused(cp):
		return StatusPaused
	case cp.Next == Terminal:
		return StatusComplete
	default:
		return StatusRunningOrComplete
	}
}

// traverse runs nodes from the given checkpoint until Terminal or the
// interrupt point, appending a checkpoint after every node. The interrupt is
// checked before the interrupt node runs, unless the checkpoint being
// continued is the commit of an accepted resume.
func (e *Executor) traverse(ctx context.Context, from *Checkpoint) (*Result, error) {
	current := from
	var executed []NodeID
	logger := e.logger.With("session", from.SessionID)

	for current.Next != Terminal && !e.isPaused(current) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		node, ok := e.graph.Node(current.Next)
		if !ok {
			return nil, fmt.Errorf("node %q not found in graph %q", current.Next, e.graph.name)
		}
		next, err := e.step(ctx, logger, current, node)
		if err != nil {
			return nil, err
		}
		executed = append(executed, node.ID)
		current = next
	}

	result := &Result{
		SessionID: current.SessionID,
		Nodes:     executed,
		Status:    e.statusOf(current),
		Next:      current.Next,
		Seq:       current.Seq,
		State:     current.State,
	}
	event := &TraversalEvent{
		SessionID: current.SessionID,
		GraphName: e.graph.name,
		Nodes:     executed,
		Seq:       current.Seq,
		State:     current.State,
	}
	if result.Status == StatusPaused {
		logger.Info("session paused", "at_node", current.Next, "seq", current.Seq, "nodes", executed)
		e.callbacks.OnPause(ctx, event)
	} else {
		logger.Info("session complete", "seq", current.Seq, "nodes", executed)
		e.callbacks.OnComplete(ctx, event)
	}
	return result, nil
}

// step executes one node, merges its patch, routes on the merged state and
// appends the resulting checkpoint. On any failure nothing is appended.
func (e *Executor) step(ctx context.Context, logger *slog.Logger, current *Checkpoint, node *Node) (*Checkpoint, error) {
	seq := current.Seq + 1
	nodeLogger := logger.With("node", node.ID, "seq", seq)
	nodeCtx := WithSession(WithLogger(ctx, nodeLogger), current.SessionID, seq)

	startTime := time.Now()
	event := &NodeEvent{
		SessionID: current.SessionID,
		GraphName: e.graph.name,
		Node:      node.ID,
		Seq:       seq,
		State:     current.State,
		StartTime: startTime,
	}
	e.callbacks.BeforeNode(nodeCtx, event)

	patch, err := node.Run(nodeCtx, current.State.Copy())
	var merged state.State
	var next NodeID
	if err == nil {
		merged = state.Merge(current.State, patch)
		next, err = e.graph.route(node.ID, merged)
	}
	var stored *Checkpoint
	var appendErr error
	if err == nil {
		stored, appendErr = e.checkpointer.Append(ctx, &Checkpoint{
			SessionID: current.SessionID,
			Seq:       seq,
			Node:      node.ID,
			Next:      next,
			State:     merged,
		})
		if appendErr != nil {
			err = storeError("append checkpoint", appendErr)
		}
	}

	event.Patch = patch
	event.Next = next
	event.Duration = time.Since(startTime)
	event.Error = err
	e.callbacks.AfterNode(nodeCtx, event)

	entry := &JournalEntry{
		SessionID: current.SessionID,
		Node:      node.ID,
		Next:      next,
		Seq:       seq,
		Patch:     &patch,
		StartTime: startTime,
		Duration:  event.Duration.Seconds(),
	}
	if err != nil {
		entry.Error = err.Error()
		e.record(ctx, entry)
		if errors.Is(err, ErrStaleWrite) {
			nodeLogger.Warn("checkpoint append lost a race", "error", err)
			return nil, err
		}
		if appendErr != nil {
			nodeLogger.Error("checkpoint append failed", "error", err)
			return nil, err
		}
		nodeLogger.Error("node failed", "error", err)
		return nil, &NodeError{Node: node.ID, Err: err}
	}
	e.record(ctx, entry)
	nodeLogger.Debug("node complete", "next", next, "duration", event.Duration)
	return stored, nil
}

// record writes a journal entry. The checkpoint chain is authoritative, so a
// journal failure is logged rather than returned.
func (e *Executor) record(ctx context.Context, entry *JournalEntry) {
	entry.ID = NewJournalEntryID()
	if err := e.journal.Record(ctx, entry); err != nil {
		e.logger.Error("failed to record journal entry", "error", err, "session", entry.SessionID, "node", entry.Node)
	}
}
