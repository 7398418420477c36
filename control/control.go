// Package control is the operator-facing surface of the reconciliation
// workflow. Every call returns a Response whose Status names the outcome,
// including contract violations, so transports never have to interpret raw
// errors.
package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/deepnoodle-ai/recon"
	"github.com/deepnoodle-ai/recon/notifier"
	"github.com/deepnoodle-ai/recon/state"
)

// Response statuses.
const (
	StatusPaused            = string(recon.StatusPaused)
	StatusComplete          = string(recon.StatusComplete)
	StatusRunningOrComplete = string(recon.StatusRunningOrComplete)
	StatusNotStarted        = string(recon.StatusNotStarted)
	StatusNotPaused         = "NOT_PAUSED"
	StatusAlreadyStarted    = "ALREADY_STARTED"
	StatusStaleWrite        = "STALE_WRITE"
	StatusDelivered         = "DELIVERED"
	StatusDeliveryFailed    = "DELIVERY_FAILED"
	StatusError             = "ERROR"
)

// Response is the result of a control operation.
type Response struct {
	Status       string              `json:"status"`
	SessionID    string              `json:"session_id"`
	AtNode       recon.NodeID        `json:"at_node,omitempty"`
	Seq          int64               `json:"seq"`
	Nodes        []recon.NodeID      `json:"nodes_processed,omitempty"`
	Item         *state.Item         `json:"item,omitempty"`
	Suggestion   string              `json:"suggestion,omitempty"`
	Labels       []string            `json:"labels,omitempty"`
	Notification string              `json:"notification,omitempty"`
	Audit        *state.Outcome      `json:"audit,omitempty"`
	Matches      int                 `json:"matches,omitempty"`
	Unmatched    []state.Item        `json:"unmatched,omitempty"`
	Checkpoints  []*recon.Checkpoint `json:"checkpoints,omitempty"`
	DeliveryID   string              `json:"delivery_id,omitempty"`
	Error        string              `json:"error,omitempty"`
	ErrorType    string              `json:"error_type,omitempty"`
}

// Options configures a Service
type Options struct {
	Executor *recon.Executor
	Notifier notifier.Gateway
	Logger   *slog.Logger
}

// Service exposes the control operations for sessions of one graph.
type Service struct {
	executor *recon.Executor
	notifier notifier.Gateway
	logger   *slog.Logger
}

func New(opts Options) (*Service, error) {
	if opts.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if opts.Notifier == nil {
		return nil, fmt.Errorf("notifier is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{executor: opts.Executor, notifier: opts.Notifier, logger: opts.Logger}, nil
}

// Begin starts a session with the given initial state.
func (s *Service) Begin(ctx context.Context, sessionID string, initial state.State) *Response {
	result, err := s.executor.Start(ctx, sessionID, initial)
	if err != nil {
		return s.failure(sessionID, "begin", err)
	}
	return fromResult(result)
}

// Status reports whether the session is paused and what awaits review. It
// never writes.
func (s *Service) Status(ctx context.Context, sessionID string) *Response {
	snapshot, err := s.executor.Status(ctx, sessionID)
	if err != nil {
		return s.failure(sessionID, "status", err)
	}
	resp := &Response{
		Status:    string(snapshot.Status),
		SessionID: sessionID,
		Seq:       snapshot.Seq,
	}
	if snapshot.Status == recon.StatusNotStarted {
		return resp
	}
	resp.AtNode = snapshot.AtNode
	fill(resp, snapshot.State)
	return resp
}

// Choose submits the reviewer's category and resumes the session.
func (s *Service) Choose(ctx context.Context, sessionID, category string) *Response {
	category = strings.TrimSpace(category)
	if category == "" {
		return &Response{Status: StatusError, SessionID: sessionID, Error: "category is required", ErrorType: recon.ErrorTypeContract}
	}
	result, err := s.executor.Resume(ctx, sessionID, state.Patch{Choice: state.Set(category)})
	if err != nil {
		return s.failure(sessionID, "choose", err)
	}
	return fromResult(result)
}

// Override force-resolves the focused item of a paused session, bypassing
// review and audit. An empty category selects the first suggested label.
func (s *Service) Override(ctx context.Context, sessionID, category string) *Response {
	var patch state.Patch
	if category = strings.TrimSpace(category); category != "" {
		patch.Choice = state.Set(category)
	}
	result, err := s.executor.Override(ctx, sessionID, patch)
	if err != nil {
		return s.failure(sessionID, "override", err)
	}
	return fromResult(result)
}

// Continue retries a session whose last traversal failed part way.
func (s *Service) Continue(ctx context.Context, sessionID string) *Response {
	result, err := s.executor.Continue(ctx, sessionID)
	if err != nil {
		return s.failure(sessionID, "continue", err)
	}
	return fromResult(result)
}

// Renotify delivers the review request for the focused item again. The
// session's checkpoints are not touched.
func (s *Service) Renotify(ctx context.Context, sessionID string) *Response {
	snapshot, err := s.executor.Status(ctx, sessionID)
	if err != nil {
		return s.failure(sessionID, "renotify", err)
	}
	if snapshot.Status != recon.StatusPaused {
		return s.failure(sessionID, "renotify", recon.ErrNotPaused)
	}
	item, ok := snapshot.State.Focused()
	if !ok {
		return s.failure(sessionID, "renotify", errors.New("no item awaits review"))
	}
	msg := notifier.NewMessage(sessionID, item, snapshot.State.Labels, snapshot.State.Suggestion)
	resp := &Response{
		Status:     StatusDelivered,
		SessionID:  sessionID,
		AtNode:     snapshot.AtNode,
		Seq:        snapshot.Seq,
		DeliveryID: msg.ID,
	}
	fill(resp, snapshot.State)
	if err := s.notifier.Deliver(ctx, msg); err != nil {
		s.logger.Warn("renotify failed", "session", sessionID, "delivery_id", msg.ID, "error", err)
		resp.Status = StatusDeliveryFailed
		resp.Error = err.Error()
		resp.ErrorType = recon.ClassifyError(err).Type
	}
	return resp
}

// History returns every checkpoint of the session.
func (s *Service) History(ctx context.Context, sessionID string) *Response {
	snapshot, err := s.executor.Status(ctx, sessionID)
	if err != nil {
		return s.failure(sessionID, "history", err)
	}
	checkpoints, err := s.executor.History(ctx, sessionID)
	if err != nil {
		return s.failure(sessionID, "history", err)
	}
	return &Response{
		Status:      string(snapshot.Status),
		SessionID:   sessionID,
		AtNode:      snapshot.AtNode,
		Seq:         snapshot.Seq,
		Checkpoints: checkpoints,
	}
}

func fromResult(result *recon.Result) *Response {
	resp := &Response{
		Status:    string(result.Status),
		SessionID: result.SessionID,
		Seq:       result.Seq,
		Nodes:     result.Nodes,
	}
	if result.Status != recon.StatusComplete {
		resp.AtNode = result.Next
	}
	fill(resp, result.State)
	return resp
}

func fill(resp *Response, s state.State) {
	if item, ok := s.Focused(); ok {
		resp.Item = &item
	}
	resp.Suggestion = s.Suggestion
	resp.Labels = s.Labels
	resp.Notification = s.Notification
	resp.Audit = s.Audit
	resp.Matches = len(s.Matches)
	resp.Unmatched = s.Unmatched
}

// StatusFor maps an error to the response status that names it.
func StatusFor(err error) string {
	switch {
	case errors.Is(err, recon.ErrNotPaused):
		return StatusNotPaused
	case errors.Is(err, recon.ErrAlreadyStarted):
		return StatusAlreadyStarted
	case errors.Is(err, recon.ErrStaleWrite):
		return StatusStaleWrite
	case errors.Is(err, recon.ErrNotStarted):
		return StatusNotStarted
	case errors.Is(err, recon.ErrPaused):
		return StatusPaused
	case errors.Is(err, recon.ErrCompleted):
		return StatusComplete
	default:
		return StatusError
	}
}

func (s *Service) failure(sessionID, op string, err error) *Response {
	classified := recon.ClassifyError(err)
	status := StatusFor(err)
	if status == StatusError {
		s.logger.Error("control operation failed", "op", op, "session", sessionID, "error_type", classified.Type, "error", err)
	} else {
		s.logger.Info("control operation rejected", "op", op, "session", sessionID, "status", status)
	}
	return &Response{
		Status:    status,
		SessionID: sessionID,
		Seq:       -1,
		Error:     err.Error(),
		ErrorType: classified.Type,
	}
}
