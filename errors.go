package recon

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Contract violations. These are surfaced to the caller and never retried
// automatically.
var (
	ErrNotPaused      = errors.New("recon: session is not paused")
	ErrAlreadyStarted = errors.New("recon: session already started")
	ErrStaleWrite     = errors.New("recon: stale write")
	ErrNotStarted     = errors.New("recon: session not started")
	ErrPaused         = errors.New("recon: session is awaiting review")
	ErrCompleted      = errors.New("recon: session already complete")

	ErrInvalidSessionID = errors.New("recon: invalid session id")
)

// Gateway conditions. Nodes recover from these locally.
var (
	ErrGatewayUnavailable  = errors.New("recon: gateway unavailable")
	ErrMalformedSuggestion = errors.New("recon: malformed suggestion")
)

// Error type constants for classification and matching
const (
	// ErrorTypeContract covers NotPaused, AlreadyStarted, StaleWrite and the
	// other session lifecycle violations.
	ErrorTypeContract = "contract"

	// ErrorTypeGateway matches a transient failure of an external collaborator
	ErrorTypeGateway = "gateway"

	// ErrorTypeMalformed matches an unparseable categorizer response
	ErrorTypeMalformed = "malformed"

	// ErrorTypeTimeout matches a timeout context canceled error
	ErrorTypeTimeout = "timeout"

	// ErrorTypeNodeFailed is the default for errors raised by node bodies.
	// The traversal is aborted without writing a checkpoint.
	ErrorTypeNodeFailed = "node_failed"
)

// WorkflowError represents a structured error with classification
// It supports Go's error wrapping patterns with Unwrap() method
type WorkflowError struct {
	Type    string `json:"type"`
	Cause   string `json:"cause"`
	Node    NodeID `json:"node,omitempty"`
	Wrapped error  `json:"-"`
}

// Error implements the error interface
func (e *WorkflowError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Cause)
}

// Unwrap implements the error unwrapping interface for Go's errors.Is and errors.As
func (e *WorkflowError) Unwrap() error {
	return e.Wrapped
}

// NodeError reports a node body that failed during a traversal.
type NodeError struct {
	Node NodeID
	Err  error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s failed: %v", e.Node, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}

// storeError reports a checkpoint store failure as a gateway condition.
// Stale writes keep their contract meaning.
func storeError(op string, err error) error {
	if errors.Is(err, ErrStaleWrite) || errors.Is(err, ErrGatewayUnavailable) || errors.Is(err, ErrInvalidSessionID) {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	return fmt.Errorf("failed to %s: %w: %w", op, ErrGatewayUnavailable, err)
}

// ClassifyError attempts to classify a regular error into a WorkflowError
func ClassifyError(err error) *WorkflowError {
	var workflowError *WorkflowError
	if errors.As(err, &workflowError) {
		return workflowError
	}
	wErr := &WorkflowError{Cause: err.Error(), Wrapped: err}
	var nodeErr *NodeError
	if errors.As(err, &nodeErr) {
		wErr.Node = nodeErr.Node
	}
	switch {
	case errors.Is(err, ErrNotPaused),
		errors.Is(err, ErrAlreadyStarted),
		errors.Is(err, ErrStaleWrite),
		errors.Is(err, ErrNotStarted),
		errors.Is(err, ErrPaused),
		errors.Is(err, ErrCompleted),
		errors.Is(err, ErrInvalidSessionID):
		wErr.Type = ErrorTypeContract
	case errors.Is(err, ErrMalformedSuggestion):
		wErr.Type = ErrorTypeMalformed
	case errors.Is(err, ErrGatewayUnavailable):
		wErr.Type = ErrorTypeGateway
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		strings.Contains(strings.ToLower(err.Error()), "timeout"):
		wErr.Type = ErrorTypeTimeout
	default:
		wErr.Type = ErrorTypeNodeFailed
	}
	return wErr
}

// MatchesErrorType checks if an error matches a specified error type
func MatchesErrorType(err error, errorType string) bool {
	return ClassifyError(err).Type == errorType
}
