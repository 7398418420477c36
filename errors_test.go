package recon

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWorkflowErrorWrapping(t *testing.T) {
	originalErr := errors.New("ledger connection refused")
	wrappedErr := &WorkflowError{
		Type:    ErrorTypeGateway,
		Cause:   originalErr.Error(),
		Wrapped: originalErr,
	}

	require.Equal(t, "gateway: ledger connection refused", wrappedErr.Error())
	require.Equal(t, originalErr, wrappedErr.Unwrap())
	require.True(t, errors.Is(wrappedErr, originalErr))

	var wErr *WorkflowError
	require.True(t, errors.As(wrappedErr, &wErr))
	require.Equal(t, ErrorTypeGateway, wErr.Type)
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"not paused", ErrNotPaused, ErrorTypeContract},
		{"wrapped stale write", fmt.Errorf("append: %w", ErrStaleWrite), ErrorTypeContract},
		{"already started", ErrAlreadyStarted, ErrorTypeContract},
		{"gateway", fmt.Errorf("notify: %w", ErrGatewayUnavailable), ErrorTypeGateway},
		{"malformed", ErrMalformedSuggestion, ErrorTypeMalformed},
		{"deadline", context.DeadlineExceeded, ErrorTypeTimeout},
		{"generic", errors.New("something went wrong"), ErrorTypeNodeFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified := ClassifyError(tt.err)
			require.Equal(t, tt.want, classified.Type)
			require.True(t, errors.Is(classified, tt.err))
			require.True(t, MatchesErrorType(tt.err, tt.want))
		})
	}
}

func TestClassifyNodeError(t *testing.T) {
	err := &NodeError{Node: "auditor", Err: errors.New("no choice supplied")}
	classified := ClassifyError(err)
	require.Equal(t, ErrorTypeNodeFailed, classified.Type)
	require.Equal(t, NodeID("auditor"), classified.Node)
	require.Equal(t, "node auditor failed: no choice supplied", err.Error())

	passthrough := &WorkflowError{Type: ErrorTypeContract, Cause: "x"}
	require.Equal(t, passthrough, ClassifyError(passthrough))
}

func TestStoreError(t *testing.T) {
	err := storeError("append checkpoint", errors.New("connection reset by peer"))
	require.ErrorIs(t, err, ErrGatewayUnavailable)
	require.Equal(t, ErrorTypeGateway, ClassifyError(err).Type)
	require.Equal(t, "failed to append checkpoint: recon: gateway unavailable: connection reset by peer", err.Error())

	stale := storeError("commit resume", fmt.Errorf("%w: expected seq 3", ErrStaleWrite))
	require.ErrorIs(t, stale, ErrStaleWrite)
	require.NotErrorIs(t, stale, ErrGatewayUnavailable)
	require.Equal(t, ErrorTypeContract, ClassifyError(stale).Type)
}
