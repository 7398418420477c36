package recon

import (
	"context"
	"time"

	"github.com/deepnoodle-ai/recon/state"
)

// ExecutionCallbacks defines the callback interface for traversal events
type ExecutionCallbacks interface {
	BeforeNode(ctx context.Context, event *NodeEvent)
	AfterNode(ctx context.Context, event *NodeEvent)

	// OnPause is called when a traversal stops at the interrupt point.
	OnPause(ctx context.Context, event *TraversalEvent)
	// OnComplete is called when a traversal reaches Terminal.
	OnComplete(ctx context.Context, event *TraversalEvent)
}

// NodeEvent provides context for node execution events
type NodeEvent struct {
	SessionID string
	GraphName string
	Node      NodeID
	Next      NodeID
	Seq       int64
	State     state.State
	Patch     state.Patch
	StartTime time.Time
	Duration  time.Duration
	Error     error
}

// TraversalEvent provides context for the end of a traversal
type TraversalEvent struct {
	SessionID string
	GraphName string
	Nodes     []NodeID
	Seq       int64
	State     state.State
}

// BaseExecutionCallbacks provides a default implementation that does nothing
type BaseExecutionCallbacks struct{}

func (n *BaseExecutionCallbacks) BeforeNode(ctx context.Context, event *NodeEvent) {}

func (n *BaseExecutionCallbacks) AfterNode(ctx context.Context, event *NodeEvent) {}

func (n *BaseExecutionCallbacks) OnPause(ctx context.Context, event *TraversalEvent) {}

func (n *BaseExecutionCallbacks) OnComplete(ctx context.Context, event *TraversalEvent) {}

// NewBaseExecutionCallbacks creates a new no-op callbacks implementation.
// Embed this in your own callbacks to get a default implementation that does nothing.
func NewBaseExecutionCallbacks() ExecutionCallbacks {
	return &BaseExecutionCallbacks{}
}

// CallbackChain allows chaining multiple callback implementations
type CallbackChain struct {
	callbacks []ExecutionCallbacks
}

// NewCallbackChain creates a new callback chain
func NewCallbackChain(callbacks ...ExecutionCallbacks) *CallbackChain {
	return &CallbackChain{callbacks: callbacks}
}

// Add adds a callback to the chain
func (c *CallbackChain) Add(callback ExecutionCallbacks) {
	c.callbacks = append(c.callbacks, callback)
}

func (c *CallbackChain) BeforeNode(ctx context.Context, event *NodeEvent) {
	for _, callback := range c.callbacks {
		callback.BeforeNode(ctx, event)
	}
}

func (c *CallbackChain) AfterNode(ctx context.Context, event *NodeEvent) {
	for _, callback := range c.callbacks {
		callback.AfterNode(ctx, event)
	}
}

func (c *CallbackChain) OnPause(ctx context.Context, event *TraversalEvent) {
	for _, callback := range c.callbacks {
		callback.OnPause(ctx, event)
	}
}

func (c *CallbackChain) OnComplete(ctx context.Context, event *TraversalEvent) {
	for _, callback := range c.callbacks {
		callback.OnComplete(ctx, event)
	}
}
