package recon

import (
	"context"
	"fmt"
	"sync"
)

// Checkpointer is the durable, append-only store of session checkpoints.
type Checkpointer interface {
	// Load returns the current checkpoint for a session, or nil if the
	// session has none.
	Load(ctx context.Context, sessionID string) (*Checkpoint, error)

	// Append stores a new checkpoint. The checkpoint's Seq must be exactly
	// one greater than the session's current Seq (zero for the first);
	// otherwise ErrStaleWrite is returned and nothing is written.
	Append(ctx context.Context, checkpoint *Checkpoint) (*Checkpoint, error)

	// List returns every checkpoint of a session in ascending Seq order.
	List(ctx context.Context, sessionID string) ([]*Checkpoint, error)
}

// MemoryCheckpointer keeps checkpoints in process memory.
type MemoryCheckpointer struct {
	mutex    sync.RWMutex
	sessions map[string][]*Checkpoint
}

func NewMemoryCheckpointer() *MemoryCheckpointer {
	return &MemoryCheckpointer{sessions: map[string][]*Checkpoint{}}
}

func (c *MemoryCheckpointer) Load(ctx context.Context, sessionID string) (*Checkpoint, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	chain := c.sessions[sessionID]
	if len(chain) == 0 {
		return nil, nil
	}
	return stamp(chain[len(chain)-1]), nil
}

func (c *MemoryCheckpointer) Append(ctx context.Context, checkpoint *Checkpoint) (*Checkpoint, error) {
	if checkpoint.SessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()

	chain := c.sessions[checkpoint.SessionID]
	if checkpoint.Seq != int64(len(chain)) {
		return nil, ErrStaleWrite
	}
	stored := stamp(checkpoint)
	c.sessions[checkpoint.SessionID] = append(chain, stored)
	return stamp(stored), nil
}

func (c *MemoryCheckpointer) List(ctx context.Context, sessionID string) ([]*Checkpoint, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	chain := c.sessions[sessionID]
	out := make([]*Checkpoint, 0, len(chain))
	for _, cp := range chain {
		out = append(out, stamp(cp))
	}
	return out, nil
}
