package recon

import (
	"time"

	"github.com/deepnoodle-ai/recon/state"
	"go.jetify.com/typeid"
)

// Checkpoint notes.
const (
	NoteResume   = "resume"
	NoteOverride = "override"
)

// Checkpoint is an immutable snapshot of session state plus routing metadata.
// Checkpoints for a session are totally ordered by Seq; the current one is
// always the highest.
type Checkpoint struct {
	ID        string      `json:"id"`
	SessionID string      `json:"session_id"`
	Seq       int64       `json:"seq"`
	Node      NodeID      `json:"node"`
	Next      NodeID      `json:"next"`
	State     state.State `json:"state"`
	Note      string      `json:"note,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// IsResumeCommit reports whether the checkpoint records an accepted resume
// whose interrupt node has not yet completed.
func (c *Checkpoint) IsResumeCommit() bool {
	return c.Node == ResumeNode
}

// NewCheckpointID returns a new checkpoint identifier.
func NewCheckpointID() string {
	id, err := typeid.WithPrefix("ckpt")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// stamp fills the store-assigned fields of a checkpoint being appended and
// returns a copy.
func stamp(cp *Checkpoint) *Checkpoint {
	out := *cp
	out.State = cp.State.Copy()
	if out.ID == "" {
		out.ID = NewCheckpointID()
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = time.Now().UTC()
	}
	return &out
}
