package recon

import (
	"context"
	"time"

	"github.com/deepnoodle-ai/recon/state"
	"go.jetify.com/typeid"
)

// JournalEntry records one node execution, successful or not. The journal is
// the audit trail of a session; checkpoints hold state, the journal holds
// what happened.
type JournalEntry struct {
	ID        string       `json:"id"`
	SessionID string       `json:"session_id"`
	Node      NodeID       `json:"node"`
	Next      NodeID       `json:"next,omitempty"`
	Seq       int64        `json:"seq"`
	Note      string       `json:"note,omitempty"`
	Patch     *state.Patch `json:"patch,omitempty"`
	Error     string       `json:"error,omitempty"`
	StartTime time.Time    `json:"start_time"`
	Duration  float64      `json:"duration"`
}

// Journal defines the audit trail interface
type Journal interface {
	// Record appends an entry
	Record(ctx context.Context, entry *JournalEntry) error

	// History retrieves the entries of a session
	History(ctx context.Context, sessionID string) ([]*JournalEntry, error)
}

// NewJournalEntryID returns a new journal entry identifier.
func NewJournalEntryID() string {
	id, err := typeid.WithPrefix("jrnl")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// NullJournal is a no-op implementation of Journal.
type NullJournal struct{}

func NewNullJournal() *NullJournal {
	return &NullJournal{}
}

func (j *NullJournal) Record(ctx context.Context, entry *JournalEntry) error {
	return nil
}

func (j *NullJournal) History(ctx context.Context, sessionID string) ([]*JournalEntry, error) {
	return nil, nil
}
