// Package notifier tells a human reviewer that an item awaits a decision.
package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/deepnoodle-ai/recon/state"
)

// Message is one review request.
type Message struct {
	ID        string     `json:"id"`
	SessionID string     `json:"session_id"`
	Item      state.Item `json:"item"`
	Labels    []string   `json:"labels"`
	Reasoning string     `json:"reasoning"`
	CreatedAt time.Time  `json:"created_at"`
}

// NewMessage builds a review request with a fresh delivery ID.
func NewMessage(sessionID string, item state.Item, labels []string, reasoning string) *Message {
	return &Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Item:      item,
		Labels:    append([]string(nil), labels...),
		Reasoning: reasoning,
		CreatedAt: time.Now().UTC(),
	}
}

// Text renders the message for chat-style channels.
func (m *Message) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Review needed for %q (%s) in session %s.\n", m.Item.Description, m.Item.Amount.String(), m.SessionID)
	if m.Reasoning != "" {
		fmt.Fprintf(&b, "Suggestion: %s\n", m.Reasoning)
	}
	if len(m.Labels) > 0 {
		fmt.Fprintf(&b, "Options: %s", strings.Join(m.Labels, " | "))
	}
	return strings.TrimRight(b.String(), "\n")
}

// Gateway delivers review requests. A nil error means the message was
// accepted by the channel.
type Gateway interface {
	Deliver(ctx context.Context, msg *Message) error
}

// Log writes review requests to a logger. It never fails.
type Log struct {
	logger *slog.Logger
}

var _ Gateway = (*Log)(nil)

func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

func (l *Log) Deliver(ctx context.Context, msg *Message) error {
	l.logger.InfoContext(ctx, "review requested",
		"delivery_id", msg.ID,
		"session", msg.SessionID,
		"item", msg.Item.Description,
		"amount", msg.Item.Amount.String(),
		"options", msg.Labels,
	)
	return nil
}
