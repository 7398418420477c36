// Package checkpointtest holds the behavioural test suite shared by every
// recon.Checkpointer implementation.
package checkpointtest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/deepnoodle-ai/recon"
	"github.com/deepnoodle-ai/recon/state"
)

// Factory returns an empty store. Each call must be isolated from the others.
type Factory func(t *testing.T) recon.Checkpointer

// Run exercises the Checkpointer contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("load of unknown session returns nil", func(t *testing.T) {
		store := newStore(t)
		cp, err := store.Load(context.Background(), "missing")
		require.NoError(t, err)
		require.Nil(t, cp)

		list, err := store.List(context.Background(), "missing")
		require.NoError(t, err)
		require.Empty(t, list)
	})

	t.Run("append assigns identity and load returns the latest", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		first, err := store.Append(ctx, checkpoint("s1", 0, recon.StartNode, "matchmaker"))
		require.NoError(t, err)
		require.NotEmpty(t, first.ID)
		require.False(t, first.CreatedAt.IsZero())

		second := checkpoint("s1", 1, "matchmaker", "investigator")
		second.State.Unresolved = []state.Item{{ID: 4, Description: "Office Rent", Amount: decimal.NewFromInt(-1200)}}
		second.Note = "note"
		_, err = store.Append(ctx, second)
		require.NoError(t, err)

		latest, err := store.Load(ctx, "s1")
		require.NoError(t, err)
		require.Equal(t, int64(1), latest.Seq)
		require.Equal(t, recon.NodeID("matchmaker"), latest.Node)
		require.Equal(t, recon.NodeID("investigator"), latest.Next)
		require.Equal(t, "note", latest.Note)
		require.Len(t, latest.State.Unresolved, 1)
		require.True(t, latest.State.Unresolved[0].Amount.Equal(decimal.NewFromInt(-1200)))

		list, err := store.List(ctx, "s1")
		require.NoError(t, err)
		require.Len(t, list, 2)
		require.Equal(t, int64(0), list[0].Seq)
		require.Equal(t, int64(1), list[1].Seq)
	})

	t.Run("append does not share state with the caller", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		input := checkpoint("s1", 0, recon.StartNode, "matchmaker")
		input.State.Labels = []string{"Office Rent", "Refunds"}
		stored, err := store.Append(ctx, input)
		require.NoError(t, err)

		stored.State.Labels[0] = "Travel"
		input.State.Labels[1] = "Meals"
		require.Equal(t, []string{"Office Rent", "Meals"}, input.State.Labels)

		latest, err := store.Load(ctx, "s1")
		require.NoError(t, err)
		require.Equal(t, []string{"Office Rent", "Refunds"}, latest.State.Labels)
	})

	t.Run("append with a stale seq fails", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		_, err := store.Append(ctx, checkpoint("s1", 0, recon.StartNode, "a"))
		require.NoError(t, err)
		_, err = store.Append(ctx, checkpoint("s1", 1, "a", "b"))
		require.NoError(t, err)

		_, err = store.Append(ctx, checkpoint("s1", 1, "a", "c"))
		require.True(t, errors.Is(err, recon.ErrStaleWrite), "got %v", err)
		_, err = store.Append(ctx, checkpoint("s1", 0, recon.StartNode, "a"))
		require.True(t, errors.Is(err, recon.ErrStaleWrite), "got %v", err)

		latest, err := store.Load(ctx, "s1")
		require.NoError(t, err)
		require.Equal(t, int64(1), latest.Seq)
		require.Equal(t, recon.NodeID("b"), latest.Next)
	})

	t.Run("sessions are independent", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		_, err := store.Append(ctx, checkpoint("s1", 0, recon.StartNode, "a"))
		require.NoError(t, err)
		_, err = store.Append(ctx, checkpoint("s2", 0, recon.StartNode, "a"))
		require.NoError(t, err)

		latest, err := store.Load(ctx, "s2")
		require.NoError(t, err)
		require.Equal(t, "s2", latest.SessionID)
		require.Equal(t, int64(0), latest.Seq)
	})

	t.Run("concurrent appends of the same seq admit exactly one", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		_, err := store.Append(ctx, checkpoint("s1", 0, recon.StartNode, "a"))
		require.NoError(t, err)

		const writers = 8
		var wg sync.WaitGroup
		errs := make([]error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = store.Append(ctx, checkpoint("s1", 1, "a", "b"))
			}(i)
		}
		wg.Wait()

		var ok, stale int
		for _, err := range errs {
			switch {
			case err == nil:
				ok++
			case errors.Is(err, recon.ErrStaleWrite):
				stale++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		require.Equal(t, 1, ok)
		require.Equal(t, writers-1, stale)

		list, err := store.List(ctx, "s1")
		require.NoError(t, err)
		require.Len(t, list, 2)
	})
}

func checkpoint(sessionID string, seq int64, node, next recon.NodeID) *recon.Checkpoint {
	return &recon.Checkpoint{
		SessionID: sessionID,
		Seq:       seq,
		Node:      node,
		Next:      next,
	}
}
