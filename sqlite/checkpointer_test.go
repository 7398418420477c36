package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deepnoodle-ai/recon"
	"github.com/deepnoodle-ai/recon/internal/checkpointtest"
)

func newTestCheckpointer(t *testing.T, path string) *Checkpointer {
	t.Helper()
	c, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = c.Close()
	})
	return c
}

func TestCheckpointerConformance(t *testing.T) {
	checkpointtest.Run(t, func(t *testing.T) recon.Checkpointer {
		return newTestCheckpointer(t, filepath.Join(t.TempDir(), "recon.db"))
	})
}

func TestCheckpointsSurviveReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "recon.db")

	c, err := Open(path)
	require.NoError(t, err)
	_, err = c.Append(ctx, &recon.Checkpoint{SessionID: "s1", Seq: 0, Node: recon.StartNode, Next: "matchmaker"})
	require.NoError(t, err)
	require.NoError(t, c.Close())

	reopened := newTestCheckpointer(t, path)
	latest, err := reopened.Load(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	require.Equal(t, recon.NodeID("matchmaker"), latest.Next)

	sessions, err := reopened.ListSessions(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"s1"}, sessions)
}

func TestAppendRejectsGap(t *testing.T) {
	c := newTestCheckpointer(t, filepath.Join(t.TempDir(), "recon.db"))
	_, err := c.Append(context.Background(), &recon.Checkpoint{SessionID: "s1", Seq: 2, Node: "a", Next: "b"})
	require.ErrorIs(t, err, recon.ErrStaleWrite)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("  ")
	require.ErrorContains(t, err, "sqlite path is required")
}
