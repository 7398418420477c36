package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/deepnoodle-ai/recon"
	"github.com/deepnoodle-ai/recon/internal/checkpointtest"
)

func newTestCheckpointer(t *testing.T) *Checkpointer {
	t.Helper()

	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		addr = "127.0.0.1:6379"
	}
	prefix := "recon-test-" + uuid.NewString()

	c, err := New(addr, WithPrefix(prefix))
	if err != nil {
		t.Skipf("redis unavailable at %s: %v", addr, err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		keys, _ := c.client.Keys(ctx, prefix+":*").Result()
		if len(keys) > 0 {
			_ = c.client.Del(ctx, keys...).Err()
		}
		_ = c.Close()
	})
	return c
}

func TestCheckpointerConformance(t *testing.T) {
	checkpointtest.Run(t, func(t *testing.T) recon.Checkpointer {
		return newTestCheckpointer(t)
	})
}

func TestAppendRejectsGap(t *testing.T) {
	c := newTestCheckpointer(t)
	_, err := c.Append(context.Background(), &recon.Checkpoint{SessionID: "s1", Seq: 4, Node: "a", Next: "b"})
	require.ErrorIs(t, err, recon.ErrStaleWrite)
}

func TestNewRequiresAddr(t *testing.T) {
	_, err := New("")
	require.ErrorContains(t, err, "redis addr is required")
}
