// Package redis provides a recon.Checkpointer backed by Redis.
//
// Each checkpoint is a JSON string under its own per-Seq key and a sorted set
// per session indexes the Seqs. Appends run as one Lua script so the
// predecessor check, the SETNX fence and the index update are atomic.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/deepnoodle-ai/recon"
)

const defaultPrefix = "recon"

var _ recon.Checkpointer = (*Checkpointer)(nil)

// appendScript returns 1 when the checkpoint was stored and 0 when the Seq
// does not directly follow the session's current checkpoint.
var appendScript = goredis.NewScript(`
local top = redis.call('ZREVRANGE', KEYS[2], 0, 0, 'WITHSCORES')
local current = -1
if #top > 0 then current = tonumber(top[2]) end
if current ~= tonumber(ARGV[1]) - 1 then return 0 end
if redis.call('SETNX', KEYS[1], ARGV[2]) == 0 then return 0 end
redis.call('ZADD', KEYS[2], ARGV[1], KEYS[1])
return 1
`)

type Checkpointer struct {
	client   *goredis.Client
	prefix   string
	addr     string
	db       int
	password string
}

type Option func(*Checkpointer)

func WithPassword(password string) Option {
	return func(c *Checkpointer) {
		c.password = password
	}
}

func WithDB(db int) Option {
	return func(c *Checkpointer) {
		c.db = db
	}
}

// WithPrefix namespaces every key written by the checkpointer
func WithPrefix(prefix string) Option {
	return func(c *Checkpointer) {
		if strings.TrimSpace(prefix) != "" {
			c.prefix = strings.TrimSpace(prefix)
		}
	}
}

func WithClient(client *goredis.Client) Option {
	return func(c *Checkpointer) {
		if client != nil {
			c.client = client
		}
	}
}

// New connects to the Redis server at addr and verifies the connection.
func New(addr string, opts ...Option) (*Checkpointer, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	c := &Checkpointer{prefix: defaultPrefix, addr: addr}
	for _, opt := range opts {
		opt(c)
	}
	if c.client == nil {
		c.client = goredis.NewClient(&goredis.Options{
			Addr:     c.addr,
			Password: c.password,
			DB:       c.db,
		})
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return c, nil
}

// Close closes the underlying client
func (c *Checkpointer) Close() error {
	return c.client.Close()
}

// Keys of one session share a hash tag so the script stays in one slot.
func (c *Checkpointer) checkpointKey(sessionID string, seq int64) string {
	return fmt.Sprintf("%s:{%s}:checkpoint:%020d", c.prefix, sessionID, seq)
}

func (c *Checkpointer) indexKey(sessionID string) string {
	return fmt.Sprintf("%s:{%s}:checkpoints", c.prefix, sessionID)
}

func (c *Checkpointer) Load(ctx context.Context, sessionID string) (*recon.Checkpoint, error) {
	keys, err := c.client.ZRevRange(ctx, c.indexKey(sessionID), 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint index: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}
	raw, err := c.client.Get(ctx, keys[0]).Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return decode(raw)
}

func (c *Checkpointer) Append(ctx context.Context, checkpoint *recon.Checkpoint) (*recon.Checkpoint, error) {
	if checkpoint.SessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}
	stored := *checkpoint
	stored.State = checkpoint.State.Copy()
	if stored.ID == "" {
		stored.ID = recon.NewCheckpointID()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	keys := []string{c.checkpointKey(stored.SessionID, stored.Seq), c.indexKey(stored.SessionID)}
	ok, err := appendScript.Run(ctx, c.client, keys, stored.Seq, raw).Int()
	if err != nil {
		return nil, fmt.Errorf("failed to append checkpoint: %w", err)
	}
	if ok == 0 {
		return nil, recon.ErrStaleWrite
	}
	return &stored, nil
}

func (c *Checkpointer) List(ctx context.Context, sessionID string) ([]*recon.Checkpoint, error) {
	keys, err := c.client.ZRange(ctx, c.indexKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint index: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}
	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	out := make([]*recon.Checkpoint, 0, len(values))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("checkpoint %s is missing", keys[i])
		}
		cp, err := decode([]byte(s))
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

func decode(raw []byte) (*recon.Checkpoint, error) {
	var cp recon.Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, errors.Join(errors.New("failed to decode checkpoint"), err)
	}
	return &cp, nil
}
