// Package sqlite provides a recon.Checkpointer backed by an SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/deepnoodle-ai/recon"
	"github.com/deepnoodle-ai/recon/state"
)

//go:embed schema.sql
var schemaSQL string

const defaultBusyTimeout = 5 * time.Second

var _ recon.Checkpointer = (*Checkpointer)(nil)

// Checkpointer stores checkpoints in an SQLite table keyed by
// (session_id, seq). The primary key fences concurrent appends.
type Checkpointer struct {
	db          *sql.DB
	busyTimeout time.Duration
	enableWAL   bool
}

type Option func(*Checkpointer)

func WithBusyTimeout(timeout time.Duration) Option {
	return func(c *Checkpointer) {
		if timeout >= 0 {
			c.busyTimeout = timeout
		}
	}
}

func WithWAL(enabled bool) Option {
	return func(c *Checkpointer) {
		c.enableWAL = enabled
	}
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string, opts ...Option) (*Checkpointer, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	c := &Checkpointer{busyTimeout: defaultBusyTimeout, enableWAL: true}
	for _, opt := range opts {
		opt(c)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	c.db = db
	if err := c.initialize(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Checkpointer) initialize(ctx context.Context) error {
	if c.busyTimeout > 0 {
		ms := int(c.busyTimeout / time.Millisecond)
		if _, err := c.db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d;", ms)); err != nil {
			return fmt.Errorf("failed to set busy_timeout: %w", err)
		}
	}
	if c.enableWAL {
		if _, err := c.db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
			return fmt.Errorf("failed to enable wal: %w", err)
		}
	}
	if _, err := c.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Close closes the database
func (c *Checkpointer) Close() error {
	return c.db.Close()
}

func (c *Checkpointer) Load(ctx context.Context, sessionID string) (*recon.Checkpoint, error) {
	const q = `
SELECT session_id, seq, id, node, next, note, state, created_at
FROM recon_checkpoints
WHERE session_id = ?
ORDER BY seq DESC
LIMIT 1;
`
	cp, err := scanCheckpoint(c.db.QueryRowContext(ctx, q, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return cp, nil
}

// Append inserts the checkpoint only if its predecessor is the session's
// current checkpoint. A lost race surfaces as a primary key violation.
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
	stateRaw, err := json.Marshal(stored.State)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}

	const q = `
INSERT INTO recon_checkpoints (session_id, seq, id, node, next, note, state, created_at)
SELECT ?, ?, ?, ?, ?, ?, ?, ?
WHERE (SELECT COALESCE(MAX(seq), -1) FROM recon_checkpoints WHERE session_id = ?) = ?;
`
	res, err := c.db.ExecContext(ctx, q,
		stored.SessionID,
		stored.Seq,
		stored.ID,
		string(stored.Node),
		string(stored.Next),
		stored.Note,
		string(stateRaw),
		stored.CreatedAt.Format(time.RFC3339Nano),
		stored.SessionID,
		stored.Seq-1,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return nil, recon.ErrStaleWrite
		}
		return nil, fmt.Errorf("failed to append checkpoint: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to append checkpoint: %w", err)
	}
	if n == 0 {
		return nil, recon.ErrStaleWrite
	}
	return &stored, nil
}

func (c *Checkpointer) List(ctx context.Context, sessionID string) ([]*recon.Checkpoint, error) {
	const q = `
SELECT session_id, seq, id, node, next, note, state, created_at
FROM recon_checkpoints
WHERE session_id = ?
ORDER BY seq ASC;
`
	rows, err := c.db.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []*recon.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

// ListSessions returns the IDs of all sessions with at least one checkpoint
func (c *Checkpointer) ListSessions(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT DISTINCT session_id FROM recon_checkpoints ORDER BY session_id;`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		sessions = append(sessions, id)
	}
	return sessions, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row scanner) (*recon.Checkpoint, error) {
	var (
		cp        recon.Checkpoint
		node      string
		next      string
		stateRaw  string
		createdAt string
	)
	if err := row.Scan(&cp.SessionID, &cp.Seq, &cp.ID, &node, &next, &cp.Note, &stateRaw, &createdAt); err != nil {
		return nil, err
	}
	cp.Node = recon.NodeID(node)
	cp.Next = recon.NodeID(next)
	var s state.State
	if err := json.Unmarshal([]byte(stateRaw), &s); err != nil {
		return nil, fmt.Errorf("failed to decode state: %w", err)
	}
	cp.State = s
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	cp.CreatedAt = t
	return &cp, nil
}

func isConstraintViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return false
}
