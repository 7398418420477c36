package recon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const (
	checkpointFilePrefix = "checkpoint-"
	checkpointFileSuffix = ".json"
)

// FileCheckpointer is a file-based implementation that persists checkpoints to
// disk. Each checkpoint is its own file named after its Seq. Files are
// published with a hard link, which fails if the name already exists, so two
// processes racing on the same Seq cannot both succeed.
type FileCheckpointer struct {
	dataDir string
}

// NewFileCheckpointer creates a new file-based checkpointer
func NewFileCheckpointer(dataDir string) (*FileCheckpointer, error) {
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		dataDir = filepath.Join(homeDir, ".recon", "sessions")
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dataDir, err)
	}
	return &FileCheckpointer{dataDir: dataDir}, nil
}

// validSessionID rejects session IDs that are not a single path element, so
// file-backed stores stay inside their directory.
func validSessionID(sessionID string) error {
	switch {
	case sessionID == "":
		return fmt.Errorf("%w: session id is required", ErrInvalidSessionID)
	case sessionID == "." || sessionID == "..",
		strings.ContainsAny(sessionID, `/\`),
		filepath.Base(sessionID) != sessionID:
		return fmt.Errorf("%w: %q", ErrInvalidSessionID, sessionID)
	}
	return nil
}

func (c *FileCheckpointer) sessionDir(sessionID string) string {
	return filepath.Join(c.dataDir, sessionID)
}

func (c *FileCheckpointer) checkpointPath(sessionID string, seq int64) string {
	name := fmt.Sprintf("%s%020d%s", checkpointFilePrefix, seq, checkpointFileSuffix)
	return filepath.Join(c.sessionDir(sessionID), name)
}

// Append writes the checkpoint to a temporary file and links it into place.
func (c *FileCheckpointer) Append(ctx context.Context, checkpoint *Checkpoint) (*Checkpoint, error) {
	if err := validSessionID(checkpoint.SessionID); err != nil {
		return nil, err
	}
	sessionDir := c.sessionDir(checkpoint.SessionID)
	if err := os.MkdirAll(sessionDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	// The predecessor must exist, otherwise the caller is ahead of the store.
	if checkpoint.Seq > 0 {
		if _, err := os.Stat(c.checkpointPath(checkpoint.SessionID, checkpoint.Seq-1)); err != nil {
			if os.IsNotExist(err) {
				return nil, ErrStaleWrite
			}
			return nil, fmt.Errorf("failed to stat previous checkpoint: %w", err)
		}
	}

	stored := stamp(checkpoint)
	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	tmp, err := os.CreateTemp(sessionDir, ".pending-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary checkpoint file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to write checkpoint file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to sync checkpoint file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to close checkpoint file: %w", err)
	}

	if err := os.Link(tmp.Name(), c.checkpointPath(checkpoint.SessionID, checkpoint.Seq)); err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, ErrStaleWrite
		}
		return nil, fmt.Errorf("failed to publish checkpoint file: %w", err)
	}
	return stored, nil
}

// Load loads the latest checkpoint for a session
func (c *FileCheckpointer) Load(ctx context.Context, sessionID string) (*Checkpoint, error) {
	if err := validSessionID(sessionID); err != nil {
		return nil, err
	}
	seqs, err := c.sequences(sessionID)
	if err != nil {
		return nil, err
	}
	if len(seqs) == 0 {
		return nil, nil // No checkpoint found
	}
	return c.read(sessionID, seqs[len(seqs)-1])
}

// List returns all checkpoints for a session in Seq order
func (c *FileCheckpointer) List(ctx context.Context, sessionID string) ([]*Checkpoint, error) {
	if err := validSessionID(sessionID); err != nil {
		return nil, err
	}
	seqs, err := c.sequences(sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]*Checkpoint, 0, len(seqs))
	for _, seq := range seqs {
		cp, err := c.read(sessionID, seq)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

// ListSessions returns the identifiers of all sessions with checkpoints
func (c *FileCheckpointer) ListSessions(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(c.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}
	var sessions []string
	for _, entry := range entries {
		if entry.IsDir() {
			sessions = append(sessions, entry.Name())
		}
	}
	sort.Strings(sessions)
	return sessions, nil
}

func (c *FileCheckpointer) read(sessionID string, seq int64) (*Checkpoint, error) {
	data, err := os.ReadFile(c.checkpointPath(sessionID, seq))
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}
	var checkpoint Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &checkpoint, nil
}

// sequences returns the stored Seqs of a session in ascending order
func (c *FileCheckpointer) sequences(sessionID string) ([]int64, error) {
	entries, err := os.ReadDir(c.sessionDir(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read session directory: %w", err)
	}
	var seqs []int64
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, checkpointFilePrefix) || !strings.HasSuffix(name, checkpointFileSuffix) {
			continue
		}
		raw := strings.TrimSuffix(strings.TrimPrefix(name, checkpointFilePrefix), checkpointFileSuffix)
		seq, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs, nil
}
