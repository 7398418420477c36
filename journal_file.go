package recon

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileJournal is an implementation of Journal that writes to a file per
// session. The file is formatted as newline-delimited JSON.
type FileJournal struct {
	directory string
	mutex     sync.Mutex
}

func NewFileJournal(directory string) *FileJournal {
	return &FileJournal{directory: directory}
}

func (j *FileJournal) sessionPath(sessionID string) (string, error) {
	if err := validSessionID(sessionID); err != nil {
		return "", err
	}
	return filepath.Join(j.directory, fmt.Sprintf("%s.jsonl", sessionID)), nil
}

func (j *FileJournal) History(ctx context.Context, sessionID string) ([]*JournalEntry, error) {
	path, err := j.sessionPath(sessionID)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var entries []*JournalEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry JournalEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return nil, err
		}
		entries = append(entries, &entry)
	}
	return entries, scanner.Err()
}

func (j *FileJournal) Record(ctx context.Context, entry *JournalEntry) error {
	path, err := j.sessionPath(entry.SessionID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	j.mutex.Lock()
	defer j.mutex.Unlock()

	if err := os.MkdirAll(j.directory, 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	return f.Sync()
}
