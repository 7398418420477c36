package ledger

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/deepnoodle-ai/recon/state"
)

type memoryLine struct {
	item   state.Item
	status string
}

// Memory is an in-process ledger.
type Memory struct {
	mutex      sync.Mutex
	nextID     int64
	lines      []*memoryLine
	records    []Record
	keys       map[string]bool
	categories []string
}

var _ Gateway = (*Memory)(nil)

// NewMemory returns an empty ledger seeded with the given categories.
func NewMemory(categories ...string) *Memory {
	return &Memory{
		keys:       map[string]bool{},
		categories: slices.Clone(categories),
	}
}

// AddItem inserts an unresolved bank line and returns it with its ID.
func (m *Memory) AddItem(ctx context.Context, description string, amount decimal.Decimal) (state.Item, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.nextID++
	item := state.Item{ID: m.nextID, Description: description, Amount: amount}
	m.lines = append(m.lines, &memoryLine{item: item, status: StatusUnmatched})
	return item, nil
}

// AddCategory appends a category to the vocabulary if not already present.
func (m *Memory) AddCategory(ctx context.Context, name string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if !slices.Contains(m.categories, name) {
		m.categories = append(m.categories, name)
	}
	return nil
}

func (m *Memory) ListUnresolved(ctx context.Context) ([]state.Item, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	items := []state.Item{}
	for _, line := range m.lines {
		if line.status == StatusUnmatched {
			items = append(items, line.item)
		}
	}
	return items, nil
}

func (m *Memory) RecordOutcome(ctx context.Context, record Record) error {
	if err := prepare(&record); err != nil {
		return err
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.keys[record.Key] {
		return nil
	}
	m.keys[record.Key] = true
	m.records = append(m.records, record)
	return nil
}

func (m *Memory) UpdateStatus(ctx context.Context, item state.Item, status string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for _, line := range m.lines {
		if item.ID != 0 && line.item.ID == item.ID {
			line.status = status
			return nil
		}
		if item.ID == 0 && line.item.Description == item.Description && line.status == StatusUnmatched {
			line.status = status
			return nil
		}
	}
	return fmt.Errorf("ledger item %d (%q) not found", item.ID, item.Description)
}

func (m *Memory) ListCategories(ctx context.Context) ([]string, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return slices.Clone(m.categories), nil
}

// Records returns the reconciled-transaction journal.
func (m *Memory) Records(ctx context.Context) ([]Record, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return slices.Clone(m.records), nil
}

// Status returns the status of an item.
func (m *Memory) Status(ctx context.Context, id int64) (string, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for _, line := range m.lines {
		if line.item.ID == id {
			return line.status, nil
		}
	}
	return "", fmt.Errorf("ledger item %d not found", id)
}
