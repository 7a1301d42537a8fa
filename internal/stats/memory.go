package stats

import (
	"context"
	"sync"

	"binsim/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu       sync.Mutex
	records  map[string][]model.TaskRecord // runID -> records in arrival order
	runs     map[string]model.RunSummary   // runID -> summary
	runOrder []string                      // insertion order, newest last
}

func NewMemory() *Memory {
	return &Memory{
		records: map[string][]model.TaskRecord{},
		runs:    map[string]model.RunSummary{},
	}
}

func (m *Memory) SaveTaskRecord(ctx context.Context, runID string, rec model.TaskRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[runID] = append(m.records[runID], rec)
	return nil
}

func (m *Memory) ListTaskRecords(ctx context.Context, runID string) ([]model.TaskRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.TaskRecord(nil), m.records[runID]...), nil
}

func (m *Memory) SaveRunSummary(ctx context.Context, s model.RunSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[s.RunID]; !ok {
		m.runOrder = append(m.runOrder, s.RunID)
	}
	m.runs[s.RunID] = s
	return nil
}

func (m *Memory) GetRunSummary(ctx context.Context, runID string) (model.RunSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.runs[runID]
	if !ok {
		return model.RunSummary{}, ErrNotFound
	}
	return s, nil
}

func (m *Memory) ListRuns(ctx context.Context, limit int) ([]model.RunSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	out := []model.RunSummary{}
	for i := len(m.runOrder) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.runs[m.runOrder[i]])
	}
	return out, nil
}
