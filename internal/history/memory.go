package history

import (
	"context"
	"sync"

	"github.com/PhucNguyen204/netwatch/internal/models"
)

// Memory keeps history for the lifetime of the process.
type Memory struct {
	mu      sync.RWMutex
	entries []models.ScanResult
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Append(_ context.Context, results []models.ScanResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, results...)
	sortNewestFirst(m.entries)
	return nil
}

func (m *Memory) List(_ context.Context, limit int) ([]models.ScanResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]models.ScanResult(nil), limitEntries(m.entries, limit)...)
	return out, nil
}

func (m *Memory) NonRiskyCounts(context.Context) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return countNonRisky(m.entries), nil
}

func (m *Memory) Clear(context.Context) error {
	m.mu.Lock()
	m.entries = nil
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error { return nil }
