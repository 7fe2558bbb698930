package mafia

import (
	"context"
	"sort"
	"sync"
)

// memRepository keeps results in memory; used in tests and when no
// database is configured.
type memRepository struct {
	mu      sync.Mutex
	results []*Result
}

func NewMemoryRepository() Repository {
	return &memRepository{}
}

func (m *memRepository) SaveResult(_ context.Context, r *Result) error {
	if r == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.results {
		if existing.ID == r.ID {
			return nil
		}
	}
	cp := *r
	m.results = append(m.results, &cp)
	return nil
}

func (m *memRepository) RecentResults(_ context.Context, chatID int64, limit int) ([]*Result, error) {
	if limit <= 0 {
		limit = 10
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Result
	for _, r := range m.results {
		if r.ChatID == chatID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndedAt.After(out[j].EndedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memRepository) Close() error { return nil }
