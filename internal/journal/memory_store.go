package journal

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"intent-settlement/internal/events"
)

// MemoryStore 在内存中保存事件日志，主要用于测试和默认的单进程部署。
type MemoryStore struct {
	mu     sync.RWMutex
	bySeq  map[uint64]events.Event
	sorted []uint64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{bySeq: make(map[uint64]events.Event)}
}

func (m *MemoryStore) Append(_ context.Context, event events.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.bySeq[event.Sequence]; ok {
		if existing.ID == event.ID {
			return nil
		}
		return ErrConflict.With(fmt.Errorf("sequence %d holds %s, got %s", event.Sequence, existing.ID, event.ID))
	}
	m.bySeq[event.Sequence] = event
	i := sort.Search(len(m.sorted), func(i int) bool { return m.sorted[i] >= event.Sequence })
	m.sorted = append(m.sorted, 0)
	copy(m.sorted[i+1:], m.sorted[i:])
	m.sorted[i] = event.Sequence
	return nil
}

func (m *MemoryStore) List(_ context.Context, opts ...ListOption) ([]events.Event, error) {
	options := BuildListOptions(opts)
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]events.Event, 0, min(options.Limit, len(m.sorted)))
	visit := func(seq uint64) bool {
		ev := m.bySeq[seq]
		if options.Matches(ev) {
			out = append(out, ev)
		}
		return len(out) < options.Limit
	}
	if options.Order == SortBySequenceDesc {
		for i := len(m.sorted) - 1; i >= 0; i-- {
			if !visit(m.sorted[i]) {
				break
			}
		}
		return out, nil
	}
	start := sort.Search(len(m.sorted), func(i int) bool { return m.sorted[i] > options.AfterSequence })
	for _, seq := range m.sorted[start:] {
		if !visit(seq) {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) Stats(context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := Stats{Total: len(m.sorted), ByType: make(map[events.Type]int)}
	if n := len(m.sorted); n > 0 {
		stats.LastSequence = m.sorted[n-1]
	}
	for _, ev := range m.bySeq {
		stats.ByType[ev.Type]++
	}
	return stats, nil
}

func (m *MemoryStore) Close() error { return nil }
