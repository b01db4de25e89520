package store

import (
	"context"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/punchamoorthee/claimrelay/internal/domain"
)

// MemoryStore is an in-process AssetStore used by tests and the benchmark.
type MemoryStore struct {
	mu     sync.RWMutex
	assets map[string]domain.Asset
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{assets: make(map[string]domain.Asset)}
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) Create(_ context.Context, a domain.Asset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.assets[a.ID]; ok {
		return ErrAssetExists
	}
	if a.Status == "" {
		a.Status = domain.StatusOpen
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	m.assets[a.ID] = a
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*domain.Asset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assets[id]
	if !ok {
		return nil, ErrAssetNotFound
	}
	return &a, nil
}

func (m *MemoryStore) List(_ context.Context) ([]domain.Asset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sorted(), nil
}

func (m *MemoryStore) sorted() []domain.Asset {
	out := make([]domain.Asset, 0, len(m.assets))
	for _, a := range m.assets {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *MemoryStore) SetStatus(_ context.Context, id string, status domain.AssetStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assets[id]
	if !ok {
		return ErrAssetNotFound
	}
	a.Status = status
	m.assets[id] = a
	return nil
}

func (m *MemoryStore) SetMetadata(_ context.Context, id string, meta domain.AssetMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assets[id]
	if !ok {
		return ErrAssetNotFound
	}
	a.Metadata = meta
	m.assets[id] = a
	return nil
}

func (m *MemoryStore) RandomOpen(_ context.Context) (*domain.Asset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var open []domain.Asset
	for _, a := range m.assets {
		if a.Status == domain.StatusOpen {
			open = append(open, a)
		}
	}
	if len(open) == 0 {
		return nil, ErrAssetNotFound
	}
	a := open[rand.IntN(len(open))]
	return &a, nil
}

func (m *MemoryStore) DeleteByGroupNumber(ctx context.Context, groupNumber int, targetRoomID int64) ([]string, error) {
	return m.deleteWhere(func(a domain.Asset) bool {
		return a.GroupNumber == groupNumber && a.Metadata.TargetRoomID == targetRoomID
	})
}

func (m *MemoryStore) DeleteForTargetRoom(ctx context.Context, targetRoomID int64) ([]string, error) {
	return m.deleteWhere(func(a domain.Asset) bool {
		return a.Metadata.TargetRoomID == targetRoomID
	})
}

func (m *MemoryStore) deleteWhere(keep func(domain.Asset) bool) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := matchIDs(m.sorted(), keep)
	for _, id := range ids {
		delete(m.assets, id)
	}
	return ids, nil
}

func (m *MemoryStore) CountByStatus(_ context.Context) (int, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var open, closed int
	for _, a := range m.assets {
		switch a.Status {
		case domain.StatusOpen:
			open++
		case domain.StatusClosed:
			closed++
		}
	}
	return open, closed, nil
}
