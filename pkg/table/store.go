package table

import (
	"context"
	"sort"
	"sync"

	"github.com/edgeflare/stations/pkg/station"
)

// Store holds the entries of one table partition.
type Store interface {
	Get(ctx context.Context, id int) (station.View, bool, error)
	Put(ctx context.Context, v station.View) error
	// Reset removes every entry.
	Reset(ctx context.Context) error
	All(ctx context.Context) ([]station.View, error)
}

// MemoryStore is a Store backed by a map.
type MemoryStore struct {
	views map[int]station.View
	mu    sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{views: make(map[int]station.View)}
}

func (s *MemoryStore) Get(_ context.Context, id int) (station.View, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.views[id]
	return v, ok, nil
}

func (s *MemoryStore) Put(_ context.Context, v station.View) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.views[v.StationID] = v
	return nil
}

func (s *MemoryStore) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.views = make(map[int]station.View)
	return nil
}

func (s *MemoryStore) All(_ context.Context) ([]station.View, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	views := make([]station.View, 0, len(s.views))
	for _, v := range s.views {
		views = append(views, v)
	}
	sortViews(views)
	return views, nil
}

// sortViews orders views along the line, by order and then station id.
func sortViews(views []station.View) {
	sort.Slice(views, func(i, j int) bool {
		if views[i].Order != views[j].Order {
			return views[i].Order < views[j].Order
		}
		return views[i].StationID < views[j].StationID
	})
}
