package genstore

import (
	"context"
	"sync"
)

// LocalGenStore keeps generations in-process. It is the default: the cache is
// scoped to one session, so nothing needs to be shared.
// Entries live until the owning cache evicts the key and calls Forget.
type LocalGenStore struct {
	mu   sync.RWMutex
	gens map[string]uint64
}

var _ GenStore = (*LocalGenStore)(nil)

func NewLocalGenStore() *LocalGenStore {
	return &LocalGenStore{gens: make(map[string]uint64)}
}

func (s *LocalGenStore) Snapshot(_ context.Context, k string) (uint64, error) {
	s.mu.RLock()
	g := s.gens[k]
	s.mu.RUnlock()
	return g, nil
}

func (s *LocalGenStore) Bump(_ context.Context, k string) (uint64, error) {
	s.mu.Lock()
	s.gens[k]++
	g := s.gens[k]
	s.mu.Unlock()
	return g, nil
}

func (s *LocalGenStore) Forget(_ context.Context, ks ...string) error {
	s.mu.Lock()
	for _, k := range ks {
		delete(s.gens, k)
	}
	s.mu.Unlock()
	return nil
}

// Len reports how many generations are held.
func (s *LocalGenStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.gens)
}

func (s *LocalGenStore) Close(_ context.Context) error { return nil }
