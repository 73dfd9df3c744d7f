// Package memory provides a thread-safe in-memory implementation of storage.Store.
package memory

import (
	"sort"
	"sync"

	"github.com/jmcleod/certrelay/storage"
)

// Store is a thread-safe in-memory implementation of storage.Store.
// Suitable for testing, demos, and single-process use cases.
type Store struct {
	mu        sync.RWMutex
	nextID    int
	relations map[int]*relation
}

type relation struct {
	order []string
	bags  map[string]map[string]string
}

var _ storage.Store = (*Store)(nil)

// NewStore creates a new empty in-memory Store.
func NewStore() *Store {
	return &Store{relations: make(map[int]*relation)}
}

func cloneBag(bag map[string]string) map[string]string {
	cp := make(map[string]string, len(bag))
	for k, v := range bag {
		cp[k] = v
	}
	return cp
}

func (s *Store) CreateRelation() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.relations[id] = &relation{bags: make(map[string]map[string]string)}
	return id, nil
}

func (s *Store) DeleteRelation(relationID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.relations[relationID]; !ok {
		return storage.ErrRelationNotFound
	}
	delete(s.relations, relationID)
	return nil
}

func (s *Store) Relations() ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int, 0, len(s.relations))
	for id := range s.relations {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}

func (s *Store) Get(relationID int, bag string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rel, ok := s.relations[relationID]
	if !ok {
		return nil, storage.ErrRelationNotFound
	}
	data, ok := rel.bags[bag]
	if !ok {
		return map[string]string{}, nil
	}
	return cloneBag(data), nil
}

func (s *Store) Put(relationID int, bag string, data map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rel, ok := s.relations[relationID]
	if !ok {
		return storage.ErrRelationNotFound
	}
	existing, ok := rel.bags[bag]
	if !ok {
		existing = make(map[string]string, len(data))
		rel.bags[bag] = existing
		rel.order = append(rel.order, bag)
	}
	for k, v := range data {
		existing[k] = v
	}
	return nil
}

func (s *Store) Bags(relationID int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rel, ok := s.relations[relationID]
	if !ok {
		return nil, storage.ErrRelationNotFound
	}
	return append([]string(nil), rel.order...), nil
}
