package memindex

import (
	"context"
	"sort"
	"sync"

	"github.com/cognicore/dossier/pkg/dossier/index"
)

// Store is an in-memory implementation of index.MentionStore for tests.
type Store struct {
	mu       sync.RWMutex
	mentions map[string]map[string]int // entity id → doc path → count
}

// New creates a new in-memory mention store.
func New() *Store {
	return &Store{mentions: make(map[string]map[string]int)}
}

// Close implements index.MentionStore.
func (s *Store) Close() error { return nil }

// Add records a mention count for an entity/document pair.
func (s *Store) Add(entityID, docPath string, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mentions[entityID] == nil {
		s.mentions[entityID] = make(map[string]int)
	}
	s.mentions[entityID][docPath] = count
}

// Mentions implements index.MentionStore.
func (s *Store) Mentions(ctx context.Context, entityID string) ([]index.Mention, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := s.mentions[entityID]
	out := make([]index.Mention, 0, len(docs))
	for path, count := range docs {
		out = append(out, index.Mention{DocID: path, Count: count})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocID < out[j].DocID })
	return out, nil
}

// EntitiesAbove implements index.MentionStore.
func (s *Store) EntitiesAbove(ctx context.Context, minCount int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	for id, docs := range s.mentions {
		total := 0
		for _, count := range docs {
			total += count
		}
		if total >= minCount {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}
