package instructions

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is the default archive when no database is configured.
type InMemoryStore struct {
	mu       sync.RWMutex
	sets     []InstructionSet
	elements map[string]map[int]ElementRecord
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{elements: make(map[string]map[int]ElementRecord)}
}

func (s *InMemoryStore) SaveSet(_ context.Context, set InstructionSet) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set.ID == "" {
		set.ID = uuid.NewString()
	}
	if set.CreatedAt.IsZero() {
		set.CreatedAt = time.Now().UTC()
	}
	s.sets = append(s.sets, set)
	return set.ID, nil
}

func (s *InMemoryStore) RecentSets(_ context.Context, sessionID string, limit int) ([]InstructionSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 10
	}
	out := make([]InstructionSet, 0, limit)
	for i := len(s.sets) - 1; i >= 0 && len(out) < limit; i-- {
		if sessionID != "" && s.sets[i].SessionID != sessionID {
			continue
		}
		out = append(out, s.sets[i])
	}
	// Reverse into chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *InMemoryStore) SaveElement(_ context.Context, rec ElementRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	bySet := s.elements[rec.SetID]
	if bySet == nil {
		bySet = make(map[int]ElementRecord)
		s.elements[rec.SetID] = bySet
	}
	bySet[rec.StepNumber] = rec
	return nil
}

func (s *InMemoryStore) ElementsForSet(_ context.Context, setID string) ([]ElementRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bySet := s.elements[setID]
	out := make([]ElementRecord, 0, len(bySet))
	for _, rec := range bySet {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepNumber < out[j].StepNumber })
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
