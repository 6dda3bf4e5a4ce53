package memory

import (
	"context"
	"sort"
	"sync"

	"milhao-quiz-service/internal/domain"
)

// StatsStore keeps player stats and answered questions in process.
type StatsStore struct {
	mu       sync.Mutex
	stats    map[string]domain.Stats
	answered map[string]map[string]struct{}
}

func NewStatsStore() *StatsStore {
	return &StatsStore{
		stats:    make(map[string]domain.Stats),
		answered: make(map[string]map[string]struct{}),
	}
}

func (s *StatsStore) Stats(_ context.Context, userID string) (domain.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stats[userID]
	if !ok {
		return domain.Stats{UserID: userID}, nil
	}
	return st, nil
}

func (s *StatsStore) Update(_ context.Context, userID string, answered []string, fn func(domain.Stats) domain.Stats) (domain.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stats[userID]
	if !ok {
		st = domain.Stats{UserID: userID}
	}
	st = fn(st)
	s.stats[userID] = st

	seen := s.answered[userID]
	if seen == nil {
		seen = make(map[string]struct{})
		s.answered[userID] = seen
	}
	for _, id := range answered {
		seen[id] = struct{}{}
	}
	return st, nil
}

func (s *StatsStore) AnsweredQuestionIDs(_ context.Context, userID string) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]struct{}, len(s.answered[userID]))
	for id := range s.answered[userID] {
		out[id] = struct{}{}
	}
	return out, nil
}

func (s *StatsStore) Leaders(_ context.Context, limit int) ([]domain.Stats, error) {
	s.mu.Lock()
	out := make([]domain.Stats, 0, len(s.stats))
	for _, st := range s.stats {
		if st.TotalGames > 0 {
			out = append(out, st)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return domain.AllTimeBefore(out[i], out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
