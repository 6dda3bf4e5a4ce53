package memory

import (
	"context"
	"sort"
	"sync"

	"milhao-quiz-service/internal/domain"
)

// RankingStore keeps the best entry per user on each board.
type RankingStore struct {
	mu     sync.RWMutex
	boards map[string]map[string]scoredEntry
}

type scoredEntry struct {
	entry domain.RankingEntry
	score float64
}

func NewRankingStore() *RankingStore {
	return &RankingStore{boards: make(map[string]map[string]scoredEntry)}
}

func (s *RankingStore) Submit(_ context.Context, board string, entry domain.RankingEntry, score float64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.boards[board]
	if b == nil {
		b = make(map[string]scoredEntry)
		s.boards[board] = b
	}
	if cur, ok := b[entry.UserID]; ok && cur.score >= score {
		return false, nil
	}
	b[entry.UserID] = scoredEntry{entry: entry, score: score}
	return true, nil
}

func (s *RankingStore) Top(_ context.Context, board string, limit int) ([]domain.RankingEntry, error) {
	s.mu.RLock()
	rows := make([]scoredEntry, 0, len(s.boards[board]))
	for _, e := range s.boards[board] {
		rows = append(rows, e)
	}
	s.mu.RUnlock()

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].score != rows[j].score {
			return rows[i].score > rows[j].score
		}
		return rows[i].entry.UserID < rows[j].entry.UserID
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	out := make([]domain.RankingEntry, len(rows))
	for i, r := range rows {
		out[i] = r.entry
		out[i].Position = i + 1
	}
	return out, nil
}
