package memory

import (
	"context"
	"sort"
	"sync"

	"milhao-quiz-service/internal/domain"
)

// GameStore is an in-memory implementation of app.GameStore.
type GameStore struct {
	mu    sync.RWMutex
	games map[string]domain.Game
}

func NewGameStore() *GameStore {
	return &GameStore{
		games: make(map[string]domain.Game),
	}
}

func (s *GameStore) Save(_ context.Context, g domain.Game) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.games[g.ID] = cloneGame(g)
	return nil
}

func (s *GameStore) Get(_ context.Context, id string) (domain.Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.games[id]
	if !ok {
		return domain.Game{}, domain.ErrGameNotFound
	}
	return cloneGame(g), nil
}

func (s *GameStore) ListFinished(_ context.Context, userID string, limit int) ([]domain.Game, error) {
	s.mu.RLock()
	var out []domain.Game
	for _, g := range s.games {
		if g.UserID == userID && g.Status.Terminal() && g.CompletedAt != nil {
			out = append(out, cloneGame(g))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CompletedAt.After(*out[j].CompletedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// cloneGame copies the slices so callers cannot mutate stored state.
func cloneGame(g domain.Game) domain.Game {
	g.QuestionIDs = append([]string(nil), g.QuestionIDs...)
	g.Answers = append([]domain.AnswerRecord(nil), g.Answers...)
	g.Replenished = append([]int64(nil), g.Replenished...)
	if g.CompletedAt != nil {
		at := *g.CompletedAt
		g.CompletedAt = &at
	}
	return g
}
