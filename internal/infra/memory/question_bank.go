package memory

import (
	"context"
	"sort"
	"sync"

	"milhao-quiz-service/internal/domain"
)

// QuestionBank is a simple bank backed by a map (useful for tests, demos and
// the local play mode).
type QuestionBank struct {
	mu        sync.RWMutex
	questions map[string]domain.Question
}

func NewQuestionBank(questions ...domain.Question) *QuestionBank {
	b := &QuestionBank{questions: make(map[string]domain.Question, len(questions))}
	for _, q := range questions {
		b.questions[q.ID] = q
	}
	return b
}

// Search returns every question sorted by id; selection rules are applied by the caller.
func (b *QuestionBank) Search(_ context.Context, _ domain.StartParams) ([]domain.Question, error) {
	b.mu.RLock()
	out := make([]domain.Question, 0, len(b.questions))
	for _, q := range b.questions {
		out = append(out, q)
	}
	b.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Save inserts or replaces questions by id.
func (b *QuestionBank) Save(_ context.Context, questions []domain.Question) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, q := range questions {
		b.questions[q.ID] = q
	}
	return nil
}

func (b *QuestionBank) LoadQuestion(_ context.Context, id string) (domain.Question, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if q, ok := b.questions[id]; ok {
		return q, nil
	}
	return domain.Question{}, domain.ErrQuestionNotFound
}

// Len reports how many questions the bank holds.
func (b *QuestionBank) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.questions)
}
