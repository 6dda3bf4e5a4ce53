package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"milhao-quiz-service/internal/domain"
)

func TestQuestionRepositoryCaches(t *testing.T) {
	loader := &countingLoader{QuestionLoader: NewQuestionBank(sampleQuestion("q1"))}
	repo := NewQuestionRepository(loader, time.Minute)

	if _, err := repo.GetQuestion(context.Background(), "q1"); err != nil {
		t.Fatalf("get question: %v", err)
	}
	if loader.calls.Load() != 1 {
		t.Fatalf("expected loader once, got %d", loader.calls.Load())
	}

	if _, err := repo.GetQuestion(context.Background(), "q1"); err != nil {
		t.Fatalf("get question 2: %v", err)
	}
	if loader.calls.Load() != 1 {
		t.Fatalf("expected cache hit, loader calls %d", loader.calls.Load())
	}
}

func TestQuestionRepositoryExpires(t *testing.T) {
	loader := &countingLoader{QuestionLoader: NewQuestionBank(sampleQuestion("q1"))}
	repo := NewQuestionRepository(loader, time.Minute)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo.clock = func() time.Time { return now }

	if _, err := repo.GetQuestion(context.Background(), "q1"); err != nil {
		t.Fatalf("get question: %v", err)
	}
	// past the TTL plus the maximum jitter
	now = now.Add(67 * time.Second)
	if _, err := repo.GetQuestion(context.Background(), "q1"); err != nil {
		t.Fatalf("get question after expiry: %v", err)
	}
	if loader.calls.Load() != 2 {
		t.Fatalf("expected reload after expiry, loader calls %d", loader.calls.Load())
	}
}

func TestQuestionRepositoryInvalidate(t *testing.T) {
	bank := NewQuestionBank(sampleQuestion("q1"))
	repo := NewQuestionRepository(bank, time.Minute)
	ctx := context.Background()

	if _, err := repo.GetQuestion(ctx, "q1"); err != nil {
		t.Fatalf("get question: %v", err)
	}
	updated := sampleQuestion("q1")
	updated.Content = "Updated?"
	if err := bank.Save(ctx, []domain.Question{updated}); err != nil {
		t.Fatalf("save: %v", err)
	}
	repo.Invalidate("q1")

	q, err := repo.GetQuestion(ctx, "q1")
	if err != nil {
		t.Fatalf("get question: %v", err)
	}
	if q.Content != "Updated?" {
		t.Fatalf("expected refreshed content, got %q", q.Content)
	}
}

func TestQuestionRepositoryNotFound(t *testing.T) {
	repo := NewQuestionRepository(NewQuestionBank(), time.Minute)
	_, err := repo.GetQuestion(context.Background(), "missing")
	if !errors.Is(err, domain.ErrQuestionNotFound) {
		t.Fatalf("expected ErrQuestionNotFound, got %v", err)
	}
}

func TestQuestionRepositoryCollapsesConcurrentLoads(t *testing.T) {
	release := make(chan struct{})
	loader := &countingLoader{QuestionLoader: NewQuestionBank(sampleQuestion("q1")), gate: release}
	repo := NewQuestionRepository(loader, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.GetQuestion(context.Background(), "q1"); err != nil {
				t.Errorf("get question: %v", err)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := loader.calls.Load(); n != 1 {
		t.Fatalf("expected a single load, got %d", n)
	}
}

type countingLoader struct {
	QuestionLoader
	calls atomic.Int32
	gate  chan struct{}
}

func (l *countingLoader) LoadQuestion(ctx context.Context, id string) (domain.Question, error) {
	l.calls.Add(1)
	if l.gate != nil {
		<-l.gate
	}
	return l.QuestionLoader.LoadQuestion(ctx, id)
}

func sampleQuestion(id string) domain.Question {
	return domain.Question{
		ID:      id,
		Content: "What is 2 + 2?",
		Options: []domain.Option{
			{ID: "a", Text: "3"},
			{ID: "b", Text: "4"},
			{ID: "c", Text: "5"},
			{ID: "d", Text: "22"},
		},
		CorrectOptionID: "b",
	}
}
