package redis

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"milhao-quiz-service/internal/domain"
	"milhao-quiz-service/internal/infra/memory"
	"milhao-quiz-service/internal/progress"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

type countingLoader struct {
	QuestionLoader
	calls atomic.Int32
}

func (l *countingLoader) LoadQuestion(ctx context.Context, id string) (domain.Question, error) {
	l.calls.Add(1)
	return l.QuestionLoader.LoadQuestion(ctx, id)
}

func sampleQuestion() domain.Question {
	return domain.Question{
		ID:      "q1",
		Content: "What is 2 + 2?",
		Options: []domain.Option{
			{ID: "a", Text: "3"},
			{ID: "b", Text: "4"},
		},
		CorrectOptionID: "b",
		SubFilterIDs:    []string{"Ano da Prova_2024"},
	}
}

func TestQuestionRepositoryCachesInRedis(t *testing.T) {
	mr, client := newClient(t)
	loader := &countingLoader{QuestionLoader: memory.NewQuestionBank(sampleQuestion())}
	repo := NewQuestionRepository(client, loader, time.Minute)
	ctx := context.Background()

	q, err := repo.GetQuestion(ctx, "q1")
	if err != nil {
		t.Fatalf("get question: %v", err)
	}
	if loader.calls.Load() != 1 {
		t.Fatalf("expected loader called once, got %d", loader.calls.Load())
	}
	if !mr.Exists("question:q1") {
		t.Fatalf("expected question cached in redis")
	}

	// Second call should hit cache, loader not incremented.
	cached, _ := repo.GetQuestion(ctx, "q1")
	if loader.calls.Load() != 1 {
		t.Fatalf("expected cache hit, loader calls=%d", loader.calls.Load())
	}
	assert.Equal(t, q, cached)

	require.NoError(t, repo.Invalidate(ctx, "q1"))
	_, _ = repo.GetQuestion(ctx, "q1")
	assert.EqualValues(t, 2, loader.calls.Load())
}

func TestQuestionRepositoryPropagatesNotFound(t *testing.T) {
	_, client := newClient(t)
	repo := NewQuestionRepository(client, memory.NewQuestionBank(), time.Minute)

	_, err := repo.GetQuestion(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrQuestionNotFound)
}

func TestGameStoreRoundTrip(t *testing.T) {
	mr, client := newClient(t)
	store := NewGameStore(client, time.Hour, 24*time.Hour)
	ctx := context.Background()

	g := domain.Game{ID: "g1", UserID: "u1", QuestionIDs: []string{"q1", "q2"}, Status: domain.StatusPlaying, CurrentPrize: 2000}
	require.NoError(t, store.Save(ctx, g))
	assert.Equal(t, time.Hour, mr.TTL("game:g1"))

	got, err := store.Get(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, g.QuestionIDs, got.QuestionIDs)
	assert.Equal(t, int64(2000), got.CurrentPrize)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrGameNotFound)
}

func TestGameStoreListFinished(t *testing.T) {
	mr, client := newClient(t)
	store := NewGameStore(client, time.Hour, 24*time.Hour)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i, id := range []string{"g1", "g2", "g3"} {
		at := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.Save(ctx, domain.Game{ID: id, UserID: "u1", Status: domain.StatusLost, CompletedAt: &at}))
	}
	require.NoError(t, store.Save(ctx, domain.Game{ID: "live", UserID: "u1", Status: domain.StatusPlaying}))
	assert.Equal(t, 24*time.Hour, mr.TTL("game:g1"))

	games, err := store.ListFinished(ctx, "u1", 2)
	require.NoError(t, err)
	require.Len(t, games, 2)
	assert.Equal(t, "g3", games[0].ID)
	assert.Equal(t, "g2", games[1].ID)

	mr.Del("game:g3")
	games, err = store.ListFinished(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Len(t, games, 2)
	members, _ := mr.ZMembers("games:finished:u1")
	assert.NotContains(t, members, "g3")
}

func TestRankingStoreOnlyImproves(t *testing.T) {
	mr, client := newClient(t)
	store := NewRankingStore(client, 48*time.Hour)
	ctx := context.Background()
	board := domain.DailyBoard("2026-03-01")

	first := domain.RankingEntry{UserID: "u1", GameID: "g1", Prize: 50000, QuestionsCorrect: 10}
	ok, err := store.Submit(ctx, board, first, domain.DailyScore(first))
	require.NoError(t, err)
	assert.True(t, ok)

	worse := domain.RankingEntry{UserID: "u1", GameID: "g2", Prize: 1000, QuestionsCorrect: 1}
	ok, err = store.Submit(ctx, board, worse, domain.DailyScore(worse))
	require.NoError(t, err)
	assert.False(t, ok)

	other := domain.RankingEntry{UserID: "u2", GameID: "g3", Prize: 100000, QuestionsCorrect: 11}
	_, err = store.Submit(ctx, board, other, domain.DailyScore(other))
	require.NoError(t, err)

	top, err := store.Top(ctx, board, 10)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "u2", top[0].UserID)
	assert.Equal(t, 1, top[0].Position)
	assert.Equal(t, "g1", top[1].GameID)
	assert.Equal(t, 2, top[1].Position)

	assert.Equal(t, 48*time.Hour, mr.TTL("ranking:"+board))

	top, err = store.Top(ctx, board, 1)
	require.NoError(t, err)
	assert.Len(t, top, 1)
}

func TestRankingStoreMillionairesPreferFewerAids(t *testing.T) {
	_, client := newClient(t)
	store := NewRankingStore(client, 0)
	ctx := context.Background()
	board := domain.MillionairesBoard("2026-03")

	slow := domain.RankingEntry{UserID: "u1", HelpsUsed: 0, TotalTimeSeconds: 900}
	fast := domain.RankingEntry{UserID: "u2", HelpsUsed: 2, TotalTimeSeconds: 100}
	_, err := store.Submit(ctx, board, slow, domain.MillionaireScore(slow))
	require.NoError(t, err)
	_, err = store.Submit(ctx, board, fast, domain.MillionaireScore(fast))
	require.NoError(t, err)

	top, err := store.Top(ctx, board, 10)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "u1", top[0].UserID)
}

func TestProgressBusRelaysToLocalHub(t *testing.T) {
	_, client := newClient(t)
	hub := progress.NewHub()
	bus := NewProgressBus(client, hub, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- bus.Run(ctx) }()

	events, unsubscribe := hub.Subscribe("u1")
	defer unsubscribe()

	ev := domain.ProgressEvent{JobID: "job-1", Kind: domain.ProgressUpdate, Percent: 30, Message: "imported 3 of 10"}
	var got domain.ProgressEvent
	require.Eventually(t, func() bool {
		_ = bus.Publish(ctx, "u1", ev)
		select {
		case got = <-events:
			return true
		case <-time.After(20 * time.Millisecond):
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "job-1", got.JobID)
	assert.Equal(t, 30, got.Percent)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("bus did not stop")
	}
}
