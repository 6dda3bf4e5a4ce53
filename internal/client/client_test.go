package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"milhao-quiz-service/internal/app"
	"milhao-quiz-service/internal/domain"
	"milhao-quiz-service/internal/infra/memory"
	"milhao-quiz-service/internal/progress"
	transport "milhao-quiz-service/internal/transport/http"
)

func newServer(t *testing.T, questions int) *httptest.Server {
	t.Helper()
	qs := make([]domain.Question, 0, questions)
	for i := 1; i <= questions; i++ {
		qs = append(qs, domain.Question{
			ID:      fmt.Sprintf("q%02d", i),
			Content: "Which one?",
			Options: []domain.Option{
				{ID: "a", Text: "alpha"},
				{ID: "b", Text: "beta"},
				{ID: "c", Text: "gamma"},
				{ID: "d", Text: "delta"},
			},
			CorrectOptionID: "c",
			ExpertComment:   "gamma it is",
		})
	}
	bank := memory.NewQuestionBank(qs...)
	hub := progress.NewHub()
	games := app.NewGameService(
		memory.NewGameStore(), bank, memory.NewQuestionRepository(bank, time.Minute),
		memory.NewStatsStore(), memory.NewRankingStore(), zerolog.Nop(),
		app.WithRand(rand.New(rand.NewSource(11))),
	)
	srv := transport.NewServer(games, app.NewImportService(bank, hub, zerolog.Nop(), 0), hub, zerolog.Nop())
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts
}

func TestClientPlaysAGame(t *testing.T) {
	ts := newServer(t, 8)
	c := New(ts.URL+"/", "player-1").WithHTTPClient(ts.Client())
	ctx := context.Background()

	g, err := c.StartGame(ctx, domain.StartParams{})
	require.NoError(t, err)
	assert.Len(t, g.QuestionIDs, 8)

	view, err := c.CurrentQuestion(ctx, g.ID)
	require.NoError(t, err)
	assert.Len(t, view.Options, 4)
	assert.Equal(t, "gamma it is", view.ExpertComment)

	hint, err := c.UseHint(ctx, g.ID)
	require.NoError(t, err)
	assert.NotContains(t, hint.EliminatedOptionIDs, "c")

	res, err := c.SubmitAnswer(ctx, g.ID, "c", 3)
	require.NoError(t, err)
	assert.True(t, res.Correct)
	assert.Equal(t, "c", res.CorrectOptionID)

	crowd, err := c.UseCrowd(ctx, g.ID)
	require.NoError(t, err)
	assert.Len(t, crowd, 3)

	skip, err := c.UseSkip(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, skip.NewQuestionIndex)

	res, err = c.SubmitAnswer(ctx, g.ID, "a", 5)
	require.NoError(t, err)
	assert.False(t, res.Correct)
	assert.True(t, res.GameOver)
	assert.Equal(t, domain.StatusLost, res.Status)

	st, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.GamesLost)

	leaders, err := c.AllTimeRanking(ctx, 3)
	require.NoError(t, err)
	require.Len(t, leaders, 1)
	assert.Equal(t, "player-1", leaders[0].UserID)
	assert.Equal(t, int64(1000), leaders[0].HighestPrize)
	assert.Equal(t, 1, leaders[0].Position)
}

func TestClientMapsErrorCodes(t *testing.T) {
	ts := newServer(t, 6)
	c := New(ts.URL, "player-2")
	ctx := context.Background()

	_, err := c.CurrentQuestion(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrGameNotFound)

	g, err := c.StartGame(ctx, domain.StartParams{})
	require.NoError(t, err)

	_, err = c.UseHint(ctx, g.ID)
	require.NoError(t, err)
	_, err = c.UseHint(ctx, g.ID)
	assert.ErrorIs(t, err, domain.ErrHintUsed)

	_, err = c.SubmitAnswer(ctx, g.ID, "zz", 1)
	assert.ErrorIs(t, err, domain.ErrInvalidParams)

	_, err = c.EnterSuddenDeath(ctx, g.ID)
	assert.ErrorIs(t, err, domain.ErrNotWon)

	_, err = c.StopGame(ctx, g.ID)
	require.NoError(t, err)
	_, err = c.StopGame(ctx, g.ID)
	assert.ErrorIs(t, err, domain.ErrGameFinished)

	_, err = New(ts.URL, "player-3").StartGame(ctx, domain.StartParams{FilterIDs: []string{"nothing"}})
	assert.ErrorIs(t, err, domain.ErrNotEnoughQuestions)
}

func TestClientReportsUnknownFailures(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "u1", r.Header.Get(transport.UserHeader))
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer ts.Close()

	_, err := New(ts.URL, "u1").StopGame(context.Background(), "g1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	for _, sentinel := range []error{domain.ErrGameNotFound, domain.ErrInvalidParams} {
		assert.False(t, errors.Is(err, sentinel))
	}
}
