package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
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
)

type testEnv struct {
	server *Server
	bank   *memory.QuestionBank
	hub    *progress.Hub
	seed   []domain.Question
}

func newTestEnv(t *testing.T, questions int) *testEnv {
	t.Helper()
	seed := make([]domain.Question, 0, questions)
	for i := 1; i <= questions; i++ {
		seed = append(seed, domain.Question{
			ID:      fmt.Sprintf("q%02d", i),
			Content: fmt.Sprintf("Question %d?", i),
			Options: []domain.Option{
				{ID: "a", Text: "first"},
				{ID: "b", Text: "second"},
				{ID: "c", Text: "third"},
				{ID: "d", Text: "fourth"},
			},
			CorrectOptionID: "b",
		})
	}
	bank := memory.NewQuestionBank(seed...)
	hub := progress.NewHub()
	games := app.NewGameService(
		memory.NewGameStore(),
		bank,
		memory.NewQuestionRepository(bank, 0),
		memory.NewStatsStore(),
		memory.NewRankingStore(),
		zerolog.Nop(),
		app.WithRand(rand.New(rand.NewSource(3))),
		app.WithLocation(time.UTC),
	)
	imports := app.NewImportService(bank, hub, zerolog.Nop(), 2)
	return &testEnv{
		server: NewServer(games, imports, hub, zerolog.Nop()),
		bank:   bank,
		hub:    hub,
		seed:   seed,
	}
}

func questionJSON(id string) string {
	return fmt.Sprintf(`{"id":%q,"content":"New?","options":[{"id":"a","text":"yes"},{"id":"b","text":"no"}],"correctOptionId":"a"}`, id)
}

func (e *testEnv) do(t *testing.T, method, path, user string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	rec := httptest.NewRecorder()
	e.server.Routes().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestGameLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t, 20)

	rec := env.do(t, http.MethodPost, "/api/games", "u1", domain.StartParams{})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	g := decode[domain.Game](t, rec)
	assert.Len(t, g.QuestionIDs, 20)

	rec = env.do(t, http.MethodGet, "/api/games/"+g.ID+"/question", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[domain.QuestionView](t, rec)
	assert.Equal(t, 0, view.QuestionIndex)
	assert.NotContains(t, rec.Body.String(), "correctOptionId")

	rec = env.do(t, http.MethodPost, "/api/games/"+g.ID+"/hint", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	hint := decode[domain.HintResult](t, rec)
	assert.NotContains(t, hint.EliminatedOptionIDs, "b")

	rec = env.do(t, http.MethodPost, "/api/games/"+g.ID+"/hint", "u1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	body := decode[ErrorBody](t, rec)
	assert.Equal(t, "HINT_USED", body.Error.Code)

	rec = env.do(t, http.MethodPost, "/api/games/"+g.ID+"/answer", "u1", AnswerRequest{OptionID: "b", TimeSeconds: 7})
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[domain.AnswerResult](t, rec)
	assert.True(t, res.Correct)
	assert.Equal(t, int64(1000), res.NewPrize)

	rec = env.do(t, http.MethodPost, "/api/games/"+g.ID+"/crowd", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]domain.CrowdAnswer](t, rec), 3)

	rec = env.do(t, http.MethodPost, "/api/games/"+g.ID+"/skip", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[domain.SkipResult](t, rec).NewQuestionIndex)

	rec = env.do(t, http.MethodPost, "/api/games/"+g.ID+"/stop", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1000), decode[domain.StopResult](t, rec).FinalPrize)

	rec = env.do(t, http.MethodGet, "/api/games/"+g.ID, "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.StatusStopped, decode[domain.Game](t, rec).Status)

	rec = env.do(t, http.MethodPost, "/api/games/"+g.ID+"/sudden-death", "u1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "NOT_WON", decode[ErrorBody](t, rec).Error.Code)

	rec = env.do(t, http.MethodGet, "/api/stats", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[domain.Stats](t, rec).GamesStopped)

	rec = env.do(t, http.MethodGet, "/api/history?limit=5", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]domain.HistoryEntry](t, rec), 1)

	rec = env.do(t, http.MethodGet, "/api/ranking/daily", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rows := decode[[]domain.RankingEntry](t, rec)
	require.Len(t, rows, 1)
	assert.Equal(t, "u1", rows[0].UserID)

	rec = env.do(t, http.MethodGet, "/api/ranking/sudden-death", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/ranking/millionaires?month=2026-01", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/ranking/all-time?limit=5", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	leaders := decode[[]domain.AllTimeEntry](t, rec)
	require.Len(t, leaders, 1)
	assert.Equal(t, domain.AllTimeEntry{Position: 1, UserID: "u1", HighestPrize: 1000, TotalGames: 1}, leaders[0])
}

func TestErrorsMapToStatus(t *testing.T) {
	env := newTestEnv(t, 3)

	rec := env.do(t, http.MethodPost, "/api/games", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/games", "u1", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "NOT_ENOUGH_QUESTIONS", decode[ErrorBody](t, rec).Error.Code)

	rec = env.do(t, http.MethodGet, "/api/games/nope/question", "u1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "GAME_NOT_FOUND", decode[ErrorBody](t, rec).Error.Code)

	rec = env.do(t, http.MethodPost, "/api/games", "u1", map[string]string{"unansweredFilter": "never"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/games", "u1", map[string]string{"colour": "blue"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/ranking/daily?limit=abc", "u1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/ranking/millionaires?month=13-2026", "u1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/ranking/all-time?limit=-1", "u1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGamesAreHiddenFromOtherUsers(t *testing.T) {
	env := newTestEnv(t, 10)
	rec := env.do(t, http.MethodPost, "/api/games", "u1", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	g := decode[domain.Game](t, rec)

	rec = env.do(t, http.MethodPost, "/api/games/"+g.ID+"/answer", "u2", AnswerRequest{OptionID: "b"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestImportRejectsBadUploads(t *testing.T) {
	env := newTestEnv(t, 0)

	req := httptest.NewRequest(http.MethodPost, "/api/imports", bytes.NewBufferString("{broken"))
	req.Header.Set(UserHeader, "u1")
	rec := httptest.NewRecorder()
	env.server.Routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/imports", bytes.NewBufferString("questions: []\n"))
	req.Header.Set(UserHeader, "u1")
	req.Header.Set("Content-Type", "application/yaml")
	rec = httptest.NewRecorder()
	env.server.Routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPanicsBecomeInternalErrors(t *testing.T) {
	env := newTestEnv(t, 0)
	h := env.server.recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL", decode[ErrorBody](t, rec).Error.Code)
}
