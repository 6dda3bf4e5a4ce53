package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"milhao-quiz-service/internal/app"
	"milhao-quiz-service/internal/config"
	"milhao-quiz-service/internal/domain"
	"milhao-quiz-service/internal/game"
	"milhao-quiz-service/internal/infra/memory"
)

const seedYAML = `questions:
  - id: s1
    content: Capital of Brazil?
    options: [{id: a, text: Rio}, {id: b, text: Brasília}, {id: c, text: Salvador}, {id: d, text: Recife}]
    correctOptionId: b
  - id: s2
    content: 2 + 2?
    options: [{id: a, text: "3"}, {id: b, text: "4"}, {id: c, text: "5"}, {id: d, text: "22"}]
    correctOptionId: b
  - id: s3
    content: Largest planet?
    options: [{id: a, text: Jupiter}, {id: b, text: Mars}, {id: c, text: Venus}, {id: d, text: Earth}]
    correctOptionId: a
  - id: s4
    content: Water boils at?
    options: [{id: a, text: 90C}, {id: b, text: 80C}, {id: c, text: 100C}, {id: d, text: 120C}]
    correctOptionId: c
  - id: s5
    content: Primary colour?
    options: [{id: a, text: Green}, {id: b, text: Purple}, {id: c, text: Orange}, {id: d, text: Blue}]
    correctOptionId: d
  - id: broken
    content: No options
    correctOptionId: a
`

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func seededConfig(t *testing.T) config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seedYAML), 0o600))
	var cfg config.Config
	cfg.Questions.SeedFile = path
	return cfg
}

func TestBuildServicesSeedsMemoryBank(t *testing.T) {
	svc, err := buildServices(context.Background(), seededConfig(t), zerolog.Nop())
	require.NoError(t, err)
	defer svc.Close()
	assert.Nil(t, svc.bus)
	assert.Equal(t, "postgres=false redis=false", svc.storeLog)

	g, err := svc.games.Start(context.Background(), "u1", domain.StartParams{})
	require.NoError(t, err)
	assert.Len(t, g.QuestionIDs, 5)
}

func TestBuildServicesRejectsMissingSeed(t *testing.T) {
	var cfg config.Config
	cfg.Questions.SeedFile = filepath.Join(t.TempDir(), "absent.json")
	_, err := buildServices(context.Background(), cfg, zerolog.Nop())
	assert.Error(t, err)
}

func TestInvalidatingBankDropsCachedQuestions(t *testing.T) {
	ctx := context.Background()
	bank := memory.NewQuestionBank(domain.Question{ID: "q1", Content: "old"})
	repo := memory.NewQuestionRepository(bank, time.Hour)
	wrapped := invalidatingBank{QuestionBank: bank, invalidate: func(_ context.Context, ids ...string) error {
		repo.Invalidate(ids...)
		return nil
	}}

	q, err := repo.GetQuestion(ctx, "q1")
	require.NoError(t, err)
	assert.Equal(t, "old", q.Content)

	require.NoError(t, wrapped.Save(ctx, []domain.Question{{ID: "q1", Content: "new"}}))
	q, err = repo.GetQuestion(ctx, "q1")
	require.NoError(t, err)
	assert.Equal(t, "new", q.Content)
}

func TestImportWithProgressPrintsEvents(t *testing.T) {
	qs, err := app.DecodeQuestions(strings.NewReader(seedYAML), "seed.yml")
	require.NoError(t, err)
	bank := memory.NewQuestionBank()
	var out bytes.Buffer

	report, err := importWithProgress(context.Background(), bank, qs, 2, &out, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 5, report.Imported)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 5, bank.Len())
	assert.Contains(t, out.String(), "[  0%] validating 6 questions")
	assert.Contains(t, out.String(), "[100%] imported 5 questions, skipped 1")
}

func TestTimingFromConfig(t *testing.T) {
	var cfg config.Config
	assert.Equal(t, game.DefaultTiming().QuestionBudget, timingFrom(cfg).QuestionBudget)

	cfg.Game.QuestionTimeLimit = 45
	cfg.Game.RevealTimeout = "2s"
	cfg.Game.IntroTimeout = "3s"
	cfg.Game.SuspenseDelay = "bogus"
	tm := timingFrom(cfg)
	assert.Equal(t, 45, tm.QuestionBudget)
	assert.Equal(t, 2*time.Second, tm.RevealTimeout)
	assert.Equal(t, 2*time.Second, tm.SkipTimeout)
	assert.Equal(t, 3*time.Second, tm.SuddenDeathTimeout)
	assert.Equal(t, game.DefaultTiming().SuspenseDelay, tm.SuspenseDelay)
}

func TestMoneyAndOptionFor(t *testing.T) {
	assert.Equal(t, "R$ 0", money(0))
	assert.Equal(t, "R$ 5.000", money(5000))
	assert.Equal(t, "R$ 1.000.000", money(1000000))

	q := &domain.QuestionView{Options: []domain.Option{{ID: "x"}, {ID: "y"}}}
	assert.Equal(t, "y", optionFor(q, "2"))
	assert.Equal(t, "5", optionFor(q, "5"))
	assert.Equal(t, "x", optionFor(q, "x"))
	assert.Equal(t, "1", optionFor(nil, "1"))
}

func TestDispatchDrivesASession(t *testing.T) {
	ctx := context.Background()
	svc, err := buildServices(ctx, seededConfig(t), zerolog.Nop())
	require.NoError(t, err)
	defer svc.Close()

	out := &syncBuffer{}
	view := newTerminalView(out)
	timing := game.DefaultTiming()
	timing.IntroTimeout = 10 * time.Millisecond
	m := game.NewMachine(app.NewLocalAPI(svc.games, "u1"), nil, timing, view, zerolog.Nop())
	defer view.Close()
	defer m.Close()
	sound := game.NewSoundController(&terminalPlayer{out: out, length: time.Millisecond}, nil, zerolog.Nop())

	require.NoError(t, dispatch(ctx, m, sound, domain.StartParams{}, "new", out))
	require.Eventually(t, func() bool {
		return m.Snapshot().Phase == game.PhaseQuestionRevealed
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, dispatch(ctx, m, sound, domain.StartParams{}, "hint", out))
	assert.Contains(t, out.String(), "eliminated:")

	assert.ErrorIs(t, dispatch(ctx, m, sound, domain.StartParams{}, "next", out), game.ErrInvalidTransition)

	require.NoError(t, dispatch(ctx, m, sound, domain.StartParams{}, "stop", out))
	assert.True(t, m.Snapshot().StopPending)
	require.NoError(t, dispatch(ctx, m, sound, domain.StartParams{}, "yes", out))
	assert.Contains(t, out.String(), "you leave with R$ 0")
	assert.Equal(t, game.PhaseFinished, m.Snapshot().Phase)

	st, err := svc.games.Stats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, st.GamesStopped)
	assert.Equal(t, 1, st.TotalHintsUsed)

	require.NoError(t, dispatch(ctx, m, sound, domain.StartParams{}, "mute", out))
	assert.True(t, sound.Muted())
}

func TestCommandLoopUnlocksAudioOnFirstCommand(t *testing.T) {
	ctx := context.Background()
	svc, err := buildServices(ctx, seededConfig(t), zerolog.Nop())
	require.NoError(t, err)
	defer svc.Close()

	out := &syncBuffer{}
	sound := game.NewSoundController(&terminalPlayer{out: out, length: time.Millisecond}, nil, zerolog.Nop())
	view := newTerminalView(out)
	defer view.Close()
	m := game.NewMachine(app.NewLocalAPI(svc.games, "u1"), sound, game.DefaultTiming(), view, zerolog.Nop())
	defer m.Close()

	assert.False(t, sound.Unlocked())
	require.NoError(t, commandLoop(ctx, m, sound, domain.StartParams{}, strings.NewReader("\nhelp\nquit\n"), out))
	assert.True(t, sound.Unlocked())
	assert.Contains(t, out.String(), "hint")
}
