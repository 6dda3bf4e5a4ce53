package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"milhao-quiz-service/internal/domain"
)

const (
	minPoolSize = 5
	// maxPoolSize leaves room for skips and sudden death beyond the 16 ladder questions.
	maxPoolSize = 30

	defaultRankingLimit = 10
	maxRankingLimit     = 100
)

// GameStore persists games between requests.
type GameStore interface {
	Save(ctx context.Context, game domain.Game) error
	Get(ctx context.Context, id string) (domain.Game, error)
	// ListFinished returns the user's finished games, most recent first.
	ListFinished(ctx context.Context, userID string, limit int) ([]domain.Game, error)
}

// QuestionBank is the published question catalogue.
type QuestionBank interface {
	// Search returns candidates for params. Results may be broader than the
	// filters; the service applies the exact selection rules.
	Search(ctx context.Context, params domain.StartParams) ([]domain.Question, error)
	Save(ctx context.Context, questions []domain.Question) error
}

// QuestionRepository loads single questions (usually through a cache).
type QuestionRepository interface {
	GetQuestion(ctx context.Context, id string) (domain.Question, error)
}

// StatsRepository keeps per-user aggregates and the answered-question history.
type StatsRepository interface {
	Stats(ctx context.Context, userID string) (domain.Stats, error)
	// Update applies fn to the stored stats atomically and records answered as seen.
	Update(ctx context.Context, userID string, answered []string, fn func(domain.Stats) domain.Stats) (domain.Stats, error)
	AnsweredQuestionIDs(ctx context.Context, userID string) (map[string]struct{}, error)
	// Leaders returns up to limit players with at least one game, in all-time board order.
	Leaders(ctx context.Context, limit int) ([]domain.Stats, error)
}

// RankingRepository stores one best entry per user and board.
type RankingRepository interface {
	// Submit replaces the user's entry only when score beats the stored one.
	Submit(ctx context.Context, board string, entry domain.RankingEntry, score float64) (bool, error)
	Top(ctx context.Context, board string, limit int) ([]domain.RankingEntry, error)
}

// GameService runs the server-authoritative game rules.
type GameService struct {
	games     GameStore
	bank      QuestionBank
	questions QuestionRepository
	stats     StatsRepository
	rankings  RankingRepository
	validate  *validator.Validate
	log       zerolog.Logger

	loc   *time.Location
	now   func() time.Time
	newID func() string

	rndMu sync.Mutex
	rnd   *rand.Rand

	locks keyedMutex
}

// Option customizes a GameService.
type Option func(*GameService)

// WithClock is used by tests for deterministic timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *GameService) { s.now = now }
}

// WithRand fixes the randomness source for shuffles and aids.
func WithRand(rnd *rand.Rand) Option {
	return func(s *GameService) { s.rnd = rnd }
}

// WithIDs replaces uuid generation.
func WithIDs(fn func() string) Option {
	return func(s *GameService) { s.newID = fn }
}

// WithLocation sets the zone ranking days roll over in.
func WithLocation(loc *time.Location) Option {
	return func(s *GameService) { s.loc = loc }
}

func NewGameService(games GameStore, bank QuestionBank, questions QuestionRepository, stats StatsRepository, rankings RankingRepository, log zerolog.Logger, opts ...Option) *GameService {
	s := &GameService{
		games:     games,
		bank:      bank,
		questions: questions,
		stats:     stats,
		rankings:  rankings,
		validate:  validator.New(),
		log:       log,
		loc:       domain.RankingLocation(),
		now:       time.Now,
		newID:     uuid.NewString,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start draws a question pool for params and creates a new game.
func (s *GameService) Start(ctx context.Context, userID string, params domain.StartParams) (domain.Game, error) {
	if userID == "" {
		return domain.Game{}, fmt.Errorf("%w: missing user", domain.ErrInvalidParams)
	}
	if err := s.validate.Struct(params); err != nil {
		return domain.Game{}, fmt.Errorf("%w: %v", domain.ErrInvalidParams, err)
	}

	candidates, err := s.bank.Search(ctx, params)
	if err != nil {
		return domain.Game{}, fmt.Errorf("search questions: %w", err)
	}
	var answered map[string]struct{}
	unanswered := params.Unanswered == domain.UnansweredGame || params.Unanswered == domain.UnansweredSystem
	if unanswered {
		answered, err = s.stats.AnsweredQuestionIDs(ctx, userID)
		if err != nil {
			return domain.Game{}, fmt.Errorf("load answered questions: %w", err)
		}
	}

	pool := make([]string, 0, len(candidates))
	for _, q := range candidates {
		if !params.Matches(q) {
			continue
		}
		if _, seen := answered[q.ID]; seen {
			continue
		}
		pool = append(pool, q.ID)
	}
	if len(pool) < minPoolSize {
		if unanswered {
			return domain.Game{}, fmt.Errorf("%w: most questions for these filters were already answered", domain.ErrNotEnoughQuestions)
		}
		return domain.Game{}, domain.ErrNotEnoughQuestions
	}

	s.shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	if len(pool) > maxPoolSize {
		pool = pool[:maxPoolSize]
	}

	g := domain.Game{
		ID:          s.newID(),
		UserID:      userID,
		Params:      params,
		QuestionIDs: pool,
		Status:      domain.StatusPlaying,
		Help:        domain.Help{SkipsRemaining: domain.MaxSkips},
		StartedAt:   s.now(),
	}
	if err := s.games.Save(ctx, g); err != nil {
		return domain.Game{}, fmt.Errorf("save game: %w", err)
	}
	s.log.Info().Str("gameId", g.ID).Str("userId", userID).Int("questions", len(pool)).Msg("game started")
	return g, nil
}

// Game returns a game owned by userID.
func (s *GameService) Game(ctx context.Context, userID, gameID string) (domain.Game, error) {
	g, err := s.games.Get(ctx, gameID)
	if err != nil {
		return domain.Game{}, err
	}
	if g.UserID != userID {
		return domain.Game{}, domain.ErrGameNotFound
	}
	return g, nil
}

// CurrentQuestion returns the question the game points at, without its answer.
func (s *GameService) CurrentQuestion(ctx context.Context, userID, gameID string) (domain.QuestionView, error) {
	g, err := s.Game(ctx, userID, gameID)
	if err != nil {
		return domain.QuestionView{}, err
	}
	q, err := s.current(ctx, g)
	if err != nil {
		return domain.QuestionView{}, err
	}
	level := g.CurrentPrizeLevel
	if g.Status == domain.StatusSuddenDeath {
		level = domain.TopLevel
	}
	return domain.QuestionView{
		ID:                q.ID,
		Content:           q.Content,
		Options:           q.Options,
		ExpertComment:     q.ExpertComment,
		QuestionIndex:     g.CurrentQuestionIndex,
		TotalQuestions:    len(g.QuestionIDs),
		PrizeLevel:        domain.LevelAt(level),
		CurrentPrizeLevel: level,
		Institution:       domain.Institution(q.SubFilterIDs),
		Year:              domain.Year(q.SubFilterIDs),
	}, nil
}

// Answer grades optionID against the current question. An empty option is a
// timed-out answer and is graded wrong.
func (s *GameService) Answer(ctx context.Context, userID, gameID, optionID string, elapsedSeconds int) (domain.AnswerResult, error) {
	unlock := s.locks.Lock(gameID)
	defer unlock()

	g, err := s.Game(ctx, userID, gameID)
	if err != nil {
		return domain.AnswerResult{}, err
	}
	if !g.Status.Active() {
		return domain.AnswerResult{}, domain.ErrGameFinished
	}
	q, err := s.current(ctx, g)
	if err != nil {
		return domain.AnswerResult{}, err
	}
	if optionID != "" && !q.HasOption(optionID) {
		return domain.AnswerResult{}, fmt.Errorf("%w: unknown option %q", domain.ErrInvalidParams, optionID)
	}
	if elapsedSeconds < 0 {
		elapsedSeconds = 0
	}

	correct := q.IsCorrect(optionID)
	correctOption, _ := q.CorrectOption()
	g.Answers = append(g.Answers, domain.AnswerRecord{
		QuestionID:       q.ID,
		SelectedOptionID: optionID,
		Correct:          correct,
		TimeSeconds:      elapsedSeconds,
	})
	g.TotalTimeSeconds += elapsedSeconds

	var gameOver bool
	if g.Status == domain.StatusSuddenDeath {
		gameOver = s.gradeSuddenDeath(&g, correct)
	} else {
		gameOver = s.gradeLadder(&g, correct)
	}
	if gameOver {
		at := s.now()
		g.CompletedAt = &at
	}
	if err := s.games.Save(ctx, g); err != nil {
		return domain.AnswerResult{}, fmt.Errorf("save game: %w", err)
	}
	if gameOver {
		s.finish(ctx, g)
	}

	return domain.AnswerResult{
		Correct:               correct,
		CorrectOptionID:       correctOption.ID,
		NewPrize:              g.CurrentPrize,
		GuaranteedPrize:       g.GuaranteedPrize,
		GameOver:              gameOver,
		Status:                g.Status,
		NextQuestionIndex:     g.CurrentQuestionIndex,
		SuddenDeathMultiplier: g.SuddenDeathMultiplier,
	}, nil
}

// gradeLadder applies one answer on the prize ladder and reports whether the game ended.
func (s *GameService) gradeLadder(g *domain.Game, correct bool) bool {
	level := domain.LevelAt(g.CurrentPrizeLevel)
	prevGuaranteed := g.GuaranteedPrize
	if !correct {
		g.Status = domain.StatusLost
		g.CurrentPrize = prevGuaranteed
		return true
	}

	g.TotalCorrect++
	g.CurrentPrize = level.Prize
	if level.Checkpoint {
		g.GuaranteedPrize = level.Prize
	}
	if g.CurrentPrizeLevel >= domain.TopLevel {
		g.Status = domain.StatusWon
		return true
	}
	g.CurrentQuestionIndex++
	g.CurrentPrizeLevel++
	replenish(g, prevGuaranteed)
	if g.CurrentQuestionIndex >= len(g.QuestionIDs) {
		// the pool ran out below the top level
		g.Status = domain.StatusStopped
		return true
	}
	return false
}

func (s *GameService) gradeSuddenDeath(g *domain.Game, correct bool) bool {
	if !correct {
		g.Status = domain.StatusLost
		return true
	}
	g.TotalCorrect++
	g.SuddenDeathCorrect++
	g.SuddenDeathMultiplier++
	g.CurrentQuestionIndex++
	if g.CurrentQuestionIndex >= len(g.QuestionIDs) {
		g.Status = domain.StatusWon
		return true
	}
	return false
}

// replenish refills the aids the first time the guaranteed prize crosses a
// replenishing checkpoint.
func replenish(g *domain.Game, prevGuaranteed int64) {
	for _, t := range domain.CrossedCheckpoints(domain.ReplenishCheckpoints, prevGuaranteed, g.GuaranteedPrize) {
		done := false
		for _, r := range g.Replenished {
			if r == t {
				done = true
				break
			}
		}
		if done {
			continue
		}
		g.Replenished = append(g.Replenished, t)
		g.Help = domain.Help{SkipsRemaining: domain.MaxSkips}
	}
}

// UseHint eliminates one to three wrong options (50/35/15%).
func (s *GameService) UseHint(ctx context.Context, userID, gameID string) (domain.HintResult, error) {
	unlock := s.locks.Lock(gameID)
	defer unlock()

	g, q, err := s.aidTarget(ctx, userID, gameID)
	if err != nil {
		return domain.HintResult{}, err
	}
	if g.Help.HintUsed {
		return domain.HintResult{}, domain.ErrHintUsed
	}

	wrong := wrongOptions(q)
	s.shuffle(len(wrong), func(i, j int) { wrong[i], wrong[j] = wrong[j], wrong[i] })
	count := 1
	switch r := s.float(); {
	case r >= 0.85:
		count = 3
	case r >= 0.5:
		count = 2
	}
	if count > len(wrong) {
		count = len(wrong)
	}
	eliminated := make([]string, 0, count)
	for _, o := range wrong[:count] {
		eliminated = append(eliminated, o.ID)
	}

	g.Help.HintUsed = true
	g.HelpsUsed++
	if err := s.games.Save(ctx, g); err != nil {
		return domain.HintResult{}, fmt.Errorf("save game: %w", err)
	}
	return domain.HintResult{EliminatedOptionIDs: eliminated}, nil
}

var students = []struct {
	id   int
	name string
}{
	{1, "Ana"},
	{2, "Carlos"},
	{3, "Marina"},
}

// UseCrowd asks three simulated students. Two are right half of the time,
// all three 25%, one 15% and none 10%.
func (s *GameService) UseCrowd(ctx context.Context, userID, gameID string) ([]domain.CrowdAnswer, error) {
	unlock := s.locks.Lock(gameID)
	defer unlock()

	g, q, err := s.aidTarget(ctx, userID, gameID)
	if err != nil {
		return nil, err
	}
	if g.Help.CrowdUsed {
		return nil, domain.ErrCrowdUsed
	}

	correctCount := 0
	switch r := s.float(); {
	case r < 0.5:
		correctCount = 2
	case r < 0.75:
		correctCount = 3
	case r < 0.9:
		correctCount = 1
	}
	correct, _ := q.CorrectOption()
	wrong := wrongOptions(q)
	s.shuffle(len(wrong), func(i, j int) { wrong[i], wrong[j] = wrong[j], wrong[i] })

	answers := make([]domain.CrowdAnswer, 0, len(students))
	for i, st := range students {
		right := i < correctCount || len(wrong) == 0
		pick := correct.ID
		if !right {
			pick = wrong[i%len(wrong)].ID
		}
		answers = append(answers, domain.CrowdAnswer{
			StudentID:   st.id,
			StudentName: st.name,
			OptionID:    pick,
			Confidence:  s.confidence(right),
		})
	}

	g.Help.CrowdUsed = true
	g.HelpsUsed++
	if err := s.games.Save(ctx, g); err != nil {
		return nil, fmt.Errorf("save game: %w", err)
	}
	return answers, nil
}

func (s *GameService) confidence(right bool) domain.Confidence {
	r := s.float()
	high, medium := 0.3, 0.7
	if right {
		high, medium = 0.6, 0.9
	}
	switch {
	case r < high:
		return domain.ConfidenceHigh
	case r < medium:
		return domain.ConfidenceMedium
	default:
		return domain.ConfidenceLow
	}
}

// UseSkip moves past the current question without changing the prize level.
func (s *GameService) UseSkip(ctx context.Context, userID, gameID string) (domain.SkipResult, error) {
	unlock := s.locks.Lock(gameID)
	defer unlock()

	g, err := s.Game(ctx, userID, gameID)
	if err != nil {
		return domain.SkipResult{}, err
	}
	if err := aidsAllowed(g); err != nil {
		return domain.SkipResult{}, err
	}
	if g.Help.SkipsRemaining <= 0 {
		return domain.SkipResult{}, domain.ErrNoSkipsRemaining
	}
	next := g.CurrentQuestionIndex + 1
	if next >= len(g.QuestionIDs) {
		return domain.SkipResult{}, domain.ErrLastQuestion
	}

	g.Help.SkipsRemaining--
	g.HelpsUsed++
	g.CurrentQuestionIndex = next
	if err := s.games.Save(ctx, g); err != nil {
		return domain.SkipResult{}, fmt.Errorf("save game: %w", err)
	}
	return domain.SkipResult{NewQuestionIndex: next}, nil
}

// Stop ends a ladder game paying the current prize.
func (s *GameService) Stop(ctx context.Context, userID, gameID string) (domain.StopResult, error) {
	unlock := s.locks.Lock(gameID)
	defer unlock()

	g, err := s.Game(ctx, userID, gameID)
	if err != nil {
		return domain.StopResult{}, err
	}
	switch g.Status {
	case domain.StatusPlaying:
	case domain.StatusSuddenDeath:
		return domain.StopResult{}, domain.ErrStopUnavailable
	default:
		return domain.StopResult{}, domain.ErrGameFinished
	}

	at := s.now()
	g.Status = domain.StatusStopped
	g.CompletedAt = &at
	if err := s.games.Save(ctx, g); err != nil {
		return domain.StopResult{}, fmt.Errorf("save game: %w", err)
	}
	s.finish(ctx, g)
	return domain.StopResult{FinalPrize: g.CurrentPrize}, nil
}

// EnterSuddenDeath continues a won game in the bonus mode. The million is
// banked, every aid is exhausted and the multiplier starts at 1.
func (s *GameService) EnterSuddenDeath(ctx context.Context, userID, gameID string) (domain.Game, error) {
	unlock := s.locks.Lock(gameID)
	defer unlock()

	g, err := s.Game(ctx, userID, gameID)
	if err != nil {
		return domain.Game{}, err
	}
	if g.Status != domain.StatusWon {
		return domain.Game{}, domain.ErrNotWon
	}
	if g.SuddenDeathMultiplier > 0 {
		return domain.Game{}, domain.ErrGameFinished
	}
	next := g.CurrentQuestionIndex + 1
	if next >= len(g.QuestionIDs) {
		return domain.Game{}, domain.ErrNoMoreQuestions
	}

	g.Status = domain.StatusSuddenDeath
	g.SuddenDeathMultiplier = 1
	g.SuddenDeathCorrect = 0
	g.CurrentQuestionIndex = next
	g.CurrentPrize = domain.MillionPrize
	g.GuaranteedPrize = domain.MillionPrize
	g.Help = domain.Exhausted()
	g.CompletedAt = nil
	if err := s.games.Save(ctx, g); err != nil {
		return domain.Game{}, fmt.Errorf("save game: %w", err)
	}
	s.log.Info().Str("gameId", g.ID).Msg("sudden death entered")
	return g, nil
}

// Stats returns the user's aggregates; a user without games gets zero stats.
func (s *GameService) Stats(ctx context.Context, userID string) (domain.Stats, error) {
	return s.stats.Stats(ctx, userID)
}

// History lists the user's finished games.
func (s *GameService) History(ctx context.Context, userID string, limit int) ([]domain.HistoryEntry, error) {
	games, err := s.games.ListFinished(ctx, userID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	out := make([]domain.HistoryEntry, 0, len(games))
	for _, g := range games {
		out = append(out, domain.HistoryOf(g))
	}
	return out, nil
}

// DailyRanking is today's board ordered by prize, correct answers and fewer aids.
func (s *GameService) DailyRanking(ctx context.Context, limit int) ([]domain.RankingEntry, error) {
	return s.rankings.Top(ctx, domain.DailyBoard(domain.DayKey(s.now(), s.loc)), clampLimit(limit))
}

// SuddenDeathRanking is today's board ordered by multiplier.
func (s *GameService) SuddenDeathRanking(ctx context.Context, limit int) ([]domain.RankingEntry, error) {
	return s.rankings.Top(ctx, domain.SuddenDeathBoard(domain.DayKey(s.now(), s.loc)), clampLimit(limit))
}

// MillionairesRanking lists players who reached the million in month
// (YYYY-MM, current month when empty), fewest aids first.
func (s *GameService) MillionairesRanking(ctx context.Context, month string, limit int) ([]domain.RankingEntry, error) {
	if month == "" {
		month = domain.MonthKey(s.now(), s.loc)
	} else if _, err := time.Parse("2006-01", month); err != nil {
		return nil, fmt.Errorf("%w: month must be YYYY-MM", domain.ErrInvalidParams)
	}
	return s.rankings.Top(ctx, domain.MillionairesBoard(month), clampLimit(limit))
}

// AllTimeRanking ranks every player by lifetime stats.
func (s *GameService) AllTimeRanking(ctx context.Context, limit int) ([]domain.AllTimeEntry, error) {
	leaders, err := s.stats.Leaders(ctx, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return domain.AllTimeBoard(leaders), nil
}

// finish records a terminal game in stats and rankings. Failures are logged;
// the game itself is already saved.
func (s *GameService) finish(ctx context.Context, g domain.Game) {
	at := s.now()
	if g.CompletedAt != nil {
		at = *g.CompletedAt
	}
	answered := make([]string, 0, len(g.Answers))
	for _, a := range g.Answers {
		answered = append(answered, a.QuestionID)
	}
	log := s.log.With().Str("gameId", g.ID).Str("userId", g.UserID).Logger()
	day := domain.DayKey(at, s.loc)

	if g.SuddenDeathMultiplier > 0 {
		// the ladder part was recorded when the game was first won
		if _, err := s.stats.Update(ctx, g.UserID, answered, func(st domain.Stats) domain.Stats {
			return st.ApplySuddenDeath(g.UserID, g.SuddenDeathMultiplier)
		}); err != nil {
			log.Error().Err(err).Msg("record sudden death stats")
		}
		entry := domain.OutcomeOf(g, at).Entry()
		if _, err := s.rankings.Submit(ctx, domain.SuddenDeathBoard(day), entry, domain.SuddenDeathScore(entry)); err != nil {
			log.Error().Err(err).Msg("submit sudden death ranking")
		}
		log.Info().Int("multiplier", g.SuddenDeathMultiplier).Msg("sudden death finished")
		return
	}

	o := domain.OutcomeOf(g, at)
	if _, err := s.stats.Update(ctx, g.UserID, answered, func(st domain.Stats) domain.Stats {
		return st.Apply(o, s.loc)
	}); err != nil {
		log.Error().Err(err).Msg("record stats")
	}
	entry := o.Entry()
	if _, err := s.rankings.Submit(ctx, domain.DailyBoard(day), entry, domain.DailyScore(entry)); err != nil {
		log.Error().Err(err).Msg("submit daily ranking")
	}
	if o.PrizeReached >= domain.MillionPrize {
		board := domain.MillionairesBoard(domain.MonthKey(at, s.loc))
		if _, err := s.rankings.Submit(ctx, board, entry, domain.MillionaireScore(entry)); err != nil {
			log.Error().Err(err).Msg("submit millionaires ranking")
		}
	}
	log.Info().Str("status", string(g.Status)).Int64("prize", o.FinalPrize).Msg("game finished")
}

func (s *GameService) current(ctx context.Context, g domain.Game) (domain.Question, error) {
	if g.CurrentQuestionIndex >= len(g.QuestionIDs) {
		return domain.Question{}, domain.ErrNoMoreQuestions
	}
	q, err := s.questions.GetQuestion(ctx, g.QuestionIDs[g.CurrentQuestionIndex])
	if err != nil {
		if errors.Is(err, domain.ErrQuestionNotFound) {
			return domain.Question{}, err
		}
		return domain.Question{}, fmt.Errorf("load question: %w", err)
	}
	return q, nil
}

func (s *GameService) aidTarget(ctx context.Context, userID, gameID string) (domain.Game, domain.Question, error) {
	g, err := s.Game(ctx, userID, gameID)
	if err != nil {
		return domain.Game{}, domain.Question{}, err
	}
	if err := aidsAllowed(g); err != nil {
		return domain.Game{}, domain.Question{}, err
	}
	q, err := s.current(ctx, g)
	if err != nil {
		return domain.Game{}, domain.Question{}, err
	}
	return g, q, nil
}

func aidsAllowed(g domain.Game) error {
	switch g.Status {
	case domain.StatusPlaying:
		return nil
	case domain.StatusSuddenDeath:
		return domain.ErrAidsUnavailable
	default:
		return domain.ErrGameFinished
	}
}

func wrongOptions(q domain.Question) []domain.Option {
	correct, _ := q.CorrectOption()
	out := make([]domain.Option, 0, len(q.Options))
	for _, o := range q.Options {
		if o.ID != correct.ID {
			out = append(out, o)
		}
	}
	return out
}

func (s *GameService) float() float64 {
	s.rndMu.Lock()
	defer s.rndMu.Unlock()
	return s.rnd.Float64()
}

func (s *GameService) shuffle(n int, swap func(i, j int)) {
	s.rndMu.Lock()
	defer s.rndMu.Unlock()
	s.rnd.Shuffle(n, swap)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultRankingLimit
	}
	if limit > maxRankingLimit {
		return maxRankingLimit
	}
	return limit
}

// keyedMutex serializes work per game id within this process.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
