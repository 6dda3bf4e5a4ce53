package game

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"milhao-quiz-service/internal/domain"
)

var (
	ErrInvalidTransition = errors.New("operation not allowed in the current phase")
	ErrBusy              = errors.New("a server call is already in flight")
	ErrOptionEliminated  = errors.New("option was eliminated by the hint")
	ErrUnknownOption     = errors.New("option does not belong to the current question")
	ErrStale             = errors.New("result discarded: the session moved on")
	ErrClosed            = errors.New("session closed")
)

// Phase is the machine's position in the question cycle.
type Phase string

const (
	PhaseIdle             Phase = "idle"
	PhaseLoadingQuestion  Phase = "loadingQuestion"
	PhaseQuestionRevealed Phase = "questionRevealed"
	PhaseAnswerSelected   Phase = "answerSelected"
	PhaseConfirming       Phase = "confirming"
	PhaseRevealing        Phase = "revealing"
	PhaseAdvancing        Phase = "advancing"
	PhaseAwaitingAdvance  Phase = "awaitingAdvance"
	PhaseFinished         Phase = "finished"
)

// CommentMode says whether and why the expert comment is on screen.
type CommentMode string

const (
	CommentHidden        CommentMode = ""
	CommentBeforeAnswer  CommentMode = "beforeAnswer"
	CommentAfterAnswer   CommentMode = "afterAnswer"
	CommentForcedAdvance CommentMode = "forcedAdvance"
)

const (
	opStart       = "start"
	opLoad        = "question"
	opAnswer      = "answer"
	opHint        = "hint"
	opCrowd       = "crowd"
	opSkip        = "skip"
	opStop        = "stop"
	opSuddenDeath = "suddenDeath"
)

// Timing holds the per-question budget and the upper bounds on audio-gated waits.
type Timing struct {
	QuestionBudget      int
	Tick                time.Duration
	IntroTimeout        time.Duration
	RevealTimeout       time.Duration
	TimeUpTimeout       time.Duration
	SkipTimeout         time.Duration
	SuddenDeathTimeout  time.Duration
	SuspenseDelay       time.Duration
	TimeUpSuspenseDelay time.Duration
}

func DefaultTiming() Timing {
	return Timing{
		QuestionBudget:      120,
		Tick:                time.Second,
		IntroTimeout:        8 * time.Second,
		RevealTimeout:       5 * time.Second,
		TimeUpTimeout:       8 * time.Second,
		SkipTimeout:         5 * time.Second,
		SuddenDeathTimeout:  8 * time.Second,
		SuspenseDelay:       1500 * time.Millisecond,
		TimeUpSuspenseDelay: 2 * time.Second,
	}
}

// Session is the client view of the server game.
type Session struct {
	GameID                string        `json:"gameId"`
	Status                domain.Status `json:"status"`
	CurrentQuestionIndex  int           `json:"currentQuestionIndex"`
	CurrentPrizeLevel     int           `json:"currentPrizeLevel"`
	CurrentPrize          int64         `json:"currentPrize"`
	GuaranteedPrize       int64         `json:"guaranteedPrize"`
	TotalCorrect          int           `json:"totalCorrect"`
	SuddenDeathMultiplier int           `json:"suddenDeathMultiplier"`
	SuddenDeathCorrect    int           `json:"suddenDeathCorrect"`
	Help                  domain.Help   `json:"help"`
}

// Snapshot is an immutable copy of the machine state.
type Snapshot struct {
	Phase              Phase                `json:"phase"`
	Session            Session              `json:"session"`
	Question           *domain.QuestionView `json:"question,omitempty"`
	Selected           string               `json:"selected,omitempty"`
	Eliminated         []string             `json:"eliminated,omitempty"`
	Crowd              []domain.CrowdAnswer `json:"crowd,omitempty"`
	Remaining          int                  `json:"remaining"`
	TimeSpent          int                  `json:"timeSpent"`
	Result             *domain.AnswerResult `json:"result,omitempty"`
	Comment            CommentMode          `json:"comment,omitempty"`
	StopPending        bool                 `json:"stopPending"`
	SuddenDeathOffered bool                 `json:"suddenDeathOffered"`
	TimedOut           bool                 `json:"timedOut"`
	Busy               bool                 `json:"busy"`
}

// Listener observes the machine. Both methods run on the machine's loop and
// must not block or call back into the machine synchronously.
type Listener interface {
	Changed(Snapshot)
	Failed(op string, err error)
}

type nopListener struct{}

func (nopListener) Changed(Snapshot)    {}
func (nopListener) Failed(string, error) {}

type loopState struct {
	phase              Phase
	session            Session
	question           *domain.QuestionView
	selected           string
	eliminated         []string
	crowd              []domain.CrowdAnswer
	remaining          int
	timeSpent          int
	result             *domain.AnswerResult
	comment            CommentMode
	aidUsedHere        bool
	expertUsedHere     bool
	stopPending        bool
	suddenDeathOffered bool
	timedOut           bool
	expiryDeferred     bool

	token       uint64
	inflight    string
	resumePhase Phase
	gate        func()
	closed      bool
}

type submission struct {
	token    uint64
	gameID   string
	optionID string
	elapsed  int
	delay    time.Duration
}

// Machine runs one quiz session. All transitions execute on a single loop
// goroutine; public methods enqueue work and wait for it. Server calls run
// on the calling goroutine and their results are applied back on the loop,
// where results for a superseded question are dropped.
type Machine struct {
	api      API
	sound    *SoundController
	timer    *QuestionTimer
	help     *HelpState
	timing   Timing
	listener Listener
	log      zerolog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	events    chan func()
	done      chan struct{}
	closeOnce sync.Once

	mu   sync.Mutex
	last Snapshot

	st loopState
}

// NewMachine starts the loop. A nil sound controller plays nothing but still
// completes every clip.
func NewMachine(api API, sound *SoundController, timing Timing, listener Listener, log zerolog.Logger) *Machine {
	if listener == nil {
		listener = nopListener{}
	}
	if sound == nil {
		sound = NewSoundController(silentPlayer{}, nil, log)
		sound.SetDelays(0, 0)
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Machine{
		api:      api,
		sound:    sound,
		timer:    NewQuestionTimer(timing.Tick),
		help:     NewHelpState(domain.ReplenishCheckpoints),
		timing:   timing,
		listener: listener,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
		events:   make(chan func(), 64),
		done:     make(chan struct{}),
	}
	m.st.phase = PhaseIdle
	m.st.session.Help = m.help.Snapshot()
	m.last = m.snapshot()
	m.timer.OnTick(func(int) {
		m.post(func() {
			m.st.remaining = m.timer.Remaining()
			m.changed()
		})
	})
	go m.loop()
	return m
}

func (m *Machine) loop() {
	for {
		select {
		case fn := <-m.events:
			if !m.st.closed {
				fn()
			}
		case <-m.done:
			return
		}
	}
}

// post enqueues fn for the loop. It reports false once the machine is closed.
func (m *Machine) post(fn func()) bool {
	select {
	case <-m.done:
		return false
	default:
	}
	select {
	case m.events <- fn:
		return true
	case <-m.done:
		return false
	}
}

// call runs fn on the loop and waits for its result.
func (m *Machine) call(fn func() error) error {
	reply := make(chan error, 1)
	if !m.post(func() { reply <- fn() }) {
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-m.done:
		select {
		case err := <-reply:
			return err
		default:
			return ErrClosed
		}
	}
}

// Snapshot returns the state as of the last transition.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Start creates a session on the server and loads its first question. On
// failure nothing changes locally and the caller decides where to go.
func (m *Machine) Start(ctx context.Context, params domain.StartParams) error {
	err := m.call(func() error {
		if m.st.phase != PhaseIdle && m.st.phase != PhaseFinished {
			return ErrInvalidTransition
		}
		if m.st.inflight != "" {
			return ErrBusy
		}
		m.st.inflight = opStart
		m.sound.PlayGameStart(nil)
		return nil
	})
	if err != nil {
		return err
	}

	g, err := m.api.StartGame(ctx, params)
	var q domain.QuestionView
	if err == nil {
		q, err = m.api.CurrentQuestion(ctx, g.ID)
		if err != nil {
			err = fmt.Errorf("load first question: %w", err)
		}
	}
	return m.call(func() error {
		m.st.inflight = ""
		if err != nil {
			m.fail(opStart, err)
			return err
		}
		m.reset(g)
		m.log.Info().Str("gameId", g.ID).Msg("session started")
		m.present(q)
		return nil
	})
}

// Select picks an option, or clears the pick when optionID is already selected.
func (m *Machine) Select(optionID string) error {
	return m.call(func() error {
		if !m.answering() || m.st.timedOut {
			return ErrInvalidTransition
		}
		if !hasOption(m.st.question, optionID) {
			return ErrUnknownOption
		}
		if contains(m.st.eliminated, optionID) {
			return ErrOptionEliminated
		}
		if m.st.selected == optionID {
			m.st.selected = ""
			m.st.phase = PhaseQuestionRevealed
		} else {
			m.st.selected = optionID
			m.st.phase = PhaseAnswerSelected
		}
		m.changed()
		return nil
	})
}

// Confirm submits the selected option for grading. After a timed-out
// submission failed it resubmits the timed-out answer.
func (m *Machine) Confirm(ctx context.Context) error {
	var sub submission
	err := m.call(func() error {
		if m.st.inflight != "" {
			return ErrBusy
		}
		switch {
		case m.st.timedOut && m.answering():
			sub = m.beginGrade(m.timing.TimeUpSuspenseDelay)
		case m.st.phase == PhaseAnswerSelected:
			sub = m.beginGrade(m.timing.SuspenseDelay)
		default:
			return ErrInvalidTransition
		}
		return nil
	})
	if err != nil {
		return err
	}
	return m.submit(ctx, sub)
}

// UseHint asks the server which wrong options to eliminate.
func (m *Machine) UseHint(ctx context.Context) ([]string, error) {
	var gameID string
	var token uint64
	err := m.call(func() error {
		if err := m.beginAid(opHint, m.help.CheckHint); err != nil {
			return err
		}
		gameID, token = m.st.session.GameID, m.st.token
		m.sound.PlayHintUsed(m.resumeSuspense(token))
		return nil
	})
	if err != nil {
		return nil, err
	}

	res, callErr := m.api.UseHint(ctx, gameID)
	var eliminated []string
	err = m.call(func() error {
		if !m.settle(token) {
			return ErrStale
		}
		defer m.runDeferredExpiry()
		if callErr != nil {
			m.fail(opHint, callErr)
			m.changed()
			return callErr
		}
		if err := m.help.UseHint(); err != nil {
			return err
		}
		m.st.aidUsedHere = true
		m.st.eliminated = append([]string(nil), res.EliminatedOptionIDs...)
		if contains(m.st.eliminated, m.st.selected) {
			m.st.selected = ""
			m.st.phase = PhaseQuestionRevealed
		}
		eliminated = append([]string(nil), m.st.eliminated...)
		m.changed()
		return nil
	})
	return eliminated, err
}

// UseCrowd asks the server for the simulated peer panel.
func (m *Machine) UseCrowd(ctx context.Context) ([]domain.CrowdAnswer, error) {
	var gameID string
	var token uint64
	err := m.call(func() error {
		if err := m.beginAid(opCrowd, m.help.CheckCrowd); err != nil {
			return err
		}
		gameID, token = m.st.session.GameID, m.st.token
		m.sound.PlayCrowdUsed(m.resumeSuspense(token))
		return nil
	})
	if err != nil {
		return nil, err
	}

	res, callErr := m.api.UseCrowd(ctx, gameID)
	var crowd []domain.CrowdAnswer
	err = m.call(func() error {
		if !m.settle(token) {
			return ErrStale
		}
		defer m.runDeferredExpiry()
		if callErr != nil {
			m.fail(opCrowd, callErr)
			m.changed()
			return callErr
		}
		if err := m.help.UseCrowd(); err != nil {
			return err
		}
		m.st.aidUsedHere = true
		m.st.crowd = append([]domain.CrowdAnswer(nil), res...)
		crowd = append([]domain.CrowdAnswer(nil), res...)
		m.changed()
		return nil
	})
	return crowd, err
}

// UseExpertComment opens the current question's comment before answering.
func (m *Machine) UseExpertComment() (string, error) {
	var comment string
	err := m.call(func() error {
		if !m.answering() || m.st.timedOut {
			return ErrInvalidTransition
		}
		q := m.st.question
		if err := m.help.UseExpertComment(q.ExpertComment != ""); err != nil {
			return err
		}
		m.st.aidUsedHere = true
		m.st.expertUsedHere = true
		m.st.comment = CommentBeforeAnswer
		comment = q.ExpertComment
		m.changed()
		return nil
	})
	return comment, err
}

// ShowComment opens the comment of an answered question while waiting to advance.
func (m *Machine) ShowComment() (string, error) {
	var comment string
	err := m.call(func() error {
		if m.st.phase != PhaseAwaitingAdvance || m.st.question == nil {
			return ErrInvalidTransition
		}
		if m.st.question.ExpertComment == "" {
			return domain.ErrNoCommentAvailable
		}
		if m.st.comment != CommentForcedAdvance {
			m.st.comment = CommentAfterAnswer
		}
		comment = m.st.question.ExpertComment
		m.changed()
		return nil
	})
	return comment, err
}

// CloseComment hides the comment. In forced-advance mode it loads the next question.
func (m *Machine) CloseComment() error {
	return m.call(func() error {
		switch m.st.comment {
		case CommentHidden:
			return nil
		case CommentForcedAdvance:
			if m.st.inflight != "" {
				return ErrBusy
			}
			m.loadNext()
			return nil
		}
		m.st.comment = CommentHidden
		m.changed()
		return nil
	})
}

// Skip moves to the next question without answering, consuming one skip.
func (m *Machine) Skip(ctx context.Context) error {
	var gameID string
	var token uint64
	err := m.call(func() error {
		if !m.answering() || m.st.timedOut {
			return ErrInvalidTransition
		}
		if m.st.inflight != "" {
			return ErrBusy
		}
		if err := m.help.CheckSkip(); err != nil {
			return err
		}
		m.timer.Cancel()
		m.sound.StopCurrent()
		m.clearGate()
		m.st.resumePhase = m.st.phase
		m.st.phase = PhaseAdvancing
		m.st.inflight = opSkip
		m.st.stopPending = false
		gameID, token = m.st.session.GameID, m.st.token
		m.changed()
		return nil
	})
	if err != nil {
		return err
	}

	res, callErr := m.api.UseSkip(ctx, gameID)
	return m.call(func() error {
		if !m.settle(token) {
			return ErrStale
		}
		if callErr != nil {
			m.st.phase = m.st.resumePhase
			m.startClock(m.timer.Remaining())
			m.fail(opSkip, callErr)
			m.changed()
			return callErr
		}
		if err := m.help.UseSkip(); err != nil {
			return err
		}
		m.st.session.CurrentQuestionIndex = res.NewQuestionIndex
		hadComment := m.st.question != nil && m.st.question.ExpertComment != ""
		m.gateOn(m.timing.SkipTimeout, m.sound.PlaySkipUsed, func() { m.skipped(token, hadComment) })
		m.changed()
		return nil
	})
}

// Advance loads the next question after a correct answer or a skip.
func (m *Machine) Advance() error {
	return m.call(func() error {
		if m.st.phase != PhaseAwaitingAdvance {
			return ErrInvalidTransition
		}
		if m.st.inflight != "" {
			return ErrBusy
		}
		m.loadNext()
		return nil
	})
}

// RequestStop is the first step of quitting with the current prize.
func (m *Machine) RequestStop() error {
	return m.call(func() error {
		if m.st.session.Status != domain.StatusPlaying || m.st.timedOut {
			return ErrInvalidTransition
		}
		switch m.st.phase {
		case PhaseQuestionRevealed, PhaseAnswerSelected, PhaseAwaitingAdvance:
		default:
			return ErrInvalidTransition
		}
		m.st.stopPending = true
		m.changed()
		return nil
	})
}

// CancelStop withdraws a stop request.
func (m *Machine) CancelStop() error {
	return m.call(func() error {
		if !m.st.stopPending {
			return ErrInvalidTransition
		}
		m.st.stopPending = false
		m.changed()
		return nil
	})
}

// ConfirmStop ends the session and returns the prize paid out.
func (m *Machine) ConfirmStop(ctx context.Context) (int64, error) {
	var gameID string
	var token uint64
	var resume bool
	err := m.call(func() error {
		if !m.st.stopPending {
			return ErrInvalidTransition
		}
		if m.st.inflight != "" {
			return ErrBusy
		}
		resume = m.answering()
		m.timer.Cancel()
		m.sound.StopCurrent()
		m.st.inflight = opStop
		gameID, token = m.st.session.GameID, m.st.token
		m.changed()
		return nil
	})
	if err != nil {
		return 0, err
	}

	res, callErr := m.api.StopGame(ctx, gameID)
	err = m.call(func() error {
		if !m.settle(token) {
			return ErrStale
		}
		if callErr != nil {
			if resume && m.answering() {
				m.startClock(m.timer.Remaining())
			}
			m.fail(opStop, callErr)
			m.changed()
			return callErr
		}
		m.st.token++
		m.clearGate()
		m.timer.Reset()
		m.st.session.Status = domain.StatusStopped
		m.st.session.CurrentPrize = res.FinalPrize
		m.st.stopPending = false
		m.st.comment = CommentHidden
		m.st.phase = PhaseFinished
		m.sound.PlayDefeat(nil)
		m.log.Info().Str("gameId", gameID).Int64("prize", res.FinalPrize).Msg("session stopped")
		m.changed()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return res.FinalPrize, nil
}

// EnterSuddenDeath accepts the bonus mode offered after winning the ladder.
func (m *Machine) EnterSuddenDeath(ctx context.Context) error {
	var gameID string
	var token uint64
	err := m.call(func() error {
		if m.st.session.Status != domain.StatusWon || m.st.phase != PhaseFinished || !m.st.suddenDeathOffered {
			return ErrInvalidTransition
		}
		if m.st.inflight != "" {
			return ErrBusy
		}
		m.st.inflight = opSuddenDeath
		gameID, token = m.st.session.GameID, m.st.token
		return nil
	})
	if err != nil {
		return err
	}

	g, callErr := m.api.EnterSuddenDeath(ctx, gameID)
	return m.call(func() error {
		if !m.settle(token) {
			return ErrStale
		}
		if callErr != nil {
			m.fail(opSuddenDeath, callErr)
			m.changed()
			return callErr
		}
		s := &m.st.session
		s.Status = domain.StatusSuddenDeath
		s.SuddenDeathMultiplier = 1
		s.SuddenDeathCorrect = 0
		s.CurrentQuestionIndex = g.CurrentQuestionIndex
		s.CurrentPrize = g.CurrentPrize
		s.GuaranteedPrize = g.GuaranteedPrize
		m.help.EnterSuddenDeath()
		m.st.suddenDeathOffered = false
		m.st.result = nil
		m.st.comment = CommentHidden
		m.st.phase = PhaseAdvancing
		m.sound.StopCurrent()
		m.gateOn(m.timing.SuddenDeathTimeout, m.sound.PlaySuddenDeathIntro, func() {
			if token == m.st.token && m.st.phase == PhaseAdvancing {
				m.loadNext()
			}
		})
		m.log.Info().Str("gameId", gameID).Msg("sudden death entered")
		m.changed()
		return nil
	})
}

// DeclineSuddenDeath keeps the won session terminal.
func (m *Machine) DeclineSuddenDeath() error {
	return m.call(func() error {
		if !m.st.suddenDeathOffered {
			return ErrInvalidTransition
		}
		m.st.suddenDeathOffered = false
		m.changed()
		return nil
	})
}

// Unlock forwards a user gesture to the sound controller. A clip held back by
// the autoplay policy starts playing.
func (m *Machine) Unlock() error {
	return m.sound.Unlock()
}

// Close cancels the timer, stops audio and discards any result still in flight.
func (m *Machine) Close() {
	m.closeOnce.Do(func() {
		_ = m.call(func() error {
			m.clearGate()
			m.timer.Reset()
			m.sound.StopCurrent()
			m.st.token++
			m.st.closed = true
			return nil
		})
		m.cancel()
		close(m.done)
	})
}

func (m *Machine) reset(g domain.Game) {
	m.clearGate()
	m.timer.Reset()
	token := m.st.token
	m.st = loopState{
		phase: PhaseLoadingQuestion,
		token: token,
		session: Session{
			GameID:                g.ID,
			Status:                g.Status,
			CurrentQuestionIndex:  g.CurrentQuestionIndex,
			CurrentPrizeLevel:     g.CurrentPrizeLevel,
			CurrentPrize:          g.CurrentPrize,
			GuaranteedPrize:       g.GuaranteedPrize,
			TotalCorrect:          g.TotalCorrect,
			SuddenDeathMultiplier: g.SuddenDeathMultiplier,
			SuddenDeathCorrect:    g.SuddenDeathCorrect,
		},
	}
	m.help.Seed(g.Help, g.GuaranteedPrize, g.Status == domain.StatusSuddenDeath)
}

// present swaps in a new question and plays its intro before revealing it.
func (m *Machine) present(q domain.QuestionView) {
	m.clearGate()
	m.timer.Reset()
	m.st.token++
	token := m.st.token
	m.st.question = &q
	m.st.selected = ""
	m.st.eliminated = nil
	m.st.crowd = nil
	m.st.timeSpent = 0
	m.st.result = nil
	m.st.comment = CommentHidden
	m.st.aidUsedHere = false
	m.st.expertUsedHere = false
	m.st.stopPending = false
	m.st.timedOut = false
	m.st.expiryDeferred = false
	m.st.remaining = m.timing.QuestionBudget
	m.st.session.CurrentQuestionIndex = q.QuestionIndex
	m.st.session.CurrentPrizeLevel = q.CurrentPrizeLevel
	m.st.phase = PhaseLoadingQuestion

	prize := q.PrizeLevel.Prize
	if m.st.session.Status == domain.StatusSuddenDeath {
		prize = domain.MillionPrize
	}
	m.gateOn(m.timing.IntroTimeout, func(done func()) *Playback {
		return m.sound.PlayQuestionIntro(prize, done)
	}, func() { m.reveal(token) })
	m.changed()
}

func (m *Machine) reveal(token uint64) {
	if token != m.st.token || m.st.phase != PhaseLoadingQuestion {
		return
	}
	m.st.phase = PhaseQuestionRevealed
	m.startClock(m.timing.QuestionBudget)
	m.changed()
}

func (m *Machine) startClock(budget int) {
	token := m.st.token
	m.st.remaining = budget
	m.timer.Start(budget, func() {
		m.post(func() { m.expire(token) })
	})
	m.sound.PlaySuspense(m.resumeSuspense(token))
}

func (m *Machine) expire(token uint64) {
	if token != m.st.token || !m.answering() || m.st.timedOut {
		return
	}
	if m.st.inflight != "" {
		m.st.expiryDeferred = true
		return
	}
	m.st.timedOut = true
	m.st.stopPending = false
	m.st.comment = CommentHidden

	if m.st.selected != "" {
		sub := m.beginGrade(m.timing.TimeUpSuspenseDelay)
		m.sound.PlayTimeExpired(nil)
		go func() { _ = m.submit(m.gradingContext(), sub) }()
		return
	}

	m.timer.Cancel()
	m.sound.StopCurrent()
	m.st.resumePhase = m.st.phase
	m.st.phase = PhaseRevealing
	m.st.timeSpent = m.timing.QuestionBudget
	m.gateOn(m.timing.TimeUpTimeout, m.sound.PlayTimeExpired, func() { m.submitTimedOut(token) })
	m.changed()
}

func (m *Machine) submitTimedOut(token uint64) {
	if token != m.st.token || m.st.phase != PhaseRevealing || m.st.inflight != "" {
		return
	}
	m.st.inflight = opAnswer
	sub := submission{
		token:   token,
		gameID:  m.st.session.GameID,
		elapsed: m.timing.QuestionBudget,
	}
	go func() { _ = m.submit(m.gradingContext(), sub) }()
}

// gradingContext outlives Close so the server still records a timed-out
// answer; settle drops the result once the session is gone.
func (m *Machine) gradingContext() context.Context {
	return context.WithoutCancel(m.ctx)
}

func (m *Machine) runDeferredExpiry() {
	if m.st.expiryDeferred {
		m.st.expiryDeferred = false
		m.expire(m.st.token)
	}
}

// beginGrade freezes the question for grading. The caller sends the submission.
func (m *Machine) beginGrade(delay time.Duration) submission {
	elapsed := m.timing.QuestionBudget - m.timer.Remaining()
	if elapsed < 0 {
		elapsed = 0
	}
	m.timer.Cancel()
	m.sound.StopCurrent()
	m.clearGate()
	m.st.resumePhase = m.st.phase
	m.st.phase = PhaseConfirming
	m.st.inflight = opAnswer
	m.st.stopPending = false
	m.st.timeSpent = elapsed
	m.changed()
	return submission{
		token:    m.st.token,
		gameID:   m.st.session.GameID,
		optionID: m.st.selected,
		elapsed:  elapsed,
		delay:    delay,
	}
}

func (m *Machine) submit(ctx context.Context, sub submission) error {
	res, callErr := m.api.SubmitAnswer(ctx, sub.gameID, sub.optionID, sub.elapsed)
	return m.call(func() error {
		if !m.settle(sub.token) {
			return ErrStale
		}
		if callErr != nil {
			m.st.phase = m.st.resumePhase
			if !m.st.timedOut {
				m.startClock(m.timer.Remaining())
			}
			m.fail(opAnswer, callErr)
			m.changed()
			return callErr
		}
		m.st.result = &res
		if sub.optionID == "" {
			m.finishLost(res)
			return nil
		}
		token := sub.token
		m.after(sub.delay, func() { m.revealResult(token) })
		m.changed()
		return nil
	})
}

func (m *Machine) revealResult(token uint64) {
	if token != m.st.token || m.st.phase != PhaseConfirming || m.st.result == nil {
		return
	}
	m.st.phase = PhaseRevealing
	if m.st.result.Correct {
		m.gateOn(m.timing.RevealTimeout, m.sound.PlayCorrect, func() { m.correctRevealed(token) })
	} else {
		m.gateOn(m.timing.RevealTimeout, m.sound.PlayWrong, func() { m.wrongRevealed(token) })
	}
	m.changed()
}

func (m *Machine) correctRevealed(token uint64) {
	if token != m.st.token || m.st.phase != PhaseRevealing {
		return
	}
	res := *m.st.result
	s := &m.st.session
	s.TotalCorrect++

	if s.Status == domain.StatusSuddenDeath {
		s.SuddenDeathMultiplier++
		s.SuddenDeathCorrect++
		if res.GameOver {
			s.Status = res.Status
			m.st.phase = PhaseFinished
			m.sound.PlayVictory(nil)
			m.changed()
			return
		}
		m.loadNext()
		return
	}

	prev := s.GuaranteedPrize
	s.CurrentPrize = res.NewPrize
	s.GuaranteedPrize = res.GuaranteedPrize
	if res.GameOver {
		// the pool can run out before the top level; the server then stops the game
		s.Status = res.Status
		m.st.phase = PhaseFinished
		m.st.suddenDeathOffered = res.Status == domain.StatusWon
		m.sound.PlayVictory(nil)
		m.log.Info().Str("gameId", s.GameID).Str("status", string(res.Status)).Msg("ladder finished")
		m.changed()
		return
	}
	if m.help.ApplyCheckpointReplenishment(prev, res.GuaranteedPrize) {
		m.log.Info().Str("gameId", s.GameID).Int64("guaranteed", res.GuaranteedPrize).Msg("aids replenished")
	}
	s.CurrentQuestionIndex = res.NextQuestionIndex
	m.st.phase = PhaseAwaitingAdvance
	if m.st.aidUsedHere && !m.st.expertUsedHere && m.st.question.ExpertComment != "" {
		m.st.comment = CommentAfterAnswer
	} else {
		m.st.comment = CommentHidden
	}
	m.changed()
}

func (m *Machine) wrongRevealed(token uint64) {
	if token != m.st.token || m.st.phase != PhaseRevealing {
		return
	}
	m.finishLost(*m.st.result)
}

func (m *Machine) finishLost(res domain.AnswerResult) {
	s := &m.st.session
	s.Status = domain.StatusLost
	s.CurrentPrize = res.GuaranteedPrize
	s.GuaranteedPrize = res.GuaranteedPrize
	m.st.comment = CommentHidden
	m.st.phase = PhaseFinished
	m.sound.PlayDefeat(nil)
	m.log.Info().Str("gameId", s.GameID).Int64("prize", s.CurrentPrize).Msg("session lost")
	m.changed()
}

func (m *Machine) skipped(token uint64, hadComment bool) {
	if token != m.st.token || m.st.phase != PhaseAdvancing {
		return
	}
	if hadComment {
		m.st.phase = PhaseAwaitingAdvance
		m.st.comment = CommentForcedAdvance
		m.changed()
		return
	}
	m.loadNext()
}

// loadNext fetches the question the server now points at.
func (m *Machine) loadNext() {
	m.clearGate()
	m.st.phase = PhaseAdvancing
	m.st.comment = CommentHidden
	m.st.stopPending = false
	m.st.inflight = opLoad
	token := m.st.token
	gameID := m.st.session.GameID
	go func() {
		q, err := m.api.CurrentQuestion(m.ctx, gameID)
		_ = m.call(func() error {
			if !m.settle(token) {
				return ErrStale
			}
			if err != nil {
				m.st.phase = PhaseAwaitingAdvance
				m.fail(opLoad, err)
				m.changed()
				return err
			}
			m.present(q)
			return nil
		})
	}()
	m.changed()
}

func (m *Machine) beginAid(op string, check func() error) error {
	if !m.answering() || m.st.timedOut {
		return ErrInvalidTransition
	}
	if m.st.inflight != "" {
		return ErrBusy
	}
	if err := check(); err != nil {
		return err
	}
	m.st.inflight = op
	m.changed()
	return nil
}

func (m *Machine) resumeSuspense(token uint64) func() {
	return func() {
		m.post(func() {
			if token == m.st.token && m.answering() {
				m.sound.PlaySuspense(nil)
			}
		})
	}
}

// settle clears the in-flight marker and reports whether the result still applies.
func (m *Machine) settle(token uint64) bool {
	m.st.inflight = ""
	return token == m.st.token
}

func (m *Machine) answering() bool {
	return m.st.phase == PhaseQuestionRevealed || m.st.phase == PhaseAnswerSelected
}

// gateOn plays a clip and runs next on the loop when it completes or after
// timeout, whichever happens first.
func (m *Machine) gateOn(timeout time.Duration, play func(done func()) *Playback, next func()) {
	m.clearGate()
	trigger, cancel := onceOrTimeout(timeout, func() { m.post(next) })
	m.st.gate = cancel
	play(trigger)
}

// after runs next on the loop once d has elapsed.
func (m *Machine) after(d time.Duration, next func()) {
	m.clearGate()
	t := time.AfterFunc(d, func() { m.post(next) })
	m.st.gate = func() { t.Stop() }
}

func (m *Machine) clearGate() {
	if m.st.gate != nil {
		m.st.gate()
		m.st.gate = nil
	}
}

func (m *Machine) fail(op string, err error) {
	m.log.Warn().Err(err).Str("op", op).Str("gameId", m.st.session.GameID).Msg("session call failed")
	m.listener.Failed(op, err)
}

func (m *Machine) changed() {
	snap := m.snapshot()
	m.mu.Lock()
	m.last = snap
	m.mu.Unlock()
	m.listener.Changed(snap)
}

func (m *Machine) snapshot() Snapshot {
	s := m.st.session
	s.Help = m.help.Snapshot()
	snap := Snapshot{
		Phase:              m.st.phase,
		Session:            s,
		Selected:           m.st.selected,
		Eliminated:         append([]string(nil), m.st.eliminated...),
		Crowd:              append([]domain.CrowdAnswer(nil), m.st.crowd...),
		Remaining:          m.st.remaining,
		TimeSpent:          m.st.timeSpent,
		Comment:            m.st.comment,
		StopPending:        m.st.stopPending,
		SuddenDeathOffered: m.st.suddenDeathOffered,
		TimedOut:           m.st.timedOut,
		Busy:               m.st.inflight != "",
	}
	if m.st.question != nil {
		q := *m.st.question
		snap.Question = &q
	}
	if m.st.result != nil {
		r := *m.st.result
		snap.Result = &r
	}
	return snap
}

type silentPlayer struct{}

func (silentPlayer) Play(context.Context, Clip) error { return nil }
func (silentPlayer) Unlock() error                    { return nil }

func hasOption(q *domain.QuestionView, id string) bool {
	if q == nil {
		return false
	}
	for _, o := range q.Options {
		if o.ID == id {
			return true
		}
	}
	return false
}

func contains(ids []string, id string) bool {
	if id == "" {
		return false
	}
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
