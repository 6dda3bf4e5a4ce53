package domain

import "time"

// Status is the lifecycle state of a game.
type Status string

const (
	StatusPlaying     Status = "playing"
	StatusSuddenDeath Status = "suddenDeath"
	StatusWon         Status = "won"
	StatusLost        Status = "lost"
	StatusStopped     Status = "stopped"
)

// Terminal reports whether no further answers are accepted.
func (s Status) Terminal() bool {
	return s == StatusWon || s == StatusLost || s == StatusStopped
}

// Active reports whether the game accepts answers.
func (s Status) Active() bool {
	return s == StatusPlaying || s == StatusSuddenDeath
}

// UnansweredMode selects whether questions the player already answered are excluded.
type UnansweredMode string

const (
	UnansweredAll    UnansweredMode = "all"
	UnansweredGame   UnansweredMode = "unanswered_game"
	UnansweredSystem UnansweredMode = "unanswered_system"
)

// StartParams are the filters a new game is drawn from.
type StartParams struct {
	FilterIDs      []string       `json:"filterIds" validate:"omitempty,dive,required"`
	SubFilterIDs   []string       `json:"subFilterIds" validate:"omitempty,dive,required"`
	InstitutionIDs []string       `json:"institutionIds" validate:"omitempty,dive,required"`
	Unanswered     UnansweredMode `json:"unansweredFilter" validate:"omitempty,oneof=all unanswered_game unanswered_system"`
}

// Help is the aid usage carried by a game.
type Help struct {
	HintUsed       bool `json:"hintUsed"`
	CrowdUsed      bool `json:"crowdUsed"`
	ExpertUsed     bool `json:"expertUsed"`
	SkipsRemaining int  `json:"skipsRemaining"`
}

// Exhausted is the aid state forced by sudden death.
func Exhausted() Help {
	return Help{HintUsed: true, CrowdUsed: true, ExpertUsed: true}
}

// AnswerRecord is one graded answer kept on the game.
type AnswerRecord struct {
	QuestionID       string `json:"questionId"`
	SelectedOptionID string `json:"selectedOptionId"`
	Correct          bool   `json:"correct"`
	TimeSeconds      int    `json:"timeSeconds"`
}

// Game is the server-side state of one played session.
type Game struct {
	ID                    string         `json:"id"`
	UserID                string         `json:"userId"`
	Params                StartParams    `json:"params"`
	QuestionIDs           []string       `json:"questionIds"`
	Status                Status         `json:"status"`
	CurrentQuestionIndex  int            `json:"currentQuestionIndex"`
	CurrentPrizeLevel     int            `json:"currentPrizeLevel"`
	CurrentPrize          int64          `json:"currentPrize"`
	GuaranteedPrize       int64          `json:"guaranteedPrize"`
	Help                  Help           `json:"help"`
	HelpsUsed             int            `json:"helpsUsed"`
	TotalCorrect          int            `json:"totalCorrect"`
	TotalTimeSeconds      int            `json:"totalTimeSeconds"`
	SuddenDeathMultiplier int            `json:"suddenDeathMultiplier"`
	SuddenDeathCorrect    int            `json:"suddenDeathCorrect"`
	Answers               []AnswerRecord `json:"answers"`
	Replenished           []int64        `json:"replenished,omitempty"`
	StartedAt             time.Time      `json:"startedAt"`
	CompletedAt           *time.Time     `json:"completedAt,omitempty"`
}

// Option is a possible answer for a question.
type Option struct {
	ID   string `json:"id" yaml:"id" validate:"required"`
	Text string `json:"text" yaml:"text" validate:"required"`
}

// Question is a bank entry. CorrectOptionID never leaves the server before grading.
type Question struct {
	ID              string   `json:"id" yaml:"id" validate:"required"`
	Content         string   `json:"content" yaml:"content" validate:"required"`
	Options         []Option `json:"options" yaml:"options" validate:"min=2,dive"`
	CorrectOptionID string   `json:"correctOptionId" yaml:"correctOptionId" validate:"required"`
	ExpertComment   string   `json:"expertComment,omitempty" yaml:"expertComment,omitempty"`
	FilterIDs       []string `json:"filterIds,omitempty" yaml:"filterIds,omitempty"`
	SubFilterIDs    []string `json:"subFilterIds,omitempty" yaml:"subFilterIds,omitempty"`
}

// HasOption reports whether id is one of the question's options.
func (q Question) HasOption(id string) bool {
	for _, o := range q.Options {
		if o.ID == id {
			return true
		}
	}
	return false
}

// CorrectOption resolves the correct option. Banks imported from older exports
// store the option text instead of its id, so both are accepted.
func (q Question) CorrectOption() (Option, bool) {
	for _, o := range q.Options {
		if o.ID == q.CorrectOptionID || o.Text == q.CorrectOptionID {
			return o, true
		}
	}
	return Option{}, false
}

// IsCorrect grades a selection. An empty selection is wrong.
func (q Question) IsCorrect(optionID string) bool {
	if optionID == "" {
		return false
	}
	o, ok := q.CorrectOption()
	return ok && o.ID == optionID
}

// QuestionView is what a player sees for the current question.
type QuestionView struct {
	ID                string     `json:"id"`
	Content           string     `json:"content"`
	Options           []Option   `json:"options"`
	ExpertComment     string     `json:"expertComment,omitempty"`
	QuestionIndex     int        `json:"questionIndex"`
	TotalQuestions    int        `json:"totalQuestions"`
	PrizeLevel        PrizeLevel `json:"prizeLevel"`
	CurrentPrizeLevel int        `json:"currentPrizeLevel"`
	Institution       string     `json:"institution,omitempty"`
	Year              string     `json:"year,omitempty"`
}

// AnswerResult is the server's grading of one answer.
type AnswerResult struct {
	Correct               bool   `json:"correct"`
	CorrectOptionID       string `json:"correctOptionId"`
	NewPrize              int64  `json:"newPrize"`
	GuaranteedPrize       int64  `json:"guaranteedPrize"`
	GameOver              bool   `json:"gameOver"`
	Status                Status `json:"status"`
	NextQuestionIndex     int    `json:"nextQuestionIndex"`
	SuddenDeathMultiplier int    `json:"suddenDeathMultiplier,omitempty"`
}

// HintResult lists the wrong options eliminated by the hint aid.
type HintResult struct {
	EliminatedOptionIDs []string `json:"eliminatedOptionIds"`
}

// Confidence is how sure a simulated peer is about its pick.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// CrowdAnswer is one simulated peer opinion. It is not guaranteed to be correct.
type CrowdAnswer struct {
	StudentID   int        `json:"studentId"`
	StudentName string     `json:"studentName"`
	OptionID    string     `json:"optionId"`
	Confidence  Confidence `json:"confidence"`
}

// SkipResult is the index the game moved to after a skip.
type SkipResult struct {
	NewQuestionIndex int `json:"newQuestionIndex"`
}

// StopResult is the payout of a stopped game.
type StopResult struct {
	FinalPrize int64 `json:"finalPrize"`
}

// Outcome summarizes a finished game for stats and ranking.
type Outcome struct {
	UserID                string         `json:"userId"`
	GameID                string         `json:"gameId"`
	Status                Status         `json:"status"`
	FinalPrize            int64          `json:"finalPrize"`
	PrizeReached          int64          `json:"prizeReached"`
	TotalCorrect          int            `json:"totalCorrect"`
	TotalTimeSeconds      int            `json:"totalTimeSeconds"`
	HintUsed              bool           `json:"hintUsed"`
	CrowdUsed             bool           `json:"crowdUsed"`
	SkipsUsed             int            `json:"skipsUsed"`
	HelpsUsed             int            `json:"helpsUsed"`
	SuddenDeathMultiplier int            `json:"suddenDeathMultiplier"`
	Answers               []AnswerRecord `json:"answers"`
	FinishedAt            time.Time      `json:"finishedAt"`
}

// RankingEntry is one row of a ranking board.
type RankingEntry struct {
	Position         int    `json:"position"`
	UserID           string `json:"userId"`
	GameID           string `json:"gameId"`
	Prize            int64  `json:"prize"`
	QuestionsCorrect int    `json:"questionsCorrect"`
	TotalTimeSeconds int    `json:"totalTimeSeconds"`
	HelpsUsed        int    `json:"helpsUsed"`
	Multiplier       int    `json:"multiplier"`
	Status           Status `json:"status"`
}

// ProgressKind classifies events on the progress channel.
type ProgressKind string

const (
	ProgressUpdate   ProgressKind = "progress"
	ProgressComplete ProgressKind = "complete"
	ProgressError    ProgressKind = "error"
)

// ProgressEvent reports a long-running job's state to its owner.
type ProgressEvent struct {
	JobID   string       `json:"jobId"`
	Kind    ProgressKind `json:"kind"`
	Percent int          `json:"percent"`
	Message string       `json:"message"`
	At      time.Time    `json:"at"`
}
