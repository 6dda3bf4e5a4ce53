package domain

import "errors"

var (
	// ErrGameNotFound is returned when a game id is unknown or belongs to another user.
	ErrGameNotFound = errors.New("game not found")
	// ErrGameFinished is returned when acting on a game that reached a terminal status.
	ErrGameFinished = errors.New("game already finished")
	// ErrQuestionNotFound indicates the question content could not be loaded.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrNoMoreQuestions is returned when the game's question pool is exhausted.
	ErrNoMoreQuestions = errors.New("no more questions in this game")
	// ErrNotEnoughQuestions is returned when the filters select too few questions to start.
	ErrNotEnoughQuestions = errors.New("not enough questions for the selected filters")
	// ErrInvalidParams wraps request validation failures.
	ErrInvalidParams = errors.New("invalid parameters")

	// ErrHintUsed is returned when the elimination aid was already consumed.
	ErrHintUsed = errors.New("hint already used")
	// ErrCrowdUsed is returned when the crowd aid was already consumed.
	ErrCrowdUsed = errors.New("crowd already consulted")
	// ErrExpertUsed is returned when the expert comment aid was already consumed.
	ErrExpertUsed = errors.New("expert comment already used")
	// ErrNoCommentAvailable is returned when the current question has no expert comment.
	ErrNoCommentAvailable = errors.New("no expert comment for this question")
	// ErrNoSkipsRemaining is returned when the skip counter is zero.
	ErrNoSkipsRemaining = errors.New("no skips remaining")
	// ErrLastQuestion is returned when skipping would leave the pool.
	ErrLastQuestion = errors.New("cannot skip the last question")
	// ErrAidsUnavailable is returned for any aid while in sudden death.
	ErrAidsUnavailable = errors.New("aids are unavailable in sudden death")
	// ErrNotWon is returned when sudden death is requested before winning the ladder.
	ErrNotWon = errors.New("sudden death requires a won game")
	// ErrStopUnavailable is returned when stopping a game that is not on the ladder.
	ErrStopUnavailable = errors.New("stopping is only allowed while climbing the ladder")
)

var codes = []struct {
	code string
	err  error
}{
	{"GAME_NOT_FOUND", ErrGameNotFound},
	{"GAME_FINISHED", ErrGameFinished},
	{"QUESTION_NOT_FOUND", ErrQuestionNotFound},
	{"NO_MORE_QUESTIONS", ErrNoMoreQuestions},
	{"NOT_ENOUGH_QUESTIONS", ErrNotEnoughQuestions},
	{"INVALID_PARAMS", ErrInvalidParams},
	{"HINT_USED", ErrHintUsed},
	{"CROWD_USED", ErrCrowdUsed},
	{"EXPERT_USED", ErrExpertUsed},
	{"NO_COMMENT", ErrNoCommentAvailable},
	{"NO_SKIPS", ErrNoSkipsRemaining},
	{"LAST_QUESTION", ErrLastQuestion},
	{"AIDS_UNAVAILABLE", ErrAidsUnavailable},
	{"NOT_WON", ErrNotWon},
	{"STOP_UNAVAILABLE", ErrStopUnavailable},
}

// CodeOf returns the stable wire code for err, or "INTERNAL" when err is not a domain sentinel.
func CodeOf(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "INTERNAL"
}

// ErrorForCode maps a wire code back to its sentinel. Unknown codes return nil.
func ErrorForCode(code string) error {
	for _, c := range codes {
		if c.code == code {
			return c.err
		}
	}
	return nil
}
