package game

import (
	"context"

	"milhao-quiz-service/internal/domain"
)

// API is the server side of a session. The machine issues at most one call at a time.
type API interface {
	StartGame(ctx context.Context, params domain.StartParams) (domain.Game, error)
	CurrentQuestion(ctx context.Context, gameID string) (domain.QuestionView, error)
	SubmitAnswer(ctx context.Context, gameID, optionID string, elapsedSeconds int) (domain.AnswerResult, error)
	UseHint(ctx context.Context, gameID string) (domain.HintResult, error)
	UseCrowd(ctx context.Context, gameID string) ([]domain.CrowdAnswer, error)
	UseSkip(ctx context.Context, gameID string) (domain.SkipResult, error)
	StopGame(ctx context.Context, gameID string) (domain.StopResult, error)
	EnterSuddenDeath(ctx context.Context, gameID string) (domain.Game, error)
}
