package app

import (
	"context"

	"milhao-quiz-service/internal/domain"
	"milhao-quiz-service/internal/game"
)

// LocalAPI drives a GameService in process on behalf of one user. It lets the
// session machine run without the HTTP layer.
type LocalAPI struct {
	svc    *GameService
	userID string
}

var _ game.API = (*LocalAPI)(nil)

func NewLocalAPI(svc *GameService, userID string) *LocalAPI {
	return &LocalAPI{svc: svc, userID: userID}
}

func (a *LocalAPI) StartGame(ctx context.Context, params domain.StartParams) (domain.Game, error) {
	return a.svc.Start(ctx, a.userID, params)
}

func (a *LocalAPI) CurrentQuestion(ctx context.Context, gameID string) (domain.QuestionView, error) {
	return a.svc.CurrentQuestion(ctx, a.userID, gameID)
}

func (a *LocalAPI) SubmitAnswer(ctx context.Context, gameID, optionID string, elapsedSeconds int) (domain.AnswerResult, error) {
	return a.svc.Answer(ctx, a.userID, gameID, optionID, elapsedSeconds)
}

func (a *LocalAPI) UseHint(ctx context.Context, gameID string) (domain.HintResult, error) {
	return a.svc.UseHint(ctx, a.userID, gameID)
}

func (a *LocalAPI) UseCrowd(ctx context.Context, gameID string) ([]domain.CrowdAnswer, error) {
	return a.svc.UseCrowd(ctx, a.userID, gameID)
}

func (a *LocalAPI) UseSkip(ctx context.Context, gameID string) (domain.SkipResult, error) {
	return a.svc.UseSkip(ctx, a.userID, gameID)
}

func (a *LocalAPI) StopGame(ctx context.Context, gameID string) (domain.StopResult, error) {
	return a.svc.Stop(ctx, a.userID, gameID)
}

func (a *LocalAPI) EnterSuddenDeath(ctx context.Context, gameID string) (domain.Game, error) {
	return a.svc.EnterSuddenDeath(ctx, a.userID, gameID)
}
