package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"milhao-quiz-service/internal/app"
	"milhao-quiz-service/internal/config"
	"milhao-quiz-service/internal/domain"
	"milhao-quiz-service/internal/infra/memory"
	pgstore "milhao-quiz-service/internal/infra/postgres"
	redisstore "milhao-quiz-service/internal/infra/redis"
	"milhao-quiz-service/internal/progress"
)

// services is the wired application: Postgres and Redis when configured,
// in-memory stores otherwise.
type services struct {
	games    *app.GameService
	imports  *app.ImportService
	hub      *progress.Hub
	bank     app.QuestionBank
	bus      *redisstore.ProgressBus
	closers  []func()
	storeLog string
}

func (s *services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func buildServices(ctx context.Context, cfg config.Config, log zerolog.Logger) (*services, error) {
	svc := &services{hub: progress.NewHub()}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			_ = redisClient.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		svc.closers = append(svc.closers, func() { _ = redisClient.Close() })
	}
	gameTTL := config.TTLDuration(cfg.Redis.TTL, 2*time.Hour)
	historyTTL := config.TTLDuration(cfg.Redis.HistoryTTL, 30*24*time.Hour)
	questionTTL := config.TTLDuration(cfg.Questions.TTL, 10*time.Minute)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		var err error
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			svc.Close()
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		svc.closers = append(svc.closers, pool.Close)
	}

	var (
		bank   app.QuestionBank
		loader memory.QuestionLoader
		stats  app.StatsRepository
	)
	if pool != nil {
		pgBank := pgstore.NewQuestionBank(pool)
		bank, loader, stats = pgBank, pgBank, pgstore.NewStatsStore(pool)
	} else {
		memBank := memory.NewQuestionBank()
		bank, loader, stats = memBank, memBank, memory.NewStatsStore()
	}

	var (
		questions  app.QuestionRepository
		invalidate func(ctx context.Context, ids ...string) error
		games      app.GameStore
		rankings   app.RankingRepository
		publisher  app.ProgressPublisher = svc.hub
	)
	if redisClient != nil {
		repo := redisstore.NewQuestionRepository(redisClient, loader, questionTTL)
		questions, invalidate = repo, repo.Invalidate
		games = redisstore.NewGameStore(redisClient, gameTTL, historyTTL)
		rankings = redisstore.NewRankingStore(redisClient, historyTTL)
		svc.bus = redisstore.NewProgressBus(redisClient, svc.hub, log)
		publisher = svc.bus
	} else {
		repo := memory.NewQuestionRepository(loader, questionTTL)
		questions = repo
		invalidate = func(_ context.Context, ids ...string) error {
			repo.Invalidate(ids...)
			return nil
		}
		games = memory.NewGameStore()
		rankings = memory.NewRankingStore()
	}

	svc.bank = invalidatingBank{QuestionBank: bank, invalidate: invalidate}
	svc.games = app.NewGameService(games, svc.bank, questions, stats, rankings, log)
	svc.imports = app.NewImportService(svc.bank, publisher, log, 0)
	svc.storeLog = fmt.Sprintf("postgres=%t redis=%t", pool != nil, redisClient != nil)

	if cfg.Questions.SeedFile != "" {
		if err := seedQuestions(ctx, svc, cfg.Questions.SeedFile, log); err != nil {
			svc.Close()
			return nil, err
		}
	}
	return svc, nil
}

// seedQuestions imports a question file at startup without reporting progress.
func seedQuestions(ctx context.Context, svc *services, path string, log zerolog.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()
	qs, err := app.DecodeQuestions(f, path)
	if err != nil {
		return fmt.Errorf("decode seed file: %w", err)
	}
	report, err := app.NewImportService(svc.bank, nil, log, 0).Run(ctx, "", "seed", qs)
	if err != nil {
		return fmt.Errorf("seed questions: %w", err)
	}
	log.Info().Str("file", path).Int("imported", report.Imported).Int("skipped", report.Skipped).Msg("questions seeded")
	return nil
}

// invalidatingBank drops cached copies of questions as they are overwritten.
type invalidatingBank struct {
	app.QuestionBank
	invalidate func(ctx context.Context, ids ...string) error
}

func (b invalidatingBank) Save(ctx context.Context, questions []domain.Question) error {
	if err := b.QuestionBank.Save(ctx, questions); err != nil {
		return err
	}
	ids := make([]string, 0, len(questions))
	for _, q := range questions {
		ids = append(ids, q.ID)
	}
	return b.invalidate(ctx, ids...)
}
