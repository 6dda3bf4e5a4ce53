package integration

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"milhao-quiz-service/internal/app"
	"milhao-quiz-service/internal/domain"
	pgstore "milhao-quiz-service/internal/infra/postgres"
	"milhao-quiz-service/internal/infra/postgres/migrations"
	infraredis "milhao-quiz-service/internal/infra/redis"
	"milhao-quiz-service/internal/progress"
)

func TestGameEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	migrateSchema(t, ctx, pgURL)

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	bank := pgstore.NewQuestionBank(pool)
	if err := bank.Save(ctx, sampleQuestions(12)); err != nil {
		t.Fatalf("seed questions: %v", err)
	}
	if err := bank.Save(ctx, []domain.Question{otherSpecialty("x1")}); err != nil {
		t.Fatalf("seed other specialty: %v", err)
	}

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	service := app.NewGameService(
		infraredis.NewGameStore(redisClient, 5*time.Minute, time.Hour),
		bank,
		infraredis.NewQuestionRepository(redisClient, bank, 5*time.Minute),
		pgstore.NewStatsStore(pool),
		infraredis.NewRankingStore(redisClient, time.Hour),
		zerolog.Nop(),
	)

	params := domain.StartParams{
		FilterIDs:      []string{"clinica"},
		SubFilterIDs:   []string{"Ano da Prova_2024"},
		InstitutionIDs: []string{"Universidade_SP"},
	}
	g, err := service.Start(ctx, "u1", params)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(g.QuestionIDs) != 12 {
		t.Fatalf("expected the 12 matching questions, got %d", len(g.QuestionIDs))
	}
	for _, id := range g.QuestionIDs {
		if id == "x1" {
			t.Fatalf("question from another specialty selected")
		}
	}

	view, err := service.CurrentQuestion(ctx, "u1", g.ID)
	if err != nil {
		t.Fatalf("current question: %v", err)
	}
	if view.Institution != "USP" || view.Year != "2024" {
		t.Fatalf("unexpected question context %q %q", view.Institution, view.Year)
	}

	for i := 0; i < 6; i++ {
		res, err := service.Answer(ctx, "u1", g.ID, "b", 3)
		if err != nil {
			t.Fatalf("answer %d: %v", i, err)
		}
		if !res.Correct {
			t.Fatalf("answer %d graded wrong", i)
		}
	}
	res, err := service.Answer(ctx, "u1", g.ID, "a", 3)
	if err != nil {
		t.Fatalf("wrong answer: %v", err)
	}
	if !res.GameOver || res.Status != domain.StatusLost || res.NewPrize != 5000 {
		t.Fatalf("expected loss paying the 5000 checkpoint, got %+v", res)
	}

	stats, err := service.Stats(ctx, "u1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.GamesLost != 1 || stats.HighestPrize != 10000 || stats.TotalPrizeAccumulated != 5000 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	board, err := service.DailyRanking(ctx, 10)
	if err != nil {
		t.Fatalf("daily ranking: %v", err)
	}
	if len(board) != 1 || board[0].UserID != "u1" || board[0].GameID != g.ID {
		t.Fatalf("unexpected ranking %+v", board)
	}

	history, err := service.History(ctx, "u1", 5)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].GameID != g.ID {
		t.Fatalf("unexpected history %+v", history)
	}

	// Seven answered questions leave five unanswered, exactly the minimum.
	again, err := service.Start(ctx, "u1", domain.StartParams{FilterIDs: []string{"clinica"}, Unanswered: domain.UnansweredGame})
	if err != nil {
		t.Fatalf("start unanswered: %v", err)
	}
	if len(again.QuestionIDs) != 5 {
		t.Fatalf("expected 5 unanswered questions, got %d", len(again.QuestionIDs))
	}
	if _, err := service.Answer(ctx, "u1", again.ID, "a", 1); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if _, err := service.Start(ctx, "u1", domain.StartParams{FilterIDs: []string{"clinica"}, Unanswered: domain.UnansweredGame}); err == nil {
		t.Fatalf("expected not enough unanswered questions")
	}
}

func TestProgressRelayThroughRedis(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	requireDocker(t)

	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()
	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	hub := progress.NewHub()
	bus := infraredis.NewProgressBus(redisClient, hub, zerolog.Nop())
	go func() { _ = bus.Run(ctx) }()

	events, unsubscribe := hub.Subscribe("u1")
	defer unsubscribe()

	deadline := time.After(10 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case ev := <-events:
			if ev.JobID != "job-1" || ev.Kind != domain.ProgressComplete {
				t.Fatalf("unexpected event %+v", ev)
			}
			return
		case <-tick.C:
			// the subscription may not be ready yet; keep publishing until one arrives
			_ = bus.Publish(ctx, "u1", domain.ProgressEvent{JobID: "job-1", Kind: domain.ProgressComplete, Percent: 100})
		case <-deadline:
			t.Fatalf("no progress event relayed")
		}
	}
}

func migrateSchema(t *testing.T, ctx context.Context, dsn string) {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, migrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

func sampleQuestions(n int) []domain.Question {
	qs := make([]domain.Question, 0, n)
	for i := 1; i <= n; i++ {
		qs = append(qs, domain.Question{
			ID:      fmt.Sprintf("q%02d", i),
			Content: fmt.Sprintf("Clinical case %d?", i),
			Options: []domain.Option{
				{ID: "a", Text: "first"},
				{ID: "b", Text: "second"},
				{ID: "c", Text: "third"},
				{ID: "d", Text: "fourth"},
			},
			CorrectOptionID: "b",
			ExpertComment:   "second is right",
			FilterIDs:       []string{"clinica"},
			SubFilterIDs:    []string{"Universidade_SP_USP", "Ano da Prova_2024"},
		})
	}
	return qs
}

func otherSpecialty(id string) domain.Question {
	q := sampleQuestions(1)[0]
	q.ID = id
	q.FilterIDs = []string{"cirurgia"}
	return q
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(context.Background())
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(context.Background())
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(opts), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
