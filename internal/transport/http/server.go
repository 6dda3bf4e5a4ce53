package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"milhao-quiz-service/internal/app"
	"milhao-quiz-service/internal/domain"
)

// ProgressSource hands out per-user progress subscriptions.
type ProgressSource interface {
	Subscribe(userID string) (<-chan domain.ProgressEvent, func())
}

// Server exposes the game lifecycle API and the progress channel.
type Server struct {
	games    *app.GameService
	imports  *app.ImportService
	progress ProgressSource
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

func NewServer(games *app.GameService, imports *app.ImportService, progress ProgressSource, log zerolog.Logger) *Server {
	return &Server{
		games:    games,
		imports:  imports,
		progress: progress,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(s.recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/ws/progress", s.ServeProgress)

	r.Route("/api", func(r chi.Router) {
		r.Use(requireUser)

		r.Post("/games", s.handleStartGame)
		r.Route("/games/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetGame)
			r.Get("/question", s.handleCurrentQuestion)
			r.Post("/answer", s.handleAnswer)
			r.Post("/hint", s.handleHint)
			r.Post("/crowd", s.handleCrowd)
			r.Post("/skip", s.handleSkip)
			r.Post("/stop", s.handleStop)
			r.Post("/sudden-death", s.handleSuddenDeath)
		})

		r.Get("/stats", s.handleStats)
		r.Get("/history", s.handleHistory)
		r.Get("/ranking/daily", s.handleDailyRanking)
		r.Get("/ranking/sudden-death", s.handleSuddenDeathRanking)
		r.Get("/ranking/millionaires", s.handleMillionairesRanking)
		r.Get("/ranking/all-time", s.handleAllTimeRanking)

		r.Post("/imports", s.handleImport)
	})
	return r
}
