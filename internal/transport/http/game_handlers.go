package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"milhao-quiz-service/internal/app"
	"milhao-quiz-service/internal/domain"
)

const maxImportBytes = 10 << 20

// AnswerRequest is the body of POST /api/games/{id}/answer.
type AnswerRequest struct {
	OptionID    string `json:"optionId"`
	TimeSeconds int    `json:"timeSeconds"`
}

// ImportAccepted is returned once an import job is queued.
type ImportAccepted struct {
	JobID string `json:"jobId"`
	Count int    `json:"count"`
}

func (s *Server) handleStartGame(w http.ResponseWriter, r *http.Request) {
	var params domain.StartParams
	if err := decodeBody(r, &params); err != nil {
		writeError(w, s.log, err)
		return
	}
	g, err := s.games.Start(r.Context(), userFromContext(r.Context()), params)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

func (s *Server) handleGetGame(w http.ResponseWriter, r *http.Request) {
	g, err := s.games.Game(r.Context(), userFromContext(r.Context()), chi.URLParam(r, "id"))
	respond(w, s, http.StatusOK, g, err)
}

func (s *Server) handleCurrentQuestion(w http.ResponseWriter, r *http.Request) {
	view, err := s.games.CurrentQuestion(r.Context(), userFromContext(r.Context()), chi.URLParam(r, "id"))
	respond(w, s, http.StatusOK, view, err)
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req AnswerRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	res, err := s.games.Answer(r.Context(), userFromContext(r.Context()), chi.URLParam(r, "id"), req.OptionID, req.TimeSeconds)
	respond(w, s, http.StatusOK, res, err)
}

func (s *Server) handleHint(w http.ResponseWriter, r *http.Request) {
	res, err := s.games.UseHint(r.Context(), userFromContext(r.Context()), chi.URLParam(r, "id"))
	respond(w, s, http.StatusOK, res, err)
}

func (s *Server) handleCrowd(w http.ResponseWriter, r *http.Request) {
	res, err := s.games.UseCrowd(r.Context(), userFromContext(r.Context()), chi.URLParam(r, "id"))
	respond(w, s, http.StatusOK, res, err)
}

func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request) {
	res, err := s.games.UseSkip(r.Context(), userFromContext(r.Context()), chi.URLParam(r, "id"))
	respond(w, s, http.StatusOK, res, err)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	res, err := s.games.Stop(r.Context(), userFromContext(r.Context()), chi.URLParam(r, "id"))
	respond(w, s, http.StatusOK, res, err)
}

func (s *Server) handleSuddenDeath(w http.ResponseWriter, r *http.Request) {
	g, err := s.games.EnterSuddenDeath(r.Context(), userFromContext(r.Context()), chi.URLParam(r, "id"))
	respond(w, s, http.StatusOK, g, err)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.games.Stats(r.Context(), userFromContext(r.Context()))
	respond(w, s, http.StatusOK, st, err)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	h, err := s.games.History(r.Context(), userFromContext(r.Context()), limit)
	respond(w, s, http.StatusOK, h, err)
}

func (s *Server) handleDailyRanking(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	rows, err := s.games.DailyRanking(r.Context(), limit)
	respond(w, s, http.StatusOK, rows, err)
}

func (s *Server) handleSuddenDeathRanking(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	rows, err := s.games.SuddenDeathRanking(r.Context(), limit)
	respond(w, s, http.StatusOK, rows, err)
}

func (s *Server) handleMillionairesRanking(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	rows, err := s.games.MillionairesRanking(r.Context(), r.URL.Query().Get("month"), limit)
	respond(w, s, http.StatusOK, rows, err)
}

func (s *Server) handleAllTimeRanking(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	rows, err := s.games.AllTimeRanking(r.Context(), limit)
	respond(w, s, http.StatusOK, rows, err)
}

// handleImport accepts a JSON or YAML question bank and imports it in the
// background; progress arrives on the caller's progress channel.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	name := "upload.json"
	if ct, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err == nil && strings.Contains(ct, "yaml") {
		name = "upload.yaml"
	}
	questions, err := app.DecodeQuestions(http.MaxBytesReader(w, r.Body, maxImportBytes), name)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	if len(questions) == 0 {
		writeError(w, s.log, fmt.Errorf("%w: no questions in upload", domain.ErrInvalidParams))
		return
	}
	jobID := s.imports.Submit(r.Context(), userFromContext(r.Context()), questions)
	writeJSON(w, http.StatusAccepted, ImportAccepted{JobID: jobID, Count: len(questions)})
}

func respond(w http.ResponseWriter, s *Server, status int, v interface{}, err error) {
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, status, v)
}

// decodeBody reads an optional JSON body into v.
func decodeBody(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", domain.ErrInvalidParams, err)
	}
	return nil
}

func limitParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: limit must be a positive number", domain.ErrInvalidParams)
	}
	return n, nil
}
