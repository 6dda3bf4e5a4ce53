package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"milhao-quiz-service/internal/domain"
)

const defaultImportBatch = 50

// ProgressPublisher delivers job progress to a user's progress channel.
type ProgressPublisher interface {
	Publish(ctx context.Context, userID string, ev domain.ProgressEvent) error
}

// ImportReport summarizes one import job.
type ImportReport struct {
	JobID    string   `json:"jobId"`
	Total    int      `json:"total"`
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Problems []string `json:"problems,omitempty"`
}

// ImportService loads questions into the bank in batches and reports progress.
type ImportService struct {
	bank      QuestionBank
	progress  ProgressPublisher
	validate  *validator.Validate
	log       zerolog.Logger
	batchSize int
	now       func() time.Time
	newID     func() string
}

func NewImportService(bank QuestionBank, progress ProgressPublisher, log zerolog.Logger, batchSize int) *ImportService {
	if batchSize <= 0 {
		batchSize = defaultImportBatch
	}
	return &ImportService{
		bank:      bank,
		progress:  progress,
		validate:  validator.New(),
		log:       log,
		batchSize: batchSize,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Submit runs the import in the background and returns the job id at once.
// The job outlives ctx's cancellation.
func (s *ImportService) Submit(ctx context.Context, userID string, questions []domain.Question) string {
	jobID := s.newID()
	go func() {
		_, _ = s.Run(context.WithoutCancel(ctx), userID, jobID, questions)
	}()
	return jobID
}

// Run validates and saves questions, publishing progress after every batch.
// Invalid questions are skipped and listed in the report.
func (s *ImportService) Run(ctx context.Context, userID, jobID string, questions []domain.Question) (ImportReport, error) {
	log := s.log.With().Str("jobId", jobID).Str("userId", userID).Logger()
	report := ImportReport{JobID: jobID, Total: len(questions)}
	s.emit(ctx, userID, jobID, domain.ProgressUpdate, 0, fmt.Sprintf("validating %d questions", len(questions)))

	valid := make([]domain.Question, 0, len(questions))
	for i, q := range questions {
		if err := s.check(q); err != nil {
			report.Skipped++
			report.Problems = append(report.Problems, fmt.Sprintf("question %d (%s): %v", i+1, q.ID, err))
			continue
		}
		valid = append(valid, q)
	}
	if len(valid) == 0 {
		err := fmt.Errorf("%w: no valid questions", domain.ErrInvalidParams)
		s.emit(ctx, userID, jobID, domain.ProgressError, 0, err.Error())
		return report, err
	}

	for start := 0; start < len(valid); start += s.batchSize {
		if err := ctx.Err(); err != nil {
			s.emit(ctx, userID, jobID, domain.ProgressError, percent(report.Imported, len(valid)), "import canceled")
			return report, err
		}
		end := min(start+s.batchSize, len(valid))
		if err := s.bank.Save(ctx, valid[start:end]); err != nil {
			log.Error().Err(err).Int("imported", report.Imported).Msg("import batch failed")
			s.emit(ctx, userID, jobID, domain.ProgressError, percent(report.Imported, len(valid)), "saving questions failed")
			return report, fmt.Errorf("save batch: %w", err)
		}
		report.Imported = end
		if end < len(valid) {
			s.emit(ctx, userID, jobID, domain.ProgressUpdate, percent(end, len(valid)),
				fmt.Sprintf("imported %d of %d", end, len(valid)))
		}
	}

	s.emit(ctx, userID, jobID, domain.ProgressComplete, 100,
		fmt.Sprintf("imported %d questions, skipped %d", report.Imported, report.Skipped))
	log.Info().Int("imported", report.Imported).Int("skipped", report.Skipped).Msg("import finished")
	return report, nil
}

func (s *ImportService) check(q domain.Question) error {
	if err := s.validate.Struct(q); err != nil {
		return err
	}
	if _, ok := q.CorrectOption(); !ok {
		return fmt.Errorf("correct option %q is not one of the options", q.CorrectOptionID)
	}
	return nil
}

func (s *ImportService) emit(ctx context.Context, userID, jobID string, kind domain.ProgressKind, pct int, msg string) {
	if s.progress == nil {
		return
	}
	ev := domain.ProgressEvent{JobID: jobID, Kind: kind, Percent: pct, Message: msg, At: s.now()}
	if err := s.progress.Publish(ctx, userID, ev); err != nil {
		s.log.Warn().Err(err).Str("jobId", jobID).Msg("publish progress")
	}
}

func percent(done, total int) int {
	if total == 0 {
		return 0
	}
	return done * 100 / total
}

// DecodeQuestions reads a question bank export. name selects the format by
// extension: .yaml/.yml for YAML, anything else is JSON. Both a bare list and
// an object with a "questions" list are accepted.
func DecodeQuestions(r io.Reader, name string) ([]domain.Question, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var wrapped struct {
		Questions []domain.Question `json:"questions" yaml:"questions"`
	}
	var list []domain.Question

	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &list); err == nil {
			return list, nil
		}
		if err := yaml.Unmarshal(data, &wrapped); err != nil {
			return nil, fmt.Errorf("%w: decode yaml: %v", domain.ErrInvalidParams, err)
		}
		return wrapped.Questions, nil
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("%w: decode json: %v", domain.ErrInvalidParams, err)
		}
		return list, nil
	}
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, fmt.Errorf("%w: decode json: %v", domain.ErrInvalidParams, err)
	}
	return wrapped.Questions, nil
}
