package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"milhao-quiz-service/internal/domain"
)

// searchLimit bounds the candidates returned for one game; the service
// shuffles and trims them further.
const searchLimit = 500

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var questionColumns = []string{
	"id", "content", "options", "correct_option_id", "expert_comment", "filter_ids", "sub_filter_ids",
}

// QuestionBank stores the published questions.
type QuestionBank struct {
	pool *pgxpool.Pool
}

func NewQuestionBank(pool *pgxpool.Pool) *QuestionBank {
	return &QuestionBank{pool: pool}
}

// Search narrows the bank with array overlaps on the filter columns. The
// result is a random sample of at most searchLimit rows.
func (b *QuestionBank) Search(ctx context.Context, params domain.StartParams) ([]domain.Question, error) {
	query, args, err := searchQuery(params)
	if err != nil {
		return nil, err
	}
	rows, err := b.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search questions: %w", err)
	}
	defer rows.Close()

	var out []domain.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func searchQuery(params domain.StartParams) (string, []interface{}, error) {
	q := psql.Select(questionColumns...).From("questions")
	if len(params.FilterIDs) > 0 {
		q = q.Where("filter_ids && ?", params.FilterIDs)
	}
	years, others := domain.SplitSubFilters(params.SubFilterIDs)
	if len(others) > 0 {
		q = q.Where("sub_filter_ids && ?", others)
	}
	if len(years) > 0 {
		q = q.Where("sub_filter_ids && ?", years)
	}
	if len(params.InstitutionIDs) > 0 {
		patterns := make([]string, len(params.InstitutionIDs))
		for i, inst := range params.InstitutionIDs {
			patterns[i] = "%" + inst + "%"
		}
		q = q.Where("EXISTS (SELECT 1 FROM unnest(sub_filter_ids) AS sf WHERE sf LIKE ANY(?))", patterns)
	}
	return q.OrderBy("random()").Limit(searchLimit).ToSql()
}

// Save upserts questions in one statement.
func (b *QuestionBank) Save(ctx context.Context, questions []domain.Question) error {
	if len(questions) == 0 {
		return nil
	}
	ins := psql.Insert("questions").Columns(questionColumns...)
	for _, q := range questions {
		options, err := json.Marshal(q.Options)
		if err != nil {
			return fmt.Errorf("encode options of %s: %w", q.ID, err)
		}
		ins = ins.Values(q.ID, q.Content, string(options), q.CorrectOptionID, q.ExpertComment,
			nonNil(q.FilterIDs), nonNil(q.SubFilterIDs))
	}
	ins = ins.Suffix(`ON CONFLICT (id) DO UPDATE SET
		content = EXCLUDED.content,
		options = EXCLUDED.options,
		correct_option_id = EXCLUDED.correct_option_id,
		expert_comment = EXCLUDED.expert_comment,
		filter_ids = EXCLUDED.filter_ids,
		sub_filter_ids = EXCLUDED.sub_filter_ids,
		updated_at = now()`)

	query, args, err := ins.ToSql()
	if err != nil {
		return err
	}
	if _, err := b.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("save questions: %w", err)
	}
	return nil
}

// LoadQuestion implements the cache loaders' QuestionLoader.
func (b *QuestionBank) LoadQuestion(ctx context.Context, id string) (domain.Question, error) {
	query, args, err := psql.Select(questionColumns...).From("questions").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return domain.Question{}, err
	}
	q, err := scanQuestion(b.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	if err != nil {
		return domain.Question{}, fmt.Errorf("load question: %w", err)
	}
	return q, nil
}

func scanQuestion(row pgx.Row) (domain.Question, error) {
	var (
		q       domain.Question
		options []byte
	)
	if err := row.Scan(&q.ID, &q.Content, &options, &q.CorrectOptionID, &q.ExpertComment, &q.FilterIDs, &q.SubFilterIDs); err != nil {
		return domain.Question{}, err
	}
	if err := json.Unmarshal(options, &q.Options); err != nil {
		return domain.Question{}, fmt.Errorf("unmarshal options of %s: %w", q.ID, err)
	}
	return q, nil
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
