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

// StatsStore keeps each player's aggregates as JSONB and the questions they answered.
type StatsStore struct {
	pool *pgxpool.Pool
}

func NewStatsStore(pool *pgxpool.Pool) *StatsStore {
	return &StatsStore{pool: pool}
}

func (s *StatsStore) Stats(ctx context.Context, userID string) (domain.Stats, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM player_stats WHERE user_id = $1`, userID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Stats{UserID: userID}, nil
	}
	if err != nil {
		return domain.Stats{}, fmt.Errorf("load stats: %w", err)
	}
	return decodeStats(userID, raw)
}

// Update runs fn on the row locked FOR UPDATE, so concurrent finishes of the
// same player are applied one after the other.
func (s *StatsStore) Update(ctx context.Context, userID string, answered []string, fn func(domain.Stats) domain.Stats) (domain.Stats, error) {
	var result domain.Stats
	err := s.pool.BeginTxFunc(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO player_stats (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
			return err
		}
		var raw []byte
		if err := tx.QueryRow(ctx,
			`SELECT data FROM player_stats WHERE user_id = $1 FOR UPDATE`, userID).Scan(&raw); err != nil {
			return err
		}
		current, err := decodeStats(userID, raw)
		if err != nil {
			return err
		}
		result = fn(current)
		data, err := json.Marshal(result)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`UPDATE player_stats SET data = $2, updated_at = now() WHERE user_id = $1`, userID, string(data)); err != nil {
			return err
		}
		if len(answered) == 0 {
			return nil
		}
		ins := psql.Insert("answered_questions").Columns("user_id", "question_id")
		for _, id := range answered {
			ins = ins.Values(userID, id)
		}
		query, args, err := ins.Suffix("ON CONFLICT DO NOTHING").ToSql()
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, query, args...)
		return err
	})
	if err != nil {
		return domain.Stats{}, fmt.Errorf("update stats: %w", err)
	}
	return result, nil
}

func (s *StatsStore) AnsweredQuestionIDs(ctx context.Context, userID string) (map[string]struct{}, error) {
	rows, err := s.pool.Query(ctx, `SELECT question_id FROM answered_questions WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("load answered questions: %w", err)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

// Leaders orders inside Postgres so only the top rows leave the database.
func (s *StatsStore) Leaders(ctx context.Context, limit int) ([]domain.Stats, error) {
	query, args, err := leadersQuery(limit)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load leaders: %w", err)
	}
	defer rows.Close()

	var out []domain.Stats
	for rows.Next() {
		var userID string
		var raw []byte
		if err := rows.Scan(&userID, &raw); err != nil {
			return nil, err
		}
		st, err := decodeStats(userID, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func leadersQuery(limit int) (string, []interface{}, error) {
	q := psql.Select("user_id", "data").
		From("player_stats").
		Where(sq.Expr("COALESCE((data->>'totalGames')::int, 0) > 0")).
		OrderBy(
			"COALESCE((data->>'highestPrize')::bigint, 0) DESC",
			"COALESCE((data->>'timesReachedMillion')::int, 0) DESC",
			"COALESCE((data->>'gamesWon')::int, 0) DESC",
			"user_id",
		)
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	return q.ToSql()
}

func decodeStats(userID string, raw []byte) (domain.Stats, error) {
	var st domain.Stats
	if err := json.Unmarshal(raw, &st); err != nil {
		return domain.Stats{}, fmt.Errorf("decode stats: %w", err)
	}
	st.UserID = userID
	return st, nil
}
