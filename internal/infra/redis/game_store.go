package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"milhao-quiz-service/internal/domain"
)

// GameStore keeps games as JSON so any instance can serve the next request.
//
//	SET  game:{id}            {json}  EX ttl (historyTTL once finished)
//	ZADD games:finished:{uid} {completedAt unix} {id}
type GameStore struct {
	client     *redis.Client
	ttl        time.Duration
	historyTTL time.Duration
}

func NewGameStore(client *redis.Client, ttl, historyTTL time.Duration) *GameStore {
	if historyTTL < ttl {
		historyTTL = ttl
	}
	return &GameStore{client: client, ttl: ttl, historyTTL: historyTTL}
}

func (s *GameStore) Save(ctx context.Context, g domain.Game) error {
	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("encode game: %w", err)
	}
	if !g.Status.Terminal() || g.CompletedAt == nil {
		return s.client.Set(ctx, gameKey(g.ID), data, s.ttl).Err()
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, gameKey(g.ID), data, s.historyTTL)
	pipe.ZAdd(ctx, finishedKey(g.UserID), redis.Z{Score: float64(g.CompletedAt.Unix()), Member: g.ID})
	if s.historyTTL > 0 {
		pipe.Expire(ctx, finishedKey(g.UserID), s.historyTTL)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *GameStore) Get(ctx context.Context, id string) (domain.Game, error) {
	data, err := s.client.Get(ctx, gameKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Game{}, domain.ErrGameNotFound
	}
	if err != nil {
		return domain.Game{}, err
	}
	var g domain.Game
	if err := json.Unmarshal(data, &g); err != nil {
		return domain.Game{}, fmt.Errorf("decode game %s: %w", id, err)
	}
	return g, nil
}

// ListFinished returns the most recent finished games. Games whose key already
// expired are skipped.
func (s *GameStore) ListFinished(ctx context.Context, userID string, limit int) ([]domain.Game, error) {
	if limit <= 0 {
		limit = 10
	}
	ids, err := s.client.ZRevRange(ctx, finishedKey(userID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = gameKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	out := make([]domain.Game, 0, len(values))
	var stale []interface{}
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var g domain.Game
		if err := json.Unmarshal([]byte(str), &g); err != nil {
			return nil, fmt.Errorf("decode game %s: %w", ids[i], err)
		}
		out = append(out, g)
	}
	if len(stale) > 0 {
		_ = s.client.ZRem(ctx, finishedKey(userID), stale...).Err()
	}
	return out, nil
}

func gameKey(id string) string {
	return "game:" + id
}

func finishedKey(userID string) string {
	return "games:finished:" + userID
}
