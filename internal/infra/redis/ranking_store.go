package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"milhao-quiz-service/internal/domain"
)

// RankingStore keeps one entry per user and board in a sorted set, with the
// entry details in a companion hash:
//
//	ZADD ranking:{board}         {score} {userID}
//	HSET ranking:{board}:entries {userID} {json}
type RankingStore struct {
	client    *redis.Client
	retention time.Duration
}

// submitScript replaces the user's entry only when the new score is higher.
var submitScript = redis.NewScript(`
local current = redis.call('ZSCORE', KEYS[1], ARGV[1])
if current and tonumber(current) >= tonumber(ARGV[2]) then
  return 0
end
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[1])
redis.call('HSET', KEYS[2], ARGV[1], ARGV[3])
local ttl = tonumber(ARGV[4])
if ttl > 0 then
  redis.call('EXPIRE', KEYS[1], ttl)
  redis.call('EXPIRE', KEYS[2], ttl)
end
return 1
`)

// NewRankingStore keeps boards for retention after their last write.
func NewRankingStore(client *redis.Client, retention time.Duration) *RankingStore {
	return &RankingStore{client: client, retention: retention}
}

func (s *RankingStore) Submit(ctx context.Context, board string, entry domain.RankingEntry, score float64) (bool, error) {
	entry.Position = 0
	data, err := json.Marshal(entry)
	if err != nil {
		return false, fmt.Errorf("encode ranking entry: %w", err)
	}
	keys := []string{boardKey(board), entriesKey(board)}
	res, err := submitScript.Run(ctx, s.client, keys,
		entry.UserID,
		strconv.FormatFloat(score, 'f', -1, 64),
		data,
		int64(s.retention/time.Second),
	).Int()
	if err != nil {
		return false, fmt.Errorf("submit ranking %s: %w", board, err)
	}
	return res == 1, nil
}

func (s *RankingStore) Top(ctx context.Context, board string, limit int) ([]domain.RankingEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	users, err := s.client.ZRevRange(ctx, boardKey(board), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return []domain.RankingEntry{}, nil
	}
	values, err := s.client.HMGet(ctx, entriesKey(board), users...).Result()
	if err != nil {
		return nil, err
	}

	out := make([]domain.RankingEntry, 0, len(users))
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var e domain.RankingEntry
		if err := json.Unmarshal([]byte(str), &e); err != nil {
			return nil, fmt.Errorf("decode ranking entry %s: %w", users[i], err)
		}
		e.Position = len(out) + 1
		out = append(out, e)
	}
	return out, nil
}

func boardKey(board string) string {
	return "ranking:" + board
}

func entriesKey(board string) string {
	return "ranking:" + board + ":entries"
}
