package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"milhao-quiz-service/internal/domain"
)

const progressPrefix = "progress:"

// LocalPublisher delivers events to subscribers connected to this instance.
type LocalPublisher interface {
	Publish(ctx context.Context, userID string, ev domain.ProgressEvent) error
}

// ProgressBus relays progress events through Redis pub/sub so a user's
// websocket may be connected to a different instance than the one running the job.
type ProgressBus struct {
	client *redis.Client
	local  LocalPublisher
	log    zerolog.Logger
}

func NewProgressBus(client *redis.Client, local LocalPublisher, log zerolog.Logger) *ProgressBus {
	return &ProgressBus{client: client, local: local, log: log}
}

// Publish implements app.ProgressPublisher.
func (b *ProgressBus) Publish(ctx context.Context, userID string, ev domain.ProgressEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}
	return b.client.Publish(ctx, progressPrefix+userID, data).Err()
}

// Run forwards relayed events to the local publisher until ctx is done.
func (b *ProgressBus) Run(ctx context.Context) error {
	sub := b.client.PSubscribe(ctx, progressPrefix+"*")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe progress: %w", err)
	}

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			var ev domain.ProgressEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.log.Warn().Err(err).Str("channel", msg.Channel).Msg("drop malformed progress event")
				continue
			}
			userID := strings.TrimPrefix(msg.Channel, progressPrefix)
			if err := b.local.Publish(ctx, userID, ev); err != nil {
				b.log.Warn().Err(err).Str("userId", userID).Msg("deliver progress event")
			}
		}
	}
}
