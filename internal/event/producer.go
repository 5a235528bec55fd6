package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Producer 把领域事件追加到 redis stream
type Producer struct {
	client redis.UniversalClient
	stream string
	maxLen int64
}

func NewProducer(client redis.UniversalClient, stream string) *Producer {
	return &Producer{client: client, stream: stream, maxLen: 1_000_000}
}

func (p *Producer) Publish(ctx context.Context, t Type, payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return p.PublishEnvelope(ctx, Envelope{
		ID:         uuid.New().String(),
		Type:       t,
		OccurredAt: time.Now().UTC(),
		Payload:    raw,
	})
}

// PublishEnvelope 写入已编码的事件（outbox 转发时沿用原事件 id）
func (p *Producer) PublishEnvelope(ctx context.Context, e Envelope) (string, error) {
	streamID, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{
			"id":          e.ID,
			"type":        string(e.Type),
			"occurred_at": e.OccurredAt.UTC().Format(time.RFC3339Nano),
			"payload":     string(e.Payload),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("publish %s: %w", e.Type, err)
	}
	return streamID, nil
}
