package event

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Ledger 记录 (事件, 处理器) 是否已成功执行；重投时跳过已成功的处理器
type Ledger interface {
	Done(ctx context.Context, eventID, handler string) (bool, error)
	Mark(ctx context.Context, eventID, handler string) error
}

type redisLedger struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisLedger ttl 应覆盖消息在 PEL 中可能停留的最长时间
func NewRedisLedger(client redis.UniversalClient, prefix string, ttl time.Duration) Ledger {
	if prefix == "" {
		prefix = "handled"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &redisLedger{client: client, prefix: prefix, ttl: ttl}
}

func (l *redisLedger) key(eventID, handler string) string {
	return l.prefix + ":" + eventID + ":" + handler
}

func (l *redisLedger) Done(ctx context.Context, eventID, handler string) (bool, error) {
	n, err := l.client.Exists(ctx, l.key(eventID, handler)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (l *redisLedger) Mark(ctx context.Context, eventID, handler string) error {
	return l.client.SetNX(ctx, l.key(eventID, handler), 1, l.ttl).Err()
}
