package event

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/content-fanout/pkg/logger"
)

type ConsumerOptions struct {
	Stream string
	Group  string
	Name   string
	// Block XREADGROUP 阻塞时长；负数表示不阻塞
	Block time.Duration
	Count int64
	// MinIdle pending 超过该时长的消息会被本消费者认领并重投
	MinIdle time.Duration
}

// Consumer redis stream 消费组读取器：至少一次投递。
// 处理成功才 XACK；失败的消息留在 PEL，空闲超过 MinIdle 后被重新认领。
type Consumer struct {
	client   redis.UniversalClient
	registry *Registry
	opts     ConsumerOptions
	// claimFrom XAUTOCLAIM 的下一轮起点，扫完一圈后回到 0-0
	claimFrom string
}

func NewConsumer(client redis.UniversalClient, registry *Registry, opts ConsumerOptions) *Consumer {
	if opts.Count <= 0 {
		opts.Count = 64
	}
	if opts.Name == "" {
		opts.Name = "consumer-1"
	}
	return &Consumer{client: client, registry: registry, opts: opts, claimFrom: "0-0"}
}

// EnsureGroup 创建消费组（已存在时忽略）
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.opts.Stream, c.opts.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s: %w", c.opts.Group, err)
	}
	return nil
}

// Start 持续消费直到 ctx 结束；出错后退避重连
func (c *Consumer) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := c.EnsureGroup(ctx); err == nil {
			err = c.run(ctx)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Error("event consumer error, reconnecting", zap.Error(err))
		} else {
			logger.Error("event consumer setup failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
		}
	}
}

func (c *Consumer) run(ctx context.Context) error {
	for {
		if _, err := c.Poll(ctx); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// Poll 先认领空闲 pending 消息，再读取新消息；返回处理的消息数。
// Poll 不可并发调用。
func (c *Consumer) Poll(ctx context.Context) (int, error) {
	handled := 0

	if c.opts.MinIdle >= 0 {
		msgs, next, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   c.opts.Stream,
			Group:    c.opts.Group,
			Consumer: c.opts.Name,
			MinIdle:  c.opts.MinIdle,
			Start:    c.claimFrom,
			Count:    c.opts.Count,
		}).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return handled, fmt.Errorf("xautoclaim: %w", err)
		}
		if next == "" {
			next = "0-0"
		}
		c.claimFrom = next
		for _, m := range msgs {
			c.handle(ctx, m, true)
			handled++
		}
	}

	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.opts.Group,
		Consumer: c.opts.Name,
		Streams:  []string{c.opts.Stream, ">"},
		Count:    c.opts.Count,
		Block:    c.opts.Block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return handled, nil
	}
	if err != nil {
		return handled, fmt.Errorf("xreadgroup: %w", err)
	}
	for _, s := range streams {
		for _, m := range s.Messages {
			c.handle(ctx, m, false)
			handled++
		}
	}
	return handled, nil
}

func (c *Consumer) handle(ctx context.Context, m redis.XMessage, redelivered bool) {
	e, err := decodeMessage(m)
	if err == nil {
		err = c.registry.Dispatch(ctx, e)
	}

	fields := []zap.Field{
		zap.String("stream_id", m.ID),
		zap.String("event_id", e.ID),
		zap.String("type", string(e.Type)),
		zap.Bool("redelivered", redelivered),
	}
	switch {
	case err == nil:
	case errors.Is(err, ErrInvalidPayload):
		// 坏消息直接确认，避免无限重投
		logger.Error("drop invalid event", append(fields, zap.Error(err))...)
	default:
		logger.Warn("event handling failed, left pending for redelivery", append(fields, zap.Error(err))...)
		return
	}
	if ackErr := c.client.XAck(ctx, c.opts.Stream, c.opts.Group, m.ID).Err(); ackErr != nil {
		logger.Warn("xack failed", append(fields, zap.Error(ackErr))...)
	}
}

func decodeMessage(m redis.XMessage) (Envelope, error) {
	str := func(k string) string {
		v, _ := m.Values[k].(string)
		return v
	}
	e := Envelope{
		ID:       str("id"),
		Type:     Type(str("type")),
		Payload:  []byte(str("payload")),
		StreamID: m.ID,
	}
	if e.Type == "" {
		return e, fmt.Errorf("%w: message %s has no type", ErrInvalidPayload, m.ID)
	}
	if ts := str("occurred_at"); ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			e.OccurredAt = t
		}
	}
	return e, nil
}
