package service

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/content-fanout/internal/event"
	"github.com/d60-Lab/content-fanout/internal/model"
	"github.com/d60-Lab/content-fanout/pkg/logger"
)

// EnvelopePublisher outbox 转发目标
type EnvelopePublisher interface {
	PublishEnvelope(ctx context.Context, e event.Envelope) (string, error)
}

// OutboxRelay 轮询 outbox，把待投递事件写入事件流
type OutboxRelay struct {
	db           *gorm.DB
	producer     EnvelopePublisher
	claimLimit   int
	pollInterval time.Duration
}

func NewOutboxRelay(db *gorm.DB, producer EnvelopePublisher, claimLimit int, pollInterval time.Duration) *OutboxRelay {
	if claimLimit <= 0 {
		claimLimit = 128
	}
	if pollInterval <= 0 {
		pollInterval = 200 * time.Millisecond
	}
	return &OutboxRelay{db: db, producer: producer, claimLimit: claimLimit, pollInterval: pollInterval}
}

// Start 启动转发协程；返回停止函数。
func (r *OutboxRelay) Start() func(context.Context) error {
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(r.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if _, err := r.ProcessOnce(context.Background()); err != nil {
					logger.Warn("outbox relay failed", zap.Error(err))
				}
			}
		}
	}()
	return func(ctx context.Context) error {
		close(stop)
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ProcessOnce claim 一批 pending 事件并投递；返回成功投递的条数
func (r *OutboxRelay) ProcessOnce(ctx context.Context) (int, error) {
	sent := 0
	var publishErr error
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("status = ?", model.OutboxPending).Order("created_at").Limit(r.claimLimit)
		if tx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		var batch []model.OutboxEvent
		if err := q.Find(&batch).Error; err != nil {
			return err
		}
		for _, ob := range batch {
			e := event.Envelope{
				ID:         ob.ID,
				Type:       event.Type(ob.EventType),
				OccurredAt: ob.CreatedAt,
				Payload:    json.RawMessage(ob.Payload),
			}
			// 投递失败则保留本条及之后的事件，下一轮重试
			if _, err := r.producer.PublishEnvelope(ctx, e); err != nil {
				publishErr = err
				return nil
			}
			now := time.Now()
			if err := tx.Model(&model.OutboxEvent{}).
				Where("id = ?", ob.ID).
				Updates(map[string]any{"status": model.OutboxDone, "processed_at": now}).Error; err != nil {
				return err
			}
			sent++
		}
		return nil
	})
	if err != nil {
		// 事务回滚后本批已投递的事件会再次投递，下游按幂等处理
		return 0, err
	}
	return sent, publishErr
}
