package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/d60-Lab/content-fanout/internal/event"
	"github.com/d60-Lab/content-fanout/internal/model"
	"github.com/d60-Lab/content-fanout/internal/repository"
	"github.com/d60-Lab/content-fanout/pkg/clock"
	"github.com/d60-Lab/content-fanout/pkg/errs"
)

// 发布被拒绝时的业务码
const (
	CodeContentNotFound      = "content.not_found"
	CodeContentInvalidStatus = "content.invalid_status"
	CodeContentOwnerMismatch = "content.owner_mismatch"
	CodeContentNoActiveGroup = "content.no_active_group"
)

// ContentPublisher 内容发布状态迁移
type ContentPublisher interface {
	Publish(ctx context.Context, contentID, ownerID string) error
}

// TxPublisher 在一个事务内更新内容状态并写 outbox
type TxPublisher struct {
	db       *gorm.DB
	contents repository.ContentRepository
	clock    clock.Clock
}

func NewTxPublisher(db *gorm.DB, clk clock.Clock) *TxPublisher {
	return &TxPublisher{db: db, contents: repository.NewContentRepository(db), clock: clk}
}

func (p *TxPublisher) Publish(ctx context.Context, contentID, ownerID string) error {
	c, err := p.contents.FindContentByIDInActiveGroup(ctx, contentID)
	if err != nil {
		return errs.Wrap(err, "load content")
	}
	if c == nil {
		exists, err := p.contents.FindByID(ctx, contentID)
		if err != nil {
			return errs.Wrap(err, "load content")
		}
		if exists == nil {
			return errs.Codedf(CodeContentNotFound, "content %s not found", contentID)
		}
		return errs.Codedf(CodeContentNoActiveGroup, "content %s has no active group", contentID)
	}
	if c.CreatedBy != ownerID {
		return errs.Codedf(CodeContentOwnerMismatch, "content %s is not owned by %s", contentID, ownerID)
	}
	if c.Status != model.ContentStatusWaitingSchedule {
		return errs.Codedf(CodeContentInvalidStatus, "content %s is %s", contentID, c.Status)
	}

	payload, err := json.Marshal(event.ContentLifecycle{ContentID: c.ID, GroupIDs: c.GroupIDs})
	if err != nil {
		return err
	}
	now := p.clock.Now()
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Content{}).
			Where("id = ? AND status = ?", c.ID, model.ContentStatusWaitingSchedule).
			Updates(map[string]any{
				"status":       model.ContentStatusPublished,
				"published_at": now,
				"error_log":    nil,
			})
		if res.Error != nil {
			return res.Error
		}
		// 并发发布时只有一方成功
		if res.RowsAffected == 0 {
			return errs.Codedf(CodeContentInvalidStatus, "content %s is no longer waiting for schedule", c.ID)
		}
		out := &model.OutboxEvent{
			ID:        uuid.New().String(),
			EventType: string(event.ContentPublished),
			Payload:   string(payload),
			Status:    model.OutboxPending,
			CreatedAt: now,
		}
		if err := tx.Create(out).Error; err != nil {
			return fmt.Errorf("write outbox: %w", err)
		}
		return nil
	})
}
