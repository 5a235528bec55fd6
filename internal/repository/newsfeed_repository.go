package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/content-fanout/internal/model"
)

type NewsfeedRepository interface {
	// Attach 幂等写入 (user, content)，重复写入被忽略
	Attach(ctx context.Context, userID string, ref model.ContentRef) error
	AttachContents(ctx context.Context, userID string, refs []model.ContentRef) error
	Detach(ctx context.Context, userID, contentID string) error
	DetachContents(ctx context.Context, userID string, contentIDs []string) error
	MarkSeen(ctx context.Context, userID, contentID string) error
	ListByUser(ctx context.Context, userID string, offset, limit int) ([]*model.NewsfeedEntry, error)
}

type newsfeedRepository struct {
	db        *gorm.DB
	batchSize int
}

func NewNewsfeedRepository(db *gorm.DB) NewsfeedRepository {
	return &newsfeedRepository{db: db, batchSize: 500}
}

func (r *newsfeedRepository) Attach(ctx context.Context, userID string, ref model.ContentRef) error {
	return r.AttachContents(ctx, userID, []model.ContentRef{ref})
}

func (r *newsfeedRepository) AttachContents(ctx context.Context, userID string, refs []model.ContentRef) error {
	if len(refs) == 0 {
		return nil
	}
	now := time.Now()
	records := make([]model.NewsfeedEntry, 0, len(refs))
	for _, ref := range refs {
		records = append(records, model.NewsfeedEntry{
			ID:          uuid.New().String(),
			UserID:      userID,
			ContentID:   ref.ID,
			ContentType: string(ref.Type),
			PublishedAt: ref.PublishedAt,
			CreatedAt:   now,
		})
	}
	// upsert ignore duplicates
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(&records, r.batchSize).Error
}

func (r *newsfeedRepository) Detach(ctx context.Context, userID, contentID string) error {
	return r.db.WithContext(ctx).
		Where("user_id = ? AND content_id = ?", userID, contentID).
		Delete(&model.NewsfeedEntry{}).Error
}

func (r *newsfeedRepository) DetachContents(ctx context.Context, userID string, contentIDs []string) error {
	if len(contentIDs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Where("user_id = ? AND content_id IN ?", userID, contentIDs).
		Delete(&model.NewsfeedEntry{}).Error
}

func (r *newsfeedRepository) MarkSeen(ctx context.Context, userID, contentID string) error {
	return r.db.WithContext(ctx).
		Model(&model.NewsfeedEntry{}).
		Where("user_id = ? AND content_id = ? AND is_seen = ?", userID, contentID, false).
		Update("is_seen", true).Error
}

func (r *newsfeedRepository) ListByUser(ctx context.Context, userID string, offset, limit int) ([]*model.NewsfeedEntry, error) {
	var res []*model.NewsfeedEntry
	// TODO: ranking
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("published_at DESC, content_id DESC").
		Offset(offset).Limit(limit).
		Find(&res).Error
	return res, err
}
