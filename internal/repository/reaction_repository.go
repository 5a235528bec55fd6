package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/d60-Lab/content-fanout/internal/model"
)

type ReactionRepository interface {
	Create(ctx context.Context, r *model.Reaction) error
	Delete(ctx context.Context, id string) error
	// CountByContent 按 reaction_name 聚合内容的有效反应数
	CountByContent(ctx context.Context, contentID string) (map[string]int64, error)
}

type reactionRepository struct {
	db *gorm.DB
}

func NewReactionRepository(db *gorm.DB) ReactionRepository { return &reactionRepository{db: db} }

func (r *reactionRepository) Create(ctx context.Context, reaction *model.Reaction) error {
	return r.db.WithContext(ctx).Create(reaction).Error
}

func (r *reactionRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Reaction{}).Error
}

func (r *reactionRepository) CountByContent(ctx context.Context, contentID string) (map[string]int64, error) {
	type row struct {
		ReactionName string
		Total        int64
	}
	var rows []row
	err := r.db.WithContext(ctx).
		Model(&model.Reaction{}).
		Select("reaction_name, COUNT(*) AS total").
		Where("target_type = ? AND target_id = ?", model.ReactionTargetContent, contentID).
		Group("reaction_name").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, it := range rows {
		counts[it.ReactionName] = it.Total
	}
	return counts, nil
}
