package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/content-fanout/internal/model"
)

// GroupMemberRepository 分组成员适配器
type GroupMemberRepository interface {
	Join(ctx context.Context, groupID, userID string) error
	Leave(ctx context.Context, groupID, userID string) error
	// GetGroupMembers 分页返回 GroupIDs 中的活跃成员，排除同时属于 NotInGroupIDs 的用户
	GetGroupMembers(ctx context.Context, q model.GroupFanoutQuery) ([]string, error)
	ListActiveGroupIDs(ctx context.Context, userID string) ([]string, error)
}

type groupMemberRepository struct {
	db *gorm.DB
}

func NewGroupMemberRepository(db *gorm.DB) GroupMemberRepository {
	return &groupMemberRepository{db: db}
}

func (r *groupMemberRepository) Join(ctx context.Context, groupID, userID string) error {
	m := &model.GroupMember{GroupID: groupID, UserID: userID}
	// 重新加入时把归档标记清掉
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "group_id"}, {Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]any{"is_archived": false}),
	}).Create(m).Error
}

func (r *groupMemberRepository) Leave(ctx context.Context, groupID, userID string) error {
	return r.db.WithContext(ctx).
		Model(&model.GroupMember{}).
		Where("group_id = ? AND user_id = ?", groupID, userID).
		Update("is_archived", true).Error
}

func (r *groupMemberRepository) GetGroupMembers(ctx context.Context, q model.GroupFanoutQuery) ([]string, error) {
	if len(q.GroupIDs) == 0 || q.Limit <= 0 {
		return nil, nil
	}
	tx := r.db.WithContext(ctx).
		Model(&model.GroupMember{}).
		Distinct("user_id").
		Where("group_id IN ? AND is_archived = ?", q.GroupIDs, false)
	if len(q.NotInGroupIDs) > 0 {
		already := r.db.Model(&model.GroupMember{}).
			Select("user_id").
			Where("group_id IN ? AND is_archived = ?", q.NotInGroupIDs, false)
		tx = tx.Where("user_id NOT IN (?)", already)
	}

	var ids []string
	err := tx.Order("user_id").Offset(q.Offset).Limit(q.Limit).Pluck("user_id", &ids).Error
	return ids, err
}

func (r *groupMemberRepository) ListActiveGroupIDs(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Table("group_members gm").
		Joins(`JOIN "groups" g ON g.id = gm.group_id`).
		Where("gm.user_id = ? AND gm.is_archived = ? AND g.state = ?", userID, false, model.GroupStateActive).
		Pluck("gm.group_id", &ids).Error
	return ids, err
}
