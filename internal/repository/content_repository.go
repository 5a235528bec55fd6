package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/d60-Lab/content-fanout/internal/model"
)

type SortOrder string

const (
	SortAsc  SortOrder = "ASC"
	SortDesc SortOrder = "DESC"
)

// ScheduledContentQuery 待定时发布内容的游标分页参数
type ScheduledContentQuery struct {
	Limit  int
	Order  SortOrder
	Before time.Time // scheduled_at <= Before
	After  string    // 上一页 meta.EndCursor
}

// PageMeta 游标分页元信息
type PageMeta struct {
	HasNextPage bool
	EndCursor   string
}

// GroupCursorQuery 分组内已发布内容的游标分页参数
type GroupCursorQuery struct {
	GroupIDs []string
	Limit    int
	After    string
}

type ContentRepository interface {
	FindByID(ctx context.Context, id string) (*model.Content, error)
	// FindContentByIDInActiveGroup 仅当内容至少属于一个活跃分组时返回，否则 (nil, nil)
	FindContentByIDInActiveGroup(ctx context.Context, id string) (*model.Content, error)
	HasBelongActiveGroupIDs(ctx context.Context, contentID string, groupIDs []string) (bool, error)
	GetPaginatedPublishedContentInGroups(ctx context.Context, q model.GroupFanoutQuery) ([]model.ContentRef, error)
	GetCursorPaginatedPublishedContentInGroups(ctx context.Context, q GroupCursorQuery) ([]model.ContentRef, string, error)
	GetScheduledContent(ctx context.Context, q ScheduledContentQuery) ([]*model.Content, PageMeta, error)
	UpdateContent(ctx context.Context, c *model.Content) error
}

type contentRepository struct {
	db *gorm.DB
}

func NewContentRepository(db *gorm.DB) ContentRepository { return &contentRepository{db: db} }

func (r *contentRepository) FindByID(ctx context.Context, id string) (*model.Content, error) {
	var c model.Content
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *contentRepository) FindContentByIDInActiveGroup(ctx context.Context, id string) (*model.Content, error) {
	groupIDs, err := r.activeGroupIDs(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(groupIDs) == 0 {
		return nil, nil
	}
	c, err := r.FindByID(ctx, id)
	if err != nil || c == nil {
		return nil, err
	}
	c.GroupIDs = groupIDs
	return c, nil
}

func (r *contentRepository) activeGroupIDs(ctx context.Context, contentID string) ([]string, error) {
	var ids []string
	err := r.activeLinks(ctx).
		Where("cg.content_id = ?", contentID).
		Pluck("cg.group_id", &ids).Error
	return ids, err
}

// activeLinks contents_groups 中未归档且分组处于 ACTIVE 的关联
func (r *contentRepository) activeLinks(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Table("contents_groups cg").
		Joins(`JOIN "groups" g ON g.id = cg.group_id`).
		Where("cg.is_archived = ? AND g.state = ?", false, model.GroupStateActive)
}

func (r *contentRepository) HasBelongActiveGroupIDs(ctx context.Context, contentID string, groupIDs []string) (bool, error) {
	if len(groupIDs) == 0 {
		return false, nil
	}
	var cnt int64
	if err := r.activeLinks(ctx).
		Where("cg.content_id = ? AND cg.group_id IN ?", contentID, groupIDs).
		Count(&cnt).Error; err != nil {
		return false, err
	}
	return cnt > 0, nil
}

// publishedInGroups 已发布、未隐藏、且挂在 groupIDs 下（关联未归档）的内容
func (r *contentRepository) publishedInGroups(ctx context.Context, groupIDs []string) *gorm.DB {
	linked := r.db.Model(&model.ContentGroup{}).
		Select("content_id").
		Where("group_id IN ? AND is_archived = ?", groupIDs, false)
	return r.db.WithContext(ctx).
		Model(&model.Content{}).
		Select("id", "type", "published_at").
		Where("status = ? AND is_hidden = ?", model.ContentStatusPublished, false).
		Where("id IN (?)", linked)
}

func (r *contentRepository) GetPaginatedPublishedContentInGroups(ctx context.Context, q model.GroupFanoutQuery) ([]model.ContentRef, error) {
	if len(q.GroupIDs) == 0 || q.Limit <= 0 {
		return nil, nil
	}
	tx := r.publishedInGroups(ctx, q.GroupIDs)
	if len(q.NotInGroupIDs) > 0 {
		visible := r.db.Table("contents_groups cg").
			Select("cg.content_id").
			Joins(`JOIN "groups" g ON g.id = cg.group_id`).
			Where("cg.group_id IN ? AND cg.is_archived = ? AND g.state = ?", q.NotInGroupIDs, false, model.GroupStateActive)
		tx = tx.Where("id NOT IN (?)", visible)
	}

	var rows []model.Content
	if err := tx.Order("id").Offset(q.Offset).Limit(q.Limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return toRefs(rows), nil
}

func (r *contentRepository) GetCursorPaginatedPublishedContentInGroups(ctx context.Context, q GroupCursorQuery) ([]model.ContentRef, string, error) {
	if len(q.GroupIDs) == 0 || q.Limit <= 0 {
		return nil, "", nil
	}
	tx := r.publishedInGroups(ctx, q.GroupIDs)
	if q.After != "" {
		afterID, err := decodeIDCursor(q.After)
		if err != nil {
			return nil, "", err
		}
		tx = tx.Where("id < ?", afterID)
	}

	var rows []model.Content
	if err := tx.Order("id DESC").Limit(q.Limit + 1).Find(&rows).Error; err != nil {
		return nil, "", err
	}
	next := ""
	if len(rows) > q.Limit {
		rows = rows[:q.Limit]
		next = encodeIDCursor(rows[len(rows)-1].ID)
	}
	return toRefs(rows), next, nil
}

func (r *contentRepository) GetScheduledContent(ctx context.Context, q ScheduledContentQuery) ([]*model.Content, PageMeta, error) {
	if q.Limit <= 0 {
		return nil, PageMeta{}, nil
	}
	tx := r.db.WithContext(ctx).
		Model(&model.Content{}).
		Where("status = ? AND scheduled_at IS NOT NULL AND scheduled_at <= ?", model.ContentStatusWaitingSchedule, q.Before)

	cmp, order := "<", "scheduled_at DESC, id DESC"
	if q.Order == SortAsc {
		cmp, order = ">", "scheduled_at ASC, id ASC"
	}
	if q.After != "" {
		at, id, err := decodeTimeCursor(q.After)
		if err != nil {
			return nil, PageMeta{}, err
		}
		tx = tx.Where("(scheduled_at "+cmp+" ? OR (scheduled_at = ? AND id "+cmp+" ?))", at, at, id)
	}

	var rows []*model.Content
	if err := tx.Order(order).Limit(q.Limit + 1).Find(&rows).Error; err != nil {
		return nil, PageMeta{}, err
	}

	meta := PageMeta{HasNextPage: len(rows) > q.Limit}
	if meta.HasNextPage {
		rows = rows[:q.Limit]
	}
	if n := len(rows); n > 0 && rows[n-1].ScheduledAt != nil {
		meta.EndCursor = encodeTimeCursor(*rows[n-1].ScheduledAt, rows[n-1].ID)
	}
	return rows, meta, nil
}

func (r *contentRepository) UpdateContent(ctx context.Context, c *model.Content) error {
	return r.db.WithContext(ctx).Save(c).Error
}

func toRefs(rows []model.Content) []model.ContentRef {
	refs := make([]model.ContentRef, len(rows))
	for i, c := range rows {
		refs[i] = model.ContentRef{ID: c.ID, Type: c.Type, PublishedAt: c.PublishedAt}
	}
	return refs
}
