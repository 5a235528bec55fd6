package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/d60-Lab/content-fanout/internal/model"
	"github.com/d60-Lab/content-fanout/internal/repository"
	"github.com/d60-Lab/content-fanout/pkg/logger"
)

// NewsfeedService 单用户 newsfeed 的 attach/detach
type NewsfeedService struct {
	contents  repository.ContentRepository
	members   repository.GroupMemberRepository
	newsfeeds repository.NewsfeedRepository
}

func NewNewsfeedService(contents repository.ContentRepository, members repository.GroupMemberRepository, newsfeeds repository.NewsfeedRepository) *NewsfeedService {
	return &NewsfeedService{contents: contents, members: members, newsfeeds: newsfeeds}
}

// PublishToNewsfeed 内容已不可见（不存在、未发布、隐藏、无活跃分组）时静默跳过
func (s *NewsfeedService) PublishToNewsfeed(ctx context.Context, contentID, userID string) error {
	c, err := s.contents.FindContentByIDInActiveGroup(ctx, contentID)
	if err != nil {
		return fmt.Errorf("load content %s: %w", contentID, err)
	}
	if !visible(c) {
		logger.Debug("skip newsfeed attach", zap.String("content_id", contentID), zap.String("user_id", userID))
		return nil
	}
	ref := model.ContentRef{ID: c.ID, Type: c.Type, PublishedAt: c.PublishedAt}
	if err := s.newsfeeds.Attach(ctx, userID, ref); err != nil {
		return fmt.Errorf("attach %s to %s: %w", contentID, userID, err)
	}
	return nil
}

// RemoveFromNewsfeed 用户仍通过其他活跃分组可见该内容时保留条目
func (s *NewsfeedService) RemoveFromNewsfeed(ctx context.Context, contentID, userID string) error {
	c, err := s.contents.FindByID(ctx, contentID)
	if err != nil {
		return fmt.Errorf("load content %s: %w", contentID, err)
	}
	if visible(c) {
		groupIDs, err := s.members.ListActiveGroupIDs(ctx, userID)
		if err != nil {
			return fmt.Errorf("list groups of %s: %w", userID, err)
		}
		still, err := s.contents.HasBelongActiveGroupIDs(ctx, contentID, groupIDs)
		if err != nil {
			return fmt.Errorf("check overlap of %s: %w", contentID, err)
		}
		if still {
			logger.Debug("keep newsfeed entry, still visible through another group",
				zap.String("content_id", contentID), zap.String("user_id", userID))
			return nil
		}
	}
	if err := s.newsfeeds.Detach(ctx, userID, contentID); err != nil {
		return fmt.Errorf("detach %s from %s: %w", contentID, userID, err)
	}
	return nil
}

func (s *NewsfeedService) MarkSeen(ctx context.Context, userID, contentID string) error {
	return s.newsfeeds.MarkSeen(ctx, userID, contentID)
}

func visible(c *model.Content) bool {
	return c != nil && c.IsPublished() && !c.IsHidden
}
