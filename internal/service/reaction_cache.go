package service

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/d60-Lab/content-fanout/internal/cache"
	"github.com/d60-Lab/content-fanout/internal/event"
	"github.com/d60-Lab/content-fanout/internal/model"
	"github.com/d60-Lab/content-fanout/internal/repository"
	"github.com/d60-Lab/content-fanout/pkg/logger"
)

// ReactionCountCache 内容反应计数缓存，reactions 表为权威来源
type ReactionCountCache struct {
	store     cache.Store
	reactions repository.ReactionRepository
}

func NewReactionCountCache(store cache.Store, reactions repository.ReactionRepository) *ReactionCountCache {
	return &ReactionCountCache{store: store, reactions: reactions}
}

func ReactionCountKey(contentID string) string { return "reaction_count:" + contentID }

func (c *ReactionCountCache) OnReactionCreated(ctx context.Context, r event.ReactionChange) error {
	return c.apply(ctx, r, 1)
}

func (c *ReactionCountCache) OnReactionDeleted(ctx context.Context, r event.ReactionChange) error {
	return c.apply(ctx, r, -1)
}

// apply 记录不存在时整体重建；存在时先 set-if-absent 初始化字段，已有字段则原子加减
func (c *ReactionCountCache) apply(ctx context.Context, r event.ReactionChange, delta int64) error {
	if model.ReactionTarget(r.TargetType) != model.ReactionTargetContent {
		return nil
	}
	key := ReactionCountKey(r.TargetID)
	exists, err := c.store.GetJSON(ctx, key, "", nil)
	if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	if !exists {
		_, err := c.Rebuild(ctx, r.TargetID)
		return err
	}

	path := "$." + r.ReactionName
	initial := int64(0)
	if delta > 0 {
		initial = 1
	}
	set, err := c.store.SetJSONIfAbsent(ctx, key, path, initial)
	if err != nil {
		return fmt.Errorf("init %s %s: %w", key, path, err)
	}
	if set {
		return nil
	}

	if delta > 0 {
		_, err = c.store.IncrementNumeric(ctx, key, path)
		return err
	}
	n, err := c.store.DecrementNumeric(ctx, key, path)
	if err != nil {
		return err
	}
	if n < 0 {
		logger.Warn("reaction counter went negative, rebuilding",
			zap.String("content_id", r.TargetID),
			zap.String("reaction", r.ReactionName),
			zap.Int64("value", n),
		)
		_, err = c.Rebuild(ctx, r.TargetID)
		return err
	}
	return nil
}

// Rebuild 从 reactions 表重新聚合并整体覆盖缓存
func (c *ReactionCountCache) Rebuild(ctx context.Context, contentID string) (map[string]int64, error) {
	counts, err := c.reactions.CountByContent(ctx, contentID)
	if err != nil {
		return nil, fmt.Errorf("count reactions of %s: %w", contentID, err)
	}
	if err := c.store.SetJSON(ctx, ReactionCountKey(contentID), counts); err != nil {
		return nil, fmt.Errorf("write reaction counts of %s: %w", contentID, err)
	}
	return counts, nil
}

// Get 缓存未命中时重建
func (c *ReactionCountCache) Get(ctx context.Context, contentID string) (map[string]int64, error) {
	var counts map[string]int64
	ok, err := c.store.GetJSON(ctx, ReactionCountKey(contentID), "", &counts)
	if err != nil {
		return nil, err
	}
	if !ok {
		return c.Rebuild(ctx, contentID)
	}
	return counts, nil
}

func (c *ReactionCountCache) GetMany(ctx context.Context, contentIDs []string) (map[string]map[string]int64, error) {
	keys := make([]string, len(contentIDs))
	for i, id := range contentIDs {
		keys[i] = ReactionCountKey(id)
	}
	docs, err := c.store.MultiGetJSON(ctx, keys)
	if err != nil {
		return nil, err
	}
	out := make(map[string]map[string]int64, len(contentIDs))
	for i, id := range contentIDs {
		if docs[i] == nil {
			counts, err := c.Rebuild(ctx, id)
			if err != nil {
				return nil, err
			}
			out[id] = counts
			continue
		}
		var counts map[string]int64
		if err := json.Unmarshal(docs[i], &counts); err != nil {
			return nil, fmt.Errorf("decode counts of %s: %w", id, err)
		}
		out[id] = counts
	}
	return out, nil
}
