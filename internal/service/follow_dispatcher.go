package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/d60-Lab/content-fanout/internal/model"
	"github.com/d60-Lab/content-fanout/internal/queue"
	"github.com/d60-Lab/content-fanout/internal/repository"
	"github.com/d60-Lab/content-fanout/pkg/logger"
)

// FollowDispatcher 用户加入/离开分组时批量回填或清理 newsfeed
type FollowDispatcher struct {
	contents  repository.ContentRepository
	members   repository.GroupMemberRepository
	newsfeeds repository.NewsfeedRepository
	queue     JobQueue
	batchSize int
}

func NewFollowDispatcher(contents repository.ContentRepository, members repository.GroupMemberRepository, newsfeeds repository.NewsfeedRepository, q JobQueue, batchSize int) *FollowDispatcher {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &FollowDispatcher{contents: contents, members: members, newsfeeds: newsfeeds, queue: q, batchSize: batchSize}
}

// Enqueue 同一用户的任务串行执行
func (d *FollowDispatcher) Enqueue(ctx context.Context, dispatch FollowUnfollowDispatch) error {
	if len(dispatch.GroupIDs) == 0 {
		return nil
	}
	_, err := d.queue.AddJob(ctx, QueueFollowUnfollow, dispatch, queue.JobOptions{GroupID: dispatch.UserID})
	if err != nil {
		return fmt.Errorf("enqueue %s for %s: %w", dispatch.Action, dispatch.UserID, err)
	}
	return nil
}

// Dispatch 分页处理 groupIDs 中已发布的内容，排除用户其余活跃分组里也有的内容。
// 返回条数少于 batchSize 的页就是最后一页，不再多查一次空页：2500 条按 1000 分页
// 恰好查询 3 次；总数是 batchSize 整数倍时由随后的空页结束。
// 任一页失败立即返回，重投递时从头开始（attach/detach 均幂等）。
func (d *FollowDispatcher) Dispatch(ctx context.Context, userID string, groupIDs []string, action FollowAction) (int, error) {
	if action != ActionFollow && action != ActionUnfollow {
		return 0, fmt.Errorf("unknown follow action %q", action)
	}
	userGroups, err := d.members.ListActiveGroupIDs(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("list groups of %s: %w", userID, err)
	}
	q := model.GroupFanoutQuery{
		GroupIDs:      groupIDs,
		NotInGroupIDs: difference(userGroups, groupIDs),
		Limit:         d.batchSize,
	}

	processed := 0
	for q.Offset = 0; ; q.Offset += d.batchSize {
		refs, err := d.contents.GetPaginatedPublishedContentInGroups(ctx, q)
		if err != nil {
			return processed, fmt.Errorf("page at offset %d: %w", q.Offset, err)
		}
		if len(refs) == 0 {
			break
		}
		if action == ActionFollow {
			err = d.newsfeeds.AttachContents(ctx, userID, refs)
		} else {
			ids := make([]string, len(refs))
			for i, r := range refs {
				ids[i] = r.ID
			}
			err = d.newsfeeds.DetachContents(ctx, userID, ids)
		}
		if err != nil {
			return processed, fmt.Errorf("%s page at offset %d: %w", action, q.Offset, err)
		}
		processed += len(refs)
		if len(refs) < d.batchSize {
			break
		}
	}

	logger.Info("follow dispatch done",
		zap.String("user_id", userID),
		zap.String("action", string(action)),
		zap.Strings("group_ids", groupIDs),
		zap.Int("contents", processed),
	)
	return processed, nil
}

// Process 队列处理函数
func (d *FollowDispatcher) Process(ctx context.Context, job *queue.Job) error {
	var p FollowUnfollowDispatch
	if err := job.Decode(&p); err != nil {
		return err
	}
	_, err := d.Dispatch(ctx, p.UserID, p.GroupIDs, p.Action)
	return err
}

// Reconcile 按游标重新回填用户所有活跃分组的内容，用于修复中断的回填
func (d *FollowDispatcher) Reconcile(ctx context.Context, userID string) (int, error) {
	groupIDs, err := d.members.ListActiveGroupIDs(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("list groups of %s: %w", userID, err)
	}
	if len(groupIDs) == 0 {
		return 0, nil
	}
	total := 0
	q := repository.GroupCursorQuery{GroupIDs: groupIDs, Limit: d.batchSize}
	for {
		refs, next, err := d.contents.GetCursorPaginatedPublishedContentInGroups(ctx, q)
		if err != nil {
			return total, err
		}
		if err := d.newsfeeds.AttachContents(ctx, userID, refs); err != nil {
			return total, err
		}
		total += len(refs)
		if next == "" {
			break
		}
		q.After = next
	}
	logger.Info("newsfeed reconciled", zap.String("user_id", userID), zap.Int("contents", total))
	return total, nil
}
