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

// ContentFanoutService 把一条内容事件展开为逐用户的 newsfeed 任务
type ContentFanoutService struct {
	members   repository.GroupMemberRepository
	newsfeed  *NewsfeedService
	queue     JobQueue
	batchSize int
}

func NewContentFanoutService(members repository.GroupMemberRepository, newsfeed *NewsfeedService, q JobQueue, batchSize int) *ContentFanoutService {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &ContentFanoutService{members: members, newsfeed: newsfeed, queue: q, batchSize: batchSize}
}

// FanoutPublished 返回入队的任务数
func (s *ContentFanoutService) FanoutPublished(ctx context.Context, contentID string, groupIDs []string) (int, error) {
	return s.fanout(ctx, NewsfeedPublish, contentID, model.GroupFanoutQuery{GroupIDs: groupIDs})
}

func (s *ContentFanoutService) FanoutRemoved(ctx context.Context, contentID string, groupIDs []string) (int, error) {
	return s.fanout(ctx, NewsfeedRemove, contentID, model.GroupFanoutQuery{GroupIDs: groupIDs})
}

// FanoutGroupsChanged 新增分组的成员（已能通过其余分组看到的除外）收到 publish，
// 移除分组的成员（仍在当前分组中的除外）收到 remove
func (s *ContentFanoutService) FanoutGroupsChanged(ctx context.Context, contentID string, added, removed, current []string) (int, error) {
	total := 0
	if len(added) > 0 {
		n, err := s.fanout(ctx, NewsfeedPublish, contentID, model.GroupFanoutQuery{
			GroupIDs:      added,
			NotInGroupIDs: difference(current, added),
		})
		total += n
		if err != nil {
			return total, err
		}
	}
	if len(removed) > 0 {
		n, err := s.fanout(ctx, NewsfeedRemove, contentID, model.GroupFanoutQuery{
			GroupIDs:      removed,
			NotInGroupIDs: current,
		})
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (s *ContentFanoutService) fanout(ctx context.Context, action NewsfeedAction, contentID string, q model.GroupFanoutQuery) (int, error) {
	total := 0
	err := forEachMemberPage(ctx, s.members, q, s.batchSize, func(userIDs []string) error {
		jobs := make([]queue.BulkJob, 0, len(userIDs))
		for _, uid := range userIDs {
			jobs = append(jobs, queue.BulkJob{
				Data: NewsfeedJob{Action: action, ContentID: contentID, UserID: uid},
				Opts: queue.JobOptions{JobID: fmt.Sprintf("%s:%s:%s", action, contentID, uid)},
			})
		}
		if _, err := s.queue.AddBulkJobs(ctx, QueueNewsfeed, jobs); err != nil {
			return fmt.Errorf("enqueue newsfeed jobs: %w", err)
		}
		total += len(jobs)
		return nil
	})
	logger.Info("content fanout enqueued",
		zap.String("action", string(action)),
		zap.String("content_id", contentID),
		zap.Int("jobs", total),
	)
	return total, err
}

// ProcessNewsfeedJob 队列处理函数
func (s *ContentFanoutService) ProcessNewsfeedJob(ctx context.Context, job *queue.Job) error {
	var j NewsfeedJob
	if err := job.Decode(&j); err != nil {
		return err
	}
	switch j.Action {
	case NewsfeedPublish:
		return s.newsfeed.PublishToNewsfeed(ctx, j.ContentID, j.UserID)
	case NewsfeedRemove:
		return s.newsfeed.RemoveFromNewsfeed(ctx, j.ContentID, j.UserID)
	default:
		return fmt.Errorf("unknown newsfeed action %q", j.Action)
	}
}

// forEachMemberPage 按 offset 分页遍历成员；短页即最后一页，与 FollowDispatcher.Dispatch 相同
func forEachMemberPage(ctx context.Context, members repository.GroupMemberRepository, q model.GroupFanoutQuery, batch int, fn func([]string) error) error {
	q.Limit = batch
	for q.Offset = 0; ; q.Offset += batch {
		userIDs, err := members.GetGroupMembers(ctx, q)
		if err != nil {
			return fmt.Errorf("list members at offset %d: %w", q.Offset, err)
		}
		if len(userIDs) == 0 {
			return nil
		}
		if err := fn(userIDs); err != nil {
			return err
		}
		if len(userIDs) < batch {
			return nil
		}
	}
}

// difference 返回 a 中不在 b 里的元素，保持顺序
func difference(a, b []string) []string {
	if len(a) == 0 {
		return nil
	}
	skip := make(map[string]struct{}, len(b))
	for _, v := range b {
		skip[v] = struct{}{}
	}
	out := make([]string, 0, len(a))
	for _, v := range a {
		if _, ok := skip[v]; !ok {
			out = append(out, v)
		}
	}
	return out
}
