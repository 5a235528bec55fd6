package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/d60-Lab/content-fanout/config"
	"github.com/d60-Lab/content-fanout/internal/event"
	"github.com/d60-Lab/content-fanout/internal/model"
	"github.com/d60-Lab/content-fanout/internal/queue"
	"github.com/d60-Lab/content-fanout/internal/repository"
	"github.com/d60-Lab/content-fanout/pkg/logger"
)

// Engine 汇总各服务，负责事件与队列的绑定
type Engine struct {
	Members   repository.GroupMemberRepository
	Newsfeed  *NewsfeedService
	Fanout    *ContentFanoutService
	Follow    *FollowDispatcher
	Scheduler *ScheduledPublisher
	Reactions *ReactionCountCache
	BatchSize int
}

// Register 把事件类型绑定到处理器。同一事件可有多个处理器，全部执行。
func (e *Engine) Register(r *event.Registry) {
	r.On(event.ContentPublished, event.Typed(e.onContentPublished))
	r.On(event.ContentRemoved, event.Typed(e.onContentRemoved))
	r.On(event.ContentGroupsChanged, event.Typed(e.onContentGroupsChanged))
	r.On(event.ContentScheduled, event.Typed(e.onContentScheduled))
	r.On(event.GroupMemberJoined, event.Typed(e.onMemberJoined))
	r.On(event.GroupMemberLeft, event.Typed(e.onMemberLeft))
	r.On(event.GroupStateChanged, event.Typed(e.onGroupStateChanged))
	r.On(event.GroupPrivacyChanged, event.Typed(e.onGroupPrivacyChanged))
	r.On(event.ReactionCreated,
		event.Typed(e.Reactions.OnReactionCreated),
		event.Typed(e.onReactionSeen),
	)
	r.On(event.ReactionDeleted, event.Typed(e.Reactions.OnReactionDeleted))
}

// Workers 为每个逻辑队列创建 worker；并发参数未配置（<=0）时取默认值
func (e *Engine) Workers(q *queue.Queue, cfg config.QueueConfig) []*queue.Worker {
	concurrency := config.OrDefault(cfg.Concurrency, 5)
	return []*queue.Worker{
		q.NewWorker(QueueNewsfeed, e.Fanout.ProcessNewsfeedJob, queue.WorkerOptions{
			Concurrency:  concurrency,
			PollInterval: cfg.PollInterval,
			KeepFailed:   cfg.KeepFailed,
		}),
		q.NewWorker(QueueFollowUnfollow, e.Follow.Process, queue.WorkerOptions{
			Concurrency:      concurrency,
			GroupConcurrency: config.OrDefault(cfg.FollowPerUser, 1),
			PollInterval:     cfg.PollInterval,
			KeepFailed:       cfg.KeepFailed,
		}),
		q.NewWorker(QueueScheduledPublish, e.Scheduler.Process, queue.WorkerOptions{
			Concurrency:      concurrency,
			GroupConcurrency: config.OrDefault(cfg.ScheduledPublishPerOwner, 5),
			PollInterval:     cfg.PollInterval,
			KeepFailed:       cfg.KeepFailed,
		}),
	}
}

func (e *Engine) onContentPublished(ctx context.Context, p event.ContentLifecycle) error {
	_, err := e.Fanout.FanoutPublished(ctx, p.ContentID, p.GroupIDs)
	return err
}

func (e *Engine) onContentRemoved(ctx context.Context, p event.ContentLifecycle) error {
	_, err := e.Fanout.FanoutRemoved(ctx, p.ContentID, p.GroupIDs)
	return err
}

func (e *Engine) onContentGroupsChanged(ctx context.Context, p event.ContentGroupsChange) error {
	_, err := e.Fanout.FanoutGroupsChanged(ctx, p.ContentID, p.AddedGroupIDs, p.RemovedGroupIDs, p.CurrentGroupIDs)
	return err
}

func (e *Engine) onContentScheduled(ctx context.Context, p event.ContentSchedule) error {
	return e.Scheduler.ScheduleOne(ctx, p.ContentID, p.OwnerID, p.ScheduledAt)
}

func (e *Engine) onMemberJoined(ctx context.Context, p event.GroupMembership) error {
	return e.Follow.Enqueue(ctx, FollowUnfollowDispatch{UserID: p.UserID, Action: ActionFollow, GroupIDs: p.GroupIDs})
}

func (e *Engine) onMemberLeft(ctx context.Context, p event.GroupMembership) error {
	return e.Follow.Enqueue(ctx, FollowUnfollowDispatch{UserID: p.UserID, Action: ActionUnfollow, GroupIDs: p.GroupIDs})
}

// onGroupStateChanged 分组归档等同于全体成员 unfollow，恢复则等同于 follow
func (e *Engine) onGroupStateChanged(ctx context.Context, p event.GroupStateChange) error {
	action := ActionFollow
	if model.GroupState(p.State) == model.GroupStateArchived {
		action = ActionUnfollow
	}
	members := 0
	err := forEachMemberPage(ctx, e.Members, model.GroupFanoutQuery{GroupIDs: []string{p.GroupID}}, e.batchSize(), func(userIDs []string) error {
		for _, uid := range userIDs {
			if err := e.Follow.Enqueue(ctx, FollowUnfollowDispatch{UserID: uid, Action: action, GroupIDs: []string{p.GroupID}}); err != nil {
				return err
			}
		}
		members += len(userIDs)
		return nil
	})
	logger.Info("group state fanout enqueued",
		zap.String("group_id", p.GroupID),
		zap.String("state", p.State),
		zap.Int("members", members),
	)
	return err
}

// 可见性由成员关系决定，隐私变更不影响已有 newsfeed
func (e *Engine) onGroupPrivacyChanged(_ context.Context, p event.GroupPrivacyChange) error {
	logger.Debug("group privacy changed", zap.String("group_id", p.GroupID), zap.String("privacy", p.Privacy))
	return nil
}

func (e *Engine) onReactionSeen(ctx context.Context, r event.ReactionChange) error {
	if model.ReactionTarget(r.TargetType) != model.ReactionTargetContent {
		return nil
	}
	return e.Newsfeed.MarkSeen(ctx, r.UserID, r.TargetID)
}

func (e *Engine) batchSize() int {
	if e.BatchSize <= 0 {
		return 1000
	}
	return e.BatchSize
}
