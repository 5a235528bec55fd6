package service

import (
	"context"
	"time"

	"github.com/d60-Lab/content-fanout/internal/queue"
)

// 逻辑队列名
const (
	QueueNewsfeed         = "newsfeed"
	QueueFollowUnfollow   = "newsfeed.follow-unfollow"
	QueueScheduledPublish = "content.scheduled-publish"
)

// JobQueue 服务层依赖的队列操作
type JobQueue interface {
	AddJob(ctx context.Context, name string, data any, opts queue.JobOptions) (string, error)
	AddBulkJobs(ctx context.Context, name string, jobs []queue.BulkJob) ([]string, error)
	RemoveJob(ctx context.Context, name, id string) (bool, error)
}

type NewsfeedAction string

const (
	NewsfeedPublish NewsfeedAction = "publish"
	NewsfeedRemove  NewsfeedAction = "remove"
)

// NewsfeedJob 单用户 newsfeed 任务
type NewsfeedJob struct {
	Action    NewsfeedAction `json:"action"`
	ContentID string         `json:"contentId"`
	UserID    string         `json:"userId"`
}

type FollowAction string

const (
	ActionFollow   FollowAction = "FOLLOW"
	ActionUnfollow FollowAction = "UNFOLLOW"
)

// FollowUnfollowDispatch 只携带分组，内容 id 在执行时重新查询
type FollowUnfollowDispatch struct {
	UserID   string       `json:"userId"`
	Action   FollowAction `json:"action"`
	GroupIDs []string     `json:"groupIds"`
}

// ScheduledPublishJob 定时发布任务
type ScheduledPublishJob struct {
	ContentID   string    `json:"contentId"`
	OwnerID     string    `json:"ownerId"`
	ScheduledAt time.Time `json:"scheduledAt"`
}

func scheduledJobID(contentID string) string { return "scheduled-publish:" + contentID }
