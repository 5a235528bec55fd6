package handler

import (
	"context"
	"time"

	"github.com/d60-Lab/content-fanout/internal/queue"
	"github.com/d60-Lab/content-fanout/internal/service"
)

type Discoverer interface {
	Discover(ctx context.Context, before time.Time) (service.DiscoveryStats, error)
}

type JobStore interface {
	GetJob(ctx context.Context, name, id string) (*queue.Job, error)
	RemoveJob(ctx context.Context, name, id string) (bool, error)
}

type ReactionReader interface {
	Get(ctx context.Context, contentID string) (map[string]int64, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, userID string) (int, error)
}

// Handler 运维接口
type Handler struct {
	health     func(ctx context.Context) error
	discoverer Discoverer
	jobs       JobStore
	reactions  ReactionReader
	reconciler Reconciler
	queues     map[string]struct{}
	now        func() time.Time
}

type Deps struct {
	// Health 检查依赖连通性，nil 表示总是健康
	Health     func(ctx context.Context) error
	Discoverer Discoverer
	Jobs       JobStore
	Reactions  ReactionReader
	Reconciler Reconciler
	Now        func() time.Time
}

func NewHandler(d Deps) *Handler {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	return &Handler{
		health:     d.Health,
		discoverer: d.Discoverer,
		jobs:       d.Jobs,
		reactions:  d.Reactions,
		reconciler: d.Reconciler,
		queues: map[string]struct{}{
			service.QueueNewsfeed:         {},
			service.QueueFollowUnfollow:   {},
			service.QueueScheduledPublish: {},
		},
		now: now,
	}
}
