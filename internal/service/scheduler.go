package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/content-fanout/internal/model"
	"github.com/d60-Lab/content-fanout/internal/queue"
	"github.com/d60-Lab/content-fanout/internal/repository"
	"github.com/d60-Lab/content-fanout/pkg/clock"
	"github.com/d60-Lab/content-fanout/pkg/errs"
	"github.com/d60-Lab/content-fanout/pkg/logger"
	"github.com/d60-Lab/content-fanout/pkg/reporter"
)

const errorStackLines = 50

// DiscoveryStats 一次扫描的统计
type DiscoveryStats struct {
	Fetches  int
	Found    int
	Enqueued int
	Skipped  int
}

// ScheduledPublisher 扫描到期的定时内容并逐条发布
type ScheduledPublisher struct {
	contents  repository.ContentRepository
	users     repository.UserRepository
	publisher ContentPublisher
	queue     JobQueue
	clock     clock.Clock
	pageSize  int
}

func NewScheduledPublisher(contents repository.ContentRepository, users repository.UserRepository, publisher ContentPublisher, q JobQueue, clk clock.Clock, pageSize int) *ScheduledPublisher {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &ScheduledPublisher{contents: contents, users: users, publisher: publisher, queue: q, clock: clk, pageSize: pageSize}
}

// Discover 按游标遍历 scheduled_at <= before 的待发布内容，hasNextPage 为 false 时结束
func (s *ScheduledPublisher) Discover(ctx context.Context, before time.Time) (DiscoveryStats, error) {
	var stats DiscoveryStats
	q := repository.ScheduledContentQuery{Limit: s.pageSize, Before: before}
	for {
		rows, meta, err := s.contents.GetScheduledContent(ctx, q)
		stats.Fetches++
		if err != nil {
			return stats, fmt.Errorf("fetch scheduled page %d: %w", stats.Fetches, err)
		}
		stats.Found += len(rows)
		if len(rows) > 0 {
			enqueued, skipped, err := s.enqueuePage(ctx, rows)
			stats.Enqueued += enqueued
			stats.Skipped += skipped
			if err != nil {
				return stats, err
			}
		}
		if !meta.HasNextPage {
			break
		}
		if meta.EndCursor == "" || meta.EndCursor == q.After {
			logger.Warn("scheduled discovery cursor did not advance", zap.Int("fetches", stats.Fetches))
			break
		}
		q.After = meta.EndCursor
	}

	logger.Info("scheduled discovery done",
		zap.Time("before", before),
		zap.Int("fetches", stats.Fetches),
		zap.Int("found", stats.Found),
		zap.Int("enqueued", stats.Enqueued),
		zap.Int("skipped", stats.Skipped),
	)
	return stats, nil
}

func (s *ScheduledPublisher) enqueuePage(ctx context.Context, rows []*model.Content) (int, int, error) {
	ownerIDs := make([]string, 0, len(rows))
	seen := make(map[string]struct{}, len(rows))
	for _, c := range rows {
		if _, ok := seen[c.CreatedBy]; !ok {
			seen[c.CreatedBy] = struct{}{}
			ownerIDs = append(ownerIDs, c.CreatedBy)
		}
	}
	owners, err := s.users.ListByIDs(ctx, ownerIDs)
	if err != nil {
		return 0, 0, fmt.Errorf("load owners: %w", err)
	}
	active := make(map[string]bool, len(owners))
	for _, u := range owners {
		active[u.ID] = !u.IsDeactivated
	}

	jobs := make([]queue.BulkJob, 0, len(rows))
	skipped := 0
	for _, c := range rows {
		if !active[c.CreatedBy] {
			logger.Warn("skip scheduled content of missing or deactivated owner",
				zap.String("content_id", c.ID), zap.String("owner_id", c.CreatedBy))
			skipped++
			continue
		}
		job := ScheduledPublishJob{ContentID: c.ID, OwnerID: c.CreatedBy}
		if c.ScheduledAt != nil {
			job.ScheduledAt = *c.ScheduledAt
		}
		jobs = append(jobs, queue.BulkJob{
			Data: job,
			Opts: queue.JobOptions{JobID: scheduledJobID(c.ID), GroupID: c.CreatedBy},
		})
	}
	if len(jobs) == 0 {
		return 0, skipped, nil
	}
	if _, err := s.queue.AddBulkJobs(ctx, QueueScheduledPublish, jobs); err != nil {
		return 0, skipped, fmt.Errorf("enqueue scheduled publish: %w", err)
	}
	return len(jobs), skipped, nil
}

// ScheduleOne 内容设定定时后直接放入延迟任务；与扫描共用 job id，重复入队被忽略
func (s *ScheduledPublisher) ScheduleOne(ctx context.Context, contentID, ownerID string, at time.Time) error {
	jobID := scheduledJobID(contentID)
	// 重新设定时间时先撤掉尚未执行的旧任务
	if _, err := s.queue.RemoveJob(ctx, QueueScheduledPublish, jobID); err != nil {
		return fmt.Errorf("remove previous schedule of %s: %w", contentID, err)
	}
	delay := at.Sub(s.clock.Now())
	if delay < 0 {
		delay = 0
	}
	_, err := s.queue.AddJob(ctx, QueueScheduledPublish,
		ScheduledPublishJob{ContentID: contentID, OwnerID: ownerID, ScheduledAt: at},
		queue.JobOptions{JobID: jobID, GroupID: ownerID, Delay: delay},
	)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", contentID, err)
	}
	return nil
}

// Execute 发布单条内容。发布失败不向上抛出，而是记录到内容的 error_log。
func (s *ScheduledPublisher) Execute(ctx context.Context, contentID, ownerID string) error {
	c, err := s.contents.FindByID(ctx, contentID)
	if err != nil {
		return fmt.Errorf("load content %s: %w", contentID, err)
	}
	if c == nil || c.Status != model.ContentStatusWaitingSchedule {
		logger.Debug("skip stale scheduled publish", zap.String("content_id", contentID))
		return nil
	}
	if c.ScheduledAt != nil && c.ScheduledAt.After(s.clock.Now()) {
		logger.Debug("skip scheduled publish not yet due", zap.String("content_id", contentID), zap.Time("scheduled_at", *c.ScheduledAt))
		return nil
	}

	if perr := s.publisher.Publish(ctx, contentID, ownerID); perr != nil {
		return s.markFailed(ctx, contentID, ownerID, perr)
	}
	logger.Info("scheduled content published", zap.String("content_id", contentID), zap.String("owner_id", ownerID))
	return nil
}

func (s *ScheduledPublisher) markFailed(ctx context.Context, contentID, ownerID string, cause error) error {
	code := errs.CodeOf(cause)
	logger.Error("scheduled publish failed",
		zap.String("content_id", contentID),
		zap.String("owner_id", ownerID),
		zap.String("code", code),
		zap.Error(cause),
	)
	reporter.Capture(cause, map[string]string{"content_id": contentID, "code": code})

	c, err := s.contents.FindByID(ctx, contentID)
	if err != nil {
		return fmt.Errorf("reload content %s: %w", contentID, err)
	}
	if c == nil {
		return nil
	}
	c.Status = model.ContentStatusScheduleFailed
	c.ErrorLog = &model.ContentErrorLog{
		Message: cause.Error(),
		Code:    code,
		Stack:   errs.StackLines(cause, errorStackLines),
	}
	if err := s.contents.UpdateContent(ctx, c); err != nil {
		return fmt.Errorf("persist schedule failure of %s: %w", contentID, err)
	}
	return nil
}

// Process 队列处理函数
func (s *ScheduledPublisher) Process(ctx context.Context, job *queue.Job) error {
	var p ScheduledPublishJob
	if err := job.Decode(&p); err != nil {
		return err
	}
	return s.Execute(ctx, p.ContentID, p.OwnerID)
}

// Runner 定时触发 Discover
type Runner struct {
	publisher *ScheduledPublisher
	interval  time.Duration
}

func NewRunner(p *ScheduledPublisher, interval time.Duration) *Runner {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Runner{publisher: p, interval: interval}
}

// Start 启动定时扫描；返回停止函数。
func (r *Runner) Start() func(context.Context) error {
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if _, err := r.publisher.Discover(context.Background(), r.publisher.clock.Now()); err != nil {
					logger.Error("scheduled discovery failed", zap.Error(err))
				}
			}
		}
	}()
	return func(ctx context.Context) error {
		close(stop)
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
