package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/d60-Lab/content-fanout/pkg/logger"
	"github.com/d60-Lab/content-fanout/pkg/reporter"
	"github.com/d60-Lab/content-fanout/pkg/tracing"
)

// Processor 任务处理函数；返回错误即任务失败（默认不重试）
type Processor func(ctx context.Context, job *Job) error

type WorkerOptions struct {
	Concurrency int
	// GroupConcurrency 同一 GroupID 同时执行的上限，0 表示不限
	GroupConcurrency int
	// Limiter 队列级限速（如外部接口 3 次/秒），nil 表示不限
	Limiter      *rate.Limiter
	PollInterval time.Duration
	// LockDuration 单个任务的执行锁，超时视为 stalled 并重新投递
	LockDuration  time.Duration
	KeepCompleted bool
	KeepFailed    bool
}

func (o WorkerOptions) withDefaults() WorkerOptions {
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 50 * time.Millisecond
	}
	if o.LockDuration <= 0 {
		o.LockDuration = 5 * time.Minute
	}
	return o
}

// Worker 绑定一个处理函数到一个逻辑队列
type Worker struct {
	q    *Queue
	name string
	fn   Processor
	opts WorkerOptions
}

func (q *Queue) NewWorker(name string, fn Processor, opts WorkerOptions) *Worker {
	return &Worker{q: q, name: name, fn: fn, opts: opts.withDefaults()}
}

func (w *Worker) Name() string { return w.name }

// Start 启动 Concurrency 个拉取协程与一个维护协程；返回停止函数。
func (w *Worker) Start() func(context.Context) error {
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < w.opts.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.loop(stop)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.maintain(stop)
	}()

	return func(ctx context.Context) error {
		close(stop)
		done := make(chan struct{})
		go func() { wg.Wait(); close(done) }()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (w *Worker) loop(stop <-chan struct{}) {
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	for {
		// 连续处理直到队列为空，再等下一个 tick
		for {
			ok, err := w.ProcessNext(ctx)
			if err != nil && ctx.Err() == nil {
				logger.Warn("queue claim failed", zap.String("queue", w.name), zap.Error(err))
			}
			if !ok || err != nil {
				break
			}
		}
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) maintain(stop <-chan struct{}) {
	interval := w.opts.PollInterval * 10
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			_ = w.Maintain(context.Background())
		}
	}
}

// Maintain 提升到期延迟任务并回收 stalled 任务
func (w *Worker) Maintain(ctx context.Context) error {
	if n, err := w.q.promote(ctx, w.name, 1000); err != nil {
		return fmt.Errorf("promote delayed: %w", err)
	} else if n > 0 {
		logger.Debug("delayed jobs promoted", zap.String("queue", w.name), zap.Int("count", n))
	}
	if n, err := w.q.recoverStalled(ctx, w.name, 1000); err != nil {
		return fmt.Errorf("recover stalled: %w", err)
	} else if n > 0 {
		logger.Warn("stalled jobs moved back to wait", zap.String("queue", w.name), zap.Int("count", n))
	}
	return nil
}

// ProcessNext 取一个任务并执行；队列为空（或分组均已满）时返回 false
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	if w.opts.Limiter != nil {
		if err := w.opts.Limiter.Wait(ctx); err != nil {
			return false, err
		}
	}
	job, err := w.q.claim(ctx, w.name, w.opts.GroupConcurrency, w.opts.LockDuration)
	if err != nil || job == nil {
		return false, err
	}
	w.run(job)
	return true, nil
}

func (w *Worker) run(job *Job) {
	// 任务执行不随 worker 停止而中断，只受锁时长约束
	ctx, cancel := context.WithTimeout(context.Background(), w.opts.LockDuration)
	defer cancel()
	ctx, span := tracing.Start(ctx, "queue.process",
		attribute.String("queue", w.name),
		attribute.String("job.id", job.ID),
		attribute.String("job.group", job.GroupID),
	)
	defer span.End()

	started := time.Now()
	err := w.safeProcess(ctx, job)
	fields := []zap.Field{
		zap.String("queue", w.name),
		zap.String("job_id", job.ID),
		zap.String("group", job.GroupID),
		zap.Int("attempts", job.Attempts),
		zap.Duration("took", time.Since(started)),
	}

	finishCtx := context.Background()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("job failed", append(fields, zap.Error(err))...)
		reporter.Capture(err, map[string]string{"queue": w.name, "job_id": job.ID})
		if ferr := w.q.finish(finishCtx, job, StateFailed, !w.opts.KeepFailed, err.Error()); ferr != nil {
			logger.Warn("mark job failed", append(fields, zap.Error(ferr))...)
		}
		return
	}
	logger.Info("job completed", fields...)
	if ferr := w.q.finish(finishCtx, job, StateCompleted, !w.opts.KeepCompleted, ""); ferr != nil {
		logger.Warn("mark job completed", append(fields, zap.Error(ferr))...)
	}
}

func (w *Worker) safeProcess(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return w.fn(ctx, job)
}
