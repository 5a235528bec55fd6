package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/content-fanout/pkg/clock"
	"github.com/d60-Lab/content-fanout/pkg/logger"
)

type JobState string

const (
	StateWaiting   JobState = "waiting"
	StateDelayed   JobState = "delayed"
	StateActive    JobState = "active"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
)

// JobOptions 入队选项
type JobOptions struct {
	// JobID 非空时作为去重键：同 ID 的任务仍存在时重复入队被忽略
	JobID string
	// GroupID 分组键，配合 worker 的 GroupConcurrency 限制同组并行数
	GroupID string
	// Delay 延迟执行
	Delay time.Duration
}

type BulkJob struct {
	Data any
	Opts JobOptions
}

type Job struct {
	ID           string          `json:"id"`
	Queue        string          `json:"queue"`
	Data         json.RawMessage `json:"data"`
	GroupID      string          `json:"groupId,omitempty"`
	State        JobState        `json:"state"`
	Attempts     int             `json:"attempts"`
	CreatedAt    time.Time       `json:"createdAt"`
	ProcessAt    time.Time       `json:"processAt"`
	FailedReason string          `json:"failedReason,omitempty"`
}

// Decode 反序列化任务数据
func (j *Job) Decode(v any) error {
	return json.Unmarshal(j.Data, v)
}

// Queue redis 持久化任务队列；同一个 Queue 可服务多个逻辑队列名
type Queue struct {
	client redis.UniversalClient
	prefix string
	clock  clock.Clock
}

func New(client redis.UniversalClient, prefix string) *Queue {
	if prefix == "" {
		prefix = "queue"
	}
	return &Queue{client: client, prefix: prefix, clock: clock.New()}
}

// WithClock 替换时钟（测试用）
func (q *Queue) WithClock(c clock.Clock) *Queue {
	q.clock = c
	return q
}

type keys struct {
	base    string
	ready   string
	delayed string
	active  string
	groups  string
}

// {name} 作为 hash tag，保证同一队列的 key 落在同一 slot
func (q *Queue) keys(name string) keys {
	base := fmt.Sprintf("%s:{%s}", q.prefix, name)
	return keys{
		base:    base,
		ready:   base + ":ready",
		delayed: base + ":delayed",
		active:  base + ":active",
		groups:  base + ":groups",
	}
}

func (k keys) jobPrefix() string    { return k.base + ":job:" }
func (k keys) job(id string) string { return k.jobPrefix() + id }

// waitPrefix 分组 wait 列表前缀，后接 GroupID（无分组为空串）
func (k keys) waitPrefix() string { return k.base + ":wait:" }

func (q *Queue) AddJob(ctx context.Context, name string, data any, opts JobOptions) (string, error) {
	ids, err := q.AddBulkJobs(ctx, name, []BulkJob{{Data: data, Opts: opts}})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// AddBulkJobs 一次 pipeline 批量入队，返回每个任务的 ID（与输入同序）
func (q *Queue) AddBulkJobs(ctx context.Context, name string, jobs []BulkJob) ([]string, error) {
	if len(jobs) == 0 {
		return nil, nil
	}
	k := q.keys(name)
	now := q.clock.Now()

	ids := make([]string, len(jobs))
	cmds := make([]*redis.Cmd, len(jobs))
	payloads := make([]string, len(jobs))
	for i, j := range jobs {
		raw, err := json.Marshal(j.Data)
		if err != nil {
			return nil, fmt.Errorf("marshal job data: %w", err)
		}
		payloads[i] = string(raw)
		ids[i] = j.Opts.JobID
		if ids[i] == "" {
			ids[i] = uuid.New().String()
		}
	}

	// 预加载脚本，pipeline 内用 EVALSHA
	if err := addScript.Load(ctx, q.client).Err(); err != nil {
		return nil, fmt.Errorf("load add script: %w", err)
	}
	_, err := q.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, j := range jobs {
			var processAt int64
			if j.Opts.Delay > 0 {
				processAt = now.Add(j.Opts.Delay).UnixMilli()
			}
			cmds[i] = addScript.EvalSha(ctx, pipe,
				[]string{k.job(ids[i]), k.delayed, k.ready},
				ids[i], payloads[i], j.Opts.GroupID, now.UnixMilli(), processAt, k.waitPrefix(),
			)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue %d jobs to %s: %w", len(jobs), name, err)
	}
	for i, cmd := range cmds {
		if added, _ := cmd.Int(); added == 0 {
			logger.Debug("duplicate job ignored", zap.String("queue", name), zap.String("job_id", ids[i]))
		}
	}
	return ids, nil
}

// GetJob 不存在时返回 (nil, nil)
func (q *Queue) GetJob(ctx context.Context, name, id string) (*Job, error) {
	vals, err := q.client.HGetAll(ctx, q.keys(name).job(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, nil
	}
	job := &Job{
		ID:           vals["id"],
		Queue:        name,
		Data:         json.RawMessage(vals["data"]),
		GroupID:      vals["group"],
		State:        JobState(vals["state"]),
		FailedReason: vals["failed_reason"],
	}
	job.Attempts, _ = strconv.Atoi(vals["attempts"])
	job.CreatedAt = msToTime(vals["created_at"])
	job.ProcessAt = msToTime(vals["process_at"])
	return job, nil
}

// RemoveJob 仅能移除 waiting/delayed/已保留终态的任务；active 任务返回 false
func (q *Queue) RemoveJob(ctx context.Context, name, id string) (bool, error) {
	k := q.keys(name)
	n, err := removeScript.Run(ctx, q.client, []string{k.job(id), k.ready, k.delayed}, id, k.waitPrefix()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Counts 各状态数量（采样值）
type Counts struct {
	Waiting int64 `json:"waiting"`
	Delayed int64 `json:"delayed"`
	Active  int64 `json:"active"`
}

func (q *Queue) Counts(ctx context.Context, name string) (Counts, error) {
	k := q.keys(name)
	waiting, err := waitingScript.Run(ctx, q.client, []string{k.ready}, k.waitPrefix()).Int64()
	if err != nil {
		return Counts{}, err
	}
	var delayed, active *redis.IntCmd
	_, err = q.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		delayed = pipe.ZCard(ctx, k.delayed)
		active = pipe.ZCard(ctx, k.active)
		return nil
	})
	if err != nil {
		return Counts{}, err
	}
	return Counts{Waiting: waiting, Delayed: delayed.Val(), Active: active.Val()}, nil
}

// promote 把到期的延迟任务移入 wait
func (q *Queue) promote(ctx context.Context, name string, limit int) (int, error) {
	k := q.keys(name)
	return promoteScript.Run(ctx, q.client, []string{k.delayed, k.ready},
		q.clock.Now().UnixMilli(), k.jobPrefix(), limit, k.waitPrefix()).Int()
}

// recoverStalled 回收锁过期的 active 任务（worker 崩溃后重新投递）
func (q *Queue) recoverStalled(ctx context.Context, name string, limit int) (int, error) {
	k := q.keys(name)
	return recoverScript.Run(ctx, q.client, []string{k.active, k.ready, k.groups},
		q.clock.Now().UnixMilli(), k.jobPrefix(), limit, k.waitPrefix()).Int()
}

// claim 按分组轮转取出一个可执行任务；没有时返回 (nil, nil)
func (q *Queue) claim(ctx context.Context, name string, groupConcurrency int, lock time.Duration) (*Job, error) {
	k := q.keys(name)
	res, err := claimScript.Run(ctx, q.client, []string{k.ready, k.groups, k.active},
		k.jobPrefix(), groupConcurrency, q.clock.Now().Add(lock).UnixMilli(), k.waitPrefix()).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(res) != 4 {
		return nil, fmt.Errorf("unexpected claim reply: %v", res)
	}
	job := &Job{Queue: name, State: StateActive}
	job.ID, _ = res[0].(string)
	data, _ := res[1].(string)
	job.Data = json.RawMessage(data)
	job.GroupID, _ = res[2].(string)
	attempts, _ := res[3].(string)
	job.Attempts, _ = strconv.Atoi(attempts)
	return job, nil
}

func (q *Queue) finish(ctx context.Context, job *Job, state JobState, remove bool, reason string) error {
	k := q.keys(job.Queue)
	flag := "0"
	if remove {
		flag = "1"
	}
	return finishScript.Run(ctx, q.client, []string{k.job(job.ID), k.groups, k.active},
		job.ID, job.GroupID, string(state), flag, reason, q.clock.Now().UnixMilli()).Err()
}

func msToTime(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
