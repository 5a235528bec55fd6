package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/d60-Lab/content-fanout/config"
	"github.com/d60-Lab/content-fanout/internal/model"
	"github.com/d60-Lab/content-fanout/internal/queue"
	"github.com/d60-Lab/content-fanout/internal/repository"
	"github.com/d60-Lab/content-fanout/internal/service"
	"github.com/d60-Lab/content-fanout/pkg/database"
	"github.com/d60-Lab/content-fanout/pkg/redisclient"
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func pct(vs []time.Duration, p float64) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	xs := append([]time.Duration(nil), vs...)
	sort.Slice(xs, func(i, j int) bool { return xs[i] < xs[j] })
	k := int(math.Ceil(p*float64(len(xs)))) - 1
	if k < 0 {
		k = 0
	}
	if k >= len(xs) {
		k = len(xs) - 1
	}
	return xs[k]
}

func envInt(name string, def int) int {
	if s := os.Getenv(name); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			return v
		}
	}
	return def
}

func main() {
	ctx := context.Background()
	cfg := must(config.Load())
	db := must(database.InitDB(cfg))
	if err := database.Migrate(db); err != nil {
		panic(err)
	}
	rdb := must(redisclient.New(ctx, cfg))

	members := envInt("MEMBERS", 20000) // 分组成员数
	posts := envInt("POSTS", 20)        // 发布内容数
	workers := envInt("WORKERS", 16)
	batch := envInt("BATCH", 1000)

	// 每次运行使用独立的分组与队列前缀
	run := uuid.NewString()[:8]
	groupID := "bench-" + run
	q := queue.New(rdb, "fanoutbench:"+run)

	contents := repository.NewContentRepository(db)
	memberRepo := repository.NewGroupMemberRepository(db)
	newsfeeds := repository.NewNewsfeedRepository(db)
	newsfeed := service.NewNewsfeedService(contents, memberRepo, newsfeeds)
	fanout := service.NewContentFanoutService(memberRepo, newsfeed, q, batch)
	follow := service.NewFollowDispatcher(contents, memberRepo, newsfeeds, q, batch)

	fmt.Printf("seeding group=%s members=%d posts=%d\n", groupID, members, posts)
	if err := db.Create(&model.Group{ID: groupID, Privacy: model.GroupPrivacyOpen, State: model.GroupStateActive}).Error; err != nil {
		panic(err)
	}
	rows := make([]model.GroupMember, members)
	for i := range rows {
		rows[i] = model.GroupMember{GroupID: groupID, UserID: fmt.Sprintf("%s-u%06d", run, i)}
	}
	if err := db.CreateInBatches(&rows, 1000).Error; err != nil {
		panic(err)
	}
	now := time.Now()
	contentIDs := make([]string, posts)
	for i := range contentIDs {
		id := uuid.NewString()
		contentIDs[i] = id
		c := model.Content{ID: id, Type: model.ContentTypePost, Status: model.ContentStatusPublished, CreatedBy: "bench", PublishedAt: &now}
		if err := db.Create(&c).Error; err != nil {
			panic(err)
		}
		if err := db.Create(&model.ContentGroup{ContentID: id, GroupID: groupID}).Error; err != nil {
			panic(err)
		}
	}

	// 入队：每条内容展开为 members 个任务
	enqueue := make([]time.Duration, 0, posts)
	for _, id := range contentIDs {
		st := time.Now()
		if _, err := fanout.FanoutPublished(ctx, id, []string{groupID}); err != nil {
			panic(err)
		}
		enqueue = append(enqueue, time.Since(st))
	}

	// 消费：多 worker 并发落 newsfeed
	total := members * posts
	w := q.NewWorker(service.QueueNewsfeed, fanout.ProcessNewsfeedJob, queue.WorkerOptions{
		Concurrency:  workers,
		PollInterval: 10 * time.Millisecond,
	})
	st := time.Now()
	stop := w.Start()
	deadline := time.Now().Add(10 * time.Minute)
	for {
		counts := must(q.Counts(ctx, service.QueueNewsfeed))
		if counts.Waiting == 0 && counts.Active == 0 {
			break
		}
		if time.Now().After(deadline) {
			fmt.Printf("timeout: waiting=%d active=%d\n", counts.Waiting, counts.Active)
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	drain := time.Since(st)
	_ = stop(ctx)

	// 新成员加入：一次性回填全部内容
	joiner := run + "-joiner"
	if err := memberRepo.Join(ctx, groupID, joiner); err != nil {
		panic(err)
	}
	fst := time.Now()
	backfilled, err := follow.Dispatch(ctx, joiner, []string{groupID}, service.ActionFollow)
	if err != nil {
		panic(err)
	}
	followTook := time.Since(fst)

	var enqSum time.Duration
	for _, d := range enqueue {
		enqSum += d
	}
	fmt.Printf("MEMBERS=%d POSTS=%d WORKERS=%d BATCH=%d\n", members, posts, workers, batch)
	fmt.Printf("Fanout enqueue per post: avg=%v p95=%v p99=%v\n", enqSum/time.Duration(len(enqueue)), pct(enqueue, 0.95), pct(enqueue, 0.99))
	fmt.Printf("Newsfeed drain: jobs=%d took=%v rate=%.0f/s\n", total, drain, float64(total)/drain.Seconds())
	fmt.Printf("Follow backfill: contents=%d took=%v\n", backfilled, followTook)

	entries := must(newsfeeds.ListByUser(ctx, rows[0].UserID, 0, 50))
	fmt.Printf("Newsfeed read (member0, limit=50): rows=%d\n", len(entries))
}
