package main

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/d60-Lab/content-fanout/config"
	"github.com/d60-Lab/content-fanout/internal/cache"
	"github.com/d60-Lab/content-fanout/internal/event"
	"github.com/d60-Lab/content-fanout/internal/model"
	"github.com/d60-Lab/content-fanout/internal/repository"
	"github.com/d60-Lab/content-fanout/internal/service"
	"github.com/d60-Lab/content-fanout/pkg/database"
	"github.com/d60-Lab/content-fanout/pkg/redisclient"
)

var reactionNames = []string{"like", "love", "haha", "wow", "sad"}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func mustDo(err error) {
	if err != nil {
		panic(err)
	}
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

func summary(name string, vs []time.Duration) {
	var sum time.Duration
	for _, d := range vs {
		sum += d
	}
	avg := time.Duration(0)
	if len(vs) > 0 {
		avg = sum / time.Duration(len(vs))
	}
	fmt.Printf("%-24s n=%d avg=%v p95=%v p99=%v\n", name, len(vs), avg, pct(vs, 0.95), pct(vs, 0.99))
}

func main() {
	ctx := context.Background()
	cfg := must(config.Load())
	db := must(database.InitDB(cfg))
	mustDo(database.Migrate(db))
	rdb := must(redisclient.New(ctx, cfg))

	contents := envInt("CONTENTS", 200)
	perContent := envInt("REACTIONS", 500)
	events := envInt("EVENTS", 5000)

	reactions := repository.NewReactionRepository(db)
	store := cache.NewRedisStore(rdb)
	counter := service.NewReactionCountCache(store, reactions)

	fmt.Printf("seeding contents=%d reactions/content=%d\n", contents, perContent)
	ids := make([]string, contents)
	for i := range ids {
		ids[i] = uuid.NewString()
		rows := make([]model.Reaction, perContent)
		for j := range rows {
			rows[j] = model.Reaction{
				ID:           uuid.NewString(),
				TargetType:   model.ReactionTargetContent,
				TargetID:     ids[i],
				ReactionName: reactionNames[j%len(reactionNames)],
				CreatedBy:    fmt.Sprintf("u%d", j),
			}
		}
		mustDo(db.CreateInBatches(&rows, 1000).Error)
	}

	// 冷读：每次都从 reactions 表聚合重建
	cold := make([]time.Duration, 0, contents)
	for _, id := range ids {
		mustDo(store.Delete(ctx, service.ReactionCountKey(id)))
		st := time.Now()
		must(counter.Get(ctx, id))
		cold = append(cold, time.Since(st))
	}

	// 热读
	hot := make([]time.Duration, 0, contents)
	for _, id := range ids {
		st := time.Now()
		must(counter.Get(ctx, id))
		hot = append(hot, time.Since(st))
	}

	// 批量读
	batch := make([]time.Duration, 0, 20)
	for i := 0; i < 20; i++ {
		st := time.Now()
		must(counter.GetMany(ctx, ids))
		batch = append(batch, time.Since(st))
	}

	// 增量更新
	incr := make([]time.Duration, 0, events)
	for i := 0; i < events; i++ {
		r := event.ReactionChange{
			ReactionID:   uuid.NewString(),
			UserID:       "bench",
			TargetType:   string(model.ReactionTargetContent),
			TargetID:     ids[rand.Intn(len(ids))],
			ReactionName: reactionNames[rand.Intn(len(reactionNames))],
		}
		st := time.Now()
		mustDo(counter.OnReactionCreated(ctx, r))
		incr = append(incr, time.Since(st))
	}

	fmt.Printf("CONTENTS=%d REACTIONS=%d EVENTS=%d\n", contents, perContent, events)
	summary("Get (rebuild on miss)", cold)
	summary("Get (cache hit)", hot)
	summary(fmt.Sprintf("GetMany (%d keys)", len(ids)), batch)
	summary("OnReactionCreated", incr)
}
