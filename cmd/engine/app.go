package main

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/d60-Lab/content-fanout/config"
	"github.com/d60-Lab/content-fanout/internal/cache"
	"github.com/d60-Lab/content-fanout/internal/event"
	"github.com/d60-Lab/content-fanout/internal/queue"
	"github.com/d60-Lab/content-fanout/internal/repository"
	"github.com/d60-Lab/content-fanout/internal/service"
	"github.com/d60-Lab/content-fanout/pkg/clock"
	"github.com/d60-Lab/content-fanout/pkg/database"
	"github.com/d60-Lab/content-fanout/pkg/redisclient"
)

// app 组装好的依赖
type app struct {
	cfg      *config.Config
	db       *gorm.DB
	redis    *redis.Client
	queue    *queue.Queue
	producer *event.Producer
	engine   *service.Engine
	clock    clock.Clock
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	db, err := database.InitDB(cfg)
	if err != nil {
		return nil, err
	}
	rdb, err := redisclient.New(ctx, cfg)
	if err != nil {
		_ = database.Close(db)
		return nil, err
	}

	clk := clock.New()
	q := queue.New(rdb, cfg.Queue.Prefix).WithClock(clk)

	contents := repository.NewContentRepository(db)
	members := repository.NewGroupMemberRepository(db)
	newsfeeds := repository.NewNewsfeedRepository(db)
	newsfeed := service.NewNewsfeedService(contents, members, newsfeeds)
	batch := cfg.Fanout.BatchSize

	engine := &service.Engine{
		Members:   members,
		Newsfeed:  newsfeed,
		Fanout:    service.NewContentFanoutService(members, newsfeed, q, batch),
		Follow:    service.NewFollowDispatcher(contents, members, newsfeeds, q, batch),
		Scheduler: service.NewScheduledPublisher(contents, repository.NewUserRepository(db), service.NewTxPublisher(db, clk), q, clk, cfg.Scheduler.PageSize),
		Reactions: service.NewReactionCountCache(cache.NewRedisStore(rdb), repository.NewReactionRepository(db)),
		BatchSize: batch,
	}
	return &app{
		cfg:      cfg,
		db:       db,
		redis:    rdb,
		queue:    q,
		producer: event.NewProducer(rdb, cfg.Consumer.Stream),
		engine:   engine,
		clock:    clk,
	}, nil
}

func (a *app) health(ctx context.Context) error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return errors.Join(sqlDB.PingContext(ctx), a.redis.Ping(ctx).Err())
}

func (a *app) Close() error {
	return errors.Join(a.redis.Close(), database.Close(a.db))
}
