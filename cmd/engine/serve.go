package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/d60-Lab/content-fanout/internal/api/handler"
	"github.com/d60-Lab/content-fanout/internal/event"
	"github.com/d60-Lab/content-fanout/internal/service"
	"github.com/d60-Lab/content-fanout/pkg/logger"
	"github.com/d60-Lab/content-fanout/pkg/reporter"
	"github.com/d60-Lab/content-fanout/pkg/tracing"
)

func newServeCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run consumers, queue workers, scheduler and the operator API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, root)
		},
	}
}

type stopFunc func(context.Context) error

func serve(ctx context.Context, root *rootOptions) error {
	cfg := root.cfg
	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	if err := reporter.Init(cfg.Sentry); err != nil {
		logger.Warn("sentry disabled", zap.Error(err))
	}
	defer reporter.Flush()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	name := cfg.Consumer.Name
	if name == "" {
		name, _ = os.Hostname()
	}
	registry := event.NewRegistry().
		WithLedger(event.NewRedisLedger(a.redis, cfg.Queue.Prefix+":handled", cfg.Consumer.HandledTTL))
	a.engine.Register(registry)
	consumer := event.NewConsumer(a.redis, registry, event.ConsumerOptions{
		Stream:  cfg.Consumer.Stream,
		Group:   cfg.Consumer.Group,
		Name:    name,
		Block:   cfg.Consumer.Block,
		Count:   cfg.Consumer.Count,
		MinIdle: cfg.Consumer.MinIdle,
	})
	if err := consumer.EnsureGroup(ctx); err != nil {
		return err
	}

	var stops []stopFunc
	for _, w := range a.engine.Workers(a.queue, cfg.Queue) {
		stops = append(stops, w.Start())
		logger.Info("queue worker started", zap.String("queue", w.Name()))
	}
	stops = append(stops, service.NewOutboxRelay(a.db, a.producer, 0, 0).Start())
	if cfg.Scheduler.Enabled {
		stops = append(stops, service.NewRunner(a.engine.Scheduler, cfg.Scheduler.Interval).Start())
	}

	consumerDone := make(chan error, 1)
	go func() { consumerDone <- consumer.Start(ctx) }()

	gin.SetMode(cfg.Server.Mode)
	h := handler.NewHandler(handler.Deps{
		Health:     a.health,
		Discoverer: a.engine.Scheduler,
		Jobs:       a.queue,
		Reactions:  a.engine.Reactions,
		Reconciler: a.engine.Follow,
		Now:        a.clock.Now,
	})
	srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler.SetupRouter(h, cfg.Tracing.ServiceName)}
	srvErr := make(chan error, 1)
	go func() {
		logger.Info("operator api listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-srvErr:
		logger.Error("operator api failed", zap.Error(err))
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	errs := []error{srv.Shutdown(shutdownCtx)}
	for _, s := range stops {
		errs = append(errs, s(shutdownCtx))
	}
	select {
	case err := <-consumerDone:
		if !errors.Is(err, context.Canceled) {
			errs = append(errs, err)
		}
	case <-shutdownCtx.Done():
	}
	errs = append(errs, shutdownTracing(shutdownCtx))
	return errors.Join(errs...)
}
