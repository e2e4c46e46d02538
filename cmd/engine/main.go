package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/flowgrid/flowgrid/cmd/engine/engine"
	"github.com/flowgrid/flowgrid/cmd/engine/scheduler"
	"github.com/flowgrid/flowgrid/cmd/engine/strategy"
	"github.com/flowgrid/flowgrid/cmd/engine/trigger"
	"github.com/flowgrid/flowgrid/common/bootstrap"
	"github.com/flowgrid/flowgrid/common/cache"
	"github.com/flowgrid/flowgrid/common/events"
	"github.com/flowgrid/flowgrid/common/expr"
	"github.com/flowgrid/flowgrid/common/queue"
	"github.com/flowgrid/flowgrid/common/repository"
	"github.com/flowgrid/flowgrid/common/server"
	"github.com/flowgrid/flowgrid/common/telemetry"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	components := bootstrap.MustSetup(ctx, "engine",
		bootstrap.WithDBInitHook(repository.InitSchema),
	)
	defer components.Shutdown(context.Background())

	log := components.Logger
	cfg := components.Config
	telemetry.StartPprof(cfg.Telemetry, log)

	evaluator, err := expr.New()
	if err != nil {
		log.Error("expression environment failed", "error", err)
		os.Exit(1)
	}

	store := events.NewPostgresStore(components.DB)
	bus := events.NewBus(store, components.Redis, log)

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "engine"
	}
	jobs := queue.NewRedisQueue(components.Redis, hostname, log)
	defer jobs.Close()

	registry := strategy.NewDefaultRegistry(evaluator, nil)

	execRepo := repository.NewExecutionRepository(components.DB)
	persist := engine.NewRepositoryPersister(execRepo)
	if reaped, err := persist.ReapStale(ctx, cfg.Engine.RunTimeout); err != nil {
		log.Error("stale run sweep failed", "error", err)
	} else if reaped > 0 {
		log.Warn("failed runs abandoned by a previous instance", "count", reaped)
	}

	eng := engine.New(jobs, bus, registry, evaluator, persist, components.Metrics, log, engine.Config{
		Workers:          cfg.Engine.Workers,
		MaxRetries:       cfg.Engine.MaxRetries,
		RetryDelay:       cfg.Engine.RetryDelay,
		NodeTimeout:      cfg.Engine.NodeTimeout,
		RunTimeout:       cfg.Engine.RunTimeout,
		CancelGrace:      cfg.Engine.CancelGrace,
		LaneWatermark:    cfg.Engine.LaneWatermark,
		ContextRetention: cfg.Engine.ContextRetention,
	})

	workflows := repository.NewWorkflowRepository(components.DB)
	defs := cache.NewDefinitions(workflows, 30*time.Second)
	consumer := trigger.NewConsumer(components.Redis, eng, defs, bus, components.Metrics, log, hostname)

	schedRepo := repository.NewScheduledEventRepository(components.DB)
	dispatcher := scheduler.NewDispatcher(schedRepo, components.Redis, components.Metrics, log,
		cfg.Engine.SchedulerTick, cfg.Engine.Timezone)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Start(gctx) })
	g.Go(func() error { return ignoreCanceled(gctx, consumer.Run(gctx)) })
	g.Go(func() error { return ignoreCanceled(gctx, dispatcher.Run(gctx)) })

	mux := http.NewServeMux()
	mux.HandleFunc("/health", server.HealthHandler(components.Health))
	if components.Metrics != nil {
		mux.Handle("/metrics", components.Metrics.Handler())
	}
	srv := server.New("engine", cfg.Service.Port, mux, log)

	g.Go(func() error {
		err := srv.Start()
		cancel()
		return err
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("engine exited", "error", err)
		os.Exit(1)
	}
}

func ignoreCanceled(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}
