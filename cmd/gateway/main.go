package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/flowgrid/flowgrid/cmd/engine/strategy"
	"github.com/flowgrid/flowgrid/cmd/gateway/handlers"
	"github.com/flowgrid/flowgrid/cmd/gateway/routes"
	"github.com/flowgrid/flowgrid/common/bootstrap"
	"github.com/flowgrid/flowgrid/common/cache"
	"github.com/flowgrid/flowgrid/common/expr"
	"github.com/flowgrid/flowgrid/common/repository"
	"github.com/flowgrid/flowgrid/common/server"
	"github.com/flowgrid/flowgrid/common/telemetry"
	"github.com/flowgrid/flowgrid/common/webhook"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	components := bootstrap.MustSetup(ctx, "gateway",
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
	registry := strategy.NewDefaultRegistry(evaluator, nil)

	workflowRepo := repository.NewWorkflowRepository(components.DB)
	execRepo := repository.NewExecutionRepository(components.DB)
	schedRepo := repository.NewScheduledEventRepository(components.DB)
	defs := cache.NewDefinitions(workflowRepo, 30*time.Second)

	adapters := webhook.NewRegistry(
		&webhook.MetaAdapter{VerifyToken: cfg.Webhook.MetaVerifyToken},
		&webhook.SlackAdapter{SkewWindow: cfg.Webhook.SlackSkewWindow},
		&webhook.TwitterAdapter{},
	)

	e := setupEcho(components)
	routes.Register(e, &routes.Handlers{
		Workflows:  handlers.NewWorkflowHandler(workflowRepo, defs, registry, log),
		Triggers:   handlers.NewTriggerHandler(defs, components.Redis, components.Metrics, log),
		Executions: handlers.NewExecutionHandler(workflowRepo, execRepo, log),
		Scheduler:  handlers.NewSchedulerHandler(schedRepo, components.Redis, cfg.Engine.Timezone, log),
		Webhooks:   handlers.NewWebhookHandler(adapters, defs, components.Redis, cfg.Webhook, components.Metrics, log),
	})

	srv := server.New("gateway", cfg.Service.Port, e, log)
	if err := srv.Start(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("gateway exited", "error", err)
		os.Exit(1)
	}
}

func setupEcho(components *bootstrap.Components) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(echomw.CORS())

	e.GET("/health", func(c echo.Context) error {
		if err := components.Health(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  fmt.Sprint(err),
			})
		}
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "gateway",
		})
	})
	if components.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(components.Metrics.Handler()))
	}
	return e
}
