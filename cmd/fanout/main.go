// The fanout service streams live run events to WebSocket subscribers. It
// bridges the bus's per-tenant Redis pubsub channels to connected dashboards
// with optional per-workflow and per-run filtering.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/flowgrid/flowgrid/common/bootstrap"
	"github.com/flowgrid/flowgrid/common/server"
	"github.com/flowgrid/flowgrid/common/telemetry"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	components := bootstrap.MustSetup(ctx, "fanout", bootstrap.WithoutDB())
	defer components.Shutdown(context.Background())

	log := components.Logger
	cfg := components.Config
	telemetry.StartPprof(cfg.Telemetry, log)

	hub := NewHub(log)
	go hub.Run()

	sub := NewSubscriber(components.Redis, hub, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := sub.Run(gctx)
		if gctx.Err() != nil {
			return nil
		}
		return err
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/health", server.HealthHandler(components.Health))
	mux.HandleFunc("/ws/", serveWS(hub, log))
	if components.Metrics != nil {
		mux.Handle("/metrics", components.Metrics.Handler())
	}
	srv := server.New("fanout", cfg.Service.Port, mux, log)

	g.Go(func() error {
		err := srv.Start()
		cancel()
		return err
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("fanout exited", "error", err)
		os.Exit(1)
	}
}
