// Package telemetry starts the optional profiling endpoint.
package telemetry

import (
	"fmt"
	"net/http"
	_ "net/http/pprof"

	"github.com/flowgrid/flowgrid/common/config"
	"github.com/flowgrid/flowgrid/common/logger"
)

// StartPprof serves the pprof handlers on localhost when enabled. The
// listener is loopback only; profiles are not exposed beyond the host.
func StartPprof(cfg config.TelemetryConfig, log *logger.Logger) {
	if !cfg.EnablePprof {
		return
	}
	addr := fmt.Sprintf("localhost:%d", cfg.PprofPort)
	go func() {
		log.Info("pprof listening", "addr", addr)
		if err := http.ListenAndServe(addr, nil); err != nil {
			log.Error("pprof server stopped", "error", err)
		}
	}()
}
