package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/flowgrid/flowgrid/common/models"
)

// ErrRunNotFound is returned when a control operation names a run the engine
// does not own.
var ErrRunNotFound = fmt.Errorf("run not found")

// Pause stops new scheduling on a run. In-flight node executions finish and
// their completions are recorded; successor selection waits for Resume.
func (e *Engine) Pause(ctx context.Context, runID string) error {
	rs, ok := e.state(runID)
	if !ok {
		return ErrRunNotFound
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()

	evs, err := rs.ctx.Pause()
	if err != nil {
		return err
	}
	e.publish(rs, evs)
	e.persistRun(rs)
	rs.touch()
	e.log.Info("run paused", "run_id", runID)
	return nil
}

// Resume restarts a paused run and replays the scheduling work the pause
// deferred: blocked retries first, then successor selection for every node
// that resolved while paused.
func (e *Engine) Resume(ctx context.Context, runID string) error {
	rs, ok := e.state(runID)
	if !ok {
		return ErrRunNotFound
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()

	evs, err := rs.ctx.Resume()
	if err != nil {
		return err
	}
	e.publish(rs, evs)
	e.persistRun(rs)
	rs.touch()

	retries := rs.deferredRetries
	rs.deferredRetries = nil
	for _, nodeID := range retries {
		e.scheduleRetry(rs, nodeID)
	}

	deferred := rs.deferred
	rs.deferred = nil
	for _, nodeID := range deferred {
		e.selectSuccessors(rs, nodeID)
	}
	e.checkTermination(rs)
	e.log.Info("run resumed", "run_id", runID, "deferred", len(deferred), "retries", len(retries))
	return nil
}

// Cancel terminates a run. Pending and running nodes are marked Canceled and
// in-flight strategies get cooperative cancellation; the engine does not wait
// for them beyond the grace window, and late results are dropped.
func (e *Engine) Cancel(ctx context.Context, runID string) error {
	rs, ok := e.state(runID)
	if !ok {
		return ErrRunNotFound
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()

	evs, err := rs.ctx.Cancel()
	if err != nil {
		return err
	}
	e.publish(rs, evs)
	e.persistRun(rs)
	for _, rec := range rs.ctx.Nodes {
		if rec.State == models.NodeStateCanceled {
			e.persistNode(rs, rec)
		}
	}
	if e.metrics != nil {
		e.metrics.RunsTerminal.WithLabelValues(models.RunStateCanceled).Inc()
	}

	rs.cancelRun()
	e.retire(runID)
	e.log.Info("run canceled", "run_id", runID)
	return nil
}

// reaperLoop fails runs with no activity inside the run timeout. Covers jobs
// lost to queue truncation and handlers that never returned.
func (e *Engine) reaperLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.ReaperTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.reapStale()
		}
	}
}

func (e *Engine) reapStale() {
	cutoff := time.Now().UTC().Add(-e.cfg.RunTimeout)

	e.mu.Lock()
	candidates := make([]*runState, 0, len(e.runs))
	for _, rs := range e.runs {
		candidates = append(candidates, rs)
	}
	e.mu.Unlock()

	for _, rs := range candidates {
		rs.mu.Lock()
		if !rs.ctx.IsTerminal() && rs.ctx.State != models.RunStatePaused && rs.lastActivity.Before(cutoff) {
			e.log.Warn("reaping stale run", "run_id", rs.ctx.RunID, "last_activity", rs.lastActivity)
			e.failRun(rs, "run timed out")
		}
		rs.mu.Unlock()
	}
}
