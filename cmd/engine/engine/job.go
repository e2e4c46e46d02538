package engine

import (
	"context"
	"time"

	"github.com/flowgrid/flowgrid/cmd/engine/run"
	"github.com/flowgrid/flowgrid/cmd/engine/strategy"
	"github.com/flowgrid/flowgrid/common/models"
	"github.com/flowgrid/flowgrid/common/queue"
)

// handleJob executes one node attempt. Delivery is at least once; stale and
// duplicate deliveries are detected against the live run context and dropped.
func (e *Engine) handleJob(ctx context.Context, job *queue.Job) error {
	rs, ok := e.state(job.RunID)
	if !ok {
		e.log.Warn("job for unknown run dropped", "run_id", job.RunID, "node_id", job.NodeID)
		return nil
	}

	rs.mu.Lock()
	c := rs.ctx

	if c.IsTerminal() {
		rs.mu.Unlock()
		return nil
	}

	rec := c.Nodes[job.NodeID]
	if rec == nil || rec.State != models.NodeStatePending || !c.Scheduled[job.NodeID] {
		rs.mu.Unlock()
		return nil
	}
	if job.Attempt != rec.CurrentAttempt() {
		e.log.Debug("stale attempt dropped", "run_id", job.RunID, "node_id", job.NodeID, "attempt", job.Attempt)
		rs.mu.Unlock()
		return nil
	}
	key := inflightKey(job.NodeID, job.Attempt)
	if rs.inflight[key] {
		rs.mu.Unlock()
		return nil
	}
	rs.inflight[key] = true

	node := c.Processed.Nodes[job.NodeID]
	strat, found := e.registry.Get(node.Type)
	if !found {
		// Definitions are validated before publish, so this is a deploy skew.
		delete(rs.inflight, key)
		e.startAndFail(rs, node, job.Attempt, "no strategy for node type "+node.Type)
		rs.mu.Unlock()
		return nil
	}

	input, inputErr := e.resolveInput(rs, node)

	evs, err := c.StartNode(job.NodeID, job.Attempt, input)
	if err != nil {
		delete(rs.inflight, key)
		rs.mu.Unlock()
		e.log.Error("start rejected", "run_id", job.RunID, "node_id", job.NodeID, "error", err)
		return nil
	}
	e.publish(rs, evs)
	e.persistNode(rs, rec)
	rs.touch()

	if inputErr != nil {
		delete(rs.inflight, key)
		e.handleResult(rs, node, strategy.Result{Success: false, Error: inputErr.Error(), Retryable: false})
		rs.mu.Unlock()
		return nil
	}

	view := strategy.RunView{
		RunID:      c.RunID,
		WorkflowID: c.WorkflowID,
		TenantID:   c.TenantID,
		Input:      input,
		Variables:  copyVariables(c.Variables),
	}
	timeout := e.nodeTimeout(c, node)
	execCtx, cancelExec := context.WithTimeout(rs.runCtx, timeout)
	rs.cancels[job.NodeID] = cancelExec
	rs.mu.Unlock()

	res := e.execute(execCtx, strat, view, node)
	cancelExec()

	rs.mu.Lock()
	delete(rs.cancels, job.NodeID)
	delete(rs.inflight, key)
	e.handleResult(rs, node, res)
	rs.mu.Unlock()
	return nil
}

// execute runs the strategy off-lock. A node that misses its deadline gets a
// grace window to return a late result before the engine synthesizes a
// timeout failure.
func (e *Engine) execute(ctx context.Context, strat strategy.Strategy, view strategy.RunView, node *models.Node) strategy.Result {
	done := make(chan strategy.Result, 1)
	go func() {
		res := strat.Execute(ctx, view, node)
		strat.Cleanup(view, node)
		done <- res
	}()

	select {
	case res := <-done:
		return res
	case <-ctx.Done():
	}

	select {
	case res := <-done:
		return res
	case <-time.After(e.cfg.CancelGrace):
		// Only strategies classify an error retryable; synthesized timeouts
		// and cancellations are terminal for the attempt.
		if ctx.Err() == context.DeadlineExceeded {
			return strategy.Result{Success: false, Error: "timeout", Retryable: false}
		}
		return strategy.Result{Success: false, Error: "canceled", Retryable: false}
	}
}

func (e *Engine) nodeTimeout(c *run.Context, node *models.Node) time.Duration {
	if node.TimeoutMS > 0 {
		return time.Duration(node.TimeoutMS) * time.Millisecond
	}
	if c.Config.Timeout > 0 {
		return c.Config.Timeout
	}
	return e.cfg.NodeTimeout
}

// startAndFail records a node that could never execute. Caller holds the lock
// and the node is Pending.
func (e *Engine) startAndFail(rs *runState, node *models.Node, attempt int, msg string) {
	if evs, err := rs.ctx.StartNode(node.ID, attempt, nil); err == nil {
		e.publish(rs, evs)
	}
	e.handleResult(rs, node, strategy.Result{Success: false, Error: msg, Retryable: false})
}
