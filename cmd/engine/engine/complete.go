package engine

import (
	"math/rand"
	"time"

	"github.com/flowgrid/flowgrid/cmd/engine/run"
	"github.com/flowgrid/flowgrid/cmd/engine/strategy"
	"github.com/flowgrid/flowgrid/common/expr"
	"github.com/flowgrid/flowgrid/common/models"
)

// handleResult applies a node's execution outcome. Caller holds the run lock.
// Results that race a cancel find the node already Canceled and are dropped.
func (e *Engine) handleResult(rs *runState, node *models.Node, res strategy.Result) {
	c := rs.ctx
	rec := c.Nodes[node.ID]
	if rec == nil || rec.State != models.NodeStateRunning {
		return
	}
	rs.touch()

	if res.Success {
		if err := e.applyOutputMapping(rs, node, res.Output); err != nil {
			e.failNode(rs, node, rec.CurrentAttempt(), err.Error(), false)
			return
		}
		evs, err := c.CompleteNode(node.ID, res.Output)
		if err != nil {
			e.log.Error("complete rejected", "run_id", c.RunID, "node_id", node.ID, "error", err)
			return
		}
		e.publish(rs, evs)
		e.persistNode(rs, rec)
		e.observeNode(node, rec, models.NodeStateCompleted)

		e.afterResolution(rs, node.ID)
		return
	}

	maxRetries := c.Config.MaxRetries
	if node.MaxRetries != nil {
		maxRetries = *node.MaxRetries
	}
	retry := res.Retryable && rec.RetryCount < maxRetries
	e.failNode(rs, node, rec.CurrentAttempt(), res.Error, retry)
}

// failNode applies the fail transition, then either re-schedules the attempt
// with backoff or routes the terminal failure.
func (e *Engine) failNode(rs *runState, node *models.Node, attempt int, errMsg string, retry bool) {
	c := rs.ctx
	rec := c.Nodes[node.ID]

	evs, err := c.FailNode(node.ID, errMsg, retry)
	if err != nil {
		e.log.Error("fail rejected", "run_id", c.RunID, "node_id", node.ID, "error", err)
		return
	}
	e.publish(rs, evs)
	e.persistNode(rs, rec)

	if retry {
		if e.metrics != nil {
			e.metrics.RetriesTotal.Inc()
		}
		e.log.Warn("node retrying", "run_id", c.RunID, "node_id", node.ID, "attempt", attempt, "error", errMsg)
		if c.State == models.RunStatePaused {
			rs.deferredRetries = append(rs.deferredRetries, node.ID)
			return
		}
		e.scheduleRetry(rs, node.ID)
		return
	}

	e.observeNode(node, rec, models.NodeStateFailed)
	e.log.Error("node failed", "run_id", c.RunID, "node_id", node.ID, "attempt", attempt, "error", errMsg)

	if len(e.failureEdges(rs, node.ID)) > 0 {
		e.afterResolution(rs, node.ID)
		return
	}
	e.failRun(rs, "node "+node.ID+" failed: "+errMsg)
}

func (e *Engine) failureEdges(rs *runState, nodeID string) []models.Edge {
	var out []models.Edge
	for _, edge := range rs.ctx.Processed.EdgesFrom(nodeID) {
		if edge.Type == models.EdgeTypeFailure {
			out = append(out, edge)
		}
	}
	return out
}

// scheduleRetry re-schedules a node whose last attempt failed retryably.
// Backoff is exponential on the attempt number with up to 25% jitter.
func (e *Engine) scheduleRetry(rs *runState, nodeID string) {
	c := rs.ctx
	rec := c.Nodes[nodeID]
	attempt := rec.CurrentAttempt()

	evs, err := c.ScheduleNode(nodeID, attempt)
	if err != nil {
		e.log.Error("retry schedule rejected", "run_id", c.RunID, "node_id", nodeID, "error", err)
		return
	}
	e.publish(rs, evs)

	backoff := c.Config.RetryDelay
	for i := 1; i < attempt-1; i++ {
		backoff *= 2
		if backoff > 5*time.Minute {
			backoff = 5 * time.Minute
			break
		}
	}
	backoff += time.Duration(rand.Int63n(int64(backoff/4) + 1))
	e.enqueue(rs, nodeID, attempt, backoff)
}

// afterResolution runs successor selection for a node that just reached a
// routable terminal state, or defers it while the run is paused, then checks
// the termination condition.
func (e *Engine) afterResolution(rs *runState, nodeID string) {
	if rs.ctx.State == models.RunStatePaused {
		rs.deferred = append(rs.deferred, nodeID)
		return
	}
	e.selectSuccessors(rs, nodeID)
	e.checkTermination(rs)
}

// selectSuccessors evaluates every outgoing edge of a resolved node. On
// success, default edges fire when their condition holds and failure edges
// are suppressed; on exhausted failure the roles swap. Parallel edges into
// the same target contribute one resolution: fired if any of them fired.
func (e *Engine) selectSuccessors(rs *runState, nodeID string) {
	c := rs.ctx
	rec := c.Nodes[nodeID]
	failed := rec.State == models.NodeStateFailed

	fired := make(map[string]bool)
	var order []string
	for _, edge := range c.Processed.EdgesFrom(nodeID) {
		var f bool
		switch {
		case edge.Type == models.EdgeTypeFailure:
			f = failed
		case failed:
			f = false
		case edge.Condition == "":
			f = true
		default:
			ok, err := e.eval.EvalBool(edge.Condition, &expr.Activation{
				Input:     rec.Input,
				Output:    rec.Output,
				Variables: c.Variables,
			})
			if err != nil {
				e.log.Error("edge condition failed, suppressing", "run_id", c.RunID,
					"source", edge.Source, "target", edge.Target, "error", err)
			}
			f = ok && err == nil
		}
		if _, seen := fired[edge.Target]; !seen {
			order = append(order, edge.Target)
		}
		fired[edge.Target] = fired[edge.Target] || f
	}

	for _, target := range order {
		e.resolveEdge(rs, target, nodeID, fired[target])
	}
}

// resolveEdge records one predecessor resolution for a target node and acts
// once every required predecessor has resolved: schedule if any edge fired,
// skip if all were suppressed. A node is scheduled or skipped at most once.
func (e *Engine) resolveEdge(rs *runState, target, pred string, fired bool) {
	c := rs.ctx
	m := rs.resolved[target]
	if m == nil {
		m = make(map[string]string)
		rs.resolved[target] = m
	}
	if _, done := m[pred]; done {
		return
	}
	if fired {
		m[pred] = edgeFired
	} else {
		m[pred] = edgeSuppressed
	}

	if c.Scheduled[target] {
		return
	}
	if rec, ok := c.Nodes[target]; ok && rec.State != models.NodeStatePending {
		return
	}

	anyFired := false
	for _, p := range c.Processed.ReverseAdjacency[target] {
		res, ok := m[p]
		if !ok {
			return
		}
		if res == edgeFired {
			anyFired = true
		}
	}

	if anyFired {
		e.scheduleNode(rs, target, 1)
	} else {
		e.skipNode(rs, target)
	}
}

// skipNode marks a node skipped and cascades suppression to its successors.
func (e *Engine) skipNode(rs *runState, nodeID string) {
	evs, err := rs.ctx.SkipNode(nodeID)
	if err != nil {
		e.log.Error("skip rejected", "run_id", rs.ctx.RunID, "node_id", nodeID, "error", err)
		return
	}
	e.publish(rs, evs)
	e.persistNode(rs, rs.ctx.Nodes[nodeID])

	for _, edge := range rs.ctx.Processed.EdgesFrom(nodeID) {
		e.resolveEdge(rs, edge.Target, nodeID, false)
	}
}

// checkTermination completes the run when nothing is scheduled and every exit
// node is Completed or Skipped.
func (e *Engine) checkTermination(rs *runState) {
	c := rs.ctx
	if c.State != models.RunStateRunning || !c.ShouldComplete() {
		return
	}
	evs, err := c.Complete()
	if err != nil {
		e.log.Error("complete run rejected", "run_id", c.RunID, "error", err)
		return
	}
	e.publish(rs, evs)
	e.persistRun(rs)
	if e.metrics != nil {
		e.metrics.RunsTerminal.WithLabelValues(models.RunStateCompleted).Inc()
	}
	e.log.Info("run completed", "run_id", c.RunID, "workflow_id", c.WorkflowID)

	rs.cancelRun()
	e.retire(c.RunID)
}

// failRun fails the whole run. Caller holds the run lock.
func (e *Engine) failRun(rs *runState, errMsg string) {
	c := rs.ctx
	if c.IsTerminal() {
		return
	}
	evs, err := c.Fail(errMsg)
	if err != nil {
		e.log.Error("fail run rejected", "run_id", c.RunID, "error", err)
		return
	}
	e.publish(rs, evs)
	e.persistRun(rs)
	if e.metrics != nil {
		e.metrics.RunsTerminal.WithLabelValues(models.RunStateFailed).Inc()
	}
	e.log.Error("run failed", "run_id", c.RunID, "workflow_id", c.WorkflowID, "error", errMsg)

	rs.cancelRun()
	e.retire(c.RunID)
}

func (e *Engine) observeNode(node *models.Node, rec *run.NodeRecord, state string) {
	if e.metrics == nil {
		return
	}
	e.metrics.NodeExecutions.WithLabelValues(node.Type, state).Inc()
	if rec.StartTime != nil && rec.EndTime != nil {
		e.metrics.NodeDuration.WithLabelValues(node.Type).Observe(rec.EndTime.Sub(*rec.StartTime).Seconds())
	}
}
