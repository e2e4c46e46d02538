package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/flowgrid/flowgrid/cmd/engine/run"
	"github.com/flowgrid/flowgrid/common/graph"
	"github.com/flowgrid/flowgrid/common/hash"
	"github.com/flowgrid/flowgrid/common/models"
	"github.com/flowgrid/flowgrid/common/queue"
)

// TriggerRun creates and starts a run of the workflow. When startNodeID is
// empty every entry node is scheduled; otherwise only the named node runs and
// the remaining entry nodes are skipped, which cascades suppression through
// the parts of the graph the trigger does not reach.
func (e *Engine) TriggerRun(ctx context.Context, wf *models.Workflow, startNodeID string, input map[string]interface{}, metadata map[string]interface{}) (string, error) {
	processed, err := graph.Process(wf.Nodes, wf.Edges)
	if err != nil {
		return "", fmt.Errorf("workflow %s rejected: %w", wf.ID, err)
	}
	if startNodeID != "" {
		if _, ok := processed.Nodes[startNodeID]; !ok {
			return "", fmt.Errorf("workflow %s has no node %s", wf.ID, startNodeID)
		}
	}

	runID := hash.NewID()
	rc := run.NewContext(runID, wf.ID, wf.TenantID, processed, input, run.Config{
		MaxRetries: e.cfg.MaxRetries,
		RetryDelay: e.cfg.RetryDelay,
		Timeout:    e.cfg.NodeTimeout,
	})

	// The run outlives the trigger delivery's context.
	runCtx, cancelRun := context.WithCancel(context.Background())
	rs := &runState{
		ctx:       rc,
		workflow:  wf,
		inflight:  make(map[string]bool),
		resolved:  make(map[string]map[string]string),
		cancels:   make(map[string]context.CancelFunc),
		runCtx:    runCtx,
		cancelRun: cancelRun,
	}
	rs.touch()

	e.mu.Lock()
	e.runs[runID] = rs
	e.mu.Unlock()

	if err := e.persist.RunCreated(ctx, &models.WorkflowExecution{
		ID:         runID,
		WorkflowID: wf.ID,
		TenantID:   wf.TenantID,
		State:      models.RunStateCreated,
		Metadata:   metadata,
		StartedAt:  rc.StartTime,
	}); err != nil {
		e.log.Error("run create write-through failed", "run_id", runID, "error", err)
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	evs, err := rc.Start()
	if err != nil {
		return "", err
	}
	e.publish(rs, evs)
	e.persistRun(rs)
	if e.metrics != nil {
		e.metrics.RunsStarted.Inc()
	}

	if startNodeID != "" {
		e.scheduleNode(rs, startNodeID, 1)
		for _, entry := range processed.Entry {
			if entry != startNodeID {
				e.skipNode(rs, entry)
			}
		}
	} else {
		for _, entry := range processed.Entry {
			e.scheduleNode(rs, entry, 1)
		}
	}
	e.checkTermination(rs)

	e.log.Info("run started", "run_id", runID, "workflow_id", wf.ID, "tenant_id", wf.TenantID, "start_node", startNodeID)
	return runID, nil
}

// scheduleNode applies the schedule transition and enqueues the job. Caller
// holds the run lock and the run is Running.
func (e *Engine) scheduleNode(rs *runState, nodeID string, attempt int) {
	evs, err := rs.ctx.ScheduleNode(nodeID, attempt)
	if err != nil {
		e.log.Error("schedule rejected", "run_id", rs.ctx.RunID, "node_id", nodeID, "error", err)
		return
	}
	e.publish(rs, evs)
	rs.touch()

	e.enqueue(rs, nodeID, attempt, 0)
}

func (e *Engine) enqueue(rs *runState, nodeID string, attempt int, delay time.Duration) {
	node := rs.ctx.Processed.Nodes[nodeID]
	job := &queue.Job{
		ID:      hash.NewID(),
		RunID:   rs.ctx.RunID,
		NodeID:  nodeID,
		Attempt: attempt,
		Lane:    queue.LaneFor(node.Type),
	}

	var err error
	if delay > 0 {
		err = e.queue.EnqueueAfter(rs.runCtx, job, delay)
	} else {
		err = e.queue.Enqueue(rs.runCtx, job)
	}
	if err != nil {
		e.log.Error("enqueue failed", "run_id", rs.ctx.RunID, "node_id", nodeID, "lane", job.Lane, "error", err)
		e.failRun(rs, fmt.Sprintf("enqueue %s: %v", nodeID, err))
	}
}
