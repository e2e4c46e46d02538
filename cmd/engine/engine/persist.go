package engine

import (
	"context"
	"time"

	"github.com/flowgrid/flowgrid/cmd/engine/run"
	"github.com/flowgrid/flowgrid/common/hash"
	"github.com/flowgrid/flowgrid/common/models"
	"github.com/flowgrid/flowgrid/common/repository"
)

// Persister receives write-through state snapshots as the engine applies
// transitions. The event store remains the source of truth; these writes
// exist so the gateway can answer status queries without replaying.
type Persister interface {
	RunCreated(ctx context.Context, ex *models.WorkflowExecution) error
	RunState(ctx context.Context, runID, state string, result map[string]interface{}, errMsg string) error
	NodeState(ctx context.Context, ne *models.NodeExecution) error
}

// NopPersister discards all writes. Used in tests and replay tooling.
type NopPersister struct{}

func (NopPersister) RunCreated(context.Context, *models.WorkflowExecution) error { return nil }
func (NopPersister) RunState(context.Context, string, string, map[string]interface{}, string) error {
	return nil
}
func (NopPersister) NodeState(context.Context, *models.NodeExecution) error { return nil }

// RepositoryPersister writes through to Postgres.
type RepositoryPersister struct {
	runs *repository.ExecutionRepository
}

// NewRepositoryPersister wraps an execution repository.
func NewRepositoryPersister(runs *repository.ExecutionRepository) *RepositoryPersister {
	return &RepositoryPersister{runs: runs}
}

func (p *RepositoryPersister) RunCreated(ctx context.Context, ex *models.WorkflowExecution) error {
	return p.runs.CreateExecution(ctx, ex)
}

func (p *RepositoryPersister) RunState(ctx context.Context, runID, state string, result map[string]interface{}, errMsg string) error {
	return p.runs.UpdateExecutionState(ctx, runID, state, result, errMsg)
}

func (p *RepositoryPersister) NodeState(ctx context.Context, ne *models.NodeExecution) error {
	return p.runs.UpsertNodeExecution(ctx, ne)
}

// ReapStale marks runs abandoned in the database, e.g. after an engine crash
// left rows in running with no live context, as failed.
func (p *RepositoryPersister) ReapStale(ctx context.Context, olderThan time.Duration) (int, error) {
	stale, err := p.runs.ListStaleRunning(ctx, time.Now().UTC().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	for _, ex := range stale {
		if err := p.runs.UpdateExecutionState(ctx, ex.ID, models.RunStateFailed, nil, "abandoned by engine restart"); err != nil {
			return 0, err
		}
	}
	return len(stale), nil
}

// persistRun mirrors the run context's current state. Failures are logged,
// never fatal: the event store already holds the truth.
func (e *Engine) persistRun(rs *runState) {
	c := rs.ctx
	var result map[string]interface{}
	if c.State == models.RunStateCompleted {
		result = c.Result()
	}
	if err := e.persist.RunState(context.Background(), c.RunID, c.State, result, c.Error); err != nil {
		e.log.Error("run state write-through failed", "run_id", c.RunID, "state", c.State, "error", err)
	}
}

// persistNode mirrors one node record.
func (e *Engine) persistNode(rs *runState, rec *run.NodeRecord) {
	startedAt := time.Now().UTC()
	if rec.StartTime != nil {
		startedAt = *rec.StartTime
	}
	ne := &models.NodeExecution{
		ID:          hash.NewID(),
		ExecutionID: rs.ctx.RunID,
		NodeID:      rec.NodeID,
		State:       rec.State,
		Input:       rec.Input,
		Output:      rec.Output,
		Error:       rec.Error,
		StartedAt:   startedAt,
		CompletedAt: rec.EndTime,
	}
	if err := e.persist.NodeState(context.Background(), ne); err != nil {
		e.log.Error("node state write-through failed", "run_id", rs.ctx.RunID, "node_id", rec.NodeID, "error", err)
	}
}
