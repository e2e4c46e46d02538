package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/flowgrid/flowgrid/common/db"
	"github.com/flowgrid/flowgrid/common/models"
)

// ExecutionRepository persists run and node-attempt records. The engine
// writes through here as it applies state machine transitions.
type ExecutionRepository struct {
	db *db.DB
}

// NewExecutionRepository creates a new execution repository
func NewExecutionRepository(database *db.DB) *ExecutionRepository {
	return &ExecutionRepository{db: database}
}

// CreateExecution inserts a new run record
func (r *ExecutionRepository) CreateExecution(ctx context.Context, ex *models.WorkflowExecution) error {
	metadata, err := json.Marshal(ex.Metadata)
	if err != nil {
		return fmt.Errorf("marshal execution metadata: %w", err)
	}

	query := `
		INSERT INTO workflow_executions (id, workflow_id, tenant_id, state, metadata, started_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
	`

	_, err = r.db.Exec(ctx, query, ex.ID, ex.WorkflowID, ex.TenantID, ex.State, metadata, ex.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to create execution: %w", err)
	}
	return nil
}

// UpdateExecutionState updates run state, result and error; terminal states
// also set completed_at.
func (r *ExecutionRepository) UpdateExecutionState(ctx context.Context, id, state string, result map[string]interface{}, errMsg string) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal execution result: %w", err)
	}

	query := `
		UPDATE workflow_executions
		SET state = $2,
		    result = CASE WHEN $3::jsonb = 'null'::jsonb THEN result ELSE $3::jsonb END,
		    error = NULLIF($4, ''),
		    completed_at = CASE WHEN $2 IN ('completed', 'failed', 'canceled') THEN now() ELSE completed_at END,
		    updated_at = now()
		WHERE id = $1
	`

	_, err = r.db.Exec(ctx, query, id, state, resultJSON, errMsg)
	if err != nil {
		return fmt.Errorf("failed to update execution state: %w", err)
	}
	return nil
}

// GetExecution retrieves one run record
func (r *ExecutionRepository) GetExecution(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	query := `
		SELECT id, workflow_id, tenant_id, state, metadata, result, COALESCE(error, ''), started_at, completed_at, updated_at
		FROM workflow_executions
		WHERE id = $1
	`

	ex := &models.WorkflowExecution{}
	var metadata, result []byte
	err := r.db.QueryRow(ctx, query, id).Scan(
		&ex.ID, &ex.WorkflowID, &ex.TenantID, &ex.State,
		&metadata, &result, &ex.Error, &ex.StartedAt, &ex.CompletedAt, &ex.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}

	if len(metadata) > 0 {
		_ = json.Unmarshal(metadata, &ex.Metadata)
	}
	if len(result) > 0 {
		_ = json.Unmarshal(result, &ex.Result)
	}
	return ex, nil
}

// ListByWorkflow retrieves runs of a workflow, newest first
func (r *ExecutionRepository) ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]*models.WorkflowExecution, error) {
	query := `
		SELECT id, workflow_id, tenant_id, state, metadata, result, COALESCE(error, ''), started_at, completed_at, updated_at
		FROM workflow_executions
		WHERE workflow_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, workflowID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var out []*models.WorkflowExecution
	for rows.Next() {
		ex := &models.WorkflowExecution{}
		var metadata, result []byte
		err := rows.Scan(
			&ex.ID, &ex.WorkflowID, &ex.TenantID, &ex.State,
			&metadata, &result, &ex.Error, &ex.StartedAt, &ex.CompletedAt, &ex.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		if len(metadata) > 0 {
			_ = json.Unmarshal(metadata, &ex.Metadata)
		}
		if len(result) > 0 {
			_ = json.Unmarshal(result, &ex.Result)
		}
		out = append(out, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}
	return out, nil
}

// UpsertNodeExecution records the latest state of a node within a run. One
// row per (run, node); attempts overwrite in place.
func (r *ExecutionRepository) UpsertNodeExecution(ctx context.Context, ne *models.NodeExecution) error {
	input, err := json.Marshal(ne.Input)
	if err != nil {
		return fmt.Errorf("marshal node input: %w", err)
	}
	output, err := json.Marshal(ne.Output)
	if err != nil {
		return fmt.Errorf("marshal node output: %w", err)
	}

	query := `
		INSERT INTO node_executions (id, workflow_execution_id, node_id, state, input, output, error, started_at, completed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, now())
		ON CONFLICT (workflow_execution_id, node_id) DO UPDATE
		SET state = EXCLUDED.state,
		    input = EXCLUDED.input,
		    output = EXCLUDED.output,
		    error = EXCLUDED.error,
		    completed_at = EXCLUDED.completed_at,
		    updated_at = now()
	`

	_, err = r.db.Exec(ctx, query,
		ne.ID, ne.ExecutionID, ne.NodeID, ne.State,
		input, output, ne.Error, ne.StartedAt, ne.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert node execution: %w", err)
	}
	return nil
}

// ListNodeExecutions retrieves attempts of one node across runs, newest first
func (r *ExecutionRepository) ListNodeExecutions(ctx context.Context, nodeID string, limit int) ([]*models.NodeExecution, error) {
	query := `
		SELECT id, workflow_execution_id, node_id, state, input, output, COALESCE(error, ''), started_at, completed_at, updated_at
		FROM node_executions
		WHERE node_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, nodeID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list node executions: %w", err)
	}
	defer rows.Close()

	return scanNodeExecutions(rows)
}

// ListNodesByExecution retrieves all node records of one run
func (r *ExecutionRepository) ListNodesByExecution(ctx context.Context, executionID string) ([]*models.NodeExecution, error) {
	query := `
		SELECT id, workflow_execution_id, node_id, state, input, output, COALESCE(error, ''), started_at, completed_at, updated_at
		FROM node_executions
		WHERE workflow_execution_id = $1
		ORDER BY started_at ASC
	`

	rows, err := r.db.Query(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list node executions: %w", err)
	}
	defer rows.Close()

	return scanNodeExecutions(rows)
}

func scanNodeExecutions(rows pgx.Rows) ([]*models.NodeExecution, error) {
	var out []*models.NodeExecution
	for rows.Next() {
		ne := &models.NodeExecution{}
		var input, output []byte
		err := rows.Scan(
			&ne.ID, &ne.ExecutionID, &ne.NodeID, &ne.State,
			&input, &output, &ne.Error, &ne.StartedAt, &ne.CompletedAt, &ne.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node execution: %w", err)
		}
		if len(input) > 0 {
			_ = json.Unmarshal(input, &ne.Input)
		}
		if len(output) > 0 {
			_ = json.Unmarshal(output, &ne.Output)
		}
		out = append(out, ne)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating node executions: %w", err)
	}
	return out, nil
}

// ListStaleRunning returns runs still marked running whose last update is
// older than the cutoff. Input to the stale-run reaper.
func (r *ExecutionRepository) ListStaleRunning(ctx context.Context, cutoff time.Time) ([]*models.WorkflowExecution, error) {
	query := `
		SELECT id, workflow_id, tenant_id, state, metadata, result, COALESCE(error, ''), started_at, completed_at, updated_at
		FROM workflow_executions
		WHERE state IN ('running', 'created') AND updated_at < $1
	`

	rows, err := r.db.Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale executions: %w", err)
	}
	defer rows.Close()

	var out []*models.WorkflowExecution
	for rows.Next() {
		ex := &models.WorkflowExecution{}
		var metadata, result []byte
		err := rows.Scan(
			&ex.ID, &ex.WorkflowID, &ex.TenantID, &ex.State,
			&metadata, &result, &ex.Error, &ex.StartedAt, &ex.CompletedAt, &ex.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		out = append(out, ex)
	}
	return out, rows.Err()
}
