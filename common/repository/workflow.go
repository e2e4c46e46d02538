package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/flowgrid/flowgrid/common/db"
	"github.com/flowgrid/flowgrid/common/models"
)

// ErrNotFound is returned when a row does not exist for the tenant.
var ErrNotFound = errors.New("not found")

// WorkflowRepository handles database operations for workflow definitions
type WorkflowRepository struct {
	db *db.DB
}

// NewWorkflowRepository creates a new workflow repository
func NewWorkflowRepository(database *db.DB) *WorkflowRepository {
	return &WorkflowRepository{db: database}
}

// Create inserts a new workflow definition
func (r *WorkflowRepository) Create(ctx context.Context, wf *models.Workflow) error {
	nodesJSON, edgesJSON, err := wf.MarshalDefinition()
	if err != nil {
		return fmt.Errorf("marshal workflow definition: %w", err)
	}

	query := `
		INSERT INTO workflows (id, tenant_id, name, description, nodes, edges, tags, status, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err = r.db.Exec(ctx, query,
		wf.ID, wf.TenantID, wf.Name, wf.Description,
		nodesJSON, edgesJSON, wf.Tags, wf.Status, wf.Version,
		wf.CreatedAt, wf.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create workflow: %w", err)
	}
	return nil
}

// GetByID retrieves a workflow scoped to a tenant
func (r *WorkflowRepository) GetByID(ctx context.Context, tenantID, id string) (*models.Workflow, error) {
	query := `
		SELECT id, tenant_id, name, description, nodes, edges, tags, status, version, created_at, updated_at
		FROM workflows
		WHERE id = $1 AND tenant_id = $2
	`

	wf := &models.Workflow{}
	var nodesJSON, edgesJSON []byte
	err := r.db.QueryRow(ctx, query, id, tenantID).Scan(
		&wf.ID, &wf.TenantID, &wf.Name, &wf.Description,
		&nodesJSON, &edgesJSON, &wf.Tags, &wf.Status, &wf.Version,
		&wf.CreatedAt, &wf.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}

	if err := json.Unmarshal(nodesJSON, &wf.Nodes); err != nil {
		return nil, fmt.Errorf("unmarshal workflow nodes: %w", err)
	}
	if err := json.Unmarshal(edgesJSON, &wf.Edges); err != nil {
		return nil, fmt.Errorf("unmarshal workflow edges: %w", err)
	}
	return wf, nil
}

// Update replaces the mutable fields of a definition and bumps its version
func (r *WorkflowRepository) Update(ctx context.Context, wf *models.Workflow) error {
	nodesJSON, edgesJSON, err := wf.MarshalDefinition()
	if err != nil {
		return fmt.Errorf("marshal workflow definition: %w", err)
	}

	query := `
		UPDATE workflows
		SET name = $3, description = $4, nodes = $5, edges = $6, tags = $7,
		    version = version + 1, updated_at = now()
		WHERE id = $1 AND tenant_id = $2
	`

	tag, err := r.db.Exec(ctx, query,
		wf.ID, wf.TenantID, wf.Name, wf.Description, nodesJSON, edgesJSON, wf.Tags,
	)
	if err != nil {
		return fmt.Errorf("failed to update workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Publish transitions a draft definition to published
func (r *WorkflowRepository) Publish(ctx context.Context, tenantID, id string) error {
	query := `
		UPDATE workflows
		SET status = $3, updated_at = now()
		WHERE id = $1 AND tenant_id = $2 AND status = $4
	`

	tag, err := r.db.Exec(ctx, query, id, tenantID, models.WorkflowStatusPublished, models.WorkflowStatusDraft)
	if err != nil {
		return fmt.Errorf("failed to publish workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByTenant retrieves workflow definitions for a tenant, newest first
func (r *WorkflowRepository) ListByTenant(ctx context.Context, tenantID string, limit int) ([]*models.Workflow, error) {
	query := `
		SELECT id, tenant_id, name, description, nodes, edges, tags, status, version, created_at, updated_at
		FROM workflows
		WHERE tenant_id = $1
		ORDER BY updated_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	var out []*models.Workflow
	for rows.Next() {
		wf := &models.Workflow{}
		var nodesJSON, edgesJSON []byte
		err := rows.Scan(
			&wf.ID, &wf.TenantID, &wf.Name, &wf.Description,
			&nodesJSON, &edgesJSON, &wf.Tags, &wf.Status, &wf.Version,
			&wf.CreatedAt, &wf.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}
		if err := json.Unmarshal(nodesJSON, &wf.Nodes); err != nil {
			return nil, fmt.Errorf("unmarshal workflow nodes: %w", err)
		}
		if err := json.Unmarshal(edgesJSON, &wf.Edges); err != nil {
			return nil, fmt.Errorf("unmarshal workflow edges: %w", err)
		}
		out = append(out, wf)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}
	return out, nil
}

// FindByNodeID returns the published workflow of a tenant containing the node.
// Used by external trigger routing, where the caller knows only the node id.
func (r *WorkflowRepository) FindByNodeID(ctx context.Context, tenantID, nodeID string) (*models.Workflow, error) {
	query := `
		SELECT id, tenant_id, name, description, nodes, edges, tags, status, version, created_at, updated_at
		FROM workflows
		WHERE tenant_id = $1
		  AND status = 'published'
		  AND nodes @> $2::jsonb
		ORDER BY updated_at DESC
		LIMIT 1
	`

	probe, _ := json.Marshal([]map[string]string{{"id": nodeID}})

	wf := &models.Workflow{}
	var nodesJSON, edgesJSON []byte
	err := r.db.QueryRow(ctx, query, tenantID, probe).Scan(
		&wf.ID, &wf.TenantID, &wf.Name, &wf.Description,
		&nodesJSON, &edgesJSON, &wf.Tags, &wf.Status, &wf.Version,
		&wf.CreatedAt, &wf.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find workflow by node: %w", err)
	}

	if err := json.Unmarshal(nodesJSON, &wf.Nodes); err != nil {
		return nil, fmt.Errorf("unmarshal workflow nodes: %w", err)
	}
	if err := json.Unmarshal(edgesJSON, &wf.Edges); err != nil {
		return nil, fmt.Errorf("unmarshal workflow edges: %w", err)
	}
	return wf, nil
}
