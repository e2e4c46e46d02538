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

// ScheduledEventRepository persists scheduler entries
type ScheduledEventRepository struct {
	db *db.DB
}

// NewScheduledEventRepository creates a new scheduled event repository
func NewScheduledEventRepository(database *db.DB) *ScheduledEventRepository {
	return &ScheduledEventRepository{db: database}
}

// Upsert creates or replaces a scheduled event
func (r *ScheduledEventRepository) Upsert(ctx context.Context, ev *models.ScheduledEvent) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("marshal scheduled data: %w", err)
	}
	schedule, err := json.Marshal(ev.Schedule)
	if err != nil {
		return fmt.Errorf("marshal schedule: %w", err)
	}
	metadata, err := json.Marshal(ev.Metadata)
	if err != nil {
		return fmt.Errorf("marshal scheduled metadata: %w", err)
	}

	query := `
		INSERT INTO scheduled_events (id, tenant_id, workflow_id, node_id, data, schedule, status, last_run, next_run, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
		ON CONFLICT (id) DO UPDATE
		SET data = EXCLUDED.data,
		    schedule = EXCLUDED.schedule,
		    status = EXCLUDED.status,
		    next_run = EXCLUDED.next_run,
		    metadata = EXCLUDED.metadata,
		    updated_at = now()
	`

	_, err = r.db.Exec(ctx, query,
		ev.ID, ev.TenantID, ev.WorkflowID, ev.NodeID,
		data, schedule, ev.Status, ev.LastRun, ev.NextRun, metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert scheduled event: %w", err)
	}
	return nil
}

const scheduledColumns = `id, tenant_id, workflow_id, node_id, data, schedule, status, last_run, next_run, metadata, created_at, updated_at`

func scanScheduled(row pgx.Row) (*models.ScheduledEvent, error) {
	ev := &models.ScheduledEvent{}
	var data, schedule, metadata []byte
	err := row.Scan(
		&ev.ID, &ev.TenantID, &ev.WorkflowID, &ev.NodeID,
		&data, &schedule, &ev.Status, &ev.LastRun, &ev.NextRun, &metadata,
		&ev.CreatedAt, &ev.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(data) > 0 {
		_ = json.Unmarshal(data, &ev.Data)
	}
	if len(schedule) > 0 && string(schedule) != "null" {
		ev.Schedule = &models.Schedule{}
		_ = json.Unmarshal(schedule, ev.Schedule)
	}
	if len(metadata) > 0 {
		_ = json.Unmarshal(metadata, &ev.Metadata)
	}
	return ev, nil
}

// GetByID retrieves one scheduled event scoped to a tenant
func (r *ScheduledEventRepository) GetByID(ctx context.Context, tenantID, id string) (*models.ScheduledEvent, error) {
	query := `SELECT ` + scheduledColumns + ` FROM scheduled_events WHERE id = $1 AND tenant_id = $2`

	ev, err := scanScheduled(r.db.QueryRow(ctx, query, id, tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scheduled event: %w", err)
	}
	return ev, nil
}

// ListByTenant retrieves scheduled events, optionally filtered by status
func (r *ScheduledEventRepository) ListByTenant(ctx context.Context, tenantID, status string) ([]*models.ScheduledEvent, error) {
	query := `
		SELECT ` + scheduledColumns + `
		FROM scheduled_events
		WHERE tenant_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
	`

	rows, err := r.db.Query(ctx, query, tenantID, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled events: %w", err)
	}
	defer rows.Close()

	var out []*models.ScheduledEvent
	for rows.Next() {
		ev, err := scanScheduled(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan scheduled event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// UpdateStatus changes a scheduled event's status
func (r *ScheduledEventRepository) UpdateStatus(ctx context.Context, tenantID, id, status string) error {
	query := `
		UPDATE scheduled_events
		SET status = $3, updated_at = now()
		WHERE id = $1 AND tenant_id = $2
	`

	tag, err := r.db.Exec(ctx, query, id, tenantID, status)
	if err != nil {
		return fmt.Errorf("failed to update scheduled event status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkFired records a firing and the next due time. A nil nextRun on a
// one-shot event also completes it.
func (r *ScheduledEventRepository) MarkFired(ctx context.Context, id string, firedAt time.Time, nextRun *time.Time) error {
	query := `
		UPDATE scheduled_events
		SET last_run = $2,
		    next_run = $3,
		    status = CASE WHEN $3::timestamptz IS NULL THEN 'completed' ELSE status END,
		    updated_at = now()
		WHERE id = $1
	`

	_, err := r.db.Exec(ctx, query, id, firedAt, nextRun)
	if err != nil {
		return fmt.Errorf("failed to mark scheduled event fired: %w", err)
	}
	return nil
}

// ListDue returns active events whose next_run is at or before now
func (r *ScheduledEventRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledEvent, error) {
	query := `
		SELECT ` + scheduledColumns + `
		FROM scheduled_events
		WHERE status = 'active' AND next_run IS NOT NULL AND next_run <= $1
		ORDER BY next_run ASC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due scheduled events: %w", err)
	}
	defer rows.Close()

	var out []*models.ScheduledEvent
	for rows.Next() {
		ev, err := scanScheduled(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan scheduled event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
