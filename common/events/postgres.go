package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/flowgrid/flowgrid/common/db"
)

// PostgresStore persists events to the event_store table. Sequence numbers
// are assigned per tenant inside the append transaction, so they are monotone
// per (tenant, store) and gap-free within a single process.
type PostgresStore struct {
	db *db.DB
}

// NewPostgresStore creates a Postgres-backed event store.
func NewPostgresStore(database *db.DB) *PostgresStore {
	return &PostgresStore{db: database}
}

// Append persists the event and assigns its per-tenant sequence number.
func (s *PostgresStore) Append(ctx context.Context, ev *Event) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin append tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Appends for a tenant are serialized by an advisory lock held to commit;
	// the aggregate read itself cannot take row locks.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, ev.TenantID); err != nil {
		return fmt.Errorf("lock tenant sequence %s: %w", ev.TenantID, err)
	}

	err = tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(sequence_number), 0) + 1
		FROM event_store
		WHERE tenant_id = $1
	`, ev.TenantID).Scan(&ev.Sequence)
	if err != nil {
		return fmt.Errorf("next sequence for tenant %s: %w", ev.TenantID, err)
	}

	var workflowID, jobID *string
	if v := ev.WorkflowID(); v != "" {
		workflowID = &v
	}
	if v := ev.metaString(MetaJobID); v != "" {
		jobID = &v
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO event_store (id, event_type, tenant_id, workflow_id, job_id, payload, sequence_number, timestamp, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'published')
	`, ev.ID, ev.Type, ev.TenantID, workflowID, jobID, payload, ev.Sequence, ev.Timestamp)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit append tx: %w", err)
	}
	return nil
}

const eventColumns = `id, event_type, tenant_id, COALESCE(workflow_id, ''), COALESCE(job_id, ''), payload, sequence_number, timestamp`

func (s *PostgresStore) scanEvents(ctx context.Context, query string, args ...interface{}) ([]*Event, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		var (
			ev         Event
			workflowID string
			jobID      string
			payload    []byte
		)
		if err := rows.Scan(&ev.ID, &ev.Type, &ev.TenantID, &workflowID, &jobID, &payload, &ev.Sequence, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &ev.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal event payload: %w", err)
			}
		}
		if workflowID != "" || jobID != "" {
			ev.Metadata = map[string]interface{}{}
			if workflowID != "" {
				ev.Metadata[MetaWorkflowID] = workflowID
			}
			if jobID != "" {
				ev.Metadata[MetaJobID] = jobID
			}
		}
		out = append(out, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

// ByType returns up to limit events of the given type, newest first.
func (s *PostgresStore) ByType(ctx context.Context, eventType string, limit int) ([]*Event, error) {
	return s.scanEvents(ctx, `
		SELECT `+eventColumns+`
		FROM event_store
		WHERE event_type = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`, eventType, limit)
}

// ByTenant returns up to limit events for a tenant, newest first.
func (s *PostgresStore) ByTenant(ctx context.Context, tenantID string, limit int) ([]*Event, error) {
	return s.scanEvents(ctx, `
		SELECT `+eventColumns+`
		FROM event_store
		WHERE tenant_id = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`, tenantID, limit)
}

// ByWorkflow returns all events carrying the workflow id, ascending.
func (s *PostgresStore) ByWorkflow(ctx context.Context, workflowID string) ([]*Event, error) {
	return s.scanEvents(ctx, `
		SELECT `+eventColumns+`
		FROM event_store
		WHERE workflow_id = $1
		ORDER BY timestamp ASC, sequence_number ASC
	`, workflowID)
}

// ByTimeRange returns events within [start, end], ascending by timestamp.
func (s *PostgresStore) ByTimeRange(ctx context.Context, start, end time.Time) ([]*Event, error) {
	return s.scanEvents(ctx, `
		SELECT `+eventColumns+`
		FROM event_store
		WHERE timestamp >= $1 AND timestamp <= $2
		ORDER BY timestamp ASC, sequence_number ASC
	`, start, end)
}

// Replay streams events in (timestamp, sequence_number) order through the
// handler in batches of batchSize. Batches paginate on that keyset so events
// sharing a timestamp are never skipped across a batch boundary. Restartable:
// resume from last timestamp + 1ms.
func (s *PostgresStore) Replay(ctx context.Context, start, end time.Time, handler Handler, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 100
	}

	processed := 0
	var (
		afterTS  time.Time
		afterSeq int64
		started  bool
	)
	for {
		var (
			batch []*Event
			err   error
		)
		if !started {
			batch, err = s.scanEvents(ctx, `
				SELECT `+eventColumns+`
				FROM event_store
				WHERE timestamp >= $1 AND timestamp <= $2
				ORDER BY timestamp ASC, sequence_number ASC
				LIMIT $3
			`, start, end, batchSize)
		} else {
			batch, err = s.scanEvents(ctx, `
				SELECT `+eventColumns+`
				FROM event_store
				WHERE (timestamp, sequence_number) > ($1, $2) AND timestamp <= $3
				ORDER BY timestamp ASC, sequence_number ASC
				LIMIT $4
			`, afterTS, afterSeq, end, batchSize)
		}
		if err != nil {
			return processed, err
		}
		if len(batch) == 0 {
			return processed, nil
		}

		for _, ev := range batch {
			if err := ctx.Err(); err != nil {
				return processed, err
			}
			if err := handler(ev); err != nil {
				return processed, err
			}
			processed++
		}

		last := batch[len(batch)-1]
		afterTS, afterSeq = last.Timestamp, last.Sequence
		started = true
	}
}
