package events

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store is the durable append-only event log keyed by (tenant, sequence).
type Store interface {
	// Append persists the event and assigns its per-tenant sequence number.
	Append(ctx context.Context, ev *Event) error

	// ByType returns up to limit events of the given type, newest first.
	ByType(ctx context.Context, eventType string, limit int) ([]*Event, error)

	// ByTenant returns up to limit events for a tenant, newest first.
	ByTenant(ctx context.Context, tenantID string, limit int) ([]*Event, error)

	// ByWorkflow returns all events carrying the workflow id, ascending.
	ByWorkflow(ctx context.Context, workflowID string) ([]*Event, error)

	// ByTimeRange returns events within [start, end], ascending by timestamp.
	ByTimeRange(ctx context.Context, start, end time.Time) ([]*Event, error)

	// Replay streams events in [start, end] in ascending timestamp order,
	// invoking the handler once per event in batches of batchSize. Events
	// sharing a timestamp are delivered in append order and are never lost
	// across a batch boundary. It returns the number of events processed.
	// A caller can restart by re-issuing with the last-processed
	// timestamp + 1ms.
	Replay(ctx context.Context, start, end time.Time, handler Handler, batchSize int) (int, error)
}

// MemoryStore is an in-process Store used by tests and single-node setups.
type MemoryStore struct {
	mu        sync.RWMutex
	events    []*Event
	sequences map[string]int64
}

// NewMemoryStore creates an empty in-memory event store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sequences: make(map[string]int64),
	}
}

// Append persists the event and assigns its per-tenant sequence number.
func (s *MemoryStore) Append(ctx context.Context, ev *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sequences[ev.TenantID]++
	ev.Sequence = s.sequences[ev.TenantID]

	clone := *ev
	s.events = append(s.events, &clone)
	return nil
}

// ByType returns up to limit events of the given type, newest first.
func (s *MemoryStore) ByType(ctx context.Context, eventType string, limit int) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Event
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		if s.events[i].Type == eventType {
			out = append(out, s.events[i])
		}
	}
	return out, nil
}

// ByTenant returns up to limit events for a tenant, newest first.
func (s *MemoryStore) ByTenant(ctx context.Context, tenantID string, limit int) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Event
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		if s.events[i].TenantID == tenantID {
			out = append(out, s.events[i])
		}
	}
	return out, nil
}

// ByWorkflow returns all events carrying the workflow id, ascending.
func (s *MemoryStore) ByWorkflow(ctx context.Context, workflowID string) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Event
	for _, ev := range s.events {
		if ev.WorkflowID() == workflowID {
			out = append(out, ev)
		}
	}
	return out, nil
}

// ByTimeRange returns events within [start, end], ascending by timestamp.
func (s *MemoryStore) ByTimeRange(ctx context.Context, start, end time.Time) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Event
	for _, ev := range s.events {
		if !ev.Timestamp.Before(start) && !ev.Timestamp.After(end) {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

// Replay streams events in ascending timestamp order through the handler.
// The whole range is snapshotted up front, so batch boundaries never drop
// events sharing a timestamp.
func (s *MemoryStore) Replay(ctx context.Context, start, end time.Time, handler Handler, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 100
	}

	all, err := s.ByTimeRange(ctx, start, end)
	if err != nil {
		return 0, err
	}

	processed := 0
	for i := 0; i < len(all); i += batchSize {
		j := i + batchSize
		if j > len(all) {
			j = len(all)
		}
		for _, ev := range all[i:j] {
			if err := ctx.Err(); err != nil {
				return processed, err
			}
			if err := handler(ev); err != nil {
				return processed, err
			}
			processed++
		}
	}
	return processed, nil
}
