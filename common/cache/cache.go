// Package cache provides a read-through TTL cache over stored workflow
// definitions. The gateway and the trigger consumer resolve a definition on
// every request; definitions change rarely, so a short TTL absorbs most of
// the lookups without a second storage round trip.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/flowgrid/flowgrid/common/models"
)

// Source is the backing store the cache reads through to.
type Source interface {
	GetByID(ctx context.Context, tenantID, id string) (*models.Workflow, error)
	FindByNodeID(ctx context.Context, tenantID, nodeID string) (*models.Workflow, error)
}

type entry struct {
	wf        *models.Workflow
	expiresAt time.Time
}

// Definitions caches workflow definitions keyed by id and by node id, both
// tenant-scoped. Entries expire after the TTL; writers call Invalidate so
// updates show up before that.
type Definitions struct {
	source Source
	ttl    time.Duration

	mu     sync.RWMutex
	byID   map[string]entry
	byNode map[string]entry
}

// NewDefinitions creates a definitions cache. A non-positive ttl defaults to
// 30 seconds.
func NewDefinitions(source Source, ttl time.Duration) *Definitions {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Definitions{
		source: source,
		ttl:    ttl,
		byID:   make(map[string]entry),
		byNode: make(map[string]entry),
	}
}

// GetByID returns the tenant's definition, from cache when fresh.
func (d *Definitions) GetByID(ctx context.Context, tenantID, id string) (*models.Workflow, error) {
	key := tenantID + "/" + id
	if wf, ok := d.lookup(d.byID, key); ok {
		return wf, nil
	}

	wf, err := d.source.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	d.store(d.byID, key, wf)
	return wf, nil
}

// FindByNodeID returns the tenant's published definition containing the
// node, from cache when fresh.
func (d *Definitions) FindByNodeID(ctx context.Context, tenantID, nodeID string) (*models.Workflow, error) {
	key := tenantID + "/" + nodeID
	if wf, ok := d.lookup(d.byNode, key); ok {
		return wf, nil
	}

	wf, err := d.source.FindByNodeID(ctx, tenantID, nodeID)
	if err != nil {
		return nil, err
	}
	d.store(d.byNode, key, wf)
	return wf, nil
}

// Invalidate drops every cached view of one definition. Called after
// updates and publishes.
func (d *Definitions) Invalidate(tenantID, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.byID, tenantID+"/"+id)
	for key, e := range d.byNode {
		if e.wf.ID == id && e.wf.TenantID == tenantID {
			delete(d.byNode, key)
		}
	}
}

func (d *Definitions) lookup(m map[string]entry, key string) (*models.Workflow, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	e, ok := m[key]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.wf, true
}

func (d *Definitions) store(m map[string]entry, key string, wf *models.Workflow) {
	d.mu.Lock()
	defer d.mu.Unlock()
	m[key] = entry{wf: wf, expiresAt: time.Now().Add(d.ttl)}
}
