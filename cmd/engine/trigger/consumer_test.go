package trigger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgrid/flowgrid/common/models"
	"github.com/flowgrid/flowgrid/common/redis"
	"github.com/flowgrid/flowgrid/common/repository"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Debug(string, ...interface{}) {}

type fakeEngine struct {
	mu           sync.Mutex
	started      []*models.TriggerRequest
	backpressure bool
}

func (f *fakeEngine) TriggerRun(ctx context.Context, wf *models.Workflow, startNodeID string, input map[string]interface{}, metadata map[string]interface{}) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, &models.TriggerRequest{
		TenantID:   wf.TenantID,
		WorkflowID: wf.ID,
		NodeID:     startNodeID,
		Input:      input,
		Metadata:   metadata,
	})
	return "run-1", nil
}

func (f *fakeEngine) Backpressured(context.Context) bool { return f.backpressure }

func (f *fakeEngine) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.started)
}

type fakeWorkflows struct {
	byID map[string]*models.Workflow
}

func (f *fakeWorkflows) GetByID(ctx context.Context, tenantID, id string) (*models.Workflow, error) {
	if wf, ok := f.byID[id]; ok && wf.TenantID == tenantID {
		return wf, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeWorkflows) FindByNodeID(ctx context.Context, tenantID, nodeID string) (*models.Workflow, error) {
	for _, wf := range f.byID {
		if wf.TenantID != tenantID {
			continue
		}
		for _, n := range wf.Nodes {
			if n.ID == nodeID {
				return wf, nil
			}
		}
	}
	return nil, repository.ErrNotFound
}

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	return redis.NewClient(rc, nopLogger{})
}

func TestConsumer_StartsRunOnce(t *testing.T) {
	rdb := newTestClient(t)
	eng := &fakeEngine{}
	wfs := &fakeWorkflows{byID: map[string]*models.Workflow{
		"wf1": {ID: "wf1", TenantID: "t1", Nodes: []models.Node{{ID: "hook", Type: "webhook", Name: "hook"}}},
	}}

	ctx := context.Background()
	req := &models.TriggerRequest{
		TriggerID:  "trig-1",
		TenantID:   "t1",
		WorkflowID: "wf1",
		NodeID:     "hook",
		Input:      map[string]interface{}{"payload": "hi"},
		CreatedAt:  time.Now(),
	}
	require.NoError(t, Publish(ctx, rdb, req))
	// Same trigger id published twice; only one run may start.
	require.NoError(t, Publish(ctx, rdb, req))

	c := NewConsumer(rdb, eng, wfs, nil, nil, nopLogger{}, "test-1")
	require.NoError(t, c.consumeBatch(ctx))

	require.Equal(t, 1, eng.count())
	started := eng.started[0]
	assert.Equal(t, "wf1", started.WorkflowID)
	assert.Equal(t, "hook", started.NodeID)
	assert.Equal(t, map[string]interface{}{"payload": "hi"}, started.Input)
}

func TestConsumer_ResolvesWorkflowByNode(t *testing.T) {
	rdb := newTestClient(t)
	eng := &fakeEngine{}
	wfs := &fakeWorkflows{byID: map[string]*models.Workflow{
		"wf1": {ID: "wf1", TenantID: "t1", Nodes: []models.Node{{ID: "hook", Type: "webhook", Name: "hook"}}},
	}}

	ctx := context.Background()
	require.NoError(t, Publish(ctx, rdb, &models.TriggerRequest{
		TriggerID: "trig-2", TenantID: "t1", NodeID: "hook", CreatedAt: time.Now(),
	}))

	c := NewConsumer(rdb, eng, wfs, nil, nil, nopLogger{}, "test-1")
	require.NoError(t, c.consumeBatch(ctx))

	require.Equal(t, 1, eng.count())
	assert.Equal(t, "wf1", eng.started[0].WorkflowID)
}

func TestConsumer_UnresolvedTargetAcked(t *testing.T) {
	rdb := newTestClient(t)
	eng := &fakeEngine{}
	wfs := &fakeWorkflows{byID: map[string]*models.Workflow{}}

	ctx := context.Background()
	require.NoError(t, Publish(ctx, rdb, &models.TriggerRequest{
		TriggerID: "trig-3", TenantID: "t1", WorkflowID: "ghost", CreatedAt: time.Now(),
	}))

	c := NewConsumer(rdb, eng, wfs, nil, nil, nopLogger{}, "test-1")
	require.NoError(t, c.consumeBatch(ctx))
	assert.Equal(t, 0, eng.count())

	// Nothing left pending on the stream.
	require.NoError(t, c.consumeBatch(ctx))
	assert.Equal(t, 0, eng.count())
}

func TestPublish_RequiresTriggerID(t *testing.T) {
	rdb := newTestClient(t)
	err := Publish(context.Background(), rdb, &models.TriggerRequest{TenantID: "t1"})
	assert.Error(t, err)
}
