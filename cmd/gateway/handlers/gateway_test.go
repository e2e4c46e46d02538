package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgrid/flowgrid/cmd/engine/strategy"
	"github.com/flowgrid/flowgrid/cmd/gateway/handlers"
	"github.com/flowgrid/flowgrid/cmd/gateway/routes"
	"github.com/flowgrid/flowgrid/common/cache"
	"github.com/flowgrid/flowgrid/common/config"
	"github.com/flowgrid/flowgrid/common/expr"
	"github.com/flowgrid/flowgrid/common/hash"
	"github.com/flowgrid/flowgrid/common/models"
	"github.com/flowgrid/flowgrid/common/redis"
	"github.com/flowgrid/flowgrid/common/repository"
	"github.com/flowgrid/flowgrid/common/webhook"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Debug(string, ...interface{}) {}

type fakeWorkflows struct {
	mu  sync.Mutex
	byID map[string]*models.Workflow
}

func newFakeWorkflows() *fakeWorkflows {
	return &fakeWorkflows{byID: make(map[string]*models.Workflow)}
}

func (f *fakeWorkflows) Create(ctx context.Context, wf *models.Workflow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *wf
	f.byID[wf.ID] = &cp
	return nil
}

func (f *fakeWorkflows) GetByID(ctx context.Context, tenantID, id string) (*models.Workflow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wf, ok := f.byID[id]
	if !ok || wf.TenantID != tenantID {
		return nil, repository.ErrNotFound
	}
	cp := *wf
	return &cp, nil
}

func (f *fakeWorkflows) Update(ctx context.Context, wf *models.Workflow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.byID[wf.ID]
	if !ok || cur.TenantID != wf.TenantID {
		return repository.ErrNotFound
	}
	cp := *wf
	cp.Version = cur.Version + 1
	cp.Status = cur.Status
	f.byID[wf.ID] = &cp
	return nil
}

func (f *fakeWorkflows) Publish(ctx context.Context, tenantID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	wf, ok := f.byID[id]
	if !ok || wf.TenantID != tenantID || wf.Status != models.WorkflowStatusDraft {
		return repository.ErrNotFound
	}
	wf.Status = models.WorkflowStatusPublished
	return nil
}

func (f *fakeWorkflows) ListByTenant(ctx context.Context, tenantID string, limit int) ([]*models.Workflow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Workflow
	for _, wf := range f.byID {
		if wf.TenantID == tenantID {
			cp := *wf
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeWorkflows) FindByNodeID(ctx context.Context, tenantID, nodeID string) (*models.Workflow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, wf := range f.byID {
		if wf.TenantID != tenantID || wf.Status != models.WorkflowStatusPublished {
			continue
		}
		for _, n := range wf.Nodes {
			if n.ID == nodeID {
				cp := *wf
				return &cp, nil
			}
		}
	}
	return nil, repository.ErrNotFound
}

type fakeExecutions struct {
	runs  map[string]*models.WorkflowExecution
	nodes []*models.NodeExecution
}

func (f *fakeExecutions) GetExecution(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	ex, ok := f.runs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return ex, nil
}

func (f *fakeExecutions) ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]*models.WorkflowExecution, error) {
	var out []*models.WorkflowExecution
	for _, ex := range f.runs {
		if ex.WorkflowID == workflowID {
			out = append(out, ex)
		}
	}
	return out, nil
}

func (f *fakeExecutions) ListNodeExecutions(ctx context.Context, nodeID string, limit int) ([]*models.NodeExecution, error) {
	var out []*models.NodeExecution
	for _, ne := range f.nodes {
		if ne.NodeID == nodeID {
			out = append(out, ne)
		}
	}
	return out, nil
}

func (f *fakeExecutions) ListNodesByExecution(ctx context.Context, executionID string) ([]*models.NodeExecution, error) {
	var out []*models.NodeExecution
	for _, ne := range f.nodes {
		if ne.ExecutionID == executionID {
			out = append(out, ne)
		}
	}
	return out, nil
}

type fakeSchedules struct {
	mu   sync.Mutex
	byID map[string]*models.ScheduledEvent
}

func newFakeSchedules() *fakeSchedules {
	return &fakeSchedules{byID: make(map[string]*models.ScheduledEvent)}
}

func (f *fakeSchedules) Upsert(ctx context.Context, ev *models.ScheduledEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *ev
	f.byID[ev.ID] = &cp
	return nil
}

func (f *fakeSchedules) GetByID(ctx context.Context, tenantID, id string) (*models.ScheduledEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.byID[id]
	if !ok || ev.TenantID != tenantID {
		return nil, repository.ErrNotFound
	}
	cp := *ev
	return &cp, nil
}

func (f *fakeSchedules) ListByTenant(ctx context.Context, tenantID, status string) ([]*models.ScheduledEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.ScheduledEvent
	for _, ev := range f.byID {
		if ev.TenantID == tenantID && (status == "" || ev.Status == status) {
			cp := *ev
			out = append(out, &cp)
		}
	}
	return out, nil
}

type app struct {
	e      *echo.Echo
	wfs    *fakeWorkflows
	execs  *fakeExecutions
	scheds *fakeSchedules
	raw    *goredis.Client
}

const slackSecret = "slack-signing-secret"

func newApp(t *testing.T) *app {
	t.Helper()

	mr := miniredis.RunT(t)
	raw := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = raw.Close() })
	rdb := redis.NewClient(raw, nopLogger{})

	wfs := newFakeWorkflows()
	execs := &fakeExecutions{runs: make(map[string]*models.WorkflowExecution)}
	scheds := newFakeSchedules()
	defs := cache.NewDefinitions(wfs, time.Minute)

	evaluator, err := expr.New()
	require.NoError(t, err)
	registry := strategy.NewDefaultRegistry(evaluator, nil)

	adapters := webhook.NewRegistry(&webhook.SlackAdapter{}, &webhook.MetaAdapter{}, &webhook.TwitterAdapter{})
	secrets := config.WebhookConfig{SlackSigningSecret: slackSecret}

	e := echo.New()
	routes.Register(e, &routes.Handlers{
		Workflows:  handlers.NewWorkflowHandler(wfs, defs, registry, nopLogger{}),
		Triggers:   handlers.NewTriggerHandler(defs, rdb, nil, nopLogger{}),
		Executions: handlers.NewExecutionHandler(wfs, execs, nopLogger{}),
		Scheduler:  handlers.NewSchedulerHandler(scheds, rdb, "UTC", nopLogger{}),
		Webhooks:   handlers.NewWebhookHandler(adapters, defs, rdb, secrets, nil, nopLogger{}),
	})

	return &app{e: e, wfs: wfs, execs: execs, scheds: scheds, raw: raw}
}

func (a *app) do(method, path, tenant string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if tenant != "" {
		req.Header.Set("X-Tenant-ID", tenant)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func validDoc() map[string]interface{} {
	return map[string]interface{}{
		"name": "order-intake",
		"nodes": []map[string]interface{}{
			{"id": "in", "type": "transform", "name": "in", "config": map[string]interface{}{
				"transformationType": "map",
				"template":           "input",
			}},
			{"id": "out", "type": "webhook", "name": "out"},
		},
		"edges": []map[string]interface{}{
			{"source": "in", "target": "out"},
		},
	}
}

func (a *app) createWorkflow(t *testing.T, tenant string) string {
	t.Helper()
	rec := a.do(http.MethodPost, "/workflows", tenant, validDoc())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id, _ := decode(t, rec)["id"].(string)
	require.NotEmpty(t, id)
	return id
}

func (a *app) streamEntries(t *testing.T) []goredis.XMessage {
	t.Helper()
	msgs, err := a.raw.XRange(context.Background(), "wf.triggers", "-", "+").Result()
	require.NoError(t, err)
	return msgs
}

func TestCreateWorkflow(t *testing.T) {
	a := newApp(t)

	id := a.createWorkflow(t, "acme")

	rec := a.do(http.MethodGet, "/workflows/"+id, "acme", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode(t, rec)
	assert.Equal(t, models.WorkflowStatusDraft, got["status"])
	assert.Equal(t, float64(1), got["version"])

	// Other tenants cannot see it.
	rec = a.do(http.MethodGet, "/workflows/"+id, "globex", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateWorkflow_RequiresTenant(t *testing.T) {
	a := newApp(t)

	rec := a.do(http.MethodPost, "/workflows", "", validDoc())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateWorkflow_RejectsBadDefinitions(t *testing.T) {
	a := newApp(t)

	cases := map[string]map[string]interface{}{
		"unknown node type": {
			"name":  "bad",
			"nodes": []map[string]interface{}{{"id": "a", "type": "teleport", "name": "a"}},
		},
		"duplicate node id": {
			"name": "bad",
			"nodes": []map[string]interface{}{
				{"id": "a", "type": "webhook", "name": "a"},
				{"id": "a", "type": "webhook", "name": "b"},
			},
		},
		"edge to unknown node": {
			"name":  "bad",
			"nodes": []map[string]interface{}{{"id": "a", "type": "webhook", "name": "a"}},
			"edges": []map[string]interface{}{{"source": "a", "target": "ghost"}},
		},
		"cycle": {
			"name": "bad",
			"nodes": []map[string]interface{}{
				{"id": "a", "type": "webhook", "name": "a"},
				{"id": "b", "type": "webhook", "name": "b"},
			},
			"edges": []map[string]interface{}{
				{"source": "a", "target": "b"},
				{"source": "b", "target": "a"},
			},
		},
		"missing name": {
			"nodes": []map[string]interface{}{{"id": "a", "type": "webhook", "name": "a"}},
		},
	}

	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			rec := a.do(http.MethodPost, "/workflows", "acme", doc)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestUpdateWorkflow_MergePatch(t *testing.T) {
	a := newApp(t)
	id := a.createWorkflow(t, "acme")

	rec := a.do(http.MethodPut, "/workflows/"+id, "acme", map[string]interface{}{
		"description": "intake pipeline",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode(t, rec)
	assert.Equal(t, "intake pipeline", got["description"])
	assert.Equal(t, float64(2), got["version"])
	assert.Equal(t, "order-intake", got["name"])

	// Patches that break the definition are rejected whole.
	rec = a.do(http.MethodPut, "/workflows/"+id, "acme", map[string]interface{}{
		"nodes": []map[string]interface{}{{"id": "x", "type": "teleport", "name": "x"}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateWorkflow_PublishedIsImmutable(t *testing.T) {
	a := newApp(t)
	id := a.createWorkflow(t, "acme")

	rec := a.do(http.MethodPost, "/workflows/"+id+"/publish", "acme", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(http.MethodPut, "/workflows/"+id, "acme", map[string]interface{}{"description": "x"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = a.do(http.MethodPost, "/workflows/"+id+"/publish", "acme", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestTriggerNode(t *testing.T) {
	a := newApp(t)
	id := a.createWorkflow(t, "acme")
	rec := a.do(http.MethodPost, "/workflows/"+id+"/publish", "acme", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(http.MethodPost, "/nodes/in/trigger", "acme", map[string]interface{}{
		"input": map[string]interface{}{"v": 3},
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	triggerID, _ := decode(t, rec)["triggerId"].(string)
	require.NotEmpty(t, triggerID)

	msgs := a.streamEntries(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, triggerID, msgs[0].Values["trigger_id"])
	assert.Equal(t, "acme", msgs[0].Values["tenant_id"])
	assert.Equal(t, id, msgs[0].Values["workflow_id"])
}

func TestTriggerNode_UnknownNode(t *testing.T) {
	a := newApp(t)

	rec := a.do(http.MethodPost, "/nodes/ghost/trigger", "acme", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, a.streamEntries(t))
}

func TestListExecutions(t *testing.T) {
	a := newApp(t)
	id := a.createWorkflow(t, "acme")

	a.execs.runs["run-1"] = &models.WorkflowExecution{
		ID: "run-1", WorkflowID: id, TenantID: "acme", State: models.RunStateCompleted,
	}
	a.execs.nodes = append(a.execs.nodes, &models.NodeExecution{
		ID: hash.NewID(), ExecutionID: "run-1", NodeID: "in", State: models.NodeStateCompleted,
	})

	rec := a.do(http.MethodGet, "/workflows/"+id+"/executions", "acme", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode(t, rec)
	assert.Len(t, got["executions"], 1)

	rec = a.do(http.MethodGet, "/nodes/in/executions", "acme", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["executions"], 1)

	rec = a.do(http.MethodGet, "/executions/run-1", "acme", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got = decode(t, rec)
	assert.NotNil(t, got["execution"])
	assert.Len(t, got["nodes"], 1)

	// Runs are invisible across tenants.
	rec = a.do(http.MethodGet, "/executions/run-1", "globex", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScheduledEvents(t *testing.T) {
	a := newApp(t)

	rec := a.do(http.MethodPost, "/scheduler/acme/events", "", map[string]interface{}{
		"workflow_id": "wf-1",
		"node_id":     "in",
		"data":        map[string]interface{}{"v": 1},
		"schedule":    map[string]interface{}{"cron": "0 * * * *"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode(t, rec)
	id, _ := created["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, models.ScheduleStatusActive, created["status"])
	assert.NotEmpty(t, created["next_run"])

	rec = a.do(http.MethodGet, "/scheduler/acme/events?status=active", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["events"], 1)

	rec = a.do(http.MethodPatch, "/scheduler/acme/events/"+id+"/status", "", map[string]interface{}{
		"status": "paused",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.ScheduleStatusPaused, decode(t, rec)["status"])

	rec = a.do(http.MethodGet, "/scheduler/acme/events?status=active", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode(t, rec)["events"])

	rec = a.do(http.MethodPatch, "/scheduler/acme/events/"+id+"/status", "", map[string]interface{}{
		"status": "snoozed",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScheduledEvent_RejectsBadCron(t *testing.T) {
	a := newApp(t)

	rec := a.do(http.MethodPost, "/scheduler/acme/events", "", map[string]interface{}{
		"node_id":  "in",
		"schedule": map[string]interface{}{"cron": "not a cron"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScheduledEvent_FireNow(t *testing.T) {
	a := newApp(t)

	rec := a.do(http.MethodPost, "/scheduler/acme/events", "", map[string]interface{}{
		"workflow_id": "wf-1",
		"node_id":     "in",
		"data":        map[string]interface{}{"v": 7},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	id, _ := decode(t, rec)["id"].(string)

	rec = a.do(http.MethodPost, "/scheduler/acme/events/"+id+"/trigger", "", nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	msgs := a.streamEntries(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, "acme", msgs[0].Values["tenant_id"])
	assert.Equal(t, "in", msgs[0].Values["node_id"])
}

func slackSign(ts string, body []byte) string {
	base := fmt.Sprintf("v0:%s:%s", ts, body)
	return "v0=" + hash.SignHMAC([]byte(base), slackSecret)
}

func (a *app) doSlack(body []byte, sign bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/slack/acme/wf-hooks", bytes.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if sign {
		ts := fmt.Sprint(time.Now().Unix())
		req.Header.Set("X-Slack-Request-Timestamp", ts)
		req.Header.Set("X-Slack-Signature", slackSign(ts, body))
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

func seedPublishedHookWorkflow(t *testing.T, a *app) {
	t.Helper()
	require.NoError(t, a.wfs.Create(context.Background(), &models.Workflow{
		ID:       "wf-hooks",
		TenantID: "acme",
		Name:     "hooks",
		Nodes:    []models.Node{{ID: "hook", Type: "webhook", Name: "hook"}},
		Status:   models.WorkflowStatusPublished,
		Version:  1,
	}))
}

func TestWebhook_SlackChallenge(t *testing.T) {
	a := newApp(t)

	body, _ := json.Marshal(map[string]string{
		"type":      "url_verification",
		"challenge": "abc123",
	})
	rec := a.doSlack(body, false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "abc123")
	assert.Empty(t, a.streamEntries(t))
}

func TestWebhook_SlackRejectsBadSignature(t *testing.T) {
	a := newApp(t)
	seedPublishedHookWorkflow(t, a)

	body, _ := json.Marshal(map[string]interface{}{
		"type":  "event_callback",
		"event": map[string]interface{}{"type": "message", "text": "hi"},
	})
	rec := a.doSlack(body, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, a.streamEntries(t))
}

func TestWebhook_SlackEventTriggersWorkflow(t *testing.T) {
	a := newApp(t)
	seedPublishedHookWorkflow(t, a)

	body, _ := json.Marshal(map[string]interface{}{
		"type":    "event_callback",
		"team_id": "T1",
		"event": map[string]interface{}{
			"type": "message", "user": "U1", "channel": "C1", "text": "order 42",
		},
	})
	rec := a.doSlack(body, true)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, "message", decode(t, rec)["eventType"])

	msgs := a.streamEntries(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, "wf-hooks", msgs[0].Values["workflow_id"])
	assert.Equal(t, "acme", msgs[0].Values["tenant_id"])
}

func TestWebhook_UnknownProvider(t *testing.T) {
	a := newApp(t)

	rec := a.do(http.MethodPost, "/webhooks/carrier-pigeon/acme/wf-1", "", map[string]interface{}{})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
