package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/flowgrid/flowgrid/cmd/engine/trigger"
	"github.com/flowgrid/flowgrid/common/hash"
	"github.com/flowgrid/flowgrid/common/models"
	"github.com/flowgrid/flowgrid/common/redis"
	"github.com/flowgrid/flowgrid/common/schedule"
)

// ScheduleStore is the scheduled-event storage surface the gateway manages.
type ScheduleStore interface {
	Upsert(ctx context.Context, ev *models.ScheduledEvent) error
	GetByID(ctx context.Context, tenantID, id string) (*models.ScheduledEvent, error)
	ListByTenant(ctx context.Context, tenantID, status string) ([]*models.ScheduledEvent, error)
}

// scheduledEventBody is the authorable slice of a scheduled event.
type scheduledEventBody struct {
	ID         string                 `json:"id,omitempty"`
	WorkflowID string                 `json:"workflow_id,omitempty"`
	NodeID     string                 `json:"node_id,omitempty"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Schedule   *models.Schedule       `json:"schedule,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// SchedulerHandler manages scheduled events for the dispatcher.
type SchedulerHandler struct {
	events    ScheduleStore
	rdb       *redis.Client
	defaultTZ string
	log       Logger

	now func() time.Time
}

// NewSchedulerHandler creates a scheduler handler.
func NewSchedulerHandler(events ScheduleStore, rdb *redis.Client, defaultTZ string, log Logger) *SchedulerHandler {
	return &SchedulerHandler{events: events, rdb: rdb, defaultTZ: defaultTZ, log: log, now: time.Now}
}

// Upsert handles POST /scheduler/:tenant/events. A body with an existing id
// replaces that event; without one it creates a new event. An event with no
// schedule is one-shot and becomes due immediately.
func (h *SchedulerHandler) Upsert(c echo.Context) error {
	tenant := c.Param("tenant")

	var body scheduledEventBody
	if err := c.Bind(&body); err != nil {
		return errJSON(c, http.StatusBadRequest, "invalid request body")
	}
	if body.WorkflowID == "" && body.NodeID == "" {
		return errJSON(c, http.StatusBadRequest, "workflow_id or node_id is required")
	}
	if body.Schedule != nil {
		if err := schedule.Validate(body.Schedule); err != nil {
			return errJSON(c, http.StatusBadRequest, err.Error())
		}
	}

	now := h.now().UTC()
	ev := &models.ScheduledEvent{
		ID:         body.ID,
		TenantID:   tenant,
		WorkflowID: body.WorkflowID,
		NodeID:     body.NodeID,
		Data:       body.Data,
		Schedule:   body.Schedule,
		Status:     models.ScheduleStatusActive,
		Metadata:   body.Metadata,
	}
	if ev.ID == "" {
		ev.ID = hash.NewID()
	}

	if ev.Schedule != nil && ev.Schedule.Cron != "" {
		next, err := schedule.Next(ev.Schedule, now, h.defaultTZ)
		if err != nil {
			return errJSON(c, http.StatusBadRequest, err.Error())
		}
		if next == nil {
			return errJSON(c, http.StatusBadRequest, "schedule never fires")
		}
		ev.NextRun = next
	} else {
		// One-shot: due on the dispatcher's next tick.
		ev.NextRun = &now
	}

	if err := h.events.Upsert(c.Request().Context(), ev); err != nil {
		h.log.Error("scheduled event upsert failed", "tenant_id", tenant, "error", err)
		return errJSON(c, http.StatusInternalServerError, "storage error")
	}

	h.log.Info("scheduled event upserted", "schedule_id", ev.ID, "tenant_id", tenant, "next_run", ev.NextRun)
	return c.JSON(http.StatusCreated, ev)
}

// List handles GET /scheduler/:tenant/events with an optional status filter.
func (h *SchedulerHandler) List(c echo.Context) error {
	tenant := c.Param("tenant")
	status := c.QueryParam("status")
	if !validStatus(status, true) {
		return errJSON(c, http.StatusBadRequest, "unknown status "+status)
	}

	out, err := h.events.ListByTenant(c.Request().Context(), tenant, status)
	if err != nil {
		return errJSON(c, http.StatusInternalServerError, "storage error")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"events": out})
}

// UpdateStatus handles PATCH /scheduler/:tenant/events/:id/status.
// Reactivating an event recomputes its next due time from now.
func (h *SchedulerHandler) UpdateStatus(c echo.Context) error {
	tenant := c.Param("tenant")
	id := c.Param("id")
	ctx := c.Request().Context()

	var body struct {
		Status string `json:"status"`
	}
	if err := c.Bind(&body); err != nil || !validStatus(body.Status, false) {
		return errJSON(c, http.StatusBadRequest, "status must be one of active, paused, completed")
	}

	ev, err := h.events.GetByID(ctx, tenant, id)
	if err != nil {
		return repoError(c, err, "scheduled event not found")
	}

	ev.Status = body.Status
	if body.Status == models.ScheduleStatusActive {
		now := h.now().UTC()
		if ev.Schedule != nil && ev.Schedule.Cron != "" {
			next, err := schedule.Next(ev.Schedule, now, h.defaultTZ)
			if err != nil {
				return errJSON(c, http.StatusBadRequest, err.Error())
			}
			if next == nil {
				return errJSON(c, http.StatusConflict, "schedule window has passed")
			}
			ev.NextRun = next
		} else if ev.LastRun == nil {
			ev.NextRun = &now
		}
	}

	if err := h.events.Upsert(ctx, ev); err != nil {
		return errJSON(c, http.StatusInternalServerError, "storage error")
	}
	return c.JSON(http.StatusOK, ev)
}

// FireNow handles POST /scheduler/:tenant/events/:id/trigger. Fires the
// event immediately without touching its schedule.
func (h *SchedulerHandler) FireNow(c echo.Context) error {
	tenant := c.Param("tenant")
	id := c.Param("id")
	ctx := c.Request().Context()

	ev, err := h.events.GetByID(ctx, tenant, id)
	if err != nil {
		return repoError(c, err, "scheduled event not found")
	}

	req := &models.TriggerRequest{
		TriggerID:  hash.NewID(),
		TenantID:   tenant,
		WorkflowID: ev.WorkflowID,
		NodeID:     ev.NodeID,
		Input:      ev.Data,
		Metadata: map[string]interface{}{
			"scheduled_event_id": ev.ID,
			"manual":             true,
		},
		CreatedAt: h.now().UTC(),
	}
	if err := trigger.Publish(ctx, h.rdb, req); err != nil {
		h.log.Error("manual fire failed", "schedule_id", id, "tenant_id", tenant, "error", err)
		return errJSON(c, http.StatusInternalServerError, "trigger not accepted")
	}

	h.log.Info("scheduled event fired manually", "schedule_id", id, "trigger_id", req.TriggerID, "tenant_id", tenant)
	return c.JSON(http.StatusAccepted, map[string]interface{}{"triggerId": req.TriggerID})
}

func validStatus(s string, allowEmpty bool) bool {
	switch s {
	case models.ScheduleStatusActive, models.ScheduleStatusPaused, models.ScheduleStatusCompleted:
		return true
	case "":
		return allowEmpty
	}
	return false
}
