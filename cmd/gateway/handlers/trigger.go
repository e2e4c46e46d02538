package handlers

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/flowgrid/flowgrid/cmd/engine/trigger"
	"github.com/flowgrid/flowgrid/cmd/gateway/middleware"
	"github.com/flowgrid/flowgrid/common/cache"
	"github.com/flowgrid/flowgrid/common/hash"
	"github.com/flowgrid/flowgrid/common/metrics"
	"github.com/flowgrid/flowgrid/common/models"
	"github.com/flowgrid/flowgrid/common/redis"
)

// triggerBody is the POST /nodes/:nodeId/trigger request shape.
type triggerBody struct {
	Input    map[string]interface{} `json:"input,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// TriggerHandler accepts external trigger requests and hands them to the
// engine through the trigger stream.
type TriggerHandler struct {
	defs    *cache.Definitions
	rdb     *redis.Client
	metrics *metrics.Metrics
	log     Logger
}

// NewTriggerHandler creates a trigger handler. m may be nil.
func NewTriggerHandler(defs *cache.Definitions, rdb *redis.Client, m *metrics.Metrics, log Logger) *TriggerHandler {
	return &TriggerHandler{defs: defs, rdb: rdb, metrics: m, log: log}
}

// TriggerNode handles POST /nodes/:nodeId/trigger. The node must belong to
// a published workflow of the caller's tenant. Acceptance means the request
// is durably on the stream, not that a run has started.
func (h *TriggerHandler) TriggerNode(c echo.Context) error {
	tenant := middleware.Tenant(c)
	nodeID := c.Param("nodeId")
	ctx := c.Request().Context()

	var body triggerBody
	if err := c.Bind(&body); err != nil {
		return errJSON(c, http.StatusBadRequest, "invalid request body")
	}

	wf, err := h.defs.FindByNodeID(ctx, tenant, nodeID)
	if err != nil {
		return repoError(c, err, "no published workflow contains node "+nodeID)
	}

	req := &models.TriggerRequest{
		TriggerID:  hash.NewID(),
		TenantID:   tenant,
		WorkflowID: wf.ID,
		NodeID:     nodeID,
		Input:      body.Input,
		Metadata:   body.Metadata,
		CreatedAt:  time.Now().UTC(),
	}
	if err := trigger.Publish(ctx, h.rdb, req); err != nil {
		h.log.Error("trigger publish failed", "tenant_id", tenant, "node_id", nodeID, "error", err)
		return errJSON(c, http.StatusInternalServerError, "trigger not accepted")
	}

	if h.metrics != nil {
		h.metrics.TriggersTotal.WithLabelValues("accepted").Inc()
	}
	h.log.Info("trigger accepted", "trigger_id", req.TriggerID, "tenant_id", tenant,
		"workflow_id", wf.ID, "node_id", nodeID)
	return c.JSON(http.StatusAccepted, map[string]interface{}{"triggerId": req.TriggerID})
}
