package handlers

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/flowgrid/flowgrid/cmd/gateway/middleware"
	"github.com/flowgrid/flowgrid/common/models"
)

// ExecutionStore is the run history surface the gateway reads.
type ExecutionStore interface {
	GetExecution(ctx context.Context, id string) (*models.WorkflowExecution, error)
	ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]*models.WorkflowExecution, error)
	ListNodeExecutions(ctx context.Context, nodeID string, limit int) ([]*models.NodeExecution, error)
	ListNodesByExecution(ctx context.Context, executionID string) ([]*models.NodeExecution, error)
}

// ExecutionHandler serves run and node-attempt history.
type ExecutionHandler struct {
	workflows  WorkflowStore
	executions ExecutionStore
	log        Logger
}

// NewExecutionHandler creates an execution handler.
func NewExecutionHandler(workflows WorkflowStore, executions ExecutionStore, log Logger) *ExecutionHandler {
	return &ExecutionHandler{workflows: workflows, executions: executions, log: log}
}

// ListByWorkflow handles GET /workflows/:id/executions. The workflow lookup
// doubles as the tenant check; run rows carry no index by tenant.
func (h *ExecutionHandler) ListByWorkflow(c echo.Context) error {
	tenant := middleware.Tenant(c)
	id := c.Param("id")
	ctx := c.Request().Context()

	if _, err := h.workflows.GetByID(ctx, tenant, id); err != nil {
		return repoError(c, err, "workflow not found")
	}

	out, err := h.executions.ListByWorkflow(ctx, id, limitParam(c, 50, 200))
	if err != nil {
		return errJSON(c, http.StatusInternalServerError, "storage error")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"executions": out})
}

// ListByNode handles GET /nodes/:nodeId/executions.
func (h *ExecutionHandler) ListByNode(c echo.Context) error {
	out, err := h.executions.ListNodeExecutions(c.Request().Context(), c.Param("nodeId"), limitParam(c, 50, 200))
	if err != nil {
		return errJSON(c, http.StatusInternalServerError, "storage error")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"executions": out})
}

// Get handles GET /executions/:id: one run plus its node records.
func (h *ExecutionHandler) Get(c echo.Context) error {
	tenant := middleware.Tenant(c)
	id := c.Param("id")
	ctx := c.Request().Context()

	ex, err := h.executions.GetExecution(ctx, id)
	if err != nil {
		return repoError(c, err, "execution not found")
	}
	if ex.TenantID != tenant {
		return errJSON(c, http.StatusNotFound, "execution not found")
	}

	nodes, err := h.executions.ListNodesByExecution(ctx, id)
	if err != nil {
		return errJSON(c, http.StatusInternalServerError, "storage error")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"execution": ex,
		"nodes":     nodes,
	})
}
