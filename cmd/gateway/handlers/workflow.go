package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/labstack/echo/v4"

	"github.com/flowgrid/flowgrid/cmd/engine/strategy"
	"github.com/flowgrid/flowgrid/cmd/gateway/middleware"
	"github.com/flowgrid/flowgrid/common/cache"
	"github.com/flowgrid/flowgrid/common/hash"
	"github.com/flowgrid/flowgrid/common/models"
	"github.com/flowgrid/flowgrid/common/validation"
)

// WorkflowStore is the definition storage surface the gateway writes through.
type WorkflowStore interface {
	Create(ctx context.Context, wf *models.Workflow) error
	GetByID(ctx context.Context, tenantID, id string) (*models.Workflow, error)
	Update(ctx context.Context, wf *models.Workflow) error
	Publish(ctx context.Context, tenantID, id string) error
	ListByTenant(ctx context.Context, tenantID string, limit int) ([]*models.Workflow, error)
}

// workflowDoc is the authorable slice of a definition. Updates merge-patch
// against this shape, never against server-owned fields.
type workflowDoc struct {
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Nodes       []models.Node `json:"nodes"`
	Edges       []models.Edge `json:"edges"`
	Tags        []string      `json:"tags,omitempty"`
}

// WorkflowHandler serves definition CRUD and publish.
type WorkflowHandler struct {
	workflows WorkflowStore
	defs      *cache.Definitions
	registry  *strategy.Registry
	log       Logger
}

// NewWorkflowHandler creates a workflow handler.
func NewWorkflowHandler(workflows WorkflowStore, defs *cache.Definitions, registry *strategy.Registry, log Logger) *WorkflowHandler {
	return &WorkflowHandler{workflows: workflows, defs: defs, registry: registry, log: log}
}

// Create handles POST /workflows.
func (h *WorkflowHandler) Create(c echo.Context) error {
	tenant := middleware.Tenant(c)

	var doc workflowDoc
	if err := c.Bind(&doc); err != nil {
		return errJSON(c, http.StatusBadRequest, "invalid request body")
	}
	if findings := h.validateDoc(&doc); len(findings) > 0 {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error":    "invalid workflow definition",
			"findings": findings,
		})
	}

	now := time.Now().UTC()
	wf := &models.Workflow{
		ID:          hash.NewID(),
		TenantID:    tenant,
		Name:        doc.Name,
		Description: doc.Description,
		Nodes:       doc.Nodes,
		Edges:       doc.Edges,
		Tags:        doc.Tags,
		Status:      models.WorkflowStatusDraft,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := h.workflows.Create(c.Request().Context(), wf); err != nil {
		h.log.Error("workflow create failed", "tenant_id", tenant, "error", err)
		return errJSON(c, http.StatusInternalServerError, "storage error")
	}

	h.log.Info("workflow created", "workflow_id", wf.ID, "tenant_id", tenant, "nodes", len(wf.Nodes))
	return c.JSON(http.StatusCreated, map[string]interface{}{"id": wf.ID})
}

// Get handles GET /workflows/:id.
func (h *WorkflowHandler) Get(c echo.Context) error {
	tenant := middleware.Tenant(c)

	wf, err := h.workflows.GetByID(c.Request().Context(), tenant, c.Param("id"))
	if err != nil {
		return repoError(c, err, "workflow not found")
	}
	return c.JSON(http.StatusOK, wf)
}

// List handles GET /workflows.
func (h *WorkflowHandler) List(c echo.Context) error {
	tenant := middleware.Tenant(c)

	out, err := h.workflows.ListByTenant(c.Request().Context(), tenant, limitParam(c, 50, 200))
	if err != nil {
		return repoError(c, err, "workflow not found")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"workflows": out})
}

// Update handles PUT /workflows/:id. The body is an RFC 7386 merge patch
// over the authorable fields; the stored definition is re-validated whole.
func (h *WorkflowHandler) Update(c echo.Context) error {
	tenant := middleware.Tenant(c)
	id := c.Param("id")
	ctx := c.Request().Context()

	wf, err := h.workflows.GetByID(ctx, tenant, id)
	if err != nil {
		return repoError(c, err, "workflow not found")
	}
	if wf.Status == models.WorkflowStatusArchived {
		return errJSON(c, http.StatusGone, "workflow is archived")
	}
	if wf.Status == models.WorkflowStatusPublished {
		return errJSON(c, http.StatusConflict, "published workflows are immutable")
	}

	patch, err := io.ReadAll(c.Request().Body)
	if err != nil || len(patch) == 0 {
		return errJSON(c, http.StatusBadRequest, "invalid request body")
	}

	current, err := json.Marshal(workflowDoc{
		Name:        wf.Name,
		Description: wf.Description,
		Nodes:       wf.Nodes,
		Edges:       wf.Edges,
		Tags:        wf.Tags,
	})
	if err != nil {
		return errJSON(c, http.StatusInternalServerError, "marshal error")
	}

	merged, err := jsonpatch.MergePatch(current, patch)
	if err != nil {
		return errJSON(c, http.StatusBadRequest, "invalid merge patch")
	}
	var doc workflowDoc
	if err := json.Unmarshal(merged, &doc); err != nil {
		return errJSON(c, http.StatusBadRequest, "invalid merge patch")
	}
	if findings := h.validateDoc(&doc); len(findings) > 0 {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error":    "invalid workflow definition",
			"findings": findings,
		})
	}

	wf.Name = doc.Name
	wf.Description = doc.Description
	wf.Nodes = doc.Nodes
	wf.Edges = doc.Edges
	wf.Tags = doc.Tags
	if err := h.workflows.Update(ctx, wf); err != nil {
		return repoError(c, err, "workflow not found")
	}
	h.defs.Invalidate(tenant, id)

	updated, err := h.workflows.GetByID(ctx, tenant, id)
	if err != nil {
		return repoError(c, err, "workflow not found")
	}
	h.log.Info("workflow updated", "workflow_id", id, "tenant_id", tenant, "version", updated.Version)
	return c.JSON(http.StatusOK, updated)
}

// Publish handles POST /workflows/:id/publish.
func (h *WorkflowHandler) Publish(c echo.Context) error {
	tenant := middleware.Tenant(c)
	id := c.Param("id")
	ctx := c.Request().Context()

	wf, err := h.workflows.GetByID(ctx, tenant, id)
	if err != nil {
		return repoError(c, err, "workflow not found")
	}
	switch wf.Status {
	case models.WorkflowStatusArchived:
		return errJSON(c, http.StatusGone, "workflow is archived")
	case models.WorkflowStatusPublished:
		return errJSON(c, http.StatusConflict, "workflow is already published")
	}

	doc := workflowDoc{Name: wf.Name, Nodes: wf.Nodes, Edges: wf.Edges}
	if findings := h.validateDoc(&doc); len(findings) > 0 {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error":    "workflow does not validate",
			"findings": findings,
		})
	}

	if err := h.workflows.Publish(ctx, tenant, id); err != nil {
		return repoError(c, err, "workflow not found")
	}
	h.defs.Invalidate(tenant, id)

	h.log.Info("workflow published", "workflow_id", id, "tenant_id", tenant)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"id":     id,
		"status": models.WorkflowStatusPublished,
	})
}

// validateDoc combines structural validation with per-type node config
// checks from the strategy registry.
func (h *WorkflowHandler) validateDoc(doc *workflowDoc) []validation.Finding {
	findings := validation.Definition(doc.Name, doc.Nodes, doc.Edges)

	for i := range doc.Nodes {
		node := &doc.Nodes[i]
		if node.ID == "" {
			continue
		}
		field := fmt.Sprintf("nodes[%d]", i)
		if _, ok := h.registry.Get(node.Type); !ok {
			if node.Type != "" {
				findings = append(findings, validation.Finding{
					Field:   field + ".type",
					Message: fmt.Sprintf("unknown node type %q", node.Type),
				})
			}
			continue
		}
		for _, fe := range h.registry.ValidateNode(node) {
			findings = append(findings, validation.Finding{
				Field:   field + "." + fe.Field,
				Message: fe.Message,
			})
		}
	}
	return findings
}
