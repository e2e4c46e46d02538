package handlers

import (
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/flowgrid/flowgrid/cmd/engine/trigger"
	"github.com/flowgrid/flowgrid/common/cache"
	"github.com/flowgrid/flowgrid/common/config"
	"github.com/flowgrid/flowgrid/common/hash"
	"github.com/flowgrid/flowgrid/common/metrics"
	"github.com/flowgrid/flowgrid/common/models"
	"github.com/flowgrid/flowgrid/common/redis"
	"github.com/flowgrid/flowgrid/common/webhook"
)

// WebhookHandler terminates inbound provider webhooks: handshake, signature
// check, normalization, then a synthesized trigger for the target workflow.
type WebhookHandler struct {
	adapters *webhook.Registry
	defs     *cache.Definitions
	rdb      *redis.Client
	secrets  config.WebhookConfig
	metrics  *metrics.Metrics
	log      Logger
}

// NewWebhookHandler creates a webhook handler. m may be nil.
func NewWebhookHandler(adapters *webhook.Registry, defs *cache.Definitions, rdb *redis.Client, secrets config.WebhookConfig, m *metrics.Metrics, log Logger) *WebhookHandler {
	return &WebhookHandler{adapters: adapters, defs: defs, rdb: rdb, secrets: secrets, metrics: m, log: log}
}

// Handle serves /webhooks/:provider/:tenant/:workflow. Providers deliver
// events with POST; handshake probes from Meta and Twitter arrive as GET,
// so both methods land here.
func (h *WebhookHandler) Handle(c echo.Context) error {
	provider := c.Param("provider")
	tenant := c.Param("tenant")
	workflowID := c.Param("workflow")

	adapter, ok := h.adapters.ForProvider(provider)
	if !ok {
		return errJSON(c, http.StatusNotFound, "unknown provider "+provider)
	}
	secret := h.secretFor(provider)

	rawBody, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return errJSON(c, http.StatusBadRequest, "unreadable body")
	}

	if resp, ok := adapter.HandleChallenge(rawBody, c.QueryParams(), secret); ok {
		h.observe(provider, "challenge")
		return c.Blob(resp.Status, resp.ContentType, []byte(resp.Body))
	}

	if !adapter.VerifySignature(rawBody, c.Request().Header, secret) {
		h.observe(provider, "rejected")
		h.log.Warn("webhook signature rejected", "provider", provider, "tenant_id", tenant)
		return errJSON(c, http.StatusUnauthorized, "invalid signature")
	}

	ev, err := adapter.Normalize(rawBody, c.Request().Header, tenant)
	if err != nil {
		h.observe(provider, "malformed")
		return errJSON(c, http.StatusBadRequest, "malformed payload")
	}

	ctx := c.Request().Context()
	wf, err := h.defs.GetByID(ctx, tenant, workflowID)
	if err != nil {
		h.observe(provider, "unresolved")
		return repoError(c, err, "workflow not found")
	}
	if wf.Status != models.WorkflowStatusPublished {
		h.observe(provider, "unresolved")
		return errJSON(c, http.StatusConflict, "workflow is not published")
	}

	req := &models.TriggerRequest{
		TriggerID:  hash.NewID(),
		TenantID:   tenant,
		WorkflowID: wf.ID,
		Input: map[string]interface{}{
			"event_type":  ev.EventType,
			"provider":    ev.Provider,
			"customer_id": ev.CustomerID,
			"data":        ev.Data,
			"timestamp":   ev.Timestamp.Format(time.RFC3339Nano),
		},
		Metadata: map[string]interface{}{
			"webhook":  true,
			"provider": provider,
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := trigger.Publish(ctx, h.rdb, req); err != nil {
		h.observe(provider, "error")
		h.log.Error("webhook trigger publish failed", "provider", provider, "tenant_id", tenant, "error", err)
		return errJSON(c, http.StatusInternalServerError, "trigger not accepted")
	}

	h.observe(provider, "accepted")
	h.log.Info("webhook accepted", "provider", provider, "tenant_id", tenant,
		"workflow_id", wf.ID, "event_type", ev.EventType, "trigger_id", req.TriggerID)
	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"triggerId": req.TriggerID,
		"eventType": ev.EventType,
	})
}

func (h *WebhookHandler) secretFor(provider string) string {
	switch provider {
	case webhook.ProviderMeta:
		return h.secrets.MetaAppSecret
	case webhook.ProviderSlack:
		return h.secrets.SlackSigningSecret
	case webhook.ProviderTwitter:
		return h.secrets.TwitterConsumerSecret
	}
	return ""
}

func (h *WebhookHandler) observe(provider, outcome string) {
	if h.metrics != nil {
		h.metrics.WebhooksTotal.WithLabelValues(provider, outcome).Inc()
	}
}
