package strategy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/flowgrid/flowgrid/common/models"
)

// AgentStrategy hands the node's input to an external agent endpoint and
// returns its response. Agent execution is opaque here and may last minutes,
// so the client timeout is long and the request stays cancelable.
type AgentStrategy struct {
	client *http.Client
}

// NewAgentStrategy creates the agent strategy. client may be nil.
func NewAgentStrategy(client *http.Client) *AgentStrategy {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Minute}
	}
	return &AgentStrategy{client: client}
}

// Type returns the node type tag this strategy serves.
func (s *AgentStrategy) Type() string { return "agent" }

// Validate requires an endpoint.
func (s *AgentStrategy) Validate(node *models.Node) []FieldError {
	if configString(node, "endpoint") == "" {
		return []FieldError{{Field: "config.endpoint", Message: "required"}}
	}
	return nil
}

// Execute posts the input and run metadata to the agent endpoint.
func (s *AgentStrategy) Execute(ctx context.Context, view RunView, node *models.Node) Result {
	payload, err := json.Marshal(map[string]interface{}{
		"run_id":    view.RunID,
		"tenant_id": view.TenantID,
		"node_id":   node.ID,
		"input":     view.Input,
		"config":    node.Config,
	})
	if err != nil {
		return failure(false, "marshal agent payload: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, configString(node, "endpoint"), bytes.NewReader(payload))
	if err != nil {
		return failure(false, "build agent request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
			return failure(false, "agent call canceled")
		}
		return failure(true, "agent call failed: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return failure(true, "read agent response: %v", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return failure(resp.StatusCode >= 500, "agent status %d", resp.StatusCode)
	}

	var output interface{}
	if err := json.Unmarshal(raw, &output); err != nil {
		output = string(raw)
	}
	return success(output)
}

// Cleanup has nothing to release.
func (s *AgentStrategy) Cleanup(view RunView, node *models.Node) {}
