// Package sdk is a thin Go client for the gateway HTTP API. It covers the
// authoring and trigger surface; event streaming goes through the fanout
// service directly.
package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/flowgrid/flowgrid/common/models"
)

// APIError is a non-2xx gateway response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway: %d %s", e.Status, e.Message)
}

// Client talks to one gateway on behalf of one tenant.
type Client struct {
	baseURL string
	tenant  string
	http    *http.Client
}

// New creates a client. httpClient may be nil.
func New(baseURL, tenant string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tenant:  tenant,
		http:    httpClient,
	}
}

// WorkflowDoc is the authorable slice of a workflow definition.
type WorkflowDoc struct {
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Nodes       []models.Node `json:"nodes"`
	Edges       []models.Edge `json:"edges"`
	Tags        []string      `json:"tags,omitempty"`
}

// CreateWorkflow creates a draft definition and returns its id.
func (c *Client) CreateWorkflow(ctx context.Context, doc *WorkflowDoc) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/workflows", doc, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// GetWorkflow retrieves one definition.
func (c *Client) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	var wf models.Workflow
	if err := c.do(ctx, http.MethodGet, "/workflows/"+id, nil, &wf); err != nil {
		return nil, err
	}
	return &wf, nil
}

// UpdateWorkflow applies a merge patch to a draft definition and returns the
// updated definition.
func (c *Client) UpdateWorkflow(ctx context.Context, id string, patch map[string]interface{}) (*models.Workflow, error) {
	var wf models.Workflow
	if err := c.do(ctx, http.MethodPut, "/workflows/"+id, patch, &wf); err != nil {
		return nil, err
	}
	return &wf, nil
}

// PublishWorkflow transitions a draft definition to published.
func (c *Client) PublishWorkflow(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/workflows/"+id+"/publish", nil, nil)
}

// TriggerNode fires a trigger node and returns the trigger id.
func (c *Client) TriggerNode(ctx context.Context, nodeID string, input, metadata map[string]interface{}) (string, error) {
	body := map[string]interface{}{"input": input, "metadata": metadata}
	var out struct {
		TriggerID string `json:"triggerId"`
	}
	if err := c.do(ctx, http.MethodPost, "/nodes/"+nodeID+"/trigger", body, &out); err != nil {
		return "", err
	}
	return out.TriggerID, nil
}

// ListExecutions lists runs of a workflow, newest first.
func (c *Client) ListExecutions(ctx context.Context, workflowID string) ([]*models.WorkflowExecution, error) {
	var out struct {
		Executions []*models.WorkflowExecution `json:"executions"`
	}
	if err := c.do(ctx, http.MethodGet, "/workflows/"+workflowID+"/executions", nil, &out); err != nil {
		return nil, err
	}
	return out.Executions, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", c.tenant)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var probe struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(raw, &probe)
		if probe.Error == "" {
			probe.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: probe.Error}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
