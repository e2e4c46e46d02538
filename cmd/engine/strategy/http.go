package strategy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/flowgrid/flowgrid/common/models"
)

// HTTPStrategy performs an outbound request built from the node config with
// the resolved input merged over the body template.
type HTTPStrategy struct {
	client *http.Client
}

// NewHTTPStrategy creates the http strategy. client may be nil.
func NewHTTPStrategy(client *http.Client) *HTTPStrategy {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &HTTPStrategy{client: client}
}

// Type returns the node type tag this strategy serves.
func (s *HTTPStrategy) Type() string { return "http" }

// Validate requires a url; method defaults to POST.
func (s *HTTPStrategy) Validate(node *models.Node) []FieldError {
	var errs []FieldError
	if configString(node, "url") == "" {
		errs = append(errs, FieldError{Field: "config.url", Message: "required"})
	}
	if m := configString(node, "method"); m != "" {
		switch strings.ToUpper(m) {
		case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		default:
			errs = append(errs, FieldError{Field: "config.method", Message: "unsupported method"})
		}
	}
	return errs
}

// Execute sends the request. 2xx responses succeed; 5xx and network errors
// are retryable failures, 4xx are not.
func (s *HTTPStrategy) Execute(ctx context.Context, view RunView, node *models.Node) Result {
	url := configString(node, "url")
	method := strings.ToUpper(configString(node, "method"))
	if method == "" {
		method = http.MethodPost
	}

	var bodyReader io.Reader
	if method != http.MethodGet {
		payload := s.buildBody(node, view.Input)
		raw, err := json.Marshal(payload)
		if err != nil {
			return failure(false, "marshal request body: %v", err)
		}
		bodyReader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return failure(false, "build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if headers, ok := node.Config["headers"].(map[string]interface{}); ok {
		for k, v := range headers {
			if sv, ok := v.(string); ok {
				req.Header.Set(k, sv)
			}
		}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
			return failure(false, "request canceled")
		}
		return failure(true, "request failed: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return failure(true, "read response: %v", err)
	}

	var body interface{} = string(raw)
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") && len(raw) > 0 {
		var parsed interface{}
		if err := json.Unmarshal(raw, &parsed); err == nil {
			body = parsed
		}
	}

	headers := make(map[string]interface{}, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	output := map[string]interface{}{
		"statusCode": resp.StatusCode,
		"headers":    headers,
		"body":       body,
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return success(output)
	}

	res := failure(resp.StatusCode >= 500, "http status %d", resp.StatusCode)
	res.Output = output
	return res
}

// buildBody merges a map input over the configured body template.
func (s *HTTPStrategy) buildBody(node *models.Node, input interface{}) interface{} {
	template, hasTemplate := node.Config["body"].(map[string]interface{})
	if !hasTemplate {
		return input
	}

	merged := make(map[string]interface{}, len(template))
	for k, v := range template {
		merged[k] = v
	}
	if in, ok := input.(map[string]interface{}); ok {
		for k, v := range in {
			merged[k] = v
		}
	}
	return merged
}

// Cleanup has nothing to release; the client pools connections.
func (s *HTTPStrategy) Cleanup(view RunView, node *models.Node) {}
