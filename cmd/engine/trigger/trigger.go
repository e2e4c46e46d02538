// Package trigger moves run trigger requests through a Redis stream. The
// gateway and the scheduler publish; the engine consumes with idempotency on
// the trigger id, so redelivered or double-published requests start one run.
package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/flowgrid/flowgrid/common/models"
	"github.com/flowgrid/flowgrid/common/redis"
)

const (
	// Stream is the Redis stream carrying trigger requests.
	Stream = "wf.triggers"

	// Group is the engine's consumer group on the stream.
	Group = "engine-triggers"

	// seenTTL bounds the idempotency markers. A trigger id redelivered after
	// this window starts a fresh run.
	seenTTL = 24 * time.Hour
)

// Publish appends a trigger request to the stream.
func Publish(ctx context.Context, rdb *redis.Client, req *models.TriggerRequest) error {
	if req.TriggerID == "" {
		return fmt.Errorf("trigger request has no trigger id")
	}
	input, err := json.Marshal(req.Input)
	if err != nil {
		return fmt.Errorf("marshal trigger input: %w", err)
	}
	metadata, err := json.Marshal(req.Metadata)
	if err != nil {
		return fmt.Errorf("marshal trigger metadata: %w", err)
	}

	_, err = rdb.AddToStream(ctx, Stream, map[string]interface{}{
		"trigger_id":  req.TriggerID,
		"tenant_id":   req.TenantID,
		"workflow_id": req.WorkflowID,
		"node_id":     req.NodeID,
		"input":       string(input),
		"metadata":    string(metadata),
		"created_at":  req.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("append trigger: %w", err)
	}
	return nil
}

func decodeRequest(values map[string]interface{}) (*models.TriggerRequest, error) {
	str := func(key string) string {
		if v, ok := values[key].(string); ok {
			return v
		}
		return ""
	}

	req := &models.TriggerRequest{
		TriggerID:  str("trigger_id"),
		TenantID:   str("tenant_id"),
		WorkflowID: str("workflow_id"),
		NodeID:     str("node_id"),
	}
	if req.TriggerID == "" {
		return nil, fmt.Errorf("trigger message missing trigger_id")
	}
	if raw := str("input"); raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &req.Input); err != nil {
			return nil, fmt.Errorf("decode trigger input: %w", err)
		}
	}
	if raw := str("metadata"); raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &req.Metadata); err != nil {
			return nil, fmt.Errorf("decode trigger metadata: %w", err)
		}
	}
	if raw := str("created_at"); raw != "" {
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			req.CreatedAt = ts
		}
	}
	return req, nil
}

func seenKey(triggerID string) string {
	return "trigger:seen:" + triggerID
}
