package run

import (
	"fmt"
	"time"

	"github.com/flowgrid/flowgrid/common/events"
	"github.com/flowgrid/flowgrid/common/graph"
	"github.com/flowgrid/flowgrid/common/models"
)

// Rehydrate derives a Context from a run's persisted event stream by
// replaying each event through the same transitions that produced it.
// The result equals the original context up to timestamps.
func Rehydrate(processed *graph.ProcessedWorkflow, stream []*events.Event) (*Context, error) {
	var c *Context

	for _, ev := range stream {
		if c == nil {
			if ev.Type != events.WorkflowStarted {
				return nil, fmt.Errorf("replay stream must begin with %s, got %s", events.WorkflowStarted, ev.Type)
			}
			c = contextFromStarted(processed, ev)
			if _, err := c.Start(); err != nil {
				return nil, fmt.Errorf("replay start: %w", err)
			}
			continue
		}

		if err := c.apply(ev); err != nil {
			return nil, fmt.Errorf("replay %s: %w", ev.Type, err)
		}
	}

	if c == nil {
		return nil, fmt.Errorf("empty replay stream")
	}
	return c, nil
}

func contextFromStarted(processed *graph.ProcessedWorkflow, ev *events.Event) *Context {
	variables, _ := ev.Payload["variables"].(map[string]interface{})

	cfg := Config{}
	if raw, ok := ev.Payload["config"].(map[string]interface{}); ok {
		cfg.MaxRetries = payloadInt(raw, "max_retries")
		cfg.RetryDelay = time.Duration(payloadInt(raw, "retry_delay_ms")) * time.Millisecond
		cfg.Timeout = time.Duration(payloadInt(raw, "timeout_ms")) * time.Millisecond
	}

	return NewContext(ev.RunID(), ev.WorkflowID(), ev.TenantID, processed, variables, cfg)
}

func (c *Context) apply(ev *events.Event) error {
	switch ev.Type {
	case events.NodeScheduled:
		_, err := c.ScheduleNode(payloadString(ev.Payload, "node_id"), payloadInt(ev.Payload, "attempt"))
		return err

	case events.NodeStarted:
		_, err := c.StartNode(payloadString(ev.Payload, "node_id"), payloadInt(ev.Payload, "attempt"), ev.Payload["input"])
		return err

	case events.NodeCompleted:
		if vars, ok := ev.Payload["variables"].(map[string]interface{}); ok {
			c.Variables = vars
		}
		_, err := c.CompleteNode(payloadString(ev.Payload, "node_id"), ev.Payload["output"])
		return err

	case events.NodeFailed:
		retrying, _ := ev.Payload["retrying"].(bool)
		_, err := c.FailNode(payloadString(ev.Payload, "node_id"), payloadString(ev.Payload, "error"), retrying)
		return err

	case events.NodeSkipped:
		_, err := c.SkipNode(payloadString(ev.Payload, "node_id"))
		return err

	case events.NodeCanceled:
		// Workflow-level cancel already marked pending and running nodes,
		// so per-node cancel events are informational on replay.
		if rec, ok := c.Nodes[payloadString(ev.Payload, "node_id")]; ok && rec.State == models.NodeStateCanceled {
			return nil
		}
		return nil

	case events.WorkflowPaused:
		_, err := c.Pause()
		return err

	case events.WorkflowResumed:
		_, err := c.Resume()
		return err

	case events.WorkflowCompleted:
		_, err := c.Complete()
		return err

	case events.WorkflowFailed:
		_, err := c.Fail(payloadString(ev.Payload, "error"))
		return err

	case events.WorkflowCanceled:
		_, err := c.Cancel()
		return err
	}

	// Events outside the state machine's vocabulary (trigger.received,
	// job.enqueued) do not affect the context.
	return nil
}

func payloadString(payload map[string]interface{}, key string) string {
	v, _ := payload[key].(string)
	return v
}

func payloadInt(payload map[string]interface{}, key string) int {
	switch v := payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
