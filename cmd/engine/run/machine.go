package run

import (
	"fmt"
	"time"

	"github.com/flowgrid/flowgrid/common/events"
	"github.com/flowgrid/flowgrid/common/models"
)

// ProtocolViolationError marks an illegal state transition. The engine treats
// it as fatal for the run.
type ProtocolViolationError struct {
	Entity string // "workflow" or the node id
	From   string
	Action string
}

func (e *ProtocolViolationError) Error() string {
	return fmt.Sprintf("protocol violation: %s cannot %s from state %s", e.Entity, e.Action, e.From)
}

func (c *Context) event(eventType string, payload map[string]interface{}) *events.Event {
	return &events.Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		TenantID:  c.TenantID,
		Payload:   payload,
		Metadata: map[string]interface{}{
			events.MetaRunID:      c.RunID,
			events.MetaWorkflowID: c.WorkflowID,
		},
	}
}

// Start transitions the run Created -> Running.
func (c *Context) Start() ([]*events.Event, error) {
	if c.State != models.RunStateCreated {
		return nil, &ProtocolViolationError{Entity: "workflow", From: c.State, Action: "start"}
	}
	c.State = models.RunStateRunning
	c.appendHistory("workflow", c.RunID, "started", nil)

	return []*events.Event{c.event(events.WorkflowStarted, map[string]interface{}{
		"run_id":      c.RunID,
		"workflow_id": c.WorkflowID,
		"variables":   c.Variables,
		"config": map[string]interface{}{
			"max_retries":    c.Config.MaxRetries,
			"retry_delay_ms": c.Config.RetryDelay.Milliseconds(),
			"timeout_ms":     c.Config.Timeout.Milliseconds(),
		},
	})}, nil
}

// Pause transitions Running -> Paused. In-flight nodes keep running; their
// completions are recorded but successors stay deferred until Resume.
func (c *Context) Pause() ([]*events.Event, error) {
	if c.State != models.RunStateRunning {
		return nil, &ProtocolViolationError{Entity: "workflow", From: c.State, Action: "pause"}
	}
	c.State = models.RunStatePaused
	c.appendHistory("workflow", c.RunID, "paused", nil)
	return []*events.Event{c.event(events.WorkflowPaused, map[string]interface{}{"run_id": c.RunID})}, nil
}

// Resume transitions Paused -> Running.
func (c *Context) Resume() ([]*events.Event, error) {
	if c.State != models.RunStatePaused {
		return nil, &ProtocolViolationError{Entity: "workflow", From: c.State, Action: "resume"}
	}
	c.State = models.RunStateRunning
	c.appendHistory("workflow", c.RunID, "resumed", nil)
	return []*events.Event{c.event(events.WorkflowResumed, map[string]interface{}{"run_id": c.RunID})}, nil
}

// Complete transitions Running -> Completed.
func (c *Context) Complete() ([]*events.Event, error) {
	if c.State != models.RunStateRunning {
		return nil, &ProtocolViolationError{Entity: "workflow", From: c.State, Action: "complete"}
	}
	c.State = models.RunStateCompleted
	now := time.Now().UTC()
	c.EndTime = &now
	c.appendHistory("workflow", c.RunID, "completed", nil)

	return []*events.Event{c.event(events.WorkflowCompleted, map[string]interface{}{
		"run_id":      c.RunID,
		"result":      c.Result(),
		"duration_ms": now.Sub(c.StartTime).Milliseconds(),
	})}, nil
}

// Fail transitions Running|Paused -> Failed.
func (c *Context) Fail(errMsg string) ([]*events.Event, error) {
	if c.State != models.RunStateRunning && c.State != models.RunStatePaused {
		return nil, &ProtocolViolationError{Entity: "workflow", From: c.State, Action: "fail"}
	}
	c.State = models.RunStateFailed
	c.Error = errMsg
	now := time.Now().UTC()
	c.EndTime = &now
	c.appendHistory("workflow", c.RunID, "failed", map[string]interface{}{"error": errMsg})

	return []*events.Event{c.event(events.WorkflowFailed, map[string]interface{}{
		"run_id": c.RunID,
		"error":  errMsg,
	})}, nil
}

// Cancel transitions Running|Paused -> Canceled and marks every Pending or
// Running node Canceled. Cooperative signalling to in-flight strategies is
// the engine's job.
func (c *Context) Cancel() ([]*events.Event, error) {
	if c.State != models.RunStateRunning && c.State != models.RunStatePaused {
		return nil, &ProtocolViolationError{Entity: "workflow", From: c.State, Action: "cancel"}
	}
	c.State = models.RunStateCanceled
	now := time.Now().UTC()
	c.EndTime = &now

	out := []*events.Event{c.event(events.WorkflowCanceled, map[string]interface{}{"run_id": c.RunID})}

	for _, rec := range c.Nodes {
		if rec.State == models.NodeStatePending || rec.State == models.NodeStateRunning {
			rec.State = models.NodeStateCanceled
			rec.EndTime = &now
			delete(c.Scheduled, rec.NodeID)
			out = append(out, c.event(events.NodeCanceled, map[string]interface{}{"node_id": rec.NodeID}))
		}
	}
	c.appendHistory("workflow", c.RunID, "canceled", nil)
	return out, nil
}

// ScheduleNode records a node as enqueued. The first schedule of a node
// creates its record in Pending.
func (c *Context) ScheduleNode(nodeID string, attempt int) ([]*events.Event, error) {
	if c.State != models.RunStateRunning {
		return nil, &ProtocolViolationError{Entity: nodeID, From: c.State, Action: "schedule"}
	}
	rec := c.record(nodeID)
	if rec.State != models.NodeStatePending {
		return nil, &ProtocolViolationError{Entity: nodeID, From: rec.State, Action: "schedule"}
	}
	c.Scheduled[nodeID] = true
	c.appendHistory("node", nodeID, "scheduled", map[string]interface{}{"attempt": attempt})

	return []*events.Event{c.event(events.NodeScheduled, map[string]interface{}{
		"node_id": nodeID,
		"attempt": attempt,
	})}, nil
}

// StartNode transitions a node Pending -> Running with its resolved input.
func (c *Context) StartNode(nodeID string, attempt int, input interface{}) ([]*events.Event, error) {
	if c.State != models.RunStateRunning && c.State != models.RunStatePaused {
		return nil, &ProtocolViolationError{Entity: nodeID, From: c.State, Action: "start"}
	}
	rec := c.record(nodeID)
	if rec.State != models.NodeStatePending {
		return nil, &ProtocolViolationError{Entity: nodeID, From: rec.State, Action: "start"}
	}

	now := time.Now().UTC()
	rec.State = models.NodeStateRunning
	rec.Input = input
	if rec.StartTime == nil {
		rec.StartTime = &now
	}
	rec.Attempts = append(rec.Attempts, NodeAttempt{
		Number:    attempt,
		StartTime: now,
		State:     models.NodeStateRunning,
	})
	c.appendHistory("node", nodeID, "started", map[string]interface{}{"attempt": attempt})

	return []*events.Event{c.event(events.NodeStarted, map[string]interface{}{
		"node_id": nodeID,
		"attempt": attempt,
		"input":   input,
	})}, nil
}

// CompleteNode transitions a node Running -> Completed. The caller applies
// outputMapping to Variables before invoking this, so the emitted event
// carries the post-mapping variable state for replay.
func (c *Context) CompleteNode(nodeID string, output interface{}) ([]*events.Event, error) {
	if c.State != models.RunStateRunning && c.State != models.RunStatePaused {
		return nil, &ProtocolViolationError{Entity: nodeID, From: c.State, Action: "complete"}
	}
	rec := c.record(nodeID)
	if rec.State != models.NodeStateRunning {
		return nil, &ProtocolViolationError{Entity: nodeID, From: rec.State, Action: "complete"}
	}

	now := time.Now().UTC()
	rec.State = models.NodeStateCompleted
	rec.Output = output
	rec.EndTime = &now
	if n := len(rec.Attempts); n > 0 {
		rec.Attempts[n-1].State = models.NodeStateCompleted
		rec.Attempts[n-1].Output = output
		rec.Attempts[n-1].EndTime = &now
	}

	delete(c.Scheduled, nodeID)
	c.Completed[nodeID] = true
	c.appendHistory("node", nodeID, "completed", nil)

	var durationMs int64
	if rec.StartTime != nil {
		durationMs = now.Sub(*rec.StartTime).Milliseconds()
	}

	return []*events.Event{c.event(events.NodeCompleted, map[string]interface{}{
		"node_id":     nodeID,
		"attempt":     rec.CurrentAttempt(),
		"output":      output,
		"variables":   c.Variables,
		"duration_ms": durationMs,
	})}, nil
}

// FailNode transitions a node Running -> Failed, or back to Pending with
// retryCount incremented when retry is true. The engine decides retry from
// the retry policy and the strategy's retryable classification.
func (c *Context) FailNode(nodeID, errMsg string, retry bool) ([]*events.Event, error) {
	if c.State != models.RunStateRunning && c.State != models.RunStatePaused {
		return nil, &ProtocolViolationError{Entity: nodeID, From: c.State, Action: "fail"}
	}
	rec := c.record(nodeID)
	if rec.State != models.NodeStateRunning {
		return nil, &ProtocolViolationError{Entity: nodeID, From: rec.State, Action: "fail"}
	}

	now := time.Now().UTC()
	attempt := rec.CurrentAttempt()
	if n := len(rec.Attempts); n > 0 {
		rec.Attempts[n-1].State = models.NodeStateFailed
		rec.Attempts[n-1].Error = errMsg
		rec.Attempts[n-1].EndTime = &now
	}
	rec.Error = errMsg

	if retry {
		rec.State = models.NodeStatePending
		rec.RetryCount++
	} else {
		rec.State = models.NodeStateFailed
		rec.EndTime = &now
		delete(c.Scheduled, nodeID)
		c.Failed[nodeID] = true
	}
	c.appendHistory("node", nodeID, "failed", map[string]interface{}{
		"attempt": attempt, "error": errMsg, "retrying": retry,
	})

	return []*events.Event{c.event(events.NodeFailed, map[string]interface{}{
		"node_id":  nodeID,
		"attempt":  attempt,
		"error":    errMsg,
		"retrying": retry,
	})}, nil
}

// SkipNode marks a node whose every incoming edge was suppressed.
func (c *Context) SkipNode(nodeID string) ([]*events.Event, error) {
	if c.State != models.RunStateRunning && c.State != models.RunStatePaused {
		return nil, &ProtocolViolationError{Entity: nodeID, From: c.State, Action: "skip"}
	}
	rec := c.record(nodeID)
	if rec.State != models.NodeStatePending {
		return nil, &ProtocolViolationError{Entity: nodeID, From: rec.State, Action: "skip"}
	}

	now := time.Now().UTC()
	rec.State = models.NodeStateSkipped
	rec.EndTime = &now
	delete(c.Scheduled, nodeID)
	c.Skipped[nodeID] = true
	c.appendHistory("node", nodeID, "skipped", nil)

	return []*events.Event{c.event(events.NodeSkipped, map[string]interface{}{"node_id": nodeID})}, nil
}
