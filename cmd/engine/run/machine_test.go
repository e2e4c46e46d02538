package run

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgrid/flowgrid/common/events"
	"github.com/flowgrid/flowgrid/common/graph"
	"github.com/flowgrid/flowgrid/common/models"
)

func linearGraph(t *testing.T, ids ...string) *graph.ProcessedWorkflow {
	t.Helper()
	nodes := make([]models.Node, 0, len(ids))
	for _, id := range ids {
		nodes = append(nodes, models.Node{ID: id, Type: "transform", Name: id})
	}
	var edges []models.Edge
	for i := 0; i+1 < len(ids); i++ {
		edges = append(edges, models.Edge{Source: ids[i], Target: ids[i+1]})
	}
	pw, err := graph.Process(nodes, edges)
	require.NoError(t, err)
	return pw
}

func newTestContext(t *testing.T, ids ...string) *Context {
	return NewContext("run-1", "wf-1", "acme", linearGraph(t, ids...),
		map[string]interface{}{"v": 3},
		Config{MaxRetries: 2, RetryDelay: time.Second, Timeout: time.Minute})
}

func TestLifecycle_HappyPath(t *testing.T) {
	c := newTestContext(t, "a", "b")

	evs, err := c.Start()
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, events.WorkflowStarted, evs[0].Type)
	assert.Equal(t, "run-1", evs[0].RunID())
	assert.Equal(t, models.RunStateRunning, c.State)

	_, err = c.ScheduleNode("a", 1)
	require.NoError(t, err)
	assert.True(t, c.Scheduled["a"])

	_, err = c.StartNode("a", 1, map[string]interface{}{"v": 3})
	require.NoError(t, err)
	assert.Equal(t, models.NodeStateRunning, c.Nodes["a"].State)

	evs, err = c.CompleteNode("a", 6)
	require.NoError(t, err)
	assert.Equal(t, events.NodeCompleted, evs[0].Type)
	assert.False(t, c.Scheduled["a"])
	assert.True(t, c.Completed["a"])
	assert.Equal(t, 6, c.Nodes["a"].Output)

	assert.False(t, c.ShouldComplete(), "exit node b not yet terminal")

	_, err = c.ScheduleNode("b", 1)
	require.NoError(t, err)
	_, err = c.StartNode("b", 1, 6)
	require.NoError(t, err)
	_, err = c.CompleteNode("b", 6)
	require.NoError(t, err)

	require.True(t, c.ShouldComplete())
	evs, err = c.Complete()
	require.NoError(t, err)
	assert.Equal(t, events.WorkflowCompleted, evs[0].Type)
	assert.Equal(t, models.RunStateCompleted, c.State)
	assert.True(t, c.IsTerminal())
	assert.Equal(t, map[string]interface{}{"b": interface{}(6)}, c.Result())
}

func TestProtocolViolations(t *testing.T) {
	c := newTestContext(t, "a")

	_, err := c.Complete()
	var pv *ProtocolViolationError
	require.ErrorAs(t, err, &pv)
	assert.Equal(t, "workflow", pv.Entity)
	assert.Equal(t, models.RunStateCreated, pv.From)

	require.NotEmpty(t, (&ProtocolViolationError{Entity: "a", From: "pending", Action: "complete"}).Error())

	_, err = c.Start()
	require.NoError(t, err)

	// starting twice
	_, err = c.Start()
	require.ErrorAs(t, err, &pv)

	// completing a node never started
	_, err = c.CompleteNode("a", nil)
	require.ErrorAs(t, err, &pv)

	// scheduling a node twice without it leaving Pending is legal only once
	_, err = c.ScheduleNode("a", 1)
	require.NoError(t, err)
	_, err = c.StartNode("a", 1, nil)
	require.NoError(t, err)
	_, err = c.ScheduleNode("a", 1)
	require.ErrorAs(t, err, &pv)
}

func TestRetryReturnsNodeToPending(t *testing.T) {
	c := newTestContext(t, "a")
	_, err := c.Start()
	require.NoError(t, err)
	_, err = c.ScheduleNode("a", 1)
	require.NoError(t, err)
	_, err = c.StartNode("a", 1, nil)
	require.NoError(t, err)

	evs, err := c.FailNode("a", "boom", true)
	require.NoError(t, err)
	assert.Equal(t, events.NodeFailed, evs[0].Type)
	assert.Equal(t, true, evs[0].Payload["retrying"])

	rec := c.Nodes["a"]
	assert.Equal(t, models.NodeStatePending, rec.State)
	assert.Equal(t, 1, rec.RetryCount)
	assert.Equal(t, 2, rec.CurrentAttempt())
	assert.False(t, c.Failed["a"])
	assert.True(t, c.Scheduled["a"], "retried node stays scheduled")

	_, err = c.StartNode("a", 2, nil)
	require.NoError(t, err)
	_, err = c.FailNode("a", "boom again", false)
	require.NoError(t, err)
	assert.Equal(t, models.NodeStateFailed, c.Nodes["a"].State)
	assert.True(t, c.Failed["a"])
	assert.False(t, c.Scheduled["a"])
	require.Len(t, c.Nodes["a"].Attempts, 2)
	assert.Equal(t, 1, c.Nodes["a"].Attempts[0].Number)
	assert.Equal(t, 2, c.Nodes["a"].Attempts[1].Number)
}

func TestCancelMarksInFlightNodes(t *testing.T) {
	c := newTestContext(t, "a", "b")
	_, err := c.Start()
	require.NoError(t, err)
	_, err = c.ScheduleNode("a", 1)
	require.NoError(t, err)
	_, err = c.StartNode("a", 1, nil)
	require.NoError(t, err)
	_, err = c.ScheduleNode("b", 1)
	require.NoError(t, err)

	evs, err := c.Cancel()
	require.NoError(t, err)
	assert.Equal(t, models.RunStateCanceled, c.State)
	assert.Equal(t, models.NodeStateCanceled, c.Nodes["a"].State)
	assert.Equal(t, models.NodeStateCanceled, c.Nodes["b"].State)
	assert.Empty(t, c.Scheduled)

	var canceled int
	for _, ev := range evs {
		if ev.Type == events.NodeCanceled {
			canceled++
		}
	}
	assert.Equal(t, 2, canceled)
}

func TestPauseRecordsCompletionsButStateHolds(t *testing.T) {
	c := newTestContext(t, "a", "b")
	_, err := c.Start()
	require.NoError(t, err)
	_, err = c.ScheduleNode("a", 1)
	require.NoError(t, err)
	_, err = c.StartNode("a", 1, nil)
	require.NoError(t, err)

	_, err = c.Pause()
	require.NoError(t, err)

	// in-flight completion is recorded while paused
	_, err = c.CompleteNode("a", "done")
	require.NoError(t, err)
	assert.True(t, c.Completed["a"])

	// but nothing new is scheduled
	_, err = c.ScheduleNode("b", 1)
	var pv *ProtocolViolationError
	require.ErrorAs(t, err, &pv)

	_, err = c.Resume()
	require.NoError(t, err)
	_, err = c.ScheduleNode("b", 1)
	require.NoError(t, err)
}

func TestTerminalSetsArePairwiseDisjoint(t *testing.T) {
	c := newTestContext(t, "a", "b", "c")
	_, err := c.Start()
	require.NoError(t, err)

	_, _ = c.ScheduleNode("a", 1)
	_, _ = c.StartNode("a", 1, nil)
	_, _ = c.CompleteNode("a", 1)
	_, _ = c.ScheduleNode("b", 1)
	_, _ = c.StartNode("b", 1, nil)
	_, _ = c.FailNode("b", "no", false)
	_, _ = c.SkipNode("c")

	for id := range c.Completed {
		assert.False(t, c.Failed[id])
		assert.False(t, c.Skipped[id])
	}
	for id := range c.Failed {
		assert.False(t, c.Skipped[id])
	}
	assert.Empty(t, c.Scheduled)
}

func TestRehydrateReproducesContext(t *testing.T) {
	c := newTestContext(t, "a", "b")

	var stream []*events.Event
	collect := func(evs []*events.Event, err error) {
		require.NoError(t, err)
		stream = append(stream, evs...)
	}

	collect(c.Start())
	collect(c.ScheduleNode("a", 1))
	collect(c.StartNode("a", 1, map[string]interface{}{"v": 3}))
	collect(c.CompleteNode("a", 6))
	collect(c.ScheduleNode("b", 1))
	collect(c.StartNode("b", 1, 6))
	collect(c.CompleteNode("b", 6))
	collect(c.Complete())

	replica, err := Rehydrate(c.Processed, stream)
	require.NoError(t, err)

	assert.Equal(t, c.RunID, replica.RunID)
	assert.Equal(t, c.State, replica.State)
	assert.Equal(t, c.Variables, replica.Variables)
	assert.Equal(t, c.Completed, replica.Completed)
	assert.Equal(t, c.Failed, replica.Failed)
	assert.Equal(t, c.Skipped, replica.Skipped)
	for id, rec := range c.Nodes {
		got := replica.Nodes[id]
		require.NotNil(t, got, "node %s missing after replay", id)
		assert.Equal(t, rec.State, got.State)
		assert.Equal(t, rec.Output, got.Output)
		assert.Equal(t, rec.RetryCount, got.RetryCount)
		assert.Len(t, got.Attempts, len(rec.Attempts))
	}
}

func TestRehydrateRejectsMalformedStream(t *testing.T) {
	pw := linearGraph(t, "a")

	_, err := Rehydrate(pw, nil)
	assert.Error(t, err)

	_, err = Rehydrate(pw, []*events.Event{{Type: events.NodeCompleted, Payload: map[string]interface{}{"node_id": "a"}}})
	assert.Error(t, err, "stream must open with the started event")
}
