package trigger

import (
	"context"
	"time"

	"github.com/flowgrid/flowgrid/common/events"
	"github.com/flowgrid/flowgrid/common/metrics"
	"github.com/flowgrid/flowgrid/common/models"
	"github.com/flowgrid/flowgrid/common/redis"
	"github.com/flowgrid/flowgrid/common/repository"
)

// Starter is the engine surface the consumer drives.
type Starter interface {
	TriggerRun(ctx context.Context, wf *models.Workflow, startNodeID string, input map[string]interface{}, metadata map[string]interface{}) (string, error)
	Backpressured(ctx context.Context) bool
}

// WorkflowSource resolves trigger targets to published workflow definitions.
type WorkflowSource interface {
	GetByID(ctx context.Context, tenantID, id string) (*models.Workflow, error)
	FindByNodeID(ctx context.Context, tenantID, nodeID string) (*models.Workflow, error)
}

// Logger is the minimal logging surface the consumer needs.
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Consumer reads trigger requests off the stream and starts runs.
type Consumer struct {
	rdb       *redis.Client
	engine    Starter
	workflows WorkflowSource
	bus       *events.Bus
	metrics   *metrics.Metrics
	log       Logger

	consumerName string
	ensured      bool
}

// NewConsumer creates a trigger consumer. m may be nil.
func NewConsumer(rdb *redis.Client, engine Starter, workflows WorkflowSource, bus *events.Bus, m *metrics.Metrics, log Logger, consumerName string) *Consumer {
	if consumerName == "" {
		consumerName = "engine-1"
	}
	return &Consumer{
		rdb:          rdb,
		engine:       engine,
		workflows:    workflows,
		bus:          bus,
		metrics:      m,
		log:          log,
		consumerName: consumerName,
	}
}

// Run consumes until ctx is canceled. While the job queue sits above its
// watermark the consumer stops pulling, leaving triggers parked in the
// stream as backpressure.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if c.engine.Backpressured(ctx) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		if err := c.consumeBatch(ctx); err != nil && ctx.Err() == nil {
			c.log.Error("trigger batch failed", "error", err)
			time.Sleep(time.Second)
		}
	}
}

func (c *Consumer) consumeBatch(ctx context.Context) error {
	if !c.ensured {
		if err := c.rdb.CreateStreamGroup(ctx, Stream, Group); err != nil {
			return err
		}
		c.ensured = true
	}

	streams, err := c.rdb.ReadFromStreamGroup(ctx, Group, c.consumerName, Stream, 10, 2*time.Second)
	if err != nil {
		return err
	}

	for _, s := range streams {
		for _, msg := range s.Messages {
			c.handle(ctx, msg.Values)
			if err := c.rdb.AckStreamMessage(ctx, Stream, Group, msg.ID); err != nil {
				c.log.Error("trigger ack failed", "message_id", msg.ID, "error", err)
			}
		}
	}
	return nil
}

func (c *Consumer) handle(ctx context.Context, values map[string]interface{}) {
	req, err := decodeRequest(values)
	if err != nil {
		c.log.Error("malformed trigger dropped", "error", err)
		c.observe("malformed")
		return
	}

	// First consumer to claim the trigger id wins; redeliveries and
	// double-publishes land here and stop.
	fresh, err := c.rdb.SetNX(ctx, seenKey(req.TriggerID), "1", seenTTL)
	if err != nil {
		c.log.Error("trigger dedup check failed", "trigger_id", req.TriggerID, "error", err)
		c.observe("error")
		return
	}
	if !fresh {
		c.log.Debug("duplicate trigger dropped", "trigger_id", req.TriggerID)
		c.observe("duplicate")
		return
	}

	wf, err := c.resolveWorkflow(ctx, req)
	if err != nil {
		c.log.Warn("trigger target not found", "trigger_id", req.TriggerID,
			"workflow_id", req.WorkflowID, "node_id", req.NodeID, "error", err)
		c.observe("unresolved")
		return
	}

	if c.bus != nil {
		ev := &events.Event{
			Type:      events.TriggerReceived,
			Timestamp: time.Now().UTC(),
			TenantID:  req.TenantID,
			Payload: map[string]interface{}{
				"trigger_id": req.TriggerID,
				"node_id":    req.NodeID,
			},
			Metadata: map[string]interface{}{events.MetaWorkflowID: wf.ID},
		}
		if err := c.bus.Publish(ctx, ev); err != nil {
			c.log.Error("trigger event publish failed", "trigger_id", req.TriggerID, "error", err)
		}
	}

	runID, err := c.engine.TriggerRun(ctx, wf, req.NodeID, req.Input, req.Metadata)
	if err != nil {
		c.log.Error("trigger rejected", "trigger_id", req.TriggerID, "workflow_id", wf.ID, "error", err)
		c.observe("rejected")
		return
	}
	c.observe("started")
	c.log.Info("trigger started run", "trigger_id", req.TriggerID, "run_id", runID, "workflow_id", wf.ID)
}

func (c *Consumer) resolveWorkflow(ctx context.Context, req *models.TriggerRequest) (*models.Workflow, error) {
	if req.WorkflowID != "" {
		return c.workflows.GetByID(ctx, req.TenantID, req.WorkflowID)
	}
	if req.NodeID != "" {
		return c.workflows.FindByNodeID(ctx, req.TenantID, req.NodeID)
	}
	return nil, repository.ErrNotFound
}

func (c *Consumer) observe(outcome string) {
	if c.metrics != nil {
		c.metrics.TriggersTotal.WithLabelValues(outcome).Inc()
	}
}
