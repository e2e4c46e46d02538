// Package scheduler fires scheduled events. A tick loop claims due rows and
// publishes trigger requests; run creation itself stays behind the trigger
// stream so scheduled and webhook-driven runs share one entry path.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/flowgrid/flowgrid/cmd/engine/trigger"
	"github.com/flowgrid/flowgrid/common/metrics"
	"github.com/flowgrid/flowgrid/common/models"
	"github.com/flowgrid/flowgrid/common/redis"
	"github.com/flowgrid/flowgrid/common/schedule"
)

// EventSource is the persistence surface the dispatcher works against.
type EventSource interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledEvent, error)
	MarkFired(ctx context.Context, id string, firedAt time.Time, nextRun *time.Time) error
}

// Logger is the minimal logging surface the dispatcher needs.
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

const batchSize = 100

// Dispatcher drives the scheduled-event tick loop.
type Dispatcher struct {
	events    EventSource
	publish   func(ctx context.Context, req *models.TriggerRequest) error
	metrics   *metrics.Metrics
	log       Logger
	tick      time.Duration
	defaultTZ string

	now func() time.Time
}

// NewDispatcher creates a dispatcher publishing to the trigger stream.
func NewDispatcher(events EventSource, rdb *redis.Client, m *metrics.Metrics, log Logger, tick time.Duration, defaultTZ string) *Dispatcher {
	if tick <= 0 {
		tick = 15 * time.Second
	}
	return &Dispatcher{
		events: events,
		publish: func(ctx context.Context, req *models.TriggerRequest) error {
			return trigger.Publish(ctx, rdb, req)
		},
		metrics:   m,
		log:       log,
		tick:      tick,
		defaultTZ: defaultTZ,
		now:       time.Now,
	}
}

// Run ticks until ctx is canceled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.dispatchOnce(ctx)
		}
	}
}

// dispatchOnce fires every due event. The trigger id is deterministic on
// (event, due time), so two dispatchers racing the same row produce one run.
func (d *Dispatcher) dispatchOnce(ctx context.Context) {
	now := d.now().UTC()

	due, err := d.events.ListDue(ctx, now, batchSize)
	if err != nil {
		d.log.Error("list due scheduled events failed", "error", err)
		return
	}

	for _, ev := range due {
		if err := d.fire(ctx, ev, now); err != nil {
			d.log.Error("scheduled event fire failed", "schedule_id", ev.ID, "error", err)
		}
	}
}

func (d *Dispatcher) fire(ctx context.Context, ev *models.ScheduledEvent, now time.Time) error {
	due := now
	if ev.NextRun != nil {
		due = *ev.NextRun
	}

	req := &models.TriggerRequest{
		TriggerID:  TriggerID(ev.ID, due),
		TenantID:   ev.TenantID,
		WorkflowID: ev.WorkflowID,
		NodeID:     ev.NodeID,
		Input:      ev.Data,
		Metadata:   map[string]interface{}{"scheduled_event_id": ev.ID},
		CreatedAt:  now,
	}
	if err := d.publish(ctx, req); err != nil {
		// Leave the row due; the next tick retries with the same trigger id.
		return err
	}

	next, err := schedule.Next(ev.Schedule, now, d.defaultTZ)
	if err != nil {
		d.log.Warn("schedule became invalid, completing", "schedule_id", ev.ID, "error", err)
		next = nil
	}
	if err := d.events.MarkFired(ctx, ev.ID, now, next); err != nil {
		return err
	}

	if d.metrics != nil {
		d.metrics.TriggersTotal.WithLabelValues("scheduled").Inc()
	}
	d.log.Info("scheduled event fired", "schedule_id", ev.ID, "workflow_id", ev.WorkflowID,
		"node_id", ev.NodeID, "next_run", next)
	return nil
}

// TriggerID derives the idempotency key for one firing of a scheduled event.
func TriggerID(scheduleID string, due time.Time) string {
	return fmt.Sprintf("sched-%s-%d", scheduleID, due.Unix())
}
