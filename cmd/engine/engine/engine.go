// Package engine owns live run contexts and drives them: it consumes job
// deliveries, invokes node strategies, applies state machine transitions
// under a per-run critical section, and schedules successors.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/flowgrid/flowgrid/cmd/engine/run"
	"github.com/flowgrid/flowgrid/cmd/engine/strategy"
	"github.com/flowgrid/flowgrid/common/events"
	"github.com/flowgrid/flowgrid/common/expr"
	"github.com/flowgrid/flowgrid/common/metrics"
	"github.com/flowgrid/flowgrid/common/models"
	"github.com/flowgrid/flowgrid/common/queue"
)

// Logger is the minimal logging surface the engine needs.
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Config carries the engine's execution knobs.
type Config struct {
	Workers          int
	MaxRetries       int
	RetryDelay       time.Duration
	NodeTimeout      time.Duration
	RunTimeout       time.Duration
	CancelGrace      time.Duration
	LaneWatermark    int
	ContextRetention time.Duration
	ReaperTick       time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Workers <= 0 {
		out.Workers = 4
	}
	if out.MaxRetries < 0 {
		out.MaxRetries = 0
	}
	if out.RetryDelay <= 0 {
		out.RetryDelay = time.Second
	}
	if out.NodeTimeout <= 0 {
		out.NodeTimeout = 5 * time.Minute
	}
	if out.RunTimeout <= 0 {
		out.RunTimeout = 30 * time.Minute
	}
	if out.CancelGrace <= 0 {
		out.CancelGrace = 5 * time.Second
	}
	if out.LaneWatermark <= 0 {
		out.LaneWatermark = 1000
	}
	if out.ContextRetention <= 0 {
		out.ContextRetention = 10 * time.Minute
	}
	if out.ReaperTick <= 0 {
		out.ReaperTick = 30 * time.Second
	}
	return out
}

// edgeResolution marks how one predecessor edge into a convergence target
// was resolved.
const (
	edgeFired      = "fired"
	edgeSuppressed = "suppressed"
)

// runState pairs a run context with the engine-side bookkeeping that is not
// part of the pure state machine.
type runState struct {
	mu sync.Mutex

	ctx      *run.Context
	workflow *models.Workflow

	// inflight dedups at-least-once job deliveries on (node, attempt).
	inflight map[string]bool

	// resolved tracks incoming-edge resolutions per target node.
	resolved map[string]map[string]string

	// deferred holds nodes that resolved while the run was paused; their
	// successor selection happens on resume. deferredRetries holds nodes
	// whose retry re-schedule was blocked by the pause.
	deferred        []string
	deferredRetries []string

	// cancels holds per-node cooperative cancellation for in-flight executes.
	cancels map[string]context.CancelFunc

	// lastActivity feeds the stale-run reaper.
	lastActivity time.Time

	runCtx    context.Context
	cancelRun context.CancelFunc
}

func (rs *runState) touch() {
	rs.lastActivity = time.Now().UTC()
}

// Engine drives workflow runs.
type Engine struct {
	queue    queue.Queue
	bus      *events.Bus
	registry *strategy.Registry
	eval     *expr.Evaluator
	persist  Persister
	metrics  *metrics.Metrics
	log      Logger
	cfg      Config

	mu   sync.Mutex
	runs map[string]*runState
}

// New creates an engine. persist and m may be nil.
func New(q queue.Queue, bus *events.Bus, registry *strategy.Registry, eval *expr.Evaluator, persist Persister, m *metrics.Metrics, log Logger, cfg Config) *Engine {
	if persist == nil {
		persist = NopPersister{}
	}
	return &Engine{
		queue:    q,
		bus:      bus,
		registry: registry,
		eval:     eval,
		persist:  persist,
		metrics:  m,
		log:      log,
		cfg:      cfg.withDefaults(),
		runs:     make(map[string]*runState),
	}
}

// Start runs the worker pool and the stale-run reaper until ctx is canceled.
func (e *Engine) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, lane := range queue.Lanes() {
		for i := 0; i < e.cfg.Workers; i++ {
			lane := lane
			g.Go(func() error {
				err := e.queue.Consume(gctx, lane, e.handleJob)
				if err != nil && gctx.Err() != nil {
					return nil
				}
				return err
			})
		}
	}

	g.Go(func() error {
		e.reaperLoop(gctx)
		return nil
	})

	e.log.Info("engine started", "workers", e.cfg.Workers, "lanes", len(queue.Lanes()))
	return g.Wait()
}

// Backpressured reports whether any lane sits above the in-flight watermark.
// The trigger consumer stops pulling new trigger events while true.
func (e *Engine) Backpressured(ctx context.Context) bool {
	for _, lane := range queue.Lanes() {
		depth, err := e.queue.Depth(ctx, lane)
		if err != nil {
			continue
		}
		if e.metrics != nil {
			e.metrics.QueueDepth.WithLabelValues(lane).Set(float64(depth))
		}
		if depth > int64(e.cfg.LaneWatermark) {
			return true
		}
	}
	return false
}

func (e *Engine) state(runID string) (*runState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rs, ok := e.runs[runID]
	return rs, ok
}

// Context returns a snapshot view of a live run's context for inspection.
func (e *Engine) Context(runID string) (*run.Context, bool) {
	rs, ok := e.state(runID)
	if !ok {
		return nil, false
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.ctx, true
}

// retire schedules a terminal run context for removal after the retention
// window; replay and inspection stay possible until then.
func (e *Engine) retire(runID string) {
	time.AfterFunc(e.cfg.ContextRetention, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.runs, runID)
	})
}

func (e *Engine) publish(rs *runState, evs []*events.Event) {
	for _, ev := range evs {
		if err := e.bus.Publish(rs.runCtx, ev); err != nil {
			e.log.Error("event publish failed", "event_type", ev.Type, "run_id", rs.ctx.RunID, "error", err)
		} else if e.metrics != nil {
			e.metrics.EventsAppended.Inc()
		}
	}
}

func inflightKey(nodeID string, attempt int) string {
	return fmt.Sprintf("%s#%d", nodeID, attempt)
}
