package strategy

import (
	"context"
	"time"

	"github.com/flowgrid/flowgrid/common/models"
)

// DelayStrategy succeeds after the configured duration. The wait is
// cancelable; cancellation surfaces as a non-retryable failure so the engine
// records the node Canceled rather than retrying a timer.
type DelayStrategy struct{}

// NewDelayStrategy creates the delay strategy.
func NewDelayStrategy() *DelayStrategy { return &DelayStrategy{} }

// Type returns the node type tag this strategy serves.
func (s *DelayStrategy) Type() string { return "delay" }

// Validate requires a positive duration.
func (s *DelayStrategy) Validate(node *models.Node) []FieldError {
	if s.duration(node) <= 0 {
		return []FieldError{{Field: "config.duration_ms", Message: "required positive duration"}}
	}
	return nil
}

func (s *DelayStrategy) duration(node *models.Node) time.Duration {
	if node.Config == nil {
		return 0
	}
	switch v := node.Config["duration_ms"].(type) {
	case float64:
		return time.Duration(v) * time.Millisecond
	case int:
		return time.Duration(v) * time.Millisecond
	case int64:
		return time.Duration(v) * time.Millisecond
	}
	if raw, ok := node.Config["duration"].(string); ok {
		if d, err := time.ParseDuration(raw); err == nil {
			return d
		}
	}
	return 0
}

// Execute waits out the duration or the context, whichever ends first.
func (s *DelayStrategy) Execute(ctx context.Context, view RunView, node *models.Node) Result {
	timer := time.NewTimer(s.duration(node))
	defer timer.Stop()

	select {
	case <-timer.C:
		return success(view.Input)
	case <-ctx.Done():
		return failure(false, "delay canceled")
	}
}

// Cleanup has nothing to release.
func (s *DelayStrategy) Cleanup(view RunView, node *models.Node) {}
