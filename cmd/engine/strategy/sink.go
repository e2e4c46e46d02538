package strategy

import (
	"context"

	"github.com/flowgrid/flowgrid/common/models"
)

// SinkStrategy returns its input unchanged. It marks a terminal handoff
// point for external delivery.
type SinkStrategy struct{}

// NewSinkStrategy creates the webhook-sink strategy.
func NewSinkStrategy() *SinkStrategy { return &SinkStrategy{} }

// Type returns the node type tag this strategy serves.
func (s *SinkStrategy) Type() string { return "webhook" }

// Validate accepts any config.
func (s *SinkStrategy) Validate(node *models.Node) []FieldError { return nil }

// Execute is the identity.
func (s *SinkStrategy) Execute(ctx context.Context, view RunView, node *models.Node) Result {
	return success(view.Input)
}

// Cleanup has nothing to release.
func (s *SinkStrategy) Cleanup(view RunView, node *models.Node) {}
