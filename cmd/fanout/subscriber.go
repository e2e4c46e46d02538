package main

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/flowgrid/flowgrid/common/events"
	"github.com/flowgrid/flowgrid/common/redis"
)

// channelPrefix matches the bus's per-tenant fanout channels.
const channelPrefix = "wf.events."

// Logger is the minimal logging surface the fanout service needs.
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Subscriber bridges the bus's Redis pubsub fanout into the hub.
type Subscriber struct {
	rdb *redis.Client
	hub *Hub
	log Logger
}

// NewSubscriber creates a subscriber.
func NewSubscriber(rdb *redis.Client, hub *Hub, log Logger) *Subscriber {
	return &Subscriber{rdb: rdb, hub: hub, log: log}
}

// Run consumes tenant event channels until ctx is canceled. Pubsub delivery
// is best effort; subscribers needing a complete history replay the event
// store instead.
func (s *Subscriber) Run(ctx context.Context) error {
	pubsub := s.rdb.PSubscribe(ctx, channelPrefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	s.log.Info("event subscription established", "pattern", channelPrefix+"*")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			tenant := strings.TrimPrefix(msg.Channel, channelPrefix)
			if tenant == "" || tenant == msg.Channel {
				continue
			}

			var ev events.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				s.log.Warn("undecodable event dropped", "channel", msg.Channel, "error", err)
				continue
			}

			s.hub.broadcast <- &Message{
				TenantID:   tenant,
				WorkflowID: ev.WorkflowID(),
				RunID:      ev.RunID(),
				Data:       []byte(msg.Payload),
			}
		}
	}
}
