package mqtt

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/simplui/simplui/internal/events"
	"go.uber.org/zap"
)

// publishClient is the part of Client the event publisher needs.
type publishClient interface {
	Publish(topic string, payload []byte) error
	IsConnected() bool
}

// EventPublisher forwards domain events to <prefix>/events/<name>.
type EventPublisher struct {
	client publishClient
	prefix string
	logger *zap.Logger
}

func NewEventPublisher(client publishClient, prefix string, logger *zap.Logger) *EventPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventPublisher{client: client, prefix: strings.TrimSuffix(prefix, "/"), logger: logger}
}

// Topic returns the topic an event is published on.
func (p *EventPublisher) Topic(e events.Event) string {
	return p.prefix + "/events/" + e.Name
}

// Run publishes events until ctx is cancelled or the event subscription is
// closed. Events emitted while the broker is unreachable are dropped.
func (p *EventPublisher) Run(ctx context.Context) {
	sub := events.Subscribe()
	defer events.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub:
			if !ok {
				return
			}
			p.publish(e)
		}
	}
}

func (p *EventPublisher) publish(e events.Event) {
	if !p.client.IsConnected() {
		return
	}
	payload, err := json.Marshal(e)
	if err != nil {
		p.logger.Error("marshal event failed", zap.String("event", e.Name), zap.Error(err))
		return
	}
	if err := p.client.Publish(p.Topic(e), payload); err != nil {
		p.logger.Debug("mqtt publish failed", zap.String("event", e.Name), zap.Error(err))
	}
}
