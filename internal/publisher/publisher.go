package publisher

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/checks-optimizer/internal/metrics"
	"github.com/Checker-Finance/checks-optimizer/pkg/eventbus"
)

// Sink delivers envelopes to one external broker.
type Sink interface {
	Name() string
	Send(ctx context.Context, env Envelope) error
}

// Forwarder relays bus events to every configured sink.
type Forwarder struct {
	logger  *zap.Logger
	service string
	sinks   []Sink
	timeout time.Duration
}

// NewForwarder creates a forwarder. Each delivery is bounded by timeout.
func NewForwarder(logger *zap.Logger, service string, timeout time.Duration, sinks ...Sink) *Forwarder {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Forwarder{logger: logger, service: service, sinks: sinks, timeout: timeout}
}

// Attach subscribes the forwarder to topics on bus, or to every topic when none are given.
func (f *Forwarder) Attach(bus *eventbus.EventBus, topics ...string) {
	if len(topics) == 0 {
		bus.SubscribeAll(f.Handle)
		return
	}
	for _, topic := range topics {
		bus.Subscribe(topic, f.Handle)
	}
}

// Handle wraps one event in an envelope and sends it to each sink.
// Sink failures are logged and counted, never propagated.
func (f *Forwarder) Handle(ctx context.Context, evt eventbus.Event) {
	env, err := NewEnvelope(evt.Topic, f.service, evt.Payload, evt.OccurredAt)
	if err != nil {
		metrics.IncError("publisher", "marshal_failed")
		f.logger.Error("publisher.marshal_failed", zap.String("topic", evt.Topic), zap.Error(err))
		return
	}

	for _, sink := range f.sinks {
		sctx, cancel := context.WithTimeout(ctx, f.timeout)
		err := sink.Send(sctx, env)
		cancel()
		if err != nil {
			metrics.IncEvent(sink.Name(), evt.Topic, "error")
			f.logger.Error("publisher.publish_failed",
				zap.String("sink", sink.Name()),
				zap.String("topic", evt.Topic),
				zap.String("event_id", env.ID.String()),
				zap.Error(err))
			continue
		}
		metrics.IncEvent(sink.Name(), evt.Topic, "ok")
		f.logger.Debug("publisher.publish_success",
			zap.String("sink", sink.Name()),
			zap.String("topic", evt.Topic),
			zap.String("event_id", env.ID.String()))
	}
}
