package eventbus

import (
	"context"
	"sync"
	"time"
)

// Event is a topic-addressed message carried on the bus.
type Event struct {
	Topic      string
	Payload    any
	OccurredAt time.Time
}

// Handler consumes one event.
type Handler func(ctx context.Context, evt Event)

// wildcard subscribes to every topic.
const wildcard = "*"

// EventBus provides in-process pub/sub keyed by topic.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	wg       sync.WaitGroup
	now      func() time.Time
}

// New creates an empty EventBus.
func New() *EventBus {
	return &EventBus{
		handlers: make(map[string][]Handler),
		now:      time.Now,
	}
}

// Subscribe registers handler for one topic.
func (b *EventBus) Subscribe(topic string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], handler)
}

// SubscribeAll registers handler for every topic.
func (b *EventBus) SubscribeAll(handler Handler) {
	b.Subscribe(wildcard, handler)
}

func (b *EventBus) targets(topic string) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Handler, 0, len(b.handlers[topic])+len(b.handlers[wildcard]))
	out = append(out, b.handlers[topic]...)
	out = append(out, b.handlers[wildcard]...)
	return out
}

// Publish fans the event out to subscribers on their own goroutines.
// Handlers receive a context detached from ctx's cancellation.
func (b *EventBus) Publish(ctx context.Context, topic string, payload any) {
	evt := Event{Topic: topic, Payload: payload, OccurredAt: b.now().UTC()}
	detached := context.WithoutCancel(ctx)
	for _, h := range b.targets(topic) {
		b.wg.Add(1)
		go func(h Handler) {
			defer b.wg.Done()
			h(detached, evt)
		}(h)
	}
}

// Drain blocks until in-flight asynchronous deliveries finish or ctx ends.
func (b *EventBus) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
