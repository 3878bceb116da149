package bus

import (
	"context"
	"sync"
)

// Topics is a keyed collection of brokers, created lazily per topic.
// Publishing to one topic never reaches subscribers of another.
type Topics[T any] struct {
	mu         sync.Mutex
	brokers    map[string]*Broker[T]
	bufferSize int
	closed     bool
}

// NewTopics creates a topic registry whose brokers use the default buffer size.
func NewTopics[T any]() *Topics[T] {
	return &Topics[T]{brokers: make(map[string]*Broker[T]), bufferSize: defaultBufferSize}
}

// Topic returns the broker for key, creating it on first use.
// After Close, a fresh closed broker is returned so callers see closed channels.
func (t *Topics[T]) Topic(key string) *Broker[T] {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		b := NewBrokerWithBuffer[T](t.bufferSize)
		b.Close()
		return b
	}
	b, ok := t.brokers[key]
	if !ok {
		b = NewBrokerWithBuffer[T](t.bufferSize)
		t.brokers[key] = b
	}
	return b
}

// Subscribe subscribes to a single topic.
func (t *Topics[T]) Subscribe(ctx context.Context, key string) <-chan Event[T] {
	return t.Topic(key).Subscribe(ctx)
}

// Publish sends an event to the subscribers of one topic.
func (t *Topics[T]) Publish(key string, eventType EventType, payload T) {
	t.Topic(key).Publish(eventType, payload)
}

// Close shuts down every topic broker.
func (t *Topics[T]) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	t.closed = true
	for _, b := range t.brokers {
		b.Close()
	}
	t.brokers = nil
}
