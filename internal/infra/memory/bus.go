package memory

import (
	"context"
	"sync"

	"quiz-session-service/internal/domain"
)

// Bus is an in-process message bus fanning events out to subscriber channels.
// It also answers binding probes, so a single-instance deployment needs no broker.
type Bus struct {
	mu     sync.RWMutex
	topics map[string]map[chan domain.Event]struct{}
	buffer int
}

func NewBus() *Bus {
	return &Bus{
		topics: map[string]map[chan domain.Event]struct{}{
			domain.GlobalTopic: {},
		},
		buffer: 16,
	}
}

func (b *Bus) EnsureTopic(_ context.Context, topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.topics[topic]; !ok {
		b.topics[topic] = make(map[chan domain.Event]struct{})
	}
	return nil
}

// DeleteTopic closes every subscription of topic.
func (b *Bus) DeleteTopic(_ context.Context, topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.topics[topic] {
		close(ch)
	}
	delete(b.topics, topic)
	return nil
}

// Publish delivers event to every subscriber of topic. The routing pattern is
// ignored: every binding receives every message.
func (b *Bus) Publish(_ context.Context, topic, _ string, event domain.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.topics[topic] {
		select {
		case ch <- event:
		default:
			// Drop the oldest queued event so a slow consumer never blocks the publisher.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- event:
			default:
			}
		}
	}
	return nil
}

// Subscribe binds a new consumer to topic. The caller must invoke the returned
// cancel function to release the binding.
func (b *Bus) Subscribe(_ context.Context, topic string) (<-chan domain.Event, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.topics[topic]
	if !ok {
		return nil, nil, domain.NotFound("topic", topic)
	}
	ch := make(chan domain.Event, b.buffer)
	subs[ch] = struct{}{}

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.topics[topic][ch]; ok {
			delete(b.topics[topic], ch)
			close(ch)
		}
	}
	return ch, cancel, nil
}

// Bindings reports the number of subscribers of topic.
func (b *Bus) Bindings(_ context.Context, topic string) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic]), nil
}
