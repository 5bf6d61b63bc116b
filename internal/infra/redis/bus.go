package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"quiz-session-service/internal/domain"
)

// Bus publishes session events over Redis pub/sub so every service instance
// (and every websocket consumer attached to any of them) sees them.
// Topics are tracked in a set:  SADD quiz:topics {topic}
// Events travel on a channel:   PUBLISH quiz:bus:{topic} {json}
type Bus struct {
	client *redis.Client
	log    logrus.FieldLogger
}

const topicsKey = "quiz:topics"

func NewBus(client *redis.Client, log logrus.FieldLogger) *Bus {
	return &Bus{client: client, log: log}
}

func (b *Bus) EnsureTopic(ctx context.Context, topic string) error {
	return b.client.SAdd(ctx, topicsKey, topic).Err()
}

func (b *Bus) DeleteTopic(ctx context.Context, topic string) error {
	return b.client.SRem(ctx, topicsKey, topic).Err()
}

// Publish sends event on the topic channel. Redis channels have no routing keys,
// so every subscriber of the topic receives the event.
func (b *Bus) Publish(ctx context.Context, topic, _ string, event domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return b.client.Publish(ctx, channel(topic), data).Err()
}

// Subscribe attaches a consumer to a known topic. The caller must invoke the
// returned cancel function to release the subscription.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan domain.Event, func(), error) {
	if topic != domain.GlobalTopic {
		known, err := b.client.SIsMember(ctx, topicsKey, topic).Result()
		if err != nil {
			return nil, nil, err
		}
		if !known {
			return nil, nil, domain.NotFound("topic", topic)
		}
	}

	pubsub := b.client.Subscribe(ctx, channel(topic))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, err
	}

	out := make(chan domain.Event, 16)
	done := make(chan struct{})
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			var event domain.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				b.log.WithError(err).WithField("topic", topic).Warn("dropping malformed event")
				continue
			}
			select {
			case out <- event:
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = pubsub.Close()
		})
	}
	return out, cancel, nil
}

// Bindings reports the number of subscribers of the topic channel.
func (b *Bus) Bindings(ctx context.Context, topic string) (int, error) {
	counts, err := b.client.PubSubNumSub(ctx, channel(topic)).Result()
	if err != nil {
		return 0, err
	}
	return int(counts[channel(topic)]), nil
}

func channel(topic string) string {
	return "quiz:bus:" + topic
}
