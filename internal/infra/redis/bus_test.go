package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"quiz-session-service/internal/domain"
	"quiz-session-service/internal/logger"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestBusPublishSubscribe(t *testing.T) {
	ctx := context.Background()
	_, client := newClient(t)
	bus := NewBus(client, logger.Discard())
	topic := domain.QuizTopic("quiz-A")

	if err := bus.EnsureTopic(ctx, topic); err != nil {
		t.Fatalf("ensure topic: %v", err)
	}
	events, cancel, err := bus.Subscribe(ctx, topic)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	if n, err := bus.Bindings(ctx, topic); err != nil || n != 1 {
		t.Fatalf("expected 1 binding, got %d (%v)", n, err)
	}

	if err := bus.Publish(ctx, topic, domain.RoutingPattern, domain.NewEvent(domain.StepCountdown, domain.CountdownPayload{Value: 3})); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case ev := <-events:
		if ev.Step != domain.StepCountdown || ev.Status != domain.StatusSuccess {
			t.Fatalf("unexpected event %+v", ev)
		}
		payload, ok := ev.Payload.(map[string]any)
		if !ok || payload["value"] != float64(3) {
			t.Fatalf("unexpected payload %#v", ev.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
}

func TestBusSubscribeUnknownTopic(t *testing.T) {
	_, client := newClient(t)
	bus := NewBus(client, logger.Discard())

	_, _, err := bus.Subscribe(context.Background(), "quiz_missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestBusDeleteTopicAndRelease(t *testing.T) {
	ctx := context.Background()
	mr, client := newClient(t)
	bus := NewBus(client, logger.Discard())
	topic := domain.QuizTopic("quiz-B")

	if err := bus.EnsureTopic(ctx, topic); err != nil {
		t.Fatalf("ensure topic: %v", err)
	}
	if ok, _ := mr.SIsMember(topicsKey, topic); !ok {
		t.Fatalf("expected topic registered")
	}

	_, cancel, err := bus.Subscribe(ctx, topic)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	cancel()
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for {
		n, err := bus.Bindings(ctx, topic)
		if err != nil {
			t.Fatalf("bindings: %v", err)
		}
		if n == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("subscription not released")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := bus.DeleteTopic(ctx, topic); err != nil {
		t.Fatalf("delete topic: %v", err)
	}
	if ok, _ := mr.SIsMember(topicsKey, topic); ok {
		t.Fatalf("expected topic removed")
	}
}

func TestBusGlobalTopicNeedsNoRegistration(t *testing.T) {
	_, client := newClient(t)
	bus := NewBus(client, logger.Discard())
	_, cancel, err := bus.Subscribe(context.Background(), domain.GlobalTopic)
	if err != nil {
		t.Fatalf("subscribe global: %v", err)
	}
	cancel()
}
