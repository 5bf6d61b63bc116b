package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"quiz-session-service/internal/domain"
)

type published struct {
	topic string
	event domain.Event
}

// recordingBus keeps every published event in order.
type recordingBus struct {
	mu     sync.Mutex
	events []published
	topics map[string]bool
}

func newRecordingBus() *recordingBus {
	return &recordingBus{topics: map[string]bool{domain.GlobalTopic: true}}
}

func (b *recordingBus) EnsureTopic(_ context.Context, topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topics[topic] = true
	return nil
}

func (b *recordingBus) DeleteTopic(_ context.Context, topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.topics, topic)
	return nil
}

func (b *recordingBus) Publish(_ context.Context, topic, _ string, event domain.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, published{topic: topic, event: event})
	return nil
}

// flakyBus fails the publishes matched by fail and records the rest.
type flakyBus struct {
	*recordingBus
	fail func(topic string, event domain.Event) bool
}

var errBusDown = errors.New("bus unavailable")

func (b *flakyBus) Publish(ctx context.Context, topic, pattern string, event domain.Event) error {
	if b.fail(topic, event) {
		return errBusDown
	}
	return b.recordingBus.Publish(ctx, topic, pattern, event)
}

func (b *recordingBus) hasTopic(topic string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.topics[topic]
}

func (b *recordingBus) steps(topic string) []domain.Step {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.Step
	for _, p := range b.events {
		if p.topic == topic {
			out = append(out, p.event.Step)
		}
	}
	return out
}

func (b *recordingBus) count(topic string, step domain.Step) int {
	n := 0
	for _, s := range b.steps(topic) {
		if s == step {
			n++
		}
	}
	return n
}

func (b *recordingBus) countdownValues(topic string) []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []int
	for _, p := range b.events {
		if p.topic != topic || p.event.Step != domain.StepCountdown {
			continue
		}
		out = append(out, p.event.Payload.(domain.CountdownPayload).Value)
	}
	return out
}

// scriptedProbe answers binding probes from a script; the last entry repeats.
type scriptedProbe struct {
	mu     sync.Mutex
	script []probeResult
	calls  int
}

type probeResult struct {
	bindings int
	err      error
	panics   bool
}

var errProbeDown = errors.New("management api unreachable")

func newScriptedProbe(results ...probeResult) *scriptedProbe {
	return &scriptedProbe{script: results}
}

func (p *scriptedProbe) Bindings(context.Context, string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.calls
	if i >= len(p.script) {
		i = len(p.script) - 1
	}
	p.calls++
	if p.script[i].panics {
		panic("probe exploded")
	}
	return p.script[i].bindings, p.script[i].err
}

func (p *scriptedProbe) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out: %s", msg)
}

func choiceQuestion(timer int, correct ...int) *domain.ChoiceQuestion {
	kind := domain.SingleChoice
	if len(correct) > 1 {
		kind = domain.MultipleChoice
	}
	q := &domain.ChoiceQuestion{
		QuestionBase: domain.QuestionBase{Text: "pick", Timer: timer},
		Kind:         kind,
	}
	for i := 0; i < 4; i++ {
		q.AnswerOptions = append(q.AnswerOptions, domain.ChoiceOption{Text: string(rune('A' + i))})
	}
	for _, c := range correct {
		q.AnswerOptions[c].IsCorrect = true
	}
	return q
}
