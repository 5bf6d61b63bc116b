package app_test

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"quiz-session-service/internal/app"
	"quiz-session-service/internal/domain"
	"quiz-session-service/internal/infra/memory"
	"quiz-session-service/internal/logger"
	"quiz-session-service/internal/metrics"
)

type registryFixture struct {
	registry *app.Registry
	store    *memory.Store
	bus      *recordingBus
	probe    *scriptedProbe
}

func newRegistryFixture(t *testing.T, probe *scriptedProbe, opts ...app.RegistryOption) *registryFixture {
	t.Helper()
	if probe == nil {
		probe = newScriptedProbe(probeResult{bindings: 1})
	}
	store := memory.NewStore()
	bus := newRecordingBus()
	base := []app.RegistryOption{
		app.WithLogger(logger.Discard()),
		app.WithMetrics(metrics.NewMetrics("test")),
		app.WithIdleCheckInterval(time.Hour),
		app.WithCountdownInterval(5 * time.Millisecond),
	}
	registry := app.NewRegistry(store, store, bus, probe, append(base, opts...)...)
	t.Cleanup(registry.Close)
	return &registryFixture{registry: registry, store: store, bus: bus, probe: probe}
}

func (f *registryFixture) addSession(t *testing.T, name string, questions ...domain.Question) domain.QuizSession {
	t.Helper()
	session, err := f.registry.AddSession(context.Background(), domain.NewQuizSession(name, questions))
	if err != nil {
		t.Fatalf("add session: %v", err)
	}
	return session
}

func (f *registryFixture) session(t *testing.T, name string) domain.QuizSession {
	t.Helper()
	session, err := f.store.FindSessionByName(context.Background(), name)
	if err != nil {
		t.Fatalf("find session: %v", err)
	}
	return session
}

func TestAddSessionAllocatesTopic(t *testing.T) {
	f := newRegistryFixture(t, nil)
	f.addSession(t, "Quiz-A", choiceQuestion(0, 1))

	if !f.bus.hasTopic("quiz_quiz-a") {
		t.Fatalf("expected topic quiz_quiz-a to be allocated")
	}
	_, err := f.registry.AddSession(context.Background(), domain.NewQuizSession("quiz-a", nil))
	if !errors.Is(err, domain.ErrDuplicate) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestCountdownPublishesEveryValueDownToZero(t *testing.T) {
	ctx := context.Background()
	f := newRegistryFixture(t, nil)
	f.addSession(t, "quiz-A", choiceQuestion(5, 0))

	if err := f.registry.Activate(ctx, "quiz-A"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if _, err := f.registry.AdvanceQuestion(ctx, "quiz-A"); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if err := f.registry.StartQuestion(ctx, "quiz-A"); err != nil {
		t.Fatalf("start: %v", err)
	}

	topic := domain.QuizTopic("quiz-A")
	eventually(t, 2*time.Second, func() bool {
		return f.session(t, "quiz-A").CurrentStartTimestamp == domain.NoTimestamp
	}, "countdown did not finish")

	if got, want := f.bus.countdownValues(topic), []int{5, 4, 3, 2, 1, 0}; !reflect.DeepEqual(got, want) {
		t.Fatalf("countdown values = %v, want %v", got, want)
	}
	if timer, _ := f.registry.CountdownValue("quiz-A"); timer != 0 {
		t.Fatalf("expected timer 0 after countdown, got %d", timer)
	}
	if state := f.session(t, "quiz-A").State; state != domain.StateRunning {
		t.Fatalf("expected RUNNING, got %s", state)
	}

	steps := f.bus.steps(topic)
	if steps[0] != domain.StepNextQuestion || steps[1] != domain.StepStart {
		t.Fatalf("unexpected event order %v", steps)
	}
}

func TestStartWithoutCurrentQuestionIsInvalid(t *testing.T) {
	f := newRegistryFixture(t, nil)
	f.addSession(t, "quiz-A", choiceQuestion(5, 0))

	err := f.registry.StartQuestion(context.Background(), "quiz-A")
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
}

func TestUntimedQuestionHasNoCountdown(t *testing.T) {
	ctx := context.Background()
	f := newRegistryFixture(t, nil)
	f.addSession(t, "quiz-A", choiceQuestion(0, 0))
	_, _ = f.registry.AdvanceQuestion(ctx, "quiz-A")

	if err := f.registry.StartQuestion(ctx, "quiz-A"); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if n := len(f.bus.countdownValues(domain.QuizTopic("quiz-A"))); n != 0 {
		t.Fatalf("expected no countdown events, got %d", n)
	}
	if ts := f.session(t, "quiz-A").CurrentStartTimestamp; ts == domain.NoTimestamp {
		t.Fatalf("expected start timestamp to be set")
	}
}

func TestStopHaltsCountdown(t *testing.T) {
	ctx := context.Background()
	f := newRegistryFixture(t, nil)
	f.addSession(t, "quiz-A", choiceQuestion(1000, 0))
	_, _ = f.registry.AdvanceQuestion(ctx, "quiz-A")
	if err := f.registry.StartQuestion(ctx, "quiz-A"); err != nil {
		t.Fatalf("start: %v", err)
	}

	topic := domain.QuizTopic("quiz-A")
	eventually(t, time.Second, func() bool { return len(f.bus.countdownValues(topic)) >= 3 }, "countdown did not tick")

	if err := f.registry.Stop(ctx, "quiz-A"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	ticks := len(f.bus.countdownValues(topic))
	time.Sleep(30 * time.Millisecond)
	if after := len(f.bus.countdownValues(topic)); after != ticks {
		t.Fatalf("countdown kept ticking after stop: %d -> %d", ticks, after)
	}
	if f.bus.count(topic, domain.StepStop) != 1 {
		t.Fatalf("expected one STOP event")
	}
	if ts := f.session(t, "quiz-A").CurrentStartTimestamp; ts != domain.NoTimestamp {
		t.Fatalf("expected start timestamp cleared, got %d", ts)
	}
}

func TestAdvancePastLastQuestionReturnsSentinel(t *testing.T) {
	ctx := context.Background()
	f := newRegistryFixture(t, nil)
	f.addSession(t, "quiz-A", choiceQuestion(0, 0), choiceQuestion(0, 1))

	for want := 0; want < 2; want++ {
		got, err := f.registry.AdvanceQuestion(ctx, "quiz-A")
		if err != nil {
			t.Fatalf("advance: %v", err)
		}
		if got != want {
			t.Fatalf("advance returned %d, want %d", got, want)
		}
	}

	before := len(f.bus.steps(domain.QuizTopic("quiz-A")))
	got, err := f.registry.AdvanceQuestion(ctx, "quiz-A")
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if got != domain.NoQuestion {
		t.Fatalf("expected sentinel, got %d", got)
	}
	if idx := f.session(t, "quiz-A").CurrentQuestionIndex; idx != 1 {
		t.Fatalf("index changed to %d", idx)
	}
	if after := len(f.bus.steps(domain.QuizTopic("quiz-A"))); after != before {
		t.Fatalf("unexpected events published at the last question")
	}
}

func TestSetQuestionIndexBounds(t *testing.T) {
	ctx := context.Background()
	f := newRegistryFixture(t, nil)
	f.addSession(t, "quiz-A", choiceQuestion(0, 0), choiceQuestion(0, 1))

	for _, bad := range []int{-2, 2} {
		if err := f.registry.SetQuestionIndex(ctx, "quiz-A", bad); !errors.Is(err, domain.ErrInvalidState) {
			t.Fatalf("index %d: expected invalid state, got %v", bad, err)
		}
	}
	if err := f.registry.SetQuestionIndex(ctx, "quiz-A", 1); err != nil {
		t.Fatalf("set index: %v", err)
	}
	if idx := f.session(t, "quiz-A").CurrentQuestionIndex; idx != 1 {
		t.Fatalf("expected index 1, got %d", idx)
	}
}

func TestResetClearsResponsesAndIndex(t *testing.T) {
	ctx := context.Background()
	f := newRegistryFixture(t, nil)
	f.addSession(t, "quiz-A", choiceQuestion(1000, 0), choiceQuestion(0, 1))
	participants := app.NewParticipantService(f.store, f.store, nil)

	if err := f.registry.Activate(ctx, "quiz-A"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if _, err := participants.Join(ctx, "quiz-A", "alice", ""); err != nil {
		t.Fatalf("join: %v", err)
	}
	_, _ = f.registry.AdvanceQuestion(ctx, "quiz-A")
	if err := f.registry.RequestReadingConfirmation(ctx, "quiz-A"); err != nil {
		t.Fatalf("request confirmation: %v", err)
	}
	if err := f.registry.StartQuestion(ctx, "quiz-A"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := participants.Respond(ctx, "quiz-A", "alice", domain.ResponseValue{Choices: []int{0}}, 50); err != nil {
		t.Fatalf("respond: %v", err)
	}

	if err := f.registry.Reset(ctx, "quiz-A"); err != nil {
		t.Fatalf("reset: %v", err)
	}

	session := f.session(t, "quiz-A")
	if session.CurrentQuestionIndex != domain.NoQuestion || session.State != domain.StateActive ||
		session.CurrentStartTimestamp != domain.NoTimestamp || session.ReadingConfirmationRequested {
		t.Fatalf("unexpected session after reset: %+v", session)
	}
	member, err := f.store.FindMember(ctx, "quiz-A", "alice")
	if err != nil {
		t.Fatalf("find member: %v", err)
	}
	if len(member.Responses) != 2 {
		t.Fatalf("expected 2 response slots, got %d", len(member.Responses))
	}
	for i, r := range member.Responses {
		if r.Answered() {
			t.Fatalf("response %d not cleared: %+v", i, r)
		}
	}

	topic := domain.QuizTopic("quiz-A")
	ticks := len(f.bus.countdownValues(topic))
	time.Sleep(30 * time.Millisecond)
	if after := len(f.bus.countdownValues(topic)); after != ticks {
		t.Fatalf("countdown kept ticking after reset")
	}
	if f.bus.count(topic, domain.StepReset) != 1 {
		t.Fatalf("expected one RESET event")
	}
}

func TestDeactivatePublishesAndRemovesMembers(t *testing.T) {
	ctx := context.Background()
	f := newRegistryFixture(t, nil)
	f.addSession(t, "quiz-A", choiceQuestion(0, 0))
	participants := app.NewParticipantService(f.store, f.store, nil)

	if err := f.registry.Activate(ctx, "quiz-A"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if _, err := participants.Join(ctx, "quiz-A", "alice", ""); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := f.registry.Deactivate(ctx, "quiz-A"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	if state := f.session(t, "quiz-A").State; state != domain.StateInactive {
		t.Fatalf("expected INACTIVE, got %s", state)
	}
	if f.bus.count(domain.GlobalTopic, domain.StepSetInactive) != 1 {
		t.Fatalf("expected SET_INACTIVE on the global topic")
	}
	if f.bus.count(domain.QuizTopic("quiz-A"), domain.StepClosed) != 1 {
		t.Fatalf("expected CLOSED on the quiz topic")
	}
	members, _ := f.store.FindMembersOfSession(ctx, "quiz-A")
	if len(members) != 0 {
		t.Fatalf("expected members removed, got %d", len(members))
	}
	if _, err := participants.Join(ctx, "quiz-A", "bob", ""); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected join on inactive session to fail, got %v", err)
	}
}

func TestRemoveDropsSessionAndTopic(t *testing.T) {
	ctx := context.Background()
	f := newRegistryFixture(t, nil)
	f.addSession(t, "quiz-A", choiceQuestion(0, 0))

	if err := f.registry.RemoveByName(ctx, "QUIZ-A"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if f.bus.hasTopic(domain.QuizTopic("quiz-A")) {
		t.Fatalf("expected topic deleted")
	}
	if _, ok := f.registry.CountdownValue("quiz-A"); ok {
		t.Fatalf("expected runtime record dropped")
	}
	if err := f.registry.Activate(ctx, "quiz-A"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestIdleReaperDeactivatesAfterTwoEmptyProbes(t *testing.T) {
	ctx := context.Background()
	probe := newScriptedProbe(probeResult{bindings: 0})
	f := newRegistryFixture(t, probe, app.WithIdleCheckInterval(5*time.Millisecond))
	f.addSession(t, "quiz-A", choiceQuestion(0, 0))

	if err := f.registry.Activate(ctx, "quiz-A"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	eventually(t, time.Second, func() bool {
		return f.session(t, "quiz-A").State == domain.StateInactive
	}, "session was not reaped")

	time.Sleep(30 * time.Millisecond)
	if n := f.bus.count(domain.GlobalTopic, domain.StepSetInactive); n != 1 {
		t.Fatalf("expected exactly one deactivation, got %d", n)
	}
	if calls := probe.callCount(); calls != 2 {
		t.Fatalf("expected the reaper to stop after two probes, got %d", calls)
	}
}

func TestIdleReaperKeepsSessionWithConsumers(t *testing.T) {
	ctx := context.Background()
	probe := newScriptedProbe(probeResult{bindings: 0}, probeResult{bindings: 1}, probeResult{bindings: 0}, probeResult{bindings: 2})
	f := newRegistryFixture(t, probe, app.WithIdleCheckInterval(5*time.Millisecond))
	f.addSession(t, "quiz-A", choiceQuestion(0, 0))

	if err := f.registry.Activate(ctx, "quiz-A"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	eventually(t, time.Second, func() bool { return probe.callCount() >= 6 }, "reaper did not keep probing")

	if n := f.bus.count(domain.GlobalTopic, domain.StepSetInactive); n != 0 {
		t.Fatalf("expected no deactivation, got %d", n)
	}
	if state := f.session(t, "quiz-A").State; state != domain.StateActive {
		t.Fatalf("expected ACTIVE, got %s", state)
	}
}

func TestIdleReaperFailsOpenOnProbeErrors(t *testing.T) {
	ctx := context.Background()
	probe := newScriptedProbe(
		probeResult{bindings: 0},
		probeResult{err: errProbeDown},
		probeResult{bindings: 0},
		probeResult{err: errProbeDown},
	)
	f := newRegistryFixture(t, probe, app.WithIdleCheckInterval(5*time.Millisecond))
	f.addSession(t, "quiz-A", choiceQuestion(0, 0))

	if err := f.registry.Activate(ctx, "quiz-A"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	eventually(t, time.Second, func() bool { return probe.callCount() >= 6 }, "reaper stopped after probe errors")

	if n := f.bus.count(domain.GlobalTopic, domain.StepSetInactive); n != 0 {
		t.Fatalf("expected no deactivation on probe errors, got %d", n)
	}
}

func TestInitializeReportsArmedIdleCheck(t *testing.T) {
	ctx := context.Background()
	f := newRegistryFixture(t, nil)
	f.addSession(t, "quiz-A", choiceQuestion(0, 0))

	if f.registry.Initialize("quiz-A") {
		t.Fatalf("fresh runtime must not report an idle check")
	}
	if err := f.registry.Activate(ctx, "quiz-A"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if !f.registry.Initialize("quiz-A") {
		t.Fatalf("expected armed idle check to be reported")
	}
	if f.registry.Initialize("quiz-A") {
		t.Fatalf("initialize must cancel the idle check")
	}
}

func TestCloseStopsBackgroundTasks(t *testing.T) {
	ctx := context.Background()
	probe := newScriptedProbe(probeResult{bindings: 1})
	f := newRegistryFixture(t, probe, app.WithIdleCheckInterval(5*time.Millisecond))
	f.addSession(t, "quiz-A", choiceQuestion(1000, 0))
	if err := f.registry.Activate(ctx, "quiz-A"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	_, _ = f.registry.AdvanceQuestion(ctx, "quiz-A")
	if err := f.registry.StartQuestion(ctx, "quiz-A"); err != nil {
		t.Fatalf("start: %v", err)
	}

	f.registry.Close()
	topic := domain.QuizTopic("quiz-A")
	ticks, calls := len(f.bus.countdownValues(topic)), probe.callCount()
	time.Sleep(30 * time.Millisecond)
	if len(f.bus.countdownValues(topic)) != ticks || probe.callCount() != calls {
		t.Fatalf("background tasks kept running after Close")
	}
}
