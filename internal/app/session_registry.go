package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"quiz-session-service/internal/domain"
	"quiz-session-service/internal/metrics"
)

const (
	defaultIdleCheckInterval = 90 * time.Second
	defaultCountdownInterval = time.Second
	defaultProbeTimeout      = 5 * time.Second
)

// Registry owns the lifecycle of quiz sessions: persisted state transitions, the
// per-question countdown, the idle reaper and the events announcing all of them.
type Registry struct {
	sessions SessionRepository
	members  MemberRepository
	bus      MessageBus
	probe    BindingProber
	boards   BoardCache
	log      logrus.FieldLogger
	metrics  *metrics.Metrics
	now      func() time.Time

	idleCheckInterval time.Duration
	countdownInterval time.Duration
	probeTimeout      time.Duration

	// ctx bounds every background task; Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	runtimes map[string]*runtime
}

// RegistryOption customizes a Registry.
type RegistryOption func(*Registry)

func WithLogger(log logrus.FieldLogger) RegistryOption {
	return func(r *Registry) { r.log = log }
}

func WithMetrics(m *metrics.Metrics) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

func WithBoardCache(cache BoardCache) RegistryOption {
	return func(r *Registry) { r.boards = cache }
}

func WithIdleCheckInterval(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.idleCheckInterval = d
		}
	}
}

func WithCountdownInterval(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.countdownInterval = d
		}
	}
}

func WithProbeTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.probeTimeout = d
		}
	}
}

// WithClock is test-only for deterministic start timestamps.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

func NewRegistry(sessions SessionRepository, members MemberRepository, bus MessageBus, probe BindingProber, opts ...RegistryOption) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		sessions:          sessions,
		members:           members,
		bus:               bus,
		probe:             probe,
		boards:            noBoardCache{},
		log:               logrus.StandardLogger(),
		now:               time.Now,
		idleCheckInterval: defaultIdleCheckInterval,
		countdownInterval: defaultCountdownInterval,
		probeTimeout:      defaultProbeTimeout,
		ctx:               ctx,
		cancel:            cancel,
		runtimes:          make(map[string]*runtime),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// runtime is the transient, never persisted state of one session.
type runtime struct {
	mu        sync.Mutex
	timer     int
	countdown *task
	idleCheck *task
	isEmpty   bool
}

type task struct {
	cancel context.CancelFunc
}

// stopCountdown disarms the countdown; callers hold rt.mu.
func (rt *runtime) stopCountdown(m *metrics.Metrics) {
	if rt.countdown != nil {
		rt.countdown.cancel()
		rt.countdown = nil
		m.CountdownDisarmed()
	}
}

// stopAll disarms both tasks; callers hold rt.mu.
func (rt *runtime) stopAll(m *metrics.Metrics) {
	rt.stopCountdown(m)
	if rt.idleCheck != nil {
		rt.idleCheck.cancel()
		rt.idleCheck = nil
	}
}

// Initialize (re)creates the runtime record of a session, cancelling any task armed
// for it. It reports whether an idle check was armed before.
func (r *Registry) Initialize(name string) bool {
	_, watching := r.reinit(name)
	return watching
}

func (r *Registry) reinit(name string) (*runtime, bool) {
	key := domain.SessionKey(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	watching := false
	if rt, ok := r.runtimes[key]; ok {
		rt.mu.Lock()
		watching = rt.idleCheck != nil
		rt.stopAll(r.metrics)
		rt.mu.Unlock()
	}
	rt := &runtime{timer: -1}
	r.runtimes[key] = rt
	return rt, watching
}

func (r *Registry) runtimeFor(name string) (*runtime, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.runtimes[domain.SessionKey(name)]
	return rt, ok
}

// CountdownValue returns the in-memory timer of a session, if it has a runtime record.
func (r *Registry) CountdownValue(name string) (int, bool) {
	rt, ok := r.runtimeFor(name)
	if !ok {
		return 0, false
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.timer, true
}

// AddSession allocates the session topic and stores the session document.
func (r *Registry) AddSession(ctx context.Context, session domain.QuizSession) (domain.QuizSession, error) {
	if err := r.bus.EnsureTopic(ctx, domain.QuizTopic(session.Name)); err != nil {
		return domain.QuizSession{}, domain.Transport("ensure topic", err)
	}
	created, err := r.sessions.AddSession(ctx, session)
	if err != nil {
		return domain.QuizSession{}, domain.Transport("add session", err)
	}
	return created, nil
}

// Activate opens a session for joins and arms the idle reaper for it. The topic is
// allocated again in case the bus lost it, e.g. an in-process bus after a restart.
func (r *Registry) Activate(ctx context.Context, name string) error {
	session, err := r.find(ctx, name)
	if err != nil {
		return err
	}
	if err := r.bus.EnsureTopic(ctx, domain.QuizTopic(session.Name)); err != nil {
		return domain.Transport("ensure topic", err)
	}

	rt, _ := r.reinit(session.Name)
	if err := r.update(ctx, session.ID, domain.SessionUpdate{
		State:                 domain.Ptr(domain.StateActive),
		CurrentQuestionIndex:  domain.Ptr(domain.NoQuestion),
		CurrentStartTimestamp: domain.Ptr(domain.NoTimestamp),
	}); err != nil {
		return err
	}

	r.watch(session.Name, rt)
	r.logFor(session.Name).Info("session activated")
	return nil
}

// watch arms the idle check of a session on its runtime record rt.
func (r *Registry) watch(name string, rt *runtime) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.idleCheck != nil {
		rt.idleCheck.cancel()
	}
	rt.isEmpty = false
	rt.idleCheck = r.spawn(func(ctx context.Context, t *task) {
		r.runIdleCheck(ctx, name, rt, t)
	})
}

// StartQuestion announces the current question and, for timed questions, starts
// a countdown publishing the remaining seconds down to zero.
func (r *Registry) StartQuestion(ctx context.Context, name string) error {
	session, err := r.find(ctx, name)
	if err != nil {
		return err
	}
	question, ok := session.CurrentQuestion()
	if !ok {
		return domain.InvalidState("quiz session", session.Name, "no current question to start")
	}

	if err := r.update(ctx, session.ID, domain.SessionUpdate{
		State:                 domain.Ptr(domain.StateRunning),
		CurrentStartTimestamp: domain.Ptr(r.now().UnixMilli()),
	}); err != nil {
		return err
	}

	rt, watching := r.reinit(session.Name)
	if watching {
		r.watch(session.Name, rt)
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	topic := domain.QuizTopic(session.Name)
	if err := r.publish(ctx, topic, domain.NewEvent(domain.StepStart, struct{}{})); err != nil {
		return err
	}

	seconds := question.TimerSeconds()
	if seconds <= 0 {
		return nil
	}
	rt.timer = seconds
	if err := r.publish(ctx, topic, domain.NewEvent(domain.StepCountdown, domain.CountdownPayload{Value: seconds})); err != nil {
		return err
	}
	rt.countdown = r.spawn(func(ctx context.Context, t *task) {
		r.runCountdown(ctx, session, rt, t)
	})
	r.metrics.CountdownArmed()
	return nil
}

// AdvanceQuestion moves to the next question and returns its index, or
// domain.NoQuestion without any change when the last question was reached.
func (r *Registry) AdvanceQuestion(ctx context.Context, name string) (int, error) {
	session, err := r.find(ctx, name)
	if err != nil {
		return domain.NoQuestion, err
	}
	next := session.CurrentQuestionIndex + 1
	if next >= len(session.Questions) {
		return domain.NoQuestion, nil
	}
	if err := r.moveTo(ctx, session, next); err != nil {
		return domain.NoQuestion, err
	}
	return next, nil
}

// SetQuestionIndex jumps to index, which must lie in [-1, questionCount).
func (r *Registry) SetQuestionIndex(ctx context.Context, name string, index int) error {
	session, err := r.find(ctx, name)
	if err != nil {
		return err
	}
	if index < domain.NoQuestion || index >= len(session.Questions) {
		return domain.InvalidState("quiz session", session.Name, fmt.Sprintf("question index %d out of range", index))
	}
	return r.moveTo(ctx, session, index)
}

func (r *Registry) moveTo(ctx context.Context, session domain.QuizSession, index int) error {
	if err := r.update(ctx, session.ID, domain.SessionUpdate{CurrentQuestionIndex: domain.Ptr(index)}); err != nil {
		return err
	}
	r.invalidate(ctx, session.Name)
	return r.publish(ctx, domain.QuizTopic(session.Name),
		domain.NewEvent(domain.StepNextQuestion, domain.NextQuestionPayload{NextQuestionIndex: index}))
}

// RequestReadingConfirmation asks members to confirm they have read the current question.
func (r *Registry) RequestReadingConfirmation(ctx context.Context, name string) error {
	session, err := r.find(ctx, name)
	if err != nil {
		return err
	}
	if err := r.update(ctx, session.ID, domain.SessionUpdate{ReadingConfirmationRequested: domain.Ptr(true)}); err != nil {
		return err
	}
	return r.publish(ctx, domain.QuizTopic(session.Name), domain.NewEvent(domain.StepReadingConfirmationRequested, nil))
}

// Stop ends the running countdown. The lifecycle state is left unchanged.
func (r *Registry) Stop(ctx context.Context, name string) error {
	session, err := r.find(ctx, name)
	if err != nil {
		return err
	}
	if rt, ok := r.runtimeFor(session.Name); ok {
		rt.mu.Lock()
		rt.stopCountdown(r.metrics)
		rt.timer = 0
		rt.mu.Unlock()
	}
	if err := r.update(ctx, session.ID, domain.SessionUpdate{CurrentStartTimestamp: domain.Ptr(domain.NoTimestamp)}); err != nil {
		return err
	}
	return r.publish(ctx, domain.QuizTopic(session.Name), domain.NewEvent(domain.StepStop, nil))
}

// Reset puts the session back before its first question and clears every member's responses.
func (r *Registry) Reset(ctx context.Context, name string) error {
	session, err := r.find(ctx, name)
	if err != nil {
		return err
	}
	if rt, ok := r.runtimeFor(session.Name); ok {
		rt.mu.Lock()
		rt.stopCountdown(r.metrics)
		rt.timer = 0
		rt.mu.Unlock()
	}

	if err := r.update(ctx, session.ID, domain.SessionUpdate{
		State:                        domain.Ptr(domain.StateActive),
		CurrentQuestionIndex:         domain.Ptr(domain.NoQuestion),
		CurrentStartTimestamp:        domain.Ptr(domain.NoTimestamp),
		ReadingConfirmationRequested: domain.Ptr(false),
	}); err != nil {
		return err
	}
	if err := r.members.ClearResponsesOfMembers(ctx, session.Name, len(session.Questions)); err != nil {
		return domain.Transport("clear responses", err)
	}
	r.invalidate(ctx, session.Name)

	r.logFor(session.Name).Info("session reset")
	return r.publish(ctx, domain.QuizTopic(session.Name), domain.NewEvent(domain.StepReset, nil))
}

// Deactivate closes a session: its tasks are cancelled, consumers are told it closed
// and its members are removed.
func (r *Registry) Deactivate(ctx context.Context, name string) error {
	session, err := r.find(ctx, name)
	if err != nil {
		return err
	}
	if err := r.update(ctx, session.ID, domain.SessionUpdate{
		State:                        domain.Ptr(domain.StateInactive),
		CurrentQuestionIndex:         domain.Ptr(domain.NoQuestion),
		CurrentStartTimestamp:        domain.Ptr(domain.NoTimestamp),
		ReadingConfirmationRequested: domain.Ptr(false),
	}); err != nil {
		return err
	}
	r.Initialize(session.Name)

	if err := r.publish(ctx, domain.GlobalTopic,
		domain.NewEvent(domain.StepSetInactive, domain.SetInactivePayload{QuizName: session.Name})); err != nil {
		return err
	}
	if err := r.publish(ctx, domain.QuizTopic(session.Name), domain.NewEvent(domain.StepClosed, nil)); err != nil {
		return err
	}
	if err := r.members.RemoveMembersOfSession(ctx, session.Name); err != nil {
		return domain.Transport("remove members", err)
	}
	r.invalidate(ctx, session.Name)

	r.logFor(session.Name).Info("session deactivated")
	return nil
}

// Remove deletes the session document, its members, its runtime record and its topic.
func (r *Registry) Remove(ctx context.Context, session domain.QuizSession) error {
	if err := r.sessions.DeleteSession(ctx, session.ID); err != nil {
		return domain.Transport("delete session", err)
	}
	if err := r.members.RemoveMembersOfSession(ctx, session.Name); err != nil {
		return domain.Transport("remove members", err)
	}

	r.mu.Lock()
	key := domain.SessionKey(session.Name)
	if rt, ok := r.runtimes[key]; ok {
		rt.mu.Lock()
		rt.stopAll(r.metrics)
		rt.mu.Unlock()
		delete(r.runtimes, key)
	}
	r.mu.Unlock()

	r.invalidate(ctx, session.Name)
	if err := r.bus.DeleteTopic(ctx, domain.QuizTopic(session.Name)); err != nil {
		return domain.Transport("delete topic", err)
	}
	r.logFor(session.Name).Info("session removed")
	return nil
}

// RemoveByName looks the session up by name and removes it.
func (r *Registry) RemoveByName(ctx context.Context, name string) error {
	session, err := r.find(ctx, name)
	if err != nil {
		return err
	}
	return r.Remove(ctx, session)
}

// Close cancels every background task and waits for them to exit.
func (r *Registry) Close() {
	r.cancel()

	r.mu.Lock()
	for key, rt := range r.runtimes {
		rt.mu.Lock()
		rt.stopAll(r.metrics)
		rt.mu.Unlock()
		delete(r.runtimes, key)
	}
	r.mu.Unlock()

	r.wg.Wait()
}

func (r *Registry) find(ctx context.Context, name string) (domain.QuizSession, error) {
	session, err := r.sessions.FindSessionByName(ctx, name)
	if err != nil {
		return domain.QuizSession{}, domain.Transport("find session", err)
	}
	return session, nil
}

func (r *Registry) update(ctx context.Context, id string, update domain.SessionUpdate) error {
	if err := r.sessions.UpdateSession(ctx, id, update); err != nil {
		return domain.Transport("update session", err)
	}
	return nil
}

func (r *Registry) publish(ctx context.Context, topic string, event domain.Event) error {
	if err := r.bus.Publish(ctx, topic, domain.RoutingPattern, event); err != nil {
		return domain.Transport("publish "+string(event.Step), err)
	}
	r.metrics.EventPublished(event.Step)
	return nil
}

func (r *Registry) invalidate(ctx context.Context, name string) {
	if err := r.boards.Invalidate(ctx, name); err != nil {
		r.logFor(name).WithError(err).Warn("leaderboard cache invalidation failed")
	}
}

func (r *Registry) logFor(name string) logrus.FieldLogger {
	return r.log.WithField("quiz", name)
}
