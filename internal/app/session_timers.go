package app

import (
	"context"
	"fmt"
	"time"

	"quiz-session-service/internal/domain"
)

// spawn runs fn in a goroutine bound to the registry lifetime. The returned task
// cancels it; cancelling twice is harmless.
func (r *Registry) spawn(fn func(ctx context.Context, t *task)) *task {
	ctx, cancel := context.WithCancel(r.ctx)
	t := &task{cancel: cancel}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		fn(ctx, t)
	}()
	return t
}

func (r *Registry) runCountdown(ctx context.Context, session domain.QuizSession, rt *runtime, t *task) {
	ticker := time.NewTicker(r.countdownInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if done := r.tick(session, rt, t); done {
				return
			}
		}
	}
}

// tick decrements the timer of rt and publishes the new value. It reports whether
// the countdown is over. Holding rt.mu for the whole tick keeps cancelled countdowns
// from publishing once stopCountdown has returned.
func (r *Registry) tick(session domain.QuizSession, rt *runtime, t *task) (done bool) {
	log := r.logFor(session.Name)
	defer func() {
		if p := recover(); p != nil {
			log.WithField("panic", fmt.Sprint(p)).Error("countdown tick panicked")
			done = false
		}
	}()

	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.countdown != t {
		return true
	}

	rt.timer--
	r.metrics.CountdownTick()
	event := domain.NewEvent(domain.StepCountdown, domain.CountdownPayload{Value: max(rt.timer, 0)})
	if err := r.publish(r.ctx, domain.QuizTopic(session.Name), event); err != nil {
		log.WithError(err).Error("publishing countdown failed")
	}
	if rt.timer > 0 {
		return false
	}

	rt.stopCountdown(r.metrics)
	if err := r.update(r.ctx, session.ID, domain.SessionUpdate{CurrentStartTimestamp: domain.Ptr(domain.NoTimestamp)}); err != nil {
		log.WithError(err).Error("clearing start timestamp failed")
	}
	return true
}

func (r *Registry) runIdleCheck(ctx context.Context, name string, rt *runtime, t *task) {
	ticker := time.NewTicker(r.idleCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.checkConsumers(ctx, name, rt, t)
		}
	}
}

// checkConsumers deactivates the session once two probes in a row found no consumer.
// Probe failures count as consumers being present.
func (r *Registry) checkConsumers(ctx context.Context, name string, rt *runtime, t *task) {
	if ctx.Err() != nil {
		return
	}
	log := r.logFor(name)
	defer func() {
		if p := recover(); p != nil {
			log.WithField("panic", fmt.Sprint(p)).Error("idle check panicked")
		}
	}()

	topic := domain.QuizTopic(name)
	probeCtx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	bindings, err := r.probe.Bindings(probeCtx, topic)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.metrics.ProbeFailed()
		log.WithError(domain.Probe(topic, err)).Warn("idle probe failed, assuming consumers")
		bindings = 1
	}

	rt.mu.Lock()
	if rt.idleCheck != t {
		rt.mu.Unlock()
		return
	}
	if bindings > 0 {
		rt.isEmpty = false
		rt.mu.Unlock()
		return
	}
	if !rt.isEmpty {
		rt.isEmpty = true
		rt.mu.Unlock()
		log.Debug("no consumers bound, session is an idle candidate")
		return
	}
	rt.mu.Unlock()

	log.Info("no consumers bound for two checks, deactivating session")
	r.metrics.SessionReaped()
	if err := r.Deactivate(r.ctx, name); err != nil {
		log.WithError(err).Error("deactivating idle session failed")
	}
}
