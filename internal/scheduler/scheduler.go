package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"aeroclock/internal/clock"
	"aeroclock/internal/domain"
	"aeroclock/internal/store"
)

const minuteKeyLayout = "2006-01-02 15:04"

// LightController switches the paired smart bulb.
// Params: ctx bounds the cloud call, on selects the power state.
// Returns: call error.
type LightController interface {
	SetPower(ctx context.Context, on bool) error
}

// Ringer starts an alert session for one fired alarm.
// Params: ctx, fired alarm snapshot, and fire timestamp.
// Returns: session start error.
type Ringer interface {
	Ring(ctx context.Context, alarm domain.Alarm, firedAt time.Time) error
}

// Notifier delivers ring events to outbound channels best-effort.
// Params: ctx and ring event payload.
// Returns: none, failures are the notifier's concern.
type Notifier interface {
	Dispatch(ctx context.Context, event domain.RingEvent)
}

// Evaluator drives per-minute alarm evaluation and firing.
// Params: collaborators wired by the service composition.
// Returns: tick-driven alarm transitions.
type Evaluator struct {
	store    store.Store
	ringer   Ringer
	light    LightController
	notifier Notifier
	logger   *slog.Logger
	clock    clock.Clock

	lightTimeout time.Duration

	mu         sync.Mutex
	lastMinute string
}

// Options carries optional evaluator collaborators.
// Params: light, notifier, clock, and light call timeout overrides.
// Returns: evaluator construction options.
type Options struct {
	Light        LightController
	Notifier     Notifier
	Clock        clock.Clock
	LightTimeout time.Duration
}

// NewEvaluator builds the evaluator with required and optional collaborators.
// Params: alarm store, alert ringer, logger, and options.
// Returns: ready evaluator.
func NewEvaluator(alarms store.Store, ringer Ringer, logger *slog.Logger, opts Options) *Evaluator {
	eval := &Evaluator{
		store:        alarms,
		ringer:       ringer,
		light:        opts.Light,
		notifier:     opts.Notifier,
		logger:       logger,
		clock:        opts.Clock,
		lightTimeout: opts.LightTimeout,
	}
	if eval.clock == nil {
		eval.clock = clock.RealClock{}
	}
	if eval.lightTimeout <= 0 {
		eval.lightTimeout = 5 * time.Second
	}
	return eval
}

// decision is the pure evaluation outcome for one alarm.
// Params: none.
// Returns: fire flag plus state transitions to persist.
type decision struct {
	fire          bool
	clearSnooze   bool
	markTriggered bool
}

// evaluate computes one alarm's transition for the current minute.
// Params: alarm snapshot and current wall-clock time.
// Returns: decision describing whether and how to fire.
func evaluate(alarm domain.Alarm, now time.Time) decision {
	if !alarm.Enabled {
		return decision{}
	}

	if alarm.SnoozedUntil != nil {
		if alarm.Snoozing(now) {
			return decision{}
		}
		// Snooze expired: fire regardless of the configured time.
		return decision{
			fire:          true,
			clearSnooze:   true,
			markTriggered: !alarm.Repeat,
		}
	}

	if !alarm.Time.Matches(now) {
		return decision{}
	}
	if !alarm.Repeat && alarm.TriggeredToday {
		return decision{}
	}
	return decision{
		fire:          true,
		markTriggered: !alarm.Repeat,
	}
}

// Tick evaluates all alarms once for the current minute.
// Re-entries within the same minute are no-ops, so a sub-minute
// ticker never double-fires an alarm. The minute is consumed only
// after the store reads succeed, so a tick failing on a backend
// outage leaves it open for a retry before the minute rolls over.
// Params: ctx bounds store and collaborator calls.
// Returns: store read error; per-alarm failures are logged.
func (e *Evaluator) Tick(ctx context.Context) error {
	now := e.clock.Now()
	minute := now.Format(minuteKeyLayout)

	e.mu.Lock()
	if minute == e.lastMinute {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	if now.Hour() == 0 && now.Minute() == 0 {
		reset, err := e.store.ResetTriggeredToday(ctx)
		if err != nil && !errors.Is(err, store.ErrPersistence) {
			return err
		}
		if reset > 0 {
			e.logger.Info("daily trigger flags reset", "alarms", reset)
		}
	}

	alarms, err := e.store.List(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if minute == e.lastMinute {
		// A concurrent tick claimed this minute between the checks.
		e.mu.Unlock()
		return nil
	}
	e.lastMinute = minute
	e.mu.Unlock()

	for _, alarm := range alarms {
		verdict := evaluate(alarm, now)
		if !verdict.fire {
			continue
		}
		e.fire(ctx, alarm, verdict, now)
	}
	return nil
}

// fire persists the transition and starts collaborators for one alarm.
// Params: ctx, evaluated alarm, its decision, and the fire timestamp.
// Returns: none, failures are logged and do not block other alarms.
func (e *Evaluator) fire(ctx context.Context, alarm domain.Alarm, verdict decision, now time.Time) {
	updated, err := e.store.Update(ctx, alarm.ID, func(record *domain.Alarm) error {
		if verdict.clearSnooze {
			record.SnoozedUntil = nil
		}
		if verdict.markTriggered {
			record.TriggeredToday = true
		}
		return nil
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		// Deleted between List and fire.
		return
	case errors.Is(err, store.ErrPersistence):
		e.logger.Warn("alarm state not durably saved", "alarm_id", alarm.ID, "error", err)
	case err != nil:
		e.logger.Error("alarm fire transition failed", "alarm_id", alarm.ID, "error", err)
		return
	}

	e.logger.Info("alarm fired", "alarm_id", updated.ID, "time", updated.Time.String(), "repeat", updated.Repeat)

	if updated.LightControl && e.light != nil {
		lightCtx, cancel := context.WithTimeout(ctx, e.lightTimeout)
		if err := e.light.SetPower(lightCtx, true); err != nil {
			e.logger.Warn("light activation failed", "alarm_id", updated.ID, "error", err)
		}
		cancel()
	}

	if err := e.ringer.Ring(ctx, updated, now); err != nil {
		e.logger.Error("alert session start failed", "alarm_id", updated.ID, "error", err)
	}

	if e.notifier != nil {
		e.notifier.Dispatch(ctx, domain.RingEvent{
			Kind:    "ring",
			AlarmID: updated.ID,
			Time:    updated.Time,
			Repeat:  updated.Repeat,
			FiredAt: now,
		})
	}
}
