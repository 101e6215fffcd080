package alert

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"aeroclock/internal/clock"
	"aeroclock/internal/domain"
	"aeroclock/internal/store"
)

// closedSessionMemory caps how many resolved session ids are remembered
// for distinguishing "already closed" from "never existed".
const closedSessionMemory = 32

var (
	// ErrSessionClosed reports a snooze or dismiss on an already resolved session.
	ErrSessionClosed = errors.New("alert session already closed")
	// ErrUnknownSession reports a session id the center has never issued.
	ErrUnknownSession = errors.New("unknown alert session")
)

// Session identifies one ringing alarm occurrence.
// Params: none.
// Returns: immutable session identity.
type Session struct {
	ID      string    `json:"session_id"`
	AlarmID string    `json:"alarm_id"`
	FiredAt time.Time `json:"fired_at"`
}

// Player controls the looping alarm sound.
// Params: none beyond playback context.
// Returns: playback start error.
type Player interface {
	Play(ctx context.Context) error
	Stop()
}

// Presenter surfaces ring state to connected panels.
// Params: ring event payloads.
// Returns: none, delivery is best-effort.
type Presenter interface {
	Present(event domain.RingEvent)
	Clear(sessionID string)
}

// LightController switches the paired smart bulb.
// Params: ctx bounds the cloud call, on selects the power state.
// Returns: call error.
type LightController interface {
	SetPower(ctx context.Context, on bool) error
}

// Options carries optional center collaborators and policies.
// Params: sound player, presenter, light, clock, and resolve policies.
// Returns: center construction options.
type Options struct {
	Sound          Player
	Presenter      Presenter
	Light          LightController
	Clock          clock.Clock
	SnoozeMinutes  int
	LightOffOnStop bool
	LightTimeout   time.Duration
}

// Center owns the single active alert session and its FIFO backlog.
// Params: collaborators wired by the service composition.
// Returns: serialized ring lifecycle.
type Center struct {
	store   store.Store
	sound   Player
	present Presenter
	light   LightController
	logger  *slog.Logger
	clock   clock.Clock

	snoozeMinutes  int
	lightOffOnStop bool
	lightTimeout   time.Duration

	mu      sync.Mutex
	active  *Session
	pending []pendingRing
	closed  []string
}

// pendingRing is one queued occurrence waiting for the active session to resolve.
type pendingRing struct {
	session Session
	alarm   domain.Alarm
}

// NewCenter builds the alert center.
// Params: alarm store, logger, and options.
// Returns: ready center.
func NewCenter(alarms store.Store, logger *slog.Logger, opts Options) *Center {
	center := &Center{
		store:          alarms,
		sound:          opts.Sound,
		present:        opts.Presenter,
		light:          opts.Light,
		logger:         logger,
		clock:          opts.Clock,
		snoozeMinutes:  opts.SnoozeMinutes,
		lightOffOnStop: opts.LightOffOnStop,
		lightTimeout:   opts.LightTimeout,
	}
	if center.clock == nil {
		center.clock = clock.RealClock{}
	}
	if center.snoozeMinutes < 1 {
		center.snoozeMinutes = 5
	}
	if center.lightTimeout <= 0 {
		center.lightTimeout = 5 * time.Second
	}
	return center
}

// Ring opens a session for a fired alarm or queues it behind the active one.
// Params: ctx, fired alarm snapshot, and fire timestamp.
// Returns: playback start error for an immediately activated session.
func (c *Center) Ring(ctx context.Context, alarm domain.Alarm, firedAt time.Time) error {
	session := Session{ID: uuid.NewString(), AlarmID: alarm.ID, FiredAt: firedAt}

	c.mu.Lock()
	if c.active != nil {
		c.pending = append(c.pending, pendingRing{session: session, alarm: alarm})
		c.mu.Unlock()
		c.logger.Info("alert queued behind active session", "session_id", session.ID, "alarm_id", alarm.ID)
		return nil
	}
	c.active = &session
	c.mu.Unlock()

	return c.activate(ctx, session, alarm)
}

// Snooze resolves the session and postpones its alarm.
// Params: ctx, session id, and minutes (non-positive selects the default).
// Returns: snoozed alarm (zero value when it was deleted mid-ring) or
// session lookup error.
func (c *Center) Snooze(ctx context.Context, sessionID string, minutes int) (domain.Alarm, error) {
	session, err := c.takeActive(sessionID)
	if err != nil {
		return domain.Alarm{}, err
	}
	if minutes < 1 {
		minutes = c.snoozeMinutes
	}

	until := c.clock.Now().Add(time.Duration(minutes) * time.Minute)
	updated, err := c.store.Update(ctx, session.AlarmID, func(record *domain.Alarm) error {
		record.SnoozedUntil = &until
		return nil
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		// Alarm deleted while ringing; the session still resolves.
		err = nil
	case errors.Is(err, store.ErrPersistence):
		c.logger.Warn("snooze state not durably saved", "alarm_id", session.AlarmID, "error", err)
		err = nil
	}

	c.logger.Info("alarm snoozed", "session_id", session.ID, "alarm_id", session.AlarmID, "minutes", minutes)
	c.finish(ctx, session, false)
	return updated, err
}

// Dismiss resolves the session and finalizes its alarm.
// Non-repeating alarms are disabled so they stay one-shot.
// Params: ctx and session id.
// Returns: dismissed alarm (zero value when it was deleted mid-ring) or
// session lookup error.
func (c *Center) Dismiss(ctx context.Context, sessionID string) (domain.Alarm, error) {
	session, err := c.takeActive(sessionID)
	if err != nil {
		return domain.Alarm{}, err
	}

	updated, err := c.store.Update(ctx, session.AlarmID, func(record *domain.Alarm) error {
		record.SnoozedUntil = nil
		if !record.Repeat {
			record.Enabled = false
		}
		return nil
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		err = nil
	case errors.Is(err, store.ErrPersistence):
		c.logger.Warn("dismiss state not durably saved", "alarm_id", session.AlarmID, "error", err)
		err = nil
	}

	c.logger.Info("alarm dismissed", "session_id", session.ID, "alarm_id", session.AlarmID)
	c.finish(ctx, session, c.lightOffOnStop)
	return updated, err
}

// Active returns the current session if one is ringing.
// Params: none.
// Returns: session copy and presence flag.
func (c *Center) Active() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return Session{}, false
	}
	return *c.active, true
}

// Close stops playback on shutdown without resolving alarm state.
// Params: none.
// Returns: none.
func (c *Center) Close() {
	if c.sound != nil {
		c.sound.Stop()
	}
}

// takeActive claims the active session for resolution.
// Params: presented session id.
// Returns: claimed session or lookup error.
func (c *Center) takeActive(sessionID string) (Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == nil || c.active.ID != sessionID {
		for _, id := range c.closed {
			if id == sessionID {
				return Session{}, ErrSessionClosed
			}
		}
		return Session{}, ErrUnknownSession
	}

	session := *c.active
	c.active = nil
	c.closed = append(c.closed, session.ID)
	if len(c.closed) > closedSessionMemory {
		c.closed = c.closed[len(c.closed)-closedSessionMemory:]
	}
	return session, nil
}

// activate starts sound and panel presentation for one session.
// Params: ctx, session, and its alarm snapshot.
// Returns: playback start error.
func (c *Center) activate(ctx context.Context, session Session, alarm domain.Alarm) error {
	if c.present != nil {
		c.present.Present(domain.RingEvent{
			Kind:      "ring",
			SessionID: session.ID,
			AlarmID:   alarm.ID,
			Time:      alarm.Time,
			Repeat:    alarm.Repeat,
			FiredAt:   session.FiredAt,
		})
	}
	if c.sound == nil {
		return nil
	}
	if err := c.sound.Play(ctx); err != nil {
		return err
	}
	return nil
}

// finish clears presentation, stops sound, and promotes the next queued ring.
// Params: ctx, resolved session, and light-off policy flag.
// Returns: none.
func (c *Center) finish(ctx context.Context, session Session, lightOff bool) {
	if c.sound != nil {
		c.sound.Stop()
	}
	if c.present != nil {
		c.present.Clear(session.ID)
	}
	if lightOff && c.light != nil {
		lightCtx, cancel := context.WithTimeout(ctx, c.lightTimeout)
		if err := c.light.SetPower(lightCtx, false); err != nil {
			c.logger.Warn("light deactivation failed", "alarm_id", session.AlarmID, "error", err)
		}
		cancel()
	}

	c.mu.Lock()
	if c.active != nil || len(c.pending) == 0 {
		c.mu.Unlock()
		return
	}
	next := c.pending[0]
	c.pending = c.pending[1:]
	c.active = &next.session
	c.mu.Unlock()

	if err := c.activate(ctx, next.session, next.alarm); err != nil {
		c.logger.Error("queued alert activation failed", "session_id", next.session.ID, "error", err)
	}
}
