package alert

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"aeroclock/internal/domain"
	"aeroclock/internal/store"
)

type stepClock struct {
	now time.Time
}

func (c *stepClock) Now() time.Time { return c.now }

type fakePlayer struct {
	mu    sync.Mutex
	plays int
	stops int
}

func (p *fakePlayer) Play(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.plays++
	return nil
}

func (p *fakePlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
}

type fakePresenter struct {
	mu     sync.Mutex
	frames []string
}

func (p *fakePresenter) Present(event domain.RingEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = append(p.frames, "ring:"+event.AlarmID)
}

func (p *fakePresenter) Clear(string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = append(p.frames, "cleared")
}

type fakeLight struct {
	mu    sync.Mutex
	calls []bool
}

func (l *fakeLight) SetPower(_ context.Context, on bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, on)
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testTime(hour, minute int) time.Time {
	return time.Date(2026, 3, 10, hour, minute, 0, 0, time.Local)
}

func seedAlarm(t *testing.T, alarms *store.MemoryStore, ring domain.TimeOfDay, repeat bool) domain.Alarm {
	t.Helper()
	created, err := alarms.Create(context.Background(), domain.AlarmSpec{Time: ring, Repeat: repeat})
	if err != nil {
		t.Fatalf("create alarm: %v", err)
	}
	return created
}

func TestSnoozePostponesAlarm(t *testing.T) {
	t.Parallel()

	alarms := store.NewMemoryStore()
	clk := &stepClock{now: testTime(6, 30)}
	player := &fakePlayer{}
	center := NewCenter(alarms, quietLogger(), Options{Sound: player, Clock: clk, SnoozeMinutes: 5})
	ctx := context.Background()

	alarm := seedAlarm(t, alarms, domain.TimeOfDay{Hour: 6, Minute: 30}, true)
	if err := center.Ring(ctx, alarm, clk.Now()); err != nil {
		t.Fatalf("ring: %v", err)
	}
	session, ok := center.Active()
	if !ok {
		t.Fatalf("expected active session after ring")
	}

	if _, err := center.Snooze(ctx, session.ID, 0); err != nil {
		t.Fatalf("snooze: %v", err)
	}
	stored, err := alarms.Get(ctx, alarm.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	want := clk.now.Add(5 * time.Minute)
	if stored.SnoozedUntil == nil || !stored.SnoozedUntil.Equal(want) {
		t.Fatalf("expected snoozed until %v, got %v", want, stored.SnoozedUntil)
	}
	if player.plays != 1 || player.stops != 1 {
		t.Fatalf("expected play+stop, got plays=%d stops=%d", player.plays, player.stops)
	}
	if _, ok := center.Active(); ok {
		t.Fatalf("expected no active session after snooze")
	}
}

func TestSnoozeCustomMinutes(t *testing.T) {
	t.Parallel()

	alarms := store.NewMemoryStore()
	clk := &stepClock{now: testTime(6, 30)}
	center := NewCenter(alarms, quietLogger(), Options{Clock: clk, SnoozeMinutes: 5})
	ctx := context.Background()

	alarm := seedAlarm(t, alarms, domain.TimeOfDay{Hour: 6, Minute: 30}, false)
	if err := center.Ring(ctx, alarm, clk.Now()); err != nil {
		t.Fatalf("ring: %v", err)
	}
	session, _ := center.Active()
	snoozed, err := center.Snooze(ctx, session.ID, 12)
	if err != nil {
		t.Fatalf("snooze: %v", err)
	}
	want := clk.now.Add(12 * time.Minute)
	if snoozed.SnoozedUntil == nil || !snoozed.SnoozedUntil.Equal(want) {
		t.Fatalf("expected returned alarm snoozed until %v, got %v", want, snoozed.SnoozedUntil)
	}
	stored, err := alarms.Get(ctx, alarm.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.SnoozedUntil == nil || !stored.SnoozedUntil.Equal(want) {
		t.Fatalf("expected snoozed until %v, got %v", want, stored.SnoozedUntil)
	}
}

func TestDismissDisablesOneShotOnly(t *testing.T) {
	t.Parallel()

	alarms := store.NewMemoryStore()
	clk := &stepClock{now: testTime(6, 30)}
	center := NewCenter(alarms, quietLogger(), Options{Clock: clk})
	ctx := context.Background()

	oneShot := seedAlarm(t, alarms, domain.TimeOfDay{Hour: 6, Minute: 30}, false)
	if err := center.Ring(ctx, oneShot, clk.Now()); err != nil {
		t.Fatalf("ring: %v", err)
	}
	session, _ := center.Active()
	dismissed, err := center.Dismiss(ctx, session.ID)
	if err != nil {
		t.Fatalf("dismiss: %v", err)
	}
	if dismissed.Enabled {
		t.Fatalf("expected returned alarm disabled after dismiss")
	}
	stored, err := alarms.Get(ctx, oneShot.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Enabled {
		t.Fatalf("expected one-shot alarm disabled after dismiss")
	}

	repeating := seedAlarm(t, alarms, domain.TimeOfDay{Hour: 7, Minute: 0}, true)
	if err := center.Ring(ctx, repeating, clk.Now()); err != nil {
		t.Fatalf("ring repeating: %v", err)
	}
	session, _ = center.Active()
	if _, err := center.Dismiss(ctx, session.ID); err != nil {
		t.Fatalf("dismiss repeating: %v", err)
	}
	stored, err = alarms.Get(ctx, repeating.ID)
	if err != nil {
		t.Fatalf("get repeating: %v", err)
	}
	if !stored.Enabled {
		t.Fatalf("expected repeating alarm still enabled after dismiss")
	}
}

func TestResolveUnknownAndClosedSessions(t *testing.T) {
	t.Parallel()

	alarms := store.NewMemoryStore()
	clk := &stepClock{now: testTime(6, 30)}
	center := NewCenter(alarms, quietLogger(), Options{Clock: clk})
	ctx := context.Background()

	if _, err := center.Dismiss(ctx, "nope"); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("expected unknown session error, got %v", err)
	}

	alarm := seedAlarm(t, alarms, domain.TimeOfDay{Hour: 6, Minute: 30}, true)
	if err := center.Ring(ctx, alarm, clk.Now()); err != nil {
		t.Fatalf("ring: %v", err)
	}
	session, _ := center.Active()
	if _, err := center.Dismiss(ctx, session.ID); err != nil {
		t.Fatalf("dismiss: %v", err)
	}
	if _, err := center.Dismiss(ctx, session.ID); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected closed session error, got %v", err)
	}
	if _, err := center.Snooze(ctx, session.ID, 5); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected closed session error for snooze, got %v", err)
	}
}

func TestQueuedRingActivatesAfterResolve(t *testing.T) {
	t.Parallel()

	alarms := store.NewMemoryStore()
	clk := &stepClock{now: testTime(6, 30)}
	player := &fakePlayer{}
	presenter := &fakePresenter{}
	center := NewCenter(alarms, quietLogger(), Options{Sound: player, Presenter: presenter, Clock: clk})
	ctx := context.Background()

	first := seedAlarm(t, alarms, domain.TimeOfDay{Hour: 6, Minute: 30}, true)
	second := seedAlarm(t, alarms, domain.TimeOfDay{Hour: 6, Minute: 30}, true)

	if err := center.Ring(ctx, first, clk.Now()); err != nil {
		t.Fatalf("ring first: %v", err)
	}
	if err := center.Ring(ctx, second, clk.Now()); err != nil {
		t.Fatalf("ring second: %v", err)
	}
	active, _ := center.Active()
	if active.AlarmID != first.ID {
		t.Fatalf("expected first alarm active, got %s", active.AlarmID)
	}

	if _, err := center.Dismiss(ctx, active.ID); err != nil {
		t.Fatalf("dismiss: %v", err)
	}
	active, ok := center.Active()
	if !ok || active.AlarmID != second.ID {
		t.Fatalf("expected second alarm promoted, got %+v ok=%v", active, ok)
	}

	want := []string{"ring:" + first.ID, "cleared", "ring:" + second.ID}
	if len(presenter.frames) != len(want) {
		t.Fatalf("expected frames %v, got %v", want, presenter.frames)
	}
	for i := range want {
		if presenter.frames[i] != want[i] {
			t.Fatalf("expected frames %v, got %v", want, presenter.frames)
		}
	}
}

func TestSnoozeResolvesWhenAlarmDeleted(t *testing.T) {
	t.Parallel()

	alarms := store.NewMemoryStore()
	clk := &stepClock{now: testTime(6, 30)}
	center := NewCenter(alarms, quietLogger(), Options{Clock: clk})
	ctx := context.Background()

	alarm := seedAlarm(t, alarms, domain.TimeOfDay{Hour: 6, Minute: 30}, true)
	if err := center.Ring(ctx, alarm, clk.Now()); err != nil {
		t.Fatalf("ring: %v", err)
	}
	if err := alarms.Delete(ctx, alarm.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	session, _ := center.Active()
	if _, err := center.Snooze(ctx, session.ID, 5); err != nil {
		t.Fatalf("expected snooze to resolve despite deleted alarm, got %v", err)
	}
	if _, ok := center.Active(); ok {
		t.Fatalf("expected session resolved")
	}
}

func TestDismissSwitchesLightOffWhenConfigured(t *testing.T) {
	t.Parallel()

	alarms := store.NewMemoryStore()
	clk := &stepClock{now: testTime(6, 30)}
	bulb := &fakeLight{}
	center := NewCenter(alarms, quietLogger(), Options{Light: bulb, Clock: clk, LightOffOnStop: true})
	ctx := context.Background()

	alarm := seedAlarm(t, alarms, domain.TimeOfDay{Hour: 6, Minute: 30}, true)
	if err := center.Ring(ctx, alarm, clk.Now()); err != nil {
		t.Fatalf("ring: %v", err)
	}
	session, _ := center.Active()

	// Snooze keeps the light on; only dismiss applies the policy.
	if _, err := center.Snooze(ctx, session.ID, 5); err != nil {
		t.Fatalf("snooze: %v", err)
	}
	if len(bulb.calls) != 0 {
		t.Fatalf("expected no light calls on snooze, got %v", bulb.calls)
	}

	if err := center.Ring(ctx, alarm, clk.Now()); err != nil {
		t.Fatalf("second ring: %v", err)
	}
	session, _ = center.Active()
	if _, err := center.Dismiss(ctx, session.ID); err != nil {
		t.Fatalf("dismiss: %v", err)
	}
	if len(bulb.calls) != 1 || bulb.calls[0] {
		t.Fatalf("expected one light-off call, got %v", bulb.calls)
	}
}
