package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"aeroclock/internal/alert"
	"aeroclock/internal/domain"
	"aeroclock/internal/light"
	"aeroclock/internal/store"
)

// Manager applies user intents onto the store and alert center.
// It backs both the HTTP interface and the NATS intent transport.
// Params: store, alert center, light controller, and logger.
// Returns: command surface for alarm and session operations.
type Manager struct {
	store  store.Store
	center *alert.Center
	light  light.Controller
	logger *slog.Logger
}

// NewManager builds the command manager.
// Params: alarm store, alert center, light controller, and logger.
// Returns: ready manager.
func NewManager(alarms store.Store, center *alert.Center, bulb light.Controller, logger *slog.Logger) *Manager {
	if bulb == nil {
		bulb = light.Disabled{}
	}
	return &Manager{store: alarms, center: center, light: bulb, logger: logger}
}

// Apply validates and executes one intent.
// Durable-write failures keep the in-memory change and are logged,
// never surfaced to the caller.
// Params: ctx and intent payload.
// Returns: affected alarm (zero for session intents) and error.
func (m *Manager) Apply(ctx context.Context, intent domain.Intent) (domain.Alarm, error) {
	if err := intent.Validate(); err != nil {
		return domain.Alarm{}, err
	}

	switch intent.Kind {
	case domain.IntentCreate:
		spec, err := intent.Spec()
		if err != nil {
			return domain.Alarm{}, err
		}
		alarm, err := m.store.Create(ctx, spec)
		if err = m.absorbPersistence("create", alarm.ID, err); err != nil {
			return domain.Alarm{}, err
		}
		m.logger.Info("alarm created", "alarm_id", alarm.ID, "time", alarm.Time.String(), "repeat", alarm.Repeat)
		return alarm, nil

	case domain.IntentDelete:
		err := m.store.Delete(ctx, intent.AlarmID)
		if err = m.absorbPersistence("delete", intent.AlarmID, err); err != nil {
			return domain.Alarm{}, err
		}
		m.logger.Info("alarm deleted", "alarm_id", intent.AlarmID)
		return domain.Alarm{}, nil

	case domain.IntentSetEnabled:
		enabled := *intent.Enabled
		alarm, err := m.store.Update(ctx, intent.AlarmID, func(record *domain.Alarm) error {
			record.Enabled = enabled
			if !enabled {
				record.SnoozedUntil = nil
			}
			return nil
		})
		if err = m.absorbPersistence("set_enabled", intent.AlarmID, err); err != nil {
			return domain.Alarm{}, err
		}
		m.logger.Info("alarm switched", "alarm_id", alarm.ID, "enabled", enabled)
		return alarm, nil

	case domain.IntentSnooze:
		return m.center.Snooze(ctx, intent.SessionID, intent.Minutes)

	case domain.IntentDismiss:
		return m.center.Dismiss(ctx, intent.SessionID)

	default:
		return domain.Alarm{}, fmt.Errorf("%w: unsupported intent kind %q", domain.ErrValidation, intent.Kind)
	}
}

// ListAlarms returns all stored alarms in display order.
// Params: ctx.
// Returns: alarm slice or store error.
func (m *Manager) ListAlarms(ctx context.Context) ([]domain.Alarm, error) {
	return m.store.List(ctx)
}

// GetAlarm returns one stored alarm.
// Params: ctx and alarm id.
// Returns: alarm, store.ErrNotFound, or store error.
func (m *Manager) GetAlarm(ctx context.Context, id string) (domain.Alarm, error) {
	return m.store.Get(ctx, id)
}

// ActiveSession exposes the ringing session for the shell.
// Params: none.
// Returns: session copy and presence flag.
func (m *Manager) ActiveSession() (alert.Session, bool) {
	return m.center.Active()
}

// SetLight switches the bulb outside any alarm flow.
// Params: ctx and power state.
// Returns: controller error.
func (m *Manager) SetLight(ctx context.Context, on bool) error {
	return m.light.SetPower(ctx, on)
}

// absorbPersistence keeps in-memory state authoritative on durable-write failures.
// Params: operation label, alarm id, and store error.
// Returns: nil for persistence failures, the error otherwise.
func (m *Manager) absorbPersistence(operation, alarmID string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrPersistence) {
		m.logger.Warn("alarm change not durably saved", "operation", operation, "alarm_id", alarmID, "error", err)
		return nil
	}
	return err
}
