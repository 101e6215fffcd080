package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// IntentKind identifies one user command shape.
// Params: constant command names.
// Returns: normalized kind used across API and queue transports.
type IntentKind string

const (
	// IntentCreate creates one alarm from spec fields.
	IntentCreate IntentKind = "create"
	// IntentDelete removes one alarm by id.
	IntentDelete IntentKind = "delete"
	// IntentSetEnabled flips the master switch of one alarm.
	IntentSetEnabled IntentKind = "set_enabled"
	// IntentSnooze snoozes the ringing session.
	IntentSnooze IntentKind = "snooze"
	// IntentDismiss dismisses the ringing session.
	IntentDismiss IntentKind = "dismiss"
)

// Intent is one user command produced by the shell or queue transport.
// Params: kind selector plus kind-specific fields.
// Returns: validated command consumed by the manager.
type Intent struct {
	Kind         IntentKind `json:"kind"`
	AlarmID      string     `json:"alarm_id,omitempty"`
	SessionID    string     `json:"session_id,omitempty"`
	Time         string     `json:"time,omitempty"`
	Repeat       bool       `json:"repeat,omitempty"`
	LightControl bool       `json:"light_control,omitempty"`
	Enabled      *bool      `json:"enabled,omitempty"`
	Minutes      int        `json:"minutes,omitempty"`
}

// DecodeIntent decodes and validates one intent payload.
// Params: JSON document bytes.
// Returns: validated intent or decode/validation error.
func DecodeIntent(raw []byte) (Intent, error) {
	var intent Intent
	if err := json.Unmarshal(raw, &intent); err != nil {
		return Intent{}, fmt.Errorf("decode intent: %w", err)
	}
	if err := intent.Validate(); err != nil {
		return Intent{}, err
	}
	return intent, nil
}

// Validate validates kind-specific required fields.
// Params: intent fields parsed from transport.
// Returns: validation error when the command is incomplete.
func (i Intent) Validate() error {
	switch i.Kind {
	case IntentCreate:
		if _, err := ParseTimeOfDay(i.Time); err != nil {
			return err
		}
	case IntentDelete:
		if strings.TrimSpace(i.AlarmID) == "" {
			return fmt.Errorf("%w: alarm_id is required for delete", ErrValidation)
		}
	case IntentSetEnabled:
		if strings.TrimSpace(i.AlarmID) == "" {
			return fmt.Errorf("%w: alarm_id is required for set_enabled", ErrValidation)
		}
		if i.Enabled == nil {
			return fmt.Errorf("%w: enabled is required for set_enabled", ErrValidation)
		}
	case IntentSnooze:
		if strings.TrimSpace(i.SessionID) == "" {
			return fmt.Errorf("%w: session_id is required for snooze", ErrValidation)
		}
		if i.Minutes < 0 {
			return fmt.Errorf("%w: minutes must be >=0", ErrValidation)
		}
	case IntentDismiss:
		if strings.TrimSpace(i.SessionID) == "" {
			return fmt.Errorf("%w: session_id is required for dismiss", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unsupported intent kind %q", ErrValidation, i.Kind)
	}
	return nil
}

// Spec converts a create intent into an alarm spec.
// Params: validated create intent.
// Returns: alarm spec or validation error for other kinds.
func (i Intent) Spec() (AlarmSpec, error) {
	if i.Kind != IntentCreate {
		return AlarmSpec{}, fmt.Errorf("%w: intent %q carries no spec", ErrValidation, i.Kind)
	}
	ringTime, err := ParseTimeOfDay(i.Time)
	if err != nil {
		return AlarmSpec{}, err
	}
	return AlarmSpec{
		Time:         ringTime,
		Repeat:       i.Repeat,
		LightControl: i.LightControl,
	}, nil
}

// RingEvent describes one firing/resolution for presentation and notify.
// Params: session/alarm identity and ring metadata.
// Returns: outbound payload for the websocket hub and notify channels.
type RingEvent struct {
	Kind      string    `json:"kind"`
	SessionID string    `json:"session_id"`
	AlarmID   string    `json:"alarm_id"`
	Time      TimeOfDay `json:"time"`
	Repeat    bool      `json:"repeat"`
	FiredAt   time.Time `json:"fired_at"`
}
