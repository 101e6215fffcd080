package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrValidation marks rejected alarm/intent input.
var ErrValidation = errors.New("validation failed")

// TimeOfDay stores one alarm time without a date component.
// Params: local hour 0..23 and minute 0..59.
// Returns: time-of-day value compared against wall clock on ticks.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM" 24-hour form into time of day.
// Params: wire string from persisted record or API payload.
// Returns: parsed value or validation error.
func ParseTimeOfDay(raw string) (TimeOfDay, error) {
	parts := strings.SplitN(strings.TrimSpace(raw), ":", 2)
	if len(parts) != 2 {
		return TimeOfDay{}, fmt.Errorf("%w: time must be HH:MM, got %q", ErrValidation, raw)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("%w: bad hour in %q", ErrValidation, raw)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("%w: bad minute in %q", ErrValidation, raw)
	}
	value := TimeOfDay{Hour: hour, Minute: minute}
	if err := value.Validate(); err != nil {
		return TimeOfDay{}, err
	}
	return value, nil
}

// Validate checks hour/minute ranges.
// Params: none.
// Returns: validation error for out-of-range fields.
func (t TimeOfDay) Validate() error {
	if t.Hour < 0 || t.Hour > 23 {
		return fmt.Errorf("%w: hour must be 0..23, got %d", ErrValidation, t.Hour)
	}
	if t.Minute < 0 || t.Minute > 59 {
		return fmt.Errorf("%w: minute must be 0..59, got %d", ErrValidation, t.Minute)
	}
	return nil
}

// String renders canonical "HH:MM" form.
// Params: none.
// Returns: zero-padded 24-hour string.
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Matches reports whether wall-clock time falls inside this minute.
// Params: current local time.
// Returns: true when hour and minute are equal.
func (t TimeOfDay) Matches(now time.Time) bool {
	return now.Hour() == t.Hour && now.Minute() == t.Minute
}

// MarshalJSON encodes time of day as "HH:MM" string.
// Params: none.
// Returns: quoted wire form.
func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(t.String())), nil
}

// UnmarshalJSON decodes "HH:MM" string into time of day.
// Params: quoted wire bytes.
// Returns: decode or validation error.
func (t *TimeOfDay) UnmarshalJSON(raw []byte) error {
	unquoted, err := strconv.Unquote(string(raw))
	if err != nil {
		return fmt.Errorf("%w: time must be a string", ErrValidation)
	}
	parsed, err := ParseTimeOfDay(unquoted)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Alarm is one persisted alarm rule.
// Params: identity, ring time, repeat/light flags, and runtime markers.
// Returns: record stored by the alarm store and evaluated on ticks.
type Alarm struct {
	ID             string     `json:"id"`
	Time           TimeOfDay  `json:"time"`
	Repeat         bool       `json:"repeat"`
	LightControl   bool       `json:"light_control"`
	Enabled        bool       `json:"enabled"`
	TriggeredToday bool       `json:"triggered_today,omitempty"`
	SnoozedUntil   *time.Time `json:"snoozed_until,omitempty"`
}

// Validate validates one alarm record against the contract.
// Params: none.
// Returns: validation error when fields are inconsistent.
func (a Alarm) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return fmt.Errorf("%w: alarm id is required", ErrValidation)
	}
	if err := a.Time.Validate(); err != nil {
		return err
	}
	return nil
}

// Snoozing reports whether the alarm is suppressed by an active snooze.
// Params: current time.
// Returns: true when snoozed-until is set and still in the future.
func (a Alarm) Snoozing(now time.Time) bool {
	return a.SnoozedUntil != nil && now.Before(*a.SnoozedUntil)
}

// AlarmSpec carries user-provided fields for alarm creation.
// Params: ring time and repeat/light flags.
// Returns: validated creation request for the store.
type AlarmSpec struct {
	Time         TimeOfDay `json:"time"`
	Repeat       bool      `json:"repeat"`
	LightControl bool      `json:"light_control"`
}

// Validate validates creation fields.
// Params: none.
// Returns: validation error for bad time.
func (s AlarmSpec) Validate() error {
	return s.Time.Validate()
}
