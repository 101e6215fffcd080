package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestParseTimeOfDay(t *testing.T) {
	t.Parallel()

	parsed, err := ParseTimeOfDay("06:30")
	if err != nil {
		t.Fatalf("parse valid time: %v", err)
	}
	if parsed.Hour != 6 || parsed.Minute != 30 {
		t.Fatalf("expected 06:30, got %s", parsed)
	}

	for _, raw := range []string{"", "6", "24:00", "12:60", "-1:30", "ab:cd", "12:30:45x"} {
		if _, err := ParseTimeOfDay(raw); !errors.Is(err, ErrValidation) {
			t.Fatalf("expected validation error for %q, got %v", raw, err)
		}
	}
}

func TestTimeOfDayMatches(t *testing.T) {
	t.Parallel()

	ring := TimeOfDay{Hour: 6, Minute: 30}
	at := time.Date(2026, 3, 10, 6, 30, 45, 0, time.Local)
	if !ring.Matches(at) {
		t.Fatalf("expected %s to match %v", ring, at)
	}
	if ring.Matches(at.Add(time.Minute)) {
		t.Fatalf("expected %s not to match next minute", ring)
	}
}

func TestTimeOfDayJSONWireForm(t *testing.T) {
	t.Parallel()

	encoded, err := json.Marshal(TimeOfDay{Hour: 6, Minute: 5})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(encoded) != `"06:05"` {
		t.Fatalf("expected quoted HH:MM, got %s", encoded)
	}

	var decoded TimeOfDay
	if err := json.Unmarshal([]byte(`"23:59"`), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Hour != 23 || decoded.Minute != 59 {
		t.Fatalf("expected 23:59, got %s", decoded)
	}
	if err := json.Unmarshal([]byte(`"25:00"`), &decoded); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAlarmSnoozing(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 6, 31, 0, 0, time.Local)
	until := now.Add(5 * time.Minute)
	alarm := Alarm{ID: "a1", Time: TimeOfDay{Hour: 6, Minute: 30}, Enabled: true, SnoozedUntil: &until}

	if !alarm.Snoozing(now) {
		t.Fatalf("expected alarm snoozing before expiry")
	}
	if alarm.Snoozing(until) {
		t.Fatalf("expected snooze expired exactly at until")
	}
	alarm.SnoozedUntil = nil
	if alarm.Snoozing(now) {
		t.Fatalf("expected no snooze without snoozed_until")
	}
}

func TestAlarmValidate(t *testing.T) {
	t.Parallel()

	valid := Alarm{ID: "a1", Time: TimeOfDay{Hour: 7, Minute: 0}, Enabled: true}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid alarm, got %v", err)
	}
	if err := (Alarm{Time: TimeOfDay{Hour: 7}}).Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected id validation error, got %v", err)
	}
	if err := (Alarm{ID: "a1", Time: TimeOfDay{Hour: 30}}).Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected time validation error, got %v", err)
	}
}
