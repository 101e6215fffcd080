package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"aeroclock/internal/alert"
	"aeroclock/internal/domain"
	"aeroclock/internal/store"
)

type fakeCommands struct {
	intents []domain.Intent
	alarms  []domain.Alarm
	session *alert.Session
	light   []bool
	err     error
}

func (f *fakeCommands) Apply(_ context.Context, intent domain.Intent) (domain.Alarm, error) {
	if err := intent.Validate(); err != nil {
		return domain.Alarm{}, err
	}
	f.intents = append(f.intents, intent)
	if f.err != nil {
		return domain.Alarm{}, f.err
	}
	if len(f.alarms) > 0 {
		return f.alarms[0], nil
	}
	return domain.Alarm{}, nil
}

func (f *fakeCommands) ListAlarms(context.Context) ([]domain.Alarm, error) {
	return f.alarms, f.err
}

func (f *fakeCommands) GetAlarm(_ context.Context, id string) (domain.Alarm, error) {
	if f.err != nil {
		return domain.Alarm{}, f.err
	}
	for _, alarm := range f.alarms {
		if alarm.ID == id {
			return alarm, nil
		}
	}
	return domain.Alarm{}, store.ErrNotFound
}

func (f *fakeCommands) ActiveSession() (alert.Session, bool) {
	if f.session == nil {
		return alert.Session{}, false
	}
	return *f.session, true
}

func (f *fakeCommands) SetLight(_ context.Context, on bool) error {
	f.light = append(f.light, on)
	return f.err
}

func newTestServer(commands Commands) *httptest.Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mux := http.NewServeMux()
	NewHandler(commands, 64*1024, logger).Register(mux)
	return httptest.NewServer(mux)
}

func doJSON(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	request, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != "" {
		request.Header.Set("Content-Type", "application/json")
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return response
}

func TestCreateAlarmReturnsCreated(t *testing.T) {
	t.Parallel()

	commands := &fakeCommands{alarms: []domain.Alarm{{
		ID:      "a1",
		Time:    domain.TimeOfDay{Hour: 6, Minute: 30},
		Repeat:  true,
		Enabled: true,
	}}}
	server := newTestServer(commands)
	defer server.Close()

	response := doJSON(t, http.MethodPost, server.URL+"/alarms", `{"time":"06:30","repeat":true}`)
	defer func() { _ = response.Body.Close() }()
	if response.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", response.StatusCode)
	}

	var created domain.Alarm
	if err := json.NewDecoder(response.Body).Decode(&created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if created.ID != "a1" || created.Time.String() != "06:30" {
		t.Fatalf("unexpected alarm %+v", created)
	}
	if len(commands.intents) != 1 || commands.intents[0].Kind != domain.IntentCreate {
		t.Fatalf("expected create intent, got %+v", commands.intents)
	}
}

func TestCreateAlarmValidatesPayload(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeCommands{})
	defer server.Close()

	response := doJSON(t, http.MethodPost, server.URL+"/alarms", `{"time":"26:70"}`)
	defer func() { _ = response.Body.Close() }()
	if response.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad time, got %d", response.StatusCode)
	}

	response = doJSON(t, http.MethodPost, server.URL+"/alarms", `{"time":`)
	defer func() { _ = response.Body.Close() }()
	if response.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for truncated JSON, got %d", response.StatusCode)
	}
}

func TestCreateAlarmRejectsOversizeBody(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeCommands{})
	defer server.Close()

	oversized := `{"time":"06:30","pad":"` + strings.Repeat("x", 65*1024) + `"}`
	response := doJSON(t, http.MethodPost, server.URL+"/alarms", oversized)
	defer func() { _ = response.Body.Close() }()
	if response.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 for oversize body, got %d", response.StatusCode)
	}
}

func TestGetAlarmByID(t *testing.T) {
	t.Parallel()

	commands := &fakeCommands{alarms: []domain.Alarm{{
		ID:      "a1",
		Time:    domain.TimeOfDay{Hour: 22, Minute: 15},
		Enabled: true,
	}}}
	server := newTestServer(commands)
	defer server.Close()

	response := doJSON(t, http.MethodGet, server.URL+"/alarms/a1", "")
	defer func() { _ = response.Body.Close() }()
	if response.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", response.StatusCode)
	}
	var alarm domain.Alarm
	if err := json.NewDecoder(response.Body).Decode(&alarm); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if alarm.ID != "a1" || alarm.Time.String() != "22:15" {
		t.Fatalf("unexpected alarm %+v", alarm)
	}

	response = doJSON(t, http.MethodGet, server.URL+"/alarms/missing", "")
	defer func() { _ = response.Body.Close() }()
	if response.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown id, got %d", response.StatusCode)
	}
}

func TestDeleteAlarmMapsNotFound(t *testing.T) {
	t.Parallel()

	commands := &fakeCommands{err: store.ErrNotFound}
	server := newTestServer(commands)
	defer server.Close()

	response := doJSON(t, http.MethodDelete, server.URL+"/alarms/missing", "")
	defer func() { _ = response.Body.Close() }()
	if response.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", response.StatusCode)
	}
}

func TestPatchAlarmTogglesEnabled(t *testing.T) {
	t.Parallel()

	commands := &fakeCommands{alarms: []domain.Alarm{{ID: "a1", Time: domain.TimeOfDay{Hour: 6}}}}
	server := newTestServer(commands)
	defer server.Close()

	response := doJSON(t, http.MethodPatch, server.URL+"/alarms/a1", `{"enabled":false}`)
	defer func() { _ = response.Body.Close() }()
	if response.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", response.StatusCode)
	}
	intent := commands.intents[0]
	if intent.Kind != domain.IntentSetEnabled || intent.AlarmID != "a1" || intent.Enabled == nil || *intent.Enabled {
		t.Fatalf("unexpected intent %+v", intent)
	}

	response = doJSON(t, http.MethodPatch, server.URL+"/alarms/a1", `{}`)
	defer func() { _ = response.Body.Close() }()
	if response.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without enabled field, got %d", response.StatusCode)
	}
}

func TestSessionEndpoints(t *testing.T) {
	t.Parallel()

	commands := &fakeCommands{}
	server := newTestServer(commands)
	defer server.Close()

	response := doJSON(t, http.MethodPost, server.URL+"/sessions/s1/snooze", `{"minutes":10}`)
	defer func() { _ = response.Body.Close() }()
	if response.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204 for snooze, got %d", response.StatusCode)
	}

	response = doJSON(t, http.MethodPost, server.URL+"/sessions/s1/dismiss", "")
	defer func() { _ = response.Body.Close() }()
	if response.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204 for dismiss, got %d", response.StatusCode)
	}

	if len(commands.intents) != 2 {
		t.Fatalf("expected two intents, got %d", len(commands.intents))
	}
	if commands.intents[0].Minutes != 10 || commands.intents[0].SessionID != "s1" {
		t.Fatalf("unexpected snooze intent %+v", commands.intents[0])
	}
}

func TestSessionErrorsMapToStatuses(t *testing.T) {
	t.Parallel()

	commands := &fakeCommands{err: alert.ErrSessionClosed}
	server := newTestServer(commands)
	defer server.Close()

	response := doJSON(t, http.MethodPost, server.URL+"/sessions/s1/dismiss", "")
	defer func() { _ = response.Body.Close() }()
	if response.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for closed session, got %d", response.StatusCode)
	}

	commands.err = alert.ErrUnknownSession
	response = doJSON(t, http.MethodPost, server.URL+"/sessions/s2/dismiss", "")
	defer func() { _ = response.Body.Close() }()
	if response.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown session, got %d", response.StatusCode)
	}
}

func TestActiveSessionEndpoint(t *testing.T) {
	t.Parallel()

	commands := &fakeCommands{}
	server := newTestServer(commands)
	defer server.Close()

	response := doJSON(t, http.MethodGet, server.URL+"/session", "")
	defer func() { _ = response.Body.Close() }()
	if response.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204 when idle, got %d", response.StatusCode)
	}

	commands.session = &alert.Session{ID: "s1", AlarmID: "a1", FiredAt: time.Date(2026, 3, 10, 6, 30, 0, 0, time.UTC)}
	response = doJSON(t, http.MethodGet, server.URL+"/session", "")
	defer func() { _ = response.Body.Close() }()
	if response.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with active session, got %d", response.StatusCode)
	}
	var session alert.Session
	if err := json.NewDecoder(response.Body).Decode(&session); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if session.ID != "s1" || session.AlarmID != "a1" {
		t.Fatalf("unexpected session %+v", session)
	}
}

func TestManualLightEndpoint(t *testing.T) {
	t.Parallel()

	commands := &fakeCommands{}
	server := newTestServer(commands)
	defer server.Close()

	response := doJSON(t, http.MethodPost, server.URL+"/light", `{"on":true}`)
	defer func() { _ = response.Body.Close() }()
	if response.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", response.StatusCode)
	}
	if len(commands.light) != 1 || !commands.light[0] {
		t.Fatalf("expected light-on call, got %v", commands.light)
	}
}
