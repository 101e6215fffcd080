package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"text/template"
	"time"

	"aeroclock/internal/config"
	"aeroclock/internal/domain"
	"aeroclock/internal/permanent"
)

type flakySender struct {
	channel string
	fails   int
	calls   int
	err     error
}

func (s *flakySender) Channel() string { return s.channel }

func (s *flakySender) Send(context.Context, string, domain.RingEvent) error {
	s.calls++
	if s.calls <= s.fails {
		if s.err != nil {
			return s.err
		}
		return errors.New("temporary error")
	}
	return nil
}

type captureSender struct {
	channel  string
	messages []string
}

func (s *captureSender) Channel() string { return s.channel }

func (s *captureSender) Send(_ context.Context, message string, _ domain.RingEvent) error {
	s.messages = append(s.messages, message)
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEvent() domain.RingEvent {
	return domain.RingEvent{
		Kind:    "ring",
		AlarmID: "a1",
		Time:    domain.TimeOfDay{Hour: 6, Minute: 30},
		FiredAt: time.Date(2026, 3, 10, 6, 30, 12, 0, time.Local),
	}
}

func newTestDispatcher() *Dispatcher {
	return &Dispatcher{
		retries:   make(map[string]config.NotifyRetry),
		templates: make(map[string]*template.Template),
		logger:    quietLogger(),
	}
}

func TestDispatcherRetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	sender := &flakySender{channel: "webhook", fails: 2}
	dispatcher := newTestDispatcher()
	if err := dispatcher.register(sender, "", config.NotifyRetry{
		Enabled:     true,
		Backoff:     "exponential",
		InitialMS:   1,
		MaxMS:       2,
		MaxAttempts: 0,
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	dispatcher.Dispatch(ctx, testEvent())

	if sender.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", sender.calls)
	}
}

func TestDispatcherStopsOnPermanentError(t *testing.T) {
	t.Parallel()

	sender := &flakySender{channel: "webhook", fails: 10, err: permanent.Mark(errors.New("bad payload"))}
	dispatcher := newTestDispatcher()
	if err := dispatcher.register(sender, "", config.NotifyRetry{
		Enabled:     true,
		Backoff:     "exponential",
		InitialMS:   1,
		MaxMS:       2,
		MaxAttempts: 5,
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	dispatcher.Dispatch(context.Background(), testEvent())
	if sender.calls != 1 {
		t.Fatalf("expected no retries on permanent error, got %d attempts", sender.calls)
	}
}

func TestDispatcherGivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	sender := &flakySender{channel: "webhook", fails: 10}
	dispatcher := newTestDispatcher()
	if err := dispatcher.register(sender, "", config.NotifyRetry{
		Enabled:     true,
		Backoff:     "fixed",
		InitialMS:   1,
		MaxMS:       1,
		MaxAttempts: 3,
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	dispatcher.Dispatch(context.Background(), testEvent())
	if sender.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", sender.calls)
	}
}

func TestDefaultTemplateRendersEvent(t *testing.T) {
	t.Parallel()

	sender := &captureSender{channel: "webhook"}
	dispatcher := newTestDispatcher()
	if err := dispatcher.register(sender, "", config.NotifyRetry{}); err != nil {
		t.Fatalf("register: %v", err)
	}

	dispatcher.Dispatch(context.Background(), testEvent())
	if len(sender.messages) != 1 {
		t.Fatalf("expected one message, got %d", len(sender.messages))
	}
	if sender.messages[0] != "Alarm 06:30 fired at 06:30" {
		t.Fatalf("unexpected rendered message %q", sender.messages[0])
	}
}

func TestWebhookSenderPostsPayload(t *testing.T) {
	t.Parallel()

	var (
		mu      sync.Mutex
		payload webhookPayload
		header  http.Header
	)
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		header = request.Header.Clone()
		_ = json.NewDecoder(request.Body).Decode(&payload)
		writer.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	sender := NewWebhookSender(config.WebhookNotifier{
		Enabled:    true,
		URL:        server.URL,
		TimeoutSec: 2,
		Headers:    map[string]string{"X-Token": "secret"},
	})
	if err := sender.Send(context.Background(), "alarm fired", testEvent()); err != nil {
		t.Fatalf("send: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if payload.Message != "alarm fired" || payload.Event.AlarmID != "a1" {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if header.Get("X-Token") != "secret" {
		t.Fatalf("expected custom header, got %q", header.Get("X-Token"))
	}
	if header.Get("Content-Type") != "application/json" {
		t.Fatalf("expected json content type, got %q", header.Get("Content-Type"))
	}
}

func TestWebhookSenderRejectsNon2xx(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		http.Error(writer, "downstream broken", http.StatusBadGateway)
	}))
	defer server.Close()

	sender := NewWebhookSender(config.WebhookNotifier{Enabled: true, URL: server.URL, TimeoutSec: 2})
	err := sender.Send(context.Background(), "alarm fired", testEvent())
	if err == nil {
		t.Fatalf("expected status error")
	}
}

func TestNewDispatcherSkipsDisabledChannels(t *testing.T) {
	t.Parallel()

	dispatcher, err := NewDispatcher(config.NotifyConfig{}, quietLogger())
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	if len(dispatcher.Channels()) != 0 {
		t.Fatalf("expected no channels, got %v", dispatcher.Channels())
	}

	dispatcher, err = NewDispatcher(config.NotifyConfig{
		Webhook: config.WebhookNotifier{Enabled: true, URL: "http://127.0.0.1:1/hook", TimeoutSec: 1},
	}, quietLogger())
	if err != nil {
		t.Fatalf("new dispatcher with webhook: %v", err)
	}
	if len(dispatcher.Channels()) != 1 || dispatcher.Channels()[0] != "webhook" {
		t.Fatalf("expected webhook channel, got %v", dispatcher.Channels())
	}
}
