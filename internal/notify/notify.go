package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"text/template"
	"time"

	tgbot "github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"aeroclock/internal/config"
	"aeroclock/internal/domain"
	"aeroclock/internal/permanent"
	"aeroclock/internal/templatefmt"
)

// defaultTemplate renders ring events when a channel has no custom template.
const defaultTemplate = "Alarm {{.Time}} fired at {{fmtTime .FiredAt}}"

// ChannelSender sends one rendered ring message to one channel.
// Params: context, rendered message, and source event.
// Returns: transport error when send fails.
type ChannelSender interface {
	Channel() string
	Send(ctx context.Context, message string, event domain.RingEvent) error
}

// Dispatcher fans ring events out to configured channels with retries.
// Params: sender list, per-channel retry policy, and templates.
// Returns: best-effort event delivery for the scheduler.
type Dispatcher struct {
	senders   []ChannelSender
	retries   map[string]config.NotifyRetry
	templates map[string]*template.Template
	logger    *slog.Logger
}

// NewDispatcher builds the dispatcher from enabled channels.
// Params: notify config and logger.
// Returns: configured dispatcher, empty when no channel is enabled.
func NewDispatcher(cfg config.NotifyConfig, logger *slog.Logger) (*Dispatcher, error) {
	dispatcher := &Dispatcher{
		retries:   make(map[string]config.NotifyRetry),
		templates: make(map[string]*template.Template),
		logger:    logger,
	}

	if cfg.Telegram.Enabled {
		sender := NewTelegramSender(cfg.Telegram)
		if err := dispatcher.register(sender, cfg.Telegram.Template, cfg.Telegram.Retry); err != nil {
			return nil, err
		}
	}
	if cfg.Webhook.Enabled {
		sender := NewWebhookSender(cfg.Webhook)
		if err := dispatcher.register(sender, cfg.Webhook.Template, cfg.Webhook.Retry); err != nil {
			return nil, err
		}
	}

	sort.Slice(dispatcher.senders, func(i, j int) bool {
		return dispatcher.senders[i].Channel() < dispatcher.senders[j].Channel()
	})
	return dispatcher, nil
}

// register attaches one sender with its template and retry policy.
// Params: sender, template body (empty selects the default), and policy.
// Returns: template parse error.
func (d *Dispatcher) register(sender ChannelSender, body string, retry config.NotifyRetry) error {
	if strings.TrimSpace(body) == "" {
		body = defaultTemplate
	}
	compiled, err := templatefmt.ParseNotificationTemplate("notify."+sender.Channel()+".template", body)
	if err != nil {
		return fmt.Errorf("parse %s template: %w", sender.Channel(), err)
	}
	d.senders = append(d.senders, sender)
	d.templates[sender.Channel()] = compiled
	d.retries[sender.Channel()] = retry
	return nil
}

// Channels returns configured channel names.
// Params: none.
// Returns: deterministic channel list.
func (d *Dispatcher) Channels() []string {
	names := make([]string, 0, len(d.senders))
	for _, sender := range d.senders {
		names = append(names, sender.Channel())
	}
	return names
}

// Dispatch delivers one ring event to every channel.
// Failures are logged per channel and never propagate to the caller.
// Params: ctx and event payload.
// Returns: none.
func (d *Dispatcher) Dispatch(ctx context.Context, event domain.RingEvent) {
	for _, sender := range d.senders {
		message, err := d.render(sender.Channel(), event)
		if err != nil {
			d.logger.Error("notify render failed", "channel", sender.Channel(), "error", err)
			continue
		}
		if err := d.sendWithRetry(ctx, sender, message, event); err != nil {
			d.logger.Error("notify send failed", "channel", sender.Channel(), "error", err)
		}
	}
}

// render executes the channel template for one event.
// Params: channel name and event payload.
// Returns: rendered message or template error.
func (d *Dispatcher) render(channel string, event domain.RingEvent) (string, error) {
	compiled, ok := d.templates[channel]
	if !ok {
		return "", fmt.Errorf("no template for channel %q", channel)
	}
	var rendered strings.Builder
	if err := compiled.Execute(&rendered, event); err != nil {
		return "", err
	}
	return rendered.String(), nil
}

// sendWithRetry sends one message with the channel's retry policy.
// Permanent errors bail out without further attempts.
// Params: ctx, sender, rendered message, and source event.
// Returns: final error after retries.
func (d *Dispatcher) sendWithRetry(ctx context.Context, sender ChannelSender, message string, event domain.RingEvent) error {
	retry := d.retries[sender.Channel()]
	if !retry.Enabled {
		return sender.Send(ctx, message, event)
	}

	attempt := 0
	backoff := time.Duration(retry.InitialMS) * time.Millisecond
	maxBackoff := time.Duration(retry.MaxMS) * time.Millisecond

	for {
		attempt++
		err := sender.Send(ctx, message, event)
		if err == nil {
			if attempt > 1 {
				d.logger.Info("notify send recovered after retries", "channel", sender.Channel(), "attempt", attempt)
			}
			return nil
		}
		if permanent.Is(err) {
			return err
		}
		if retry.MaxAttempts > 0 && attempt >= retry.MaxAttempts {
			return fmt.Errorf("channel %s failed after %d attempts: %w", sender.Channel(), attempt, err)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if strings.EqualFold(retry.Backoff, "exponential") {
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
}

// TelegramSender sends ring messages to the Telegram Bot API.
// Params: bot token, chat id, and base URL from config.
// Returns: Telegram channel sender.
type TelegramSender struct {
	client  *tgbot.Bot
	chatID  any
	initErr error
}

// NewTelegramSender creates the Telegram sender.
// Params: Telegram notifier config.
// Returns: initialized sender; misconfiguration surfaces on Send.
func NewTelegramSender(cfg config.TelegramNotifier) *TelegramSender {
	sender := &TelegramSender{
		chatID: normalizeChatID(cfg.ChatID),
	}

	if strings.TrimSpace(cfg.BotToken) == "" {
		sender.initErr = permanent.Mark(errors.New("telegram bot token is required"))
		return sender
	}
	if strings.TrimSpace(cfg.ChatID) == "" {
		sender.initErr = permanent.Mark(errors.New("telegram chat_id is required"))
		return sender
	}

	options := []tgbot.Option{tgbot.WithSkipGetMe()}
	if strings.TrimSpace(cfg.APIBase) != "" {
		options = append(options, tgbot.WithServerURL(strings.TrimRight(cfg.APIBase, "/")))
	}
	botClient, err := tgbot.New(cfg.BotToken, options...)
	if err != nil {
		sender.initErr = permanent.Mark(fmt.Errorf("init telegram bot: %w", err))
		return sender
	}
	sender.client = botClient
	return sender
}

// Channel returns sender channel name.
// Params: none.
// Returns: static channel key.
func (s *TelegramSender) Channel() string {
	return "telegram"
}

// Send posts one ring message to the configured chat.
// Params: context, rendered message, and source event.
// Returns: transport or API error.
func (s *TelegramSender) Send(ctx context.Context, message string, _ domain.RingEvent) error {
	if s.initErr != nil {
		return s.initErr
	}

	sent, err := s.client.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID:    s.chatID,
		Text:      message,
		ParseMode: tgmodels.ParseModeHTML,
	})
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	if sent == nil || sent.ID <= 0 {
		return errors.New("telegram send returned empty message id")
	}
	return nil
}

// normalizeChatID converts numeric chat IDs to int64 and keeps non-numeric IDs as string.
// Params: configured chat ID value from TOML.
// Returns: Telegram API chat id union value.
func normalizeChatID(raw string) any {
	trimmed := strings.TrimSpace(raw)
	if numeric, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return numeric
	}
	return trimmed
}

// WebhookSender posts ring payloads to a configured HTTP endpoint.
// Params: endpoint URL, method, timeout, and headers.
// Returns: generic HTTP sender.
type WebhookSender struct {
	cfg    config.WebhookNotifier
	client *http.Client
}

// NewWebhookSender creates the generic HTTP sender.
// Params: webhook notifier config.
// Returns: initialized sender.
func NewWebhookSender(cfg config.WebhookNotifier) *WebhookSender {
	return &WebhookSender{
		cfg: cfg,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSec) * time.Second,
		},
	}
}

// Channel returns sender channel name.
// Params: none.
// Returns: static channel key.
func (s *WebhookSender) Channel() string {
	return "webhook"
}

// webhookPayload is the JSON body posted to the endpoint.
type webhookPayload struct {
	Message string           `json:"message"`
	Event   domain.RingEvent `json:"event"`
}

// Send delivers the JSON payload to the configured endpoint.
// Params: context, rendered message, and source event.
// Returns: transport or HTTP status error.
func (s *WebhookSender) Send(ctx context.Context, message string, event domain.RingEvent) error {
	body, err := json.Marshal(webhookPayload{Message: message, Event: event})
	if err != nil {
		return permanent.Mark(fmt.Errorf("encode webhook payload: %w", err))
	}

	method := strings.ToUpper(strings.TrimSpace(s.cfg.Method))
	if method == "" {
		method = http.MethodPost
	}
	request, err := http.NewRequestWithContext(ctx, method, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return permanent.Mark(fmt.Errorf("build webhook request: %w", err))
	}
	request.Header.Set("Content-Type", "application/json")
	for key, value := range s.cfg.Headers {
		request.Header.Set(key, value)
	}

	response, err := s.client.Do(request)
	if err != nil {
		return fmt.Errorf("webhook send: %w", err)
	}
	defer func() { _ = response.Body.Close() }()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return unexpectedHTTPStatusError("webhook", response)
	}
	return nil
}

// unexpectedHTTPStatusError formats non-2xx HTTP response with optional body.
// Params: sender prefix label and HTTP response pointer.
// Returns: status-only or status+body error.
func unexpectedHTTPStatusError(prefix string, response *http.Response) error {
	if response == nil {
		return fmt.Errorf("%s status=0", prefix)
	}
	rawBody, readErr := io.ReadAll(io.LimitReader(response.Body, 4096))
	if readErr != nil {
		return fmt.Errorf("%s status=%d (read body error: %w)", prefix, response.StatusCode, readErr)
	}
	trimmedBody := strings.TrimSpace(string(rawBody))
	if trimmedBody == "" {
		return fmt.Errorf("%s status=%d", prefix, response.StatusCode)
	}
	return fmt.Errorf("%s status=%d body=%s", prefix, response.StatusCode, trimmedBody)
}
