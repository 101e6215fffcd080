package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultAPIListen      = ":8080"
	defaultHealthPath     = "/healthz"
	defaultReadyPath      = "/readyz"
	defaultWSPath         = "/ws"
	defaultMaxBodyBytes   = 64 * 1024
	defaultAlarmFile      = "alarms.json"
	defaultNATSURL        = "nats://127.0.0.1:4222"
	defaultNATSBucket     = "alarms"
	defaultIntentSubject  = "aeroclock.intents"
	defaultIntentGroup    = "aeroclock-panels"
	defaultSnoozeMinutes  = 5
	defaultTickIntervalMS = 1000
	defaultLightTimeout   = 5
	defaultNotifyTimeout  = 10
	defaultTuyaEndpoint   = "https://openapi.tuyaus.com"

	// ServiceModeSingle keeps file-backed state without NATS dependencies.
	ServiceModeSingle = "single"
	// ServiceModeNATS keeps NATS-backed shared state and intent transport.
	ServiceModeNATS = "nats"
)

// Config holds service runtime settings.
// Params: TOML sections from file or merged directory snapshot.
// Returns: validated runtime configuration.
type Config struct {
	Service ServiceConfig `toml:"service"`
	Log     LogConfig     `toml:"log"`
	Store   StoreConfig   `toml:"store"`
	Light   LightConfig   `toml:"light"`
	Sound   SoundConfig   `toml:"sound"`
	API     APIConfig     `toml:"api"`
	Intents IntentsConfig `toml:"intents"`
	Notify  NotifyConfig  `toml:"notify"`
}

// ServiceConfig contains process-level settings.
// Params: name, mode, and scheduler behavior defaults.
// Returns: service behavior defaults.
type ServiceConfig struct {
	Name           string `toml:"name"`
	Mode           string `toml:"mode"`
	SnoozeMinutes  int    `toml:"snooze_minutes"`
	TickIntervalMS int    `toml:"tick_interval_ms"`
}

// LogConfig defines console and file log sinks.
// Params: per-sink enabled/level/format settings.
// Returns: logging runtime options.
type LogConfig struct {
	Console LogSinkConfig `toml:"console"`
	File    LogSinkConfig `toml:"file"`
}

// LogSinkConfig contains one sink's settings.
// Params: enabled flag, level, format, and path for file sink.
// Returns: sink behavior options.
type LogSinkConfig struct {
	Enabled bool   `toml:"enabled"`
	Level   string `toml:"level"`
	Format  string `toml:"format"`
	Path    string `toml:"path"`
}

// StoreConfig selects the alarm persistence backend.
// Params: file path for single mode and NATS settings for nats mode.
// Returns: store runtime options.
type StoreConfig struct {
	Path string          `toml:"path"`
	NATS NATSStoreConfig `toml:"nats"`
}

// NATSStoreConfig contains JetStream KV backend settings.
// Params: server URLs and bucket controls.
// Returns: KV store options.
type NATSStoreConfig struct {
	URL               []string `toml:"url"`
	Bucket            string   `toml:"bucket"`
	AllowCreateBucket bool     `toml:"allow_create_bucket"`
}

// LightConfig contains smart-bulb collaborator settings.
// Params: cloud endpoint, credentials, device id, and policies.
// Returns: light controller options.
type LightConfig struct {
	Enabled      bool   `toml:"enabled"`
	Endpoint     string `toml:"endpoint"`
	AccessID     string `toml:"access_id"`
	AccessSecret string `toml:"access_secret"`
	DeviceID     string `toml:"device_id"`
	TimeoutSec   int    `toml:"timeout_sec"`
	OffOnDismiss bool   `toml:"off_on_dismiss"`
}

// SoundConfig contains alarm sound settings.
// Params: enabled flag and WAV file path.
// Returns: sound player options.
type SoundConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// APIConfig defines the shell-facing HTTP interface.
// Params: listen address, service paths, and body limit.
// Returns: API runtime options.
type APIConfig struct {
	Listen       string `toml:"listen"`
	HealthPath   string `toml:"health_path"`
	ReadyPath    string `toml:"ready_path"`
	WSPath       string `toml:"ws_path"`
	MaxBodyBytes int64  `toml:"max_body_bytes"`
}

// IntentsConfig defines the NATS intent subscription for nats mode.
// Params: server URLs, subject, and queue group.
// Returns: intent transport options.
type IntentsConfig struct {
	Enabled bool     `toml:"enabled"`
	URL     []string `toml:"url"`
	Subject string   `toml:"subject"`
	Group   string   `toml:"group"`
}

// NotifyConfig defines outbound notification channels.
// Params: telegram and webhook channel settings.
// Returns: notification runtime options.
type NotifyConfig struct {
	Telegram TelegramNotifier `toml:"telegram"`
	Webhook  WebhookNotifier  `toml:"webhook"`
}

// TelegramNotifier contains Telegram channel settings.
// Params: bot token, chat id, API base, template, and retry policy.
// Returns: telegram sender options.
type TelegramNotifier struct {
	Enabled  bool        `toml:"enabled"`
	BotToken string      `toml:"bot_token"`
	ChatID   string      `toml:"chat_id"`
	APIBase  string      `toml:"api_base"`
	Template string      `toml:"template"`
	Retry    NotifyRetry `toml:"retry"`
}

// WebhookNotifier contains generic HTTP channel settings.
// Params: URL, method, headers, timeout, template, and retry policy.
// Returns: webhook sender options.
type WebhookNotifier struct {
	Enabled    bool              `toml:"enabled"`
	URL        string            `toml:"url"`
	Method     string            `toml:"method"`
	Headers    map[string]string `toml:"headers"`
	TimeoutSec int               `toml:"timeout_sec"`
	Template   string            `toml:"template"`
	Retry      NotifyRetry       `toml:"retry"`
}

// NotifyRetry contains one channel's retry policy.
// Params: attempts cap and backoff shape.
// Returns: retry behavior options.
type NotifyRetry struct {
	Enabled     bool   `toml:"enabled"`
	MaxAttempts int    `toml:"max_attempts"`
	Backoff     string `toml:"backoff"`
	InitialMS   int    `toml:"initial_ms"`
	MaxMS       int    `toml:"max_ms"`
}

// ConfigSource selects one configuration input.
// Params: exactly one of file path or directory path.
// Returns: source descriptor for snapshot loading.
type ConfigSource struct {
	File string
	Dir  string
}

// FromCLI builds normalized source configuration from input paths.
// Params: optional file and directory arguments.
// Returns: source descriptor or validation error.
func FromCLI(filePath, dirPath string) (ConfigSource, error) {
	filePath = strings.TrimSpace(filePath)
	dirPath = strings.TrimSpace(dirPath)

	if filePath == "" && dirPath == "" {
		return ConfigSource{}, errors.New("either --config-file or --config-dir must be provided")
	}
	if filePath != "" && dirPath != "" {
		return ConfigSource{}, errors.New("config source must be either file or dir")
	}
	if filePath != "" {
		return ConfigSource{File: filePath}, nil
	}
	return ConfigSource{Dir: dirPath}, nil
}

// LoadSnapshot loads and validates configuration from one source.
// Params: source selects file or directory mode.
// Returns: validated config or load/validation error.
func LoadSnapshot(src ConfigSource) (Config, error) {
	var cfg Config
	var err error
	if src.File != "" {
		cfg, err = loadFile(src.File)
	} else {
		cfg, err = loadDir(src.Dir)
	}
	if err != nil {
		return Config{}, err
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// NormalizeServiceMode canonicalizes the service mode value.
// Params: raw mode from config.
// Returns: lower-case trimmed mode, defaulting to single.
func NormalizeServiceMode(raw string) string {
	mode := strings.ToLower(strings.TrimSpace(raw))
	if mode == "" {
		return ServiceModeSingle
	}
	return mode
}

// loadFile decodes one TOML config file.
// Params: file path.
// Returns: decoded config or read/parse error.
func loadFile(path string) (Config, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %q: %w", path, err)
	}
	var cfg Config
	if err := toml.Unmarshal(payload, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %q: %w", path, err)
	}
	return cfg, nil
}

// loadDir overlays lexically sorted *.toml fragments onto one snapshot.
// Fields present in later fragments override earlier ones.
// Params: directory path.
// Returns: merged config or first read/parse error.
func loadDir(dir string) (Config, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Config{}, fmt.Errorf("read config dir %q: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".toml") {
			continue
		}
		names = append(names, entry.Name())
	}
	if len(names) == 0 {
		return Config{}, fmt.Errorf("config dir %q contains no .toml fragments", dir)
	}
	sort.Strings(names)

	var cfg Config
	for _, name := range names {
		path := filepath.Join(dir, name)
		payload, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config fragment %q: %w", path, err)
		}
		if err := toml.Unmarshal(payload, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config fragment %q: %w", path, err)
		}
	}
	return cfg, nil
}

// applyDefaults fills unset fields with runtime defaults.
// Params: mutable config snapshot.
// Returns: config updated in place.
func applyDefaults(cfg *Config) {
	if cfg.Service.Name == "" {
		cfg.Service.Name = "aeroclock"
	}
	cfg.Service.Mode = NormalizeServiceMode(cfg.Service.Mode)
	if cfg.Service.SnoozeMinutes == 0 {
		cfg.Service.SnoozeMinutes = defaultSnoozeMinutes
	}
	if cfg.Service.TickIntervalMS == 0 {
		cfg.Service.TickIntervalMS = defaultTickIntervalMS
	}

	if !cfg.Log.Console.Enabled && !cfg.Log.File.Enabled {
		cfg.Log.Console.Enabled = true
	}
	if cfg.Log.Console.Level == "" {
		cfg.Log.Console.Level = "info"
	}
	if cfg.Log.Console.Format == "" {
		cfg.Log.Console.Format = "line"
	}
	if cfg.Log.File.Level == "" {
		cfg.Log.File.Level = "info"
	}
	if cfg.Log.File.Format == "" {
		cfg.Log.File.Format = "json"
	}

	if cfg.Store.Path == "" {
		cfg.Store.Path = defaultAlarmFile
	}
	if len(cfg.Store.NATS.URL) == 0 {
		cfg.Store.NATS.URL = []string{defaultNATSURL}
	}
	if cfg.Store.NATS.Bucket == "" {
		cfg.Store.NATS.Bucket = defaultNATSBucket
	}

	if cfg.Light.Endpoint == "" {
		cfg.Light.Endpoint = defaultTuyaEndpoint
	}
	if cfg.Light.TimeoutSec == 0 {
		cfg.Light.TimeoutSec = defaultLightTimeout
	}

	if cfg.API.Listen == "" {
		cfg.API.Listen = defaultAPIListen
	}
	if cfg.API.HealthPath == "" {
		cfg.API.HealthPath = defaultHealthPath
	}
	if cfg.API.ReadyPath == "" {
		cfg.API.ReadyPath = defaultReadyPath
	}
	if cfg.API.WSPath == "" {
		cfg.API.WSPath = defaultWSPath
	}
	if cfg.API.MaxBodyBytes == 0 {
		cfg.API.MaxBodyBytes = defaultMaxBodyBytes
	}

	if len(cfg.Intents.URL) == 0 {
		cfg.Intents.URL = []string{defaultNATSURL}
	}
	if cfg.Intents.Subject == "" {
		cfg.Intents.Subject = defaultIntentSubject
	}
	if cfg.Intents.Group == "" {
		cfg.Intents.Group = defaultIntentGroup
	}

	if cfg.Notify.Webhook.TimeoutSec == 0 {
		cfg.Notify.Webhook.TimeoutSec = defaultNotifyTimeout
	}
	applyRetryDefaults(&cfg.Notify.Telegram.Retry)
	applyRetryDefaults(&cfg.Notify.Webhook.Retry)
}

// applyRetryDefaults fills one retry policy with safe defaults.
// Params: mutable retry policy.
// Returns: policy updated in place.
func applyRetryDefaults(retry *NotifyRetry) {
	if retry.MaxAttempts == 0 {
		retry.MaxAttempts = 3
	}
	if retry.Backoff == "" {
		retry.Backoff = "exponential"
	}
	if retry.InitialMS == 0 {
		retry.InitialMS = 500
	}
	if retry.MaxMS == 0 {
		retry.MaxMS = 5000
	}
}

// validateConfig checks the snapshot for unusable settings.
// Params: config with defaults applied.
// Returns: first validation error.
func validateConfig(cfg Config) error {
	switch cfg.Service.Mode {
	case ServiceModeSingle, ServiceModeNATS:
	default:
		return fmt.Errorf("service.mode must be %q or %q, got %q", ServiceModeSingle, ServiceModeNATS, cfg.Service.Mode)
	}
	if cfg.Service.SnoozeMinutes < 1 {
		return errors.New("service.snooze_minutes must be >=1")
	}
	if cfg.Service.TickIntervalMS < 100 || cfg.Service.TickIntervalMS > 60_000 {
		return errors.New("service.tick_interval_ms must be within 100..60000")
	}

	if err := validateSink("log.console", cfg.Log.Console, false); err != nil {
		return err
	}
	if err := validateSink("log.file", cfg.Log.File, true); err != nil {
		return err
	}

	if cfg.Light.Enabled {
		if strings.TrimSpace(cfg.Light.AccessID) == "" {
			return errors.New("light.access_id is required when light is enabled")
		}
		if strings.TrimSpace(cfg.Light.AccessSecret) == "" {
			return errors.New("light.access_secret is required when light is enabled")
		}
		if strings.TrimSpace(cfg.Light.DeviceID) == "" {
			return errors.New("light.device_id is required when light is enabled")
		}
		if cfg.Light.TimeoutSec < 1 {
			return errors.New("light.timeout_sec must be >=1")
		}
	}
	if cfg.Sound.Enabled && strings.TrimSpace(cfg.Sound.Path) == "" {
		return errors.New("sound.path is required when sound is enabled")
	}
	if cfg.Intents.Enabled && cfg.Service.Mode != ServiceModeNATS {
		return errors.New("intents require service.mode = nats")
	}
	if cfg.Notify.Telegram.Enabled {
		if strings.TrimSpace(cfg.Notify.Telegram.BotToken) == "" {
			return errors.New("notify.telegram.bot_token is required when telegram is enabled")
		}
		if strings.TrimSpace(cfg.Notify.Telegram.ChatID) == "" {
			return errors.New("notify.telegram.chat_id is required when telegram is enabled")
		}
	}
	if cfg.Notify.Webhook.Enabled && strings.TrimSpace(cfg.Notify.Webhook.URL) == "" {
		return errors.New("notify.webhook.url is required when webhook is enabled")
	}
	return nil
}

// validateSink validates one log sink section.
// Params: section name, sink settings, and path requirement flag.
// Returns: validation error.
func validateSink(section string, sink LogSinkConfig, needsPath bool) error {
	if !sink.Enabled {
		return nil
	}
	switch strings.ToLower(strings.TrimSpace(sink.Level)) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%s.level %q is not supported", section, sink.Level)
	}
	switch sink.Format {
	case "line", "json":
	default:
		return fmt.Errorf("%s.format %q is not supported", section, sink.Format)
	}
	if needsPath && strings.TrimSpace(sink.Path) == "" {
		return fmt.Errorf("%s.path is required when the sink is enabled", section)
	}
	return nil
}
