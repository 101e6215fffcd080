package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"aeroclock/internal/alert"
	"aeroclock/internal/api"
	"aeroclock/internal/clock"
	"aeroclock/internal/config"
	"aeroclock/internal/intents"
	"aeroclock/internal/light"
	"aeroclock/internal/logging"
	"aeroclock/internal/notify"
	"aeroclock/internal/scheduler"
	"aeroclock/internal/sound"
	"aeroclock/internal/store"
)

// Service composes runtime dependencies and process lifecycle.
// Params: config source and shared runtime components.
// Returns: runnable alarm service.
type Service struct {
	cfg       config.Config
	logger    *slog.Logger
	closeLog  func()
	store     store.Store
	center    *alert.Center
	evaluator *scheduler.Evaluator
	manager   *Manager
	hub       *api.Hub
	httpSrv   *http.Server
	natsSub   interface{ Close() error }
	readyFlag atomic.Bool
	clock     clock.Clock
}

// NewService builds a service instance from a config source.
// Params: config source and clock implementation.
// Returns: initialized service or setup error.
func NewService(source config.ConfigSource, clk clock.Clock) (*Service, error) {
	cfg, err := config.LoadSnapshot(source)
	if err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.RealClock{}
	}

	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	service := &Service{
		cfg:      cfg,
		logger:   logger,
		closeLog: closeLog,
		clock:    clk,
	}

	if service.store, err = buildStore(cfg); err != nil {
		service.cleanupInitResources()
		return nil, err
	}

	bulb, err := buildLight(cfg, logger, clk)
	if err != nil {
		service.cleanupInitResources()
		return nil, err
	}
	player, err := buildSound(cfg, logger)
	if err != nil {
		service.cleanupInitResources()
		return nil, err
	}
	dispatcher, err := notify.NewDispatcher(cfg.Notify, logger)
	if err != nil {
		service.cleanupInitResources()
		return nil, err
	}

	service.hub = api.NewHub(logger)
	lightTimeout := time.Duration(cfg.Light.TimeoutSec) * time.Second
	service.center = alert.NewCenter(service.store, logger, alert.Options{
		Sound:          player,
		Presenter:      service.hub,
		Light:          bulb,
		Clock:          clk,
		SnoozeMinutes:  cfg.Service.SnoozeMinutes,
		LightOffOnStop: cfg.Light.OffOnDismiss,
		LightTimeout:   lightTimeout,
	})
	service.evaluator = scheduler.NewEvaluator(service.store, service.center, logger, scheduler.Options{
		Light:        bulb,
		Notifier:     dispatcher,
		Clock:        clk,
		LightTimeout: lightTimeout,
	})
	service.manager = NewManager(service.store, service.center, bulb, logger)

	service.buildHTTPServer()
	if err := service.buildIntentSubscriber(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}

	return service, nil
}

// Run starts the service lifecycle and blocks until shutdown.
// Params: root context for service runtime.
// Returns: terminal run error.
func (s *Service) Run(ctx context.Context) error {
	shutdownCtx, shutdownCancel := context.WithCancel(ctx)
	defer shutdownCancel()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", "listen", s.cfg.API.Listen)
		err := s.httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	ticker := time.NewTicker(time.Duration(s.cfg.Service.TickIntervalMS) * time.Millisecond)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-shutdownCtx.Done():
				return
			case <-ticker.C:
				if err := s.evaluator.Tick(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
					s.logger.Error("tick processing failed", "error", err.Error())
				}
			}
		}
	}()

	s.readyFlag.Store(true)
	s.logger.Info("service started", "mode", s.cfg.Service.Mode)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		return s.shutdown()
	case err := <-errChan:
		_ = s.shutdown()
		return fmt.Errorf("http server failed: %w", err)
	case <-sigChan:
		return s.shutdown()
	}
}

// shutdown closes runtime resources in dependency order.
// Params: none.
// Returns: first close error.
func (s *Service) shutdown() error {
	s.readyFlag.Store(false)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var firstErr error
	markErr := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("http shutdown failed", "error", err.Error())
		markErr(fmt.Errorf("http shutdown: %w", err))
	}
	if s.natsSub != nil {
		if err := s.natsSub.Close(); err != nil {
			s.logger.Error("intent subscriber close failed", "error", err.Error())
			markErr(fmt.Errorf("intent subscriber close: %w", err))
		}
	}
	s.center.Close()
	s.hub.Close()
	if err := s.store.Close(); err != nil {
		s.logger.Error("store close failed", "error", err.Error())
		markErr(fmt.Errorf("store close: %w", err))
	}
	if s.closeLog != nil {
		s.closeLog()
	}
	return firstErr
}

// cleanupInitResources closes partially initialized resources on startup failures.
// Params: none.
// Returns: all acquired resources closed best-effort.
func (s *Service) cleanupInitResources() {
	if s.natsSub != nil {
		_ = s.natsSub.Close()
		s.natsSub = nil
	}
	if s.httpSrv != nil {
		_ = s.httpSrv.Close()
		s.httpSrv = nil
	}
	if s.store != nil {
		_ = s.store.Close()
		s.store = nil
	}
	if s.closeLog != nil {
		s.closeLog()
		s.closeLog = nil
	}
}

// buildHTTPServer wires alarm, session, health, and panel endpoints.
// Params: none.
// Returns: server stored on the service.
func (s *Service) buildHTTPServer() {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.API.HealthPath, func(writer http.ResponseWriter, _ *http.Request) {
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte("ok"))
	})
	mux.HandleFunc(s.cfg.API.ReadyPath, func(writer http.ResponseWriter, _ *http.Request) {
		if !s.readyFlag.Load() {
			writer.WriteHeader(http.StatusServiceUnavailable)
			_, _ = writer.Write([]byte("not-ready"))
			return
		}
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte("ready"))
	})
	mux.HandleFunc(s.cfg.API.WSPath, s.hub.HandleConnection)

	handler := api.NewHandler(s.manager, s.cfg.API.MaxBodyBytes, s.logger)
	handler.Register(mux)

	s.httpSrv = &http.Server{
		Addr:              s.cfg.API.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// buildIntentSubscriber starts the NATS intent transport when enabled.
// Params: none.
// Returns: initialization error.
func (s *Service) buildIntentSubscriber() error {
	if isSingleMode(s.cfg) || !s.cfg.Intents.Enabled {
		return nil
	}
	subscriber, err := intents.NewNATSSubscriber(s.cfg.Intents, s.manager, s.logger)
	if err != nil {
		return err
	}
	s.natsSub = subscriber
	return nil
}

// buildStore creates the alarm persistence backend from config.
// Params: root config snapshot.
// Returns: selected store backend.
func buildStore(cfg config.Config) (store.Store, error) {
	if isSingleMode(cfg) {
		return store.NewFileStore(cfg.Store.Path)
	}
	return store.NewNATSStore(cfg.Store.NATS)
}

// buildLight creates the bulb controller from config.
// Params: root config, logger, and clock.
// Returns: cloud client when enabled, no-op otherwise.
func buildLight(cfg config.Config, logger *slog.Logger, clk clock.Clock) (light.Controller, error) {
	if !cfg.Light.Enabled {
		return light.Disabled{}, nil
	}
	return light.NewTuyaClient(cfg.Light, logger, clk), nil
}

// buildSound creates the alarm sound player from config.
// Params: root config and logger.
// Returns: WAV player when enabled, silent player otherwise.
func buildSound(cfg config.Config, logger *slog.Logger) (alert.Player, error) {
	if !cfg.Sound.Enabled {
		return sound.Nop{}, nil
	}
	return sound.NewWAVPlayer(cfg.Sound.Path, logger)
}

func isSingleMode(cfg config.Config) bool {
	return config.NormalizeServiceMode(cfg.Service.Mode) == config.ServiceModeSingle
}
