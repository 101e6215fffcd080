package intents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"

	"aeroclock/internal/config"
	"aeroclock/internal/domain"
)

// Sink applies decoded intents from remote panels.
// Params: context and decoded intent.
// Returns: processing error.
type Sink interface {
	Apply(ctx context.Context, intent domain.Intent) (domain.Alarm, error)
}

// NATSSubscriber consumes alarm intents over a core NATS queue group.
// Intents are fire-and-forget: a failed apply is logged, not redelivered.
// Params: NATS connection, queue subscription, and intent sink.
// Returns: NATS intent lifecycle handle.
type NATSSubscriber struct {
	nc     *nats.Conn
	sub    *nats.Subscription
	logger *slog.Logger
}

// NewNATSSubscriber connects and subscribes to the intent subject.
// Params: intents config, sink, and logger.
// Returns: started subscriber or initialization error.
func NewNATSSubscriber(cfg config.IntentsConfig, sink Sink, logger *slog.Logger) (*NATSSubscriber, error) {
	nc, err := nats.Connect(strings.Join(cfg.URL, ","))
	if err != nil {
		return nil, fmt.Errorf("connect nats intents: %w", err)
	}

	subscriber := &NATSSubscriber{nc: nc, logger: logger}
	sub, err := nc.QueueSubscribe(cfg.Subject, cfg.Group, func(message *nats.Msg) {
		intent, decodeErr := domain.DecodeIntent(message.Data)
		if decodeErr != nil {
			logger.Warn("intent decode failed", "subject", message.Subject, "error", decodeErr.Error())
			return
		}
		if _, applyErr := sink.Apply(context.Background(), intent); applyErr != nil {
			logger.Error("intent apply failed", "subject", message.Subject, "kind", string(intent.Kind), "error", applyErr.Error())
		}
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("queue subscribe %q/%q: %w", cfg.Subject, cfg.Group, err)
	}
	subscriber.sub = sub
	return subscriber, nil
}

// Close drains the subscription and closes the connection.
// Params: none.
// Returns: drain error.
func (s *NATSSubscriber) Close() error {
	if s.sub != nil {
		if err := s.sub.Drain(); err != nil {
			s.nc.Close()
			return err
		}
	}
	s.nc.Close()
	return nil
}
