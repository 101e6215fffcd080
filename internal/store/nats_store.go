package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"aeroclock/internal/config"
	"aeroclock/internal/domain"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const casRetryLimit = 3

// NATSStore persists the alarm set in one JetStream KV bucket, one key
// per alarm, so several panels in the household can share alarms.
// Params: NATS connection and KV bucket handle.
// Returns: KV-backed store implementation.
type NATSStore struct {
	nc *nats.Conn
	kv nats.KeyValue
}

// NewNATSStore connects and opens (or creates) the alarm bucket.
// Params: NATS store settings from config.
// Returns: initialized store or setup error.
func NewNATSStore(settings config.NATSStoreConfig) (*NATSStore, error) {
	nc, err := nats.Connect(strings.Join(settings.URL, ","))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}
	kv, err := js.KeyValue(settings.Bucket)
	if err != nil {
		if !settings.AllowCreateBucket {
			nc.Close()
			return nil, fmt.Errorf("open alarm bucket %q: %w", settings.Bucket, err)
		}
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{Bucket: settings.Bucket})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("create alarm bucket %q: %w", settings.Bucket, err)
		}
	}
	return &NATSStore{nc: nc, kv: kv}, nil
}

// Create validates the spec, assigns a fresh id, and stores the alarm.
// Params: context and creation spec.
// Returns: stored alarm or backend error.
func (s *NATSStore) Create(_ context.Context, spec domain.AlarmSpec) (domain.Alarm, error) {
	if err := spec.Validate(); err != nil {
		return domain.Alarm{}, err
	}
	alarm := domain.Alarm{
		ID:           uuid.NewString(),
		Time:         spec.Time,
		Repeat:       spec.Repeat,
		LightControl: spec.LightControl,
		Enabled:      true,
	}
	payload, err := json.Marshal(alarm)
	if err != nil {
		return domain.Alarm{}, fmt.Errorf("encode alarm: %w", err)
	}
	if _, err := s.kv.Create(alarm.ID, payload); err != nil {
		return domain.Alarm{}, fmt.Errorf("%w: create alarm key: %v", ErrPersistence, err)
	}
	return alarm, nil
}

// List reads every alarm key, skipping malformed values.
// Params: context (unused by KV client).
// Returns: alarm slice sorted by time then id.
func (s *NATSStore) List(_ context.Context) ([]domain.Alarm, error) {
	keys, err := s.kv.Keys()
	if err != nil {
		if errors.Is(err, nats.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list alarm keys: %w", err)
	}
	alarms := make(map[string]domain.Alarm, len(keys))
	for _, key := range keys {
		entry, err := s.kv.Get(key)
		if err != nil {
			if errors.Is(err, nats.ErrKeyNotFound) {
				continue
			}
			return nil, fmt.Errorf("get alarm %q: %w", key, err)
		}
		var alarm domain.Alarm
		if err := json.Unmarshal(entry.Value(), &alarm); err != nil {
			continue
		}
		if alarm.Validate() != nil {
			continue
		}
		alarms[alarm.ID] = alarm
	}
	return sortedAlarms(alarms), nil
}

// Get returns one alarm by id.
// Params: context and alarm id.
// Returns: alarm, ErrNotFound, or backend error.
func (s *NATSStore) Get(_ context.Context, id string) (domain.Alarm, error) {
	entry, err := s.kv.Get(id)
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return domain.Alarm{}, ErrNotFound
		}
		return domain.Alarm{}, fmt.Errorf("get alarm %q: %w", id, err)
	}
	var alarm domain.Alarm
	if err := json.Unmarshal(entry.Value(), &alarm); err != nil {
		return domain.Alarm{}, fmt.Errorf("decode alarm %q: %w", id, err)
	}
	return alarm, nil
}

// Update applies one mutation with revision CAS and bounded retries.
// Params: context, alarm id, and mutator callback.
// Returns: mutated alarm, ErrNotFound, mutator error, or ErrConflict
// after retry exhaustion.
func (s *NATSStore) Update(ctx context.Context, id string, mutate Mutator) (domain.Alarm, error) {
	for attempt := 0; attempt < casRetryLimit; attempt++ {
		entry, err := s.kv.Get(id)
		if err != nil {
			if errors.Is(err, nats.ErrKeyNotFound) {
				return domain.Alarm{}, ErrNotFound
			}
			return domain.Alarm{}, fmt.Errorf("get alarm %q: %w", id, err)
		}
		var alarm domain.Alarm
		if err := json.Unmarshal(entry.Value(), &alarm); err != nil {
			return domain.Alarm{}, fmt.Errorf("decode alarm %q: %w", id, err)
		}
		if err := mutate(&alarm); err != nil {
			return domain.Alarm{}, err
		}
		if err := alarm.Validate(); err != nil {
			return domain.Alarm{}, err
		}
		payload, err := json.Marshal(alarm)
		if err != nil {
			return domain.Alarm{}, fmt.Errorf("encode alarm %q: %w", id, err)
		}
		if _, err := s.kv.Update(id, payload, entry.Revision()); err != nil {
			if ctx.Err() != nil {
				return domain.Alarm{}, ctx.Err()
			}
			continue
		}
		return alarm, nil
	}
	return domain.Alarm{}, fmt.Errorf("update alarm %q: %w", id, ErrConflict)
}

// Delete removes one alarm key.
// Params: context and alarm id.
// Returns: ErrNotFound when absent, else backend result.
func (s *NATSStore) Delete(_ context.Context, id string) error {
	if _, err := s.kv.Get(id); err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("get alarm %q: %w", id, err)
	}
	if err := s.kv.Delete(id); err != nil {
		return fmt.Errorf("%w: delete alarm %q: %v", ErrPersistence, id, err)
	}
	return nil
}

// ResetTriggeredToday clears the per-day trigger flag on every alarm.
// Params: context for CAS updates.
// Returns: number of alarms cleared and first backend error.
func (s *NATSStore) ResetTriggeredToday(ctx context.Context) (int, error) {
	alarms, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	cleared := 0
	for _, alarm := range alarms {
		if !alarm.TriggeredToday {
			continue
		}
		if _, err := s.Update(ctx, alarm.ID, func(a *domain.Alarm) error {
			a.TriggeredToday = false
			return nil
		}); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return cleared, err
		}
		cleared++
	}
	return cleared, nil
}

// Close closes the NATS connection.
// Params: none.
// Returns: nil.
func (s *NATSStore) Close() error {
	s.nc.Close()
	return nil
}
