package store

import (
	"context"
	"sync"

	"aeroclock/internal/domain"

	"github.com/google/uuid"
)

// MemoryStore keeps the alarm set in process memory without durable
// backing. Used by tests and the ephemeral store mode.
// Params: in-memory alarm map guarded by one mutex.
// Returns: store implementation without external dependencies.
type MemoryStore struct {
	mu     sync.RWMutex
	alarms map[string]domain.Alarm
}

// NewMemoryStore creates an empty in-memory alarm store.
// Params: none.
// Returns: initialized store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{alarms: make(map[string]domain.Alarm)}
}

// Create validates the spec, assigns a fresh id, and stores the alarm.
// Params: context and creation spec.
// Returns: stored alarm with defaults applied.
func (s *MemoryStore) Create(_ context.Context, spec domain.AlarmSpec) (domain.Alarm, error) {
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
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alarms[alarm.ID] = alarm
	return alarm, nil
}

// List returns copies of all alarms, sorted by time then id.
// Params: context (unused).
// Returns: detached alarm slice.
func (s *MemoryStore) List(_ context.Context) ([]domain.Alarm, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedAlarms(s.alarms), nil
}

// Get returns one alarm copy by id.
// Params: context and alarm id.
// Returns: alarm or ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, id string) (domain.Alarm, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	alarm, ok := s.alarms[id]
	if !ok {
		return domain.Alarm{}, ErrNotFound
	}
	return alarm, nil
}

// Update applies one mutation atomically.
// Params: context, alarm id, and mutator callback.
// Returns: mutated alarm, ErrNotFound, or mutator error.
func (s *MemoryStore) Update(_ context.Context, id string, mutate Mutator) (domain.Alarm, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	alarm, ok := s.alarms[id]
	if !ok {
		return domain.Alarm{}, ErrNotFound
	}
	if err := mutate(&alarm); err != nil {
		return domain.Alarm{}, err
	}
	if err := alarm.Validate(); err != nil {
		return domain.Alarm{}, err
	}
	s.alarms[id] = alarm
	return alarm, nil
}

// Delete removes one alarm.
// Params: context and alarm id.
// Returns: ErrNotFound when absent.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.alarms[id]; !ok {
		return ErrNotFound
	}
	delete(s.alarms, id)
	return nil
}

// ResetTriggeredToday clears the per-day trigger flag on every alarm.
// Params: context (unused).
// Returns: number of alarms cleared.
func (s *MemoryStore) ResetTriggeredToday(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cleared := 0
	for id, alarm := range s.alarms {
		if !alarm.TriggeredToday {
			continue
		}
		alarm.TriggeredToday = false
		s.alarms[id] = alarm
		cleared++
	}
	return cleared, nil
}

// Close releases store resources.
// Params: none.
// Returns: nil.
func (s *MemoryStore) Close() error {
	return nil
}
