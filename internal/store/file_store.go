package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"aeroclock/internal/domain"

	"github.com/google/uuid"
)

// FileStore keeps the alarm set in memory with write-through JSON file
// persistence. Every acknowledged mutation is saved before returning,
// so a crash between calls never loses a change.
// Params: in-memory alarm map guarded by one mutex and target file path.
// Returns: durable single-instance store implementation.
type FileStore struct {
	mu      sync.RWMutex
	path    string
	alarms  map[string]domain.Alarm
	dropped int
}

// NewFileStore loads the alarm file and returns the store. A missing
// file starts an empty set; malformed individual records are skipped
// rather than failing the whole load.
// Params: JSON file path.
// Returns: initialized store or unrecoverable load error.
func NewFileStore(path string) (*FileStore, error) {
	store := &FileStore{
		path:   path,
		alarms: make(map[string]domain.Alarm),
	}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

// Dropped returns the count of malformed records skipped at load.
// Params: none.
// Returns: skipped record count for startup logging.
func (s *FileStore) Dropped() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dropped
}

// Create validates the spec, assigns a fresh id, and persists.
// Params: context and creation spec.
// Returns: stored alarm with defaults applied.
func (s *FileStore) Create(_ context.Context, spec domain.AlarmSpec) (domain.Alarm, error) {
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
	if err := s.saveLocked(); err != nil {
		return alarm, err
	}
	return alarm, nil
}

// List returns copies of all alarms, sorted by time then id.
// Params: context (unused by file backend).
// Returns: detached alarm slice.
func (s *FileStore) List(_ context.Context) ([]domain.Alarm, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedAlarms(s.alarms), nil
}

// Get returns one alarm copy by id.
// Params: context and alarm id.
// Returns: alarm or ErrNotFound.
func (s *FileStore) Get(_ context.Context, id string) (domain.Alarm, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	alarm, ok := s.alarms[id]
	if !ok {
		return domain.Alarm{}, ErrNotFound
	}
	return alarm, nil
}

// Update applies one mutation atomically and persists write-through.
// Params: context, alarm id, and mutator callback.
// Returns: mutated alarm, ErrNotFound, mutator error, or ErrPersistence
// when only the durable write failed (in-memory change is kept).
func (s *FileStore) Update(_ context.Context, id string, mutate Mutator) (domain.Alarm, error) {
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
	if err := s.saveLocked(); err != nil {
		return alarm, err
	}
	return alarm, nil
}

// Delete removes one alarm and persists.
// Params: context and alarm id.
// Returns: ErrNotFound when absent, else persistence result.
func (s *FileStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.alarms[id]; !ok {
		return ErrNotFound
	}
	delete(s.alarms, id)
	return s.saveLocked()
}

// ResetTriggeredToday clears the per-day trigger flag on every alarm.
// Params: context (unused by file backend).
// Returns: number of alarms cleared and persistence result.
func (s *FileStore) ResetTriggeredToday(_ context.Context) (int, error) {
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
	if cleared == 0 {
		return 0, nil
	}
	return cleared, s.saveLocked()
}

// Close releases store resources.
// Params: none.
// Returns: nil for file backend.
func (s *FileStore) Close() error {
	return nil
}

// load reads the alarm file into memory, skipping malformed records.
// Params: none.
// Returns: read/parse error only for an unreadable or non-array file.
func (s *FileStore) load() error {
	payload, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read alarm file %q: %w", s.path, err)
	}
	var records []json.RawMessage
	if err := json.Unmarshal(payload, &records); err != nil {
		return fmt.Errorf("decode alarm file %q: %w", s.path, err)
	}
	for _, record := range records {
		var alarm domain.Alarm
		if err := json.Unmarshal(record, &alarm); err != nil {
			s.dropped++
			continue
		}
		if err := alarm.Validate(); err != nil {
			s.dropped++
			continue
		}
		if _, exists := s.alarms[alarm.ID]; exists {
			s.dropped++
			continue
		}
		s.alarms[alarm.ID] = alarm
	}
	return nil
}

// saveLocked writes the full alarm set durably (temp file + rename).
// The write is retried once; after a second failure the in-memory set
// stays authoritative and the error is marked as ErrPersistence.
// Params: store write lock must be held by caller.
// Returns: nil or ErrPersistence-wrapped write error.
func (s *FileStore) saveLocked() error {
	payload, err := json.MarshalIndent(sortedAlarms(s.alarms), "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode alarms: %v", ErrPersistence, err)
	}
	writeErr := writeFileAtomic(s.path, payload)
	if writeErr != nil {
		writeErr = writeFileAtomic(s.path, payload)
	}
	if writeErr != nil {
		return fmt.Errorf("%w: write %q: %v", ErrPersistence, s.path, writeErr)
	}
	return nil
}

// writeFileAtomic writes payload through a temp file and rename.
// Params: destination path and full payload.
// Returns: first filesystem error.
func writeFileAtomic(path string, payload []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

// sortedAlarms snapshots the alarm map ordered by time then id.
// Params: alarm map under caller's lock.
// Returns: deterministic alarm slice.
func sortedAlarms(alarms map[string]domain.Alarm) []domain.Alarm {
	out := make([]domain.Alarm, 0, len(alarms))
	for _, alarm := range alarms {
		out = append(out, alarm)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Time.Hour != out[j].Time.Hour {
			return out[i].Time.Hour < out[j].Time.Hour
		}
		if out[i].Time.Minute != out[j].Time.Minute {
			return out[i].Time.Minute < out[j].Time.Minute
		}
		return out[i].ID < out[j].ID
	})
	return out
}
