package store

import (
	"context"
	"errors"

	"aeroclock/internal/domain"
)

var (
	// ErrNotFound indicates absent alarm id.
	ErrNotFound = errors.New("alarm not found")
	// ErrConflict indicates revision mismatch for CAS update.
	ErrConflict = errors.New("revision conflict")
	// ErrPersistence indicates the durable write failed after retry while
	// the in-memory state still carries the acknowledged change.
	ErrPersistence = errors.New("persistence failure")
)

// Mutator applies one field-level change to an alarm in place.
// Params: mutable alarm pointer under store lock.
// Returns: error aborts the update without persisting.
type Mutator func(*domain.Alarm) error

// Store provides alarm persistence operations. All mutating calls are
// atomic with respect to concurrent scheduler ticks.
// Params: CRUD operations plus the daily trigger-flag reset.
// Returns: backend persistence behavior.
type Store interface {
	Create(ctx context.Context, spec domain.AlarmSpec) (domain.Alarm, error)
	List(ctx context.Context) ([]domain.Alarm, error)
	Get(ctx context.Context, id string) (domain.Alarm, error)
	Update(ctx context.Context, id string, mutate Mutator) (domain.Alarm, error)
	Delete(ctx context.Context, id string) error
	ResetTriggeredToday(ctx context.Context) (int, error)
	Close() error
}
