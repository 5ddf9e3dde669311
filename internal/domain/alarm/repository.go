package alarm

import (
	"context"
	"time"
)

// Repository defines the interface for alarm data access
type Repository interface {
	// Create creates a new alarm event
	Create(ctx context.Context, e *Event) (int64, error)

	// GetByID retrieves an alarm by ID
	GetByID(ctx context.Context, id int64) (*Event, error)

	// GetActiveByFingerprint retrieves the active alarm with the given
	// fingerprint, or a NotFound error
	GetActiveByFingerprint(ctx context.Context, fingerprint string) (*Event, error)

	// Update persists the full mutable state of an alarm
	Update(ctx context.Context, e *Event) error

	// UpdateStatus updates only the alarm status (and resolved_at when
	// transitioning to resolved)
	UpdateStatus(ctx context.Context, id int64, status string, at time.Time) error

	// List retrieves alarms matching the filter, newest first, bounded by limit
	List(ctx context.Context, filter Filter, limit int) ([]*Event, error)

	// ListActiveSince retrieves active, non-duplicate alarms with
	// last_occurrence >= since, newest first, bounded by limit. This is the
	// correlation engine's working window.
	ListActiveSince(ctx context.Context, since time.Time, limit int) ([]*Event, error)

	// ListStaleActive retrieves active alarms of the given severities whose
	// last_occurrence is older than before. Used for auto-resolution.
	ListStaleActive(ctx context.Context, before time.Time, severities []string) ([]*Event, error)
}
