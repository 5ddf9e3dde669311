package suppression

import (
	"context"
	"time"
)

// Repository defines the interface for suppression rule data access
type Repository interface {
	// Create creates a suppression rule; conditions must already be
	// validated by the caller
	Create(ctx context.Context, r *Rule) (int64, error)

	// GetByID retrieves a rule by ID
	GetByID(ctx context.Context, id int64) (*Rule, error)

	// ListActive retrieves rules with status=active ordered by ascending
	// priority. This is the suppression cache's load query.
	ListActive(ctx context.Context) ([]*Rule, error)

	// UpdateStatus updates a rule's status
	UpdateStatus(ctx context.Context, id int64, status string) error

	// RecordMatch increments suppressed_count and sets last_match
	RecordMatch(ctx context.Context, id int64, at time.Time) error

	// CreateLog records one applied suppression
	CreateLog(ctx context.Context, l *Log) error
}

// WindowRepository defines the interface for maintenance window data access
type WindowRepository interface {
	// Create creates a maintenance window together with its synthesized rule id
	Create(ctx context.Context, w *MaintenanceWindow) (int64, error)

	// ListUpcoming retrieves windows starting within the given duration
	// from now, for pre-window notification
	ListUpcoming(ctx context.Context, within time.Duration) ([]*MaintenanceWindow, error)
}
