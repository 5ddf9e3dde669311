package notification

import (
	"context"
	"time"
)

// Repository defines the interface for notification task data access
type Repository interface {
	// CreateTask creates a notification task
	CreateTask(ctx context.Context, t *Task) error

	// GetTask retrieves a task by ID
	GetTask(ctx context.Context, id string) (*Task, error)

	// UpdateTask persists a task's mutable state (status, retry_count,
	// error_message, sent_at)
	UpdateTask(ctx context.Context, t *Task) error

	// ClaimRetryable atomically transitions tasks in failed/retry status
	// created after the cutoff back to pending and returns them. A task
	// returned here cannot be returned by a concurrent call.
	ClaimRetryable(ctx context.Context, cutoff time.Time, limit int) ([]*Task, error)

	// CountSentSince counts sent notifications for a subscription+alarm
	// pair since the given time. Used for cooldown enforcement across
	// restarts.
	CountSentSince(ctx context.Context, subscriptionID, alarmID int64, since time.Time) (int, error)
}
