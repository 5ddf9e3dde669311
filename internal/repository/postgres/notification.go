package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/opsgrid/alarmd/internal/domain/notification"
	"github.com/opsgrid/alarmd/internal/pkg/errors"
)

type NotificationRepository struct {
	db *DB
}

func NewNotificationRepository(db *DB) notification.Repository {
	return &NotificationRepository{db: db}
}

const taskColumns = `id, subscription_id, alarm_id, contact_point_id, status,
	retry_count, max_retries, subject, content, error_message, sent_at, created_at, updated_at`

func (r *NotificationRepository) CreateTask(ctx context.Context, t *notification.Task) error {
	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO notification_tasks (id, subscription_id, alarm_id, contact_point_id, status,
			retry_count, max_retries, subject, content, error_message, sent_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.SubscriptionID, t.AlarmID, t.ContactPointID, t.Status,
		t.RetryCount, t.MaxRetries, t.Subject, t.Content, t.ErrorMessage,
		nullTimeStr(t.SentAt), timeStr(t.CreatedAt), timeStr(t.UpdatedAt))
	if err != nil {
		return errors.DatabaseError("Failed to create notification task", err)
	}
	return nil
}

func (r *NotificationRepository) GetTask(ctx context.Context, id string) (*notification.Task, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM notification_tasks WHERE id = ?`, id)
	return scanTask(row)
}

func (r *NotificationRepository) UpdateTask(ctx context.Context, t *notification.Task) error {
	t.UpdatedAt = time.Now()

	result, err := r.db.ExecContext(ctx, `
		UPDATE notification_tasks
		SET status = ?, retry_count = ?, error_message = ?, sent_at = ?, updated_at = ?
		WHERE id = ?`,
		t.Status, t.RetryCount, t.ErrorMessage, nullTimeStr(t.SentAt), timeStr(t.UpdatedAt), t.ID)
	if err != nil {
		return errors.DatabaseError("Failed to update notification task", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.DatabaseError("Failed to get affected rows", err)
	}
	if rows == 0 {
		return errors.NotFound("Notification task")
	}
	return nil
}

// ClaimRetryable atomically picks failed/retry tasks that still have
// attempts left and flips them to pending, so overlapping sweeps never
// pick the same task twice.
func (r *NotificationRepository) ClaimRetryable(ctx context.Context, cutoff time.Time, limit int) ([]*notification.Task, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.DatabaseError("Failed to start claim transaction", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, r.db.Rebind(`
		SELECT `+taskColumns+` FROM notification_tasks
		WHERE status IN (?, ?) AND retry_count < max_retries AND created_at >= ?
		ORDER BY created_at ASC LIMIT ?`),
		notification.StatusFailed, notification.StatusRetry, timeStr(cutoff), limit)
	if err != nil {
		return nil, errors.DatabaseError("Failed to query retryable tasks", err)
	}

	var out []*notification.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, errors.DatabaseError("Failed to iterate retryable tasks", err)
	}
	rows.Close()

	now := timeStr(time.Now())
	for _, t := range out {
		if _, err := tx.ExecContext(ctx, r.db.Rebind(`
			UPDATE notification_tasks SET status = ?, updated_at = ? WHERE id = ?`),
			notification.StatusPending, now, t.ID); err != nil {
			return nil, errors.DatabaseError("Failed to claim task", err)
		}
		t.Status = notification.StatusPending
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.DatabaseError("Failed to commit claim", err)
	}
	return out, nil
}

func (r *NotificationRepository) CountSentSince(ctx context.Context, subscriptionID, alarmID int64, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM notification_tasks
		WHERE subscription_id = ? AND alarm_id = ? AND status = ? AND sent_at >= ?`,
		subscriptionID, alarmID, notification.StatusSent, timeStr(since)).Scan(&count)
	if err != nil {
		return 0, errors.DatabaseError("Failed to count sent notifications", err)
	}
	return count, nil
}

func scanTask(row rowScanner) (*notification.Task, error) {
	var t notification.Task
	var sentAt sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&t.ID, &t.SubscriptionID, &t.AlarmID, &t.ContactPointID, &t.Status,
		&t.RetryCount, &t.MaxRetries, &t.Subject, &t.Content, &t.ErrorMessage,
		&sentAt, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("Notification task")
	}
	if err != nil {
		return nil, errors.DatabaseError("Failed to scan notification task", err)
	}

	t.SentAt = parseNullTime(sentAt)
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	return &t, nil
}
