package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/opsgrid/alarmd/internal/domain/subscription"
	"github.com/opsgrid/alarmd/internal/engine/condition"
	"github.com/opsgrid/alarmd/internal/pkg/errors"
	"github.com/opsgrid/alarmd/internal/pkg/logger"
)

type SubscriptionRepository struct {
	db  *DB
	log *logger.Logger
}

func NewSubscriptionRepository(db *DB, log *logger.Logger) subscription.Repository {
	return &SubscriptionRepository{db: db, log: log}
}

func (r *SubscriptionRepository) Create(ctx context.Context, s *subscription.Subscription) (int64, error) {
	now := time.Now()
	s.CreatedAt = now
	s.UpdatedAt = now

	filters, err := encodeJSON(s.Filters)
	if err != nil {
		return 0, errors.DatabaseError("Failed to encode subscription filters", err)
	}
	contactPoints, err := encodeJSON(s.ContactPointIDs)
	if err != nil {
		return 0, errors.DatabaseError("Failed to encode contact point IDs", err)
	}

	id, err := r.db.InsertID(ctx, `
		INSERT INTO subscriptions (user_id, name, filters, contact_point_ids,
			cooldown_minutes, max_notifications_per_hour, enabled,
			total_notifications_sent, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		s.UserID, s.Name, filters, contactPoints,
		s.CooldownMinutes, s.MaxNotificationsPerHour, s.Enabled,
		timeStr(now), timeStr(now))
	if err != nil {
		return 0, errors.DatabaseError("Failed to create subscription", err)
	}
	s.ID = id
	return id, nil
}

func (r *SubscriptionRepository) ListEnabled(ctx context.Context) ([]*subscription.Subscription, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, name, filters, contact_point_ids, cooldown_minutes,
			max_notifications_per_hour, enabled, last_notification_at,
			total_notifications_sent, created_at, updated_at
		FROM subscriptions WHERE enabled = ? ORDER BY id ASC`, true)
	if err != nil {
		return nil, errors.DatabaseError("Failed to list subscriptions", err)
	}
	defer rows.Close()

	var out []*subscription.Subscription
	for rows.Next() {
		var s subscription.Subscription
		var filters, contactPoints, createdAt, updatedAt string
		var lastNotification sql.NullString

		err := rows.Scan(&s.ID, &s.UserID, &s.Name, &filters, &contactPoints,
			&s.CooldownMinutes, &s.MaxNotificationsPerHour, &s.Enabled,
			&lastNotification, &s.TotalNotificationsSent, &createdAt, &updatedAt)
		if err != nil {
			return nil, errors.DatabaseError("Failed to scan subscription", err)
		}
		if filters != "" {
			node, err := condition.ParseJSON([]byte(filters))
			if err != nil {
				// Fail closed per subscription: malformed filters drop this
				// subscription only, never the whole listing.
				r.log.WithFields(map[string]interface{}{
					"subscription_id":   s.ID,
					"subscription_name": s.Name,
				}).WithError(err).Warn("Skipping subscription with invalid filters")
				continue
			}
			s.Filters = node
		}
		if err := decodeJSON(contactPoints, &s.ContactPointIDs); err != nil {
			r.log.WithFields(map[string]interface{}{
				"subscription_id":   s.ID,
				"subscription_name": s.Name,
			}).WithError(err).Warn("Skipping subscription with invalid contact point list")
			continue
		}
		s.LastNotificationAt = parseNullTime(lastNotification)
		s.CreatedAt = parseTime(createdAt)
		s.UpdatedAt = parseTime(updatedAt)
		out = append(out, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.DatabaseError("Failed to iterate subscriptions", err)
	}
	return out, nil
}

func (r *SubscriptionRepository) RecordNotification(ctx context.Context, id int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE subscriptions
		SET last_notification_at = ?, total_notifications_sent = total_notifications_sent + 1
		WHERE id = ?`,
		timeStr(at), id)
	if err != nil {
		return errors.DatabaseError("Failed to record subscription notification", err)
	}
	return nil
}

func (r *SubscriptionRepository) GetContactPoint(ctx context.Context, id int64) (*subscription.ContactPoint, error) {
	var cp subscription.ContactPoint
	var config, createdAt, updatedAt string

	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, type, config, enabled, created_at, updated_at
		FROM contact_points WHERE id = ?`, id).Scan(
		&cp.ID, &cp.UserID, &cp.Name, &cp.Type, &config, &cp.Enabled, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("Contact point")
	}
	if err != nil {
		return nil, errors.DatabaseError("Failed to get contact point", err)
	}

	if err := decodeJSON(config, &cp.Config); err != nil {
		return nil, errors.DatabaseError("Failed to decode contact point config", err)
	}
	cp.CreatedAt = parseTime(createdAt)
	cp.UpdatedAt = parseTime(updatedAt)
	return &cp, nil
}

// ListContactPointsByUser retrieves a user's enabled contact points, for
// distribution rules that notify users directly.
func (r *SubscriptionRepository) ListContactPointsByUser(ctx context.Context, userID int64) ([]*subscription.ContactPoint, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, name, type, config, enabled, created_at, updated_at
		FROM contact_points WHERE user_id = ? AND enabled = ? ORDER BY id ASC`,
		userID, true)
	if err != nil {
		return nil, errors.DatabaseError("Failed to list contact points", err)
	}
	defer rows.Close()

	var out []*subscription.ContactPoint
	for rows.Next() {
		var cp subscription.ContactPoint
		var config, createdAt, updatedAt string
		if err := rows.Scan(&cp.ID, &cp.UserID, &cp.Name, &cp.Type, &config,
			&cp.Enabled, &createdAt, &updatedAt); err != nil {
			return nil, errors.DatabaseError("Failed to scan contact point", err)
		}
		if err := decodeJSON(config, &cp.Config); err != nil {
			r.log.With("contact_point_id", cp.ID).WithError(err).Warn("Skipping contact point with invalid config")
			continue
		}
		cp.CreatedAt = parseTime(createdAt)
		cp.UpdatedAt = parseTime(updatedAt)
		out = append(out, &cp)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.DatabaseError("Failed to iterate contact points", err)
	}
	return out, nil
}

// ListGroupMembers retrieves the user IDs belonging to a notification group
func (r *SubscriptionRepository) ListGroupMembers(ctx context.Context, groupID int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id FROM user_groups WHERE group_id = ? ORDER BY user_id ASC`, groupID)
	if err != nil {
		return nil, errors.DatabaseError("Failed to list group members", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var userID int64
		if err := rows.Scan(&userID); err != nil {
			return nil, errors.DatabaseError("Failed to scan group member", err)
		}
		out = append(out, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.DatabaseError("Failed to iterate group members", err)
	}
	return out, nil
}

// AddGroupMember adds a user to a notification group
func (r *SubscriptionRepository) AddGroupMember(ctx context.Context, groupID, userID int64) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO user_groups (group_id, user_id) VALUES (?, ?)`, groupID, userID)
	if err != nil {
		return errors.DatabaseError("Failed to add group member", err)
	}
	return nil
}

func (r *SubscriptionRepository) CreateContactPoint(ctx context.Context, cp *subscription.ContactPoint) (int64, error) {
	now := time.Now()
	cp.CreatedAt = now
	cp.UpdatedAt = now

	config, err := encodeJSON(cp.Config)
	if err != nil {
		return 0, errors.DatabaseError("Failed to encode contact point config", err)
	}

	id, err := r.db.InsertID(ctx, `
		INSERT INTO contact_points (user_id, name, type, config, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		cp.UserID, cp.Name, cp.Type, config, cp.Enabled, timeStr(now), timeStr(now))
	if err != nil {
		return 0, errors.DatabaseError("Failed to create contact point", err)
	}
	cp.ID = id
	return id, nil
}
