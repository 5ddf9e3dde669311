package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/opsgrid/alarmd/internal/domain/suppression"
	"github.com/opsgrid/alarmd/internal/pkg/errors"
)

type SuppressionRepository struct {
	db *DB
}

func NewSuppressionRepository(db *DB) suppression.Repository {
	return &SuppressionRepository{db: db}
}

const suppressionColumns = `id, name, type, conditions, status, start_time, end_time,
	is_recurring, recurrence, priority, action_config, suppressed_count, last_match,
	created_at, updated_at`

func (r *SuppressionRepository) Create(ctx context.Context, rule *suppression.Rule) (int64, error) {
	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	conditions, err := encodeJSON(rule.Conditions)
	if err != nil {
		return 0, errors.DatabaseError("Failed to encode rule conditions", err)
	}
	recurrence, err := encodeJSON(rule.Recurrence)
	if err != nil {
		return 0, errors.DatabaseError("Failed to encode rule recurrence", err)
	}
	action, err := encodeJSON(rule.ActionConfig)
	if err != nil {
		return 0, errors.DatabaseError("Failed to encode rule action", err)
	}

	query := `
		INSERT INTO suppression_rules (name, type, conditions, status, start_time, end_time,
			is_recurring, recurrence, priority, action_config, suppressed_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
	`
	id, err := r.db.InsertID(ctx, query,
		rule.Name, rule.Type, conditions, rule.Status,
		timeStr(rule.StartTime), nullTimeStr(rule.EndTime),
		rule.IsRecurring, recurrence, rule.Priority, action,
		timeStr(now), timeStr(now),
	)
	if err != nil {
		return 0, errors.DatabaseError("Failed to create suppression rule", err)
	}
	rule.ID = id
	return id, nil
}

func (r *SuppressionRepository) GetByID(ctx context.Context, id int64) (*suppression.Rule, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+suppressionColumns+` FROM suppression_rules WHERE id = ?`, id)
	return scanSuppressionRule(row)
}

func (r *SuppressionRepository) ListActive(ctx context.Context) ([]*suppression.Rule, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+suppressionColumns+` FROM suppression_rules
		 WHERE status = ? ORDER BY priority ASC, id ASC`,
		suppression.StatusActive)
	if err != nil {
		return nil, errors.DatabaseError("Failed to list suppression rules", err)
	}
	defer rows.Close()

	var out []*suppression.Rule
	for rows.Next() {
		rule, err := scanSuppressionRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.DatabaseError("Failed to iterate suppression rules", err)
	}
	return out, nil
}

func (r *SuppressionRepository) UpdateStatus(ctx context.Context, id int64, status string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE suppression_rules SET status = ?, updated_at = ? WHERE id = ?`,
		status, timeStr(time.Now()), id)
	if err != nil {
		return errors.DatabaseError("Failed to update rule status", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.DatabaseError("Failed to get affected rows", err)
	}
	if rows == 0 {
		return errors.NotFound("Suppression rule")
	}
	return nil
}

func (r *SuppressionRepository) RecordMatch(ctx context.Context, id int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE suppression_rules SET suppressed_count = suppressed_count + 1, last_match = ?
		 WHERE id = ?`,
		timeStr(at), id)
	if err != nil {
		return errors.DatabaseError("Failed to record rule match", err)
	}
	return nil
}

func (r *SuppressionRepository) CreateLog(ctx context.Context, l *suppression.Log) error {
	matched, err := encodeJSON(l.MatchedFields)
	if err != nil {
		return errors.DatabaseError("Failed to encode matched fields", err)
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}
	if l.ID == "" {
		l.ID = uuid.NewString()
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO suppression_logs (id, rule_id, alarm_id, matched_fields, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		l.ID, l.RuleID, l.AlarmID, matched, timeStr(l.CreatedAt))
	if err != nil {
		return errors.DatabaseError("Failed to create suppression log", err)
	}
	return nil
}

func scanSuppressionRule(row rowScanner) (*suppression.Rule, error) {
	var rule suppression.Rule
	var conditions, recurrence, action string
	var startTime, createdAt, updatedAt string
	var endTime, lastMatch sql.NullString

	err := row.Scan(
		&rule.ID, &rule.Name, &rule.Type, &conditions, &rule.Status,
		&startTime, &endTime, &rule.IsRecurring, &recurrence, &rule.Priority,
		&action, &rule.SuppressedCount, &lastMatch, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("Suppression rule")
	}
	if err != nil {
		return nil, errors.DatabaseError("Failed to scan suppression rule", err)
	}

	if err := decodeJSON(conditions, &rule.Conditions); err != nil {
		return nil, errors.DatabaseError("Failed to decode rule conditions", err)
	}
	if err := decodeJSON(recurrence, &rule.Recurrence); err != nil {
		return nil, errors.DatabaseError("Failed to decode rule recurrence", err)
	}
	if err := decodeJSON(action, &rule.ActionConfig); err != nil {
		return nil, errors.DatabaseError("Failed to decode rule action", err)
	}
	rule.StartTime = parseTime(startTime)
	rule.EndTime = parseNullTime(endTime)
	rule.LastMatch = parseNullTime(lastMatch)
	rule.CreatedAt = parseTime(createdAt)
	rule.UpdatedAt = parseTime(updatedAt)
	return &rule, nil
}

type WindowRepository struct {
	db *DB
}

func NewWindowRepository(db *DB) suppression.WindowRepository {
	return &WindowRepository{db: db}
}

func (r *WindowRepository) Create(ctx context.Context, w *suppression.MaintenanceWindow) (int64, error) {
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now()
	}

	recurrence, err := encodeJSON(w.Recurrence)
	if err != nil {
		return 0, errors.DatabaseError("Failed to encode window recurrence", err)
	}
	systems, err := encodeJSON(w.AffectedSystems)
	if err != nil {
		return 0, errors.DatabaseError("Failed to encode window systems", err)
	}
	services, err := encodeJSON(w.AffectedServices)
	if err != nil {
		return 0, errors.DatabaseError("Failed to encode window services", err)
	}
	hosts, err := encodeJSON(w.AffectedHosts)
	if err != nil {
		return 0, errors.DatabaseError("Failed to encode window hosts", err)
	}
	severities, err := encodeJSON(w.SeverityFilter)
	if err != nil {
		return 0, errors.DatabaseError("Failed to encode window severities", err)
	}

	query := `
		INSERT INTO maintenance_windows (name, start_time, end_time, is_recurring, recurrence,
			affected_systems, affected_services, affected_hosts, suppress_all, severity_filter,
			notify_before_minutes, rule_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	id, err := r.db.InsertID(ctx, query,
		w.Name, timeStr(w.StartTime), timeStr(w.EndTime), w.IsRecurring, recurrence,
		systems, services, hosts, w.SuppressAll, severities,
		w.NotifyBeforeMinutes, w.RuleID, timeStr(w.CreatedAt),
	)
	if err != nil {
		return 0, errors.DatabaseError("Failed to create maintenance window", err)
	}
	w.ID = id
	return id, nil
}

func (r *WindowRepository) ListUpcoming(ctx context.Context, within time.Duration) ([]*suppression.MaintenanceWindow, error) {
	now := time.Now()
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, start_time, end_time, is_recurring, recurrence,
			affected_systems, affected_services, affected_hosts, suppress_all, severity_filter,
			notify_before_minutes, rule_id, created_at
		FROM maintenance_windows
		WHERE start_time > ? AND start_time <= ?
		ORDER BY start_time ASC`,
		timeStr(now), timeStr(now.Add(within)))
	if err != nil {
		return nil, errors.DatabaseError("Failed to list maintenance windows", err)
	}
	defer rows.Close()

	var out []*suppression.MaintenanceWindow
	for rows.Next() {
		var w suppression.MaintenanceWindow
		var startTime, endTime, createdAt string
		var recurrence, systems, services, hosts, severities string

		err := rows.Scan(
			&w.ID, &w.Name, &startTime, &endTime, &w.IsRecurring, &recurrence,
			&systems, &services, &hosts, &w.SuppressAll, &severities,
			&w.NotifyBeforeMinutes, &w.RuleID, &createdAt,
		)
		if err != nil {
			return nil, errors.DatabaseError("Failed to scan maintenance window", err)
		}
		if err := decodeJSON(recurrence, &w.Recurrence); err != nil {
			return nil, errors.DatabaseError("Failed to decode window recurrence", err)
		}
		if err := decodeJSON(systems, &w.AffectedSystems); err != nil {
			return nil, errors.DatabaseError("Failed to decode window systems", err)
		}
		if err := decodeJSON(services, &w.AffectedServices); err != nil {
			return nil, errors.DatabaseError("Failed to decode window services", err)
		}
		if err := decodeJSON(hosts, &w.AffectedHosts); err != nil {
			return nil, errors.DatabaseError("Failed to decode window hosts", err)
		}
		if err := decodeJSON(severities, &w.SeverityFilter); err != nil {
			return nil, errors.DatabaseError("Failed to decode window severities", err)
		}
		w.StartTime = parseTime(startTime)
		w.EndTime = parseTime(endTime)
		w.CreatedAt = parseTime(createdAt)
		out = append(out, &w)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.DatabaseError("Failed to iterate maintenance windows", err)
	}
	return out, nil
}
