package postgres

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/opsgrid/alarmd/internal/domain/alarm"
	"github.com/opsgrid/alarmd/internal/pkg/errors"
)

type AlarmRepository struct {
	db *DB
}

func NewAlarmRepository(db *DB) alarm.Repository {
	return &AlarmRepository{db: db}
}

const alarmColumns = `id, fingerprint, source, title, description, category, severity, status,
	host, service, environment, tags, count, first_occurrence, last_occurrence,
	created_at, updated_at, resolved_at, acknowledged_at,
	is_duplicate, similarity_score, parent_alarm_id, correlation_id`

func (r *AlarmRepository) Create(ctx context.Context, e *alarm.Event) (int64, error) {
	now := time.Now()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	tags, err := encodeJSON(e.Tags)
	if err != nil {
		return 0, errors.DatabaseError("Failed to encode alarm tags", err)
	}

	query := `
		INSERT INTO alarms (fingerprint, source, title, description, category, severity, status,
			host, service, environment, tags, count, first_occurrence, last_occurrence,
			created_at, updated_at, is_duplicate, similarity_score, parent_alarm_id, correlation_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	id, err := r.db.InsertID(ctx, query,
		e.Fingerprint, e.Source, e.Title, e.Description, e.Category, e.Severity, e.Status,
		e.Host, e.Service, e.Environment, tags, e.Count,
		timeStr(e.FirstOccurrence), timeStr(e.LastOccurrence),
		timeStr(e.CreatedAt), timeStr(e.UpdatedAt),
		e.IsDuplicate, e.SimilarityScore, e.ParentAlarmID, e.CorrelationID,
	)
	if err != nil {
		return 0, errors.DatabaseError("Failed to create alarm", err)
	}
	e.ID = id
	return id, nil
}

func (r *AlarmRepository) GetByID(ctx context.Context, id int64) (*alarm.Event, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+alarmColumns+` FROM alarms WHERE id = ?`, id)
	return scanAlarm(row)
}

func (r *AlarmRepository) GetActiveByFingerprint(ctx context.Context, fingerprint string) (*alarm.Event, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+alarmColumns+` FROM alarms WHERE fingerprint = ? AND status = ?
		 ORDER BY id DESC LIMIT 1`,
		fingerprint, alarm.StatusActive)
	return scanAlarm(row)
}

func (r *AlarmRepository) Update(ctx context.Context, e *alarm.Event) error {
	e.UpdatedAt = time.Now()

	tags, err := encodeJSON(e.Tags)
	if err != nil {
		return errors.DatabaseError("Failed to encode alarm tags", err)
	}

	query := `
		UPDATE alarms SET severity = ?, status = ?, tags = ?, count = ?,
			last_occurrence = ?, updated_at = ?, resolved_at = ?, acknowledged_at = ?,
			is_duplicate = ?, similarity_score = ?, parent_alarm_id = ?, correlation_id = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		e.Severity, e.Status, tags, e.Count,
		timeStr(e.LastOccurrence), timeStr(e.UpdatedAt),
		nullTimeStr(e.ResolvedAt), nullTimeStr(e.AcknowledgedAt),
		e.IsDuplicate, e.SimilarityScore, e.ParentAlarmID, e.CorrelationID,
		e.ID,
	)
	if err != nil {
		return errors.DatabaseError("Failed to update alarm", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.DatabaseError("Failed to get affected rows", err)
	}
	if rows == 0 {
		return errors.NotFound("Alarm")
	}
	return nil
}

func (r *AlarmRepository) UpdateStatus(ctx context.Context, id int64, status string, at time.Time) error {
	query := `UPDATE alarms SET status = ?, updated_at = ?`
	args := []interface{}{status, timeStr(at)}
	switch status {
	case alarm.StatusResolved:
		query += `, resolved_at = ?`
		args = append(args, timeStr(at))
	case alarm.StatusAcknowledged:
		query += `, acknowledged_at = ?`
		args = append(args, timeStr(at))
	}
	query += ` WHERE id = ?`
	args = append(args, id)

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.DatabaseError("Failed to update alarm status", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.DatabaseError("Failed to get affected rows", err)
	}
	if rows == 0 {
		return errors.NotFound("Alarm")
	}
	return nil
}

func (r *AlarmRepository) List(ctx context.Context, filter alarm.Filter, limit int) ([]*alarm.Event, error) {
	where := []string{"1=1"}
	args := []interface{}{}

	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Severity != "" {
		where = append(where, "severity = ?")
		args = append(args, filter.Severity)
	}
	if filter.Host != "" {
		where = append(where, "host = ?")
		args = append(args, filter.Host)
	}
	if filter.Service != "" {
		where = append(where, "service = ?")
		args = append(args, filter.Service)
	}
	if filter.Fingerprint != "" {
		where = append(where, "fingerprint = ?")
		args = append(args, filter.Fingerprint)
	}
	if filter.NonDuplicate {
		where = append(where, "is_duplicate = ?")
		args = append(args, false)
	}
	if filter.Since != nil {
		where = append(where, "last_occurrence >= ?")
		args = append(args, timeStr(*filter.Since))
	}

	query := `SELECT ` + alarmColumns + ` FROM alarms WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	return r.queryAlarms(ctx, query, args...)
}

func (r *AlarmRepository) ListActiveSince(ctx context.Context, since time.Time, limit int) ([]*alarm.Event, error) {
	query := `SELECT ` + alarmColumns + ` FROM alarms
		WHERE status = ? AND is_duplicate = ? AND last_occurrence >= ?
		ORDER BY created_at DESC`
	args := []interface{}{alarm.StatusActive, false, timeStr(since)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return r.queryAlarms(ctx, query, args...)
}

func (r *AlarmRepository) ListStaleActive(ctx context.Context, before time.Time, severities []string) ([]*alarm.Event, error) {
	if len(severities) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(severities)), ", ")
	query := `SELECT ` + alarmColumns + ` FROM alarms
		WHERE status = ? AND last_occurrence < ? AND severity IN (` + placeholders + `)`
	args := []interface{}{alarm.StatusActive, timeStr(before)}
	for _, s := range severities {
		args = append(args, s)
	}
	return r.queryAlarms(ctx, query, args...)
}

func (r *AlarmRepository) queryAlarms(ctx context.Context, query string, args ...interface{}) ([]*alarm.Event, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.DatabaseError("Failed to list alarms", err)
	}
	defer rows.Close()

	var out []*alarm.Event
	for rows.Next() {
		e, err := scanAlarm(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.DatabaseError("Failed to iterate alarms", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAlarm(row rowScanner) (*alarm.Event, error) {
	var e alarm.Event
	var tags string
	var firstOcc, lastOcc, createdAt, updatedAt string
	var resolvedAt, acknowledgedAt, correlationID sql.NullString
	var parentID sql.NullInt64

	err := row.Scan(
		&e.ID, &e.Fingerprint, &e.Source, &e.Title, &e.Description, &e.Category,
		&e.Severity, &e.Status, &e.Host, &e.Service, &e.Environment, &tags, &e.Count,
		&firstOcc, &lastOcc, &createdAt, &updatedAt, &resolvedAt, &acknowledgedAt,
		&e.IsDuplicate, &e.SimilarityScore, &parentID, &correlationID,
	)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("Alarm")
	}
	if err != nil {
		return nil, errors.DatabaseError("Failed to scan alarm", err)
	}

	if err := decodeJSON(tags, &e.Tags); err != nil {
		return nil, errors.DatabaseError("Failed to decode alarm tags", err)
	}
	e.FirstOccurrence = parseTime(firstOcc)
	e.LastOccurrence = parseTime(lastOcc)
	e.CreatedAt = parseTime(createdAt)
	e.UpdatedAt = parseTime(updatedAt)
	e.ResolvedAt = parseNullTime(resolvedAt)
	e.AcknowledgedAt = parseNullTime(acknowledgedAt)
	if parentID.Valid {
		e.ParentAlarmID = &parentID.Int64
	}
	if correlationID.Valid {
		e.CorrelationID = correlationID.String
	}
	return &e, nil
}
