package services

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/opsgrid/alarmd/internal/domain/alarm"
	apperrors "github.com/opsgrid/alarmd/internal/pkg/errors"
	"github.com/opsgrid/alarmd/internal/pkg/keymutex"
	"github.com/opsgrid/alarmd/internal/pkg/logger"
)

// AlarmService handles alarm ingestion with fingerprint-based upsert
type AlarmService struct {
	repo   alarm.Repository
	locks  *keymutex.KeyMutex
	logger *logger.Logger
}

// NewAlarmService creates a new alarm service. The key mutex must be the
// same instance the dispatch pipeline and correlation analyzer use.
func NewAlarmService(repo alarm.Repository, locks *keymutex.KeyMutex, log *logger.Logger) *AlarmService {
	return &AlarmService{repo: repo, locks: locks, logger: log}
}

// Ingest records an incoming alarm. An active alarm with the same
// fingerprint absorbs the occurrence: its count and last_occurrence are
// bumped instead of creating a new row. Returns the alarm ID and whether
// a new alarm was created.
func (s *AlarmService) Ingest(ctx context.Context, e *alarm.Event) (int64, bool, error) {
	if e.Title == "" {
		return 0, false, apperrors.BadRequest("alarm title is required")
	}
	if e.Severity == "" {
		e.Severity = alarm.SeverityMedium
	}
	if !alarm.ValidSeverity(e.Severity) {
		return 0, false, apperrors.BadRequest(fmt.Sprintf("unknown severity %q", e.Severity))
	}
	if e.Fingerprint == "" {
		e.Fingerprint = Fingerprint(e)
	}

	s.locks.Lock(e.Fingerprint)
	defer s.locks.Unlock(e.Fingerprint)

	now := time.Now()
	existing, err := s.repo.GetActiveByFingerprint(ctx, e.Fingerprint)
	if err == nil {
		existing.Count++
		existing.LastOccurrence = now
		if err := s.repo.Update(ctx, existing); err != nil {
			s.logger.ErrorWithErr(err, "Failed to bump recurring alarm")
			return 0, false, err
		}
		s.logger.WithFields(map[string]interface{}{
			"alarm_id":    existing.ID,
			"fingerprint": existing.Fingerprint,
			"count":       existing.Count,
		}).Debug("Recurring alarm absorbed")
		return existing.ID, false, nil
	}

	e.Status = alarm.StatusActive
	e.Count = 1
	e.FirstOccurrence = now
	e.LastOccurrence = now
	e.CreatedAt = now

	id, err := s.repo.Create(ctx, e)
	if err != nil {
		s.logger.ErrorWithErr(err, "Failed to create alarm")
		return 0, false, err
	}
	s.logger.WithFields(map[string]interface{}{
		"alarm_id": id,
		"severity": e.Severity,
		"host":     e.Host,
		"service":  e.Service,
	}).Info("Alarm created")
	return id, true, nil
}

// GetByID retrieves an alarm by ID
func (s *AlarmService) GetByID(ctx context.Context, id int64) (*alarm.Event, error) {
	return s.repo.GetByID(ctx, id)
}

// List retrieves alarms matching the filter
func (s *AlarmService) List(ctx context.Context, filter alarm.Filter, limit int) ([]*alarm.Event, error) {
	return s.repo.List(ctx, filter, limit)
}

// Acknowledge marks an active alarm acknowledged
func (s *AlarmService) Acknowledge(ctx context.Context, id int64) error {
	return s.repo.UpdateStatus(ctx, id, alarm.StatusAcknowledged, time.Now())
}

// Resolve marks an alarm resolved
func (s *AlarmService) Resolve(ctx context.Context, id int64) error {
	return s.repo.UpdateStatus(ctx, id, alarm.StatusResolved, time.Now())
}

// Fingerprint derives the identity key that makes repeated occurrences of
// the same condition collapse into one alarm.
func Fingerprint(e *alarm.Event) string {
	h := fnv.New64a()
	for _, part := range []string{e.Source, e.Host, e.Service, strings.ToLower(e.Title)} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%016x", h.Sum64())
}
