package services

import (
	"context"
	"time"

	"github.com/opsgrid/alarmd/internal/domain/suppression"
	apperrors "github.com/opsgrid/alarmd/internal/pkg/errors"
	"github.com/opsgrid/alarmd/internal/pkg/logger"
)

// MaintenanceService turns maintenance window declarations into
// suppression rules. Each window owns exactly one maintenance rule at the
// highest priority.
type MaintenanceService struct {
	windows     suppression.WindowRepository
	suppression *SuppressionService
	logger      *logger.Logger
}

func NewMaintenanceService(windows suppression.WindowRepository, supp *SuppressionService, log *logger.Logger) *MaintenanceService {
	return &MaintenanceService{windows: windows, suppression: supp, logger: log}
}

// CreateWindow validates the window, synthesizes its maintenance rule and
// stores both.
func (s *MaintenanceService) CreateWindow(ctx context.Context, w *suppression.MaintenanceWindow) (int64, error) {
	if err := validate.Struct(w); err != nil {
		return 0, apperrors.ValidationError("invalid maintenance window", err.Error())
	}
	if !w.EndTime.After(w.StartTime) {
		return 0, apperrors.BadRequest("maintenance window end must be after start")
	}
	if !w.SuppressAll && len(w.AffectedSystems) == 0 &&
		len(w.AffectedServices) == 0 && len(w.AffectedHosts) == 0 {
		return 0, apperrors.BadRequest("maintenance window needs a scope or suppress_all")
	}

	ruleID, err := s.suppression.CreateRule(ctx, s.synthesizeRule(w))
	if err != nil {
		return 0, err
	}
	w.RuleID = ruleID
	w.CreatedAt = time.Now()

	id, err := s.windows.Create(ctx, w)
	if err != nil {
		s.logger.ErrorWithErr(err, "Failed to store maintenance window")
		// the synthesized rule must not outlive the failed window
		if cerr := s.suppression.UpdateStatus(ctx, ruleID, suppression.StatusCancelled); cerr != nil {
			s.logger.With("rule_id", ruleID).ErrorWithErr(cerr, "Failed to cancel orphaned rule")
		}
		return 0, err
	}

	s.logger.WithFields(map[string]interface{}{
		"window_id": id,
		"rule_id":   ruleID,
		"start":     w.StartTime,
		"end":       w.EndTime,
	}).Info("Maintenance window created")
	return id, nil
}

// UpcomingWindows lists windows starting within the given duration, for
// pre-window operator notice.
func (s *MaintenanceService) UpcomingWindows(ctx context.Context, within time.Duration) ([]*suppression.MaintenanceWindow, error) {
	return s.windows.ListUpcoming(ctx, within)
}

// AnnounceUpcoming logs windows about to start. Wired to a periodic job.
func (s *MaintenanceService) AnnounceUpcoming(ctx context.Context, within time.Duration) {
	windows, err := s.UpcomingWindows(ctx, within)
	if err != nil {
		s.logger.ErrorWithErr(err, "Failed to list upcoming maintenance windows")
		return
	}
	for _, w := range windows {
		s.logger.WithFields(map[string]interface{}{
			"window_id": w.ID,
			"name":      w.Name,
			"start":     w.StartTime,
		}).Info("Maintenance window starting soon")
	}
}

func (s *MaintenanceService) synthesizeRule(w *suppression.MaintenanceWindow) *suppression.Rule {
	end := w.EndTime
	return &suppression.Rule{
		Name:   "maintenance: " + w.Name,
		Type:   suppression.TypeMaintenance,
		Status: suppression.StatusActive,
		Conditions: suppression.Conditions{Maintenance: &suppression.MaintenanceConditions{
			Systems:        w.AffectedSystems,
			Services:       w.AffectedServices,
			Hosts:          w.AffectedHosts,
			SuppressAll:    w.SuppressAll,
			SeverityFilter: w.SeverityFilter,
		}},
		StartTime:   w.StartTime,
		EndTime:     &end,
		IsRecurring: w.IsRecurring,
		Recurrence:  w.Recurrence,
		Priority:    suppression.MaintenancePriority,
		ActionConfig: suppression.Action{
			Reason: "maintenance window: " + w.Name,
		},
	}
}
