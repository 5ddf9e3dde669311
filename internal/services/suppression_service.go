package services

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/opsgrid/alarmd/internal/domain/suppression"
	"github.com/opsgrid/alarmd/internal/engine/condition"
	suppengine "github.com/opsgrid/alarmd/internal/engine/suppression"
	apperrors "github.com/opsgrid/alarmd/internal/pkg/errors"
	"github.com/opsgrid/alarmd/internal/pkg/logger"
)

var validate = validator.New()

// SuppressionService manages suppression rules. Writes are validated
// synchronously, including parsing conditional expressions, before they
// reach the store and the engine cache.
type SuppressionService struct {
	repo   suppression.Repository
	engine *suppengine.Engine
	logger *logger.Logger
}

func NewSuppressionService(repo suppression.Repository, engine *suppengine.Engine, log *logger.Logger) *SuppressionService {
	return &SuppressionService{repo: repo, engine: engine, logger: log}
}

// CreateRule validates and stores a rule, then reloads the engine cache
// so the rule takes effect immediately.
func (s *SuppressionService) CreateRule(ctx context.Context, r *suppression.Rule) (int64, error) {
	if r.Status == "" {
		r.Status = suppression.StatusActive
	}
	if r.StartTime.IsZero() {
		r.StartTime = time.Now()
	}
	if r.Priority == 0 {
		r.Priority = 50
	}

	if err := s.validateRule(r); err != nil {
		return 0, err
	}

	id, err := s.repo.Create(ctx, r)
	if err != nil {
		s.logger.ErrorWithErr(err, "Failed to create suppression rule")
		return 0, err
	}
	s.logger.WithFields(map[string]interface{}{
		"rule_id":  id,
		"type":     r.Type,
		"priority": r.Priority,
	}).Info("Suppression rule created")

	s.reload(ctx)
	return id, nil
}

// UpdateStatus changes a rule's lifecycle status and refreshes the cache
func (s *SuppressionService) UpdateStatus(ctx context.Context, id int64, status string) error {
	switch status {
	case suppression.StatusActive, suppression.StatusExpired,
		suppression.StatusCancelled, suppression.StatusPaused:
	default:
		return apperrors.BadRequest(fmt.Sprintf("unknown rule status %q", status))
	}
	if err := s.repo.UpdateStatus(ctx, id, status); err != nil {
		return err
	}
	s.logger.WithFields(map[string]interface{}{
		"rule_id": id,
		"status":  status,
	}).Info("Suppression rule status changed")
	s.reload(ctx)
	return nil
}

// GetByID retrieves a rule
func (s *SuppressionService) GetByID(ctx context.Context, id int64) (*suppression.Rule, error) {
	return s.repo.GetByID(ctx, id)
}

// ValidateAll checks every active rule and returns one error per invalid
// rule. Used by the validate-rules command.
func (s *SuppressionService) ValidateAll(ctx context.Context) []error {
	rules, err := s.repo.ListActive(ctx)
	if err != nil {
		return []error{err}
	}
	var problems []error
	for _, r := range rules {
		if err := s.validateRule(r); err != nil {
			problems = append(problems, fmt.Errorf("rule %d (%s): %w", r.ID, r.Name, err))
		}
	}
	return problems
}

func (s *SuppressionService) validateRule(r *suppression.Rule) error {
	if err := validate.Struct(r); err != nil {
		return apperrors.ValidationError("invalid suppression rule", err.Error())
	}
	if err := r.Validate(); err != nil {
		return apperrors.ValidationError("invalid suppression rule", err.Error())
	}
	if c := r.Conditions.Conditional; c != nil {
		node, err := condition.Parse(c.Raw)
		if err != nil {
			return apperrors.InvalidRule(fmt.Sprintf("%d", r.ID), err)
		}
		c.Node = node
	}
	if r.IsRecurring && r.Recurrence != nil {
		if err := validate.Struct(r.Recurrence); err != nil {
			return apperrors.ValidationError("invalid recurrence pattern", err.Error())
		}
	}
	return nil
}

func (s *SuppressionService) reload(ctx context.Context) {
	if s.engine == nil {
		return
	}
	if err := s.engine.Reload(ctx); err != nil {
		s.logger.ErrorWithErr(err, "Failed to reload suppression cache")
	}
}
