package suppression

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/opsgrid/alarmd/internal/domain/alarm"
	"github.com/opsgrid/alarmd/internal/domain/suppression"
	"github.com/opsgrid/alarmd/internal/engine/condition"
	"github.com/opsgrid/alarmd/internal/pkg/logger"
	"github.com/opsgrid/alarmd/internal/pkg/metrics"
)

// Decision is the outcome of a suppression check
type Decision struct {
	Suppressed     bool
	MatchedRuleIDs []int64
	Reason         string
	Action         suppression.Action
}

// Engine holds the in-memory cache of active suppression rules and decides
// whether an incoming alarm is currently suppressed. The cache is owned by
// the engine, guarded by a mutex and refreshed on demand via Reload or on
// its own timer; match bookkeeping is written asynchronously so a slow
// store never delays the decision.
type Engine struct {
	repo   suppression.Repository
	logger *logger.Logger

	mu    sync.RWMutex
	rules []*suppression.Rule

	writes  chan matchRecord
	writeWG sync.WaitGroup
}

type matchRecord struct {
	log    *suppression.Log
	ruleID int64
	at     time.Time
}

// NewEngine creates a suppression engine. Call Reload before the first
// Check, and Start to launch the background writer and refresh loop.
func NewEngine(repo suppression.Repository, logQueueSize int, log *logger.Logger) *Engine {
	if logQueueSize < 1 {
		logQueueSize = 64
	}
	return &Engine{
		repo:   repo,
		logger: log,
		writes: make(chan matchRecord, logQueueSize),
	}
}

// Reload replaces the rule cache from the store. Rules whose conditional
// expression fails to parse are dropped from the cache (fail closed) and
// logged with enough context to diagnose.
func (s *Engine) Reload(ctx context.Context) error {
	rules, err := s.repo.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("loading suppression rules: %w", err)
	}

	loaded := make([]*suppression.Rule, 0, len(rules))
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			s.logger.WithFields(map[string]interface{}{
				"rule_id": r.ID,
				"rule":    r.Name,
			}).ErrorWithErr(err, "Dropping invalid suppression rule from cache")
			continue
		}
		if c := r.Conditions.Conditional; c != nil && c.Node == nil {
			node, err := condition.Parse(c.Raw)
			if err != nil {
				s.logger.WithFields(map[string]interface{}{
					"rule_id": r.ID,
					"rule":    r.Name,
				}).ErrorWithErr(err, "Dropping suppression rule with malformed condition")
				continue
			}
			c.Node = node
		}
		loaded = append(loaded, r)
	}

	sort.Slice(loaded, func(i, j int) bool { return loaded[i].Priority < loaded[j].Priority })

	s.mu.Lock()
	s.rules = loaded
	s.mu.Unlock()

	s.logger.With("rules", len(loaded)).Debug("Suppression rule cache reloaded")
	return nil
}

// Start launches the async match writer and the periodic cache refresh.
// It returns after launching; the goroutines stop when ctx is cancelled.
func (s *Engine) Start(ctx context.Context, refreshInterval time.Duration) {
	s.writeWG.Add(1)
	go s.writeLoop()

	go func() {
		ticker := time.NewTicker(refreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := s.Reload(ctx); err != nil {
					s.logger.ErrorWithErr(err, "Suppression cache refresh failed")
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop drains the async writer. Call after the context passed to Start is
// cancelled and no further Check calls will be made.
func (s *Engine) Stop() {
	close(s.writes)
	s.writeWG.Wait()
}

// Check evaluates the alarm against the cached rules in ascending priority
// order. The first matching rule at or below the short-circuit priority
// ends evaluation; otherwise all matching rules are collected. Matches are
// recorded fire-and-forget.
func (s *Engine) Check(e *alarm.Event, now time.Time) Decision {
	s.mu.RLock()
	rules := s.rules
	s.mu.RUnlock()

	fields := e.FieldMap()
	var decision Decision

	for _, r := range rules {
		if !timeGateOpen(r, now) {
			continue
		}
		if !ruleMatches(r, e, fields) {
			continue
		}

		if !decision.Suppressed {
			decision.Suppressed = true
			decision.Reason = fmt.Sprintf("suppressed by %s rule %q", r.Type, r.Name)
			if r.ActionConfig.Reason != "" {
				decision.Reason = r.ActionConfig.Reason
			}
			decision.Action = r.ActionConfig
		}
		decision.MatchedRuleIDs = append(decision.MatchedRuleIDs, r.ID)

		s.recordMatch(r, e, now)
		metrics.RecordSuppression(r.Type)

		if r.Priority <= suppression.ShortCircuitPriority {
			break
		}
	}

	return decision
}

// recordMatch queues the suppression log and counter update without
// blocking the decision path. A full queue drops the record with a
// warning; counters are eventually consistent by design.
func (s *Engine) recordMatch(r *suppression.Rule, e *alarm.Event, now time.Time) {
	rec := matchRecord{
		log: &suppression.Log{
			RuleID:  r.ID,
			AlarmID: e.ID,
			MatchedFields: map[string]interface{}{
				"host":     e.Host,
				"service":  e.Service,
				"severity": e.Severity,
				"title":    e.Title,
			},
			CreatedAt: now,
		},
		ruleID: r.ID,
		at:     now,
	}

	select {
	case s.writes <- rec:
	default:
		s.logger.WithFields(map[string]interface{}{
			"rule_id":  r.ID,
			"alarm_id": e.ID,
		}).Warn("Suppression log queue full, dropping record")
	}
}

func (s *Engine) writeLoop() {
	defer s.writeWG.Done()

	for rec := range s.writes {
		// Independent timeout: the pipeline context may already be
		// cancelled while queued records drain.
		wctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.repo.CreateLog(wctx, rec.log); err != nil {
			s.logger.With("rule_id", rec.ruleID).ErrorWithErr(err, "Failed to write suppression log")
		}
		if err := s.repo.RecordMatch(wctx, rec.ruleID, rec.at); err != nil {
			s.logger.With("rule_id", rec.ruleID).ErrorWithErr(err, "Failed to update suppression stats")
		}
		cancel()
	}
}
