package match

import (
	"context"
	"sync"
	"time"

	"github.com/opsgrid/alarmd/internal/domain/alarm"
	"github.com/opsgrid/alarmd/internal/domain/notification"
	"github.com/opsgrid/alarmd/internal/domain/rule"
	"github.com/opsgrid/alarmd/internal/domain/subscription"
	"github.com/opsgrid/alarmd/internal/engine/condition"
	"github.com/opsgrid/alarmd/internal/pkg/logger"
)

// Matcher evaluates distribution rules and subscriptions against alarms.
// It owns the in-process cooldown and rate-limit state; the notification
// store is only consulted for cooldowns that predate this process.
type Matcher struct {
	rules rule.Repository
	subs  subscription.Repository
	tasks notification.Repository
	log   *logger.Logger

	mu       sync.Mutex
	trackers map[int64]*subTracker
}

// subTracker holds per-subscription delivery state. Locked independently
// so concurrent workers matching different subscriptions never contend.
type subTracker struct {
	mu sync.Mutex
	// sent is the trailing-hour list of reserved notification times
	sent []time.Time
	// lastByAlarm is the last reservation time per alarm, for cooldown
	lastByAlarm map[int64]time.Time
}

func NewMatcher(rules rule.Repository, subs subscription.Repository, tasks notification.Repository, log *logger.Logger) *Matcher {
	return &Matcher{
		rules:    rules,
		subs:     subs,
		tasks:    tasks,
		log:      log,
		trackers: make(map[int64]*subTracker),
	}
}

// MatchSubscriptions returns the enabled subscriptions whose filters match
// the alarm and which pass their cooldown and hourly rate limit at now.
// A returned subscription has its limits reserved: the caller is expected
// to create its notification tasks.
func (m *Matcher) MatchSubscriptions(ctx context.Context, e *alarm.Event, now time.Time) ([]*subscription.Subscription, error) {
	subs, err := m.subs.ListEnabled(ctx)
	if err != nil {
		return nil, err
	}

	fields := e.FieldMap()
	var matched []*subscription.Subscription
	for _, s := range subs {
		if !condition.Evaluate(s.Filters, fields) {
			continue
		}
		if !m.reserve(ctx, s, e.ID, now) {
			continue
		}
		matched = append(matched, s)
	}
	return matched, nil
}

// reserve checks cooldown and rate limit for one subscription and, when
// both pass, records the pending notification against its limits.
func (m *Matcher) reserve(ctx context.Context, s *subscription.Subscription, alarmID int64, now time.Time) bool {
	t := m.tracker(s.ID)
	t.mu.Lock()
	defer t.mu.Unlock()

	if s.CooldownMinutes > 0 {
		cooldown := time.Duration(s.CooldownMinutes) * time.Minute
		if last, ok := t.lastByAlarm[alarmID]; ok {
			if now.Sub(last) < cooldown {
				m.log.WithFields(map[string]interface{}{
					"subscription_id": s.ID,
					"alarm_id":        alarmID,
				}).Debug("Subscription in cooldown for alarm")
				return false
			}
		} else if m.sentRecently(ctx, s.ID, alarmID, now.Add(-cooldown)) {
			// No in-process record; a prior process may have notified.
			t.lastByAlarm[alarmID] = now.Add(-time.Nanosecond)
			return false
		}
	}

	if s.MaxNotificationsPerHour > 0 {
		t.prune(now)
		if len(t.sent) >= s.MaxNotificationsPerHour {
			m.log.With("subscription_id", s.ID).Debug("Subscription hourly rate limit reached")
			return false
		}
	}

	t.sent = append(t.sent, now)
	t.lastByAlarm[alarmID] = now
	return true
}

// sentRecently asks the notification store whether this subscription was
// already notified for this alarm since the cutoff. Store errors fail
// open: a lookup fault must not silence notifications.
func (m *Matcher) sentRecently(ctx context.Context, subID, alarmID int64, since time.Time) bool {
	n, err := m.tasks.CountSentSince(ctx, subID, alarmID, since)
	if err != nil {
		m.log.With("subscription_id", subID).ErrorWithErr(err, "Cooldown lookup failed")
		return false
	}
	return n > 0
}

func (m *Matcher) tracker(subID int64) *subTracker {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trackers[subID]
	if !ok {
		t = &subTracker{lastByAlarm: make(map[int64]time.Time)}
		m.trackers[subID] = t
	}
	return t
}

// prune drops reservation times older than one hour. Caller holds t.mu.
func (t *subTracker) prune(now time.Time) {
	cutoff := now.Add(-time.Hour)
	kept := t.sent[:0]
	for _, at := range t.sent {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	t.sent = kept
}
