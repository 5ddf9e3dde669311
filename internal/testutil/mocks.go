package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/opsgrid/alarmd/internal/domain/alarm"
	"github.com/opsgrid/alarmd/internal/domain/notification"
	"github.com/opsgrid/alarmd/internal/domain/rule"
	"github.com/opsgrid/alarmd/internal/domain/subscription"
	"github.com/opsgrid/alarmd/internal/domain/suppression"
	apperrors "github.com/opsgrid/alarmd/internal/pkg/errors"
)

// MockAlarmRepository is an in-memory implementation of alarm.Repository
type MockAlarmRepository struct {
	mu     sync.Mutex
	Alarms map[int64]*alarm.Event
	NextID int64

	ListError   error
	UpdateError error
}

func NewMockAlarmRepository() *MockAlarmRepository {
	return &MockAlarmRepository{
		Alarms: make(map[int64]*alarm.Event),
		NextID: 1,
	}
}

func (m *MockAlarmRepository) Create(ctx context.Context, e *alarm.Event) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = m.NextID
	m.NextID++
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	cp := *e
	m.Alarms[e.ID] = &cp
	return e.ID, nil
}

func (m *MockAlarmRepository) GetByID(ctx context.Context, id int64) (*alarm.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.Alarms[id]
	if !ok {
		return nil, apperrors.NotFound("alarm")
	}
	cp := *e
	return &cp, nil
}

func (m *MockAlarmRepository) GetActiveByFingerprint(ctx context.Context, fingerprint string) (*alarm.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.Alarms {
		if e.Fingerprint == fingerprint && e.Status == alarm.StatusActive {
			cp := *e
			return &cp, nil
		}
	}
	return nil, apperrors.NotFound("alarm")
}

func (m *MockAlarmRepository) Update(ctx context.Context, e *alarm.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpdateError != nil {
		return m.UpdateError
	}
	if _, ok := m.Alarms[e.ID]; !ok {
		return apperrors.NotFound("alarm")
	}
	cp := *e
	cp.UpdatedAt = time.Now()
	m.Alarms[e.ID] = &cp
	return nil
}

func (m *MockAlarmRepository) UpdateStatus(ctx context.Context, id int64, status string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.Alarms[id]
	if !ok {
		return apperrors.NotFound("alarm")
	}
	e.Status = status
	e.UpdatedAt = at
	if status == alarm.StatusResolved {
		e.ResolvedAt = &at
	}
	return nil
}

func (m *MockAlarmRepository) List(ctx context.Context, filter alarm.Filter, limit int) ([]*alarm.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*alarm.Event
	for _, e := range m.Alarms {
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		if filter.Severity != "" && e.Severity != filter.Severity {
			continue
		}
		if filter.Host != "" && e.Host != filter.Host {
			continue
		}
		if filter.Service != "" && e.Service != filter.Service {
			continue
		}
		if filter.Fingerprint != "" && e.Fingerprint != filter.Fingerprint {
			continue
		}
		if filter.Since != nil && e.LastOccurrence.Before(*filter.Since) {
			continue
		}
		if filter.NonDuplicate && e.IsDuplicate {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sortByCreatedDesc(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockAlarmRepository) ListActiveSince(ctx context.Context, since time.Time, limit int) ([]*alarm.Event, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*alarm.Event
	for _, e := range m.Alarms {
		if e.Status != alarm.StatusActive || e.IsDuplicate {
			continue
		}
		if e.LastOccurrence.Before(since) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sortByCreatedDesc(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockAlarmRepository) ListStaleActive(ctx context.Context, before time.Time, severities []string) ([]*alarm.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sevSet := make(map[string]bool, len(severities))
	for _, s := range severities {
		sevSet[s] = true
	}
	var out []*alarm.Event
	for _, e := range m.Alarms {
		if e.Status != alarm.StatusActive || !sevSet[e.Severity] {
			continue
		}
		if !e.LastOccurrence.Before(before) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func sortByCreatedDesc(events []*alarm.Event) {
	sort.Slice(events, func(i, j int) bool {
		return events[i].CreatedAt.After(events[j].CreatedAt)
	})
}

// MockSuppressionRepository is an in-memory implementation of
// suppression.Repository
type MockSuppressionRepository struct {
	mu     sync.Mutex
	Rules  map[int64]*suppression.Rule
	Logs   []*suppression.Log
	NextID int64
}

func NewMockSuppressionRepository() *MockSuppressionRepository {
	return &MockSuppressionRepository{
		Rules:  make(map[int64]*suppression.Rule),
		NextID: 1,
	}
}

func (m *MockSuppressionRepository) Create(ctx context.Context, r *suppression.Rule) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = m.NextID
	m.NextID++
	cp := *r
	m.Rules[r.ID] = &cp
	return r.ID, nil
}

func (m *MockSuppressionRepository) GetByID(ctx context.Context, id int64) (*suppression.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.Rules[id]
	if !ok {
		return nil, apperrors.NotFound("suppression rule")
	}
	cp := *r
	return &cp, nil
}

func (m *MockSuppressionRepository) ListActive(ctx context.Context) ([]*suppression.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*suppression.Rule
	for _, r := range m.Rules {
		if r.Status == suppression.StatusActive {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out, nil
}

func (m *MockSuppressionRepository) UpdateStatus(ctx context.Context, id int64, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.Rules[id]
	if !ok {
		return apperrors.NotFound("suppression rule")
	}
	r.Status = status
	return nil
}

func (m *MockSuppressionRepository) RecordMatch(ctx context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.Rules[id]
	if !ok {
		return apperrors.NotFound("suppression rule")
	}
	r.SuppressedCount++
	r.LastMatch = &at
	return nil
}

func (m *MockSuppressionRepository) CreateLog(ctx context.Context, l *suppression.Log) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Logs = append(m.Logs, l)
	return nil
}

// LogCount returns the number of recorded suppression logs
func (m *MockSuppressionRepository) LogCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Logs)
}

// MockWindowRepository is an in-memory implementation of
// suppression.WindowRepository
type MockWindowRepository struct {
	mu      sync.Mutex
	Windows map[int64]*suppression.MaintenanceWindow
	NextID  int64
}

func NewMockWindowRepository() *MockWindowRepository {
	return &MockWindowRepository{
		Windows: make(map[int64]*suppression.MaintenanceWindow),
		NextID:  1,
	}
}

func (m *MockWindowRepository) Create(ctx context.Context, w *suppression.MaintenanceWindow) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w.ID = m.NextID
	m.NextID++
	cp := *w
	m.Windows[w.ID] = &cp
	return w.ID, nil
}

func (m *MockWindowRepository) ListUpcoming(ctx context.Context, within time.Duration) ([]*suppression.MaintenanceWindow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	horizon := now.Add(within)
	var out []*suppression.MaintenanceWindow
	for _, w := range m.Windows {
		if w.StartTime.After(now) && w.StartTime.Before(horizon) {
			cp := *w
			out = append(out, &cp)
		}
	}
	return out, nil
}

// MockRuleRepository is an in-memory implementation of rule.Repository
type MockRuleRepository struct {
	mu     sync.Mutex
	Groups map[int64]*rule.Group
	Rules  map[int64]*rule.DistributionRule
	NextID int64
}

func NewMockRuleRepository() *MockRuleRepository {
	return &MockRuleRepository{
		Groups: make(map[int64]*rule.Group),
		Rules:  make(map[int64]*rule.DistributionRule),
		NextID: 1,
	}
}

func (m *MockRuleRepository) ListEnabledGroups(ctx context.Context) ([]*rule.Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*rule.Group
	for _, g := range m.Groups {
		if g.Enabled {
			cp := *g
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out, nil
}

func (m *MockRuleRepository) ListEnabledRules(ctx context.Context, groupID int64) ([]*rule.DistributionRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*rule.DistributionRule
	for _, r := range m.Rules {
		if r.GroupID == groupID && r.Enabled {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out, nil
}

func (m *MockRuleRepository) CreateGroup(ctx context.Context, g *rule.Group) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g.ID = m.NextID
	m.NextID++
	cp := *g
	m.Groups[g.ID] = &cp
	return g.ID, nil
}

func (m *MockRuleRepository) CreateRule(ctx context.Context, r *rule.DistributionRule) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = m.NextID
	m.NextID++
	cp := *r
	m.Rules[r.ID] = &cp
	return r.ID, nil
}

// MockSubscriptionRepository is an in-memory implementation of
// subscription.Repository
type MockSubscriptionRepository struct {
	mu            sync.Mutex
	Subscriptions map[int64]*subscription.Subscription
	ContactPoints map[int64]*subscription.ContactPoint
	GroupMembers  map[int64][]int64
	NextID        int64
}

func NewMockSubscriptionRepository() *MockSubscriptionRepository {
	return &MockSubscriptionRepository{
		Subscriptions: make(map[int64]*subscription.Subscription),
		ContactPoints: make(map[int64]*subscription.ContactPoint),
		GroupMembers:  make(map[int64][]int64),
		NextID:        1,
	}
}

func (m *MockSubscriptionRepository) Create(ctx context.Context, s *subscription.Subscription) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = m.NextID
	m.NextID++
	cp := *s
	m.Subscriptions[s.ID] = &cp
	return s.ID, nil
}

func (m *MockSubscriptionRepository) ListEnabled(ctx context.Context) ([]*subscription.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*subscription.Subscription
	for _, s := range m.Subscriptions {
		if s.Enabled {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockSubscriptionRepository) RecordNotification(ctx context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.Subscriptions[id]
	if !ok {
		return apperrors.NotFound("subscription")
	}
	s.LastNotificationAt = &at
	s.TotalNotificationsSent++
	return nil
}

func (m *MockSubscriptionRepository) GetContactPoint(ctx context.Context, id int64) (*subscription.ContactPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.ContactPoints[id]
	if !ok {
		return nil, apperrors.NotFound("contact point")
	}
	c := *cp
	return &c, nil
}

func (m *MockSubscriptionRepository) CreateContactPoint(ctx context.Context, cp *subscription.ContactPoint) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp.ID = m.NextID
	m.NextID++
	c := *cp
	m.ContactPoints[cp.ID] = &c
	return cp.ID, nil
}

func (m *MockSubscriptionRepository) ListContactPointsByUser(ctx context.Context, userID int64) ([]*subscription.ContactPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*subscription.ContactPoint
	for _, cp := range m.ContactPoints {
		if cp.UserID == userID && cp.Enabled {
			c := *cp
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockSubscriptionRepository) ListGroupMembers(ctx context.Context, groupID int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.GroupMembers[groupID]...), nil
}

func (m *MockSubscriptionRepository) AddGroupMember(ctx context.Context, groupID, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GroupMembers[groupID] = append(m.GroupMembers[groupID], userID)
	return nil
}

// MockNotificationRepository is an in-memory implementation of
// notification.Repository
type MockNotificationRepository struct {
	mu    sync.Mutex
	Tasks map[string]*notification.Task
}

func NewMockNotificationRepository() *MockNotificationRepository {
	return &MockNotificationRepository{
		Tasks: make(map[string]*notification.Task),
	}
}

func (m *MockNotificationRepository) CreateTask(ctx context.Context, t *notification.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.Tasks[t.ID] = &cp
	return nil
}

func (m *MockNotificationRepository) GetTask(ctx context.Context, id string) (*notification.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.Tasks[id]
	if !ok {
		return nil, apperrors.NotFound("notification task")
	}
	cp := *t
	return &cp, nil
}

func (m *MockNotificationRepository) UpdateTask(ctx context.Context, t *notification.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Tasks[t.ID]; !ok {
		return apperrors.NotFound("notification task")
	}
	cp := *t
	cp.UpdatedAt = time.Now()
	m.Tasks[t.ID] = &cp
	return nil
}

func (m *MockNotificationRepository) ClaimRetryable(ctx context.Context, cutoff time.Time, limit int) ([]*notification.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*notification.Task
	for _, t := range m.Tasks {
		if t.Status != notification.StatusFailed && t.Status != notification.StatusRetry {
			continue
		}
		if t.RetryCount >= t.MaxRetries {
			continue
		}
		if t.CreatedAt.Before(cutoff) {
			continue
		}
		t.Status = notification.StatusPending
		cp := *t
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MockNotificationRepository) CountSentSince(ctx context.Context, subscriptionID, alarmID int64, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, t := range m.Tasks {
		if t.SubscriptionID != subscriptionID || t.AlarmID != alarmID {
			continue
		}
		if t.Status != notification.StatusSent || t.SentAt == nil || t.SentAt.Before(since) {
			continue
		}
		count++
	}
	return count, nil
}

// TasksByStatus returns the tasks currently in the given status
func (m *MockNotificationRepository) TasksByStatus(status string) []*notification.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*notification.Task
	for _, t := range m.Tasks {
		if t.Status == status {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out
}

// MockSender is a scriptable notification.Sender
type MockSender struct {
	mu        sync.Mutex
	SendError error
	// FailFirst fails the first n Send calls, then succeeds
	FailFirst int
	Sent      []notification.Message
	calls     int
}

func (m *MockSender) Send(ctx context.Context, config map[string]interface{}, msg notification.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.SendError != nil {
		return m.SendError
	}
	if m.calls <= m.FailFirst {
		return fmt.Errorf("simulated send failure %d", m.calls)
	}
	m.Sent = append(m.Sent, msg)
	return nil
}

func (m *MockSender) ValidateConfig(config map[string]interface{}) error {
	return nil
}

// Calls returns the number of Send invocations
func (m *MockSender) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// SentCount returns the number of successful sends
func (m *MockSender) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sent)
}
