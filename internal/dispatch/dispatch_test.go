package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/opsgrid/alarmd/internal/config"
	"github.com/opsgrid/alarmd/internal/domain/alarm"
	"github.com/opsgrid/alarmd/internal/domain/notification"
	"github.com/opsgrid/alarmd/internal/domain/rule"
	"github.com/opsgrid/alarmd/internal/domain/subscription"
	"github.com/opsgrid/alarmd/internal/domain/suppression"
	"github.com/opsgrid/alarmd/internal/engine/match"
	suppengine "github.com/opsgrid/alarmd/internal/engine/suppression"
	"github.com/opsgrid/alarmd/internal/pkg/keymutex"
	"github.com/opsgrid/alarmd/internal/pkg/logger"
	"github.com/opsgrid/alarmd/internal/render"
	"github.com/opsgrid/alarmd/internal/testutil"
)

type stubSenders map[string]notification.Sender

func (s stubSenders) Get(channelType string) (notification.Sender, error) {
	sender, ok := s[channelType]
	if !ok {
		return nil, errors.New("no sender for channel " + channelType)
	}
	return sender, nil
}

type pipelineFixture struct {
	pipeline *Pipeline
	alarms   *testutil.MockAlarmRepository
	tasks    *testutil.MockNotificationRepository
	subs     *testutil.MockSubscriptionRepository
	supps    *testutil.MockSuppressionRepository
	rules    *testutil.MockRuleRepository
	sender   *testutil.MockSender
}

func newFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	log := logger.New(logger.Config{Level: "error", Format: "json"})

	alarms := testutil.NewMockAlarmRepository()
	tasks := testutil.NewMockNotificationRepository()
	subs := testutil.NewMockSubscriptionRepository()
	supps := testutil.NewMockSuppressionRepository()

	suppressor := suppengine.NewEngine(supps, 16, log)
	if err := suppressor.Reload(context.Background()); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	rules := testutil.NewMockRuleRepository()
	matcher := match.NewMatcher(rules, subs, tasks, log)
	sender := &testutil.MockSender{}

	cfg := &config.PipelineConfig{
		QueueSize:          16,
		Workers:            2,
		ChannelConcurrency: 3,
		ChannelSendsPerSec: 1000,
		SendTimeout:        time.Second,
		DefaultMaxRetries:  3,
		MaxRetryAge:        6 * time.Hour,
	}

	p := NewPipeline(cfg, alarms, tasks, subs, suppressor,
		matcher, render.NewTemplateRenderer(), stubSenders{"webhook": sender},
		keymutex.New(), log)

	return &pipelineFixture{pipeline: p, alarms: alarms, tasks: tasks, subs: subs, supps: supps, rules: rules, sender: sender}
}

// run drains the queued alarms and in-flight sends, then returns.
func (f *pipelineFixture) run(t *testing.T, ids ...int64) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- f.pipeline.Run(context.Background()) }()

	for _, id := range ids {
		if err := f.pipeline.Process(id); err != nil {
			t.Fatalf("Process(%d) error = %v", id, err)
		}
	}
	f.pipeline.Shutdown()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not drain")
	}
}

func (f *pipelineFixture) addSubscription(t *testing.T, s *subscription.Subscription) int64 {
	t.Helper()
	ctx := context.Background()
	cpID, err := f.subs.CreateContactPoint(ctx, &subscription.ContactPoint{
		Name:    "ops hook",
		Type:    subscription.ChannelWebhook,
		Config:  map[string]interface{}{"url": "https://example.test/hook"},
		Enabled: true,
	})
	if err != nil {
		t.Fatalf("CreateContactPoint() error = %v", err)
	}
	s.ContactPointIDs = []int64{cpID}
	s.Enabled = true
	if _, err := f.subs.Create(ctx, s); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return cpID
}

func (f *pipelineFixture) addAlarm(t *testing.T, e *alarm.Event) int64 {
	t.Helper()
	if e.Status == "" {
		e.Status = alarm.StatusActive
	}
	e.Count = 1
	id, err := f.alarms.Create(context.Background(), e)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return id
}

func TestPipeline_DeliversToMatchingSubscription(t *testing.T) {
	f := newFixture(t)
	f.addSubscription(t, &subscription.Subscription{Name: "all alarms"})
	id := f.addAlarm(t, &alarm.Event{
		Fingerprint: "db-01:postgres:down",
		Title:       "postgres down",
		Severity:    alarm.SeverityCritical,
		Host:        "db-01",
		Service:     "postgres",
	})

	f.run(t, id)

	if got := f.sender.SentCount(); got != 1 {
		t.Fatalf("SentCount() = %d, want 1", got)
	}
	sent := f.tasks.TasksByStatus(notification.StatusSent)
	if len(sent) != 1 {
		t.Fatalf("sent tasks = %d, want 1", len(sent))
	}
	if sent[0].SentAt == nil || sent[0].Subject == "" {
		t.Errorf("sent task incomplete: %+v", sent[0])
	}
}

func TestPipeline_MaintenanceSuppressesWithoutTasks(t *testing.T) {
	f := newFixture(t)
	f.addSubscription(t, &subscription.Subscription{Name: "all alarms"})

	f.supps.Create(context.Background(), &suppression.Rule{
		Name:      "db-01 patching",
		Type:      suppression.TypeMaintenance,
		Status:    suppression.StatusActive,
		StartTime: time.Now().Add(-time.Hour),
		Priority:  suppression.MaintenancePriority,
		Conditions: suppression.Conditions{Maintenance: &suppression.MaintenanceConditions{
			Hosts: []string{"db-01"},
		}},
	})
	if err := f.pipeline.suppressor.Reload(context.Background()); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	id := f.addAlarm(t, &alarm.Event{
		Fingerprint: "db-01:postgres:down",
		Title:       "postgres down",
		Severity:    alarm.SeverityCritical,
		Host:        "db-01",
	})

	f.run(t, id)

	if got := f.sender.Calls(); got != 0 {
		t.Errorf("Calls() = %d, want no delivery attempts", got)
	}
	stored, _ := f.alarms.GetByID(context.Background(), id)
	if stored.Status != alarm.StatusSuppressed {
		t.Errorf("Status = %q, want suppressed", stored.Status)
	}
	if got := len(f.tasks.TasksByStatus(notification.StatusPending)); got != 0 {
		t.Errorf("pending tasks = %d, want 0", got)
	}
}

func TestPipeline_RetryExhaustion(t *testing.T) {
	f := newFixture(t)
	f.sender.SendError = errors.New("webhook endpoint unreachable")
	f.addSubscription(t, &subscription.Subscription{Name: "all alarms"})
	id := f.addAlarm(t, &alarm.Event{
		Fingerprint: "web-01:nginx:down",
		Title:       "nginx down",
		Severity:    alarm.SeverityHigh,
		Host:        "web-01",
	})

	f.run(t, id)

	// First attempt fails, leaving the task in retry.
	retrying := f.tasks.TasksByStatus(notification.StatusRetry)
	if len(retrying) != 1 {
		t.Fatalf("retry tasks = %d, want 1", len(retrying))
	}
	if retrying[0].RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", retrying[0].RetryCount)
	}

	// Two more sweeps exhaust the attempts.
	for i := 0; i < 2; i++ {
		f.pipeline.RunRetrySweep(context.Background())
		f.pipeline.sends.Wait()
	}

	failed := f.tasks.TasksByStatus(notification.StatusFailed)
	if len(failed) != 1 {
		t.Fatalf("failed tasks = %d, want 1", len(failed))
	}
	if failed[0].RetryCount != 3 {
		t.Errorf("RetryCount = %d, want 3", failed[0].RetryCount)
	}
	if failed[0].ErrorMessage == "" {
		t.Error("ErrorMessage is empty on terminal failure")
	}

	// A further sweep finds nothing claimable.
	f.pipeline.RunRetrySweep(context.Background())
	f.pipeline.sends.Wait()
	if got := f.sender.Calls(); got != 3 {
		t.Errorf("Calls() = %d, want 3 total attempts", got)
	}
}

func TestPipeline_RetryRecovers(t *testing.T) {
	f := newFixture(t)
	f.sender.FailFirst = 1
	f.addSubscription(t, &subscription.Subscription{Name: "all alarms"})
	id := f.addAlarm(t, &alarm.Event{
		Fingerprint: "web-01:nginx:down",
		Title:       "nginx down",
		Severity:    alarm.SeverityHigh,
		Host:        "web-01",
	})

	f.run(t, id)
	f.pipeline.RunRetrySweep(context.Background())
	f.pipeline.sends.Wait()

	sent := f.tasks.TasksByStatus(notification.StatusSent)
	if len(sent) != 1 {
		t.Fatalf("sent tasks = %d, want 1", len(sent))
	}
	if sent[0].RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1 failed attempt before success", sent[0].RetryCount)
	}
}

func TestPipeline_DualSubscriptions(t *testing.T) {
	f := newFixture(t)
	f.addSubscription(t, &subscription.Subscription{Name: "first"})
	f.addSubscription(t, &subscription.Subscription{Name: "second"})
	id := f.addAlarm(t, &alarm.Event{
		Fingerprint: "db-01:postgres:slow",
		Title:       "postgres slow queries",
		Severity:    alarm.SeverityMedium,
		Host:        "db-01",
	})

	f.run(t, id)

	if got := f.sender.SentCount(); got != 2 {
		t.Errorf("SentCount() = %d, want one delivery per subscription", got)
	}
}

func TestPipeline_QueueFullDrops(t *testing.T) {
	log := logger.New(logger.Config{Level: "error", Format: "json"})
	cfg := &config.PipelineConfig{QueueSize: 1, Workers: 1}
	p := NewPipeline(cfg, testutil.NewMockAlarmRepository(), testutil.NewMockNotificationRepository(),
		testutil.NewMockSubscriptionRepository(),
		suppengine.NewEngine(testutil.NewMockSuppressionRepository(), 16, log),
		nil, render.NewTemplateRenderer(), stubSenders{}, keymutex.New(), log)

	// No workers running; the single buffered slot fills.
	if err := p.Process(1); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if err := p.Process(2); err == nil {
		t.Error("Process() on a full queue succeeded, want drop")
	}
}

func TestPipeline_ProcessAfterShutdown(t *testing.T) {
	f := newFixture(t)
	f.run(t)
	if err := f.pipeline.Process(1); err == nil {
		t.Error("Process() after shutdown succeeded")
	}
}

func TestPipeline_MissingAlarmDropped(t *testing.T) {
	f := newFixture(t)
	f.run(t, 404)
	if got := f.sender.Calls(); got != 0 {
		t.Errorf("Calls() = %d, want 0", got)
	}
}

func TestPipeline_RuleNotifiesContactPointsDirectly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	gid, err := f.rules.CreateGroup(ctx, &rule.Group{Name: "escalation", Priority: 10, Enabled: true})
	if err != nil {
		t.Fatalf("CreateGroup() error = %v", err)
	}
	_, err = f.rules.CreateRule(ctx, &rule.DistributionRule{
		GroupID: gid,
		Name:    "page the db owners",
		Enabled: true,
		Actions: rule.Actions{NotifyUserIDs: []int64{7}, NotifyGroupIDs: []int64{3}},
	})
	if err != nil {
		t.Fatalf("CreateRule() error = %v", err)
	}

	// User 7 is named by the rule and is also a member of group 3; they
	// must still get a single task per contact point.
	for _, uid := range []int64{7, 8} {
		if err := f.subs.AddGroupMember(ctx, 3, uid); err != nil {
			t.Fatalf("AddGroupMember() error = %v", err)
		}
	}
	for _, cp := range []*subscription.ContactPoint{
		{UserID: 7, Name: "dba pager", Type: subscription.ChannelWebhook,
			Config: map[string]interface{}{"url": "https://example.test/7"}, Enabled: true},
		{UserID: 7, Name: "retired hook", Type: subscription.ChannelWebhook,
			Config: map[string]interface{}{"url": "https://example.test/old"}, Enabled: false},
		{UserID: 8, Name: "oncall hook", Type: subscription.ChannelWebhook,
			Config: map[string]interface{}{"url": "https://example.test/8"}, Enabled: true},
	} {
		if _, err := f.subs.CreateContactPoint(ctx, cp); err != nil {
			t.Fatalf("CreateContactPoint() error = %v", err)
		}
	}

	id := f.addAlarm(t, &alarm.Event{
		Fingerprint: "db-01:postgres:down",
		Title:       "postgres down",
		Severity:    alarm.SeverityCritical,
		Host:        "db-01",
		Service:     "postgres",
	})

	f.run(t, id)

	sent := f.tasks.TasksByStatus(notification.StatusSent)
	if len(sent) != 2 {
		t.Fatalf("sent tasks = %d, want one per enabled contact point", len(sent))
	}
	if got := f.sender.SentCount(); got != 2 {
		t.Errorf("SentCount() = %d, want 2", got)
	}
	for _, task := range sent {
		if task.SubscriptionID != 0 {
			t.Errorf("SubscriptionID = %d on rule-driven task, want 0", task.SubscriptionID)
		}
	}
}

// slowSender holds each delivery for a fixed delay and gives up if the
// context is cancelled first.
type slowSender struct {
	mu    sync.Mutex
	delay time.Duration
	sent  []notification.Message
}

func (s *slowSender) Send(ctx context.Context, config map[string]interface{}, msg notification.Message) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.delay):
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return nil
}

func (s *slowSender) ValidateConfig(config map[string]interface{}) error { return nil }

func TestPipeline_ShutdownWaitsForInFlightSends(t *testing.T) {
	f := newFixture(t)
	slow := &slowSender{delay: 150 * time.Millisecond}
	f.pipeline.senders = stubSenders{"webhook": slow}
	f.addSubscription(t, &subscription.Subscription{Name: "all alarms"})
	id := f.addAlarm(t, &alarm.Event{
		Fingerprint: "db-01:postgres:down",
		Title:       "postgres down",
		Severity:    alarm.SeverityCritical,
		Host:        "db-01",
	})

	// Shutdown lands while the delivery is still sleeping; Run must wait
	// it out rather than cancel it.
	f.run(t, id)

	sent := f.tasks.TasksByStatus(notification.StatusSent)
	if len(sent) != 1 {
		t.Fatalf("sent tasks = %d, want the in-flight delivery to finish", len(sent))
	}
	if got := len(f.tasks.TasksByStatus(notification.StatusRetry)); got != 0 {
		t.Errorf("retry tasks = %d, want 0", got)
	}
}

func TestPipeline_DuplicateAlarmNotRedelivered(t *testing.T) {
	f := newFixture(t)
	f.addSubscription(t, &subscription.Subscription{Name: "all alarms"})
	id := f.addAlarm(t, &alarm.Event{
		Fingerprint: "db-01:postgres:down",
		Title:       "postgres down",
		Severity:    alarm.SeverityCritical,
		Host:        "db-01",
		IsDuplicate: true,
	})

	f.run(t, id)

	if got := f.sender.Calls(); got != 0 {
		t.Errorf("Calls() = %d, want merged duplicates left to their parent", got)
	}
	if got := len(f.tasks.TasksByStatus(notification.StatusPending)); got != 0 {
		t.Errorf("pending tasks = %d, want 0", got)
	}
}
