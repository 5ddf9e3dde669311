package match

import (
	"context"
	"testing"
	"time"

	"github.com/opsgrid/alarmd/internal/domain/alarm"
	"github.com/opsgrid/alarmd/internal/domain/notification"
	"github.com/opsgrid/alarmd/internal/domain/rule"
	"github.com/opsgrid/alarmd/internal/domain/subscription"
	"github.com/opsgrid/alarmd/internal/engine/condition"
	"github.com/opsgrid/alarmd/internal/pkg/logger"
	"github.com/opsgrid/alarmd/internal/testutil"
)

func newTestMatcher(rules *testutil.MockRuleRepository, subs *testutil.MockSubscriptionRepository, tasks *testutil.MockNotificationRepository) *Matcher {
	log := logger.New(logger.Config{Level: "error", Format: "json"})
	return NewMatcher(rules, subs, tasks, log)
}

func matchAlarm(id int64) *alarm.Event {
	return &alarm.Event{
		ID:       id,
		Title:    "disk usage above 90%",
		Severity: alarm.SeverityHigh,
		Status:   alarm.StatusActive,
		Host:     "db-01",
		Service:  "postgres",
	}
}

func TestExecuteRules_ActionsAndAccumulation(t *testing.T) {
	rules := testutil.NewMockRuleRepository()
	ctx := context.Background()

	g, _ := rules.CreateGroup(ctx, &rule.Group{Name: "database", Priority: 10, Enabled: true})
	rules.CreateRule(ctx, &rule.DistributionRule{
		GroupID:    g,
		Name:       "tag db alarms",
		Priority:   20,
		Conditions: condition.Leaf("service", condition.OpEquals, "postgres"),
		Actions: rule.Actions{
			AddTags:       map[string]string{"team": "dba"},
			NotifyUserIDs: []int64{7},
		},
		Enabled: true,
	})
	rules.CreateRule(ctx, &rule.DistributionRule{
		GroupID:    g,
		Name:       "escalate high",
		Priority:   10,
		Conditions: condition.Leaf("severity", condition.OpEquals, "high"),
		Actions: rule.Actions{
			NotifyUserIDs:         []int64{7, 9},
			NotifySubscriberMatch: true,
		},
		Enabled: true,
	})

	m := newTestMatcher(rules, testutil.NewMockSubscriptionRepository(), testutil.NewMockNotificationRepository())
	e := matchAlarm(1)
	out, err := m.ExecuteRules(ctx, e)
	if err != nil {
		t.Fatalf("ExecuteRules() error = %v", err)
	}

	if len(out.MatchedRuleIDs) != 2 {
		t.Errorf("MatchedRuleIDs = %v, want 2 rules", out.MatchedRuleIDs)
	}
	if e.Tags["team"] != "dba" {
		t.Errorf("Tags = %v, want team=dba applied", e.Tags)
	}
	if !out.Mutated {
		t.Error("Mutated = false after AddTags")
	}
	// User 7 appears in both rules but is notified once.
	if len(out.NotifyUserIDs) != 2 {
		t.Errorf("NotifyUserIDs = %v, want deduplicated [7 9]", out.NotifyUserIDs)
	}
	if !out.NotifySubscribers {
		t.Error("NotifySubscribers = false")
	}
}

func TestExecuteRules_StopProcessing(t *testing.T) {
	rules := testutil.NewMockRuleRepository()
	ctx := context.Background()

	high, _ := rules.CreateGroup(ctx, &rule.Group{Name: "first", Priority: 100, Enabled: true})
	low, _ := rules.CreateGroup(ctx, &rule.Group{Name: "second", Priority: 1, Enabled: true})

	rules.CreateRule(ctx, &rule.DistributionRule{
		GroupID:  high,
		Name:     "absorb",
		Priority: 10,
		Actions:  rule.Actions{UpdateStatus: alarm.StatusAcknowledged, StopProcessing: true},
		Enabled:  true,
	})
	rules.CreateRule(ctx, &rule.DistributionRule{
		GroupID:  low,
		Name:     "never reached",
		Priority: 10,
		Actions:  rule.Actions{NotifyUserIDs: []int64{99}},
		Enabled:  true,
	})

	m := newTestMatcher(rules, testutil.NewMockSubscriptionRepository(), testutil.NewMockNotificationRepository())
	e := matchAlarm(1)
	out, err := m.ExecuteRules(ctx, e)
	if err != nil {
		t.Fatalf("ExecuteRules() error = %v", err)
	}

	if !out.Stopped {
		t.Error("Stopped = false, want true")
	}
	if e.Status != alarm.StatusAcknowledged {
		t.Errorf("Status = %q, want acknowledged before stop", e.Status)
	}
	if len(out.NotifyUserIDs) != 0 {
		t.Errorf("NotifyUserIDs = %v, want rules after stop skipped", out.NotifyUserIDs)
	}
}

func TestExecuteRules_DisabledSkipped(t *testing.T) {
	rules := testutil.NewMockRuleRepository()
	ctx := context.Background()

	g, _ := rules.CreateGroup(ctx, &rule.Group{Name: "off", Priority: 10, Enabled: true})
	rules.CreateRule(ctx, &rule.DistributionRule{
		GroupID: g,
		Name:    "disabled",
		Actions: rule.Actions{NotifyUserIDs: []int64{1}},
		Enabled: false,
	})

	m := newTestMatcher(rules, testutil.NewMockSubscriptionRepository(), testutil.NewMockNotificationRepository())
	out, err := m.ExecuteRules(ctx, matchAlarm(1))
	if err != nil {
		t.Fatalf("ExecuteRules() error = %v", err)
	}
	if len(out.MatchedRuleIDs) != 0 {
		t.Errorf("MatchedRuleIDs = %v, want none", out.MatchedRuleIDs)
	}
}

func TestMatchSubscriptions_CooldownIsPerAlarm(t *testing.T) {
	subs := testutil.NewMockSubscriptionRepository()
	ctx := context.Background()

	subs.Create(ctx, &subscription.Subscription{
		Name:            "db watch",
		Filters:         condition.Leaf("service", condition.OpEquals, "postgres"),
		CooldownMinutes: 30,
		Enabled:         true,
	})

	m := newTestMatcher(testutil.NewMockRuleRepository(), subs, testutil.NewMockNotificationRepository())
	now := time.Now()

	first, _ := m.MatchSubscriptions(ctx, matchAlarm(1), now)
	if len(first) != 1 {
		t.Fatalf("first match = %d subscriptions, want 1", len(first))
	}

	// Same alarm inside the cooldown window is silenced.
	again, _ := m.MatchSubscriptions(ctx, matchAlarm(1), now.Add(5*time.Minute))
	if len(again) != 0 {
		t.Errorf("repeat within cooldown matched %d subscriptions, want 0", len(again))
	}

	// A different alarm is not affected by alarm 1's cooldown.
	other, _ := m.MatchSubscriptions(ctx, matchAlarm(2), now.Add(5*time.Minute))
	if len(other) != 1 {
		t.Errorf("different alarm matched %d subscriptions, want 1", len(other))
	}

	// After the cooldown lapses the same alarm notifies again.
	later, _ := m.MatchSubscriptions(ctx, matchAlarm(1), now.Add(31*time.Minute))
	if len(later) != 1 {
		t.Errorf("post-cooldown match = %d subscriptions, want 1", len(later))
	}
}

func TestMatchSubscriptions_CooldownSurvivesRestart(t *testing.T) {
	subs := testutil.NewMockSubscriptionRepository()
	tasks := testutil.NewMockNotificationRepository()
	ctx := context.Background()

	id, _ := subs.Create(ctx, &subscription.Subscription{
		Name:            "db watch",
		CooldownMinutes: 30,
		Enabled:         true,
	})

	// A sent task from before this process started.
	sentAt := time.Now().Add(-10 * time.Minute)
	tasks.CreateTask(ctx, &notification.Task{
		ID:             "t-prior",
		SubscriptionID: id,
		AlarmID:        1,
		ContactPointID: 1,
		Status:         notification.StatusSent,
		SentAt:         &sentAt,
	})

	m := newTestMatcher(testutil.NewMockRuleRepository(), subs, tasks)
	got, _ := m.MatchSubscriptions(ctx, matchAlarm(1), time.Now())
	if len(got) != 0 {
		t.Errorf("matched %d subscriptions, want 0 (store shows a recent send)", len(got))
	}
}

func TestMatchSubscriptions_HourlyRateLimit(t *testing.T) {
	subs := testutil.NewMockSubscriptionRepository()
	ctx := context.Background()

	subs.Create(ctx, &subscription.Subscription{
		Name:                    "capped",
		MaxNotificationsPerHour: 2,
		Enabled:                 true,
	})

	m := newTestMatcher(testutil.NewMockRuleRepository(), subs, testutil.NewMockNotificationRepository())
	now := time.Now()

	matched := 0
	for i := int64(1); i <= 5; i++ {
		got, err := m.MatchSubscriptions(ctx, matchAlarm(i), now.Add(time.Duration(i)*time.Minute))
		if err != nil {
			t.Fatalf("MatchSubscriptions() error = %v", err)
		}
		matched += len(got)
	}
	if matched != 2 {
		t.Errorf("matched %d notifications across 5 alarms, want 2", matched)
	}

	// The trailing window frees up once old reservations age out.
	got, _ := m.MatchSubscriptions(ctx, matchAlarm(6), now.Add(2*time.Hour))
	if len(got) != 1 {
		t.Errorf("match after window = %d, want 1", len(got))
	}
}

func TestMatchSubscriptions_IndependentLimits(t *testing.T) {
	subs := testutil.NewMockSubscriptionRepository()
	ctx := context.Background()

	subs.Create(ctx, &subscription.Subscription{
		Name:                    "tight",
		MaxNotificationsPerHour: 1,
		Enabled:                 true,
	})
	subs.Create(ctx, &subscription.Subscription{
		Name:    "unlimited",
		Enabled: true,
	})

	m := newTestMatcher(testutil.NewMockRuleRepository(), subs, testutil.NewMockNotificationRepository())
	now := time.Now()

	first, _ := m.MatchSubscriptions(ctx, matchAlarm(1), now)
	if len(first) != 2 {
		t.Fatalf("first alarm matched %d subscriptions, want 2", len(first))
	}

	// The tight subscription is spent; the unlimited one still matches.
	second, _ := m.MatchSubscriptions(ctx, matchAlarm(2), now.Add(time.Minute))
	if len(second) != 1 {
		t.Fatalf("second alarm matched %d subscriptions, want 1", len(second))
	}
	if second[0].Name != "unlimited" {
		t.Errorf("remaining subscription = %q, want the uncapped one", second[0].Name)
	}
}

func TestMatchSubscriptions_FilterMismatch(t *testing.T) {
	subs := testutil.NewMockSubscriptionRepository()
	ctx := context.Background()

	subs.Create(ctx, &subscription.Subscription{
		Name:    "web only",
		Filters: condition.Leaf("service", condition.OpEquals, "nginx"),
		Enabled: true,
	})

	m := newTestMatcher(testutil.NewMockRuleRepository(), subs, testutil.NewMockNotificationRepository())
	got, _ := m.MatchSubscriptions(ctx, matchAlarm(1), time.Now())
	if len(got) != 0 {
		t.Errorf("matched %d subscriptions, want 0", len(got))
	}
}
