package services

import (
	"context"
	"testing"
	"time"

	"github.com/opsgrid/alarmd/internal/domain/alarm"
	"github.com/opsgrid/alarmd/internal/domain/suppression"
	"github.com/opsgrid/alarmd/internal/pkg/keymutex"
	"github.com/opsgrid/alarmd/internal/pkg/logger"
	"github.com/opsgrid/alarmd/internal/testutil"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: "error", Format: "json"})
}

func TestAlarmService_IngestUpsert(t *testing.T) {
	repo := testutil.NewMockAlarmRepository()
	svc := NewAlarmService(repo, keymutex.New(), testLogger())
	ctx := context.Background()

	first := &alarm.Event{
		Source:   "node-exporter",
		Title:    "disk usage above 90%",
		Severity: alarm.SeverityHigh,
		Host:     "db-01",
		Service:  "postgres",
	}
	id, created, err := svc.Ingest(ctx, first)
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if !created {
		t.Error("created = false, want true on first occurrence")
	}

	// Same condition again collapses into the existing alarm.
	repeat := &alarm.Event{
		Source:   "node-exporter",
		Title:    "disk usage above 90%",
		Severity: alarm.SeverityHigh,
		Host:     "db-01",
		Service:  "postgres",
	}
	id2, created2, err := svc.Ingest(ctx, repeat)
	if err != nil {
		t.Fatalf("Ingest() repeat error = %v", err)
	}
	if created2 {
		t.Error("created = true on repeat occurrence, want false")
	}
	if id2 != id {
		t.Errorf("repeat ID = %d, want %d", id2, id)
	}
	stored, _ := repo.GetByID(ctx, id)
	if stored.Count != 2 {
		t.Errorf("Count = %d, want 2", stored.Count)
	}

	// A resolved alarm no longer absorbs; a new row is created.
	repo.UpdateStatus(ctx, id, alarm.StatusResolved, time.Now())
	third := &alarm.Event{
		Source:   "node-exporter",
		Title:    "disk usage above 90%",
		Severity: alarm.SeverityHigh,
		Host:     "db-01",
		Service:  "postgres",
	}
	id3, created3, _ := svc.Ingest(ctx, third)
	if !created3 || id3 == id {
		t.Errorf("post-resolve ingest: id = %d created = %v, want fresh alarm", id3, created3)
	}
}

func TestAlarmService_IngestValidation(t *testing.T) {
	svc := NewAlarmService(testutil.NewMockAlarmRepository(), keymutex.New(), testLogger())
	ctx := context.Background()

	if _, _, err := svc.Ingest(ctx, &alarm.Event{}); err == nil {
		t.Error("Ingest() without title succeeded")
	}
	if _, _, err := svc.Ingest(ctx, &alarm.Event{Title: "x", Severity: "panic"}); err == nil {
		t.Error("Ingest() with unknown severity succeeded")
	}

	// Missing severity defaults rather than failing.
	e := &alarm.Event{Title: "x"}
	if _, _, err := svc.Ingest(ctx, e); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if e.Severity != alarm.SeverityMedium {
		t.Errorf("Severity = %q, want default medium", e.Severity)
	}
}

func TestFingerprint_Stable(t *testing.T) {
	a := &alarm.Event{Source: "s", Host: "h", Service: "svc", Title: "Disk Full"}
	b := &alarm.Event{Source: "s", Host: "h", Service: "svc", Title: "disk full"}
	if Fingerprint(a) != Fingerprint(b) {
		t.Error("fingerprint is case-sensitive on title")
	}
	c := &alarm.Event{Source: "s", Host: "h2", Service: "svc", Title: "disk full"}
	if Fingerprint(a) == Fingerprint(c) {
		t.Error("different hosts share a fingerprint")
	}
}

func TestSuppressionService_CreateRule(t *testing.T) {
	repo := testutil.NewMockSuppressionRepository()
	svc := NewSuppressionService(repo, nil, testLogger())
	ctx := context.Background()

	id, err := svc.CreateRule(ctx, &suppression.Rule{
		Name: "silence db-01",
		Type: suppression.TypeManual,
		Conditions: suppression.Conditions{Manual: &suppression.FieldMatcher{
			Mode:   suppression.MatchExact,
			Fields: map[string]interface{}{"host": "db-01"},
		}},
	})
	if err != nil {
		t.Fatalf("CreateRule() error = %v", err)
	}

	stored, _ := repo.GetByID(ctx, id)
	if stored.Status != suppression.StatusActive {
		t.Errorf("Status = %q, want active default", stored.Status)
	}
	if stored.Priority != 50 {
		t.Errorf("Priority = %d, want 50 default", stored.Priority)
	}
}

func TestSuppressionService_RejectsInvalidRules(t *testing.T) {
	svc := NewSuppressionService(testutil.NewMockSuppressionRepository(), nil, testLogger())
	ctx := context.Background()

	tests := []struct {
		name string
		rule *suppression.Rule
	}{
		{
			"type/variant mismatch",
			&suppression.Rule{
				Name: "wrong variant",
				Type: suppression.TypeManual,
				Conditions: suppression.Conditions{Maintenance: &suppression.MaintenanceConditions{
					SuppressAll: true,
				}},
			},
		},
		{
			"malformed conditional",
			&suppression.Rule{
				Name: "bad expression",
				Type: suppression.TypeConditional,
				Conditions: suppression.Conditions{Conditional: &suppression.ConditionalConditions{
					Raw: map[string]interface{}{"operator": "in"},
				}},
			},
		},
		{
			"recurring without pattern",
			&suppression.Rule{
				Name:        "no recurrence",
				Type:        suppression.TypeManual,
				IsRecurring: true,
				Conditions: suppression.Conditions{Manual: &suppression.FieldMatcher{
					Mode:   suppression.MatchExact,
					Fields: map[string]interface{}{"host": "x"},
				}},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.CreateRule(ctx, tt.rule); err == nil {
				t.Error("CreateRule() accepted an invalid rule")
			}
		})
	}
}

func TestMaintenanceService_SynthesizesRule(t *testing.T) {
	rules := testutil.NewMockSuppressionRepository()
	windows := testutil.NewMockWindowRepository()
	suppSvc := NewSuppressionService(rules, nil, testLogger())
	svc := NewMaintenanceService(windows, suppSvc, testLogger())
	ctx := context.Background()

	id, err := svc.CreateWindow(ctx, &suppression.MaintenanceWindow{
		Name:          "db cluster patching",
		StartTime:     time.Now().Add(time.Hour),
		EndTime:       time.Now().Add(3 * time.Hour),
		AffectedHosts: []string{"db-01", "db-02"},
	})
	if err != nil {
		t.Fatalf("CreateWindow() error = %v", err)
	}

	w := windows.Windows[id]
	if w.RuleID == 0 {
		t.Fatal("window has no synthesized rule")
	}
	r, err := rules.GetByID(ctx, w.RuleID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if r.Type != suppression.TypeMaintenance {
		t.Errorf("rule Type = %q, want maintenance", r.Type)
	}
	if r.Priority != suppression.MaintenancePriority {
		t.Errorf("rule Priority = %d, want %d", r.Priority, suppression.MaintenancePriority)
	}
	if r.Conditions.Maintenance == nil || len(r.Conditions.Maintenance.Hosts) != 2 {
		t.Errorf("rule conditions = %+v, want window hosts carried", r.Conditions)
	}
}

func TestMaintenanceService_RejectsUnscopedWindow(t *testing.T) {
	svc := NewMaintenanceService(testutil.NewMockWindowRepository(),
		NewSuppressionService(testutil.NewMockSuppressionRepository(), nil, testLogger()), testLogger())

	_, err := svc.CreateWindow(context.Background(), &suppression.MaintenanceWindow{
		Name:      "no scope",
		StartTime: time.Now(),
		EndTime:   time.Now().Add(time.Hour),
	})
	if err == nil {
		t.Error("CreateWindow() without scope and without suppress_all succeeded")
	}
}
