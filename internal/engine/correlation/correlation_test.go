package correlation

import (
	"context"
	"testing"
	"time"

	"github.com/opsgrid/alarmd/internal/config"
	"github.com/opsgrid/alarmd/internal/domain/alarm"
	"github.com/opsgrid/alarmd/internal/pkg/keymutex"
	"github.com/opsgrid/alarmd/internal/pkg/logger"
	"github.com/opsgrid/alarmd/internal/testutil"
)

func testConfig() config.CorrelationConfig {
	return config.CorrelationConfig{
		Interval:         time.Minute,
		Window:           time.Hour,
		SampleLimit:      100,
		DedupThreshold:   0.8,
		EdgeThreshold:    0.3,
		TextSimThreshold: 0.7,
		AutoResolveAfter: 24 * time.Hour,
	}
}

func newTestAnalyzer(repo alarm.Repository, topo *Topology) *Analyzer {
	if topo == nil {
		topo = &Topology{Dependencies: map[string]map[string]float64{}}
	}
	log := logger.New(logger.Config{Level: "error", Format: "json"})
	return NewAnalyzer(repo, topo, keymutex.New(), testConfig(), log)
}

func activeAlarm(fingerprint, host, service, title, description string, createdAgo time.Duration) *alarm.Event {
	now := time.Now()
	return &alarm.Event{
		Fingerprint:     fingerprint,
		Source:          "monitor",
		Title:           title,
		Description:     description,
		Severity:        alarm.SeverityHigh,
		Status:          alarm.StatusActive,
		Host:            host,
		Service:         service,
		Count:           1,
		FirstOccurrence: now.Add(-createdAgo),
		LastOccurrence:  now.Add(-createdAgo),
		CreatedAt:       now.Add(-createdAgo),
	}
}

func TestVectorizer(t *testing.T) {
	var v Vectorizer
	docs := []string{
		"disk full on database server",
		"disk full on database server",
		"network link down",
	}
	if err := v.Fit(docs); err != nil {
		t.Fatalf("Fit() error = %v", err)
	}

	a := v.Transform(docs[0])
	b := v.Transform(docs[1])
	c := v.Transform(docs[2])

	if sim := Cosine(a, b); sim < 0.99 {
		t.Errorf("identical docs similarity = %v, want ~1", sim)
	}
	if sim := Cosine(a, c); sim > 0.3 {
		t.Errorf("unrelated docs similarity = %v, want low", sim)
	}
}

func TestVectorizer_TooFewDocs(t *testing.T) {
	var v Vectorizer
	if err := v.Fit([]string{"only one"}); err == nil {
		t.Error("Fit() accepted a single document")
	}
	if err := v.Fit(nil); err == nil {
		t.Error("Fit() accepted no documents")
	}
}

func TestCosine_ZeroVector(t *testing.T) {
	if got := Cosine([]float64{0, 0}, []float64{1, 2}); got != 0 {
		t.Errorf("Cosine() with zero vector = %v, want 0", got)
	}
}

func TestNetworkSegment(t *testing.T) {
	tests := []struct {
		host string
		want string
	}{
		{"db-01", "db"},
		{"db-02", "db"},
		{"web1", "web"},
		{"web1.eu.internal", "web"},
		{"cache_3", "cache"},
		{"", ""},
		{"gateway", "gateway"},
	}
	for _, tt := range tests {
		if got := NetworkSegment(tt.host); got != tt.want {
			t.Errorf("NetworkSegment(%q) = %q, want %q", tt.host, got, tt.want)
		}
	}
}

func TestAnalyzer_DedupMerge(t *testing.T) {
	repo := testutil.NewMockAlarmRepository()
	ctx := context.Background()

	earlier := activeAlarm("fp-1", "db-01", "database", "disk full", "disk usage above 95 percent", 10*time.Minute)
	later := activeAlarm("fp-2", "db-01", "database", "disk full", "disk usage above 95 percent", 5*time.Minute)
	later.Count = 2
	// An unrelated alarm keeps the vectorizer fitting over >2 docs.
	other := activeAlarm("fp-3", "web-01", "frontend", "certificate expiring", "tls certificate expires in 5 days", 2*time.Minute)

	earlierID, _ := repo.Create(ctx, earlier)
	laterID, _ := repo.Create(ctx, later)
	repo.Create(ctx, other)

	a := newTestAnalyzer(repo, nil)
	a.RunOnce(ctx)

	dup, _ := repo.GetByID(ctx, laterID)
	if !dup.IsDuplicate {
		t.Fatal("later alarm was not marked duplicate")
	}
	if dup.ParentAlarmID == nil || *dup.ParentAlarmID != earlierID {
		t.Errorf("duplicate parent = %v, want %d", dup.ParentAlarmID, earlierID)
	}
	if dup.Status != alarm.StatusSuppressed {
		t.Errorf("duplicate status = %q, want suppressed", dup.Status)
	}
	if dup.SimilarityScore < 0.8 {
		t.Errorf("similarity score = %v, want >= 0.8", dup.SimilarityScore)
	}

	parent, _ := repo.GetByID(ctx, earlierID)
	if parent.Count != 3 {
		t.Errorf("parent count = %d, want 3 (1 + duplicate's 2)", parent.Count)
	}
	if parent.IsDuplicate {
		t.Error("surviving alarm must not be a duplicate")
	}
}

func TestAnalyzer_HostLevelGroup(t *testing.T) {
	repo := testutil.NewMockAlarmRepository()
	ctx := context.Background()

	first := activeAlarm("fp-1", "db-01", "database", "high cpu load", "sustained cpu saturation", 55*time.Minute)
	first.Severity = alarm.SeverityCritical
	second := activeAlarm("fp-2", "db-01", "storage", "raid degraded", "disk array lost redundancy", 50*time.Minute)
	// Far enough in time from the db-01 pair that temporal proximity alone
	// stays under the edge threshold.
	unrelated := activeAlarm("fp-3", "mail-09", "smtp", "queue backlog", "outbound mail delayed", 5*time.Minute)

	firstID, _ := repo.Create(ctx, first)
	secondID, _ := repo.Create(ctx, second)
	repo.Create(ctx, unrelated)

	a := newTestAnalyzer(repo, nil)
	a.RunOnce(ctx)

	groups := a.Snapshot()
	if len(groups) != 1 {
		t.Fatalf("got %d groups, want 1", len(groups))
	}
	g := groups[0]
	if g.PrimaryAlarmID != firstID {
		t.Errorf("primary = %d, want earliest alarm %d", g.PrimaryAlarmID, firstID)
	}
	if len(g.RelatedAlarmIDs) != 1 || g.RelatedAlarmIDs[0] != secondID {
		t.Errorf("related = %v, want [%d]", g.RelatedAlarmIDs, secondID)
	}
	if g.Type != "host_level" {
		t.Errorf("group type = %q, want host_level", g.Type)
	}
	// 0.5 base + 0.3 critical + 0.2 host + 0.1 related = 1.0 capped
	if g.RootCauseProbability < 0.99 {
		t.Errorf("root cause probability = %v, want 1.0", g.RootCauseProbability)
	}
	if len(g.RecommendedActions) == 0 {
		t.Fatal("no recommended actions")
	}
	if g.RecommendedActions[0] != "URGENT: investigate the primary alarm first, it is the likely root cause" {
		t.Errorf("first action = %q, want urgent prefix", g.RecommendedActions[0])
	}
}

func TestAnalyzer_ServiceDependencyGroup(t *testing.T) {
	repo := testutil.NewMockAlarmRepository()
	ctx := context.Background()

	topo := &Topology{Dependencies: map[string]map[string]float64{
		"api": {"database": 0.9},
	}}

	db := activeAlarm("fp-1", "db-01", "database", "connection refused", "postgres not accepting connections", 40*time.Minute)
	api := activeAlarm("fp-2", "app-07", "api", "5xx spike", "error rate exceeded threshold", 35*time.Minute)
	repo.Create(ctx, db)
	repo.Create(ctx, api)

	a := newTestAnalyzer(repo, topo)
	a.RunOnce(ctx)

	groups := a.Snapshot()
	if len(groups) != 1 {
		t.Fatalf("got %d groups, want 1", len(groups))
	}
	if groups[0].Type != "service_level" {
		t.Errorf("group type = %q, want service_level", groups[0].Type)
	}
}

func TestAnalyzer_AutoResolve(t *testing.T) {
	repo := testutil.NewMockAlarmRepository()
	ctx := context.Background()

	stale := activeAlarm("fp-1", "web-01", "frontend", "minor warning", "transient warning", 48*time.Hour)
	stale.Severity = alarm.SeverityInfo
	fresh := activeAlarm("fp-2", "web-02", "frontend", "minor warning", "transient warning", time.Minute)
	fresh.Severity = alarm.SeverityLow
	critical := activeAlarm("fp-3", "db-01", "database", "disk failure", "disk failed", 48*time.Hour)
	critical.Severity = alarm.SeverityCritical

	staleID, _ := repo.Create(ctx, stale)
	freshID, _ := repo.Create(ctx, fresh)
	criticalID, _ := repo.Create(ctx, critical)

	a := newTestAnalyzer(repo, nil)
	a.RunOnce(ctx)

	resolved, _ := repo.GetByID(ctx, staleID)
	if resolved.Status != alarm.StatusResolved {
		t.Errorf("stale info alarm status = %q, want resolved", resolved.Status)
	}
	if resolved.ResolvedAt == nil {
		t.Error("resolved_at not set")
	}

	kept, _ := repo.GetByID(ctx, freshID)
	if kept.Status != alarm.StatusActive {
		t.Errorf("fresh alarm status = %q, want active", kept.Status)
	}
	crit, _ := repo.GetByID(ctx, criticalID)
	if crit.Status != alarm.StatusActive {
		t.Errorf("critical alarm must never auto-resolve, got %q", crit.Status)
	}
}

func TestAnalyzer_VectorizationFailureDegrades(t *testing.T) {
	repo := testutil.NewMockAlarmRepository()
	ctx := context.Background()

	only := activeAlarm("fp-1", "db-01", "database", "disk full", "disk usage high", 5*time.Minute)
	id, _ := repo.Create(ctx, only)

	a := newTestAnalyzer(repo, nil)
	a.RunOnce(ctx)

	// With a single alarm the vectorizer cannot fit; the pass must still
	// complete without mutating the alarm.
	e, _ := repo.GetByID(ctx, id)
	if e.IsDuplicate || e.Status != alarm.StatusActive {
		t.Errorf("alarm mutated on degraded pass: %+v", e)
	}
}

func TestTopology_DependencyStrength(t *testing.T) {
	topo := &Topology{Dependencies: map[string]map[string]float64{
		"api": {"database": 0.9, "cache": 0.5},
	}}

	if got := topo.DependencyStrength("api", "database"); got != 0.9 {
		t.Errorf("strength = %v, want 0.9", got)
	}
	if got := topo.DependencyStrength("database", "api"); got != 0.9 {
		t.Errorf("reverse strength = %v, want 0.9", got)
	}
	if got := topo.DependencyStrength("api", "smtp"); got != 0 {
		t.Errorf("unrelated strength = %v, want 0", got)
	}
	if got := topo.DependencyStrength("", "database"); got != 0 {
		t.Errorf("empty service strength = %v, want 0", got)
	}
}
