package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/opsgrid/alarmd/internal/config"
	"github.com/opsgrid/alarmd/internal/domain/alarm"
	"github.com/opsgrid/alarmd/internal/engine/correlation"
	"github.com/opsgrid/alarmd/internal/pkg/keymutex"
	"github.com/opsgrid/alarmd/internal/pkg/logger"
	"github.com/opsgrid/alarmd/internal/services"
	"github.com/opsgrid/alarmd/internal/testutil"
)

type stubProcessor struct {
	IDs     []int64
	FailAll bool
}

func (p *stubProcessor) Process(alarmID int64) error {
	if p.FailAll {
		return fmt.Errorf("queue is full")
	}
	p.IDs = append(p.IDs, alarmID)
	return nil
}

type serverFixture struct {
	server    *Server
	processor *stubProcessor
	alarms    *testutil.MockAlarmRepository
	rules     *testutil.MockSuppressionRepository
}

func newTestServer(t *testing.T) *serverFixture {
	t.Helper()
	log := logger.New(logger.Config{Level: "error", Format: "json"})
	locks := keymutex.New()

	alarms := testutil.NewMockAlarmRepository()
	rules := testutil.NewMockSuppressionRepository()
	windows := testutil.NewMockWindowRepository()

	alarmSvc := services.NewAlarmService(alarms, locks, log)
	suppSvc := services.NewSuppressionService(rules, nil, log)
	maintSvc := services.NewMaintenanceService(windows, suppSvc, log)

	topo := &correlation.Topology{Dependencies: map[string]map[string]float64{}}
	analyzer := correlation.NewAnalyzer(alarms, topo, locks, config.CorrelationConfig{
		Interval:         time.Minute,
		Window:           time.Hour,
		SampleLimit:      100,
		DedupThreshold:   0.8,
		EdgeThreshold:    0.3,
		TextSimThreshold: 0.7,
		AutoResolveAfter: 24 * time.Hour,
	}, log)

	proc := &stubProcessor{}
	srv := New(config.ServerConfig{Host: "127.0.0.1", Port: 0}, alarmSvc, suppSvc, maintSvc, analyzer, proc, log)
	return &serverFixture{server: srv, processor: proc, alarms: alarms, rules: rules}
}

func (f *serverFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestServer_IngestCreatesAndEnqueues(t *testing.T) {
	f := newTestServer(t)

	rec := f.do(t, http.MethodPost, "/api/alarms", map[string]interface{}{
		"source":   "node-exporter",
		"title":    "disk usage above 90%",
		"severity": "high",
		"host":     "db-01",
		"service":  "postgres",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["created"] != true {
		t.Errorf("created = %v, want true", body["created"])
	}
	if len(f.processor.IDs) != 1 {
		t.Fatalf("enqueued %d alarms, want 1", len(f.processor.IDs))
	}

	// The same occurrence again folds into the existing alarm.
	rec = f.do(t, http.MethodPost, "/api/alarms", map[string]interface{}{
		"source":   "node-exporter",
		"title":    "disk usage above 90%",
		"severity": "high",
		"host":     "db-01",
		"service":  "postgres",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("repeat status = %d, want 202: %s", rec.Code, rec.Body.String())
	}
	if len(f.processor.IDs) != 2 {
		t.Errorf("enqueued %d alarms after repeat, want 2", len(f.processor.IDs))
	}
}

func TestServer_IngestSurvivesFullQueue(t *testing.T) {
	f := newTestServer(t)
	f.processor.FailAll = true

	rec := f.do(t, http.MethodPost, "/api/alarms", map[string]interface{}{
		"source": "monitor",
		"title":  "cpu saturation",
	})
	// The alarm is stored even when the pipeline cannot accept it.
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
}

func TestServer_IngestRejectsBadPayload(t *testing.T) {
	f := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/alarms", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed JSON status = %d, want 400", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/api/alarms", map[string]interface{}{"source": "monitor"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing title status = %d, want 400", rec.Code)
	}
}

func TestServer_AlarmLifecycle(t *testing.T) {
	f := newTestServer(t)

	rec := f.do(t, http.MethodPost, "/api/alarms", map[string]interface{}{
		"source": "monitor",
		"title":  "service down",
		"host":   "web-01",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("ingest status = %d", rec.Code)
	}
	id := int64(decodeBody(t, rec)["id"].(float64))

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/alarms/%d/acknowledge", id), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("acknowledge status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/api/alarms/%d", id), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	if got := decodeBody(t, rec)["status"]; got != alarm.StatusAcknowledged {
		t.Errorf("alarm status = %v, want acknowledged", got)
	}

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/alarms/%d/resolve", id), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve status = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestServer_GetAlarmErrors(t *testing.T) {
	f := newTestServer(t)

	rec := f.do(t, http.MethodGet, "/api/alarms/9999", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing alarm status = %d, want 404", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/api/alarms/zero", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want 400", rec.Code)
	}
}

func TestServer_ListAlarmsFilters(t *testing.T) {
	f := newTestServer(t)

	for i, host := range []string{"db-01", "db-01", "web-01"} {
		rec := f.do(t, http.MethodPost, "/api/alarms", map[string]interface{}{
			"source": "monitor",
			"title":  fmt.Sprintf("latency %d on %s", i, host),
			"host":   host,
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("ingest status = %d", rec.Code)
		}
	}

	rec := f.do(t, http.MethodGet, "/api/alarms?host=db-01", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	alarms := decodeBody(t, rec)["alarms"].([]interface{})
	if len(alarms) != 2 {
		t.Errorf("filtered list returned %d alarms, want 2", len(alarms))
	}
}

func TestServer_ReprocessAlarm(t *testing.T) {
	f := newTestServer(t)

	rec := f.do(t, http.MethodPost, "/api/alarms", map[string]interface{}{
		"source": "monitor",
		"title":  "stuck alarm",
	})
	id := int64(decodeBody(t, rec)["id"].(float64))

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/alarms/%d/process", id), nil)
	if rec.Code != http.StatusAccepted {
		t.Errorf("reprocess status = %d, want 202", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/api/alarms/9999/process", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("reprocess of missing alarm status = %d, want 404", rec.Code)
	}

	f.processor.FailAll = true
	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/alarms/%d/process", id), nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("reprocess with full queue status = %d, want 503", rec.Code)
	}
}

func TestServer_SuppressionRules(t *testing.T) {
	f := newTestServer(t)

	rec := f.do(t, http.MethodPost, "/api/suppressions", map[string]interface{}{
		"name": "silence db-01",
		"type": "manual",
		"conditions": map[string]interface{}{
			"manual": map[string]interface{}{
				"mode":   "exact",
				"fields": map[string]interface{}{"host": "db-01"},
			},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	id := int64(decodeBody(t, rec)["id"].(float64))

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/api/suppressions/%d", id), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "active" {
		t.Errorf("rule status = %v, want active default", body["status"])
	}

	rec = f.do(t, http.MethodPut, fmt.Sprintf("/api/suppressions/%d/status", id), map[string]interface{}{
		"status": "paused",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodPut, fmt.Sprintf("/api/suppressions/%d/status", id), map[string]interface{}{
		"status": "bogus",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid status update = %d, want 400", rec.Code)
	}
}

func TestServer_SuppressionValidation(t *testing.T) {
	f := newTestServer(t)

	// Type says conditional but the conditional variant is absent.
	rec := f.do(t, http.MethodPost, "/api/suppressions", map[string]interface{}{
		"name": "mismatched",
		"type": "conditional",
		"conditions": map[string]interface{}{
			"manual": map[string]interface{}{"mode": "exact"},
		},
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("variant mismatch status = %d, want 400: %s", rec.Code, rec.Body.String())
	}
}

func TestServer_MaintenanceWindow(t *testing.T) {
	f := newTestServer(t)

	start := time.Now().Add(time.Hour)
	rec := f.do(t, http.MethodPost, "/api/maintenance-windows", map[string]interface{}{
		"name":           "db upgrade",
		"start_time":     start.Format(time.RFC3339),
		"end_time":       start.Add(2 * time.Hour).Format(time.RFC3339),
		"affected_hosts": []string{"db-01"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["rule_id"] == nil || body["rule_id"].(float64) == 0 {
		t.Errorf("rule_id = %v, want the synthesized suppression rule id", body["rule_id"])
	}
	if len(f.rules.Rules) != 1 {
		t.Errorf("stored %d suppression rules, want 1 synthesized", len(f.rules.Rules))
	}
}

func TestServer_Status(t *testing.T) {
	f := newTestServer(t)

	rec := f.do(t, http.MethodGet, "/api/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if decodeBody(t, rec)["status"] != "ok" {
		t.Error("health body missing ok status")
	}
}

func TestServer_Correlations(t *testing.T) {
	f := newTestServer(t)

	rec := f.do(t, http.MethodGet, "/api/correlations", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if _, ok := decodeBody(t, rec)["groups"]; !ok {
		t.Error("response missing groups key")
	}
}
