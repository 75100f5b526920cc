package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/agentfence/agentfence/internal/threat"
)

func flagged(ruleID string, level threat.Severity) threat.Result {
	return threat.Flagged(threat.CommandValidator, level, ruleID, "test", "x")
}

func TestRecordCheck_Safe(t *testing.T) {
	m := New()
	m.RecordCheck(threat.Clean(threat.CommandValidator), time.Millisecond)

	body := scrape(t, m)
	if !strings.Contains(body, `agentfence_checks_total{detector="command",result="safe"} 1`) {
		t.Errorf("safe check not counted:\n%s", body)
	}
}

func TestRecordCheck_Flagged(t *testing.T) {
	m := New()
	m.RecordCheck(flagged("cmd.rm-recursive-root", threat.SeverityCritical), time.Millisecond)
	m.RecordCheck(flagged("cmd.fork-bomb", threat.SeverityCritical), time.Millisecond)

	body := scrape(t, m)
	if !strings.Contains(body, `agentfence_checks_total{detector="command",result="flagged"} 2`) {
		t.Errorf("flagged checks not counted:\n%s", body)
	}
	if !strings.Contains(body, `agentfence_findings_total{detector="command",severity="critical"} 2`) {
		t.Errorf("findings not counted by severity:\n%s", body)
	}
}

func TestRecordCheck_LatencyObserved(t *testing.T) {
	m := New()
	m.RecordCheck(threat.Clean(threat.PromptChecker), 2*time.Millisecond)

	body := scrape(t, m)
	if !strings.Contains(body, `agentfence_check_duration_seconds_count{detector="prompt"} 1`) {
		t.Errorf("latency not observed:\n%s", body)
	}
}

func TestScanLifecycle(t *testing.T) {
	m := New()
	m.ScanStarted()

	body := scrape(t, m)
	if !strings.Contains(body, "agentfence_active_scans 1") {
		t.Errorf("active gauge not incremented:\n%s", body)
	}

	m.ScanFinished()
	body = scrape(t, m)
	if !strings.Contains(body, "agentfence_active_scans 0") {
		t.Errorf("active gauge not decremented:\n%s", body)
	}
	if !strings.Contains(body, "agentfence_scans_total 1") {
		t.Errorf("scan total not counted:\n%s", body)
	}
}

func TestStatsHandler(t *testing.T) {
	m := New()
	m.RecordCheck(threat.Clean(threat.CommandValidator), time.Millisecond)
	m.RecordCheck(flagged("cmd.mkfs", threat.SeverityCritical), time.Millisecond)
	m.ScanStarted()
	m.ScanFinished()

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	w := httptest.NewRecorder()
	m.StatsHandler()(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var stats map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	checks := stats["checks"].(map[string]any)
	if checks["total"] != float64(2) || checks["safe"] != float64(1) || checks["flagged"] != float64(1) {
		t.Errorf("checks = %v", checks)
	}
	if checks["flag_rate"] != 0.5 {
		t.Errorf("flag_rate = %v", checks["flag_rate"])
	}
	if stats["scans"] != float64(1) {
		t.Errorf("scans = %v", stats["scans"])
	}
	top := stats["top_rules"].([]any)
	if len(top) != 1 {
		t.Fatalf("top_rules = %v", top)
	}
	if top[0].(map[string]any)["name"] != "cmd.mkfs" {
		t.Errorf("top rule = %v", top[0])
	}
}

func TestStatsHandler_Empty(t *testing.T) {
	m := New()
	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	w := httptest.NewRecorder()
	m.StatsHandler()(w, req)

	var stats map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if stats["checks"].(map[string]any)["flag_rate"] != float64(0) {
		t.Errorf("flag_rate on empty stats = %v", stats["checks"])
	}
}

func TestTopRulesCapped(t *testing.T) {
	m := New()
	for i := 0; i < maxTopEntries+50; i++ {
		m.RecordCheck(flagged(fmt.Sprintf("cmd.rule-%d", i), threat.SeverityLow), 0)
	}

	m.mu.Lock()
	size := len(m.topRuleHits)
	m.mu.Unlock()
	if size != maxTopEntries {
		t.Errorf("topRuleHits size = %d, want %d", size, maxTopEntries)
	}

	// Existing keys keep incrementing at capacity.
	m.RecordCheck(flagged("cmd.rule-0", threat.SeverityLow), 0)
	m.mu.Lock()
	count := m.topRuleHits["cmd.rule-0"]
	m.mu.Unlock()
	if count != 2 {
		t.Errorf("existing rule count = %d, want 2", count)
	}
}

func TestConcurrentAccess(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.RecordCheck(threat.Clean(threat.CommandValidator), time.Microsecond)
				m.RecordCheck(flagged("cmd.x", threat.SeverityHigh), time.Microsecond)
			}
		}()
	}
	wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.safeCount != 800 || m.flagCount != 800 {
		t.Errorf("counts = %d safe / %d flagged, want 800/800", m.safeCount, m.flagCount)
	}
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	m.PrometheusHandler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", w.Code)
	}
	return w.Body.String()
}
