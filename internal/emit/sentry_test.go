package emit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/agentfence/agentfence/internal/threat"
)

// captureTransport records events handed to the Sentry client.
type captureTransport struct {
	mu     sync.Mutex
	events []*sentry.Event
}

func (t *captureTransport) Configure(sentry.ClientOptions) {}

func (t *captureTransport) SendEvent(event *sentry.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, event)
}

func (t *captureTransport) Flush(time.Duration) bool { return true }

func (t *captureTransport) FlushWithContext(context.Context) bool { return true }

func (t *captureTransport) Close() {}

func (t *captureTransport) captured() []*sentry.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*sentry.Event(nil), t.events...)
}

func newTestSentrySink(t *testing.T, minLevel threat.Severity) (*SentrySink, *captureTransport) {
	t.Helper()

	tr := &captureTransport{}
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:       "https://key@sentry.example.com/1",
		Transport: tr,
	})
	if err != nil {
		t.Fatalf("sentry client: %v", err)
	}

	return &SentrySink{
		hub:      sentry.NewHub(client, sentry.NewScope()),
		minLevel: minLevel,
	}, tr
}

func TestNewSentrySink_InvalidDSN(t *testing.T) {
	if _, err := NewSentrySink("not-a-dsn", "test", threat.SeverityCritical); err == nil {
		t.Error("expected error for invalid DSN")
	}
}

func TestSentrySink_CapturesFinding(t *testing.T) {
	sink, tr := newTestSentrySink(t, threat.SeverityHigh)
	defer func() { _ = sink.Close() }()

	event := findingEvent(threat.SeverityCritical)
	if err := sink.Emit(context.Background(), event); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	got := tr.captured()
	if len(got) != 1 {
		t.Fatalf("captured %d events, want 1", len(got))
	}
	ev := got[0]
	if ev.Level != sentry.LevelFatal {
		t.Errorf("level = %v, want fatal", ev.Level)
	}
	if ev.Tags["detector"] != "command" {
		t.Errorf("detector tag = %q", ev.Tags["detector"])
	}
	if ev.Tags["rule_id"] != "cmd.rm-recursive-root" {
		t.Errorf("rule_id tag = %q", ev.Tags["rule_id"])
	}
	if ev.Extra["input"] != "rm -rf /" {
		t.Errorf("input extra = %v", ev.Extra["input"])
	}
}

func TestSentrySink_BelowMinLevelDropped(t *testing.T) {
	sink, tr := newTestSentrySink(t, threat.SeverityCritical)
	defer func() { _ = sink.Close() }()

	if err := sink.Emit(context.Background(), findingEvent(threat.SeverityHigh)); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	if got := tr.captured(); len(got) != 0 {
		t.Errorf("captured %d events, want 0", len(got))
	}
}

func TestSentrySink_ScanEvent(t *testing.T) {
	sink, tr := newTestSentrySink(t, threat.SeverityMedium)
	defer func() { _ = sink.Close() }()

	err := sink.Emit(context.Background(), Event{
		Level:      threat.SeverityHigh,
		Type:       TypeScanComplete,
		Timestamp:  time.Now(),
		InstanceID: "test",
		Fields:     map[string]any{"scan_id": "scan-9", "flagged": 3},
	})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}

	got := tr.captured()
	if len(got) != 1 {
		t.Fatalf("captured %d events, want 1", len(got))
	}
	if got[0].Message != TypeScanComplete {
		t.Errorf("message = %q", got[0].Message)
	}
	if got[0].Extra["scan_id"] != "scan-9" {
		t.Errorf("scan_id extra = %v", got[0].Extra["scan_id"])
	}
}

func TestSentryLevel(t *testing.T) {
	tests := []struct {
		in   threat.Severity
		want sentry.Level
	}{
		{threat.SeverityNone, sentry.LevelInfo},
		{threat.SeverityLow, sentry.LevelInfo},
		{threat.SeverityMedium, sentry.LevelWarning},
		{threat.SeverityHigh, sentry.LevelError},
		{threat.SeverityCritical, sentry.LevelFatal},
	}
	for _, tt := range tests {
		if got := sentryLevel(tt.in); got != tt.want {
			t.Errorf("sentryLevel(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSentrySink_NilClose(t *testing.T) {
	var sink *SentrySink
	if err := sink.Close(); err != nil {
		t.Errorf("nil Close returned %v", err)
	}
}
