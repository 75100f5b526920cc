package emit

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/agentfence/agentfence/internal/threat"
)

const sentryFlushTimeout = 2 * time.Second

// SentrySink reports high-severity findings to Sentry. It owns its own hub
// so the global Sentry state is never touched.
type SentrySink struct {
	hub      *sentry.Hub
	minLevel threat.Severity
}

// NewSentrySink creates a SentrySink for the given DSN. Events below
// minLevel are dropped before they reach the Sentry client.
func NewSentrySink(dsn, environment string, minLevel threat.Severity) (*SentrySink, error) {
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
		ServerName:  DefaultInstanceID(),
	})
	if err != nil {
		return nil, fmt.Errorf("emit: sentry client: %w", err)
	}

	return &SentrySink{
		hub:      sentry.NewHub(client, sentry.NewScope()),
		minLevel: minLevel,
	}, nil
}

// sentryLevel maps detection severity to a Sentry event level.
func sentryLevel(s threat.Severity) sentry.Level {
	switch s {
	case threat.SeverityCritical:
		return sentry.LevelFatal
	case threat.SeverityHigh:
		return sentry.LevelError
	case threat.SeverityMedium:
		return sentry.LevelWarning
	default:
		return sentry.LevelInfo
	}
}

// Emit reports an event to Sentry. Events below the minimum severity are
// silently dropped. Delivery is asynchronous; errors surface via Flush.
func (s *SentrySink) Emit(_ context.Context, event Event) error {
	if event.Level < s.minLevel {
		return nil
	}

	ev := sentry.NewEvent()
	ev.Level = sentryLevel(event.Level)
	ev.Timestamp = event.Timestamp
	ev.ServerName = event.InstanceID
	ev.Tags = map[string]string{
		"event_type": event.Type,
		"level":      event.Level.String(),
	}

	if event.Type == TypeFinding {
		ev.Message = fmt.Sprintf("%s: %s", event.Finding.RuleID, event.Finding.Description)
		ev.Tags["detector"] = event.Finding.Detector.String()
		ev.Tags["rule_id"] = event.Finding.RuleID
		ev.Extra = map[string]any{
			"evidence": event.Finding.Evidence,
			"input":    event.Input,
		}
	} else {
		ev.Message = event.Type
		ev.Extra = event.Fields
	}

	s.hub.CaptureEvent(ev)
	return nil
}

// Close flushes buffered events, waiting at most sentryFlushTimeout.
func (s *SentrySink) Close() error {
	if s == nil || s.hub == nil {
		return nil
	}
	if !s.hub.Client().Flush(sentryFlushTimeout) {
		return fmt.Errorf("emit: sentry flush timed out after %s", sentryFlushTimeout)
	}
	return nil
}
