// Package emit delivers flagged findings to external systems: webhooks,
// syslog, and Sentry. Everything here is fire-and-forget; a slow or broken
// sink must never delay a detector check.
package emit

import (
	"os"
	"time"

	"github.com/agentfence/agentfence/internal/threat"
)

// Event types produced by the Emitter.
const (
	TypeFinding      = "finding"
	TypeScanComplete = "scan_complete"
)

// Event is one unit of external emission. For TypeFinding the Finding and
// Input fields are populated; lifecycle events carry their data in Fields.
type Event struct {
	Level      threat.Severity
	Type       string
	Timestamp  time.Time
	InstanceID string
	Finding    threat.Result
	Input      string
	Fields     map[string]any
}

// DefaultInstanceID returns the hostname or "agentfence" as fallback.
func DefaultInstanceID() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "agentfence"
}

// payload is the JSON structure shared by the webhook and syslog sinks.
type payload struct {
	Level       string         `json:"level"`
	Type        string         `json:"type"`
	Timestamp   string         `json:"timestamp"`
	Instance    string         `json:"agentfence_instance"`
	Detector    string         `json:"detector,omitempty"`
	RuleID      string         `json:"rule_id,omitempty"`
	Description string         `json:"description,omitempty"`
	Evidence    string         `json:"evidence,omitempty"`
	Input       string         `json:"input,omitempty"`
	Fields      map[string]any `json:"fields,omitempty"`
}

func payloadFor(event Event) payload {
	p := payload{
		Level:     event.Level.String(),
		Type:      event.Type,
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339Nano),
		Instance:  event.InstanceID,
		Fields:    event.Fields,
	}
	if event.Type == TypeFinding {
		p.Detector = event.Finding.Detector.String()
		p.RuleID = event.Finding.RuleID
		p.Description = event.Finding.Description
		p.Evidence = event.Finding.Evidence
		p.Input = event.Input
	}
	return p
}
