// Package threat defines the shared vocabulary every detector emits into:
// severity levels, detector kinds, rules, rule corpora, and check results.
package threat

import "strings"

// Severity represents the weight of a rule and the aggregate level of a Result.
// Levels are totally ordered: None < Low < Medium < High < Critical.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns the lowercase string representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "none"
	}
}

// ParseSeverity converts a string to a Severity level.
// The comparison is case-insensitive. Returns SeverityNone for unrecognized values.
func ParseSeverity(s string) Severity {
	switch strings.ToLower(s) {
	case "low":
		return SeverityLow
	case "medium":
		return SeverityMedium
	case "high":
		return SeverityHigh
	case "critical":
		return SeverityCritical
	default:
		return SeverityNone
	}
}

// MarshalJSON encodes the severity as its lowercase string form.
func (s Severity) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON decodes a lowercase severity string.
func (s *Severity) UnmarshalJSON(data []byte) error {
	*s = ParseSeverity(strings.Trim(string(data), `"`))
	return nil
}

// Detector identifies which classification component produced a Result.
type Detector int

const (
	CommandValidator Detector = iota
	FileAccessMonitor
	PromptChecker
	ConnectionValidator
	MCPGuardian
)

// String returns the detector label used in audit logs and metrics.
func (d Detector) String() string {
	switch d {
	case CommandValidator:
		return "command"
	case FileAccessMonitor:
		return "fileaccess"
	case PromptChecker:
		return "prompt"
	case ConnectionValidator:
		return "endpoint"
	case MCPGuardian:
		return "mcp"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the detector as its string label.
func (d Detector) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

// UnmarshalJSON decodes a detector label.
func (d *Detector) UnmarshalJSON(data []byte) error {
	switch strings.Trim(string(data), `"`) {
	case "fileaccess":
		*d = FileAccessMonitor
	case "prompt":
		*d = PromptChecker
	case "endpoint":
		*d = ConnectionValidator
	case "mcp":
		*d = MCPGuardian
	default:
		*d = CommandValidator
	}
	return nil
}
