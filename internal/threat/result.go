package threat

// maxEvidenceRunes caps the evidence substring carried in a Result so that
// attacker-controlled input cannot bloat audit logs or webhook payloads.
const maxEvidenceRunes = 100

// Result describes the outcome of checking one candidate input.
// Invariants: Safe == (Level == SeverityNone); RuleID is set iff a rule fired.
// Results are immutable values, produced once per check call and owned by
// the caller.
type Result struct {
	Safe        bool     `json:"safe"`
	Level       Severity `json:"level"`
	Detector    Detector `json:"detector"`
	Description string   `json:"description,omitempty"`
	RuleID      string   `json:"rule_id,omitempty"`
	Evidence    string   `json:"evidence,omitempty"`
}

// Clean returns the safe Result for a detector.
func Clean(d Detector) Result {
	return Result{Safe: true, Level: SeverityNone, Detector: d}
}

// FromHit builds a flagged Result from a winning rule hit.
func FromHit(d Detector, h Hit) Result {
	return Flagged(d, h.Rule.Severity, h.Rule.ID, h.Rule.Description, h.Evidence)
}

// Flagged builds a non-safe Result, truncating evidence to a bounded length.
func Flagged(d Detector, level Severity, ruleID, description, evidence string) Result {
	if runes := []rune(evidence); len(runes) > maxEvidenceRunes {
		evidence = string(runes[:maxEvidenceRunes])
	}
	return Result{
		Safe:        false,
		Level:       level,
		Detector:    d,
		Description: description,
		RuleID:      ruleID,
		Evidence:    evidence,
	}
}
