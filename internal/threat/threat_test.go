package threat

import (
	"encoding/json"
	"regexp"
	"strings"
	"testing"
)

func TestSeverityOrdering(t *testing.T) {
	levels := []Severity{SeverityNone, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
	for i := 1; i < len(levels); i++ {
		if levels[i-1] >= levels[i] {
			t.Errorf("expected %s < %s", levels[i-1], levels[i])
		}
	}
}

func TestParseSeverityRoundTrip(t *testing.T) {
	for _, s := range []Severity{SeverityNone, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical} {
		if got := ParseSeverity(s.String()); got != s {
			t.Errorf("ParseSeverity(%q) = %v, want %v", s.String(), got, s)
		}
	}
	if got := ParseSeverity("CRITICAL"); got != SeverityCritical {
		t.Errorf("expected case-insensitive parse, got %v", got)
	}
	if got := ParseSeverity("bogus"); got != SeverityNone {
		t.Errorf("expected unknown severity to parse as none, got %v", got)
	}
}

func TestResultJSONEncodesLowercase(t *testing.T) {
	r := Flagged(ConnectionValidator, SeverityHigh, "ep.typosquat", "possible typosquat", "gooogle.com")
	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, want := range []string{`"level":"high"`, `"detector":"endpoint"`, `"safe":false`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("expected %s in %s", want, data)
		}
	}
}

func TestNewCorpusRejectsDuplicateIDs(t *testing.T) {
	re := regexp.MustCompile(`x`)
	_, err := NewCorpus([]Rule{
		{ID: "a", Severity: SeverityLow, Pattern: re},
		{ID: "a", Severity: SeverityHigh, Pattern: re},
	})
	if err == nil {
		t.Fatal("expected duplicate id error")
	}
}

func TestNewCorpusRejectsEmptyMatcher(t *testing.T) {
	_, err := NewCorpus([]Rule{{ID: "a", Severity: SeverityLow}})
	if err == nil {
		t.Fatal("expected missing matcher error")
	}
}

func TestCorpusMatchHighestSeverityWins(t *testing.T) {
	c := MustCorpus([]Rule{
		{ID: "low", Severity: SeverityLow, Pattern: regexp.MustCompile(`evil`)},
		{ID: "crit", Severity: SeverityCritical, Pattern: regexp.MustCompile(`evil payload`)},
	})
	hit, ok := c.Match("an evil payload here")
	if !ok {
		t.Fatal("expected a hit")
	}
	if hit.Rule.ID != "crit" {
		t.Errorf("expected highest-severity rule to win, got %s", hit.Rule.ID)
	}
}

func TestCorpusMatchTieBreaksOnDeclarationOrder(t *testing.T) {
	c := MustCorpus([]Rule{
		{ID: "first", Severity: SeverityHigh, Pattern: regexp.MustCompile(`evil`)},
		{ID: "second", Severity: SeverityHigh, Pattern: regexp.MustCompile(`payload`)},
	})
	hit, ok := c.Match("evil payload")
	if !ok {
		t.Fatal("expected a hit")
	}
	if hit.Rule.ID != "first" {
		t.Errorf("expected earliest-declared rule on tie, got %s", hit.Rule.ID)
	}
}

func TestCorpusMatchOverBudgetFailsSafe(t *testing.T) {
	c := MustCorpus([]Rule{
		{ID: "never", Severity: SeverityMedium, Pattern: regexp.MustCompile(`zzz-does-not-appear`)},
	})
	huge := strings.Repeat("a", MaxMatchBytes+1)
	hit, ok := c.Match(huge)
	if !ok {
		t.Fatal("expected over-budget input to be flagged, not passed")
	}
	if hit.Rule.ID != "never" {
		t.Errorf("expected the rule under test to fire, got %s", hit.Rule.ID)
	}
}

func TestCorpusMatchPredicateRule(t *testing.T) {
	c := MustCorpus([]Rule{
		{
			ID:       "pred",
			Severity: SeverityHigh,
			Match: func(s string) (string, bool) {
				if strings.Contains(s, "needle") {
					return "needle", true
				}
				return "", false
			},
		},
	})
	if _, ok := c.Match("haystack with needle inside"); !ok {
		t.Error("expected predicate rule to fire")
	}
	if _, ok := c.Match("plain haystack"); ok {
		t.Error("expected no hit")
	}
}

func TestFlaggedTruncatesEvidence(t *testing.T) {
	r := Flagged(CommandValidator, SeverityHigh, "x", "d", strings.Repeat("e", 500))
	if len([]rune(r.Evidence)) != 100 {
		t.Errorf("expected evidence truncated to 100 runes, got %d", len([]rune(r.Evidence)))
	}
}

func TestCleanInvariant(t *testing.T) {
	r := Clean(PromptChecker)
	if !r.Safe || r.Level != SeverityNone || r.RuleID != "" {
		t.Errorf("clean result violates invariant: %+v", r)
	}
}
