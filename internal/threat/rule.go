package threat

import (
	"fmt"
	"regexp"
)

// MaxMatchBytes caps the number of bytes any rule is matched against.
// Go's RE2 engine is linear-time, so the budget is an input-size cap rather
// than a backtracking step limit. Input exceeding the cap is treated as
// matching the rule under test: in a security gate, ambiguous-but-suspicious
// input defaults to flagged, not silently passed.
const MaxMatchBytes = 64 * 1024

// Rule is a single pattern or predicate in a detector's corpus.
// Either Pattern or Match must be set; if both are set, Pattern is tried first.
// Rules are immutable once the Corpus is constructed.
type Rule struct {
	// ID is a short identifier unique within a detector's corpus
	// (e.g. "cmd.rm-recursive-root").
	ID string

	// Severity is the weight this rule contributes when it fires.
	Severity Severity

	// Description explains why the rule fired, shown to the orchestrator.
	Description string

	// Priority breaks ties between equal-severity hits: the lowest
	// priority number wins. Corpus construction assigns declaration
	// order when left at zero.
	Priority int

	// Pattern is a compiled regex matcher. May be nil if Match is set.
	Pattern *regexp.Regexp

	// Match is a predicate matcher for checks regex cannot express
	// (e.g. argument-order-independent flag clusters). It returns the
	// matched evidence substring and whether the rule fired.
	Match func(s string) (evidence string, ok bool)
}

// fire tests the rule against s and returns the evidence substring.
// Inputs beyond MaxMatchBytes count as a hit on this rule (fail-safe).
func (r *Rule) fire(s string) (string, bool) {
	if len(s) > MaxMatchBytes {
		return "input exceeds matching budget", true
	}
	if r.Pattern != nil {
		if loc := r.Pattern.FindString(s); loc != "" {
			return loc, true
		}
	}
	if r.Match != nil {
		if ev, ok := r.Match(s); ok {
			return ev, true
		}
	}
	return "", false
}

// Corpus is an immutable, ordered list of rules for one detector.
// Construct once at detector-initialization time; share freely across
// goroutines; a Corpus is never mutated after NewCorpus returns.
type Corpus struct {
	rules []Rule
}

// NewCorpus validates and freezes an ordered rule list. Duplicate rule ids
// and rules with no matcher are construction-time programming errors; the
// only caller-visible faults in the core.
func NewCorpus(rules []Rule) (*Corpus, error) {
	seen := make(map[string]struct{}, len(rules))
	frozen := make([]Rule, len(rules))
	for i, r := range rules {
		if r.ID == "" {
			return nil, fmt.Errorf("rule %d: empty id", i)
		}
		if _, dup := seen[r.ID]; dup {
			return nil, fmt.Errorf("duplicate rule id %q", r.ID)
		}
		seen[r.ID] = struct{}{}
		if r.Pattern == nil && r.Match == nil {
			return nil, fmt.Errorf("rule %q: no pattern or predicate", r.ID)
		}
		if r.Priority == 0 {
			r.Priority = i + 1
		}
		frozen[i] = r
	}
	return &Corpus{rules: frozen}, nil
}

// MustCorpus wraps NewCorpus and panics on error. Use only for built-in
// rule sets whose validity is guaranteed by tests.
func MustCorpus(rules []Rule) *Corpus {
	c, err := NewCorpus(rules)
	if err != nil {
		panic(fmt.Sprintf("BUG: built-in rule corpus invalid: %v", err))
	}
	return c
}

// Len returns the number of rules in the corpus.
func (c *Corpus) Len() int { return len(c.rules) }

// Hit describes the winning rule match over one or more inputs.
type Hit struct {
	Rule     *Rule
	Evidence string
}

// Match evaluates every rule against s and returns the highest-severity hit.
// Equal severities are broken by the lowest rule priority. Returns false
// when no rule fires.
func (c *Corpus) Match(s string) (Hit, bool) {
	var best Hit
	for i := range c.rules {
		r := &c.rules[i]
		ev, ok := r.fire(s)
		if !ok {
			continue
		}
		if best.Rule == nil || r.Severity > best.Rule.Severity ||
			(r.Severity == best.Rule.Severity && r.Priority < best.Rule.Priority) {
			best = Hit{Rule: r, Evidence: ev}
		}
	}
	return best, best.Rule != nil
}

// Better reports whether candidate should replace current under
// maximum-severity-wins aggregation with lowest-priority tie-breaks.
func Better(current, candidate Hit) bool {
	if candidate.Rule == nil {
		return false
	}
	if current.Rule == nil {
		return true
	}
	if candidate.Rule.Severity != current.Rule.Severity {
		return candidate.Rule.Severity > current.Rule.Severity
	}
	return candidate.Rule.Priority < current.Rule.Priority
}
