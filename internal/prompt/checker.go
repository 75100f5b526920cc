// Package prompt implements the prompt injection checker. It classifies
// natural-language strings against four rule families: instruction-override,
// role-hijack, fake-delimiter injection, and privilege-escalation phrasing.
// Matching is substring/pattern based only; there is no semantic inference.
package prompt

import (
	"regexp"

	"github.com/agentfence/agentfence/internal/normalize"
	"github.com/agentfence/agentfence/internal/threat"
)

// Checker classifies natural-language strings. It is stateless and safe for
// unsynchronized concurrent use.
type Checker struct {
	corpus *threat.Corpus
}

// New creates a Checker from a rule corpus. A nil corpus selects the
// built-in injection rules.
func New(corpus *threat.Corpus) *Checker {
	if corpus == nil {
		corpus = threat.MustCorpus(DefaultRules())
	}
	return &Checker{corpus: corpus}
}

// Check classifies one prompt. The input is folded (case, whitespace runs,
// zero-width characters, confusables) before matching so keyword break-up
// tricks do not evade the rule families. Highest-severity match wins; equal
// severities resolve to the earliest-declared rule.
func (c *Checker) Check(prompt string) threat.Result {
	var best threat.Hit
	for _, folded := range []string{normalize.Fold(prompt), normalize.FoldTight(prompt)} {
		if folded == "" {
			continue
		}
		if hit, ok := c.corpus.Match(folded); ok && threat.Better(best, hit) {
			best = hit
		}
	}
	if best.Rule == nil {
		return threat.Clean(threat.PromptChecker)
	}
	return threat.FromHit(threat.PromptChecker, best)
}

// DefaultRules returns the built-in injection corpus. Patterns are written
// lowercase because matching runs on folded text. Rule families and tiers:
// privilege-escalation (critical), instruction-override and fake-delimiter
// (high), role-hijack (medium).
func DefaultRules() []threat.Rule {
	return []threat.Rule{
		// --- privilege escalation ---
		{
			ID:          "pr.privilege-escalation",
			Severity:    threat.SeverityCritical,
			Description: "privilege escalation phrasing",
			Pattern: regexp.MustCompile(`enable\s+developer\s+mode|` +
				`(disable|bypass|ignore|remove|turn\s+off)\s+(all\s+)?(your\s+|the\s+)?(safety|security|content)\s+(filters?|guardrails?|checks?|restrictions?|polic(y|ies))|` +
				`without\s+(any\s+)?(restrictions?|limitations?|filters?)|` +
				`you\s+(have|are\s+granted)\s+(root|admin|unrestricted)\s+(access|privileges?)`),
		},
		{
			ID:          "pr.prompt-exfiltration",
			Severity:    threat.SeverityCritical,
			Description: "attempt to reveal hidden system instructions",
			Pattern: regexp.MustCompile(`(reveal|show|print|repeat|output|display|leak)\s+(me\s+)?(your\s+|the\s+)?(system\s+prompt|hidden\s+(instructions?|prompt)|initial\s+instructions?)|` +
				`what\s+(is|are)\s+your\s+(system\s+prompt|hidden\s+instructions?)`),
		},

		// --- instruction override ---
		{
			ID:          "pr.instruction-override",
			Severity:    threat.SeverityHigh,
			Description: "instruction override language",
			Pattern: regexp.MustCompile(`(ignore|disregard|forget|discard|override)\s+(all\s+|any\s+)?(previous|prior|above|earlier|preceding|your)\s+(instructions?|prompts?|rules?|guidelines?|directives?|context)|` +
				`do\s+not\s+follow\s+(the\s+|your\s+)?(previous|prior|system)\s+instructions?|` +
				`new\s+instructions?\s+(follow|below|supersede)`),
		},

		// --- fake delimiters / fake system tags ---
		{
			ID:          "pr.fake-delimiter",
			Severity:    threat.SeverityHigh,
			Description: "fake system tag or conversation delimiter injection",
			Pattern: regexp.MustCompile(`<\s*/?\s*(system|assistant_instructions?|im_start|im_end)\s*>|` +
				`\[\s*/?\s*(system|inst)\s*\]|` +
				`<\|\s*(im_start|im_end|system|endoftext)\s*\|>|` +
				`#{2,}\s*system\s*:|` +
				`(begin|end)\s+(system|hidden)\s+(prompt|instructions?)`),
		},

		// --- role hijack ---
		{
			ID:          "pr.role-hijack",
			Severity:    threat.SeverityMedium,
			Description: "role or persona hijack attempt",
			Pattern: regexp.MustCompile(`you\s+are\s+(now|no\s+longer)\s|` +
				`pretend\s+(to\s+be|you\s+are)|` +
				`act\s+as\s+(a\s+|an\s+|my\s+)?(root|admin|dan|jailbroken|unrestricted|evil)|` +
				`from\s+now\s+on\s+you\s+(are|will|must)|` +
				`(adopt|assume)\s+the\s+(role|persona)\s+of`),
		},
	}
}
