// Package command implements the shell command validator. It decomposes
// shell-like strings into chained sub-commands and substitution spans,
// unwraps encoded payloads, and classifies every piece against the
// destructive-command rule corpus.
package command

import (
	"github.com/agentfence/agentfence/internal/normalize"
	"github.com/agentfence/agentfence/internal/threat"
)

// subshellRule fires on any command-substitution or subshell span. The span
// is an elevation vector by itself even when no destructive pattern matches
// inside it. Priority sits below every corpus rule so real destructive hits
// win the tie-break.
var subshellRule = threat.Rule{
	ID:          "cmd.subshell",
	Severity:    threat.SeverityMedium,
	Description: "command substitution or subshell span",
	Priority:    1 << 16,
}

// Validator classifies shell-like strings. It is a pure function of its
// argument plus the immutable rule corpus: no network or filesystem access,
// safe for unsynchronized concurrent use.
type Validator struct {
	corpus   *threat.Corpus
	maxDepth int
}

// Option configures a Validator.
type Option func(*Validator)

// WithDecodeDepth overrides the encoded-payload unwrap depth.
func WithDecodeDepth(depth int) Option {
	return func(v *Validator) { v.maxDepth = depth }
}

// New creates a Validator from a rule corpus. A nil corpus selects the
// built-in destructive-command rules.
func New(corpus *threat.Corpus, opts ...Option) *Validator {
	if corpus == nil {
		corpus = threat.MustCorpus(DefaultRules())
	}
	v := &Validator{corpus: corpus, maxDepth: normalize.DefaultMaxDecodeDepth}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Check classifies one shell-like string. The returned Result carries the
// highest-severity rule hit found across all sub-commands and all decode
// layers; equal severities resolve to the earliest-declared rule, and
// evidence is the exact matched sub-command substring.
func (v *Validator) Check(raw string) threat.Result {
	var best threat.Hit

	for _, layer := range normalize.UnwrapEncodings(raw, v.maxDepth) {
		folded := normalize.Fold(layer)
		if folded == "" {
			continue
		}
		tk := tokenize(folded)

		targets := make([]string, 0, 2+len(tk.segments)+len(tk.substitutions))
		targets = append(targets, folded)
		// The tight fold catches invisibles inserted inside a token
		// ("r​m -rf"), which the space-preserving fold splits apart.
		if tight := normalize.FoldTight(layer); tight != folded {
			targets = append(targets, tight)
		}
		targets = append(targets, tk.segments...)
		targets = append(targets, tk.substitutions...)

		for _, tgt := range targets {
			if hit, ok := v.corpus.Match(tgt); ok && threat.Better(best, hit) {
				best = hit
			}
		}

		if len(tk.substitutions) > 0 {
			hit := threat.Hit{Rule: &subshellRule, Evidence: tk.substitutions[0]}
			if threat.Better(best, hit) {
				best = hit
			}
		}
	}

	if best.Rule == nil {
		return threat.Clean(threat.CommandValidator)
	}
	return threat.FromHit(threat.CommandValidator, best)
}
