// Package fileaccess implements the file access monitor. It classifies file
// paths against sensitive-path and traversal rules and keeps per-session
// counters that escalate bulk access to sensitive files.
package fileaccess

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/agentfence/agentfence/internal/normalize"
	"github.com/agentfence/agentfence/internal/threat"
)

// DefaultBulkThreshold is the number of sensitive-path hits within one
// session after which results escalate to at least high severity. The
// orchestrator owns the session boundary and calls ResetSession at it.
const DefaultBulkThreshold = 5

// nullByteRule fires on any null byte in a path, before and independent of
// all other matching. Null bytes truncate paths in C-backed syscalls, so a
// path that passes string checks can open a different file.
var nullByteRule = threat.Rule{
	ID:          "fa.null-byte",
	Severity:    threat.SeverityCritical,
	Description: "null byte injection in file path",
	Priority:    1,
}

// traversalRule fires when parent-directory segments escape the nominal
// root after normalization and decoding.
var traversalRule = threat.Rule{
	ID:          "fa.traversal",
	Severity:    threat.SeverityHigh,
	Description: "path traversal escaping the nominal root",
	Priority:    2,
}

// Monitor classifies file paths. Counter updates are atomic, so one Monitor
// may be shared by concurrent checks within a session without undercounting
// bulk-exfiltration events.
type Monitor struct {
	corpus        *threat.Corpus
	bulkThreshold int64

	sensitiveCount atomic.Int64
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithBulkThreshold overrides the session bulk-exfiltration threshold.
func WithBulkThreshold(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.bulkThreshold = int64(n)
		}
	}
}

// New creates a Monitor from a sensitive-path rule corpus. A nil corpus
// selects the built-in rules.
func New(corpus *threat.Corpus, opts ...Option) *Monitor {
	if corpus == nil {
		corpus = threat.MustCorpus(DefaultRules())
	}
	m := &Monitor{corpus: corpus, bulkThreshold: DefaultBulkThreshold}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ResetSession clears the per-session counters. The orchestrator, not the
// monitor, decides when a session boundary occurs.
func (m *Monitor) ResetSession() {
	m.sensitiveCount.Store(0)
}

// SensitiveCount returns the number of sensitive-path hits this session.
func (m *Monitor) SensitiveCount() int {
	return int(m.sensitiveCount.Load())
}

// Check classifies one file path. Sensitive-path hits increment the session
// counter; past the bulk threshold, results escalate to at least high with
// the aggregate nature noted in the description.
func (m *Monitor) Check(rawPath string) threat.Result {
	// Null byte detection runs on the raw input: decoding would erase the
	// evidence ("%00" must flag even before it becomes 0x00).
	if strings.Contains(rawPath, "\x00") || strings.Contains(strings.ToLower(rawPath), "%00") {
		return threat.FromHit(threat.FileAccessMonitor, threat.Hit{Rule: &nullByteRule, Evidence: rawPath})
	}

	cleaned := normalizePath(rawPath)

	var best threat.Hit
	if escapesRoot(cleaned) {
		best = threat.Hit{Rule: &traversalRule, Evidence: cleaned}
	}

	if hit, ok := m.corpus.Match(cleaned); ok {
		count := m.sensitiveCount.Add(1)
		if threat.Better(best, hit) {
			best = hit
		}
		if count > m.bulkThreshold {
			level := best.Rule.Severity
			if level < threat.SeverityHigh {
				level = threat.SeverityHigh
			}
			return threat.Flagged(threat.FileAccessMonitor, level, best.Rule.ID,
				fmt.Sprintf("%s (bulk access: %d sensitive paths this session)", best.Rule.Description, count),
				best.Evidence)
		}
	}

	if best.Rule == nil {
		return threat.Clean(threat.FileAccessMonitor)
	}
	return threat.FromHit(threat.FileAccessMonitor, best)
}

// normalizePath folds separators, percent-encoding, invisible characters,
// and Unicode dot lookalikes so traversal and sensitive-path rules see one
// canonical spelling.
func normalizePath(p string) string {
	// DecodePercent first: %2e%2e must become ".." before skeletonizing.
	// Skeleton's NFKC pass also folds Unicode dot lookalikes (one-dot
	// leader U+2024, two-dot leader U+2025) into ASCII dots.
	p = normalize.DecodePercent(p)
	p = normalize.Skeleton(p)
	return strings.ReplaceAll(p, "\\", "/")
}

// escapesRoot reports whether parent-directory segments climb above the
// nominal root, i.e. the directory the path is anchored at. The net depth
// going negative at any point is an escape, whether or not later segments
// descend again.
func escapesRoot(p string) bool {
	depth := 0
	for _, seg := range strings.Split(strings.TrimPrefix(p, "/"), "/") {
		switch seg {
		case "..":
			depth--
		case ".", "":
		default:
			depth++
		}
		if depth < 0 {
			return true
		}
	}
	return false
}
