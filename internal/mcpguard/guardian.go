// Package mcpguard implements the MCP server/tool descriptor guardian. It
// classifies a descriptor's identity, requested permissions, and declared
// tool names against a trust list and a least-privilege policy. Trust lists
// are immutable after construction; the tool-shadowing registry is the only
// mutable state and is safe for concurrent use.
package mcpguard

import (
	"fmt"
	"strings"

	"github.com/agentfence/agentfence/internal/normalize"
	"github.com/agentfence/agentfence/internal/threat"
)

// Permission is one capability an MCP server can request.
type Permission string

// Permission kinds, ordered roughly by blast radius.
const (
	PermRead    Permission = "read"
	PermList    Permission = "list"
	PermNetwork Permission = "network"
	PermWrite   Permission = "write"
	PermEnv     Permission = "env"
	PermExec    Permission = "exec"
)

// Descriptor is the structured declaration of an MCP server: its identity,
// requested capabilities, and the tool names it exposes.
type Descriptor struct {
	Name        string       `json:"name"`
	Publisher   string       `json:"publisher,omitempty"`
	Permissions []Permission `json:"permissions,omitempty"`
	Tools       []string     `json:"tools,omitempty"`
}

// TrustEntry records a known-good server: its name, the publisher that may
// legitimately use that name, and the permission set it has historically
// declared. Entries are read-only once handed to a Guardian.
type TrustEntry struct {
	Name        string       `yaml:"name" json:"name"`
	Publisher   string       `yaml:"publisher" json:"publisher"`
	Permissions []Permission `yaml:"permissions" json:"permissions"`
}

// DefaultTrust returns the built-in trust list covering the reference MCP
// servers an agent host typically ships with.
func DefaultTrust() []TrustEntry {
	return []TrustEntry{
		{Name: "filesystem", Publisher: "anthropic", Permissions: []Permission{PermRead, PermList, PermWrite}},
		{Name: "fetch", Publisher: "anthropic", Permissions: []Permission{PermRead, PermNetwork}},
		{Name: "memory", Publisher: "anthropic", Permissions: []Permission{PermRead, PermWrite}},
		{Name: "github", Publisher: "github", Permissions: []Permission{PermRead, PermList, PermNetwork}},
	}
}

// DefaultPolicy returns the permission set an untrusted server may request
// without a high-severity overreach finding. Anything here beyond plain
// reads still draws the medium untrusted-server baseline.
func DefaultPolicy() []Permission {
	return []Permission{PermRead, PermList, PermNetwork}
}

// minimalReadOnly is the permission set an unknown server can hold without
// any finding at all.
var minimalReadOnly = map[Permission]bool{PermRead: true, PermList: true}

// Guardian classifies MCP descriptors. The trust list and policy are fixed
// at construction; the shadowing registry accumulates trusted tool names
// across calls and serializes access internally.
type Guardian struct {
	trust    map[string]TrustEntry // keyed by folded name
	policy   map[Permission]bool
	registry *toolRegistry
}

// Option configures a Guardian.
type Option func(*Guardian)

// WithPolicy overrides the untrusted-server permission policy.
func WithPolicy(perms []Permission) Option {
	return func(g *Guardian) { g.policy = permSet(perms) }
}

// New creates a Guardian from a trust list. A nil list selects the built-in
// trust entries; pass an empty non-nil slice for an empty trust list.
// Trust entry names are matched case-insensitively with confusable folding,
// so a homograph of a trusted name still collides with its entry.
func New(trust []TrustEntry, opts ...Option) *Guardian {
	if trust == nil {
		trust = DefaultTrust()
	}
	g := &Guardian{
		trust:    make(map[string]TrustEntry, len(trust)),
		policy:   permSet(DefaultPolicy()),
		registry: newToolRegistry(),
	}
	for _, e := range trust {
		g.trust[normalize.FoldTight(e.Name)] = e
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func permSet(perms []Permission) map[Permission]bool {
	m := make(map[Permission]bool, len(perms))
	for _, p := range perms {
		m[p] = true
	}
	return m
}

// Check classifies one descriptor. Findings by severity: name spoofing
// (critical), tool shadowing and permission overreach (high), permission
// creep on a trusted server and the untrusted-server baseline (medium).
// The highest-severity finding wins; earlier checks win severity ties.
func (g *Guardian) Check(d Descriptor) threat.Result {
	name := normalize.FoldTight(d.Name)
	if name == "" {
		return threat.Flagged(threat.MCPGuardian, threat.SeverityMedium,
			"mcp.unnamed-server", "descriptor carries no server name", d.Publisher)
	}

	entry, known := g.trust[name]
	trusted := known && publisherMatches(entry.Publisher, d.Publisher)

	var best threat.Result

	if known && !trusted {
		best = pick(best, threat.Flagged(threat.MCPGuardian, threat.SeverityCritical,
			"mcp.name-spoof",
			fmt.Sprintf("trusted server name %q claimed by publisher %q", entry.Name, orAbsent(d.Publisher)),
			d.Name))
	}

	for _, tool := range d.Tools {
		folded := normalize.FoldTight(tool)
		if folded == "" {
			continue
		}
		if owner, ok := g.registry.owner(folded); ok && owner != name {
			best = pick(best, threat.Flagged(threat.MCPGuardian, threat.SeverityHigh,
				"mcp.tool-shadowing",
				fmt.Sprintf("tool %q already declared by trusted server %q", tool, owner),
				tool))
		}
	}

	best = pick(best, g.checkPermissions(d, entry, trusted))

	// Only verified servers may claim tool names for future collisions.
	if trusted {
		for _, tool := range d.Tools {
			if folded := normalize.FoldTight(tool); folded != "" {
				g.registry.claim(folded, name)
			}
		}
	}

	if best.RuleID == "" {
		return threat.Clean(threat.MCPGuardian)
	}
	return best
}

func (g *Guardian) checkPermissions(d Descriptor, entry TrustEntry, trusted bool) threat.Result {
	var best threat.Result

	if trusted {
		declared := permSet(entry.Permissions)
		for _, p := range d.Permissions {
			if !declared[p] {
				best = pick(best, threat.Flagged(threat.MCPGuardian, threat.SeverityMedium,
					"mcp.permission-creep",
					fmt.Sprintf("trusted server requests %s beyond its declared set", p),
					string(p)))
			}
		}
		return best
	}

	beyondMinimal := false
	for _, p := range d.Permissions {
		if !g.policy[p] {
			best = pick(best, threat.Flagged(threat.MCPGuardian, threat.SeverityHigh,
				"mcp.permission-overreach",
				fmt.Sprintf("untrusted server requests %s outside the allowed policy", p),
				string(p)))
		}
		if !minimalReadOnly[p] {
			beyondMinimal = true
		}
	}
	if beyondMinimal {
		best = pick(best, threat.Flagged(threat.MCPGuardian, threat.SeverityMedium,
			"mcp.untrusted-server",
			"untrusted server requests more than minimal read-only access",
			d.Name))
	}
	return best
}

// pick keeps the higher-severity result; the incumbent wins ties so earlier
// checks take precedence.
func pick(cur, cand threat.Result) threat.Result {
	if cand.RuleID == "" {
		return cur
	}
	if cur.RuleID == "" || cand.Level > cur.Level {
		return cand
	}
	return cur
}

func publisherMatches(want, got string) bool {
	return want != "" && strings.EqualFold(strings.TrimSpace(want), strings.TrimSpace(got))
}

func orAbsent(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(absent)"
	}
	return s
}
