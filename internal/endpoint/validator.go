// Package endpoint implements the network connection validator. It parses a
// hostname out of a URL or bare authority string and classifies it against
// homograph, typosquat, subdomain-spoofing, and IP-obfuscation checks. All
// classification is local string analysis; no DNS or network lookups happen.
package endpoint

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/idna"
	"golang.org/x/net/publicsuffix"

	"github.com/agentfence/agentfence/internal/normalize"
	"github.com/agentfence/agentfence/internal/threat"
)

// Lists holds the reference domain sets the validator classifies against.
// All entries must be lowercase registrable domains (allow-list entries may
// also be full hostnames). A zero Lists selects DefaultLists.
type Lists struct {
	// HighValue are domains protected against homograph impersonation.
	HighValue []string
	// Popular are domains protected against typosquatting and subdomain
	// spoofing. Exact matches (including subdomains of them) are trusted.
	Popular []string
	// Allow are hosts that always classify safe: an entry matches the host
	// exactly or as a parent domain suffix.
	Allow []string
}

// DefaultLists returns the built-in reference sets: infrastructure domains an
// agent legitimately talks to, plus the high-value brands attackers imitate.
func DefaultLists() Lists {
	return Lists{
		HighValue: []string{
			"google.com", "microsoft.com", "apple.com", "amazon.com",
			"facebook.com", "github.com", "paypal.com", "openai.com",
			"anthropic.com", "cloudflare.com", "npmjs.com", "pypi.org",
		},
		Popular: []string{
			"google.com", "microsoft.com", "apple.com", "amazon.com",
			"facebook.com", "github.com", "paypal.com", "openai.com",
			"anthropic.com", "cloudflare.com", "npmjs.com", "pypi.org",
			"wikipedia.org", "stackoverflow.com", "docker.com",
			"golang.org", "githubusercontent.com",
		},
		Allow: []string{
			"api.openai.com", "api.anthropic.com",
			"github.com", "api.github.com", "objects.githubusercontent.com",
			"registry.npmjs.org", "pypi.org", "files.pythonhosted.org",
			"proxy.golang.org", "sum.golang.org",
		},
	}
}

// DefaultMaxEditDistance is the largest edit distance still treated as a
// typosquat. Distance 0 is an exact match of a trusted domain; anything
// past 2 is a different name, not a typo.
const DefaultMaxEditDistance = 2

// Validator classifies network endpoints. It is immutable after construction
// and safe for unsynchronized concurrent use.
type Validator struct {
	highValue   []string
	popular     []string
	allow       []string
	maxDistance int
}

// Option configures a Validator.
type Option func(*Validator)

// WithMaxEditDistance overrides the typosquat edit-distance threshold.
func WithMaxEditDistance(n int) Option {
	return func(v *Validator) { v.maxDistance = n }
}

// New creates a Validator from reference lists. A zero Lists selects the
// built-in sets. List entries are lowercased on the way in.
func New(lists Lists, opts ...Option) *Validator {
	if len(lists.HighValue) == 0 && len(lists.Popular) == 0 && len(lists.Allow) == 0 {
		lists = DefaultLists()
	}
	v := &Validator{
		highValue:   lowerAll(lists.HighValue),
		popular:     lowerAll(lists.Popular),
		allow:       lowerAll(lists.Allow),
		maxDistance: DefaultMaxEditDistance,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Check classifies one endpoint, given as a URL or bare host[:port] string.
// Allow-listed hosts always classify safe. Otherwise the highest-severity
// finding wins: homograph (critical), typosquat or subdomain spoof (high),
// IP obfuscation (medium). A host that cannot be parsed classifies as a
// medium threat rather than an error.
func (v *Validator) Check(endpoint string) threat.Result {
	host, ok := parseHost(endpoint)
	if !ok {
		return threat.Flagged(threat.ConnectionValidator, threat.SeverityMedium,
			"ep.unparseable", "endpoint host cannot be parsed", endpoint)
	}

	if v.allowed(host) {
		return threat.Clean(threat.ConnectionValidator)
	}

	stripped := normalize.StripInvisible(host)
	if numeric, obfuscated := numericHost(stripped); numeric {
		if obfuscated || stripped != host {
			return threat.Flagged(threat.ConnectionValidator, threat.SeverityMedium,
				"ep.ip-obfuscation", "IP address in non-canonical form", host)
		}
		return threat.Clean(threat.ConnectionValidator)
	}

	// Decode punycode before building the confusable skeleton so
	// xn-- labels are judged by what they render as.
	unicodeHost, err := idna.ToUnicode(host)
	if err != nil || unicodeHost == "" {
		unicodeHost = host
	}
	skeleton := normalize.Skeleton(unicodeHost)
	skelReg := registrable(skeleton)
	hostReg := registrable(host)

	for _, d := range v.highValue {
		if skelReg == d && hostReg != d {
			return threat.Flagged(threat.ConnectionValidator, threat.SeverityCritical,
				"ep.homograph",
				fmt.Sprintf("homograph impersonation of %s", d), host)
		}
	}

	bestDist, bestTarget := -1, ""
	exact := false
	for _, d := range v.popular {
		dist := levenshtein(skelReg, d)
		if dist == 0 {
			exact = true
			break
		}
		if dist <= v.maxDistance && (bestDist < 0 || dist < bestDist) {
			bestDist, bestTarget = dist, d
		}
	}
	if exact {
		return threat.Clean(threat.ConnectionValidator)
	}
	if bestDist > 0 {
		return threat.Flagged(threat.ConnectionValidator, threat.SeverityHigh,
			"ep.typosquat",
			fmt.Sprintf("possible typosquat of %s (edit distance %d)", bestTarget, bestDist),
			host)
	}

	if target, spoofed := v.spoofedSubdomain(skeleton, skelReg); spoofed {
		return threat.Flagged(threat.ConnectionValidator, threat.SeverityHigh,
			"ep.subdomain-spoof",
			fmt.Sprintf("trusted name %s used as subdomain of unrelated domain", target),
			host)
	}

	return threat.Clean(threat.ConnectionValidator)
}

// spoofedSubdomain reports whether a trusted domain name appears in the
// non-registrable labels of an unrelated host, as in google.com.evil.net
// or google.secure-login.xyz.
func (v *Validator) spoofedSubdomain(host, hostReg string) (string, bool) {
	trusted := make([]string, 0, len(v.popular)+len(v.highValue))
	trusted = append(trusted, v.popular...)
	trusted = append(trusted, v.highValue...)

	for _, d := range trusted {
		if hostReg == d {
			continue
		}
		// Full trusted domain embedded at a label boundary.
		if strings.HasPrefix(host, d+".") || strings.Contains(host, "."+d+".") {
			return d, true
		}
		// Leading subdomain label equals the trusted brand name. Only
		// labels left of the registrable domain count, so a brand that is
		// itself the registrable name on another public suffix is not a
		// spoof by this rule.
		if base, _, ok := strings.Cut(d, "."); ok && host != hostReg {
			if first, _, hasMore := strings.Cut(host, "."); hasMore && first == base {
				return d, true
			}
		}
	}
	return "", false
}

func (v *Validator) allowed(host string) bool {
	for _, e := range v.allow {
		if host == e || strings.HasSuffix(host, "."+e) {
			return true
		}
	}
	return false
}

// registrable returns the eTLD+1 for a host, falling back to the last two
// labels when the public suffix list has no answer (unlisted TLDs, single
// labels).
func registrable(host string) string {
	if d, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return d
	}
	labels := strings.Split(host, ".")
	if len(labels) >= 2 {
		return strings.Join(labels[len(labels)-2:], ".")
	}
	return host
}

// parseHost extracts the lowercase hostname from a URL or bare authority
// string, stripping userinfo, port, path, and a trailing dot. Invisible
// characters are kept: the skeleton comparison needs to see them to tell an
// evaded host apart from the domain it imitates.
func parseHost(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil || u.Hostname() == "" {
			return "", false
		}
		return cleanHost(u.Hostname())
	}

	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndexByte(s, '@'); i >= 0 {
		// user@host authority form; the part before @ is a decoy.
		s = s[i+1:]
	}
	if strings.HasPrefix(s, "[") {
		end := strings.IndexByte(s, ']')
		if end < 0 {
			return "", false
		}
		s = s[1:end]
	} else if strings.Count(s, ":") == 1 {
		host, port, err := net.SplitHostPort(s)
		if err != nil || portInvalid(port) {
			return "", false
		}
		s = host
	}
	return cleanHost(s)
}

func portInvalid(port string) bool {
	if port == "" {
		return true
	}
	n, err := strconv.Atoi(port)
	return err != nil || n < 1 || n > 65535
}

func cleanHost(h string) (string, bool) {
	h = strings.ToLower(strings.TrimSuffix(h, "."))
	if h == "" || strings.ContainsAny(h, " \t") {
		return "", false
	}
	return h, true
}

// numericHost reports whether the host is an IP literal, and whether it is
// written in a non-canonical form (single decimal integer, hex, octal or
// hex dotted components, fewer than four parts). Browsers and libc resolvers
// accept these forms, so attackers use them to hide well-known addresses.
func numericHost(host string) (numeric, obfuscated bool) {
	if ip := net.ParseIP(host); ip != nil {
		// ParseIP only accepts canonical dotted-quad IPv4 and RFC 4291 IPv6.
		return true, false
	}

	// Single integer: http://2130706433/ resolves to 127.0.0.1.
	if isDigits(host) {
		if n, err := strconv.ParseUint(host, 10, 64); err == nil && n <= 0xFFFFFFFF {
			return true, true
		}
		return false, false
	}

	// Whole-host hex: http://0x7f000001/.
	if strings.HasPrefix(host, "0x") {
		if _, err := strconv.ParseUint(host[2:], 16, 64); err == nil {
			return true, true
		}
		return false, false
	}

	// Dotted form with octal/hex components or fewer than four parts:
	// 0177.0.0.1, 0xc0.0xa8.1.1, 192.168.1.
	parts := strings.Split(host, ".")
	if len(parts) < 2 || len(parts) > 4 {
		return false, false
	}
	for _, p := range parts {
		if p == "" {
			return false, false
		}
		// ParseUint with base 0 honors 0x and leading-zero octal prefixes.
		if _, err := strconv.ParseUint(p, 0, 64); err != nil {
			return false, false
		}
	}
	return true, true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
