package command

import (
	"path"
	"regexp"
	"strings"

	"github.com/agentfence/agentfence/internal/threat"
)

// wrapperCommands are prefixes stripped before classifying the program name,
// so "sudo rm -rf /" and "env rm -rf /" match the same rules as "rm -rf /".
var wrapperCommands = map[string]bool{
	"sudo":    true,
	"doas":    true,
	"env":     true,
	"nohup":   true,
	"nice":    true,
	"time":    true,
	"timeout": true,
	"command": true,
	"exec":    true,
	"xargs":   true,
}

// parseInvocation splits a sub-command into program name, flags, and
// positional targets, skipping wrapper commands, VAR=val assignments, and
// wrapper options (e.g. "sudo -u root", "timeout 5").
func parseInvocation(s string) (prog string, flags []string, targets []string) {
	fields := strings.Fields(s)
	i := 0
	for i < len(fields) {
		f := fields[i]
		if strings.Contains(f, "=") && !strings.HasPrefix(f, "-") && prog == "" {
			i++ // environment assignment prefix
			continue
		}
		base := path.Base(f)
		if wrapperCommands[base] {
			i++
			// Skip the wrapper's own option arguments.
			for i < len(fields) && strings.HasPrefix(fields[i], "-") {
				i++
			}
			// "timeout 5 cmd" carries a duration argument.
			if base == "timeout" && i < len(fields) && !strings.HasPrefix(fields[i], "-") &&
				strings.IndexFunc(fields[i], func(r rune) bool { return r < '0' || r > '9' }) < 0 {
				i++
			}
			continue
		}
		prog = base
		i++
		break
	}
	for ; i < len(fields); i++ {
		if strings.HasPrefix(fields[i], "-") && len(fields[i]) > 1 {
			flags = append(flags, fields[i])
		} else {
			targets = append(targets, fields[i])
		}
	}
	return prog, flags, targets
}

// hasFlagCluster reports whether the short or long form of each wanted flag
// appears anywhere in the flag list, in any order and any clustering
// ("-rf", "-fr", "-r -f", "--recursive --force" are all equivalent).
func hasFlagCluster(flags []string, shorts string, longs ...string) bool {
	found := make(map[rune]bool, len(shorts))
	longSet := make(map[string]bool, len(longs))
	for _, f := range flags {
		if strings.HasPrefix(f, "--") {
			longSet[strings.TrimPrefix(f, "--")] = true
			continue
		}
		for _, c := range f[1:] {
			found[c] = true
		}
	}
	for _, want := range shorts {
		ok := found[want]
		// Uppercase short aliases count for recursion (-R).
		if !ok && want >= 'a' && want <= 'z' {
			ok = found[want-('a'-'A')]
		}
		for _, l := range longs {
			if longSet[l] && flagAliases[l] == want {
				ok = true
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// flagAliases maps long option names to the short flag letter they satisfy.
var flagAliases = map[string]rune{
	"recursive": 'r',
	"force":     'f',
}

// isRootTarget reports whether a delete target wipes the filesystem root or
// an entire home tree.
func isRootTarget(t string) bool {
	switch t {
	case "/", "/*", "/.", "//", "~", "~/", "$home", "${home}", "$home/", "/root", "/home":
		return true
	}
	return false
}

// rmPredicate builds a predicate matching recursive+force deletes. When
// rootOnly is set it additionally requires a root-wiping target or the
// --no-preserve-root flag.
func rmPredicate(rootOnly bool) func(string) (string, bool) {
	return func(s string) (string, bool) {
		prog, flags, targets := parseInvocation(s)
		if prog != "rm" {
			return "", false
		}
		if !hasFlagCluster(flags, "rf", "recursive", "force") {
			return "", false
		}
		if !rootOnly {
			return s, true
		}
		for _, f := range flags {
			if f == "--no-preserve-root" {
				return s, true
			}
		}
		for _, t := range targets {
			if isRootTarget(t) {
				return s, true
			}
		}
		return "", false
	}
}

// DefaultRules returns the built-in destructive-command corpus, ordered by
// declaration (earlier rules win equal-severity ties). Patterns match
// against folded (lowercased, confusable-normalized) text.
func DefaultRules() []threat.Rule {
	return []threat.Rule{
		{
			ID:          "cmd.rm-recursive-root",
			Severity:    threat.SeverityCritical,
			Description: "recursive force delete targeting the filesystem root",
			Match:       rmPredicate(true),
		},
		{
			ID:          "cmd.fork-bomb",
			Severity:    threat.SeverityCritical,
			Description: "shell fork bomb",
			Pattern:     regexp.MustCompile(`:\s*\(\s*\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;?\s*:`),
		},
		{
			ID:          "cmd.mkfs",
			Severity:    threat.SeverityCritical,
			Description: "filesystem format command",
			Pattern:     regexp.MustCompile(`\bmkfs(\.[a-z0-9]+)?\b`),
		},
		{
			ID:          "cmd.dd-block-device",
			Severity:    threat.SeverityCritical,
			Description: "raw write to a block device via dd",
			Pattern:     regexp.MustCompile(`\bdd\b[^;|&]*\bof=/dev/(sd|hd|nvme|xvd|vd|mmcblk)`),
		},
		{
			ID:          "cmd.download-exec",
			Severity:    threat.SeverityCritical,
			Description: "downloaded content piped directly into a shell",
			Pattern:     regexp.MustCompile(`\b(curl|wget)\b[^;&]*\|\s*(sudo\s+)?(ba|z|da|fi)?sh\b`),
		},
		{
			ID:          "cmd.rm-recursive-force",
			Severity:    threat.SeverityHigh,
			Description: "recursive force delete",
			Match:       rmPredicate(false),
		},
		{
			ID:          "cmd.write-block-device",
			Severity:    threat.SeverityHigh,
			Description: "shell redirection onto a block device",
			Pattern:     regexp.MustCompile(`>\s*/dev/(sd|hd|nvme|xvd|vd|mmcblk)`),
		},
		{
			ID:          "cmd.chmod-world-writable",
			Severity:    threat.SeverityHigh,
			Description: "world-writable permission change",
			Pattern:     regexp.MustCompile(`\bchmod\b\s+(-[a-z]+\s+)*0?777\b`),
		},
		{
			ID:          "cmd.reverse-shell",
			Severity:    threat.SeverityHigh,
			Description: "reverse shell construction",
			Pattern:     regexp.MustCompile(`\bnc\b[^;|&]*\s-[a-z]*e\b|/dev/tcp/|\bbash\s+-i\b[^;|&]*>&`),
		},
		{
			ID:          "cmd.security-teardown",
			Severity:    threat.SeverityHigh,
			Description: "disabling host security tooling",
			Pattern:     regexp.MustCompile(`\b(systemctl|service)\s+(stop|disable)\s+(auditd|falco|apparmor|firewalld|ufw)\b|\bsetenforce\s+0\b|\bufw\s+disable\b`),
		},
		{
			ID:          "cmd.credential-read",
			Severity:    threat.SeverityMedium,
			Description: "read of credential or key material",
			Pattern:     regexp.MustCompile(`\b(cat|less|more|head|tail|strings|xxd)\b[^;|&]*(/etc/shadow|\.ssh/id_[a-z0-9]+|\.aws/credentials|\.npmrc|\.netrc)`),
		},
		{
			ID:          "cmd.history-tamper",
			Severity:    threat.SeverityMedium,
			Description: "shell history tampering or secure deletion",
			Pattern:     regexp.MustCompile(`\bhistory\s+-c\b|\bshred\b[^;|&]*(-u|-z|/dev/)|\bunset\s+histfile\b`),
		},
	}
}
