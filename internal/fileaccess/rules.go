package fileaccess

import (
	"regexp"

	"github.com/agentfence/agentfence/internal/threat"
)

// DefaultRules returns the built-in sensitive-path corpus. Paths are
// normalized (lowercased, separators folded, percent-decoded) before
// matching, so patterns are written lowercase with forward slashes.
func DefaultRules() []threat.Rule {
	return []threat.Rule{
		{
			ID:          "fa.ssh-private-key",
			Severity:    threat.SeverityCritical,
			Description: "SSH private key material",
			Pattern:     regexp.MustCompile(`\.ssh/(id_[a-z0-9]+|.*_key)$|\.ssh/authorized_keys$`),
		},
		{
			ID:          "fa.system-auth",
			Severity:    threat.SeverityCritical,
			Description: "system authentication database",
			Pattern:     regexp.MustCompile(`/etc/(shadow|gshadow|sudoers|master\.passwd)\b`),
		},
		{
			ID:          "fa.cloud-credentials",
			Severity:    threat.SeverityHigh,
			Description: "cloud provider credential store",
			Pattern:     regexp.MustCompile(`\.aws/credentials|\.azure/|\.config/gcloud/|\.kube/config|\.docker/config\.json`),
		},
		{
			ID:          "fa.env-file",
			Severity:    threat.SeverityHigh,
			Description: "environment secrets file",
			Pattern:     regexp.MustCompile(`(^|/)\.env(\.[a-z0-9_.-]+)?$`),
		},
		{
			ID:          "fa.token-store",
			Severity:    threat.SeverityHigh,
			Description: "API token or package registry auth file",
			Pattern:     regexp.MustCompile(`\.netrc$|\.npmrc$|\.pypirc$|\.git-credentials$|\.config/gh/hosts\.yml$`),
		},
		{
			ID:          "fa.keyring",
			Severity:    threat.SeverityHigh,
			Description: "keyring or wallet store",
			Pattern:     regexp.MustCompile(`\.gnupg/|keychain|\.password-store/|wallet\.dat$`),
		},
		{
			ID:          "fa.browser-store",
			Severity:    threat.SeverityMedium,
			Description: "browser credential or cookie store",
			Pattern:     regexp.MustCompile(`(login data|cookies\.sqlite|key4\.db|logins\.json)$`),
		},
		{
			ID:          "fa.shell-history",
			Severity:    threat.SeverityMedium,
			Description: "shell history file",
			Pattern:     regexp.MustCompile(`\.(bash_history|zsh_history|psql_history|mysql_history)$`),
		},
		{
			ID:          "fa.system-passwd",
			Severity:    threat.SeverityLow,
			Description: "world-readable account listing",
			Pattern:     regexp.MustCompile(`/etc/passwd$`),
		},
	}
}
