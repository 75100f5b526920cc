package audit

import "strings"

// techniqueMap maps rule ids to MITRE ATT&CK technique IDs. Exact rule ids
// take precedence; the detector prefix ("cmd.", "fa.", "pr.", "ep.", "mcp.")
// provides a fallback for rules without a specific mapping.
//
// Technique IDs follow the format T####[.###] (base or sub-technique).
var techniqueMap = map[string]string{
	// Command validator
	"cmd.rm-recursive-root":    "T1485",     // Data Destruction
	"cmd.rm-recursive-force":   "T1485",     // Data Destruction
	"cmd.fork-bomb":            "T1499",     // Endpoint Denial of Service
	"cmd.mkfs":                 "T1561.001", // Disk Wipe: Disk Content Wipe
	"cmd.dd-block-device":      "T1561.002", // Disk Wipe: Disk Structure Wipe
	"cmd.write-block-device":   "T1561.001", // Disk Wipe: Disk Content Wipe
	"cmd.download-exec":        "T1105",     // Ingress Tool Transfer
	"cmd.reverse-shell":        "T1059.004", // Command and Scripting Interpreter: Unix Shell
	"cmd.chmod-world-writable": "T1222.002", // File and Directory Permissions Modification
	"cmd.security-teardown":    "T1562.001", // Impair Defenses: Disable or Modify Tools
	"cmd.credential-read":      "T1552.001", // Unsecured Credentials: Credentials In Files
	"cmd.history-tamper":       "T1070.003", // Indicator Removal: Clear Command History

	// File access monitor
	"fa.ssh-private-key":   "T1552.004", // Unsecured Credentials: Private Keys
	"fa.cloud-credentials": "T1552.001", // Credentials In Files
	"fa.env-file":          "T1552.001",
	"fa.token-store":       "T1552.001",
	"fa.system-auth":       "T1003.008", // OS Credential Dumping: /etc/passwd and /etc/shadow
	"fa.system-passwd":     "T1003.008",
	"fa.keyring":           "T1555",     // Credentials from Password Stores
	"fa.browser-store":     "T1555.003", // Credentials from Web Browsers
	"fa.shell-history":     "T1552.003", // Bash History
	"fa.traversal":         "T1083",     // File and Directory Discovery
	"fa.null-byte":         "T1027",     // Obfuscated Files or Information

	// Endpoint validator
	"ep.homograph":       "T1036.005", // Masquerading: Match Legitimate Name
	"ep.typosquat":       "T1036.005",
	"ep.subdomain-spoof": "T1036.005",
	"ep.ip-obfuscation":  "T1027",

	// MCP guardian
	"mcp.name-spoof":           "T1036.005",
	"mcp.tool-shadowing":       "T1195.002", // Supply Chain Compromise: Software Supply Chain
	"mcp.untrusted-server":     "T1195.002",
	"mcp.permission-overreach": "T1548", // Abuse Elevation Control Mechanism
	"mcp.permission-creep":     "T1548",
}

// prefixTechniques is the per-detector fallback for rules without an exact
// mapping (e.g. custom rules loaded from config).
var prefixTechniques = map[string]string{
	"cmd.": "T1059", // Command and Scripting Interpreter
	"fa.":  "T1552", // Unsecured Credentials
	"pr.":  "T1059", // prompt injection steers the interpreter
	"ep.":  "T1071", // Application Layer Protocol
	"mcp.": "T1195", // Supply Chain Compromise
}

// TechniqueForRule returns the MITRE ATT&CK technique ID for a rule id.
// Returns an empty string when no mapping exists.
func TechniqueForRule(ruleID string) string {
	if t, ok := techniqueMap[ruleID]; ok {
		return t
	}
	if i := strings.IndexByte(ruleID, '.'); i >= 0 {
		return prefixTechniques[ruleID[:i+1]]
	}
	return ""
}
