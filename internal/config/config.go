// Package config handles loading, validating, and defaulting agentfence
// configuration. Detector constructors treat a validated Config as
// pre-checked: regexes compile, severities parse, thresholds are sane.
package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/agentfence/agentfence/internal/endpoint"
	"github.com/agentfence/agentfence/internal/mcpguard"
	"github.com/agentfence/agentfence/internal/threat"
)

// Mode constants for agentfence operating modes.
const (
	ModeEnforce = "enforce" // non-zero exit when findings reach the fail level
	ModeAudit   = "audit"   // report findings, always exit zero
)

// Output/format constants for configuration defaults.
const (
	DefaultLogFormat = "json"
	DefaultLogOutput = "stdout"
	OutputFile       = "file"
	OutputBoth       = "both"
)

// Config is the top-level agentfence configuration.
type Config struct {
	Version   int             `yaml:"version"`
	Mode      string          `yaml:"mode"` // enforce, audit
	FailLevel string          `yaml:"fail_level"`
	Detectors DetectorsConfig `yaml:"detectors"`
	Endpoint  EndpointConfig  `yaml:"endpoint"`
	Trust     TrustConfig     `yaml:"trust"`
	Rules     RulesConfig     `yaml:"rules"`
	Scan      ScanConfig      `yaml:"scan"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Emit      EmitConfig      `yaml:"emit"`
	Store     StoreConfig     `yaml:"store"`
}

// DetectorsConfig holds tunables shared by the detector cores.
type DetectorsConfig struct {
	DecodeDepth   int `yaml:"decode_depth"`   // encoded-payload unwrap depth
	BulkThreshold int `yaml:"bulk_threshold"` // sensitive-path accesses per session before escalation
}

// EndpointConfig configures the connection validator's reference lists.
type EndpointConfig struct {
	HighValueDomains []string `yaml:"high_value_domains"`
	PopularDomains   []string `yaml:"popular_domains"`
	Allowlist        []string `yaml:"allowlist"`
	MaxEditDistance  int      `yaml:"max_edit_distance"`
}

// Lists converts the endpoint section into the validator's input form,
// falling back to the built-in lists for empty sections.
func (e EndpointConfig) Lists() endpoint.Lists {
	defaults := endpoint.DefaultLists()
	l := endpoint.Lists{
		HighValue: e.HighValueDomains,
		Popular:   e.PopularDomains,
		Allow:     e.Allowlist,
	}
	if len(l.HighValue) == 0 {
		l.HighValue = defaults.HighValue
	}
	if len(l.Popular) == 0 {
		l.Popular = defaults.Popular
	}
	if len(l.Allow) == 0 {
		l.Allow = defaults.Allow
	}
	return l
}

// TrustConfig configures the MCP guardian's trust list and untrusted-server
// permission policy.
type TrustConfig struct {
	Servers []mcpguard.TrustEntry `yaml:"servers"`
	Policy  []string              `yaml:"policy"` // permissions an untrusted server may request
}

// CustomRule is a user-supplied detection rule merged into a detector's
// built-in corpus. Patterns match against folded (lowercased, normalized)
// text, so they should be written lowercase.
type CustomRule struct {
	ID          string `yaml:"id"`
	Regex       string `yaml:"regex"`
	Severity    string `yaml:"severity"` // none is not allowed
	Description string `yaml:"description"`
}

// Compile converts a validated CustomRule into a corpus rule.
func (r CustomRule) Compile() (threat.Rule, error) {
	sev := threat.ParseSeverity(r.Severity)
	if sev == threat.SeverityNone {
		return threat.Rule{}, fmt.Errorf("rule %q: invalid severity %q", r.ID, r.Severity)
	}
	re, err := regexp.Compile(r.Regex)
	if err != nil {
		return threat.Rule{}, fmt.Errorf("rule %q: invalid regex: %w", r.ID, err)
	}
	return threat.Rule{
		ID:          r.ID,
		Severity:    sev,
		Description: r.Description,
		Pattern:     re,
	}, nil
}

// RulesConfig holds per-detector custom rule additions. Custom rules are
// appended after the built-in corpus, so built-ins win severity ties.
type RulesConfig struct {
	Command    []CustomRule `yaml:"command"`
	FileAccess []CustomRule `yaml:"fileaccess"`
	Prompt     []CustomRule `yaml:"prompt"`
}

// ScanConfig configures the directory scan orchestrator.
type ScanConfig struct {
	SkipDirs     []string `yaml:"skip_dirs"`
	MaxFileBytes int64    `yaml:"max_file_bytes"`
}

// LoggingConfig configures audit logging.
type LoggingConfig struct {
	Format      string `yaml:"format"` // json, text
	Output      string `yaml:"output"` // stdout, file, both
	File        string `yaml:"file"`
	IncludeSafe bool   `yaml:"include_safe"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// EmitConfig configures outbound notification of flagged results.
type EmitConfig struct {
	MinLevel string        `yaml:"min_level"` // lowest severity forwarded to sinks
	Webhook  WebhookConfig `yaml:"webhook"`
	Syslog   SyslogConfig  `yaml:"syslog"`
	Sentry   SentryConfig  `yaml:"sentry"`
}

// WebhookConfig configures the JSON webhook sink.
type WebhookConfig struct {
	Enabled        bool    `yaml:"enabled"`
	URL            string  `yaml:"url"`
	Token          string  `yaml:"token"` // optional bearer token
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	RatePerSecond  float64 `yaml:"rate_per_second"`
	Burst          int     `yaml:"burst"`
}

// SyslogConfig configures the syslog sink. Not available on Windows.
type SyslogConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Address  string `yaml:"address"` // udp://host:port or tcp://host:port
	Facility string `yaml:"facility"`
	Tag      string `yaml:"tag"`
}

// SentryConfig configures the Sentry sink for critical findings.
type SentryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	DSN         string `yaml:"dsn"`
	Environment string `yaml:"environment"`
}

// StoreConfig configures the SQLite findings history.
type StoreConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a fully-populated default configuration.
func Defaults() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// Load reads, parses, defaults, and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path from caller
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// ApplyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Mode == "" {
		c.Mode = ModeEnforce
	}
	if c.FailLevel == "" {
		c.FailLevel = "high"
	}
	if c.Detectors.DecodeDepth <= 0 {
		c.Detectors.DecodeDepth = 3
	}
	if c.Detectors.BulkThreshold <= 0 {
		c.Detectors.BulkThreshold = 5
	}
	if c.Endpoint.MaxEditDistance <= 0 {
		c.Endpoint.MaxEditDistance = endpoint.DefaultMaxEditDistance
	}
	if c.Trust.Servers == nil {
		c.Trust.Servers = mcpguard.DefaultTrust()
	}
	if len(c.Trust.Policy) == 0 {
		for _, p := range mcpguard.DefaultPolicy() {
			c.Trust.Policy = append(c.Trust.Policy, string(p))
		}
	}
	if len(c.Scan.SkipDirs) == 0 {
		c.Scan.SkipDirs = []string{".git", "node_modules", "vendor", ".venv", "__pycache__", "dist", "build"}
	}
	if c.Scan.MaxFileBytes <= 0 {
		c.Scan.MaxFileBytes = 1 << 20 // 1MB
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
	if c.Logging.Output == "" {
		c.Logging.Output = DefaultLogOutput
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		c.Metrics.Listen = "127.0.0.1:9190"
	}
	if c.Emit.MinLevel == "" {
		c.Emit.MinLevel = "medium"
	}
	if c.Emit.Webhook.Enabled {
		if c.Emit.Webhook.TimeoutSeconds <= 0 {
			c.Emit.Webhook.TimeoutSeconds = 10
		}
		if c.Emit.Webhook.RatePerSecond <= 0 {
			c.Emit.Webhook.RatePerSecond = 1
		}
		if c.Emit.Webhook.Burst <= 0 {
			c.Emit.Webhook.Burst = 5
		}
	}
	if c.Emit.Syslog.Enabled {
		if c.Emit.Syslog.Facility == "" {
			c.Emit.Syslog.Facility = "local0"
		}
		if c.Emit.Syslog.Tag == "" {
			c.Emit.Syslog.Tag = "agentfence"
		}
	}
	if c.Emit.Sentry.Enabled && c.Emit.Sentry.Environment == "" {
		c.Emit.Sentry.Environment = "production"
	}
	if c.Store.Enabled && c.Store.Path == "" {
		c.Store.Path = "agentfence.db"
	}
}

// Validate checks the config for errors. Must be called after ApplyDefaults.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeEnforce, ModeAudit:
		// valid
	default:
		return fmt.Errorf("invalid mode %q: must be enforce or audit", c.Mode)
	}

	if threat.ParseSeverity(c.FailLevel) == threat.SeverityNone && c.FailLevel != "none" {
		return fmt.Errorf("invalid fail_level %q", c.FailLevel)
	}
	if threat.ParseSeverity(c.Emit.MinLevel) == threat.SeverityNone && c.Emit.MinLevel != "none" {
		return fmt.Errorf("invalid emit.min_level %q", c.Emit.MinLevel)
	}

	switch c.Logging.Format {
	case DefaultLogFormat, "text":
		// valid
	default:
		return fmt.Errorf("invalid logging format %q: must be json or text", c.Logging.Format)
	}

	switch c.Logging.Output {
	case DefaultLogOutput, OutputFile, OutputBoth:
		// valid
	default:
		return fmt.Errorf("invalid logging output %q: must be stdout, file, or both", c.Logging.Output)
	}

	if (c.Logging.Output == OutputFile || c.Logging.Output == OutputBoth) && c.Logging.File == "" {
		return fmt.Errorf("logging.file is required when output is %q", c.Logging.Output)
	}

	for section, rules := range map[string][]CustomRule{
		"command":    c.Rules.Command,
		"fileaccess": c.Rules.FileAccess,
		"prompt":     c.Rules.Prompt,
	} {
		seen := make(map[string]bool)
		for _, r := range rules {
			if r.ID == "" {
				return fmt.Errorf("rules.%s: rule missing id", section)
			}
			if seen[r.ID] {
				return fmt.Errorf("rules.%s: duplicate rule id %q", section, r.ID)
			}
			seen[r.ID] = true
			if r.Regex == "" {
				return fmt.Errorf("rules.%s: rule %q missing regex", section, r.ID)
			}
			if _, err := r.Compile(); err != nil {
				return fmt.Errorf("rules.%s: %w", section, err)
			}
		}
	}

	for _, e := range c.Trust.Servers {
		if strings.TrimSpace(e.Name) == "" {
			return fmt.Errorf("trust.servers: entry missing name")
		}
		if strings.TrimSpace(e.Publisher) == "" {
			return fmt.Errorf("trust.servers: entry %q missing publisher", e.Name)
		}
	}

	if c.Emit.Webhook.Enabled {
		u, err := url.Parse(c.Emit.Webhook.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("emit.webhook.url %q: must be a valid http(s) URL", c.Emit.Webhook.URL)
		}
	}
	if c.Emit.Syslog.Enabled {
		u, err := url.Parse(c.Emit.Syslog.Address)
		if err != nil || (u.Scheme != "udp" && u.Scheme != "tcp") || u.Host == "" {
			return fmt.Errorf("emit.syslog.address %q: must be udp://host:port or tcp://host:port", c.Emit.Syslog.Address)
		}
	}
	if c.Emit.Sentry.Enabled && c.Emit.Sentry.DSN == "" {
		return fmt.Errorf("emit.sentry.dsn is required when sentry is enabled")
	}

	return nil
}

// CompileRules converts a validated custom-rule section into corpus rules.
// Panics on compile failure: Validate guarantees these rules are well-formed,
// so a failure here is a programming error.
func CompileRules(rules []CustomRule) []threat.Rule {
	out := make([]threat.Rule, 0, len(rules))
	for _, r := range rules {
		compiled, err := r.Compile()
		if err != nil {
			panic(fmt.Sprintf("BUG: custom rule %q failed to compile after validation: %v", r.ID, err))
		}
		out = append(out, compiled)
	}
	return out
}

// TrustPolicy converts the policy section into guardian permissions.
func (c *Config) TrustPolicy() []mcpguard.Permission {
	perms := make([]mcpguard.Permission, 0, len(c.Trust.Policy))
	for _, p := range c.Trust.Policy {
		perms = append(perms, mcpguard.Permission(p))
	}
	return perms
}
