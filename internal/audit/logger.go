// Package audit provides structured JSON audit logging for all detector and
// scan events.
package audit

import (
	"io"
	"os"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/agentfence/agentfence/internal/threat"
)

// sanitizeString strips control characters and ANSI escape sequences from a
// string before logging. Checked inputs are attacker-controlled, so a crafted
// command or path could otherwise inject terminal escapes (e.g. \x1b[2J to
// clear screen when tailing audit logs).
func sanitizeString(s string) string {
	// Fast path: most strings have no control characters.
	clean := true
	for _, r := range s {
		if r != '\t' && r != '\n' && (unicode.IsControl(r) || r == '\x1b') {
			clean = false
			break
		}
	}
	if clean {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	inEscape := false
	for _, r := range s {
		if inEscape {
			// ANSI escape sequences end with a letter (A-Z, a-z).
			if (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') {
				inEscape = false
			}
			continue
		}
		if r == '\x1b' {
			inEscape = true
			continue
		}
		// Allow tabs and newlines but strip other control chars.
		if r != '\t' && r != '\n' && unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// EventType describes the kind of audit event.
type EventType string

// Event type constants for structured audit log entries.
const (
	EventChecked      EventType = "checked"
	EventFlagged      EventType = "flagged"
	EventScanStart    EventType = "scan_start"
	EventScanComplete EventType = "scan_complete"
	EventSessionReset EventType = "session_reset"
	EventConfigReload EventType = "config_reload"
)

// Logger handles structured audit logging using zerolog.
type Logger struct {
	zl          zerolog.Logger
	includeSafe bool
	fileHandle  *os.File // non-nil if logging to file
}

// New creates a new audit logger. format is "json" or "text"; output is
// "stdout", "file", or "both". The caller should call Close when done.
func New(format, output, filePath string, includeSafe bool) (*Logger, error) {
	var writers []io.Writer

	if output == "stdout" || output == "both" {
		if format == "text" {
			writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
		} else {
			writers = append(writers, os.Stdout)
		}
	}

	var fileHandle *os.File
	if output == "file" || output == "both" {
		f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600) //nolint:gosec // G304: path validated by config layer
		if err != nil {
			return nil, err
		}
		writers = append(writers, f)
		fileHandle = f
	}

	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	var w io.Writer
	if len(writers) == 1 {
		w = writers[0]
	} else {
		w = zerolog.MultiLevelWriter(writers...)
	}

	zl := zerolog.New(w).With().
		Timestamp().
		Str("component", "agentfence").
		Logger()

	return &Logger{
		zl:          zl,
		includeSafe: includeSafe,
		fileHandle:  fileHandle,
	}, nil
}

// NewNop returns a no-op logger that discards all events.
func NewNop() *Logger {
	return &Logger{
		zl: zerolog.Nop(),
	}
}

// LogResult logs one check outcome. Safe results are only logged when the
// logger was built with includeSafe; flagged results log at a level matching
// their severity and carry the MITRE technique mapping for the fired rule.
func (l *Logger) LogResult(input string, res threat.Result) {
	if res.Safe {
		if !l.includeSafe {
			return
		}
		l.zl.Info().
			Str("event", string(EventChecked)).
			Str("detector", res.Detector.String()).
			Str("input", sanitizeString(input)).
			Msg("input checked")
		return
	}

	ev := l.zl.Warn()
	if res.Level >= threat.SeverityCritical {
		ev = l.zl.Error()
	}
	ev = ev.
		Str("event", string(EventFlagged)).
		Str("detector", res.Detector.String()).
		Str("level", res.Level.String()).
		Str("rule_id", res.RuleID).
		Str("description", sanitizeString(res.Description)).
		Str("input", sanitizeString(input)).
		Str("evidence", sanitizeString(res.Evidence))
	if tech := TechniqueForRule(res.RuleID); tech != "" {
		ev = ev.Str("mitre_technique", tech)
	}
	ev.Msg("threat flagged")
}

// LogScanStart logs the beginning of a directory or input scan.
func (l *Logger) LogScanStart(scanID, root string) {
	l.zl.Info().
		Str("event", string(EventScanStart)).
		Str("scan_id", scanID).
		Str("root", sanitizeString(root)).
		Msg("scan started")
}

// LogScanComplete logs the end of a scan with aggregate counts.
func (l *Logger) LogScanComplete(scanID string, checked, flagged int, maxLevel threat.Severity, duration time.Duration) {
	l.zl.Info().
		Str("event", string(EventScanComplete)).
		Str("scan_id", scanID).
		Int("checked", checked).
		Int("flagged", flagged).
		Str("max_level", maxLevel.String()).
		Dur("duration_ms", duration).
		Msg("scan complete")
}

// LogSessionReset logs a file-access session counter reset.
func (l *Logger) LogSessionReset(previousCount int64) {
	l.zl.Info().
		Str("event", string(EventSessionReset)).
		Int64("sensitive_count", previousCount).
		Msg("session counters reset")
}

// LogConfigReload logs a configuration reload event.
func (l *Logger) LogConfigReload(status, detail string) {
	l.zl.Info().
		Str("event", string(EventConfigReload)).
		Str("status", status).
		Str("detail", detail).
		Msg("configuration reloaded")
}

// LogStartup logs process start.
func (l *Logger) LogStartup(mode string) {
	l.zl.Info().
		Str("event", "startup").
		Str("mode", mode).
		Msg("agentfence started")
}

// LogShutdown logs process stop.
func (l *Logger) LogShutdown(reason string) {
	l.zl.Info().
		Str("event", "shutdown").
		Str("reason", reason).
		Msg("agentfence stopping")
}

// With returns a sub-logger that includes the given key-value pair in every
// log entry. The sub-logger shares the parent's file handle and config but
// does NOT own the file; only the root logger should be Close()'d.
func (l *Logger) With(key, value string) *Logger {
	return &Logger{
		zl:          l.zl.With().Str(key, value).Logger(),
		includeSafe: l.includeSafe,
	}
}

// Close cleans up the logger, flushing and closing any open file handles.
// Close is idempotent and safe to call multiple times.
func (l *Logger) Close() {
	if l.fileHandle != nil {
		_ = l.fileHandle.Sync()
		_ = l.fileHandle.Close()
		l.fileHandle = nil
	}
}
