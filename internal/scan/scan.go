package scan

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentfence/agentfence/internal/mcpguard"
	"github.com/agentfence/agentfence/internal/threat"
)

// DefaultMaxFileBytes caps per-file reads when the config leaves the limit unset.
const DefaultMaxFileBytes = 1 << 20

// Finding locates one flagged result inside a scanned tree.
type Finding struct {
	File   string        `json:"file"`
	Line   int           `json:"line,omitempty"`
	Input  string        `json:"input"`
	Result threat.Result `json:"result"`
}

// Report is the aggregate outcome of one directory scan.
type Report struct {
	ScanID   string          `json:"scan_id"`
	Root     string          `json:"root"`
	Checked  int             `json:"checked"`
	Flagged  int             `json:"flagged"`
	MaxLevel threat.Severity `json:"max_level"`
	Findings []Finding       `json:"findings"`
	Duration time.Duration   `json:"duration"`
}

// textExts are file extensions worth scanning for candidates.
var textExts = map[string]bool{
	".go": true, ".py": true, ".js": true, ".ts": true, ".rb": true,
	".sh": true, ".bash": true, ".zsh": true,
	".yaml": true, ".yml": true, ".json": true, ".toml": true,
	".ini": true, ".cfg": true, ".conf": true, ".env": true,
	".md": true, ".txt": true,
}

// shellExts mark files whose lines are treated as shell commands.
var shellExts = map[string]bool{".sh": true, ".bash": true, ".zsh": true}

// proseExts mark files whose lines are treated as prompt text.
var proseExts = map[string]bool{".md": true, ".txt": true}

// ScanDir walks root, extracts candidate strings from source and config
// files, and classifies each with the matching detector. The walk is
// best-effort: unreadable entries are skipped, and notification failures
// never abort the scan. Only context cancellation stops it early.
func (e *Engine) ScanDir(ctx context.Context, root string) (*Report, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("cannot access %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	rep := &Report{
		ScanID: uuid.NewString(),
		Root:   root,
	}
	start := time.Now()

	// Each scan is its own bulk-access session.
	e.files.ResetSession()

	if e.metrics != nil {
		e.metrics.ScanStarted()
		defer e.metrics.ScanFinished()
	}
	if e.log != nil {
		e.log.LogScanStart(rep.ScanID, root)
	}
	if e.store != nil {
		if err := e.store.BeginScan(ctx, rep.ScanID, root, start); err != nil {
			fmt.Fprintf(os.Stderr, "scan: recording scan start: %v\n", err)
		}
	}

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if e.skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !scannable(d.Name()) {
			return nil
		}
		if info, err := d.Info(); err != nil || info.Size() > e.fileLimit() {
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = path
		}
		e.scanFile(ctx, rep, path, rel)
		return nil
	})

	rep.Duration = time.Since(start)

	if e.store != nil {
		if err := e.store.FinishScan(ctx, rep.ScanID, rep.Checked, rep.Flagged, rep.MaxLevel, time.Now()); err != nil {
			fmt.Fprintf(os.Stderr, "scan: recording scan completion: %v\n", err)
		}
	}
	if e.log != nil {
		e.log.LogScanComplete(rep.ScanID, rep.Checked, rep.Flagged, rep.MaxLevel, rep.Duration)
	}
	e.emitter.EmitScanComplete(ctx, rep.ScanID, rep.Checked, rep.Flagged, rep.MaxLevel)

	if walkErr != nil {
		return rep, walkErr
	}
	return rep, nil
}

func (e *Engine) fileLimit() int64 {
	if e.maxFileBytes > 0 {
		return e.maxFileBytes
	}
	return DefaultMaxFileBytes
}

// scannable reports whether a file name is worth opening.
func scannable(name string) bool {
	if name == "Dockerfile" || name == "Makefile" {
		return true
	}
	if name == ".env" || strings.HasPrefix(name, ".env.") {
		return true
	}
	if isMCPManifest(name) {
		return true
	}
	return textExts[filepath.Ext(name)]
}

func isMCPManifest(name string) bool {
	return name == ".mcp.json" || name == "mcp.json"
}

// scanFile extracts candidates from one file and records the results.
func (e *Engine) scanFile(ctx context.Context, rep *Report, path, rel string) {
	if isMCPManifest(filepath.Base(path)) {
		e.scanManifest(ctx, rep, path, rel)
		return
	}

	f, err := os.Open(path) //nolint:gosec // G304: path from caller-controlled dir walk
	if err != nil {
		return
	}
	defer func() { _ = f.Close() }()

	ext := filepath.Ext(path)
	base := filepath.Base(path)
	asShell := shellExts[ext]
	asProse := proseExts[ext]

	s := bufio.NewScanner(f)
	s.Buffer(make([]byte, 64*1024), int(e.fileLimit()))
	lineNum := 0
	for s.Scan() {
		if ctx.Err() != nil {
			return
		}
		lineNum++
		line := s.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		switch {
		case asShell:
			if !strings.HasPrefix(trimmed, "#") {
				e.record(ctx, rep, rel, lineNum, trimmed, e.commands.Check)
			}
		case asProse:
			e.record(ctx, rep, rel, lineNum, trimmed, e.prompts.Check)
		case commandLine(base, line):
			e.record(ctx, rep, rel, lineNum, stripCommandPrefix(trimmed), e.commands.Check)
		}

		for _, u := range endpointCandidates(line) {
			e.record(ctx, rep, rel, lineNum, u, e.endpoints.Check)
		}
		for _, p := range pathCandidates(line) {
			e.record(ctx, rep, rel, lineNum, p, e.files.Check)
		}
	}
}

// manifest is the MCP server declaration format the scanner understands.
type manifest struct {
	Servers []mcpguard.Descriptor `json:"servers"`
}

func (e *Engine) scanManifest(ctx context.Context, rep *Report, path, rel string) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path from caller-controlled dir walk
	if err != nil {
		return
	}

	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return
	}

	for _, srv := range m.Servers {
		res := e.instrument(ctx, rep.ScanID, srv.Name, func(string) threat.Result {
			return e.servers.Check(srv)
		})
		rep.add(rel, 0, srv.Name, res)
	}
}

// record classifies one candidate and folds the result into the report.
func (e *Engine) record(ctx context.Context, rep *Report, file string, line int, input string, check func(string) threat.Result) {
	res := e.instrument(ctx, rep.ScanID, input, check)
	rep.add(file, line, input, res)
}

func (r *Report) add(file string, line int, input string, res threat.Result) {
	r.Checked++
	if res.Safe {
		return
	}
	r.Flagged++
	if res.Level > r.MaxLevel {
		r.MaxLevel = res.Level
	}
	r.Findings = append(r.Findings, Finding{
		File:   file,
		Line:   line,
		Input:  input,
		Result: res,
	})
}
