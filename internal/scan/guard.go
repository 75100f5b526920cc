package scan

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"github.com/agentfence/agentfence/internal/mcpguard"
	"github.com/agentfence/agentfence/internal/threat"
)

// maxGuardLine caps one NDJSON request line.
const maxGuardLine = 1 << 20

// Request kinds accepted by the guard stream.
const (
	KindCommand  = "command"
	KindPath     = "path"
	KindPrompt   = "prompt"
	KindEndpoint = "endpoint"
	KindMCP      = "mcp"
	KindReset    = "reset"
)

// Request is one newline-delimited JSON line fed to the runtime gate.
// Kind selects the detector; Input carries the candidate string, except for
// kind "mcp" which carries a full server descriptor. Kind "reset" marks a
// session boundary for the bulk-access counters.
type Request struct {
	Kind   string               `json:"kind"`
	Input  string               `json:"input,omitempty"`
	Server *mcpguard.Descriptor `json:"server,omitempty"`
}

// Verdict is the per-line response written back by the guard stream.
type Verdict struct {
	Line   int           `json:"line"`
	Result threat.Result `json:"result"`
	Error  string        `json:"error,omitempty"`
}

// Gate serves a guard stream with a hot-swappable engine, so a config
// reload can take effect between lines without interrupting the stream.
type Gate struct {
	engine atomic.Pointer[Engine]
}

// NewGate wraps an engine for streaming use.
func NewGate(e *Engine) *Gate {
	g := &Gate{}
	g.engine.Store(e)
	return g
}

// Engine returns the currently active engine.
func (g *Gate) Engine() *Engine {
	return g.engine.Load()
}

// Swap replaces the active engine. In-flight checks finish on the old one.
func (g *Gate) Swap(e *Engine) {
	g.engine.Store(e)
}

// GuardStream reads NDJSON requests from r, classifies each, and writes one
// JSON verdict per line to w. It returns true if any result reached
// failLevel. Malformed lines produce an error verdict and are not counted
// as a breach; only the reader failing stops the stream.
func (e *Engine) GuardStream(ctx context.Context, r io.Reader, w io.Writer, failLevel threat.Severity) (bool, error) {
	return NewGate(e).GuardStream(ctx, r, w, failLevel)
}

// GuardStream is the streaming loop behind the guard command. The engine is
// re-resolved per line, so a Swap applies to every subsequent request.
func (g *Gate) GuardStream(ctx context.Context, r io.Reader, w io.Writer, failLevel threat.Severity) (bool, error) {
	lines := bufio.NewScanner(r)
	lines.Buffer(make([]byte, 0, 64*1024), maxGuardLine)

	breached := false
	lineNum := 0

	for lines.Scan() {
		if ctx.Err() != nil {
			return breached, ctx.Err()
		}
		lineNum++
		line := strings.TrimSpace(lines.Text())
		if line == "" {
			continue
		}

		verdict := g.Engine().guardOne(ctx, []byte(line))
		verdict.Line = lineNum

		if verdict.Error == "" && !verdict.Result.Safe && verdict.Result.Level >= failLevel {
			breached = true
		}

		data, err := json.Marshal(verdict)
		if err != nil {
			return breached, fmt.Errorf("marshaling verdict: %w", err)
		}
		data = append(data, '\n')
		if _, err := w.Write(data); err != nil {
			return breached, fmt.Errorf("writing verdict: %w", err)
		}
	}

	if err := lines.Err(); err != nil {
		return breached, fmt.Errorf("reading input: %w", err)
	}
	return breached, nil
}

// guardOne parses and classifies a single request line.
func (e *Engine) guardOne(ctx context.Context, line []byte) Verdict {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return Verdict{Error: fmt.Sprintf("invalid JSON: %v", err)}
	}

	switch req.Kind {
	case KindCommand:
		return Verdict{Result: e.CheckCommand(ctx, req.Input)}
	case KindPath:
		return Verdict{Result: e.CheckPath(ctx, req.Input)}
	case KindPrompt:
		return Verdict{Result: e.CheckPrompt(ctx, req.Input)}
	case KindEndpoint:
		return Verdict{Result: e.CheckEndpoint(ctx, req.Input)}
	case KindMCP:
		if req.Server == nil {
			return Verdict{Error: `kind "mcp" requires a server descriptor`}
		}
		return Verdict{Result: e.CheckDescriptor(ctx, *req.Server)}
	case KindReset:
		e.ResetSession()
		return Verdict{Result: threat.Clean(threat.FileAccessMonitor)}
	default:
		return Verdict{Error: fmt.Sprintf("unknown kind %q", req.Kind)}
	}
}
