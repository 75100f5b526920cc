// Package scan wires the five detectors together behind one engine and
// implements the development-time directory scanner. The engine owns the
// notification path: every check is logged, measured, emitted, and
// persisted, and a failure in any of those must never change a Result.
package scan

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/agentfence/agentfence/internal/audit"
	"github.com/agentfence/agentfence/internal/command"
	"github.com/agentfence/agentfence/internal/config"
	"github.com/agentfence/agentfence/internal/emit"
	"github.com/agentfence/agentfence/internal/endpoint"
	"github.com/agentfence/agentfence/internal/fileaccess"
	"github.com/agentfence/agentfence/internal/mcpguard"
	"github.com/agentfence/agentfence/internal/metrics"
	"github.com/agentfence/agentfence/internal/prompt"
	"github.com/agentfence/agentfence/internal/store"
	"github.com/agentfence/agentfence/internal/threat"
)

// Engine bundles the detectors with the notification stack. Detector checks
// are re-entrant; an Engine is safe for concurrent use.
type Engine struct {
	commands  *command.Validator
	files     *fileaccess.Monitor
	prompts   *prompt.Checker
	endpoints *endpoint.Validator
	servers   *mcpguard.Guardian

	log     *audit.Logger
	metrics *metrics.Metrics
	emitter *emit.Emitter
	store   *store.Store

	skipDirs     map[string]bool
	maxFileBytes int64
}

// EngineOption attaches optional infrastructure to an Engine.
type EngineOption func(*Engine)

// WithAudit attaches an audit logger.
func WithAudit(l *audit.Logger) EngineOption {
	return func(e *Engine) { e.log = l }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithEmitter attaches an event emitter.
func WithEmitter(em *emit.Emitter) EngineOption {
	return func(e *Engine) { e.emitter = em }
}

// WithStore attaches a findings store.
func WithStore(s *store.Store) EngineOption {
	return func(e *Engine) { e.store = s }
}

// NewEngine builds an Engine from a validated config. Custom rules are
// appended after the built-in corpora, so built-ins win severity ties.
func NewEngine(cfg *config.Config, opts ...EngineOption) (*Engine, error) {
	cmdCorpus, err := threat.NewCorpus(append(command.DefaultRules(), config.CompileRules(cfg.Rules.Command)...))
	if err != nil {
		return nil, fmt.Errorf("building command corpus: %w", err)
	}
	fileCorpus, err := threat.NewCorpus(append(fileaccess.DefaultRules(), config.CompileRules(cfg.Rules.FileAccess)...))
	if err != nil {
		return nil, fmt.Errorf("building fileaccess corpus: %w", err)
	}
	promptCorpus, err := threat.NewCorpus(append(prompt.DefaultRules(), config.CompileRules(cfg.Rules.Prompt)...))
	if err != nil {
		return nil, fmt.Errorf("building prompt corpus: %w", err)
	}

	e := &Engine{
		commands: command.New(cmdCorpus, command.WithDecodeDepth(cfg.Detectors.DecodeDepth)),
		files: fileaccess.New(fileCorpus,
			fileaccess.WithBulkThreshold(cfg.Detectors.BulkThreshold)),
		prompts: prompt.New(promptCorpus),
		endpoints: endpoint.New(cfg.Endpoint.Lists(),
			endpoint.WithMaxEditDistance(cfg.Endpoint.MaxEditDistance)),
		servers: mcpguard.New(cfg.Trust.Servers,
			mcpguard.WithPolicy(cfg.TrustPolicy())),
		skipDirs:     make(map[string]bool, len(cfg.Scan.SkipDirs)),
		maxFileBytes: cfg.Scan.MaxFileBytes,
	}
	for _, d := range cfg.Scan.SkipDirs {
		e.skipDirs[d] = true
	}

	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// CheckCommand classifies a shell command.
func (e *Engine) CheckCommand(ctx context.Context, input string) threat.Result {
	return e.instrument(ctx, "", input, e.commands.Check)
}

// CheckPath classifies a file path.
func (e *Engine) CheckPath(ctx context.Context, input string) threat.Result {
	return e.instrument(ctx, "", input, e.files.Check)
}

// CheckPrompt classifies a prompt or instruction string.
func (e *Engine) CheckPrompt(ctx context.Context, input string) threat.Result {
	return e.instrument(ctx, "", input, e.prompts.Check)
}

// CheckEndpoint classifies a network endpoint.
func (e *Engine) CheckEndpoint(ctx context.Context, input string) threat.Result {
	return e.instrument(ctx, "", input, e.endpoints.Check)
}

// CheckDescriptor classifies an MCP server descriptor.
func (e *Engine) CheckDescriptor(ctx context.Context, d mcpguard.Descriptor) threat.Result {
	return e.instrument(ctx, "", d.Name, func(string) threat.Result {
		return e.servers.Check(d)
	})
}

// ResetSession clears the file access monitor's bulk-access counters.
func (e *Engine) ResetSession() {
	previous := e.files.SensitiveCount()
	e.files.ResetSession()
	if e.log != nil {
		e.log.LogSessionReset(int64(previous))
	}
}

// instrument runs one check and pushes the outcome through the notification
// stack. scanID tags findings recorded during a directory scan.
func (e *Engine) instrument(ctx context.Context, scanID, input string, check func(string) threat.Result) threat.Result {
	start := time.Now()
	res := check(input)
	e.notify(ctx, scanID, input, res, time.Since(start))
	return res
}

// notify records a result with every attached hook. Hook panics are
// contained here so they can never corrupt or replace a Result.
func (e *Engine) notify(ctx context.Context, scanID, input string, res threat.Result, duration time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "scan: notification hook panic: %v\n", r)
		}
	}()

	if e.metrics != nil {
		e.metrics.RecordCheck(res, duration)
	}
	if e.log != nil {
		e.log.LogResult(input, res)
	}
	e.emitter.EmitFinding(ctx, input, res)
	if e.store != nil {
		if err := e.store.RecordFinding(ctx, scanID, input, res); err != nil {
			fmt.Fprintf(os.Stderr, "scan: recording finding: %v\n", err)
		}
	}
}
