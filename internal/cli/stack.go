package cli

import (
	"fmt"
	"time"

	"github.com/agentfence/agentfence/internal/audit"
	"github.com/agentfence/agentfence/internal/config"
	"github.com/agentfence/agentfence/internal/emit"
	"github.com/agentfence/agentfence/internal/metrics"
	"github.com/agentfence/agentfence/internal/scan"
	"github.com/agentfence/agentfence/internal/store"
	"github.com/agentfence/agentfence/internal/threat"
)

func loadConfigOrDefault(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	return config.Defaults(), nil
}

// stack bundles the engine with the infrastructure it was built on, so
// commands can tear everything down in one place.
type stack struct {
	engine  *scan.Engine
	log     *audit.Logger
	metrics *metrics.Metrics
	emitter *emit.Emitter
	store   *store.Store
}

// buildStack assembles an engine with logging, metrics, emission, and storage
// per the config. quietAudit downgrades audit output that would land on
// stdout, for commands whose stdout is machine-readable.
func buildStack(cfg *config.Config, quietAudit bool) (*stack, error) {
	s := &stack{}

	output := cfg.Logging.Output
	if quietAudit {
		switch output {
		case config.OutputBoth:
			output = config.OutputFile
		case config.DefaultLogOutput:
			output = ""
		}
	}
	if output == "" {
		s.log = audit.NewNop()
	} else {
		log, err := audit.New(cfg.Logging.Format, output, cfg.Logging.File, cfg.Logging.IncludeSafe)
		if err != nil {
			return nil, fmt.Errorf("building audit logger: %w", err)
		}
		s.log = log
	}

	if cfg.Metrics.Enabled {
		s.metrics = metrics.New()
	}

	sinks, err := buildSinks(cfg)
	if err != nil {
		s.Close()
		return nil, err
	}
	if len(sinks) > 0 {
		s.emitter = emit.New(emit.DefaultInstanceID(), threat.ParseSeverity(cfg.Emit.MinLevel), sinks...)
	}

	if cfg.Store.Enabled {
		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("opening findings store: %w", err)
		}
		s.store = st
	}

	engine, err := scan.NewEngine(cfg,
		scan.WithAudit(s.log),
		scan.WithMetrics(s.metrics),
		scan.WithEmitter(s.emitter),
		scan.WithStore(s.store),
	)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.engine = engine

	return s, nil
}

func buildSinks(cfg *config.Config) ([]emit.Sink, error) {
	var sinks []emit.Sink

	if cfg.Emit.Webhook.Enabled {
		opts := []emit.WebhookOption{
			emit.WithWebhookTimeout(time.Duration(cfg.Emit.Webhook.TimeoutSeconds) * time.Second),
			emit.WithRateLimit(cfg.Emit.Webhook.RatePerSecond, cfg.Emit.Webhook.Burst),
		}
		if cfg.Emit.Webhook.Token != "" {
			opts = append(opts, emit.WithBearerToken(cfg.Emit.Webhook.Token))
		}
		sinks = append(sinks, emit.NewWebhookSink(cfg.Emit.Webhook.URL, opts...))
	}

	if cfg.Emit.Syslog.Enabled {
		sink, err := emit.NewSyslogSinkFromConfig(
			cfg.Emit.Syslog.Address,
			cfg.Emit.Syslog.Facility,
			cfg.Emit.Syslog.Tag,
			cfg.Emit.MinLevel,
		)
		if err != nil {
			closeSinks(sinks)
			return nil, fmt.Errorf("building syslog sink: %w", err)
		}
		sinks = append(sinks, sink)
	}

	if cfg.Emit.Sentry.Enabled {
		sink, err := emit.NewSentrySink(
			cfg.Emit.Sentry.DSN,
			cfg.Emit.Sentry.Environment,
			threat.ParseSeverity(cfg.Emit.MinLevel),
		)
		if err != nil {
			closeSinks(sinks)
			return nil, fmt.Errorf("building sentry sink: %w", err)
		}
		sinks = append(sinks, sink)
	}

	return sinks, nil
}

func closeSinks(sinks []emit.Sink) {
	for _, s := range sinks {
		_ = s.Close()
	}
}

// Close tears the stack down in reverse construction order. The emitter
// drains and closes its sinks.
func (s *stack) Close() {
	if s.emitter != nil {
		_ = s.emitter.Close()
	}
	if s.store != nil {
		_ = s.store.Close()
	}
	if s.log != nil {
		s.log.Close()
	}
}

// failed reports whether a finding level trips the enforce-mode exit.
func failed(cfg *config.Config, level threat.Severity) bool {
	if cfg.Mode != config.ModeEnforce {
		return false
	}
	return level >= threat.ParseSeverity(cfg.FailLevel) && level > threat.SeverityNone
}
