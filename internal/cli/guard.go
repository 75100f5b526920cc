package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentfence/agentfence/internal/config"
	"github.com/agentfence/agentfence/internal/scan"
	"github.com/agentfence/agentfence/internal/threat"
)

func guardCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "guard",
		Short: "Gate agent actions from an NDJSON stream on stdin",
		Long: `Reads newline-delimited JSON requests from stdin and writes one
verdict per line to stdout. Each request names a detector kind and the
candidate input:

  {"kind": "command", "input": "rm -rf /"}
  {"kind": "path", "input": "~/.ssh/id_rsa"}
  {"kind": "prompt", "input": "ignore all previous instructions"}
  {"kind": "endpoint", "input": "https://gooogle.com"}
  {"kind": "mcp", "server": {"name": "filesystem", "publisher": "x", "permissions": ["read"]}}
  {"kind": "reset"}

Exit code 0 when no verdict reaches the fail level (or mode is audit),
1 otherwise. Malformed lines produce an error verdict and never affect
the exit code.

When started with --config, the file is watched (and SIGHUP handled) for
live rule reloads. Detector settings apply to subsequent lines; changes
to mode, fail level, logging, or emit topology require a restart.

Examples:
  agent-runtime | agentfence guard
  agentfence guard --config agentfence.yaml < actions.jsonl`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfigOrDefault(configFile)
			if err != nil {
				return err
			}

			// Stdout is the verdict channel.
			stack, err := buildStack(cfg, true)
			if err != nil {
				return err
			}
			defer stack.Close()

			ctx, cancel := signal.NotifyContext(
				cmd.Context(),
				syscall.SIGINT,
				syscall.SIGTERM,
			)
			defer cancel()

			stack.log.LogStartup(cfg.Mode)
			defer stack.log.LogShutdown("stream closed")

			if cfg.Metrics.Enabled {
				shutdown := serveMetrics(stack, cfg.Metrics.Listen, cmd.ErrOrStderr())
				defer shutdown()
			}

			gate := scan.NewGate(stack.engine)
			if configFile != "" {
				stop := watchConfig(ctx, configFile, stack, gate)
				defer stop()
			}

			failLevel := threat.ParseSeverity(cfg.FailLevel)
			breached, err := gate.GuardStream(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), failLevel)
			if err != nil {
				return err
			}
			if breached && cfg.Mode == config.ModeEnforce {
				return ErrThreatDetected
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "config file path")
	return cmd
}

// watchConfig applies config reloads to the gate until the stream ends.
// Only detector settings are swapped; the surrounding stack stays as built.
func watchConfig(ctx context.Context, path string, st *stack, gate *scan.Gate) func() {
	reloader := config.NewReloader(path)
	watchCtx, cancel := context.WithCancel(ctx)

	go func() {
		if err := reloader.Start(watchCtx); err != nil {
			st.log.LogConfigReload("failed", err.Error())
		}
	}()
	go func() {
		for cfg := range reloader.Changes() {
			engine, err := scan.NewEngine(cfg,
				scan.WithAudit(st.log),
				scan.WithMetrics(st.metrics),
				scan.WithEmitter(st.emitter),
				scan.WithStore(st.store),
			)
			if err != nil {
				st.log.LogConfigReload("failed", err.Error())
				continue
			}
			gate.Swap(engine)
			st.log.LogConfigReload("applied", path)
		}
	}()

	return func() {
		cancel()
		reloader.Close()
	}
}

// serveMetrics exposes /metrics and /stats while the guard stream runs.
func serveMetrics(st *stack, listen string, stderr io.Writer) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", st.metrics.PrometheusHandler())
	mux.HandleFunc("/stats", st.metrics.StatsHandler())

	srv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			_, _ = fmt.Fprintf(stderr, "agentfence: metrics server: %v\n", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
