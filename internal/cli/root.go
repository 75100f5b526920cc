// Package cli implements the agentfence command-line interface using cobra.
package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags.
var Version = "0.1.0-dev"

// ErrThreatDetected is returned in enforce mode when any finding reaches the
// configured fail level. It maps to a non-zero exit code in main.
var ErrThreatDetected = errors.New("threat detected")

// Execute runs the root command.
func Execute() error {
	return rootCmd().Execute()
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agentfence",
		Short: "Threat detection for AI agent actions",
		Long: `Agentfence classifies the strings an AI agent is about to act on:
shell commands, file paths, prompts, network endpoints, and MCP server
descriptors. Detection is deterministic and fully local.

Two modes:
  enforce  - non-zero exit when findings reach the fail level (default)
  audit    - report findings, always exit zero

Quick start:
  agentfence check command "rm -rf /"
  agentfence scan ./my-agent-project
  agent-runtime | agentfence guard --config agentfence.yaml`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		checkCmd(),
		scanCmd(),
		guardCmd(),
		historyCmd(),
		versionCmd(),
	)

	return cmd
}
