package cli

import (
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentfence/agentfence/internal/scan"
)

func scanCmd() *cobra.Command {
	var configFile string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "scan DIR",
		Short: "Scan a directory tree for threats",
		Long: `Walk a directory, extract candidate strings from scripts, config
files, prose, Dockerfiles, Makefiles, and MCP manifests, and classify each
with the matching detector.

Exit code 0 when no finding reaches the fail level (or mode is audit),
1 otherwise.

Examples:
  agentfence scan ./my-agent-project
  agentfence scan --json --config agentfence.yaml /srv/agents`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigOrDefault(configFile)
			if err != nil {
				return err
			}

			stack, err := buildStack(cfg, jsonOutput)
			if err != nil {
				return err
			}
			defer stack.Close()

			rep, err := stack.engine.ScanDir(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if jsonOutput {
				data, err := json.MarshalIndent(rep, "", "  ")
				if err != nil {
					return err
				}
				cmd.Println(string(data))
			} else {
				printReport(cmd, rep)
			}

			if failed(cfg, rep.MaxLevel) {
				return ErrThreatDetected
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "config file path")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output the report as JSON")
	return cmd
}

func printReport(cmd *cobra.Command, rep *scan.Report) {
	for _, f := range rep.Findings {
		if f.Line > 0 {
			cmd.Printf("%s:%d [%s] %s: %s (input: %s)\n",
				f.File, f.Line, f.Result.Level, f.Result.RuleID, f.Result.Description, f.Input)
		} else {
			cmd.Printf("%s [%s] %s: %s (input: %s)\n",
				f.File, f.Result.Level, f.Result.RuleID, f.Result.Description, f.Input)
		}
	}
	cmd.Printf("scan %s: %d checked, %d flagged, max level %s in %s\n",
		rep.ScanID, rep.Checked, rep.Flagged, rep.MaxLevel, rep.Duration.Round(time.Millisecond))
}
