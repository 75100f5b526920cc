package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentfence/agentfence/internal/store"
	"github.com/agentfence/agentfence/internal/threat"
)

func historyCmd() *cobra.Command {
	var configFile string
	var dbPath string
	var scanID string
	var findings bool
	var minLevel string
	var limit int
	var pruneDays int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Query the findings history database",
		Long: `Query scans and findings recorded in the SQLite history.

The database path comes from the store section of the config, or --db.

Examples:
  agentfence history --db agentfence.db
  agentfence history --findings --min-level high
  agentfence history --scan 6e9f6f2a-... --json
  agentfence history --prune-days 30`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfigOrDefault(configFile)
			if err != nil {
				return err
			}

			path := dbPath
			if path == "" {
				path = cfg.Store.Path
			}
			if path == "" {
				return fmt.Errorf("no database path: enable the store in config or pass --db")
			}

			st, err := store.Open(path)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			ctx := cmd.Context()

			if pruneDays > 0 {
				cutoff := time.Now().AddDate(0, 0, -pruneDays)
				pruned, err := st.Prune(ctx, cutoff)
				if err != nil {
					return err
				}
				cmd.Printf("pruned %d findings older than %s\n", pruned, cutoff.Format(time.DateOnly))
				return nil
			}

			switch {
			case scanID != "":
				list, err := st.FindingsByScan(ctx, scanID)
				if err != nil {
					return err
				}
				return printFindings(cmd, list, jsonOutput)
			case findings:
				list, err := st.RecentFindings(ctx, threat.ParseSeverity(minLevel), limit)
				if err != nil {
					return err
				}
				return printFindings(cmd, list, jsonOutput)
			default:
				scans, err := st.RecentScans(ctx, limit)
				if err != nil {
					return err
				}
				return printScans(cmd, scans, jsonOutput)
			}
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "config file path")
	cmd.Flags().StringVar(&dbPath, "db", "", "database path (overrides config)")
	cmd.Flags().StringVar(&scanID, "scan", "", "show findings for one scan id")
	cmd.Flags().BoolVar(&findings, "findings", false, "show recent findings instead of scans")
	cmd.Flags().StringVar(&minLevel, "min-level", "none", "minimum severity for --findings")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum entries to show")
	cmd.Flags().IntVar(&pruneDays, "prune-days", 0, "delete findings older than N days and exit")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func printFindings(cmd *cobra.Command, list []store.Finding, jsonOutput bool) error {
	if jsonOutput {
		data, err := json.MarshalIndent(list, "", "  ")
		if err != nil {
			return err
		}
		cmd.Println(string(data))
		return nil
	}
	for _, f := range list {
		cmd.Printf("%s [%s] %s: %s (input: %s)\n",
			f.CreatedAt.Format(time.RFC3339), f.Result.Level, f.Result.RuleID,
			f.Result.Description, f.Input)
	}
	if len(list) == 0 {
		cmd.Println("no findings")
	}
	return nil
}

func printScans(cmd *cobra.Command, scans []store.Scan, jsonOutput bool) error {
	if jsonOutput {
		data, err := json.MarshalIndent(scans, "", "  ")
		if err != nil {
			return err
		}
		cmd.Println(string(data))
		return nil
	}
	for _, s := range scans {
		cmd.Printf("%s %s root=%s checked=%d flagged=%d max=%s\n",
			s.StartedAt.Format(time.RFC3339), s.ID, s.Root, s.Checked, s.Flagged, s.MaxLevel)
	}
	if len(scans) == 0 {
		cmd.Println("no scans recorded")
	}
	return nil
}
