package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newAuditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audit <dataset>",
		Short: "Audit monthly sync coverage for a dataset",
		Long: `Show the trailing months for a dataset and whether each has a
successfully completed sync. Months whose last sync errored, aborted, or
never finished are flagged; 'datahub backfill' fills them in.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			return runAudit(cmd.Context(), cc, args[0])
		},
	}
}

// auditRow is the JSON form of one month's coverage.
type auditRow struct {
	Month         string `json:"month"`
	State         string `json:"state"`
	SyncCount     int    `json:"sync_count"`
	ValidateCount int    `json:"validate_count"`
	LastSyncAt    string `json:"last_sync_at,omitempty"`
}

func runAudit(ctx context.Context, cc *CLIContext, dataset string) error {
	eng, cleanup, err := cc.openEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	records, err := eng.MonthAudit(ctx, dataset)
	if err != nil {
		return err
	}

	out := make([]auditRow, 0, len(records))
	uncovered := 0

	for _, r := range records {
		row := auditRow{
			Month:         r.Month.Key(),
			State:         r.Label(),
			SyncCount:     r.SyncCount,
			ValidateCount: r.ValidateCount,
		}

		if r.LastSync != nil {
			row.LastSyncAt = formatAgo(r.LastSync.Timestamp)
		}

		if !r.Covered() {
			uncovered++
		}

		out = append(out, row)
	}

	if cc.Flags.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(out)
	}

	rows := make([][]string, 0, len(out))
	for _, r := range out {
		rows = append(rows, []string{
			r.Month, r.State,
			fmt.Sprintf("%d", r.SyncCount),
			fmt.Sprintf("%d", r.ValidateCount),
			orDash(r.LastSyncAt),
		})
	}

	printTable(os.Stdout, []string{"MONTH", "STATE", "SYNCS", "VALIDATIONS", "LAST SYNC"}, rows)

	if stdoutIsTerminal() && uncovered > 0 {
		fmt.Printf("\n%d month(s) need attention. Run 'datahub backfill %s' to fill them.\n", uncovered, dataset)
	}

	return nil
}
