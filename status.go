package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/clearbrief/datahub/internal/config"
	"github.com/clearbrief/datahub/internal/engine"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [dataset]",
		Short: "Show local store status per dataset",
		Long: `Display each dataset's local row count, latest record date, and the
most recent operation log entry. With a dataset argument only that
dataset is shown.`,
		Args: datasetArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			datasets := config.Datasets()
			if len(args) == 1 {
				datasets = args[:1]
			}

			return runStatus(cmd.Context(), cc, datasets)
		},
	}
}

// statusRow is the JSON form of one dataset's status.
type statusRow struct {
	Dataset    string `json:"dataset"`
	RowCount   int64  `json:"row_count"`
	LatestDate string `json:"latest_date,omitempty"`
	LastOp     string `json:"last_op,omitempty"`
	LastStatus string `json:"last_status,omitempty"`
	LastAt     string `json:"last_at,omitempty"`
}

func runStatus(ctx context.Context, cc *CLIContext, datasets []string) error {
	eng, cleanup, err := cc.openEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	out := make([]statusRow, 0, len(datasets))

	for _, dataset := range datasets {
		report, err := eng.Status(ctx, dataset)
		if err != nil {
			return err
		}

		out = append(out, newStatusRow(report))
	}

	if cc.Flags.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(out)
	}

	rows := make([][]string, 0, len(out))
	for _, r := range out {
		rows = append(rows, []string{r.Dataset, fmt.Sprintf("%d", r.RowCount), orDash(r.LatestDate), orDash(r.LastStatus), orDash(r.LastAt)})
	}

	printTable(os.Stdout, []string{"DATASET", "ROWS", "LATEST", "LAST OP", "WHEN"}, rows)

	return nil
}

func newStatusRow(report *engine.StatusReport) statusRow {
	row := statusRow{
		Dataset:  report.Dataset,
		RowCount: report.RowCount,
	}

	if !report.LatestDate.IsZero() {
		row.LatestDate = report.LatestDate.String()
	}

	if report.LastSync != nil {
		row.LastOp = report.LastSync.OpKey
		row.LastStatus = string(report.LastSync.Status)
		row.LastAt = formatAgo(report.LastSync.Timestamp)
	}

	return row
}

// orDash substitutes a dash for empty table cells.
func orDash(s string) string {
	if s == "" {
		return "-"
	}

	return s
}
