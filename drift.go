package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/clearbrief/datahub/internal/dates"
	"github.com/clearbrief/datahub/internal/engine"
)

func newDriftCmd() *cobra.Command {
	var (
		driftStart string
		driftEnd   string
		driftDeep  bool
	)

	cmd := &cobra.Command{
		Use:   "drift <dataset>",
		Short: "Compare local aggregates against the provider",
		Long: `Compare the local store's row count and amount sum for a range
against the provider's, plus per-person spot checks for the configured
team members.

The default shallow check uses cheap list metadata and may come back
local-only when the provider doesn't expose it. --deep requests a full
provider-side report: slower, rate limited, but authoritative.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			return runDrift(cmd.Context(), cc, args[0], driftStart, driftEnd, driftDeep)
		},
	}

	cmd.Flags().StringVar(&driftStart, "start", "", "range start, YYYY-MM-DD")
	cmd.Flags().StringVar(&driftEnd, "end", "", "range end, YYYY-MM-DD (inclusive)")
	cmd.Flags().BoolVar(&driftDeep, "deep", false, "request a provider-side aggregation report")

	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")

	return cmd
}

func runDrift(ctx context.Context, cc *CLIContext, dataset, startStr, endStr string, deep bool) error {
	start, err := dates.ParseDate(startStr)
	if err != nil {
		return err
	}

	end, err := dates.ParseDate(endStr)
	if err != nil {
		return err
	}

	principal, err := cc.principal()
	if err != nil {
		return err
	}

	eng, cleanup, err := cc.openEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	mode := "shallow"
	if deep {
		mode = "deep"
	}

	cc.Statusf("Running %s drift check for %s %s..%s...\n", mode, dataset, start, end)

	report, err := eng.Drift(ctx, principal, dataset, start, end, deep)
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(report)
	}

	printDriftReport(report)

	return nil
}

func printDriftReport(report *engine.DriftReport) {
	fmt.Printf("Drift report: %s %s..%s\n", report.Dataset, report.Start, report.End)
	fmt.Printf("  local:  %d rows, %s\n", report.LocalRows, formatMoney(report.LocalSum))

	if !report.Verified() {
		fmt.Println("  remote: unavailable (local-only, unverified)")
	} else {
		fmt.Printf("  remote: %d rows, %s\n", *report.RemoteRows, formatMoney(*report.RemoteSum))
		fmt.Printf("  rows %s, sums %s\n", matchWord(report.CountsMatch()), matchWord(report.SumsMatch()))
	}

	if len(report.SpotChecks) == 0 {
		return
	}

	fmt.Println("\nSpot checks:")

	rows := make([][]string, 0, len(report.SpotChecks))
	for _, check := range report.SpotChecks {
		remote := "-"
		verdict := "unknown"

		if check.RemoteKnown {
			remote = fmt.Sprintf("%d rows, %s", check.RemoteRows, formatMoney(check.RemoteSum))
			verdict = fmt.Sprintf("rows %s, sums %s", matchWord(check.RowsMatch), matchWord(check.SumMatch))
		}

		rows = append(rows, []string{
			check.Initials,
			fmt.Sprintf("%d rows, %s", check.LocalRows, formatMoney(check.LocalSum)),
			remote,
			verdict,
		})
	}

	printTable(os.Stdout, []string{"WHO", "LOCAL", "REMOTE", "VERDICT"}, rows)
}

func matchWord(ok bool) string {
	if ok {
		return "match"
	}

	return "MISMATCH"
}
