package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/clearbrief/datahub/internal/dates"
)

func newBackfillCmd() *cobra.Command {
	var backfillMonth string

	cmd := &cobra.Command{
		Use:   "backfill <dataset>",
		Short: "Sync every uncovered trailing month for a dataset",
		Long: `Replace-sync each trailing month that lacks a completed sync, oldest
first. A month that fails is recorded and skipped; the rest of the batch
continues. With --month only that month is synced, covered or not.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			return runBackfill(cmd.Context(), cc, args[0], backfillMonth)
		},
	}

	cmd.Flags().StringVar(&backfillMonth, "month", "", "backfill a single month (YYYY-MM)")

	return cmd
}

func runBackfill(ctx context.Context, cc *CLIContext, dataset, monthStr string) error {
	principal, err := cc.principal()
	if err != nil {
		return err
	}

	eng, cleanup, err := cc.openEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx = shutdownContext(ctx, eng.AbortSignal(), cc.Logger)

	if monthStr != "" {
		m, err := dates.ParseMonth(monthStr)
		if err != nil {
			return err
		}

		cc.Statusf("Backfilling %s %s...\n", dataset, m.Key())

		if err := eng.BackfillOne(ctx, dataset, m, principal, cc.invoker()); err != nil {
			return err
		}

		fmt.Printf("Backfilled %s %s\n", dataset, m.Key())

		return nil
	}

	cc.Statusf("Backfilling uncovered months for %s...\n", dataset)

	result, err := eng.BackfillUncovered(ctx, dataset, principal, cc.invoker())
	if err != nil {
		return err
	}

	for _, m := range result.Done {
		fmt.Printf("  done   %s\n", m.Key())
	}

	for _, e := range result.Errors {
		fmt.Printf("  failed %s: %v\n", e.Month.Key(), e.Err)
	}

	switch {
	case result.Aborted:
		fmt.Printf("Aborted after %d month(s).\n", len(result.Done))
	case len(result.Done) == 0 && len(result.Errors) == 0:
		fmt.Println("Nothing to backfill; all trailing months are covered.")
	default:
		fmt.Printf("Backfilled %d month(s), %d failure(s).\n", len(result.Done), len(result.Errors))
	}

	return nil
}
