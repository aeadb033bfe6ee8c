package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/clearbrief/datahub/internal/config"
	"github.com/clearbrief/datahub/internal/dates"
	"github.com/clearbrief/datahub/internal/engine"
)

func newSyncCmd() *cobra.Command {
	var (
		syncDataset string
		syncStart   string
		syncEnd     string
		syncMode    string
		syncDryRun  bool
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync a date range from the provider into the local store",
		Long: `Fetch the provider's records for a dataset and date range and apply
them to the local store in one transaction.

Modes: replace (delete the range then insert, the default), insertOnly
(merge without deleting), deleteOnly (delete without fetching).
Use --dry-run to see what would change without touching the store.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			return runSync(cmd.Context(), cc, syncDataset, syncStart, syncEnd, syncMode, syncDryRun)
		},
	}

	cmd.Flags().StringVar(&syncDataset, "dataset", "", "dataset to sync (collectedTime or wip)")
	cmd.Flags().StringVar(&syncStart, "start", "", "range start, YYYY-MM-DD")
	cmd.Flags().StringVar(&syncEnd, "end", "", "range end, YYYY-MM-DD (inclusive)")
	cmd.Flags().StringVar(&syncMode, "mode", string(engine.ModeReplace), "sync mode: replace, insertOnly or deleteOnly")
	cmd.Flags().BoolVar(&syncDryRun, "dry-run", false, "compute the plan without applying it")

	_ = cmd.MarkFlagRequired("dataset")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")

	return cmd
}

func runSync(ctx context.Context, cc *CLIContext, dataset, startStr, endStr, mode string, dryRun bool) error {
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

	ctx = shutdownContext(ctx, eng.AbortSignal(), cc.Logger)

	cc.Statusf("Syncing %s %s..%s (%s)...\n", dataset, start, end, mode)

	result, err := eng.Sync(ctx, engine.SyncRequest{
		Dataset:   dataset,
		Start:     start,
		End:       end,
		Mode:      engine.Mode(mode),
		Principal: principal,
		InvokedBy: cc.invoker(),
		DryRun:    dryRun,
	})
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		return printSyncJSON(result)
	}

	verb := "Synced"
	if result.DryRun {
		verb = "Would sync"
	}

	fmt.Printf("%s %s: -%d rows, +%d rows in %s\n",
		verb, result.OpKey, result.DeletedRows, result.InsertedRows,
		result.Duration.Round(displayDurationUnit))

	return nil
}

func printSyncJSON(result *engine.SyncResult) error {
	out := struct {
		OpKey        string `json:"op_key"`
		DeletedRows  int64  `json:"deleted_rows"`
		InsertedRows int64  `json:"inserted_rows"`
		DurationMs   int64  `json:"duration_ms"`
		DryRun       bool   `json:"dry_run"`
	}{result.OpKey, result.DeletedRows, result.InsertedRows, result.Duration.Milliseconds(), result.DryRun}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(out)
}

// datasetArgs validates an optional dataset positional argument.
func datasetArgs(cmd *cobra.Command, args []string) error {
	if err := cobra.MaximumNArgs(1)(cmd, args); err != nil {
		return err
	}

	if len(args) == 1 && !config.ValidDataset(args[0]) {
		return fmt.Errorf("unknown dataset %q (want collectedTime or wip)", args[0])
	}

	return nil
}
