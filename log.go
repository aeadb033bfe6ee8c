package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/clearbrief/datahub/internal/store"
)

func newLogCmd() *cobra.Command {
	var (
		logDataset string
		logOpKey   string
		logSince   time.Duration
		logLimit   int
	)

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show the operation log",
		Long: `List operation log entries, newest first. Filter by dataset or
operation key, or limit to a trailing window with --since.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			q := store.LogQuery{
				Dataset: logDataset,
				OpKey:   logOpKey,
				Limit:   logLimit,
			}

			if logSince > 0 {
				q.Since = time.Now().Add(-logSince)
			}

			return runLog(cmd.Context(), cc, q)
		},
	}

	cmd.Flags().StringVar(&logDataset, "dataset", "", "filter by dataset")
	cmd.Flags().StringVar(&logOpKey, "op-key", "", "filter by operation key")
	cmd.Flags().DurationVar(&logSince, "since", 0, "only entries newer than this (e.g. 24h)")
	cmd.Flags().IntVar(&logLimit, "limit", 50, "maximum entries to show (0 for all)")

	return cmd
}

func runLog(ctx context.Context, cc *CLIContext, q store.LogQuery) error {
	eng, cleanup, err := cc.openEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	entries, err := eng.Log(ctx, q)
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(entries)
	}

	if len(entries) == 0 {
		fmt.Println("No log entries.")
		return nil
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			formatTime(e.Timestamp),
			e.OpKey,
			string(e.Status),
			fmt.Sprintf("-%d/+%d", e.DeletedRows, e.InsertedRows),
			orDash(e.Message),
		})
	}

	printTable(os.Stdout, []string{"WHEN", "OPERATION", "STATUS", "ROWS", "MESSAGE"}, rows)

	return nil
}
