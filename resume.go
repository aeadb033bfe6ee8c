package main

import (
	"github.com/spf13/cobra"
)

func newResumeCmd() *cobra.Command {
	var serverAddr string

	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Clear the abort state on a running datahub server",
		Long: `Clear the abort flag on a running 'datahub serve' instance so new
operations may start again.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			if err := postControl(cmd.Context(), cc, serverAddr, "/resume", nil); err != nil {
				return err
			}

			cc.Statusf("Resumed.\n")

			return nil
		},
	}

	cmd.Flags().StringVar(&serverAddr, "server", "", "server address (default from config)")

	return cmd
}
