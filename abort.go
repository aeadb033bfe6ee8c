package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
)

func newAbortCmd() *cobra.Command {
	var serverAddr string

	cmd := &cobra.Command{
		Use:   "abort [op-key]",
		Short: "Abort operations on a running datahub server",
		Long: `Tell a running 'datahub serve' instance to stop in-flight operations
at their next safe checkpoint. With an operation key only that run is
aborted; without one everything stops and new operations are refused
until 'datahub resume'.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			opKey := ""
			if len(args) == 1 {
				opKey = args[0]
			}

			body := map[string]string{"op_key": opKey}
			if err := postControl(cmd.Context(), cc, serverAddr, "/abort", body); err != nil {
				return err
			}

			if opKey == "" {
				cc.Statusf("Abort requested for all operations.\n")
			} else {
				cc.Statusf("Abort requested for %s.\n", opKey)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&serverAddr, "server", "", "server address (default from config)")

	return cmd
}

// postControl sends a JSON control request to a running server.
func postControl(ctx context.Context, cc *CLIContext, serverAddr, path string, body any) error {
	if serverAddr == "" {
		serverAddr = fmt.Sprintf("http://%s:%d", cc.Config.Server.Host, cc.Config.Server.Port)
	}

	var payload io.Reader

	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}

		payload = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serverAddr+path, payload)
	if err != nil {
		return err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := defaultHTTPClient().Do(req)
	if err != nil {
		return fmt.Errorf("reaching datahub server at %s: %w (is 'datahub serve' running?)", serverAddr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("server returned %s: %s", resp.Status, bytes.TrimSpace(raw))
	}

	return nil
}
