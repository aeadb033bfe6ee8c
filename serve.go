package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/clearbrief/datahub/internal/api"
)

// shutdownTimeout bounds graceful HTTP shutdown once a signal arrives.
const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		Long: `Serve the engine over HTTP for the firm dashboard. The listen address
comes from the [server] config section. SIGINT aborts in-flight
operations and shuts the server down gracefully.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			return runServe(cmd.Context(), cc)
		},
	}
}

func runServe(ctx context.Context, cc *CLIContext) error {
	eng, cleanup, err := cc.openEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	srv := api.New(cc.Config, eng, cc.Logger)

	ctx = shutdownContext(ctx, eng.AbortSignal(), cc.Logger)

	errCh := make(chan error, 1)

	go func() {
		cc.Logger.Info("http server listening", slog.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	cc.Logger.Info("http server stopped")

	return nil
}
