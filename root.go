package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/clearbrief/datahub/internal/clio"
	"github.com/clearbrief/datahub/internal/config"
	"github.com/clearbrief/datahub/internal/engine"
	"github.com/clearbrief/datahub/internal/secrets"
	"github.com/clearbrief/datahub/internal/store"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagEnvFile    string
	flagPrincipal  string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// httpClientTimeout bounds provider HTTP requests issued from the CLI.
const httpClientTimeout = 30 * time.Second

// defaultHTTPClient returns an HTTP client with a sensible timeout.
func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: httpClientTimeout}
}

// CLIFlags holds the parsed persistent flag values.
type CLIFlags struct {
	ConfigPath string
	EnvFile    string
	Principal  string
	JSON       bool
	Verbose    bool
	Quiet      bool
}

// CLIContext carries the resolved configuration and logger to every
// subcommand through the command's context.
type CLIContext struct {
	Flags  CLIFlags
	Config *config.Config
	Logger *slog.Logger
}

type cliContextKey struct{}

// mustCLIContext returns the CLIContext installed by the root pre-run.
// Panics if called before PersistentPreRunE ran; that is a programming
// error, not a user error.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		panic("CLIContext missing from command context")
	}

	return cc
}

// newRootCmd builds the fully-assembled root command. Called once from
// main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "datahub",
		Short:   "Practice data hub: provider sync, coverage and drift",
		Long:    "datahub keeps the firm's local reporting store in sync with the\npractice-management provider, audits monthly coverage, backfills gaps,\nand detects drift between the two sides.",
		Version: version,
		// Silence Cobra's default error/usage printing; main handles it.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return installCLIContext(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path (default datahub.toml)")
	cmd.PersistentFlags().StringVar(&flagEnvFile, "env-file", ".env", "secrets .env file path")
	cmd.PersistentFlags().StringVar(&flagPrincipal, "principal", "", "principal whose credentials to use (default first configured)")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newLogCmd())
	cmd.AddCommand(newAuditCmd())
	cmd.AddCommand(newBackfillCmd())
	cmd.AddCommand(newDriftCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newAbortCmd())
	cmd.AddCommand(newResumeCmd())

	return cmd
}

// installCLIContext loads configuration, builds the logger, and stores
// the resulting CLIContext in the command's context for subcommands.
func installCLIContext(cmd *cobra.Command) error {
	flags := CLIFlags{
		ConfigPath: flagConfigPath,
		EnvFile:    flagEnvFile,
		Principal:  flagPrincipal,
		JSON:       flagJSON,
		Verbose:    flagVerbose,
		Quiet:      flagQuiet,
	}

	cfg, err := config.LoadOrDefault(config.ResolvePath(flags.ConfigPath))
	if err != nil {
		return err
	}

	cc := &CLIContext{
		Flags:  flags,
		Config: cfg,
		Logger: buildLogger(cfg, flags),
	}

	cmd.SetContext(context.WithValue(cmd.Context(), cliContextKey{}, cc))

	return nil
}

// buildLogger creates an slog.Logger from the config log level, with
// --verbose and --quiet overriding it because CLI flags always win.
func buildLogger(cfg *config.Config, flags CLIFlags) *slog.Logger {
	level := slog.LevelInfo

	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	if flags.Verbose {
		level = slog.LevelDebug
	}

	if flags.Quiet {
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// principal resolves the effective principal: the --principal flag, else
// the first configured one.
func (cc *CLIContext) principal() (string, error) {
	if cc.Flags.Principal != "" {
		return cc.Flags.Principal, nil
	}

	if len(cc.Config.Principals) > 0 {
		return cc.Config.Principals[0], nil
	}

	return "", fmt.Errorf("no principal: set --principal or add principals to the config file")
}

// invoker is the audit attribution for CLI-invoked operations.
func (cc *CLIContext) invoker() string {
	principal, err := cc.principal()
	if err != nil {
		return "cli"
	}

	return "cli:" + principal
}

// openEngine wires the store, secrets, provider client and engine. The
// returned cleanup closes the store and must always be called.
func (cc *CLIContext) openEngine() (*engine.Engine, func(), error) {
	resolver, err := secrets.NewResolver(cc.Flags.EnvFile)
	if err != nil {
		return nil, nil, err
	}

	st, err := store.Open(cc.Config.Store.Path, cc.Logger)
	if err != nil {
		return nil, nil, err
	}

	tokens := clio.NewTokenCache(cc.Config.Provider.TokenURL, resolver, defaultHTTPClient(), cc.Logger)
	client := clio.NewClient(cc.Config.Provider.BaseURL, defaultHTTPClient(), tokens, cc.Logger)
	eng := engine.New(cc.Config, st, client, cc.Logger)

	cleanup := func() {
		if closeErr := st.Close(); closeErr != nil {
			cc.Logger.Warn("closing store", slog.String("error", closeErr.Error()))
		}
	}

	return eng, cleanup, nil
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
