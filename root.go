package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/firecloud-go/internal/cloud"
	"github.com/tonimelisma/firecloud-go/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagProject    string
	flagEmail      string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// CLIFlags is a snapshot of the persistent flags taken when a command runs.
type CLIFlags struct {
	JSON    bool
	Verbose bool
	Quiet   bool
}

// CLIContext carries everything a subcommand needs: the resolved config, a
// logger, and the streams to write to. It is attached to the command's
// context by PersistentPreRunE.
type CLIContext struct {
	Flags  CLIFlags
	Cfg    *config.Resolved
	Logger *slog.Logger
	Out    io.Writer
	Err    io.Writer

	limiter *cloud.BandwidthLimiter
}

type cliContextKey struct{}

// mustCLIContext returns the CLIContext attached by PersistentPreRunE. A
// missing context is a wiring bug.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		panic("firecloud: command ran without a CLIContext")
	}

	return cc
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "firecloud",
		Short:   "Command-line client for a hosted backend's database, document store and blob store",
		Version: version,
		// Silence Cobra's default error/usage printing; main handles it.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if skipConfig(cmd) {
				return nil
			}

			cc, err := loadCLIContext(cmd)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cc))

			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagProject, "project", "", "project id (overrides config and FIRECLOUD_PROJECT)")
	cmd.PersistentFlags().StringVar(&flagEmail, "email", "", "account email used to log in")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newWhoamiCmd())
	cmd.AddCommand(newDBCmd())
	cmd.AddCommand(newDocCmd())
	cmd.AddCommand(newStorageCmd())

	return cmd
}

// skipConfig reports whether cmd runs without a resolved config. Help and
// shell completion must work before any config exists.
func skipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "help", cobra.ShellCompRequestCmd, cobra.ShellCompNoDescRequestCmd, "completion":
			return true
		}
	}

	return false
}

// loadCLIContext resolves the effective configuration from the four-layer
// override chain and builds the logger from it.
func loadCLIContext(cmd *cobra.Command) (*CLIContext, error) {
	cli := config.CLIOverrides{
		ConfigPath: flagConfigPath,
		Project:    flagProject,
		Email:      flagEmail,
	}

	resolved, err := config.Resolve(config.ReadEnvOverrides(), cli)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	flags := CLIFlags{JSON: flagJSON, Verbose: flagVerbose, Quiet: flagQuiet}
	logger := buildLogger(cmd.ErrOrStderr(), &resolved.Logging, flags)

	logger.Debug("config resolved",
		slog.String("path", resolved.Path),
		slog.String("project", resolved.Project),
	)

	return &CLIContext{
		Flags:   flags,
		Cfg:     resolved,
		Logger:  logger,
		Out:     cmd.OutOrStdout(),
		Err:     cmd.ErrOrStderr(),
		limiter: cloud.NewBandwidthLimiter(resolved.Transfers.BandwidthBytes(), logger),
	}, nil
}

// buildLogger creates an slog.Logger writing to w. The config-file level is
// the baseline; --verbose and --quiet override it because CLI flags always
// win.
func buildLogger(w io.Writer, cfg *config.LoggingConfig, flags CLIFlags) *slog.Logger {
	level := slog.LevelWarn
	format := "text"

	if cfg != nil {
		level = cfg.SlogLevel()
		format = cfg.LogFormat
	}

	if flags.Verbose {
		level = slog.LevelDebug
	}

	if flags.Quiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}

// cloudOptions maps the resolved config onto client options. Every client
// built from the same CLIContext shares one bandwidth limiter.
func (cc *CLIContext) cloudOptions() cloud.Options {
	return cloud.Options{
		Logger:    cc.Logger,
		UserAgent: cc.Cfg.Network.UserAgent,
		Endpoints: cloud.Endpoints{
			DatabaseURL: cc.Cfg.Endpoints.DatabaseURL,
			StoreURL:    cc.Cfg.Endpoints.StoreURL,
			StorageURL:  cc.Cfg.Endpoints.StorageURL,
			IdentityURL: cc.Cfg.Endpoints.IdentityURL,
			TokenURL:    cc.Cfg.Endpoints.TokenURL,
		},
		Bucket:         cc.Cfg.Endpoints.Bucket,
		Limiter:        cc.limiter,
		ConnectTimeout: cc.Cfg.Network.ConnectTimeoutDuration(),
		ForceHTTP11:    cc.Cfg.Network.ForceHTTP11,
	}
}

// service builds the clients for the resolved project, authenticated as
// far as the configured account allows.
func (cc *CLIContext) service(ctx context.Context) (*cloud.Service, error) {
	svc := cloud.NewService(cc.Cfg.APIKey, cc.Cfg.Project, cc.cloudOptions())

	if err := cc.authenticate(ctx, svc.Identity); err != nil {
		return nil, err
	}

	return svc, nil
}

// exitOnError prints a user-friendly error message to w and exits. The
// prefix is red when w is a terminal.
func exitOnError(w *os.File, err error) {
	prefix := "Error:"
	if isatty.IsTerminal(w.Fd()) || isatty.IsCygwinTerminal(w.Fd()) {
		red := color.New(color.FgRed, color.Bold)
		red.EnableColor()
		prefix = red.Sprint(prefix)
	}

	fmt.Fprintf(w, "%s %v\n", prefix, err)
	os.Exit(1)
}
