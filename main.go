package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/DatanoiseTV/contextmcp/internal/service"
)

func main() {
	if err := newRootCmd(viper.New()).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Flags bind into v so they take
// precedence over environment variables and the config file.
func newRootCmd(v *viper.Viper) *cobra.Command {
	var (
		cfgFile  string
		testMode bool
	)

	// setup loads configuration and wires the app for a subcommand.
	setup := func(cmd *cobra.Command) (*App, func(), error) {
		bootLogger := zerolog.New(cmd.ErrOrStderr()).Level(zerolog.WarnLevel)
		cfg, err := LoadConfig(v, cfgFile, bootLogger)
		if err != nil {
			return nil, nil, err
		}
		logger, logCloser, err := NewLogger(cfg, cmd.ErrOrStderr())
		if err != nil {
			return nil, nil, err
		}
		app := NewApp(cfg, logger)
		cleanup := func() {
			if err := app.Close(); err != nil {
				logger.Warn().Err(err).Msg("failed to close history")
			}
			_ = logCloser.Close()
		}
		return app, cleanup, nil
	}

	rootCmd := &cobra.Command{
		Use:   "contextmcp",
		Short: "MCP server that persists project and conversation context",
		Long: `contextmcp - durable context for MCP clients.

Serves the save_project_context, save_conversation_context, get_context
and list_contexts tools over stdio. Records are stored as JSON files
under the storage root.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, cleanup, err := setup(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			if testMode {
				app.runInteractiveCLI(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
				return nil
			}
			return serve(ctx, app, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/"+ConfigDirName+"/config.yaml)")
	flags.String("root", "", "storage root directory (default is $HOME/"+DefaultRootDirName+")")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-file", "", "also write logs to this file")
	rootCmd.Flags().BoolVarP(&testMode, "test", "t", false, "Run in interactive CLI test mode")

	_ = v.BindPFlag("root", flags.Lookup("root"))
	_ = v.BindPFlag("log_level", flags.Lookup("log-level"))
	_ = v.BindPFlag("log_file", flags.Lookup("log-file"))

	shellCmd := &cobra.Command{
		Use:   "shell",
		Short: "Run the interactive test shell",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, cleanup, err := setup(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			app.runInteractiveCLI(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
			return nil
		},
	}

	var checkOnly bool
	reindexCmd := &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the context index from the stored records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, cleanup, err := setup(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			out := cmd.OutOrStdout()
			if checkOnly {
				report, err := app.svc.CheckIndex(cmd.Context())
				if err != nil {
					return err
				}
				printIndexReport(out, report)
				if !report.InSync() {
					return errors.New("index out of sync, run reindex")
				}
				return nil
			}

			n, err := app.svc.Reindex(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Indexed %d contexts\n", n)
			return nil
		},
	}
	reindexCmd.Flags().BoolVar(&checkOnly, "check", false, "report differences between the index and the records without writing")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", ServerName, ServerVersion)
			fmt.Fprintf(out, "  Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}

	rootCmd.AddCommand(shellCmd, reindexCmd, versionCmd)
	return rootCmd
}

// serve runs the stdio server. Cancellation by signal is a clean shutdown.
func serve(ctx context.Context, app *App, in io.Reader, out io.Writer) error {
	err := app.Serve(ctx, in, out)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func printIndexReport(out io.Writer, r service.IndexReport) {
	fmt.Fprintf(out, "Records on disk: %d, indexed: %d\n", r.OnDisk, r.Indexed)
	if r.InSync() {
		fmt.Fprintln(out, "Index in sync")
		return
	}
	for _, k := range r.Missing {
		fmt.Fprintf(out, "  missing:  %s\n", k)
	}
	for _, k := range r.Stale {
		fmt.Fprintf(out, "  stale:    %s\n", k)
	}
	for _, k := range r.Outdated {
		fmt.Fprintf(out, "  outdated: %s\n", k)
	}
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
