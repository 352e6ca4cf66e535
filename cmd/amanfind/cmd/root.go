// Package cmd provides the CLI commands for amanfind.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanfind/internal/config"
	amerrors "github.com/Aman-CERP/amanfind/internal/errors"
	"github.com/Aman-CERP/amanfind/internal/logging"
	"github.com/Aman-CERP/amanfind/internal/profiling"
	"github.com/Aman-CERP/amanfind/pkg/version"
)

// annotationConfigOptional marks commands that still run when the
// configuration cannot be loaded, so a broken config can be repaired.
const annotationConfigOptional = "config_optional"

// globals holds the persistent flags and the state they produce.
type globals struct {
	debug      bool
	configPath string
	indexDir   string
	noColor    bool
	profile    profiling.Options

	cfg            *config.Config
	cfgErr         error // load error when defaults were used instead
	loggingCleanup func()
	profiler       *profiling.Profiler
}

// NewRootCmd creates the root command for the amanfind CLI.
func NewRootCmd() *cobra.Command {
	cmd, _ := newRootCmd()
	return cmd
}

func newRootCmd() (*cobra.Command, *globals) {
	g := &globals{}

	cmd := &cobra.Command{
		Use:   "amanfind",
		Short: "Local full-text search over your files",
		Long: heredoc.Doc(`
			amanfind indexes the files under one or more folders and searches
			their names and contents with BM25 ranking.

			Everything runs locally. The index lives in a single directory
			(~/.local/share/amanfind/index by default) and is safe to search
			while it is being rebuilt.

			Get started:
			  amanfind index ~/Documents
			  amanfind search "quarterly report"
		`),
		Version:           version.Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: g.setup,
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			g.teardown()
			return nil
		},
	}

	cmd.SetVersionTemplate("amanfind version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&g.debug, "debug", false, "Enable debug logging to ~/.amanfind/logs/")
	cmd.PersistentFlags().StringVar(&g.configPath, "config", "", "Path to a config file (skips user and project config)")
	cmd.PersistentFlags().StringVar(&g.indexDir, "index-dir", "", "Index directory (overrides config)")
	cmd.PersistentFlags().BoolVar(&g.noColor, "no-color", false, "Disable colored output")
	cmd.PersistentFlags().StringVar(&g.profile.CPU, "profile-cpu", "", "Write a CPU profile to this file")
	cmd.PersistentFlags().StringVar(&g.profile.Heap, "profile-mem", "", "Write a heap profile to this file on exit")
	cmd.PersistentFlags().StringVar(&g.profile.Trace, "profile-trace", "", "Write an execution trace to this file")
	_ = cmd.PersistentFlags().MarkHidden("profile-trace")

	cmd.AddCommand(newIndexCmd(g))
	cmd.AddCommand(newUpdateCmd(g))
	cmd.AddCommand(newRemoveCmd(g))
	cmd.AddCommand(newCompactCmd(g))
	cmd.AddCommand(newSearchCmd(g))
	cmd.AddCommand(newStatusCmd(g))
	cmd.AddCommand(newConfigCmd(g))
	cmd.AddCommand(newLogsCmd(g))
	cmd.AddCommand(newDoctorCmd(g))
	cmd.AddCommand(newVersionCmd())

	return cmd, g
}

// setup loads configuration and installs the logger before any subcommand runs.
func (g *globals) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := g.loadConfig()
	if err != nil {
		if cmd.Annotations[annotationConfigOptional] == "" {
			return err
		}
		// Fall back to defaults so config commands can repair the file.
		cfg = config.NewConfig()
		g.cfgErr = err
	}
	if g.indexDir != "" {
		cfg.Index.Directory = g.indexDir
	}
	g.cfg = cfg

	cleanup, logErr := logging.SetupCLI(cfg.Logging.Level, g.debug)
	if logErr != nil {
		return fmt.Errorf("failed to setup logging: %w", logErr)
	}
	g.loggingCleanup = cleanup

	if err != nil {
		slog.Warn("config_load_failed", amerrors.LogAttrs(err)...)
	}
	if g.debug {
		slog.Info("debug_logging_enabled",
			slog.String("log_file", logging.DefaultLogPath()),
			slog.String("version", version.Version),
			slog.String("command", cmd.CommandPath()))
	}

	if g.profile.Enabled() {
		p, err := profiling.Start(g.profile)
		if err != nil {
			return err
		}
		g.profiler = p
	}
	return nil
}

func (g *globals) loadConfig() (*config.Config, error) {
	if g.configPath != "" {
		return config.LoadFile(g.configPath)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	return config.Load(cwd)
}

func (g *globals) teardown() {
	if g.profiler != nil {
		if err := g.profiler.Stop(); err != nil {
			slog.Warn("profile_write_failed", slog.String("error", err.Error()))
		}
		g.profiler = nil
	}
	if g.loggingCleanup != nil {
		g.loggingCleanup()
		g.loggingCleanup = nil
	}
}

// Execute runs the root command. Interrupts cancel the command context;
// errors are printed to stderr in CLI form.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, g := newRootCmd()
	// PersistentPostRunE is skipped when a command fails.
	defer g.teardown()

	err := cmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprint(os.Stderr, amerrors.FormatForCLI(err))
	}
	return err
}
