package cmd

import (
	"fmt"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/amanfind/internal/config"
	"github.com/Aman-CERP/amanfind/internal/output"
)

// configOptional lets a command run on defaults when the config is broken.
var configOptional = map[string]string{annotationConfigOptional: "true"}

func newConfigCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage user configuration",
		Long: heredoc.Doc(`
			Manage the user configuration file.

			Configuration precedence (lowest to highest):
			  1. Built-in defaults
			  2. User config (~/.config/amanfind/config.yaml)
			  3. Project config (.amanfind.yaml in the working directory)
			  4. Environment variables (AMANFIND_*)

			--config replaces 2 and 3 with a single file.
		`),
		Example: heredoc.Doc(`
			# Create the user config with defaults
			amanfind config init

			# Show the effective configuration
			amanfind config show

			# Add options introduced by a newer release
			amanfind config upgrade
		`),
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd(g))
	cmd.AddCommand(newConfigPathCmd())
	cmd.AddCommand(newConfigUpgradeCmd())
	cmd.AddCommand(newConfigRestoreCmd())

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Create the user configuration file",
		Long:        `Create ~/.config/amanfind/config.yaml (or $XDG_CONFIG_HOME/amanfind/config.yaml) with the default settings.`,
		Args:        cobra.NoArgs,
		Annotations: configOptional,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigInit(cmd, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Upgrade an existing config with new defaults (keeps your settings)")

	return cmd
}

func newConfigShowCmd(g *globals) *cobra.Command {
	var (
		jsonOutput bool
		source     string
	)

	cmd := &cobra.Command{
		Use:         "show",
		Short:       "Show effective configuration",
		Args:        cobra.NoArgs,
		Annotations: configOptional,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigShow(cmd, g, jsonOutput, source)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().StringVar(&source, "source", "merged", "Config source: merged, user, defaults")

	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "path",
		Short:       "Print user config file path",
		Args:        cobra.NoArgs,
		Annotations: configOptional,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), config.GetUserConfigPath())
			return err
		},
	}
}

func newConfigUpgradeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upgrade",
		Short: "Add new default options to the user config",
		Long: heredoc.Doc(`
			Back up the user config, then add every option it does not set yet
			with its default value. Existing settings are kept.
		`),
		Args:        cobra.NoArgs,
		Annotations: configOptional,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := output.New(cmd.OutOrStdout())
			if !config.UserConfigExists() {
				out.Warning("No user configuration file found")
				out.Status("💡", "Run 'amanfind config init' to create one")
				return nil
			}
			return runConfigUpgrade(out)
		},
	}
}

func newConfigRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore [number|file]",
		Short: "Restore the user config from a backup",
		Long: heredoc.Doc(`
			Restore the user config from a backup. Without an argument the
			available backups are listed, newest first and numbered from 1.
			Pass a number from that list or a file path. The current config is
			backed up before it is replaced.
		`),
		Args:        cobra.MaximumNArgs(1),
		Annotations: configOptional,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.New(cmd.OutOrStdout())
			if len(args) == 0 {
				return listConfigBackups(out)
			}
			path, err := config.ResolveBackup(args[0])
			if err != nil {
				return err
			}
			if err := config.RestoreUserConfig(path); err != nil {
				return err
			}
			out.Success("Configuration restored")
			out.Statusf("📁", "Location: %s", config.GetUserConfigPath())
			return nil
		},
	}
}

func runConfigInit(cmd *cobra.Command, force bool) error {
	out := output.New(cmd.OutOrStdout())
	configPath := config.GetUserConfigPath()

	if config.UserConfigExists() {
		if !force {
			out.Warning("User configuration already exists")
			out.Statusf("📁", "Location: %s", configPath)
			out.Newline()
			out.Status("💡", "Use --force to upgrade with new defaults (preserves your settings)")
			return nil
		}
		return runConfigUpgrade(out)
	}

	if err := config.NewConfig().WriteYAML(configPath); err != nil {
		return err
	}

	out.Success("Created user configuration")
	out.Statusf("📁", "Location: %s", configPath)
	out.Newline()
	out.Status("📋", "Next steps:")
	out.Status("", "  1. Add your folders under index.root_folders")
	out.Status("", "  2. Run 'amanfind index' to build the index")
	return nil
}

// runConfigUpgrade backs up the user config, merges new defaults and writes it back.
func runConfigUpgrade(out *output.Writer) error {
	configPath := config.GetUserConfigPath()

	backupPath, err := config.BackupUserConfig()
	if err != nil {
		return fmt.Errorf("failed to backup config: %w", err)
	}

	existing, err := config.LoadUserConfig()
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("config file disappeared during upgrade")
	}

	added := existing.MergeNewDefaults()
	if err := existing.WriteYAML(configPath); err != nil {
		return fmt.Errorf("failed to write upgraded config: %w", err)
	}

	out.Success("Configuration upgraded")
	out.Statusf("📁", "Location: %s", configPath)
	out.Statusf("💾", "Backup: %s", backupPath)
	out.Newline()
	if len(added) == 0 {
		out.Status("✓", "Your configuration is already up to date")
		return nil
	}
	out.Status("✨", "New options added with defaults:")
	for _, field := range added {
		out.Statusf("", "  - %s", field)
	}
	return nil
}

func listConfigBackups(out *output.Writer) error {
	backups, err := config.ListUserConfigBackups()
	if err != nil {
		return err
	}
	if len(backups) == 0 {
		out.Status("📋", "No config backups found")
		return nil
	}
	out.Status("📋", "Config backups (newest first):")
	for i, b := range backups {
		out.Statusf("", "  %d. %s (%s)", i+1, b.Path, humanize.Time(b.Taken))
	}
	return nil
}

func runConfigShow(cmd *cobra.Command, g *globals, jsonOutput bool, source string) error {
	out := output.New(cmd.OutOrStdout())

	var (
		cfg        *config.Config
		sourceDesc string
	)
	switch source {
	case "merged":
		if g.cfgErr != nil {
			return g.cfgErr
		}
		cfg = g.cfg
		sourceDesc = "merged (defaults + user + project + env)"
		if g.configPath != "" {
			sourceDesc = fmt.Sprintf("merged (defaults + %s + env)", g.configPath)
		}

	case "user":
		configPath := config.GetUserConfigPath()
		user, err := config.LoadUserConfig()
		if err != nil {
			return err
		}
		if user == nil {
			out.Warning("No user configuration file found")
			out.Statusf("📁", "Expected at: %s", configPath)
			out.Status("💡", "Run 'amanfind config init' to create one")
			return nil
		}
		cfg = user
		sourceDesc = fmt.Sprintf("user (%s)", configPath)

	case "defaults":
		cfg = config.NewConfig()
		sourceDesc = "defaults"

	default:
		return fmt.Errorf("invalid source: %s (use: merged, user, defaults)", source)
	}

	if jsonOutput {
		return out.JSON(cfg)
	}

	out.Statusf("📋", "Configuration source: %s", sourceDesc)
	out.Newline()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), string(data))
	return err
}
