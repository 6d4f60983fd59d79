package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/searchidx/internal/config"
	serrors "github.com/Aman-CERP/searchidx/internal/errors"
	"github.com/Aman-CERP/searchidx/internal/output"
)

func newConfigCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and create configuration files",
		Long: `Configuration is layered, later layers winning:

  1. Built-in defaults
  2. User config   ($XDG_CONFIG_HOME/searchidx/config.yaml)
  3. Project config (.searchidx.yaml, or --config)
  4. .env in the working directory
  5. SEARCHIDX_* environment variables`,
	}

	cmd.AddCommand(newConfigShowCmd(root))
	cmd.AddCommand(newConfigPathCmd(root))
	cmd.AddCommand(newConfigInitCmd())

	return cmd
}

func newConfigShowCmd(root *rootOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			switch format {
			case "yaml", "":
				data, err := root.cfg.YAML()
				if err != nil {
					return err
				}
				_, err = out.Write(data)
				return err
			case output.FormatJSON:
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(root.cfg)
			default:
				return serrors.ValidationError(fmt.Sprintf("unknown format %q (want yaml or json)", format), nil)
			}
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "Output format: yaml, json")
	return cmd
}

func newConfigPathCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the configuration files that are read",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := output.New(cmd.OutOrStdout())

			user := config.GetUserConfigPath()
			out.Statusf("👤", "user:    %s%s", user, existsSuffix(user))

			project := root.configPath
			if project == "" {
				dir, err := os.Getwd()
				if err != nil {
					return fmt.Errorf("failed to get working directory: %w", err)
				}
				project = config.ProjectConfigPath(dir)
			}
			if project == "" {
				out.Status("📁", "project: (none)")
			} else {
				out.Statusf("📁", "project: %s%s", project, existsSuffix(project))
			}
			return nil
		},
	}
}

func newConfigInitCmd() *cobra.Command {
	var force, user bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the default values",
		Long: `Write the built-in defaults to .searchidx.yaml in the working directory,
or to the user config with --user. An existing file is kept unless --force
is given, in which case it is backed up first.`,
		Args: cobra.NoArgs,
		// init must work even when the current config does not load.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := output.New(cmd.OutOrStdout())

			path := config.GetUserConfigPath()
			if !user {
				dir, err := os.Getwd()
				if err != nil {
					return fmt.Errorf("failed to get working directory: %w", err)
				}
				path = filepath.Join(dir, ".searchidx.yaml")
			}

			if _, err := os.Stat(path); err == nil && !force {
				return serrors.ConfigError("config file already exists: "+path, nil).
					WithSuggestion("Use --force to overwrite it (a backup is kept)")
			}

			backup, err := config.NewConfig().WriteFile(path)
			if err != nil {
				return err
			}
			if backup != "" {
				out.Statusf("💾", "Backed up previous config to %s", backup)
			}
			out.Successf("Wrote %s", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	cmd.Flags().BoolVar(&user, "user", false, "Write the user config instead of the project config")
	return cmd
}

func existsSuffix(path string) string {
	if _, err := os.Stat(path); err != nil {
		return " (not found)"
	}
	return ""
}
