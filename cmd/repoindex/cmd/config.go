package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/repoindex/configs"
	"github.com/Aman-CERP/repoindex/internal/config"
	"github.com/Aman-CERP/repoindex/internal/output"
	"github.com/Aman-CERP/repoindex/internal/ui"
)

// ProjectConfigName is the file 'config init' writes into the config
// directory.
const ProjectConfigName = ".repoindex.yaml"

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Create and inspect configuration files.

Configuration precedence (lowest to highest):
  1. Hardcoded defaults
  2. User config (~/.config/repoindex/config.yaml)
  3. Project config (<config-dir>/.repoindex.yaml)
  4. Environment variables (REPOINDEX_*), including <config-dir>/.env`,
		Example: `  # Create a project config in the current directory
  repoindex config init

  # Create the user config
  repoindex config init --user

  # Show the effective configuration
  repoindex config show --json`,
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigPathCmd())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var user, force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file from the template",
		Args:  cobra.NoArgs,
		Annotations: map[string]string{
			skipConfigAnnotation: "true",
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := filepath.Join(configDir, ProjectConfigName)
			template := configs.ProjectConfigTemplate
			if user {
				path = config.GetUserConfigPath()
				template = configs.UserConfigTemplate
			}
			return writeConfigTemplate(cmd, path, template, force)
		},
	}

	cmd.Flags().BoolVar(&user, "user", false, "Write the user config instead of the project config")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}

func writeConfigTemplate(cmd *cobra.Command, path, template string, force bool) error {
	out := output.New(cmd.OutOrStdout(), ui.PlainOutput(cmd.OutOrStdout(), noColor))

	if _, err := os.Stat(path); err == nil && !force {
		out.Warningf("configuration already exists: %s", path)
		out.Status("", "Use --force to overwrite it")
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(template), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	out.Successf("wrote %s", path)
	return nil
}

func newConfigShowCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(loadedConfig)
			}
			data, err := yaml.Marshal(loadedConfig)
			if err != nil {
				return fmt.Errorf("failed to encode config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the user config file path",
		Args:  cobra.NoArgs,
		Annotations: map[string]string{
			skipConfigAnnotation: "true",
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := fmt.Fprintln(cmd.OutOrStdout(), config.GetUserConfigPath()); err != nil {
				return err
			}
			if !config.UserConfigExists() {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "(not created yet, run: repoindex config init --user)")
			}
			return nil
		},
	}
}
