package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"witlab/internal/config"
)

var configForce bool

func init() {
	configInitCmd.Flags().BoolVarP(&configForce, "force", "f", false, "Overwrite an existing config file")
	configCmd.AddCommand(configInitCmd, configShowCmd)
}

// configCmd groups configuration commands
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the WIT configuration",
}

// configInitCmd writes the default configuration
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration to .wit/config.yaml",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := resolveConfigPath()
		if _, err := os.Stat(path); err == nil && !configForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := config.DefaultConfig().Save(path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	},
}

// configShowCmd prints the effective configuration
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration (API key redacted)",
	RunE: func(cmd *cobra.Command, args []string) error {
		shown := *cfg
		if shown.LLM.APIKey != "" {
			shown.LLM.APIKey = "<redacted>"
		}
		data, err := yaml.Marshal(&shown)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}
