package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tenantline/tenantline/pkg/tenantline/agent"
)

// newConfigCmd creates the `tenantline config` command group.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	cmd.AddCommand(newConfigInitCmd(), newConfigShowCmd())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config.yaml",
		RunE: func(cmd *cobra.Command, _ []string) error {
			configPath, _ := cmd.Root().PersistentFlags().GetString("config")
			if configPath == "" {
				configPath = defaultConfigPath
			}
			if _, err := os.Stat(configPath); err == nil {
				return fmt.Errorf("%s already exists, refusing to overwrite", configPath)
			}
			if err := agent.DefaultConfig().Save(configPath); err != nil {
				return err
			}
			fmt.Printf("Default configuration written to %s.\n", configPath)
			return nil
		},
	}
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			// Never print the key, wherever it came from.
			cfg.API.APIKey = ""
			cfg.Gateway.AuthToken = ""

			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(data))
			return nil
		},
	}
}
