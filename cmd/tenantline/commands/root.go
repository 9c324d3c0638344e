// Package commands implements the tenantline CLI using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tenantline",
		Short: "Tenantline - property operations assistant",
		Long: `Tenantline is an AI assistant for property operators. It handles tenant
conversations over SMS, email, and web chat, keeps durable notes in a
sandboxed workspace, and routes side-effecting actions through operator
approval.

Examples:
  tenantline serve
  tenantline chat "Unit 4B reported a leaking faucet"
  tenantline memory list areas/tenants`,
		Version: version,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newChatCmd(),
		newSetupCmd(),
		newMemoryCmd(),
		newConfigCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}
