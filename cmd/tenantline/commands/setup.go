package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tenantline/tenantline/pkg/tenantline/agent"
)

// newSetupCmd creates the `tenantline setup` command.
func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup wizard",
		Long: `Starts an interactive wizard to create config.yaml. Asks for the
assistant name, timezone, model endpoint, and gateway settings. The API key
goes to the OS keyring when available, never into the config file.

Examples:
  tenantline setup`,
		RunE: runSetup,
	}
}

func runSetup(cmd *cobra.Command, _ []string) error {
	cfg := agent.DefaultConfig()
	apiKey := ""

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Assistant name").
				Value(&cfg.Name),
			huh.NewInput().
				Title("Timezone (IANA name, e.g. America/New_York)").
				Value(&cfg.Timezone),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("API base URL").
				Description("OpenAI-compatible chat completions endpoint").
				Value(&cfg.API.BaseURL),
			huh.NewInput().
				Title("Model").
				Value(&cfg.API.Model),
			huh.NewInput().
				Title("API key").
				EchoMode(huh.EchoModePassword).
				Value(&apiKey),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Gateway listen address").
				Value(&cfg.Gateway.Address),
			huh.NewInput().
				Title("Gateway auth token (empty disables auth)").
				EchoMode(huh.EchoModePassword).
				Value(&cfg.Gateway.AuthToken),
		),
	)

	if err := form.Run(); err != nil {
		// No usable TTY for the form; fall back to a plain prompt for the
		// one value that cannot be skipped.
		fmt.Print("API key: ")
		raw, termErr := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if termErr != nil {
			return fmt.Errorf("setup form: %w", err)
		}
		apiKey = strings.TrimSpace(string(raw))
	}

	if apiKey != "" {
		if agent.KeyringAvailable() {
			if err := agent.StoreKeyring("api_key", apiKey); err != nil {
				fmt.Printf("Keyring unavailable (%v); storing key in config.yaml.\n", err)
				cfg.API.APIKey = apiKey
			} else {
				fmt.Println("API key stored in the OS keyring.")
			}
		} else {
			fmt.Println("No OS keyring found; storing key in config.yaml (0600).")
			cfg.API.APIKey = apiKey
		}
	}

	configPath, _ := cmd.Root().PersistentFlags().GetString("config")
	if configPath == "" {
		configPath = defaultConfigPath
	}
	if err := cfg.Save(configPath); err != nil {
		return err
	}

	fmt.Printf("Configuration written to %s.\n", configPath)
	fmt.Println("Run 'tenantline serve' to start the daemon.")
	return nil
}
