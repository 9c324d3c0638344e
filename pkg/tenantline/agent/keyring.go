// Package agent – keyring.go keeps the generation API key out of plaintext
// config where possible. Resolution order: OS keyring, then environment
// (TENANTLINE_API_KEY, OPENAI_API_KEY), then the config.yaml value.
package agent

import (
	"log/slog"
	"os"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "tenantline"

	// KeyringAPIKey names the generation API key entry.
	KeyringAPIKey = "api_key"
)

// StoreKeyring writes a secret into the OS keyring under the service entry.
func StoreKeyring(name, value string) error {
	return keyring.Set(keyringService, name, value)
}

// GetKeyring reads a secret from the OS keyring, or "" when absent or the
// keyring backend is unavailable.
func GetKeyring(name string) string {
	v, err := keyring.Get(keyringService, name)
	if err != nil {
		return ""
	}
	return v
}

// DeleteKeyring removes a secret from the OS keyring.
func DeleteKeyring(name string) error {
	return keyring.Delete(keyringService, name)
}

// KeyringAvailable probes the keyring with a throwaway write so callers can
// fall back to config storage on headless hosts.
func KeyringAvailable() bool {
	probe := "__tenantline_probe__"
	if err := keyring.Set(keyringService, probe, "1"); err != nil {
		return false
	}
	_ = keyring.Delete(keyringService, probe)
	return true
}

// ResolveAPIKey fills cfg.API.APIKey from the most secure source available.
func ResolveAPIKey(cfg *Config, logger *slog.Logger) {
	if key := GetKeyring(KeyringAPIKey); key != "" {
		cfg.API.APIKey = key
		logger.Debug("api key resolved from OS keyring")
		return
	}
	for _, env := range []string{"TENANTLINE_API_KEY", "OPENAI_API_KEY"} {
		if key := os.Getenv(env); key != "" {
			cfg.API.APIKey = key
			logger.Debug("api key resolved from environment", "var", env)
			return
		}
	}
	if cfg.API.APIKey != "" {
		logger.Warn("api key loaded from config.yaml; prefer the keyring (tenantline setup)")
	}
}
