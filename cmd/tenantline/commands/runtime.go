package commands

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tenantline/tenantline/pkg/tenantline/agent"
	"github.com/tenantline/tenantline/pkg/tenantline/database"
	"github.com/tenantline/tenantline/pkg/tenantline/llm"
	"github.com/tenantline/tenantline/pkg/tenantline/memstore"
)

// defaultConfigPath is where config files are looked up and written when no
// --config flag is given.
const defaultConfigPath = "config.yaml"

// resolveConfig loads config from the --config flag or the default path,
// falling back to defaults when no file exists.
func resolveConfig(cmd *cobra.Command) (*agent.Config, error) {
	// .env values feed the key-resolution chain; existing env vars win.
	_ = godotenv.Load()

	configPath, _ := cmd.Root().PersistentFlags().GetString("config")
	if configPath != "" {
		cfg, err := agent.LoadConfig(configPath)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		return cfg, nil
	}

	if _, err := os.Stat(defaultConfigPath); err == nil {
		cfg, err := agent.LoadConfig(defaultConfigPath)
		if err != nil {
			return nil, fmt.Errorf("loading config from %s: %w", defaultConfigPath, err)
		}
		return cfg, nil
	}

	return agent.DefaultConfig(), nil
}

// buildLogger configures slog from config plus the --verbose flag.
func buildLogger(cmd *cobra.Command, cfg *agent.Config) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	level := slog.LevelInfo
	switch {
	case verbose, cfg.Logging.Level == "debug":
		level = slog.LevelDebug
	case cfg.Logging.Level == "warn":
		level = slog.LevelWarn
	case cfg.Logging.Level == "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}

// runtime bundles everything a running command needs.
type runtime struct {
	cfg    *agent.Config
	logger *slog.Logger
	memory *memstore.Store
	db     *database.Store
	convs  *agent.ConversationStore
	orch   *agent.Orchestrator
}

// close releases the runtime's resources.
func (rt *runtime) close() {
	if rt.db != nil {
		rt.db.Close()
	}
}

// buildRuntime wires the full conversation stack from config: workspace
// store, SQLite persistence, tool registry, approval gate, compactor,
// envelope wrapper, and the orchestrator around the LLM client.
func buildRuntime(cfg *agent.Config, logger *slog.Logger, notifier agent.ApprovalNotifier) (*runtime, error) {
	agent.ResolveAPIKey(cfg, logger)
	if cfg.API.APIKey == "" {
		return nil, fmt.Errorf("no API key configured; run 'tenantline setup' or set TENANTLINE_API_KEY")
	}

	memory, err := memstore.New(cfg.Memory.Workspace, logger)
	if err != nil {
		return nil, fmt.Errorf("workspace: %w", err)
	}
	if cfg.Memory.MaxReadBytes > 0 {
		memory.SetMaxReadBytes(cfg.Memory.MaxReadBytes)
	}

	db, err := database.Open(cfg.Database.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	client := llm.New(cfg.API, logger)

	registry := agent.NewToolRegistry(logger)
	agent.RegisterMemoryTool(registry, memory)
	if cfg.Tools.OutboundWebhook != "" {
		agent.RegisterDeliveryTools(registry, agent.NewWebhookDeliverer(cfg.Tools.OutboundWebhook))
	}
	registry.ForceApproval(cfg.Tools.RequireApproval...)

	location, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Warn("invalid timezone, using UTC", "timezone", cfg.Timezone)
		location = time.UTC
	}
	providers := []agent.ContextProvider{
		agent.TimeProvider(location),
		agent.ToneProvider(),
		agent.ContactProvider(),
	}
	if cfg.Memory.PreambleFile != "" {
		providers = append(providers, agent.MemoryFileProvider(memory, cfg.Memory.PreambleFile))
	}

	convs := agent.NewConversationStore(db, logger)
	orch := agent.NewOrchestrator(agent.OrchestratorConfig{
		Store:        convs,
		Registry:     registry,
		Gate:         agent.NewApprovalGate(notifier, logger),
		Compactor:    agent.NewCompactor(cfg.Compaction, client, logger),
		Wrapper:      agent.NewEnvelopeWrapper(cfg.Envelope.ThresholdChars, client, logger),
		Generator:    client,
		Providers:    providers,
		Instructions: cfg.Instructions,
	}, logger)

	return &runtime{
		cfg:    cfg,
		logger: logger,
		memory: memory,
		db:     db,
		convs:  convs,
		orch:   orch,
	}, nil
}
