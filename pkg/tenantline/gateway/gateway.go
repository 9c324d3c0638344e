// Package gateway provides the HTTP API surface: inbound turn triggers,
// the approval endpoint, and the human-operated memory admin surface.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/tenantline/tenantline/pkg/tenantline/agent"
	"github.com/tenantline/tenantline/pkg/tenantline/memstore"
)

// Gateway is the HTTP API server.
type Gateway struct {
	orch      *agent.Orchestrator
	memory    *memstore.Store
	config    agent.GatewayConfig
	server    *http.Server
	logger    *slog.Logger
	startedAt time.Time
}

// New creates a Gateway.
func New(orch *agent.Orchestrator, memory *memstore.Store, cfg agent.GatewayConfig, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Address == "" {
		cfg.Address = ":8086"
	}
	return &Gateway{
		orch:   orch,
		memory: memory,
		config: cfg,
		logger: logger.With("component", "gateway"),
	}
}

// Routes builds the HTTP handler with auth and logging middleware applied.
// Exposed separately from Start for tests.
func (g *Gateway) Routes() http.Handler {
	mux := http.NewServeMux()

	// Health is always public.
	mux.HandleFunc("GET /health", g.handleHealth)

	// Inbound turn triggers.
	mux.HandleFunc("POST /webhook/sms", g.handleSMSWebhook)
	mux.HandleFunc("POST /webhook/email", g.handleEmailWebhook)
	mux.HandleFunc("POST /chat", g.handleChat)

	// Conversation inspection and approvals.
	mux.HandleFunc("GET /conversation/{id}", g.handleGetConversation)
	mux.HandleFunc("POST /conversation/{id}/approve", g.handleApprove)

	// Memory admin surface.
	mux.HandleFunc("GET /memory", g.handleMemoryList)
	mux.HandleFunc("GET /memory/file", g.handleMemoryRead)
	mux.HandleFunc("PUT /memory/file", g.handleMemoryWrite)
	mux.HandleFunc("DELETE /memory/file", g.handleMemoryDelete)
	mux.HandleFunc("POST /memory/mkdir", g.handleMemoryMkdir)
	mux.HandleFunc("GET /memory/download", g.handleMemoryDownload)

	return g.logRequests(g.requireAuth(mux))
}

// Start runs the HTTP server until ctx is cancelled.
func (g *Gateway) Start(ctx context.Context) error {
	g.startedAt = time.Now()
	g.server = &http.Server{
		Addr:              g.config.Address,
		Handler:           g.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("gateway listening", "address", g.config.Address)
		errCh <- g.server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return g.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
