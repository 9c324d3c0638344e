package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tenantline/tenantline/pkg/tenantline/agent"
	"github.com/tenantline/tenantline/pkg/tenantline/gateway"
	"github.com/tenantline/tenantline/pkg/tenantline/scheduler"
)

// newServeCmd creates the `tenantline serve` command that starts the daemon.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the daemon with the HTTP gateway and scheduler",
		Long: `Start tenantline as a daemon: the HTTP gateway accepts SMS and email
webhooks, web chat turns, approval decisions, and workspace administration;
the scheduler polls the inbound mailbox when enabled.

Examples:
  tenantline serve
  tenantline serve --config ./config.yaml`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	logger := buildLogger(cmd, cfg)

	// Pending approvals surface in the daemon log; the operator decides via
	// the approve endpoint.
	notifier := func(conversationID string, req agent.ToolCallRequest) {
		logger.Info("approval required",
			"conversation", conversationID,
			"tool_call", req.ToolCallID,
			"tool", req.ToolName,
		)
	}

	rt, err := buildRuntime(cfg, logger, notifier)
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Idle conversations are evicted in the background; turns in flight are
	// never touched.
	rt.convs.StartPruner(ctx)

	if cfg.Scheduler.Enabled {
		var fetcher scheduler.EmailFetcher
		if cfg.Scheduler.InboxURL != "" {
			fetcher = scheduler.NewHTTPFetcher(cfg.Scheduler.InboxURL, cfg.Scheduler.InboxToken)
		}
		sched := scheduler.New(rt.orch, fetcher, logger)
		if fetcher != nil {
			if err := sched.AddEmailPoll(cfg.Scheduler.EmailPoll); err != nil {
				return err
			}
		}
		if err := sched.AddPrune("", rt.convs.Prune); err != nil {
			return err
		}
		sched.Start(ctx)
		defer sched.Stop()
	}

	gw := gateway.New(rt.orch, rt.memory, cfg.Gateway, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- gw.Start(ctx)
	}()

	logger.Info("tenantline running, press Ctrl+C to stop",
		"name", cfg.Name,
		"address", cfg.Gateway.Address,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received, stopping", "signal", sig.String())
		cancel()
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("gateway: %w", err)
		}
		return nil
	}

	// Give the gateway a moment to drain in-flight requests.
	select {
	case <-errCh:
	case <-time.After(10 * time.Second):
		logger.Warn("shutdown timed out")
	}
	return nil
}
