// Package scheduler runs tenantline's recurring background work. It wraps
// robfig/cron for schedule parsing and execution: polling the inbound email
// source and pruning idle conversations.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tenantline/tenantline/pkg/tenantline/agent"
)

// DefaultEmailPollSchedule polls the inbound mailbox every two minutes.
const DefaultEmailPollSchedule = "@every 2m"

// DefaultPruneSchedule sweeps idle conversations hourly.
const DefaultPruneSchedule = "@hourly"

// InboundEmail is a single unread message fetched from the mail source.
type InboundEmail struct {
	ThreadID string `json:"thread_id"`
	From     string `json:"from"`
	Text     string `json:"text"`
}

// EmailFetcher retrieves unread inbound messages. Fetch marks returned
// messages as read so a crashed poll re-delivers rather than drops.
type EmailFetcher interface {
	Fetch(ctx context.Context) ([]InboundEmail, error)
}

// TurnRunner is the slice of the orchestrator the scheduler needs. Satisfied
// by *agent.Orchestrator.
type TurnRunner interface {
	StartTurn(ctx context.Context, modality agent.Modality, contactOrID, text string) (*agent.TurnResult, error)
}

// Scheduler owns the cron instance and the jobs registered on it.
type Scheduler struct {
	cron    *cron.Cron
	runner  TurnRunner
	fetcher EmailFetcher
	logger  *slog.Logger

	// polling tracks whether an email poll is in flight, so a slow poll is
	// skipped rather than stacked.
	mu      sync.Mutex
	polling bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Scheduler. fetcher may be nil when email polling is disabled.
func New(runner TurnRunner, fetcher EmailFetcher, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:    cron.New(),
		runner:  runner,
		fetcher: fetcher,
		logger:  logger.With("component", "scheduler"),
	}
}

// AddEmailPoll registers the inbound mailbox poll on the given cron schedule
// (empty uses the default).
func (s *Scheduler) AddEmailPoll(schedule string) error {
	if s.fetcher == nil {
		return fmt.Errorf("email poll requires a fetcher")
	}
	if schedule == "" {
		schedule = DefaultEmailPollSchedule
	}
	if _, err := s.cron.AddFunc(schedule, s.pollEmail); err != nil {
		return fmt.Errorf("add email poll: %w", err)
	}
	s.logger.Info("email poll scheduled", "schedule", schedule)
	return nil
}

// AddPrune registers a conversation sweep calling prune on each fire.
func (s *Scheduler) AddPrune(schedule string, prune func() int) error {
	if schedule == "" {
		schedule = DefaultPruneSchedule
	}
	_, err := s.cron.AddFunc(schedule, func() {
		if n := prune(); n > 0 {
			s.logger.Info("idle conversations pruned", "count", n)
		}
	})
	if err != nil {
		return fmt.Errorf("add prune: %w", err)
	}
	return nil
}

// Start begins firing jobs. Returns immediately; jobs run on cron's goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.cron.Entries()))
}

// Stop halts the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
	case <-time.After(30 * time.Second):
		s.logger.Warn("scheduler stop timed out with jobs still running")
	}
}

// pollEmail fetches unread messages and runs a turn per thread. Each thread
// is independent; a failed turn is logged and does not block the rest.
func (s *Scheduler) pollEmail() {
	s.mu.Lock()
	if s.polling {
		s.mu.Unlock()
		s.logger.Debug("email poll already in flight, skipping")
		return
	}
	s.polling = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.polling = false
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Minute)
	defer cancel()

	messages, err := s.fetcher.Fetch(ctx)
	if err != nil {
		s.logger.Error("email fetch failed", "error", err)
		return
	}
	if len(messages) == 0 {
		return
	}
	s.logger.Info("inbound email fetched", "count", len(messages))

	for _, msg := range messages {
		result, err := s.runner.StartTurn(ctx, agent.ModalityEmail, msg.ThreadID, msg.Text)
		if err != nil {
			s.logger.Error("email turn failed", "thread", msg.ThreadID, "error", err)
			continue
		}
		s.logger.Info("email turn completed",
			"thread", msg.ThreadID, "state", result.State)
	}
}
