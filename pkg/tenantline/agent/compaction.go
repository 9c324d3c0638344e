// Package agent – compaction.go keeps long-running conversations under the
// token budget. At the start of each turn the compactor checks cumulative
// usage; over the threshold it replaces the older half of the history with a
// single summary message, never splitting a tool-call/tool-result pair and
// never summarizing away a pending approval.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Compaction defaults, tuned for mid-size context windows.
const (
	DefaultContextWindowTokens = 128000
	DefaultCompactionThreshold = 0.85
	DefaultCompactionMinMsgs   = 8
)

const compactionInstructions = "Summarize this conversation prefix for the assistant that will continue it. " +
	"Preserve decisions, commitments, and concrete facts: names, dates, numbers, addresses, amounts. " +
	"Drop greetings and pleasantries. Write a compact factual brief."

// CompactionConfig controls when and how history is compacted.
type CompactionConfig struct {
	// ContextWindowTokens is the model's context window size.
	ContextWindowTokens int `yaml:"context_window_tokens"`

	// Threshold is the fraction of the window that triggers compaction.
	Threshold float64 `yaml:"threshold"`

	// MinMessages guards short conversations from compaction even under a
	// misconfigured (very low) threshold.
	MinMessages int `yaml:"min_messages"`
}

// DefaultCompactionConfig returns the standard compaction settings.
func DefaultCompactionConfig() CompactionConfig {
	return CompactionConfig{
		ContextWindowTokens: DefaultContextWindowTokens,
		Threshold:           DefaultCompactionThreshold,
		MinMessages:         DefaultCompactionMinMsgs,
	}
}

// Compactor runs opportunistic history compaction.
type Compactor struct {
	cfg        CompactionConfig
	summarizer Summarizer
	logger     *slog.Logger
}

// NewCompactor creates a compactor; zero config fields fall back to defaults.
func NewCompactor(cfg CompactionConfig, summarizer Summarizer, logger *slog.Logger) *Compactor {
	def := DefaultCompactionConfig()
	if cfg.ContextWindowTokens <= 0 {
		cfg.ContextWindowTokens = def.ContextWindowTokens
	}
	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		cfg.Threshold = def.Threshold
	}
	if cfg.MinMessages <= 0 {
		cfg.MinMessages = def.MinMessages
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Compactor{cfg: cfg, summarizer: summarizer, logger: logger.With("component", "compaction")}
}

// CumulativeTokens sums usage over all assistant messages. This is the
// authoritative token accounting; it is recomputed, never adjusted in place.
func CumulativeTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		if m.Role == RoleAssistant && m.Usage != nil {
			total += m.Usage.Total()
		}
	}
	return total
}

// NeedsCompaction reports whether the conversation is over budget.
func (c *Compactor) NeedsCompaction(conv *Conversation) bool {
	if len(conv.Messages) < c.cfg.MinMessages {
		return false
	}
	threshold := int(float64(c.cfg.ContextWindowTokens) * c.cfg.Threshold)
	return CumulativeTokens(conv.Messages) > threshold
}

// Compact replaces the older half of the history with one summary message.
// Returns false when nothing was compacted. A summarizer failure surfaces as
// a GenerationError: the turn aborts and the conversation is left untouched.
func (c *Compactor) Compact(ctx context.Context, conv *Conversation) (bool, error) {
	if !c.NeedsCompaction(conv) {
		return false, nil
	}

	split := c.chooseSplit(conv)
	if split < 2 {
		c.logger.Debug("no legal split point, skipping compaction",
			"conversation_id", conv.ID, "messages", len(conv.Messages))
		return false, nil
	}

	older := conv.Messages[:split]
	before := CumulativeTokens(conv.Messages)

	summary, err := c.summarizer.Summarize(ctx, compactionInstructions, renderTranscript(older))
	if err != nil {
		return false, &GenerationError{Op: "summarize", Err: err}
	}

	// The summary carries its own usage so the recomputed total reflects
	// what the summary actually costs in context.
	summaryMsg := Message{
		Role:      RoleAssistant,
		Content:   summary,
		Summary:   true,
		Usage:     &Usage{OutputTokens: estimateTokens(summary)},
		CreatedAt: time.Now().UTC(),
	}

	newer := conv.Messages[split:]
	rebuilt := make([]Message, 0, len(newer)+1)
	rebuilt = append(rebuilt, summaryMsg)
	rebuilt = append(rebuilt, newer...)
	for i := range rebuilt {
		rebuilt[i].SequenceIndex = i
	}

	// Compaction must strictly shrink the token total. A summary more
	// expensive than the prefix it replaces (verbose summarizer, prefix
	// with little recorded usage) would grow the history instead, so the
	// conversation is left untouched.
	after := CumulativeTokens(rebuilt)
	if after >= before {
		c.logger.Warn("compaction would not reduce tokens, skipping",
			"conversation_id", conv.ID,
			"tokens_before", before,
			"tokens_after", after,
		)
		return false, nil
	}

	conv.Messages = rebuilt
	conv.EstimatedTokens = after
	conv.UpdatedAt = time.Now().UTC()

	c.logger.Info("history compacted",
		"conversation_id", conv.ID,
		"summarized_messages", len(older),
		"tokens_before", before,
		"tokens_after", conv.EstimatedTokens,
	)
	return true, nil
}

// chooseSplit picks the boundary of the older half: at or before the
// midpoint, moved backward until no tool-call/tool-result pair spans it and
// no pending request falls into the summarized prefix. Returns 0 when no
// legal split exists.
func (c *Compactor) chooseSplit(conv *Conversation) int {
	msgs := conv.Messages
	for split := len(msgs) / 2; split >= 2; split-- {
		if c.legalSplit(conv, split) {
			return split
		}
	}
	return 0
}

// legalSplit checks the two hard constraints for a candidate boundary.
func (c *Compactor) legalSplit(conv *Conversation, split int) bool {
	msgs := conv.Messages

	// Collect tool-call ids proposed in the older half.
	olderCalls := make(map[string]bool)
	for _, m := range msgs[:split] {
		for _, tc := range m.ToolCalls {
			olderCalls[tc.ToolCallID] = true
		}
		// A pending approval must remain live and visible verbatim.
		if conv.Pending != nil {
			for _, tc := range m.ToolCalls {
				if req, ok := conv.Pending[tc.ToolCallID]; ok && req.Status == StatusPending {
					return false
				}
			}
		}
	}

	// No tool result in the newer half may pair with an older-half call.
	for _, m := range msgs[split:] {
		if m.Role == RoleTool && m.ToolCallID != "" && olderCalls[m.ToolCallID] {
			return false
		}
	}
	return true
}

// renderTranscript flattens messages into plain text for the summarizer.
func renderTranscript(messages []Message) string {
	var b strings.Builder
	for _, m := range messages {
		switch {
		case len(m.ToolCalls) > 0:
			for _, tc := range m.ToolCalls {
				fmt.Fprintf(&b, "assistant called %s(%v)\n", tc.ToolName, tc.Args)
			}
			if m.Content != "" {
				fmt.Fprintf(&b, "assistant: %s\n", m.Content)
			}
		case m.Role == RoleTool:
			fmt.Fprintf(&b, "tool %s: %s\n", m.ToolName, m.Content)
		default:
			fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
		}
	}
	return b.String()
}

// estimateTokens is the usual chars/4 heuristic, used only to price the
// synthetic summary message (real messages carry provider-reported usage).
func estimateTokens(s string) int {
	n := len(s) / 4
	if n < 1 && len(s) > 0 {
		n = 1
	}
	return n
}
