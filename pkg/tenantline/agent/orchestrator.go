// Package agent – orchestrator.go is the per-turn driver. It resolves the
// conversation for an inbound event, runs compaction, invokes the generation
// capability, routes deferred tool requests through the approval gate, and
// commits conversation state only at well-defined points so retries never
// observe a half-written message.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// DefaultMaxToolRounds caps generation/tool round-trips inside one turn.
const DefaultMaxToolRounds = 12

// Orchestrator composes the conversation store, tool registry, approval
// gate, compactor, and envelope wrapper around the external generation
// capability.
type Orchestrator struct {
	store        *ConversationStore
	registry     *ToolRegistry
	gate         *ApprovalGate
	compactor    *Compactor
	wrapper      *EnvelopeWrapper
	generator    Generator
	providers    []ContextProvider
	instructions string
	maxRounds    int
	logger       *slog.Logger
}

// OrchestratorConfig bundles the orchestrator dependencies.
type OrchestratorConfig struct {
	Store        *ConversationStore
	Registry     *ToolRegistry
	Gate         *ApprovalGate
	Compactor    *Compactor
	Wrapper      *EnvelopeWrapper
	Generator    Generator
	Providers    []ContextProvider
	Instructions string
	MaxRounds    int
}

// NewOrchestrator wires up the turn driver.
func NewOrchestrator(cfg OrchestratorConfig, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	maxRounds := cfg.MaxRounds
	if maxRounds <= 0 {
		maxRounds = DefaultMaxToolRounds
	}
	if cfg.Wrapper == nil {
		cfg.Wrapper = NewEnvelopeWrapper(0, nil, logger)
	}
	if cfg.Gate == nil {
		cfg.Gate = NewApprovalGate(nil, logger)
	}
	if cfg.Registry == nil {
		cfg.Registry = NewToolRegistry(logger)
	}
	return &Orchestrator{
		store:        cfg.Store,
		registry:     cfg.Registry,
		gate:         cfg.Gate,
		compactor:    cfg.Compactor,
		wrapper:      cfg.Wrapper,
		generator:    cfg.Generator,
		providers:    cfg.Providers,
		instructions: cfg.Instructions,
		maxRounds:    maxRounds,
		logger:       logger.With("component", "orchestrator"),
	}
}

// StartTurn processes one inbound message. Turns for the same conversation
// id are serialized; different ids run fully in parallel. A generation
// failure aborts the turn with the conversation left in its last committed
// state, so the caller may safely retry with the same inbound event.
func (o *Orchestrator) StartTurn(ctx context.Context, modality Modality, contactOrID, text string) (*TurnResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &ValidationError{Field: "text", Reason: "empty inbound message"}
	}

	id, contact, err := ConversationID(modality, contactOrID)
	if err != nil {
		return nil, err
	}

	h, err := o.store.acquire(id, modality, contact)
	if err != nil {
		return nil, err
	}
	defer h.release()

	working := h.committed.Clone()

	// While approvals are pending the history ends with undecided tool
	// calls, which the generation wire format rejects. Park the inbound
	// message; it enters the context when the decided turn resumes.
	if len(working.Pending) > 0 {
		working.appendMessage(Message{Role: RoleUser, Content: text})
		working.EstimatedTokens = CumulativeTokens(working.Messages)
		if err := o.store.commit(h, working); err != nil {
			return nil, err
		}
		o.logger.Info("inbound message parked behind pending approvals",
			"conversation_id", id,
			"pending", len(working.Pending),
		)
		return &TurnResult{
			ConversationID: working.ID,
			State:          TurnAwaitingApproval,
			Pending:        working.PendingRequests(),
		}, nil
	}

	// Opportunistic compaction before the generation call. A summarizer
	// failure aborts the turn; nothing has been committed yet.
	if o.compactor != nil {
		if _, err := o.compactor.Compact(ctx, working); err != nil {
			return nil, err
		}
	}

	working.appendMessage(Message{Role: RoleUser, Content: text})

	o.logger.Info("turn started",
		"conversation_id", id,
		"modality", modality,
		"messages", len(working.Messages),
	)

	return o.runAgent(ctx, h, working)
}

// Decide applies one approval decision and, when no approvals remain
// pending, resumes the suspended turn. The executed tool result is committed
// before resuming: real-world side effects are never rolled back even if the
// resumed generation call fails.
func (o *Orchestrator) Decide(ctx context.Context, conversationID string, d ApprovalDecision) (*TurnResult, error) {
	h, err := o.store.acquireExisting(conversationID)
	if err != nil {
		return nil, err
	}
	defer h.release()

	working := h.committed.Clone()

	req, err := o.gate.ApplyDecision(working, d)
	if err != nil {
		return nil, err
	}

	if d.Approved {
		o.executeAndAppend(ctx, working, req.ToolCallID, req.ToolName, req.Args)
		if err := o.gate.MarkExecuted(working, req.ToolCallID); err != nil {
			return nil, err
		}
	} else {
		working.appendToolResult(Message{
			Role:       RoleTool,
			ToolCallID: req.ToolCallID,
			ToolName:   req.ToolName,
			Content:    DenialMessage(d.Reason),
		})
	}

	working.EstimatedTokens = CumulativeTokens(working.Messages)
	if err := o.store.commit(h, working); err != nil {
		return nil, err
	}

	if len(working.Pending) > 0 {
		return &TurnResult{
			ConversationID: working.ID,
			State:          TurnAwaitingApproval,
			Pending:        working.PendingRequests(),
		}, nil
	}

	// All decisions are in; let the assistant react to the results.
	return o.runAgent(ctx, h, working.Clone())
}

// Conversation returns a read-only snapshot, or nil if unknown. Snapshots
// never block on a pending approval decision.
func (o *Orchestrator) Conversation(id string) *Conversation {
	return o.store.Snapshot(id)
}

// runAgent drives generation/tool rounds until final text or suspension.
// The caller holds the conversation's turn lock.
func (o *Orchestrator) runAgent(ctx context.Context, h *handle, working *Conversation) (*TurnResult, error) {
	for round := 1; round <= o.maxRounds; round++ {
		preamble := BuildPreamble(o.instructions, o.providers, working)

		out, err := o.generator.Generate(ctx, preamble, working.Messages, o.registry.Definitions())
		if err != nil {
			// Nothing from this round is committed; the turn is retry-safe.
			return nil, &GenerationError{Op: "generate", Err: err}
		}

		switch v := out.(type) {
		case FinalText:
			return o.finalizeTurn(h, working, v)

		case DeferredToolRequests:
			suspended, err := o.handleToolRound(ctx, h, working, v)
			if err != nil {
				return nil, err
			}
			if suspended != nil {
				return suspended, nil
			}

		default:
			return nil, &GenerationError{Op: "generate", Err: fmt.Errorf("unknown generation output %T", out)}
		}
	}

	return nil, &GenerationError{Op: "generate", Err: fmt.Errorf("no final response after %d rounds", o.maxRounds)}
}

// finalizeTurn appends the assistant text, recomputes token accounting, and
// commits. No partial message is ever visible before this point.
func (o *Orchestrator) finalizeTurn(h *handle, working *Conversation, final FinalText) (*TurnResult, error) {
	usage := final.Usage
	working.appendMessage(Message{
		Role:    RoleAssistant,
		Content: final.Text,
		Usage:   &usage,
	})
	working.EstimatedTokens = CumulativeTokens(working.Messages)

	if err := o.store.commit(h, working); err != nil {
		return nil, err
	}

	o.logger.Info("turn completed",
		"conversation_id", working.ID,
		"messages", len(working.Messages),
		"estimated_tokens", working.EstimatedTokens,
	)

	return &TurnResult{
		ConversationID: working.ID,
		State:          TurnCompleted,
		Reply:          final.Text,
	}, nil
}

// handleToolRound records the assistant's tool-call message, executes
// auto-approved requests inline, and parks gated requests as pending. When
// anything is parked, the partial turn is committed and a suspension result
// is returned; otherwise the round commits and the loop continues.
func (o *Orchestrator) handleToolRound(ctx context.Context, h *handle, working *Conversation, deferred DeferredToolRequests) (*TurnResult, error) {
	if len(deferred.Requests) == 0 {
		return nil, &GenerationError{Op: "generate", Err: fmt.Errorf("empty tool request set")}
	}

	records := make([]ToolCallRecord, 0, len(deferred.Requests))
	for _, req := range deferred.Requests {
		records = append(records, ToolCallRecord{
			ToolCallID: req.ToolCallID,
			ToolName:   req.ToolName,
			Args:       req.Args,
		})
	}
	usage := deferred.Usage
	working.appendMessage(Message{
		Role:      RoleAssistant,
		Content:   deferred.Text,
		ToolCalls: records,
		Usage:     &usage,
	})

	parked := false
	for _, req := range deferred.Requests {
		// The registry, not the model, decides what is approval-gated.
		req.RequiresApproval = o.registry.RequiresApproval(req.ToolName)

		if req.RequiresApproval {
			o.gate.RequestApproval(working, req)
			parked = true
			continue
		}
		o.executeAndAppend(ctx, working, req.ToolCallID, req.ToolName, req.Args)
	}

	working.EstimatedTokens = CumulativeTokens(working.Messages)

	// Committed either way: auto-executed side effects survive a later
	// cancellation, and a suspended turn is inspectable while the human
	// decides.
	if err := o.store.commit(h, working); err != nil {
		return nil, err
	}

	if parked {
		o.logger.Info("turn suspended awaiting approval",
			"conversation_id", working.ID,
			"pending", len(working.Pending),
		)
		return &TurnResult{
			ConversationID: working.ID,
			State:          TurnAwaitingApproval,
			Pending:        working.PendingRequests(),
		}, nil
	}
	return nil, nil
}

// executeAndAppend runs one tool call and appends its result message. Tool
// failures are absorbed as result content — logged for operators, never
// fatal to the turn.
func (o *Orchestrator) executeAndAppend(ctx context.Context, working *Conversation, callID, name string, args map[string]any) {
	var content string
	raw, itemCount, err := o.registry.Execute(ctx, name, args)
	if err != nil {
		o.logger.Error("tool call failed",
			"conversation_id", working.ID,
			"tool", name,
			"tool_call_id", callID,
			"error", err,
		)
		content = "Tool execution failed: " + err.Error()
	} else {
		env := o.wrapper.Wrap(ctx, name, raw, itemCount)
		content = env.Encode()
	}

	working.appendToolResult(Message{
		Role:       RoleTool,
		ToolCallID: callID,
		ToolName:   name,
		Content:    content,
	})
}
