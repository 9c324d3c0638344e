// Package agent – approval.go implements the human-in-the-loop gate for
// side-effecting tools. State machine per request:
//
//	pending → approved → executed   (terminal)
//	pending → denied                (terminal)
//
// No other transition is legal. Decisions are write-once: the first decide
// wins, duplicates fail with ErrAlreadyDecided.
package agent

import (
	"fmt"
	"log/slog"
	"time"
)

// ApprovalNotifier is the hook to the external approval channel (chat card,
// dashboard, etc.). Invoked when a request becomes pending.
type ApprovalNotifier func(conversationID string, req ToolCallRequest)

// ApprovalGate governs tool call request transitions. All methods operate on
// a conversation whose turn lock the caller already holds, so the status
// compare-and-set needs no locking of its own.
type ApprovalGate struct {
	notifier ApprovalNotifier
	logger   *slog.Logger
}

// NewApprovalGate creates the gate with an optional notifier.
func NewApprovalGate(notifier ApprovalNotifier, logger *slog.Logger) *ApprovalGate {
	if logger == nil {
		logger = slog.Default()
	}
	return &ApprovalGate{notifier: notifier, logger: logger.With("component", "approval_gate")}
}

// RequestApproval records req as pending on the conversation and notifies
// the external approval channel.
func (g *ApprovalGate) RequestApproval(conv *Conversation, req ToolCallRequest) {
	req.Status = StatusPending
	req.CreatedAt = time.Now().UTC()
	if conv.Pending == nil {
		conv.Pending = make(map[string]*ToolCallRequest)
	}
	conv.Pending[req.ToolCallID] = &req

	g.logger.Info("approval requested",
		"conversation_id", conv.ID,
		"tool_call_id", req.ToolCallID,
		"tool", req.ToolName,
	)
	if g.notifier != nil {
		g.notifier(conv.ID, req)
	}
}

// ApplyDecision resolves exactly one pending request. A decision for an
// unknown or already-resolved request fails with ErrAlreadyDecided rather
// than silently succeeding or double-applying. On approval the request moves
// to approved (the caller executes and then calls MarkExecuted); on denial
// it moves straight to its terminal denied state.
func (g *ApprovalGate) ApplyDecision(conv *Conversation, d ApprovalDecision) (*ToolCallRequest, error) {
	if d.ToolCallID == "" {
		return nil, &ValidationError{Field: "tool_call_id", Reason: "empty"}
	}

	req, ok := conv.Pending[d.ToolCallID]
	if !ok || req.Status != StatusPending {
		return nil, fmt.Errorf("tool call %s: %w", d.ToolCallID, ErrAlreadyDecided)
	}
	if _, decided := conv.Decisions[d.ToolCallID]; decided {
		return nil, fmt.Errorf("tool call %s: %w", d.ToolCallID, ErrAlreadyDecided)
	}

	if conv.Decisions == nil {
		conv.Decisions = make(map[string]ApprovalDecision)
	}
	conv.Decisions[d.ToolCallID] = d

	if d.Approved {
		req.Status = StatusApproved
		if d.OverrideArgs != nil {
			req.Args = d.OverrideArgs
		}
		g.logger.Info("approval granted",
			"conversation_id", conv.ID,
			"tool_call_id", d.ToolCallID,
			"tool", req.ToolName,
			"override", d.OverrideArgs != nil,
		)
	} else {
		req.Status = StatusDenied
		delete(conv.Pending, d.ToolCallID)
		g.logger.Info("approval denied",
			"conversation_id", conv.ID,
			"tool_call_id", d.ToolCallID,
			"tool", req.ToolName,
			"reason", d.Reason,
		)
	}
	return req, nil
}

// MarkExecuted moves an approved request to its terminal executed state and
// folds it out of the pending set.
func (g *ApprovalGate) MarkExecuted(conv *Conversation, toolCallID string) error {
	req, ok := conv.Pending[toolCallID]
	if !ok || req.Status != StatusApproved {
		return fmt.Errorf("tool call %s is not approved", toolCallID)
	}
	req.Status = StatusExecuted
	delete(conv.Pending, toolCallID)
	return nil
}

// DenialMessage builds the standard tool-result content for a denied call,
// so the conversation continues without the assistant perceiving a crash.
func DenialMessage(reason string) string {
	if reason == "" {
		return "Denied by user"
	}
	return "Denied by user: " + reason
}
