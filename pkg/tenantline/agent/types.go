// Package agent implements the conversation orchestration core: per-turn
// driving of the generation capability, human-in-the-loop tool approval,
// tool result summarization, and token-budget history compaction.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Modality is the channel a conversation occurs over. Each modality has its
// own conversation-ID derivation rule.
type Modality string

const (
	ModalitySMS     Modality = "sms"
	ModalityEmail   Modality = "email"
	ModalityWebChat Modality = "web_chat"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Usage holds token counts reported by the generation capability.
// Present only on assistant messages.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total returns input + output tokens.
func (u Usage) Total() int { return u.InputTokens + u.OutputTokens }

// ToolCallRecord is the tool invocation attached to an assistant message.
type ToolCallRecord struct {
	ToolCallID string         `json:"tool_call_id"`
	ToolName   string         `json:"tool_name"`
	Args       map[string]any `json:"args"`
}

// Message is a single entry in a conversation. Immutable once appended,
// except during compaction where a contiguous prefix is atomically replaced
// by a single summary message.
type Message struct {
	SequenceIndex int              `json:"sequence_index"`
	Role          string           `json:"role"`
	Content       string           `json:"content"`
	ToolCalls     []ToolCallRecord `json:"tool_calls,omitempty"`  // assistant tool-call record
	ToolCallID    string           `json:"tool_call_id,omitempty"` // tool-result pairing
	ToolName      string           `json:"tool_name,omitempty"`
	Usage         *Usage           `json:"usage,omitempty"`
	Summary       bool             `json:"summary,omitempty"` // synthetic compaction summary
	CreatedAt     time.Time        `json:"created_at"`
}

// RequestStatus is the approval state of a ToolCallRequest.
type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusApproved RequestStatus = "approved"
	StatusDenied   RequestStatus = "denied"
	StatusExecuted RequestStatus = "executed"
)

// ToolCallRequest is a proposed tool invocation returned by the generation
// capability. Gated requests stay pending until an explicit human decision.
type ToolCallRequest struct {
	ToolCallID       string         `json:"tool_call_id"`
	ToolName         string         `json:"tool_name"`
	Args             map[string]any `json:"args"`
	RequiresApproval bool           `json:"requires_approval"`
	Status           RequestStatus  `json:"status"`
	CreatedAt        time.Time      `json:"created_at"`
}

// ApprovalDecision is a write-once human decision for one tool call.
type ApprovalDecision struct {
	ToolCallID   string         `json:"tool_call_id"`
	Approved     bool           `json:"approved"`
	OverrideArgs map[string]any `json:"override_args,omitempty"`
	Reason       string         `json:"reason,omitempty"`
}

// Conversation is the unit of orchestration, owned exclusively by the
// orchestrator and mutated only inside a single turn.
type Conversation struct {
	ID                string                      `json:"id"`
	Modality          Modality                    `json:"modality"`
	ContactIdentifier string                      `json:"contact_identifier,omitempty"`
	Messages          []Message                   `json:"messages"`
	EstimatedTokens   int                         `json:"estimated_tokens"`
	Pending           map[string]*ToolCallRequest `json:"pending,omitempty"`
	Decisions         map[string]ApprovalDecision `json:"decisions,omitempty"`
	CreatedAt         time.Time                   `json:"created_at"`
	UpdatedAt         time.Time                   `json:"updated_at"`
}

// appendMessage appends m with the next sequence index.
func (c *Conversation) appendMessage(m Message) {
	m.SequenceIndex = c.nextSequence()
	m.CreatedAt = time.Now().UTC()
	c.Messages = append(c.Messages, m)
	c.UpdatedAt = m.CreatedAt
}

// appendToolResult places a tool-result message directly after the assistant
// message that proposed the call, behind any results already recorded for it.
// User messages that arrived during an approval window sit after the call
// block, so the call/result adjacency the wire format requires is preserved.
func (c *Conversation) appendToolResult(m Message) {
	at := -1
	for i, msg := range c.Messages {
		for _, tc := range msg.ToolCalls {
			if tc.ToolCallID == m.ToolCallID {
				at = i
			}
		}
	}
	if at == -1 || at == len(c.Messages)-1 {
		c.appendMessage(m)
		return
	}

	insert := at + 1
	for insert < len(c.Messages) && c.Messages[insert].Role == RoleTool {
		insert++
	}
	m.CreatedAt = time.Now().UTC()
	c.Messages = append(c.Messages, Message{})
	copy(c.Messages[insert+1:], c.Messages[insert:])
	c.Messages[insert] = m
	for i := range c.Messages {
		c.Messages[i].SequenceIndex = i
	}
	c.UpdatedAt = m.CreatedAt
}

func (c *Conversation) nextSequence() int {
	if len(c.Messages) == 0 {
		return 0
	}
	return c.Messages[len(c.Messages)-1].SequenceIndex + 1
}

// PendingRequests returns the pending tool call requests, if any.
func (c *Conversation) PendingRequests() []ToolCallRequest {
	out := make([]ToolCallRequest, 0, len(c.Pending))
	for _, req := range c.Pending {
		out = append(out, *req)
	}
	return out
}

// Clone returns a deep copy. Turns mutate a clone and swap it in at commit
// points, so a failed turn never leaves a half-written message behind.
func (c *Conversation) Clone() *Conversation {
	out := *c
	out.Messages = make([]Message, len(c.Messages))
	copy(out.Messages, c.Messages)
	out.Pending = make(map[string]*ToolCallRequest, len(c.Pending))
	for id, req := range c.Pending {
		r := *req
		out.Pending[id] = &r
	}
	out.Decisions = make(map[string]ApprovalDecision, len(c.Decisions))
	for id, d := range c.Decisions {
		out.Decisions[id] = d
	}
	return &out
}

// ConversationID derives the deterministic conversation id for a modality.
// sms and email ids are pure functions of the contact identifier; web_chat
// ids are caller-supplied UUIDs (a fresh one is minted when empty).
func ConversationID(modality Modality, contactOrID string) (id, contact string, err error) {
	contactOrID = strings.TrimSpace(contactOrID)
	switch modality {
	case ModalitySMS:
		if !validE164(contactOrID) {
			return "", "", &ValidationError{Field: "contact_identifier", Reason: "not an E.164 phone number"}
		}
		return "sms:" + contactOrID, contactOrID, nil
	case ModalityEmail:
		if contactOrID == "" {
			return "", "", &ValidationError{Field: "contact_identifier", Reason: "empty email thread id"}
		}
		return "email:" + contactOrID, contactOrID, nil
	case ModalityWebChat:
		if contactOrID == "" {
			return uuid.New().String(), "", nil
		}
		if _, err := uuid.Parse(contactOrID); err != nil {
			return "", "", &ValidationError{Field: "conversation_id", Reason: "web_chat id must be a UUID"}
		}
		return contactOrID, "", nil
	default:
		return "", "", &ValidationError{Field: "modality", Reason: fmt.Sprintf("unknown modality %q", modality)}
	}
}

// validE164 checks a +country-code phone number: "+" followed by 7-15 digits.
func validE164(s string) bool {
	if len(s) < 8 || len(s) > 16 || s[0] != '+' {
		return false
	}
	for _, r := range s[1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ---------- Generation capability ----------

// ToolDefinition is the function schema exposed to the generation capability.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// GenerationOutput is the discriminated union returned by the generation
// capability: either final text or a set of deferred tool requests. Callers
// type-switch and must handle both cases.
type GenerationOutput interface {
	generationOutput()
}

// FinalText is a completed assistant turn with no tool calls.
type FinalText struct {
	Text  string
	Usage Usage
}

// DeferredToolRequests is a set of proposed tool invocations. Text carries
// any assistant commentary emitted alongside the calls.
type DeferredToolRequests struct {
	Text     string
	Requests []ToolCallRequest
	Usage    Usage
}

func (FinalText) generationOutput()            {}
func (DeferredToolRequests) generationOutput() {}

// Generator is the opaque external text-generation capability.
type Generator interface {
	Generate(ctx context.Context, instructions string, history []Message, tools []ToolDefinition) (GenerationOutput, error)
}

// Summarizer is the opaque external summarization capability, an independent
// text-generation call used by compaction and the tool result wrapper.
type Summarizer interface {
	Summarize(ctx context.Context, instructions, text string) (string, error)
}

// ---------- Turn results ----------

// TurnState describes how a turn ended.
type TurnState string

const (
	// TurnCompleted means the assistant produced final text.
	TurnCompleted TurnState = "completed"

	// TurnAwaitingApproval means the turn is suspended on one or more
	// pending tool approvals. Not a failure state.
	TurnAwaitingApproval TurnState = "awaiting_approval"
)

// TurnResult is the outcome of StartTurn or Decide.
type TurnResult struct {
	ConversationID string            `json:"conversation_id"`
	State          TurnState         `json:"state"`
	Reply          string            `json:"reply,omitempty"`
	Pending        []ToolCallRequest `json:"pending,omitempty"`
}
