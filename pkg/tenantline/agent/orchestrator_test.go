package agent

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
)

// newTestOrchestrator builds an orchestrator over an in-memory persister with
// a read tool (auto) and a send tool (gated).
func newTestOrchestrator(t *testing.T, gen Generator) (*Orchestrator, *memPersister) {
	t.Helper()

	persister := newMemPersister()
	registry := NewToolRegistry(nil)
	registry.Register(&Tool{
		Name: "read_notes",
		Handler: func(_ context.Context, _ map[string]any) (any, error) {
			return "unit 4B: leaking faucet reported 2026-08-20", nil
		},
	})
	var sent []map[string]any
	var sentMu sync.Mutex
	registry.Register(&Tool{
		Name:             "send_sms",
		RequiresApproval: true,
		Handler: func(_ context.Context, args map[string]any) (any, error) {
			sentMu.Lock()
			sent = append(sent, args)
			sentMu.Unlock()
			return "sent", nil
		},
	})

	orch := NewOrchestrator(OrchestratorConfig{
		Store:        NewConversationStore(persister, nil),
		Registry:     registry,
		Compactor:    NewCompactor(DefaultCompactionConfig(), &fakeSummarizer{}, nil),
		Generator:    gen,
		Instructions: "You are a property operations assistant.",
	}, nil)
	return orch, persister
}

func TestStartTurn_FreshSMSConversation(t *testing.T) {
	gen := &scriptedGenerator{outputs: []GenerationOutput{
		FinalText{Text: "I've noted the leaking faucet in 4B.", Usage: Usage{InputTokens: 20, OutputTokens: 10}},
	}}
	orch, _ := newTestOrchestrator(t, gen)

	result, err := orch.StartTurn(context.Background(), ModalitySMS, "+14155550100", "Unit 4B has a leaking faucet")
	if err != nil {
		t.Fatalf("StartTurn failed: %v", err)
	}
	if result.State != TurnCompleted {
		t.Errorf("expected completed, got %s", result.State)
	}
	if result.ConversationID != "sms:+14155550100" {
		t.Errorf("unexpected conversation id %s", result.ConversationID)
	}
	if result.Reply == "" {
		t.Error("expected a reply")
	}

	conv := orch.Conversation("sms:+14155550100")
	if conv == nil {
		t.Fatal("conversation not readable after turn")
	}
	if len(conv.Messages) != 2 {
		t.Fatalf("expected user+assistant messages, got %d", len(conv.Messages))
	}
	if conv.Messages[0].Role != RoleUser || conv.Messages[1].Role != RoleAssistant {
		t.Errorf("unexpected roles: %s, %s", conv.Messages[0].Role, conv.Messages[1].Role)
	}
	if conv.EstimatedTokens != 30 {
		t.Errorf("expected 30 estimated tokens, got %d", conv.EstimatedTokens)
	}
}

func TestStartTurn_EmptyMessageRejected(t *testing.T) {
	orch, _ := newTestOrchestrator(t, &scriptedGenerator{})

	if _, err := orch.StartTurn(context.Background(), ModalitySMS, "+14155550100", "   "); err == nil {
		t.Error("expected empty message to be rejected")
	}
}

func TestStartTurn_AutoApprovedToolRuns(t *testing.T) {
	gen := &scriptedGenerator{outputs: []GenerationOutput{
		DeferredToolRequests{
			Requests: []ToolCallRequest{{ToolCallID: "call_1", ToolName: "read_notes", Args: map[string]any{}}},
			Usage:    Usage{InputTokens: 15, OutputTokens: 5},
		},
		FinalText{Text: "The faucet in 4B was already reported.", Usage: Usage{InputTokens: 30, OutputTokens: 10}},
	}}
	orch, _ := newTestOrchestrator(t, gen)

	result, err := orch.StartTurn(context.Background(), ModalitySMS, "+14155550100", "Any open issues in 4B?")
	if err != nil {
		t.Fatalf("StartTurn failed: %v", err)
	}
	if result.State != TurnCompleted {
		t.Fatalf("expected completed, got %s", result.State)
	}

	conv := orch.Conversation("sms:+14155550100")
	// user, assistant(tool call), tool result, assistant(final)
	if len(conv.Messages) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(conv.Messages))
	}
	toolMsg := conv.Messages[2]
	if toolMsg.Role != RoleTool || toolMsg.ToolCallID != "call_1" {
		t.Fatalf("unexpected tool message: %+v", toolMsg)
	}

	// Result content is an envelope.
	var env ResultEnvelope
	if err := json.Unmarshal([]byte(toolMsg.Content), &env); err != nil {
		t.Fatalf("tool result is not an envelope: %v", err)
	}
	if env.Format != FormatVerbatim {
		t.Errorf("small output should be verbatim, got %s", env.Format)
	}
	if len(conv.Pending) != 0 {
		t.Error("auto-approved calls must not park approvals")
	}
}

func TestStartTurn_GatedToolSuspends(t *testing.T) {
	gen := &scriptedGenerator{outputs: []GenerationOutput{
		DeferredToolRequests{
			Requests: []ToolCallRequest{{
				ToolCallID: "call_1",
				ToolName:   "send_sms",
				Args:       map[string]any{"to": "+14155550101", "body": "plumber scheduled"},
			}},
			Usage: Usage{InputTokens: 15, OutputTokens: 5},
		},
		FinalText{Text: "Done, I told the tenant.", Usage: Usage{InputTokens: 30, OutputTokens: 8}},
	}}
	orch, _ := newTestOrchestrator(t, gen)

	result, err := orch.StartTurn(context.Background(), ModalitySMS, "+14155550100", "Tell 4B the plumber is coming")
	if err != nil {
		t.Fatalf("StartTurn failed: %v", err)
	}
	if result.State != TurnAwaitingApproval {
		t.Fatalf("expected awaiting_approval, got %s", result.State)
	}
	if len(result.Pending) != 1 || result.Pending[0].ToolCallID != "call_1" {
		t.Fatalf("unexpected pending set: %+v", result.Pending)
	}

	// Suspended conversation stays readable.
	conv := orch.Conversation("sms:+14155550100")
	if conv == nil || len(conv.Pending) != 1 {
		t.Fatal("pending approval not visible in snapshot")
	}

	// Approve: tool executes and the turn resumes to completion.
	decided, err := orch.Decide(context.Background(), "sms:+14155550100",
		ApprovalDecision{ToolCallID: "call_1", Approved: true})
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if decided.State != TurnCompleted {
		t.Errorf("expected completed after approval, got %s", decided.State)
	}
	if decided.Reply != "Done, I told the tenant." {
		t.Errorf("unexpected reply: %q", decided.Reply)
	}

	// Duplicate decision: the turn already resumed, second decide fails.
	if _, err := orch.Decide(context.Background(), "sms:+14155550100",
		ApprovalDecision{ToolCallID: "call_1", Approved: true}); err == nil {
		t.Error("expected duplicate decision to fail")
	}
}

func TestStartTurn_DuringPendingWindowParksMessage(t *testing.T) {
	gen := &scriptedGenerator{outputs: []GenerationOutput{
		DeferredToolRequests{
			Requests: []ToolCallRequest{{
				ToolCallID: "call_1",
				ToolName:   "send_sms",
				Args:       map[string]any{"to": "+14155550101", "body": "plumber at 3pm"},
			}},
			Usage: Usage{OutputTokens: 5},
		},
		FinalText{Text: "Confirmed with the tenant, and I'll check on the rent.", Usage: Usage{OutputTokens: 9}},
	}}
	orch, _ := newTestOrchestrator(t, gen)

	if _, err := orch.StartTurn(context.Background(), ModalitySMS, "+14155550100", "Tell 4B about the plumber"); err != nil {
		t.Fatalf("StartTurn failed: %v", err)
	}

	// A second inbound while call_1 is undecided must not reach the
	// generator: the committed history ends in an unanswered tool call.
	result, err := orch.StartTurn(context.Background(), ModalitySMS, "+14155550100", "Also ask about the rent")
	if err != nil {
		t.Fatalf("inbound during pending window failed: %v", err)
	}
	if result.State != TurnAwaitingApproval {
		t.Fatalf("expected awaiting_approval, got %s", result.State)
	}
	if gen.calls != 1 {
		t.Errorf("parked inbound hit the generator (%d calls)", gen.calls)
	}

	conv := orch.Conversation("sms:+14155550100")
	last := conv.Messages[len(conv.Messages)-1]
	if last.Role != RoleUser || last.Content != "Also ask about the rent" {
		t.Fatalf("parked message not committed, last message: %+v", last)
	}

	// Approval resumes; the tool result must sit directly after its call so
	// the resumed history is well-formed.
	decided, err := orch.Decide(context.Background(), "sms:+14155550100",
		ApprovalDecision{ToolCallID: "call_1", Approved: true})
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if decided.State != TurnCompleted {
		t.Errorf("expected completed after approval, got %s", decided.State)
	}

	conv = orch.Conversation("sms:+14155550100")
	// user, assistant(tool call), tool result, parked user, assistant(final)
	if len(conv.Messages) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(conv.Messages))
	}
	if conv.Messages[2].Role != RoleTool || conv.Messages[2].ToolCallID != "call_1" {
		t.Errorf("tool result not adjacent to its call: %+v", conv.Messages[2])
	}
	if conv.Messages[3].Role != RoleUser || conv.Messages[3].Content != "Also ask about the rent" {
		t.Errorf("parked message out of place: %+v", conv.Messages[3])
	}
	for i, m := range conv.Messages {
		if m.SequenceIndex != i {
			t.Errorf("message %d has sequence index %d", i, m.SequenceIndex)
		}
	}
}

func TestDecide_DenialSynthesizesToolResult(t *testing.T) {
	gen := &scriptedGenerator{outputs: []GenerationOutput{
		DeferredToolRequests{
			Requests: []ToolCallRequest{{
				ToolCallID: "call_1",
				ToolName:   "send_sms",
				Args:       map[string]any{"to": "+14155550101", "body": "wrong message"},
			}},
			Usage: Usage{OutputTokens: 5},
		},
		FinalText{Text: "Understood, I won't send it.", Usage: Usage{OutputTokens: 6}},
	}}
	orch, _ := newTestOrchestrator(t, gen)

	if _, err := orch.StartTurn(context.Background(), ModalitySMS, "+14155550100", "Text the tenant"); err != nil {
		t.Fatalf("StartTurn failed: %v", err)
	}

	result, err := orch.Decide(context.Background(), "sms:+14155550100",
		ApprovalDecision{ToolCallID: "call_1", Reason: "wrong tenant"})
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if result.State != TurnCompleted {
		t.Errorf("denial should still resume the turn, got %s", result.State)
	}

	conv := orch.Conversation("sms:+14155550100")
	var denial *Message
	for i := range conv.Messages {
		if conv.Messages[i].Role == RoleTool && conv.Messages[i].ToolCallID == "call_1" {
			denial = &conv.Messages[i]
		}
	}
	if denial == nil {
		t.Fatal("no synthesized tool result for the denial")
	}
	if !strings.Contains(denial.Content, "Denied by user: wrong tenant") {
		t.Errorf("unexpected denial content: %q", denial.Content)
	}
	if len(conv.Pending) != 0 {
		t.Error("denied request still pending")
	}
}

func TestDecide_UnknownConversation(t *testing.T) {
	orch, _ := newTestOrchestrator(t, &scriptedGenerator{})

	_, err := orch.Decide(context.Background(), "sms:+19995550000",
		ApprovalDecision{ToolCallID: "call_1", Approved: true})
	if err == nil {
		t.Error("expected unknown conversation to fail")
	}
}

func TestStartTurn_GenerationFailureIsRetrySafe(t *testing.T) {
	gen := &scriptedGenerator{outputs: []GenerationOutput{
		nil, // first attempt fails
		FinalText{Text: "Second attempt worked.", Usage: Usage{OutputTokens: 5}},
	}}
	orch, _ := newTestOrchestrator(t, gen)

	_, err := orch.StartTurn(context.Background(), ModalitySMS, "+14155550100", "hello")
	if !IsGenerationFailure(err) {
		t.Fatalf("expected generation failure, got %v", err)
	}

	// Nothing committed: the conversation has no messages.
	conv := orch.Conversation("sms:+14155550100")
	if conv != nil && len(conv.Messages) != 0 {
		t.Errorf("failed turn committed %d messages", len(conv.Messages))
	}

	// Retrying the same inbound event produces exactly one user message.
	result, err := orch.StartTurn(context.Background(), ModalitySMS, "+14155550100", "hello")
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if result.State != TurnCompleted {
		t.Errorf("expected completed retry, got %s", result.State)
	}
	conv = orch.Conversation("sms:+14155550100")
	if len(conv.Messages) != 2 {
		t.Errorf("expected 2 messages after retry, got %d", len(conv.Messages))
	}
}

func TestDecide_ApprovedSideEffectSurvivesResumeFailure(t *testing.T) {
	gen := &scriptedGenerator{outputs: []GenerationOutput{
		DeferredToolRequests{
			Requests: []ToolCallRequest{{
				ToolCallID: "call_1",
				ToolName:   "send_sms",
				Args:       map[string]any{"to": "+14155550101", "body": "notice"},
			}},
			Usage: Usage{OutputTokens: 5},
		},
		nil, // resume after approval fails
	}}
	orch, _ := newTestOrchestrator(t, gen)

	if _, err := orch.StartTurn(context.Background(), ModalitySMS, "+14155550100", "Send the notice"); err != nil {
		t.Fatalf("StartTurn failed: %v", err)
	}

	_, err := orch.Decide(context.Background(), "sms:+14155550100",
		ApprovalDecision{ToolCallID: "call_1", Approved: true})
	if !IsGenerationFailure(err) {
		t.Fatalf("expected resume generation failure, got %v", err)
	}

	// The executed tool result is committed even though the resume failed.
	conv := orch.Conversation("sms:+14155550100")
	found := false
	for _, m := range conv.Messages {
		if m.Role == RoleTool && m.ToolCallID == "call_1" {
			found = true
		}
	}
	if !found {
		t.Error("approved tool result lost after resume failure")
	}

	// The decision is recorded: a retry of the decision must not re-execute.
	if _, err := orch.Decide(context.Background(), "sms:+14155550100",
		ApprovalDecision{ToolCallID: "call_1", Approved: true}); err == nil {
		t.Error("expected replayed decision to fail")
	}
}

func TestStartTurn_ParallelConversations(t *testing.T) {
	gen := &scriptedGenerator{outputs: []GenerationOutput{
		FinalText{Text: "ok", Usage: Usage{OutputTokens: 1}},
	}}
	orch, _ := newTestOrchestrator(t, gen)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			contact := "+1415555010" + string(rune('0'+n))
			if _, err := orch.StartTurn(context.Background(), ModalitySMS, contact, "hi"); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("parallel turn failed: %v", err)
	}
}

func TestStartTurn_RoundLimit(t *testing.T) {
	// A generator that asks for the same auto tool forever must hit the
	// round cap instead of looping.
	gen := &scriptedGenerator{outputs: []GenerationOutput{
		DeferredToolRequests{
			Requests: []ToolCallRequest{{ToolCallID: "call_x", ToolName: "read_notes", Args: map[string]any{}}},
			Usage:    Usage{OutputTokens: 1},
		},
	}}
	orch, _ := newTestOrchestrator(t, gen)

	_, err := orch.StartTurn(context.Background(), ModalitySMS, "+14155550100", "loop")
	if !IsGenerationFailure(err) {
		t.Fatalf("expected round-limit failure, got %v", err)
	}
}
