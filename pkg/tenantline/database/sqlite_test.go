package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/tenantline/tenantline/pkg/tenantline/agent"
)

func newTestDB(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleConversation() *agent.Conversation {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &agent.Conversation{
		ID:                "sms:+14155550100",
		Modality:          agent.ModalitySMS,
		ContactIdentifier: "+14155550100",
		EstimatedTokens:   120,
		Messages: []agent.Message{
			{SequenceIndex: 0, Role: agent.RoleUser, Content: "Unit 4B has a leaking faucet", CreatedAt: now},
			{
				SequenceIndex: 1,
				Role:          agent.RoleAssistant,
				Content:       "",
				ToolCalls: []agent.ToolCallRecord{{
					ToolCallID: "call_1",
					ToolName:   "send_sms",
					Args:       map[string]any{"to": "+14155550101", "body": "plumber scheduled"},
				}},
				Usage:     &agent.Usage{InputTokens: 80, OutputTokens: 40},
				CreatedAt: now,
			},
			{SequenceIndex: 2, Role: agent.RoleTool, ToolCallID: "call_0", ToolName: "read_notes", Content: `{"format":"verbatim"}`, CreatedAt: now},
			{SequenceIndex: 3, Role: agent.RoleAssistant, Content: "summary", Summary: true, Usage: &agent.Usage{OutputTokens: 5}, CreatedAt: now},
		},
		Pending: map[string]*agent.ToolCallRequest{
			"call_1": {
				ToolCallID:       "call_1",
				ToolName:         "send_sms",
				Args:             map[string]any{"to": "+14155550101", "body": "plumber scheduled"},
				RequiresApproval: true,
				Status:           agent.StatusPending,
				CreatedAt:        now,
			},
		},
		Decisions: map[string]agent.ApprovalDecision{
			"call_0": {ToolCallID: "call_0", Approved: true},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	db := newTestDB(t)
	original := sampleConversation()

	if err := db.Save(original); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := db.Load(original.ID)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded == nil {
		t.Fatal("Load returned nil for saved conversation")
	}

	if loaded.ID != original.ID || loaded.Modality != original.Modality {
		t.Errorf("identity mismatch: %s/%s", loaded.ID, loaded.Modality)
	}
	if loaded.EstimatedTokens != 120 {
		t.Errorf("estimated tokens lost: %d", loaded.EstimatedTokens)
	}
	if len(loaded.Messages) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(loaded.Messages))
	}

	assistant := loaded.Messages[1]
	if len(assistant.ToolCalls) != 1 || assistant.ToolCalls[0].ToolCallID != "call_1" {
		t.Errorf("tool calls lost: %+v", assistant.ToolCalls)
	}
	if assistant.Usage == nil || assistant.Usage.Total() != 120 {
		t.Errorf("usage lost: %+v", assistant.Usage)
	}
	if !loaded.Messages[3].Summary {
		t.Error("summary flag lost")
	}

	pending, ok := loaded.Pending["call_1"]
	if !ok {
		t.Fatal("pending request lost")
	}
	if pending.Status != agent.StatusPending || !pending.RequiresApproval {
		t.Errorf("pending state mangled: %+v", pending)
	}
	if pending.Args["body"] != "plumber scheduled" {
		t.Errorf("pending args lost: %v", pending.Args)
	}

	if d, ok := loaded.Decisions["call_0"]; !ok || !d.Approved {
		t.Errorf("decision lost: %+v", loaded.Decisions)
	}
}

func TestStore_LoadMissingReturnsNil(t *testing.T) {
	db := newTestDB(t)

	loaded, err := db.Load("sms:+19995550000")
	if err != nil {
		t.Fatalf("Load of missing conversation errored: %v", err)
	}
	if loaded != nil {
		t.Error("expected nil for missing conversation")
	}
}

func TestStore_SaveReplacesState(t *testing.T) {
	db := newTestDB(t)
	conv := sampleConversation()
	if err := db.Save(conv); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// A later commit has fewer messages (compaction) and resolved approvals.
	conv.Messages = conv.Messages[2:]
	for i := range conv.Messages {
		conv.Messages[i].SequenceIndex = i
	}
	delete(conv.Pending, "call_1")
	if err := db.Save(conv); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}

	loaded, err := db.Load(conv.ID)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(loaded.Messages) != 2 {
		t.Errorf("stale messages survived replace: %d", len(loaded.Messages))
	}
	if len(loaded.Pending) != 0 {
		t.Errorf("stale pending survived replace: %d", len(loaded.Pending))
	}
}

func TestStore_Delete(t *testing.T) {
	db := newTestDB(t)
	conv := sampleConversation()
	if err := db.Save(conv); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if err := db.Delete(conv.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	loaded, err := db.Load(conv.ID)
	if err != nil {
		t.Fatalf("Load after delete errored: %v", err)
	}
	if loaded != nil {
		t.Error("conversation still present after delete")
	}
}
