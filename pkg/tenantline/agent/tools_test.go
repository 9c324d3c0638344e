package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestToolRegistry_UnknownToolsRequireApproval(t *testing.T) {
	registry := NewToolRegistry(nil)
	if !registry.RequiresApproval("mystery_tool") {
		t.Error("unknown tools must require approval")
	}
}

func TestToolRegistry_ApprovalFlags(t *testing.T) {
	registry := NewToolRegistry(nil)
	registry.Register(&Tool{Name: "read_notes", RequiresApproval: false})
	registry.Register(&Tool{Name: "send_sms", RequiresApproval: true})

	if registry.RequiresApproval("read_notes") {
		t.Error("read_notes should auto-approve")
	}
	if !registry.RequiresApproval("send_sms") {
		t.Error("send_sms must require approval")
	}

	// Config can force additional tools through the gate, including ones
	// registered later.
	registry.ForceApproval("read_notes", "purge_cache")
	if !registry.RequiresApproval("read_notes") {
		t.Error("forced tool should require approval")
	}
	registry.Register(&Tool{Name: "purge_cache", RequiresApproval: false})
	if !registry.RequiresApproval("purge_cache") {
		t.Error("force set before registration should stick")
	}
}

func TestToolRegistry_DefinitionsInRegistrationOrder(t *testing.T) {
	registry := NewToolRegistry(nil)
	registry.Register(&Tool{Name: "b_tool"})
	registry.Register(&Tool{Name: "a_tool"})

	defs := registry.Definitions()
	if len(defs) != 2 || defs[0].Name != "b_tool" || defs[1].Name != "a_tool" {
		t.Errorf("unexpected definition order: %+v", defs)
	}
}

func TestToolRegistry_ExecuteRendersResults(t *testing.T) {
	registry := NewToolRegistry(nil)
	registry.Register(&Tool{
		Name: "list_units",
		Handler: func(_ context.Context, _ map[string]any) (any, error) {
			return []string{"4A", "4B", "5C"}, nil
		},
	})

	raw, count, err := registry.Execute(context.Background(), "list_units", nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if count != 3 {
		t.Errorf("expected item count 3, got %d", count)
	}
	var parsed []string
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		t.Errorf("slice result should render as JSON: %v", err)
	}
}

func TestToolRegistry_ExecuteStringPassThrough(t *testing.T) {
	registry := NewToolRegistry(nil)
	registry.Register(&Tool{
		Name: "get_note",
		Handler: func(_ context.Context, _ map[string]any) (any, error) {
			return "unit 4B: leaking faucet", nil
		},
	})

	raw, count, err := registry.Execute(context.Background(), "get_note", nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if raw != "unit 4B: leaking faucet" {
		t.Errorf("string results must pass through unquoted: %q", raw)
	}
	if count != 1 {
		t.Errorf("expected scalar count 1, got %d", count)
	}
}

func TestToolRegistry_ExecuteWrapsErrors(t *testing.T) {
	registry := NewToolRegistry(nil)
	registry.Register(&Tool{
		Name: "flaky",
		Handler: func(_ context.Context, _ map[string]any) (any, error) {
			return nil, fmt.Errorf("backend unavailable")
		},
	})

	_, _, err := registry.Execute(context.Background(), "flaky", nil)
	var toolErr *ToolExecutionError
	if !errors.As(err, &toolErr) {
		t.Fatalf("expected ToolExecutionError, got %v", err)
	}
	if toolErr.ToolName != "flaky" {
		t.Errorf("wrong tool name in error: %s", toolErr.ToolName)
	}
}

func TestToolRegistry_ExecuteUnknownTool(t *testing.T) {
	registry := NewToolRegistry(nil)
	if _, _, err := registry.Execute(context.Background(), "nope", nil); err == nil {
		t.Error("expected unknown tool to fail")
	}
}

func TestNaturalItemCount(t *testing.T) {
	cases := []struct {
		name string
		v    any
		want int
	}{
		{"nil", nil, 0},
		{"slice", []int{1, 2, 3}, 3},
		{"map", map[string]int{"a": 1, "b": 2}, 2},
		{"string", "hello", 1},
		{"struct", struct{ X int }{1}, 1},
		{"empty slice", []string{}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := naturalItemCount(tc.v); got != tc.want {
				t.Errorf("naturalItemCount(%v) = %d, want %d", tc.v, got, tc.want)
			}
		})
	}
}

func TestRenderToolResult(t *testing.T) {
	if got := renderToolResult("plain"); got != "plain" {
		t.Errorf("string not passed through: %q", got)
	}
	got := renderToolResult(map[string]any{"unit": "4B"})
	if !strings.Contains(got, `"unit"`) {
		t.Errorf("map not rendered as JSON: %q", got)
	}
}
