// Package agent – tools.go manages the registry of callable tools and their
// approval requirements. Tool handlers only see already-approved calls; the
// gate in approval.go decides when execution is allowed.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"time"
)

// DefaultToolTimeout is the maximum time a single tool execution can take.
const DefaultToolTimeout = 30 * time.Second

// ToolHandlerFunc executes a tool with parsed arguments. The returned value
// is serialized for the conversation: strings pass through, everything else
// is JSON-encoded.
type ToolHandlerFunc func(ctx context.Context, args map[string]any) (any, error)

// Tool bundles a definition with its handler and approval requirement.
type Tool struct {
	Name             string
	Description      string
	Parameters       json.RawMessage // JSON schema for the args object
	RequiresApproval bool
	Handler          ToolHandlerFunc
}

// ToolRegistry holds the tools exposed to the generation capability.
// Registration happens at startup; lookups are read-only afterwards.
type ToolRegistry struct {
	tools   map[string]*Tool
	order   []string
	forced  map[string]bool
	timeout time.Duration
	logger  *slog.Logger
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry(logger *slog.Logger) *ToolRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &ToolRegistry{
		tools:   make(map[string]*Tool),
		forced:  make(map[string]bool),
		timeout: DefaultToolTimeout,
		logger:  logger.With("component", "tool_registry"),
	}
}

// ForceApproval flags the named tools as approval-gated regardless of how
// they are registered. Names of tools not yet registered stick.
func (r *ToolRegistry) ForceApproval(names ...string) {
	for _, name := range names {
		r.forced[name] = true
	}
}

// Register adds a tool, replacing any previous tool with the same name.
func (r *ToolRegistry) Register(t *Tool) {
	if _, exists := r.tools[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
	r.logger.Debug("tool registered", "tool", t.Name, "requires_approval", t.RequiresApproval)
}

// Get returns the tool by name, or nil.
func (r *ToolRegistry) Get(name string) *Tool {
	return r.tools[name]
}

// RequiresApproval reports the approval requirement for a tool. Unknown
// tools require approval: an unrecognized side effect must never slip
// through the auto-approve path.
func (r *ToolRegistry) RequiresApproval(name string) bool {
	if r.forced[name] {
		return true
	}
	t := r.tools[name]
	if t == nil {
		return true
	}
	return t.RequiresApproval
}

// Definitions returns the tool schemas in registration order.
func (r *ToolRegistry) Definitions() []ToolDefinition {
	defs := make([]ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return defs
}

// Execute runs a tool handler and returns the raw textual result plus the
// natural item count of the result (slice length, or 1 for a scalar).
// Handler failures come back as *ToolExecutionError.
func (r *ToolRegistry) Execute(ctx context.Context, name string, args map[string]any) (raw string, itemCount int, err error) {
	t := r.tools[name]
	if t == nil {
		return "", 0, &ValidationError{Field: "tool_name", Reason: fmt.Sprintf("unknown tool %q", name)}
	}

	execCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	result, err := t.Handler(execCtx, args)
	if err != nil {
		r.logger.Error("tool execution failed",
			"tool", name,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
		return "", 0, &ToolExecutionError{ToolName: name, Err: err}
	}

	r.logger.Debug("tool executed",
		"tool", name,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return renderToolResult(result), naturalItemCount(result), nil
}

// renderToolResult converts a handler return value to text for the
// conversation. Strings pass through; other values are JSON-encoded.
func renderToolResult(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

// naturalItemCount returns the envelope item count of a result: the length
// of a slice/array/map result, or 1 for any scalar.
func naturalItemCount(v any) int {
	if v == nil {
		return 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len()
	default:
		return 1
	}
}
