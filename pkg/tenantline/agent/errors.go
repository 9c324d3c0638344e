// Package agent – errors.go defines the error taxonomy for the orchestration
// core. Only GenerationError aborts a turn; everything else is absorbed into
// conversation state so a human or the agent itself can react.
package agent

import (
	"errors"
	"fmt"
)

// ErrAlreadyDecided is returned by Decide when the tool call has already been
// resolved (or never existed as pending). It is an expected race on duplicate
// UI clicks and retries: "someone else already acted", not a bug.
var ErrAlreadyDecided = errors.New("approval already decided")

// ErrConversationNotFound is returned when a decision or read targets an
// unknown conversation id.
var ErrConversationNotFound = errors.New("conversation not found")

// ValidationError is a synchronously rejected bad input (malformed contact
// identifier, unknown tool, path traversal attempt). Never partially applied.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// ToolExecutionError is a failed tool side effect. It is recorded as a
// tool-result message so the conversation continues; never fatal to the turn.
type ToolExecutionError struct {
	ToolName string
	Err      error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.ToolName, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

// GenerationError wraps a failed or timed-out generation or summarization
// call. The turn aborts without committing the in-progress message, leaving
// the conversation retry-safe.
type GenerationError struct {
	Op  string // "generate" or "summarize"
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s call failed: %v", e.Op, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// IsGenerationFailure reports whether err is (or wraps) a GenerationError.
func IsGenerationFailure(err error) bool {
	var ge *GenerationError
	return errors.As(err, &ge)
}
