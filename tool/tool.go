// Package tool implements the tool-calling subsystem: named, schema-validated
// capabilities agents invoke, dispatched through a process-wide bounded
// worker pool so concurrent external I/O stays capped.
package tool

import (
	"context"
	"fmt"

	"github.com/relaymesh/chatmesh/internal/util"
)

// Tool defines a named, schema-described capability an agent can invoke.
//
// Implementations should:
//   - Use descriptive, snake_case names
//   - Declare a precise JSON Schema for parameters
//   - Never panic; return errors instead
//   - Be safe for concurrent use — the registry may call Call from many
//     goroutines at once, bounded only by the shared worker pool
type Tool interface {
	// Name returns the unique identifier for this tool.
	Name() string
	// Description is shown to the model to help it decide when to call this tool.
	Description() string
	// Parameters returns a JSON schema describing the expected arguments.
	Parameters() map[string]interface{}
	// Call executes the tool with validated arguments.
	Call(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = util.ValidationError

// ToolError represents a structured tool execution failure. Tool failures
// are never panics; they are returned as ToolError so the workflow can
// surface {error: kind, message} without special-casing exceptions.
type ToolError struct {
	Tool    string      `json:"tool"`
	Message string      `json:"message"`
	Code    string      `json:"code"`
	Details interface{} `json:"details,omitempty"`
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{Tool: tool, Message: message, Code: code}
}
