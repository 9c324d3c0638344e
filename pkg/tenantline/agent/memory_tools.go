// Package agent – memory_tools.go exposes the sandboxed workspace to the
// generation capability as a single dispatcher tool. Uses one tool with an
// action parameter to keep the tool count down.
package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tenantline/tenantline/pkg/tenantline/memstore"
)

var memoryToolSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"action": {
			"type": "string",
			"enum": ["read", "write", "append", "list", "mkdir", "delete"],
			"description": "Operation to perform on the workspace"
		},
		"path": {
			"type": "string",
			"description": "Workspace-relative path (e.g. areas/tenants/notes.md)"
		},
		"content": {
			"type": "string",
			"description": "Content for write/append"
		}
	},
	"required": ["action", "path"]
}`)

// RegisterMemoryTool registers the workspace dispatcher tool. Workspace
// operations stay inside the sandbox, so the tool is not approval-gated.
func RegisterMemoryTool(registry *ToolRegistry, store *memstore.Store) {
	registry.Register(&Tool{
		Name: "memory",
		Description: "Read and maintain workspace notes. Actions: read, write, append, " +
			"list, mkdir, delete. Paths are relative to the workspace root; files " +
			"must end in .md, .txt, or .json.",
		Parameters:       memoryToolSchema,
		RequiresApproval: false,
		Handler:          memoryHandler(store),
	})
}

func memoryHandler(store *memstore.Store) ToolHandlerFunc {
	return func(_ context.Context, args map[string]any) (any, error) {
		action, _ := args["action"].(string)
		path, _ := args["path"].(string)
		content, _ := args["content"].(string)

		switch action {
		case "read":
			result, err := store.Read(path)
			if err != nil {
				return nil, err
			}
			if result.Truncated {
				return fmt.Sprintf("%s\n[truncated: %d of %d bytes shown]",
					result.Content, len(result.Content), result.TotalSize), nil
			}
			return result.Content, nil

		case "write":
			if err := store.Write(path, content); err != nil {
				return nil, err
			}
			return fmt.Sprintf("wrote %d bytes to %s", len(content), path), nil

		case "append":
			if err := store.Append(path, content); err != nil {
				return nil, err
			}
			return fmt.Sprintf("appended %d bytes to %s", len(content), path), nil

		case "list":
			entries, err := store.List(path)
			if err != nil {
				return nil, err
			}
			return entries, nil

		case "mkdir":
			if err := store.Mkdir(path); err != nil {
				return nil, err
			}
			return "created " + path, nil

		case "delete":
			if err := store.Delete(path); err != nil {
				return nil, err
			}
			return "deleted " + path, nil

		default:
			return nil, fmt.Errorf("unknown memory action %q", action)
		}
	}
}
