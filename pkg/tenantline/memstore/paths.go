// Package memstore implements the sandboxed workspace file store. It backs
// both the agent's memory tools and the operator admin API, so every caller
// goes through the same path validation.
package memstore

import (
	"fmt"
	"path/filepath"
	"strings"
)

// allowedSuffixes is the suffix allow-list for file-content operations.
// Directory operations (list, mkdir, delete of a directory) are only
// traversal-checked, never suffix-checked.
var allowedSuffixes = []string{".md", ".txt", ".json"}

// PathError is a validation failure for a workspace path. It is surfaced
// verbatim to the agent and to admin API clients.
type PathError struct {
	Path   string
	Reason string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("invalid path %q: %s", e.Path, e.Reason)
}

// ResolveSafePath resolves rel against root and returns an absolute path
// guaranteed to live under root. Absolute inputs and any path whose cleaned
// form escapes the root (".." traversal) are rejected. The path does not
// need to exist.
func ResolveSafePath(root, rel string) (string, error) {
	if strings.TrimSpace(rel) == "" {
		return "", &PathError{Path: rel, Reason: "empty path"}
	}
	if filepath.IsAbs(rel) || strings.HasPrefix(filepath.ToSlash(rel), "/") {
		return "", &PathError{Path: rel, Reason: "absolute paths are not allowed"}
	}
	if strings.ContainsRune(rel, 0) {
		return "", &PathError{Path: rel, Reason: "NUL byte in path"}
	}

	cleaned := filepath.Clean(rel)
	if cleaned == "." {
		cleaned = ""
	}

	candidate := filepath.Join(root, cleaned)

	// filepath.Rel is robust against partial prefix matches
	// ("/root/work" vs "/root/workspace").
	relBack, err := filepath.Rel(root, candidate)
	if err != nil || relBack == ".." || strings.HasPrefix(relBack, ".."+string(filepath.Separator)) {
		return "", &PathError{Path: rel, Reason: "path escapes the workspace root"}
	}

	return candidate, nil
}

// CheckSuffix enforces the content-file suffix allow-list.
func CheckSuffix(rel string) error {
	lower := strings.ToLower(rel)
	for _, suffix := range allowedSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return nil
		}
	}
	return &PathError{
		Path:   rel,
		Reason: fmt.Sprintf("file suffix not allowed (want one of %s)", strings.Join(allowedSuffixes, ", ")),
	}
}
