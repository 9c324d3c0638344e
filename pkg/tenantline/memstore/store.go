package memstore

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// DefaultMaxReadBytes caps how much of a file Read returns to the agent.
// Larger files are truncated and flagged, never silently dropped.
const DefaultMaxReadBytes = 64 * 1024

// Store exposes sandboxed file operations rooted at a workspace directory.
// Concurrent writers to the same path are last-write-wins; the store assumes
// a handful of human/agent writers, not a distributed workload.
type Store struct {
	root         string
	maxReadBytes int
	logger       *slog.Logger
	mu           sync.RWMutex
}

// ReadResult is the outcome of a Read. Truncated is set when the file was
// larger than the read cap.
type ReadResult struct {
	Content   string
	Truncated bool
	TotalSize int64
}

// FileInfo is a single entry returned by List.
type FileInfo struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}

// New creates a Store rooted at dir, creating it if needed.
func New(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	return &Store{
		root:         abs,
		maxReadBytes: DefaultMaxReadBytes,
		logger:       logger.With("component", "memstore"),
	}, nil
}

// Root returns the absolute workspace root.
func (s *Store) Root() string { return s.root }

// SetMaxReadBytes overrides the read cap (for tests and config).
func (s *Store) SetMaxReadBytes(n int) {
	if n > 0 {
		s.maxReadBytes = n
	}
}

// resolveContent validates a path for file-content operations
// (traversal check + suffix allow-list).
func (s *Store) resolveContent(rel string) (string, error) {
	abs, err := ResolveSafePath(s.root, rel)
	if err != nil {
		return "", err
	}
	if err := CheckSuffix(rel); err != nil {
		return "", err
	}
	return abs, nil
}

// Read returns the contents of a workspace file, truncated at the read cap.
func (s *Store) Read(rel string) (*ReadResult, error) {
	abs, err := s.resolveContent(rel)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rel, err)
	}
	if info.IsDir() {
		return nil, &PathError{Path: rel, Reason: "is a directory"}
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rel, err)
	}

	result := &ReadResult{Content: string(data), TotalSize: info.Size()}
	if len(data) > s.maxReadBytes {
		result.Content = string(data[:s.maxReadBytes])
		result.Truncated = true
	}
	return result, nil
}

// Write creates or overwrites a workspace file. The content is written to a
// temp file in the same directory and renamed into place, so a concurrent
// reader never observes a partial write.
func (s *Store) Write(rel, content string) error {
	abs, err := s.resolveContent(rel)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeLocked(abs, content); err != nil {
		return fmt.Errorf("write %s: %w", rel, err)
	}

	s.logger.Debug("file written", "path", rel, "bytes", len(content))
	return nil
}

// writeLocked does the temp-file-and-rename replace. Callers hold mu.
func (s *Store) writeLocked(abs, content string) error {
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(abs), ".memstore-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, abs); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// Append adds content to the end of a workspace file, creating it if needed.
// The read and the replace-on-write happen under one lock acquisition, so
// concurrent appends never lose each other's content.
func (s *Store) Append(rel, content string) error {
	abs, err := s.resolveContent(rel)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, readErr := os.ReadFile(abs)
	if readErr != nil && !os.IsNotExist(readErr) {
		return fmt.Errorf("append %s: %w", rel, readErr)
	}
	if err := s.writeLocked(abs, string(existing)+content); err != nil {
		return fmt.Errorf("append %s: %w", rel, err)
	}

	s.logger.Debug("file appended", "path", rel, "bytes", len(content))
	return nil
}

// List returns the entries of a workspace directory, sorted by name.
// Suffix rules do not apply to directory operations.
func (s *Store) List(rel string) ([]FileInfo, error) {
	abs := s.root
	if strings.TrimSpace(rel) != "" && rel != "." {
		var err error
		abs, err = ResolveSafePath(s.root, rel)
		if err != nil {
			return nil, err
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", rel, err)
	}

	infos := make([]FileInfo, 0, len(entries))
	for _, entry := range entries {
		fi := FileInfo{Name: entry.Name(), IsDir: entry.IsDir()}
		if info, err := entry.Info(); err == nil {
			fi.Size = info.Size()
		}
		infos = append(infos, fi)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// Mkdir creates a directory (and parents) under the workspace root.
func (s *Store) Mkdir(rel string) error {
	abs, err := ResolveSafePath(s.root, rel)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", rel, err)
	}
	return nil
}

// Delete removes a file or an empty directory. Deleting a file enforces the
// suffix allow-list; deleting a directory does not.
func (s *Store) Delete(rel string) error {
	abs, err := ResolveSafePath(s.root, rel)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("delete %s: %w", rel, err)
	}
	if !info.IsDir() {
		if err := CheckSuffix(rel); err != nil {
			return err
		}
	}
	if err := os.Remove(abs); err != nil {
		return fmt.Errorf("delete %s: %w", rel, err)
	}

	s.logger.Info("workspace entry deleted", "path", rel, "dir", info.IsDir())
	return nil
}

// Download returns the full raw bytes of a workspace file (no read cap).
// Used by the admin surface for exports.
func (s *Store) Download(rel string) ([]byte, error) {
	abs, err := s.resolveContent(rel)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", rel, err)
	}
	return data, nil
}
