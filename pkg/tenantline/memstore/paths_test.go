package memstore

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestResolveSafePath_AcceptsNestedPaths(t *testing.T) {
	root := t.TempDir()

	abs, err := ResolveSafePath(root, "areas/tenants/notes.md")
	if err != nil {
		t.Fatalf("expected nested path to resolve, got %v", err)
	}
	if !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		t.Errorf("resolved path %s not under root %s", abs, root)
	}
}

func TestResolveSafePath_RejectsEscapes(t *testing.T) {
	root := t.TempDir()

	cases := []struct {
		name string
		path string
	}{
		{"parent traversal", "../../etc/passwd"},
		{"hidden traversal", "areas/../../outside.md"},
		{"absolute path", "/etc/passwd"},
		{"empty path", ""},
		{"whitespace path", "   "},
		{"nul byte", "notes\x00.md"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ResolveSafePath(root, tc.path)
			if err == nil {
				t.Fatalf("expected %q to be rejected", tc.path)
			}
			var pathErr *PathError
			if !errors.As(err, &pathErr) {
				t.Errorf("expected PathError, got %T", err)
			}
		})
	}
}

func TestResolveSafePath_InternalDotDotThatStaysInside(t *testing.T) {
	root := t.TempDir()

	// Cleans to areas/notes.md, which stays under root.
	abs, err := ResolveSafePath(root, "areas/tenants/../notes.md")
	if err != nil {
		t.Fatalf("expected path to resolve after cleaning, got %v", err)
	}
	if filepath.Base(abs) != "notes.md" {
		t.Errorf("unexpected resolved path: %s", abs)
	}
}

func TestResolveSafePath_SimilarlyNamedSibling(t *testing.T) {
	// "/tmp/x/work" must not accept paths landing in "/tmp/x/workspace".
	root := filepath.Join(t.TempDir(), "work")

	_, err := ResolveSafePath(root, "../workspace/notes.md")
	if err == nil {
		t.Fatal("expected sibling-prefix escape to be rejected")
	}
}

func TestCheckSuffix(t *testing.T) {
	for _, ok := range []string{"notes.md", "notes.txt", "data.json", "NOTES.MD"} {
		if err := CheckSuffix(ok); err != nil {
			t.Errorf("expected %q to pass suffix check: %v", ok, err)
		}
	}
	for _, bad := range []string{"script.sh", "binary", "archive.tar.gz", "notes.md.bak"} {
		if err := CheckSuffix(bad); err == nil {
			t.Errorf("expected %q to fail suffix check", bad)
		}
	}
}
