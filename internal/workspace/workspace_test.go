package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func setupTestWorkspace(t *testing.T) *Workspace {
	ws, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create workspace: %v", err)
	}
	if err := ws.Init(); err != nil {
		t.Fatalf("Failed to init workspace: %v", err)
	}
	return ws
}

func TestInitIsIdempotent(t *testing.T) {
	ws := setupTestWorkspace(t)

	if err := ws.Init(); err != nil {
		t.Fatalf("Second init failed: %v", err)
	}

	info, err := os.Stat(ws.ReservedPath())
	if err != nil || !info.IsDir() {
		t.Fatalf("Expected reserved directory at %s: %v", ws.ReservedPath(), err)
	}
}

func TestResolve(t *testing.T) {
	ws := setupTestWorkspace(t)

	tests := []struct {
		name      string
		rel       string
		want      string
		traversal bool
	}{
		{name: "plain file", rel: "a.txt", want: filepath.Join(ws.Root(), "a.txt")},
		{name: "nested", rel: "dir/sub/b.txt", want: filepath.Join(ws.Root(), "dir", "sub", "b.txt")},
		{name: "dot segments", rel: "./dir/./c.txt", want: filepath.Join(ws.Root(), "dir", "c.txt")},
		{name: "root itself", rel: ".", want: ws.Root()},
		{name: "parent", rel: "../escape.txt", traversal: true},
		{name: "hidden parent", rel: "dir/../../escape.txt", traversal: true},
		{name: "inner parent", rel: "dir/../ok.txt", traversal: true},
		{name: "backslash parent", rel: `dir\..\..\escape.txt`, traversal: true},
		{name: "absolute outside", rel: "/etc/passwd", traversal: true},
		{name: "absolute inside", rel: filepath.Join(ws.Root(), "in.txt"), want: filepath.Join(ws.Root(), "in.txt")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ws.Resolve(tt.rel)
			if tt.traversal {
				if !errors.Is(err, ErrPathTraversal) {
					t.Fatalf("Expected ErrPathTraversal for %q, got %v (%s)", tt.rel, err, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error for %q: %v", tt.rel, err)
			}
			if got != tt.want {
				t.Errorf("Resolve(%q) = %s, want %s", tt.rel, got, tt.want)
			}
		})
	}
}

func TestSiblingPrefixIsOutside(t *testing.T) {
	parent := t.TempDir()
	ws, err := New(filepath.Join(parent, "root"))
	if err != nil {
		t.Fatalf("Failed to create workspace: %v", err)
	}

	if _, err := ws.Resolve(filepath.Join(parent, "rootother", "x")); !errors.Is(err, ErrPathTraversal) {
		t.Errorf("Expected sibling directory with shared prefix to be rejected, got %v", err)
	}
}

func TestWriteAndReadText(t *testing.T) {
	ws := setupTestWorkspace(t)

	if err := ws.WriteText("deep/nested/file.txt", "hello"); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}

	got, err := ws.ReadText("deep/nested/file.txt")
	if err != nil {
		t.Fatalf("Failed to read: %v", err)
	}
	if got != "hello" {
		t.Errorf("Expected %q, got %q", "hello", got)
	}

	exists, err := ws.Exists("deep/nested/file.txt")
	if err != nil || !exists {
		t.Errorf("Expected file to exist: %v", err)
	}

	exists, err = ws.Exists("deep/missing.txt")
	if err != nil || exists {
		t.Errorf("Expected missing file to not exist: %v", err)
	}
}

func TestTraversalPerformsNoIO(t *testing.T) {
	parent := t.TempDir()
	ws, err := New(filepath.Join(parent, "root"))
	if err != nil {
		t.Fatalf("Failed to create workspace: %v", err)
	}

	if err := ws.WriteText("../outside.txt", "nope"); !errors.Is(err, ErrPathTraversal) {
		t.Fatalf("Expected ErrPathTraversal, got %v", err)
	}
	if err := ws.Mkdirp("../outside-dir"); !errors.Is(err, ErrPathTraversal) {
		t.Fatalf("Expected ErrPathTraversal, got %v", err)
	}
	if _, err := ws.Exists("../outside.txt"); !errors.Is(err, ErrPathTraversal) {
		t.Fatalf("Expected ErrPathTraversal, got %v", err)
	}

	for _, name := range []string{"outside.txt", "outside-dir", "root"} {
		if _, err := os.Stat(filepath.Join(parent, name)); !os.IsNotExist(err) {
			t.Errorf("Expected %s not to be created, stat err: %v", name, err)
		}
	}
}

func TestMkdirp(t *testing.T) {
	ws := setupTestWorkspace(t)

	if err := ws.Mkdirp("a/b/c"); err != nil {
		t.Fatalf("Failed to mkdirp: %v", err)
	}
	if err := ws.Mkdirp("a/b/c"); err != nil {
		t.Fatalf("Second mkdirp failed: %v", err)
	}

	info, err := os.Stat(filepath.Join(ws.Root(), "a", "b", "c"))
	if err != nil || !info.IsDir() {
		t.Errorf("Expected directory to exist: %v", err)
	}
}
