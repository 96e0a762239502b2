// Package workspace sandboxes file I/O to a single root directory.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sharma-sourabh3435/provenance-ledger/internal/models"
)

// ErrPathTraversal is returned for any path that would escape the root
var ErrPathTraversal = errors.New("path traversal outside workspace")

// Workspace resolves relative paths against a root and refuses to leave it
type Workspace struct {
	root string
}

// New returns a workspace rooted at root. The root is made absolute but not
// created; call Init for that.
func New(root string) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace root: %w", err)
	}
	return &Workspace{root: filepath.Clean(abs)}, nil
}

// Root returns the absolute workspace root
func (w *Workspace) Root() string {
	return w.root
}

// ReservedPath returns the absolute path of the ledger's reserved subdirectory
func (w *Workspace) ReservedPath() string {
	return filepath.Join(w.root, models.ReservedDir)
}

// Init ensures the root and its reserved subdirectory exist
func (w *Workspace) Init() error {
	if err := os.MkdirAll(w.ReservedPath(), 0o755); err != nil {
		return fmt.Errorf("failed to initialize workspace: %w", err)
	}
	return nil
}

// Resolve returns the absolute path for rel, or ErrPathTraversal if rel has a
// ".." segment or resolves outside the root
func (w *Workspace) Resolve(rel string) (string, error) {
	for _, segment := range strings.FieldsFunc(rel, isSeparator) {
		if segment == ".." {
			return "", fmt.Errorf("%q: %w", rel, ErrPathTraversal)
		}
	}

	var resolved string
	if filepath.IsAbs(rel) {
		resolved = filepath.Clean(rel)
	} else {
		resolved = filepath.Join(w.root, rel)
	}

	if !w.contains(resolved) {
		return "", fmt.Errorf("%q: %w", rel, ErrPathTraversal)
	}
	return resolved, nil
}

func (w *Workspace) contains(abs string) bool {
	if abs == w.root {
		return true
	}
	return strings.HasPrefix(abs, w.root+string(filepath.Separator))
}

func isSeparator(r rune) bool {
	return r == '/' || r == '\\'
}

// ReadText reads the file at rel
func (w *Workspace) ReadText(rel string) (string, error) {
	data, err := w.ReadFile(rel)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ReadFile reads the raw bytes of the file at rel
func (w *Workspace) ReadFile(rel string) ([]byte, error) {
	path, err := w.Resolve(rel)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", rel, err)
	}
	return data, nil
}

// WriteText writes content to rel, creating parent directories as needed
func (w *Workspace) WriteText(rel, content string) error {
	return w.WriteFile(rel, []byte(content))
}

// WriteFile writes data to rel, creating parent directories as needed
func (w *Workspace) WriteFile(rel string, data []byte) error {
	path, err := w.Resolve(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create parent of %s: %w", rel, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", rel, err)
	}
	return nil
}

// Exists reports whether rel exists. Traversal attempts are errors, not false.
func (w *Workspace) Exists(rel string) (bool, error) {
	path, err := w.Resolve(rel)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat %s: %w", rel, err)
}

// Mkdirp creates rel and any missing parents
func (w *Workspace) Mkdirp(rel string) error {
	path, err := w.Resolve(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", rel, err)
	}
	return nil
}

// Sub returns a workspace rooted at rel inside this one
func (w *Workspace) Sub(rel string) (*Workspace, error) {
	path, err := w.Resolve(rel)
	if err != nil {
		return nil, err
	}
	return &Workspace{root: path}, nil
}
