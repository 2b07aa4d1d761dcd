// Package datadir owns the on-disk layout of the supervisor's data root
// and the path sanity checks used before anything destructive happens
// inside it.
package datadir

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Layout manages the supervisor's data root and the directories inside it:
// servers/, backups/, runtimes/, msm.sqlite and config.json.
type Layout struct {
	root string
}

// New canonicalises root, creates the standard subdirectories, and returns
// the layout. The root itself is created if missing.
func New(root string) (*Layout, error) {
	if root == "" {
		return nil, fmt.Errorf("data root path is empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data root: %w", err)
	}
	// Resolve symlinks once so descendant checks compare like with like.
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalise data root: %w", err)
	}

	l := &Layout{root: resolved}
	for _, dir := range []string{l.ServersDir(), l.BackupsDir(), l.RuntimesDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return l, nil
}

// Root returns the canonicalised data root.
func (l *Layout) Root() string { return l.root }

// ServersDir returns the directory holding per-server working directories.
func (l *Layout) ServersDir() string { return filepath.Join(l.root, "servers") }

// BackupsDir returns the directory holding backup archives.
func (l *Layout) BackupsDir() string { return filepath.Join(l.root, "backups") }

// RuntimesDir returns the directory holding downloaded Java runtimes.
func (l *Layout) RuntimesDir() string { return filepath.Join(l.root, "runtimes") }

// DatabasePath returns the SQLite file path.
func (l *Layout) DatabasePath() string { return filepath.Join(l.root, "msm.sqlite") }

// ConfigPath returns the config.json path.
func (l *Layout) ConfigPath() string { return filepath.Join(l.root, "config.json") }

// ServerDir returns the working directory for a server name. The name is
// validated upstream; this is pure path assembly.
func (l *Layout) ServerDir(name string) string {
	return filepath.Join(l.ServersDir(), name)
}

// IsStrictDescendant reports whether path, after symlink resolution, lives
// strictly inside the data root. The root itself does not count.
func (l *Layout) IsStrictDescendant(path string) (bool, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return false, fmt.Errorf("failed to canonicalise %s: %w", path, err)
	}
	rel, err := filepath.Rel(l.root, resolved)
	if err != nil {
		return false, err
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false, nil
	}
	return true, nil
}

// RemoveServerDir removes a server working directory, refusing when the
// resolved path escapes the data root. A directory that is already gone is
// not an error.
func (l *Layout) RemoveServerDir(path string) error {
	if _, err := os.Lstat(path); os.IsNotExist(err) {
		return nil
	}
	inside, err := l.IsStrictDescendant(path)
	if err != nil {
		return err
	}
	if !inside {
		return fmt.Errorf("refusing to remove %s: resolves outside the data root %s", path, l.root)
	}
	return os.RemoveAll(path)
}
