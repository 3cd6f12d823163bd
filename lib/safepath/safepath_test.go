// Copyright 2026 The Debforge Authors
// SPDX-License-Identifier: Apache-2.0

package safepath

import (
	"fmt"
	"io/fs"
	"testing"

	"github.com/debforge-project/debforge/lib/errdefs"
)

// memFS is an in-memory FS implementation for exercising the traversal
// without a real filesystem.
type memFS struct {
	root *memNode
	// mkdirFails injects an fs.ErrExist on Mkdir while still
	// materializing the directory, simulating a concurrent creator
	// winning the race.
	mkdirRace bool
}

type memNode struct {
	kind     string // "dir", "file", "symlink"
	children map[string]*memNode
}

func newMemDir() *memNode {
	return &memNode{kind: "dir", children: map[string]*memNode{}}
}

func (m *memFS) OpenRoot(path string) (Dir, error) {
	if m.root.kind != "dir" {
		return nil, fmt.Errorf("%s: %w", path, ErrSymlink)
	}
	return &memDir{fs: m, node: m.root}, nil
}

type memDir struct {
	fs   *memFS
	node *memNode
}

func (d *memDir) OpenDir(name string) (Dir, error) {
	child, ok := d.node.children[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, fs.ErrNotExist)
	}
	switch child.kind {
	case "symlink":
		return nil, fmt.Errorf("%s: %w", name, ErrSymlink)
	case "file":
		return nil, fmt.Errorf("%s: %w", name, ErrNotDir)
	}
	return &memDir{fs: d.fs, node: child}, nil
}

func (d *memDir) Mkdir(name string, perm fs.FileMode) error {
	if _, ok := d.node.children[name]; ok {
		return fmt.Errorf("%s: %w", name, fs.ErrExist)
	}
	d.node.children[name] = newMemDir()
	if d.fs.mkdirRace {
		return fmt.Errorf("%s: %w", name, fs.ErrExist)
	}
	return nil
}

func (d *memDir) Close() error { return nil }

func TestCreatePathCreatesMissingComponents(t *testing.T) {
	t.Parallel()

	fsys := &memFS{root: newMemDir()}
	got, err := CreatePath(fsys, "/r", "/dev/pts", 0o755)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got != "/r/dev/pts" {
		t.Errorf("expected verified path /r/dev/pts, got %q", got)
	}
	dev, ok := fsys.root.children["dev"]
	if !ok {
		t.Fatal("dev was not created")
	}
	if _, ok := dev.children["pts"]; !ok {
		t.Error("dev/pts was not created")
	}
}

func TestCreatePathReusesExistingDirectories(t *testing.T) {
	t.Parallel()

	root := newMemDir()
	root.children["proc"] = newMemDir()
	fsys := &memFS{root: root}
	got, err := CreatePath(fsys, "/r", "/proc", 0o755)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got != "/r/proc" {
		t.Errorf("expected /r/proc, got %q", got)
	}
}

func TestCreatePathRefusesSymlinkComponent(t *testing.T) {
	t.Parallel()

	root := newMemDir()
	root.children["dev"] = &memNode{kind: "symlink"}
	fsys := &memFS{root: root}
	_, err := CreatePath(fsys, "/r", "/dev/pts", 0o755)
	if !errdefs.IsIsolation(err) {
		t.Fatalf("expected isolation error, got %v", err)
	}
	// Nothing may be created past the failure point.
	if len(root.children) != 1 {
		t.Errorf("expected no new entries in root, got %d", len(root.children))
	}
}

func TestCreatePathRefusesFileComponent(t *testing.T) {
	t.Parallel()

	root := newMemDir()
	root.children["tmp"] = &memNode{kind: "file"}
	fsys := &memFS{root: root}
	_, err := CreatePath(fsys, "/r", "/tmp", 0o755)
	if !errdefs.IsIsolation(err) {
		t.Errorf("expected isolation error for non-directory, got %v", err)
	}
}

func TestCreatePathAbsorbsCreationRace(t *testing.T) {
	t.Parallel()

	fsys := &memFS{root: newMemDir(), mkdirRace: true}
	got, err := CreatePath(fsys, "/r", "/run", 0o755)
	if err != nil {
		t.Fatalf("benign race should be absorbed, got %v", err)
	}
	if got != "/r/run" {
		t.Errorf("expected /r/run, got %q", got)
	}
}

func TestCreatePathRejectsBadTargets(t *testing.T) {
	t.Parallel()

	fsys := &memFS{root: newMemDir()}
	if _, err := CreatePath(fsys, "/r", "relative/path", 0o755); !errdefs.IsValidation(err) {
		t.Errorf("expected validation error for relative target, got %v", err)
	}
	if _, err := CreatePath(fsys, "/r", "/a/../../b", 0o755); !errdefs.IsValidation(err) {
		t.Errorf("expected validation error for parent traversal, got %v", err)
	}
}

func TestCreatePathMissingRoot(t *testing.T) {
	t.Parallel()

	fsys := &memFS{root: &memNode{kind: "symlink"}}
	if _, err := CreatePath(fsys, "/r", "/proc", 0o755); !errdefs.IsIsolation(err) {
		t.Errorf("expected isolation error for symlinked root, got %v", err)
	}
}
