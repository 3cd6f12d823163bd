// Copyright 2026 The Debforge Authors
// SPDX-License-Identifier: Apache-2.0

package safepath

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/debforge-project/debforge/lib/errdefs"
)

func TestOSFSCreatePath(t *testing.T) {
	t.Parallel()

	rootfs := t.TempDir()
	got, err := CreatePath(OSFS{}, rootfs, "/dev/pts", 0o755)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got != filepath.Join(rootfs, "dev", "pts") {
		t.Errorf("unexpected verified path %q", got)
	}
	info, err := os.Lstat(got)
	if err != nil {
		t.Fatalf("stat created path: %v", err)
	}
	if !info.IsDir() {
		t.Errorf("created path is not a directory: %v", info.Mode())
	}
}

func TestOSFSRefusesSymlink(t *testing.T) {
	t.Parallel()

	rootfs := t.TempDir()
	outside := t.TempDir()
	if err := os.Symlink(outside, filepath.Join(rootfs, "dev")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	_, err := CreatePath(OSFS{}, rootfs, "/dev/pts", 0o755)
	if !errdefs.IsIsolation(err) {
		t.Fatalf("expected isolation error, got %v", err)
	}
	// The walk must not have followed the link into the outside tree.
	if _, err := os.Lstat(filepath.Join(outside, "pts")); !os.IsNotExist(err) {
		t.Error("traversal escaped through the symlink")
	}
}

func TestOSFSRefusesSymlinkedRoot(t *testing.T) {
	t.Parallel()

	target := t.TempDir()
	link := filepath.Join(t.TempDir(), "rootfs")
	if err := os.Symlink(target, link); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	if _, err := CreatePath(OSFS{}, link, "/proc", 0o755); !errdefs.IsIsolation(err) {
		t.Errorf("expected isolation error for symlinked rootfs, got %v", err)
	}
}
