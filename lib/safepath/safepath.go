// Copyright 2026 The Debforge Authors
// SPDX-License-Identifier: Apache-2.0

// Package safepath creates directories inside an untrusted filesystem
// tree without ever following a symlink. The traversal walks one path
// component at a time, opening each component relative to the previous
// directory handle, so a symlink planted between validation and use
// cannot redirect the walk outside the tree.
//
// The filesystem operations sit behind the FS interface so the
// traversal algorithm is testable without real directory trees; the
// production implementation is OSFS on openat(2).
package safepath

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/debforge-project/debforge/lib/errdefs"
)

// Sentinel causes reported by FS implementations. CreatePath uses them
// to tell an unsafe tree apart from an ordinary I/O failure.
var (
	// ErrSymlink means the component is a symbolic link.
	ErrSymlink = errors.New("is a symbolic link")
	// ErrNotDir means the component exists but is not a directory.
	ErrNotDir = errors.New("is not a directory")
)

// Dir is an open handle on one directory. All operations are relative
// to the handle, never to a rebuilt absolute path.
type Dir interface {
	// OpenDir opens the named child as a directory, refusing to
	// follow a symlink. It reports ErrSymlink, ErrNotDir,
	// fs.ErrNotExist, or another error as appropriate.
	OpenDir(name string) (Dir, error)

	// Mkdir creates the named child directory. An fs.ErrExist
	// result is the benign race where another process created it
	// first.
	Mkdir(name string, perm fs.FileMode) error

	Close() error
}

// FS opens the root of a tree for component-wise traversal.
type FS interface {
	// OpenRoot opens path as a directory, refusing to follow a
	// symlink at path itself.
	OpenRoot(path string) (Dir, error)
}

// CreatePath creates every missing directory of target inside rootfs,
// walking component by component and refusing symlinks at every step.
// target must be absolute and free of parent-traversal components. On
// success it returns the verified host path rootfs+target. A symlink
// or non-directory at any step is an isolation error and nothing past
// the failure point is created.
func CreatePath(fsys FS, rootfs, target string, perm fs.FileMode) (string, error) {
	if !filepath.IsAbs(target) {
		return "", errdefs.Validation("mount target %q is not absolute", target)
	}
	for _, part := range strings.Split(target, "/") {
		if part == ".." {
			return "", errdefs.Validation("mount target %q contains a parent-traversal component", target)
		}
	}
	clean := filepath.Clean(target)

	dir, err := fsys.OpenRoot(rootfs)
	if err != nil {
		return "", classify(rootfs, err)
	}

	walked := rootfs
	for _, part := range strings.Split(clean, "/") {
		if part == "" {
			continue
		}
		next, err := openOrCreate(dir, part, perm)
		if err != nil {
			dir.Close()
			return "", classify(filepath.Join(walked, part), err)
		}
		dir.Close()
		dir = next
		walked = filepath.Join(walked, part)
	}
	dir.Close()
	return filepath.Join(rootfs, clean), nil
}

// openOrCreate opens the child directory, creating it when missing.
// A concurrent creation between the failed open and the Mkdir is
// absorbed by re-opening instead of failing on fs.ErrExist.
func openOrCreate(dir Dir, name string, perm fs.FileMode) (Dir, error) {
	next, err := dir.OpenDir(name)
	if err == nil {
		return next, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	if err := dir.Mkdir(name, perm); err != nil && !errors.Is(err, fs.ErrExist) {
		return nil, err
	}
	return dir.OpenDir(name)
}

// classify turns a traversal failure into the right error category:
// symlinks and non-directories are isolation errors, everything else
// is an I/O error.
func classify(path string, err error) error {
	switch {
	case errors.Is(err, ErrSymlink):
		return errdefs.Isolation("refusing to traverse %q: %v (possible symlink attack)", path, ErrSymlink)
	case errors.Is(err, ErrNotDir):
		return errdefs.Isolation("refusing to traverse %q: %v", path, ErrNotDir)
	default:
		return errdefs.IO(fmt.Sprintf("opening %q", path), err)
	}
}
