// Copyright 2026 The Debforge Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/debforge-project/debforge/lib/errdefs"
	"github.com/debforge-project/debforge/lib/executor"
)

// uniqueName builds an unpredictable file name so tasks never collide
// with files an adversarial rootfs might have planted in /tmp.
func uniqueName(prefix, suffix string) string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("reading random bytes: " + err.Error())
	}
	return prefix + hex.EncodeToString(b[:]) + suffix
}

// tempFile owns the lifetime of one file written into the target
// filesystem. Remove runs on every exit path of the owning scope.
type tempFile struct {
	path   string
	dryRun bool
}

// Remove deletes the file. A file that never came into existence is
// not an error.
func (g *tempFile) Remove() {
	if g.dryRun || g.path == "" {
		return
	}
	if err := os.Remove(g.path); err != nil && !os.IsNotExist(err) {
		slog.Error("removing temporary file", "path", g.path, "error", err)
	}
}

// validateNoParentDirs rejects paths that climb out of their base
// directory.
func validateNoParentDirs(label, path string) error {
	for _, part := range strings.Split(path, "/") {
		if part == ".." {
			return errdefs.Validation("%s path %q contains a parent-traversal component", label, path)
		}
	}
	return nil
}

// validateHostFile checks that a profile-referenced host file exists
// and is a regular file. Symlinks are rejected so the profile cannot
// be redirected after review.
func validateHostFile(label, path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return errdefs.Validation("%s file %q does not exist", label, path)
		}
		return errdefs.IO(fmt.Sprintf("checking %s file %q", label, path), err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return errdefs.Validation("%s file %q is a symbolic link", label, path)
	}
	if !info.Mode().IsRegular() {
		return errdefs.Validation("%s file %q is not a regular file", label, path)
	}
	return nil
}

// checkTmpDir verifies that the rootfs has a real /tmp directory. A
// missing /tmp means the rootfs was never bootstrapped; a symlinked
// /tmp would redirect task files outside the rootfs.
func checkTmpDir(rootfs string) error {
	path := filepath.Join(rootfs, "tmp")
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return errdefs.Validation(
				"%q does not exist; the rootfs may not be properly bootstrapped", path)
		}
		return errdefs.IO(fmt.Sprintf("checking %q", path), err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return errdefs.Isolation("%q is a symbolic link (possible symlink attack)", path)
	}
	if !info.IsDir() {
		return errdefs.Isolation("%q is not a directory", path)
	}
	return nil
}

// writeRootfsFile writes content to a freshly validated path inside
// the rootfs. The existence re-check immediately before the exclusive
// create narrows the window between validation and use; O_EXCL makes
// the final step atomic.
func writeRootfsFile(path string, content []byte, mode os.FileMode) error {
	if _, err := os.Lstat(path); err == nil {
		return errdefs.Isolation("%q already exists; refusing to overwrite", path)
	} else if !os.IsNotExist(err) {
		return errdefs.IO(fmt.Sprintf("checking %q", path), err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode)
	if err != nil {
		return errdefs.IO(fmt.Sprintf("creating %q", path), err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		return errdefs.IO(fmt.Sprintf("writing %q", path), err)
	}
	return errdefs.IO(fmt.Sprintf("closing %q", path), f.Close())
}

// sourceName names a script/content pair for logs and errors: the
// file's base name without extension, or "inline" for embedded
// content.
func sourceName(script string) string {
	if script == "" {
		return "inline"
	}
	base := filepath.Base(script)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// checkResult converts a completed in-context invocation into an
// error when it did not succeed.
func checkResult(desc string, result executor.Result) error {
	if result.Success() {
		return nil
	}
	if result.Status < 0 {
		return errdefs.Execution(desc+" (terminated by signal)", result.Status)
	}
	return errdefs.Execution(desc, result.Status)
}
