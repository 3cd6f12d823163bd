// Copyright 2026 The Debforge Authors
// SPDX-License-Identifier: Apache-2.0

package isolation

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/debforge-project/debforge/lib/errdefs"
	"github.com/debforge-project/debforge/lib/executor"
	"github.com/debforge-project/debforge/lib/privilege"
	"github.com/debforge-project/debforge/lib/safepath"
)

// pseudoFilesystems are mount sources with no backing device. They
// need a type-qualified mount rather than a device mount.
var pseudoFilesystems = map[string]bool{
	"proc":     true,
	"sysfs":    true,
	"devtmpfs": true,
	"devpts":   true,
	"tmpfs":    true,
	"cgroup2":  true,
}

// Entry describes one filesystem to mount into the rootfs.
type Entry struct {
	// Source is a device path, host directory (bind mounts), or
	// pseudo-filesystem type.
	Source string `yaml:"source"`
	// Target is the mount point inside the rootfs, absolute.
	Target string `yaml:"target"`
	// Options are mount option flags (e.g. bind, ro, nosuid).
	Options []string `yaml:"options,omitempty"`
}

// IsPseudo reports whether the entry mounts a pseudo-filesystem.
func (e Entry) IsPseudo() bool { return pseudoFilesystems[e.Source] }

// IsBind reports whether the entry is a bind mount.
func (e Entry) IsBind() bool {
	for _, o := range e.Options {
		if o == "bind" || o == "rbind" {
			return true
		}
	}
	return false
}

// Validate checks the entry's static invariants.
func (e Entry) Validate() error {
	if e.Source == "" {
		return errdefs.Validation("mount entry for %q has no source", e.Target)
	}
	if !filepath.IsAbs(e.Target) {
		return errdefs.Validation("mount target %q is not absolute", e.Target)
	}
	for _, part := range strings.Split(e.Target, "/") {
		if part == ".." {
			return errdefs.Validation("mount target %q contains a parent-traversal component", e.Target)
		}
	}
	return nil
}

// Spec builds the mount invocation for the entry against the verified
// mount point path.
func (e Entry) Spec(path string, priv *privilege.Method) executor.Spec {
	var args []string
	switch {
	case e.IsPseudo():
		args = []string{"-t", e.Source, e.Source, path}
		if opts := e.optionList(nil); opts != "" {
			args = append(args, "-o", opts)
		}
	case e.IsBind():
		flag := "--bind"
		for _, o := range e.Options {
			if o == "rbind" {
				flag = "--rbind"
			}
		}
		args = []string{flag, e.Source, path}
		if opts := e.optionList(map[string]bool{"bind": true, "rbind": true}); opts != "" {
			args = append(args, "-o", opts)
		}
	default:
		args = []string{e.Source, path}
		if opts := e.optionList(nil); opts != "" {
			args = append(args, "-o", opts)
		}
	}
	return executor.Spec{Command: "mount", Args: args, Privilege: priv}
}

func (e Entry) optionList(skip map[string]bool) string {
	var kept []string
	for _, o := range e.Options {
		if !skip[o] {
			kept = append(kept, o)
		}
	}
	return strings.Join(kept, ",")
}

// Preset returns the named ordered bundle of mount entries.
func Preset(name string) ([]Entry, bool) {
	switch name {
	case "minimal":
		return []Entry{
			{Source: "proc", Target: "/proc"},
			{Source: "sysfs", Target: "/sys"},
		}, true
	case "recommends":
		return []Entry{
			{Source: "proc", Target: "/proc"},
			{Source: "sysfs", Target: "/sys"},
			{Source: "devtmpfs", Target: "/dev"},
			{Source: "devpts", Target: "/dev/pts"},
			{Source: "tmpfs", Target: "/tmp"},
			{Source: "tmpfs", Target: "/run"},
		}, true
	default:
		return nil, false
	}
}

// MergeEntries combines preset entries with custom entries. A custom
// entry sharing a target with a preset entry replaces it in place;
// the remaining custom entries are appended in declaration order.
func MergeEntries(preset, custom []Entry) []Entry {
	merged := make([]Entry, len(preset))
	copy(merged, preset)
	used := make([]bool, len(custom))
	for i, p := range merged {
		for j, c := range custom {
			if !used[j] && c.Target == p.Target {
				merged[i] = c
				used[j] = true
				break
			}
		}
	}
	for j, c := range custom {
		if !used[j] {
			merged = append(merged, c)
		}
	}
	return merged
}

// ValidateOrder enforces parent-before-child declaration: a target
// must not appear before a target that is its strict parent directory.
func ValidateOrder(entries []Entry) error {
	for i := 0; i < len(entries); i++ {
		for j := i + 1; j < len(entries); j++ {
			if isStrictParent(entries[j].Target, entries[i].Target) {
				return errdefs.Validation(
					"mount target %q must be declared before its child %q",
					entries[j].Target, entries[i].Target)
			}
		}
	}
	return nil
}

// isStrictParent reports whether parent is a strict ancestor directory
// of child.
func isStrictParent(parent, child string) bool {
	parent = filepath.Clean(parent)
	child = filepath.Clean(child)
	if parent == child {
		return false
	}
	if parent == "/" {
		return true
	}
	return strings.HasPrefix(child, parent+"/")
}

// applied records one successfully mounted entry together with the
// verified mount point path, reused at unmount time without
// re-traversal.
type applied struct {
	entry Entry
	path  string
}

// Mounts is the mount lifecycle bracket around the provisioning
// phase. Mount points are created with symlink-refusing traversal,
// entries are mounted in declared order and unmounted in reverse, and
// teardown runs exactly once per run with a best-effort sweep as the
// backstop.
type Mounts struct {
	rootfs   string
	entries  []Entry
	priv     *privilege.Method
	runner   executor.Runner
	fsys     safepath.FS
	applied  []applied
	tornDown bool
}

// NewMounts builds the bracket. The privilege method must already be
// resolved; fsys is the traversal capability (safepath.OSFS{} in
// production).
func NewMounts(rootfs string, entries []Entry, priv *privilege.Method, runner executor.Runner, fsys safepath.FS) *Mounts {
	return &Mounts{
		rootfs:  rootfs,
		entries: entries,
		priv:    priv,
		runner:  runner,
		fsys:    fsys,
	}
}

// Mount applies every entry in declared order. On a mid-sequence
// failure the already-applied entries are unwound best-effort before
// the error propagates.
func (m *Mounts) Mount() error {
	for _, entry := range m.entries {
		path, err := m.mountPoint(entry)
		if err != nil {
			m.unwind()
			return err
		}
		spec := entry.Spec(path, m.priv)
		result, err := m.runner.Run(spec)
		if err == nil {
			err = executor.Check(spec, result)
		}
		if err != nil {
			m.unwind()
			return fmt.Errorf("mounting %q on %q: %w", entry.Source, entry.Target, err)
		}
		m.applied = append(m.applied, applied{entry: entry, path: path})
		slog.Debug("mounted", "source", entry.Source, "target", path)
	}
	return nil
}

// mountPoint resolves and creates the entry's mount point. Under
// dry-run nothing is created and the unverified join is used for the
// recorded invocation.
func (m *Mounts) mountPoint(entry Entry) (string, error) {
	if m.runner.DryRun() {
		return filepath.Join(m.rootfs, entry.Target), nil
	}
	return safepath.CreatePath(m.fsys, m.rootfs, entry.Target, 0o755)
}

// Unmount tears the bracket down, walking recorded paths in reverse
// order. It is idempotent: the second call does nothing and reports no
// error. Failures across entries are aggregated rather than
// short-circuiting; failed entries stay recorded so the Release sweep
// can retry them.
func (m *Mounts) Unmount() error {
	if m.tornDown {
		return nil
	}
	m.tornDown = true
	return m.unmountApplied()
}

// Release is the automatic best-effort sweep for scopes that end
// without explicit teardown. It never returns an error; failures are
// logged and must not abort the process.
func (m *Mounts) Release() {
	if len(m.applied) == 0 {
		return
	}
	if err := m.unmountApplied(); err != nil {
		slog.Error("mount sweep failed", "error", err)
	}
}

func (m *Mounts) unwind() {
	if err := m.unmountApplied(); err != nil {
		slog.Error("unwinding partial mounts failed", "error", err)
	}
}

// unmountApplied unmounts recorded entries in reverse, reusing the
// verified paths without re-traversal. Entries that fail remain in the
// applied list.
func (m *Mounts) unmountApplied() error {
	var failed []applied
	var failures []string
	for i := len(m.applied) - 1; i >= 0; i-- {
		a := m.applied[i]
		spec := executor.Spec{Command: "umount", Args: []string{a.path}, Privilege: m.priv}
		result, err := m.runner.Run(spec)
		if err == nil {
			err = executor.Check(spec, result)
		}
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", a.path, err))
			failed = append(failed, a)
			continue
		}
		slog.Debug("unmounted", "target", a.path)
	}
	// Preserve declaration order for a later retry.
	for i, j := 0, len(failed)-1; i < j; i, j = i+1, j-1 {
		failed[i], failed[j] = failed[j], failed[i]
	}
	m.applied = failed
	if len(failures) > 0 {
		return errdefs.Isolation("failed to unmount %d filesystem(s): %s",
			len(failures), strings.Join(failures, "; "))
	}
	return nil
}
