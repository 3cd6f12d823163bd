// Copyright 2026 The Debforge Authors
// SPDX-License-Identifier: Apache-2.0

// Package pipeline runs the three fixed build phases against a
// bootstrapped rootfs: prepare (mount and DNS declarations), provision
// (isolated tasks), and assemble (unisolated finalization). The
// provisioning phase is enclosed by the mount bracket with the DNS
// bracket nested inside; teardown of both is guaranteed on every exit
// path, and teardown failures are merged into the reported error
// without masking the original cause.
package pipeline

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/debforge-project/debforge/isolation"
	"github.com/debforge-project/debforge/lib/errdefs"
	"github.com/debforge-project/debforge/lib/executor"
	"github.com/debforge-project/debforge/lib/privilege"
	"github.com/debforge-project/debforge/lib/safepath"
)

// Pipeline holds the three task lists of a profile.
type Pipeline struct {
	Prepare   []PrepareTask   `yaml:"prepare,omitempty"`
	Provision []ProvisionTask `yaml:"provision,omitempty"`
	Assemble  []AssembleTask  `yaml:"assemble,omitempty"`
}

// ResolvePaths resolves profile-relative file references against the
// profile directory.
func (p *Pipeline) ResolvePaths(baseDir string) {
	for i := range p.Provision {
		p.Provision[i].resolvePaths(baseDir)
	}
	for i := range p.Assemble {
		if a := p.Assemble[i].Archive; a != nil {
			if a.Output != "" && !filepath.IsAbs(a.Output) {
				a.Output = filepath.Join(baseDir, a.Output)
			}
		}
	}
}

// Resolve collapses every task's privilege and isolation setting to a
// terminal value and fills the recipe binary default. It runs once,
// before validation and execution, so later stages never re-interpret
// Inherit or UseDefault.
func (p *Pipeline) Resolve(priv *privilege.Defaults, iso *isolation.Config, recipeBinary string) error {
	for i := range p.Prepare {
		if m := p.Prepare[i].Mount; m != nil {
			if err := m.Privilege.ResolveInPlace(priv); err != nil {
				return fmt.Errorf("prepare task %d (%s): %w", i, p.Prepare[i].Name(), err)
			}
		}
	}
	for i := range p.Provision {
		task := p.Provision[i]
		ps, is := task.settings()
		if ps == nil {
			continue
		}
		if err := ps.ResolveInPlace(priv); err != nil {
			return fmt.Errorf("provision task %d (%s): %w", i, task.Name(), err)
		}
		if err := is.ResolveInPlace(iso); err != nil {
			return fmt.Errorf("provision task %d (%s): %w", i, task.Name(), err)
		}
		if task.Recipe != nil && task.Recipe.Binary == "" {
			task.Recipe.Binary = recipeBinary
		}
	}
	for i := range p.Assemble {
		if r := p.Assemble[i].ResolvConf; r != nil {
			if err := r.Privilege.ResolveInPlace(priv); err != nil {
				return fmt.Errorf("assemble task %d (%s): %w", i, p.Assemble[i].Name(), err)
			}
		}
	}
	return nil
}

// Validate runs every static check: task-local invariants plus the
// phase-ordering constraints. It performs no writes and spawns no
// processes.
func (p *Pipeline) Validate() error {
	mountIdx, resolvIdx := -1, -1
	for i, task := range p.Prepare {
		if err := task.Validate(); err != nil {
			return fmt.Errorf("prepare task %d (%s) validation failed: %w", i, task.Name(), err)
		}
		switch {
		case task.Mount != nil:
			if mountIdx >= 0 {
				return errdefs.Validation("prepare phase declares more than one mount task")
			}
			mountIdx = i
		case task.ResolvConf != nil:
			if resolvIdx >= 0 {
				return errdefs.Validation("prepare phase declares more than one resolv.conf task")
			}
			resolvIdx = i
		}
	}
	if mountIdx >= 0 && resolvIdx >= 0 && resolvIdx < mountIdx {
		return errdefs.Validation("mount tasks must precede resolv.conf tasks in the prepare phase")
	}

	for i, task := range p.Provision {
		if err := task.Validate(); err != nil {
			return fmt.Errorf("provision task %d (%s) validation failed: %w", i, task.Name(), err)
		}
	}

	assembleResolv := 0
	for i, task := range p.Assemble {
		if err := task.Validate(); err != nil {
			return fmt.Errorf("assemble task %d (%s) validation failed: %w", i, task.Name(), err)
		}
		if task.ResolvConf != nil {
			assembleResolv++
			if assembleResolv > 1 {
				return errdefs.Validation("assemble phase declares more than one resolv.conf task")
			}
		}
	}
	return nil
}

// declarations extracts the prepare-phase mount and DNS declarations.
func (p *Pipeline) declarations() (*MountTask, *ResolvConfTask) {
	var mount *MountTask
	var resolv *ResolvConfTask
	for i := range p.Prepare {
		if p.Prepare[i].Mount != nil {
			mount = p.Prepare[i].Mount
		}
		if p.Prepare[i].ResolvConf != nil {
			resolv = p.Prepare[i].ResolvConf
		}
	}
	return mount, resolv
}

// Run executes the provision phase inside its brackets, then the
// assemble phase. The profile must already be resolved and validated.
func (p *Pipeline) Run(rootfs string, runner executor.Runner, fsys safepath.FS) error {
	if err := p.runProvisionPhase(rootfs, runner, fsys); err != nil {
		return err
	}
	for i, task := range p.Assemble {
		slog.Info("running assemble task", "task", task.Name())
		if err := task.execute(rootfs, runner, fsys); err != nil {
			return fmt.Errorf("assemble task %d (%s): %w", i, task.Name(), err)
		}
	}
	return nil
}

// runProvisionPhase raises the mount bracket, then the DNS bracket,
// runs the tasks, and closes both brackets in reverse order. The
// brackets close on every exit path; a task failure stops further
// tasks but never skips teardown.
func (p *Pipeline) runProvisionPhase(rootfs string, runner executor.Runner, fsys safepath.FS) error {
	mountDecl, dnsDecl := p.declarations()

	var mounts *isolation.Mounts
	if mountDecl != nil {
		entries, err := mountDecl.Resolved()
		if err != nil {
			return err
		}
		priv, err := mountDecl.Privilege.Resolved()
		if err != nil {
			return err
		}
		mounts = isolation.NewMounts(rootfs, entries, priv, runner, fsys)
		if err := mounts.Mount(); err != nil {
			return fmt.Errorf("raising mount bracket: %w", err)
		}
		// Backstop sweep for panics and early returns; a normal run
		// has already unmounted by the time this fires.
		defer mounts.Release()
	}

	var dnsCfg *isolation.DNSConfig
	if dnsDecl != nil {
		cfg, err := dnsDecl.DNSConfig()
		if err != nil {
			return mergeTeardown(err, nil, unmountIfSet(mounts))
		}
		dnsCfg = cfg
	}
	resolv := isolation.NewResolvConf(rootfs, dnsCfg, fsys, runner.DryRun())
	if err := resolv.Setup(); err != nil {
		return mergeTeardown(fmt.Errorf("raising DNS bracket: %w", err), nil, unmountIfSet(mounts))
	}

	var runErr error
	for i, task := range p.Provision {
		if err := p.runProvisionTask(i, task, rootfs, runner); err != nil {
			runErr = err
			break
		}
	}

	dnsErr := resolv.Teardown()
	mntErr := unmountIfSet(mounts)
	return mergeTeardown(runErr, dnsErr, mntErr)
}

func unmountIfSet(m *isolation.Mounts) error {
	if m == nil {
		return nil
	}
	return m.Unmount()
}

// runProvisionTask obtains a fresh context for this task alone, runs
// the task, and always tears the context down. All four combinations
// of run and teardown outcome are reported; when both fail the run
// error stays primary.
func (p *Pipeline) runProvisionTask(index int, task ProvisionTask, rootfs string, runner executor.Runner) error {
	_, iso := task.settings()
	if iso == nil {
		return errdefs.Config("provision task %d has no isolation setting", index)
	}
	provider, err := iso.ResolvedProvider()
	if err != nil {
		return fmt.Errorf("provision task %d (%s): %w", index, task.Name(), err)
	}
	ctx, err := provider.Setup(rootfs, runner)
	if err != nil {
		return fmt.Errorf("provision task %d (%s) setup: %w", index, task.Name(), err)
	}
	slog.Info("running provision task", "task", task.Name(), "isolation", provider.Name())

	runErr := task.execute(ctx, runner.DryRun())
	tdErr := ctx.Teardown()
	switch {
	case runErr != nil && tdErr != nil:
		slog.Error("task teardown failed after task error", "task", task.Name(), "error", tdErr)
		return fmt.Errorf("provision task %d (%s): %w; additionally, teardown failed: %v",
			index, task.Name(), runErr, tdErr)
	case runErr != nil:
		return fmt.Errorf("provision task %d (%s): %w", index, task.Name(), runErr)
	case tdErr != nil:
		return fmt.Errorf("provision task %d (%s) teardown: %w", index, task.Name(), tdErr)
	default:
		return nil
	}
}

// mergeTeardown combines a phase error with the bracket teardown
// results. Priority: the in-flight error stays primary, then a DNS
// restore failure, then an unmount failure. Secondary failures are
// logged and appended to the message rather than dropped.
func mergeTeardown(primary, dnsErr, mntErr error) error {
	var secondary []string
	if dnsErr != nil {
		secondary = append(secondary, fmt.Sprintf("restoring resolv.conf: %v", dnsErr))
	}
	if mntErr != nil {
		secondary = append(secondary, fmt.Sprintf("unmounting: %v", mntErr))
	}

	if primary == nil {
		switch {
		case dnsErr != nil && mntErr != nil:
			slog.Error("unmount failed during teardown", "error", mntErr)
			return fmt.Errorf("%w; additionally, teardown failed: unmounting: %v", dnsErr, mntErr)
		case dnsErr != nil:
			return dnsErr
		default:
			return mntErr
		}
	}
	if len(secondary) > 0 {
		for _, s := range secondary {
			slog.Error("teardown failed after phase error", "failure", s)
		}
		return fmt.Errorf("%w; additionally, teardown failed: %s",
			primary, strings.Join(secondary, "; "))
	}
	return primary
}
