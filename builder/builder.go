// Copyright 2026 The Debforge Authors
// SPDX-License-Identifier: Apache-2.0

// Package builder orchestrates a full build: bootstrap the rootfs,
// then run the prepare, provision, and assemble phases against it.
package builder

import (
	"log/slog"

	"github.com/debforge-project/debforge/lib/executor"
	"github.com/debforge-project/debforge/lib/safepath"
	"github.com/debforge-project/debforge/profile"
)

// Options control how Apply runs.
type Options struct {
	// DryRun logs and records every command without executing
	// anything and without touching the filesystem.
	DryRun bool

	// Runner overrides the command runner. When nil, Apply picks the
	// local runner, or the recording runner under DryRun.
	Runner executor.Runner

	// FS overrides the filesystem capability used for symlink-safe
	// traversal inside the rootfs. When nil the host filesystem is
	// used.
	FS safepath.FS
}

func (o Options) runner() executor.Runner {
	if o.Runner != nil {
		return o.Runner
	}
	if o.DryRun {
		return new(executor.Recorder)
	}
	return new(executor.Local)
}

func (o Options) fs() safepath.FS {
	if o.FS != nil {
		return o.FS
	}
	return safepath.OSFS{}
}

// Validate resolves the profile's defaults and runs every static
// check. It reads declared host files for existence but writes nothing
// and spawns no processes.
func Validate(p *profile.Profile) error {
	if err := p.ResolveDefaults(); err != nil {
		return err
	}
	return p.Validate()
}

// Apply builds the profile end to end: validation, bootstrap, then the
// three pipeline phases. When the bootstrap backend packs its output
// into an archive there is no directory tree to provision, so the
// pipeline phases are skipped with a warning.
func Apply(p *profile.Profile, opts Options) error {
	if err := Validate(p); err != nil {
		return err
	}

	runner := opts.runner()
	if err := p.Bootstrap.Run(p.Dir, runner); err != nil {
		return err
	}

	if !p.Bootstrap.OutputIsDirectory(p.Dir) {
		if len(p.Prepare)+len(p.Provision)+len(p.Assemble) > 0 {
			slog.Warn("bootstrap output is not a directory; skipping pipeline phases", "output", p.Dir)
		}
		return nil
	}
	return p.Pipeline.Run(p.Dir, runner, opts.fs())
}
