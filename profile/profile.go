// Copyright 2026 The Debforge Authors
// SPDX-License-Identifier: Apache-2.0

// Package profile loads and validates build profiles. A profile is one
// YAML document naming the output directory, the defaults applied to
// task settings, the bootstrap backend, and the three task phases.
package profile

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/debforge-project/debforge/bootstrap"
	"github.com/debforge-project/debforge/isolation"
	"github.com/debforge-project/debforge/lib/errdefs"
	"github.com/debforge-project/debforge/lib/privilege"
	"github.com/debforge-project/debforge/pipeline"
)

// Defaults are the profile-level settings tasks resolve against.
type Defaults struct {
	// Privilege, when set, is the escalation method tasks inherit.
	Privilege *privilege.Defaults `yaml:"privilege"`
	// Isolation, when set, is the backend provision tasks inherit.
	Isolation *isolation.Config `yaml:"isolation"`
	// RecipeBinary is the fallback interpreter for recipe tasks,
	// resolved against the profile directory.
	RecipeBinary string `yaml:"recipe_binary"`
}

// Profile is the parsed build profile. Task settings are terminal only
// after ResolveDefaults has run.
type Profile struct {
	// Dir is the rootfs output path, a directory for most backends or
	// an archive path for mmdebstrap packed formats.
	Dir string `yaml:"dir"`

	Defaults  Defaults          `yaml:"defaults"`
	Bootstrap *bootstrap.Config `yaml:"bootstrap"`

	pipeline.Pipeline `yaml:",inline"`
}

// Load reads and parses the profile at path. Unknown fields are
// rejected. Relative paths inside the profile, including Dir and the
// recipe binary, are resolved against the profile file's directory.
func Load(path string) (*Profile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errdefs.IO("opening profile", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	var p Profile
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("parsing profile %s: %w", path, err)
	}

	baseDir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, errdefs.IO("resolving profile directory", err)
	}
	p.resolvePaths(baseDir)
	return &p, nil
}

func (p *Profile) resolvePaths(baseDir string) {
	if p.Dir != "" && !filepath.IsAbs(p.Dir) {
		p.Dir = filepath.Join(baseDir, p.Dir)
	}
	if b := p.Defaults.RecipeBinary; b != "" && !filepath.IsAbs(b) {
		p.Defaults.RecipeBinary = filepath.Join(baseDir, b)
	}
	p.Pipeline.ResolvePaths(baseDir)
}

// ResolveDefaults collapses every task's privilege and isolation
// setting against the profile defaults, in place. It must run before
// Validate so validation only ever sees terminal settings.
func (p *Profile) ResolveDefaults() error {
	if p.Defaults.Privilege != nil && !p.Defaults.Privilege.Method.Valid() {
		return errdefs.Validation("defaults.privilege.method %q is not a supported method", p.Defaults.Privilege.Method)
	}
	if p.Defaults.Isolation != nil {
		if err := p.Defaults.Isolation.Validate(); err != nil {
			return fmt.Errorf("defaults.isolation: %w", err)
		}
	}
	if p.Bootstrap != nil {
		if err := p.Bootstrap.Resolve(p.Defaults.Privilege); err != nil {
			return fmt.Errorf("bootstrap: %w", err)
		}
	}
	return p.Pipeline.Resolve(p.Defaults.Privilege, p.Defaults.Isolation, p.Defaults.RecipeBinary)
}

// Validate runs every static check on the resolved profile. It reads
// declared host files for existence but writes nothing and spawns no
// processes.
func (p *Profile) Validate() error {
	if p.Dir == "" {
		return errdefs.Validation("profile: dir must not be empty")
	}
	if p.Bootstrap == nil {
		return errdefs.Validation("profile: bootstrap section is required")
	}
	if err := p.Bootstrap.Validate(); err != nil {
		return err
	}
	if err := p.validateMountDefaults(); err != nil {
		return err
	}
	return p.Pipeline.Validate()
}

// validateMountDefaults enforces the profile-level constraint on mount
// declarations: mounting needs root through a configured default
// privilege method, and the mounted tree is only reachable from tasks
// when chroot is the default isolation.
func (p *Profile) validateMountDefaults() error {
	hasMount := false
	for i := range p.Prepare {
		if p.Prepare[i].Mount != nil {
			hasMount = true
			break
		}
	}
	if !hasMount {
		return nil
	}
	if p.Defaults.Privilege == nil {
		return errdefs.Validation("declaring mounts requires defaults.privilege.method to be configured")
	}
	if p.Defaults.Isolation == nil {
		return errdefs.Validation("declaring mounts requires defaults.isolation.type to be %q", isolation.Chroot)
	}
	if t := p.Defaults.Isolation.Type; t != "" && t != isolation.Chroot {
		return errdefs.Validation("declaring mounts requires defaults.isolation.type to be %q", isolation.Chroot)
	}
	return nil
}
