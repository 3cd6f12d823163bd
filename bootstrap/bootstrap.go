// Copyright 2026 The Debforge Authors
// SPDX-License-Identifier: Apache-2.0

// Package bootstrap creates the initial Debian rootfs by invoking an
// external bootstrap tool. Two backends are supported: mmdebstrap and
// debootstrap. The backend only produces the base filesystem tree; all
// further customization happens in the pipeline phases.
package bootstrap

import (
	"fmt"
	"log/slog"
	"path"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/debforge-project/debforge/lib/errdefs"
	"github.com/debforge-project/debforge/lib/executor"
	"github.com/debforge-project/debforge/lib/privilege"
)

// archiveExtensions lists the output extensions mmdebstrap produces as
// a packed image instead of a directory tree. Provisioning requires a
// directory, so these outputs skip the pipeline phases.
var archiveExtensions = []string{
	".tar", ".gz", ".bz2", ".xz", ".zst", ".squashfs", ".ext2", ".img",
}

// Config selects and configures a bootstrap backend. Exactly one
// backend field is set, chosen by the "type" key in YAML.
type Config struct {
	Mmdebstrap  *Mmdebstrap
	Debootstrap *Debootstrap
}

func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	var kind struct {
		Type string `yaml:"type"`
	}
	if err := value.Decode(&kind); err != nil {
		return err
	}
	switch kind.Type {
	case "mmdebstrap":
		c.Mmdebstrap = new(Mmdebstrap)
		return value.Decode(c.Mmdebstrap)
	case "debootstrap":
		c.Debootstrap = new(Debootstrap)
		return value.Decode(c.Debootstrap)
	case "":
		return fmt.Errorf("bootstrap: missing type")
	default:
		return fmt.Errorf("bootstrap: unknown type %q", kind.Type)
	}
}

// Validate checks the selected backend's configuration.
func (c *Config) Validate() error {
	switch {
	case c.Mmdebstrap != nil:
		return c.Mmdebstrap.Validate()
	case c.Debootstrap != nil:
		return c.Debootstrap.Validate()
	default:
		return errdefs.Validation("bootstrap: no backend configured")
	}
}

// Resolve applies the privilege defaults to the selected backend.
func (c *Config) Resolve(defaults *privilege.Defaults) error {
	switch {
	case c.Mmdebstrap != nil:
		return c.Mmdebstrap.Privilege.ResolveInPlace(defaults)
	case c.Debootstrap != nil:
		return c.Debootstrap.Privilege.ResolveInPlace(defaults)
	default:
		return errdefs.Validation("bootstrap: no backend configured")
	}
}

// OutputIsDirectory reports whether the backend writes the rootfs as a
// directory at the given target. mmdebstrap packs the output when the
// target carries an archive extension; debootstrap always produces a
// directory.
func (c *Config) OutputIsDirectory(target string) bool {
	if c.Mmdebstrap == nil {
		return true
	}
	ext := strings.ToLower(path.Ext(target))
	for _, known := range archiveExtensions {
		if ext == known {
			return false
		}
	}
	return true
}

// Run invokes the backend to populate target. The target directory (or
// archive path) must not already contain a rootfs; the tool itself
// rejects non-empty targets.
func (c *Config) Run(target string, runner executor.Runner) error {
	var (
		spec executor.Spec
		err  error
	)
	switch {
	case c.Mmdebstrap != nil:
		spec, err = c.Mmdebstrap.spec(target)
	case c.Debootstrap != nil:
		spec, err = c.Debootstrap.spec(target)
	default:
		return errdefs.Validation("bootstrap: no backend configured")
	}
	if err != nil {
		return err
	}
	slog.Info("bootstrapping rootfs", "command", spec.Command, "target", target)
	result, err := runner.Run(spec)
	if err != nil {
		return err
	}
	return executor.Check(spec, result)
}

// Mmdebstrap configures the mmdebstrap backend.
type Mmdebstrap struct {
	Suite          string            `yaml:"suite"`
	Mirrors        []string          `yaml:"mirrors"`
	Mode           string            `yaml:"mode"`
	Format         string            `yaml:"format"`
	Variant        string            `yaml:"variant"`
	Architectures  []string          `yaml:"architectures"`
	Components     []string          `yaml:"components"`
	Include        []string          `yaml:"include"`
	Keyrings       []string          `yaml:"keyrings"`
	AptOptions     []string          `yaml:"apt_options"`
	DpkgOptions    []string          `yaml:"dpkg_options"`
	SetupHooks     []string          `yaml:"setup_hooks"`
	ExtractHooks   []string          `yaml:"extract_hooks"`
	EssentialHooks []string          `yaml:"essential_hooks"`
	CustomizeHooks []string          `yaml:"customize_hooks"`
	Privilege      privilege.Setting `yaml:"privilege"`
}

func (m *Mmdebstrap) Validate() error {
	if m.Suite == "" {
		return errdefs.Validation("mmdebstrap: suite must not be empty")
	}
	switch m.Mode {
	case "", "auto", "sudo", "root", "unshare", "fakechroot", "chrootless":
	default:
		return errdefs.Validation("mmdebstrap: unknown mode %q", m.Mode)
	}
	return nil
}

func (m *Mmdebstrap) spec(target string) (executor.Spec, error) {
	priv, err := m.Privilege.Resolved()
	if err != nil {
		return executor.Spec{}, err
	}
	var b argsBuilder
	b.flagEq("--mode", m.Mode)
	b.flagEq("--format", m.Format)
	b.flagEq("--variant", m.Variant)
	b.flagEqJoined("--architectures", m.Architectures)
	b.flagEqJoined("--components", m.Components)
	b.flagEqJoined("--include", m.Include)
	b.flagEqEach("--keyring", m.Keyrings)
	b.flagEqEach("--aptopt", m.AptOptions)
	b.flagEqEach("--dpkgopt", m.DpkgOptions)
	b.flagEqEach("--setup-hook", m.SetupHooks)
	b.flagEqEach("--essential-hook", m.EssentialHooks)
	b.flagEqEach("--extract-hook", m.ExtractHooks)
	b.flagEqEach("--customize-hook", m.CustomizeHooks)
	b.positional(m.Suite)
	b.positional(target)
	for _, mirror := range m.Mirrors {
		b.positional(mirror)
	}
	return executor.Spec{
		Command:   "mmdebstrap",
		Args:      b.args,
		Privilege: priv,
	}, nil
}

// Debootstrap configures the debootstrap backend.
type Debootstrap struct {
	Suite      string            `yaml:"suite"`
	Mirror     string            `yaml:"mirror"`
	Arch       string            `yaml:"arch"`
	Variant    string            `yaml:"variant"`
	Components []string          `yaml:"components"`
	Include    []string          `yaml:"include"`
	Exclude    []string          `yaml:"exclude"`
	Privilege  privilege.Setting `yaml:"privilege"`
}

func (d *Debootstrap) Validate() error {
	if d.Suite == "" {
		return errdefs.Validation("debootstrap: suite must not be empty")
	}
	return nil
}

func (d *Debootstrap) spec(target string) (executor.Spec, error) {
	priv, err := d.Privilege.Resolved()
	if err != nil {
		return executor.Spec{}, err
	}
	var b argsBuilder
	b.flagEq("--arch", d.Arch)
	b.flagEq("--variant", d.Variant)
	b.flagEqJoined("--components", d.Components)
	b.flagEqJoined("--include", d.Include)
	b.flagEqJoined("--exclude", d.Exclude)
	b.positional(d.Suite)
	b.positional(target)
	if d.Mirror != "" {
		b.positional(d.Mirror)
	}
	return executor.Spec{
		Command:   "debootstrap",
		Args:      b.args,
		Privilege: priv,
	}, nil
}
