// Copyright 2026 The Debforge Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"fmt"
	"net/netip"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/debforge-project/debforge/isolation"
	"github.com/debforge-project/debforge/lib/errdefs"
	"github.com/debforge-project/debforge/lib/privilege"
)

// PrepareTask is one entry of the prepare phase. Prepare tasks are
// purely descriptive: the lifecycle managers consume their declarations
// and the executor never runs them directly.
type PrepareTask struct {
	Mount      *MountTask
	ResolvConf *ResolvConfTask
}

// Name identifies the task in logs and validation errors.
func (t PrepareTask) Name() string {
	switch {
	case t.Mount != nil:
		return t.Mount.Name()
	case t.ResolvConf != nil:
		return t.ResolvConf.Name()
	default:
		return "unknown"
	}
}

// UnmarshalYAML dispatches on the type field.
func (t *PrepareTask) UnmarshalYAML(node *yaml.Node) error {
	var head struct {
		Type string `yaml:"type"`
	}
	if err := node.Decode(&head); err != nil {
		return err
	}
	switch head.Type {
	case "mount":
		var task MountTask
		if err := node.Decode(&task); err != nil {
			return err
		}
		*t = PrepareTask{Mount: &task}
		return nil
	case "resolv_conf":
		var task ResolvConfTask
		if err := node.Decode(&task); err != nil {
			return err
		}
		*t = PrepareTask{ResolvConf: &task}
		return nil
	case "":
		return fmt.Errorf("prepare task has no type")
	default:
		return fmt.Errorf("unknown prepare task type %q", head.Type)
	}
}

// Validate runs the task-local static checks.
func (t PrepareTask) Validate() error {
	switch {
	case t.Mount != nil:
		return t.Mount.Validate()
	case t.ResolvConf != nil:
		return t.ResolvConf.Validate()
	default:
		return errdefs.Validation("empty prepare task")
	}
}

// MountTask declares the filesystems mounted for the provisioning
// phase: a named preset, custom entries, or both merged.
type MountTask struct {
	Type      string            `yaml:"type"`
	Preset    string            `yaml:"preset,omitempty"`
	Mounts    []isolation.Entry `yaml:"mounts,omitempty"`
	Privilege privilege.Setting `yaml:"privilege,omitempty"`
}

// Name identifies the declaration by what it combines.
func (t MountTask) Name() string {
	switch {
	case t.Preset != "" && len(t.Mounts) > 0:
		return fmt.Sprintf("mount:%s+custom", t.Preset)
	case t.Preset != "":
		return "mount:" + t.Preset
	case len(t.Mounts) > 0:
		return "mount:custom"
	default:
		return "mount:empty"
	}
}

// Resolved merges the preset with the custom entries into the final
// ordered mount list.
func (t MountTask) Resolved() ([]isolation.Entry, error) {
	var preset []isolation.Entry
	if t.Preset != "" {
		p, ok := isolation.Preset(t.Preset)
		if !ok {
			return nil, errdefs.Validation("unknown mount preset %q", t.Preset)
		}
		preset = p
	}
	return isolation.MergeEntries(preset, t.Mounts), nil
}

// Validate checks the declaration: entries must be individually valid,
// targets unique after merging, ordering parent-before-child, and
// bind/plain sources present on the host.
func (t MountTask) Validate() error {
	if t.Preset == "" && len(t.Mounts) == 0 {
		return errdefs.Validation("mount task declares neither a preset nor entries")
	}
	entries, err := t.Resolved()
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if err := e.Validate(); err != nil {
			return err
		}
		if seen[e.Target] {
			return errdefs.Validation("duplicate mount target %q", e.Target)
		}
		seen[e.Target] = true
		if !e.IsPseudo() {
			if err := validateHostFileOrDir("mount source", e.Source); err != nil {
				return err
			}
		}
	}
	return isolation.ValidateOrder(entries)
}

// validateHostFileOrDir checks that a mount source exists on the host.
// Directories are the common case for bind mounts; device nodes and
// files are accepted too.
func validateHostFileOrDir(label, path string) error {
	if _, err := os.Lstat(path); err != nil {
		return errdefs.Validation("%s %q does not exist on the host", label, path)
	}
	return nil
}

// ResolvConfTask declares the temporary DNS configuration installed
// during the provisioning phase: either a copy of the host file or
// content generated from explicit fields.
type ResolvConfTask struct {
	Type        string   `yaml:"type"`
	Copy        bool     `yaml:"copy,omitempty"`
	NameServers []string `yaml:"name_servers,omitempty"`
	Search      []string `yaml:"search,omitempty"`
}

// Name identifies the declaration mode.
func (t ResolvConfTask) Name() string {
	if t.Copy {
		return "resolv_conf:copy"
	}
	return "resolv_conf:generate"
}

// DNSConfig converts the declaration into the lifecycle manager's
// configuration, parsing the nameserver addresses.
func (t ResolvConfTask) DNSConfig() (*isolation.DNSConfig, error) {
	cfg := &isolation.DNSConfig{Copy: t.Copy, Search: t.Search}
	for _, s := range t.NameServers {
		a, err := netip.ParseAddr(s)
		if err != nil {
			return nil, errdefs.Validation("invalid nameserver address %q", s)
		}
		cfg.Nameservers = append(cfg.Nameservers, a)
	}
	return cfg, nil
}

// Validate parses the declaration and applies the resolv.conf format
// limits.
func (t ResolvConfTask) Validate() error {
	cfg, err := t.DNSConfig()
	if err != nil {
		return err
	}
	return cfg.Validate()
}
