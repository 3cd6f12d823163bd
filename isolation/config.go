// Copyright 2026 The Debforge Authors
// SPDX-License-Identifier: Apache-2.0

package isolation

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/debforge-project/debforge/lib/errdefs"
)

// Backend names a supported isolation backend.
type Backend string

const (
	// Chroot confines each command with chroot(8).
	Chroot Backend = "chroot"
)

// Config selects and parameterizes an isolation backend. The zero
// value selects chroot.
type Config struct {
	Type Backend `yaml:"type"`
}

// Validate checks that the backend is known.
func (c Config) Validate() error {
	switch c.Type {
	case "", Chroot:
		return nil
	default:
		return errdefs.Validation("unknown isolation type %q (expected %q)", c.Type, Chroot)
	}
}

// Provider returns the provider implementing this configuration.
func (c Config) Provider() (Provider, error) {
	switch c.Type {
	case "", Chroot:
		return ChrootProvider{}, nil
	default:
		return nil, errdefs.Validation("unknown isolation type %q", c.Type)
	}
}

// SettingKind enumerates the four states of a per-task isolation
// setting before resolution.
type SettingKind int

const (
	// Inherit defers to the profile default; with no default
	// configured the task uses the default backend (chroot).
	Inherit SettingKind = iota
	// UseDefault requires a configured profile default.
	UseDefault
	// Disabled runs the task directly, without confinement.
	Disabled
	// Explicit uses the setting's own backend config unchanged.
	Explicit
)

// Setting is a per-task isolation choice. The zero value is Inherit.
//
// The YAML forms accepted are: absent or null (Inherit), true
// (UseDefault), false (Disabled), and a mapping {type: chroot}
// (Explicit).
type Setting struct {
	Kind   SettingKind
	Config Config
}

// UnmarshalYAML collapses boolean/mapping/absent input into the
// four-state value at configuration-load time.
func (s *Setting) UnmarshalYAML(node *yaml.Node) error {
	switch node.Tag {
	case "!!null":
		*s = Setting{Kind: Inherit}
		return nil
	case "!!bool":
		var b bool
		if err := node.Decode(&b); err != nil {
			return err
		}
		if b {
			*s = Setting{Kind: UseDefault}
		} else {
			*s = Setting{Kind: Disabled}
		}
		return nil
	case "!!map":
		var cfg Config
		if err := node.Decode(&cfg); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		*s = Setting{Kind: Explicit, Config: cfg}
		return nil
	default:
		return fmt.Errorf("isolation must be a boolean or a {type: ...} mapping, got %s", node.Tag)
	}
}

// Resolve collapses the setting against the optional profile default.
// A nil result means the task runs directly against the host.
func (s Setting) Resolve(defaults *Config) (*Config, error) {
	switch s.Kind {
	case Inherit:
		if defaults == nil {
			return &Config{Type: Chroot}, nil
		}
		cfg := *defaults
		return &cfg, nil
	case UseDefault:
		if defaults == nil {
			return nil, errdefs.Validation("isolation: true requires defaults.isolation to be configured")
		}
		cfg := *defaults
		return &cfg, nil
	case Disabled:
		return nil, nil
	case Explicit:
		cfg := s.Config
		return &cfg, nil
	default:
		return nil, errdefs.Config("unknown isolation setting kind %d", s.Kind)
	}
}

// ResolveInPlace collapses the setting to a terminal state (Explicit
// or Disabled) so later stages never re-interpret Inherit or
// UseDefault.
func (s *Setting) ResolveInPlace(defaults *Config) error {
	cfg, err := s.Resolve(defaults)
	if err != nil {
		return err
	}
	if cfg == nil {
		*s = Setting{Kind: Disabled}
	} else {
		*s = Setting{Kind: Explicit, Config: *cfg}
	}
	return nil
}

// ResolvedProvider returns the provider for an already-resolved
// setting: the configured backend, or the direct provider when the
// setting is disabled.
func (s Setting) ResolvedProvider() (Provider, error) {
	switch s.Kind {
	case Disabled:
		return DirectProvider{}, nil
	case Explicit:
		return s.Config.Provider()
	default:
		return nil, errdefs.Config("isolation setting was never resolved")
	}
}
