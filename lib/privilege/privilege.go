// Copyright 2026 The Debforge Authors
// SPDX-License-Identifier: Apache-2.0

// Package privilege models optional privilege escalation for spawned
// commands. A profile configures at most one default escalation method;
// each task carries a four-state setting that resolves against that
// default to a terminal value before the pipeline runs.
package privilege

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/debforge-project/debforge/lib/errdefs"
)

// Method is a supported privilege escalation command.
type Method string

const (
	// Sudo escalates through sudo.
	Sudo Method = "sudo"
	// Doas escalates through doas.
	Doas Method = "doas"
)

// Command returns the executable name used to escalate.
func (m Method) Command() string { return string(m) }

// Valid reports whether m names a supported method.
func (m Method) Valid() bool { return m == Sudo || m == Doas }

// ParseMethod converts a configuration string to a Method.
func ParseMethod(s string) (Method, error) {
	m := Method(s)
	if !m.Valid() {
		return "", errdefs.Validation("unknown privilege method %q (expected %q or %q)", s, Sudo, Doas)
	}
	return m, nil
}

// Kind enumerates the four states a per-task privilege setting can be
// in before resolution.
type Kind int

const (
	// Inherit defers to the profile default; with no default
	// configured the task runs without escalation.
	Inherit Kind = iota
	// UseDefault requires the profile default and fails resolution
	// when none is configured.
	UseDefault
	// Disabled runs the task without escalation regardless of the
	// profile default.
	Disabled
	// Explicit uses the setting's own method unchanged.
	Explicit
)

// Defaults is the profile-level privilege configuration.
type Defaults struct {
	Method Method `yaml:"method"`
}

// Setting is a per-task privilege choice. The zero value is Inherit.
//
// The YAML forms accepted are: absent or null (Inherit), true
// (UseDefault), false (Disabled), and a mapping {method: sudo|doas}
// (Explicit).
type Setting struct {
	Kind   Kind
	Method Method
}

// UnmarshalYAML implements the boolean/mapping/absent collapse. It is
// the single parse step that turns profile input into the four-state
// value used everywhere downstream.
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
		var raw struct {
			Method string `yaml:"method"`
		}
		if err := node.Decode(&raw); err != nil {
			return err
		}
		m, err := ParseMethod(raw.Method)
		if err != nil {
			return err
		}
		*s = Setting{Kind: Explicit, Method: m}
		return nil
	default:
		return fmt.Errorf("privilege must be a boolean or a {method: ...} mapping, got %s", node.Tag)
	}
}

// Resolve collapses the setting against the optional profile default,
// returning nil for no escalation or the terminal method.
func (s Setting) Resolve(defaults *Defaults) (*Method, error) {
	switch s.Kind {
	case Inherit:
		if defaults == nil {
			return nil, nil
		}
		m := defaults.Method
		return &m, nil
	case UseDefault:
		if defaults == nil {
			return nil, errdefs.Validation("privilege: true requires defaults.privilege.method to be configured")
		}
		m := defaults.Method
		return &m, nil
	case Disabled:
		return nil, nil
	case Explicit:
		m := s.Method
		return &m, nil
	default:
		return nil, errdefs.Config("unknown privilege setting kind %d", s.Kind)
	}
}

// ResolveInPlace collapses the setting to a terminal state (Explicit or
// Disabled) so later stages never see Inherit or UseDefault.
func (s *Setting) ResolveInPlace(defaults *Defaults) error {
	m, err := s.Resolve(defaults)
	if err != nil {
		return err
	}
	if m == nil {
		*s = Setting{Kind: Disabled}
	} else {
		*s = Setting{Kind: Explicit, Method: *m}
	}
	return nil
}

// Resolved returns the terminal method of an already-resolved setting,
// or nil when the task runs without escalation. Calling it on an
// unresolved setting is a configuration error.
func (s Setting) Resolved() (*Method, error) {
	switch s.Kind {
	case Disabled:
		return nil, nil
	case Explicit:
		m := s.Method
		return &m, nil
	default:
		return nil, errdefs.Config("privilege setting was never resolved")
	}
}
