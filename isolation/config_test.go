// Copyright 2026 The Debforge Authors
// SPDX-License-Identifier: Apache-2.0

package isolation

import (
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/debforge-project/debforge/lib/errdefs"
)

func TestSettingResolve(t *testing.T) {
	t.Parallel()

	chrootDefault := &Config{Type: Chroot}

	tests := []struct {
		name     string
		setting  Setting
		defaults *Config
		want     *Config
		wantErr  bool
	}{
		{"inherit without default uses chroot", Setting{Kind: Inherit}, nil, &Config{Type: Chroot}, false},
		{"inherit with default", Setting{Kind: Inherit}, chrootDefault, chrootDefault, false},
		{"use-default without default", Setting{Kind: UseDefault}, nil, nil, true},
		{"use-default with default", Setting{Kind: UseDefault}, chrootDefault, chrootDefault, false},
		{"disabled is direct", Setting{Kind: Disabled}, chrootDefault, nil, false},
		{"explicit wins", Setting{Kind: Explicit, Config: Config{Type: Chroot}}, nil, &Config{Type: Chroot}, false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := tt.setting.Resolve(tt.defaults)
			if tt.wantErr {
				if !errdefs.IsValidation(err) {
					t.Fatalf("expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if (got == nil) != (tt.want == nil) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			if got != nil && got.Type != tt.want.Type {
				t.Errorf("expected backend %q, got %q", tt.want.Type, got.Type)
			}
		})
	}
}

func TestResolveInPlaceTerminal(t *testing.T) {
	t.Parallel()

	s := Setting{Kind: Inherit}
	if err := s.ResolveInPlace(nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Kind != Explicit || s.Config.Type != Chroot {
		t.Errorf("expected explicit chroot, got %+v", s)
	}

	s = Setting{Kind: Disabled}
	if err := s.ResolveInPlace(&Config{Type: Chroot}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Kind != Disabled {
		t.Errorf("expected disabled to stay disabled, got %+v", s)
	}
}

func TestResolvedProvider(t *testing.T) {
	t.Parallel()

	p, err := (Setting{Kind: Disabled}).ResolvedProvider()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name() != "direct" {
		t.Errorf("expected direct provider, got %q", p.Name())
	}

	p, err = (Setting{Kind: Explicit, Config: Config{Type: Chroot}}).ResolvedProvider()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name() != "chroot" {
		t.Errorf("expected chroot provider, got %q", p.Name())
	}

	if _, err := (Setting{Kind: Inherit}).ResolvedProvider(); !errdefs.IsConfig(err) {
		t.Errorf("expected config error for unresolved setting, got %v", err)
	}
}

func TestSettingUnmarshalYAML(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want Setting
	}{
		{"true", "isolation: true", Setting{Kind: UseDefault}},
		{"false", "isolation: false", Setting{Kind: Disabled}},
		{"absent", "other: 1", Setting{Kind: Inherit}},
		{"mapping", "isolation: {type: chroot}", Setting{Kind: Explicit, Config: Config{Type: Chroot}}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var doc struct {
				Isolation Setting `yaml:"isolation"`
				Other     int     `yaml:"other"`
			}
			if err := yaml.Unmarshal([]byte(tt.in), &doc); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if doc.Isolation != tt.want {
				t.Errorf("expected %+v, got %+v", tt.want, doc.Isolation)
			}
		})
	}

	var doc struct {
		Isolation Setting `yaml:"isolation"`
	}
	if err := yaml.Unmarshal([]byte("isolation: {type: jail}"), &doc); err == nil {
		t.Error("expected error for unknown backend")
	}
}
