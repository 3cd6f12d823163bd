// Copyright 2026 The Debforge Authors
// SPDX-License-Identifier: Apache-2.0

package profile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/debforge-project/debforge/isolation"
	"github.com/debforge-project/debforge/lib/errdefs"
	"github.com/debforge-project/debforge/lib/privilege"
)

const fullProfile = `
dir: ./rootfs
defaults:
  privilege: { method: sudo }
  isolation: { type: chroot }
  recipe_binary: ./bin/mitamae
bootstrap:
  type: debootstrap
  suite: bookworm
  privilege: true
prepare:
  - type: mount
    preset: minimal
    privilege: true
  - type: resolv_conf
    name_servers: [1.1.1.1]
provision:
  - type: shell
    content: "apt-get update"
    privilege: true
assemble:
  - type: archive
    output: ./out.tar.zst
`

func writeProfile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "profile.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing profile: %v", err)
	}
	return path
}

func TestLoadResolvesRelativePaths(t *testing.T) {
	t.Parallel()
	path := writeProfile(t, fullProfile)
	p, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	base := filepath.Dir(path)
	if want := filepath.Join(base, "rootfs"); p.Dir != want {
		t.Errorf("expected dir %q, got %q", want, p.Dir)
	}
	if want := filepath.Join(base, "bin/mitamae"); p.Defaults.RecipeBinary != want {
		t.Errorf("expected recipe binary %q, got %q", want, p.Defaults.RecipeBinary)
	}
	if len(p.Assemble) != 1 || p.Assemble[0].Archive == nil {
		t.Fatal("expected one archive assemble task")
	}
	if want := filepath.Join(base, "out.tar.zst"); p.Assemble[0].Archive.Output != want {
		t.Errorf("expected archive output %q, got %q", want, p.Assemble[0].Archive.Output)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeProfile(t, "dir: ./rootfs\nflavour: spicy\n")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "flavour") {
		t.Errorf("expected unknown field error naming flavour, got %v", err)
	}
}

func TestResolveDefaultsCollapsesSettings(t *testing.T) {
	t.Parallel()
	p, err := Load(writeProfile(t, fullProfile))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if err := p.ResolveDefaults(); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	shell := p.Provision[0].Shell
	if shell == nil {
		t.Fatal("expected a shell provision task")
	}
	if shell.Privilege.Kind != privilege.Explicit || shell.Privilege.Method != privilege.Sudo {
		t.Errorf("expected explicit sudo privilege, got %+v", shell.Privilege)
	}
	if shell.Isolation.Kind != isolation.Explicit {
		t.Errorf("expected explicit isolation, got %+v", shell.Isolation)
	}
	mount := p.Prepare[0].Mount
	if mount == nil {
		t.Fatal("expected a mount prepare task")
	}
	if mount.Privilege.Kind != privilege.Explicit || mount.Privilege.Method != privilege.Sudo {
		t.Errorf("expected explicit sudo mount privilege, got %+v", mount.Privilege)
	}
}

func TestResolveDefaultsRejectsBadMethod(t *testing.T) {
	t.Parallel()
	p, err := Load(writeProfile(t, "dir: ./r\ndefaults:\n  privilege: { method: su }\n"))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	err = p.ResolveDefaults()
	if !errdefs.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
	if err == nil || !strings.Contains(err.Error(), "su") {
		t.Errorf("expected error naming the method, got %v", err)
	}
}

func TestValidateRequiresBootstrap(t *testing.T) {
	t.Parallel()
	p, err := Load(writeProfile(t, "dir: ./rootfs\n"))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if err := p.ResolveDefaults(); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	err = p.Validate()
	if err == nil || !strings.Contains(err.Error(), "bootstrap section is required") {
		t.Errorf("expected missing bootstrap error, got %v", err)
	}
}

func TestValidateMountsNeedPrivilegeDefault(t *testing.T) {
	t.Parallel()
	doc := `
dir: ./rootfs
defaults:
  isolation: { type: chroot }
bootstrap:
  type: debootstrap
  suite: bookworm
prepare:
  - type: mount
    preset: minimal
    privilege: { method: sudo }
`
	p, err := Load(writeProfile(t, doc))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if err := p.ResolveDefaults(); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	err = p.Validate()
	if !errdefs.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !strings.Contains(err.Error(), "defaults.privilege.method") {
		t.Errorf("expected error naming defaults.privilege.method, got %v", err)
	}
}

func TestValidateMountsNeedChrootDefault(t *testing.T) {
	t.Parallel()
	doc := `
dir: ./rootfs
defaults:
  privilege: { method: sudo }
bootstrap:
  type: debootstrap
  suite: bookworm
prepare:
  - type: mount
    preset: minimal
    privilege: true
`
	p, err := Load(writeProfile(t, doc))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if err := p.ResolveDefaults(); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	err = p.Validate()
	if !errdefs.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !strings.Contains(err.Error(), "defaults.isolation.type") {
		t.Errorf("expected error naming defaults.isolation.type, got %v", err)
	}
}
