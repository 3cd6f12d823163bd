// Copyright 2026 The Debforge Authors
// SPDX-License-Identifier: Apache-2.0

package isolation

import (
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/debforge-project/debforge/lib/errdefs"
	"github.com/debforge-project/debforge/lib/safepath"
)

func addr(t *testing.T, s string) netip.Addr {
	t.Helper()
	a, err := netip.ParseAddr(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return a
}

func TestDNSConfigGenerate(t *testing.T) {
	t.Parallel()

	cfg := DNSConfig{
		Nameservers: []netip.Addr{addr(t, "8.8.8.8"), addr(t, "8.8.4.4")},
		Search:      []string{"example.com"},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	got := cfg.Generate()
	want := "# Generated by debforge\nnameserver 8.8.8.8\nnameserver 8.8.4.4\nsearch example.com\n"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestDNSConfigGenerateNoSearch(t *testing.T) {
	t.Parallel()

	cfg := DNSConfig{Nameservers: []netip.Addr{addr(t, "1.1.1.1")}}
	got := cfg.Generate()
	if strings.Contains(got, "search") {
		t.Errorf("expected no search line, got %q", got)
	}
}

func TestDNSConfigValidate(t *testing.T) {
	t.Parallel()

	four := []netip.Addr{
		addr(t, "1.1.1.1"), addr(t, "2.2.2.2"), addr(t, "3.3.3.3"), addr(t, "4.4.4.4"),
	}
	tests := []struct {
		name    string
		cfg     DNSConfig
		wantErr bool
	}{
		{"copy alone", DNSConfig{Copy: true}, false},
		{"copy with nameservers", DNSConfig{Copy: true, Nameservers: four[:1]}, true},
		{"empty", DNSConfig{}, true},
		{"three nameservers", DNSConfig{Nameservers: four[:3]}, false},
		{"four nameservers", DNSConfig{Nameservers: four}, true},
		{"seven search domains", DNSConfig{Nameservers: four[:1],
			Search: []string{"a", "b", "c", "d", "e", "f", "g"}}, true},
		{"oversized search line", DNSConfig{Nameservers: four[:1],
			Search: []string{strings.Repeat("x", 300)}}, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if tt.wantErr {
				if !errdefs.IsValidation(err) {
					t.Errorf("expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}

	// The empty-config error must point at the missing field.
	if err := (DNSConfig{}).Validate(); err == nil || !strings.Contains(err.Error(), "name_servers") {
		t.Errorf("empty config error should mention name_servers, got %v", err)
	}
}

func newRootfs(t *testing.T) string {
	t.Helper()
	rootfs := t.TempDir()
	if err := os.Mkdir(filepath.Join(rootfs, "etc"), 0o755); err != nil {
		t.Fatalf("mkdir etc: %v", err)
	}
	return rootfs
}

func TestResolvConfSetupTeardownRestoresOriginal(t *testing.T) {
	t.Parallel()

	rootfs := newRootfs(t)
	work := filepath.Join(rootfs, "etc", "resolv.conf")
	if err := os.WriteFile(work, []byte("nameserver 127.0.0.53\n"), 0o644); err != nil {
		t.Fatalf("seed resolv.conf: %v", err)
	}

	cfg := &DNSConfig{Nameservers: []netip.Addr{addr(t, "9.9.9.9")}}
	r := NewResolvConf(rootfs, cfg, safepath.OSFS{}, false)
	if err := r.Setup(); err != nil {
		t.Fatalf("setup: %v", err)
	}

	installed, err := os.ReadFile(work)
	if err != nil {
		t.Fatalf("read installed: %v", err)
	}
	if !strings.Contains(string(installed), "nameserver 9.9.9.9") {
		t.Errorf("installed content wrong: %q", installed)
	}
	if _, err := os.Lstat(filepath.Join(rootfs, "etc", backupName)); err != nil {
		t.Errorf("backup not created: %v", err)
	}

	if err := r.Teardown(); err != nil {
		t.Fatalf("teardown: %v", err)
	}
	restored, err := os.ReadFile(work)
	if err != nil {
		t.Fatalf("read restored: %v", err)
	}
	if string(restored) != "nameserver 127.0.0.53\n" {
		t.Errorf("original content not restored: %q", restored)
	}
	if _, err := os.Lstat(filepath.Join(rootfs, "etc", backupName)); !os.IsNotExist(err) {
		t.Error("backup file still present after teardown")
	}

	if err := r.Teardown(); err != nil {
		t.Errorf("second teardown must be a no-op, got %v", err)
	}
}

func TestResolvConfSetupWithoutExistingFile(t *testing.T) {
	t.Parallel()

	rootfs := newRootfs(t)
	cfg := &DNSConfig{Nameservers: []netip.Addr{addr(t, "9.9.9.9")}}
	r := NewResolvConf(rootfs, cfg, safepath.OSFS{}, false)
	if err := r.Setup(); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := r.Teardown(); err != nil {
		t.Fatalf("teardown: %v", err)
	}
	if _, err := os.Lstat(filepath.Join(rootfs, "etc", "resolv.conf")); !os.IsNotExist(err) {
		t.Error("teardown should remove the installed file when nothing existed before")
	}
}

func TestResolvConfCopyMode(t *testing.T) {
	t.Parallel()

	rootfs := newRootfs(t)
	host := filepath.Join(t.TempDir(), "resolv.conf")
	if err := os.WriteFile(host, []byte("nameserver 10.0.0.1\n"), 0o644); err != nil {
		t.Fatalf("write host file: %v", err)
	}

	r := NewResolvConf(rootfs, &DNSConfig{Copy: true}, safepath.OSFS{}, false)
	r.HostPath = host
	if err := r.Setup(); err != nil {
		t.Fatalf("setup: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(rootfs, "etc", "resolv.conf"))
	if err != nil {
		t.Fatalf("read installed: %v", err)
	}
	if string(got) != "nameserver 10.0.0.1\n" {
		t.Errorf("expected host content copied, got %q", got)
	}
}

func TestResolvConfStaleBackupFailsFast(t *testing.T) {
	t.Parallel()

	rootfs := newRootfs(t)
	stale := filepath.Join(rootfs, "etc", backupName)
	if err := os.WriteFile(stale, []byte("old\n"), 0o644); err != nil {
		t.Fatalf("write stale backup: %v", err)
	}

	cfg := &DNSConfig{Nameservers: []netip.Addr{addr(t, "9.9.9.9")}}
	r := NewResolvConf(rootfs, cfg, safepath.OSFS{}, false)
	err := r.Setup()
	if !errdefs.IsIsolation(err) {
		t.Fatalf("expected isolation error for stale backup, got %v", err)
	}
	// The stale backup must not have been overwritten.
	got, _ := os.ReadFile(stale)
	if string(got) != "old\n" {
		t.Errorf("stale backup was modified: %q", got)
	}
}

func TestResolvConfRefusesSymlinkedEtc(t *testing.T) {
	t.Parallel()

	rootfs := t.TempDir()
	outside := t.TempDir()
	if err := os.Symlink(outside, filepath.Join(rootfs, "etc")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	cfg := &DNSConfig{Nameservers: []netip.Addr{addr(t, "9.9.9.9")}}
	r := NewResolvConf(rootfs, cfg, safepath.OSFS{}, false)
	if err := r.Setup(); !errdefs.IsIsolation(err) {
		t.Errorf("expected isolation error for symlinked etc, got %v", err)
	}
}

func TestResolvConfValidationBeforeWrite(t *testing.T) {
	t.Parallel()

	rootfs := newRootfs(t)
	four := []netip.Addr{
		addr(t, "1.1.1.1"), addr(t, "2.2.2.2"), addr(t, "3.3.3.3"), addr(t, "4.4.4.4"),
	}
	r := NewResolvConf(rootfs, &DNSConfig{Nameservers: four}, safepath.OSFS{}, false)
	if err := r.Setup(); !errdefs.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := os.Lstat(filepath.Join(rootfs, "etc", "resolv.conf")); !os.IsNotExist(err) {
		t.Error("nothing may be written when validation fails")
	}
}

func TestResolvConfDryRunTouchesNothing(t *testing.T) {
	t.Parallel()

	rootfs := newRootfs(t)
	cfg := &DNSConfig{Nameservers: []netip.Addr{addr(t, "9.9.9.9")}}
	r := NewResolvConf(rootfs, cfg, safepath.OSFS{}, true)
	if err := r.Setup(); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if _, err := os.Lstat(filepath.Join(rootfs, "etc", "resolv.conf")); !os.IsNotExist(err) {
		t.Error("dry run must not write the resolver file")
	}
	if err := r.Teardown(); err != nil {
		t.Errorf("dry-run teardown: %v", err)
	}
}

func TestResolvConfNilConfigIsNoop(t *testing.T) {
	t.Parallel()

	r := NewResolvConf(t.TempDir(), nil, safepath.OSFS{}, false)
	if err := r.Setup(); err != nil {
		t.Errorf("setup: %v", err)
	}
	if err := r.Teardown(); err != nil {
		t.Errorf("teardown: %v", err)
	}
}
