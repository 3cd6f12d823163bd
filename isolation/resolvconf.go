// Copyright 2026 The Debforge Authors
// SPDX-License-Identifier: Apache-2.0

package isolation

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"path/filepath"
	"strings"

	"github.com/debforge-project/debforge/lib/errdefs"
	"github.com/debforge-project/debforge/lib/safepath"
)

// Format limits for generated resolv.conf content, checked before any
// write. The resolver reads at most this many entries; silently
// writing more would hide configuration mistakes.
const (
	MaxNameservers   = 3
	MaxSearchDomains = 6
	maxSearchLine    = 256
)

// backupName is the name the pre-existing resolv.conf is parked under
// for the duration of the provisioning phase. Finding one at setup
// time signals an unclean prior shutdown.
const backupName = "resolv.conf.debforge-backup"

// generatedHeader is the first line of generated content.
const generatedHeader = "# Generated by debforge"

// DNSConfig declares the temporary DNS configuration installed for the
// provisioning phase: either a copy of the host's resolv.conf or
// content generated from explicit fields. Copy and Nameservers are
// mutually exclusive.
type DNSConfig struct {
	Copy        bool
	Nameservers []netip.Addr
	Search      []string
}

// Validate checks mutual exclusivity and the format limits.
func (c DNSConfig) Validate() error {
	if c.Copy {
		if len(c.Nameservers) > 0 || len(c.Search) > 0 {
			return errdefs.Validation("resolv.conf: copy and name_servers are mutually exclusive")
		}
		return nil
	}
	if len(c.Nameservers) == 0 {
		return errdefs.Validation("resolv.conf: either copy or name_servers must be configured")
	}
	if len(c.Nameservers) > MaxNameservers {
		return errdefs.Validation("resolv.conf: at most %d nameserver entries are supported, got %d",
			MaxNameservers, len(c.Nameservers))
	}
	if len(c.Search) > MaxSearchDomains {
		return errdefs.Validation("resolv.conf: at most %d search domains are supported, got %d",
			MaxSearchDomains, len(c.Search))
	}
	if line := searchLine(c.Search); len(line) > maxSearchLine {
		return errdefs.Validation("resolv.conf: search line exceeds %d bytes", maxSearchLine)
	}
	return nil
}

// Generate renders resolv.conf content from the explicit fields. The
// caller must have validated the config.
func (c DNSConfig) Generate() string {
	var b strings.Builder
	b.WriteString(generatedHeader)
	b.WriteByte('\n')
	for _, ns := range c.Nameservers {
		fmt.Fprintf(&b, "nameserver %s\n", ns)
	}
	if len(c.Search) > 0 {
		b.WriteString(searchLine(c.Search))
		b.WriteByte('\n')
	}
	return b.String()
}

func searchLine(domains []string) string {
	if len(domains) == 0 {
		return ""
	}
	return "search " + strings.Join(domains, " ")
}

// ResolvConf is the DNS lifecycle bracket nested inside the mount
// bracket. Setup parks any pre-existing resolv.conf under the backup
// name and installs the declared content; Teardown restores the
// original state.
type ResolvConf struct {
	rootfs string
	cfg    *DNSConfig
	fsys   safepath.FS
	dryRun bool

	// HostPath is the host file consulted in copy mode.
	HostPath string

	hadExisting bool
	active      bool
	tornDown    bool
}

// NewResolvConf builds the bracket. A nil cfg makes both Setup and
// Teardown no-ops, so the pipeline can treat "no DNS declaration" and
// "DNS declared" uniformly.
func NewResolvConf(rootfs string, cfg *DNSConfig, fsys safepath.FS, dryRun bool) *ResolvConf {
	return &ResolvConf{
		rootfs:   rootfs,
		cfg:      cfg,
		fsys:     fsys,
		dryRun:   dryRun,
		HostPath: "/etc/resolv.conf",
	}
}

func (r *ResolvConf) workPath() string {
	return filepath.Join(r.rootfs, "etc", "resolv.conf")
}

func (r *ResolvConf) backupPath() string {
	return filepath.Join(r.rootfs, "etc", backupName)
}

// Setup validates the declaration, backs up any existing file, and
// writes the new content. All validation runs before any write; a
// failed write restores the backup immediately so the rootfs is never
// left without a resolver file.
func (r *ResolvConf) Setup() error {
	if r.cfg == nil {
		return nil
	}
	if err := r.cfg.Validate(); err != nil {
		return err
	}
	content, err := r.content()
	if err != nil {
		return err
	}
	if r.dryRun {
		slog.Info("dry run: would install resolv.conf", "rootfs", r.rootfs, "copy", r.cfg.Copy)
		return nil
	}

	if err := r.checkEtcDir(); err != nil {
		return err
	}
	if _, err := os.Lstat(r.backupPath()); err == nil {
		return errdefs.Isolation(
			"stale backup %q exists; a previous run did not shut down cleanly", r.backupPath())
	} else if !os.IsNotExist(err) {
		return errdefs.IO("checking for stale resolv.conf backup", err)
	}

	if _, err := os.Lstat(r.workPath()); err == nil {
		if err := os.Rename(r.workPath(), r.backupPath()); err != nil {
			return errdefs.IO("backing up resolv.conf", err)
		}
		r.hadExisting = true
	} else if !os.IsNotExist(err) {
		return errdefs.IO("checking existing resolv.conf", err)
	}

	if err := os.WriteFile(r.workPath(), content, 0o644); err != nil {
		if r.hadExisting {
			if restoreErr := os.Rename(r.backupPath(), r.workPath()); restoreErr != nil {
				slog.Error("restoring resolv.conf backup after failed write",
					"error", restoreErr)
			}
		}
		return errdefs.IO("writing resolv.conf", err)
	}
	r.active = true
	slog.Debug("installed resolv.conf", "rootfs", r.rootfs, "backed_up", r.hadExisting)
	return nil
}

// content produces the bytes to install: the host file in copy mode
// (reading through the host file's own symlink, as systemd-resolved
// setups require), generated content otherwise.
func (r *ResolvConf) content() ([]byte, error) {
	if !r.cfg.Copy {
		return []byte(r.cfg.Generate()), nil
	}
	data, err := os.ReadFile(r.HostPath)
	if err != nil {
		return nil, errdefs.IO("reading host resolv.conf", err)
	}
	return data, nil
}

// checkEtcDir refuses to operate when the rootfs /etc is a symlink,
// which would let the rootfs redirect the writes anywhere on the host.
func (r *ResolvConf) checkEtcDir() error {
	root, err := r.fsys.OpenRoot(r.rootfs)
	if err != nil {
		return classify(r.rootfs, err)
	}
	defer root.Close()
	etc, err := root.OpenDir("etc")
	if err != nil {
		return classify(filepath.Join(r.rootfs, "etc"), err)
	}
	return etc.Close()
}

// classify maps traversal failures from the safepath capability into
// the error taxonomy.
func classify(path string, err error) error {
	switch {
	case errors.Is(err, safepath.ErrSymlink):
		return errdefs.Isolation("%q is a symbolic link (possible symlink attack)", path)
	case errors.Is(err, safepath.ErrNotDir):
		return errdefs.Isolation("%q is not a directory", path)
	default:
		return errdefs.IO(fmt.Sprintf("opening %q", path), err)
	}
}

// Teardown restores the pre-setup state: the backup is moved back over
// the working file, or the written file is removed when nothing
// existed before. It is idempotent and must never mask an in-flight
// error; the caller decides how to combine its result.
func (r *ResolvConf) Teardown() error {
	if !r.active || r.tornDown {
		return nil
	}
	r.tornDown = true
	if r.hadExisting {
		if err := os.Rename(r.backupPath(), r.workPath()); err != nil {
			return errdefs.IO("restoring resolv.conf backup", err)
		}
	} else {
		if err := os.Remove(r.workPath()); err != nil && !os.IsNotExist(err) {
			return errdefs.IO("removing installed resolv.conf", err)
		}
	}
	slog.Debug("restored resolv.conf", "rootfs", r.rootfs)
	return nil
}
