// Copyright 2026 The Debforge Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/debforge-project/debforge/lib/errdefs"
	"github.com/debforge-project/debforge/lib/executor"
	"github.com/debforge-project/debforge/lib/privilege"
	"github.com/debforge-project/debforge/lib/safepath"
)

// AssembleTask is one entry of the assemble phase. Assemble tasks
// always run unisolated, directly against the finished filesystem.
type AssembleTask struct {
	ResolvConf *AssembleResolvConfTask
	Archive    *ArchiveTask
}

// Name identifies the task in logs and validation errors.
func (t AssembleTask) Name() string {
	switch {
	case t.ResolvConf != nil:
		return t.ResolvConf.Name()
	case t.Archive != nil:
		return "archive:" + filepath.Base(t.Archive.Output)
	default:
		return "unknown"
	}
}

// UnmarshalYAML dispatches on the type field.
func (t *AssembleTask) UnmarshalYAML(node *yaml.Node) error {
	var head struct {
		Type string `yaml:"type"`
	}
	if err := node.Decode(&head); err != nil {
		return err
	}
	switch head.Type {
	case "resolv_conf":
		var task AssembleResolvConfTask
		if err := node.Decode(&task); err != nil {
			return err
		}
		*t = AssembleTask{ResolvConf: &task}
		return nil
	case "archive":
		var task ArchiveTask
		if err := node.Decode(&task); err != nil {
			return err
		}
		*t = AssembleTask{Archive: &task}
		return nil
	case "":
		return fmt.Errorf("assemble task has no type")
	default:
		return fmt.Errorf("unknown assemble task type %q", head.Type)
	}
}

// Validate runs the task-local static checks.
func (t AssembleTask) Validate() error {
	switch {
	case t.ResolvConf != nil:
		return t.ResolvConf.Validate()
	case t.Archive != nil:
		return t.Archive.Validate()
	default:
		return errdefs.Validation("empty assemble task")
	}
}

// execute runs the task against the finished rootfs.
func (t AssembleTask) execute(rootfs string, runner executor.Runner, fsys safepath.FS) error {
	switch {
	case t.ResolvConf != nil:
		return t.ResolvConf.Execute(rootfs, runner, fsys)
	case t.Archive != nil:
		return t.Archive.Execute(rootfs, runner.DryRun())
	default:
		return errdefs.Config("empty assemble task reached execution")
	}
}

// AssembleResolvConfTask installs the image's permanent DNS
// configuration: either a symlink (for resolvers managed inside the
// image) or generated content. Link and generation are mutually
// exclusive.
type AssembleResolvConfTask struct {
	Type        string            `yaml:"type"`
	Link        string            `yaml:"link,omitempty"`
	NameServers []string          `yaml:"name_servers,omitempty"`
	Search      []string          `yaml:"search,omitempty"`
	Privilege   privilege.Setting `yaml:"privilege,omitempty"`
}

// Name identifies the installation mode.
func (t AssembleResolvConfTask) Name() string {
	if t.Link != "" {
		return "resolv_conf:link"
	}
	return "resolv_conf:generate"
}

// Validate checks the link/generate exclusivity and the respective
// constraints.
func (t AssembleResolvConfTask) Validate() error {
	if t.Link != "" {
		if len(t.NameServers) > 0 || len(t.Search) > 0 {
			return errdefs.Validation("resolv_conf: link and name_servers are mutually exclusive")
		}
		if strings.ContainsAny(t.Link, "\n\r\x00") {
			return errdefs.Validation("resolv_conf: link target contains a control character")
		}
		return nil
	}
	decl := ResolvConfTask{NameServers: t.NameServers, Search: t.Search}
	return decl.Validate()
}

// Execute installs the configuration through the command capability,
// honoring the task's resolved privilege. Dry-run mode only logs.
func (t AssembleResolvConfTask) Execute(rootfs string, runner executor.Runner, fsys safepath.FS) error {
	priv, err := t.Privilege.Resolved()
	if err != nil {
		return err
	}
	target := filepath.Join(rootfs, "etc", "resolv.conf")

	if runner.DryRun() {
		slog.Info("dry run: would install permanent resolv.conf",
			"target", target, "mode", t.Name())
		return nil
	}
	if err := checkEtcDir(rootfs, fsys); err != nil {
		return err
	}

	if t.Link != "" {
		return t.installLink(target, runner, priv)
	}
	return t.installGenerated(target, runner, priv)
}

func (t AssembleResolvConfTask) installLink(target string, runner executor.Runner, priv *privilege.Method) error {
	rm := executor.Spec{Command: "rm", Args: []string{"-f", target}, Privilege: priv}
	result, err := runner.Run(rm)
	if err == nil {
		err = executor.Check(rm, result)
	}
	if err != nil {
		return fmt.Errorf("removing previous resolv.conf: %w", err)
	}
	ln := executor.Spec{Command: "ln", Args: []string{"-sf", t.Link, target}, Privilege: priv}
	result, err = runner.Run(ln)
	if err == nil {
		err = executor.Check(ln, result)
	}
	if err != nil {
		return fmt.Errorf("linking resolv.conf: %w", err)
	}
	return nil
}

func (t AssembleResolvConfTask) installGenerated(target string, runner executor.Runner, priv *privilege.Method) error {
	decl := ResolvConfTask{NameServers: t.NameServers, Search: t.Search}
	cfg, err := decl.DNSConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp("", "debforge-resolv-*.conf")
	if err != nil {
		return errdefs.IO("creating temporary resolv.conf", err)
	}
	guard := &tempFile{path: tmp.Name()}
	defer guard.Remove()
	if _, err := tmp.WriteString(cfg.Generate()); err != nil {
		tmp.Close()
		return errdefs.IO("writing temporary resolv.conf", err)
	}
	if err := tmp.Close(); err != nil {
		return errdefs.IO("closing temporary resolv.conf", err)
	}

	// The copy and chmod run through the command capability so they
	// can be escalated: the image /etc is typically root-owned.
	cp := executor.Spec{Command: "cp", Args: []string{tmp.Name(), target}, Privilege: priv}
	result, err := runner.Run(cp)
	if err == nil {
		err = executor.Check(cp, result)
	}
	if err != nil {
		return fmt.Errorf("installing resolv.conf: %w", err)
	}
	chmod := executor.Spec{Command: "chmod", Args: []string{"644", target}, Privilege: priv}
	result, err = runner.Run(chmod)
	if err == nil {
		err = executor.Check(chmod, result)
	}
	if err != nil {
		return fmt.Errorf("setting resolv.conf mode: %w", err)
	}
	return nil
}

// checkEtcDir refuses to operate on a rootfs whose /etc is a symlink.
func checkEtcDir(rootfs string, fsys safepath.FS) error {
	root, err := fsys.OpenRoot(rootfs)
	if err != nil {
		return classifyTraversal(rootfs, err)
	}
	defer root.Close()
	etc, err := root.OpenDir("etc")
	if err != nil {
		return classifyTraversal(filepath.Join(rootfs, "etc"), err)
	}
	return etc.Close()
}

func classifyTraversal(path string, err error) error {
	switch {
	case errors.Is(err, safepath.ErrSymlink):
		return errdefs.Isolation("%q is a symbolic link (possible symlink attack)", path)
	case errors.Is(err, safepath.ErrNotDir):
		return errdefs.Isolation("%q is not a directory", path)
	default:
		return errdefs.IO(fmt.Sprintf("opening %q", path), err)
	}
}
