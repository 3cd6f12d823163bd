// Copyright 2026 The Debforge Authors
// SPDX-License-Identifier: Apache-2.0

package isolation

import (
	"path/filepath"
	"strings"

	"github.com/debforge-project/debforge/lib/errdefs"
	"github.com/debforge-project/debforge/lib/executor"
	"github.com/debforge-project/debforge/lib/privilege"
)

// Provider produces a fresh context bound to a rootfs. Each task
// execution obtains its own context; contexts are never shared or
// reused.
type Provider interface {
	Name() string
	Setup(rootfs string, runner executor.Runner) (Context, error)
}

// Context is a live, single-use handle for running commands against a
// rootfs. Its lifecycle is Created -> Ready -> Torn-down; Execute
// calls after Teardown are rejected.
type Context interface {
	Name() string
	Rootfs() string

	// Execute runs one command inside the context, honoring the
	// optional escalation method. It rejects empty command specs.
	Execute(argv []string, priv *privilege.Method) (executor.Result, error)

	// Teardown releases the context. It is safe to call once; the
	// context is unusable afterwards.
	Teardown() error
}

// ChrootProvider confines each command with chroot(8) for the
// duration of that command.
type ChrootProvider struct{}

func (ChrootProvider) Name() string { return "chroot" }

func (ChrootProvider) Setup(rootfs string, runner executor.Runner) (Context, error) {
	return &chrootContext{rootfs: rootfs, runner: runner}, nil
}

type chrootContext struct {
	rootfs   string
	runner   executor.Runner
	tornDown bool
}

func (c *chrootContext) Name() string   { return "chroot" }
func (c *chrootContext) Rootfs() string { return c.rootfs }

func (c *chrootContext) Execute(argv []string, priv *privilege.Method) (executor.Result, error) {
	if c.tornDown {
		return executor.Result{}, errdefs.Isolation("cannot execute command: chroot context has already been torn down")
	}
	if len(argv) == 0 {
		return executor.Result{}, errdefs.Validation("empty command")
	}
	spec := executor.Spec{
		Command:   "chroot",
		Args:      append([]string{c.rootfs}, argv...),
		Privilege: priv,
	}
	return c.runner.Run(spec)
}

func (c *chrootContext) Teardown() error {
	c.tornDown = true
	return nil
}

// DirectProvider runs commands without confinement. Absolute paths in
// the command are rewritten with the rootfs as a prefix so a script
// written for the chroot view runs unmodified against the host view.
type DirectProvider struct{}

func (DirectProvider) Name() string { return "direct" }

func (DirectProvider) Setup(rootfs string, runner executor.Runner) (Context, error) {
	return &directContext{rootfs: rootfs, runner: runner}, nil
}

type directContext struct {
	rootfs   string
	runner   executor.Runner
	tornDown bool
}

func (c *directContext) Name() string   { return "direct" }
func (c *directContext) Rootfs() string { return c.rootfs }

func (c *directContext) Execute(argv []string, priv *privilege.Method) (executor.Result, error) {
	if c.tornDown {
		return executor.Result{}, errdefs.Isolation("cannot execute command: direct context has already been torn down")
	}
	if len(argv) == 0 {
		return executor.Result{}, errdefs.Validation("empty command")
	}
	translated := make([]string, len(argv))
	for i, arg := range argv {
		translated[i] = c.translate(arg)
	}
	spec := executor.Spec{
		Command:   translated[0],
		Args:      translated[1:],
		Privilege: priv,
	}
	return c.runner.Run(spec)
}

// translate rewrites rootfs-absolute paths to host paths. Non-path
// arguments pass through untouched.
func (c *directContext) translate(arg string) string {
	if !strings.HasPrefix(arg, "/") {
		return arg
	}
	return filepath.Join(c.rootfs, arg)
}

func (c *directContext) Teardown() error {
	c.tornDown = true
	return nil
}
