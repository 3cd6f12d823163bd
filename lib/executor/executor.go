// Copyright 2026 The Debforge Authors
// SPDX-License-Identifier: Apache-2.0

// Package executor is the single capability through which debforge
// spawns external processes. Every mount, umount, chroot entry,
// interpreter, and bootstrap tool invocation goes through a Runner; no
// other package calls os/exec. The dry-run implementation records the
// invocations it would have made, in order, without executing anything.
package executor

import (
	"fmt"
	"strings"

	"github.com/debforge-project/debforge/lib/privilege"
)

// Spec describes one external process invocation.
type Spec struct {
	// Command is the executable name or path.
	Command string
	// Args are the arguments, not including the command itself.
	Args []string
	// Dir, when non-empty, is the working directory.
	Dir string
	// Env holds KEY=VALUE pairs appended to the inherited environment.
	Env []string
	// Privilege, when non-nil, wraps the invocation with the
	// escalation command.
	Privilege *privilege.Method
}

// String renders the spec for logs, with the escalation prefix and
// arguments quoted the way a shell user would read them.
func (s Spec) String() string {
	var b strings.Builder
	if s.Privilege != nil {
		b.WriteString(s.Privilege.Command())
		b.WriteByte(' ')
	}
	b.WriteString(s.Command)
	for _, a := range s.Args {
		b.WriteByte(' ')
		if strings.ContainsAny(a, " \t\"'") {
			fmt.Fprintf(&b, "%q", a)
		} else {
			b.WriteString(a)
		}
	}
	return b.String()
}

// Result is the observed outcome of a Run call.
type Result struct {
	// Status is the process exit code. -1 means the process was
	// terminated by a signal.
	Status int
	// Ran is false when the invocation was skipped by dry-run mode.
	Ran bool
}

// Success reports whether the invocation should be treated as
// successful. A skipped dry-run invocation always succeeds.
func (r Result) Success() bool {
	return !r.Ran || r.Status == 0
}

// Runner runs one external process to completion and reports its exit
// status. Implementations must not retry.
type Runner interface {
	// Run blocks until the process exits. It returns an error only
	// for failures to launch or observe the process; a non-zero exit
	// is reported through the Result.
	Run(spec Spec) (Result, error)

	// DryRun reports whether this runner skips execution.
	DryRun() bool
}
