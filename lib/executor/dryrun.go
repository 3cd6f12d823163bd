// Copyright 2026 The Debforge Authors
// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"log/slog"

	"github.com/debforge-project/debforge/lib/errdefs"
)

// Recorder skips execution and records every invocation it receives,
// in order. It backs the --dry-run mode and the pipeline ordering
// tests.
type Recorder struct {
	invocations []Spec
}

var _ Runner = (*Recorder)(nil)

// DryRun always reports true for the recorder.
func (r *Recorder) DryRun() bool { return true }

// Run logs and records the invocation without executing it. The
// returned result has Ran=false, which counts as success.
func (r *Recorder) Run(spec Spec) (Result, error) {
	if spec.Command == "" {
		return Result{}, errdefs.Validation("command spec has no command")
	}
	slog.Info("dry run", "command", spec.String())
	r.invocations = append(r.invocations, spec)
	return Result{Ran: false}, nil
}

// Invocations returns the recorded specs in the order received.
func (r *Recorder) Invocations() []Spec {
	return r.invocations
}
