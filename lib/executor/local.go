// Copyright 2026 The Debforge Authors
// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"bufio"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/debforge-project/debforge/lib/errdefs"
)

// Local runs processes on the host. The zero value is ready to use.
type Local struct{}

var _ Runner = (*Local)(nil)

// DryRun always reports false for the local runner.
func (l *Local) DryRun() bool { return false }

// Run resolves the spec's command (and escalation command, when
// present) on PATH, launches the process, streams its output through
// the structured logger, and blocks until it exits.
func (l *Local) Run(spec Spec) (Result, error) {
	if spec.Command == "" {
		return Result{}, errdefs.Validation("command spec has no command")
	}

	path, err := exec.LookPath(spec.Command)
	if err != nil {
		return Result{}, errdefs.NotFound(spec.Command)
	}

	argv := append([]string{path}, spec.Args...)
	if spec.Privilege != nil {
		escPath, err := exec.LookPath(spec.Privilege.Command())
		if err != nil {
			return Result{}, errdefs.NotFound(spec.Privilege.Command())
		}
		argv = append([]string{escPath}, argv...)
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, errdefs.IO("opening stdout pipe", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Result{}, errdefs.IO("opening stderr pipe", err)
	}

	slog.Debug("running command", "command", spec.String())
	if err := cmd.Start(); err != nil {
		return Result{}, errdefs.IO("starting "+spec.Command, err)
	}

	// Drain both pipes before Wait closes them. These goroutines never
	// outlive the subprocess.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			slog.Info(scanner.Text(), "command", spec.Command)
		}
	}()
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			slog.Warn(scanner.Text(), "command", spec.Command)
		}
	}()
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return Result{}, errdefs.IO("waiting for "+spec.Command, err)
		}
	}
	return Result{Status: cmd.ProcessState.ExitCode(), Ran: true}, nil
}

// Check converts a completed invocation into an error when the process
// did not succeed. A signal termination is distinguished from a normal
// non-zero exit.
func Check(spec Spec, result Result) error {
	if result.Success() {
		return nil
	}
	if result.Status < 0 {
		return errdefs.Execution(spec.String()+" (terminated by signal)", result.Status)
	}
	return errdefs.Execution(spec.String(), result.Status)
}
