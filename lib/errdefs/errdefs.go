// Copyright 2026 The Debforge Authors
// SPDX-License-Identifier: Apache-2.0

// Package errdefs defines the error taxonomy shared by every debforge
// component. Each category is a distinct type so callers can classify
// failures with errors.As without parsing message text.
package errdefs

import (
	"errors"
	"fmt"
	"io/fs"
)

// ValidationError reports a static invariant violated by the profile or
// a task configuration. Validation errors are raised before any side
// effect.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Msg
}

// Validation builds a ValidationError from a format string.
func Validation(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// ExecutionError reports a spawned command that exited non-zero.
type ExecutionError struct {
	Command string
	Status  int
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("command %q failed with exit status %d", e.Command, e.Status)
}

// Execution builds an ExecutionError for the given command and status.
func Execution(command string, status int) error {
	return &ExecutionError{Command: command, Status: status}
}

// IsolationError reports an unsafe condition detected during isolation
// setup, teardown, or filesystem traversal: a symlink found where a
// directory was required, a context used after teardown, or a backend
// failure.
type IsolationError struct {
	Msg string
}

func (e *IsolationError) Error() string {
	return "isolation error: " + e.Msg
}

// Isolation builds an IsolationError from a format string.
func Isolation(format string, args ...any) error {
	return &IsolationError{Msg: fmt.Sprintf(format, args...)}
}

// ConfigError reports a setting that was never resolved to a terminal
// value. These indicate a resolution step that was skipped rather than
// a mistake in the profile, so they are kept apart from validation
// errors.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string {
	return "configuration error: " + e.Msg
}

// Config builds a ConfigError from a format string.
func Config(format string, args ...any) error {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a referenced command or interpreter that could
// not be located on the host.
type NotFoundError struct {
	Command string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("command not found: %q", e.Command)
}

// NotFound builds a NotFoundError for the given command name.
func NotFound(command string) error {
	return &NotFoundError{Command: command}
}

// IOError wraps a filesystem failure with the operation that was being
// attempted and a human-readable classification of the cause.
type IOError struct {
	Context string
	Err     error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s: %s", e.Context, classify(e.Err))
}

func (e *IOError) Unwrap() error { return e.Err }

// IO wraps err with the operation context. A nil err returns nil.
func IO(context string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Context: context, Err: err}
}

// classify renders the underlying cause of a filesystem error in plain
// language.
func classify(err error) string {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return "I/O error: not found"
	case errors.Is(err, fs.ErrPermission):
		return "I/O error: permission denied"
	case errors.Is(err, fs.ErrExist):
		return "I/O error: already exists"
	default:
		return fmt.Sprintf("I/O error: %v", err)
	}
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

// IsExecution reports whether err is or wraps an ExecutionError.
func IsExecution(err error) bool {
	var e *ExecutionError
	return errors.As(err, &e)
}

// IsIsolation reports whether err is or wraps an IsolationError.
func IsIsolation(err error) bool {
	var e *IsolationError
	return errors.As(err, &e)
}

// IsConfig reports whether err is or wraps a ConfigError.
func IsConfig(err error) bool {
	var e *ConfigError
	return errors.As(err, &e)
}

// IsNotFound reports whether err is or wraps a NotFoundError.
func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

// IsIO reports whether err is or wraps an IOError.
func IsIO(err error) bool {
	var e *IOError
	return errors.As(err, &e)
}
