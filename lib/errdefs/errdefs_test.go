// Copyright 2026 The Debforge Authors
// SPDX-License-Identifier: Apache-2.0

package errdefs

import (
	"fmt"
	"io/fs"
	"strings"
	"testing"
)

func TestClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"validation", Validation("field %q missing", "dir"), IsValidation},
		{"execution", Execution("mount", 32), IsExecution},
		{"isolation", Isolation("symlink at %q", "/etc"), IsIsolation},
		{"config", Config("privilege unresolved"), IsConfig},
		{"not found", NotFound("mmdebstrap"), IsNotFound},
		{"io", IO("reading profile", fs.ErrNotExist), IsIO},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if !tt.check(tt.err) {
				t.Errorf("%v not classified as %s", tt.err, tt.name)
			}
		})
	}
}

func TestClassificationSurvivesWrapping(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("running prepare phase: %w", Isolation("context torn down"))
	if !IsIsolation(err) {
		t.Errorf("wrapped isolation error not detected: %v", err)
	}
	if IsValidation(err) {
		t.Errorf("wrapped isolation error misclassified as validation: %v", err)
	}
}

func TestIOErrorMessage(t *testing.T) {
	t.Parallel()

	err := IO("opening /etc/resolv.conf", fs.ErrNotExist)
	want := "opening /etc/resolv.conf: I/O error: not found"
	if err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}
	if IO("anything", nil) != nil {
		t.Error("IO with nil error should return nil")
	}
}

func TestExecutionErrorMessage(t *testing.T) {
	t.Parallel()

	err := Execution("umount /mnt/proc", 1)
	if !strings.Contains(err.Error(), "exit status 1") {
		t.Errorf("expected status in message, got %q", err.Error())
	}
}
