// Copyright 2026 The Debforge Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test fixtures.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// Rootfs creates a temporary directory laid out like a freshly
// bootstrapped rootfs: etc, tmp, and bin directories with a stub
// /bin/sh. It is removed when the test completes.
func Rootfs(t *testing.T) string {
	t.Helper()
	rootfs := t.TempDir()
	for _, dir := range []string{"etc", "tmp", "bin"} {
		if err := os.Mkdir(filepath.Join(rootfs, dir), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}
	if err := os.WriteFile(filepath.Join(rootfs, "bin", "sh"), []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("seed /bin/sh: %v", err)
	}
	return rootfs
}
