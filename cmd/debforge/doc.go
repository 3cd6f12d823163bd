// Copyright 2026 The Debforge Authors
// SPDX-License-Identifier: Apache-2.0

// Debforge builds customized Debian rootfs images from YAML profiles.
// It provides two subcommands: apply (bootstrap the rootfs and run the
// build phases) and validate (check a profile statically).
package main
