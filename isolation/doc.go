// Copyright 2026 The Debforge Authors
// SPDX-License-Identifier: Apache-2.0

// Package isolation confines task execution to a target root
// filesystem. It provides the isolation-context abstraction (chroot
// and direct backends), the mount lifecycle bracket that surrounds the
// provisioning phase, and the resolv.conf lifecycle bracket nested
// inside it.
package isolation
