// Copyright 2026 The Debforge Authors
// SPDX-License-Identifier: Apache-2.0

package safepath

import (
	"fmt"
	"io/fs"

	"golang.org/x/sys/unix"
)

const openFlags = unix.O_RDONLY | unix.O_NOFOLLOW | unix.O_DIRECTORY | unix.O_CLOEXEC

// OSFS implements FS on the host filesystem using openat(2) with
// O_NOFOLLOW|O_DIRECTORY, so the kernel enforces the symlink refusal
// atomically with the open.
type OSFS struct{}

var _ FS = OSFS{}

// OpenRoot opens path with O_NOFOLLOW|O_DIRECTORY.
func (OSFS) OpenRoot(path string) (Dir, error) {
	fd, err := unix.Open(path, openFlags, 0)
	if err != nil {
		return nil, mapErrno(path, err)
	}
	return &osDir{fd: fd}, nil
}

type osDir struct {
	fd     int
	closed bool
}

func (d *osDir) OpenDir(name string) (Dir, error) {
	fd, err := unix.Openat(d.fd, name, openFlags, 0)
	if err != nil {
		return nil, mapErrno(name, err)
	}
	return &osDir{fd: fd}, nil
}

func (d *osDir) Mkdir(name string, perm fs.FileMode) error {
	if err := unix.Mkdirat(d.fd, name, uint32(perm.Perm())); err != nil {
		return mapErrno(name, err)
	}
	return nil
}

func (d *osDir) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	return unix.Close(d.fd)
}

// mapErrno converts kernel errnos into the package's sentinel causes.
// ELOOP from an O_NOFOLLOW open means the final component is a
// symlink; ENOTDIR means a non-directory sits where a directory is
// required.
func mapErrno(name string, err error) error {
	switch err {
	case unix.ELOOP, unix.EMLINK:
		return fmt.Errorf("%s: %w", name, ErrSymlink)
	case unix.ENOTDIR:
		return fmt.Errorf("%s: %w", name, ErrNotDir)
	case unix.ENOENT:
		return fmt.Errorf("%s: %w", name, fs.ErrNotExist)
	case unix.EEXIST:
		return fmt.Errorf("%s: %w", name, fs.ErrExist)
	default:
		return fmt.Errorf("%s: %w", name, err)
	}
}
