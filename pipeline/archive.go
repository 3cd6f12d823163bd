// Copyright 2026 The Debforge Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"archive/tar"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"github.com/debforge-project/debforge/lib/errdefs"
)

// Compression names a supported archive compression.
type Compression string

const (
	// NoCompression writes a plain tar stream.
	NoCompression Compression = "none"
	// Gzip compresses with gzip.
	Gzip Compression = "gzip"
	// Zstd compresses with zstandard.
	Zstd Compression = "zstd"
)

// ArchiveTask packs the finished rootfs into a tar archive and writes
// a BLAKE3 checksum file alongside it.
type ArchiveTask struct {
	Type        string      `yaml:"type"`
	Output      string      `yaml:"output"`
	Compression Compression `yaml:"compression,omitempty"`
}

// resolved returns the effective compression, inferring it from the
// output extension when unset.
func (t ArchiveTask) resolved() Compression {
	if t.Compression != "" {
		return t.Compression
	}
	switch {
	case strings.HasSuffix(t.Output, ".tar.gz"), strings.HasSuffix(t.Output, ".tgz"):
		return Gzip
	case strings.HasSuffix(t.Output, ".tar.zst"):
		return Zstd
	default:
		return NoCompression
	}
}

// Validate checks the output path and the compression name.
func (t ArchiveTask) Validate() error {
	if t.Output == "" {
		return errdefs.Validation("archive task has no output path")
	}
	switch t.resolved() {
	case NoCompression, Gzip, Zstd:
		return nil
	default:
		return errdefs.Validation("unknown archive compression %q", t.Compression)
	}
}

// Execute writes the archive. The checksum covers the final compressed
// bytes so it can verify the artifact as distributed.
func (t ArchiveTask) Execute(rootfs string, dryRun bool) error {
	if dryRun {
		slog.Info("dry run: would archive rootfs",
			"rootfs", rootfs, "output", t.Output, "compression", string(t.resolved()))
		return nil
	}

	out, err := os.Create(t.Output)
	if err != nil {
		return errdefs.IO(fmt.Sprintf("creating archive %q", t.Output), err)
	}
	hasher := blake3.New()
	sink := io.MultiWriter(out, hasher)

	if err := t.writeTar(rootfs, sink); err != nil {
		out.Close()
		os.Remove(t.Output)
		return err
	}
	if err := out.Close(); err != nil {
		return errdefs.IO(fmt.Sprintf("closing archive %q", t.Output), err)
	}

	sum := fmt.Sprintf("%x  %s\n", hasher.Sum(nil), filepath.Base(t.Output))
	if err := os.WriteFile(t.Output+".b3sum", []byte(sum), 0o644); err != nil {
		return errdefs.IO("writing checksum file", err)
	}
	slog.Info("archived rootfs", "output", t.Output)
	return nil
}

// writeTar streams the rootfs as a tar archive through the selected
// compressor.
func (t ArchiveTask) writeTar(rootfs string, sink io.Writer) error {
	var w io.Writer = sink
	var closeCompressor func() error
	switch t.resolved() {
	case Gzip:
		gz := gzip.NewWriter(sink)
		w = gz
		closeCompressor = gz.Close
	case Zstd:
		zw, err := zstd.NewWriter(sink)
		if err != nil {
			return errdefs.IO("initializing zstd writer", err)
		}
		w = zw
		closeCompressor = zw.Close
	}

	tw := tar.NewWriter(w)
	if err := t.addTree(tw, rootfs); err != nil {
		tw.Close()
		if closeCompressor != nil {
			closeCompressor()
		}
		return err
	}
	if err := tw.Close(); err != nil {
		return errdefs.IO("finalizing tar stream", err)
	}
	if closeCompressor != nil {
		if err := closeCompressor(); err != nil {
			return errdefs.IO("finalizing compression", err)
		}
	}
	return nil
}

func (t ArchiveTask) addTree(tw *tar.Writer, rootfs string) error {
	return filepath.WalkDir(rootfs, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return errdefs.IO(fmt.Sprintf("walking %q", path), err)
		}
		rel, err := filepath.Rel(rootfs, path)
		if err != nil {
			return errdefs.IO(fmt.Sprintf("relativizing %q", path), err)
		}
		if rel == "." {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return errdefs.IO(fmt.Sprintf("stat %q", path), err)
		}
		var link string
		if info.Mode()&os.ModeSymlink != 0 {
			if link, err = os.Readlink(path); err != nil {
				return errdefs.IO(fmt.Sprintf("readlink %q", path), err)
			}
		}
		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return errdefs.IO(fmt.Sprintf("building header for %q", path), err)
		}
		hdr.Name = rel
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return errdefs.IO(fmt.Sprintf("writing header for %q", path), err)
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return errdefs.IO(fmt.Sprintf("opening %q", path), err)
		}
		defer f.Close()
		if _, err := io.Copy(tw, f); err != nil {
			return errdefs.IO(fmt.Sprintf("archiving %q", path), err)
		}
		return nil
	})
}
