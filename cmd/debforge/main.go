// Copyright 2026 The Debforge Authors
// SPDX-License-Identifier: Apache-2.0

// debforge builds customized Debian rootfs images from YAML profiles.
//
// Usage:
//
//	debforge apply [flags]
//	debforge validate [flags]
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/debforge-project/debforge/builder"
	"github.com/debforge-project/debforge/lib/process"
	"github.com/debforge-project/debforge/profile"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "apply":
		err = applyCmd(args)
	case "validate":
		err = validateCmd(args)
	case "help", "--help", "-h":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		process.Fatal(err)
	}
}

func printUsage() {
	fmt.Print(`debforge - Build customized Debian rootfs images from YAML profiles

USAGE
    debforge <command> [flags]

COMMANDS
    apply     Bootstrap the rootfs and run the build phases
    validate  Check a profile without touching the system

EXAMPLES
    # Build the rootfs described by a profile
    debforge apply --file=profile.yaml

    # See every command a build would run, without running anything
    debforge apply --file=profile.yaml --dry-run

    # Check the profile and its referenced files
    debforge validate --file=profile.yaml

ENVIRONMENT
    DEBFORGE_DEBUG  Enable debug logging
`)
}

// setupLogging installs the process-wide logger: human-readable text on
// a terminal, JSON otherwise.
func setupLogging(level string) error {
	var logLevel slog.Level
	if err := logLevel.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	if os.Getenv("DEBFORGE_DEBUG") != "" {
		logLevel = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: logLevel}
	var handler slog.Handler
	if term.IsTerminal(int(os.Stderr.Fd())) {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

func applyCmd(args []string) error {
	fs := pflag.NewFlagSet("apply", pflag.ExitOnError)
	file := fs.StringP("file", "f", "profile.yaml", "Path to the build profile")
	dryRun := fs.Bool("dry-run", false, "Log every command without executing anything")
	logLevel := fs.String("log-level", "info", "Log level (debug, info, warn, error)")
	fs.Usage = func() {
		fmt.Print(`debforge apply - Bootstrap the rootfs and run the build phases

USAGE
    debforge apply [flags]

FLAGS
`)
		fmt.Print(fs.FlagUsages())
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := setupLogging(*logLevel); err != nil {
		return err
	}

	p, err := profile.Load(*file)
	if err != nil {
		return err
	}
	return builder.Apply(p, builder.Options{DryRun: *dryRun})
}

func validateCmd(args []string) error {
	fs := pflag.NewFlagSet("validate", pflag.ExitOnError)
	file := fs.StringP("file", "f", "profile.yaml", "Path to the build profile")
	logLevel := fs.String("log-level", "info", "Log level (debug, info, warn, error)")
	fs.Usage = func() {
		fmt.Print(`debforge validate - Check a profile without touching the system

USAGE
    debforge validate [flags]

FLAGS
`)
		fmt.Print(fs.FlagUsages())
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := setupLogging(*logLevel); err != nil {
		return err
	}

	p, err := profile.Load(*file)
	if err != nil {
		return err
	}
	if err := builder.Validate(p); err != nil {
		return err
	}
	fmt.Println("profile is valid")
	return nil
}
