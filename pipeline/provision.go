// Copyright 2026 The Debforge Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/debforge-project/debforge/isolation"
	"github.com/debforge-project/debforge/lib/errdefs"
	"github.com/debforge-project/debforge/lib/privilege"
)

// ProvisionTask is one entry of the provision phase. Each task
// resolves its own privilege and isolation independently and runs in
// a fresh isolation context.
type ProvisionTask struct {
	Shell  *ShellTask
	Recipe *RecipeTask
}

// Name identifies the task in logs and validation errors.
func (t ProvisionTask) Name() string {
	switch {
	case t.Shell != nil:
		return "shell:" + sourceName(t.Shell.Script)
	case t.Recipe != nil:
		return "recipe:" + sourceName(t.Recipe.Recipe)
	default:
		return "unknown"
	}
}

// UnmarshalYAML dispatches on the type field.
func (t *ProvisionTask) UnmarshalYAML(node *yaml.Node) error {
	var head struct {
		Type string `yaml:"type"`
	}
	if err := node.Decode(&head); err != nil {
		return err
	}
	switch head.Type {
	case "shell":
		var task ShellTask
		if err := node.Decode(&task); err != nil {
			return err
		}
		*t = ProvisionTask{Shell: &task}
		return nil
	case "recipe":
		var task RecipeTask
		if err := node.Decode(&task); err != nil {
			return err
		}
		*t = ProvisionTask{Recipe: &task}
		return nil
	case "":
		return fmt.Errorf("provision task has no type")
	default:
		return fmt.Errorf("unknown provision task type %q", head.Type)
	}
}

// Validate runs the task-local static checks.
func (t ProvisionTask) Validate() error {
	switch {
	case t.Shell != nil:
		return t.Shell.Validate()
	case t.Recipe != nil:
		return t.Recipe.Validate()
	default:
		return errdefs.Validation("empty provision task")
	}
}

// settings returns the task's resolution settings.
func (t ProvisionTask) settings() (*privilege.Setting, *isolation.Setting) {
	switch {
	case t.Shell != nil:
		return &t.Shell.Privilege, &t.Shell.Isolation
	case t.Recipe != nil:
		return &t.Recipe.Privilege, &t.Recipe.Isolation
	default:
		return nil, nil
	}
}

// resolvePaths resolves profile-relative paths against the profile
// directory.
func (t ProvisionTask) resolvePaths(baseDir string) {
	switch {
	case t.Shell != nil:
		t.Shell.Script = resolvePath(baseDir, t.Shell.Script)
	case t.Recipe != nil:
		t.Recipe.Recipe = resolvePath(baseDir, t.Recipe.Recipe)
		t.Recipe.Binary = resolvePath(baseDir, t.Recipe.Binary)
	}
}

func resolvePath(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// execute runs the task inside the given context.
func (t ProvisionTask) execute(ctx isolation.Context, dryRun bool) error {
	switch {
	case t.Shell != nil:
		return t.Shell.Execute(ctx, dryRun)
	case t.Recipe != nil:
		return t.Recipe.Execute(ctx, dryRun)
	default:
		return errdefs.Config("empty provision task reached execution")
	}
}

// ShellTask runs a shell script inside the rootfs. The script (or the
// inline content) is written to a uniquely-named file under the
// rootfs /tmp and handed to the interpreter.
type ShellTask struct {
	Type      string            `yaml:"type"`
	Script    string            `yaml:"script,omitempty"`
	Content   string            `yaml:"content,omitempty"`
	Shell     string            `yaml:"shell,omitempty"`
	Privilege privilege.Setting `yaml:"privilege,omitempty"`
	Isolation isolation.Setting `yaml:"isolation,omitempty"`
}

// defaultShell interprets scripts when the task does not name one.
const defaultShell = "/bin/sh"

func (t *ShellTask) interpreter() string {
	if t.Shell != "" {
		return t.Shell
	}
	return defaultShell
}

// Validate checks the script/content exclusivity, the interpreter
// path, and the referenced host file.
func (t *ShellTask) Validate() error {
	if (t.Script == "") == (t.Content == "") {
		return errdefs.Validation("shell task requires exactly one of script or content")
	}
	if !filepath.IsAbs(t.interpreter()) {
		return errdefs.Validation("shell %q is not an absolute path", t.interpreter())
	}
	if t.Script != "" {
		if err := validateNoParentDirs("script", t.Script); err != nil {
			return err
		}
		if err := validateHostFile("script", t.Script); err != nil {
			return err
		}
	}
	return nil
}

// Execute writes the script into the rootfs and runs the interpreter
// on it. The temporary file is removed on every exit path.
func (t *ShellTask) Execute(ctx isolation.Context, dryRun bool) error {
	priv, err := t.Privilege.Resolved()
	if err != nil {
		return err
	}
	content, err := t.source()
	if err != nil {
		return err
	}

	name := uniqueName("task-", ".sh")
	hostPath := filepath.Join(ctx.Rootfs(), "tmp", name)
	guard := &tempFile{path: hostPath, dryRun: dryRun}
	defer guard.Remove()

	if !dryRun {
		if err := checkShellInRootfs(ctx.Rootfs(), t.interpreter()); err != nil {
			return err
		}
		if err := checkTmpDir(ctx.Rootfs()); err != nil {
			return err
		}
		if err := writeRootfsFile(hostPath, content, 0o700); err != nil {
			return err
		}
	} else {
		slog.Info("dry run: would write script", "path", hostPath)
	}

	result, err := ctx.Execute([]string{t.interpreter(), "/tmp/" + name}, priv)
	if err != nil {
		return err
	}
	return checkResult(fmt.Sprintf("%s /tmp/%s", t.interpreter(), name), result)
}

// source returns the script bytes: the host file or the inline
// content.
func (t *ShellTask) source() ([]byte, error) {
	if t.Content != "" {
		return []byte(t.Content), nil
	}
	data, err := os.ReadFile(t.Script)
	if err != nil {
		return nil, errdefs.IO(fmt.Sprintf("reading script %q", t.Script), err)
	}
	return data, nil
}

// checkShellInRootfs verifies the interpreter exists inside the
// rootfs, where the chroot will look for it.
func checkShellInRootfs(rootfs, shell string) error {
	path := filepath.Join(rootfs, shell)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return errdefs.NotFound(shell + " (in rootfs " + rootfs + ")")
		}
		return errdefs.IO(fmt.Sprintf("checking %q", path), err)
	}
	return nil
}

// RecipeTask runs a configuration recipe with a standalone binary
// (mitamae-style). Both the binary and the recipe are copied into the
// rootfs under unique names and removed afterwards.
type RecipeTask struct {
	Type      string            `yaml:"type"`
	Recipe    string            `yaml:"recipe,omitempty"`
	Content   string            `yaml:"content,omitempty"`
	Binary    string            `yaml:"binary,omitempty"`
	Privilege privilege.Setting `yaml:"privilege,omitempty"`
	Isolation isolation.Setting `yaml:"isolation,omitempty"`
}

// Validate checks the recipe/content exclusivity and the referenced
// host files. The binary must be set by this point (either in the
// task or filled from the profile default).
func (t *RecipeTask) Validate() error {
	if (t.Recipe == "") == (t.Content == "") {
		return errdefs.Validation("recipe task requires exactly one of recipe or content")
	}
	if t.Binary == "" {
		return errdefs.Validation("recipe task has no binary and defaults.recipe_binary is not configured")
	}
	if err := validateNoParentDirs("binary", t.Binary); err != nil {
		return err
	}
	if err := validateHostFile("binary", t.Binary); err != nil {
		return err
	}
	if t.Recipe != "" {
		if err := validateNoParentDirs("recipe", t.Recipe); err != nil {
			return err
		}
		if err := validateHostFile("recipe", t.Recipe); err != nil {
			return err
		}
	}
	return nil
}

// Execute copies the binary and recipe into the rootfs and runs
// "<binary> local <recipe>" inside the context.
func (t *RecipeTask) Execute(ctx isolation.Context, dryRun bool) error {
	priv, err := t.Privilege.Resolved()
	if err != nil {
		return err
	}
	recipe, err := t.recipeSource()
	if err != nil {
		return err
	}

	binName := uniqueName("debforge-", "")
	recipeName := uniqueName("recipe-", ".rb")
	binHost := filepath.Join(ctx.Rootfs(), "tmp", binName)
	recipeHost := filepath.Join(ctx.Rootfs(), "tmp", recipeName)
	binGuard := &tempFile{path: binHost, dryRun: dryRun}
	defer binGuard.Remove()
	recipeGuard := &tempFile{path: recipeHost, dryRun: dryRun}
	defer recipeGuard.Remove()

	if !dryRun {
		if err := checkTmpDir(ctx.Rootfs()); err != nil {
			return err
		}
		binData, err := os.ReadFile(t.Binary)
		if err != nil {
			return errdefs.IO(fmt.Sprintf("reading binary %q", t.Binary), err)
		}
		if err := writeRootfsFile(binHost, binData, 0o700); err != nil {
			return err
		}
		if err := writeRootfsFile(recipeHost, recipe, 0o600); err != nil {
			return err
		}
	} else {
		slog.Info("dry run: would copy recipe binary", "path", binHost)
	}

	result, err := ctx.Execute([]string{"/tmp/" + binName, "local", "/tmp/" + recipeName}, priv)
	if err != nil {
		return err
	}
	return checkResult(fmt.Sprintf("/tmp/%s local /tmp/%s", binName, recipeName), result)
}

func (t *RecipeTask) recipeSource() ([]byte, error) {
	if t.Content != "" {
		return []byte(t.Content), nil
	}
	data, err := os.ReadFile(t.Recipe)
	if err != nil {
		return nil, errdefs.IO(fmt.Sprintf("reading recipe %q", t.Recipe), err)
	}
	return data, nil
}
