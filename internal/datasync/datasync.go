// Package datasync copies a workspace's volume surface — named Docker
// volumes and bind-mount directories — to a target workspace, with
// include/exclude filters and per-volume progress reporting.
//
// New code (the teacher never moves data between worktrees). The ephemeral
// copy-container strategy is grounded on the teacher dockerx.RunContainer's
// exec-invocation style; the bind-mount strategy on the teacher's own
// os.MkdirAll/os.Stat conventions (gitwt.IsWorktree uses the same pattern
// to probe existence without exceptions).
package datasync

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/forgeware/forge/internal/containerrt"
	"github.com/forgeware/forge/internal/model"
)

// ProgressFunc receives (volumeName, bytesCopied, bytesTotal) at least
// twice per volume: once at bytesCopied=0, once at bytesCopied==bytesTotal.
type ProgressFunc func(volumeName string, bytesCopied, bytesTotal int64)

// Filter controls which volumes from the input set are actually copied.
type Filter struct {
	// SkipAll short-circuits to zero operations when true.
	SkipAll bool

	// Include, if non-empty, is a whitelist of logical volume names.
	Include []string

	// Exclude is a blacklist applied after Include (include ∩ exclude excludes).
	Exclude []string
}

func (f Filter) allows(name string) bool {
	if len(f.Include) > 0 && !contains(f.Include, name) {
		return false
	}
	if contains(f.Exclude, name) {
		return false
	}
	return true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// VolumeError records a single volume's copy failure without aborting the
// rest of the run.
type VolumeError struct {
	Volume string `json:"volume"`
	Error  string `json:"error"`
}

// Result is the aggregate outcome of a Copy run.
type Result struct {
	Copied  []string      `json:"copied"`
	Skipped []string      `json:"skipped"`
	Errors  []VolumeError `json:"errors"`
}

// Syncer performs volume copies between two workspaces using a
// containerrt.Runtime for named-volume operations.
type Syncer struct {
	runtime *containerrt.Runtime
}

// NewSyncer constructs a Syncer bound to the given runtime.
func NewSyncer(runtime *containerrt.Runtime) *Syncer {
	return &Syncer{runtime: runtime}
}

// WorkspaceRef identifies one side of a Copy: Name is the compose project
// name used to prefix named-volume lookups (the same identifier engine.go
// uses as COMPOSE_PROJECT_NAME), Path is the on-disk workspace directory
// used to resolve bind mounts. Named volumes use only Name and bind mounts
// use only Path; for the main workspace they differ (Name "main", Path the
// repository root).
type WorkspaceRef struct {
	Name string
	Path string
}

// Copy copies every volume in volumes from source to target, subject to
// filter, reporting progress via onProgress (which may be nil).
func (s *Syncer) Copy(ctx context.Context, source, target WorkspaceRef, volumes []model.Volume, filter Filter, onProgress ProgressFunc) Result {
	result := Result{}

	if filter.SkipAll {
		for _, v := range volumes {
			result.Skipped = append(result.Skipped, v.LogicalName)
		}
		return result
	}

	for _, v := range volumes {
		if !filter.allows(v.LogicalName) {
			result.Skipped = append(result.Skipped, v.LogicalName)
			continue
		}

		var err error
		switch v.Type {
		case model.VolumeTypeNamed:
			err = s.copyNamedVolume(ctx, source.Name, target.Name, v, onProgress)
		case model.VolumeTypeBind:
			err = s.copyBindMount(ctx, source.Path, target.Path, v, onProgress)
		default:
			err = fmt.Errorf("unknown volume type %q", v.Type)
		}

		if err != nil {
			result.Errors = append(result.Errors, VolumeError{Volume: v.LogicalName, Error: err.Error()})
			continue
		}
		result.Copied = append(result.Copied, v.LogicalName)
	}

	return result
}

func prefixedVolumeName(workspace, logicalName string) string {
	return workspace + "_" + logicalName
}

// copyNamedVolume ensures the target named volume exists, then runs an
// ephemeral helper container that mounts the source read-only and the
// target writable, recursively copying with attribute preservation.
// sourceProject/targetProject are compose project names, not paths.
func (s *Syncer) copyNamedVolume(ctx context.Context, sourceProject, targetProject string, v model.Volume, onProgress ProgressFunc) error {
	sourceVol := prefixedVolumeName(sourceProject, v.LogicalName)
	targetVol := prefixedVolumeName(targetProject, v.LogicalName)

	if onProgress != nil {
		onProgress(v.LogicalName, 0, 0)
	}

	if err := s.runtime.CommandContext(ctx, s.runtime.CLI(), "volume", "inspect", sourceVol).Run(); err != nil {
		return fmt.Errorf("source volume %q does not exist", sourceVol)
	}

	if err := s.runtime.CommandContext(ctx, s.runtime.CLI(), "volume", "create", targetVol).Run(); err != nil {
		return fmt.Errorf("create target volume %q: %w", targetVol, err)
	}

	args := []string{
		"run", "--rm",
		"-v", sourceVol + ":/forge-source:ro",
		"-v", targetVol + ":/forge-target",
		"alpine:latest",
		"sh", "-c", "cp -a /forge-source/. /forge-target/",
	}
	cmd := s.runtime.CommandContext(ctx, s.runtime.CLI(), args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("copy volume %s -> %s: %w: %s", sourceVol, targetVol, err, string(out))
	}

	total, _ := DiskUsage(targetMountpointGuess(targetVol))
	if onProgress != nil {
		onProgress(v.LogicalName, total.UsedBytes, total.UsedBytes)
	}
	return nil
}

// targetMountpointGuess is best-effort: Docker/Podman don't expose a
// volume's host path uniformly across drivers, so a zero usage report
// ("no data known") is an accepted fallback.
func targetMountpointGuess(string) string { return "" }

// copyBindMount resolves source/target to absolute paths under each
// workspace directory, creates the target directory, and copies with the
// best available directory-aware tool.
func (s *Syncer) copyBindMount(ctx context.Context, sourceDir, targetDir string, v model.Volume, onProgress ProgressFunc) error {
	sourcePath := filepath.Join(sourceDir, v.LogicalName)
	targetPath := filepath.Join(targetDir, v.LogicalName)

	if onProgress != nil {
		onProgress(v.LogicalName, 0, 0)
	}

	if _, err := os.Stat(sourcePath); err != nil {
		return fmt.Errorf("source bind mount %s does not exist: %w", sourcePath, err)
	}

	if err := os.MkdirAll(targetPath, 0o755); err != nil {
		return fmt.Errorf("create target directory %s: %w", targetPath, err)
	}

	if err := copyDirectory(ctx, sourcePath, targetPath); err != nil {
		return err
	}

	usage, _ := DiskUsage(targetPath)
	if onProgress != nil {
		onProgress(v.LogicalName, usage.UsedBytes, usage.UsedBytes)
	}
	return nil
}

// copyDirectory prefers `cp -a` (preserves attributes, available on every
// Unix this tool targets) and falls back to a portable recursive copy
// written in pure Go when `cp` is unavailable.
func copyDirectory(ctx context.Context, src, dst string) error {
	if _, err := exec.LookPath("cp"); err == nil {
		cmd := exec.CommandContext(ctx, "cp", "-a", src+"/.", dst+"/")
		if out, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("cp -a %s -> %s: %w: %s", src, dst, err, string(out))
		}
		return nil
	}
	return portableCopyDir(src, dst)
}

func portableCopyDir(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(src, path)
		if relErr != nil {
			return relErr
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode())
		}
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return readErr
		}
		return os.WriteFile(target, data, info.Mode())
	})
}

// ResetVolume destructively removes then recreates a single named volume.
// Removal failure because the volume was already absent is not an error;
// creation always runs.
func (s *Syncer) ResetVolume(ctx context.Context, workspace, logicalName string) error {
	name := prefixedVolumeName(workspace, logicalName)

	_ = s.runtime.CommandContext(ctx, s.runtime.CLI(), "volume", "rm", "-f", name).Run()

	if err := s.runtime.CommandContext(ctx, s.runtime.CLI(), "volume", "create", name).Run(); err != nil {
		return fmt.Errorf("recreate volume %q: %w", name, err)
	}
	return nil
}
