// Package containerrt discovers which container CLI is usable on the host
// and hands back ready-to-exec argument vectors. Only Discover runs
// commands (the version, liveness and compose probes); command construction
// never runs anything — callers (dockerx, datasync, engine) own process
// execution of the commands it builds. The package answers "which binary,
// which compose dialect, does it need elevation".
//
// Grounded on the teacher dockerx package's detectDockerHost socket-probing
// cascade, generalized from "find the Docker socket" to "find a usable
// runtime": a podman branch and a compose v1/v2/podman-compose probe are
// added on top of the same probe-in-priority-order shape.
package containerrt

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Kind identifies the underlying container engine.
type Kind string

const (
	KindDocker Kind = "docker"
	KindPodman Kind = "podman"
)

// ComposeDialect identifies which compose invocation style is available.
type ComposeDialect string

const (
	ComposeV2     ComposeDialect = "docker-compose-v2" // `docker compose`
	ComposeV1     ComposeDialect = "docker-compose-v1" // `docker-compose`
	ComposePodman ComposeDialect = "podman-compose"
)

// Runtime is the resolved command-construction contract for one process
// lifetime. It is immutable once Discover returns.
type Runtime struct {
	kind       Kind
	compose    ComposeDialect
	elevation  bool
	transcript []string
}

// Kind returns the discovered container engine.
func (r *Runtime) Kind() Kind { return r.kind }

// NeedsElevation reports whether command construction should prefix
// invocations with a privilege-escalation wrapper. CommandContext applies
// it by prefixing "sudo".
func (r *Runtime) NeedsElevation() bool { return r.elevation }

// Transcript returns the ordered probe log collected during discovery,
// useful for the "no runtime available" error and for diagnostics.
func (r *Runtime) Transcript() []string { return r.transcript }

// CLI returns the base executable name for direct (non-compose) invocations.
func (r *Runtime) CLI() string {
	return string(r.kind)
}

// CommandContext builds an exec.Cmd for name/args, prefixing with "sudo"
// when discovery determined the runtime needs elevation. Callers (dockerx)
// should always go through this rather than exec.CommandContext directly,
// so NeedsElevation's decision actually reaches the invocation.
func (r *Runtime) CommandContext(ctx context.Context, name string, args ...string) *exec.Cmd {
	if !r.elevation {
		return exec.CommandContext(ctx, name, args...)
	}
	full := make([]string, 0, len(args)+1)
	full = append(full, name)
	full = append(full, args...)
	return exec.CommandContext(ctx, "sudo", full...)
}

// Compose returns the argv prefix (before subcommand args) for compose
// invocations — e.g. ["docker", "compose"] or ["podman-compose"].
func (r *Runtime) Compose() []string {
	switch r.compose {
	case ComposeV2:
		return []string{"docker", "compose"}
	case ComposeV1:
		return []string{"docker-compose"}
	case ComposePodman:
		return []string{"podman-compose"}
	default:
		return []string{"docker", "compose"}
	}
}

// Forced pins a Kind, skipping discovery. Used when config.json's
// containerRuntime field names a runtime explicitly.
type Forced struct {
	Kind Kind
}

// Discover runs a deterministic cascade: if
// forced is non-nil, require that runtime or fail; otherwise probe docker,
// then podman, recording a transcript as it goes.
func Discover(ctx context.Context, forced *Forced) (*Runtime, error) {
	var transcript []string
	probe := func(format string, args ...interface{}) {
		transcript = append(transcript, fmt.Sprintf(format, args...))
	}

	if forced != nil {
		probe("forced runtime: %s", forced.Kind)
		rt, err := discoverOne(ctx, forced.Kind, probe)
		if err != nil {
			return nil, fmt.Errorf("forced runtime %s unusable: %w\n%s", forced.Kind, err, strings.Join(transcript, "\n"))
		}
		rt.transcript = append([]string(nil), transcript...)
		return rt, nil
	}

	if rt, err := discoverOne(ctx, KindDocker, probe); err == nil {
		rt.transcript = append([]string(nil), transcript...)
		return rt, nil
	}

	if rt, err := discoverOne(ctx, KindPodman, probe); err == nil {
		rt.transcript = append([]string(nil), transcript...)
		return rt, nil
	}

	return nil, fmt.Errorf("no usable container runtime found (tried docker, podman):\n%s", strings.Join(transcript, "\n"))
}

func discoverOne(ctx context.Context, kind Kind, probe func(string, ...interface{})) (*Runtime, error) {
	versionCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := exec.CommandContext(versionCtx, string(kind), "--version").Run(); err != nil {
		probe("%s --version: unavailable (%v)", kind, err)
		return nil, fmt.Errorf("%s not found: %w", kind, err)
	}
	probe("%s --version: ok", kind)

	elevation := false
	switch kind {
	case KindDocker:
		liveCtx, liveCancel := context.WithTimeout(ctx, 5*time.Second)
		defer liveCancel()
		if err := exec.CommandContext(liveCtx, "docker", "ps").Run(); err != nil {
			probe("docker ps: failed (%v), retrying with elevation", err)
			if sudoErr := exec.CommandContext(liveCtx, "sudo", "-n", "docker", "ps").Run(); sudoErr != nil {
				probe("sudo docker ps: failed (%v)", sudoErr)
				return nil, fmt.Errorf("docker not usable: %w", sudoErr)
			}
			probe("sudo docker ps: ok")
			elevation = true
		} else {
			probe("docker ps: ok")
		}
	case KindPodman:
		rootlessCtx, rootlessCancel := context.WithTimeout(ctx, 5*time.Second)
		defer rootlessCancel()
		out, err := exec.CommandContext(rootlessCtx, "podman", "info", "--format", "{{.Host.Security.Rootless}}").Output()
		if err != nil {
			probe("podman info: failed (%v), assuming rootful", err)
			elevation = true
		} else if strings.TrimSpace(string(out)) != "true" {
			probe("podman info: rootful, elevation required")
			elevation = true
		} else {
			probe("podman info: rootless, no elevation required")
		}
	}

	compose, err := discoverCompose(ctx, kind, probe)
	if err != nil {
		return nil, err
	}

	return &Runtime{kind: kind, compose: compose, elevation: elevation}, nil
}

func discoverCompose(ctx context.Context, kind Kind, probe func(string, ...interface{})) (ComposeDialect, error) {
	if kind == KindPodman {
		podCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := exec.CommandContext(podCtx, "podman-compose", "--version").Run(); err == nil {
			probe("podman-compose --version: ok")
			return ComposePodman, nil
		}
		probe("podman-compose --version: unavailable")
		return "", fmt.Errorf("podman found but no compose dialect available")
	}

	v2Ctx, v2Cancel := context.WithTimeout(ctx, 5*time.Second)
	defer v2Cancel()
	if err := exec.CommandContext(v2Ctx, "docker", "compose", "version").Run(); err == nil {
		probe("docker compose version: ok (v2)")
		return ComposeV2, nil
	}
	probe("docker compose version: unavailable")

	v1Ctx, v1Cancel := context.WithTimeout(ctx, 5*time.Second)
	defer v1Cancel()
	if err := exec.CommandContext(v1Ctx, "docker-compose", "--version").Run(); err == nil {
		probe("docker-compose --version: ok (v1)")
		return ComposeV1, nil
	}
	probe("docker-compose --version: unavailable")

	return "", fmt.Errorf("docker found but no compose dialect available")
}
