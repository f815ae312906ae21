// Package engine implements the WorkspaceEngine: the orchestrator that
// turns a branch name into a running, port-allocated, container-backed
// workspace and tears it back down again.
//
// Grounded on the teacher's internal/cli/{create,list,remove,start,stop}.go
// step sequencing (worktree add -> port allocate -> env materialize ->
// compose up) but re-architected the way a long-running daemon needs: the
// teacher's direct fmt.Println/cobra-command calls become a typed
// model.ProgressEvent channel a caller (the gateway, or a synchronous CLI
// command) drains, and the whole pipeline is a method on a struct rather
// than free functions closed over cobra flags.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"

	"github.com/forgeware/forge/internal/composevol"
	"github.com/forgeware/forge/internal/containerrt"
	"github.com/forgeware/forge/internal/datasync"
	"github.com/forgeware/forge/internal/devcontainer"
	"github.com/forgeware/forge/internal/dockerx"
	"github.com/forgeware/forge/internal/gitwt"
	"github.com/forgeware/forge/internal/model"
	"github.com/forgeware/forge/internal/portregistry"
)

// worktreesDirName is the fixed subdirectory every non-main workspace lives
// under, per spec.md §3's invariant that every non-main workspace's path is
// a direct child of ".worktrees/".
const worktreesDirName = ".worktrees"

// convergeTimeout bounds how long Create waits for a compose stack to reach
// a terminal state before treating it as a timeout error (spec.md §4.5
// step 6, §7's "timeout" error kind).
const convergeTimeout = 3 * time.Minute

const convergePollInterval = 1 * time.Second

// listCacheTTL bounds how long List() reuses its last snapshot before
// re-querying git/containers, per spec.md §4.5's "cached with a short TTL"
// requirement.
const listCacheTTL = 3 * time.Second

// Engine drives workspace Create/Delete/List. It composes every
// lower-level subsystem named in spec.md §2's dependency table except
// PtySessionMgr, which the gateway wires directly to terminal attach
// requests.
type Engine struct {
	RepoRoot string
	Runtime  *containerrt.Runtime

	git    *gitwt.Manager
	ports  *portregistry.Registry
	syncer *datasync.Syncer
	docker *dockerx.Client

	cacheMu  sync.Mutex
	cached   []model.Workspace
	cachedAt time.Time
}

// New constructs an Engine bound to repoRoot (the main checkout) and the
// already-discovered runtime/registry/docker client.
func New(repoRoot string, runtime *containerrt.Runtime, ports *portregistry.Registry, docker *dockerx.Client) *Engine {
	return &Engine{
		RepoRoot: repoRoot,
		Runtime:  runtime,
		git:      gitwt.NewManager(),
		ports:    ports,
		syncer:   datasync.NewSyncer(runtime),
		docker:   docker,
	}
}

// worktreesDir returns "<repoRoot>/.worktrees".
func (e *Engine) worktreesDir() string {
	return filepath.Join(e.RepoRoot, worktreesDirName)
}

// SanitizeName derives a workspace name from a branch name by replacing
// path separators, matching the data model's "name (stable identifier,
// derived from branch name with / -> -)". Exported so callers (the gateway)
// can pre-compute the name a Create call will use, e.g. to check for a
// conflict before launching the pipeline.
func SanitizeName(branch string) string {
	return strings.ReplaceAll(branch, "/", "-")
}

func emit(events chan<- model.ProgressEvent, workspace string, step model.ProgressStep, status model.WorkspaceStatus, message string, err error) {
	if events == nil {
		return
	}
	ev := model.ProgressEvent{
		Workspace: workspace,
		Step:      step,
		Status:    status,
		Message:   message,
		Time:      time.Now(),
	}
	if err != nil {
		ev.Err = err.Error()
	}
	events <- ev
}

// CreateOptions carries the optional parameters of Create beyond the
// required branch name.
type CreateOptions struct {
	// FromBranch is the base ref for a brand-new branch. Empty means HEAD.
	FromBranch string

	// Name overrides the derived workspace name.
	Name string

	// Agent selects the default interactive program wired to the
	// workspace's primary PTY session once the gateway attaches to it.
	Agent string

	// Force allows Create to proceed even if a workspace by this name
	// already exists and is in a non-ready state (spec.md §6's
	// POST /api/worktrees?force=true).
	Force bool

	// DataSync controls the optional volume copy from the main workspace
	// (spec.md §4.5 step 5). A zero value (SkipAll=false, no filters)
	// copies every declared volume.
	DataSync datasync.Filter
}

// Create runs the full ordered pipeline from spec.md §4.5, emitting one
// model.ProgressEvent per step onto events (which may be nil to run
// silently). Callers that want asynchronous "202 Accepted" semantics run
// Create in a goroutine and drain events from elsewhere; the event stream,
// not the return value, is the canonical record of what happened.
func (e *Engine) Create(ctx context.Context, branchName string, opts CreateOptions) (*model.Workspace, error) {
	name := opts.Name
	if name == "" {
		name = SanitizeName(branchName)
	}
	events := eventsFromContext(ctx)

	if err := model.ValidateName(name); err != nil {
		return nil, model.WrapCLIError(model.ExitInvalidInput, "invalid workspace name", err)
	}
	emit(events, name, model.StepResolveName, model.WorkspaceCreating, "resolving workspace name", nil)

	worktreePath := filepath.Join(e.worktreesDir(), name)
	if _, err := os.Stat(worktreePath); err == nil {
		if !opts.Force {
			return nil, model.NewCLIError(model.ExitConflict, fmt.Sprintf("workspace %q already exists", name))
		}
		emit(events, name, model.StepRollback, model.WorkspaceCreating, "force: removing pre-existing workspace", nil)
		if delErr := e.Delete(ctx, name); delErr != nil {
			return nil, model.WrapCLIError(model.ExitConflict, fmt.Sprintf("force-recreate: failed to remove existing workspace %q", name), delErr)
		}
	}

	ws := &model.Workspace{
		Name:      name,
		Path:      worktreePath,
		Branch:    branchName,
		Status:    model.WorkspaceCreating,
		Agent:     opts.Agent,
		Ports:     map[string]int{},
		CreatedAt: time.Now(),
	}

	// Step 2: git worktree add.
	emit(events, name, model.StepWorktreeAdd, model.WorkspaceCreating, "creating git worktree", nil)
	if err := os.MkdirAll(e.worktreesDir(), 0o755); err != nil {
		return e.failCreate(ctx, ws, events, model.StepWorktreeAdd, model.WrapCLIError(model.ExitIO, "create .worktrees directory", err))
	}
	if err := e.git.Add(e.RepoRoot, branchName, worktreePath, opts.FromBranch); err != nil {
		return e.failCreate(ctx, ws, events, model.StepWorktreeAdd, err)
	}
	ws.ProgressLog = append(ws.ProgressLog, "git worktree created at "+worktreePath)

	// Step 3/4: discover declared services/ports, allocate, write .env.
	devPath, composeFiles, ports, err := e.discoverServices(worktreePath, name)
	if err != nil {
		return e.failCreate(ctx, ws, events, model.StepAllocatePorts, err)
	}

	emit(events, name, model.StepAllocatePorts, model.WorkspaceCreating, "allocating ports", nil)
	for _, p := range ports {
		basePort := p.ContainerPort
		if p.HostPort > 0 {
			basePort = p.HostPort
		}
		host, err := e.ports.Allocate(name, p.ServiceName, basePort)
		if err != nil {
			return e.failCreate(ctx, ws, events, model.StepAllocatePorts, model.WrapCLIError(model.ExitPortAllocationFailed, "allocate port for "+p.ServiceName, err))
		}
		ws.Ports[p.ServiceName] = host
	}
	ws.ProgressLog = append(ws.ProgressLog, fmt.Sprintf("allocated %d port(s)", len(ws.Ports)))

	emit(events, name, model.StepWriteEnv, model.WorkspaceCreating, "writing .env", nil)
	if err := writeEnvIfAbsent(worktreePath, ws.Ports); err != nil {
		return e.failCreate(ctx, ws, events, model.StepWriteEnv, model.WrapCLIError(model.ExitIO, "write .env", err))
	}

	// Step 5: optional data sync from the main workspace.
	if !opts.DataSync.SkipAll {
		emit(events, name, model.StepDataSync, model.WorkspaceCreating, "copying data volumes", nil)
		if len(composeFiles) > 0 {
			volumes, volErr := composevol.Inspect(ctx, filepath.Dir(devPath), composeFiles)
			if volErr == nil && len(volumes) > 0 {
				source := datasync.WorkspaceRef{Name: "main", Path: e.RepoRoot}
				target := datasync.WorkspaceRef{Name: name, Path: worktreePath}
				result := e.syncer.Copy(ctx, source, target, volumes, opts.DataSync, nil)
				ws.ProgressLog = append(ws.ProgressLog, fmt.Sprintf("data sync: copied=%d skipped=%d errors=%d", len(result.Copied), len(result.Skipped), len(result.Errors)))
			}
		}
	} else {
		emit(events, name, model.StepDataSync, model.WorkspaceCreating, "skipping data sync", nil)
	}

	// Step 6: compose up + convergence.
	emit(events, name, model.StepComposeUp, model.WorkspaceCreating, "starting containers", nil)
	projectDir := filepath.Dir(devPath)
	envVars := map[string]string{"COMPOSE_PROJECT_NAME": name}
	if err := dockerx.ComposeUp(ctx, e.Runtime, projectDir, composeFiles, envVars); err != nil {
		return e.failCreate(ctx, ws, events, model.StepComposeUp, err)
	}

	emit(events, name, model.StepConverge, model.WorkspaceCreating, "waiting for containers to converge", nil)
	if err := e.waitConverged(ctx, name); err != nil {
		return e.failCreate(ctx, ws, events, model.StepConverge, err)
	}

	ws.Status = model.WorkspaceReady
	ws.ProgressLog = append(ws.ProgressLog, "workspace ready")
	emit(events, name, model.StepDone, model.WorkspaceReady, "workspace ready", nil)

	e.invalidateCache()
	return ws, nil
}

// failCreate runs the rollback path (spec.md §4.5 step 7) and returns the
// original error wrapped for the caller.
func (e *Engine) failCreate(ctx context.Context, ws *model.Workspace, events chan<- model.ProgressEvent, step model.ProgressStep, cause error) (*model.Workspace, error) {
	ws.Status = model.WorkspaceError
	emit(events, ws.Name, step, model.WorkspaceError, "step failed", cause)

	emit(events, ws.Name, model.StepRollback, model.WorkspaceError, "rolling back", nil)
	_ = e.ports.Release(ws.Name)

	devPath, composeFiles, _, discoverErr := e.discoverServices(ws.Path, ws.Name)
	if discoverErr == nil {
		_ = dockerx.ComposeDown(ctx, e.Runtime, filepath.Dir(devPath), composeFiles, true)
	}

	if _, statErr := os.Stat(ws.Path); statErr == nil {
		_ = e.git.Remove(e.RepoRoot, ws.Path, true)
	}

	e.invalidateCache()
	return ws, cause
}

// discoverServices locates the workspace's devcontainer.json (if any),
// parses its declared compose files and ports. A workspace with no
// devcontainer.json is not an error — it simply declares no services and
// Create proceeds with zero allocations and no compose invocation.
func (e *Engine) discoverServices(worktreePath, defaultServiceName string) (devcontainerPath string, composeFiles []string, ports []model.PortSpec, err error) {
	devPath, findErr := devcontainer.FindDevContainerJSON(worktreePath)
	if findErr != nil {
		return worktreePath, nil, nil, nil
	}
	raw, loadErr := devcontainer.LoadConfig(devPath)
	if loadErr != nil {
		return devPath, nil, nil, model.WrapCLIError(model.ExitInvalidInput, "parse devcontainer.json", loadErr)
	}
	composeFiles = devcontainer.GetComposeFiles(raw)
	ports = devcontainer.ExtractPorts(raw, defaultServiceName)
	return devPath, composeFiles, ports, nil
}

// workspacePath resolves name to its on-disk checkout: the main repo root
// for "main", otherwise the .worktrees/<name> path every other workspace
// lives under.
func (e *Engine) workspacePath(name string) string {
	if name == "main" {
		return e.RepoRoot
	}
	return filepath.Join(e.worktreesDir(), name)
}

// StartServices runs "compose up -d" for name's declared services,
// serving POST /api/worktrees/<name>/services/start.
func (e *Engine) StartServices(ctx context.Context, name string) error {
	devPath, composeFiles, _, err := e.discoverServices(e.workspacePath(name), name)
	if err != nil {
		return err
	}
	return dockerx.ComposeUp(ctx, e.Runtime, filepath.Dir(devPath), composeFiles, map[string]string{"COMPOSE_PROJECT_NAME": name})
}

// StopServices runs "compose stop" for name's declared services,
// serving POST /api/worktrees/<name>/services/stop.
func (e *Engine) StopServices(ctx context.Context, name string) error {
	devPath, composeFiles, _, err := e.discoverServices(e.workspacePath(name), name)
	if err != nil {
		return err
	}
	return dockerx.ComposeStop(ctx, e.Runtime, filepath.Dir(devPath), composeFiles)
}

// RestartServices runs "compose restart", optionally scoped to a single
// service, serving POST /api/worktrees/<name>/services/restart and
// .../services/<service>/restart.
func (e *Engine) RestartServices(ctx context.Context, name, service string) error {
	devPath, composeFiles, _, err := e.discoverServices(e.workspacePath(name), name)
	if err != nil {
		return err
	}
	if service == "" {
		return dockerx.ComposeRestart(ctx, e.Runtime, filepath.Dir(devPath), composeFiles)
	}
	return dockerx.ComposeRestart(ctx, e.Runtime, filepath.Dir(devPath), composeFiles, service)
}

// RebuildService rebuilds and recreates a single service's container,
// serving POST /api/worktrees/<name>/services/<service>/rebuild.
func (e *Engine) RebuildService(ctx context.Context, name, service string) error {
	if service == "" {
		return model.NewCLIError(model.ExitInvalidInput, "service name required")
	}
	devPath, composeFiles, _, err := e.discoverServices(e.workspacePath(name), name)
	if err != nil {
		return err
	}
	return dockerx.ComposeBuild(ctx, e.Runtime, filepath.Dir(devPath), composeFiles, service)
}

// writeEnvIfAbsent materializes "<SERVICE>_PORT=<port>" lines, one per
// allocated service, but only when no .env already exists (spec.md §4.5
// step 4: "never overwrite a user-authored file").
func writeEnvIfAbsent(worktreePath string, ports map[string]int) error {
	envPath := filepath.Join(worktreePath, ".env")
	if _, err := os.Stat(envPath); err == nil {
		return nil
	}

	names := make([]string, 0, len(ports))
	for svc := range ports {
		names = append(names, svc)
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, svc := range names {
		fmt.Fprintf(&sb, "%s_PORT=%d\n", strings.ToUpper(svc), ports[svc])
	}
	return os.WriteFile(envPath, []byte(sb.String()), 0o644)
}

// waitConverged polls container state for the given compose project until
// every container is either running or exited with code 0, or
// convergeTimeout elapses. Transient states (created, restarting) keep
// polling; exited-nonzero, dead are terminal errors.
func (e *Engine) waitConverged(ctx context.Context, projectName string) error {
	deadline := time.Now().Add(convergeTimeout)
	for {
		containers, err := e.listProjectContainers(ctx, projectName)
		if err != nil {
			return model.WrapCLIError(model.ExitDockerNotRunning, "list project containers", err)
		}
		if len(containers) == 0 {
			return model.NewCLIError(model.ExitTimeout, "no containers found for project "+projectName)
		}

		allTerminal := true
		for _, c := range containers {
			switch {
			case c.State == "running":
				// converged for this container
			case c.State == "exited" && c.Status == "Exited (0)" || (c.State == "exited" && strings.Contains(c.Status, "(0)")):
				// one-shot success
			case c.State == "created" || c.State == "restarting" || c.State == "removing":
				allTerminal = false
			default:
				return model.NewCLIError(model.ExitSubprocessFailed, fmt.Sprintf("container %v converged to error state %q", c.Names, c.State))
			}
		}
		if allTerminal {
			return nil
		}

		if time.Now().After(deadline) {
			return model.NewCLIError(model.ExitTimeout, "timed out waiting for containers to converge")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(convergePollInterval):
		}
	}
}

func (e *Engine) listProjectContainers(ctx context.Context, projectName string) ([]types.Container, error) {
	args := filters.NewArgs(filters.Arg("label", "com.docker.compose.project="+projectName))
	return e.docker.Inner().ContainerList(ctx, container.ListOptions{All: true, Filters: args})
}

// Delete tears a workspace down: compose down, git worktree remove, release
// ports. It protects the main workspace and anything outside .worktrees/,
// and is idempotent with respect to already-missing artifacts (spec.md
// §4.5's Delete contract).
func (e *Engine) Delete(ctx context.Context, name string) error {
	if name == "" || name == "main" {
		return model.NewCLIError(model.ExitInvalidInput, "cannot delete the main workspace")
	}

	worktreePath := filepath.Join(e.worktreesDir(), name)
	rel, err := filepath.Rel(e.worktreesDir(), worktreePath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return model.NewCLIError(model.ExitInvalidInput, "refusing to delete a path outside .worktrees/")
	}

	events := eventsFromContext(ctx)
	emit(events, name, model.StepComposeDown, model.WorkspaceCreating, "stopping containers", nil)

	devPath, composeFiles, _, discoverErr := e.discoverServices(worktreePath, name)
	if discoverErr == nil {
		if _, statErr := os.Stat(worktreePath); statErr == nil {
			if err := dockerx.ComposeDown(ctx, e.Runtime, filepath.Dir(devPath), composeFiles, true); err != nil {
				emit(events, name, model.StepComposeDown, model.WorkspaceError, "compose down failed, continuing", err)
			}
		}
	}

	emit(events, name, model.StepWorktreeRemove, model.WorkspaceCreating, "removing git worktree", nil)
	if _, statErr := os.Stat(worktreePath); statErr == nil {
		if err := e.git.Remove(e.RepoRoot, worktreePath, true); err != nil {
			return err
		}
	}

	emit(events, name, model.StepReleasePorts, model.WorkspaceCreating, "releasing ports", nil)
	if err := e.ports.Release(name); err != nil {
		return model.WrapCLIError(model.ExitIO, "release ports", err)
	}

	emit(events, name, model.StepDone, model.WorkspaceDeleted, "workspace deleted", nil)
	e.invalidateCache()
	return nil
}

// List parses `git worktree list --porcelain`, enriches each entry with
// ports/container-status/git-status, and caches the result for
// listCacheTTL so UI-refresh-rate polling does not storm git/docker.
func (e *Engine) List(ctx context.Context) ([]model.Workspace, error) {
	e.cacheMu.Lock()
	if time.Since(e.cachedAt) < listCacheTTL && e.cached != nil {
		cached := e.cached
		e.cacheMu.Unlock()
		return cached, nil
	}
	e.cacheMu.Unlock()

	infos, err := e.git.List(e.RepoRoot)
	if err != nil {
		return nil, err
	}

	worktrees := e.worktreesDir()
	workspaces := make([]model.Workspace, 0, len(infos))
	for _, info := range infos {
		if info.IsBare {
			continue
		}
		name := "main"
		if info.Path != e.RepoRoot {
			rel, relErr := filepath.Rel(worktrees, info.Path)
			if relErr != nil || strings.HasPrefix(rel, "..") {
				continue
			}
			name = rel
		}

		ws := model.Workspace{
			Name:   name,
			Path:   info.Path,
			Branch: strings.TrimPrefix(info.Branch, "refs/heads/"),
			Status: model.WorkspaceReady,
			Ports:  e.ports.GetPorts(name),
		}

		if dirty, ahead, behind, statusErr := e.git.Status(info.Path); statusErr == nil {
			ws.GitDirty = dirty
			ws.GitAhead = ahead
			ws.GitBehind = behind
		}

		if containers, cErr := e.listProjectContainers(ctx, name); cErr == nil && len(containers) > 0 {
			ws.Status = projectStatus(containers)
		}

		workspaces = append(workspaces, ws)
	}

	e.cacheMu.Lock()
	e.cached = workspaces
	e.cachedAt = time.Now()
	e.cacheMu.Unlock()

	return workspaces, nil
}

func projectStatus(containers []types.Container) model.WorkspaceStatus {
	for _, c := range containers {
		if c.State != "running" && c.State != "exited" {
			return model.WorkspaceCreating
		}
		if c.State == "exited" && !strings.Contains(c.Status, "(0)") {
			return model.WorkspaceError
		}
	}
	return model.WorkspaceReady
}

func (e *Engine) invalidateCache() {
	e.cacheMu.Lock()
	e.cached = nil
	e.cacheMu.Unlock()
}

// progressEventsKey is an unexported context key type so callers can thread
// a progress channel through Create/Delete without widening every method
// signature with an extra parameter.
type progressEventsKey struct{}

// WithEvents returns a context carrying events; Create and Delete emit onto
// it if present. This mirrors spec.md §9's "re-architect as a typed channel
// per workspace-creation task" note while keeping the exported method
// signatures small.
func WithEvents(ctx context.Context, events chan<- model.ProgressEvent) context.Context {
	return context.WithValue(ctx, progressEventsKey{}, events)
}

func eventsFromContext(ctx context.Context) chan<- model.ProgressEvent {
	events, _ := ctx.Value(progressEventsKey{}).(chan<- model.ProgressEvent)
	return events
}
