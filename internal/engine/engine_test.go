package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeware/forge/internal/model"
)

func TestSanitizeName_ReplacesSlashes(t *testing.T) {
	assert.Equal(t, "feature-auth", SanitizeName("feature/auth"))
	assert.Equal(t, "main", SanitizeName("main"))
}

func TestWriteEnvIfAbsent_WritesSortedPortLines(t *testing.T) {
	dir := t.TempDir()

	err := writeEnvIfAbsent(dir, map[string]int{"web": 3001, "api": 3000})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, ".env"))
	require.NoError(t, err)
	assert.Equal(t, "API_PORT=3000\nWEB_PORT=3001\n", string(data))
}

func TestWriteEnvIfAbsent_NeverOverwritesExisting(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("CUSTOM=1\n"), 0o644))

	err := writeEnvIfAbsent(dir, map[string]int{"api": 9999})
	require.NoError(t, err)

	data, err := os.ReadFile(envPath)
	require.NoError(t, err)
	assert.Equal(t, "CUSTOM=1\n", string(data), "an existing .env must never be overwritten")
}

func TestProjectStatus_AllRunningIsReady(t *testing.T) {
	containers := []types.Container{
		{State: "running"},
		{State: "running"},
	}
	assert.Equal(t, model.WorkspaceReady, projectStatus(containers))
}

func TestProjectStatus_ExitedZeroIsReady(t *testing.T) {
	containers := []types.Container{
		{State: "running"},
		{State: "exited", Status: "Exited (0) 2 minutes ago"},
	}
	assert.Equal(t, model.WorkspaceReady, projectStatus(containers))
}

func TestProjectStatus_ExitedNonzeroIsError(t *testing.T) {
	containers := []types.Container{
		{State: "exited", Status: "Exited (1) 2 minutes ago"},
	}
	assert.Equal(t, model.WorkspaceError, projectStatus(containers))
}

func TestProjectStatus_CreatedIsCreating(t *testing.T) {
	containers := []types.Container{
		{State: "created"},
	}
	assert.Equal(t, model.WorkspaceCreating, projectStatus(containers))
}

func TestDelete_RejectsMainWorkspace(t *testing.T) {
	e := &Engine{RepoRoot: t.TempDir()}
	err := e.Delete(context.Background(), "main")
	require.Error(t, err)
	var cliErr *model.CLIError
	require.ErrorAs(t, err, &cliErr)
	assert.Equal(t, model.ExitInvalidInput, cliErr.Code)
}

func TestDelete_RejectsEmptyName(t *testing.T) {
	e := &Engine{RepoRoot: t.TempDir()}
	err := e.Delete(context.Background(), "")
	require.Error(t, err)
}

func TestWithEvents_RoundTripsThroughContext(t *testing.T) {
	ch := make(chan model.ProgressEvent, 1)
	ctx := WithEvents(context.Background(), ch)

	got := eventsFromContext(ctx)
	require.NotNil(t, got)

	got <- model.ProgressEvent{Workspace: "x", Step: model.StepDone}
	ev := <-ch
	assert.Equal(t, "x", ev.Workspace)
}
