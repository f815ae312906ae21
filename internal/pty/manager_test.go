package pty

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_GetOrCreateIsIdempotentPerWorkspaceAndAgent(t *testing.T) {
	m := NewManager(t.TempDir(), 50*time.Millisecond)
	defer m.Close()

	a := m.GetOrCreate("demo", AgentShell, "sh")
	b := m.GetOrCreate("demo", AgentShell, "sh")
	c := m.GetOrCreate("demo", AgentClaude, "")

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
}

func TestManager_CaptureOneWritesStateFile(t *testing.T) {
	m := NewManager(t.TempDir(), time.Hour)
	defer m.Close()

	s := m.GetOrCreate("demo", AgentShell, "cat")
	transport := &fakeTransport{}
	require.NoError(t, s.Attach(transport))
	defer s.Destroy()

	require.NoError(t, m.captureOne(s))

	path := filepath.Join(m.sessionDir(s.ID), "pty-state.json")
	assert.FileExists(t, path)
}

func TestManager_LoadStateMissingFileIsNonFatal(t *testing.T) {
	m := NewManager(t.TempDir(), time.Hour)
	defer m.Close()

	screen, err := m.LoadState("does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, screen)
}

func TestManager_DestroyRemovesSessionAndStateDir(t *testing.T) {
	m := NewManager(t.TempDir(), time.Hour)
	defer m.Close()

	s := m.GetOrCreate("demo", AgentShell, "cat")
	transport := &fakeTransport{}
	require.NoError(t, s.Attach(transport))
	require.NoError(t, m.captureOne(s))

	require.NoError(t, m.Destroy(s.ID))

	_, ok := m.Get(s.ID)
	assert.False(t, ok)
	assert.NoFileExists(t, filepath.Join(m.sessionDir(s.ID), "pty-state.json"))
}

func TestManager_GCReapsOrphanedSessions(t *testing.T) {
	m := NewManager(t.TempDir(), time.Hour)
	defer m.Close()
	m.SetOrphanTimeout(10 * time.Millisecond)

	s := m.GetOrCreate("demo", AgentShell, "cat")
	transport := &fakeTransport{}
	require.NoError(t, s.Attach(transport))
	s.Detach(transport)

	time.Sleep(20 * time.Millisecond)
	m.GC()

	_, ok := m.Get(s.ID)
	assert.False(t, ok)
}
