package pty

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport is an in-memory stand-in for a websocket connection, used
// to exercise Session without a gateway.
type fakeTransport struct {
	mu       sync.Mutex
	output   [][]byte
	controls []interface{}
	buffered int
}

func (f *fakeTransport) SendOutput(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.output = append(f.output, append([]byte(nil), data...))
	return nil
}

func (f *fakeTransport) SendControl(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.controls = append(f.controls, v)
	return nil
}

func (f *fakeTransport) BufferedAmount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buffered
}

func (f *fakeTransport) controlTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var types []string
	for _, c := range f.controls {
		if m, ok := c.(map[string]string); ok {
			types = append(types, m["type"])
		}
	}
	return types
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Fail(t, "condition not met before timeout")
}

func newEchoSession(t *testing.T, id string) *Session {
	t.Helper()
	return NewSession(id, "demo", AgentShell, []string{"cat"})
}

func TestSession_AttachSpawnsOnFirstCall(t *testing.T) {
	s := newEchoSession(t, "sess-1")
	transport := &fakeTransport{}

	require.NoError(t, s.Attach(transport))
	assert.Equal(t, StatusAttached, s.Status())

	s.Destroy()
}

func TestSession_SecondAttachSendsTakeoverToFirst(t *testing.T) {
	s := newEchoSession(t, "sess-2")
	first := &fakeTransport{}
	second := &fakeTransport{}

	require.NoError(t, s.Attach(first))
	require.NoError(t, s.Attach(second))

	waitFor(t, time.Second, func() bool {
		return len(first.controlTypes()) > 0
	})
	assert.Contains(t, first.controlTypes(), "takeover")

	s.Destroy()
}

func TestSession_ClientPauseResumeTogglesPausedState(t *testing.T) {
	s := newEchoSession(t, "sess-3")
	transport := &fakeTransport{}
	require.NoError(t, s.Attach(transport))

	require.NoError(t, s.HandleInput([]byte(`{"type":"pause"}`)))

	s.mu.Lock()
	paused := s.paused()
	s.mu.Unlock()
	assert.True(t, paused)

	require.NoError(t, s.HandleInput([]byte(`{"type":"resume"}`)))
	s.mu.Lock()
	paused = s.paused()
	s.mu.Unlock()
	assert.False(t, paused)

	s.Destroy()
}

func TestSession_ResizeUpdatesScreenDimensions(t *testing.T) {
	s := newEchoSession(t, "sess-4")
	transport := &fakeTransport{}
	require.NoError(t, s.Attach(transport))

	require.NoError(t, s.HandleInput([]byte(`{"type":"resize","cols":100,"rows":40}`)))

	serialized, cols, rows, err := s.CaptureState()
	require.NoError(t, err)
	require.NotEmpty(t, serialized)
	assert.Equal(t, 100, cols)
	assert.Equal(t, 40, rows)

	s.Destroy()
}

func TestSession_DetachMarksDisconnectedWithoutKillingProcess(t *testing.T) {
	s := newEchoSession(t, "sess-5")
	transport := &fakeTransport{}
	require.NoError(t, s.Attach(transport))

	s.Detach(transport)

	assert.Equal(t, StatusDisconnected, s.Status())
	assert.False(t, s.DisconnectedAt().IsZero())

	s.Destroy()
	assert.Equal(t, StatusDestroyed, s.Status())
}

func TestParseControlMessage_RejectsUnknownType(t *testing.T) {
	_, ok := parseControlMessage([]byte(`{"type":"frobnicate"}`))
	assert.False(t, ok)
}

func TestParseControlMessage_RejectsRawInput(t *testing.T) {
	_, ok := parseControlMessage([]byte("ls -la\n"))
	assert.False(t, ok)
}
