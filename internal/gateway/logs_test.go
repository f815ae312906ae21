package gateway

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogLevel_ClassifiesBySubstring(t *testing.T) {
	assert.Equal(t, "error", logLevel("2026-07-31 ERROR something broke"))
	assert.Equal(t, "error", logLevel("panic: nil pointer"))
	assert.Equal(t, "warn", logLevel("WARN deprecated flag"))
	assert.Equal(t, "info", logLevel("listening on :3000"))
}

type fakeWSWriter struct {
	mu     sync.Mutex
	writes []interface{}
}

func (f *fakeWSWriter) WriteJSON(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, v)
	return nil
}

func (f *fakeWSWriter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func TestFlushLogLines_BatchesWithinInterval(t *testing.T) {
	g := &Gateway{}
	ctx, cancel := context.WithCancel(context.Background())

	lines := make(chan string, 8)
	lines <- "one"
	lines <- "two"
	lines <- "three"

	writer := &fakeWSWriter{}
	done := make(chan struct{})
	go func() {
		g.flushLogLines(ctx, writer, lines)
		close(done)
	}()

	require.Eventually(t, func() bool { return writer.count() >= 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	// All three lines should have been coalesced into very few JSON frames,
	// not one frame per line.
	assert.Less(t, writer.count(), 3)
}

func TestFlushLogLines_FlushesRemainderOnClose(t *testing.T) {
	g := &Gateway{}
	ctx := context.Background()

	lines := make(chan string, 1)
	lines <- "last line"
	close(lines)

	writer := &fakeWSWriter{}
	g.flushLogLines(ctx, writer, lines)

	require.Equal(t, 1, writer.count())
}
