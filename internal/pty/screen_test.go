package pty

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScreen_WriteSplitsOnNewline(t *testing.T) {
	s := NewScreen(80, 24)
	s.Write([]byte("hello\nworld"))

	assert.Equal(t, []byte("hello\nworld"), s.Contents())
	assert.Len(t, s.lines, 1)
	assert.Equal(t, "hello", string(s.lines[0]))
}

func TestScreen_SerializeRoundTrip(t *testing.T) {
	s := NewScreen(100, 40)
	s.Write([]byte("line one\nline two\npartial"))

	serialized, err := s.Serialize()
	require.NoError(t, err)

	restored := LoadScreen(serialized, 80, 24)
	cols, rows := restored.Dimensions()
	assert.Equal(t, 100, cols)
	assert.Equal(t, 40, rows)
	assert.Equal(t, s.Contents(), restored.Contents())
}

func TestScreen_ScrollbackIsBounded(t *testing.T) {
	s := NewScreen(80, 24)
	s.maxLines = 5
	for i := 0; i < 10; i++ {
		s.Write([]byte("line\n"))
	}
	assert.Len(t, s.lines, 5)
}

func TestLoadScreen_MalformedInputYieldsEmptyScreen(t *testing.T) {
	s := LoadScreen("not json", 80, 24)
	cols, rows := s.Dimensions()
	assert.Equal(t, 80, cols)
	assert.Equal(t, 24, rows)
	assert.Empty(t, s.Contents())
}
