package pty

import (
	"bytes"
	"encoding/json"
)

// defaultScrollback bounds how many lines screen.go retains. There is no
// VT100/xterm emulation library anywhere in the retrieved corpus (searched
// for vt10x, hinshun, libvterm, ecma48 — none present), and the spec only
// needs scrollback-bounded capture/restore of what was written, not
// cursor-addressed rendering, so this is a deliberately hand-rolled
// line buffer rather than a full terminal emulator.
const defaultScrollback = 2000

// Screen is an in-memory terminal emulator narrow enough to serve its one
// job: mirror PTY output for state capture/recovery. It tracks only
// dimensions and a bounded scrollback of raw bytes split on newlines; it
// does not interpret cursor-movement or color escape sequences.
type Screen struct {
	cols, rows int
	lines      [][]byte
	current    bytes.Buffer
	maxLines   int
}

// NewScreen creates a Screen sized cols x rows.
func NewScreen(cols, rows int) *Screen {
	return &Screen{cols: cols, rows: rows, maxLines: defaultScrollback}
}

// Resize updates the screen's reported dimensions. It does not reflow
// existing scrollback content.
func (s *Screen) Resize(cols, rows int) {
	s.cols, s.rows = cols, rows
}

// Write appends raw PTY output to the scrollback, splitting completed
// lines off into the bounded line buffer.
func (s *Screen) Write(p []byte) {
	for _, b := range p {
		if b == '\n' {
			line := append([]byte(nil), s.current.Bytes()...)
			s.lines = append(s.lines, line)
			if len(s.lines) > s.maxLines {
				s.lines = s.lines[len(s.lines)-s.maxLines:]
			}
			s.current.Reset()
			continue
		}
		s.current.WriteByte(b)
	}
}

type serializedScreen struct {
	Cols    int      `json:"cols"`
	Rows    int      `json:"rows"`
	Lines   []string `json:"lines"`
	Current string   `json:"current"`
}

// Serialize produces the opaque emulator state string referenced by
// pty-state.json's "serialized (opaque emulator state string)" field.
func (s *Screen) Serialize() (string, error) {
	payload := serializedScreen{
		Cols:    s.cols,
		Rows:    s.rows,
		Current: s.current.String(),
	}
	for _, l := range s.lines {
		payload.Lines = append(payload.Lines, string(l))
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// LoadScreen reconstructs a Screen from a string produced by Serialize. A
// malformed string yields a fresh, empty Screen rather than an error —
// recovery must never be fatal.
func LoadScreen(serialized string, fallbackCols, fallbackRows int) *Screen {
	var payload serializedScreen
	if err := json.Unmarshal([]byte(serialized), &payload); err != nil {
		return NewScreen(fallbackCols, fallbackRows)
	}

	s := NewScreen(payload.Cols, payload.Rows)
	for _, l := range payload.Lines {
		s.lines = append(s.lines, []byte(l))
	}
	s.current.WriteString(payload.Current)
	return s
}

// Contents returns every character written to the screen, scrollback plus
// the in-progress line, in order. Used for round-trip verification.
func (s *Screen) Contents() []byte {
	var buf bytes.Buffer
	for _, l := range s.lines {
		buf.Write(l)
		buf.WriteByte('\n')
	}
	buf.Write(s.current.Bytes())
	return buf.Bytes()
}

// Dimensions returns the screen's current cols, rows.
func (s *Screen) Dimensions() (int, int) {
	return s.cols, s.rows
}
