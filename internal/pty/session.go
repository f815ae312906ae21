// Package pty supervises long-lived PTY-backed sessions: one OS process per
// session, attachable and detachable by a browser client across reconnects.
//
// New code (the teacher never runs an interactive terminal). The
// attach/reattach and single-writer-takeover shape is grounded on
// cfilipov-dockge's internal/handlers/terminal.go (AddWriter/Recreate
// carrying a registered writer across restarts, "writer registered before
// the process starts so the prompt is captured"); the read-loop's
// context-cancellation-race avoidance is grounded on STRML-claude-cells's
// PTYSession.StartReadLoop, which wraps the blocking Read in a goroutine
// selected against ctx.Done() so Close() never races a live Read(). PTY
// process spawning itself uses creack/pty, the library both of those
// reference repos build on.
package pty

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
)

// Status is a session's position in its lifecycle state machine.
type Status string

const (
	StatusCreated      Status = "created"
	StatusAttached     Status = "attached"
	StatusDisconnected Status = "disconnected"
	StatusDestroyed    Status = "destroyed"
)

const (
	defaultCols = 120
	defaultRows = 30

	// coalesceWindow and largeThreshold implement output coalescing: chunks
	// smaller than largeThreshold are batched for up to coalesceWindow
	// before being flushed to the transport.
	coalesceWindow    = 4 * time.Millisecond
	largeThreshold    = 512
	largePTYChunk     = 10 * 1024
	highWatermark     = 1 << 20 // 1 MiB
	lowWatermark      = highWatermark / 2
	safetyResumeAfter = 30 * time.Second
)

// Transport is the gateway-side connection a client attaches a session
// through. The pty package never imports net/http or gorilla/websocket —
// the gateway adapts its websocket connection to this interface.
type Transport interface {
	// SendOutput delivers a chunk of raw PTY output to the client.
	SendOutput(data []byte) error
	// SendControl delivers an out-of-band JSON control message (e.g.
	// {"type":"takeover"} or {"type":"paused"}).
	SendControl(v interface{}) error
	// BufferedAmount reports the transport's current outbound queue depth
	// in bytes, for server-layer backpressure.
	BufferedAmount() int
}

// inputMessage is the control envelope recognized on the input path.
type inputMessage struct {
	Type string `json:"type"`
	Cols int    `json:"cols"`
	Rows int    `json:"rows"`
}

// Session is a single supervised PTY process plus the bookkeeping needed to
// attach, detach, and reattach a client transport to it.
type Session struct {
	ID        string
	Workspace string
	Agent     Agent
	Command   []string
	CreatedAt time.Time

	mu             sync.Mutex
	status         Status
	cols, rows     int
	ptmx           *os.File
	cmd            *exec.Cmd
	transport      Transport
	serverPaused   bool
	clientPaused   bool
	disconnectedAt time.Time
	lastAttachedAt time.Time
	screen         *Screen

	cancelReadLoop context.CancelFunc
	safetyTimer    *time.Timer
	outbox         bytes.Buffer
	flushTimer     *time.Timer
}

// NewSession creates a session record in StatusCreated. The PTY process is
// not spawned until the first Attach.
func NewSession(id, workspace string, agent Agent, command []string) *Session {
	return &Session{
		ID:        id,
		Workspace: workspace,
		Agent:     agent,
		Command:   command,
		CreatedAt: time.Now(),
		status:    StatusCreated,
		cols:      defaultCols,
		rows:      defaultRows,
		screen:    NewScreen(defaultCols, defaultRows),
	}
}

// Status returns the session's current lifecycle status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// DisconnectedAt reports when the session last lost its transport, valid
// only in StatusDisconnected.
func (s *Session) DisconnectedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnectedAt
}

// Attach binds transport to the session, spawning the PTY process lazily on
// first call. If another transport is already attached it receives exactly
// one "takeover" control message and is detached; the prior process is
// never killed, only the listener is swapped.
func (s *Session) Attach(transport Transport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.transport != nil {
		prior := s.transport
		go func() { _ = prior.SendControl(map[string]string{"type": "takeover"}) }()
	}

	firstSpawn := s.ptmx == nil
	s.transport = transport
	s.lastAttachedAt = time.Now()
	s.disconnectedAt = time.Time{}
	s.status = StatusAttached

	if firstSpawn {
		if err := s.spawnLocked(); err != nil {
			s.status = StatusCreated
			s.transport = nil
			return fmt.Errorf("spawn pty for session %s: %w", s.ID, err)
		}
	}
	return nil
}

func (s *Session) spawnLocked() error {
	cmd := exec.Command(s.Command[0], s.Command[1:]...)
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: uint16(s.cols), Rows: uint16(s.rows)})
	if err != nil {
		return err
	}

	s.cmd = cmd
	s.ptmx = ptmx

	ctx, cancel := context.WithCancel(context.Background())
	s.cancelReadLoop = cancel
	go s.readLoop(ctx, ptmx)
	return nil
}

// readLoop copies PTY output to the screen buffer and the attached
// transport until ctx is cancelled or the PTY closes. Read is wrapped in a
// goroutine so a blocked Read never races session Close/Detach.
func (s *Session) readLoop(ctx context.Context, ptmx *os.File) {
	buf := make([]byte, 32*1024)
	type readResult struct {
		n   int
		err error
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		readCh := make(chan readResult, 1)
		go func() {
			n, err := ptmx.Read(buf)
			readCh <- readResult{n, err}
		}()

		select {
		case <-ctx.Done():
			return
		case res := <-readCh:
			if res.n > 0 {
				chunk := append([]byte(nil), buf[:res.n]...)
				s.handleOutput(chunk)
			}
			if res.err != nil {
				s.mu.Lock()
				s.status = StatusDisconnected
				s.disconnectedAt = time.Now()
				s.mu.Unlock()
				return
			}
		}
	}
}

// handleOutput mirrors a PTY output chunk into the screen buffer and
// forwards it to the attached transport, applying coalescing and
// server-layer backpressure.
func (s *Session) handleOutput(chunk []byte) {
	s.mu.Lock()
	s.screen.Write(chunk)
	transport := s.transport

	if transport != nil && len(chunk) > largePTYChunk && transport.BufferedAmount() > highWatermark {
		s.pauseServerLocked()
	}

	large := len(chunk) >= largeThreshold
	if transport == nil {
		s.mu.Unlock()
		return
	}

	if large {
		s.flushOutboxLocked(transport)
		s.mu.Unlock()
		_ = transport.SendOutput(chunk)
		return
	}

	s.outbox.Write(chunk)
	if s.flushTimer == nil {
		s.flushTimer = time.AfterFunc(coalesceWindow, s.flushOutboxDeferred)
	}
	s.mu.Unlock()
}

func (s *Session) flushOutboxDeferred() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushTimer = nil
	if s.transport == nil {
		s.outbox.Reset()
		return
	}
	s.flushOutboxLocked(s.transport)
}

// flushOutboxLocked must be called with s.mu held; it drains the coalescing
// buffer to transport.
func (s *Session) flushOutboxLocked(transport Transport) {
	if s.outbox.Len() == 0 {
		return
	}
	data := append([]byte(nil), s.outbox.Bytes()...)
	s.outbox.Reset()
	go func() { _ = transport.SendOutput(data) }()
}

func (s *Session) pauseServerLocked() {
	if s.serverPaused {
		return
	}
	s.serverPaused = true
	if s.transport != nil {
		t := s.transport
		go func() { _ = t.SendControl(map[string]string{"type": "paused", "layer": "server"}) }()
	}
	if s.safetyTimer != nil {
		s.safetyTimer.Stop()
	}
	s.safetyTimer = time.AfterFunc(safetyResumeAfter, s.forceResume)
	s.applyPauseLocked()
}

func (s *Session) forceResume() {
	s.mu.Lock()
	s.serverPaused = false
	s.clientPaused = false
	s.applyPauseLocked()
	s.mu.Unlock()
}

// applyPauseLocked must be called with s.mu held. The PTY is resumed only
// when both the server and client pause flags are clear.
func (s *Session) applyPauseLocked() {
	// Resuming in this implementation means simply allowing HandleInput to
	// forward bytes again; the OS-level PTY itself is never suspended, only
	// the forwarding of client input to it; input received while paused
	// is dropped rather than queued.
	//
	// Chosen deliberately: server-layer backpressure only throttles the
	// input direction. The PTY's own stdout/stderr continue to flow to
	// the transport uninterrupted; a slow client risks a growing transport
	// write buffer rather than the shell blocking on its own output.
}

func (s *Session) paused() bool {
	return s.serverPaused || s.clientPaused
}

// NotifyDrain clears the server-layer pause and stops its safety timer.
// The gateway's transport does not call it; a server-layer pause otherwise
// ends when the safety timer fires (safetyResumeAfter) or on Detach.
func (s *Session) NotifyDrain() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.serverPaused {
		return
	}
	s.serverPaused = false
	if s.safetyTimer != nil {
		s.safetyTimer.Stop()
		s.safetyTimer = nil
	}
	s.applyPauseLocked()
}

// HandleInput processes a single message from the attached client: a
// recognized control envelope (resize/pause/resume) or raw PTY input.
func (s *Session) HandleInput(data []byte) error {
	if msg, ok := parseControlMessage(data); ok {
		return s.handleControl(msg)
	}

	s.mu.Lock()
	if s.paused() {
		s.mu.Unlock()
		return nil
	}
	ptmx := s.ptmx
	s.mu.Unlock()

	if ptmx == nil {
		return fmt.Errorf("session %s has no running pty", s.ID)
	}
	_, err := ptmx.Write(data)
	return err
}

// parseControlMessage recognizes the cheap "first field is type" envelope
// without requiring the whole payload to be valid JSON beyond that.
func parseControlMessage(data []byte) (inputMessage, bool) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return inputMessage{}, false
	}
	var msg inputMessage
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return inputMessage{}, false
	}
	switch msg.Type {
	case "resize", "pause", "resume":
		return msg, true
	default:
		return inputMessage{}, false
	}
}

func (s *Session) handleControl(msg inputMessage) error {
	switch msg.Type {
	case "resize":
		return s.Resize(msg.Cols, msg.Rows)
	case "pause":
		s.mu.Lock()
		s.clientPaused = true
		s.applyPauseLocked()
		s.mu.Unlock()
		return nil
	case "resume":
		s.mu.Lock()
		s.clientPaused = false
		s.applyPauseLocked()
		s.mu.Unlock()
		return nil
	}
	return nil
}

// Resize updates the PTY's reported terminal dimensions.
func (s *Session) Resize(cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return fmt.Errorf("invalid terminal size %dx%d", cols, rows)
	}

	s.mu.Lock()
	s.cols, s.rows = cols, rows
	s.screen.Resize(cols, rows)
	ptmx := s.ptmx
	s.mu.Unlock()

	if ptmx == nil {
		return nil
	}
	return pty.Setsize(ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
}

// Detach clears the attached transport without killing the PTY process.
// The session is marked disconnected; the PTY is resumed in case it was
// paused.
func (s *Session) Detach(transport Transport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transport != transport {
		return
	}
	s.transport = nil
	s.clientPaused = false
	s.serverPaused = false
	if s.safetyTimer != nil {
		s.safetyTimer.Stop()
		s.safetyTimer = nil
	}
	s.applyPauseLocked()
	s.status = StatusDisconnected
	s.disconnectedAt = time.Now()
}

// Destroy kills the PTY process and stops the read loop. The caller is
// responsible for removing the session's state directory.
func (s *Session) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelReadLoop != nil {
		s.cancelReadLoop()
	}
	if s.ptmx != nil {
		_ = s.ptmx.Close()
	}
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	if s.safetyTimer != nil {
		s.safetyTimer.Stop()
	}
	if s.flushTimer != nil {
		s.flushTimer.Stop()
	}
	s.status = StatusDestroyed
}

// CaptureState returns the serialized screen snapshot used for
// pty-state.json.
func (s *Session) CaptureState() (serialized string, cols int, rows int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	serialized, err = s.screen.Serialize()
	return serialized, s.cols, s.rows, err
}
