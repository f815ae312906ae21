// transport.go adapts a gorilla/websocket connection to pty.Transport, the
// narrow interface the pty package defines so it never has to import
// net/http or gorilla/websocket itself.
//
// Grounded on cfilipov-dockge's terminal handler, which keeps one write-side
// mutex per connection and registers a single writer before ever starting
// the underlying process, to avoid a double-prompt race on attach.
package gateway

import (
	"sync"

	"github.com/gorilla/websocket"
)

// wsTransport is the one pty.Transport implementation the gateway hands to
// pty.Session.Attach. Writes are serialized with a mutex because
// gorilla/websocket connections are not safe for concurrent writers.
type wsTransport struct {
	mu   sync.Mutex
	conn *websocket.Conn

	bufferedMu sync.Mutex
	buffered   int
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	return &wsTransport{conn: conn}
}

// SendOutput writes a raw PTY output chunk as a binary WebSocket frame.
func (t *wsTransport) SendOutput(data []byte) error {
	t.addBuffered(len(data))
	defer t.clearBuffered()
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.WriteMessage(websocket.BinaryMessage, data)
}

// SendControl writes v as a JSON text frame — the client distinguishes
// control envelopes from raw output by frame type (binary vs. text), not by
// a leading-byte sniff.
func (t *wsTransport) SendControl(v interface{}) error {
	t.addBuffered(1)
	defer t.clearBuffered()
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.WriteJSON(v)
}

// BufferedAmount reports this transport's best estimate of its outbound
// queue depth. gorilla/websocket does not expose a true socket send-buffer
// depth, so the gateway tracks it itself: incremented before a write is
// attempted, reset to zero once it completes. This is enough to drive the
// server-layer backpressure thresholds in pty.Session, which only care
// about "large and growing" vs. "drained".
func (t *wsTransport) BufferedAmount() int {
	t.bufferedMu.Lock()
	defer t.bufferedMu.Unlock()
	return t.buffered
}

func (t *wsTransport) addBuffered(n int) {
	t.bufferedMu.Lock()
	t.buffered += n
	t.bufferedMu.Unlock()
}

func (t *wsTransport) clearBuffered() {
	t.bufferedMu.Lock()
	t.buffered = 0
	t.bufferedMu.Unlock()
}
