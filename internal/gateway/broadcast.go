// broadcast.go implements the control WebSocket's fan-out: every published
// event is coalesced into ~100ms batches, debounced per (workspace, step)
// so a burst of identical progress updates collapses to its latest value,
// and rate-limited per workspace so a runaway progress loop cannot flood a
// subscriber.
//
// No teacher analogue exists for a multi-subscriber event bus (the teacher
// never runs a server), so this is grounded on spec.md §4.6's explicit
// coalescing/debounce/rate-limit requirements, using golang.org/x/time/rate
// for the limiter — the same rate package the example pack's networked
// services reach for rather than a hand-rolled token bucket.
package gateway

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/forgeware/forge/internal/model"
)

const (
	broadcastWindow    = 100 * time.Millisecond
	perWorkspaceRate   = 20 // events/sec sustained
	perWorkspaceBurst  = 40
	subscriberQueueLen = 32
)

// message is one event queued for the next batch.
type message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`

	workspace   string
	debounceKey string
}

// batch is the envelope delivered to each control-channel subscriber.
type batch struct {
	Type     string    `json:"type"`
	Messages []message `json:"messages"`
}

// broadcaster owns the pending-message buffer, the per-workspace rate
// limiters, and the set of subscriber channels.
type broadcaster struct {
	mu          sync.Mutex
	subscribers map[chan batch]struct{}
	limiters    map[string]*rate.Limiter

	pendingMu sync.Mutex
	pending   []message
	// debounceIdx maps a debounce key to its slot in pending, so a repeat
	// publish within the same window overwrites rather than appends.
	debounceIdx map[string]int

	stop chan struct{}
	once sync.Once
}

func newBroadcaster() *broadcaster {
	b := &broadcaster{
		subscribers: make(map[chan batch]struct{}),
		limiters:    make(map[string]*rate.Limiter),
		debounceIdx: make(map[string]int),
		stop:        make(chan struct{}),
	}
	go b.flushLoop()
	return b
}

func (b *broadcaster) subscribe() chan batch {
	ch := make(chan batch, subscriberQueueLen)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *broadcaster) unsubscribe(ch chan batch) {
	b.mu.Lock()
	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
	b.mu.Unlock()
}

func (b *broadcaster) limiterFor(workspace string) *rate.Limiter {
	b.mu.Lock()
	defer b.mu.Unlock()
	lim, ok := b.limiters[workspace]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(perWorkspaceRate), perWorkspaceBurst)
		b.limiters[workspace] = lim
	}
	return lim
}

// publish queues an event for the next batch flush. The workspace and
// debounceKey come from the payload (see workspaceAndKey): every
// model.ProgressEvent, whatever its event type, is rate-limited per
// workspace and collapses into the most recent one for the same
// (event type, workspace, step) within a window; payloads carrying no
// workspace bypass both the limiter and the debounce.
func (b *broadcaster) publish(eventType string, payload interface{}) {
	workspace, debounceKey := workspaceAndKey(eventType, payload)

	if workspace != "" && !b.limiterFor(workspace).Allow() {
		return
	}

	msg := message{Type: eventType, Payload: payload, workspace: workspace, debounceKey: debounceKey}

	b.pendingMu.Lock()
	if debounceKey != "" {
		if idx, ok := b.debounceIdx[debounceKey]; ok {
			b.pending[idx] = msg
			b.pendingMu.Unlock()
			return
		}
		b.debounceIdx[debounceKey] = len(b.pending)
	}
	b.pending = append(b.pending, msg)
	b.pendingMu.Unlock()
}

// workspaceAndKey extracts a rate-limit bucket key and a debounce key from
// an event's payload. model.ProgressEvent carries both a workspace and a
// step, which collapse repeat progress updates for the same step; other
// payload shapes (service lifecycle notices) fall back to whatever
// "workspace" string they carry, with no debouncing.
func workspaceAndKey(eventType string, payload interface{}) (workspace, debounceKey string) {
	switch p := payload.(type) {
	case model.ProgressEvent:
		return p.Workspace, eventType + "|" + p.Workspace + "|" + string(p.Step)
	case map[string]string:
		return p["workspace"], ""
	default:
		return "", ""
	}
}

func (b *broadcaster) flushLoop() {
	ticker := time.NewTicker(broadcastWindow)
	defer ticker.Stop()
	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			b.flush()
		}
	}
}

func (b *broadcaster) flush() {
	b.pendingMu.Lock()
	if len(b.pending) == 0 {
		b.pendingMu.Unlock()
		return
	}
	msgs := b.pending
	b.pending = nil
	b.debounceIdx = make(map[string]int)
	b.pendingMu.Unlock()

	out := batch{Type: "batch", Messages: msgs}

	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subscribers {
		select {
		case ch <- out:
		default:
			// Subscriber is behind; drop this batch for it rather than
			// blocking the whole broadcaster on one slow reader.
		}
	}
}

func (b *broadcaster) close() {
	b.once.Do(func() {
		close(b.stop)
		b.mu.Lock()
		for ch := range b.subscribers {
			delete(b.subscribers, ch)
			close(ch)
		}
		b.mu.Unlock()
	})
}
