// logs.go implements /logs/<workspace>/<service> and /logs/<workspace>
// (combined) log streaming, spawning `compose logs -f` and relaying lines
// to the client with color-coded level detection and batched flushing.
//
// Grounded directly on cfilipov-dockge's runContainerLogs/flushLogLines:
// per-container reader goroutines feed a single shared line channel, and a
// ticker-driven flush writes whatever accumulated since the last tick
// rather than one WebSocket frame per line.
package gateway

import (
	"bufio"
	"context"
	"net/http"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/forgeware/forge/internal/logging"
)

const logFlushInterval = 50 * time.Millisecond

const defaultLogTail = "200"

// logLevel classifies a log line for client-side color coding. Detection is
// a cheap substring sniff, not a structured log parser — most services this
// gateway fronts emit unstructured stdout/stderr.
func logLevel(line string) string {
	lower := strings.ToLower(line)
	switch {
	case strings.Contains(lower, "error") || strings.Contains(lower, "fatal") || strings.Contains(lower, "panic"):
		return "error"
	case strings.Contains(lower, "warn"):
		return "warn"
	default:
		return "info"
	}
}

type logLine struct {
	Type  string `json:"type"`
	Line  string `json:"line"`
	Level string `json:"level"`
}

func (g *Gateway) handleLogs(w http.ResponseWriter, r *http.Request) {
	workspace := r.PathValue("workspace")
	service := r.PathValue("service") // empty for the combined route

	if workspace == "" {
		http.Error(w, "workspace name required", http.StatusBadRequest)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	log := logging.WithWorkspace(g.Logger, workspace)

	projectDir := filepath.Join(g.engine.RepoRoot, ".worktrees", workspace)
	if workspace == "main" {
		projectDir = g.engine.RepoRoot
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	args := g.engine.Runtime.Compose()[1:]
	args = append(args, "logs", "-f", "--tail", defaultLogTail)
	if service != "" {
		args = append(args, "--no-log-prefix", service)
	}

	prefix := g.engine.Runtime.Compose()[0]
	cmd := exec.CommandContext(ctx, prefix, args...)
	cmd.Dir = projectDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		log.WithError(err).Warn("logs: stdout pipe failed")
		return
	}
	if err := cmd.Start(); err != nil {
		log.WithError(err).Warn("logs: failed to start compose logs")
		return
	}
	defer cmd.Wait()

	lines := make(chan string, 256)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	// Detect client disconnect by reading (and discarding) inbound frames;
	// the log routes are write-only from the server's perspective.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	g.flushLogLines(ctx, conn, lines)
}

// flushLogLines batches whatever lines accumulated since the last tick into
// a single JSON frame ({"type":"batch","lines":[...]}), rather than one
// WebSocket write per line.
func (g *Gateway) flushLogLines(ctx context.Context, conn wsWriter, lines <-chan string) {
	ticker := time.NewTicker(logFlushInterval)
	defer ticker.Stop()

	var pending []logLine
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				if len(pending) > 0 {
					_ = conn.WriteJSON(map[string]interface{}{"type": "batch", "lines": pending})
				}
				return
			}
			pending = append(pending, logLine{Type: "log", Line: line, Level: logLevel(line)})
		case <-ticker.C:
			if len(pending) == 0 {
				continue
			}
			if err := conn.WriteJSON(map[string]interface{}{"type": "batch", "lines": pending}); err != nil {
				return
			}
			pending = nil
		}
	}
}

// wsWriter is the narrow slice of *websocket.Conn that flushLogLines needs,
// kept as an interface so it can be exercised with a fake in tests.
type wsWriter interface {
	WriteJSON(v interface{}) error
}
