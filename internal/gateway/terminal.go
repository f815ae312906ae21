// terminal.go implements the /terminal/<workspace> WebSocket route: attach
// to (or lazily create) the workspace's PTY session for the requested
// agent, relay client input, and tear down cleanly on disconnect.
//
// Grounded on cfilipov-dockge's handleInteractiveTerminal/handleMainTerminal:
// register the transport with the session *before* anything reads from the
// socket, so a takeover notification or replayed state never races the
// client's own first message.
package gateway

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/forgeware/forge/internal/logging"
	"github.com/forgeware/forge/internal/pty"
)

func (g *Gateway) handleTerminal(w http.ResponseWriter, r *http.Request) {
	workspace := r.PathValue("workspace")
	if workspace == "" {
		http.Error(w, "workspace name required", http.StatusBadRequest)
		return
	}

	agentParam := r.URL.Query().Get("command")
	agent := pty.Agent(agentParam)
	if agent == "" {
		agent = pty.AgentShell
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.WithWorkspace(g.Logger, workspace).WithError(err).Warn("terminal websocket upgrade failed")
		return
	}
	defer conn.Close()

	session := g.ptys.GetOrCreate(workspace, agent, "")
	transport := newWSTransport(conn)

	if err := session.Attach(transport); err != nil {
		_ = conn.WriteJSON(map[string]string{"type": "error", "message": err.Error()})
		return
	}

	log := logging.WithSession(g.Logger, session.ID)
	log.Info("terminal attached")
	defer func() {
		session.Detach(transport)
		log.Info("terminal detached")
	}()

	if screen, loadErr := g.ptys.LoadState(session.ID); loadErr == nil && screen != nil {
		_ = conn.WriteJSON(map[string]interface{}{"type": "replay", "screen": string(screen.Contents())})
	}

	for {
		msgType, data, readErr := conn.ReadMessage()
		if readErr != nil {
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		if err := session.HandleInput(data); err != nil {
			log.WithError(err).Warn("pty input rejected")
		}
	}
}
