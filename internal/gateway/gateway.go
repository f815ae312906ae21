// Package gateway is the thin HTTP/WebSocket edge in front of the
// WorkspaceEngine and pty.Manager: it transports requests in and broadcasts
// engine events out.
//
// No teacher analogue exists (the teacher is a one-shot CLI, not a server).
// The WebSocket dispatch and combined-log color-coded streaming are
// grounded on cfilipov-dockge's ws.Conn/RegisterTerminalHandlers pattern;
// routing itself uses the stdlib Go 1.22+ method+wildcard http.ServeMux
// rather than a third-party router, since no router appears more than once
// across the example pack.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/forgeware/forge/internal/datasync"
	"github.com/forgeware/forge/internal/engine"
	"github.com/forgeware/forge/internal/model"
	"github.com/forgeware/forge/internal/pty"
)

// Gateway wires the engine and pty manager to an http.Handler.
type Gateway struct {
	engine *engine.Engine
	ptys   *pty.Manager
	Logger *logrus.Logger

	upgrader websocket.Upgrader
	mux      *http.ServeMux

	broadcast *broadcaster
}

// New constructs a Gateway and registers every route named in spec.md §4.6
// and §6.
func New(eng *engine.Engine, ptys *pty.Manager, logger *logrus.Logger) *Gateway {
	g := &Gateway{
		engine: eng,
		ptys:   ptys,
		Logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The gateway is a single-operator local tool (spec.md §1's
			// non-goals rule out multi-user federation); origin checking
			// is left permissive rather than growing a CORS allowlist no
			// part of this spec calls for.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		mux: http.NewServeMux(),
	}
	g.broadcast = newBroadcaster()
	g.registerRoutes()
	return g
}

// ServeHTTP implements http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mux.ServeHTTP(w, r)
}

func (g *Gateway) registerRoutes() {
	g.mux.HandleFunc("GET /api/worktrees", g.handleListWorktrees)
	g.mux.HandleFunc("POST /api/worktrees", g.handleCreateWorktree)
	g.mux.HandleFunc("DELETE /api/worktrees/{name}", g.handleDeleteWorktree)
	g.mux.HandleFunc("POST /api/worktrees/{name}/services/start", g.handleServiceLifecycle("start"))
	g.mux.HandleFunc("POST /api/worktrees/{name}/services/stop", g.handleServiceLifecycle("stop"))
	g.mux.HandleFunc("POST /api/worktrees/{name}/services/restart", g.handleServiceLifecycle("restart"))
	g.mux.HandleFunc("POST /api/worktrees/{name}/services/{service}/restart", g.handleServiceLifecycle("restart"))
	g.mux.HandleFunc("POST /api/worktrees/{name}/services/{service}/rebuild", g.handleServiceLifecycle("rebuild"))
	g.mux.HandleFunc("GET /api/ports", g.handlePorts)

	g.mux.HandleFunc("GET /", g.handleControl)
	g.mux.HandleFunc("GET /terminal/{workspace}", g.handleTerminal)
	g.mux.HandleFunc("GET /logs/{workspace}/{service}", g.handleLogs)
	g.mux.HandleFunc("GET /logs/{workspace}", g.handleLogs)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// handleListWorktrees serves GET /api/worktrees: list with status, ports,
// container state, and git state.
func (g *Gateway) handleListWorktrees(w http.ResponseWriter, r *http.Request) {
	workspaces, err := g.engine.List(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, workspaces)
}

type createRequest struct {
	BranchName string `json:"branchName"`
	FromBranch string `json:"fromBranch,omitempty"`
	Name       string `json:"name,omitempty"`
	Agent      string `json:"agent,omitempty"`
}

// handleCreateWorktree serves POST /api/worktrees: 409 with
// {hasDirtyState, message} when a workspace of that name exists and force
// is not set, otherwise 202 with creation running in the background. It
// never answers with a synchronous 200.
func (g *Gateway) handleCreateWorktree(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}
	if req.BranchName == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "branchName is required"})
		return
	}

	force := r.URL.Query().Get("force") == "true"
	name := req.Name
	if name == "" {
		name = engine.SanitizeName(req.BranchName)
	}

	if !force {
		existing, findErr := g.findWorkspace(r.Context(), name)
		if findErr != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": findErr.Error()})
			return
		}
		if existing != nil {
			writeJSON(w, http.StatusConflict, map[string]interface{}{
				"hasDirtyState": existing.GitDirty,
				"message":       fmt.Sprintf("workspace %q already exists", name),
			})
			return
		}
	}

	opts := engine.CreateOptions{
		FromBranch: req.FromBranch,
		Name:       name,
		Agent:      req.Agent,
		Force:      force,
		DataSync:   datasync.Filter{},
	}

	events := make(chan model.ProgressEvent, 32)
	ctx := engine.WithEvents(context.Background(), events)

	go func() {
		defer close(events)
		if _, err := g.engine.Create(ctx, req.BranchName, opts); err != nil {
			g.Logger.WithError(err).Warn("workspace create failed")
		}
	}()
	go g.forwardProgress(events)

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "workspace": name})
}

// findWorkspace returns the existing workspace by name, or nil if none
// exists, per the create handler's pre-flight conflict check.
func (g *Gateway) findWorkspace(ctx context.Context, name string) (*model.Workspace, error) {
	workspaces, err := g.engine.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range workspaces {
		if workspaces[i].Name == name {
			return &workspaces[i], nil
		}
	}
	return nil, nil
}

// forwardProgress relays one workspace-creation's progress events onto the
// control broadcaster, translating each into spec.md §6's event taxonomy.
func (g *Gateway) forwardProgress(events <-chan model.ProgressEvent) {
	for ev := range events {
		event := "worktree:progress"
		switch {
		case ev.Step == model.StepResolveName:
			event = "worktree:creating"
		case ev.Status == model.WorkspaceReady && ev.Step == model.StepDone:
			event = "worktree:created"
		case ev.Status == model.WorkspaceError:
			event = "worktree:error"
		case ev.Status == model.WorkspaceDeleted:
			event = "worktree:deleted"
		}
		g.broadcast.publish(event, ev)
	}
}

// handleDeleteWorktree serves DELETE /api/worktrees/<name>.
func (g *Gateway) handleDeleteWorktree(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	events := make(chan model.ProgressEvent, 16)
	ctx := engine.WithEvents(r.Context(), events)

	done := make(chan error, 1)
	go func() {
		defer close(events)
		done <- g.engine.Delete(ctx, name)
	}()
	go g.forwardProgress(events)

	if err := <-done; err != nil {
		if cliErr, ok := err.(*model.CLIError); ok && cliErr.Code == model.ExitInvalidInput {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleServiceLifecycle serves the start/stop/restart/rebuild service
// routes (spec.md §6), driving the underlying compose stack via
// internal/engine rather than just announcing the action.
func (g *Gateway) handleServiceLifecycle(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		service := r.PathValue("service")
		if name == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "workspace name required"})
			return
		}

		var err error
		switch action {
		case "start":
			err = g.engine.StartServices(r.Context(), name)
		case "stop":
			err = g.engine.StopServices(r.Context(), name)
		case "restart":
			err = g.engine.RestartServices(r.Context(), name, service)
		case "rebuild":
			err = g.engine.RebuildService(r.Context(), name, service)
		}
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}

		g.broadcast.publish("services:"+action, map[string]string{"workspace": name, "service": service})
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "action": action})
	}
}

// handlePorts serves GET /api/ports for diagnostics.
func (g *Gateway) handlePorts(w http.ResponseWriter, r *http.Request) {
	workspaces, err := g.engine.List(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	ports := make(map[string]map[string]int, len(workspaces))
	for _, ws := range workspaces {
		ports[ws.Name] = ws.Ports
	}
	writeJSON(w, http.StatusOK, ports)
}

// handleControl serves the "/" control WebSocket: a client connects and
// receives every subsequent batched broadcast.
func (g *Gateway) handleControl(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub := g.broadcast.subscribe()
	defer g.broadcast.unsubscribe(sub)

	// Drain (and discard) inbound frames so a dead connection is detected
	// promptly; the control channel is receive-only from the client's view.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case batch, ok := <-sub:
			if !ok {
				return
			}
			if err := conn.WriteJSON(batch); err != nil {
				return
			}
		}
	}
}

// Close releases the gateway's background resources.
func (g *Gateway) Close() {
	g.broadcast.close()
}
