package web

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/julienschmidt/httprouter"

	"github.com/codefionn/appforge/internal/agent"
	"github.com/codefionn/appforge/internal/auth"
	"github.com/codefionn/appforge/internal/blob"
	"github.com/codefionn/appforge/internal/consts"
	"github.com/codefionn/appforge/internal/logger"
	"github.com/codefionn/appforge/internal/sandbox"
	"github.com/codefionn/appforge/internal/store"
	"github.com/codefionn/appforge/internal/stream"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("web: failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// ownedProject loads the :id project. Projects of other users are reported
// as not found.
func (s *Server) ownedProject(w http.ResponseWriter, r *http.Request, ps httprouter.Params) (*store.Project, bool) {
	userID, _ := auth.UserFromContext(r.Context())
	project, err := s.deps.Store.GetProject(r.Context(), ps.ByName("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "project not found")
		} else {
			logger.Error("web: failed to load project: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to load project")
		}
		return nil, false
	}
	if project.OwnerID != userID {
		writeError(w, http.StatusNotFound, "project not found")
		return nil, false
	}
	return project, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if err := s.deps.Store.Ping(r.Context()); err != nil {
		logger.Warn("web: health check failed: %v", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req createProjectRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, consts.BufferSize64KB)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	userID, _ := auth.UserFromContext(r.Context())
	project, err := s.deps.Store.CreateProject(r.Context(), userID, req.Name)
	if err != nil {
		logger.Error("web: failed to create project: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to create project")
		return
	}
	logger.Info("web: project %s created by %s", project.ID, userID)
	writeJSON(w, http.StatusCreated, project)
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	userID, _ := auth.UserFromContext(r.Context())
	projects, err := s.deps.Store.ListProjects(r.Context(), userID)
	if err != nil {
		logger.Error("web: failed to list projects: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list projects")
		return
	}
	if projects == nil {
		projects = []*store.Project{}
	}
	writeJSON(w, http.StatusOK, projects)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	project, ok := s.ownedProject(w, r, ps)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, project)
}

// handleDeleteProject disposes the sandbox, deletes the rows (turns and file
// records cascade) and removes the project's blobs.
func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	project, ok := s.ownedProject(w, r, ps)
	if !ok {
		return
	}

	if err := s.deps.Sandboxes.Dispose(project.ID); err != nil {
		logger.Warn("web: failed to dispose sandbox of %s: %v", project.ID, err)
	}
	if err := s.deps.Store.DeleteProject(r.Context(), project.ID); err != nil {
		logger.Error("web: failed to delete project %s: %v", project.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to delete project")
		return
	}
	n, err := blob.DeletePrefix(r.Context(), s.deps.Blobs, blob.ProjectPrefix(project.ID))
	if err != nil {
		logger.Warn("web: failed to delete blobs of %s: %v", project.ID, err)
	}
	s.hub.CloseProject(project.ID)

	logger.Info("web: project %s deleted (%d blobs)", project.ID, n)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	project, ok := s.ownedProject(w, r, ps)
	if !ok {
		return
	}
	files, err := s.deps.Store.ListFiles(r.Context(), project.ID)
	if err != nil {
		logger.Error("web: failed to list files: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list files")
		return
	}

	resp := make([]fileResponse, 0, len(files))
	for _, f := range files {
		resp = append(resp, fileResponse{Path: f.Path, Size: f.Size, Checksum: f.Checksum, UpdatedAt: f.UpdatedAt})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFileContent(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	project, ok := s.ownedProject(w, r, ps)
	if !ok {
		return
	}
	filePath, err := sandbox.CleanPath(ps.ByName("path"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	record, err := s.deps.Store.GetFile(r.Context(), project.ID, filePath)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "file not found")
			return
		}
		logger.Error("web: failed to load file record: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to load file")
		return
	}
	data, err := s.deps.Blobs.Get(r.Context(), record.BlobKey)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			writeError(w, http.StatusNotFound, "file content missing")
			return
		}
		logger.Error("web: failed to read blob %s: %v", record.BlobKey, err)
		writeError(w, http.StatusInternalServerError, "failed to read file")
		return
	}

	contentType := mime.TypeByExtension(path.Ext(filePath))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("X-Checksum", record.Checksum)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	project, ok := s.ownedProject(w, r, ps)
	if !ok {
		return
	}
	turns, err := s.deps.Store.ListTurns(r.Context(), project.ID)
	if err != nil {
		logger.Error("web: failed to list turns: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	if turns == nil {
		turns = []*store.ChatTurn{}
	}
	writeJSON(w, http.StatusOK, turns)
}

func (s *Server) handleSandbox(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	project, ok := s.ownedProject(w, r, ps)
	if !ok {
		return
	}
	sb, ok := s.deps.Sandboxes.Get(project.ID)
	if !ok {
		writeJSON(w, http.StatusOK, sandboxResponse{Status: "inactive"})
		return
	}
	state, err := sandbox.Probe(r.Context(), sb, s.opts.ProbeTimeout)
	if err != nil {
		logger.Warn("web: sandbox probe for %s failed: %v", project.ID, err)
		writeJSON(w, http.StatusOK, sandboxResponse{Status: "unknown"})
		return
	}
	writeJSON(w, http.StatusOK, sandboxResponse{State: *state, Status: "active"})
}

// handleChat streams one turn as NDJSON. The turn keeps running and is
// persisted when the client goes away mid-stream.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	project, ok := s.ownedProject(w, r, ps)
	if !ok {
		return
	}
	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, consts.MaxChatBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Content) == "" && len(req.Attachments) == 0 {
		writeError(w, http.StatusBadRequest, "message content is required")
		return
	}

	monitor := stream.NewMonitor(stream.NewHTTPTransport(w, r), s.opts.HeartbeatInterval)

	turnReq := agent.TurnRequest{ProjectID: project.ID, Content: req.Content, Attachments: req.Attachments}
	outcome, err := s.deps.Turns.RunTurn(s.baseCtx, turnReq, monitor)
	if err != nil {
		logger.Warn("web: turn for project %s failed: %v", project.ID, err)
		if outcome == nil {
			monitor.Send(stream.Error(err.Error(), "", ""))
		}
		monitor.Close()
		return
	}
	monitor.Close()
	if monitor.Dropped() > 0 {
		logger.Info("web: client left during turn %s, %d events dropped", outcome.AssistantTurn.ID, monitor.Dropped())
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	project, ok := s.ownedProject(w, r, ps)
	if !ok {
		return
	}
	userID, _ := auth.UserFromContext(r.Context())

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("web: failed to upgrade websocket: %v", err)
		return
	}

	transport := stream.NewWebSocketTransport(conn)
	client := newClient(s, transport, project.ID, userID)
	s.hub.Register(client)
	defer func() {
		s.hub.Unregister(client)
		client.Close()
	}()

	transport.ReadLoop(consts.MaxWebSocketMessage, client.handleMessage)
}
