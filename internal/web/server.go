package web

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/codefionn/appforge/internal/agent"
	"github.com/codefionn/appforge/internal/auth"
	"github.com/codefionn/appforge/internal/blob"
	"github.com/codefionn/appforge/internal/consts"
	"github.com/codefionn/appforge/internal/logger"
	"github.com/codefionn/appforge/internal/sandbox"
	"github.com/codefionn/appforge/internal/store"
)

// Store is the persistence the HTTP API reads and writes
type Store interface {
	CreateProject(ctx context.Context, ownerID, name string) (*store.Project, error)
	GetProject(ctx context.Context, id string) (*store.Project, error)
	ListProjects(ctx context.Context, ownerID string) ([]*store.Project, error)
	DeleteProject(ctx context.Context, id string) error
	ListFiles(ctx context.Context, projectID string) ([]*store.File, error)
	GetFile(ctx context.Context, projectID, path string) (*store.File, error)
	ListTurns(ctx context.Context, projectID string) ([]*store.ChatTurn, error)
	Ping(ctx context.Context) error
}

// Sandboxes gives read access to live sandboxes and disposes them
type Sandboxes interface {
	Get(projectID string) (sandbox.Sandbox, bool)
	Dispose(projectID string) error
}

// TurnRunner runs one chat turn, streaming events to sink
type TurnRunner interface {
	RunTurn(ctx context.Context, req agent.TurnRequest, sink agent.Sink) (*agent.TurnOutcome, error)
}

// Deps are the collaborators of the server
type Deps struct {
	Store     Store
	Blobs     blob.Store
	Sandboxes Sandboxes
	Turns     TurnRunner
	Auth      auth.Verifier
}

// Options configure the server
type Options struct {
	Addr              string
	HeartbeatInterval time.Duration
	ProbeTimeout      time.Duration
	ReadHeaderTimeout time.Duration
	AllowedOrigins    []string // websocket origins; empty allows all
}

// Server is the HTTP API
type Server struct {
	baseCtx    context.Context
	deps       Deps
	opts       Options
	router     *httprouter.Router
	hub        *Hub
	upgrader   websocket.Upgrader
	httpServer *http.Server
}

// NewServer creates a server. Turns run on ctx, not on the request context,
// so a turn outlives a disconnected client.
func NewServer(ctx context.Context, deps Deps, opts Options) *Server {
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = consts.Timeout3Seconds
	}
	if opts.ReadHeaderTimeout <= 0 {
		opts.ReadHeaderTimeout = consts.Timeout10Seconds
	}

	s := &Server{
		baseCtx: ctx,
		deps:    deps,
		opts:    opts,
		router:  httprouter.New(),
		hub:     NewHub(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  consts.BufferSize1KB,
		WriteBufferSize: consts.BufferSize64KB,
		CheckOrigin:     s.checkOrigin,
	}
	s.setupRoutes()
	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: opts.ReadHeaderTimeout,
		ErrorLog:          logger.NewStdLogger(logger.Global().WithPrefix("http"), logger.LevelWarn),
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	s.router.POST("/api/projects", s.authed(s.handleCreateProject))
	s.router.GET("/api/projects", s.authed(s.handleListProjects))
	s.router.GET("/api/projects/:id", s.authed(s.handleGetProject))
	s.router.DELETE("/api/projects/:id", s.authed(s.handleDeleteProject))
	s.router.GET("/api/projects/:id/files", s.authed(s.handleListFiles))
	s.router.GET("/api/projects/:id/files/*path", s.authed(s.handleFileContent))
	s.router.GET("/api/projects/:id/messages", s.authed(s.handleMessages))
	s.router.GET("/api/projects/:id/sandbox", s.authed(s.handleSandbox))
	s.router.POST("/api/projects/:id/chat", s.authed(s.handleChat))
	s.router.GET("/api/projects/:id/ws", s.authed(s.handleWebSocket))
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the websocket client registry
func (s *Server) Hub() *Hub {
	return s.hub
}

// ListenAndServe serves until Shutdown is called
func (s *Server) ListenAndServe() error {
	logger.Info("web: listening on %s", s.opts.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to serve http: %w", err)
	}
	return nil
}

// Shutdown disconnects websocket clients and stops the listener
func (s *Server) Shutdown(ctx context.Context) error {
	if n := s.hub.BusyCount(); n > 0 {
		logger.Info("web: disconnecting websocket clients with %d turn(s) in flight", n)
	}
	s.hub.CloseAll()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	logger.Warn("web: websocket origin %q rejected", origin)
	return false
}

// authed resolves the caller from a bearer token or ?token= query
func (s *Server) authed(h httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		userID, err := s.deps.Auth.Verify(r.Context(), auth.TokenFromRequest(r))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		h(w, r.WithContext(auth.WithUser(r.Context(), userID)), ps)
	}
}
