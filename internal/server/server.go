// Package server exposes the agent control surface over HTTP+JSON: trigger
// a run, poll its state, answer clarifications, and manage snapshots.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/Breadsandwich/visual-context-interface-app/internal/contextfile"
	"github.com/Breadsandwich/visual-context-interface-app/internal/logging"
	"github.com/Breadsandwich/visual-context-interface-app/internal/orchestrator"
	"github.com/Breadsandwich/visual-context-interface-app/internal/runstate"
	"github.com/Breadsandwich/visual-context-interface-app/internal/snapshot"
	"github.com/Breadsandwich/visual-context-interface-app/internal/sourceedit"
)

// Options configures the HTTP server.
type Options struct {
	Host        string
	Port        int
	CORSOrigins []string // empty allows all origins
	Debug       bool
}

// Server wires the orchestrator, state tracker, and snapshot store behind
// the HTTP control surface.
type Server struct {
	orch        *orchestrator.Orchestrator
	tracker     *runstate.Tracker
	store       *snapshot.Store
	edits       *sourceedit.Engine
	projectRoot string
	log         *logging.Logger

	engine     *gin.Engine
	httpServer *http.Server
}

// New creates the server and registers its routes.
func New(projectRoot string, orch *orchestrator.Orchestrator, tracker *runstate.Tracker,
	store *snapshot.Store, edits *sourceedit.Engine, log *logging.Logger, opts Options) *Server {
	if !opts.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(opts.CORSOrigins) > 0 {
		corsConfig.AllowOrigins = opts.CORSOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type"}
	engine.Use(cors.New(corsConfig))

	s := &Server{
		orch:        orch,
		tracker:     tracker,
		store:       store,
		edits:       edits,
		projectRoot: projectRoot,
		log:         log,
		engine:      engine,
	}
	s.routes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", opts.Host, opts.Port),
		Handler:      engine,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.engine.GET("/health", s.handleHealth)
	s.engine.POST("/run", s.handleRun)
	s.engine.GET("/status", s.handleStatus)
	s.engine.POST("/respond", s.handleRespond)
	s.engine.GET("/snapshots", s.handleSnapshots)
	s.engine.POST("/snapshots/:run_id/restore", s.handleRestore)
	s.engine.POST("/context", s.handleExportContext)
	s.engine.POST("/edits", s.handleApplyEdits)
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves until Shutdown or a listener error.
func (s *Server) Start() error {
	s.log.Info("Control surface listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type runRequest struct {
	ContextPath string `json:"context_path"`
}

func (s *Server) handleRun(c *gin.Context) {
	var req runRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ContextPath == "" {
		c.JSON(http.StatusBadRequest, gin.H{"accepted": false, "reason": "context_path is required"})
		return
	}

	if !contextfile.WithinRoot(s.projectRoot, req.ContextPath) {
		c.JSON(http.StatusBadRequest, gin.H{"accepted": false, "reason": "context_path outside project directory"})
		return
	}
	if info, err := os.Stat(req.ContextPath); err != nil || info.IsDir() {
		c.JSON(http.StatusBadRequest, gin.H{"accepted": false, "reason": "context_path does not exist"})
		return
	}

	runID, err := s.orch.Trigger(req.ContextPath)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"accepted": false, "reason": err.Error()})
		return
	}

	s.log.Info("Run triggered", "run_id", runID, "context_path", req.ContextPath)
	c.JSON(http.StatusAccepted, gin.H{"accepted": true, "message": "run started", "run_id": runID})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, projectState(s.tracker.Snapshot()))
}

type respondRequest struct {
	Response string `json:"response"`
}

func (s *Server) handleRespond(c *gin.Context) {
	var req respondRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Response == "" {
		c.JSON(http.StatusBadRequest, gin.H{"accepted": false, "reason": "response is required"})
		return
	}

	if s.tracker.Snapshot().Status != runstate.StatusClarifying {
		c.JSON(http.StatusConflict, gin.H{"accepted": false, "reason": "no clarification is pending"})
		return
	}
	if err := s.orch.Respond(req.Response); err != nil {
		c.JSON(http.StatusConflict, gin.H{"accepted": false, "reason": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"accepted": true, "message": "response delivered"})
}

func (s *Server) handleSnapshots(c *gin.Context) {
	manifests, err := s.store.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list snapshots"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": manifests})
}

func (s *Server) handleRestore(c *gin.Context) {
	runID := c.Param("run_id")
	if !snapshot.ValidRunID(runID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed run id"})
		return
	}

	if s.tracker.Snapshot().Status.Active() {
		c.JSON(http.StatusConflict, gin.H{"error": "a run is active"})
		return
	}

	restored, err := s.store.Restore(runID)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	s.log.Info("Snapshot restored", "run_id", runID, "files", len(restored))
	c.JSON(http.StatusOK, gin.H{"restored": restored, "run_id": runID})
}
