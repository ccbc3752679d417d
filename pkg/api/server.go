// Package api exposes the HTTP surface: diagram CRUD, health, and the LLM
// provider health probe. Handlers stay thin; everything interesting happens
// in the service packages.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/thinkmaps/thinkmaps/pkg/database"
	"github.com/thinkmaps/thinkmaps/pkg/llm"
	"github.com/thinkmaps/thinkmaps/pkg/models"
)

// DiagramService is the diagram cache surface the handlers consume.
type DiagramService interface {
	Save(ctx context.Context, req *models.CreateDiagramRequest) (*models.Diagram, error)
	Get(ctx context.Context, userID, id string) (*models.Diagram, error)
	Update(ctx context.Context, userID, id string, patch *models.UpdateDiagramRequest) (*models.Diagram, error)
	Delete(ctx context.Context, userID, id string) error
	SetPinned(ctx context.Context, userID, id string, pinned bool) (*models.Diagram, error)
	Duplicate(ctx context.Context, userID, id string) (*models.Diagram, error)
	List(ctx context.Context, userID string, page, pageSize int) (*models.DiagramPage, error)
	PreloadUserDiagrams(userID string)
	Stats(ctx context.Context) map[string]any
}

// LLMService is the orchestration core surface the handlers consume.
type LLMService interface {
	HealthCheck(ctx context.Context) *llm.HealthReport
}

// TrackerStats exposes token tracker counters for the health endpoint.
type TrackerStats interface {
	Dropped() int64
	Flushed() int64
	Buffered() int
}

// Server is the HTTP API server.
type Server struct {
	db       *database.Client
	llm      LLMService
	diagrams DiagramService
	tracker  TrackerStats

	httpServer *http.Server
}

// NewServer wires the API server. Any dependency may be nil; the matching
// routes or health checks are then skipped.
func NewServer(db *database.Client, llmService LLMService, diagramService DiagramService, tracker TrackerStats) *Server {
	return &Server{
		db:       db,
		llm:      llmService,
		diagrams: diagramService,
		tracker:  tracker,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/health", s.healthHandler)

	apiGroup := router.Group("/api")
	apiGroup.GET("/llm/health", s.llmHealthHandler)

	if s.diagrams != nil {
		diagramGroup := apiGroup.Group("/diagrams", requireUser())
		diagramGroup.GET("", s.listDiagramsHandler)
		diagramGroup.POST("", s.createDiagramHandler)
		diagramGroup.GET("/:id", s.getDiagramHandler)
		diagramGroup.PUT("/:id", s.updateDiagramHandler)
		diagramGroup.DELETE("/:id", s.deleteDiagramHandler)
		diagramGroup.POST("/:id/pin", s.pinDiagramHandler)
		diagramGroup.POST("/:id/duplicate", s.duplicateDiagramHandler)
	}

	return router
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
