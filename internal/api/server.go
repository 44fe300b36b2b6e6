// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/registry-indexer/internal/models"
	"github.com/registry-indexer/internal/worker"
)

// Store interfaces for dependency injection and testing

// PackageStoreInterface defines the read operations over materialized packages
type PackageStoreInterface interface {
	SearchPackages(ctx context.Context, query string, limit, offset int) ([]*models.Package, error)
	ListPackages(ctx context.Context, limit, offset int) ([]*models.Package, error)
	GetPackageWithVersions(ctx context.Context, name string) (*models.PackageWithVersions, error)
	Stats(ctx context.Context) (*models.Stats, error)
}

// EventStoreInterface defines the operations over the event audit log
type EventStoreInterface interface {
	InsertEvent(ctx context.Context, event *models.Event) (bool, error)
	RecentEvents(ctx context.Context, limit int) ([]*models.Event, error)
	PackageEvents(ctx context.Context, packageName string, limit, offset int) ([]*models.Event, error)
}

// StateStoreInterface exposes persisted scan progress
type StateStoreInterface interface {
	GetState(ctx context.Context) (*models.IndexerState, error)
}

// IngesterInterface materializes an event into registry state
type IngesterInterface interface {
	Ingest(ctx context.Context, event *models.Event, rawLog string) error
}

// WorkerStatusInterface exposes the live scan worker snapshot
type WorkerStatusInterface interface {
	GetStatus() *worker.Status
}

// CacheInterface is the read-through cache over query results
type CacheInterface interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}) error
	PackageKey(name string) string
	StatsKey() string
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	packages   PackageStoreInterface
	events     EventStoreInterface
	state      StateStoreInterface
	ingester   IngesterInterface
	worker     WorkerStatusInterface
	cache      CacheInterface
	config     *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// NewServer creates a new API server instance.
func NewServer(
	config *ServerConfig,
	packages PackageStoreInterface,
	events EventStoreInterface,
	state StateStoreInterface,
	ingester IngesterInterface,
	workerStatus WorkerStatusInterface,
	cache CacheInterface,
) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		packages: packages,
		events:   events,
		state:    state,
		ingester: ingester,
		worker:   workerStatus,
		cache:    cache,
		config:   config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	// Set up middleware (order matters!)
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	// Package query endpoints
	api.HandleFunc("/search", s.handleSearch).Methods("GET")
	api.HandleFunc("/packages", s.handleListPackages).Methods("GET")
	api.HandleFunc("/packages/{name}", s.handleGetPackage).Methods("GET")
	api.HandleFunc("/stats", s.handleStats).Methods("GET")

	// Event audit endpoints
	api.HandleFunc("/events/recent", s.handleRecentEvents).Methods("GET")
	api.HandleFunc("/events/{package}", s.handlePackageEvents).Methods("GET")

	// Indexer endpoints
	api.HandleFunc("/indexer/status", s.handleIndexerStatus).Methods("GET")
	api.HandleFunc("/ingest", s.handleManualIngest).Methods("POST")
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "registry-indexer",
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
