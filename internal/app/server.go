package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/mkalinski-dev/materio/internal/api/handlers"
	appMiddleware "github.com/mkalinski-dev/materio/internal/api/middlewares"
	"github.com/mkalinski-dev/materio/internal/config"
	"github.com/mkalinski-dev/materio/internal/core"
	db "github.com/mkalinski-dev/materio/internal/core/database"
	"github.com/mkalinski-dev/materio/internal/services"
	"github.com/mkalinski-dev/materio/internal/upload"
	"github.com/mkalinski-dev/materio/internal/workflow"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer builds and wires all routes.
func NewServer(
	cfg *config.Config,
	dbClient *db.DatabaseClient,
	documents *services.DocumentService,
	orch *workflow.Orchestrator,
	uploads *upload.Service,
	imports *services.ImportService,
	schedules handlers.ScheduleRegistrar,
	embedder core.EmbeddingProvider,
	logger *slog.Logger,
) *Server {
	authHandler := handlers.NewAuthHandler(services.NewUserService(dbClient))
	docHandler := handlers.NewDocumentHandler(documents, uploads)
	workflowHandler := handlers.NewWorkflowHandler(orch)
	importHandler := handlers.NewImportHandler(imports, schedules)
	searchHandler := handlers.NewSearchHandler(dbClient, embedder)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8888"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(api chi.Router) {
		// public endpoints
		api.Post("/signup", authHandler.Signup)
		api.Post("/login", authHandler.Login)

		// protected endpoints
		api.Group(func(protected chi.Router) {
			protected.Use(appMiddleware.JWTMiddleware)

			protected.Post("/documents/upload", docHandler.UploadDocument)
			protected.Get("/documents", docHandler.GetDocuments)
			protected.Get("/documents/{id}", docHandler.GetDocument)
			protected.Get("/uploads/{id}", docHandler.GetUploadJob)
			protected.Post("/uploads/{id}/retry", docHandler.RetryUploadJob)

			protected.Post("/workflows", workflowHandler.Process)
			protected.Get("/workflows", workflowHandler.List)
			protected.Get("/workflows/{id}", workflowHandler.Get)
			protected.Post("/workflows/{id}/cancel", workflowHandler.Cancel)
			protected.Post("/workflows/{id}/retry", workflowHandler.Retry)
			protected.Post("/workflows/{id}/rollback", workflowHandler.Rollback)

			protected.Post("/imports", importHandler.Create)
			protected.Get("/imports", importHandler.List)
			protected.Get("/imports/{id}", importHandler.Get)
			protected.Post("/imports/{id}/run", importHandler.Run)

			protected.Post("/search", searchHandler.Search)
		})
	})

	httpSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	return &Server{httpServer: httpSrv, logger: logger}
}

// Start runs the HTTP server.
func (s *Server) Start() {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.logger.Error("server error", "error", err)
	}
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}
