// Package server provides the HTTP API for kbase.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/doclens/kbase/internal/codes"
	"github.com/doclens/kbase/internal/config"
	"github.com/doclens/kbase/internal/linker"
	"github.com/doclens/kbase/internal/oem"
	"github.com/doclens/kbase/internal/search"
	"github.com/doclens/kbase/internal/storage"
)

// Server is the HTTP server for the kbase API.
type Server struct {
	ranker   *search.Ranker
	resolver *oem.Resolver
	products *linker.ProductLinker
	evidence *linker.EvidenceLinker
	codes    *codes.Service
	storage  storage.Storage
	config   *config.ServerConfig
	logger   *zap.Logger
	server   *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(
	ranker *search.Ranker,
	resolver *oem.Resolver,
	products *linker.ProductLinker,
	evidence *linker.EvidenceLinker,
	codesSvc *codes.Service,
	store storage.Storage,
	cfg *config.ServerConfig,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		ranker:   ranker,
		resolver: resolver,
		products: products,
		evidence: evidence,
		codes:    codesSvc,
		storage:  store,
		config:   cfg,
		logger:   logger,
	}
}

// Router builds the chi router with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Post("/api/v1/search", s.handleSearch)
	r.Get("/api/v1/oem/resolve", s.handleOEMResolve)
	r.Get("/api/v1/documents/{id}/products", s.handleDocumentProducts)
	r.Post("/api/v1/links/products", s.handleLinkProduct)
	r.Post("/api/v1/error-codes/lookup", s.handleCodeLookup)
	r.Get("/api/v1/error-codes/search", s.handleCodeSearch)
	r.Get("/api/v1/error-codes/{id}/evidence", s.handleGetEvidence)
	r.Post("/api/v1/error-codes/{id}/evidence/relink", s.handleRelinkEvidence)
	r.Get("/api/v1/status", s.handleStatus)
	r.Get("/health", s.handleHealth)

	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
