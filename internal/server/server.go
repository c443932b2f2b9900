// Package server exposes the REST, SSE, and WebSocket surface over the
// scan, embedding, and search subsystems.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/zphilip/anything-llm-nas/internal/bus"
	"github.com/zphilip/anything-llm-nas/internal/config"
	"github.com/zphilip/anything-llm-nas/internal/db"
	"github.com/zphilip/anything-llm-nas/internal/embeddings"
	"github.com/zphilip/anything-llm-nas/internal/embedjob"
	"github.com/zphilip/anything-llm-nas/internal/events"
	"github.com/zphilip/anything-llm-nas/internal/ingest"
	"github.com/zphilip/anything-llm-nas/internal/metastore"
	"github.com/zphilip/anything-llm-nas/internal/resync"
	"github.com/zphilip/anything-llm-nas/internal/vectorcache"
	"github.com/zphilip/anything-llm-nas/internal/vectordb"
)

// Deps collects everything the HTTP surface needs.
type Deps struct {
	Config    *config.Config
	Meta      *metastore.Store
	Bus       *bus.Bus
	VCache    *vectorcache.Cache
	Vectors   *vectordb.Store
	Gateway   *embeddings.Gateway
	ResyncMgr *resync.Manager
	EmbedMgr  *embedjob.Manager
	Collector *ingest.Collector
	Router    *ingest.Router
	Events    *events.Store
	Settings  *db.SettingsStore

	// Reranker is optional; nil means search requests with rerank set
	// are rejected.
	Reranker vectordb.Reranker
}

// Server is the HTTP front of the ingestion and retrieval core.
type Server struct {
	deps       Deps
	router     chi.Router
	httpServer *http.Server
	wsHub      *wsFeed
}

// New wires a Server and builds its routes.
func New(deps Deps) *Server {
	s := &Server{deps: deps, wsHub: newWSFeed(deps.Bus)}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	corsOpts := cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	if s.deps.Config.Server.AllowAll {
		corsOpts.AllowedOrigins = []string{"*"}
		corsOpts.AllowCredentials = false
	}
	r.Use(cors.Handler(corsOpts))

	r.Get("/healthz", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		s.registerResyncRoutes(r)
		s.registerEmbedRoutes(r)
		s.registerSearchRoutes(r)
		s.registerFolderRoutes(r)
		s.registerDocumentRoutes(r)
		s.registerSettingsRoutes(r)
		s.registerEventRoutes(r)
	})

	return r
}

// Router returns the chi router, mainly for tests.
func (s *Server) Router() chi.Router { return s.router }

// Start begins listening on the configured port.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.deps.Config.Server.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	log.Printf("nasvec server listening on %s", addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"redis":        s.deps.Meta.RedisAvailable(),
		"totalVectors": s.deps.Vectors.TotalVectors(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("server: encoding response: %v", err)
	}
}

// errorKind is the machine-readable taxonomy field on error responses.
func writeError(w http.ResponseWriter, status int, kind string, err error) {
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"kind":  kind,
	})
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 32<<20))
	return dec.Decode(v)
}
