package server

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zphilip/anything-llm-nas/internal/paths"
)

type ingestRequest struct {
	Folder string   `json:"folder"`
	Paths  []string `json:"paths"`
}

func (s *Server) registerDocumentRoutes(r chi.Router) {
	r.Route("/documents", func(r chi.Router) {
		r.Post("/ingest", s.handleIngest)
		r.Delete("/{folder}/{file}", s.handleDeleteDocument)
	})
	r.Route("/cache", func(r chi.Router) {
		r.Post("/purge", s.handlePurgeCache)
	})
	r.Route("/namespaces", func(r chi.Router) {
		r.Get("/", s.handleListNamespaces)
		r.Delete("/{namespace}", s.handleDeleteNamespace)
		r.Delete("/{namespace}/documents/{docId}", s.handleDeleteNamespaceDocument)
	})
}

// handleIngest runs batched ingestion over server-local source paths.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", err)
		return
	}
	if _, err := paths.NormalizeName(req.Folder); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidPath", err)
		return
	}
	if len(req.Paths) == 0 {
		writeError(w, http.StatusBadRequest, "InvalidRequest", errors.New("paths is required"))
		return
	}
	results := s.deps.Collector.IngestBatch(r.Context(), req.Folder, req.Paths)
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	folder := chi.URLParam(r, "folder")
	file := chi.URLParam(r, "file")
	if _, err := paths.NormalizeName(folder); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidPath", err)
		return
	}

	// Resolve the document id before the index entry goes away, so the
	// derived vectors can be purged from every workspace along with it.
	docID := ""
	if idx, err := s.deps.Meta.GetFolder(r.Context(), folder); err == nil && idx != nil {
		for _, item := range idx.Items {
			if item.Name == file {
				docID = item.ID
				break
			}
		}
	}

	if err := s.deps.Router.Remove(r.Context(), folder, file); err != nil {
		writeError(w, http.StatusInternalServerError, "Internal", err)
		return
	}
	if docID != "" {
		if err := s.deps.Vectors.DeleteDocumentAll(r.Context(), docID); err != nil {
			writeError(w, http.StatusInternalServerError, "Internal", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleDeleteNamespaceDocument unembeds one document from one
// workspace without touching the source file.
func (s *Server) handleDeleteNamespaceDocument(w http.ResponseWriter, r *http.Request) {
	ns := chi.URLParam(r, "namespace")
	docID := chi.URLParam(r, "docId")
	if docID == "" {
		writeError(w, http.StatusBadRequest, "InvalidRequest", errors.New("docId is required"))
		return
	}
	if err := s.deps.Vectors.DeleteDocument(r.Context(), ns, docID); err != nil {
		writeError(w, http.StatusInternalServerError, "Internal", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePurgeCache(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.VCache.PurgeAll(); err != nil {
		writeError(w, http.StatusInternalServerError, "Internal", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListNamespaces(w http.ResponseWriter, r *http.Request) {
	names := s.deps.Vectors.Namespaces()
	out := make([]map[string]any, 0, len(names))
	for _, name := range names {
		out = append(out, map[string]any{
			"namespace": name,
			"vectors":   s.deps.Vectors.NamespaceCount(name),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"namespaces": out})
}

func (s *Server) handleDeleteNamespace(w http.ResponseWriter, r *http.Request) {
	ns := chi.URLParam(r, "namespace")
	if err := s.deps.Vectors.DeleteNamespace(r.Context(), ns); err != nil {
		writeError(w, http.StatusInternalServerError, "Internal", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
