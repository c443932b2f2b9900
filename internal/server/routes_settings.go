package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zphilip/anything-llm-nas/internal/db"
)

func (s *Server) registerSettingsRoutes(r chi.Router) {
	r.Route("/settings", func(r chi.Router) {
		r.Get("/multimodal", s.handleGetMultimodal)
		r.Put("/multimodal", s.handleSetMultimodal)
	})
}

func (s *Server) handleGetMultimodal(w http.ResponseWriter, r *http.Request) {
	m, err := s.deps.Settings.Multimodal(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// handleSetMultimodal persists the multimodal embedder settings. The
// new embedder takes effect on the next process start; existing
// collections keep their vectors until re-embedded.
func (s *Server) handleSetMultimodal(w http.ResponseWriter, r *http.Request) {
	var m db.MultimodalSettings
	if err := decodeBody(r, &m); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", err)
		return
	}
	if err := s.deps.Settings.SetMultimodal(r.Context(), m); err != nil {
		writeError(w, http.StatusInternalServerError, "Internal", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}
