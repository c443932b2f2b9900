package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zphilip/anything-llm-nas/internal/embedjob"
	"github.com/zphilip/anything-llm-nas/internal/resync"
)

type resyncStartRequest struct {
	BatchSize    int    `json:"batchSize"`
	ForceRefresh bool   `json:"forceRefresh"`
	FolderFilter string `json:"folderFilter"`
}

func (s *Server) registerResyncRoutes(r chi.Router) {
	r.Route("/resync", func(r chi.Router) {
		r.Post("/", s.handleResyncStart)
		r.Get("/", s.handleResyncList)
		r.Get("/{id}", s.handleResyncStatus)
		r.Get("/{id}/events", s.handleResyncEvents)
		r.Post("/{id}/pause", s.sessionControl(s.deps.ResyncMgr.Pause))
		r.Post("/{id}/resume", s.sessionControl(s.deps.ResyncMgr.Resume))
		r.Post("/{id}/cancel", s.sessionControl(s.deps.ResyncMgr.Cancel))
	})
}

func (s *Server) handleResyncStart(w http.ResponseWriter, r *http.Request) {
	var req resyncStartRequest
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "InvalidRequest", err)
			return
		}
	}
	// The session outlives this request.
	sess := s.deps.ResyncMgr.Start(context.Background(), resync.Options{
		BatchSize:    req.BatchSize,
		ForceRefresh: req.ForceRefresh,
		FolderFilter: req.FolderFilter,
	})
	writeJSON(w, http.StatusAccepted, sess.Snapshot())
}

func (s *Server) handleResyncList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.deps.ResyncMgr.Sessions()})
}

func (s *Server) handleResyncStatus(w http.ResponseWriter, r *http.Request) {
	sess, err := s.deps.ResyncMgr.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "SessionNotFound", err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleResyncEvents(w http.ResponseWriter, r *http.Request) {
	sess, err := s.deps.ResyncMgr.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "SessionNotFound", err)
		return
	}
	ch, unsubscribe := sess.Subscribe()
	defer unsubscribe()

	streamSSE(w, r, func(write func(event string, data any) error) error {
		// Late subscribers get the current state immediately.
		if err := write(resync.EventProgress, sess.Snapshot()); err != nil {
			return err
		}
		for ev := range ch {
			if err := write(ev.Type, ev.Session); err != nil {
				return err
			}
		}
		return nil
	})
}

// sessionControl adapts a manager control func into a handler.
func (s *Server) sessionControl(control func(id string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := control(chi.URLParam(r, "id")); err != nil {
			writeError(w, http.StatusNotFound, "SessionNotFound", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

type embedStartRequest struct {
	WorkspaceID   string   `json:"workspaceId"`
	WorkspaceName string   `json:"workspaceName"`
	DocumentPaths []string `json:"documentPaths"`
	ForceReEmbed  bool     `json:"forceReEmbed"`
}

func (s *Server) registerEmbedRoutes(r chi.Router) {
	r.Route("/embed", func(r chi.Router) {
		r.Post("/", s.handleEmbedStart)
		r.Get("/", s.handleEmbedList)
		r.Get("/{id}", s.handleEmbedStatus)
		r.Get("/{id}/events", s.handleEmbedEvents)
		r.Post("/{id}/pause", s.sessionControl(s.deps.EmbedMgr.Pause))
		r.Post("/{id}/resume", s.sessionControl(s.deps.EmbedMgr.Resume))
		r.Post("/{id}/cancel", s.sessionControl(s.deps.EmbedMgr.Cancel))
	})
}

func (s *Server) handleEmbedStart(w http.ResponseWriter, r *http.Request) {
	var req embedStartRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", err)
		return
	}
	sess, err := s.deps.EmbedMgr.Start(context.Background(), req.WorkspaceID, req.WorkspaceName, req.DocumentPaths, req.ForceReEmbed)
	if err != nil {
		if errors.Is(err, embedjob.ErrSessionConflict) {
			writeError(w, http.StatusConflict, "SessionConflict", err)
			return
		}
		writeError(w, http.StatusBadRequest, "InvalidRequest", err)
		return
	}
	writeJSON(w, http.StatusAccepted, sess.Snapshot())
}

func (s *Server) handleEmbedList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.deps.EmbedMgr.Sessions()})
}

func (s *Server) handleEmbedStatus(w http.ResponseWriter, r *http.Request) {
	sess, err := s.deps.EmbedMgr.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "SessionNotFound", err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleEmbedEvents(w http.ResponseWriter, r *http.Request) {
	sess, err := s.deps.EmbedMgr.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "SessionNotFound", err)
		return
	}
	ch, unsubscribe := sess.Subscribe()
	defer unsubscribe()

	streamSSE(w, r, func(write func(event string, data any) error) error {
		if err := write(embedjob.EventProgress, sess.Snapshot()); err != nil {
			return err
		}
		for ev := range ch {
			if err := write(ev.Type, ev.Session); err != nil {
				return err
			}
		}
		return nil
	})
}

// streamSSE sets up a server-sent-events response and hands the caller
// a write func. It returns when the producer returns or the client
// disconnects.
func streamSSE(w http.ResponseWriter, r *http.Request, produce func(write func(event string, data any) error) error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Internal", errors.New("streaming unsupported"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	write := func(event string, data any) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		raw, err := json.Marshal(data)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, raw); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}
	_ = produce(write)
}
