package server

import (
	"encoding/json"
	"net/http"
	"os"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/zphilip/anything-llm-nas/internal/docs"
	"github.com/zphilip/anything-llm-nas/internal/paths"
)

// localFilesTree is the picker payload: every folder index under one
// virtual "documents" root, custom-documents first.
type localFilesTree struct {
	Name  string             `json:"name"`
	Type  string             `json:"type"`
	Items []docs.FolderIndex `json:"items"`
}

// collapsedTree replaces an oversize picker payload with a summary the
// UI can render as "too large, browse per folder".
type collapsedTree struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	Collapsed    bool   `json:"collapsed"`
	TotalFolders int    `json:"totalFolders"`
	TotalFiles   int    `json:"totalFiles"`
	ByteSize     int    `json:"byteSize"`
}

func (s *Server) registerFolderRoutes(r chi.Router) {
	r.Route("/folders", func(r chi.Router) {
		r.Get("/", s.handleLocalFiles)
		r.Get("/{folder}", s.handleGetFolder)
		r.Delete("/{folder}", s.handleDeleteFolder)
	})
}

func (s *Server) handleLocalFiles(w http.ResponseWriter, r *http.Request) {
	root := s.deps.Config.DocumentsDir()
	entries, err := os.ReadDir(root)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal", err)
		return
	}

	tree := localFilesTree{Name: "documents", Type: "folder"}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		idx, err := s.deps.Meta.GetFolder(r.Context(), e.Name())
		if err != nil || idx == nil {
			idx = &docs.FolderIndex{Name: e.Name(), Type: "folder", Items: []docs.FileMetadata{}}
		}
		tree.Items = append(tree.Items, *idx)
	}
	sort.SliceStable(tree.Items, func(a, b int) bool {
		if tree.Items[a].Name == "custom-documents" {
			return true
		}
		if tree.Items[b].Name == "custom-documents" {
			return false
		}
		return tree.Items[a].Name < tree.Items[b].Name
	})

	raw, err := json.Marshal(map[string]any{"localFiles": tree})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal", err)
		return
	}
	if int64(len(raw)) > s.deps.Config.MaxLocalFilesJSONBytes {
		files := 0
		for _, f := range tree.Items {
			files += len(f.Items)
		}
		writeJSON(w, http.StatusOK, map[string]any{"localFiles": collapsedTree{
			Name:         "documents",
			Type:         "folder",
			Collapsed:    true,
			TotalFolders: len(tree.Items),
			TotalFiles:   files,
			ByteSize:     len(raw),
		}})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(raw)
}

func (s *Server) handleGetFolder(w http.ResponseWriter, r *http.Request) {
	folder := chi.URLParam(r, "folder")
	if _, err := paths.NormalizeName(folder); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidPath", err)
		return
	}
	idx, err := s.deps.Meta.GetFolder(r.Context(), folder)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal", err)
		return
	}
	if idx == nil {
		writeJSON(w, http.StatusOK, docs.FolderIndex{Name: folder, Type: "folder", Items: []docs.FileMetadata{}})
		return
	}
	writeJSON(w, http.StatusOK, idx)
}

func (s *Server) handleDeleteFolder(w http.ResponseWriter, r *http.Request) {
	folder := chi.URLParam(r, "folder")
	if _, err := paths.NormalizeName(folder); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidPath", err)
		return
	}
	if err := s.deps.Meta.DeleteFolder(r.Context(), folder); err != nil {
		writeError(w, http.StatusInternalServerError, "Internal", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
