// Package docs defines the on-disk document records and the per-folder
// metadata index shared by the scanner, the metadata store, and the
// embedding pipeline.
package docs

// FileType discriminates between the two ingestion branches.
type FileType string

const (
	FileTypeText  FileType = "text"
	FileTypeImage FileType = "image"
)

// Embedding modes recorded on documents and vector records.
const (
	EmbeddingModeServerDecided    = "server-decided"
	EmbeddingModeMultimodalDirect = "multimodal_direct"
	EmbeddingModeTextFallback     = "text_fallback"
)

// Document is the on-disk unit stored at documents/<folder>/<slug>-<uuid>.json.
// It is exclusively owned by its folder; removing the file also removes
// (best effort) all index entries derived from it.
type Document struct {
	ID                 string   `json:"id"`
	URL                string   `json:"url"`
	Title              string   `json:"title"`
	DocAuthor          string   `json:"docAuthor"`
	Description        string   `json:"description"`
	DocSource          string   `json:"docSource"`
	ChunkSource        string   `json:"chunkSource"`
	Published          string   `json:"published"`
	WordCount          int      `json:"wordCount"`
	TokenCountEstimate int      `json:"token_count_estimate,omitempty"`
	PageContent        string   `json:"pageContent"`
	Extension          string   `json:"extension,omitempty"`
	FileType           FileType `json:"fileType,omitempty"`
	EmbeddingMode      string   `json:"embeddingMode,omitempty"`
	ImageBase64        string   `json:"imageBase64,omitempty"`
	BlurHash           string   `json:"blurHash,omitempty"`
	Camera             string   `json:"camera,omitempty"`
	Lens               string   `json:"lens,omitempty"`
	Location           string   `json:"location,omitempty"`
	CameraSettings     string   `json:"cameraSettings,omitempty"`
	MtimeMs            int64    `json:"mtimeMs,omitempty"`
	Size               int64    `json:"size,omitempty"`
}

// FileMetadata is a Document with the heavy payload fields stripped,
// plus the picker flags attached during a scan.
type FileMetadata struct {
	Name               string   `json:"name"`
	Type               string   `json:"type"` // always "file"
	ID                 string   `json:"id,omitempty"`
	URL                string   `json:"url"`
	Title              string   `json:"title"`
	DocAuthor          string   `json:"docAuthor"`
	Description        string   `json:"description"`
	DocSource          string   `json:"docSource"`
	ChunkSource        string   `json:"chunkSource"`
	Published          string   `json:"published"`
	WordCount          int      `json:"wordCount"`
	TokenCountEstimate int      `json:"token_count_estimate,omitempty"`
	Extension          string   `json:"extension,omitempty"`
	FileType           FileType `json:"fileType,omitempty"`
	EmbeddingMode      string   `json:"embeddingMode,omitempty"`
	BlurHash           string   `json:"blurHash,omitempty"`
	Camera             string   `json:"camera,omitempty"`
	Lens               string   `json:"lens,omitempty"`
	Location           string   `json:"location,omitempty"`
	CameraSettings     string   `json:"cameraSettings,omitempty"`
	MtimeMs            int64    `json:"mtimeMs,omitempty"`
	Size               int64    `json:"size,omitempty"`

	Cached           bool     `json:"cached"`
	CanWatch         bool     `json:"canWatch"`
	Watched          bool     `json:"watched"`
	PinnedWorkspaces []string `json:"pinnedWorkspaces"`
}

// FolderIndex is the per-folder metadata index. Items reflect the set of
// valid JSON files on disk within the folder as of the last refresh.
type FolderIndex struct {
	Name  string         `json:"name"`
	Type  string         `json:"type"` // always "folder"
	Items []FileMetadata `json:"items"`
}

// Metadata returns the stripped FileMetadata view of a document. The
// heavy fields (pageContent, imageBase64) never leave the document file.
func (d *Document) Metadata(name string) FileMetadata {
	return FileMetadata{
		Name:               name,
		Type:               "file",
		ID:                 d.ID,
		URL:                d.URL,
		Title:              d.Title,
		DocAuthor:          d.DocAuthor,
		Description:        d.Description,
		DocSource:          d.DocSource,
		ChunkSource:        d.ChunkSource,
		Published:          d.Published,
		WordCount:          d.WordCount,
		TokenCountEstimate: d.TokenCountEstimate,
		Extension:          d.Extension,
		FileType:           d.FileType,
		EmbeddingMode:      d.EmbeddingMode,
		BlurHash:           d.BlurHash,
		Camera:             d.Camera,
		Lens:               d.Lens,
		Location:           d.Location,
		CameraSettings:     d.CameraSettings,
		MtimeMs:            d.MtimeMs,
		Size:               d.Size,
	}
}

// HasRequiredFields reports whether the metadata carries every field the
// file picker needs. Files missing any of these are dropped from folder
// indexes during a scan.
func (m *FileMetadata) HasRequiredFields() bool {
	return m.Name != "" &&
		m.Type != "" &&
		m.URL != "" &&
		m.Title != "" &&
		m.DocAuthor != "" &&
		m.Description != "" &&
		m.DocSource != "" &&
		m.ChunkSource != "" &&
		m.Published != "" &&
		m.WordCount > 0
}

// UpsertItem inserts or replaces the item with the same name.
// Replacement is last-write-wins at the folder level only.
func (f *FolderIndex) UpsertItem(item FileMetadata) {
	for i := range f.Items {
		if f.Items[i].Name == item.Name {
			f.Items[i] = item
			return
		}
	}
	f.Items = append(f.Items, item)
}

// RemoveItem deletes the item with the given name, if present.
// It reports whether an item was removed.
func (f *FolderIndex) RemoveItem(name string) bool {
	for i := range f.Items {
		if f.Items[i].Name == name {
			f.Items = append(f.Items[:i], f.Items[i+1:]...)
			return true
		}
	}
	return false
}
