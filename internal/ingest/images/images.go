// Package images converts uploaded images of many formats (PNG, TGA,
// camera RAW, and anything the generic decoders handle) into normalized
// PNG-backed document records with EXIF metadata, a BlurHash
// placeholder, and a base64 payload for embedding.
package images

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zphilip/anything-llm-nas/internal/docs"
)

var (
	// ErrInvalidImage reports an unreadable or zero-dimension image.
	ErrInvalidImage = errors.New("invalid image")

	// ErrDecoderFailure reports a failed RAW/TGA decode. The pipeline
	// may still recover via the generic decoder (which can end up with
	// only the embedded thumbnail).
	ErrDecoderFailure = errors.New("image decoder failure")
)

// rawExtensions are the camera RAW formats handed to the external decoder.
var rawExtensions = map[string]bool{
	".nef": true, ".cr2": true, ".crw": true, ".arw": true, ".dng": true,
	".orf": true, ".rw2": true, ".pef": true, ".srw": true, ".raf": true,
}

// largeConversionBytes is the size above which a conversion hints a GC
// cycle afterwards to bound peak RSS.
const largeConversionBytes = 64 << 20

// Pipeline converts image files into Document records.
type Pipeline struct {
	trashDir string
}

// NewPipeline creates a Pipeline. Converted originals and invalid
// uploads are moved under trashDir.
func NewPipeline(trashDir string) (*Pipeline, error) {
	if err := os.MkdirAll(trashDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating trash dir: %w", err)
	}
	return &Pipeline{trashDir: trashDir}, nil
}

// Process converts the file at absPath into a Document. originalName is
// the name the file was uploaded under and is used in every error so
// failures are traceable to a file and a phase.
func (p *Pipeline) Process(absPath, originalName string) (*docs.Document, error) {
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("%s: stat: %w", originalName, err)
	}

	ext := strings.ToLower(filepath.Ext(absPath))

	pngPath, converted, err := p.toPNG(absPath, originalName, ext)
	if err != nil {
		if errors.Is(err, ErrInvalidImage) {
			// Explicitly invalid content is trashed so it is not
			// re-attempted on every scan.
			p.trash(absPath, originalName)
		}
		return nil, err
	}
	if converted {
		defer os.Remove(pngPath)
	}

	img, err := decodePNGFile(pngPath)
	if err != nil {
		return nil, fmt.Errorf("%s: decode: %w", originalName, err)
	}
	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		p.trash(absPath, originalName)
		return nil, fmt.Errorf("%s: %w: zero dimensions", originalName, ErrInvalidImage)
	}

	imageBase64, err := StreamBase64(pngPath)
	if err != nil {
		return nil, fmt.Errorf("%s: encode: %w", originalName, err)
	}

	meta := extractEXIF(absPath)
	hash, err := computeBlurHash(img)
	if err != nil {
		log.Printf("images: blurhash for %s failed: %v", originalName, err)
	}

	description := buildDescription(originalName, meta)

	now := time.Now()
	published := meta.Taken
	if published == "" {
		published = now.Format(time.RFC3339)
	}
	author := meta.Camera
	if author == "" {
		author = "Unknown"
	}

	doc := &docs.Document{
		ID:             uuid.New().String(),
		URL:            "file://" + absPath,
		Title:          originalName,
		DocAuthor:      author,
		Description:    description,
		DocSource:      "image file uploaded by the user",
		ChunkSource:    "image-upload",
		Published:      published,
		WordCount:      len(strings.Fields(description)),
		PageContent:    imageBase64,
		Extension:      strings.TrimPrefix(ext, "."),
		FileType:       docs.FileTypeImage,
		EmbeddingMode:  docs.EmbeddingModeServerDecided,
		ImageBase64:    imageBase64,
		BlurHash:       hash,
		Camera:         meta.Camera,
		Lens:           meta.Lens,
		Location:       meta.Location,
		CameraSettings: meta.Settings,
		MtimeMs:        info.ModTime().UnixMilli(),
		Size:           info.Size(),
	}

	if converted {
		// The normalized PNG payload replaces the original upload.
		p.trash(absPath, originalName)
	}

	if info.Size() > largeConversionBytes {
		img = nil
		runtime.GC()
	}

	return doc, nil
}

// toPNG normalizes the input to a PNG file. It returns the PNG path and
// whether a temporary conversion was produced (the caller removes it).
func (p *Pipeline) toPNG(absPath, originalName, ext string) (string, bool, error) {
	switch {
	case ext == ".png":
		return absPath, false, nil

	case ext == ".tga":
		img, err := decodeTGA(absPath)
		if err != nil {
			return "", false, fmt.Errorf("%s: %w: %v", originalName, ErrDecoderFailure, err)
		}
		path, err := p.encodeTempPNG(img)
		return path, path != "", err

	case rawExtensions[ext]:
		img, err := decodeRAW(absPath)
		if err != nil {
			// The generic decoder may still read the file, often via
			// the embedded preview thumbnail only.
			log.Printf("images: RAW decode for %s failed (%v), falling back to generic decoder (may use embedded thumbnail)", originalName, err)
			img, err = decodeGeneric(absPath)
			if err != nil {
				return "", false, fmt.Errorf("%s: %w: %v", originalName, ErrInvalidImage, err)
			}
		}
		path, err := p.encodeTempPNG(img)
		return path, path != "", err

	default:
		img, err := decodeGeneric(absPath)
		if err != nil {
			return "", false, fmt.Errorf("%s: %w: %v", originalName, ErrInvalidImage, err)
		}
		path, err := p.encodeTempPNG(img)
		return path, path != "", err
	}
}

func (p *Pipeline) encodeTempPNG(img image.Image) (string, error) {
	f, err := os.CreateTemp("", "nasvec-*.png")
	if err != nil {
		return "", fmt.Errorf("creating temp png: %w", err)
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("encoding png: %w", err)
	}
	return f.Name(), nil
}

// trash moves a file into the trash directory, keeping the name unique.
func (p *Pipeline) trash(absPath, originalName string) {
	dest := filepath.Join(p.trashDir, fmt.Sprintf("%d-%s", time.Now().UnixMilli(), filepath.Base(originalName)))
	if err := os.Rename(absPath, dest); err != nil {
		log.Printf("images: trashing %s failed: %v", originalName, err)
	}
}

func decodePNGFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return png.Decode(f)
}
