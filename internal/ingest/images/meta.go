package images

import (
	"fmt"
	"image"
	"os"
	"strings"
	"time"

	"github.com/buckket/go-blurhash"
	"github.com/rwcarlsen/goexif/exif"
)

// exifMeta carries the camera metadata surfaced on image documents.
type exifMeta struct {
	Camera   string
	Lens     string
	Taken    string // RFC3339
	Location string
	Settings string // ISO / aperture / shutter / focal length
}

// extractEXIF reads camera metadata from the original file. Missing or
// unreadable EXIF yields an empty struct, never an error; most PNGs and
// screenshots simply have none.
func extractEXIF(path string) exifMeta {
	var meta exifMeta

	f, err := os.Open(path)
	if err != nil {
		return meta
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		return meta
	}

	var parts []string
	if make_ := tagString(x, exif.Make); make_ != "" {
		parts = append(parts, make_)
	}
	if model := tagString(x, exif.Model); model != "" {
		parts = append(parts, model)
	}
	meta.Camera = strings.Join(parts, " ")

	meta.Lens = tagString(x, exif.LensModel)

	if taken := tagString(x, exif.DateTimeOriginal); taken != "" {
		if t, err := time.Parse("2006:01:02 15:04:05", taken); err == nil {
			meta.Taken = t.Format(time.RFC3339)
		}
	}

	if lat, long, err := x.LatLong(); err == nil {
		meta.Location = fmt.Sprintf("%.6f, %.6f", lat, long)
	}

	var settings []string
	if iso := tagInt(x, exif.ISOSpeedRatings); iso > 0 {
		settings = append(settings, fmt.Sprintf("ISO %d", iso))
	}
	if f := tagRatio(x, exif.FNumber); f > 0 {
		settings = append(settings, fmt.Sprintf("f/%.1f", f))
	}
	if ex := tagRatioString(x, exif.ExposureTime); ex != "" {
		settings = append(settings, ex+"s")
	}
	if fl := tagRatio(x, exif.FocalLength); fl > 0 {
		settings = append(settings, fmt.Sprintf("%.0fmm", fl))
	}
	meta.Settings = strings.Join(settings, ", ")

	return meta
}

func tagString(x *exif.Exif, name exif.FieldName) string {
	tag, err := x.Get(name)
	if err != nil {
		return ""
	}
	s, err := tag.StringVal()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func tagInt(x *exif.Exif, name exif.FieldName) int {
	tag, err := x.Get(name)
	if err != nil {
		return 0
	}
	v, err := tag.Int(0)
	if err != nil {
		return 0
	}
	return v
}

func tagRatio(x *exif.Exif, name exif.FieldName) float64 {
	tag, err := x.Get(name)
	if err != nil {
		return 0
	}
	num, den, err := tag.Rat2(0)
	if err != nil || den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func tagRatioString(x *exif.Exif, name exif.FieldName) string {
	tag, err := x.Get(name)
	if err != nil {
		return ""
	}
	num, den, err := tag.Rat2(0)
	if err != nil || den == 0 {
		return ""
	}
	if num == 1 {
		return fmt.Sprintf("1/%d", den)
	}
	return fmt.Sprintf("%.3f", float64(num)/float64(den))
}

// blurHashMaxEdge bounds the thumbnail fed to the BlurHash encoder.
const blurHashMaxEdge = 32

// computeBlurHash produces a compact placeholder hash from a downscaled
// copy of the image with 4x3 components.
func computeBlurHash(img image.Image) (string, error) {
	small := ResizeToMaxEdge(img, blurHashMaxEdge)
	return blurhash.Encode(4, 3, small)
}

// buildDescription produces the deterministic human-readable caption
// derived from the filename and EXIF. It is the text the picker and
// fallback embedding paths see before any AI caption exists.
func buildDescription(originalName string, meta exifMeta) string {
	base := strings.TrimSuffix(originalName, extOf(originalName))
	base = strings.NewReplacer("_", " ", "-", " ").Replace(base)

	var parts []string
	parts = append(parts, fmt.Sprintf("Photo %s", strings.TrimSpace(base)))
	if meta.Camera != "" {
		parts = append(parts, "taken with "+meta.Camera)
	}
	if meta.Lens != "" {
		parts = append(parts, "lens "+meta.Lens)
	}
	if meta.Taken != "" {
		parts = append(parts, "on "+meta.Taken)
	}
	if meta.Location != "" {
		parts = append(parts, "at "+meta.Location)
	}
	if meta.Settings != "" {
		parts = append(parts, "("+meta.Settings+")")
	}
	return strings.Join(parts, " ")
}

func extOf(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i:]
	}
	return ""
}
