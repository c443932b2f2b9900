package images

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"

	"golang.org/x/image/draw"
)

// base64ChunkSize is the read granularity when streaming a file into
// its base64 form, so large images never get slurped whole.
const base64ChunkSize = 1 << 20

// StreamBase64 encodes a file to base64 with chunked reads.
func StreamBase64(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var buf bytes.Buffer
	enc := base64.NewEncoder(base64.StdEncoding, &buf)
	if _, err := io.CopyBuffer(enc, f, make([]byte, base64ChunkSize)); err != nil {
		return "", fmt.Errorf("streaming base64: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("flushing base64: %w", err)
	}
	return buf.String(), nil
}

// ResizeToMaxEdge scales img so its longest edge is at most maxEdge,
// preserving aspect ratio. Images already within bounds are returned
// unchanged; there is no upscaling.
func ResizeToMaxEdge(img image.Image, maxEdge int) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if maxEdge <= 0 || (w <= maxEdge && h <= maxEdge) {
		return img
	}

	var nw, nh int
	if w >= h {
		nw = maxEdge
		nh = h * maxEdge / w
	} else {
		nh = maxEdge
		nw = w * maxEdge / h
	}
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}

// ResizeBase64PNG decodes a base64 PNG, bounds its longest edge, and
// re-encodes it. Used before uploading images to the multimodal
// embedder.
func ResizeBase64PNG(imageBase64 string, maxEdge int) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(imageBase64)
	if err != nil {
		return "", fmt.Errorf("decoding base64 image: %w", err)
	}

	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("decoding png: %w", err)
	}

	resized := ResizeToMaxEdge(img, maxEdge)
	if resized == img {
		return imageBase64, nil
	}

	var out bytes.Buffer
	enc := base64.NewEncoder(base64.StdEncoding, &out)
	if err := png.Encode(enc, resized); err != nil {
		return "", fmt.Errorf("encoding resized png: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return out.String(), nil
}
