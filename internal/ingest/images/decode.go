package images

import (
	"bufio"
	"bytes"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ftrvxmtrx/tga"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	"golang.org/x/image/webp"
)

// rawDecoderBinary is the external RAW converter. dcraw writes a TIFF
// next to the input when invoked with -T.
const rawDecoderBinary = "dcraw"

// sniffLen covers the longest magic we match (RIFF....WEBP).
const sniffLen = 12

// decodeGeneric decodes one of the common raster formats by sniffing
// the file header and dispatching to that format's decoder. It stays
// off the image.Decode registry: TGA has no magic number, so the
// registered TGA pattern can claim files of other formats.
func decodeGeneric(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	header, err := r.Peek(sniffLen)
	if err != nil && len(header) == 0 {
		return nil, fmt.Errorf("generic decode: reading header: %w", err)
	}

	decode := sniffDecoder(header)
	if decode == nil {
		return nil, fmt.Errorf("generic decode: unrecognized image format")
	}
	img, err := decode(r)
	if err != nil {
		return nil, fmt.Errorf("generic decode: %w", err)
	}
	return img, nil
}

// sniffDecoder matches the header against known magic numbers.
func sniffDecoder(header []byte) func(*bufio.Reader) (image.Image, error) {
	switch {
	case bytes.HasPrefix(header, []byte("\x89PNG\r\n\x1a\n")):
		return func(r *bufio.Reader) (image.Image, error) { return png.Decode(r) }
	case bytes.HasPrefix(header, []byte("\xff\xd8")):
		return func(r *bufio.Reader) (image.Image, error) { return jpeg.Decode(r) }
	case bytes.HasPrefix(header, []byte("GIF87a")) || bytes.HasPrefix(header, []byte("GIF89a")):
		return func(r *bufio.Reader) (image.Image, error) { return gif.Decode(r) }
	case bytes.HasPrefix(header, []byte("BM")):
		return func(r *bufio.Reader) (image.Image, error) { return bmp.Decode(r) }
	case bytes.HasPrefix(header, []byte("II*\x00")) || bytes.HasPrefix(header, []byte("MM\x00*")):
		return func(r *bufio.Reader) (image.Image, error) { return tiff.Decode(r) }
	case len(header) >= 12 && bytes.HasPrefix(header, []byte("RIFF")) && bytes.Equal(header[8:12], []byte("WEBP")):
		return func(r *bufio.Reader) (image.Image, error) { return webp.Decode(r) }
	}
	return nil
}

// decodeTGA decodes a Targa file in process.
func decodeTGA(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, err := tga.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("tga decode: %w", err)
	}
	return img, nil
}

// decodeRAW converts a camera RAW file with the external decoder at
// high quality with camera white balance, reads the intermediate TIFF,
// and deletes it on every exit path.
func decodeRAW(path string) (image.Image, error) {
	// -T TIFF output, -w camera white balance, -q 3 highest-quality
	// interpolation.
	cmd := exec.Command(rawDecoderBinary, "-T", "-w", "-q", "3", path)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("%s: %w (%s)", rawDecoderBinary, err, strings.TrimSpace(string(out)))
	}

	tiffPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".tiff"
	defer os.Remove(tiffPath)

	f, err := os.Open(tiffPath)
	if err != nil {
		return nil, fmt.Errorf("opening raw intermediate: %w", err)
	}
	defer f.Close()

	img, err := tiff.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("tiff decode: %w", err)
	}
	return img, nil
}
