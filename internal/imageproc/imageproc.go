// Package imageproc implements the pure image operation functors: decode,
// bounded Lanczos resize, and re-encode into the supported target formats.
package imageproc

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/avif"
	"github.com/gen2brain/webp"

	"github.com/fairyhunter13/pixtools/internal/domain"

	"image/jpeg"
	"image/png"
)

// Default encode qualities, applied when the client sends none.
const (
	DefaultJPEGQuality = 85
	DefaultWebPQuality = 80
)

// Decode parses raw upload bytes into an image. WebP and AVIF decoders are
// registered by their package imports.
func Decode(raw []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("op=imageproc.decode: %w: %w", domain.ErrFatalTask, err)
	}
	return img, nil
}

// Resize applies an aspect-preserving Lanczos resize bounded by maxW/maxH.
// When only one target dimension is given the other follows the source
// aspect. A nil params or zero target returns the image unchanged.
func Resize(img image.Image, params *domain.ResizeParams, maxW, maxH int) image.Image {
	if params == nil || (params.Width <= 0 && params.Height <= 0) {
		return img
	}
	w, h := params.Width, params.Height
	if w < 0 {
		w = 0
	}
	if h < 0 {
		h = 0
	}
	if maxW > 0 && w > maxW {
		w = maxW
	}
	if maxH > 0 && h > maxH {
		h = maxH
	}
	// With one dimension zero, imaging preserves the aspect ratio.
	return imaging.Resize(img, w, h, imaging.Lanczos)
}

// Encode renders img in the target format and returns the bytes, the file
// extension, and the content type. quality outside [1,100] selects the
// format default; PNG ignores it entirely (lossless).
func Encode(img image.Image, format string, quality int) ([]byte, string, string, error) {
	var buf bytes.Buffer
	switch format {
	case domain.OpJPG:
		q := quality
		if q < 1 || q > 100 {
			q = DefaultJPEGQuality
		}
		// The stdlib encoder drops alpha, matching the forced-RGB contract.
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: q}); err != nil {
			return nil, "", "", fmt.Errorf("op=imageproc.encode_jpg: %w", err)
		}
		return buf.Bytes(), "jpg", "image/jpeg", nil
	case domain.OpPNG:
		if err := png.Encode(&buf, img); err != nil {
			return nil, "", "", fmt.Errorf("op=imageproc.encode_png: %w", err)
		}
		return buf.Bytes(), "png", "image/png", nil
	case domain.OpWebP:
		q := quality
		if q < 1 || q > 100 {
			q = DefaultWebPQuality
		}
		if err := webp.Encode(&buf, img, webp.Options{Quality: q}); err != nil {
			return nil, "", "", fmt.Errorf("op=imageproc.encode_webp: %w", err)
		}
		return buf.Bytes(), "webp", "image/webp", nil
	case domain.OpAVIF:
		opts := avif.Options{Quality: 60, Speed: 8}
		if quality >= 1 && quality <= 100 {
			opts.Quality = quality
		}
		if err := avif.Encode(&buf, img, opts); err != nil {
			return nil, "", "", fmt.Errorf("op=imageproc.encode_avif: %w", err)
		}
		return buf.Bytes(), "avif", "image/avif", nil
	default:
		return nil, "", "", fmt.Errorf("op=imageproc.encode: unsupported format %q: %w", format, domain.ErrFatalTask)
	}
}
