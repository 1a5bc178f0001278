package fallback

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"

	"github.com/weiawesome/wes-io-multicam/internal/domain"
)

// Program resolution. Larger uploads are scaled down to fit.
const (
	MaxWidth  = 1920
	MaxHeight = 1080
)

const jpegQuality = 90

var formats = map[string]imaging.Format{
	"image/png":  imaging.PNG,
	"image/jpeg": imaging.JPEG,
	"image/gif":  imaging.GIF,
}

// normalize rejects data that does not decode as contentType and shrinks
// oversize images to the program resolution. Images that already fit are
// returned untouched.
func normalize(data []byte, contentType string) ([]byte, error) {
	format, ok := formats[contentType]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported content type %q", domain.ErrInvalidArgument, contentType)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: undecodable image: %v", domain.ErrInvalidArgument, err)
	}

	b := img.Bounds()
	if b.Dx() <= MaxWidth && b.Dy() <= MaxHeight {
		return data, nil
	}

	resized := imaging.Fit(img, MaxWidth, MaxHeight, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, format, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}
