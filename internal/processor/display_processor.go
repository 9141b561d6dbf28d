package processor

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

var encodableFormats = map[string]imaging.Format{
	"image/jpeg": imaging.JPEG,
	"image/png":  imaging.PNG,
	"image/bmp":  imaging.BMP,
	"image/tiff": imaging.TIFF,
}

// DisplayProcessor downscales images wider than maxWidth, keeping the aspect
// ratio and the original format. Animated GIFs and formats imaging cannot
// encode are stored as uploaded.
type DisplayProcessor struct {
	maxWidth    int
	jpegQuality int
}

// NewDisplayProcessor creates a processor. maxWidth <= 0 disables resizing.
func NewDisplayProcessor(maxWidth, jpegQuality int) *DisplayProcessor {
	if jpegQuality <= 0 || jpegQuality > 100 {
		jpegQuality = 85
	}
	return &DisplayProcessor{maxWidth: maxWidth, jpegQuality: jpegQuality}
}

func (p *DisplayProcessor) Process(data []byte, mimeType string) ([]byte, string, error) {
	if p.maxWidth <= 0 {
		return data, mimeType, nil
	}
	format, ok := encodableFormats[mimeType]
	if !ok {
		return data, mimeType, nil
	}

	// Check dimensions before decoding the whole image.
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil || cfg.Width <= p.maxWidth {
		return data, mimeType, nil
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return data, mimeType, nil
	}

	resized := imaging.Fit(img, p.maxWidth, p.maxWidth*cfg.Height/cfg.Width+1, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, format, imaging.JPEGQuality(p.jpegQuality)); err != nil {
		return nil, "", fmt.Errorf("encode resized image: %w", err)
	}
	return buf.Bytes(), mimeType, nil
}
