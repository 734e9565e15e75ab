package snapshot

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"

	"github.com/nfnt/resize"
)

// Thumbnail decodes an encoded screenshot and scales it down to maxWidth,
// keeping the aspect ratio. Narrower images are returned unscaled.
func Thumbnail(data []byte, maxWidth uint) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}
	if maxWidth == 0 || uint(img.Bounds().Dx()) <= maxWidth {
		return img, nil
	}
	return resize.Resize(maxWidth, 0, img, resize.Lanczos3), nil
}

// SaveThumbnail writes a scaled PNG of data to path.
func SaveThumbnail(data []byte, path string, maxWidth uint) error {
	img, err := Thumbnail(data, maxWidth)
	if err != nil {
		return err
	}
	return WritePNG(img, path)
}

// WritePNG encodes img to path, creating parent directories.
func WritePNG(img image.Image, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Open decodes an image file.
func Open(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}
