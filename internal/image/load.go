// Package image provides image loading, pixel buffer conversion and the
// compositing of icon templates.
package image

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"slices"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var supportedFormats = []string{".png", ".webp", ".bmp", ".jpg", ".jpeg", ".tif", ".tiff"}

// Load decodes an image file.
func Load(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", path, err)
	}
	return img, nil
}

// SupportedFormats returns the list of supported image file extensions.
func SupportedFormats() []string {
	return slices.Clone(supportedFormats)
}

// IsSupportedFormat checks if a file has a supported image extension.
func IsSupportedFormat(path string) bool {
	return slices.Contains(supportedFormats, strings.ToLower(filepath.Ext(path)))
}

// Stem returns the file name without directory and extension.
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
