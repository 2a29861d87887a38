// Package ocr reads the short item name printed in the corner of an icon.
package ocr

import (
	"errors"
	"fmt"
	"image"
	"strings"
	"sync"

	"github.com/otiai10/gosseract/v2"
	"gocv.io/x/gocv"
)

// ShortNameChars is the character set of item short names.
const ShortNameChars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz-./()#+ "

// shortNameHeight is the height of the name band at the reference slot size.
const shortNameHeight = 16

// Reader reads item short names from icon crops.
type Reader interface {
	ReadShortName(icon gocv.Mat) (string, error)
	Close() error
}

// Tesseract is a Reader backed by a single Tesseract client. The client is
// not safe for concurrent use, so calls are serialized.
type Tesseract struct {
	mu     sync.Mutex
	client *gosseract.Client
}

// NewTesseract creates a reader. tessdata may be empty to use the system
// default location.
func NewTesseract(tessdata string) (*Tesseract, error) {
	client := gosseract.NewClient()

	if tessdata != "" {
		if err := client.SetTessdataPrefix(tessdata); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to set tessdata path: %w", err)
		}
	}
	if err := client.SetLanguage("eng"); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set OCR language: %w", err)
	}

	// Short names are abbreviations, not dictionary words.
	_ = client.SetVariable("load_system_dawg", "false")
	_ = client.SetVariable("load_freq_dawg", "false")

	if err := client.SetPageSegMode(gosseract.PSM_SINGLE_LINE); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set PSM: %w", err)
	}
	if err := client.SetWhitelist(ShortNameChars); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set whitelist: %w", err)
	}

	return &Tesseract{client: client}, nil
}

// Close releases OCR resources.
func (t *Tesseract) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client != nil {
		err := t.client.Close()
		t.client = nil
		return err
	}
	return nil
}

// ReadShortName recognizes the name band at the top of a BGR icon crop
// rescaled to the reference resolution.
func (t *Tesseract) ReadShortName(icon gocv.Mat) (string, error) {
	if icon.Empty() {
		return "", errors.New("empty image")
	}

	processed, err := preprocessShortName(icon)
	if err != nil {
		return "", err
	}
	defer processed.Close()

	buf, err := gocv.IMEncode(gocv.PNGFileExt, processed)
	if err != nil {
		return "", fmt.Errorf("failed to encode image: %w", err)
	}
	defer buf.Close()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return "", errors.New("reader is closed")
	}
	if err := t.client.SetImageFromBytes(buf.GetBytes()); err != nil {
		return "", fmt.Errorf("failed to set image: %w", err)
	}
	text, err := t.client.Text()
	if err != nil {
		return "", fmt.Errorf("OCR failed: %w", err)
	}
	return strings.Join(strings.Fields(text), " "), nil
}

// NameBand returns the region of an icon crop that holds the short name.
func NameBand(size image.Point) image.Rectangle {
	h := min(shortNameHeight, size.Y-2)
	return image.Rect(1, 1, size.X-1, 1+h)
}

// preprocessShortName crops the name band, upscales it and binarizes it to
// dark text on a light background.
func preprocessShortName(icon gocv.Mat) (gocv.Mat, error) {
	band := NameBand(image.Pt(icon.Cols(), icon.Rows()))
	if band.Dx() <= 0 || band.Dy() <= 0 {
		return gocv.NewMat(), fmt.Errorf("icon too small for a name band: %dx%d", icon.Cols(), icon.Rows())
	}
	region := icon.Region(band)
	defer region.Close()

	scaled := gocv.NewMat()
	defer scaled.Close()
	gocv.Resize(region, &scaled, image.Point{}, 4, 4, gocv.InterpolationCubic)

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(scaled, &gray, gocv.ColorBGRToGray)

	binary := gocv.NewMat()
	gocv.Threshold(gray, &binary, 0, 255, gocv.ThresholdBinary|gocv.ThresholdOtsu)

	// Names are light on dark; Tesseract wants dark on light.
	if gocv.CountNonZero(binary)*2 < binary.Rows()*binary.Cols() {
		gocv.BitwiseNot(binary, &binary)
	}
	return binary, nil
}
