// Package colorutil provides shared color utilities for inventory processing.
package colorutil

import (
	"fmt"
	"image/color"
	"math"
	"strconv"
	"strings"
)

// Common colors used when compositing icon templates.
var (
	Black = color.RGBA{R: 0, G: 0, B: 0, A: 255}
	White = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// HSV is a color in OpenCV's 8-bit HSV convention: H 0-180, S 0-255, V 0-255.
type HSV struct {
	H float64 `json:"h" toml:"h" yaml:"h"`
	S float64 `json:"s" toml:"s" yaml:"s"`
	V float64 `json:"v" toml:"v" yaml:"v"`
}

// HSVRange is an inclusive band of HSV colors, as used by gocv.InRangeWithScalar.
type HSVRange struct {
	Min HSV `json:"min" toml:"min" yaml:"min"`
	Max HSV `json:"max" toml:"max" yaml:"max"`
}

// Contains reports whether c lies inside the band.
func (r HSVRange) Contains(c HSV) bool {
	return c.H >= r.Min.H && c.H <= r.Max.H &&
		c.S >= r.Min.S && c.S <= r.Max.S &&
		c.V >= r.Min.V && c.V <= r.Max.V
}

// Clamp limits every bound to the valid OpenCV HSV domain.
func (r HSVRange) Clamp() HSVRange {
	clamp := func(c HSV) HSV {
		return HSV{
			H: math.Max(0, math.Min(180, c.H)),
			S: math.Max(0, math.Min(255, c.S)),
			V: math.Max(0, math.Min(255, c.V)),
		}
	}
	return HSVRange{Min: clamp(r.Min), Max: clamp(r.Max)}
}

// RGBToHSV converts RGB (0-255) to HSV (OpenCV convention: H 0-180, S 0-255, V 0-255).
func RGBToHSV(r, g, b float64) (h, s, v float64) {
	r /= 255.0
	g /= 255.0
	b /= 255.0

	maxC := math.Max(r, math.Max(g, b))
	minC := math.Min(r, math.Min(g, b))
	diff := maxC - minC

	v = maxC * 255.0

	if maxC == 0 {
		s = 0
	} else {
		s = (diff / maxC) * 255.0
	}

	if diff == 0 {
		h = 0
	} else if maxC == r {
		h = 60 * math.Mod((g-b)/diff, 6)
	} else if maxC == g {
		h = 60 * ((b-r)/diff + 2)
	} else {
		h = 60 * ((r-g)/diff + 4)
	}

	if h < 0 {
		h += 360
	}

	h = h / 2 // OpenCV's 0-180 range

	return h, s, v
}

// ToHSV converts an RGBA color to HSV.
func ToHSV(c color.RGBA) HSV {
	h, s, v := RGBToHSV(float64(c.R), float64(c.G), float64(c.B))
	return HSV{H: h, S: s, V: v}
}

// ParseHex parses "#rrggbb" or "#rrggbbaa" (leading '#' optional).
func ParseHex(s string) (color.RGBA, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 && len(s) != 8 {
		return color.RGBA{}, fmt.Errorf("invalid hex color %q", s)
	}
	n, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid hex color %q: %w", s, err)
	}
	if len(s) == 6 {
		return color.RGBA{R: uint8(n >> 16), G: uint8(n >> 8), B: uint8(n), A: 255}, nil
	}
	return color.RGBA{R: uint8(n >> 24), G: uint8(n >> 16), B: uint8(n >> 8), A: uint8(n)}, nil
}

// Hex formats a color as "#rrggbb".
func Hex(c color.RGBA) string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}
