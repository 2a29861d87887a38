// Package geometry provides basic geometric types used throughout the application.
package geometry

import (
	"fmt"
	"image"
	"math"
)

// Vector is an integer (x, y) pair. It is used both as a position and as a
// size, in pixels or in inventory slots.
type Vector struct {
	X int `json:"x" toml:"x" yaml:"x"`
	Y int `json:"y" toml:"y" yaml:"y"`
}

// NewVector creates a new Vector.
func NewVector(x, y int) Vector {
	return Vector{X: x, Y: y}
}

// FromPoint converts an image.Point to a Vector.
func FromPoint(p image.Point) Vector {
	return Vector{X: p.X, Y: p.Y}
}

// Zero returns the zero vector.
func Zero() Vector {
	return Vector{}
}

// One returns the vector (1, 1).
func One() Vector {
	return Vector{X: 1, Y: 1}
}

// Add returns the sum of two vectors.
func (v Vector) Add(other Vector) Vector {
	return Vector{X: v.X + other.X, Y: v.Y + other.Y}
}

// Sub returns the difference of two vectors.
func (v Vector) Sub(other Vector) Vector {
	return Vector{X: v.X - other.X, Y: v.Y - other.Y}
}

// Mul returns the vector scaled by an integer factor.
func (v Vector) Mul(factor int) Vector {
	return Vector{X: v.X * factor, Y: v.Y * factor}
}

// Div returns the vector divided component-wise by an integer divisor.
func (v Vector) Div(divisor int) Vector {
	return Vector{X: v.X / divisor, Y: v.Y / divisor}
}

// Scale returns the vector scaled by a float factor, truncating toward zero.
func (v Vector) Scale(factor float64) Vector {
	return Vector{X: int(float64(v.X) * factor), Y: int(float64(v.Y) * factor)}
}

// Transpose returns the vector with X and Y swapped. For a slot size this is
// the size of the same item rotated by 90 degrees.
func (v Vector) Transpose() Vector {
	return Vector{X: v.Y, Y: v.X}
}

// Area returns X*Y.
func (v Vector) Area() int {
	return v.X * v.Y
}

// Point converts to an image.Point.
func (v Vector) Point() image.Point {
	return image.Point{X: v.X, Y: v.Y}
}

func (v Vector) String() string {
	return fmt.Sprintf("(%d, %d)", v.X, v.Y)
}

// RectInt represents a rectangle with integer coordinates.
type RectInt struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// NewRectInt creates a rectangle from a position and a size.
func NewRectInt(pos, size Vector) RectInt {
	return RectInt{X: pos.X, Y: pos.Y, Width: size.X, Height: size.Y}
}

// FromRectangle converts an image.Rectangle.
func FromRectangle(r image.Rectangle) RectInt {
	return RectInt{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
}

// Rectangle converts to an image.Rectangle.
func (r RectInt) Rectangle() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// Position returns the top-left corner.
func (r RectInt) Position() Vector {
	return Vector{X: r.X, Y: r.Y}
}

// Size returns the width and height.
func (r RectInt) Size() Vector {
	return Vector{X: r.Width, Y: r.Height}
}

// Center returns the center point, rounded down.
func (r RectInt) Center() Vector {
	return Vector{X: r.X + r.Width/2, Y: r.Y + r.Height/2}
}

// Area returns Width*Height.
func (r RectInt) Area() int {
	return r.Width * r.Height
}

// Contains reports whether p lies inside the rectangle (max edge exclusive).
func (r RectInt) Contains(p Vector) bool {
	return p.X >= r.X && p.X < r.X+r.Width &&
		p.Y >= r.Y && p.Y < r.Y+r.Height
}

// Intersects returns true if this rectangle intersects with another.
func (r RectInt) Intersects(other RectInt) bool {
	return r.X < other.X+other.Width && r.X+r.Width > other.X &&
		r.Y < other.Y+other.Height && r.Y+r.Height > other.Y
}

// Intersection returns the width and height of the overlap of two
// rectangles. Both are zero when the rectangles do not intersect.
func (r RectInt) Intersection(other RectInt) Vector {
	left := max(r.X, other.X)
	right := min(r.X+r.Width, other.X+other.Width)
	top := max(r.Y, other.Y)
	bottom := min(r.Y+r.Height, other.Y+other.Height)

	if left >= right || top >= bottom {
		return Vector{}
	}
	return Vector{X: right - left, Y: bottom - top}
}

// Union returns the smallest rectangle containing both rectangles.
func (r RectInt) Union(other RectInt) RectInt {
	x := min(r.X, other.X)
	y := min(r.Y, other.Y)
	x2 := max(r.X+r.Width, other.X+other.Width)
	y2 := max(r.Y+r.Height, other.Y+other.Height)
	return RectInt{X: x, Y: y, Width: x2 - x, Height: y2 - y}
}

// Inflate grows the rectangle by d pixels on every side.
func (r RectInt) Inflate(d int) RectInt {
	return RectInt{X: r.X - d, Y: r.Y - d, Width: r.Width + 2*d, Height: r.Height + 2*d}
}

// Clamp restricts the rectangle to the given bounds.
func (r RectInt) Clamp(bounds RectInt) RectInt {
	x0 := max(r.X, bounds.X)
	y0 := max(r.Y, bounds.Y)
	x1 := min(r.X+r.Width, bounds.X+bounds.Width)
	y1 := min(r.Y+r.Height, bounds.Y+bounds.Height)
	if x1 <= x0 || y1 <= y0 {
		return RectInt{X: x0, Y: y0}
	}
	return RectInt{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

func (r RectInt) String() string {
	return fmt.Sprintf("[%d,%d %dx%d]", r.X, r.Y, r.Width, r.Height)
}

// PixelsToSlots converts a pixel extent into inventory slots.
// The extent includes the one pixel wide border on both sides of an icon,
// so margin is subtracted before dividing by the slot size.
func PixelsToSlots(pixels int, slotSize float64, margin int) int {
	return int(math.Round(float64(pixels-margin) / slotSize))
}

// IsSlotAligned reports whether a pixel extent, after removing margin, is
// within tolerance (a fraction of one slot) of a positive whole number of
// slots.
func IsSlotAligned(pixels int, slotSize float64, margin int, tolerance float64) bool {
	slots := float64(pixels-margin) / slotSize
	nearest := math.Round(slots)
	if nearest < 1 {
		return false
	}
	return math.Abs(slots-nearest) <= tolerance
}
