package image

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// Background describes how an icon appears behind the inventory grid.
type Background struct {
	Color  color.RGBA // item background color, alpha ignored
	Alpha  uint8      // opacity of Color over black
	Border color.RGBA // 1px grid line around the icon
	// Overlay is drawn over the icon in the top-left corner, if set.
	Overlay image.Image
}

// Compose renders a transparent icon the way the game shows it in a slot:
// black, then the tinted background, the border and finally the icon.
func Compose(icon image.Image, bg Background) *image.RGBA {
	b := icon.Bounds()
	r := image.Rect(0, 0, b.Dx(), b.Dy())
	dst := image.NewRGBA(r)

	draw.Draw(dst, r, image.NewUniform(color.RGBA{A: 255}), image.Point{}, draw.Src)

	tint := color.NRGBA{R: bg.Color.R, G: bg.Color.G, B: bg.Color.B, A: bg.Alpha}
	draw.Draw(dst, r, image.NewUniform(tint), image.Point{}, draw.Over)

	drawBorder(dst, bg.Border)

	draw.Draw(dst, r, icon, b.Min, draw.Over)

	if bg.Overlay != nil {
		ob := bg.Overlay.Bounds()
		or := image.Rect(1, 1, 1+ob.Dx(), 1+ob.Dy()).Intersect(r.Inset(1))
		draw.Draw(dst, or, bg.Overlay, ob.Min, draw.Over)
	}
	return dst
}

func drawBorder(dst *image.RGBA, c color.RGBA) {
	r := dst.Bounds()
	src := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+1),
		image.Rect(r.Min.X, r.Max.Y-1, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+1, r.Max.Y),
		image.Rect(r.Max.X-1, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(dst, e, src, image.Point{}, draw.Over)
	}
}
