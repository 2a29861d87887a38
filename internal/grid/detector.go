// Package grid reconstructs inventory slot rectangles from a screenshot.
package grid

import (
	"errors"
	"image"

	"stasheye/internal/config"
	"stasheye/internal/logging"
	"stasheye/pkg/colorutil"

	"gocv.io/x/gocv"
)

// Mask is the output of a Detector. Grid holds every grid line pixel and
// Vertical the vertical line segments used as trace seeds. Vertical is
// empty in highlighted mode.
type Mask struct {
	Grid        gocv.Mat
	Vertical    gocv.Mat
	Highlighted bool
}

// Close releases both planes.
func (m *Mask) Close() error {
	if m == nil {
		return nil
	}
	m.Grid.Close()
	m.Vertical.Close()
	return nil
}

// Size returns the mask dimensions.
func (m *Mask) Size() image.Point {
	return image.Pt(m.Grid.Cols(), m.Grid.Rows())
}

// Detector derives grid masks from BGR screenshots.
type Detector struct {
	inv   config.Inventory
	slot  float64
	debug *logging.DebugImages
}

// NewDetector creates a detector for a capture whose slots are slotSize
// pixels wide.
func NewDetector(inv config.Inventory, slotSize float64, debug *logging.DebugImages) *Detector {
	return &Detector{inv: inv, slot: slotSize, debug: debug}
}

// odd rounds n up to the next odd number, so that an erode/dilate pair
// with a kernel of that extent is centered and does not shift the mask.
func odd(n int) int {
	if n < 1 {
		return 1
	}
	if n%2 == 0 {
		return n + 1
	}
	return n
}

func inRange(img gocv.Mat, r colorutil.HSVRange) gocv.Mat {
	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(img, &hsv, gocv.ColorBGRToHSV)

	mask := gocv.NewMat()
	gocv.InRangeWithScalar(hsv,
		gocv.NewScalar(r.Min.H, r.Min.S, r.Min.V, 0),
		gocv.NewScalar(r.Max.H, r.Max.S, r.Max.V, 0),
		&mask)
	return mask
}

// opening keeps only runs at least as long as the kernel.
func opening(src gocv.Mat, size image.Point) gocv.Mat {
	kernel := gocv.GetStructuringElement(gocv.MorphRect, size)
	defer kernel.Close()

	dst := gocv.NewMat()
	gocv.MorphologyEx(src, &dst, gocv.MorphOpen, kernel)
	return dst
}

// bridge closes gaps along a line direction without growing lines
// sideways: lines is stretched with a long kernel and intersected with
// the slightly thickened source mask.
func bridge(lines *gocv.Mat, size image.Point, thick gocv.Mat) {
	kernel := gocv.GetStructuringElement(gocv.MorphRect, size)
	defer kernel.Close()

	stretched := gocv.NewMat()
	defer stretched.Close()
	gocv.Dilate(*lines, &stretched, kernel)
	gocv.BitwiseAnd(stretched, thick, lines)
}

// Detect builds the grid mask of a screenshot with thin grid lines.
func (d *Detector) Detect(img gocv.Mat) (*Mask, error) {
	if img.Empty() {
		return nil, errors.New("empty image")
	}

	mask := inRange(img, d.inv.GridColor)
	defer mask.Close()
	d.dump(mask, "grid_color_filter")

	long := odd(int(0.9 * d.slot))
	vertical := opening(mask, image.Pt(1, long))
	horizontal := opening(mask, image.Pt(long, 1))

	cross := gocv.GetStructuringElement(gocv.MorphCross, image.Pt(3, 3))
	defer cross.Close()
	thick := gocv.NewMat()
	defer thick.Close()
	gocv.Dilate(mask, &thick, cross)

	span := odd(int(2 * d.slot))
	bridge(&vertical, image.Pt(1, span), thick)
	bridge(&horizontal, image.Pt(span, 1), thick)

	corners := gocv.NewMat()
	defer corners.Close()
	gocv.BitwiseAnd(vertical, horizontal, &corners)
	gocv.BitwiseXor(vertical, corners, &vertical)
	gocv.BitwiseXor(horizontal, corners, &horizontal)

	half := odd(int(d.slot / 2))
	v := opening(vertical, image.Pt(1, half))
	h := opening(horizontal, image.Pt(half, 1))
	vertical.Close()
	horizontal.Close()
	defer h.Close()

	grid := gocv.NewMat()
	gocv.BitwiseOr(v, h, &grid)
	gocv.BitwiseOr(grid, corners, &grid)

	k := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(3, 3))
	defer k.Close()
	gocv.MorphologyEx(grid, &grid, gocv.MorphClose, k)

	d.dump(v, "grid_vertical")
	d.dump(grid, "grid")
	return &Mask{Grid: grid, Vertical: v}, nil
}

// DetectHighlighted builds a blob mask of highlighted slots. Each blob
// covers the interior of one item.
func (d *Detector) DetectHighlighted(img gocv.Mat) (*Mask, error) {
	if img.Empty() {
		return nil, errors.New("empty image")
	}

	mask := inRange(img, d.inv.HighlightColor)
	k := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(3, 3))
	defer k.Close()
	gocv.Dilate(mask, &mask, k)

	d.dump(mask, "grid_highlighted")
	return &Mask{Grid: mask, Vertical: gocv.NewMat(), Highlighted: true}, nil
}

func (d *Detector) dump(m gocv.Mat, name string) {
	if d.debug.Enabled() {
		_, _ = d.debug.Dump(m, name)
	}
}
