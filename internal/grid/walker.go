package grid

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"stasheye/internal/logging"
	"stasheye/pkg/geometry"

	"gocv.io/x/gocv"
)

// ErrInconsistentTrace is returned when a boundary walk does not describe
// a closed, slot aligned rectangle.
var ErrInconsistentTrace = errors.New("inconsistent trace")

// plane is a copy of a single channel mask for fast pixel access.
type plane struct {
	w, h int
	data []byte
}

func newPlane(m gocv.Mat) plane {
	if m.Empty() {
		return plane{}
	}
	return plane{w: m.Cols(), h: m.Rows(), data: m.ToBytes()}
}

func (p plane) at(x, y int) bool {
	if x < 0 || y < 0 || x >= p.w || y >= p.h {
		return false
	}
	return p.data[y*p.w+x] != 0
}

// Walker traces slot rectangles along the grid lines of a Mask.
type Walker struct {
	slot      float64
	tolerance float64
	log       *slog.Logger
}

// NewWalker creates a walker. tolerance is the fraction of a slot a traced
// size may deviate from a whole number of slots.
func NewWalker(slotSize, tolerance float64, logger *slog.Logger) *Walker {
	return &Walker{slot: slotSize, tolerance: tolerance, log: logging.OrDiscard(logger)}
}

// Walk traces every rectangle reachable from the seed rows of m. Seed rows
// are half a slot apart so that a row landing on a horizontal grid line,
// where the vertical plane has a gap, is always followed by one inside the
// cells. Boxes are returned in scan order, one per top-left corner. Box
// sizes include the grid line on both sides.
func (w *Walker) Walk(m *Mask) []geometry.RectInt {
	grid := newPlane(m.Grid)
	seeds := newPlane(m.Vertical)

	var (
		boxes []geometry.RectInt
		seen  = make(map[geometry.Vector]bool)
	)
	for k := 0; ; k++ {
		y := int(w.slot/2 + float64(k)*w.slot/2)
		if y >= seeds.h {
			break
		}
		for x := 0; x < seeds.w; x++ {
			if !seeds.at(x, y) {
				continue
			}
			box, err := w.trace(grid, geometry.NewVector(x, y))
			if err != nil {
				continue
			}
			if seen[box.Position()] {
				continue
			}
			seen[box.Position()] = true
			boxes = append(boxes, box)
		}
	}

	w.log.Debug("grid walk finished", "boxes", len(boxes))
	return boxes
}

// Trace walks the rectangle whose left edge contains seed.
func (w *Walker) Trace(m *Mask, seed geometry.Vector) (geometry.RectInt, error) {
	return w.trace(newPlane(m.Grid), seed)
}

func (w *Walker) trace(g plane, seed geometry.Vector) (geometry.RectInt, error) {
	if !g.at(seed.X, seed.Y) {
		return geometry.RectInt{}, fmt.Errorf("%w: seed %v is not on the grid", ErrInconsistentTrace, seed)
	}

	// Each leg steps one pixel, then checks whether the perpendicular
	// neighbour is on the grid.
	walk := func(from, step, probe geometry.Vector) (geometry.Vector, error) {
		p := from
		for {
			p = p.Add(step)
			if !g.at(p.X, p.Y) {
				return p, fmt.Errorf("%w: left the grid at %v", ErrInconsistentTrace, p)
			}
			if q := p.Add(probe); g.at(q.X, q.Y) {
				return p, nil
			}
		}
	}

	south := geometry.NewVector(0, 1)
	east := geometry.NewVector(1, 0)
	north := geometry.NewVector(0, -1)
	west := geometry.NewVector(-1, 0)

	bl, err := walk(seed, south, east)
	if err != nil {
		return geometry.RectInt{}, err
	}
	br, err := walk(bl, east, north)
	if err != nil {
		return geometry.RectInt{}, err
	}
	tr, err := walk(br, north, west)
	if err != nil {
		return geometry.RectInt{}, err
	}
	tl, err := walk(tr, west, south)
	if err != nil {
		return geometry.RectInt{}, err
	}

	if tl.X != seed.X || tl.Y > seed.Y {
		return geometry.RectInt{}, fmt.Errorf("%w: trace from %v closed at %v", ErrInconsistentTrace, seed, tl)
	}
	for p := tl; p.Y < seed.Y; {
		p = p.Add(south)
		if !g.at(p.X, p.Y) {
			return geometry.RectInt{}, fmt.Errorf("%w: left the grid at %v", ErrInconsistentTrace, p)
		}
	}

	width := br.X - tl.X
	height := bl.Y - tl.Y
	if width != tr.X-bl.X || height != br.Y-tr.Y {
		return geometry.RectInt{}, fmt.Errorf("%w: corners %v %v %v %v do not form a rectangle",
			ErrInconsistentTrace, tl, tr, br, bl)
	}

	size := geometry.NewVector(width+1, height+1)
	if size.X <= 2 || size.Y <= 2 {
		return geometry.RectInt{}, fmt.Errorf("%w: degenerate rectangle %v", ErrInconsistentTrace, size)
	}
	if !geometry.IsSlotAligned(size.X, w.slot, 1, w.tolerance) ||
		!geometry.IsSlotAligned(size.Y, w.slot, 1, w.tolerance) {
		return geometry.RectInt{}, fmt.Errorf("%w: size %v is not a whole number of slots", ErrInconsistentTrace, size)
	}
	return geometry.NewRectInt(tl, size), nil
}

// ResolveOverlaps drops, for every pair of boxes overlapping by more than
// half a slot in both axes, the box with the larger area. On equal areas
// the earlier box is kept.
func ResolveOverlaps(boxes []geometry.RectInt, slotSize float64) []geometry.RectInt {
	dropped := make([]bool, len(boxes))
	for i := range boxes {
		for j := i + 1; j < len(boxes) && !dropped[i]; j++ {
			if dropped[j] {
				continue
			}
			overlap := boxes[i].Intersection(boxes[j])
			if float64(overlap.X) <= slotSize/2 || float64(overlap.Y) <= slotSize/2 {
				continue
			}
			if boxes[i].Area() > boxes[j].Area() {
				dropped[i] = true
			} else {
				dropped[j] = true
			}
		}
	}

	out := make([]geometry.RectInt, 0, len(boxes))
	for i, b := range boxes {
		if !dropped[i] {
			out = append(out, b)
		}
	}
	return out
}

// WalkHighlighted returns the bounding boxes of the blobs of a highlighted
// mask, merging boxes until none intersect.
func (w *Walker) WalkHighlighted(m *Mask) []geometry.RectInt {
	contours := gocv.FindContours(m.Grid, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	rects := make([]geometry.RectInt, 0, contours.Size())
	for i := 0; i < contours.Size(); i++ {
		rects = append(rects, geometry.FromRectangle(gocv.BoundingRect(contours.At(i))))
	}
	rects = MergeIntersecting(rects)

	w.log.Debug("highlighted walk finished", "blobs", contours.Size(), "boxes", len(rects))
	return rects
}

// MergeIntersecting repeatedly replaces two intersecting rectangles with
// their union until no pair intersects.
func MergeIntersecting(rects []geometry.RectInt) []geometry.RectInt {
	rects = slices.Clone(rects)
	for merged := true; merged; {
		merged = false
		for i := 0; i < len(rects) && !merged; i++ {
			for j := i + 1; j < len(rects); j++ {
				if rects[i].Intersects(rects[j]) {
					rects[i] = rects[i].Union(rects[j])
					rects = slices.Delete(rects, j, j+1)
					merged = true
					break
				}
			}
		}
	}
	return rects
}
