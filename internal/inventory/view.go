// Package inventory turns an inventory screenshot into located and
// identified item icons.
package inventory

import (
	"errors"
	"log/slog"
	"slices"
	"sync"

	"stasheye/internal/config"
	"stasheye/internal/grid"
	"stasheye/internal/logging"
	"stasheye/internal/match"
	"stasheye/internal/ocr"
	"stasheye/pkg/geometry"

	"github.com/google/uuid"
	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/stat"
)

// ErrClosed is returned when a closed view or icon is used.
var ErrClosed = errors.New("inventory closed")

// Deps are the shared collaborators of every view. Reader may be nil.
type Deps struct {
	Config    *config.Config
	Templates match.TemplateSource
	Matcher   *match.Matcher
	Reader    ocr.Reader
	Logger    *slog.Logger
	Debug     *logging.DebugImages
}

// View is one inventory screenshot. Grid detection and tracing run once,
// on the first call to Icons.
type View struct {
	id   uuid.UUID
	cfg  *config.Config
	deps Deps
	log  *slog.Logger
	img  gocv.Mat

	mu     sync.Mutex
	done   bool
	closed bool
	mask   *grid.Mask
	icons  []*Icon
	err    error
}

// NewView creates a view over a copy of img, a BGR screenshot.
func NewView(img gocv.Mat, deps Deps) (*View, error) {
	if img.Empty() {
		return nil, errors.New("empty image")
	}
	if deps.Config == nil || deps.Matcher == nil || deps.Templates == nil {
		return nil, errors.New("incomplete inventory dependencies")
	}
	id := uuid.New()
	return &View{
		id:   id,
		cfg:  deps.Config,
		deps: deps,
		log:  logging.OrDiscard(deps.Logger).With("view", id.String()),
		img:  img.Clone(),
	}, nil
}

// ID identifies the view in logs.
func (v *View) ID() uuid.UUID { return v.id }

// Size returns the screenshot size.
func (v *View) Size() geometry.Vector {
	return geometry.NewVector(v.img.Cols(), v.img.Rows())
}

// Icons returns every icon traced in the screenshot, in scan order.
func (v *View) Icons() []*Icon {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.detect()
	return slices.Clone(v.icons)
}

// Err returns the grid detection error, if any.
func (v *View) Err() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.detect()
	return v.err
}

func (v *View) detect() {
	if v.done {
		return
	}
	v.done = true
	if v.closed {
		v.err = ErrClosed
		return
	}

	slot := v.cfg.ScaledSlotSize()
	inv := v.cfg.Processing.Inventory
	detector := grid.NewDetector(inv, slot, v.deps.Debug)
	walker := grid.NewWalker(slot, inv.SlotTolerance, v.log)

	var boxes []geometry.RectInt
	if inv.OptimizeHighlighted {
		v.mask, v.err = detector.DetectHighlighted(v.img)
		if v.err != nil {
			return
		}
		for _, b := range walker.WalkHighlighted(v.mask) {
			if geometry.IsSlotAligned(b.Width, slot, 0, inv.SlotTolerance) &&
				geometry.IsSlotAligned(b.Height, slot, 0, inv.SlotTolerance) {
				boxes = append(boxes, b)
			}
		}
	} else {
		v.mask, v.err = detector.Detect(v.img)
		if v.err != nil {
			return
		}
		boxes = grid.ResolveOverlaps(walker.Walk(v.mask), slot)
	}

	pad := int(slot / 8)
	v.icons = make([]*Icon, len(boxes))
	for n, b := range boxes {
		v.icons[n] = newIcon(v, b, pad)
	}

	sum := summarize(v.icons)
	v.log.Info("inventory traced",
		"icons", sum.Icons,
		"slots", sum.Slots,
		"mean_slots", sum.MeanSlots,
		"highlighted", inv.OptimizeHighlighted)
}

// Summary describes the sizes of the traced icons of a view.
type Summary struct {
	Icons int
	// Slots is the number of grid slots covered by all icons.
	Slots       int
	MeanSlots   float64
	StdDevSlots float64
}

// Summary traces the view if needed and summarizes its icons.
func (v *View) Summary() Summary {
	return summarize(v.Icons())
}

func summarize(icons []*Icon) Summary {
	s := Summary{Icons: len(icons)}
	if len(icons) == 0 {
		return s
	}
	areas := make([]float64, len(icons))
	for n, icon := range icons {
		areas[n] = float64(icon.Slots().Area())
		s.Slots += icon.Slots().Area()
	}
	if len(areas) == 1 {
		s.MeanSlots = areas[0]
		return s
	}
	s.MeanSlots, s.StdDevSlots = stat.MeanStdDev(areas, nil)
	return s
}

// LocateIcon returns the icon whose traced rectangle contains pos. When
// several do, the smallest wins.
func (v *View) LocateIcon(pos geometry.Vector) (*Icon, bool) {
	var found *Icon
	for _, icon := range v.Icons() {
		if !icon.Rect().Contains(pos) {
			continue
		}
		if found == nil || icon.Rect().Area() < found.Rect().Area() {
			found = icon
		}
	}
	return found, found != nil
}

// LocateIconCenter locates the icon at the center of the screenshot.
func (v *View) LocateIconCenter() (*Icon, bool) {
	return v.LocateIcon(v.Size().Div(2))
}

// Close releases the screenshot, the mask and every icon.
func (v *View) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil
	}
	v.closed = true
	for _, icon := range v.icons {
		icon.Close()
	}
	v.icons = nil
	if v.mask != nil {
		v.mask.Close()
		v.mask = nil
	}
	v.img.Close()
	return nil
}
