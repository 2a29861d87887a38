// Package catalog holds the reference icon templates, bucketed by slot
// size, together with the correlation between icon keys and items.
package catalog

import (
	"errors"
	"fmt"
	"image"
	pathpkg "path"
	"strings"

	"stasheye/internal/itemdb"
	"stasheye/pkg/geometry"

	"gocv.io/x/gocv"
)

// ErrDirectoryMissing is returned when an icon directory or correlation
// file stays unreadable after every retry.
var ErrDirectoryMissing = errors.New("catalog directory missing")

// ErrUnknownKind is returned for a Kind other than Static or Dynamic.
var ErrUnknownKind = errors.New("unknown icon kind")

// InvalidTemplateError reports an icon whose pixel size is not a whole
// number of slots.
type InvalidTemplateError struct {
	Path     string
	Size     image.Point
	SlotSize float64
}

func (e *InvalidTemplateError) Error() string {
	return fmt.Sprintf("invalid template %s: %dx%d is not a multiple of slot size %.1f",
		e.Path, e.Size.X, e.Size.Y, e.SlotSize)
}

// Kind selects one of the two template families.
type Kind int

const (
	// Static icons are rendered once and shipped with the data files.
	Static Kind = iota
	// Dynamic icons are rendered by the game at runtime and depend on the
	// attachments of the item.
	Dynamic
)

// Kinds lists both families in matching order.
var Kinds = []Kind{Static, Dynamic}

func (k Kind) String() string {
	switch k {
	case Static:
		return "static"
	case Dynamic:
		return "dynamic"
	default:
		return "unknown"
	}
}

// IconKey derives the key of an icon file: "<kind>/<file stem>".
func IconKey(kind Kind, path string) string {
	base := pathpkg.Base(strings.ReplaceAll(path, "\\", "/"))
	return kind.String() + "/" + strings.TrimSuffix(base, pathpkg.Ext(base))
}

// Template is one decoded reference icon. It is never mutated after it
// has been added to a catalog.
type Template struct {
	Key   string
	Kind  Kind
	Path  string
	Slots geometry.Vector
	// Mat is the BGR icon composited onto its in-game background. It is
	// owned by the catalog and only valid while the family lock is held.
	Mat   gocv.Mat
	Item  *itemdb.Item
	Extra *itemdb.ExtraInfo
}

// Size returns the pixel size of the template.
func (t *Template) Size() geometry.Vector {
	return geometry.NewVector(t.Mat.Cols(), t.Mat.Rows())
}

func (t *Template) close() {
	if t != nil {
		t.Mat.Close()
	}
}

// ValidateSize checks that a w x h pixel template, which includes a one
// pixel border on both sides, spans a whole number of slots within eps
// pixels. It returns the slot size.
func ValidateSize(path string, w, h int, slotSize, eps float64) (geometry.Vector, error) {
	tol := eps / slotSize
	if !geometry.IsSlotAligned(w, slotSize, 1, tol) || !geometry.IsSlotAligned(h, slotSize, 1, tol) {
		return geometry.Vector{}, &InvalidTemplateError{Path: path, Size: image.Pt(w, h), SlotSize: slotSize}
	}
	return geometry.NewVector(
		geometry.PixelsToSlots(w, slotSize, 1),
		geometry.PixelsToSlots(h, slotSize, 1),
	), nil
}
