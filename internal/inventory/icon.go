package inventory

import (
	"context"
	"errors"
	"image"
	"sync"

	"stasheye/internal/catalog"
	imgpkg "stasheye/internal/image"
	"stasheye/internal/itemdb"
	"stasheye/internal/match"
	"stasheye/internal/ocr"
	"stasheye/pkg/geometry"

	"gocv.io/x/gocv"
)

// Icon is one traced item rectangle of a View. The rescaled crop and the
// match result are computed once, on first access.
type Icon struct {
	view *View

	// box is the traced rectangle including the grid line on both sides.
	box geometry.RectInt
	// origin is the top-left of the padded crop in the screenshot.
	origin geometry.Vector
	pad    int
	slots  geometry.Vector
	crop   gocv.Mat

	// mu is held shared while a scan uses the Mats and exclusively by
	// Close, so buffers are never released under a running match.
	mu     sync.RWMutex
	closed bool

	rescaleOnce sync.Once
	scaled      gocv.Mat
	rescaled    bool

	scanOnce sync.Once
	result   match.Result
	err      error

	closeOnce sync.Once
}

func newIcon(v *View, box geometry.RectInt, pad int) *Icon {
	bounds := geometry.NewRectInt(geometry.Zero(), geometry.NewVector(v.img.Cols(), v.img.Rows()))
	padded := box.Inflate(pad).Clamp(bounds)
	return &Icon{
		view:   v,
		box:    box,
		origin: padded.Position(),
		pad:    pad,
		slots:  match.SlotsFromPixels(box.Size(), v.cfg.ScaledSlotSize(), 1),
		crop:   imgpkg.Crop(v.img, padded.Rectangle()),
	}
}

// Position is the top-left of the traced rectangle in the screenshot.
func (i *Icon) Position() geometry.Vector { return i.box.Position() }

// Size is the traced size in screenshot pixels.
func (i *Icon) Size() geometry.Vector { return i.box.Size() }

// Slots is the traced size in inventory slots.
func (i *Icon) Slots() geometry.Vector { return i.slots }

// Rect returns the traced rectangle.
func (i *Icon) Rect() geometry.RectInt { return i.box }

// Rescaled returns the padded crop at the reference resolution. The Mat is
// owned by the icon.
func (i *Icon) Rescaled() gocv.Mat {
	i.rescaleOnce.Do(func() {
		i.scaled = imgpkg.Rescale(i.crop, i.view.cfg.InverseScale())
		i.rescaled = true
	})
	return i.scaled
}

// Scan matches the icon against the enabled sources. Only the first call
// does any work; later calls return the cached error.
func (i *Icon) Scan(ctx context.Context) error {
	i.scanOnce.Do(func() {
		i.mu.RLock()
		defer i.mu.RUnlock()
		if i.closed {
			i.err = ErrClosed
			return
		}
		i.result, i.err = i.scan(ctx)
	})
	return i.err
}

func (i *Icon) scanned() *match.Result {
	_ = i.Scan(context.Background())
	return &i.result
}

func (i *Icon) scan(ctx context.Context) (match.Result, error) {
	var (
		best   match.Result
		usable bool
		errs   []error
	)
	candidate := i.Rescaled()
	if !i.rescaled {
		return best, ErrClosed
	}
	icfg := i.view.cfg.Processing.Icon
	log := i.view.log.With("position", i.Position(), "slots", i.slots)

	var kinds []catalog.Kind
	if icfg.UseStaticIcons {
		kinds = append(kinds, catalog.Static)
	}
	if icfg.UseDynamicIcons {
		kinds = append(kinds, catalog.Dynamic)
	}
	for _, kind := range kinds {
		err := i.view.deps.Matcher.Match(ctx, candidate, i.slots, kind, &best)
		if err == nil {
			usable = true
			continue
		}
		if !errors.Is(err, match.ErrNoUsableTemplates) {
			return best, err
		}
		errs = append(errs, err)
	}

	if icfg.UseShortNameOCR && i.view.deps.Reader != nil {
		ok, err := i.readShortName(candidate, &best)
		if err != nil {
			log.Warn("short name OCR failed", "error", err)
		}
		usable = usable || ok
	}

	if !usable {
		if len(errs) == 0 {
			return best, match.ErrNoUsableTemplates
		}
		return best, errors.Join(errs...)
	}
	log.Debug("icon scanned", "key", best.Key, "confidence", best.Confidence, "rotated", best.Rotated)
	return best, nil
}

// readShortName reads the name band and compares it with the short names of
// the static items of this size. best is replaced when the similarity
// exceeds its confidence. It reports whether any name was compared.
func (i *Icon) readShortName(candidate gocv.Mat, best *match.Result) (bool, error) {
	var templates []*catalog.Template
	err := i.view.deps.Templates.Templates(catalog.Static, i.slots, func(ts []*catalog.Template) error {
		for _, t := range ts {
			if t.Item != nil && t.Item.ShortName != "" {
				templates = append(templates, t)
			}
		}
		return nil
	})
	if err != nil || len(templates) == 0 {
		return false, err
	}

	pad := int(float64(i.pad) * i.view.cfg.InverseScale())
	inner := image.Rect(pad, pad, candidate.Cols()-pad, candidate.Rows()-pad)
	icon := imgpkg.Crop(candidate, inner)
	defer icon.Close()

	text, err := i.view.deps.Reader.ReadShortName(icon)
	if err != nil {
		return true, err
	}
	names := make([]string, len(templates))
	for n, t := range templates {
		names[n] = t.Item.ShortName
	}
	n, score := ocr.Closest(text, names)
	if n < 0 || score <= best.Confidence {
		return true, nil
	}
	t := templates[n]
	*best = match.Result{
		Key:        t.Key,
		Kind:       t.Kind,
		Path:       t.Path,
		Item:       t.Item,
		Confidence: score,
		Position:   geometry.NewVector(pad, pad),
	}
	return true, nil
}

// Err returns the scan error, scanning first if needed. An empty template
// bucket is reported as match.ErrNoUsableTemplates.
func (i *Icon) Err() error {
	return i.Scan(context.Background())
}

// Item returns the matched item, or nil.
func (i *Icon) Item() *itemdb.Item { return i.scanned().Item }

// ExtraInfo returns the mod and meta information of a dynamic match.
func (i *Icon) ExtraInfo() *itemdb.ExtraInfo { return i.scanned().Extra }

// DetectionConfidence is the score of the best match, in [0, 1].
func (i *Icon) DetectionConfidence() float64 { return i.scanned().Confidence }

// MatchPosition is the top-left of the matched template in the rescaled
// crop.
func (i *Icon) MatchPosition() geometry.Vector { return i.scanned().Position }

// ItemPosition is the top-left of the matched template in the screenshot.
func (i *Icon) ItemPosition() geometry.Vector {
	return i.origin.Add(i.MatchPosition().Scale(i.view.cfg.Processing.Scale))
}

// Rotated reports whether the item was matched rotated by 90 degrees.
func (i *Icon) Rotated() bool { return i.scanned().Rotated }

// IconKey is the catalog key of the matched template.
func (i *Icon) IconKey() string { return i.scanned().Key }

// IconPath is the file the matched template was loaded from.
func (i *Icon) IconPath() string { return i.scanned().Path }

// Close releases the crop buffers. It waits for a running scan.
func (i *Icon) Close() error {
	i.closeOnce.Do(func() {
		i.mu.Lock()
		defer i.mu.Unlock()
		i.closed = true
		// Later lazy steps must not allocate from a closed crop.
		i.rescaleOnce.Do(func() {})
		i.crop.Close()
		if i.rescaled {
			i.scaled.Close()
		}
	})
	return nil
}
