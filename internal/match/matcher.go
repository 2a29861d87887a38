// Package match identifies icon crops by template matching against the
// catalog.
package match

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"runtime"

	"stasheye/internal/catalog"
	imgpkg "stasheye/internal/image"
	"stasheye/internal/itemdb"
	"stasheye/internal/logging"
	"stasheye/pkg/geometry"

	"gocv.io/x/gocv"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
)

// ErrNoUsableTemplates is returned when no template of the required slot
// size exists in any scanned orientation.
var ErrNoUsableTemplates = errors.New("no usable templates")

// TemplateSource provides read-locked access to template buckets.
type TemplateSource interface {
	Templates(kind catalog.Kind, slots geometry.Vector, fn func([]*catalog.Template) error) error
}

// Result is the best match found so far for a candidate.
type Result struct {
	Key   string
	Kind  catalog.Kind
	Path  string
	Item  *itemdb.Item
	Extra *itemdb.ExtraInfo
	// Confidence is the normalized cross correlation, in [0, 1].
	Confidence float64
	// Position is the top-left of the template inside the candidate.
	Position geometry.Vector
	Rotated  bool
}

// Found reports whether a template has been adopted.
func (r *Result) Found() bool {
	return r != nil && r.Key != ""
}

// Options configures a Matcher.
type Options struct {
	Workers     int
	ScanRotated bool
}

// Matcher scores candidates against same-size templates in parallel.
type Matcher struct {
	src  TemplateSource
	opts Options
	log  *slog.Logger
}

// New creates a matcher reading templates from src.
func New(src TemplateSource, opts Options, logger *slog.Logger) *Matcher {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	return &Matcher{src: src, opts: opts, log: logging.OrDiscard(logger)}
}

// SlotsFromPixels converts a traced pixel size to slots.
func SlotsFromPixels(px geometry.Vector, slotSize float64, margin int) geometry.Vector {
	return geometry.NewVector(
		geometry.PixelsToSlots(px.X, slotSize, margin),
		geometry.PixelsToSlots(px.Y, slotSize, margin),
	)
}

type orientation struct {
	candidate gocv.Mat
	slots     geometry.Vector
	rotated   bool
}

// Match scores candidate against every template of kind with the given
// slot size, and against the transposed size with the candidate rotated
// counter-clockwise when rotated scanning is enabled. best is replaced
// only by a strictly higher confidence, so Match can be called once per
// kind with the same best.
func (m *Matcher) Match(ctx context.Context, candidate gocv.Mat, slots geometry.Vector, kind catalog.Kind, best *Result) error {
	if candidate.Empty() {
		return errors.New("empty candidate")
	}

	orientations := []orientation{{candidate: candidate, slots: slots}}
	if m.opts.ScanRotated {
		rotated := imgpkg.RotateCCW(candidate)
		defer rotated.Close()
		orientations = append(orientations, orientation{candidate: rotated, slots: slots.Transpose(), rotated: true})
	}

	usable := 0
	for _, o := range orientations {
		err := m.src.Templates(kind, o.slots, func(templates []*catalog.Template) error {
			usable += len(templates)
			if len(templates) == 0 {
				return nil
			}
			r, n, err := m.score(ctx, o.candidate, templates)
			if err != nil {
				return err
			}
			if n == 0 {
				m.log.Warn("no template fits the candidate", "kind", kind, "slots", o.slots,
					"candidate", geometry.NewVector(o.candidate.Cols(), o.candidate.Rows()))
				return nil
			}
			if r.Confidence <= best.Confidence {
				return nil
			}
			r.Kind = kind
			r.Rotated = o.rotated
			if o.rotated {
				r.Position = unrotate(r.Position, candidate.Cols(), r.templateSize)
			}
			*best = r.Result
			return nil
		})
		if err != nil {
			return err
		}
	}

	if usable == 0 {
		return fmt.Errorf("%w: %s %v", ErrNoUsableTemplates, kind, slots)
	}
	return nil
}

type scored struct {
	Result
	templateSize geometry.Vector
}

// score runs the templates in parallel and returns the best one and the
// number of templates that fit inside the candidate.
func (m *Matcher) score(ctx context.Context, candidate gocv.Mat, templates []*catalog.Template) (scored, int, error) {
	scores := make([]float64, len(templates))
	positions := make([]image.Point, len(templates))
	fits := 0

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.Workers)
	for i, t := range templates {
		scores[i] = -1
		if t.Mat.Cols() > candidate.Cols() || t.Mat.Rows() > candidate.Rows() {
			m.log.Debug("template larger than candidate", "key", t.Key,
				"template", t.Size(), "candidate", geometry.NewVector(candidate.Cols(), candidate.Rows()))
			continue
		}
		fits++
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res := gocv.NewMat()
			defer res.Close()
			mask := gocv.NewMat()
			defer mask.Close()

			gocv.MatchTemplate(candidate, t.Mat, &res, gocv.TmCcorrNormed, mask)
			_, maxVal, _, maxLoc := gocv.MinMaxLoc(res)
			scores[i] = float64(maxVal)
			positions[i] = maxLoc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return scored{}, 0, err
	}
	if fits == 0 {
		return scored{}, 0, nil
	}

	i := floats.MaxIdx(scores)
	t := templates[i]
	return scored{
		Result: Result{
			Key:        t.Key,
			Path:       t.Path,
			Item:       t.Item,
			Extra:      t.Extra,
			Confidence: scores[i],
			Position:   geometry.FromPoint(positions[i]),
		},
		templateSize: t.Size(),
	}, fits, nil
}

// unrotate maps the top-left of a template of size tmpl matched at p in a
// counter-clockwise rotated candidate back to the unrotated candidate,
// which is width pixels wide.
func unrotate(p geometry.Vector, width int, tmpl geometry.Vector) geometry.Vector {
	return geometry.NewVector(width-p.Y-tmpl.Y, p.X)
}
