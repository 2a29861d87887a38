package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	imgpkg "stasheye/internal/image"
	"stasheye/internal/itemdb"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"
)

// retry calls fn up to attempts+1 times, sleeping delay between calls.
func retry[T any](ctx context.Context, attempts int, delay time.Duration, fn func() (T, error)) (T, error) {
	var (
		v   T
		err error
	)
	for i := 0; ; i++ {
		v, err = fn()
		if err == nil || i >= attempts {
			return v, err
		}
		select {
		case <-ctx.Done():
			return v, errors.Join(err, ctx.Err())
		case <-time.After(delay):
		}
	}
}

func (c *Catalog) readCorrelation(ctx context.Context, kind Kind) (map[string]correlation, error) {
	icon := c.cfg.Processing.Icon
	path := c.cfg.Paths.StaticCorrelation
	if kind == Dynamic {
		path = c.cfg.Paths.DynamicCorrelation
	}

	data, err := retry(ctx, icon.LoadRetries, c.cfg.RetryDelay(), func() ([]byte, error) {
		return os.ReadFile(path)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: correlation data %s: %v", ErrDirectoryMissing, path, err)
	}

	switch {
	case kind == Static:
		return parseStatic(ctx, data, c.db, c.log)
	case icon.UseLegacyCacheIndex:
		return parseLegacyIndex(ctx, data, c.db, c.log)
	default:
		return parseHashedIndex(ctx, data, c.db, c.log)
	}
}

// listIcons returns the sorted image files of dir.
func (c *Catalog) listIcons(ctx context.Context, dir string) ([]string, error) {
	entries, err := retry(ctx, c.cfg.Processing.Icon.LoadRetries, c.cfg.RetryDelay(), func() ([]os.DirEntry, error) {
		return os.ReadDir(dir)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDirectoryMissing, dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !imgpkg.IsSupportedFormat(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// rejection remembers an icon file that could not be turned into a
// template, so that reloads skip it until the file or its item changes.
type rejection struct {
	identity string
	size     int64
	modTime  time.Time
}

func (r rejection) unchanged(cr correlation, info os.FileInfo) bool {
	return r.identity == cr.identity() && r.size == info.Size() && r.modTime.Equal(info.ModTime())
}

// decoded is the result of decodeAll.
type decoded struct {
	templates map[string]*Template
	rejected  map[string]rejection
	bytes     int64
}

// decodeAll builds a template for every file with a correlation entry.
// Templates in cached whose item is unchanged are reused instead of being
// decoded again, and files in rejected are skipped while unchanged.
// Failures are logged and skipped.
func (c *Catalog) decodeAll(ctx context.Context, kind Kind, files []string, corr map[string]correlation, cached map[string]*Template, rejected map[string]rejection) decoded {
	var (
		mu  sync.Mutex
		out = decoded{
			templates: make(map[string]*Template, len(files)),
			rejected:  make(map[string]rejection),
		}
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Workers())

	for _, path := range files {
		key := IconKey(kind, path)
		cr, ok := corr[key]
		if !ok {
			c.log.Debug("no correlation data for icon", "key", key)
			continue
		}
		if t, ok := cached[key]; ok && identity(t.Item, t.Extra) == cr.identity() {
			out.templates[key] = t
			continue
		}
		if r, ok := rejected[key]; ok {
			if info, err := os.Stat(path); err == nil && r.unchanged(cr, info) {
				out.rejected[key] = r
				continue
			}
		}

		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			t, size, err := c.loadTemplate(kind, key, path, cr)
			if err != nil {
				var invalid *InvalidTemplateError
				if errors.As(err, &invalid) {
					c.log.Warn("skipping icon", "error", err)
				} else {
					c.log.Warn("failed to load icon", "path", path, "error", err)
				}
				if info, serr := os.Stat(path); serr == nil {
					mu.Lock()
					out.rejected[key] = rejection{identity: cr.identity(), size: info.Size(), modTime: info.ModTime()}
					mu.Unlock()
				}
				return nil
			}
			mu.Lock()
			out.templates[key] = t
			out.bytes += size
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (c *Catalog) loadTemplate(kind Kind, key, path string, cr correlation) (*Template, int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, 0, err
	}
	img, err := imgpkg.Load(path)
	if err != nil {
		return nil, 0, err
	}

	b := img.Bounds()
	p := c.cfg.Processing
	slots, err := ValidateSize(path, b.Dx(), b.Dy(), p.BaseSlotSize, p.Icon.TemplateEpsilon)
	if err != nil {
		return nil, 0, err
	}

	composed := imgpkg.Compose(img, c.background(cr.Item))
	mat, err := imgpkg.ImageToMat(composed)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to convert %s: %w", path, err)
	}

	return &Template{
		Key:   key,
		Kind:  kind,
		Path:  path,
		Slots: slots,
		Mat:   mat,
		Item:  cr.Item,
		Extra: cr.Extra,
	}, info.Size(), nil
}

func (c *Catalog) background(item *itemdb.Item) imgpkg.Background {
	inv := c.cfg.Processing.Inventory
	bg := imgpkg.Background{
		Color:  itemdb.BackgroundColor(""),
		Alpha:  uint8(inv.BackgroundAlpha),
		Border: c.border,
	}
	if item != nil {
		bg.Color = itemdb.BackgroundColor(item.BackgroundColor)
		bg.Overlay = c.overlays[item.Category]
	}
	return bg
}

func humanizeBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.Bytes(uint64(n))
}
