// Package engine wires the configuration, item database, catalog, matcher
// and optional OCR reader into inventory views.
package engine

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"

	"stasheye/internal/catalog"
	"stasheye/internal/config"
	imgpkg "stasheye/internal/image"
	"stasheye/internal/inventory"
	"stasheye/internal/itemdb"
	"stasheye/internal/logging"
	"stasheye/internal/match"
	"stasheye/internal/ocr"

	"gocv.io/x/gocv"
)

// Engine owns the shared, read-mostly state used by every view. Views
// created from one engine may be processed concurrently.
type Engine struct {
	cfg     *config.Config
	db      itemdb.Database
	log     *slog.Logger
	debug   *logging.DebugImages
	catalog *catalog.Catalog
	matcher *match.Matcher
	reader  ocr.Reader

	closeOnce sync.Once
}

// Option customizes an Engine.
type Option func(*Engine)

// WithReader sets the short-name reader instead of creating a Tesseract
// reader from the configuration.
func WithReader(r ocr.Reader) Option {
	return func(e *Engine) { e.reader = r }
}

// New validates cfg, loads the enabled icon families and starts the dynamic
// index watcher when configured. The watcher stops when ctx is done.
func New(ctx context.Context, cfg *config.Config, db itemdb.Database, logger *slog.Logger, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if db == nil {
		return nil, errors.New("no item database")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	e := &Engine{
		cfg:   cfg,
		db:    db,
		log:   logging.OrDiscard(logger),
		debug: logging.NewDebugImages(cfg.Paths.Debug, cfg.Debug),
	}
	for _, opt := range opts {
		opt(e)
	}

	cat, err := catalog.New(cfg, db, e.log)
	if err != nil {
		return nil, err
	}
	e.catalog = cat

	icfg := cfg.Processing.Icon
	if icfg.UseStaticIcons {
		if err := cat.Load(ctx, catalog.Static, cfg.Paths.StaticIcons); err != nil {
			cat.Close()
			return nil, fmt.Errorf("failed to load static icons: %w", err)
		}
	}
	if icfg.UseDynamicIcons {
		if err := cat.Load(ctx, catalog.Dynamic, cfg.Paths.DynamicIcons); err != nil {
			cat.Close()
			return nil, fmt.Errorf("failed to load dynamic icons: %w", err)
		}
		if icfg.WatchDynamicIcons {
			if err := cat.Watch(ctx); err != nil {
				e.log.Warn("dynamic icon watcher not started", "error", err)
			}
		}
	}

	e.matcher = match.New(cat, match.Options{
		Workers:     icfg.MatchWorkers,
		ScanRotated: icfg.ScanRotatedIcons,
	}, e.log)

	if icfg.UseShortNameOCR && e.reader == nil {
		r, err := ocr.NewTesseract(cfg.Paths.TessData)
		if err != nil {
			e.log.Warn("short name OCR disabled", "error", err)
		} else {
			e.reader = r
		}
	}

	e.log.Info("engine ready",
		"static", cat.Len(catalog.Static),
		"dynamic", cat.Len(catalog.Dynamic),
		"scale", cfg.Processing.Scale,
		"ocr", e.reader != nil)
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() *config.Config { return e.cfg }

// Catalog returns the icon catalog.
func (e *Engine) Catalog() *catalog.Catalog { return e.catalog }

func (e *Engine) deps() inventory.Deps {
	return inventory.Deps{
		Config:    e.cfg,
		Templates: e.catalog,
		Matcher:   e.matcher,
		Reader:    e.reader,
		Logger:    e.log,
		Debug:     e.debug,
	}
}

// NewInventory creates a view of an inventory screenshot.
func (e *Engine) NewInventory(img image.Image) (*inventory.View, error) {
	m, err := imgpkg.ImageToMat(img)
	if err != nil {
		return nil, err
	}
	defer m.Close()
	return e.NewInventoryMat(m)
}

// NewInventoryMat creates a view of a BGR screenshot. The view keeps its
// own copy of m.
func (e *Engine) NewInventoryMat(m gocv.Mat) (*inventory.View, error) {
	return inventory.NewView(m, e.deps())
}

// Reload re-reads the correlation index and icons of one family.
func (e *Engine) Reload(ctx context.Context, kind catalog.Kind) error {
	return e.catalog.Reload(ctx, kind)
}

// Close stops the watcher and releases the catalog and the OCR reader. The
// item database is owned by the caller.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		err = e.catalog.Close()
		if e.reader != nil {
			err = errors.Join(err, e.reader.Close())
		}
	})
	return err
}
