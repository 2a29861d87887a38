package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"stasheye/internal/config"
	"stasheye/internal/itemdb"
	"stasheye/pkg/geometry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const slot = 63

type fixture struct {
	cfg        *config.Config
	db         *itemdb.Memory
	staticDir  string
	dynamicDir string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{
		cfg:        config.Default(),
		staticDir:  filepath.Join(root, "static"),
		dynamicDir: filepath.Join(root, "dynamic"),
	}
	require.NoError(t, os.MkdirAll(f.staticDir, 0o755))
	require.NoError(t, os.MkdirAll(f.dynamicDir, 0o755))

	f.cfg.Paths.StaticIcons = f.staticDir
	f.cfg.Paths.DynamicIcons = f.dynamicDir
	f.cfg.Paths.StaticCorrelation = filepath.Join(f.staticDir, "correlation.json")
	f.cfg.Paths.DynamicCorrelation = filepath.Join(f.dynamicDir, "index.json")
	f.cfg.Processing.Icon.LoadRetries = 1
	f.cfg.Processing.Icon.RetryDelayMs = 1
	f.cfg.Processing.Icon.MatchWorkers = 4

	items := []*itemdb.Item{
		{ID: "item-a", Name: "Item A", Width: 1, Height: 1, BackgroundColor: "blue"},
		{ID: "item-b", Name: "Item B", Width: 2, Height: 1, BackgroundColor: "red"},
		{ID: "item-c", Name: "Item C", Width: 2, Height: 2, BackgroundColor: "green"},
		{ID: "gun", Name: "Gun", Width: 3, Height: 2, BackgroundColor: "black", Category: itemdb.CategoryWeapon},
	}
	hashes := map[string]itemdb.HashEntry{
		"111": {Item: "gun", Mods: []string{"stock"}},
		"222": {Item: "gun", Mods: []string{"stock"}, Meta: "folded"},
		"333": {Item: "item-c"},
	}
	f.db = itemdb.NewMemory(items, hashes)
	return f
}

func (f *fixture) catalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := New(f.cfg, f.db, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

// writeIcon writes a transparent-bordered icon of w x h pixels.
func writeIcon(t *testing.T, path string, w, h int, fill color.RGBA) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			img.SetRGBA(x, y, fill)
		}
	}
	file, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(file, img))
	require.NoError(t, file.Close())
}

func writeJSON(t *testing.T, path string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func px(n int) int { return n*slot + 1 }

func (f *fixture) writeStatic(t *testing.T) {
	t.Helper()
	writeIcon(t, filepath.Join(f.staticDir, "a.png"), px(1), px(1), color.RGBA{R: 200, A: 255})
	writeIcon(t, filepath.Join(f.staticDir, "b.png"), px(2), px(1), color.RGBA{G: 200, A: 255})
	writeIcon(t, filepath.Join(f.staticDir, "bad.png"), 100, px(1), color.RGBA{B: 200, A: 255})
	writeIcon(t, filepath.Join(f.staticDir, "orphan.png"), px(1), px(1), color.RGBA{B: 200, A: 255})
	writeJSON(t, f.cfg.Paths.StaticCorrelation, []map[string]string{
		{"icon": "icons/a.png", "uid": "item-a"},
		{"icon": "icons\\b.png", "uid": "item-b"},
		{"icon": "bad.png", "uid": "item-a"},
		{"icon": "ghost.png", "uid": "no-such-item"},
	})
}

func TestValidateSize(t *testing.T) {
	s, err := ValidateSize("a.png", 64, 64, slot, 0.01)
	require.NoError(t, err)
	assert.Equal(t, geometry.NewVector(1, 1), s)

	s, err = ValidateSize("b.png", px(5), px(2), slot, 0.01)
	require.NoError(t, err)
	assert.Equal(t, geometry.NewVector(5, 2), s)

	_, err = ValidateSize("c.png", 100, 64, slot, 0.01)
	var invalid *InvalidTemplateError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, image.Pt(100, 64), invalid.Size)

	_, err = ValidateSize("d.png", 1, 1, slot, 0.01)
	assert.Error(t, err, "zero slots is never valid")
}

func TestIconKey(t *testing.T) {
	assert.Equal(t, "static/abc", IconKey(Static, "/data/icons/abc.png"))
	assert.Equal(t, "static/abc", IconKey(Static, `C:\icons\abc.png`))
	assert.Equal(t, "dynamic/42", IconKey(Dynamic, "42.png"))
}

func TestLoadStatic(t *testing.T) {
	f := newFixture(t)
	f.writeStatic(t)
	c := f.catalog(t)

	require.NoError(t, c.Load(context.Background(), Static, f.staticDir))
	assert.Equal(t, 2, c.Len(Static), "invalid and uncorrelated icons are skipped")

	item, ok := c.GetItem("static/a")
	require.True(t, ok)
	assert.Equal(t, "item-a", item.ID)

	_, ok = c.GetItem("static/ghost")
	assert.False(t, ok)
	_, ok = c.GetItem("nonsense")
	assert.False(t, ok)

	err := c.Templates(Static, geometry.NewVector(2, 1), func(ts []*Template) error {
		require.Len(t, ts, 1)
		assert.Equal(t, "static/b", ts[0].Key)
		assert.Equal(t, geometry.NewVector(px(2), px(1)), ts[0].Size())
		return nil
	})
	require.NoError(t, err)

	path, ok := c.GetIconPath(item, nil)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(f.staticDir, "a.png"), path)

	_, ok = c.GetIconPath(&itemdb.Item{ID: "item-c"}, nil)
	assert.False(t, ok)
}

func TestEveryTemplateIsSlotAligned(t *testing.T) {
	f := newFixture(t)
	f.writeStatic(t)
	c := f.catalog(t)
	require.NoError(t, c.Load(context.Background(), Static, f.staticDir))

	for _, s := range []geometry.Vector{{X: 1, Y: 1}, {X: 2, Y: 1}} {
		require.NoError(t, c.Templates(Static, s, func(ts []*Template) error {
			for _, tmpl := range ts {
				size := tmpl.Size()
				assert.Zero(t, (size.X-1)%slot, tmpl.Key)
				assert.Zero(t, (size.Y-1)%slot, tmpl.Key)
			}
			return nil
		}))
	}
}

func TestLoadMissingDirectory(t *testing.T) {
	f := newFixture(t)
	f.writeStatic(t)
	f.cfg.Processing.Icon.LoadRetries = 2
	c := f.catalog(t)

	err := c.Load(context.Background(), Static, filepath.Join(f.staticDir, "missing"))
	assert.ErrorIs(t, err, ErrDirectoryMissing)

	err = c.Load(context.Background(), Dynamic, f.dynamicDir)
	assert.ErrorIs(t, err, ErrDirectoryMissing, "index file does not exist")
}

func TestUnknownKind(t *testing.T) {
	c := newFixture(t).catalog(t)
	assert.ErrorIs(t, c.Load(context.Background(), Kind(7), "x"), ErrUnknownKind)
	assert.ErrorIs(t, c.Templates(Kind(7), geometry.One(), func([]*Template) error { return nil }), ErrUnknownKind)
}

func TestReloadBeforeLoad(t *testing.T) {
	c := newFixture(t).catalog(t)
	assert.Error(t, c.Reload(context.Background(), Dynamic))
}

func TestLoadHashedIndex(t *testing.T) {
	f := newFixture(t)
	writeIcon(t, filepath.Join(f.dynamicDir, "0.png"), px(3), px(2), color.RGBA{R: 90, G: 90, A: 255})
	writeIcon(t, filepath.Join(f.dynamicDir, "folded.png"), px(3), px(2), color.RGBA{R: 30, G: 90, A: 255})
	writeJSON(t, f.cfg.Paths.DynamicCorrelation, map[string]any{
		"version": 2,
		"111":     0,
		"222":     "folded.png",
		"999":     5,
	})
	c := f.catalog(t)
	require.NoError(t, c.Load(context.Background(), Dynamic, f.dynamicDir))
	assert.Equal(t, 2, c.Len(Dynamic))

	item, ok := c.GetItem("dynamic/0")
	require.True(t, ok)
	assert.Equal(t, "gun", item.ID)

	extra, ok := c.GetExtraInfo("dynamic/folded")
	require.True(t, ok)
	assert.Equal(t, "folded", extra.Meta)

	path, ok := c.GetIconPath(item, &itemdb.ExtraInfo{Mods: []string{"stock"}, Meta: "folded"})
	require.True(t, ok)
	assert.Equal(t, filepath.Join(f.dynamicDir, "folded.png"), path)

	_, ok = c.GetExtraInfo("static/a")
	assert.False(t, ok)
}

func TestLoadLegacyIndex(t *testing.T) {
	f := newFixture(t)
	f.cfg.Processing.Icon.UseLegacyCacheIndex = true
	writeIcon(t, filepath.Join(f.dynamicDir, "7.png"), px(3), px(2), color.RGBA{R: 90, A: 255})
	writeJSON(t, f.cfg.Paths.DynamicCorrelation, map[string]string{
		"7": "gun,stock;folded",
		"8": ",broken",
	})
	c := f.catalog(t)
	require.NoError(t, c.Load(context.Background(), Dynamic, f.dynamicDir))

	item, ok := c.GetItem("dynamic/7")
	require.True(t, ok)
	assert.Equal(t, "gun", item.ID)
	extra, ok := c.GetExtraInfo("dynamic/7")
	require.True(t, ok)
	assert.Equal(t, []string{"stock"}, extra.Mods)
}

func (f *fixture) writeDynamicOne(t *testing.T) {
	t.Helper()
	writeIcon(t, filepath.Join(f.dynamicDir, "0.png"), px(3), px(2), color.RGBA{R: 90, G: 90, A: 255})
	writeJSON(t, f.cfg.Paths.DynamicCorrelation, map[string]any{"111": 0})
}

func (f *fixture) addDynamicSecond(t *testing.T) {
	t.Helper()
	writeIcon(t, filepath.Join(f.dynamicDir, "1.png"), px(2), px(2), color.RGBA{B: 120, A: 255})
	writeJSON(t, f.cfg.Paths.DynamicCorrelation, map[string]any{"111": 0, "333": 1, "version": 12345})
}

func TestReloadMergesNewIcons(t *testing.T) {
	f := newFixture(t)
	f.writeDynamicOne(t)
	c := f.catalog(t)
	ctx := context.Background()
	require.NoError(t, c.Load(ctx, Dynamic, f.dynamicDir))

	var before *Template
	require.NoError(t, c.Templates(Dynamic, geometry.NewVector(3, 2), func(ts []*Template) error {
		require.Len(t, ts, 1)
		before = ts[0]
		return nil
	}))

	_, ok := c.GetItem("dynamic/1")
	require.False(t, ok)

	f.addDynamicSecond(t)
	require.NoError(t, c.Reload(ctx, Dynamic))

	item, ok := c.GetItem("dynamic/1")
	require.True(t, ok)
	assert.Equal(t, "item-c", item.ID)
	assert.Equal(t, 2, c.Len(Dynamic))

	require.NoError(t, c.Templates(Dynamic, geometry.NewVector(3, 2), func(ts []*Template) error {
		require.Len(t, ts, 1)
		assert.Same(t, before, ts[0], "cached template is reused")
		return nil
	}))
}

func TestReloadKeepsOldCorrelation(t *testing.T) {
	f := newFixture(t)
	f.writeDynamicOne(t)
	c := f.catalog(t)
	ctx := context.Background()
	require.NoError(t, c.Load(ctx, Dynamic, f.dynamicDir))

	// An index that lost an entry still resolves the old key.
	writeIcon(t, filepath.Join(f.dynamicDir, "1.png"), px(2), px(2), color.RGBA{B: 120, A: 255})
	writeJSON(t, f.cfg.Paths.DynamicCorrelation, map[string]any{"333": 1})
	require.NoError(t, c.Reload(ctx, Dynamic))

	_, ok := c.GetItem("dynamic/0")
	assert.True(t, ok)
	_, ok = c.GetItem("dynamic/1")
	assert.True(t, ok)
}

func TestWatchTriggersReload(t *testing.T) {
	f := newFixture(t)
	f.writeDynamicOne(t)
	c := f.catalog(t)
	ctx := context.Background()
	require.NoError(t, c.Load(ctx, Dynamic, f.dynamicDir))
	require.NoError(t, c.Watch(ctx))
	require.NoError(t, c.Watch(ctx), "second Watch is a no-op")

	f.addDynamicSecond(t)

	require.Eventually(t, func() bool {
		_, ok := c.GetItem("dynamic/1")
		return ok
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, 2, c.Len(Dynamic))
}

func TestConcurrentReadersDuringReload(t *testing.T) {
	f := newFixture(t)
	f.writeDynamicOne(t)
	c := f.catalog(t)
	ctx := context.Background()
	require.NoError(t, c.Load(ctx, Dynamic, f.dynamicDir))

	var (
		wg      sync.WaitGroup
		stop    atomic.Bool
		readErr atomic.Value
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !stop.Load() {
				err := c.Templates(Dynamic, geometry.NewVector(2, 2), func(ts []*Template) error {
					for _, tmpl := range ts {
						if tmpl.Mat.Empty() || tmpl.Item == nil {
							return fmt.Errorf("half-built template %s", tmpl.Key)
						}
						if _, ok := c.GetItem(tmpl.Key); !ok {
							return fmt.Errorf("template %s has no correlation", tmpl.Key)
						}
					}
					return nil
				})
				if err != nil {
					readErr.Store(err)
					return
				}
			}
		}()
	}

	for i := 0; i < 20; i++ {
		// Alternate the item behind dynamic/1 so every reload replaces it.
		hash := "333"
		if i%2 == 1 {
			hash = "222"
		}
		writeIcon(t, filepath.Join(f.dynamicDir, "1.png"), px(2), px(2), color.RGBA{B: uint8(i * 10), A: 255})
		writeJSON(t, f.cfg.Paths.DynamicCorrelation, map[string]any{"111": 0, hash: 1})
		require.NoError(t, c.Reload(ctx, Dynamic))
	}
	stop.Store(true)
	wg.Wait()

	if err, ok := readErr.Load().(error); ok {
		t.Fatal(err)
	}
}

func TestCloseReleasesTemplates(t *testing.T) {
	f := newFixture(t)
	f.writeStatic(t)
	c, err := New(f.cfg, f.db, nil)
	require.NoError(t, err)
	require.NoError(t, c.Load(context.Background(), Static, f.staticDir))
	require.NoError(t, c.Watch(context.Background()))

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Zero(t, c.Len(Static))
}

func TestOverlayAssets(t *testing.T) {
	f := newFixture(t)
	overlay := filepath.Join(t.TempDir(), "weapon.png")
	writeIcon(t, overlay, 8, 8, color.RGBA{G: 255, A: 255})
	f.cfg.Processing.Icon.OverlayAssets = map[string]string{"weapon": overlay, "nope": overlay}
	f.writeDynamicOne(t)

	c := f.catalog(t)
	require.NoError(t, c.Load(context.Background(), Dynamic, f.dynamicDir))
	require.NoError(t, c.Templates(Dynamic, geometry.NewVector(3, 2), func(ts []*Template) error {
		require.Len(t, ts, 1)
		// BGR: the overlay pixel at (3,3) is pure green.
		assert.Equal(t, uint8(0), ts[0].Mat.GetUCharAt(3, 3*3+0))
		assert.Equal(t, uint8(255), ts[0].Mat.GetUCharAt(3, 3*3+1))
		return nil
	}))
}

func TestLoadWithoutWorkerCount(t *testing.T) {
	f := newFixture(t)
	f.writeStatic(t)
	f.cfg.Processing.Icon.MatchWorkers = 0
	c := f.catalog(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, c.Load(ctx, Static, f.staticDir))
	assert.Equal(t, 2, c.Len(Static))
	require.NoError(t, c.Reload(ctx, Static))
	assert.Equal(t, 2, c.Len(Static))
}

func TestReloadSkipsRejectedIcons(t *testing.T) {
	f := newFixture(t)
	f.writeStatic(t)
	c := f.catalog(t)
	ctx := context.Background()
	require.NoError(t, c.Load(ctx, Static, f.staticDir))

	rejected := c.families[Static].snap.Load().rejected
	require.Contains(t, rejected, "static/bad")
	first := rejected["static/bad"]

	require.NoError(t, c.Reload(ctx, Static))
	rejected = c.families[Static].snap.Load().rejected
	require.Contains(t, rejected, "static/bad")
	assert.Equal(t, first, rejected["static/bad"])
	assert.Equal(t, 2, c.Len(Static))

	// A fixed file is picked up again.
	writeIcon(t, filepath.Join(f.staticDir, "bad.png"), px(1), px(1), color.RGBA{B: 200, A: 255})
	require.NoError(t, c.Reload(ctx, Static))
	assert.NotContains(t, c.families[Static].snap.Load().rejected, "static/bad")
	assert.Equal(t, 3, c.Len(Static))
	_, ok := c.GetItem("static/bad")
	assert.True(t, ok)
}
