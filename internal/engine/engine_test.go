package engine

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"stasheye/internal/catalog"
	"stasheye/internal/config"
	"stasheye/internal/itemdb"
	"stasheye/pkg/geometry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

const slot = 63

func writePNG(t *testing.T, path string, w, h int, c color.RGBA) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

func writeJSON(t *testing.T, path string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func setup(t *testing.T) (*config.Config, itemdb.Database) {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StaticIcons = filepath.Join(root, "static")
	cfg.Paths.DynamicIcons = filepath.Join(root, "dynamic")
	cfg.Paths.StaticCorrelation = filepath.Join(cfg.Paths.StaticIcons, "correlation.json")
	cfg.Paths.DynamicCorrelation = filepath.Join(cfg.Paths.DynamicIcons, "index.json")
	cfg.Processing.Icon.LoadRetries = 1
	cfg.Processing.Icon.RetryDelayMs = 1
	require.NoError(t, os.MkdirAll(cfg.Paths.StaticIcons, 0o755))
	require.NoError(t, os.MkdirAll(cfg.Paths.DynamicIcons, 0o755))

	writePNG(t, filepath.Join(cfg.Paths.StaticIcons, "a.png"), slot+1, slot+1, color.RGBA{R: 200, A: 255})
	writeJSON(t, cfg.Paths.StaticCorrelation, []map[string]string{{"icon": "a.png", "uid": "item-a"}})
	writePNG(t, filepath.Join(cfg.Paths.DynamicIcons, "1.png"), 2*slot+1, slot+1, color.RGBA{G: 200, A: 255})
	writeJSON(t, cfg.Paths.DynamicCorrelation, map[string]any{"version": 1, "333": 1})

	db := itemdb.NewMemory([]*itemdb.Item{
		{ID: "item-a", Name: "Item A", Width: 1, Height: 1},
		{ID: "item-b", Name: "Item B", Width: 2, Height: 1},
	}, map[string]itemdb.HashEntry{"333": {Item: "item-b", Mods: []string{"scope"}}})
	return cfg, db
}

func TestNewLoadsEnabledFamilies(t *testing.T) {
	cfg, db := setup(t)
	e, err := New(context.Background(), cfg, db, nil)
	require.NoError(t, err)
	defer e.Close()

	assert.Equal(t, 1, e.Catalog().Len(catalog.Static))
	assert.Equal(t, 1, e.Catalog().Len(catalog.Dynamic))

	item, ok := e.Catalog().GetItem("dynamic/1")
	require.True(t, ok)
	assert.Equal(t, "item-b", item.ID)
	extra, ok := e.Catalog().GetExtraInfo("dynamic/1")
	require.True(t, ok)
	assert.Equal(t, []string{"scope"}, extra.Mods)
}

func TestNewSkipsDisabledFamilies(t *testing.T) {
	cfg, db := setup(t)
	cfg.Processing.Icon.UseDynamicIcons = false
	cfg.Paths.DynamicIcons = filepath.Join(t.TempDir(), "missing")

	e, err := New(context.Background(), cfg, db, nil)
	require.NoError(t, err)
	defer e.Close()
	assert.Zero(t, e.Catalog().Len(catalog.Dynamic))
}

func TestNewFailsOnMissingDirectory(t *testing.T) {
	cfg, db := setup(t)
	cfg.Paths.StaticCorrelation = filepath.Join(t.TempDir(), "missing", "correlation.json")

	_, err := New(context.Background(), cfg, db, nil)
	assert.ErrorIs(t, err, catalog.ErrDirectoryMissing)
}

func TestNewRequiresDatabase(t *testing.T) {
	_, err := New(context.Background(), config.Default(), nil, nil)
	assert.Error(t, err)
}

type fakeReader struct {
	mu     sync.Mutex
	closed bool
}

func (r *fakeReader) ReadShortName(gocv.Mat) (string, error) { return "", nil }

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.New("closed twice")
	}
	r.closed = true
	return nil
}

func TestCloseReleasesReader(t *testing.T) {
	cfg, db := setup(t)
	r := &fakeReader{}
	e, err := New(context.Background(), cfg, db, nil, WithReader(r))
	require.NoError(t, err)

	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
	assert.True(t, r.closed)
	assert.Zero(t, e.Catalog().Len(catalog.Static))
}

func TestReloadPicksUpNewIcons(t *testing.T) {
	cfg, db := setup(t)
	e, err := New(context.Background(), cfg, db, nil)
	require.NoError(t, err)
	defer e.Close()

	writePNG(t, filepath.Join(cfg.Paths.DynamicIcons, "2.png"), slot+1, slot+1, color.RGBA{B: 200, A: 255})
	writeJSON(t, cfg.Paths.DynamicCorrelation, map[string]any{"version": 1, "333": 1, "444": 2})
	require.NoError(t, e.Reload(context.Background(), catalog.Dynamic))
	// The unresolved hash is skipped, the old entry survives.
	assert.Equal(t, 1, e.Catalog().Len(catalog.Dynamic))

	require.NoError(t, e.Reload(context.Background(), catalog.Static))
}

func TestNewInventoryViewsRunConcurrently(t *testing.T) {
	cfg, db := setup(t)
	e, err := New(context.Background(), cfg, db, nil)
	require.NoError(t, err)
	defer e.Close()

	img := image.NewRGBA(image.Rect(0, 0, 400, 300))
	for y := 100; y <= 100+slot; y++ {
		for x := 100; x <= 100+slot; x++ {
			if x == 100 || y == 100 || x == 100+slot || y == 100+slot {
				img.SetRGBA(x, y, color.RGBA{R: 100, G: 100, B: 100, A: 255})
			}
		}
	}

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := e.NewInventory(img)
			if !assert.NoError(t, err) {
				return
			}
			defer v.Close()
			icon, ok := v.LocateIcon(geometry.NewVector(130, 130))
			if assert.True(t, ok) {
				assert.Equal(t, geometry.One(), icon.Slots())
				assert.NoError(t, icon.Err())
			}
		}()
	}
	wg.Wait()
}
