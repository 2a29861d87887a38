package catalog

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"stasheye/internal/config"
	imgpkg "stasheye/internal/image"
	"stasheye/internal/itemdb"
	"stasheye/internal/logging"
	"stasheye/pkg/colorutil"
	"stasheye/pkg/geometry"
)

// snapshot is an immutable view of one family. Lookups read it without
// locking; the Mats of its templates are only touched under family.mu.
type snapshot struct {
	buckets map[geometry.Vector][]*Template // sorted by key
	byKey   map[string]*Template
	corr    map[string]correlation
	reverse map[string][]string // identity -> sorted keys with a template

	// rejected holds the files that failed to decode.
	rejected map[string]rejection
}

func newSnapshot(templates map[string]*Template, corr map[string]correlation) *snapshot {
	s := &snapshot{
		buckets: make(map[geometry.Vector][]*Template),
		byKey:   templates,
		corr:    corr,
		reverse: make(map[string][]string),
	}
	for _, key := range slices.Sorted(maps.Keys(templates)) {
		t := templates[key]
		s.buckets[t.Slots] = append(s.buckets[t.Slots], t)
		id := identity(t.Item, t.Extra)
		s.reverse[id] = append(s.reverse[id], key)
	}
	return s
}

func emptySnapshot() *snapshot {
	return newSnapshot(map[string]*Template{}, map[string]correlation{})
}

type family struct {
	kind Kind

	// mu is held shared while template Mats are in use and exclusively
	// while a new snapshot is swapped in.
	mu   sync.RWMutex
	snap atomic.Pointer[snapshot]

	// reloadMu serializes Load and Reload. dir is guarded by it.
	reloadMu sync.Mutex
	dir      string
}

// Catalog owns the static and dynamic icon templates.
type Catalog struct {
	cfg      *config.Config
	db       itemdb.Database
	log      *slog.Logger
	border   color.RGBA
	overlays map[itemdb.Category]image.Image

	families [2]*family

	watchMu sync.Mutex
	watcher *watcher

	closeOnce sync.Once
}

// New creates an empty catalog. Call Load for each family to use.
func New(cfg *config.Config, db itemdb.Database, logger *slog.Logger) (*Catalog, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	border, err := colorutil.ParseHex(cfg.Processing.Inventory.BorderColor)
	if err != nil {
		return nil, fmt.Errorf("invalid border color: %w", err)
	}

	c := &Catalog{
		cfg:      cfg,
		db:       db,
		log:      logging.OrDiscard(logger).With("component", "catalog"),
		border:   border,
		overlays: make(map[itemdb.Category]image.Image),
	}
	for i, k := range Kinds {
		f := &family{kind: k}
		f.snap.Store(emptySnapshot())
		c.families[i] = f
	}

	for name, path := range cfg.Processing.Icon.OverlayAssets {
		cat, err := itemdb.ParseCategory(name)
		if err != nil {
			c.log.Warn("ignoring overlay asset", "category", name, "error", err)
			continue
		}
		img, err := imgpkg.Load(path)
		if err != nil {
			c.log.Warn("ignoring overlay asset", "category", name, "error", err)
			continue
		}
		c.overlays[cat] = img
	}
	return c, nil
}

func (c *Catalog) family(kind Kind) (*family, error) {
	if kind != Static && kind != Dynamic {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, kind)
	}
	return c.families[kind], nil
}

func (c *Catalog) familyOfKey(key string) *family {
	prefix, _, _ := strings.Cut(key, "/")
	for _, f := range c.families {
		if f.kind.String() == prefix {
			return f
		}
	}
	return nil
}

// Load replaces the family kind with the icons found in dir.
func (c *Catalog) Load(ctx context.Context, kind Kind, dir string) error {
	f, err := c.family(kind)
	if err != nil {
		return err
	}
	f.reloadMu.Lock()
	defer f.reloadMu.Unlock()

	corr, err := c.readCorrelation(ctx, kind)
	if err != nil {
		return err
	}
	files, err := c.listIcons(ctx, dir)
	if err != nil {
		return err
	}

	d := c.decodeAll(ctx, kind, files, corr, nil, nil)
	next := newSnapshot(d.templates, corr)
	next.rejected = d.rejected
	f.dir = dir
	c.swap(f, next)

	c.log.Info("loaded icons",
		"kind", kind,
		"templates", len(d.templates),
		"rejected", len(d.rejected),
		"correlations", len(corr),
		"size", humanizeBytes(d.bytes))
	return nil
}

// Reload re-reads the correlation data of kind and merges newly seen icons
// into the family. Templates already cached are kept unless their
// correlation now points at a different item.
func (c *Catalog) Reload(ctx context.Context, kind Kind) error {
	f, err := c.family(kind)
	if err != nil {
		return err
	}
	f.reloadMu.Lock()
	defer f.reloadMu.Unlock()

	if f.dir == "" {
		return fmt.Errorf("%s icons have not been loaded", kind)
	}
	prev := f.snap.Load()

	corr, err := c.readCorrelation(ctx, kind)
	if err != nil {
		return err
	}
	merged := maps.Clone(prev.corr)
	maps.Copy(merged, corr)

	files, err := c.listIcons(ctx, f.dir)
	if err != nil {
		return err
	}

	d := c.decodeAll(ctx, kind, files, merged, prev.byKey, prev.rejected)
	templates := d.templates
	for key, t := range prev.byKey {
		if _, ok := templates[key]; !ok && merged[key].identity() == identity(t.Item, t.Extra) {
			templates[key] = t
		}
	}
	next := newSnapshot(templates, merged)
	next.rejected = d.rejected
	c.swap(f, next)

	c.log.Info("reloaded icons",
		"kind", kind,
		"templates", len(templates),
		"new", len(templates)-countShared(prev.byKey, templates),
		"rejected", len(d.rejected),
		"size", humanizeBytes(d.bytes))
	return nil
}

// swap installs next once in-flight readers are done and releases the
// Mats of templates that did not survive.
func (c *Catalog) swap(f *family, next *snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()

	prev := f.snap.Swap(next)
	if prev == nil {
		return
	}
	for key, t := range prev.byKey {
		if next.byKey[key] != t {
			t.close()
		}
	}
}

func countShared(a, b map[string]*Template) int {
	n := 0
	for key, t := range a {
		if b[key] == t {
			n++
		}
	}
	return n
}

// Templates runs fn with the templates of kind whose slot size is slots,
// sorted by key. The family is read-locked while fn runs, so fn may use
// the template Mats but must not call back into Load or Reload.
func (c *Catalog) Templates(kind Kind, slots geometry.Vector, fn func([]*Template) error) error {
	f, err := c.family(kind)
	if err != nil {
		return err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return fn(f.snap.Load().buckets[slots])
}

// Len returns the number of templates of kind.
func (c *Catalog) Len(kind Kind) int {
	f, err := c.family(kind)
	if err != nil {
		return 0
	}
	return len(f.snap.Load().byKey)
}

// GetItem returns the item correlated with an icon key.
func (c *Catalog) GetItem(key string) (*itemdb.Item, bool) {
	f := c.familyOfKey(key)
	if f == nil {
		return nil, false
	}
	corr, ok := f.snap.Load().corr[key]
	if !ok || corr.Item == nil {
		return nil, false
	}
	return corr.Item, true
}

// GetExtraInfo returns the extra info of a dynamic icon key.
func (c *Catalog) GetExtraInfo(key string) (*itemdb.ExtraInfo, bool) {
	f := c.familyOfKey(key)
	if f == nil || f.kind != Dynamic {
		return nil, false
	}
	corr, ok := f.snap.Load().corr[key]
	if !ok || corr.Extra == nil {
		return nil, false
	}
	return corr.Extra, true
}

// GetIconPath returns the file of the first icon showing item. Dynamic
// icons matching extra are preferred over static icons.
func (c *Catalog) GetIconPath(item *itemdb.Item, extra *itemdb.ExtraInfo) (string, bool) {
	if item == nil {
		return "", false
	}
	lookups := []struct {
		kind Kind
		id   string
	}{
		{Dynamic, identity(item, extra)},
		{Static, identity(item, nil)},
	}
	for _, l := range lookups {
		snap := c.families[l.kind].snap.Load()
		if keys := snap.reverse[l.id]; len(keys) > 0 {
			return snap.byKey[keys[0]].Path, true
		}
	}
	return "", false
}

// Close stops the watcher and releases every template.
func (c *Catalog) Close() error {
	c.closeOnce.Do(func() {
		c.stopWatch()
		for _, f := range c.families {
			f.reloadMu.Lock()
			c.swap(f, emptySnapshot())
			f.reloadMu.Unlock()
		}
	})
	return nil
}
