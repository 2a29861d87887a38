// Package itemdb provides item metadata lookups for icon templates.
package itemdb

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"slices"
	"strings"

	"stasheye/pkg/geometry"
)

// ErrNotFound is returned when an item id or icon hash is unknown.
var ErrNotFound = errors.New("item not found")

// Database resolves item ids and dynamic icon hashes.
type Database interface {
	GetItem(ctx context.Context, id string) (*Item, error)
	ResolveHash(ctx context.Context, hash string) (*Item, *ExtraInfo, error)
}

// Item is the metadata of one item.
type Item struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	ShortName       string   `json:"short_name"`
	Width           int      `json:"width"`
	Height          int      `json:"height"`
	BackgroundColor string   `json:"background_color"`
	Category        Category `json:"category"`
}

// Slots returns the item's size in inventory slots.
func (i *Item) Slots() geometry.Vector {
	return geometry.NewVector(i.Width, i.Height)
}

func (i *Item) String() string {
	return fmt.Sprintf("%s (%s)", i.Name, i.ID)
}

// ExtraInfo describes a dynamic icon: the attached mods and an optional
// free-form suffix.
type ExtraInfo struct {
	Mods []string `json:"mods"`
	Meta string   `json:"meta"`
}

// Key returns a stable identity used to compare ExtraInfo values.
func (e *ExtraInfo) Key() string {
	if e == nil {
		return ""
	}
	mods := slices.Clone(e.Mods)
	slices.Sort(mods)
	return strings.Join(mods, ",") + ";" + e.Meta
}

// ParseItemSpec parses "uid[,modUid...][;meta]".
func ParseItemSpec(spec string) (string, *ExtraInfo, error) {
	spec = strings.TrimSpace(spec)
	main, meta, _ := strings.Cut(spec, ";")
	parts := strings.Split(main, ",")
	id := strings.TrimSpace(parts[0])
	if id == "" {
		return "", nil, fmt.Errorf("empty item id in %q", spec)
	}

	extra := &ExtraInfo{Meta: meta}
	for _, p := range parts[1:] {
		if p = strings.TrimSpace(p); p != "" {
			extra.Mods = append(extra.Mods, p)
		}
	}
	return id, extra, nil
}

var backgroundColors = map[string]color.RGBA{
	"default": {R: 127, G: 127, B: 127, A: 255},
	"black":   {R: 0, G: 0, B: 0, A: 255},
	"blue":    {R: 28, G: 65, B: 86, A: 255},
	"green":   {R: 21, G: 45, B: 0, A: 255},
	"grey":    {R: 29, G: 29, B: 29, A: 255},
	"orange":  {R: 60, G: 25, B: 0, A: 255},
	"red":     {R: 109, G: 36, B: 24, A: 255},
	"violet":  {R: 76, G: 42, B: 85, A: 255},
	"yellow":  {R: 104, G: 102, B: 40, A: 255},
}

// BackgroundColor maps a background color name to its RGB value. Unknown
// names map to the default color.
func BackgroundColor(name string) color.RGBA {
	if c, ok := backgroundColors[strings.ToLower(name)]; ok {
		return c
	}
	return backgroundColors["default"]
}
