package itemdb

import (
	"fmt"
	"strings"
)

// Category is the coarse item class. Some categories carry an overlay in
// the top-left corner of their icons.
type Category int

const (
	CategoryNone Category = iota
	CategoryWeapon
	CategoryAmmo
	CategoryKey
	CategoryContainer
	CategoryBarter
	CategoryMedical
	CategoryProvision
	CategoryGear
)

var categoryNames = []string{"none", "weapon", "ammo", "key", "container", "barter", "medical", "provision", "gear"}

func (c Category) String() string {
	if c < 0 || int(c) >= len(categoryNames) {
		return "unknown"
	}
	return categoryNames[c]
}

// ParseCategory parses a category name, case-insensitively.
func ParseCategory(s string) (Category, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return CategoryNone, nil
	}
	for i, name := range categoryNames {
		if name == s {
			return Category(i), nil
		}
	}
	return CategoryNone, fmt.Errorf("unknown item category %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Category) UnmarshalText(b []byte) error {
	v, err := ParseCategory(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}
