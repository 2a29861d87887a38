package itemdb

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// HashEntry is the item identity behind a dynamic icon hash.
type HashEntry struct {
	Item string   `json:"item"`
	Mods []string `json:"mods,omitempty"`
	Meta string   `json:"meta,omitempty"`
}

// File is the on-disk layout of a JSON item database.
type File struct {
	Items      []*Item              `json:"items"`
	IconHashes map[string]HashEntry `json:"icon_hashes"`
}

// Memory is an in-memory Database, usually loaded from a JSON file.
// It is read-only after construction.
type Memory struct {
	items  map[string]*Item
	hashes map[string]HashEntry
}

// NewMemory builds a Database from a list of items and hash entries.
func NewMemory(items []*Item, hashes map[string]HashEntry) *Memory {
	m := &Memory{
		items:  make(map[string]*Item, len(items)),
		hashes: make(map[string]HashEntry, len(hashes)),
	}
	for _, it := range items {
		if it != nil && it.ID != "" {
			m.items[it.ID] = it
		}
	}
	for h, e := range hashes {
		m.hashes[h] = e
	}
	return m
}

// LoadJSON reads a JSON item database file.
func LoadJSON(path string) (*Memory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read item database: %w", err)
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse item database %s: %w", path, err)
	}
	return NewMemory(f.Items, f.IconHashes), nil
}

// Len returns the number of items.
func (m *Memory) Len() int {
	return len(m.items)
}

// GetItem implements Database.
func (m *Memory) GetItem(_ context.Context, id string) (*Item, error) {
	if it, ok := m.items[id]; ok {
		return it, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// ResolveHash implements Database.
func (m *Memory) ResolveHash(ctx context.Context, hash string) (*Item, *ExtraInfo, error) {
	e, ok := m.hashes[hash]
	if !ok {
		return nil, nil, fmt.Errorf("%w: hash %s", ErrNotFound, hash)
	}
	it, err := m.GetItem(ctx, e.Item)
	if err != nil {
		return nil, nil, err
	}
	return it, &ExtraInfo{Mods: e.Mods, Meta: e.Meta}, nil
}
