package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"stasheye/internal/itemdb"
)

// correlation is the item identity behind an icon key.
type correlation struct {
	Item  *itemdb.Item
	Extra *itemdb.ExtraInfo
}

func (c correlation) identity() string {
	return identity(c.Item, c.Extra)
}

func identity(item *itemdb.Item, extra *itemdb.ExtraInfo) string {
	if item == nil {
		return ""
	}
	return item.ID + "|" + extra.Key()
}

type staticEntry struct {
	Icon string `json:"icon"`
	UID  string `json:"uid"`
}

// parseStatic reads [{"icon": "<path>", "uid": "<item id>"}, ...].
func parseStatic(ctx context.Context, data []byte, db itemdb.Database, log *slog.Logger) (map[string]correlation, error) {
	var entries []staticEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse static correlation: %w", err)
	}

	out := make(map[string]correlation, len(entries))
	for _, e := range entries {
		if e.Icon == "" || e.UID == "" {
			continue
		}
		item, err := db.GetItem(ctx, e.UID)
		if err != nil {
			log.Debug("static correlation references unknown item", "icon", e.Icon, "uid", e.UID, "error", err)
			continue
		}
		out[IconKey(Static, e.Icon)] = correlation{Item: item}
	}
	return out, nil
}

// parseLegacyIndex reads {"<n>": "uid[,mod...][;meta]"} where <n>.png is
// the icon file.
func parseLegacyIndex(ctx context.Context, data []byte, db itemdb.Database, log *slog.Logger) (map[string]correlation, error) {
	var entries map[string]string
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse dynamic index: %w", err)
	}

	out := make(map[string]correlation, len(entries))
	for n, spec := range entries {
		id, extra, err := itemdb.ParseItemSpec(spec)
		if err != nil {
			log.Debug("skipping malformed index entry", "entry", n, "error", err)
			continue
		}
		item, err := db.GetItem(ctx, id)
		if err != nil {
			log.Debug("dynamic index references unknown item", "entry", n, "uid", id, "error", err)
			continue
		}
		out[IconKey(Dynamic, n+".png")] = correlation{Item: item, Extra: extra}
	}
	return out, nil
}

// parseHashedIndex reads {"<hash>": <n> | "<file>.png", "version": ...}.
// The hash is resolved to an item through the database.
func parseHashedIndex(ctx context.Context, data []byte, db itemdb.Database, log *slog.Logger) (map[string]correlation, error) {
	var entries map[string]json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse dynamic index: %w", err)
	}

	out := make(map[string]correlation, len(entries))
	for hash, raw := range entries {
		if hash == "version" {
			continue
		}
		file, err := indexFileName(raw)
		if err != nil {
			log.Debug("skipping malformed index entry", "hash", hash, "error", err)
			continue
		}
		item, extra, err := db.ResolveHash(ctx, hash)
		if err != nil {
			if !errors.Is(err, itemdb.ErrNotFound) {
				return nil, err
			}
			log.Debug("dynamic index hash not in item database", "hash", hash)
			continue
		}
		out[IconKey(Dynamic, file)] = correlation{Item: item, Extra: extra}
	}
	return out, nil
}

func indexFileName(raw json.RawMessage) (string, error) {
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return strconv.FormatInt(n, 10) + ".png", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("index value %s is neither a number nor a file name", raw)
	}
	if s == "" {
		return "", errors.New("empty file name")
	}
	return s, nil
}
