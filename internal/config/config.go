// Package config holds the explicit configuration value passed into the
// catalog, the engine and every inventory view.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"stasheye/pkg/colorutil"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ErrUnknownFormat is returned by Load for file extensions it cannot parse.
var ErrUnknownFormat = errors.New("unknown config format")

// Config is the complete processing configuration.
type Config struct {
	Debug      bool       `toml:"debug" yaml:"debug"`
	LogLevel   string     `toml:"log_level" yaml:"log_level"`
	Paths      Paths      `toml:"paths" yaml:"paths"`
	Processing Processing `toml:"processing" yaml:"processing"`
}

// Paths contains every file system location used by the library.
type Paths struct {
	StaticIcons        string `toml:"static_icons" yaml:"static_icons"`
	DynamicIcons       string `toml:"dynamic_icons" yaml:"dynamic_icons"`
	StaticCorrelation  string `toml:"static_correlation" yaml:"static_correlation"`
	DynamicCorrelation string `toml:"dynamic_correlation" yaml:"dynamic_correlation"`
	ItemDatabase       string `toml:"item_database" yaml:"item_database"`
	TessData           string `toml:"tessdata" yaml:"tessdata"`
	Debug              string `toml:"debug" yaml:"debug"`
}

// Processing contains parameters shared by the processing stages.
type Processing struct {
	// Scale of the capture: 1 for 1080p, 2 for 4k.
	Scale float64 `toml:"scale" yaml:"scale"`
	// BaseSlotSize is the pixel size of one slot at 1080p.
	BaseSlotSize float64   `toml:"base_slot_size" yaml:"base_slot_size"`
	Icon         Icon      `toml:"icon" yaml:"icon"`
	Inventory    Inventory `toml:"inventory" yaml:"inventory"`
}

// Icon configures the catalog and icon matching.
type Icon struct {
	UseStaticIcons      bool `toml:"use_static_icons" yaml:"use_static_icons"`
	UseDynamicIcons     bool `toml:"use_dynamic_icons" yaml:"use_dynamic_icons"`
	WatchDynamicIcons   bool `toml:"watch_dynamic_icons" yaml:"watch_dynamic_icons"`
	ScanRotatedIcons    bool `toml:"scan_rotated_icons" yaml:"scan_rotated_icons"`
	UseLegacyCacheIndex bool `toml:"use_legacy_cache_index" yaml:"use_legacy_cache_index"`
	UseShortNameOCR     bool `toml:"use_short_name_ocr" yaml:"use_short_name_ocr"`

	MatchWorkers int `toml:"match_workers" yaml:"match_workers"`
	LoadRetries  int `toml:"load_retries" yaml:"load_retries"`
	RetryDelayMs int `toml:"retry_delay_ms" yaml:"retry_delay_ms"`

	// TemplateEpsilon is the pixel slack allowed when checking that a template
	// is a whole number of slots.
	TemplateEpsilon float64 `toml:"template_epsilon" yaml:"template_epsilon"`

	// OverlayAssets maps an item category name to an overlay image that is
	// composited into the top-left corner of that category's templates.
	OverlayAssets map[string]string `toml:"overlay_assets" yaml:"overlay_assets"`
}

// Inventory configures grid detection.
type Inventory struct {
	OptimizeHighlighted bool               `toml:"optimize_highlighted" yaml:"optimize_highlighted"`
	GridColor           colorutil.HSVRange `toml:"grid_color" yaml:"grid_color"`
	HighlightColor      colorutil.HSVRange `toml:"highlight_color" yaml:"highlight_color"`

	// BorderColor is the grid line color drawn around composited templates.
	BorderColor     string `toml:"border_color" yaml:"border_color"`
	BackgroundAlpha int    `toml:"background_alpha" yaml:"background_alpha"`

	// SlotTolerance is the fraction of a slot a traced size may deviate
	// from a whole number of slots.
	SlotTolerance float64 `toml:"slot_tolerance" yaml:"slot_tolerance"`
}

// Default returns a Config populated with standard defaults.
func Default() *Config {
	return &Config{
		Debug:    false,
		LogLevel: "info",
		Paths: Paths{
			StaticIcons:        filepath.Join("Data", "StaticIcons"),
			DynamicIcons:       filepath.Join("Data", "DynamicIcons"),
			StaticCorrelation:  filepath.Join("Data", "StaticIcons", "correlation.json"),
			DynamicCorrelation: filepath.Join("Data", "DynamicIcons", "index.json"),
			ItemDatabase:       filepath.Join("Data", "items.json"),
			TessData:           "Data",
			Debug:              "Debug",
		},
		Processing: Processing{
			Scale:        1,
			BaseSlotSize: 63,
			Icon: Icon{
				UseStaticIcons:   true,
				UseDynamicIcons:  true,
				ScanRotatedIcons: true,
				MatchWorkers:     runtime.NumCPU(),
				LoadRetries:      3,
				RetryDelayMs:     100,
				TemplateEpsilon:  0.01,
			},
			Inventory: Inventory{
				GridColor: colorutil.HSVRange{
					Min: colorutil.HSV{H: 0, S: 0, V: 73},
					Max: colorutil.HSV{H: 180, S: 60, V: 120},
				},
				HighlightColor: colorutil.HSVRange{
					Min: colorutil.HSV{H: 0, S: 0, V: 60},
					Max: colorutil.HSV{H: 180, S: 30, V: 89},
				},
				BorderColor:     "#707570",
				BackgroundAlpha: 77,
				SlotTolerance:   0.1,
			},
		},
	}
}

// Validate clamps/normalizes values to safe ranges.
func (c *Config) Validate() error {
	p := &c.Processing
	if p.Scale <= 0 {
		p.Scale = 1
	}
	if p.BaseSlotSize <= 0 {
		p.BaseSlotSize = 63
	}
	if p.Icon.MatchWorkers <= 0 {
		p.Icon.MatchWorkers = runtime.NumCPU()
	}
	if p.Icon.LoadRetries < 0 {
		p.Icon.LoadRetries = 0
	}
	if p.Icon.RetryDelayMs < 0 {
		p.Icon.RetryDelayMs = 0
	}
	if p.Icon.TemplateEpsilon <= 0 {
		p.Icon.TemplateEpsilon = 0.01
	}
	if p.Inventory.BackgroundAlpha < 0 || p.Inventory.BackgroundAlpha > 255 {
		p.Inventory.BackgroundAlpha = 77
	}
	if p.Inventory.SlotTolerance <= 0 || p.Inventory.SlotTolerance >= 0.5 {
		p.Inventory.SlotTolerance = 0.1
	}
	p.Inventory.GridColor = p.Inventory.GridColor.Clamp()
	p.Inventory.HighlightColor = p.Inventory.HighlightColor.Clamp()
	if _, err := colorutil.ParseHex(p.Inventory.BorderColor); err != nil {
		return fmt.Errorf("inventory.border_color: %w", err)
	}
	return nil
}

// ScaledSlotSize is the pixel size of one slot at the capture resolution.
func (c *Config) ScaledSlotSize() float64 {
	return c.Processing.Scale * c.Processing.BaseSlotSize
}

// InverseScale is the factor that brings a capture back to 1080p.
func (c *Config) InverseScale() float64 {
	return 1 / c.Processing.Scale
}

// RetryDelay returns the catalog load retry delay.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Processing.Icon.RetryDelayMs) * time.Millisecond
}

// Workers is the configured worker count, or the CPU count when unset.
func (c *Config) Workers() int {
	if n := c.Processing.Icon.MatchWorkers; n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// Resolution2Scale converts a screen resolution to the corresponding scale.
func Resolution2Scale(width, height int) float64 {
	return math.Min(float64(width)/1920, float64(height)/1080)
}

// Load reads configuration from a .toml, .yaml or .yml file. Fields missing
// from the file keep their defaults. A missing file yields Default().
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("cannot read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return cfg, fmt.Errorf("cannot parse config %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return cfg, fmt.Errorf("cannot parse config %s: %w", path, err)
		}
	default:
		return cfg, fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
