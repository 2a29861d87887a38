// Package logging builds the structured logger shared by the processing
// components and writes debug images next to the log.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/lmittmann/tint"
	"gocv.io/x/gocv"
)

// Options configures New.
type Options struct {
	Level   string    // debug, info, warn, error
	Output  io.Writer // defaults to os.Stderr
	NoColor bool
}

// New returns a tint-backed slog.Logger.
func New(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	return slog.New(tint.NewHandler(out, &tint.Options{
		Level:      ParseLevel(opts.Level),
		TimeFormat: "15:04:05",
		NoColor:    opts.NoColor,
	}))
}

// Discard returns a logger that drops everything. Used when a component is
// constructed without a logger.
func Discard() *slog.Logger {
	return slog.New(tint.NewHandler(io.Discard, &tint.Options{Level: slog.LevelError + 1}))
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l *slog.Logger) *slog.Logger {
	if l == nil {
		return Discard()
	}
	return l
}

// ParseLevel maps a level name to a slog.Level. Unknown names map to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// DebugImages writes intermediate Mats to a directory when enabled.
type DebugImages struct {
	dir     string
	enabled bool
	mu      sync.Mutex
}

// NewDebugImages creates a debug image writer. A disabled writer ignores
// every call.
func NewDebugImages(dir string, enabled bool) *DebugImages {
	return &DebugImages{dir: dir, enabled: enabled}
}

// Enabled reports whether images are written.
func (d *DebugImages) Enabled() bool {
	return d != nil && d.enabled
}

// Dump writes mat as <name>(<n>).png with the first unused n.
func (d *DebugImages) Dump(mat gocv.Mat, name string) (string, error) {
	if !d.Enabled() || mat.Empty() {
		return "", nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	path, err := uniquePath(d.dir, name, ".png")
	if err != nil {
		return "", err
	}
	if !gocv.IMWrite(path, mat) {
		return "", fmt.Errorf("failed to write debug image %s", path)
	}
	return path, nil
}

func uniquePath(dir, name, ext string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("cannot create debug directory: %w", err)
	}
	name = strings.ReplaceAll(name, " ", "_")
	for i := 0; ; i++ {
		path := filepath.Join(dir, fmt.Sprintf("%s(%d)%s", name, i, ext))
		_, err := os.Stat(path)
		switch {
		case os.IsNotExist(err):
			return path, nil
		case err != nil:
			return "", fmt.Errorf("cannot check debug image path: %w", err)
		}
	}
}
