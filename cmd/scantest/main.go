// Command scantest locates and identifies the item icons of one inventory
// screenshot and prints the results.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"stasheye/internal/config"
	"stasheye/internal/engine"
	imgpkg "stasheye/internal/image"
	"stasheye/internal/inventory"
	"stasheye/internal/itemdb"
	"stasheye/internal/logging"
	"stasheye/internal/version"
	"stasheye/pkg/geometry"
)

func main() {
	imagePath := flag.String("image", "", "Path to inventory screenshot (PNG, JPEG, BMP, TIFF or WebP)")
	configPath := flag.String("config", "stasheye.toml", "Config file (.toml or .yaml)")
	dbURL := flag.String("db", "", "Postgres connection string; the JSON item database is used when empty")
	at := flag.String("at", "", "Only report the icon at x,y")
	center := flag.Bool("center", false, "Only report the icon at the image center")
	autoScale := flag.Bool("autoscale", false, "Derive the capture scale from the image resolution")
	logLevel := flag.String("log-level", "", "Override the configured log level")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if *imagePath == "" {
		fmt.Println("Usage: scantest -image <path> [-config stasheye.toml] [-db url] [-at x,y | -center] [-autoscale]")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	log := logging.New(logging.Options{Level: cfg.LogLevel})

	img, err := imgpkg.Load(*imagePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load image: %v\n", err)
		os.Exit(1)
	}
	bounds := img.Bounds()
	if *autoScale {
		cfg.Processing.Scale = config.Resolution2Scale(bounds.Dx(), bounds.Dy())
	}
	fmt.Printf("Loaded image: %dx%d pixels, scale %.2f\n", bounds.Dx(), bounds.Dy(), cfg.Processing.Scale)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var db itemdb.Database
	if *dbURL != "" {
		pg, err := itemdb.NewPostgres(ctx, *dbURL, 4096)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to connect to item database: %v\n", err)
			os.Exit(1)
		}
		defer pg.Close()
		db = pg
	} else {
		mem, err := itemdb.LoadJSON(cfg.Paths.ItemDatabase)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load item database: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Item database: %d items\n", mem.Len())
		db = mem
	}

	eng, err := engine.New(ctx, cfg, db, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start engine: %v\n", err)
		os.Exit(1)
	}
	defer eng.Close()

	view, err := eng.NewInventory(img)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create inventory: %v\n", err)
		os.Exit(1)
	}
	defer view.Close()

	var icons []*inventory.Icon
	switch {
	case *at != "":
		var x, y int
		if _, err := fmt.Sscanf(strings.TrimSpace(*at), "%d,%d", &x, &y); err != nil {
			fmt.Fprintf(os.Stderr, "Invalid -at %q: %v\n", *at, err)
			os.Exit(1)
		}
		if icon, ok := view.LocateIcon(geometry.NewVector(x, y)); ok {
			icons = append(icons, icon)
		}
	case *center:
		if icon, ok := view.LocateIconCenter(); ok {
			icons = append(icons, icon)
		}
	default:
		icons = view.Icons()
	}
	if err := view.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Grid detection failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\n%-12s %-8s %-30s %8s %8s %s\n", "Position", "Slots", "Item", "Conf", "Rotated", "Key")
	fmt.Println(strings.Repeat("-", 90))
	for _, icon := range icons {
		name := "-"
		if err := icon.Err(); err != nil {
			name = "error: " + err.Error()
		} else if item := icon.Item(); item != nil {
			name = item.Name
		}
		fmt.Printf("%-12s %-8s %-30.30s %8.3f %8v %s\n",
			icon.Position(), icon.Slots(), name, icon.DetectionConfidence(), icon.Rotated(), icon.IconKey())
	}
	sum := view.Summary()
	fmt.Printf("\nTotal: %d icons (view %s), grid: %d icons over %d slots, %.2f ± %.2f slots each\n",
		len(icons), view.ID(), sum.Icons, sum.Slots, sum.MeanSlots, sum.StdDevSlots)
}
