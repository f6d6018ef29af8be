// Command diag runs a one-shot pass prediction from a local element file
// and prints the detected passes. Useful for checking station geometry
// and element freshness without starting the daemon.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prismspecs/open-weather-ags/internal/passes"
	"github.com/prismspecs/open-weather-ags/internal/tle"
	"github.com/prismspecs/open-weather-ags/internal/track"
)

func main() {
	var (
		elementsPath = flag.String("elements", "", "path to a raw TLE file")
		lat          = flag.Float64("lat", 52.4862, "station latitude (degrees)")
		lon          = flag.Float64("lon", -1.8904, "station longitude (degrees)")
		alt          = flag.Float64("alt", 140, "station altitude (meters)")
		days         = flag.Int("days", 1, "prediction window (days)")
		maxRange     = flag.Float64("max-range", 2_200_000, "max ground range (meters)")
		buffer       = flag.Int("buffer", 2, "pass buffer (minutes)")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	if *elementsPath == "" {
		fmt.Fprintln(os.Stderr, "usage: diag -elements <tle-file> [satellite names...]")
		os.Exit(1)
	}

	data, err := os.ReadFile(*elementsPath)
	if err != nil {
		fmt.Println("ERROR reading element file:", err)
		os.Exit(1)
	}

	entries, err := tle.Parse(bytes.NewReader(data), logger)
	if err != nil {
		fmt.Println("ERROR parsing elements:", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d element sets\n", len(entries))

	ds := tle.NewDataset(*elementsPath, time.Now().UTC(), entries)

	names := flag.Args()
	if len(names) == 0 {
		for _, e := range entries {
			names = append(names, e.Name)
		}
	}
	targets := make([]passes.Target, len(names))
	for i, n := range names {
		targets[i] = passes.Target{Name: n, Channel: "diag"}
	}

	observer := track.NewObserver(*lat, *lon, *alt)
	detector := passes.NewDetector(observer, passes.Config{
		Step:           time.Minute,
		MaxRangeMeters: *maxRange,
		Buffer:         time.Duration(*buffer) * time.Minute,
	}, logger)

	now := time.Now().UTC().Truncate(time.Minute)
	window := passes.Window{Start: now, End: now.AddDate(0, 0, *days)}
	fmt.Printf("Prediction window: %v → %v\n", window.Start, window.End)

	results := detector.DetectAll(context.Background(), ds, targets, window)

	total := 0
	for _, res := range results {
		if res.Err != nil {
			fmt.Printf("  %s: ERROR %v\n", res.Target.Name, res.Err)
			continue
		}
		fmt.Printf("  %s: %d passes\n", res.Target.Name, len(res.Passes))
		total += len(res.Passes)
		for j, p := range res.Passes {
			fmt.Printf("    pass %d: start=%v maxEl=%.2f° minRange=%.0fm dur=%dmin\n",
				j, p.StartTime.Format(time.RFC3339), p.MaxElevation, p.MinRange, p.DurationMinutes)
		}
	}
	fmt.Printf("\nTotal passes found: %d\n", total)
}
