package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prismspecs/open-weather-ags/internal/api"
	"github.com/prismspecs/open-weather-ags/internal/auth"
	"github.com/prismspecs/open-weather-ags/internal/capture"
	"github.com/prismspecs/open-weather-ags/internal/config"
	"github.com/prismspecs/open-weather-ags/internal/cycle"
	"github.com/prismspecs/open-weather-ags/internal/metrics"
	"github.com/prismspecs/open-weather-ags/internal/passes"
	"github.com/prismspecs/open-weather-ags/internal/schedule"
	"github.com/prismspecs/open-weather-ags/internal/tle"
	"github.com/prismspecs/open-weather-ags/internal/track"
)

func main() {
	configPath := flag.String("config", defaultConfigPath(), "path to TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error("config load failed", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))

	if err := cycle.ValidateCronSpec(cfg.Predict.CronSpec); err != nil {
		logger.Error("invalid cycle schedule", "error", err)
		os.Exit(1)
	}

	observer := track.NewObserver(cfg.Station.Latitude, cfg.Station.Longitude, cfg.Station.AltitudeM)
	logger.Info("station configured",
		"name", cfg.Station.Name,
		"latitude", cfg.Station.Latitude,
		"longitude", cfg.Station.Longitude,
		"altitude_m", cfg.Station.AltitudeM,
	)

	elements := tle.NewStore()
	elementsCache := tle.NewCache(cfg.Elements.CacheDir, cfg.Elements.MaxFiles)
	fetcher := tle.NewFetcher(cfg.Elements.SourceURLs, logger)

	detector := passes.NewDetector(observer, passes.Config{
		Step:           cfg.Predict.Step(),
		MaxRangeMeters: cfg.Predict.MaxRangeMeters,
		Buffer:         cfg.Predict.Buffer(),
	}, logger)

	store := schedule.NewStore(cfg.SchedulePath, logger)

	recorder := capture.NewCommandRecorder(cfg.Record.Command, cfg.Record.Args, cfg.Record.OutputDir, logger)
	scheduler := schedule.NewScheduler(store, recorder, schedule.Config{
		PassesPerDay: cfg.Record.PassesPerDay,
		TickInterval: cfg.Record.Tick(),
	}, logger)

	targets := make([]passes.Target, len(cfg.Satellites))
	for i, s := range cfg.Satellites {
		targets[i] = passes.Target{Name: s.Name, Channel: s.Channel}
	}

	runner := cycle.NewRunner(fetcher, elementsCache, elements, detector, store, targets, cycle.Config{
		WindowDays:  cfg.Predict.WindowDays,
		CronSpec:    cfg.Predict.CronSpec,
		MaxAge:      cfg.Elements.MaxAge(),
		EnableFetch: cfg.Elements.EnableFetch,
	}, logger)

	srv := api.NewServer(cfg.API.Addr, logger, auth.Config{
		Enabled: cfg.API.AuthEnabled,
		Token:   cfg.API.AuthToken,
	}, store, scheduler, elements)

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := runner.Start(ctx); err != nil {
			logger.Error("prediction cycle runner stopped", "error", err)
			stop()
		}
	}()

	go scheduler.Run(ctx)

	// Background goroutine to update the element dataset age gauge.
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				age := elements.AgeSeconds()
				if age >= 0 {
					metrics.SetElementsDatasetAge(age)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		logger.Info("starting status server",
			"addr", cfg.API.Addr,
			"auth_enabled", cfg.API.AuthEnabled,
			"fetch_enabled", cfg.Elements.EnableFetch,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server listen error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.HTTPServer().Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("stopped")
}

func defaultConfigPath() string {
	if v := os.Getenv("OPENWEATHER_CONFIG"); v != "" {
		return v
	}
	return "/etc/open-weather/config.toml"
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
