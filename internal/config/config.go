// Package config loads and validates the station configuration from a
// TOML file. The rest of the system receives an already-validated Config.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the validated station configuration.
type Config struct {
	Station    Station     `toml:"station"`
	Elements   Elements    `toml:"elements"`
	Predict    Predict     `toml:"predict"`
	Record     Record      `toml:"record"`
	API        API         `toml:"api"`
	Satellites []Satellite `toml:"satellites"`

	SchedulePath string `toml:"schedule_path"`
	LogLevel     string `toml:"log_level"`
}

// Station is the ground observer location.
type Station struct {
	Name      string  `toml:"name"`
	Latitude  float64 `toml:"latitude"`
	Longitude float64 `toml:"longitude"`
	AltitudeM float64 `toml:"altitude_m"`
}

// Elements configures the orbital-element source.
type Elements struct {
	SourceURLs  []string `toml:"source_urls"`
	CacheDir    string   `toml:"cache_dir"`
	MaxFiles    int      `toml:"max_files"`
	MaxAgeHours int      `toml:"max_age_hours"`
	EnableFetch bool     `toml:"enable_fetch"`
}

// Predict configures the pass detector and cycle schedule.
type Predict struct {
	WindowDays     int     `toml:"window_days"`
	StepSeconds    int     `toml:"step_seconds"`
	MaxRangeMeters float64 `toml:"max_range_meters"`
	BufferMinutes  int     `toml:"buffer_minutes"`
	CronSpec       string  `toml:"cron"`
}

// Record configures the scheduler and the capture command.
type Record struct {
	PassesPerDay int      `toml:"passes_per_day"`
	TickSeconds  int      `toml:"tick_seconds"`
	Command      string   `toml:"command"`
	Args         []string `toml:"args"`
	OutputDir    string   `toml:"output_dir"`
}

// API configures the read-only status HTTP surface.
type API struct {
	Addr        string `toml:"addr"`
	AuthEnabled bool   `toml:"auth_enabled"`
	AuthToken   string `toml:"auth_token"`
}

// Satellite names a tracked satellite and its channel tag.
type Satellite struct {
	Name    string `toml:"name"`
	Channel string `toml:"channel"`
}

// Defaults applied to fields left unset in the file.
func defaults() Config {
	return Config{
		Elements: Elements{
			CacheDir:    "/var/lib/open-weather/elements",
			MaxFiles:    5,
			MaxAgeHours: 12,
			EnableFetch: true,
		},
		Predict: Predict{
			WindowDays:     1,
			StepSeconds:    60,
			MaxRangeMeters: 2_200_000,
			BufferMinutes:  2,
			CronSpec:       "0 * * * *",
		},
		Record: Record{
			PassesPerDay: 2,
			TickSeconds:  30,
			OutputDir:    "/var/lib/open-weather/recordings",
		},
		API: API{
			Addr: ":8080",
		},
		SchedulePath: "/var/lib/open-weather/schedule.json",
		LogLevel:     "info",
	}
}

// Load reads, decodes, and validates the TOML file at path.
func Load(path string) (Config, error) {
	cfg := defaults()

	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("decoding config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("unknown config keys in %s: %v", path, undecoded)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Station.Latitude < -90 || c.Station.Latitude > 90 {
		return fmt.Errorf("station latitude %.4f out of range", c.Station.Latitude)
	}
	if c.Station.Longitude < -180 || c.Station.Longitude > 180 {
		return fmt.Errorf("station longitude %.4f out of range", c.Station.Longitude)
	}
	if len(c.Satellites) == 0 {
		return fmt.Errorf("at least one satellite must be configured")
	}
	for i, s := range c.Satellites {
		if s.Name == "" {
			return fmt.Errorf("satellite %d has no name", i)
		}
		if s.Channel == "" {
			return fmt.Errorf("satellite %q has no channel", s.Name)
		}
	}
	if c.Elements.EnableFetch && len(c.Elements.SourceURLs) == 0 {
		return fmt.Errorf("element fetch enabled but no source_urls configured")
	}
	if c.Predict.StepSeconds < 1 {
		return fmt.Errorf("predict step_seconds must be >= 1")
	}
	if c.Predict.MaxRangeMeters <= 0 {
		return fmt.Errorf("predict max_range_meters must be positive")
	}
	if c.Predict.BufferMinutes < 0 {
		return fmt.Errorf("predict buffer_minutes must be >= 0")
	}
	if c.Record.PassesPerDay < 1 {
		return fmt.Errorf("record passes_per_day must be >= 1")
	}
	if c.Record.Command == "" {
		return fmt.Errorf("record command must be set")
	}
	if c.API.AuthEnabled && c.API.AuthToken == "" {
		return fmt.Errorf("api auth enabled but no auth_token configured")
	}
	if c.SchedulePath == "" {
		return fmt.Errorf("schedule_path must be set")
	}
	return nil
}

// Step returns the detection grid step.
func (p Predict) Step() time.Duration {
	return time.Duration(p.StepSeconds) * time.Second
}

// Buffer returns the symmetric pass buffer.
func (p Predict) Buffer() time.Duration {
	return time.Duration(p.BufferMinutes) * time.Minute
}

// Tick returns the scheduler tick interval.
func (r Record) Tick() time.Duration {
	return time.Duration(r.TickSeconds) * time.Second
}

// MaxAge returns the element staleness threshold.
func (e Elements) MaxAge() time.Duration {
	return time.Duration(e.MaxAgeHours) * time.Hour
}
