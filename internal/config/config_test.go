package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validTOML = `
schedule_path = "/tmp/schedule.json"
log_level = "debug"

[station]
name = "rooftop"
latitude = 52.52
longitude = 13.405
altitude_m = 40

[elements]
source_urls = ["https://celestrak.org/NORAD/elements/gp.php?GROUP=weather&FORMAT=tle"]
cache_dir = "/tmp/elements"
max_age_hours = 6

[predict]
window_days = 2
step_seconds = 30
max_range_meters = 2000000
buffer_minutes = 3
cron = "15 */2 * * *"

[record]
passes_per_day = 3
tick_seconds = 10
command = "rtl_fm"
args = ["-f", "{channel}", "{output}"]
output_dir = "/tmp/recordings"

[api]
addr = ":9090"

[[satellites]]
name = "NOAA 19"
channel = "137.1M"

[[satellites]]
name = "METEOR-M2 3"
channel = "137.9M"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadValid(t *testing.T) {
	cfg, err := Load(writeConfig(t, validTOML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Station.Latitude != 52.52 {
		t.Errorf("latitude = %f", cfg.Station.Latitude)
	}
	if cfg.Predict.Step() != 30*time.Second {
		t.Errorf("step = %v", cfg.Predict.Step())
	}
	if cfg.Predict.Buffer() != 3*time.Minute {
		t.Errorf("buffer = %v", cfg.Predict.Buffer())
	}
	if cfg.Record.Tick() != 10*time.Second {
		t.Errorf("tick = %v", cfg.Record.Tick())
	}
	if cfg.Elements.MaxAge() != 6*time.Hour {
		t.Errorf("max age = %v", cfg.Elements.MaxAge())
	}
	if len(cfg.Satellites) != 2 || cfg.Satellites[1].Channel != "137.9M" {
		t.Errorf("satellites = %+v", cfg.Satellites)
	}
	// Defaults survive for unset fields.
	if cfg.Elements.MaxFiles != 5 {
		t.Errorf("max_files default = %d", cfg.Elements.MaxFiles)
	}
	if !cfg.Elements.EnableFetch {
		t.Error("enable_fetch should default to true")
	}
}

func TestLoadMinimalUsesDefaults(t *testing.T) {
	minimal := `
[station]
latitude = 40.7
longitude = -74.0

[elements]
source_urls = ["https://example.com/elements.txt"]

[record]
command = "rtl_fm"

[[satellites]]
name = "NOAA 19"
channel = "137.1M"
`
	cfg, err := Load(writeConfig(t, minimal))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Predict.StepSeconds != 60 {
		t.Errorf("step default = %d", cfg.Predict.StepSeconds)
	}
	if cfg.Predict.MaxRangeMeters != 2_200_000 {
		t.Errorf("max range default = %f", cfg.Predict.MaxRangeMeters)
	}
	if cfg.Predict.CronSpec != "0 * * * *" {
		t.Errorf("cron default = %q", cfg.Predict.CronSpec)
	}
	if cfg.Record.PassesPerDay != 2 {
		t.Errorf("passes_per_day default = %d", cfg.Record.PassesPerDay)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("log_level default = %q", cfg.LogLevel)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeConfig(t, validTOML+"\nbogus_key = 1\n"))
	if err == nil || !strings.Contains(err.Error(), "unknown config keys") {
		t.Fatalf("expected unknown-key error, got: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidateFailures(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad latitude", func(c *Config) { c.Station.Latitude = 91 }, "latitude"},
		{"bad longitude", func(c *Config) { c.Station.Longitude = -181 }, "longitude"},
		{"no satellites", func(c *Config) { c.Satellites = nil }, "satellite"},
		{"satellite without name", func(c *Config) { c.Satellites[0].Name = "" }, "no name"},
		{"satellite without channel", func(c *Config) { c.Satellites[0].Channel = "" }, "no channel"},
		{"fetch without sources", func(c *Config) { c.Elements.SourceURLs = nil }, "source_urls"},
		{"zero step", func(c *Config) { c.Predict.StepSeconds = 0 }, "step_seconds"},
		{"negative range", func(c *Config) { c.Predict.MaxRangeMeters = -1 }, "max_range_meters"},
		{"negative buffer", func(c *Config) { c.Predict.BufferMinutes = -1 }, "buffer_minutes"},
		{"zero passes per day", func(c *Config) { c.Record.PassesPerDay = 0 }, "passes_per_day"},
		{"no command", func(c *Config) { c.Record.Command = "" }, "command"},
		{"auth without token", func(c *Config) { c.API.AuthEnabled = true; c.API.AuthToken = "" }, "auth_token"},
		{"no schedule path", func(c *Config) { c.SchedulePath = "" }, "schedule_path"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, validTOML))
			if err != nil {
				t.Fatalf("base config should load: %v", err)
			}
			tc.mutate(&cfg)
			err = cfg.validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}
