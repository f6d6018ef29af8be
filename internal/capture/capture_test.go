package capture

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRequest() Request {
	return Request{
		Satellite: "NOAA 19",
		Channel:   "137.1M",
		StartTime: time.Date(2026, 3, 2, 14, 5, 0, 0, time.UTC),
		Duration:  12 * time.Minute,
	}
}

func TestExpandPlaceholders(t *testing.T) {
	req := testRequest()
	out := "/tmp/x.wav"

	tests := []struct {
		arg  string
		want string
	}{
		{"{satellite}", "NOAA 19"},
		{"{channel}", "137.1M"},
		{"{minutes}", "12"},
		{"{output}", "/tmp/x.wav"},
		{"-f {channel} -d {minutes}", "-f 137.1M -d 12"},
		{"plain", "plain"},
	}

	for _, tc := range tests {
		if got := expand(tc.arg, req, out); got != tc.want {
			t.Errorf("expand(%q) = %q, want %q", tc.arg, got, tc.want)
		}
	}
}

func TestOutputName(t *testing.T) {
	req := testRequest()
	if got := outputName(req); got != "NOAA-19_20260302T1405Z.wav" {
		t.Errorf("outputName = %q", got)
	}

	req.Satellite = " METEOR-M2/3 "
	if got := outputName(req); got != "METEOR-M2-3_20260302T1405Z.wav" {
		t.Errorf("outputName with slash = %q", got)
	}
}

func TestCommandRecorderRunsCommand(t *testing.T) {
	dir := t.TempDir()
	r := NewCommandRecorder("sh", []string{"-c", "echo {satellite} > {output}"}, dir, testLogger())

	if err := r.Record(context.Background(), testRequest()); err != nil {
		t.Fatalf("Record: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "NOAA-19_20260302T1405Z.wav"))
	if err != nil {
		t.Fatalf("expected output file: %v", err)
	}
	if string(data) != "NOAA 19\n" {
		t.Errorf("output content = %q", data)
	}
}

func TestCommandRecorderDeadlineIsNormalEnd(t *testing.T) {
	r := NewCommandRecorder("sleep", []string{"10"}, t.TempDir(), testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	if err := r.Record(ctx, testRequest()); err != nil {
		t.Fatalf("deadline kill should not be an error, got: %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("command outlived the deadline")
	}
}

func TestCommandRecorderFailure(t *testing.T) {
	r := NewCommandRecorder("sh", []string{"-c", "exit 3"}, t.TempDir(), testLogger())
	if err := r.Record(context.Background(), testRequest()); err == nil {
		t.Fatal("expected error for failing command")
	}
}
