// Package capture drives the bounded-duration recording action for a
// scheduled pass. The scheduler only knows Record(params) and that the
// action ends when its duration elapses.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Request carries the activation parameters for one pass.
type Request struct {
	Satellite string
	Channel   string
	StartTime time.Time
	Duration  time.Duration
}

// Recorder starts a recording and returns when it has finished.
// Implementations must respect the context deadline: the scheduler bounds
// every activation by the pass duration.
type Recorder interface {
	Record(ctx context.Context, req Request) error
}

// RecorderFunc adapts a function to the Recorder interface.
type RecorderFunc func(ctx context.Context, req Request) error

// Record calls f.
func (f RecorderFunc) Record(ctx context.Context, req Request) error {
	return f(ctx, req)
}

// CommandRecorder runs an external capture command (e.g. an SDR recorder
// pipeline) for the duration of the pass. Placeholders in the configured
// args are expanded per request:
//
//	{satellite}  satellite name
//	{channel}    channel tag (frequency label)
//	{minutes}    pass duration in whole minutes
//	{output}     generated output file path
type CommandRecorder struct {
	command   string
	args      []string
	outputDir string
	logger    *slog.Logger
}

// NewCommandRecorder creates a CommandRecorder.
func NewCommandRecorder(command string, args []string, outputDir string, logger *slog.Logger) *CommandRecorder {
	return &CommandRecorder{
		command:   command,
		args:      args,
		outputDir: outputDir,
		logger:    logger,
	}
}

// Record launches the capture command and waits for it to finish. The
// command being killed at the context deadline is the normal end of a
// bounded capture, not an error.
func (r *CommandRecorder) Record(ctx context.Context, req Request) error {
	if err := os.MkdirAll(r.outputDir, 0755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}

	output := filepath.Join(r.outputDir, outputName(req))
	args := make([]string, len(r.args))
	for i, a := range r.args {
		args[i] = expand(a, req, output)
	}

	r.logger.Info("capture starting",
		"satellite", req.Satellite,
		"channel", req.Channel,
		"duration_min", int(req.Duration.Minutes()),
		"output", output,
	)

	cmd := exec.CommandContext(ctx, r.command, args...)
	err := cmd.Run()

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		// The pass duration elapsed and the process was terminated.
		r.logger.Info("capture complete", "satellite", req.Satellite, "output", output)
		return nil
	}
	if err != nil {
		return fmt.Errorf("capture command: %w", err)
	}

	r.logger.Info("capture complete", "satellite", req.Satellite, "output", output)
	return nil
}

func expand(arg string, req Request, output string) string {
	arg = strings.ReplaceAll(arg, "{satellite}", req.Satellite)
	arg = strings.ReplaceAll(arg, "{channel}", req.Channel)
	arg = strings.ReplaceAll(arg, "{minutes}", strconv.Itoa(int(req.Duration.Minutes())))
	arg = strings.ReplaceAll(arg, "{output}", output)
	return arg
}

// outputName builds a filesystem-safe file name from the satellite name
// and pass start time.
func outputName(req Request) string {
	slug := strings.ReplaceAll(strings.TrimSpace(req.Satellite), " ", "-")
	slug = strings.ReplaceAll(slug, "/", "-")
	return fmt.Sprintf("%s_%s.wav", slug, req.StartTime.UTC().Format("20060102T1504Z"))
}
