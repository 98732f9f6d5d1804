package flash

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/probelab/daplog/internal/probe"
)

// Default pyocd settings, used when neither the request nor the config
// overrides them.
const (
	DefaultTarget    = "EFR32FG28B322F1024IM48"
	DefaultFrequency = "20M"
	DefaultTimeout   = 180 * time.Second
)

// Engine is the slice of the serial engine the flasher depends on: port
// lookup plus the pause handshake that frees the device for pyocd.
type Engine interface {
	Port(identity string) (probe.Port, error)
	RequestPause(ctx context.Context, identity string) error
	Resume(identity string)
}

// Logger defines the logging interface for the flasher.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config holds flasher settings. Zero values get defaults in NewFlasher.
type Config struct {
	// PyOCDPath is the pyocd executable, resolved via PATH when bare.
	PyOCDPath string

	// Target is the default target part number passed to pyocd -t.
	Target string

	// Frequency is the default SWD clock passed to pyocd -f (e.g. "20M").
	Frequency string

	// Timeout bounds one pyocd invocation.
	Timeout time.Duration
}

// Request describes one flash job.
type Request struct {
	// Identity is the registry ID of the probe to flash through.
	Identity string

	// HexPath is the firmware image on local disk.
	HexPath string

	// Target overrides the configured target part number.
	Target string

	// Frequency overrides the configured SWD clock.
	Frequency string

	// PackPath overrides pack selection; empty picks from the store.
	PackPath string
}

// Result is the outcome of one flash job. Success mirrors the pyocd exit
// status. Error carries stderr even on success because pyocd writes its
// warnings there; Command is the full invocation for display, absent when
// the job failed before one was built.
type Result struct {
	JobID   string `json:"job_id"`
	Success bool   `json:"success"`
	Output  string `json:"output"`
	Error   string `json:"error,omitempty"`
	Command string `json:"command,omitempty"`
}

// Flasher runs pyocd flash jobs against discovered probes.
type Flasher struct {
	engine Engine
	packs  *PackStore
	cfg    Config
	logger Logger

	// runCommand is swapped in tests to avoid a real pyocd.
	runCommand func(ctx context.Context, name string, args ...string) (stdout, stderr string, err error)
}

// NewFlasher wires a flasher to the engine and pack store.
func NewFlasher(engine Engine, packs *PackStore, cfg Config) *Flasher {
	// Apply defaults for zero values
	if cfg.PyOCDPath == "" {
		cfg.PyOCDPath = "pyocd"
	}
	if cfg.Target == "" {
		cfg.Target = DefaultTarget
	}
	if cfg.Frequency == "" {
		cfg.Frequency = DefaultFrequency
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Flasher{
		engine:     engine,
		packs:      packs,
		cfg:        cfg,
		logger:     noopLogger{},
		runCommand: runCommand,
	}
}

// SetLogger sets the logger for the flasher.
func (f *Flasher) SetLogger(logger Logger) {
	f.logger = logger
}

// Flash programs req.HexPath through the probe identified by req.Identity.
// Failures are reported in the Result rather than as an error; every call
// returns a Result with a fresh JobID.
func (f *Flasher) Flash(ctx context.Context, req Request) Result {
	res := Result{JobID: "flash-" + uuid.NewString()[:8]}

	port, err := f.engine.Port(req.Identity)
	if err != nil {
		res.Error = fmt.Sprintf("port %q not found", req.Identity)
		return res
	}
	if port.SerialNumber == "" {
		// pyocd -u addresses a specific probe by serial number. Without
		// one the flash could land on the wrong board.
		res.Error = fmt.Sprintf("port %q has no serial number", req.Identity)
		return res
	}

	target := req.Target
	if target == "" {
		target = f.cfg.Target
	}
	frequency := req.Frequency
	if frequency == "" {
		frequency = f.cfg.Frequency
	}
	pack := req.PackPath
	if pack == "" && f.packs != nil {
		pack = f.packs.FindForTarget(target)
	}

	args := []string{"flash", req.HexPath, "-t", target, "-u", port.SerialNumber, "-f", frequency}
	if pack != "" {
		args = append(args, "--pack", pack)
	}
	res.Command = f.cfg.PyOCDPath + " " + strings.Join(args, " ")

	f.logger.Info("starting flash",
		"job_id", res.JobID,
		"port", req.Identity,
		"target", target,
		"firmware", req.HexPath,
		"pack", pack,
	)

	pauseErr := f.engine.RequestPause(ctx, req.Identity)
	switch {
	case pauseErr == nil:
	case errors.Is(pauseErr, probe.ErrPauseAckTimeout):
		// The reader did not park in time. Proceed; pyocd contends with
		// the reader for the device and usually wins the claim.
		f.logger.Warn("pause not acknowledged, flashing anyway",
			"job_id", res.JobID,
			"port", req.Identity,
		)
	case errors.Is(pauseErr, probe.ErrPauseActive):
		// Another job holds the pause. Resuming here would release the
		// other job's reader mid-flash, so fail without touching it.
		res.Error = fmt.Sprintf("another flash is already in progress for %q", req.Identity)
		return res
	default:
		// The handshake was abandoned (context cancelled) but the request
		// may still be registered; clear it so the reader does not park
		// for a job that no longer exists.
		f.engine.Resume(req.Identity)
		res.Error = fmt.Sprintf("pausing serial reader: %v", pauseErr)
		return res
	}
	defer f.engine.Resume(req.Identity)

	runCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	stdout, stderr, runErr := f.runCommand(runCtx, f.cfg.PyOCDPath, args...)
	res.Output = stdout
	res.Error = stderr

	switch {
	case runErr == nil:
		res.Success = true
		f.logger.Info("flash succeeded", "job_id", res.JobID, "port", req.Identity)
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		res.Error = fmt.Sprintf("flash timeout (%gs)", f.cfg.Timeout.Seconds())
		f.logger.Error("flash timed out",
			"job_id", res.JobID,
			"port", req.Identity,
			"timeout", f.cfg.Timeout,
		)
	case errors.Is(runErr, exec.ErrNotFound):
		res.Error = "pyocd not found"
		f.logger.Error("pyocd binary not found",
			"job_id", res.JobID,
			"path", f.cfg.PyOCDPath,
		)
	default:
		if res.Error == "" {
			res.Error = runErr.Error()
		}
		f.logger.Error("flash failed",
			"job_id", res.JobID,
			"port", req.Identity,
			"error", runErr,
		)
	}
	return res
}

// runCommand executes name with args and returns the captured stdout and
// stderr.
func runCommand(ctx context.Context, name string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec // binary path comes from server config, not request input
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}
