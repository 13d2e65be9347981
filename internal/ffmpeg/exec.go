package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const (
	maxStderrBytes = 8 * 1024 // 8 KB tail of stderr kept for diagnostics
)

// Config holds the executor's configuration.
type Config struct {
	FFmpegPath  string        // path to ffmpeg binary; empty = auto-detect
	FFprobePath string        // path to ffprobe binary; empty = auto-detect
	Timeout     time.Duration // timeout applied to each render
	Logger      *slog.Logger
	DebugPaths  bool // if true, log full file paths; otherwise sanitise
}

// DefaultConfig returns production-ready defaults.
func DefaultConfig(logger *slog.Logger) Config {
	return Config{
		Timeout: 30 * time.Minute,
		Logger:  logger,
	}
}

// Executor is the production implementation of Renderer.
type Executor struct {
	cfg     Config
	ffmpeg  string // resolved ffmpeg path
	ffprobe string // resolved ffprobe path
}

// NewExecutor creates an Executor, resolving the ffmpeg and ffprobe binaries.
func NewExecutor(cfg Config) (*Executor, error) {
	ffmpegPath, err := resolveBinary(cfg.FFmpegPath, "ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("cannot locate ffmpeg: %w", err)
	}

	ffprobePath, err := resolveBinary(cfg.FFprobePath, "ffprobe")
	if err != nil {
		return nil, fmt.Errorf("cannot locate ffprobe: %w", err)
	}

	cfg.Logger.Info("renderer initialised",
		"ffmpeg", ffmpegPath,
		"ffprobe", ffprobePath,
		"timeout", cfg.Timeout.String(),
	)

	return &Executor{cfg: cfg, ffmpeg: ffmpegPath, ffprobe: ffprobePath}, nil
}

// Render executes one ffmpeg invocation. The output path is appended as the
// final argument; `-fflags +genpts -avoid_negative_ts make_zero` keeps
// timestamps sane across trim and concat operations.
func (e *Executor) Render(ctx context.Context, outPath string, args ...string) RunResult {
	start := time.Now()

	if outPath != "" {
		if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
			e.cfg.Logger.Error("cannot create output dir", "error", err)
			return RunResult{ExitCode: -1, StderrTail: err.Error(), Duration: time.Since(start)}
		}
	}

	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	cmdArgs := []string{"-hide_banner", "-y", "-fflags", "+genpts", "-avoid_negative_ts", "make_zero"}
	cmdArgs = append(cmdArgs, args...)
	if outPath != "" {
		cmdArgs = append(cmdArgs, outPath)
	}

	cmd := exec.CommandContext(ctx, e.ffmpeg, cmdArgs...)

	// Capture stderr with bounded buffer
	var stderrBuf bytes.Buffer
	cmd.Stderr = io.Writer(&limitedWriter{w: &stderrBuf, limit: maxStderrBytes})
	cmd.Stdout = io.Discard

	e.cfg.Logger.Debug("executing render command", "args", cmdArgs)

	err := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	stderrTail := stderrBuf.String()

	if exitCode != 0 {
		e.cfg.Logger.Warn("render command failed",
			"exit_code", exitCode,
			"duration_ms", elapsed.Milliseconds(),
			"stderr_tail", truncate(stderrTail, 512),
		)
	} else {
		e.cfg.Logger.Info("render command succeeded",
			"duration_ms", elapsed.Milliseconds(),
			"output", e.safePath(outPath),
		)
	}

	return RunResult{
		ExitCode:   exitCode,
		OutputPath: outPath,
		StderrTail: stderrTail,
		Duration:   elapsed,
	}
}

func (e *Executor) safePath(path string) string {
	if e.cfg.DebugPaths {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Base(path)
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return filepath.Base(path)
}

// resolveBinary finds a usable binary, preferring the configured path.
func resolveBinary(preferred, name string) (string, error) {
	if preferred != "" {
		if p, err := exec.LookPath(preferred); err == nil {
			return p, nil
		}
		return "", fmt.Errorf("configured %s %q not found", name, preferred)
	}
	if p, err := exec.LookPath(name); err == nil {
		return p, nil
	}
	return "", fmt.Errorf("%s not found on PATH", name)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		// Keep only the tail
		b := lw.w.Bytes()
		lw.w.Reset()
		lw.w.Write(b[len(b)-lw.limit:])
	}
	return n, nil
}
