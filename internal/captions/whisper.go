package captions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/clipbench/clipbench-agent/internal/timeline"
)

const maxStderrBytes = 8 * 1024

// Transcriber produces caption segments for an extracted audio file.
type Transcriber interface {
	Transcribe(ctx context.Context, wavPath string) ([]timeline.CaptionSegment, error)
}

// Config holds the whisper transcriber's configuration.
type Config struct {
	WhisperPath string        // path to whisper binary; empty = auto-detect
	Model       string        // model size, e.g. "tiny", "base"
	Timeout     time.Duration // timeout per transcription
	Logger      *slog.Logger
}

// WhisperRunner executes the whisper CLI as a subprocess and parses its
// JSON output. English-only transcription, matching the caption feature.
type WhisperRunner struct {
	cfg     Config
	whisper string // resolved binary path
}

// NewWhisperRunner creates a WhisperRunner, resolving the whisper binary.
// A missing binary is an error; callers treat it as "captions unavailable"
// rather than fatal.
func NewWhisperRunner(cfg Config) (*WhisperRunner, error) {
	preferred := cfg.WhisperPath
	if preferred == "" {
		preferred = "whisper"
	}
	path, err := exec.LookPath(preferred)
	if err != nil {
		return nil, fmt.Errorf("whisper binary not found: %w", err)
	}

	if cfg.Model == "" {
		cfg.Model = "tiny"
	}

	cfg.Logger.Info("transcriber initialised", "whisper", path, "model", cfg.Model)
	return &WhisperRunner{cfg: cfg, whisper: path}, nil
}

// Transcribe runs whisper over a mono 16 kHz WAV and returns its segments.
func (w *WhisperRunner) Transcribe(ctx context.Context, wavPath string) ([]timeline.CaptionSegment, error) {
	outDir, err := os.MkdirTemp("", "clipbench-whisper-")
	if err != nil {
		return nil, fmt.Errorf("cannot create transcription dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	if w.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.Timeout)
		defer cancel()
	}

	args := []string{
		wavPath,
		"--model", w.cfg.Model,
		"--language", "en",
		"--task", "transcribe",
		"--output_format", "json",
		"--output_dir", outDir,
	}

	cmd := exec.CommandContext(ctx, w.whisper, args...)

	var stderrBuf bytes.Buffer
	cmd.Stderr = &tailWriter{w: &stderrBuf, limit: maxStderrBytes}
	cmd.Stdout = io.Discard

	start := time.Now()
	w.cfg.Logger.Info("executing transcription", "model", w.cfg.Model)

	if err := cmd.Run(); err != nil {
		exitCode := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		return nil, fmt.Errorf("whisper exited %d: %s", exitCode, tailString(stderrBuf.String(), 512))
	}

	jsonPath := filepath.Join(outDir, strings.TrimSuffix(filepath.Base(wavPath), filepath.Ext(wavPath))+".json")
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return nil, fmt.Errorf("cannot read transcription output: %w", err)
	}

	segments, err := ParseWhisperJSON(data)
	if err != nil {
		return nil, err
	}

	w.cfg.Logger.Info("transcription complete",
		"segments", len(segments),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return segments, nil
}

type whisperSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type whisperOutput struct {
	Text     string           `json:"text"`
	Segments []whisperSegment `json:"segments"`
}

// ParseWhisperJSON converts whisper's JSON output into caption segments,
// dropping empty-text entries.
func ParseWhisperJSON(data []byte) ([]timeline.CaptionSegment, error) {
	var out whisperOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("cannot parse transcription JSON: %w", err)
	}

	var segments []timeline.CaptionSegment
	for _, s := range out.Segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		segments = append(segments, timeline.CaptionSegment{
			Start: s.Start,
			End:   s.End,
			Text:  text,
		})
	}
	return segments, nil
}

// StubTranscriber returns canned segments for tests.
type StubTranscriber struct {
	Segments []timeline.CaptionSegment
	Err      error
}

func (s *StubTranscriber) Transcribe(ctx context.Context, wavPath string) ([]timeline.CaptionSegment, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Segments, nil
}

func tailString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// tailWriter keeps only the last `limit` bytes written.
type tailWriter struct {
	w     *bytes.Buffer
	limit int
}

func (tw *tailWriter) Write(p []byte) (int, error) {
	n := len(p)
	tw.w.Write(p)
	if tw.w.Len() > tw.limit {
		b := tw.w.Bytes()
		tw.w.Reset()
		tw.w.Write(b[len(b)-tw.limit:])
	}
	return n, nil
}
