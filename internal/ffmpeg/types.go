// Package ffmpeg provides subprocess-based execution of ffmpeg render
// commands and ffprobe media inspection with structured result parsing.
package ffmpeg

import (
	"context"
	"strconv"
	"time"
)

// Renderer is the external render contract used throughout the agent.
// Render executes one ffmpeg invocation writing to outPath; Probe inspects
// a media file.
type Renderer interface {
	Render(ctx context.Context, outPath string, args ...string) RunResult
	Probe(ctx context.Context, path string) (*ProbeResult, error)
}

// RunResult is the structured outcome of executing a render subprocess.
type RunResult struct {
	ExitCode   int           `json:"exit_code"`
	OutputPath string        `json:"output_path,omitempty"`
	StderrTail string        `json:"stderr_tail,omitempty"` // last N bytes of stderr
	Duration   time.Duration `json:"duration"`
}

// IsSuccess returns true when the subprocess exited cleanly.
func (r RunResult) IsSuccess() bool { return r.ExitCode == 0 }

// ProbeResult contains metadata about a media file.
type ProbeResult struct {
	Duration   float64
	Width      int
	Height     int
	Codec      string
	Bitrate    int64
	FrameRate  float64
	HasAudio   bool
	AudioCodec string
	Format     string
}

// Default encoding settings for all re-encode paths.
const (
	DefaultCRF          = 18
	DefaultPreset       = "medium"
	DefaultVideoCodec   = "libx264"
	DefaultAudioCodec   = "aac"
	DefaultAudioBitrate = "192k"
)

// EncodeArgs returns the standard H.264/AAC encoding argument block.
func EncodeArgs() []string {
	return []string{
		"-c:v", DefaultVideoCodec, "-preset", DefaultPreset, "-crf", strconv.Itoa(DefaultCRF),
		"-c:a", DefaultAudioCodec, "-b:a", DefaultAudioBitrate,
	}
}

// VideoEncodeArgs returns encoding arguments that leave audio untouched.
func VideoEncodeArgs() []string {
	return []string{
		"-c:v", DefaultVideoCodec, "-preset", DefaultPreset, "-crf", strconv.Itoa(DefaultCRF),
		"-c:a", "copy",
	}
}
