package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	ffmpeggo "github.com/u2takey/ffmpeg-go"
)

// Probe inspects a media file via ffprobe and returns parsed metadata. The
// binary resolved at construction is executed directly, so a configured
// ffprobe path wins over whatever sits on PATH.
func (e *Executor) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	timeout := e.cfg.Timeout
	if timeout <= 0 || timeout > time.Minute {
		timeout = time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := ffmpeggo.ConvertKwargsToCmdLineArgs(ffmpeggo.KwArgs{
		"show_format":  "",
		"show_streams": "",
		"of":           "json",
	})
	args = append(args, path)

	cmd := exec.CommandContext(ctx, e.ffprobe, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &limitedWriter{w: &stderr, limit: maxStderrBytes}

	if err := cmd.Run(); err != nil {
		tail := strings.TrimSpace(stderr.String())
		if tail != "" {
			return nil, fmt.Errorf("probe failed for %s: [%s] %w", e.safePath(path), truncate(tail, 512), err)
		}
		return nil, fmt.Errorf("probe failed for %s: %w", e.safePath(path), err)
	}

	result, err := parseProbeJSON(stdout.String())
	if err != nil {
		return nil, fmt.Errorf("cannot parse probe output for %s: %w", e.safePath(path), err)
	}
	return result, nil
}

type probeStream struct {
	CodecType  string `json:"codec_type"`
	CodecName  string `json:"codec_name"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	RFrameRate string `json:"r_frame_rate"`
}

type probeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	BitRate    string `json:"bit_rate"`
}

type probePayload struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

func parseProbeJSON(data string) (*ProbeResult, error) {
	var payload probePayload
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return nil, err
	}

	result := &ProbeResult{Format: payload.Format.FormatName}

	if payload.Format.Duration != "" {
		d, err := strconv.ParseFloat(payload.Format.Duration, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid duration %q", payload.Format.Duration)
		}
		result.Duration = d
	}
	if payload.Format.BitRate != "" {
		if br, err := strconv.ParseInt(payload.Format.BitRate, 10, 64); err == nil {
			result.Bitrate = br
		}
	}

	for _, s := range payload.Streams {
		switch s.CodecType {
		case "video":
			if result.Codec == "" {
				result.Codec = s.CodecName
				result.Width = s.Width
				result.Height = s.Height
				result.FrameRate = parseFrameRate(s.RFrameRate)
			}
		case "audio":
			result.HasAudio = true
			if result.AudioCodec == "" {
				result.AudioCodec = s.CodecName
			}
		}
	}

	return result, nil
}

// parseFrameRate evaluates ffprobe's rational frame rate, e.g. "30000/1001".
func parseFrameRate(s string) float64 {
	if s == "" || s == "0/0" {
		return 0
	}
	parts := strings.SplitN(s, "/", 2)
	num, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0
	}
	if len(parts) == 1 {
		return num
	}
	den, err := strconv.ParseFloat(parts[1], 64)
	if err != nil || den == 0 {
		return 0
	}
	return num / den
}
