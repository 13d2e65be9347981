package ffmpeg

import (
	"fmt"
	"path/filepath"
	"strings"
)

// TrimCopyArgs cuts [start,end) with stream copy. Cut points land on
// keyframes, so the result may be approximate; callers fall back to
// TrimEncodeArgs when the copy attempt fails.
func TrimCopyArgs(input string, start, end float64) []string {
	return []string{
		"-ss", formatSeconds(start),
		"-to", formatSeconds(end),
		"-i", input,
		"-c", "copy",
	}
}

// TrimEncodeArgs cuts [start,end) with a precise re-encode.
func TrimEncodeArgs(input string, start, end float64) []string {
	args := []string{
		"-ss", formatSeconds(start),
		"-to", formatSeconds(end),
		"-i", input,
	}
	return append(args, EncodeArgs()...)
}

// SpeedArgs retimes video with setpts and audio with an atempo chain.
func SpeedArgs(input string, factor float64) []string {
	args := []string{
		"-i", input,
		"-filter:v", SetptsFilter(factor),
		"-filter:a", strings.Join(AtempoChain(factor), ","),
	}
	return append(args, EncodeArgs()...)
}

// SetptsFilter returns the video timing filter for a speed factor.
func SetptsFilter(factor float64) string {
	return fmt.Sprintf("setpts=%s*PTS", formatSeconds(1.0/factor))
}

// AtempoChain breaks a speed factor into atempo steps. A single atempo
// filter only supports 0.5–2.0, so factors outside that range are chained.
func AtempoChain(factor float64) []string {
	var chain []string
	remaining := factor
	for remaining > 2.0+1e-6 {
		chain = append(chain, "atempo=2.0")
		remaining /= 2.0
	}
	for remaining < 0.5-1e-6 {
		chain = append(chain, "atempo=0.5")
		remaining *= 2.0
	}
	chain = append(chain, fmt.Sprintf("atempo=%.6f", remaining))
	return chain
}

// Rotate transpose values, matching ffmpeg's transpose filter.
const (
	TransposeCW      = 1 // 90° clockwise
	TransposeCCW     = 2 // 90° counterclockwise
	TransposeCWFlip  = 0 // 90° clockwise + vertical flip
	TransposeCCWFlip = 3 // 90° counterclockwise + vertical flip
)

// RotateArgs rotates video in 90° steps. Audio is copied untouched.
func RotateArgs(input string, transpose int) []string {
	args := []string{
		"-i", input,
		"-vf", fmt.Sprintf("transpose=%d", transpose),
	}
	return append(args, VideoEncodeArgs()...)
}

// RemoveAudioArgs strips all audio streams with a pure stream copy.
func RemoveAudioArgs(input string) []string {
	return []string{
		"-i", input,
		"-c:v", "copy",
		"-an",
	}
}

// ExportArgs re-encodes to a portable H.264/AAC file.
func ExportArgs(input string) []string {
	return append([]string{"-i", input}, EncodeArgs()...)
}

// ExtractWAVArgs extracts mono 16 kHz audio, the input format expected by
// the transcriber.
func ExtractWAVArgs(input string) []string {
	return []string{
		"-i", input,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
	}
}

// DrawtextOptions configures a drawtext overlay.
type DrawtextOptions struct {
	Text       string
	FontFamily string
	FontFile   string
	FontSize   int
	ColorR     int
	ColorG     int
	ColorB     int
	Position   string // "top" or "bottom"
	Boxed      bool
}

// DrawtextFilter builds a drawtext filter with the text centered
// horizontally and pinned to the top or bottom edge.
func (o DrawtextOptions) DrawtextFilter() string {
	size := o.FontSize
	if size <= 0 {
		size = 32
	}

	var b strings.Builder
	b.WriteString("drawtext=")
	if o.FontFile != "" {
		fmt.Fprintf(&b, "fontfile='%s':", o.FontFile)
	} else if o.FontFamily != "" {
		fmt.Fprintf(&b, "font='%s':", escapeFilterValue(o.FontFamily))
	}
	fmt.Fprintf(&b, "text='%s':fontsize=%d:", EscapeDrawtext(o.Text), size)
	if o.ColorR == 0 && o.ColorG == 0 && o.ColorB == 0 {
		b.WriteString("fontcolor=white:")
	} else {
		fmt.Fprintf(&b, "fontcolor=rgba(%d,%d,%d,1):", o.ColorR, o.ColorG, o.ColorB)
	}
	if o.Boxed {
		b.WriteString("box=1:boxcolor=black@0.45:boxborderw=8:")
	} else {
		b.WriteString("shadowcolor=black:shadowx=2:shadowy=2:")
	}
	b.WriteString("x=(w-text_w)/2:")
	if o.Position == "top" {
		b.WriteString("y=10")
	} else {
		b.WriteString("y=h-text_h-40")
	}
	return b.String()
}

// EscapeDrawtext escapes text for safe use inside a drawtext value.
func EscapeDrawtext(text string) string {
	r := strings.NewReplacer(
		"\\", "/",
		"'", `\\'`,
		":", `\:`,
	)
	return r.Replace(text)
}

func escapeFilterValue(s string) string {
	return strings.ReplaceAll(s, ":", `\:`)
}

// SubtitlesFilter burns an SRT file into the video stream. The style string
// is an ASS force_style block; empty means player defaults.
func SubtitlesFilter(srtPath, style string) string {
	p := filepath.ToSlash(srtPath)
	if style == "" {
		return fmt.Sprintf("subtitles='%s'", p)
	}
	return fmt.Sprintf("subtitles='%s':force_style='%s'", p, style)
}

// DefaultSubtitleStyle is the caption burn style used when none is configured.
const DefaultSubtitleStyle = "FontSize=24,PrimaryColour=&HFFFFFF&,OutlineColour=&H000000&,BorderStyle=3,Outline=2,Alignment=2"

// SegmentFilters builds the video/audio filter chains that apply a trim
// window and speed factor to one clip. Both chains reset timestamps so
// segments concatenate cleanly. Empty chains come back as the identity
// filters "null"/"anull".
func SegmentFilters(trimIn, trimOut, speed float64) (vf string, af string) {
	var v, a []string

	if trimIn > 0 || trimOut > 0 {
		if trimOut > 0 {
			v = append(v, fmt.Sprintf("trim=start=%s:end=%s", formatSeconds(trimIn), formatSeconds(trimOut)), "setpts=PTS-STARTPTS")
			a = append(a, fmt.Sprintf("atrim=start=%s:end=%s", formatSeconds(trimIn), formatSeconds(trimOut)), "asetpts=PTS-STARTPTS")
		} else {
			v = append(v, fmt.Sprintf("trim=start=%s", formatSeconds(trimIn)), "setpts=PTS-STARTPTS")
			a = append(a, fmt.Sprintf("atrim=start=%s", formatSeconds(trimIn)), "asetpts=PTS-STARTPTS")
		}
	}

	if speed > 0 && abs(speed-1.0) > 1e-6 {
		v = append(v, SetptsFilter(speed))
		a = append(a, AtempoChain(speed)...)
	}

	vf = "null"
	if len(v) > 0 {
		vf = strings.Join(v, ",")
	}
	af = "anull"
	if len(a) > 0 {
		af = strings.Join(a, ",")
	}
	return vf, af
}

// ConcatArgs joins pre-rendered segments listed in a concat demuxer file.
func ConcatArgs(listFile string, reencode bool) []string {
	args := []string{
		"-f", "concat",
		"-safe", "0",
		"-i", listFile,
	}
	if reencode {
		return append(args, EncodeArgs()...)
	}
	return append(args, "-c", "copy")
}

// Image adjustment filters. Image sessions ride the same renderer; each op
// maps onto a single-frame filter chain.
func GrayscaleFilter() string { return "hue=s=0" }

func SepiaFilter() string {
	return "colorchannelmixer=.393:.769:.189:0:.349:.686:.168:0:.272:.534:.131"
}

func BlurFilter(sigma float64) string {
	if sigma <= 0 {
		sigma = 2
	}
	return fmt.Sprintf("gblur=sigma=%s", formatSeconds(sigma))
}

// BrightnessContrastFilter adjusts exposure. Brightness is -1..1,
// contrast is a multiplier around 1.0.
func BrightnessContrastFilter(brightness, contrast float64) string {
	return fmt.Sprintf("eq=brightness=%s:contrast=%s", formatSeconds(brightness), formatSeconds(contrast))
}

// HueShiftFilter rotates hue by degrees (-180..180).
func HueShiftFilter(degrees float64) string {
	return fmt.Sprintf("hue=h=%s", formatSeconds(degrees))
}

func FlipHorizontalFilter() string { return "hflip" }
func FlipVerticalFilter() string   { return "vflip" }

func ScaleFilter(width, height int) string {
	return fmt.Sprintf("scale=%d:%d", width, height)
}

// CropFilter cuts a width x height window with its top-left corner at (x, y).
func CropFilter(width, height, x, y int) string {
	return fmt.Sprintf("crop=%d:%d:%d:%d", width, height, x, y)
}

// FilterArgs wraps a single -vf chain around an input.
func FilterArgs(input, vf string) []string {
	return []string{"-i", input, "-vf", vf}
}

// formatSeconds renders a float without trailing zeros, the way ffmpeg
// arguments are usually written by hand.
func formatSeconds(f float64) string {
	return fmt.Sprintf("%g", f)
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
