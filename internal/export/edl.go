// Package export generates interchange artifacts from the project
// timeline, currently a CMX3600-style EDL cut list.
package export

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/clipbench/clipbench-agent/internal/timeline"
)

// DefaultFPS is the timecode rate used when none is configured.
const DefaultFPS = 30

// Options configures EDL generation.
type Options struct {
	Title string
	FPS   int
}

// GenerateEDL renders the clip list as a CMX3600-style edit decision list.
// Source in/out come from the trim window; record in/out accumulate the
// speed-adjusted timeline positions. Non-unit speeds emit an M2 motion memo.
func GenerateEDL(clips []timeline.Clip, opts Options) string {
	fps := opts.FPS
	if fps <= 0 {
		fps = DefaultFPS
	}
	title := opts.Title
	if title == "" {
		title = "UNTITLED"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "TITLE: %s\n", strings.ToUpper(SanitizeName(title)))
	b.WriteString("FCM: NON-DROP FRAME\n\n")

	record := 0.0
	for i, clip := range clips {
		srcIn := clip.TrimIn
		srcOut := clip.EffectiveEnd()
		recOut := record + clip.TimelineLen()

		fmt.Fprintf(&b, "%03d  AX       V     C        %s %s %s %s\n",
			i+1,
			Timecode(srcIn, fps), Timecode(srcOut, fps),
			Timecode(record, fps), Timecode(recOut, fps))
		if clip.Speed != 1.0 && clip.Speed > 0 {
			fmt.Fprintf(&b, "M2   AX       %.1f                 %s\n",
				clip.Speed*float64(fps), Timecode(srcIn, fps))
		}
		fmt.Fprintf(&b, "* FROM CLIP NAME: %s\n\n", filepath.Base(clip.Path))

		record = recOut
	}
	return b.String()
}

// Timecode formats seconds as HH:MM:SS:FF at the given frame rate.
func Timecode(sec float64, fps int) string {
	if sec < 0 {
		sec = 0
	}
	totalFrames := int(math.Round(sec * float64(fps)))
	frames := totalFrames % fps
	totalSec := totalFrames / fps
	h := totalSec / 3600
	m := (totalSec % 3600) / 60
	s := totalSec % 60
	return fmt.Sprintf("%02d:%02d:%02d:%02d", h, m, s, frames)
}

// SanitizeName strips characters that are unsafe in file names and EDL
// titles, collapsing runs of them to single underscores.
func SanitizeName(name string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '.', r == ' ':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return "untitled"
	}
	return out
}

// ValidateOutputDir checks that dir exists and is writable.
func ValidateOutputDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("output directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("output path is not a directory: %s", dir)
	}
	probe := filepath.Join(dir, ".clipbench-write-test")
	f, err := os.Create(probe)
	if err != nil {
		return fmt.Errorf("output directory is not writable: %w", err)
	}
	f.Close()
	os.Remove(probe)
	return nil
}

// WriteEDL generates the EDL and writes it next to the given name in dir.
func WriteEDL(clips []timeline.Clip, dir, name string, opts Options) (string, error) {
	if err := ValidateOutputDir(dir); err != nil {
		return "", err
	}
	path := filepath.Join(dir, SanitizeName(name)+".edl")
	if err := os.WriteFile(path, []byte(GenerateEDL(clips, opts)), 0o644); err != nil {
		return "", fmt.Errorf("write edl: %w", err)
	}
	return path, nil
}
