// Package captions generates caption segments via an external speech
// transcriber and renders them as SRT for burn-in.
package captions

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/clipbench/clipbench-agent/internal/timeline"
)

// WriteSRT renders segments as a SubRip file. Segments with empty text are
// skipped; an input with no usable segments is an error since burning an
// empty SRT silently produces an unchanged video.
func WriteSRT(w io.Writer, segments []timeline.CaptionSegment) error {
	idx := 1
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		if _, err := fmt.Fprintf(w, "%d\n%s --> %s\n%s\n\n",
			idx, Timestamp(seg.Start), Timestamp(seg.End), text); err != nil {
			return err
		}
		idx++
	}
	if idx == 1 {
		return fmt.Errorf("no caption segments to write")
	}
	return nil
}

// WriteSRTFile writes segments to path, creating or truncating it.
func WriteSRTFile(path string, segments []timeline.CaptionSegment) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("cannot create srt file: %w", err)
	}
	defer f.Close()
	return WriteSRT(f, segments)
}

// Timestamp formats seconds as an SRT timestamp, HH:MM:SS,mmm.
func Timestamp(t float64) string {
	if t < 0 {
		t = 0
	}
	h := int(t) / 3600
	m := (int(t) % 3600) / 60
	s := int(t) % 60
	ms := int((t - float64(int(t))) * 1000)
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}
