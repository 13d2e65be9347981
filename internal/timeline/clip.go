// Package timeline models a multi-clip edit sequence and the mapping
// between global playhead time and per-clip source time.
package timeline

// CaptionSegment is one transcribed caption. Segments are immutable once
// generated; times are seconds relative to the untrimmed source.
type CaptionSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Overlay is a manual text overlay burned over a whole clip.
type Overlay struct {
	Text       string `json:"text"`
	FontFamily string `json:"font_family,omitempty"`
	FontSize   int    `json:"font_size,omitempty"`
	ColorR     int    `json:"color_r"`
	ColorG     int    `json:"color_g"`
	ColorB     int    `json:"color_b"`
	Position   string `json:"position,omitempty"` // "top" or "bottom"
}

// Clip is one source file placed on the timeline with a trim window and a
// playback speed factor.
type Clip struct {
	Path     string           `json:"path"`
	Duration float64          `json:"duration"` // probed source duration, seconds
	TrimIn   float64          `json:"trim_in"`
	TrimOut  float64          `json:"trim_out"` // 0 means "use full duration"
	Speed    float64          `json:"speed"`
	Overlay  *Overlay         `json:"overlay,omitempty"`
	Segments []CaptionSegment `json:"segments,omitempty"`
}

// EffectiveEnd returns the trim-out point, defaulting to the full duration.
func (c *Clip) EffectiveEnd() float64 {
	if c.TrimOut > 0 {
		return c.TrimOut
	}
	return c.Duration
}

// Trimmed returns the length of the trim window in source seconds.
func (c *Clip) Trimmed() float64 {
	t := c.EffectiveEnd() - c.TrimIn
	if t < 0 {
		return 0
	}
	return t
}

// TimelineLen returns the clip's contribution to the timeline: trimmed
// length divided by the speed factor.
func (c *Clip) TimelineLen() float64 {
	return c.Trimmed() / clampSpeed(c.Speed)
}

func clampSpeed(speed float64) float64 {
	if speed < 1e-6 {
		return 1e-6
	}
	return speed
}
