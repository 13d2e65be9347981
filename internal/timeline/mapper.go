package timeline

import "errors"

// tolerance absorbs floating error when a playhead sits exactly on a clip
// boundary.
const tolerance = 1e-9

// ErrBeyondTimeline reports a playhead position past the final clip.
var ErrBeyondTimeline = errors.New("position beyond end of timeline")

// Total returns the full timeline length in seconds.
func Total(clips []Clip) float64 {
	var sum float64
	for _, c := range clips {
		sum += c.TimelineLen()
	}
	return sum
}

// ToClip maps a global playhead time to (clip index, intra-clip source
// seconds). Clips are walked in order; the first clip whose cumulative end
// covers t wins. The intra-clip time re-applies the speed factor and trim-in
// offset, so it addresses the untrimmed source file.
func ToClip(clips []Clip, t float64) (int, float64, error) {
	var acc float64
	for i, c := range clips {
		dur := c.TimelineLen()
		if t <= acc+dur+tolerance {
			sec := (t-acc)*clampSpeed(c.Speed) + c.TrimIn
			if sec < 0 {
				sec = 0
			}
			return i, sec, nil
		}
		acc += dur
	}
	return -1, 0, ErrBeyondTimeline
}

// ToTimeline is the inverse of ToClip: it maps intra-clip source seconds of
// the clip at idx back to a global playhead time.
func ToTimeline(clips []Clip, idx int, sec float64) (float64, error) {
	if idx < 0 || idx >= len(clips) {
		return 0, ErrBeyondTimeline
	}
	var acc float64
	for i, c := range clips {
		if i == idx {
			return acc + (sec-c.TrimIn)/clampSpeed(c.Speed), nil
		}
		acc += c.TimelineLen()
	}
	return 0, ErrBeyondTimeline
}
