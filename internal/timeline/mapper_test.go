package timeline

import (
	"errors"
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func testClips() []Clip {
	return []Clip{
		// 10s source, untrimmed, normal speed: 10s on the timeline
		{Path: "a.mp4", Duration: 10, Speed: 1.0},
		// 20s source trimmed to [2,12], double speed: 5s on the timeline
		{Path: "b.mp4", Duration: 20, TrimIn: 2, TrimOut: 12, Speed: 2.0},
		// 8s source trimmed to [1,0]=full end, half speed: 14s on the timeline
		{Path: "c.mp4", Duration: 8, TrimIn: 1, Speed: 0.5},
	}
}

func TestTotal(t *testing.T) {
	if got := Total(testClips()); !almostEqual(got, 29) {
		t.Errorf("Total() = %v, want 29", got)
	}
	if got := Total(nil); got != 0 {
		t.Errorf("Total(nil) = %v, want 0", got)
	}
}

func TestToClip(t *testing.T) {
	clips := testClips()

	tests := []struct {
		name    string
		t       float64
		wantIdx int
		wantSec float64
	}{
		{"start", 0, 0, 0},
		{"inside_first", 4.5, 0, 4.5},
		{"first_boundary", 10, 0, 10},
		{"inside_second", 12, 1, 6}, // (12-10)*2.0 + 2
		{"second_boundary", 15, 1, 12},
		{"inside_third", 20, 2, 3.5}, // (20-15)*0.5 + 1
		{"end", 29, 2, 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, sec, err := ToClip(clips, tt.t)
			if err != nil {
				t.Fatalf("ToClip(%v) error = %v", tt.t, err)
			}
			if idx != tt.wantIdx {
				t.Errorf("ToClip(%v) idx = %d, want %d", tt.t, idx, tt.wantIdx)
			}
			if !almostEqual(sec, tt.wantSec) {
				t.Errorf("ToClip(%v) sec = %v, want %v", tt.t, sec, tt.wantSec)
			}
		})
	}
}

func TestToClip_BeyondEnd(t *testing.T) {
	_, _, err := ToClip(testClips(), 29.1)
	if !errors.Is(err, ErrBeyondTimeline) {
		t.Errorf("ToClip past end = %v, want ErrBeyondTimeline", err)
	}

	_, _, err = ToClip(nil, 0.5)
	if !errors.Is(err, ErrBeyondTimeline) {
		t.Errorf("ToClip on empty timeline = %v, want ErrBeyondTimeline", err)
	}
}

func TestToTimeline(t *testing.T) {
	clips := testClips()

	tests := []struct {
		name  string
		idx   int
		sec   float64
		wantT float64
	}{
		{"first_start", 0, 0, 0},
		{"first_middle", 0, 4.5, 4.5},
		{"second_trim_in", 1, 2, 10},
		{"second_middle", 1, 6, 12},
		{"third_middle", 2, 3.5, 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToTimeline(clips, tt.idx, tt.sec)
			if err != nil {
				t.Fatalf("ToTimeline(%d, %v) error = %v", tt.idx, tt.sec, err)
			}
			if !almostEqual(got, tt.wantT) {
				t.Errorf("ToTimeline(%d, %v) = %v, want %v", tt.idx, tt.sec, got, tt.wantT)
			}
		})
	}
}

func TestToTimeline_InvalidIndex(t *testing.T) {
	clips := testClips()
	for _, idx := range []int{-1, 3} {
		if _, err := ToTimeline(clips, idx, 0); !errors.Is(err, ErrBeyondTimeline) {
			t.Errorf("ToTimeline(%d) = %v, want ErrBeyondTimeline", idx, err)
		}
	}
}

func TestMappingRoundTrip(t *testing.T) {
	clips := testClips()
	for _, pos := range []float64{0, 1.25, 9.99, 10.5, 14.2, 16, 28.9} {
		idx, sec, err := ToClip(clips, pos)
		if err != nil {
			t.Fatalf("ToClip(%v) error = %v", pos, err)
		}
		back, err := ToTimeline(clips, idx, sec)
		if err != nil {
			t.Fatalf("ToTimeline(%d, %v) error = %v", idx, sec, err)
		}
		if !almostEqual(back, pos) {
			t.Errorf("round trip %v -> (%d, %v) -> %v", pos, idx, sec, back)
		}
	}
}

func TestClipDerived(t *testing.T) {
	c := &Clip{Duration: 20, TrimIn: 2, TrimOut: 12, Speed: 2.0}
	if got := c.EffectiveEnd(); got != 12 {
		t.Errorf("EffectiveEnd() = %v, want 12", got)
	}
	if got := c.Trimmed(); got != 10 {
		t.Errorf("Trimmed() = %v, want 10", got)
	}
	if got := c.TimelineLen(); got != 5 {
		t.Errorf("TimelineLen() = %v, want 5", got)
	}

	full := &Clip{Duration: 20, Speed: 1.0}
	if got := full.EffectiveEnd(); got != 20 {
		t.Errorf("EffectiveEnd() with no trim-out = %v, want 20", got)
	}

	inverted := &Clip{Duration: 20, TrimIn: 15, TrimOut: 10, Speed: 1.0}
	if got := inverted.Trimmed(); got != 0 {
		t.Errorf("Trimmed() with inverted window = %v, want 0", got)
	}
}
