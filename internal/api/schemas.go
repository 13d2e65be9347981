// Package api exposes the agent's HTTP surface on the loopback interface.
package api

import (
	"github.com/clipbench/clipbench-agent/internal/session"
	"github.com/clipbench/clipbench-agent/internal/timeline"
)

type errorResponse struct {
	Error string `json:"error"`
}

type messageResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type statusResponse struct {
	Version   string `json:"version"`
	Rendering bool   `json:"rendering"`
	Sessions  int    `json:"sessions"`
	Clips     int    `json:"clips"`
}

type createSessionRequest struct {
	Path string `json:"path"`
	Kind string `json:"kind,omitempty"`
}

type sessionResponse struct {
	*session.Session
	CanUndo bool `json:"can_undo"`
	CanRedo bool `json:"can_redo"`
}

// opRequest carries the parameters of every session operation; Kind selects
// which ones are read.
type opRequest struct {
	Kind string `json:"kind"`

	// trim
	Start float64 `json:"start,omitempty"`
	End   float64 `json:"end,omitempty"`

	// speed
	Factor float64 `json:"factor,omitempty"`

	// rotate
	Transpose int `json:"transpose,omitempty"`

	// crop (width/height are shared with resize)
	X int `json:"x,omitempty"`
	Y int `json:"y,omitempty"`

	// text overlay
	Text       string `json:"text,omitempty"`
	FontFamily string `json:"font_family,omitempty"`
	FontSize   int    `json:"font_size,omitempty"`
	ColorR     int    `json:"color_r,omitempty"`
	ColorG     int    `json:"color_g,omitempty"`
	ColorB     int    `json:"color_b,omitempty"`
	Position   string `json:"position,omitempty"`

	// filter (image adjustments)
	Filter     string  `json:"filter,omitempty"`
	Sigma      float64 `json:"sigma,omitempty"`
	Brightness float64 `json:"brightness,omitempty"`
	Contrast   float64 `json:"contrast,omitempty"`
	Degrees    float64 `json:"degrees,omitempty"`
	Width      int     `json:"width,omitempty"`
	Height     int     `json:"height,omitempty"`
}

type pathRequest struct {
	Path string `json:"path"`
}

type addClipRequest struct {
	Path string `json:"path"`
}

type updateClipRequest struct {
	TrimIn   *float64          `json:"trim_in,omitempty"`
	TrimOut  *float64          `json:"trim_out,omitempty"`
	Speed    *float64          `json:"speed,omitempty"`
	Overlay  *timeline.Overlay `json:"overlay,omitempty"`
	Position *int              `json:"position,omitempty"`
}

type projectResponse struct {
	Clips   []timeline.Clip `json:"clips"`
	Total   float64         `json:"total"`
	CanUndo bool            `json:"can_undo"`
	CanRedo bool            `json:"can_redo"`
}

type timelineResponse struct {
	Clip    int     `json:"clip"`
	Seconds float64 `json:"seconds"`
}

type edlRequest struct {
	Dir   string `json:"dir"`
	Name  string `json:"name"`
	Title string `json:"title,omitempty"`
	FPS   int    `json:"fps,omitempty"`
}

type edlResponse struct {
	Path string `json:"path"`
}
