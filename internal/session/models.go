// Package session manages editing sessions: a working copy of a media
// file, the bounded artifact history behind undo/redo, and the render
// operations applied to it.
package session

import (
	"path/filepath"
	"strings"
	"time"
)

// Session kinds.
const (
	KindVideo = "video"
	KindImage = "image"
)

// Operation statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Operation kinds.
const (
	OpTrim        = "trim"
	OpSpeed       = "speed"
	OpRotate      = "rotate"
	OpCrop        = "crop"
	OpText        = "text"
	OpRemoveAudio = "remove_audio"
	OpCaptions    = "captions"
	OpFilter      = "filter"
	OpExport      = "export"
)

// Session is one open editing session. CurrentPath always points at the
// active artifact inside WorkDir; SourcePath is never written to.
type Session struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	SourcePath  string    `json:"source_path"`
	WorkDir     string    `json:"work_dir"`
	CurrentPath string    `json:"current_path"`
	CreatedAt   time.Time `json:"created_at"`
}

// Operation records one render applied (or applied and failed) in a session.
type Operation struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Kind      string    `json:"kind"`
	Status    string    `json:"status"`
	Detail    string    `json:"detail,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

var videoExtensions = map[string]bool{
	".mp4": true, ".mov": true, ".mkv": true, ".avi": true,
	".webm": true, ".m4v": true, ".mpg": true, ".mpeg": true,
	".wmv": true, ".flv": true, ".ts": true,
}

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".bmp": true,
	".webp": true, ".tif": true, ".tiff": true,
}

// IsVideoFile reports whether the path has a recognized video extension.
func IsVideoFile(path string) bool {
	return videoExtensions[strings.ToLower(filepath.Ext(path))]
}

// IsImageFile reports whether the path has a recognized still-image extension.
func IsImageFile(path string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(path))]
}

// KindForPath infers the session kind from the file extension.
func KindForPath(path string) string {
	switch {
	case IsVideoFile(path):
		return KindVideo
	case IsImageFile(path):
		return KindImage
	default:
		return ""
	}
}
