package playback

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/clipbench/clipbench-agent/internal/logging"
)

// Guard reports whether playback must be refused. While a render is
// rewriting the current artifact, serving it would hand out torn reads.
type Guard interface {
	Busy() bool
}

// Server streams artifact files with range support.
type Server struct {
	logger *slog.Logger
	guard  Guard
}

func NewServer(logger *slog.Logger, guard Guard) *Server {
	return &Server{logger: logging.WithComponent(logger, "playback"), guard: guard}
}

// ServeFile writes path to the response, honoring a single Range header.
// Returns 409 while a render is in flight and 416 for unsatisfiable ranges.
func (s *Server) ServeFile(w http.ResponseWriter, r *http.Request, path string) {
	if s.guard != nil && s.guard.Busy() {
		http.Error(w, "render in progress", http.StatusConflict)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		s.logger.Warn("artifact missing", "path", filepath.Base(path), "error", err)
		http.Error(w, "artifact not found", http.StatusNotFound)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		http.Error(w, "artifact not readable", http.StatusInternalServerError)
		return
	}
	size := info.Size()

	ctype := mime.TypeByExtension(filepath.Ext(path))
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ctype)
	w.Header().Set("Accept-Ranges", "bytes")

	rng, err := ParseRange(r.Header.Get("Range"), size)
	if errors.Is(err, ErrInvalidRange) {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		http.Error(w, "range not satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return
	}
	if err != nil {
		http.Error(w, "bad range", http.StatusBadRequest)
		return
	}

	if rng == nil {
		w.Header().Set("Content-Length", fmt.Sprintf("%d", size))
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			io.Copy(w, f)
		}
		return
	}

	if _, err := f.Seek(rng.Start, io.SeekStart); err != nil {
		http.Error(w, "seek failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Length", fmt.Sprintf("%d", rng.ContentLength()))
	w.Header().Set("Content-Range", rng.ContentRange(size))
	w.WriteHeader(http.StatusPartialContent)
	if r.Method != http.MethodHead {
		io.CopyN(w, f, rng.ContentLength())
	}
}
