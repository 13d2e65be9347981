package playback

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestParseRange(t *testing.T) {
	const size = 1000
	tests := []struct {
		name      string
		header    string
		wantStart int64
		wantEnd   int64
		wantNil   bool
		wantErr   bool
	}{
		{name: "absent", header: "", wantNil: true},
		{name: "full form", header: "bytes=0-499", wantStart: 0, wantEnd: 499},
		{name: "open end", header: "bytes=500-", wantStart: 500, wantEnd: 999},
		{name: "suffix", header: "bytes=-200", wantStart: 800, wantEnd: 999},
		{name: "end clamped", header: "bytes=900-2000", wantStart: 900, wantEnd: 999},
		{name: "suffix larger than file", header: "bytes=-5000", wantStart: 0, wantEnd: 999},
		{name: "multi range uses first", header: "bytes=0-99,200-299", wantStart: 0, wantEnd: 99},
		{name: "start beyond size", header: "bytes=1000-", wantErr: true},
		{name: "end before start", header: "bytes=50-20", wantErr: true},
		{name: "not bytes", header: "items=0-5", wantErr: true},
		{name: "garbage", header: "bytes=abc", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := ParseRange(tt.header, size)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidRange) {
					t.Fatalf("got %v, want ErrInvalidRange", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantNil {
				if r != nil {
					t.Fatalf("got %+v, want nil range", r)
				}
				return
			}
			if r.Start != tt.wantStart || r.End != tt.wantEnd {
				t.Errorf("range = %d-%d, want %d-%d", r.Start, r.End, tt.wantStart, tt.wantEnd)
			}
		})
	}
}

func TestContentRange(t *testing.T) {
	r := &Range{Start: 100, End: 199}
	if r.ContentLength() != 100 {
		t.Errorf("length = %d, want 100", r.ContentLength())
	}
	if got := r.ContentRange(1000); got != "bytes 100-199/1000" {
		t.Errorf("content range = %q", got)
	}
}

type stubGuard struct{ busy bool }

func (g stubGuard) Busy() bool { return g.busy }

func writeArtifact(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "artifact.mp4")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	return path
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestServeFileFull(t *testing.T) {
	srv := NewServer(testLogger(), stubGuard{})
	path := writeArtifact(t, "0123456789")

	rec := httptest.NewRecorder()
	srv.ServeFile(rec, httptest.NewRequest(http.MethodGet, "/", nil), path)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != "0123456789" {
		t.Errorf("body = %q", rec.Body.String())
	}
	if got := rec.Header().Get("Accept-Ranges"); got != "bytes" {
		t.Errorf("Accept-Ranges = %q", got)
	}
	if got := rec.Header().Get("Content-Type"); got == "" {
		t.Error("Content-Type missing")
	}
}

func TestServeFilePartial(t *testing.T) {
	srv := NewServer(testLogger(), stubGuard{})
	path := writeArtifact(t, "0123456789")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Range", "bytes=2-5")
	rec := httptest.NewRecorder()
	srv.ServeFile(rec, req, path)

	if rec.Code != http.StatusPartialContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != "2345" {
		t.Errorf("body = %q", rec.Body.String())
	}
	if got := rec.Header().Get("Content-Range"); got != "bytes 2-5/10" {
		t.Errorf("Content-Range = %q", got)
	}
}

func TestServeFileUnsatisfiableRange(t *testing.T) {
	srv := NewServer(testLogger(), stubGuard{})
	path := writeArtifact(t, "0123456789")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Range", "bytes=99-")
	rec := httptest.NewRecorder()
	srv.ServeFile(rec, req, path)

	if rec.Code != http.StatusRequestedRangeNotSatisfiable {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Range"); got != "bytes */10" {
		t.Errorf("Content-Range = %q", got)
	}
}

func TestServeFileRefusedWhileRendering(t *testing.T) {
	srv := NewServer(testLogger(), stubGuard{busy: true})
	path := writeArtifact(t, "0123456789")

	rec := httptest.NewRecorder()
	srv.ServeFile(rec, httptest.NewRequest(http.MethodGet, "/", nil), path)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestServeFileMissing(t *testing.T) {
	srv := NewServer(testLogger(), stubGuard{})
	rec := httptest.NewRecorder()
	srv.ServeFile(rec, httptest.NewRequest(http.MethodGet, "/", nil), filepath.Join(t.TempDir(), "nope.mp4"))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
