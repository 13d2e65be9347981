package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/clipbench/clipbench-agent/internal/db"
	"github.com/clipbench/clipbench-agent/internal/ffmpeg"
	"github.com/clipbench/clipbench-agent/internal/playback"
	"github.com/clipbench/clipbench-agent/internal/project"
	"github.com/clipbench/clipbench-agent/internal/render"
	"github.com/clipbench/clipbench-agent/internal/session"
)

const testToken = "test-token-123"

type testEnv struct {
	handler http.Handler
	runner  *render.Runner
	stub    *ffmpeg.StubRenderer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	database, err := db.New(filepath.Join(t.TempDir(), "test.db"), logger)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	repo := session.NewSQLiteRepository(database.Conn())
	stub := ffmpeg.NewStubRenderer(logger)
	runner := render.NewRunner(logger)
	sessions := session.NewService(repo, stub, nil, runner, logger, t.TempDir(), 10)
	projects := project.NewService(repo, stub, nil, runner, logger, t.TempDir(), 4)
	player := playback.NewServer(logger, runner)

	srv := NewServer(logger, sessions, projects, player, runner, testToken, "test", 0)
	return &testEnv{handler: srv.routes(), runner: runner, stub: stub}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, auth bool) *httptest.ResponseRecorder {
	t.Helper()
	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		buf = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, buf)
	if auth {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func (e *testEnv) waitOp(t *testing.T, opID string) map[string]any {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		rec := e.do(t, http.MethodGet, "/ops/"+opID, nil, true)
		if rec.Code != http.StatusOK {
			t.Fatalf("get op: status %d", rec.Code)
		}
		op := decode[map[string]any](t, rec)
		status, _ := op["status"].(string)
		terminal := status == session.StatusCompleted || status == session.StatusFailed
		if terminal && !e.runner.Busy() {
			return op
		}
		select {
		case <-deadline:
			t.Fatalf("operation %s never finished (status %s)", opID, status)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func writeSource(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("source media bytes"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return path
}

func (e *testEnv) openSession(t *testing.T, name string) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/sessions", createSessionRequest{Path: writeSource(t, name)}, true)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create session: status %d body %s", rec.Code, rec.Body.String())
	}
	resp := decode[map[string]any](t, rec)
	id, _ := resp["id"].(string)
	if id == "" {
		t.Fatal("session response missing id")
	}
	return id
}

func TestHealthUnauthenticated(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/health", nil, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/status", nil, false)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	bad := httptest.NewRecorder()
	env.handler.ServeHTTP(bad, req)
	if bad.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: status = %d", bad.Code)
	}

	rec = env.do(t, http.MethodGet, "/status", nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("valid token: status = %d", rec.Code)
	}
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	id := env.openSession(t, "clip.mp4")

	rec := env.do(t, http.MethodPost, "/sessions/"+id+"/ops",
		opRequest{Kind: session.OpTrim, Start: 1, End: 4}, true)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("trim: status %d body %s", rec.Code, rec.Body.String())
	}
	op := decode[map[string]any](t, rec)
	opID, _ := op["id"].(string)
	finished := env.waitOp(t, opID)
	if finished["status"] != session.StatusCompleted {
		t.Fatalf("op = %+v", finished)
	}

	rec = env.do(t, http.MethodGet, "/sessions/"+id, nil, true)
	sess := decode[map[string]any](t, rec)
	if sess["can_undo"] != true {
		t.Error("session should report can_undo after a trim")
	}

	rec = env.do(t, http.MethodPost, "/sessions/"+id+"/undo", nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("undo: status %d", rec.Code)
	}

	// Second undo hits the bottom of the stack: still 200, but a noop.
	rec = env.do(t, http.MethodPost, "/sessions/"+id+"/undo", nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("noop undo: status %d", rec.Code)
	}
	noop := decode[messageResponse](t, rec)
	if noop.Status != "noop" {
		t.Errorf("noop undo response = %+v", noop)
	}

	rec = env.do(t, http.MethodDelete, "/sessions/"+id, nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("close: status %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/sessions/"+id, nil, true)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after close: status %d", rec.Code)
	}
}

func TestOpRejectedWhileBusy(t *testing.T) {
	env := newTestEnv(t)
	id := env.openSession(t, "clip.mp4")

	release := make(chan struct{})
	started := make(chan struct{})
	err := env.runner.TrySubmit(context.Background(), render.Job{
		OpID: "blocker",
		Run: func(context.Context) (string, error) {
			close(started)
			<-release
			return "", nil
		},
	})
	if err != nil {
		t.Fatalf("submit blocker: %v", err)
	}
	<-started
	defer close(release)

	rec := env.do(t, http.MethodPost, "/sessions/"+id+"/ops",
		opRequest{Kind: session.OpSpeed, Factor: 2}, true)
	if rec.Code != http.StatusConflict {
		t.Fatalf("op while busy: status %d, want 409", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/sessions/"+id+"/playback", nil, true)
	if rec.Code != http.StatusConflict {
		t.Fatalf("playback while busy: status %d, want 409", rec.Code)
	}
}

func TestPlaybackRangeOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	id := env.openSession(t, "clip.mp4")

	req := httptest.NewRequest(http.MethodGet, "/sessions/"+id+"/playback", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Range", "bytes=0-5")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206", rec.Code)
	}
	if rec.Body.String() != "source" {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestUnknownOpKind(t *testing.T) {
	env := newTestEnv(t)
	id := env.openSession(t, "clip.mp4")

	rec := env.do(t, http.MethodPost, "/sessions/"+id+"/ops", opRequest{Kind: "explode"}, true)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestProjectOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	env.stub.ProbeRes.Duration = 10

	rec := env.do(t, http.MethodPost, "/project/clips", addClipRequest{Path: writeSource(t, "a.mp4")}, true)
	if rec.Code != http.StatusCreated {
		t.Fatalf("add clip: status %d body %s", rec.Code, rec.Body.String())
	}

	speed := 2.0
	rec = env.do(t, http.MethodPatch, "/project/clips/0", updateClipRequest{Speed: &speed}, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("patch clip: status %d body %s", rec.Code, rec.Body.String())
	}
	proj := decode[projectResponse](t, rec)
	if len(proj.Clips) != 1 || proj.Clips[0].Speed != 2.0 {
		t.Fatalf("project = %+v", proj)
	}
	if proj.Total != 5.0 {
		t.Errorf("total = %g, want 10s at 2x = 5s", proj.Total)
	}

	rec = env.do(t, http.MethodGet, "/project/timeline?t=2.5", nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("timeline: status %d", rec.Code)
	}
	pos := decode[timelineResponse](t, rec)
	if pos.Clip != 0 || pos.Seconds != 5.0 {
		t.Errorf("timeline(2.5) = %+v, want clip 0 at 5s", pos)
	}

	rec = env.do(t, http.MethodGet, "/project/timeline?t=99", nil, true)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("timeline past end: status %d, want 404", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/project/undo", nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("undo: status %d", rec.Code)
	}
	proj = decode[projectResponse](t, rec)
	if proj.Clips[0].Speed != 1.0 {
		t.Errorf("speed after undo = %g, want 1.0", proj.Clips[0].Speed)
	}
}

func TestProjectEDLOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	env.stub.ProbeRes.Duration = 10
	rec := env.do(t, http.MethodPost, "/project/clips", addClipRequest{Path: writeSource(t, "a.mp4")}, true)
	if rec.Code != http.StatusCreated {
		t.Fatalf("add clip: status %d", rec.Code)
	}

	dir := t.TempDir()
	rec = env.do(t, http.MethodPost, "/project/edl", edlRequest{Dir: dir, Name: "cut one"}, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("edl: status %d body %s", rec.Code, rec.Body.String())
	}
	resp := decode[edlResponse](t, rec)
	data, err := os.ReadFile(resp.Path)
	if err != nil {
		t.Fatalf("read edl: %v", err)
	}
	if !bytes.Contains(data, []byte("FROM CLIP NAME: a.mp4")) {
		t.Errorf("edl content = %q", data)
	}
}

func TestProjectExportOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	env.stub.ProbeRes.Duration = 10
	env.do(t, http.MethodPost, "/project/clips", addClipRequest{Path: writeSource(t, "a.mp4")}, true)

	dest := filepath.Join(t.TempDir(), "final.mp4")
	rec := env.do(t, http.MethodPost, "/project/export", pathRequest{Path: dest}, true)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("export: status %d body %s", rec.Code, rec.Body.String())
	}
	op := decode[map[string]any](t, rec)
	opID := fmt.Sprintf("%v", op["id"])
	finished := env.waitOp(t, opID)
	if finished["status"] != session.StatusCompleted {
		t.Fatalf("op = %+v", finished)
	}
	if _, err := os.Stat(dest); err != nil {
		t.Fatalf("export artifact missing: %v", err)
	}
}

func TestEmptyProjectExportRejected(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/project/export",
		pathRequest{Path: filepath.Join(t.TempDir(), "out.mp4")}, true)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
