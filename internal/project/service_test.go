package project

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/clipbench/clipbench-agent/internal/captions"
	"github.com/clipbench/clipbench-agent/internal/db"
	"github.com/clipbench/clipbench-agent/internal/ffmpeg"
	"github.com/clipbench/clipbench-agent/internal/history"
	"github.com/clipbench/clipbench-agent/internal/render"
	"github.com/clipbench/clipbench-agent/internal/session"
	"github.com/clipbench/clipbench-agent/internal/timeline"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T, transcriber captions.Transcriber) (*Service, *ffmpeg.StubRenderer, session.Repository) {
	t.Helper()
	logger := testLogger()

	database, err := db.New(filepath.Join(t.TempDir(), "test.db"), logger)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	repo := session.NewSQLiteRepository(database.Conn())
	stub := ffmpeg.NewStubRenderer(logger)
	runner := render.NewRunner(logger)
	svc := NewService(repo, stub, transcriber, runner, logger, t.TempDir(), 4)
	return svc, stub, repo
}

func writeClip(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("clip bytes"), 0o644); err != nil {
		t.Fatalf("write clip: %v", err)
	}
	return path
}

func addClip(t *testing.T, svc *Service, path string) {
	t.Helper()
	if _, err := svc.AddClip(context.Background(), path); err != nil {
		t.Fatalf("add clip %s: %v", path, err)
	}
}

func waitOp(t *testing.T, svc *Service, repo session.Repository, opID string) *session.Operation {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		op, err := repo.GetOperation(context.Background(), opID)
		if err != nil {
			t.Fatalf("get operation: %v", err)
		}
		terminal := op.Status == session.StatusCompleted || op.Status == session.StatusFailed
		if terminal && !svc.runner.Busy() {
			return op
		}
		select {
		case <-deadline:
			t.Fatalf("operation %s never finished (status %s)", opID, op.Status)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestAddClipProbesDuration(t *testing.T) {
	svc, stub, _ := newTestService(t, nil)
	stub.ProbeRes.Duration = 42.5
	path := writeClip(t, t.TempDir(), "a.mp4")

	clip, err := svc.AddClip(context.Background(), path)
	if err != nil {
		t.Fatalf("add clip: %v", err)
	}
	if clip.Duration != 42.5 {
		t.Errorf("duration = %g, want probed 42.5", clip.Duration)
	}
	if clip.Speed != 1.0 {
		t.Errorf("speed = %g, want 1.0", clip.Speed)
	}
	if got := svc.Clips(); len(got) != 1 {
		t.Errorf("clips = %d, want 1", len(got))
	}
}

func TestAddClipRejectsNonVideo(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	path := writeClip(t, t.TempDir(), "a.txt")

	if _, err := svc.AddClip(context.Background(), path); !errors.Is(err, session.ErrUnsupportedFile) {
		t.Fatalf("got %v, want ErrUnsupportedFile", err)
	}
}

func TestMoveClip(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	dir := t.TempDir()
	for _, name := range []string{"a.mp4", "b.mp4", "c.mp4"} {
		addClip(t, svc, writeClip(t, dir, name))
	}

	if err := svc.MoveClip(context.Background(), 2, 0); err != nil {
		t.Fatalf("move: %v", err)
	}
	var names []string
	for _, c := range svc.Clips() {
		names = append(names, filepath.Base(c.Path))
	}
	want := []string{"c.mp4", "a.mp4", "b.mp4"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("order = %v, want %v", names, want)
		}
	}
}

func TestUpdateClipIsOneUndoStep(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	ctx := context.Background()
	addClip(t, svc, writeClip(t, t.TempDir(), "a.mp4"))

	trimIn, trimOut, speed := 1.0, 6.0, 2.0
	err := svc.UpdateClip(ctx, 0, ClipUpdate{
		TrimIn:  &trimIn,
		TrimOut: &trimOut,
		Speed:   &speed,
		Overlay: &timeline.Overlay{Text: "hello"},
	})
	if err != nil {
		t.Fatalf("update clip: %v", err)
	}

	c := svc.Clips()[0]
	if c.TrimIn != 1 || c.TrimOut != 6 || c.Speed != 2 || c.Overlay == nil {
		t.Fatalf("update not applied: %+v", c)
	}

	if err := svc.Undo(ctx); err != nil {
		t.Fatalf("undo: %v", err)
	}
	c = svc.Clips()[0]
	if c.TrimIn != 0 || c.TrimOut != 0 || c.Speed != 1 || c.Overlay != nil {
		t.Errorf("one undo must revert the whole edit: %+v", c)
	}
}

func TestUpdateClipValidationIsAtomic(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	ctx := context.Background()
	addClip(t, svc, writeClip(t, t.TempDir(), "a.mp4"))

	trimIn, badSpeed := 2.0, 99.0
	err := svc.UpdateClip(ctx, 0, ClipUpdate{TrimIn: &trimIn, Speed: &badSpeed})
	if err == nil {
		t.Fatal("out of range speed should be rejected")
	}

	c := svc.Clips()[0]
	if c.TrimIn != 0 || c.Speed != 1 {
		t.Errorf("failed update must leave the clip untouched: %+v", c)
	}

	// The failed update must not push a snapshot: the next undo reverts
	// the AddClip itself.
	if err := svc.Undo(ctx); err != nil {
		t.Fatalf("undo: %v", err)
	}
	if len(svc.Clips()) != 0 {
		t.Error("undo after failed update should revert the clip add")
	}
}

func TestSetTrimValidation(t *testing.T) {
	svc, stub, _ := newTestService(t, nil)
	stub.ProbeRes.Duration = 10
	addClip(t, svc, writeClip(t, t.TempDir(), "a.mp4"))
	ctx := context.Background()

	if err := svc.SetTrim(ctx, 0, 2, 8); err != nil {
		t.Fatalf("valid trim rejected: %v", err)
	}
	if err := svc.SetTrim(ctx, 0, -1, 5); err == nil {
		t.Error("negative trim in accepted")
	}
	if err := svc.SetTrim(ctx, 0, 5, 3); err == nil {
		t.Error("trim out before trim in accepted")
	}
	if err := svc.SetTrim(ctx, 0, 2, 99); err == nil {
		t.Error("trim out past duration accepted")
	}
	if err := svc.SetTrim(ctx, 5, 0, 1); !errors.Is(err, ErrClipIndex) {
		t.Errorf("bad index: got %v, want ErrClipIndex", err)
	}
}

func TestUndoRedoBoundedDepth(t *testing.T) {
	svc, stub, _ := newTestService(t, nil)
	stub.ProbeRes.Duration = 10
	addClip(t, svc, writeClip(t, t.TempDir(), "a.mp4"))
	ctx := context.Background()

	// Ten speed changes against a snapshot limit of four.
	for i := 0; i < 10; i++ {
		factor := 1.0 + float64(i%3)*0.5
		if err := svc.SetSpeed(ctx, 0, factor); err != nil {
			t.Fatalf("set speed: %v", err)
		}
	}

	undos := 0
	for svc.CanUndo() {
		if err := svc.Undo(ctx); err != nil {
			t.Fatalf("undo: %v", err)
		}
		undos++
	}
	if undos != 4 {
		t.Errorf("undo depth = %d, want snapshot limit 4", undos)
	}
	if err := svc.Undo(ctx); !errors.Is(err, history.ErrNothingToUndo) {
		t.Errorf("exhausted undo: got %v, want ErrNothingToUndo", err)
	}

	// Four mutations back from the final speed of 1.0 is the state after
	// the sixth change, speed 2.0.
	if got := svc.Clips()[0].Speed; got != 2.0 {
		t.Errorf("speed after max undo = %g, want 2.0", got)
	}

	for svc.CanRedo() {
		if err := svc.Redo(ctx); err != nil {
			t.Fatalf("redo: %v", err)
		}
	}
	if got := svc.Clips()[0].Speed; got != 1.0 {
		t.Errorf("speed after full redo = %g, want 1.0", got)
	}
}

func TestUndoRestoresRemovedClip(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	dir := t.TempDir()
	addClip(t, svc, writeClip(t, dir, "a.mp4"))
	addClip(t, svc, writeClip(t, dir, "b.mp4"))
	ctx := context.Background()

	if err := svc.RemoveClip(ctx, 0); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(svc.Clips()) != 1 {
		t.Fatal("remove did not shrink timeline")
	}
	if err := svc.Undo(ctx); err != nil {
		t.Fatalf("undo: %v", err)
	}
	clips := svc.Clips()
	if len(clips) != 2 || filepath.Base(clips[0].Path) != "a.mp4" {
		t.Errorf("undo did not restore clip order: %d clips", len(clips))
	}
}

func TestStatePersistsAcrossLoad(t *testing.T) {
	svc, stub, repo := newTestService(t, nil)
	stub.ProbeRes.Duration = 20
	addClip(t, svc, writeClip(t, t.TempDir(), "a.mp4"))
	if err := svc.SetSpeed(context.Background(), 0, 2.0); err != nil {
		t.Fatalf("set speed: %v", err)
	}

	reloaded := NewService(repo, stub, nil, render.NewRunner(testLogger()), testLogger(), t.TempDir(), 4)
	if err := reloaded.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	clips := reloaded.Clips()
	if len(clips) != 1 || clips[0].Speed != 2.0 || clips[0].Duration != 20 {
		t.Errorf("reloaded clips = %+v", clips)
	}
}

func TestLocateAcrossClips(t *testing.T) {
	svc, stub, _ := newTestService(t, nil)
	dir := t.TempDir()
	ctx := context.Background()

	stub.ProbeRes.Duration = 10
	addClip(t, svc, writeClip(t, dir, "a.mp4"))
	stub.ProbeRes.Duration = 20
	addClip(t, svc, writeClip(t, dir, "b.mp4"))
	if err := svc.SetTrim(ctx, 1, 2, 12); err != nil {
		t.Fatalf("trim: %v", err)
	}
	if err := svc.SetSpeed(ctx, 1, 2.0); err != nil {
		t.Fatalf("speed: %v", err)
	}

	// Timeline: clip 0 contributes 10s, clip 1 contributes (12-2)/2 = 5s.
	if total := svc.Total(); math.Abs(total-15) > 1e-9 {
		t.Fatalf("total = %g, want 15", total)
	}

	idx, sec, err := svc.Locate(12)
	if err != nil {
		t.Fatalf("locate: %v", err)
	}
	if idx != 1 || math.Abs(sec-6) > 1e-9 {
		t.Errorf("locate(12) = (%d, %g), want (1, 6)", idx, sec)
	}

	if _, _, err := svc.Locate(30); !errors.Is(err, timeline.ErrBeyondTimeline) {
		t.Errorf("locate past end: got %v, want ErrBeyondTimeline", err)
	}
}

func TestExportAllRendersSegmentsAndConcats(t *testing.T) {
	svc, stub, repo := newTestService(t, nil)
	dir := t.TempDir()
	ctx := context.Background()
	addClip(t, svc, writeClip(t, dir, "a.mp4"))
	addClip(t, svc, writeClip(t, dir, "b.mp4"))
	dest := filepath.Join(t.TempDir(), "final.mp4")

	op, err := svc.ExportAll(ctx, dest)
	if err != nil {
		t.Fatalf("export all: %v", err)
	}
	op = waitOp(t, svc, repo, op.ID)
	if op.Status != session.StatusCompleted {
		t.Fatalf("status = %s, error = %s", op.Status, op.Error)
	}
	if _, err := os.Stat(dest); err != nil {
		t.Fatalf("export missing: %v", err)
	}
	// Two segment renders plus one concat.
	if stub.CallCount() != 3 {
		t.Errorf("render calls = %d, want 3", stub.CallCount())
	}
}

func TestExportAllAppliesClipSettings(t *testing.T) {
	stubT := &captions.StubTranscriber{}
	svc, stub, repo := newTestService(t, stubT)
	dir := t.TempDir()
	ctx := context.Background()

	stub.ProbeRes.Duration = 10
	addClip(t, svc, writeClip(t, dir, "a.mp4"))
	if err := svc.SetTrim(ctx, 0, 1, 6); err != nil {
		t.Fatalf("trim: %v", err)
	}
	if err := svc.SetSpeed(ctx, 0, 2.0); err != nil {
		t.Fatalf("speed: %v", err)
	}
	if err := svc.SetOverlay(ctx, 0, &timeline.Overlay{Text: "intro", Position: "top"}); err != nil {
		t.Fatalf("overlay: %v", err)
	}

	op, err := svc.ExportAll(ctx, filepath.Join(t.TempDir(), "out.mp4"))
	if err != nil {
		t.Fatalf("export all: %v", err)
	}
	op = waitOp(t, svc, repo, op.ID)
	if op.Status != session.StatusCompleted {
		t.Fatalf("status = %s, error = %s", op.Status, op.Error)
	}

	segment := strings.Join(stub.Calls[0], " ")
	for _, want := range []string{"trim=start=1:end=6", "setpts=", "atempo=2", "drawtext="} {
		if !strings.Contains(segment, want) {
			t.Errorf("segment args missing %q: %s", want, segment)
		}
	}
}

func TestExportAllEmptyProject(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	if _, err := svc.ExportAll(context.Background(), filepath.Join(t.TempDir(), "out.mp4")); !errors.Is(err, ErrEmptyProject) {
		t.Fatalf("got %v, want ErrEmptyProject", err)
	}
}

func TestTranscribeAppliesSegments(t *testing.T) {
	stubT := &captions.StubTranscriber{
		Segments: []timeline.CaptionSegment{{Start: 0, End: 2, Text: "hi"}},
	}
	svc, _, repo := newTestService(t, stubT)
	addClip(t, svc, writeClip(t, t.TempDir(), "talk.mp4"))

	op, err := svc.Transcribe(context.Background(), 0)
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	op = waitOp(t, svc, repo, op.ID)
	if op.Status != session.StatusCompleted {
		t.Fatalf("status = %s, error = %s", op.Status, op.Error)
	}

	clips := svc.Clips()
	if len(clips[0].Segments) != 1 || clips[0].Segments[0].Text != "hi" {
		t.Errorf("segments = %+v", clips[0].Segments)
	}
}

func TestWriteConcatListEscapesQuotes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "concat.txt")
	if err := writeConcatList(path, []string{"/tmp/it's a clip.mp4"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, _ := os.ReadFile(path)
	want := `file '/tmp/it'\''s a clip.mp4'` + "\n"
	if string(data) != want {
		t.Errorf("list = %q, want %q", data, want)
	}
}
