// Package project implements the multi-clip editor: an ordered clip list
// with per-clip trim/speed/overlay settings, snapshot-based undo, and a
// concat export of the whole timeline.
package project

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clipbench/clipbench-agent/internal/captions"
	"github.com/clipbench/clipbench-agent/internal/ffmpeg"
	"github.com/clipbench/clipbench-agent/internal/history"
	"github.com/clipbench/clipbench-agent/internal/logging"
	"github.com/clipbench/clipbench-agent/internal/render"
	"github.com/clipbench/clipbench-agent/internal/session"
	"github.com/clipbench/clipbench-agent/internal/timeline"
)

const (
	// stateKey is the config row holding the persisted clip list.
	stateKey = "project_state"

	// opScope marks operation rows that belong to the project editor
	// rather than a single-file session.
	opScope = "project"
)

// ErrEmptyProject reports an export with no clips on the timeline.
var ErrEmptyProject = errors.New("project has no clips")

// ErrClipIndex reports a clip index outside the timeline.
var ErrClipIndex = errors.New("clip index out of range")

// Service owns the project timeline. Mutations snapshot the clip list
// before applying, so undo restores the exact pre-mutation state.
type Service struct {
	repo        session.Repository
	renderer    ffmpeg.Renderer
	transcriber captions.Transcriber
	runner      *render.Runner
	logger      *slog.Logger
	scratchDir  string

	mu    sync.Mutex
	clips []timeline.Clip
	snaps *history.SnapshotStack
}

func NewService(repo session.Repository, renderer ffmpeg.Renderer, transcriber captions.Transcriber,
	runner *render.Runner, logger *slog.Logger, scratchDir string, snapshotLimit int) *Service {
	return &Service{
		repo:        repo,
		renderer:    renderer,
		transcriber: transcriber,
		runner:      runner,
		logger:      logging.WithComponent(logger, "project"),
		scratchDir:  scratchDir,
		snaps:       history.NewSnapshotStack(snapshotLimit),
	}
}

// Load restores the persisted clip list. Missing state is an empty project.
func (s *Service) Load(ctx context.Context) error {
	raw, err := s.repo.GetConfig(ctx, stateKey)
	if err != nil {
		return err
	}
	if raw == "" {
		return nil
	}
	var clips []timeline.Clip
	if err := json.Unmarshal([]byte(raw), &clips); err != nil {
		return fmt.Errorf("decode project state: %w", err)
	}
	s.mu.Lock()
	s.clips = clips
	s.mu.Unlock()
	s.logger.Info("project loaded", "clips", len(clips))
	return nil
}

// Clips returns a copy of the timeline, in order.
func (s *Service) Clips() []timeline.Clip {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]timeline.Clip, len(s.clips))
	copy(out, s.clips)
	return out
}

// Total returns the timeline length in seconds.
func (s *Service) Total() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return timeline.Total(s.clips)
}

// Locate maps a timeline position to (clip index, source seconds).
func (s *Service) Locate(t float64) (int, float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return timeline.ToClip(s.clips, t)
}

// Position maps (clip index, source seconds) back to a timeline position.
func (s *Service) Position(idx int, sec float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return timeline.ToTimeline(s.clips, idx, sec)
}

// AddClip probes the source file and appends it to the timeline.
func (s *Service) AddClip(ctx context.Context, path string) (*timeline.Clip, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve clip path: %w", err)
	}
	if info, err := os.Stat(abs); err != nil || info.IsDir() {
		return nil, fmt.Errorf("clip source not found: %s", abs)
	}
	if !session.IsVideoFile(abs) {
		return nil, fmt.Errorf("%w: %s", session.ErrUnsupportedFile, filepath.Ext(abs))
	}

	probe, err := s.renderer.Probe(ctx, abs)
	if err != nil {
		return nil, fmt.Errorf("probe clip: %w", err)
	}
	if probe.Duration <= 0 {
		return nil, fmt.Errorf("clip has no duration: %s", abs)
	}

	clip := timeline.Clip{Path: abs, Duration: probe.Duration, Speed: 1.0}
	err = s.mutate(ctx, func() error {
		s.clips = append(s.clips, clip)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("clip added", "path", filepath.Base(abs), "duration", probe.Duration)
	return &clip, nil
}

// RemoveClip deletes the clip at idx.
func (s *Service) RemoveClip(ctx context.Context, idx int) error {
	return s.mutate(ctx, func() error {
		if idx < 0 || idx >= len(s.clips) {
			return fmt.Errorf("%w: %d", ErrClipIndex, idx)
		}
		s.clips = append(s.clips[:idx], s.clips[idx+1:]...)
		return nil
	})
}

// MoveClip reorders the clip at from to position to.
func (s *Service) MoveClip(ctx context.Context, from, to int) error {
	return s.mutate(ctx, func() error {
		if from < 0 || from >= len(s.clips) || to < 0 || to >= len(s.clips) {
			return fmt.Errorf("%w: %d -> %d", ErrClipIndex, from, to)
		}
		s.moveLocked(from, to)
		return nil
	})
}

// SetTrim updates the trim window of the clip at idx. out of 0 means "to
// the end of the source".
func (s *Service) SetTrim(ctx context.Context, idx int, in, out float64) error {
	return s.mutate(ctx, func() error {
		if idx < 0 || idx >= len(s.clips) {
			return fmt.Errorf("%w: %d", ErrClipIndex, idx)
		}
		return applyTrim(&s.clips[idx], in, out)
	})
}

// SetSpeed updates the playback speed of the clip at idx.
func (s *Service) SetSpeed(ctx context.Context, idx int, speed float64) error {
	return s.mutate(ctx, func() error {
		if idx < 0 || idx >= len(s.clips) {
			return fmt.Errorf("%w: %d", ErrClipIndex, idx)
		}
		return applySpeed(&s.clips[idx], speed)
	})
}

// SetOverlay sets or clears (nil) the text overlay of the clip at idx.
func (s *Service) SetOverlay(ctx context.Context, idx int, overlay *timeline.Overlay) error {
	return s.mutate(ctx, func() error {
		if idx < 0 || idx >= len(s.clips) {
			return fmt.Errorf("%w: %d", ErrClipIndex, idx)
		}
		return applyOverlay(&s.clips[idx], overlay)
	})
}

// ClipUpdate carries the fields of one clip edit. Nil fields keep their
// current value; Position reorders the clip after the other fields apply.
type ClipUpdate struct {
	TrimIn   *float64
	TrimOut  *float64
	Speed    *float64
	Overlay  *timeline.Overlay
	Position *int
}

// UpdateClip applies every requested change as one mutation: a single undo
// reverts the whole edit, and a validation failure on any field leaves the
// clip list untouched.
func (s *Service) UpdateClip(ctx context.Context, idx int, upd ClipUpdate) error {
	return s.mutate(ctx, func() error {
		if idx < 0 || idx >= len(s.clips) {
			return fmt.Errorf("%w: %d", ErrClipIndex, idx)
		}
		if upd.Position != nil && (*upd.Position < 0 || *upd.Position >= len(s.clips)) {
			return fmt.Errorf("%w: %d -> %d", ErrClipIndex, idx, *upd.Position)
		}

		// Work on a copy so a late validation error cannot half-apply.
		c := s.clips[idx]
		if upd.TrimIn != nil || upd.TrimOut != nil {
			in, out := c.TrimIn, c.TrimOut
			if upd.TrimIn != nil {
				in = *upd.TrimIn
			}
			if upd.TrimOut != nil {
				out = *upd.TrimOut
			}
			if err := applyTrim(&c, in, out); err != nil {
				return err
			}
		}
		if upd.Speed != nil {
			if err := applySpeed(&c, *upd.Speed); err != nil {
				return err
			}
		}
		if upd.Overlay != nil {
			if err := applyOverlay(&c, upd.Overlay); err != nil {
				return err
			}
		}

		s.clips[idx] = c
		if upd.Position != nil {
			s.moveLocked(idx, *upd.Position)
		}
		return nil
	})
}

func applyTrim(c *timeline.Clip, in, out float64) error {
	if in < 0 || in >= c.Duration {
		return fmt.Errorf("trim in %g outside clip duration %g", in, c.Duration)
	}
	if out != 0 && (out <= in || out > c.Duration) {
		return fmt.Errorf("trim out %g invalid for clip duration %g", out, c.Duration)
	}
	c.TrimIn = in
	c.TrimOut = out
	return nil
}

func applySpeed(c *timeline.Clip, speed float64) error {
	if speed < session.MinSpeedFactor || speed > session.MaxSpeedFactor {
		return fmt.Errorf("speed factor %g out of range %g-%g", speed, session.MinSpeedFactor, session.MaxSpeedFactor)
	}
	c.Speed = speed
	return nil
}

func applyOverlay(c *timeline.Clip, overlay *timeline.Overlay) error {
	if overlay != nil && overlay.Text == "" {
		return errors.New("overlay text is empty")
	}
	c.Overlay = overlay
	return nil
}

// moveLocked reorders s.clips. Bounds are the caller's responsibility;
// s.mu must be held.
func (s *Service) moveLocked(from, to int) {
	clip := s.clips[from]
	without := append(append([]timeline.Clip{}, s.clips[:from]...), s.clips[from+1:]...)
	out := make([]timeline.Clip, 0, len(s.clips))
	out = append(out, without[:to]...)
	out = append(out, clip)
	out = append(out, without[to:]...)
	s.clips = out
}

// Undo restores the clip list to its state before the last mutation.
func (s *Service) Undo(ctx context.Context) error {
	return s.exchange(ctx, func(current []byte) ([]byte, error) { return s.snaps.Undo(current) })
}

// Redo re-applies the last undone mutation.
func (s *Service) Redo(ctx context.Context) error {
	return s.exchange(ctx, func(current []byte) ([]byte, error) { return s.snaps.Redo(current) })
}

// CanUndo and CanRedo report snapshot availability for the UI.
func (s *Service) CanUndo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snaps.CanUndo()
}

func (s *Service) CanRedo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snaps.CanRedo()
}

// Transcribe generates captions for the clip at idx on the worker
// goroutine. The segments land on the clip when the job completes.
func (s *Service) Transcribe(ctx context.Context, idx int) (*session.Operation, error) {
	if s.transcriber == nil {
		return nil, session.ErrNoTranscriber
	}
	s.mu.Lock()
	if idx < 0 || idx >= len(s.clips) {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %d", ErrClipIndex, idx)
	}
	srcPath := s.clips[idx].Path
	s.mu.Unlock()

	var segments []timeline.CaptionSegment
	detail := fmt.Sprintf("clip %d", idx)
	return s.submit(ctx, session.OpCaptions, detail, func(jctx context.Context) (string, error) {
		wav := filepath.Join(s.scratchDir, fmt.Sprintf("transcribe_%d.wav", time.Now().UnixNano()))
		defer os.Remove(wav)
		if res := s.renderer.Render(jctx, wav, ffmpeg.ExtractWAVArgs(srcPath)...); !res.IsSuccess() {
			return "", fmt.Errorf("extract audio: exit code %d: %s", res.ExitCode, res.StderrTail)
		}
		var err error
		segments, err = s.transcriber.Transcribe(jctx, wav)
		if err != nil {
			return "", fmt.Errorf("transcribe: %w", err)
		}
		if len(segments) == 0 {
			return "", session.ErrNoSpeech
		}
		return "", nil
	}, func(res render.Result) {
		if res.Err != nil {
			return
		}
		// Applied as a regular mutation so it is undoable.
		err := s.mutate(context.Background(), func() error {
			if idx >= len(s.clips) || s.clips[idx].Path != srcPath {
				return errors.New("clip changed while transcribing")
			}
			s.clips[idx].Segments = segments
			return nil
		})
		if err != nil {
			s.logger.Warn("discarding transcription result", "clip", idx, "error", err)
		}
	})
}

// ExportAll renders every clip with its trim, speed, overlay, and captions
// applied, then concatenates the segments into destPath. The concat is
// attempted as a stream copy first and falls back to a re-encode.
func (s *Service) ExportAll(ctx context.Context, destPath string) (*session.Operation, error) {
	clips := s.Clips()
	if len(clips) == 0 {
		return nil, ErrEmptyProject
	}
	abs, err := filepath.Abs(destPath)
	if err != nil {
		return nil, fmt.Errorf("resolve destination: %w", err)
	}
	if info, err := os.Stat(filepath.Dir(abs)); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("destination directory does not exist: %s", filepath.Dir(abs))
	}

	detail := fmt.Sprintf("%d clips -> %s", len(clips), filepath.Base(abs))
	return s.submit(ctx, session.OpExport, detail, func(jctx context.Context) (string, error) {
		return abs, s.renderTimeline(jctx, clips, abs)
	}, nil)
}

func (s *Service) renderTimeline(ctx context.Context, clips []timeline.Clip, destPath string) error {
	exportDir, err := os.MkdirTemp(s.scratchDir, "export-")
	if err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	defer os.RemoveAll(exportDir)

	var segments []string
	for i := range clips {
		seg := filepath.Join(exportDir, fmt.Sprintf("segment_%03d.mp4", i))
		if err := s.renderSegment(ctx, &clips[i], exportDir, seg); err != nil {
			return fmt.Errorf("clip %d: %w", i, err)
		}
		segments = append(segments, seg)
	}

	listFile := filepath.Join(exportDir, "concat.txt")
	if err := writeConcatList(listFile, segments); err != nil {
		return err
	}

	res := s.renderer.Render(ctx, destPath, ffmpeg.ConcatArgs(listFile, false)...)
	if !res.IsSuccess() {
		s.logger.Warn("concat stream copy failed, re-encoding", "exit_code", res.ExitCode)
		res = s.renderer.Render(ctx, destPath, ffmpeg.ConcatArgs(listFile, true)...)
	}
	if !res.IsSuccess() {
		return fmt.Errorf("concat: exit code %d: %s", res.ExitCode, res.StderrTail)
	}
	return nil
}

// renderSegment renders one clip into a normalized segment. Every segment
// is re-encoded with the same codecs so the concat stream copy can succeed.
func (s *Service) renderSegment(ctx context.Context, clip *timeline.Clip, exportDir, outPath string) error {
	vf, af := ffmpeg.SegmentFilters(clip.TrimIn, clip.TrimOut, clip.Speed)

	var extra []string
	if clip.Overlay != nil {
		opts := ffmpeg.DrawtextOptions{
			Text:       clip.Overlay.Text,
			FontFamily: clip.Overlay.FontFamily,
			FontSize:   clip.Overlay.FontSize,
			ColorR:     clip.Overlay.ColorR,
			ColorG:     clip.Overlay.ColorG,
			ColorB:     clip.Overlay.ColorB,
			Position:   clip.Overlay.Position,
		}
		extra = append(extra, opts.DrawtextFilter())
	}
	if len(clip.Segments) > 0 {
		srt := filepath.Join(exportDir, fmt.Sprintf("%s.srt", strings.TrimSuffix(filepath.Base(outPath), filepath.Ext(outPath))))
		if err := captions.WriteSRTFile(srt, clip.Segments); err != nil {
			return err
		}
		extra = append(extra, ffmpeg.SubtitlesFilter(srt, ffmpeg.DefaultSubtitleStyle))
	}
	if len(extra) > 0 {
		vf = vf + "," + strings.Join(extra, ",")
	}

	args := []string{
		"-i", clip.Path,
		"-vf", vf,
		"-af", af,
	}
	args = append(args, ffmpeg.EncodeArgs()...)
	res := s.renderer.Render(ctx, outPath, args...)
	if !res.IsSuccess() {
		return fmt.Errorf("render segment: exit code %d: %s", res.ExitCode, res.StderrTail)
	}
	return nil
}

// mutate snapshots the current clip list, applies fn, and persists. fn runs
// with s.mu held; returning an error discards the snapshot.
func (s *Service) mutate(ctx context.Context, fn func() error) error {
	s.mu.Lock()
	before, err := json.Marshal(s.clips)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("snapshot clips: %w", err)
	}
	if err := fn(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.snaps.Snapshot(before)
	after, err := json.Marshal(s.clips)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encode clips: %w", err)
	}
	return s.repo.SetConfig(ctx, stateKey, string(after))
}

func (s *Service) exchange(ctx context.Context, fn func([]byte) ([]byte, error)) error {
	s.mu.Lock()
	current, err := json.Marshal(s.clips)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("snapshot clips: %w", err)
	}
	restored, err := fn(current)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	var clips []timeline.Clip
	if err := json.Unmarshal(restored, &clips); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("decode snapshot: %w", err)
	}
	s.clips = clips
	s.mu.Unlock()
	return s.repo.SetConfig(ctx, stateKey, string(restored))
}

func (s *Service) submit(ctx context.Context, kind, detail string, run func(context.Context) (string, error), onDone func(render.Result)) (*session.Operation, error) {
	if s.runner.Busy() {
		return nil, render.ErrBusy
	}

	now := time.Now().UTC()
	op := &session.Operation{
		ID:        uuid.NewString(),
		SessionID: opScope,
		Kind:      kind,
		Status:    session.StatusPending,
		Detail:    detail,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateOperation(ctx, op); err != nil {
		return nil, err
	}

	job := render.Job{
		OpID:      op.ID,
		SessionID: opScope,
		Kind:      kind,
		Run: func(jctx context.Context) (string, error) {
			if err := s.repo.UpdateOperationStatus(jctx, op.ID, session.StatusRunning, ""); err != nil {
				s.logger.Warn("failed to mark operation running", "op_id", op.ID, "error", err)
			}
			return run(jctx)
		},
		OnDone: func(res render.Result) {
			ctx := context.Background()
			if res.Err != nil {
				if err := s.repo.UpdateOperationStatus(ctx, res.OpID, session.StatusFailed, res.Err.Error()); err != nil {
					s.logger.Error("failed to record operation failure", "op_id", res.OpID, "error", err)
				}
			} else if err := s.repo.UpdateOperationStatus(ctx, res.OpID, session.StatusCompleted, ""); err != nil {
				s.logger.Error("failed to record operation success", "op_id", res.OpID, "error", err)
			}
			if onDone != nil {
				onDone(res)
			}
		},
	}
	if err := s.runner.TrySubmit(context.WithoutCancel(ctx), job); err != nil {
		_ = s.repo.UpdateOperationStatus(ctx, op.ID, session.StatusFailed, err.Error())
		return nil, err
	}
	op.Status = session.StatusRunning
	return op, nil
}

func writeConcatList(path string, segments []string) error {
	var b strings.Builder
	for _, seg := range segments {
		// Single quotes in paths are escaped per the concat demuxer rules.
		escaped := strings.ReplaceAll(seg, "'", `'\''`)
		fmt.Fprintf(&b, "file '%s'\n", escaped)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write concat list: %w", err)
	}
	return nil
}
